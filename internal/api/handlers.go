// Package api exposes the couple-activity endpoints over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/auth"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/persistence"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/platform/logger"
)

const (
	maxBodyBytes     = 1 << 20
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	log     *logger.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{service: service, log: log}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/activities/submit", h.submit)
	mux.HandleFunc("/activities/results/{activityType}/{activityName}", h.results)
	mux.HandleFunc("/activities/history", h.history)
	mux.HandleFunc("/healthz", healthz)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !auth.CanWrite(claims) {
		writeError(w, http.StatusForbidden, "forbidden", "scope activities:write required")
		return
	}

	var req SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	result, err := h.service.Submit(r.Context(), domain.SubmitInput{
		UserID:       claims.Subject,
		ActivityType: req.ActivityType,
		ActivityName: req.ActivityName,
		Response:     req.Response,
		ActivityData: req.ActivityData,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SubmitResponse{
		Success:       true,
		BothCompleted: result.BothCompleted,
		RecordID:      result.RecordID,
	})
}

func (h *Handler) results(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.readClaims(w, r)
	if !ok {
		return
	}

	result, err := h.service.Results(r.Context(), claims.Subject, r.PathValue("activityType"), r.PathValue("activityName"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := ResultsResponse{HasPartner: result.HasPartner, BothCompleted: result.BothCompleted}
	if result.Results != nil {
		view := toProjectionView(*result.Results)
		resp.Results = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.readClaims(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit := defaultPageLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		if parsed > maxPageLimit {
			parsed = maxPageLimit
		}
		limit = parsed
	}

	cursor, err := persistence.DecodeCursor(query.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	page, err := h.service.History(r.Context(), claims.Subject, query.Get("activityType"), cursor, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := HistoryResponse{
		HasPartner: page.HasPartner,
		Items:      make([]HistoryItemView, 0, len(page.Items)),
		NextCursor: persistence.EncodeCursor(page.Next),
	}
	for _, item := range page.Items {
		resp.Items = append(resp.Items, HistoryItemView{
			RecordID:      item.RecordID,
			ActivityType:  string(item.ActivityType),
			ActivityName:  item.ActivityName,
			BothCompleted: item.BothCompleted,
			CreatedAt:     item.CreatedAt,
			UpdatedAt:     item.UpdatedAt,
			Results:       toProjectionView(item.Projection),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) readClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !auth.CanRead(claims) {
		writeError(w, http.StatusForbidden, "forbidden", "scope activities:read required")
		return nil, false
	}
	return claims, true
}

// writeDomainError maps service errors onto status codes. Internal errors
// are logged and reported without detail.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotPaired):
		writeError(w, http.StatusBadRequest, "not_paired", "no partner linked to this account")
	case errors.Is(err, domain.ErrEmptyResponse):
		writeError(w, http.StatusBadRequest, "empty_response", err.Error())
	case errors.Is(err, domain.ErrInvalidActivity),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrInvalidIdentity):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", "user not found")
	case errors.Is(err, domain.ErrIntegrityViolation):
		writeError(w, http.StatusConflict, "integrity_violation", "activity record belongs to another couple")
	default:
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// SubmitRequest is the body of POST /activities/submit.
type SubmitRequest struct {
	ActivityType string         `json:"activityType"`
	ActivityName string         `json:"activityName"`
	Response     domain.Payload `json:"response"`
	ActivityData domain.Payload `json:"activityData,omitempty"`
}

// SubmitResponse acknowledges a stored submission.
type SubmitResponse struct {
	Success       bool   `json:"success"`
	BothCompleted bool   `json:"bothCompleted"`
	RecordID      string `json:"recordId"`
}

// ResultsResponse is the body of GET /activities/results/{type}/{name}.
type ResultsResponse struct {
	HasPartner    bool            `json:"hasPartner"`
	BothCompleted bool            `json:"bothCompleted"`
	Results       *ProjectionView `json:"results"`
}

// ProjectionView is a record from the caller's side.
type ProjectionView struct {
	User         ParticipantView `json:"user"`
	Partner      ParticipantView `json:"partner"`
	ActivityData domain.Payload  `json:"activityData"`
	CompletedAt  *time.Time      `json:"completedAt"`
}

// ParticipantView is one side of a projection.
type ParticipantView struct {
	Name        string         `json:"name"`
	Response    domain.Payload `json:"response"`
	SubmittedAt *time.Time     `json:"submittedAt,omitempty"`
}

// HistoryResponse is one page of GET /activities/history.
type HistoryResponse struct {
	HasPartner bool              `json:"hasPartner"`
	Items      []HistoryItemView `json:"items"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

// HistoryItemView is one record in a history page.
type HistoryItemView struct {
	RecordID      string         `json:"recordId"`
	ActivityType  string         `json:"activityType"`
	ActivityName  string         `json:"activityName"`
	BothCompleted bool           `json:"bothCompleted"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Results       ProjectionView `json:"results"`
}

func toProjectionView(p domain.Projection) ProjectionView {
	return ProjectionView{
		User:         ParticipantView{Name: p.User.Name, Response: p.User.Response, SubmittedAt: p.User.SubmittedAt},
		Partner:      ParticipantView{Name: p.Partner.Name, Response: p.Partner.Response, SubmittedAt: p.Partner.SubmittedAt},
		ActivityData: p.ActivityData,
		CompletedAt:  p.CompletedAt,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":  code,
		"error": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
