package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/auth"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/pairing"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/persistence/memory"
)

type fixture struct {
	store *memory.Store
	mux   *http.ServeMux
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore()
	store.Pair("alice", "Alice", "bob", "Bob")
	store.PutUser(domain.UserProfile{ID: "solo", DisplayName: "Solo"})

	service := domain.NewService(store, pairing.NewResolver(store))
	mux := http.NewServeMux()
	NewHandler(service, nil).RegisterRoutes(mux)
	return fixture{store: store, mux: mux}
}

func (f fixture) do(t *testing.T, method, target, user, body string, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if user != "" {
		if len(scopes) == 0 {
			scopes = []string{auth.ScopeActivitiesWrite}
		}
		granted := make(map[string]struct{}, len(scopes))
		for _, s := range scopes {
			granted[s] = struct{}{}
		}
		claims := &auth.Claims{Subject: user, Scopes: granted, ExpiresAt: time.Now().Add(time.Hour)}
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestSubmitThenResultsFromBothSides(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/activities/submit", "alice",
		`{"activityType":"daily_question","activityName":"2024-05-01","response":{"answer":"x"},"activityData":{"question":"Best trip?"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	first := decode[SubmitResponse](t, rr)
	require.True(t, first.Success)
	require.False(t, first.BothCompleted)
	require.NotEmpty(t, first.RecordID)

	rr = f.do(t, http.MethodGet, "/activities/results/daily_question/2024-05-01", "alice", "", auth.ScopeActivitiesRead)
	require.Equal(t, http.StatusOK, rr.Code)
	var partial map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &partial))
	require.Equal(t, true, partial["hasPartner"])
	require.Equal(t, false, partial["bothCompleted"])
	results := partial["results"].(map[string]any)
	require.Equal(t, "x", results["user"].(map[string]any)["response"].(map[string]any)["answer"])
	require.Nil(t, results["partner"].(map[string]any)["response"])
	require.Nil(t, results["completedAt"])

	rr = f.do(t, http.MethodPost, "/activities/submit", "bob",
		`{"activityType":"daily_question","activityName":"2024-05-01","response":{"answer":"y"}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	second := decode[SubmitResponse](t, rr)
	require.True(t, second.BothCompleted)
	require.Equal(t, first.RecordID, second.RecordID)

	rr = f.do(t, http.MethodGet, "/activities/results/daily_question/2024-05-01", "bob", "")
	require.Equal(t, http.StatusOK, rr.Code)
	full := decode[ResultsResponse](t, rr)
	require.True(t, full.BothCompleted)
	require.NotNil(t, full.Results)
	require.Equal(t, "Bob", full.Results.User.Name)
	require.JSONEq(t, `{"answer":"y"}`, string(full.Results.User.Response))
	require.Equal(t, "Alice", full.Results.Partner.Name)
	require.JSONEq(t, `{"answer":"x"}`, string(full.Results.Partner.Response))
	require.JSONEq(t, `{"question":"Best trip?"}`, string(full.Results.ActivityData))
	require.NotNil(t, full.Results.CompletedAt)
}

func TestResultsForUnsubmittedActivityIsNull(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/activities/results/quiz/never", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"hasPartner":true,"bothCompleted":false,"results":null}`, rr.Body.String())
}

func TestResultsForUnpairedUser(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/activities/results/quiz/anything", "solo", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"hasPartner":false,"bothCompleted":false,"results":null}`, rr.Body.String())
}

func TestSubmitErrorMapping(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		user   string
		body   string
		status int
		kind   string
	}{
		{"unpaired", "solo", `{"activityType":"game","activityName":"g","response":{"a":1}}`, http.StatusBadRequest, "not_paired"},
		{"unknown user", "ghost", `{"activityType":"game","activityName":"g","response":{"a":1}}`, http.StatusNotFound, "user_not_found"},
		{"bad type", "alice", `{"activityType":"chess","activityName":"g","response":{"a":1}}`, http.StatusBadRequest, "validation_failed"},
		{"blank name", "alice", `{"activityType":"game","activityName":"  ","response":{"a":1}}`, http.StatusBadRequest, "validation_failed"},
		{"empty response", "alice", `{"activityType":"game","activityName":"g","response":{}}`, http.StatusBadRequest, "empty_response"},
		{"missing response", "alice", `{"activityType":"game","activityName":"g"}`, http.StatusBadRequest, "empty_response"},
		{"malformed body", "alice", `{"activityType":`, http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/activities/submit", tc.user, tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			body := decode[map[string]string](t, rr)
			require.Equal(t, tc.kind, body["type"])
			require.NotEmpty(t, body["error"])
		})
	}
	require.Zero(t, f.store.Count(), "failed submissions create no record")
}

func TestSubmitIntegrityViolationIsConflict(t *testing.T) {
	f := newFixture(t)
	// Seed a record for alice:bob whose slots are held by strangers.
	key := domain.RecordKey{CoupleKey: "alice:bob", ActivityType: domain.ActivityTypeGame, ActivityName: "g"}
	_, err := f.store.Mutate(t.Context(), key, func(r *domain.ActivityRecord) (*domain.CompletionEvent, error) {
		r.Participants[0].UserID = "carol"
		r.Participants[1].UserID = "dave"
		return nil, nil
	})
	require.NoError(t, err)

	rr := f.do(t, http.MethodPost, "/activities/submit", "alice", `{"activityType":"game","activityName":"g","response":{"a":1}}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "integrity_violation", decode[map[string]string](t, rr)["type"])
}

func TestScopesAndAuthentication(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/activities/submit", "", `{}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodPost, "/activities/submit", "alice", `{"activityType":"game","activityName":"g","response":1}`, auth.ScopeActivitiesRead)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodGet, "/activities/results/game/g", "alice", "", "profile:read")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodGet, "/activities/submit", "alice", "")
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHistoryPagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"one", "two", "three"} {
		rr := f.do(t, http.MethodPost, "/activities/submit", "alice", `{"activityType":"exercise","activityName":"`+name+`","response":"done"}`)
		require.Equal(t, http.StatusOK, rr.Code)
		time.Sleep(2 * time.Millisecond)
	}
	rr := f.do(t, http.MethodPost, "/activities/submit", "bob", `{"activityType":"quiz","activityName":"other","response":[1]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/activities/history?activityType=exercise&limit=2", "bob", "")
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[HistoryResponse](t, rr)
	require.True(t, page.HasPartner)
	require.Len(t, page.Items, 2)
	require.Equal(t, "three", page.Items[0].ActivityName)
	require.Equal(t, "Alice", page.Items[0].Results.Partner.Name)
	require.JSONEq(t, `"done"`, string(page.Items[0].Results.Partner.Response))
	require.NotEmpty(t, page.NextCursor)

	rr = f.do(t, http.MethodGet, "/activities/history?activityType=exercise&limit=2&cursor="+page.NextCursor, "bob", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rest := decode[HistoryResponse](t, rr)
	require.Len(t, rest.Items, 1)
	require.Equal(t, "one", rest.Items[0].ActivityName)
	require.Empty(t, rest.NextCursor)

	rr = f.do(t, http.MethodGet, "/activities/history?cursor=bm90LWEtY3Vyc29y", "bob", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/activities/history?limit=0", "bob", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}
