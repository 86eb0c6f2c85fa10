// Package persistence contains helpers shared by the record stores.
package persistence

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
)

var errMalformedCursor = errors.New("malformed cursor")

// cursorToken is the JSON form hidden behind the URL-safe encoding.
type cursorToken struct {
	CreatedAt int64  `json:"t"`
	ID        string `json:"id"`
}

// EncodeCursor renders c as an opaque URL-safe token; nil encodes as "".
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw, _ := json.Marshal(cursorToken{CreatedAt: c.CreatedAt.UnixNano(), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor reverses EncodeCursor. A blank token means the first page.
func DecodeCursor(token string) (*domain.Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	var ct cursorToken
	if err := json.Unmarshal(raw, &ct); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	if ct.CreatedAt == 0 {
		return nil, errMalformedCursor
	}
	if _, err := uuid.Parse(ct.ID); err != nil {
		return nil, fmt.Errorf("%w: record id: %v", errMalformedCursor, err)
	}
	return &domain.Cursor{CreatedAt: time.Unix(0, ct.CreatedAt).UTC(), ID: ct.ID}, nil
}
