// Package pagination encodes the opaque keyset cursors used by list endpoints.
// Lists are ordered newest first by (created_at, id).
package pagination

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	dErrors "kinledger/pkg/domain-errors"
)

// Cursor marks the last item of the previous page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a cursor string. An empty string yields nil.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid cursor")
	}
	ts, idPart, ok := strings.Cut(string(raw), "|")
	if !ok || idPart == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid cursor")
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid cursor")
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: idPart}, nil
}

// After reports whether an item at (createdAt, id) comes after c in
// newest-first order.
func (c *Cursor) After(createdAt time.Time, id string) bool {
	if c == nil {
		return true
	}
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}

// Trim cuts items to limit and returns the cursor for the next page.
func Trim[T any](items []T, limit int, key func(T) Cursor) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	return items, key(items[len(items)-1]).Encode(), true
}
