package httputil

import (
	"net/http"
	"strconv"

	dErrors "kinledger/pkg/domain-errors"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Pagination is the cursor block of a list response.
type Pagination struct {
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

// PageParams reads limit and cursor query parameters.
func PageParams(r *http.Request) (limit int, cursor string, err error) {
	limit = DefaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 || n > MaxPageLimit {
			return 0, "", dErrors.Newf(dErrors.CodeValidation, "limit must be between 1 and %d", MaxPageLimit)
		}
		limit = n
	}
	return limit, r.URL.Query().Get("cursor"), nil
}
