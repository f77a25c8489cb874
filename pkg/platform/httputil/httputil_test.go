package httputil

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/requestcontext"
)

type decoded struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *ErrorBody      `json:"error"`
	Meta  Meta            `json:"meta"`
}

func newRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return r.WithContext(requestcontext.WithRequestID(r.Context(), "3f1c2e9a-1111-4222-8333-444455556666"))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) decoded {
	t.Helper()
	var d decoded
	require.NoError(t, json.NewDecoder(w.Body).Decode(&d))
	return d
}

func TestWriteError(t *testing.T) {
	t.Run("internal error hides message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, newRequest(""), dErrors.New(dErrors.CodeInternal, "db failed"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decode(t, w)
		assert.False(t, body.OK)
		require.NotNil(t, body.Error)
		assert.Equal(t, dErrors.CodeInternal, body.Error.Code)
		assert.NotContains(t, body.Error.Message, "db failed")
	})

	t.Run("conflict keeps message and details", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := dErrors.New(dErrors.CodeInsufficientBalance, "insufficient balance").
			WithDetails(map[string]any{"available_cents": 2000})
		WriteError(w, newRequest(""), err)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := decode(t, w)
		assert.Equal(t, "insufficient balance", body.Error.Message)
		assert.EqualValues(t, 2000, body.Error.Details["available_cents"])
	})

	t.Run("unknown errors become internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, newRequest(""), io.ErrUnexpectedEOF)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestWriteJSONMeta(t *testing.T) {
	w := httptest.NewRecorder()
	r := WithIdempotencyKey(newRequest(""), "k1")
	WriteJSON(w, r, http.StatusCreated, map[string]string{"id": "x"})

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.True(t, body.OK)
	assert.JSONEq(t, `{"id":"x"}`, string(body.Data))
	assert.Equal(t, "3f1c2e9a-1111-4222-8333-444455556666", body.Meta.RequestID)
	assert.Equal(t, "k1", body.Meta.IdempotencyKey)
	assert.Equal(t, APIVersion, body.Meta.Version)
	assert.NotEmpty(t, body.Meta.ServerTime)
}

type sampleRequest struct {
	Name string `json:"name"`
}

func (s *sampleRequest) Validate() error {
	if s.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("valid body", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, ok := DecodeAndPrepare[sampleRequest](w, newRequest(`{"name":"rent"}`), logger)
		require.True(t, ok)
		assert.Equal(t, "rent", req.Name)
	})

	t.Run("validation failure", func(t *testing.T) {
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[sampleRequest](w, newRequest(`{}`), logger)
		require.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dErrors.CodeValidation, decode(t, w).Error.Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[sampleRequest](w, newRequest(`{"name":"x","extra":1}`), logger)
		require.False(t, ok)
		assert.Equal(t, dErrors.CodeBadRequest, decode(t, w).Error.Code)
	})
}
