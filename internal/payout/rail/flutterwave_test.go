package rail_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinledger/internal/payout/rail"
)

func TestFlutterwaveTransfer(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/transfers", r.URL.Path)
		assert.Equal(t, "Bearer FLWSECK_TEST", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","message":"Transfer Queued Successfully","data":{"id":190626,"reference":"ref-1","status":"NEW"}}`))
	}))
	defer srv.Close()

	fw := rail.NewFlutterwave(rail.FlutterwaveConfig{BaseURL: srv.URL, SecretKey: "FLWSECK_TEST"})
	receipt, err := fw.Transfer(context.Background(), rail.Transfer{
		Reference: "ref-1", AmountCents: 123456, Currency: "NGN",
		AccountName: "Ada Obi", AccountNumber: "0690000031", BankCode: "044",
	})
	require.NoError(t, err)
	assert.Equal(t, "190626", receipt.ExternalID)
	assert.Equal(t, 1234.56, got["amount"])
	assert.Equal(t, "ref-1", got["reference"])
	assert.Equal(t, "044", got["account_bank"])
}

func TestFlutterwaveErrorClassification(t *testing.T) {
	cases := map[int]rail.ErrorKind{
		http.StatusTooManyRequests:     rail.KindRateLimited,
		http.StatusBadGateway:          rail.KindProviderOutage,
		http.StatusGatewayTimeout:      rail.KindTimeout,
		http.StatusBadRequest:          rail.KindRejected,
		http.StatusServiceUnavailable:  rail.KindProviderOutage,
		http.StatusUnprocessableEntity: rail.KindRejected,
	}
	for status, kind := range cases {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"status":"error","message":"nope"}`))
			}))
			defer srv.Close()

			fw := rail.NewFlutterwave(rail.FlutterwaveConfig{BaseURL: srv.URL, SecretKey: "k"})
			_, err := fw.Transfer(context.Background(), rail.Transfer{Reference: "r", AmountCents: 100, Currency: "NGN"})
			require.Error(t, err)
			assert.Equal(t, kind, rail.KindOf(err))
		})
	}
}

func TestUnitConversion(t *testing.T) {
	assert.Equal(t, "50.00", rail.MajorUnits(5000).StringFixed(2))
	assert.Equal(t, int64(5000), rail.MinorUnits(decimal.RequireFromString("50")))
	assert.Equal(t, int64(1235), rail.MinorUnits(decimal.RequireFromString("12.345")))
}
