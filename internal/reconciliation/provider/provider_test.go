package provider_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84/webhook"

	"kinledger/internal/reconciliation/models"
	"kinledger/internal/reconciliation/provider"
	dErrors "kinledger/pkg/domain-errors"
)

const transferCompleted = `{
	"event": "transfer.completed",
	"data": {
		"id": 408177,
		"reference": "9f1c2e4a-5b6d-4e7f-8a9b-0c1d2e3f4a5b",
		"status": "SUCCESSFUL",
		"amount": 30.5,
		"currency": "ngn",
		"complete_message": "Successful"
	}
}`

func TestFlutterwaveVerify(t *testing.T) {
	body := []byte(transferCompleted)
	fw := provider.NewFlutterwave("hash-secret")

	t.Run("verif-hash", func(t *testing.T) {
		h := http.Header{}
		h.Set("verif-hash", "hash-secret")
		assert.NoError(t, fw.Verify(h, body))

		h.Set("verif-hash", "guess")
		assert.True(t, dErrors.HasCode(fw.Verify(h, body), dErrors.CodeUnauthorized))
	})

	t.Run("hmac signature", func(t *testing.T) {
		mac := hmac.New(sha256.New, []byte("hash-secret"))
		mac.Write(body)
		h := http.Header{}
		h.Set("flutterwave-signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
		assert.NoError(t, fw.Verify(h, body))

		assert.Error(t, fw.Verify(h, append([]byte(nil), body[1:]...)))
	})

	t.Run("missing header", func(t *testing.T) {
		assert.Error(t, fw.Verify(http.Header{}, body))
	})

	t.Run("unconfigured secret never verifies", func(t *testing.T) {
		h := http.Header{}
		h.Set("verif-hash", "")
		assert.Error(t, provider.NewFlutterwave("").Verify(h, body))
	})
}

func TestFlutterwaveNormalize(t *testing.T) {
	fw := provider.NewFlutterwave("hash-secret")

	ev, err := fw.Normalize([]byte(transferCompleted))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, ev.Outcome)
	assert.Equal(t, models.TargetPayout, ev.Target)
	assert.Equal(t, "408177", ev.ExternalReference)
	assert.Equal(t, "9f1c2e4a-5b6d-4e7f-8a9b-0c1d2e3f4a5b", ev.Reference)
	assert.Equal(t, int64(3050), ev.AmountCents)
	assert.Equal(t, "NGN", ev.Currency)
	assert.Equal(t, "transfer.completed:408177:SUCCESSFUL", ev.EventID)
	assert.NoError(t, ev.Validate())

	tests := []struct {
		name    string
		body    string
		outcome models.Outcome
	}{
		{"completed with failed status", `{"event":"transfer.completed","data":{"id":1,"reference":"r","status":"FAILED"}}`, models.OutcomeFailed},
		{"pending status", `{"event":"transfer.completed","data":{"id":1,"reference":"r","status":"PENDING"}}`, models.OutcomeIgnored},
		{"failed", `{"event":"transfer.failed","data":{"id":1,"reference":"r","status":"FAILED"}}`, models.OutcomeFailed},
		{"reversed", `{"event":"transfer.reversed","data":{"id":1,"reference":"r","status":"REVERSED"}}`, models.OutcomeReversed},
		{"charge", `{"event":"charge.completed","data":{"id":1,"tx_ref":"r","status":"successful"}}`, models.OutcomeIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := fw.Normalize([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, ev.Outcome)
			if tt.outcome == models.OutcomeFailed {
				assert.NotEmpty(t, ev.Reason)
			}
		})
	}

	t.Run("withdrawal reference targets the withdrawal", func(t *testing.T) {
		ev, err := fw.Normalize([]byte(`{"event":"transfer.completed","data":{"id":9,"reference":"wd-6a1d0f2e-3b4c-4d5e-8f90-a1b2c3d4e5f6","status":"SUCCESSFUL","amount":40,"currency":"NGN"}}`))
		require.NoError(t, err)
		assert.Equal(t, models.TargetWithdrawal, ev.Target)
		assert.Equal(t, "6a1d0f2e-3b4c-4d5e-8f90-a1b2c3d4e5f6", ev.Reference)
		assert.Equal(t, int64(4000), ev.AmountCents)
		assert.NoError(t, ev.Validate())
	})

	t.Run("status is part of the event id", func(t *testing.T) {
		a, _ := fw.Normalize([]byte(`{"event":"transfer.completed","data":{"id":7,"status":"FAILED"}}`))
		b, _ := fw.Normalize([]byte(`{"event":"transfer.completed","data":{"id":7,"status":"SUCCESSFUL"}}`))
		assert.NotEqual(t, a.EventID, b.EventID)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := fw.Normalize([]byte(`{"event":`))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
		_, err = fw.Normalize([]byte(`{"data":{}}`))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func signStripe(t *testing.T, body, secret string) http.Header {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set("Stripe-Signature", signed.Header)
	return h
}

const checkoutCompleted = `{
	"id": "evt_checkout_1",
	"object": "event",
	"type": "checkout.session.completed",
	"api_version": "2020-08-27",
	"data": {"object": {
		"id": "cs_test_1",
		"object": "checkout.session",
		"payment_status": "paid",
		"amount_total": 25000,
		"currency": "ngn",
		"client_reference_id": "5b0c6f3e-2a41-4f5e-9d3c-7e8a1b2c3d4e",
		"metadata": {
			"purpose": "topup",
			"household_id": "0d6f0b7e-8c1a-4a55-b1c3-2f9e4d7a6b5c",
			"transaction_id": "5b0c6f3e-2a41-4f5e-9d3c-7e8a1b2c3d4e"
		}
	}}
}`

func TestStripeVerify(t *testing.T) {
	st := provider.NewStripe("whsec_test")

	assert.NoError(t, st.Verify(signStripe(t, checkoutCompleted, "whsec_test"), []byte(checkoutCompleted)))

	err := st.Verify(signStripe(t, checkoutCompleted, "whsec_other"), []byte(checkoutCompleted))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	assert.Error(t, st.Verify(http.Header{}, []byte(checkoutCompleted)))
	assert.Error(t, provider.NewStripe("").Verify(signStripe(t, checkoutCompleted, ""), []byte(checkoutCompleted)))
}

func TestStripeNormalize(t *testing.T) {
	st := provider.NewStripe("whsec_test")

	t.Run("paid top-up checkout", func(t *testing.T) {
		ev, err := st.Normalize([]byte(checkoutCompleted))
		require.NoError(t, err)
		assert.Equal(t, "evt_checkout_1", ev.EventID)
		assert.Equal(t, models.TargetFunding, ev.Target)
		assert.Equal(t, models.OutcomeCompleted, ev.Outcome)
		assert.Equal(t, "5b0c6f3e-2a41-4f5e-9d3c-7e8a1b2c3d4e", ev.Reference)
		assert.Equal(t, "0d6f0b7e-8c1a-4a55-b1c3-2f9e4d7a6b5c", ev.HouseholdID)
		assert.Equal(t, int64(25000), ev.AmountCents)
		assert.NoError(t, ev.Validate())
	})

	t.Run("subscription checkout", func(t *testing.T) {
		ev, err := st.Normalize([]byte(`{"id":"evt_2","type":"checkout.session.completed","data":{"object":{
			"id":"cs_2","payment_status":"paid","subscription":"sub_1","customer":"cus_1",
			"metadata":{"purpose":"subscription","tier":"yearly","household_id":"hh"}}}}`))
		require.NoError(t, err)
		assert.Equal(t, models.TargetSubscription, ev.Target)
		require.NotNil(t, ev.Subscription)
		assert.Equal(t, "sub_1", ev.Subscription.ExternalSubscriptionID)
		assert.Equal(t, "cus_1", ev.Subscription.ExternalCustomerID)
		assert.Equal(t, "yearly", ev.Subscription.Tier)
		assert.Equal(t, "active", ev.Subscription.Status)
	})

	t.Run("subscription statuses", func(t *testing.T) {
		tests := map[string]string{
			"active":   "active",
			"trialing": "trial",
			"canceled": "cancelled",
			"past_due": "expired",
			"unpaid":   "expired",
		}
		for stripeStatus, want := range tests {
			ev, err := st.Normalize([]byte(`{"id":"evt_s","type":"customer.subscription.updated","data":{"object":{
				"id":"sub_1","status":"` + stripeStatus + `","customer":"cus_1",
				"items":{"data":[{"id":"si_1","current_period_start":1767225600,"current_period_end":1769904000}]}}}}`))
			require.NoError(t, err)
			assert.Equal(t, want, ev.Subscription.Status, stripeStatus)
			require.NotNil(t, ev.Subscription.PeriodEnd)
			assert.Equal(t, int64(1769904000), ev.Subscription.PeriodEnd.Unix())
		}
	})

	t.Run("deleted subscription is cancelled", func(t *testing.T) {
		ev, err := st.Normalize([]byte(`{"id":"evt_d","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","status":"active"}}}`))
		require.NoError(t, err)
		assert.Equal(t, "cancelled", ev.Subscription.Status)
	})

	t.Run("failed invoice expires", func(t *testing.T) {
		ev, err := st.Normalize([]byte(`{"id":"evt_i","type":"invoice.payment_failed","data":{"object":{
			"id":"in_1","customer":"cus_1","parent":{"subscription_details":{"subscription":"sub_1"}}}}}`))
		require.NoError(t, err)
		assert.Equal(t, "sub_1", ev.Subscription.ExternalSubscriptionID)
		assert.Equal(t, "expired", ev.Subscription.Status)
	})

	t.Run("unhandled types are ignored", func(t *testing.T) {
		ev, err := st.Normalize([]byte(`{"id":"evt_x","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeIgnored, ev.Outcome)
		assert.NoError(t, ev.Validate())
	})

	t.Run("payment intents for other purposes are ignored", func(t *testing.T) {
		ev, err := st.Normalize([]byte(`{"id":"evt_p","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount":100,"metadata":{}}}}`))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeIgnored, ev.Outcome)
	})
}
