package provider

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"kinledger/internal/payout/rail"
	"kinledger/internal/reconciliation/models"
	dErrors "kinledger/pkg/domain-errors"
)

const (
	FlutterwaveName = "flutterwave"

	flutterwaveHashHeader      = "verif-hash"
	flutterwaveSignatureHeader = "flutterwave-signature"
)

// Flutterwave authenticates webhooks with the dashboard secret hash, sent
// either verbatim in verif-hash or as an HMAC-SHA256 of the body.
type Flutterwave struct {
	secretHash string
}

func NewFlutterwave(secretHash string) *Flutterwave {
	return &Flutterwave{secretHash: secretHash}
}

func (f *Flutterwave) Name() string { return FlutterwaveName }

func (f *Flutterwave) Verify(header http.Header, body []byte) error {
	if f.secretHash == "" {
		return errUnverified("flutterwave webhook hash is not configured")
	}
	if got := header.Get(flutterwaveHashHeader); got != "" {
		if subtle.ConstantTimeCompare([]byte(got), []byte(f.secretHash)) == 1 {
			return nil
		}
		return errUnverified("verif-hash does not match")
	}
	if got := header.Get(flutterwaveSignatureHeader); got != "" {
		mac := hmac.New(sha256.New, []byte(f.secretHash))
		mac.Write(body)
		want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(got), []byte(want)) {
			return nil
		}
		return errUnverified("flutterwave-signature does not match")
	}
	return errUnverified("missing flutterwave signature header")
}

type flutterwavePayload struct {
	Event string          `json:"event"`
	Data  flutterwaveData `json:"data"`
}

type flutterwaveData struct {
	ID              json.Number `json:"id"`
	Reference       string      `json:"reference"`
	TxRef           string      `json:"tx_ref"`
	Status          string      `json:"status"`
	Amount          json.Number `json:"amount"`
	Currency        string      `json:"currency"`
	CompleteMessage string      `json:"complete_message"`
}

// Normalize maps transfer events onto payout outcomes, or withdrawal outcomes
// when the reference is a withdrawal reference. Flutterwave reports
// failed transfers both as transfer.failed and as transfer.completed with a
// FAILED status. Charge and subscription events are acknowledged and ignored.
func (f *Flutterwave) Normalize(body []byte) (models.Event, error) {
	var p flutterwavePayload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return models.Event{}, errMalformed(err, "invalid flutterwave payload")
	}
	if p.Event == "" {
		return models.Event{}, dErrors.New(dErrors.CodeBadRequest, "flutterwave payload has no event")
	}
	status := strings.ToUpper(strings.TrimSpace(p.Data.Status))
	ev := models.Event{
		Provider:          FlutterwaveName,
		Type:              p.Event,
		Target:            models.TargetPayout,
		ExternalReference: p.Data.ID.String(),
		Reference:         p.Data.Reference,
		Currency:          strings.ToUpper(p.Data.Currency),
		Reason:            p.Data.CompleteMessage,
		// deliveries carry no id of their own
		EventID: fmt.Sprintf("%s:%s:%s", p.Event, p.Data.ID.String(), status),
	}
	if p.Data.Amount != "" {
		amount, err := decimal.NewFromString(p.Data.Amount.String())
		if err != nil {
			return models.Event{}, errMalformed(err, "invalid flutterwave amount")
		}
		ev.AmountCents = rail.MinorUnits(amount)
	}

	switch p.Event {
	case "transfer.completed":
		switch status {
		case "SUCCESSFUL", "SUCCESS":
			ev.Outcome = models.OutcomeCompleted
		case "FAILED":
			ev.Outcome = models.OutcomeFailed
		default:
			ev.Outcome = models.OutcomeIgnored
		}
	case "transfer.failed":
		ev.Outcome = models.OutcomeFailed
	case "transfer.reversed":
		ev.Outcome = models.OutcomeReversed
	default:
		ev.Outcome = models.OutcomeIgnored
	}
	if ev.Outcome == models.OutcomeFailed && ev.Reason == "" {
		ev.Reason = "transfer failed at provider"
	}
	if txID, ok := rail.ParseWithdrawalReference(ev.Reference); ok {
		ev.Target = models.TargetWithdrawal
		ev.Reference = txID
	}
	return ev, nil
}
