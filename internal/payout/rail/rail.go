// Package rail sends payouts to an external bank transfer provider.
package rail

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Rail submits a transfer and returns the provider's transaction id. The
// final outcome arrives later through a webhook.
type Rail interface {
	Name() string
	Transfer(ctx context.Context, t Transfer) (*Receipt, error)
}

// Transfer is a single bank transfer in minor units.
type Transfer struct {
	Reference     string
	AmountCents   int64
	Currency      string
	AccountName   string
	AccountNumber string
	BankCode      string
	Narration     string
}

// Receipt is the provider's acknowledgement of a transfer.
type Receipt struct {
	ExternalID string
	Status     string
}

type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindProviderOutage ErrorKind = "provider_outage"
	KindRateLimited    ErrorKind = "rate_limited"
	KindRejected       ErrorKind = "rejected"
)

// ProviderError classifies a failed transfer attempt.
type ProviderError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindProviderOutage, KindRateLimited:
		return true
	}
	return false
}

// KindOf returns the kind of a ProviderError in err's chain. Anything else
// counts as an outage.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindProviderOutage
}

func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

const withdrawalPrefix = "wd-"

// WithdrawalReference is the transfer reference of a balance withdrawal. It
// keeps withdrawal webhooks apart from payout webhooks, which carry a payout
// id.
func WithdrawalReference(transactionID string) string {
	return withdrawalPrefix + transactionID
}

// ParseWithdrawalReference returns the ledger transaction id behind a
// withdrawal reference.
func ParseWithdrawalReference(reference string) (string, bool) {
	txID, ok := strings.CutPrefix(reference, withdrawalPrefix)
	if !ok || txID == "" {
		return "", false
	}
	return txID, true
}
