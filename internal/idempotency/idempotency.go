// Package idempotency deduplicates client-submitted mutating operations.
//
// A key is scoped to the calling profile. The record remembers which operation
// kind used the key and a fingerprint of its input, so a retry with the same
// input replays the stored result while any other reuse is a conflict.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
)

const maxKeyLength = 255

// Operation kinds guarded by idempotency keys.
const (
	KindRequestCreate    = "request.create"
	KindRequestApprove   = "request.approve"
	KindRequestReject    = "request.reject"
	KindRequestCancel    = "request.cancel"
	KindPayoutExecute    = "payout.execute"
	KindTopupInitiate    = "balance.topup"
	KindWithdrawInitiate = "balance.withdraw"
	KindLedgerAdjust     = "ledger.adjust"
)

// Scope identifies who is using a key and for what.
type Scope struct {
	Kind      string
	ProfileID id.ProfileID
}

// Record is a committed idempotent operation.
type Record struct {
	ProfileID   id.ProfileID
	Key         string
	Kind        string
	Fingerprint string
	Result      json.RawMessage
	CreatedAt   time.Time
}

// ValidateKey checks the client-supplied key.
func ValidateKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return dErrors.New(dErrors.CodeValidation, "idempotency_key is required")
	}
	if len(key) > maxKeyLength {
		return dErrors.Newf(dErrors.CodeValidation, "idempotency_key must be at most %d characters", maxKeyLength)
	}
	return nil
}

// Fingerprint hashes the operation kind with the canonical JSON form of input.
// Struct fields marshal in declaration order and map keys sorted, so equal
// inputs always hash the same.
func Fingerprint(kind string, input any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", kind, err)
	}
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil)), nil
}
