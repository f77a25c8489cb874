package rail

import (
	"context"
	"strings"
	"sync"
)

// Sandbox accepts every transfer without moving money. Account numbers
// ending in 0000 are rejected so the failure path can be exercised.
type Sandbox struct {
	mu        sync.Mutex
	transfers []Transfer
}

func NewSandbox() *Sandbox { return &Sandbox{} }

func (s *Sandbox) Name() string { return "sandbox" }

func (s *Sandbox) Transfer(ctx context.Context, t Transfer) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Kind: KindTimeout, Message: "sandbox transfer cancelled", Err: err}
	}
	if strings.HasSuffix(t.AccountNumber, "0000") {
		return nil, &ProviderError{Kind: KindRejected, Message: "sandbox rejected the destination account"}
	}
	s.mu.Lock()
	s.transfers = append(s.transfers, t)
	s.mu.Unlock()
	return &Receipt{ExternalID: "sbx_" + t.Reference, Status: "NEW"}, nil
}

// Transfers returns the accepted transfers in order.
func (s *Sandbox) Transfers() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transfer(nil), s.transfers...)
}
