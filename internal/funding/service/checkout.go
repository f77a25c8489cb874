package service

import (
	"context"

	"kinledger/internal/billing"
)

// Checkout opens a hosted payment page for a pending top-up.
type Checkout interface {
	CreateTopupCheckout(ctx context.Context, in billing.TopupCheckout) (*billing.Session, error)
}
