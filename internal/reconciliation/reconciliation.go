// Package reconciliation applies payment provider webhooks to payouts,
// top-ups and subscriptions exactly once, buffering events that arrive
// before the record they settle.
package reconciliation

import (
	"kinledger/internal/reconciliation/handler"
	"kinledger/internal/reconciliation/service"
)

type Processor = service.Processor

type Handler = handler.Handler

type OrphanSweeper = service.OrphanSweeper
