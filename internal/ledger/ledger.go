// Package ledger is the append-only record of household money movements.
// Balance is a projection maintained in the same transaction as every entry
// write, so it always agrees with the entries it summarises.
package ledger

import (
	"log/slog"

	"kinledger/internal/ledger/handler"
	"kinledger/internal/ledger/service"
)

type Service = service.Service

type Handler = handler.Handler

// NewHandler constructs the HTTP handler for balance and ledger routes.
func NewHandler(s *Service, logger *slog.Logger) *Handler {
	return handler.New(s, logger)
}
