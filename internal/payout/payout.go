// Package payout turns approved requests into bank transfers. A payout
// reserves its amount in the ledger before it is dispatched and is settled
// later by provider webhooks.
package payout

import (
	"log/slog"

	"kinledger/internal/payout/handler"
	"kinledger/internal/payout/service"
)

type Service = service.Service

type Handler = handler.Handler

func NewHandler(s *Service, logger *slog.Logger) *Handler {
	return handler.New(s, logger)
}
