// Package funding moves money into household balances through Stripe
// Checkout and out of them to the owner's bank account through the transfer
// rail.
package funding

import (
	"log/slog"

	"kinledger/internal/funding/handler"
	"kinledger/internal/funding/service"
)

type Service = service.Service

type Handler = handler.Handler

func NewHandler(s *Service, logger *slog.Logger) *Handler {
	return handler.New(s, logger)
}
