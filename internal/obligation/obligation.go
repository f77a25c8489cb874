// Package obligation owns the request lifecycle: a kin member's ask for money
// moves from pending through approval and payout to a terminal state, and
// every move is a compare-and-swap on the stored status.
package obligation

import (
	"log/slog"

	"kinledger/internal/obligation/handler"
	"kinledger/internal/obligation/service"
)

type Service = service.Service

type Handler = handler.Handler

func NewHandler(s *Service, logger *slog.Logger) *Handler {
	return handler.New(s, logger)
}
