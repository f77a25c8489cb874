// Package household owns households, member profiles, kin payees, payout
// accounts and subscription status.
package household

import (
	"kinledger/internal/household/handler"
	"kinledger/internal/household/service"
)

type Service = service.Service

type Handler = handler.Handler

type AdminHandler = handler.AdminHandler

// Payee is the resolved bank destination of a kin member.
type Payee = service.Payee
