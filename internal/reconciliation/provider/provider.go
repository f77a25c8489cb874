// Package provider verifies and normalizes payment provider webhooks.
package provider

import (
	"net/http"

	"kinledger/internal/reconciliation/models"
	dErrors "kinledger/pkg/domain-errors"
)

// Provider turns one provider's webhook deliveries into Events.
type Provider interface {
	Name() string
	// Verify authenticates a delivery before its body is trusted.
	Verify(header http.Header, body []byte) error
	Normalize(body []byte) (models.Event, error)
}

func errUnverified(msg string) error {
	return dErrors.New(dErrors.CodeUnauthorized, msg)
}

func errMalformed(err error, msg string) error {
	return dErrors.Wrap(err, dErrors.CodeBadRequest, msg)
}
