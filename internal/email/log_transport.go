package email

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogTransport is a development transport that records outgoing messages in
// the application log instead of calling a provider. Used when no email API
// base URL is configured.
type LogTransport struct{}

// Send logs the message and reports success.
func (LogTransport) Send(_ context.Context, recipient, subject, _, _ string) error {
	log.Info().
		Str("recipient", recipient).
		Str("subject", subject).
		Msg("email transport disabled; message logged only")
	return nil
}
