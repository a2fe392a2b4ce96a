package notify

import (
	"context"

	"github.com/cassiomorais/eventpay/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// LogSender writes messages to the log instead of delivering them. Used when
// no relay is configured.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notify").Logger()}
}

func (s *LogSender) Send(_ context.Context, channel Channel, template, recipient string, vars map[string]string) error {
	s.logger.Info().
		Str("channel", string(channel)).
		Str("template", template).
		Str("recipient", observability.MaskRecipient(recipient)).
		Strs("vars", lo.Keys(vars)).
		Msg("Notification")
	return nil
}
