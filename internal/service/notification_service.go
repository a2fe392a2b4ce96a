package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/cassiomorais/eventpay/internal/domain/outbox"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/cassiomorais/eventpay/internal/infrastructure/observability"
	"github.com/cassiomorais/eventpay/internal/notify"
	"github.com/rs/zerolog"
)

var templates = map[string]string{
	outbox.EventRegistrationConfirmed: notify.TemplateRegistrationConfirmed,
	outbox.EventPaymentFailed:         notify.TemplatePaymentFailed,
	outbox.EventPaymentExpired:        notify.TemplatePaymentExpired,
}

// NotificationService turns outcome messages into email and WhatsApp
// deliveries. Failures never touch payment state.
type NotificationService struct {
	sender  notify.Sender
	audit   *AuditService
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(sender notify.Sender, auditSvc *AuditService, logger zerolog.Logger, metrics *observability.Metrics) *NotificationService {
	return &NotificationService{
		sender:  sender,
		audit:   auditSvc,
		logger:  logger.With().Str("component", "notifications").Logger(),
		metrics: metrics,
	}
}

// Dispatch sends the notification for one outbox message on every channel
// the registrant has. Unknown event types are skipped.
func (s *NotificationService) Dispatch(ctx context.Context, eventType string, payload map[string]any) error {
	template, ok := templates[eventType]
	if !ok {
		s.logger.Debug().Str("event_type", eventType).Msg("No template for event, skipping")
		return nil
	}

	registrationID := stringField(payload, "registration_id")
	vars := map[string]string{
		"registration_code": stringField(payload, "registration_code"),
		"full_name":         stringField(payload, "full_name"),
		"outcome":           stringField(payload, "outcome"),
		"amount":            amountField(payload),
		"currency":          stringField(payload, "currency"),
	}

	var errs []error
	for _, target := range []struct {
		channel   notify.Channel
		recipient string
	}{
		{notify.ChannelEmail, stringField(payload, "email")},
		{notify.ChannelWhatsApp, stringField(payload, "mobile")},
	} {
		if target.recipient == "" || target.recipient == registration.RedactedValue {
			continue
		}
		err := s.sender.Send(ctx, target.channel, template, target.recipient, vars)
		result := "sent"
		if err != nil {
			result = "failed"
			errs = append(errs, fmt.Errorf("%s: %w", target.channel, err))
			s.logger.Warn().Err(err).
				Str("channel", string(target.channel)).
				Str("registration_id", registrationID).
				Msg("Notification failed")
		}
		s.metrics.ObserveNotification(string(target.channel), result)
		s.audit.NotificationSent(ctx, string(target.channel), registrationID, template, err)
	}
	return errors.Join(errs...)
}

// amountField renders minor units whether the payload came straight from the
// outbox (int64) or through JSON (float64).
func amountField(payload map[string]any) string {
	switch v := payload["amount"].(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return ""
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
