// Package notify delivers registration notifications over email and WhatsApp.
package notify

import (
	"context"
	"errors"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Templates known to the relay.
const (
	TemplateRegistrationConfirmed = "registration_confirmed"
	TemplatePaymentFailed         = "payment_failed"
	TemplatePaymentExpired        = "payment_expired"
)

// ErrPermanent marks a delivery the relay refused; retrying will not help.
var ErrPermanent = errors.New("notification rejected")

// Sender delivers one templated message.
type Sender interface {
	Send(ctx context.Context, channel Channel, template, recipient string, vars map[string]string) error
}
