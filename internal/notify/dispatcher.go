package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/medicore/hospital-scheduling/internal/appointment"
	"github.com/medicore/hospital-scheduling/internal/config"
)

// Dispatcher fans a reminder out to the channel-specific sender. It is the
// appointment service's notification collaborator.
type Dispatcher struct {
	email EmailSender
	sms   SMSSender
}

func NewDispatcher(email EmailSender, sms SMSSender) *Dispatcher {
	return &Dispatcher{email: email, sms: sms}
}

// NewDispatcherFromConfig wires real senders when credentials are configured
// and falls back to logging stubs otherwise.
func NewDispatcherFromConfig(cfg config.Config, logger zerolog.Logger) *Dispatcher {
	var email EmailSender = NewStubEmailSender(logger)
	if cfg.SendGridAPIKey != "" {
		email = NewSendGridSender(cfg.SendGridAPIKey, cfg.SendGridFrom, logger)
	}

	var sms SMSSender = NewStubSMSSender(logger)
	if cfg.SMSGatewayURL != "" {
		sms = NewGatewaySMSSender(cfg.SMSGatewayURL, cfg.SMSGatewayKey, cfg.SMSFrom, logger)
	}

	return &Dispatcher{email: email, sms: sms}
}

func (d *Dispatcher) Send(ctx context.Context, channel appointment.Channel, recipient, subject, body string) error {
	switch channel {
	case appointment.ChannelEmail:
		return d.email.SendEmail(ctx, recipient, subject, body)
	case appointment.ChannelSMS:
		return d.sms.SendSMS(ctx, recipient, body)
	}
	return fmt.Errorf("unknown channel %q", string(channel))
}

var _ appointment.Notifier = (*Dispatcher)(nil)
