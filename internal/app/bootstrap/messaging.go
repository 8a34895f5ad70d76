package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/dental-outreach/internal/campaign"
	appconfig "github.com/wolfman30/dental-outreach/internal/config"
	"github.com/wolfman30/dental-outreach/internal/messaging"
	"github.com/wolfman30/dental-outreach/internal/notify"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

// Providers names the provider chosen for each channel.
type Providers struct {
	SMS   string
	Email string
}

// BuildSender assembles the channel router used for automation events and
// replies. Channels without a configured provider fall back to a log sender.
// ses may be nil when AWS is not configured.
func BuildSender(cfg *appconfig.Config, ses *sesv2.Client, logger *logging.Logger) (*messaging.ChannelSender, Providers) {
	if logger == nil {
		logger = logging.Default()
	}
	sender := messaging.NewChannelSender()
	logSender := messaging.NewLogSender(logger)
	if cfg == nil {
		sender.Handle(string(campaign.ChannelSMS), logSender).Handle(string(campaign.ChannelEmail), logSender)
		return sender, Providers{SMS: "log", Email: "log"}
	}

	var providers Providers
	sms, smsProvider := buildSMSSender(cfg, logger)
	if sms == nil {
		sms, smsProvider = logSender, "log"
	}
	sender.Handle(string(campaign.ChannelSMS), sms)
	providers.SMS = smsProvider

	email, emailProvider := buildEmailSender(cfg, ses, logger)
	if email == nil {
		email, emailProvider = logSender, "log"
	}
	sender.Handle(string(campaign.ChannelEmail), email)
	providers.Email = emailProvider

	return sender, providers
}

func buildSMSSender(cfg *appconfig.Config, logger *logging.Logger) (messaging.Sender, string) {
	hasTwilio := cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != ""
	switch cfg.SMSProvider {
	case "log":
		return nil, ""
	case "twilio", "auto", "":
		if !hasTwilio {
			if cfg.SMSProvider == "twilio" {
				logger.Warn("SMS_PROVIDER=twilio but Twilio credentials are incomplete; logging SMS instead")
			}
			return nil, ""
		}
		return messaging.NewTwilioSender(messaging.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
		}, logger), "twilio"
	default:
		logger.Warn("unknown SMS provider; logging SMS instead", "provider", cfg.SMSProvider)
		return nil, ""
	}
}

func buildEmailSender(cfg *appconfig.Config, ses *sesv2.Client, logger *logging.Logger) (messaging.Sender, string) {
	sendgrid := func() (messaging.Sender, string) {
		s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if s == nil {
			return nil, ""
		}
		return s, "sendgrid"
	}
	sesSender := func() (messaging.Sender, string) {
		if ses == nil || strings.TrimSpace(cfg.SESFromEmail) == "" {
			return nil, ""
		}
		return notify.NewSESSender(ses, notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger), "ses"
	}

	switch cfg.EmailProvider {
	case "log":
		return nil, ""
	case "sendgrid":
		return sendgrid()
	case "ses":
		return sesSender()
	case "auto", "":
		if s, name := sendgrid(); s != nil {
			return s, name
		}
		return sesSender()
	default:
		logger.Warn("unknown email provider; logging email instead", "provider", cfg.EmailProvider)
		return nil, ""
	}
}
