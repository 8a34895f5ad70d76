package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/dental-outreach/internal/config"
	"github.com/wolfman30/dental-outreach/internal/inbound"
	"github.com/wolfman30/dental-outreach/internal/messaging"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

func TestBuildSenderFallsBackToLog(t *testing.T) {
	cfg := &appconfig.Config{SMSProvider: "auto", EmailProvider: "auto"}

	sender, providers := BuildSender(cfg, nil, logging.Discard())
	require.NotNil(t, sender)
	assert.Equal(t, Providers{SMS: "log", Email: "log"}, providers)

	res, err := sender.Send(context.Background(), messaging.OutboundMessage{
		ProspectID: "p1", Channel: "sms", To: "+14155550100", Body: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "log", res.Provider)
}

func TestBuildSenderSelectsConfiguredProviders(t *testing.T) {
	cfg := &appconfig.Config{
		SMSProvider:      "auto",
		TwilioAccountSID: "AC123",
		TwilioAuthToken:  "token",
		TwilioFromNumber: "+14155550000",
		EmailProvider:    "auto",
		SendGridAPIKey:   "SG.key",
	}

	_, providers := BuildSender(cfg, nil, logging.Discard())
	assert.Equal(t, Providers{SMS: "twilio", Email: "sendgrid"}, providers)
}

func TestBuildSenderSESWithoutClientLogs(t *testing.T) {
	cfg := &appconfig.Config{EmailProvider: "ses", SESFromEmail: "frontdesk@example.com"}

	_, providers := BuildSender(cfg, nil, logging.Discard())
	assert.Equal(t, "log", providers.Email)
}

func TestBuildSenderNilConfig(t *testing.T) {
	sender, providers := BuildSender(nil, nil, logging.Discard())
	require.NotNil(t, sender)
	assert.Equal(t, "log", providers.SMS)
}

func TestBuildRedisClientDisabled(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, logging.Discard(), true))
	assert.Nil(t, BuildRedisClient(context.Background(), nil, logging.Discard(), false))
}

func TestBuildRedisClientVerifies(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr()}

	client := BuildRedisClient(context.Background(), cfg, logging.Discard(), true)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, logging.Discard(), true))
}

func TestBuildDeduper(t *testing.T) {
	cfg := &appconfig.Config{InboundDedupeTTL: time.Hour}
	assert.IsType(t, &inbound.MemoryDeduper{}, BuildDeduper(nil, cfg))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.Discard(), false)
	t.Cleanup(func() { _ = client.Close() })
	assert.IsType(t, &inbound.RedisDeduper{}, BuildDeduper(client, cfg))
}
