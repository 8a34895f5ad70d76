package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/dental-outreach/pkg/logging"
)

// OutboundMessage is one rendered message addressed to a prospect.
type OutboundMessage struct {
	ProspectID string
	Channel    string
	To         string
	Subject    string
	Body       string
}

// SendResult carries provider bookkeeping for a delivered message.
type SendResult struct {
	Provider          string
	ProviderMessageID string
}

// Sender delivers outbound messages. Implementations must honour ctx deadlines.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (SendResult, error)
}

// ErrUnsupportedChannel is returned when no sender is registered for a channel.
var ErrUnsupportedChannel = errors.New("messaging: unsupported channel")

// PermanentError marks failures that retrying cannot fix, such as a rejected
// recipient address.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ChannelSender dispatches each message to the sender registered for its channel.
type ChannelSender struct {
	senders map[string]Sender
}

// NewChannelSender returns an empty router; register senders with Handle.
func NewChannelSender() *ChannelSender {
	return &ChannelSender{senders: make(map[string]Sender)}
}

// Handle registers sender for channel, replacing any previous one.
func (c *ChannelSender) Handle(channel string, sender Sender) *ChannelSender {
	if sender != nil {
		c.senders[strings.ToLower(channel)] = sender
	}
	return c
}

// Send implements Sender.
func (c *ChannelSender) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	sender, ok := c.senders[strings.ToLower(msg.Channel)]
	if !ok {
		return SendResult{}, Permanent(fmt.Errorf("%w: %q", ErrUnsupportedChannel, msg.Channel))
	}
	if strings.TrimSpace(msg.To) == "" {
		return SendResult{}, Permanent(fmt.Errorf("messaging: %s recipient missing for prospect %s", msg.Channel, msg.ProspectID))
	}
	return sender.Send(ctx, msg)
}

// LogSender logs messages instead of delivering them. Used in development
// and when a channel has no provider configured.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	s.logger.Info("log sender: would send message",
		"prospect_id", msg.ProspectID, "channel", msg.Channel, "to", msg.To, "subject", msg.Subject)
	return SendResult{Provider: "log"}, nil
}

var (
	_ Sender = (*ChannelSender)(nil)
	_ Sender = (*LogSender)(nil)
)
