package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/dental-outreach/internal/messaging"
	"github.com/wolfman30/dental-outreach/internal/observability/metrics"
	"github.com/wolfman30/dental-outreach/internal/outreach"
	"github.com/wolfman30/dental-outreach/internal/prospects"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

// Payload is the JSON body of an inbound queue message.
type Payload struct {
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	ProspectID        string    `json:"prospectId,omitempty"`
	From              string    `json:"from,omitempty"`
	Channel           string    `json:"channel,omitempty"`
	Body              string    `json:"body"`
	ReceivedAt        time.Time `json:"receivedAt"`
}

// Ingester is the slice of the outreach runtime the consumer drives.
type Ingester interface {
	Ingest(ctx context.Context, prospectID, raw string, receivedAt time.Time) (outreach.IngestResult, error)
	IngestFromPhone(ctx context.Context, phone, raw string, receivedAt time.Time) (outreach.IngestResult, error)
	GetProspect(prospectID string) (prospects.Prospect, error)
}

// Publisher enqueues inbound payloads for asynchronous processing.
type Publisher struct {
	queue Queue
}

func NewPublisher(queue Queue) *Publisher {
	return &Publisher{queue: queue}
}

// Publish serialises p onto the queue.
func (p *Publisher) Publish(ctx context.Context, payload Payload) error {
	if payload.ReceivedAt.IsZero() {
		payload.ReceivedAt = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("inbound: encode payload: %w", err)
	}
	return p.queue.Send(ctx, string(body))
}

// ConsumerOption customises a Consumer.
type ConsumerOption func(*consumerConfig)

type consumerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	deduper          Deduper
	metrics          *metrics.CampaignMetrics
	sendTimeout      time.Duration
}

const (
	defaultConsumerWorkers = 2
	defaultWaitSeconds     = 10
	defaultBatchSize       = 5
	maxWaitSeconds         = 20
	maxReceiveBatchSize    = 10
)

func WithWorkers(n int) ConsumerOption {
	return func(cfg *consumerConfig) {
		if n > 0 {
			cfg.workers = n
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) ConsumerOption {
	return func(cfg *consumerConfig) {
		if seconds < 0 {
			seconds = 0
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) ConsumerOption {
	return func(cfg *consumerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithDeduper drops messages whose provider id was already processed.
func WithDeduper(d Deduper) ConsumerOption {
	return func(cfg *consumerConfig) { cfg.deduper = d }
}

func WithMetrics(m *metrics.CampaignMetrics) ConsumerOption {
	return func(cfg *consumerConfig) { cfg.metrics = m }
}

// Consumer drains inbound replies from a queue, routes them through the
// runtime and sends the rendered reply back to the prospect.
type Consumer struct {
	queue    Queue
	ingester Ingester
	replies  messaging.Sender
	logger   *logging.Logger
	cfg      consumerConfig
	wg       sync.WaitGroup
}

// NewConsumer builds a consumer. replies may be nil to skip reply delivery.
func NewConsumer(queue Queue, ingester Ingester, replies messaging.Sender, logger *logging.Logger, opts ...ConsumerOption) *Consumer {
	if queue == nil || ingester == nil {
		panic("inbound: queue and ingester are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := consumerConfig{
		workers:          defaultConsumerWorkers,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		sendTimeout:      10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Consumer{queue: queue, ingester: ingester, replies: replies, logger: logger, cfg: cfg}
}

// Start launches the worker goroutines.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.cfg.workers; i++ {
		c.wg.Add(1)
		go c.run(ctx, i+1)
	}
}

// Wait blocks until all workers exit.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, workerID int) {
	defer c.wg.Done()
	c.logger.Debug("inbound consumer started", "worker_id", workerID)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			c.logger.Debug("inbound consumer stopping", "worker_id", workerID)
			return
		}
		messages, err := c.queue.Receive(ctx, c.cfg.receiveBatchSize, c.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			c.logger.Error("inbound: receive failed", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		for _, msg := range messages {
			c.Handle(ctx, msg)
		}
	}
}

// Handle processes one queue message. Messages are deleted unless ingestion
// failed in a way a redelivery could fix.
func (c *Consumer) Handle(ctx context.Context, msg Message) {
	var payload Payload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		c.logger.Error("inbound: decode payload", "error", err, "msg_id", msg.ID)
		c.cfg.metrics.ObserveInbound("queue", "invalid")
		c.delete(msg)
		return
	}
	if strings.TrimSpace(payload.ProspectID) == "" && strings.TrimSpace(payload.From) == "" {
		c.logger.Warn("inbound: payload without prospect or sender", "msg_id", msg.ID)
		c.cfg.metrics.ObserveInbound("queue", "invalid")
		c.delete(msg)
		return
	}

	if c.cfg.deduper != nil && payload.ProviderMessageID != "" {
		first, err := c.cfg.deduper.Claim(ctx, payload.ProviderMessageID)
		if err != nil {
			c.logger.Warn("inbound: dedupe lookup failed", "error", err, "provider_message_id", payload.ProviderMessageID)
		} else if !first {
			c.logger.Info("inbound: duplicate message dropped", "provider_message_id", payload.ProviderMessageID)
			c.cfg.metrics.ObserveInbound("queue", "duplicate")
			c.delete(msg)
			return
		}
	}

	res, err := c.ingest(ctx, payload)
	if err != nil {
		if errors.Is(err, prospects.ErrProspectNotFound) {
			c.logger.Warn("inbound: message for unknown prospect dropped", "prospect_id", payload.ProspectID, "msg_id", msg.ID)
			c.cfg.metrics.ObserveInbound("queue", "unknown_prospect")
			c.delete(msg)
			return
		}
		c.logger.Error("inbound: ingest failed", "error", err, "msg_id", msg.ID)
		c.cfg.metrics.ObserveInbound("queue", "error")
		if c.cfg.deduper != nil && payload.ProviderMessageID != "" {
			if relErr := c.cfg.deduper.Release(context.Background(), payload.ProviderMessageID); relErr != nil {
				c.logger.Warn("inbound: release dedupe key", "error", relErr)
			}
		}
		return
	}
	c.cfg.metrics.ObserveInbound("queue", "processed")
	c.reply(ctx, payload, res)
	c.delete(msg)
}

func (c *Consumer) ingest(ctx context.Context, p Payload) (outreach.IngestResult, error) {
	if p.ProspectID != "" {
		return c.ingester.Ingest(ctx, p.ProspectID, p.Body, p.ReceivedAt)
	}
	return c.ingester.IngestFromPhone(ctx, p.From, p.Body, p.ReceivedAt)
}

const defaultReplySubject = "Re: your message"

func (c *Consumer) reply(ctx context.Context, p Payload, res outreach.IngestResult) {
	if c.replies == nil || res.Reply == "" || res.Suppressed {
		return
	}
	prospect, err := c.ingester.GetProspect(res.ProspectID)
	if err != nil {
		c.logger.Error("inbound: load prospect for reply", "error", err, "prospect_id", res.ProspectID)
		return
	}
	channel := strings.ToLower(p.Channel)
	if channel == "" {
		channel = "sms"
	}
	msg := messaging.OutboundMessage{
		ProspectID: res.ProspectID,
		Channel:    channel,
		To:         prospect.Contact.Phone,
		Body:       res.Reply,
	}
	if channel == "email" {
		msg.To = prospect.Contact.Email
		msg.Subject = res.ReplySubject
		if msg.Subject == "" {
			msg.Subject = defaultReplySubject
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.sendTimeout)
	defer cancel()
	if _, err := c.replies.Send(sendCtx, msg); err != nil {
		c.logger.Error("inbound: reply send failed", "error", err, "prospect_id", res.ProspectID, "action", res.Action)
	}
}

func (c *Consumer) delete(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		c.logger.Error("inbound: delete message", "error", err, "msg_id", msg.ID)
	}
}
