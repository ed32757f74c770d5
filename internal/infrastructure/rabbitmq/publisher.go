package rabbitmq

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/untold/layout-service/internal/contracts/event"
	"github.com/untold/layout-service/internal/domain"
	appCtx "github.com/untold/layout-service/internal/pkg/context"
	"github.com/untold/layout-service/internal/pkg/logger"
)

const (
	envelopeVersion = 1
	producerName    = "layout-service"

	rkRewardLogged = "layout.reward.logged"
)

// Publisher pushes reward events to the training exchange. Connection setup
// is lazy and reset on publish failure; callers treat a failed publish as
// best-effort (the reward row is already durable in postgres).
type Publisher struct {
	rabbitURL string
	exchange  string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(rabbitURL, exchange string) *Publisher {
	return &Publisher{
		rabbitURL: strings.TrimSpace(rabbitURL),
		exchange:  strings.TrimSpace(exchange),
	}
}

func (p *Publisher) PublishReward(ctx context.Context, rec domain.RewardRecord) error {
	env := event.DomainEventEnvelope[event.RewardLoggedPayload]{
		Version:    envelopeVersion,
		Producer:   producerName,
		TraceID:    appCtx.GetRequestID(ctx),
		MessageID:  rec.ID.String(),
		OccurredAt: rec.CreatedAt,
		Payload: event.RewardLoggedPayload{
			RewardID:     rec.ID.String(),
			LayoutID:     rec.LayoutID.String(),
			UserID:       rec.UserID.String(),
			FeedbackType: string(rec.FeedbackKind),
			RewardValue:  rec.RewardValue,
		},
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.exchange, rkRewardLogged, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   rec.ID.String(),
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		// force a reconnect on the next publish
		p.reset()
		return err
	}
	return nil
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}

// channel returns a live channel, dialing if needed. Caller holds p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := amqp.Dial(p.rabbitURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	p.conn, p.ch = conn, ch
	logger.Logger.Info().Str("exchange", p.exchange).Msg("rabbitmq publisher connected")
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
