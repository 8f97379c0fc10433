package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/solderstack/gatehouse/internal/model"
	"github.com/solderstack/gatehouse/internal/service"
)

var (
	_ service.EventSink = (*Publisher)(nil)
	_ service.Mailer    = (*Publisher)(nil)
)

// Publisher sends account lifecycle events and mail jobs to RabbitMQ.
// It holds a single connection and channel for the process lifetime;
// publishing is serialized because AMQP channels are not safe for
// concurrent use. Errors are logged and returned so callers can choose
// to ignore them without interrupting the request flow.
type Publisher struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *zap.Logger
}

// NewPublisher dials the broker and declares every queue up front.
// Queues are durable so messages survive broker restarts.
func NewPublisher(url string, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open: %w", err)
	}
	for _, name := range []string{QueueAccountCreated, QueueAccountUpdated, QueueAccountRemoved, QueueLoginEmail} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("rabbitmq: declare %s: %w", name, err)
		}
	}
	return &Publisher{conn: conn, ch: ch, log: log}, nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) AccountCreated(ctx context.Context, acc model.Account) error {
	return p.publish(ctx, QueueAccountCreated, accountEvent(acc))
}

func (p *Publisher) AccountUpdated(ctx context.Context, acc model.Account) error {
	return p.publish(ctx, QueueAccountUpdated, accountEvent(acc))
}

// AccountRemoved lists the freed credential values so a consumer can
// reconcile index rows left behind by a failed cleanup.
func (p *Publisher) AccountRemoved(ctx context.Context, acc model.Account) error {
	freed := make([]string, 0, 3)
	if acc.Email != "" {
		freed = append(freed, model.CredentialKey(model.CredentialEmail, model.CanonicalizeEmail(acc.Email)))
	}
	if acc.Username != "" {
		freed = append(freed, model.CredentialKey(model.CredentialUsername, acc.CanonicalUsername()))
	}
	if acc.FacebookID != "" {
		freed = append(freed, model.CredentialKey(model.CredentialFacebook, acc.FacebookID))
	}
	return p.publish(ctx, QueueAccountRemoved, AccountRemovedEvent{
		AccountID:        acc.ID,
		FreedCredentials: freed,
		OccurredAt:       time.Now().UTC().Format(time.RFC3339),
	})
}

// SendLoginEmail enqueues a magic-link delivery job for the mail worker.
func (p *Publisher) SendLoginEmail(ctx context.Context, acc model.Account, bundle model.TokenBundle) error {
	return p.publish(ctx, QueueLoginEmail, LoginEmailJob{
		AccountID:    acc.ID,
		Email:        acc.Email,
		Name:         acc.Name,
		AccessToken:  bundle.AccessToken,
		RefreshToken: bundle.RefreshToken,
		Expires:      bundle.Expires,
		QueuedAt:     time.Now().UTC().Format(time.RFC3339),
	})
}

func (p *Publisher) publish(ctx context.Context, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("rabbitmq: marshal payload", zap.String("queue", queue), zap.Error(err))
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, "", queue, false, false, pub)
	p.mu.Unlock()
	if err != nil {
		p.log.Error("rabbitmq: publish", zap.String("queue", queue), zap.Error(err))
		return err
	}
	return nil
}

func accountEvent(acc model.Account) AccountEvent {
	return AccountEvent{
		AccountID:  acc.ID,
		Email:      acc.Email,
		Username:   acc.Username,
		Name:       acc.Name,
		Roles:      acc.Roles,
		FacebookID: acc.FacebookID,
		Metadata:   acc.Metadata,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
}
