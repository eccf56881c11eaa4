package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultQueue = "pelada.notifications"

type AMQPConfig struct {
	URL   string
	Queue string
}

// AMQP publishes notifications as persistent messages on a durable
// queue. The connection is opened on first use and reopened after the
// broker drops it.
type AMQP struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQP(cfg AMQPConfig) *AMQP {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}

	return &AMQP{url: cfg.URL, queue: cfg.Queue}
}

func (a *AMQP) Send(ctx context.Context, event string, payload any) error {
	const op = "notifier.AMQP.Send"

	body, err := encode(event, payload)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ch, err := a.channel()
	if err != nil {
		return fmt.Errorf("%s:%w: %v", op, ErrNotifier, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         event,
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, "", a.queue, false, false, pub); err != nil {
		a.reset()
		return fmt.Errorf("%s:%w: %v", op, ErrNotifier, err)
	}

	return nil
}

// channel returns the open channel, dialing when needed. Callers hold mu.
func (a *AMQP) channel() (*amqp.Channel, error) {
	if a.ch != nil && !a.ch.IsClosed() && a.conn != nil && !a.conn.IsClosed() {
		return a.ch, nil
	}
	a.reset()

	conn, err := amqp.Dial(a.url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(a.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	a.conn, a.ch = conn, ch
	return ch, nil
}

func (a *AMQP) reset() {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.ch, a.conn = nil, nil
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.reset()
	return nil
}

var _ Notifier = (*AMQP)(nil)
