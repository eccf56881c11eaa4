// Package notifier delivers outbound domain notifications (payment
// requests, waitlist promotions, billing runs) to a relay.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	EventPaymentRequested = "payment.requested"
	EventWaitlistPromoted = "waitlist.promoted"
	EventBillingMonthly   = "billing.monthly"
)

var ErrNotifier = errors.New("notifier error")

type Notifier interface {
	Send(ctx context.Context, event string, payload any) error
}

// Envelope is the body every driver delivers.
type Envelope struct {
	Event      string          `json:"event"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func encode(event string, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Envelope{
		Event:      event,
		OccurredAt: time.Now().UTC(),
		Payload:    p,
	})
}

type Nop struct{}

func (Nop) Send(context.Context, string, any) error { return nil }

var _ Notifier = Nop{}
