// Package notifiertest provides a Notifier that records what it was sent.
package notifiertest

import (
	"context"
	"errors"
	"sync"

	"github.com/kirinyoku/pelada/internal/notifier"
)

type Message struct {
	Event   string
	Payload any
}

type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	fail bool
}

func (r *Recorder) Send(_ context.Context, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail {
		return errors.New("notifiertest: send failed")
	}
	r.msgs = append(r.msgs, Message{Event: event, Payload: payload})
	return nil
}

// Fail makes every following Send return an error.
func (r *Recorder) Fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = true
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// ByEvent returns the messages sent for one event name.
func (r *Recorder) ByEvent(event string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

var _ notifier.Notifier = (*Recorder)(nil)
