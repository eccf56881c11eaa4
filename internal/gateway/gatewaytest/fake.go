// Package gatewaytest provides an in-process Gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirinyoku/pelada/internal/gateway"
)

type Fake struct {
	mu sync.Mutex

	FailCharges bool
	FailLinks   bool

	// Gate, when set, holds CreateCharge until it is closed.
	Gate    chan struct{}
	started int

	Charges []gateway.ChargeRequest
	Links   []gateway.LinkRequest
}

func (f *Fake) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	f.mu.Lock()
	f.started++
	gate := f.Gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailCharges {
		return nil, fmt.Errorf("%w: fake failure", gateway.ErrGateway)
	}

	f.Charges = append(f.Charges, req)
	n := len(f.Charges)
	return &gateway.Charge{
		ID:   fmt.Sprintf("ch_%d", n),
		Code: fmt.Sprintf("PIX-%d", n),
	}, nil
}

func (f *Fake) CreatePaymentLink(_ context.Context, req gateway.LinkRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailLinks {
		return "", fmt.Errorf("%w: fake failure", gateway.ErrGateway)
	}

	f.Links = append(f.Links, req)
	return "https://pay.example/" + req.ReferenceID, nil
}

// ChargeCount is the number of successful CreateCharge calls.
func (f *Fake) ChargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Charges)
}

// Started is the number of CreateCharge calls entered, including the
// ones still held by Gate.
func (f *Fake) Started() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *Fake) SetFailCharges(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailCharges = v
}

var _ gateway.Gateway = (*Fake)(nil)
