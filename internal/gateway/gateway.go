// Package gateway talks to the third-party payment provider that issues
// PIX charges and card payment links.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrGateway = errors.New("payment gateway error")

const DefaultTimeout = 10 * time.Second

type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	CreatePaymentLink(ctx context.Context, req LinkRequest) (string, error)
}

type ChargeRequest struct {
	ReferenceID string `json:"reference_id"`
	CustomerID  string `json:"customer_id,omitempty"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
}

type Charge struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

type LinkRequest struct {
	ReferenceID string `json:"reference_id"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a JSON-over-HTTP Gateway.
type Client struct {
	hc      *http.Client
	baseURL string
	apiKey  string
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		hc:      &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	const op = "gateway.Client.CreateCharge"

	var out Charge
	if err := c.post(ctx, "/charges", req, &out); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%s:%w: empty charge id", op, ErrGateway)
	}

	return &out, nil
}

func (c *Client) CreatePaymentLink(ctx context.Context, req LinkRequest) (string, error) {
	const op = "gateway.Client.CreatePaymentLink"

	var out struct {
		URL string `json:"url"`
	}
	if err := c.post(ctx, "/payment-links", req, &out); err != nil {
		return "", fmt.Errorf("%s:%w", op, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("%s:%w: empty link", op, ErrGateway)
	}

	return out.URL, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(b, &e)
		if e.Message != "" {
			return fmt.Errorf("%w: %s (status=%d)", ErrGateway, e.Message, resp.StatusCode)
		}
		return fmt.Errorf("%w: status=%d", ErrGateway, resp.StatusCode)
	}

	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrGateway, err)
	}

	return nil
}

var _ Gateway = (*Client)(nil)
