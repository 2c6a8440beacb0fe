// Package provider holds the contract every outbound money-movement
// integration is normalized to. The HTTP clients for individual providers
// live behind Transport and are not part of this service.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cradoe/walletrecon/internal/models"
)

// Request is what the orchestrator asks a provider to do.
type Request struct {
	Reference string
	OwnerID   string
	Amount    int64
	Currency  string
	Category  models.Category
	Narration string
	Metadata  models.Metadata
}

// Response is the normalized provider answer. Success wins over Pending
// when both are set.
type Response struct {
	Success           bool
	Pending           bool
	ProviderReference string
	Status            string
	Message           string
	Data              map[string]any
}

// Call performs a single attempt against a provider. Retry policy belongs
// to the caller.
type Call func(ctx context.Context, req Request) (*Response, error)

// Transport is the opaque per-provider HTTP integration.
type Transport interface {
	Send(ctx context.Context, token string, req Request) (*Response, error)
}

var ErrUnauthorized = errors.New("provider rejected credentials")

// Client binds a provider to its credentials and transport.
type Client struct {
	name        models.Provider
	credentials *Credentials
	transport   Transport
	logger      *slog.Logger
}

func NewClient(name models.Provider, credentials *Credentials, transport Transport, logger *slog.Logger) *Client {
	return &Client{
		name:        name,
		credentials: credentials,
		transport:   transport,
		logger:      logger,
	}
}

func (c *Client) Name() models.Provider {
	return c.name
}

// Call satisfies the Call contract. A rejected token is dropped so the next
// call fetches a fresh one; the current attempt is not retried.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	token, err := c.credentials.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s credentials: %w", c.name, err)
	}

	resp, err := c.transport.Send(ctx, token, req)
	if errors.Is(err, ErrUnauthorized) {
		c.credentials.Invalidate()
		c.logger.Warn("provider token rejected", "provider", c.name, "reference", req.Reference)
	}
	return resp, err
}

// Clients resolves the Call for a provider.
type Clients map[models.Provider]*Client

func (cs Clients) CallFor(name models.Provider) (Call, bool) {
	c, ok := cs[name]
	if !ok {
		return nil, false
	}
	return c.Call, true
}

// QueueTransport accepts every request and leaves it pending. It stands in
// where a provider integration is operated out of band and the outcome
// arrives later by webhook.
type QueueTransport struct {
	Logger *slog.Logger
}

func (q QueueTransport) Send(ctx context.Context, token string, req Request) (*Response, error) {
	q.Logger.Info("outbound request queued", "reference", req.Reference, "amount", req.Amount)
	return &Response{
		Pending: true,
		Status:  "queued",
		Message: "queued for processing",
	}, nil
}
