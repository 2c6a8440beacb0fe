package provider

import (
	"context"
	"sync"
	"time"
)

// Token is a short-lived provider access token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

type TokenSource func(ctx context.Context) (Token, error)

// Credentials caches one provider's token and refreshes it lazily. Each
// Client owns its own Credentials; nothing is shared between providers.
type Credentials struct {
	mu     sync.Mutex
	fetch  TokenSource
	token  Token
	margin time.Duration
	now    func() time.Time
}

// NewCredentials refreshes the token margin before it expires.
func NewCredentials(fetch TokenSource, margin time.Duration) *Credentials {
	return &Credentials{
		fetch:  fetch,
		margin: margin,
		now:    time.Now,
	}
}

// StaticCredentials never expire.
func StaticCredentials(value string) *Credentials {
	return NewCredentials(func(context.Context) (Token, error) {
		return Token{Value: value}, nil
	}, 0)
}

func (c *Credentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid() {
		return c.token.Value, nil
	}

	token, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token.Value, nil
}

// Invalidate forces the next Token call to fetch.
func (c *Credentials) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = Token{}
}

func (c *Credentials) valid() bool {
	if c.token.Value == "" {
		return false
	}
	if c.token.ExpiresAt.IsZero() {
		return true
	}
	return c.now().Add(c.margin).Before(c.token.ExpiresAt)
}
