package mocks

import (
	"context"
	"sync"

	"github.com/cradoe/walletrecon/internal/notify"
)

// Escalator records every manual-review request.
type Escalator struct {
	mu      sync.Mutex
	reviews []notify.Review
}

func (e *Escalator) Escalate(ctx context.Context, review notify.Review) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reviews = append(e.reviews, review)
}

func (e *Escalator) Reviews() []notify.Review {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]notify.Review(nil), e.reviews...)
}
