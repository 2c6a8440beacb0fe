// Package webhook authenticates and normalizes inbound provider callbacks.
// Each provider is one small value implementing Provider; the Registry
// dispatches on the provider name, there is no shared base behaviour.
package webhook

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cradoe/walletrecon/internal/models"
	"golang.org/x/exp/maps"
)

var (
	// ErrValidation is the parent of every payload rejection.
	ErrValidation       = errors.New("invalid webhook payload")
	ErrMalformedPayload = fmt.Errorf("%w: malformed", ErrValidation)
	ErrUnsupportedEvent = fmt.Errorf("%w: unsupported event", ErrValidation)
	ErrMissingField     = fmt.Errorf("%w: missing field", ErrValidation)
)

type Provider interface {
	Name() models.Provider
	// SignatureHeader is the request header carrying the signature.
	SignatureHeader() string
	// ValidateSignature checks signature against the exact bytes received.
	ValidateSignature(rawBody []byte, signature string) bool
	// ValidatePayload rejects malformed payloads and unrecognized events.
	ValidatePayload(payload []byte) error
	Process(payload []byte) (*models.WebhookProcessResult, error)
}

type Registry struct {
	providers map[models.Provider]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[models.Provider]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name models.Provider) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names lists the registered providers in a stable order.
func (r *Registry) Names() []models.Provider {
	names := maps.Keys(r.providers)
	slices.Sort(names)
	return names
}
