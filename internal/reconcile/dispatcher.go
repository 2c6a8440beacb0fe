package reconcile

import (
	"context"
	"fmt"

	"github.com/cradoe/walletrecon/internal/models"
)

// Dispatcher routes a normalized webhook to its provider's service.
type Dispatcher struct {
	services map[models.Provider]*Service
}

func NewDispatcher(services ...*Service) *Dispatcher {
	d := &Dispatcher{services: make(map[models.Provider]*Service, len(services))}
	for _, svc := range services {
		d.services[svc.Provider()] = svc
	}
	return d
}

// NewDefaultDispatcher wires every supported provider with the same
// dependencies.
func NewDefaultDispatcher(deps Dependencies) *Dispatcher {
	return NewDispatcher(
		NewPaystackService(deps),
		NewFlutterwaveService(deps),
		NewMonnifyService(deps),
	)
}

func (d *Dispatcher) ProcessWebhook(ctx context.Context, result *models.WebhookProcessResult) error {
	if result == nil {
		return fmt.Errorf("%w: empty result", ErrValidation)
	}

	svc, ok := d.services[result.Provider]
	if !ok {
		return fmt.Errorf("%w: no reconciliation service for %q", ErrValidation, result.Provider)
	}
	return svc.ProcessWebhook(ctx, result)
}
