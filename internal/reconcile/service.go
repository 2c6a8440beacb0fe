// Package reconcile applies normalized provider webhooks to the ledger
// exactly once. A delivery is matched against existing transactions before
// anything is written, and every write that moves money happens inside one
// database transaction together with the ledger rows that explain it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cradoe/walletrecon/internal/helper"
	"github.com/cradoe/walletrecon/internal/metrics"
	"github.com/cradoe/walletrecon/internal/models"
	"github.com/cradoe/walletrecon/internal/notify"
	"github.com/cradoe/walletrecon/internal/repository"
)

const DefaultLockTTL = 30 * time.Second

// Locker guards a delivery while it is being processed so that an
// identical redelivery arriving at the same moment backs off early.
// Release only drops the hold when token still owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

type Dependencies struct {
	DB        repository.Database
	Notifier  notify.Notifier
	Escalator notify.Escalator
	// Locker is optional. Without it the unique keys in the database are
	// the only protection against concurrent duplicates.
	Locker  Locker
	Helper  *helper.HelperRepository
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	LockTTL time.Duration
}

// Service reconciles the webhooks of one provider.
type Service struct {
	provider models.Provider
	// events lists the event subtypes this provider's service applies.
	events map[string]models.Category

	db        repository.Database
	notifier  notify.Notifier
	escalator notify.Escalator
	locker    Locker
	helper    *helper.HelperRepository
	logger    *slog.Logger
	metrics   *metrics.Metrics
	lockTTL   time.Duration
}

func newService(provider models.Provider, events map[string]models.Category, deps Dependencies) *Service {
	if deps.LockTTL <= 0 {
		deps.LockTTL = DefaultLockTTL
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Helper == nil {
		deps.Helper = helper.New("", nil, deps.Logger)
	}

	return &Service{
		provider:  provider,
		events:    events,
		db:        deps.DB,
		notifier:  deps.Notifier,
		escalator: deps.Escalator,
		locker:    deps.Locker,
		helper:    deps.Helper,
		logger:    deps.Logger.With("provider", provider),
		metrics:   deps.Metrics,
		lockTTL:   deps.LockTTL,
	}
}

func NewPaystackService(deps Dependencies) *Service {
	return newService(models.ProviderPaystack, map[string]models.Category{
		"charge.success":    models.CategoryFunding,
		"transfer.success":  models.CategoryWithdrawal,
		"transfer.failed":   models.CategoryWithdrawal,
		"transfer.reversed": models.CategoryWithdrawal,
	}, deps)
}

func NewFlutterwaveService(deps Dependencies) *Service {
	return newService(models.ProviderFlutterwave, map[string]models.Category{
		"charge.completed":   models.CategoryFunding,
		"transfer.completed": models.CategoryWithdrawal,
	}, deps)
}

func NewMonnifyService(deps Dependencies) *Service {
	return newService(models.ProviderMonnify, map[string]models.Category{
		"SUCCESSFUL_TRANSACTION":  models.CategoryFunding,
		"SUCCESSFUL_DISBURSEMENT": models.CategoryWithdrawal,
		"FAILED_DISBURSEMENT":     models.CategoryWithdrawal,
		"REVERSED_DISBURSEMENT":   models.CategoryWithdrawal,
	}, deps)
}

func (s *Service) Provider() models.Provider {
	return s.provider
}

// ProcessWebhook applies result at most once. Calling it again with the
// same result returns ErrDuplicateEvent and changes nothing. A nil error
// is also returned for event subtypes this service does not handle.
func (s *Service) ProcessWebhook(ctx context.Context, result *models.WebhookProcessResult) error {
	if result == nil {
		return fmt.Errorf("%w: empty result", ErrValidation)
	}
	started := time.Now()

	outcome, err := s.process(ctx, result)

	s.metrics.WebhookDuration(string(s.provider), started)
	s.metrics.WebhookEvent(string(s.provider), outcome)

	switch {
	case err == nil:
		s.logger.Info("webhook reconciled", "outcome", outcome, "reference", result.Reference, "provider_reference", result.ProviderReference)
	case errors.Is(err, ErrDuplicateEvent):
		s.logger.Info("duplicate webhook suppressed", "reference", result.Reference, "provider_reference", result.ProviderReference)
	case errors.Is(err, ErrResourceNotFound):
		s.logger.Warn(err.Error(), "reference", result.Reference, "provider_reference", result.ProviderReference, "account_number", result.AccountNumber)
	default:
		s.logger.Error("webhook reconciliation failed", "error", err, "reference", result.Reference, "provider_reference", result.ProviderReference)
	}

	return err
}

func (s *Service) process(ctx context.Context, result *models.WebhookProcessResult) (string, error) {
	if result.Provider != s.provider {
		return metrics.OutcomeInvalidPayload, fmt.Errorf("%w: %s result sent to %s service", ErrValidation, result.Provider, s.provider)
	}

	category, ok := s.events[result.EventType]
	if !ok || category != result.Category {
		s.logger.Warn("unsupported webhook event ignored", "event_type", result.EventType, "category", result.Category)
		return metrics.OutcomeIgnored, nil
	}

	release, err := s.acquire(ctx, result)
	if err != nil {
		return metrics.OutcomeDuplicate, err
	}
	defer release()

	existing, found, err := s.db.Transaction().FindByProviderIDs(ctx, s.provider, result.LookupIDs())
	if err != nil {
		return metrics.OutcomeError, fmt.Errorf("idempotency lookup: %w", err)
	}
	if found && s.alreadyApplied(existing, result) {
		s.recordDuplicate(ctx, existing, result)
		return metrics.OutcomeDuplicate, ErrDuplicateEvent
	}

	if result.NeedsReview {
		s.escalate(result, fmt.Sprintf("unrecognized provider status %q recorded as pending", result.RawStatus))
	}

	switch category {
	case models.CategoryFunding:
		if found {
			return s.promoteFunding(ctx, existing, result)
		}
		return s.applyFunding(ctx, result)
	case models.CategoryWithdrawal:
		if !found {
			existing = nil
		}
		return s.completeWithdrawal(ctx, existing, result)
	}

	s.logger.Warn("unsupported webhook category ignored", "category", category)
	return metrics.OutcomeIgnored, nil
}

// alreadyApplied reports whether result carries nothing the existing
// transaction has not already seen.
func (s *Service) alreadyApplied(existing *models.Transaction, result *models.WebhookProcessResult) bool {
	if existing.Status.IsTerminal() {
		return true
	}
	return !existing.Status.CanMoveTo(result.Status)
}

// acquire takes the in-flight lock for this delivery. A lock held by
// someone else means the same delivery, with the same status, is being
// processed right now. Deliveries carrying a different status are not
// held back; the database keys order them. Redis errors fall back to the
// database keys.
func (s *Service) acquire(ctx context.Context, result *models.WebhookProcessResult) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}

	key := lockKey(s.provider, result)

	token, ok, err := s.locker.Acquire(ctx, key, s.lockTTL)
	if err != nil {
		s.logger.Warn("webhook lock unavailable", "key", key, "error", err)
		return noop, nil
	}
	if !ok {
		return noop, ErrDuplicateEvent
	}

	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warn("webhook lock release failed", "key", key, "error", err)
		}
	}, nil
}

func lockKey(provider models.Provider, result *models.WebhookProcessResult) string {
	id := result.ProviderReference
	if id == "" {
		id = result.Reference
	}
	return fmt.Sprintf("webhook:%s:%s:%s", provider, id, result.Status)
}

func (s *Service) recordDuplicate(ctx context.Context, existing *models.Transaction, result *models.WebhookProcessResult) {
	s.logActivity(ctx, s.db, existing.OwnerID, repository.ActivityLogTransactionEntity, existing.ID,
		fmt.Sprintf("%s: %s %s", repository.ActivityDuplicateSuppressed, result.EventType, result.RawStatus))
}

// logActivity writes an audit row outside any DB transaction. Failures are
// logged only.
func (s *Service) logActivity(ctx context.Context, db repository.Database, userID, entity, entityID, description string) {
	_, err := db.Activity().Insert(ctx, &models.ActivityLog{
		UserID:      userID,
		Entity:      entity,
		EntityId:    entityID,
		Description: description,
	})
	if err != nil {
		s.logger.Error("activity log failed", "entity", entity, "entity_id", entityID, "error", err)
	}
}

func (s *Service) notify(eventType notify.EventType, trans *models.Transaction, refunded bool) {
	if s.notifier == nil {
		return
	}

	event := notify.EventFor(eventType, trans)
	event.Refunded = refunded

	s.helper.BackgroundTask("notify "+string(eventType), func() error {
		if err := s.notifier.Notify(context.Background(), event); err != nil {
			s.metrics.NotifyFailure()
			return err
		}
		return nil
	})
}

func (s *Service) escalate(result *models.WebhookProcessResult, reason string) {
	if s.escalator == nil {
		return
	}

	review := notify.Review{
		Provider:          s.provider,
		Reason:            reason,
		EventType:         result.EventType,
		Reference:         result.Reference,
		ProviderReference: result.ProviderReference,
		AccountNumber:     result.AccountNumber,
		Amount:            result.Amount,
		Currency:          result.Currency,
	}

	s.helper.BackgroundTask("escalate webhook", func() error {
		s.escalator.Escalate(context.Background(), review)
		return nil
	})
}

func webhookEntityID(provider models.Provider, result *models.WebhookProcessResult) string {
	id := result.ProviderReference
	if id == "" {
		id = result.Reference
	}
	return string(provider) + ":" + id
}

// providerIDs merges the provider ids already recorded on a transaction
// with ids, keeping the first-seen order.
func providerIDs(existing models.Metadata, ids []string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(id string) {
		if _, ok := seen[id]; ok || id == "" {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	switch v := existing["provider_ids"].(type) {
	case []string:
		for _, id := range v {
			add(id)
		}
	case []any:
		for _, id := range v {
			if s, ok := id.(string); ok {
				add(s)
			}
		}
	}
	for _, id := range ids {
		add(id)
	}
	return out
}
