// Package orchestrator runs user-initiated spends against external
// providers. Funds are reserved by debiting the wallet before the provider
// is called, and every outcome other than success or pending puts exactly
// the reserved amount back.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cradoe/walletrecon/internal/helper"
	"github.com/cradoe/walletrecon/internal/metrics"
	"github.com/cradoe/walletrecon/internal/models"
	"github.com/cradoe/walletrecon/internal/notify"
	"github.com/cradoe/walletrecon/internal/provider"
	"github.com/cradoe/walletrecon/internal/repository"
	"github.com/google/uuid"
)

var (
	ErrValidation          = errors.New("invalid transaction request")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletLocked        = errors.New("wallet is locked")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// ProviderError reports a spend the provider did not complete. The wallet
// has already been refunded when it is returned.
type ProviderError struct {
	Reference string
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider failed transaction %s: %v", e.Reference, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

var errDeclined = errors.New("declined by provider")

type Request struct {
	OwnerID  string
	Amount   int64
	Category models.Category
	Provider models.Provider
	// Field defaults to the main balance.
	Field models.BalanceField
	// IdempotencyKey makes a retried request return the original
	// transaction instead of spending twice.
	IdempotencyKey string
	// Reference is generated when empty.
	Reference      string
	LinkedRecordID string
	Narration      string
	Initiator      string
	InitiatorKind  models.InitiatorKind
	Metadata       models.Metadata
}

type Result struct {
	Transaction *models.Transaction
	Response    *provider.Response
	// Replayed is set when the transaction existed before this call.
	Replayed bool
}

type Dependencies struct {
	DB        repository.Database
	Notifier  notify.Notifier
	Escalator notify.Escalator
	Helper    *helper.HelperRepository
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

type Orchestrator struct {
	db        repository.Database
	notifier  notify.Notifier
	escalator notify.Escalator
	helper    *helper.HelperRepository
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func New(deps Dependencies) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Helper == nil {
		deps.Helper = helper.New("", nil, deps.Logger)
	}

	return &Orchestrator{
		db:        deps.DB,
		notifier:  deps.Notifier,
		escalator: deps.Escalator,
		helper:    deps.Helper,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
}

func (r *Request) validate() error {
	switch {
	case r.OwnerID == "":
		return fmt.Errorf("%w: owner is required", ErrValidation)
	case r.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	case r.Provider == "":
		return fmt.Errorf("%w: provider is required", ErrValidation)
	case !r.Field.Valid():
		return fmt.Errorf("%w: unknown balance %q", ErrValidation, r.Field)
	}

	switch r.Category {
	case models.CategoryWithdrawal, models.CategoryTransfer, models.CategoryBillPayment, models.CategoryAirtime:
	default:
		return fmt.Errorf("%w: %q is not a spend category", ErrValidation, r.Category)
	}
	return nil
}

// ExecuteTransaction debits the wallet, records a pending transaction and
// calls the provider exactly once. A pending outcome is returned as is and
// resolved later by webhook or ResolvePending.
func (o *Orchestrator) ExecuteTransaction(ctx context.Context, req Request, call provider.Call) (*Result, error) {
	if req.Field == "" {
		req.Field = models.BalanceFieldMain
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if call == nil {
		return nil, fmt.Errorf("%w: no provider call for %s", ErrValidation, req.Provider)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	if req.Reference == "" {
		req.Reference = models.NewReference(req.Category)
	}
	if req.InitiatorKind == "" {
		req.InitiatorKind = models.InitiatorUser
	}
	if req.Initiator == "" {
		req.Initiator = req.OwnerID
	}

	if res, ok, err := o.replay(ctx, req); ok || err != nil {
		return res, err
	}

	wallet, found, err := o.db.Wallet().GetByOwner(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("wallet lookup: %w", err)
	}
	if !found {
		return nil, ErrWalletNotFound
	}
	if wallet.IsLocked() {
		return nil, ErrWalletLocked
	}
	if req.Field.Of(wallet) < req.Amount {
		return nil, ErrInsufficientBalance
	}

	trans := &models.Transaction{
		ID:             uuid.NewString(),
		Reference:      req.Reference,
		IdempotencyKey: req.IdempotencyKey,
		WalletID:       wallet.ID,
		OwnerID:        wallet.OwnerID,
		LinkedRecord: models.LinkedRecord{
			Kind: models.LinkedRecordFor(req.Category),
			ID:   sql.NullString{String: req.LinkedRecordID, Valid: req.LinkedRecordID != ""},
		},
		Amount:        req.Amount,
		Direction:     models.DirectionDebit,
		Category:      req.Category,
		Provider:      req.Provider,
		Status:        models.TransactionStatusPending,
		Initiator:     req.Initiator,
		InitiatorKind: req.InitiatorKind,
		Narration:     req.Narration,
		Metadata:      req.Metadata.Merge(models.Metadata{models.MetadataBalanceField: string(req.Field)}),
	}

	err = o.db.RunInTx(ctx, func(tx repository.Database) error {
		change, err := tx.Wallet().Decrement(ctx, wallet.ID, req.Field, req.Amount)
		if err != nil {
			return err
		}
		trans.BalanceBefore = sql.NullInt64{Int64: change.Before, Valid: true}
		trans.BalanceAfter = sql.NullInt64{Int64: change.After, Valid: true}

		return tx.Transaction().Insert(ctx, trans)
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientFunds):
			return nil, ErrInsufficientBalance
		case errors.Is(err, repository.ErrWalletLocked):
			return nil, ErrWalletLocked
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrWalletNotFound
		case errors.Is(err, repository.ErrDuplicate):
			// a concurrent retry with the same key got there first
			if res, ok, rerr := o.replay(ctx, req); ok || rerr != nil {
				return res, rerr
			}
		}
		return nil, fmt.Errorf("reserve funds: %w", err)
	}

	o.logger.Info("funds reserved", "reference", trans.Reference, "amount", trans.Amount, "provider", trans.Provider)

	resp, callErr := call(ctx, provider.Request{
		Reference: trans.Reference,
		OwnerID:   trans.OwnerID,
		Amount:    trans.Amount,
		Currency:  wallet.Currency,
		Category:  trans.Category,
		Narration: trans.Narration,
		Metadata:  req.Metadata,
	})

	// settlement must happen even if the caller has gone away
	ctx = context.WithoutCancel(ctx)

	if callErr == nil && resp == nil {
		callErr = errors.New("empty provider response")
	}
	if callErr != nil {
		o.logger.Error("provider call failed", "reference", trans.Reference, "error", callErr)
		settled, err := o.settle(ctx, trans, models.TransactionStatusFailed, &provider.Response{Message: callErr.Error()})
		if err != nil {
			return nil, fmt.Errorf("refund after provider error: %w", err)
		}
		return &Result{Transaction: settled}, &ProviderError{Reference: trans.Reference, Err: callErr}
	}

	return o.apply(ctx, trans, resp)
}

// ResolvePending applies a later provider answer, e.g. from a status poll,
// to a transaction that was left pending.
func (o *Orchestrator) ResolvePending(ctx context.Context, reference string, resp *provider.Response) (*Result, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: empty provider response", ErrValidation)
	}

	trans, found, err := o.db.Transaction().GetByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("transaction lookup: %w", err)
	}
	if !found {
		return nil, ErrTransactionNotFound
	}
	if trans.Direction != models.DirectionDebit {
		return nil, fmt.Errorf("%w: %s is not an outbound transaction", ErrValidation, reference)
	}
	if trans.Status.IsTerminal() {
		return &Result{Transaction: trans, Response: resp, Replayed: true}, nil
	}

	return o.apply(ctx, trans, resp)
}

func (o *Orchestrator) apply(ctx context.Context, trans *models.Transaction, resp *provider.Response) (*Result, error) {
	status, known := resolveResponse(resp)
	if !known {
		o.logger.Warn("unrecognized provider status held as pending", "reference", trans.Reference, "status", resp.Status)
	}

	settled, err := o.settle(ctx, trans, status, resp)
	if err != nil {
		return nil, err
	}

	result := &Result{Transaction: settled, Response: resp}
	if settled.Status == models.TransactionStatusFailed && status == models.TransactionStatusFailed {
		cause := errDeclined
		if resp.Message != "" {
			cause = fmt.Errorf("%w: %s", errDeclined, resp.Message)
		}
		return result, &ProviderError{Reference: trans.Reference, Err: cause}
	}
	return result, nil
}

// settle moves trans to status. A failed status refunds the reserved
// amount in the same DB transaction as the status change, so a webhook
// settling the same transaction concurrently cannot cause a second refund.
//
// A provider reference already recorded on another transaction does not
// stop settlement: the status still moves, the reference is kept in
// metadata only and the clash is escalated for review.
func (o *Orchestrator) settle(ctx context.Context, trans *models.Transaction, status models.TransactionStatus, resp *provider.Response) (*models.Transaction, error) {
	settled, err := o.settleWith(ctx, trans, status, resp, resp.ProviderReference)
	if err == nil || resp.ProviderReference == "" || !errors.Is(err, repository.ErrDuplicate) {
		return settled, err
	}

	o.logger.Warn("provider reference already belongs to another transaction",
		"reference", trans.Reference, "provider_reference", resp.ProviderReference)
	o.escalate(trans, resp, fmt.Sprintf("provider reference %s is already recorded on another transaction", resp.ProviderReference))

	return o.settleWith(ctx, trans, status, resp, "")
}

func (o *Orchestrator) settleWith(ctx context.Context, trans *models.Transaction, status models.TransactionStatus, resp *provider.Response, ref string) (*models.Transaction, error) {
	metadata := models.Metadata{
		"provider_status":  resp.Status,
		"provider_message": resp.Message,
	}
	if len(resp.Data) > 0 {
		metadata["provider_data"] = resp.Data
	}
	switch {
	case ref != "":
		metadata["provider_ids"] = []string{ref}
	case resp.ProviderReference != "":
		metadata["provider_reference_conflict"] = resp.ProviderReference
	}

	switch status {
	case models.TransactionStatusPending:
		if err := o.db.Transaction().AttachProviderReference(ctx, trans.ID, ref, metadata); err != nil {
			return nil, fmt.Errorf("attach provider reference: %w", err)
		}
		o.metrics.SpendOutcome(string(trans.Category), string(status))
		return o.reload(ctx, trans)

	case models.TransactionStatusSuccess:
		moved, err := o.db.Transaction().UpdateStatus(ctx, trans.ID, status, repository.StatusUpdate{
			ProviderReference: ref,
			Metadata:          metadata,
		})
		if err != nil {
			return nil, fmt.Errorf("update transaction: %w", err)
		}
		settled, err := o.reload(ctx, trans)
		if err != nil {
			return nil, err
		}
		if moved {
			o.metrics.SpendOutcome(string(trans.Category), string(status))
			o.notify(notify.EventWalletDebited, settled, false)
		}
		return settled, nil
	}

	// failed
	var refunded bool
	err := o.db.RunInTx(ctx, func(tx repository.Database) error {
		field := trans.ReservedField()
		change, err := tx.Wallet().Increment(ctx, trans.WalletID, field, trans.Amount)
		if err != nil {
			return fmt.Errorf("refund wallet: %w", err)
		}

		moved, err := tx.Transaction().UpdateStatus(ctx, trans.ID, models.TransactionStatusFailed, repository.StatusUpdate{
			ProviderReference: ref,
			BalanceAfter:      &change.After,
			Metadata: metadata.Merge(models.Metadata{
				"refunded":              true,
				"refund_balance_before": change.Before,
			}),
		})
		if err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		if !moved {
			return errAlreadySettled
		}

		_, err = tx.Activity().Insert(ctx, &models.ActivityLog{
			UserID:      trans.OwnerID,
			Entity:      repository.ActivityLogTransactionEntity,
			EntityId:    trans.ID,
			Description: repository.ActivitySpendRefunded,
		})
		refunded = err == nil
		return err
	})
	if err != nil && !errors.Is(err, errAlreadySettled) {
		return nil, err
	}

	settled, err := o.reload(ctx, trans)
	if err != nil {
		return nil, err
	}
	if refunded {
		o.metrics.Refund("spend")
		o.metrics.SpendOutcome(string(trans.Category), string(status))
		o.notify(notify.EventTransactionFailed, settled, true)
		o.logger.Info("spend refunded", "reference", trans.Reference, "amount", trans.Amount)
	}
	return settled, nil
}

var errAlreadySettled = errors.New("transaction already settled")

func (o *Orchestrator) reload(ctx context.Context, trans *models.Transaction) (*models.Transaction, error) {
	current, found, err := o.db.Transaction().GetOne(ctx, trans.ID)
	if err != nil {
		return nil, fmt.Errorf("reload transaction: %w", err)
	}
	if !found {
		return nil, ErrTransactionNotFound
	}
	return current, nil
}

func (o *Orchestrator) replay(ctx context.Context, req Request) (*Result, bool, error) {
	existing, found, err := o.db.Transaction().GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	if existing.OwnerID != req.OwnerID || existing.Amount != req.Amount {
		return nil, false, fmt.Errorf("%w: idempotency key reused for a different request", ErrValidation)
	}

	o.logger.Info("spend replayed", "reference", existing.Reference, "idempotency_key", req.IdempotencyKey)
	return &Result{Transaction: existing, Replayed: true}, true, nil
}

func (o *Orchestrator) notify(eventType notify.EventType, trans *models.Transaction, refunded bool) {
	if o.notifier == nil {
		return
	}

	event := notify.EventFor(eventType, trans)
	event.Refunded = refunded

	o.helper.BackgroundTask("notify "+string(eventType), func() error {
		if err := o.notifier.Notify(context.Background(), event); err != nil {
			o.metrics.NotifyFailure()
			return err
		}
		return nil
	})
}

func (o *Orchestrator) escalate(trans *models.Transaction, resp *provider.Response, reason string) {
	if o.escalator == nil {
		return
	}

	review := notify.Review{
		Provider:          trans.Provider,
		Reason:            reason,
		EventType:         "spend." + string(trans.Category),
		Reference:         trans.Reference,
		ProviderReference: resp.ProviderReference,
		Amount:            trans.Amount,
	}

	o.helper.BackgroundTask("escalate spend", func() error {
		o.escalator.Escalate(context.Background(), review)
		return nil
	})
}

var responseStatuses = map[string]models.TransactionStatus{
	"success":    models.TransactionStatusSuccess,
	"successful": models.TransactionStatusSuccess,
	"completed":  models.TransactionStatusSuccess,
	"paid":       models.TransactionStatusSuccess,
	"pending":    models.TransactionStatusPending,
	"processing": models.TransactionStatusPending,
	"queued":     models.TransactionStatusPending,
	"new":        models.TransactionStatusPending,
	"otp":        models.TransactionStatusPending,
	"failed":     models.TransactionStatusFailed,
	"declined":   models.TransactionStatusFailed,
	"rejected":   models.TransactionStatusFailed,
	"cancelled":  models.TransactionStatusFailed,
	"abandoned":  models.TransactionStatusFailed,
	"reversed":   models.TransactionStatusFailed,
	"error":      models.TransactionStatusFailed,
}

// resolveResponse maps a normalized provider response to a ledger status.
// The Success flag beats the Pending flag, and both beat Status. An empty
// status with neither flag is a failure; an unrecognized one stays pending.
func resolveResponse(resp *provider.Response) (models.TransactionStatus, bool) {
	switch {
	case resp.Success:
		return models.TransactionStatusSuccess, true
	case resp.Pending:
		return models.TransactionStatusPending, true
	}

	raw := strings.ToLower(strings.TrimSpace(resp.Status))
	if raw == "" {
		return models.TransactionStatusFailed, true
	}
	if status, ok := responseStatuses[raw]; ok {
		return status, true
	}
	return models.TransactionStatusPending, false
}
