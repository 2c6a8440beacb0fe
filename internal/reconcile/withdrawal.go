package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cradoe/walletrecon/internal/metrics"
	"github.com/cradoe/walletrecon/internal/models"
	"github.com/cradoe/walletrecon/internal/notify"
	"github.com/cradoe/walletrecon/internal/repository"
)

// completeWithdrawal settles an outbound transaction the orchestrator
// created and debited earlier. hint is the transaction already matched by
// provider id, if any.
func (s *Service) completeWithdrawal(ctx context.Context, hint *models.Transaction, result *models.WebhookProcessResult) (string, error) {
	trans, err := s.findOutbound(ctx, hint, result)
	if err != nil {
		return metrics.OutcomeError, err
	}
	if trans == nil {
		s.logActivity(ctx, s.db, "", repository.ActivityLogWebhookEntity, webhookEntityID(s.provider, result),
			fmt.Sprintf("%s: %s", repository.ActivityUnknownTransaction, result.Reference))
		s.escalate(result, "no outbound transaction for reference "+result.Reference)
		return metrics.OutcomeUnknownTransaction, fmt.Errorf("%w: %s", ErrTransactionNotFound, result.Reference)
	}

	if trans.Status.IsTerminal() {
		s.recordDuplicate(ctx, trans, result)
		return metrics.OutcomeDuplicate, ErrDuplicateEvent
	}

	if result.Amount != 0 && result.Amount != trans.Amount {
		s.logger.Warn("withdrawal amount differs from ledger",
			"reference", trans.Reference, "recorded", trans.Amount, "reported", result.Amount)
	}

	metadata := result.Metadata.Merge(models.Metadata{
		"provider_ids": providerIDs(trans.Metadata, result.LookupIDs()),
		"needs_review": result.NeedsReview,
	})

	switch result.Status {
	case models.TransactionStatusSuccess:
		return s.settleWithdrawal(ctx, trans, result, metadata)
	case models.TransactionStatusFailed, models.TransactionStatusReversed:
		return s.refundWithdrawal(ctx, trans, result, metadata)
	case models.TransactionStatusPending, models.TransactionStatusProcessing:
		return s.trackWithdrawal(ctx, trans, result, metadata)
	}

	s.logger.Warn("withdrawal status not handled", "status", result.Status, "reference", trans.Reference)
	return metrics.OutcomeIgnored, nil
}

func (s *Service) findOutbound(ctx context.Context, hint *models.Transaction, result *models.WebhookProcessResult) (*models.Transaction, error) {
	trans := hint
	if result.Reference != "" && (trans == nil || trans.Reference != result.Reference) {
		found, ok, err := s.db.Transaction().GetByReference(ctx, result.Reference)
		if err != nil {
			return nil, fmt.Errorf("transaction lookup: %w", err)
		}
		trans = nil
		if ok {
			trans = found
		}
	}

	if trans == nil {
		return nil, nil
	}
	if trans.Direction != models.DirectionDebit || trans.Provider != s.provider {
		s.logger.Warn("withdrawal webhook matched a transaction it cannot settle",
			"reference", trans.Reference, "direction", trans.Direction, "transaction_provider", trans.Provider)
		return nil, nil
	}
	return trans, nil
}

// settleWithdrawal confirms a debit that already happened. No money moves.
func (s *Service) settleWithdrawal(ctx context.Context, trans *models.Transaction, result *models.WebhookProcessResult, metadata models.Metadata) (string, error) {
	err := s.db.RunInTx(ctx, func(tx repository.Database) error {
		moved, err := tx.Transaction().UpdateStatus(ctx, trans.ID, models.TransactionStatusSuccess, repository.StatusUpdate{
			ProviderReference: result.ProviderReference,
			Metadata:          metadata,
		})
		if err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		if !moved {
			return errStale
		}

		_, err = tx.Activity().Insert(ctx, &models.ActivityLog{
			UserID:      trans.OwnerID,
			Entity:      repository.ActivityLogTransactionEntity,
			EntityId:    trans.ID,
			Description: repository.ActivityWithdrawalSettled,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, errStale) || errors.Is(err, repository.ErrDuplicate) {
			return metrics.OutcomeDuplicate, ErrDuplicateEvent
		}
		return metrics.OutcomeError, err
	}

	settled := *trans
	settled.Status = models.TransactionStatusSuccess
	s.notify(notify.EventWalletDebited, &settled, false)
	return metrics.OutcomeApplied, nil
}

// refundWithdrawal marks the transaction failed or reversed and puts the
// debited amount back in the same DB transaction.
func (s *Service) refundWithdrawal(ctx context.Context, trans *models.Transaction, result *models.WebhookProcessResult, metadata models.Metadata) (string, error) {
	refunded := *trans
	refunded.Status = result.Status

	err := s.db.RunInTx(ctx, func(tx repository.Database) error {
		change, err := tx.Wallet().Increment(ctx, trans.WalletID, trans.ReservedField(), trans.Amount)
		if err != nil {
			return fmt.Errorf("refund wallet: %w", err)
		}

		moved, err := tx.Transaction().UpdateStatus(ctx, trans.ID, result.Status, repository.StatusUpdate{
			ProviderReference: result.ProviderReference,
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
			return errStale
		}

		refunded.BalanceAfter = sql.NullInt64{Int64: change.After, Valid: true}

		_, err = tx.Activity().Insert(ctx, &models.ActivityLog{
			UserID:      trans.OwnerID,
			Entity:      repository.ActivityLogTransactionEntity,
			EntityId:    trans.ID,
			Description: repository.ActivityWithdrawalRefunded,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, errStale) || errors.Is(err, repository.ErrDuplicate) {
			return metrics.OutcomeDuplicate, ErrDuplicateEvent
		}
		return metrics.OutcomeError, err
	}

	s.metrics.Refund("withdrawal")
	s.notify(notify.EventTransactionFailed, &refunded, true)
	return metrics.OutcomeApplied, nil
}

// trackWithdrawal records provider ids for a transfer still in flight.
func (s *Service) trackWithdrawal(ctx context.Context, trans *models.Transaction, result *models.WebhookProcessResult, metadata models.Metadata) (string, error) {
	if result.Status == models.TransactionStatusProcessing && trans.Status.CanMoveTo(models.TransactionStatusProcessing) {
		moved, err := s.db.Transaction().UpdateStatus(ctx, trans.ID, models.TransactionStatusProcessing, repository.StatusUpdate{
			ProviderReference: result.ProviderReference,
			Metadata:          metadata,
		})
		if err != nil && !errors.Is(err, repository.ErrDuplicate) {
			return metrics.OutcomeError, fmt.Errorf("update transaction: %w", err)
		}
		if moved {
			return metrics.OutcomeRecorded, nil
		}
	}

	err := s.db.Transaction().AttachProviderReference(ctx, trans.ID, result.ProviderReference, metadata)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return metrics.OutcomeDuplicate, ErrDuplicateEvent
		}
		return metrics.OutcomeError, fmt.Errorf("attach provider reference: %w", err)
	}
	return metrics.OutcomeRecorded, nil
}
