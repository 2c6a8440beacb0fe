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
	"github.com/google/uuid"
)

// applyFunding records a first-seen inbound payment and credits the wallet
// when the provider reports it as settled.
func (s *Service) applyFunding(ctx context.Context, result *models.WebhookProcessResult) (string, error) {
	account, found, err := s.db.VirtualAccount().FindActive(ctx, result.AccountNumber, s.provider)
	if err != nil {
		return metrics.OutcomeError, fmt.Errorf("virtual account lookup: %w", err)
	}
	if !found {
		s.logActivity(ctx, s.db, "", repository.ActivityLogWebhookEntity, webhookEntityID(s.provider, result),
			fmt.Sprintf("%s: %s", repository.ActivityUnknownAccount, result.AccountNumber))
		s.escalate(result, "no active virtual account for "+result.AccountNumber)
		return metrics.OutcomeUnknownAccount, fmt.Errorf("%w: %s/%s", ErrAccountNotFound, s.provider, result.AccountNumber)
	}

	net := result.NetAmount
	if net <= 0 {
		return metrics.OutcomeInvalidPayload, fmt.Errorf("%w: non-positive credit %d", ErrValidation, net)
	}

	lookupIDs := result.LookupIDs()
	if len(lookupIDs) == 0 {
		return metrics.OutcomeInvalidPayload, fmt.Errorf("%w: funding event carries no provider id", ErrValidation)
	}
	depositID := uuid.NewString()

	trans := &models.Transaction{
		ID:                uuid.NewString(),
		Reference:         models.NewReference(models.CategoryFunding),
		ProviderReference: sql.NullString{String: result.ProviderReference, Valid: result.ProviderReference != ""},
		IdempotencyKey:    fmt.Sprintf("%s:%s", s.provider, lookupIDs[0]),
		WalletID:          account.WalletID,
		OwnerID:           account.OwnerID,
		LinkedRecord: models.LinkedRecord{
			Kind: models.LinkedRecordDeposit,
			ID:   sql.NullString{String: depositID, Valid: true},
		},
		Amount:        net,
		Direction:     models.DirectionCredit,
		Category:      models.CategoryFunding,
		Provider:      s.provider,
		Status:        result.Status,
		Initiator:     string(s.provider),
		InitiatorKind: models.InitiatorSystem,
		Narration:     fmt.Sprintf("Wallet funding via %s", s.provider),
		Metadata: result.Metadata.Merge(models.Metadata{
			"provider_ids":   lookupIDs,
			"account_number": result.AccountNumber,
			"needs_review":   result.NeedsReview,
		}),
	}

	deposit := &models.Deposit{
		ID:            depositID,
		OwnerID:       account.OwnerID,
		WalletID:      account.WalletID,
		TransactionID: trans.ID,
		Reference:     trans.Reference,
		Provider:      s.provider,
		Amount:        result.Amount,
		NetAmount:     net,
		Fees:          result.Fees + result.Taxes,
		Status:        result.Status,
		Metadata:      result.Metadata,
	}

	credit := result.Status == models.TransactionStatusSuccess

	err = s.db.RunInTx(ctx, func(tx repository.Database) error {
		if credit {
			change, err := tx.Wallet().Increment(ctx, account.WalletID, models.BalanceFieldMain, net)
			if err != nil {
				return fmt.Errorf("credit wallet: %w", err)
			}
			trans.BalanceBefore = sql.NullInt64{Int64: change.Before, Valid: true}
			trans.BalanceAfter = sql.NullInt64{Int64: change.After, Valid: true}
		}

		if err := tx.Transaction().Insert(ctx, trans); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		if err := tx.Deposit().Insert(ctx, deposit); err != nil {
			return fmt.Errorf("insert deposit: %w", err)
		}

		description := repository.ActivityFundingRecorded
		if credit {
			description = repository.ActivityFundingCredited
		}
		_, err := tx.Activity().Insert(ctx, &models.ActivityLog{
			UserID:      account.OwnerID,
			Entity:      repository.ActivityLogTransactionEntity,
			EntityId:    trans.ID,
			Description: description,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return s.afterLostInsert(ctx, result)
		}
		return metrics.OutcomeError, err
	}

	if !credit {
		return metrics.OutcomeRecorded, nil
	}

	s.notify(notify.EventWalletCredited, trans, false)
	return metrics.OutcomeApplied, nil
}

// afterLostInsert handles a concurrent delivery for the same payment
// committing first. If that one carried an earlier status, this delivery
// still promotes it.
func (s *Service) afterLostInsert(ctx context.Context, result *models.WebhookProcessResult) (string, error) {
	existing, found, err := s.db.Transaction().FindByProviderIDs(ctx, s.provider, result.LookupIDs())
	if err != nil {
		return metrics.OutcomeError, fmt.Errorf("idempotency lookup: %w", err)
	}
	if !found || s.alreadyApplied(existing, result) {
		return metrics.OutcomeDuplicate, ErrDuplicateEvent
	}
	return s.promoteFunding(ctx, existing, result)
}

// promoteFunding moves a funding transaction recorded earlier as pending
// to the status reported now, crediting the wallet if it became success.
// The credit is the amount recorded originally.
func (s *Service) promoteFunding(ctx context.Context, existing *models.Transaction, result *models.WebhookProcessResult) (string, error) {
	if net := result.NetAmount; net != 0 && net != existing.Amount {
		s.logger.Warn("funding amount changed between deliveries",
			"reference", existing.Reference, "recorded", existing.Amount, "reported", net)
		s.escalate(result, fmt.Sprintf("amount %d differs from recorded %d on %s", net, existing.Amount, existing.Reference))
	}

	credit := result.Status == models.TransactionStatusSuccess
	trans := *existing

	err := s.db.RunInTx(ctx, func(tx repository.Database) error {
		upd := repository.StatusUpdate{
			Metadata: result.Metadata.Merge(models.Metadata{
				"provider_ids": providerIDs(existing.Metadata, result.LookupIDs()),
				"promoted":     true,
				"needs_review": result.NeedsReview,
			}),
		}

		if credit {
			change, err := tx.Wallet().Increment(ctx, existing.WalletID, models.BalanceFieldMain, existing.Amount)
			if err != nil {
				return fmt.Errorf("credit wallet: %w", err)
			}
			upd.BalanceBefore, upd.BalanceAfter = &change.Before, &change.After
			trans.BalanceBefore = sql.NullInt64{Int64: change.Before, Valid: true}
			trans.BalanceAfter = sql.NullInt64{Int64: change.After, Valid: true}
		}

		moved, err := tx.Transaction().UpdateStatus(ctx, existing.ID, result.Status, upd)
		if err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		if !moved {
			return errStale
		}

		if err := tx.Deposit().UpdateStatus(ctx, existing.ID, result.Status); err != nil {
			return fmt.Errorf("update deposit: %w", err)
		}

		description := repository.ActivityFundingRecorded
		if credit {
			description = repository.ActivityFundingCredited
		}
		_, err = tx.Activity().Insert(ctx, &models.ActivityLog{
			UserID:      existing.OwnerID,
			Entity:      repository.ActivityLogTransactionEntity,
			EntityId:    existing.ID,
			Description: description + " (promoted from " + string(existing.Status) + ")",
		})
		return err
	})
	if err != nil {
		if errors.Is(err, errStale) || errors.Is(err, repository.ErrDuplicate) {
			return metrics.OutcomeDuplicate, ErrDuplicateEvent
		}
		return metrics.OutcomeError, err
	}

	if !credit {
		return metrics.OutcomeRecorded, nil
	}

	trans.Status = result.Status
	s.notify(notify.EventWalletCredited, &trans, false)
	return metrics.OutcomeApplied, nil
}
