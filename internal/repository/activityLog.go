// Every reconciliation decision that does not move money (a suppressed
// duplicate, an escalated delivery, a refund) still leaves a row here.
// entity/entity_id is polymorphic so the same table serves transactions,
// wallets and raw webhook deliveries.
package repository

import (
	"context"

	"github.com/cradoe/walletrecon/internal/models"
	"github.com/jmoiron/sqlx"
)

type ActivityRepository interface {
	Insert(ctx context.Context, log *models.ActivityLog) (*models.ActivityLog, error)
}

const (
	// ActivityLogTransactionEntity is used for actions on the transactions table
	ActivityLogTransactionEntity = "transaction"

	// ActivityLogWalletEntity is used for actions on the wallets table
	ActivityLogWalletEntity = "wallet"

	// ActivityLogWebhookEntity is used for deliveries that never became a transaction.
	// entity_id holds "<provider>:<provider reference>".
	ActivityLogWebhookEntity = "webhook"
)

const (
	ActivityDuplicateSuppressed = "duplicate webhook suppressed"
	ActivityUnknownAccount      = "funding webhook for unknown or inactive account"
	ActivityUnknownTransaction  = "withdrawal webhook for unknown transaction"
	ActivityFundingCredited     = "wallet credited from funding webhook"
	ActivityFundingRecorded     = "funding webhook recorded without credit"
	ActivityWithdrawalSettled   = "withdrawal settled by provider"
	ActivityWithdrawalRefunded  = "withdrawal refunded after provider failure"
	ActivitySpendRefunded       = "spend refunded after provider failure"
)

type ActivityRepositoryImpl struct {
	q sqlx.ExtContext
}

func NewActivityRepository(q sqlx.ExtContext) ActivityRepository {
	return &ActivityRepositoryImpl{q: q}
}

func (repo *ActivityRepositoryImpl) Insert(ctx context.Context, log *models.ActivityLog) (*models.ActivityLog, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		INSERT INTO activity_logs (user_id, entity, entity_id, description)
		VALUES (NULLIF($1, '')::uuid, $2, $3, $4)
		RETURNING id, created_at`

	err := repo.q.QueryRowxContext(ctx, query,
		log.UserID,
		log.Entity,
		log.EntityId,
		log.Description,
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return nil, err
	}

	return log, nil
}
