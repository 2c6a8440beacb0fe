package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cradoe/walletrecon/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// StatusUpdate carries the optional fields written alongside a status move.
type StatusUpdate struct {
	ProviderReference string
	BalanceBefore     *int64
	BalanceAfter      *int64
	Metadata          models.Metadata
}

type TransactionRepository interface {
	Insert(ctx context.Context, trans *models.Transaction) error
	GetOne(ctx context.Context, id string) (*models.Transaction, bool, error)
	GetByReference(ctx context.Context, reference string) (*models.Transaction, bool, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, bool, error)
	// FindByProviderIDs returns the transaction of provider whose
	// provider_reference, or any id recorded under metadata.provider_ids,
	// matches one of ids.
	FindByProviderIDs(ctx context.Context, provider models.Provider, ids []string) (*models.Transaction, bool, error)
	// UpdateStatus moves the transaction to status only when its current
	// status is a legal predecessor. It reports whether a row changed.
	UpdateStatus(ctx context.Context, id string, status models.TransactionStatus, upd StatusUpdate) (bool, error)
	// AttachProviderReference records provider ids without touching status.
	AttachProviderReference(ctx context.Context, id string, providerReference string, metadata models.Metadata) error
	// ListByOwner returns the owner's transactions, newest first.
	ListByOwner(ctx context.Context, ownerID string, filter ListFilter) ([]models.Transaction, error)
}

// ListFilter narrows a transaction listing. Zero values are ignored.
type ListFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

type TransactionRepositoryImpl struct {
	q sqlx.ExtContext
}

func NewTransactionRepository(q sqlx.ExtContext) TransactionRepository {
	return &TransactionRepositoryImpl{q: q}
}

const transactionColumns = `
	id, reference, provider_reference, idempotency_key, wallet_id, owner_id,
	linked_record_kind, linked_record_id, amount, direction, category, provider, status,
	balance_before, balance_after, initiator, initiator_kind, narration, metadata,
	created_at, updated_at`

func (repo *TransactionRepositoryImpl) Insert(ctx context.Context, trans *models.Transaction) error {
	if err := trans.LinkedRecord.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		INSERT INTO transactions (
			id, reference, provider_reference, idempotency_key, wallet_id, owner_id,
			linked_record_kind, linked_record_id, amount, direction, category, provider, status,
			balance_before, balance_after, initiator, initiator_kind, narration, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING created_at`

	err := repo.q.QueryRowxContext(ctx, query,
		trans.ID,
		trans.Reference,
		trans.ProviderReference,
		trans.IdempotencyKey,
		trans.WalletID,
		trans.OwnerID,
		trans.LinkedRecord.Kind,
		trans.LinkedRecord.ID,
		trans.Amount,
		trans.Direction,
		trans.Category,
		trans.Provider,
		trans.Status,
		trans.BalanceBefore,
		trans.BalanceAfter,
		trans.Initiator,
		trans.InitiatorKind,
		trans.Narration,
		trans.Metadata,
	).Scan(&trans.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}

	return nil
}

func (repo *TransactionRepositoryImpl) getBy(ctx context.Context, where string, args ...any) (*models.Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var trans models.Transaction

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + where + ` LIMIT 1`

	err := sqlx.GetContext(ctx, repo.q, &trans, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &trans, true, nil
}

func (repo *TransactionRepositoryImpl) GetOne(ctx context.Context, id string) (*models.Transaction, bool, error) {
	return repo.getBy(ctx, `id = $1`, id)
}

func (repo *TransactionRepositoryImpl) GetByReference(ctx context.Context, reference string) (*models.Transaction, bool, error) {
	return repo.getBy(ctx, `reference = $1`, reference)
}

func (repo *TransactionRepositoryImpl) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, bool, error) {
	return repo.getBy(ctx, `idempotency_key = $1`, key)
}

func (repo *TransactionRepositoryImpl) FindByProviderIDs(ctx context.Context, provider models.Provider, ids []string) (*models.Transaction, bool, error) {
	if len(ids) == 0 {
		return nil, false, nil
	}

	return repo.getBy(ctx,
		`provider = $1 AND (provider_reference = ANY($2) OR metadata->'provider_ids' ?| $2)
		ORDER BY created_at`,
		provider, pq.Array(ids),
	)
}

func (repo *TransactionRepositoryImpl) UpdateStatus(ctx context.Context, id string, status models.TransactionStatus, upd StatusUpdate) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	predecessors := make([]string, 0, 3)
	for _, s := range status.Predecessors() {
		predecessors = append(predecessors, string(s))
	}
	if len(predecessors) == 0 {
		return false, nil
	}

	query := `
		UPDATE transactions SET
			status = $1,
			provider_reference = COALESCE(NULLIF($2, ''), provider_reference),
			balance_before = COALESCE($3, balance_before),
			balance_after = COALESCE($4, balance_after),
			metadata = metadata || $5::jsonb,
			updated_at = NOW()
		WHERE id = $6 AND status = ANY($7)`

	res, err := repo.q.ExecContext(ctx, query,
		status,
		upd.ProviderReference,
		upd.BalanceBefore,
		upd.BalanceAfter,
		upd.Metadata,
		id,
		pq.Array(predecessors),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrDuplicate
		}
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (repo *TransactionRepositoryImpl) AttachProviderReference(ctx context.Context, id string, providerReference string, metadata models.Metadata) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE transactions SET
			provider_reference = COALESCE(provider_reference, NULLIF($1, '')),
			metadata = metadata || $2::jsonb,
			updated_at = NOW()
		WHERE id = $3`

	_, err := repo.q.ExecContext(ctx, query, providerReference, metadata, id)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (repo *TransactionRepositoryImpl) ListByOwner(ctx context.Context, ownerID string, filter ListFilter) ([]models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	where := `owner_id = $1`
	args := []any{ownerID}

	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		where += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if filter.EndDate != nil {
		// end date is inclusive of the whole day
		args = append(args, filter.EndDate.AddDate(0, 0, 1))
		where += fmt.Sprintf(` AND created_at < $%d`, len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, len(args)-1, len(args))

	transactions := []models.Transaction{}
	if err := sqlx.SelectContext(ctx, repo.q, &transactions, query, args...); err != nil {
		return nil, err
	}

	return transactions, nil
}
