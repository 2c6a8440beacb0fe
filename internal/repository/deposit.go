package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cradoe/walletrecon/internal/models"
	"github.com/jmoiron/sqlx"
)

type DepositRepository interface {
	Insert(ctx context.Context, deposit *models.Deposit) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Deposit, bool, error)
	UpdateStatus(ctx context.Context, transactionID string, status models.TransactionStatus) error
}

type DepositRepositoryImpl struct {
	q sqlx.ExtContext
}

func NewDepositRepository(q sqlx.ExtContext) DepositRepository {
	return &DepositRepositoryImpl{q: q}
}

func (repo *DepositRepositoryImpl) Insert(ctx context.Context, deposit *models.Deposit) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		INSERT INTO deposits (id, owner_id, wallet_id, transaction_id, reference, provider, amount, net_amount, fees, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`

	err := repo.q.QueryRowxContext(ctx, query,
		deposit.ID,
		deposit.OwnerID,
		deposit.WalletID,
		deposit.TransactionID,
		deposit.Reference,
		deposit.Provider,
		deposit.Amount,
		deposit.NetAmount,
		deposit.Fees,
		deposit.Status,
		deposit.Metadata,
	).Scan(&deposit.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}

	return nil
}

func (repo *DepositRepositoryImpl) GetByTransactionID(ctx context.Context, transactionID string) (*models.Deposit, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var deposit models.Deposit

	query := `
		SELECT id, owner_id, wallet_id, transaction_id, reference, provider, amount, net_amount, fees, status, metadata, created_at
		FROM deposits WHERE transaction_id = $1`

	err := sqlx.GetContext(ctx, repo.q, &deposit, query, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &deposit, true, nil
}

func (repo *DepositRepositoryImpl) UpdateStatus(ctx context.Context, transactionID string, status models.TransactionStatus) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `UPDATE deposits SET status = $1 WHERE transaction_id = $2`

	_, err := repo.q.ExecContext(ctx, query, status, transactionID)
	return err
}
