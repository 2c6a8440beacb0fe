package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cradoe/walletrecon/internal/models"
	"github.com/jmoiron/sqlx"
)

type WalletRepository interface {
	Insert(ctx context.Context, wallet *models.Wallet) (string, error)
	GetOne(ctx context.Context, id string) (*models.Wallet, bool, error)
	GetByOwner(ctx context.Context, ownerID string) (*models.Wallet, bool, error)
	// Increment atomically adds amount to field and reports the balance
	// before and after the write.
	Increment(ctx context.Context, walletID string, field models.BalanceField, amount int64) (*models.BalanceChange, error)
	// Decrement atomically subtracts amount from field. It never lets the
	// field go negative and refuses locked wallets.
	Decrement(ctx context.Context, walletID string, field models.BalanceField, amount int64) (*models.BalanceChange, error)
	Lock(ctx context.Context, id string) error
	Unlock(ctx context.Context, id string) error
}

type WalletRepositoryImpl struct {
	q sqlx.ExtContext
}

func NewWalletRepository(q sqlx.ExtContext) WalletRepository {
	return &WalletRepositoryImpl{q: q}
}

const walletColumns = `id, owner_id, notification_email, balance, bonus_balance, commission_balance, currency, locked_at, created_at, updated_at`

func (repo *WalletRepositoryImpl) Insert(ctx context.Context, wallet *models.Wallet) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if wallet.Currency == "" {
		wallet.Currency = models.DefaultCurrency
	}

	query := `
		INSERT INTO wallets (owner_id, notification_email, balance, bonus_balance, commission_balance, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := repo.q.QueryRowxContext(ctx, query,
		wallet.OwnerID,
		wallet.NotificationEmail,
		wallet.Balance,
		wallet.BonusBalance,
		wallet.CommissionBalance,
		wallet.Currency,
	).Scan(&wallet.ID, &wallet.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicate
		}
		return "", err
	}

	return wallet.ID, nil
}

func (repo *WalletRepositoryImpl) GetOne(ctx context.Context, id string) (*models.Wallet, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var wallet models.Wallet

	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id=$1`

	err := sqlx.GetContext(ctx, repo.q, &wallet, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &wallet, true, nil
}

func (repo *WalletRepositoryImpl) GetByOwner(ctx context.Context, ownerID string) (*models.Wallet, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var wallet models.Wallet

	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id=$1`

	err := sqlx.GetContext(ctx, repo.q, &wallet, query, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &wallet, true, nil
}

func (repo *WalletRepositoryImpl) Increment(ctx context.Context, walletID string, field models.BalanceField, amount int64) (*models.BalanceChange, error) {
	if !field.Valid() {
		return nil, ErrInvalidField
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	// field is from a closed set, see models.BalanceField.Valid
	query := fmt.Sprintf(`
		UPDATE wallets SET %[1]s = %[1]s + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING %[1]s`, field)

	var after int64
	err := repo.q.QueryRowxContext(ctx, query, amount, walletID).Scan(&after)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &models.BalanceChange{
		WalletID: walletID,
		Field:    field,
		Before:   after - amount,
		After:    after,
	}, nil
}

func (repo *WalletRepositoryImpl) Decrement(ctx context.Context, walletID string, field models.BalanceField, amount int64) (*models.BalanceChange, error) {
	if !field.Valid() {
		return nil, ErrInvalidField
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE wallets SET %[1]s = %[1]s - $1, updated_at = NOW()
		WHERE id = $2 AND locked_at IS NULL AND %[1]s >= $1
		RETURNING %[1]s`, field)

	var after int64
	err := repo.q.QueryRowxContext(ctx, query, amount, walletID).Scan(&after)
	if err == nil {
		return &models.BalanceChange{
			WalletID: walletID,
			Field:    field,
			Before:   after + amount,
			After:    after,
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// nothing was written, find out why
	wallet, found, err := repo.GetOne(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	if wallet.IsLocked() {
		return nil, ErrWalletLocked
	}
	return nil, ErrInsufficientFunds
}

func (repo *WalletRepositoryImpl) Lock(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `UPDATE wallets SET locked_at = NOW(), updated_at = NOW() WHERE id = $1 AND locked_at IS NULL`

	_, err := repo.q.ExecContext(ctx, query, id)
	return err
}

func (repo *WalletRepositoryImpl) Unlock(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `UPDATE wallets SET locked_at = NULL, updated_at = NOW() WHERE id = $1`

	_, err := repo.q.ExecContext(ctx, query, id)
	return err
}
