package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cradoe/walletrecon/internal/models"
	"github.com/jmoiron/sqlx"
)

type VirtualAccountRepository interface {
	Insert(ctx context.Context, account *models.VirtualAccount) (string, error)
	// FindActive looks up the active account a provider credits into.
	FindActive(ctx context.Context, accountNumber string, provider models.Provider) (*models.VirtualAccount, bool, error)
	Deactivate(ctx context.Context, id string) error
}

type VirtualAccountRepositoryImpl struct {
	q sqlx.ExtContext
}

func NewVirtualAccountRepository(q sqlx.ExtContext) VirtualAccountRepository {
	return &VirtualAccountRepositoryImpl{q: q}
}

func (repo *VirtualAccountRepositoryImpl) Insert(ctx context.Context, account *models.VirtualAccount) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		INSERT INTO virtual_accounts (owner_id, wallet_id, account_number, provider, bank_name, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := repo.q.QueryRowxContext(ctx, query,
		account.OwnerID,
		account.WalletID,
		account.AccountNumber,
		account.Provider,
		account.BankName,
		account.IsActive,
	).Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicate
		}
		return "", err
	}

	return account.ID, nil
}

func (repo *VirtualAccountRepositoryImpl) FindActive(ctx context.Context, accountNumber string, provider models.Provider) (*models.VirtualAccount, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var account models.VirtualAccount

	query := `
		SELECT id, owner_id, wallet_id, account_number, provider, bank_name, is_active, created_at
		FROM virtual_accounts
		WHERE account_number = $1 AND provider = $2 AND is_active`

	err := sqlx.GetContext(ctx, repo.q, &account, query, accountNumber, provider)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &account, true, nil
}

func (repo *VirtualAccountRepositoryImpl) Deactivate(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `UPDATE virtual_accounts SET is_active = FALSE WHERE id = $1`

	_, err := repo.q.ExecContext(ctx, query, id)
	return err
}
