package seeders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cradoe/walletrecon/internal/models"
	"github.com/cradoe/walletrecon/internal/repository"
)

const defaultTimeout = 5 * time.Second

type Seeder struct {
	DB     repository.Database
	Logger *slog.Logger
}

func New(DB repository.Database, logger *slog.Logger) *Seeder {
	return &Seeder{
		DB:     DB,
		Logger: logger,
	}
}

// devWallet is a development wallet with one virtual account per provider.
type devWallet struct {
	OwnerID  string
	Email    string
	Balance  int64
	Accounts map[models.Provider]string
}

var devWallets = []devWallet{
	{
		OwnerID: "7b0c1f0e-3c55-4f2a-9d1e-0a5f6d2c8e11",
		Email:   "ada@example.org",
		Balance: 1_000_000,
		Accounts: map[models.Provider]string{
			models.ProviderPaystack:    "9930000001",
			models.ProviderFlutterwave: "7820000001",
			models.ProviderMonnify:     "5000000001",
		},
	},
	{
		OwnerID: "c5d2a8b4-6e1f-4b7a-8c3d-2f9e0b1a4d22",
		Email:   "tunde@example.org",
		Balance: 0,
		Accounts: map[models.Provider]string{
			models.ProviderPaystack: "9930000002",
			models.ProviderMonnify:  "5000000002",
		},
	},
}

var bankNames = map[models.Provider]string{
	models.ProviderPaystack:    "Wema Bank",
	models.ProviderFlutterwave: "Sterling Bank",
	models.ProviderMonnify:     "Moniepoint MFB",
}

// Run creates the development wallets that do not exist yet. It is safe to
// run on every start.
func (seeder *Seeder) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return seeder.DB.RunInTx(ctx, func(tx repository.Database) error {
		for _, dw := range devWallets {
			if err := seeder.seedWallet(ctx, tx, dw); err != nil {
				return fmt.Errorf("seed wallet for %s: %w", dw.OwnerID, err)
			}
		}
		return nil
	})
}

func (seeder *Seeder) seedWallet(ctx context.Context, tx repository.Database, dw devWallet) error {
	wallet, found, err := tx.Wallet().GetByOwner(ctx, dw.OwnerID)
	if err != nil {
		return err
	}

	if !found {
		wallet = &models.Wallet{
			OwnerID:           dw.OwnerID,
			NotificationEmail: sql.NullString{String: dw.Email, Valid: dw.Email != ""},
			Balance:           dw.Balance,
			Currency:          models.DefaultCurrency,
		}
		if _, err := tx.Wallet().Insert(ctx, wallet); err != nil {
			return err
		}
		seeder.Logger.Info("seeded wallet", "owner_id", dw.OwnerID, "balance", dw.Balance)
	}

	for provider, number := range dw.Accounts {
		_, exists, err := tx.VirtualAccount().FindActive(ctx, number, provider)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		_, err = tx.VirtualAccount().Insert(ctx, &models.VirtualAccount{
			OwnerID:       dw.OwnerID,
			WalletID:      wallet.ID,
			AccountNumber: number,
			Provider:      provider,
			BankName:      bankNames[provider],
			IsActive:      true,
		})
		if err != nil && !errors.Is(err, repository.ErrDuplicate) {
			return err
		}
	}

	return nil
}
