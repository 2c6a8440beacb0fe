package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cradoe/walletrecon/assets"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq"
)

const defaultTimeout = 3 * time.Second

// Database exposes the repositories. Every repository obtained from the
// Database handed to a RunInTx callback writes inside that transaction.
type Database interface {
	Wallet() WalletRepository
	Transaction() TransactionRepository
	Deposit() DepositRepository
	VirtualAccount() VirtualAccountRepository
	Activity() ActivityRepository

	// RunInTx commits when fn returns nil and rolls back otherwise.
	// Calling it on a transaction-bound Database reuses the transaction.
	RunInTx(ctx context.Context, fn func(tx Database) error) error
	Ping(ctx context.Context) error
	Close() error
}

// DatabaseImpl implements the Database interface
type DatabaseImpl struct {
	db *sqlx.DB
	q  sqlx.ExtContext

	inTx bool

	walletRepo         WalletRepository
	transactionRepo    TransactionRepository
	depositRepo        DepositRepository
	virtualAccountRepo VirtualAccountRepository
	activityRepo       ActivityRepository

	mu sync.Mutex
}

// New initializes a database connection and runs migrations if enabled
func New(dsn string, automigrate bool) (Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", "postgres://"+dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(2 * time.Hour)

	if automigrate {
		iofsDriver, err := iofs.New(assets.EmbeddedFiles, "migrations")
		if err != nil {
			return nil, err
		}

		migrator, err := migrate.NewWithSourceInstance("iofs", iofsDriver, "postgres://"+dsn)
		if err != nil {
			return nil, err
		}

		if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, err
		}
	}

	return &DatabaseImpl{db: db, q: db}, nil
}

func (d *DatabaseImpl) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseImpl) Close() error {
	return d.db.Close()
}

func (d *DatabaseImpl) RunInTx(ctx context.Context, fn func(tx Database) error) (err error) {
	if d.inTx {
		return fn(d)
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&DatabaseImpl{db: d.db, q: tx, inTx: true}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (d *DatabaseImpl) Wallet() WalletRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.walletRepo == nil {
		d.walletRepo = NewWalletRepository(d.q)
	}
	return d.walletRepo
}

func (d *DatabaseImpl) Transaction() TransactionRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transactionRepo == nil {
		d.transactionRepo = NewTransactionRepository(d.q)
	}
	return d.transactionRepo
}

func (d *DatabaseImpl) Deposit() DepositRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.depositRepo == nil {
		d.depositRepo = NewDepositRepository(d.q)
	}
	return d.depositRepo
}

func (d *DatabaseImpl) VirtualAccount() VirtualAccountRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.virtualAccountRepo == nil {
		d.virtualAccountRepo = NewVirtualAccountRepository(d.q)
	}
	return d.virtualAccountRepo
}

func (d *DatabaseImpl) Activity() ActivityRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.activityRepo == nil {
		d.activityRepo = NewActivityRepository(d.q)
	}
	return d.activityRepo
}
