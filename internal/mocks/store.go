package mocks

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cradoe/walletrecon/internal/models"
	"github.com/cradoe/walletrecon/internal/repository"
	"github.com/google/uuid"
)

// Store is an in-memory repository.Database. It enforces the same unique
// keys and balance rules as the Postgres schema. RunInTx holds an
// exclusive lock for the whole callback and restores a snapshot when the
// callback fails, so concurrent callers observe serializable behaviour.
type Store struct {
	*state
	inTx bool
}

type state struct {
	mu sync.Mutex

	wallets         map[string]models.Wallet
	transactions    map[string]models.Transaction
	deposits        map[string]models.Deposit
	virtualAccounts map[string]models.VirtualAccount
	activities      []models.ActivityLog

	failures map[string]error
	commits  int
}

func NewStore() *Store {
	return &Store{state: &state{
		wallets:         map[string]models.Wallet{},
		transactions:    map[string]models.Transaction{},
		deposits:        map[string]models.Deposit{},
		virtualAccounts: map[string]models.VirtualAccount{},
		failures:        map[string]error{},
	}}
}

type snapshot struct {
	wallets         map[string]models.Wallet
	transactions    map[string]models.Transaction
	deposits        map[string]models.Deposit
	virtualAccounts map[string]models.VirtualAccount
	activities      []models.ActivityLog
}

func (s *state) snapshot() snapshot {
	return snapshot{
		wallets:         maps.Clone(s.wallets),
		transactions:    maps.Clone(s.transactions),
		deposits:        maps.Clone(s.deposits),
		virtualAccounts: maps.Clone(s.virtualAccounts),
		activities:      slices.Clone(s.activities),
	}
}

func (s *state) restore(snap snapshot) {
	s.wallets = snap.wallets
	s.transactions = snap.transactions
	s.deposits = snap.deposits
	s.virtualAccounts = snap.virtualAccounts
	s.activities = snap.activities
}

// FailOn makes the named operation, e.g. "Deposit.Insert", return err
// until ClearFailures is called.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]error{}
}

// lock serializes access outside a transaction. Inside RunInTx the mutex
// is already held.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) fail(op string) error {
	return s.failures[op]
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx repository.Database) error) (err error) {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	if err = fn(&Store{state: s.state, inTx: true}); err != nil {
		return err
	}
	if err = s.fail("Commit"); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.commits++
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(ctx context.Context) error {
	unlock := s.lock()
	defer unlock()
	return s.fail("Ping")
}

func (s *Store) Wallet() repository.WalletRepository                 { return walletRepo{s} }
func (s *Store) Transaction() repository.TransactionRepository       { return transactionRepo{s} }
func (s *Store) Deposit() repository.DepositRepository               { return depositRepo{s} }
func (s *Store) VirtualAccount() repository.VirtualAccountRepository { return virtualAccountRepo{s} }
func (s *Store) Activity() repository.ActivityRepository             { return activityRepo{s} }

// Seeding and inspection helpers for tests.

// SeedWallet creates an unlocked wallet with the given main balance.
func (s *Store) SeedWallet(ownerID string, balance int64) *models.Wallet {
	unlock := s.lock()
	defer unlock()

	w := models.Wallet{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Balance:   balance,
		Currency:  models.DefaultCurrency,
		CreatedAt: time.Now(),
	}
	s.wallets[w.ID] = w
	return &w
}

func (s *Store) SetNotificationEmail(walletID, email string) {
	unlock := s.lock()
	defer unlock()

	w := s.wallets[walletID]
	w.NotificationEmail = sql.NullString{String: email, Valid: email != ""}
	s.wallets[walletID] = w
}

func (s *Store) SeedVirtualAccount(wallet *models.Wallet, accountNumber string, provider models.Provider, active bool) *models.VirtualAccount {
	unlock := s.lock()
	defer unlock()

	va := models.VirtualAccount{
		ID:            uuid.NewString(),
		OwnerID:       wallet.OwnerID,
		WalletID:      wallet.ID,
		AccountNumber: accountNumber,
		Provider:      provider,
		BankName:      "Test Bank",
		IsActive:      active,
		CreatedAt:     time.Now(),
	}
	s.virtualAccounts[va.ID] = va
	return &va
}

func (s *Store) SeedTransaction(trans models.Transaction) *models.Transaction {
	unlock := s.lock()
	defer unlock()

	if trans.ID == "" {
		trans.ID = uuid.NewString()
	}
	if trans.IdempotencyKey == "" {
		trans.IdempotencyKey = trans.ID
	}
	trans.Metadata = trans.Metadata.Merge(nil)
	trans.CreatedAt = time.Now()
	s.transactions[trans.ID] = trans
	return &trans
}

func (s *Store) Balance(walletID string) int64 {
	unlock := s.lock()
	defer unlock()
	return s.wallets[walletID].Balance
}

func (s *Store) Transactions() []models.Transaction {
	unlock := s.lock()
	defer unlock()

	out := slices.Collect(maps.Values(s.transactions))
	slices.SortFunc(out, func(a, b models.Transaction) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (s *Store) Deposits() []models.Deposit {
	unlock := s.lock()
	defer unlock()
	return slices.Collect(maps.Values(s.deposits))
}

func (s *Store) Activities() []models.ActivityLog {
	unlock := s.lock()
	defer unlock()
	return slices.Clone(s.activities)
}

// Commits counts successful RunInTx calls.
func (s *Store) Commits() int {
	unlock := s.lock()
	defer unlock()
	return s.commits
}

type walletRepo struct{ s *Store }

func (r walletRepo) Insert(ctx context.Context, wallet *models.Wallet) (string, error) {
	unlock := r.s.lock()
	defer unlock()

	if err := r.s.fail("Wallet.Insert"); err != nil {
		return "", err
	}
	for _, w := range r.s.wallets {
		if w.OwnerID == wallet.OwnerID {
			return "", repository.ErrDuplicate
		}
	}
	if wallet.Currency == "" {
		wallet.Currency = models.DefaultCurrency
	}
	wallet.ID = uuid.NewString()
	wallet.CreatedAt = time.Now()
	r.s.wallets[wallet.ID] = *wallet
	return wallet.ID, nil
}

func (r walletRepo) GetOne(ctx context.Context, id string) (*models.Wallet, bool, error) {
	unlock := r.s.lock()
	defer unlock()

	w, ok := r.s.wallets[id]
	if !ok {
		return nil, false, nil
	}
	return &w, true, nil
}

func (r walletRepo) GetByOwner(ctx context.Context, ownerID string) (*models.Wallet, bool, error) {
	unlock := r.s.lock()
	defer unlock()

	for _, w := range r.s.wallets {
		if w.OwnerID == ownerID {
			return &w, true, nil
		}
	}
	return nil, false, nil
}

func (r walletRepo) Increment(ctx context.Context, walletID string, field models.BalanceField, amount int64) (*models.BalanceChange, error) {
	return r.apply("Wallet.Increment", walletID, field, amount)
}

func (r walletRepo) Decrement(ctx context.Context, walletID string, field models.BalanceField, amount int64) (*models.BalanceChange, error) {
	return r.apply("Wallet.Decrement", walletID, field, -amount)
}

func (r walletRepo) apply(op, walletID string, field models.BalanceField, delta int64) (*models.BalanceChange, error) {
	if !field.Valid() {
		return nil, repository.ErrInvalidField
	}
	if delta == 0 {
		return nil, repository.ErrInvalidAmount
	}
	if op == "Wallet.Increment" && delta < 0 {
		return nil, repository.ErrInvalidAmount
	}
	if op == "Wallet.Decrement" && delta > 0 {
		return nil, repository.ErrInvalidAmount
	}

	unlock := r.s.lock()
	defer unlock()

	if err := r.s.fail(op); err != nil {
		return nil, err
	}

	w, ok := r.s.wallets[walletID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	before := field.Of(&w)
	if delta < 0 {
		if w.IsLocked() {
			return nil, repository.ErrWalletLocked
		}
		if before+delta < 0 {
			return nil, repository.ErrInsufficientFunds
		}
	}
	after := before + delta

	switch field {
	case models.BalanceFieldBonus:
		w.BonusBalance = after
	case models.BalanceFieldCommission:
		w.CommissionBalance = after
	default:
		w.Balance = after
	}
	r.s.wallets[walletID] = w

	return &models.BalanceChange{WalletID: walletID, Field: field, Before: before, After: after}, nil
}

func (r walletRepo) Lock(ctx context.Context, id string) error {
	unlock := r.s.lock()
	defer unlock()

	w, ok := r.s.wallets[id]
	if ok && !w.LockedAt.Valid {
		w.LockedAt.Time, w.LockedAt.Valid = time.Now(), true
		r.s.wallets[id] = w
	}
	return nil
}

func (r walletRepo) Unlock(ctx context.Context, id string) error {
	unlock := r.s.lock()
	defer unlock()

	w, ok := r.s.wallets[id]
	if ok {
		w.LockedAt.Valid = false
		r.s.wallets[id] = w
	}
	return nil
}

type transactionRepo struct{ s *Store }

func (r transactionRepo) Insert(ctx context.Context, trans *models.Transaction) error {
	if err := trans.LinkedRecord.Validate(); err != nil {
		return err
	}

	unlock := r.s.lock()
	defer unlock()

	if err := r.s.fail("Transaction.Insert"); err != nil {
		return err
	}
	for _, t := range r.s.transactions {
		if t.ID == trans.ID || t.Reference == trans.Reference || t.IdempotencyKey == trans.IdempotencyKey {
			return repository.ErrDuplicate
		}
		if trans.ProviderReference.Valid && t.ProviderReference.Valid &&
			t.Provider == trans.Provider && t.ProviderReference.String == trans.ProviderReference.String {
			return repository.ErrDuplicate
		}
	}

	trans.CreatedAt = time.Now()
	stored := *trans
	stored.Metadata = trans.Metadata.Merge(nil)
	r.s.transactions[trans.ID] = stored
	return nil
}

func (r transactionRepo) find(match func(t models.Transaction) bool) (*models.Transaction, bool, error) {
	unlock := r.s.lock()
	defer unlock()

	var found *models.Transaction
	for _, t := range r.s.transactions {
		if !match(t) {
			continue
		}
		if found == nil || t.CreatedAt.Before(found.CreatedAt) {
			t := t
			t.Metadata = t.Metadata.Merge(nil)
			found = &t
		}
	}
	return found, found != nil, nil
}

func (r transactionRepo) GetOne(ctx context.Context, id string) (*models.Transaction, bool, error) {
	return r.find(func(t models.Transaction) bool { return t.ID == id })
}

func (r transactionRepo) GetByReference(ctx context.Context, reference string) (*models.Transaction, bool, error) {
	return r.find(func(t models.Transaction) bool { return t.Reference == reference })
}

func (r transactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, bool, error) {
	return r.find(func(t models.Transaction) bool { return t.IdempotencyKey == key })
}

func (r transactionRepo) FindByProviderIDs(ctx context.Context, provider models.Provider, ids []string) (*models.Transaction, bool, error) {
	if len(ids) == 0 {
		return nil, false, nil
	}
	return r.find(func(t models.Transaction) bool {
		if t.Provider != provider {
			return false
		}
		if t.ProviderReference.Valid && slices.Contains(ids, t.ProviderReference.String) {
			return true
		}
		for _, id := range providerIDs(t.Metadata) {
			if slices.Contains(ids, id) {
				return true
			}
		}
		return false
	})
}

func (r transactionRepo) ListByOwner(ctx context.Context, ownerID string, filter repository.ListFilter) ([]models.Transaction, error) {
	unlock := r.s.lock()
	defer unlock()

	out := []models.Transaction{}
	for _, t := range r.s.transactions {
		if t.OwnerID != ownerID {
			continue
		}
		if filter.StartDate != nil && t.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && !t.CreatedAt.Before(filter.EndDate.AddDate(0, 0, 1)) {
			continue
		}
		t.Metadata = t.Metadata.Merge(nil)
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b models.Transaction) int { return b.CreatedAt.Compare(a.CreatedAt) })

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	if filter.Offset >= len(out) {
		return []models.Transaction{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func providerIDs(m models.Metadata) []string {
	switch v := m["provider_ids"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, id := range v {
			if s, ok := id.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (r transactionRepo) UpdateStatus(ctx context.Context, id string, status models.TransactionStatus, upd repository.StatusUpdate) (bool, error) {
	unlock := r.s.lock()
	defer unlock()

	if err := r.s.fail("Transaction.UpdateStatus"); err != nil {
		return false, err
	}

	t, ok := r.s.transactions[id]
	if !ok || !t.Status.CanMoveTo(status) {
		return false, nil
	}
	if upd.ProviderReference != "" {
		if r.providerReferenceTaken(t, upd.ProviderReference) {
			return false, repository.ErrDuplicate
		}
		t.ProviderReference.String, t.ProviderReference.Valid = upd.ProviderReference, true
	}
	if upd.BalanceBefore != nil {
		t.BalanceBefore.Int64, t.BalanceBefore.Valid = *upd.BalanceBefore, true
	}
	if upd.BalanceAfter != nil {
		t.BalanceAfter.Int64, t.BalanceAfter.Valid = *upd.BalanceAfter, true
	}
	t.Status = status
	t.Metadata = t.Metadata.Merge(upd.Metadata)
	t.UpdatedAt.Time, t.UpdatedAt.Valid = time.Now(), true
	r.s.transactions[id] = t
	return true, nil
}

func (r transactionRepo) providerReferenceTaken(t models.Transaction, ref string) bool {
	for _, other := range r.s.transactions {
		if other.ID != t.ID && other.Provider == t.Provider &&
			other.ProviderReference.Valid && other.ProviderReference.String == ref {
			return true
		}
	}
	return false
}

func (r transactionRepo) AttachProviderReference(ctx context.Context, id string, providerReference string, metadata models.Metadata) error {
	unlock := r.s.lock()
	defer unlock()

	if err := r.s.fail("Transaction.AttachProviderReference"); err != nil {
		return err
	}

	t, ok := r.s.transactions[id]
	if !ok {
		return nil
	}
	if !t.ProviderReference.Valid && providerReference != "" {
		if r.providerReferenceTaken(t, providerReference) {
			return repository.ErrDuplicate
		}
		t.ProviderReference.String, t.ProviderReference.Valid = providerReference, true
	}
	t.Metadata = t.Metadata.Merge(metadata)
	t.UpdatedAt.Time, t.UpdatedAt.Valid = time.Now(), true
	r.s.transactions[id] = t
	return nil
}

type depositRepo struct{ s *Store }

func (r depositRepo) Insert(ctx context.Context, deposit *models.Deposit) error {
	unlock := r.s.lock()
	defer unlock()

	if err := r.s.fail("Deposit.Insert"); err != nil {
		return err
	}
	for _, d := range r.s.deposits {
		if d.TransactionID == deposit.TransactionID || d.ID == deposit.ID {
			return repository.ErrDuplicate
		}
	}
	if deposit.ID == "" {
		deposit.ID = uuid.NewString()
	}
	deposit.CreatedAt = time.Now()
	r.s.deposits[deposit.ID] = *deposit
	return nil
}

func (r depositRepo) GetByTransactionID(ctx context.Context, transactionID string) (*models.Deposit, bool, error) {
	unlock := r.s.lock()
	defer unlock()

	for _, d := range r.s.deposits {
		if d.TransactionID == transactionID {
			return &d, true, nil
		}
	}
	return nil, false, nil
}

func (r depositRepo) UpdateStatus(ctx context.Context, transactionID string, status models.TransactionStatus) error {
	unlock := r.s.lock()
	defer unlock()

	if err := r.s.fail("Deposit.UpdateStatus"); err != nil {
		return err
	}
	for id, d := range r.s.deposits {
		if d.TransactionID == transactionID {
			d.Status = status
			r.s.deposits[id] = d
		}
	}
	return nil
}

type virtualAccountRepo struct{ s *Store }

func (r virtualAccountRepo) Insert(ctx context.Context, account *models.VirtualAccount) (string, error) {
	unlock := r.s.lock()
	defer unlock()

	if account.IsActive {
		for _, va := range r.s.virtualAccounts {
			if va.IsActive && va.AccountNumber == account.AccountNumber && va.Provider == account.Provider {
				return "", repository.ErrDuplicate
			}
		}
	}
	account.ID = uuid.NewString()
	account.CreatedAt = time.Now()
	r.s.virtualAccounts[account.ID] = *account
	return account.ID, nil
}

func (r virtualAccountRepo) FindActive(ctx context.Context, accountNumber string, provider models.Provider) (*models.VirtualAccount, bool, error) {
	unlock := r.s.lock()
	defer unlock()

	for _, va := range r.s.virtualAccounts {
		if va.IsActive && va.AccountNumber == accountNumber && va.Provider == provider {
			return &va, true, nil
		}
	}
	return nil, false, nil
}

func (r virtualAccountRepo) Deactivate(ctx context.Context, id string) error {
	unlock := r.s.lock()
	defer unlock()

	if va, ok := r.s.virtualAccounts[id]; ok {
		va.IsActive = false
		r.s.virtualAccounts[id] = va
	}
	return nil
}

type activityRepo struct{ s *Store }

func (r activityRepo) Insert(ctx context.Context, log *models.ActivityLog) (*models.ActivityLog, error) {
	unlock := r.s.lock()
	defer unlock()

	if err := r.s.fail("Activity.Insert"); err != nil {
		return nil, err
	}
	log.ID = uuid.NewString()
	log.CreatedAt = time.Now()
	r.s.activities = append(r.s.activities, *log)
	return log, nil
}
