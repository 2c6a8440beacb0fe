package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cradoe/walletrecon/internal/helper"
	"github.com/cradoe/walletrecon/internal/metrics"
	"github.com/cradoe/walletrecon/internal/mocks"
	"github.com/cradoe/walletrecon/internal/models"
	"github.com/cradoe/walletrecon/internal/notify"
	"github.com/cradoe/walletrecon/internal/orchestrator"
	"github.com/cradoe/walletrecon/internal/provider"
	"github.com/cradoe/walletrecon/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const accountNumber = "9930000001"

type fixture struct {
	store     *mocks.Store
	notifier  *mocks.Notifier
	escalator *mocks.Escalator
	locker    *mocks.Locker
	helper    *helper.HelperRepository
	wallet    *models.Wallet
	deps      Dependencies
	svc       *Service
}

func newFixture(t *testing.T, balance int64) *fixture {
	t.Helper()

	fx := &fixture{
		store:     mocks.NewStore(),
		notifier:  &mocks.Notifier{},
		escalator: &mocks.Escalator{},
		locker:    &mocks.Locker{},
		helper:    mocks.NewHelper(),
	}
	fx.wallet = fx.store.SeedWallet("owner-1", balance)
	fx.store.SeedVirtualAccount(fx.wallet, accountNumber, models.ProviderPaystack, true)

	fx.deps = Dependencies{
		DB:        fx.store,
		Notifier:  fx.notifier,
		Escalator: fx.escalator,
		Locker:    fx.locker,
		Helper:    fx.helper,
		Logger:    mocks.Logger,
		Metrics:   metrics.New(prometheus.NewRegistry()),
	}
	fx.svc = NewPaystackService(fx.deps)
	return fx
}

func (fx *fixture) events() []notify.Event {
	fx.helper.Wait()
	return fx.notifier.Events()
}

func (fx *fixture) reviews() []notify.Review {
	fx.helper.Wait()
	return fx.escalator.Reviews()
}

func funding(ref string, gross, fees int64, status models.TransactionStatus) *models.WebhookProcessResult {
	return &models.WebhookProcessResult{
		Provider:              models.ProviderPaystack,
		Category:              models.CategoryFunding,
		EventType:             "charge.success",
		ProviderReference:     ref,
		ProviderTransactionID: "id-" + ref,
		AccountNumber:         accountNumber,
		Status:                status,
		RawStatus:             string(status),
		Amount:                gross,
		Fees:                  fees,
		NetAmount:             gross - fees,
		Currency:              models.DefaultCurrency,
		Metadata:              models.Metadata{"event_type": "charge.success"},
	}
}

func withdrawal(event string, status models.TransactionStatus) *models.WebhookProcessResult {
	return &models.WebhookProcessResult{
		Provider:              models.ProviderPaystack,
		Category:              models.CategoryWithdrawal,
		EventType:             event,
		Reference:             "WDR-1",
		ProviderReference:     "TRF_1",
		ProviderTransactionID: "77",
		Status:                status,
		RawStatus:             string(status),
		Amount:                40000,
		NetAmount:             40000,
		Currency:              models.DefaultCurrency,
		Metadata:              models.Metadata{"event_type": event},
	}
}

// seedWithdrawal mirrors what the orchestrator leaves behind: the wallet
// already debited and a pending transaction.
func (fx *fixture) seedWithdrawal() *models.Transaction {
	return fx.store.SeedTransaction(models.Transaction{
		Reference:     "WDR-1",
		WalletID:      fx.wallet.ID,
		OwnerID:       fx.wallet.OwnerID,
		LinkedRecord:  models.LinkedRecord{Kind: models.LinkedRecordWithdrawal},
		Amount:        40000,
		Direction:     models.DirectionDebit,
		Category:      models.CategoryWithdrawal,
		Provider:      models.ProviderPaystack,
		Status:        models.TransactionStatusPending,
		BalanceBefore: sql.NullInt64{Int64: 100000, Valid: true},
		BalanceAfter:  sql.NullInt64{Int64: 60000, Valid: true},
		InitiatorKind: models.InitiatorUser,
	})
}

func TestFundingCreditsNetOfFees(t *testing.T) {
	fx := newFixture(t, 0)

	err := fx.svc.ProcessWebhook(context.Background(), funding("PSK_1", 500000, 5000, models.TransactionStatusSuccess))
	require.NoError(t, err)

	require.Equal(t, int64(495000), fx.store.Balance(fx.wallet.ID))

	txs := fx.store.Transactions()
	require.Len(t, txs, 1)
	trans := txs[0]
	assert.Equal(t, models.TransactionStatusSuccess, trans.Status)
	assert.Equal(t, models.DirectionCredit, trans.Direction)
	assert.Equal(t, int64(495000), trans.Amount)
	assert.Equal(t, int64(0), trans.BalanceBefore.Int64)
	assert.Equal(t, int64(495000), trans.BalanceAfter.Int64)
	assert.Equal(t, trans.BalanceBefore.Int64+trans.Amount, trans.BalanceAfter.Int64)
	assert.Equal(t, "PSK_1", trans.ProviderReference.String)
	assert.Equal(t, models.LinkedRecordDeposit, trans.LinkedRecord.Kind)

	deposits := fx.store.Deposits()
	require.Len(t, deposits, 1)
	assert.Equal(t, trans.ID, deposits[0].TransactionID)
	assert.Equal(t, trans.LinkedRecord.ID.String, deposits[0].ID)
	assert.Equal(t, int64(500000), deposits[0].Amount)
	assert.Equal(t, int64(495000), deposits[0].NetAmount)
	assert.Equal(t, int64(5000), deposits[0].Fees)

	events := fx.events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventWalletCredited, events[0].Type)
	assert.Equal(t, int64(495000), events[0].BalanceAfter)
}

func TestFundingReplayIsIdempotent(t *testing.T) {
	fx := newFixture(t, 1000)
	result := funding("PSK_1", 5000, 0, models.TransactionStatusSuccess)

	require.NoError(t, fx.svc.ProcessWebhook(context.Background(), result))
	err := fx.svc.ProcessWebhook(context.Background(), result)
	require.ErrorIs(t, err, ErrDuplicateEvent)

	require.Equal(t, int64(6000), fx.store.Balance(fx.wallet.ID))
	require.Len(t, fx.store.Transactions(), 1)
	require.Len(t, fx.store.Deposits(), 1)
	require.Len(t, fx.events(), 1)
}

func TestFundingDuplicateMatchedBySecondaryID(t *testing.T) {
	fx := newFixture(t, 0)

	first := funding("PSK_1", 5000, 0, models.TransactionStatusSuccess)
	require.NoError(t, fx.svc.ProcessWebhook(context.Background(), first))

	// same payment, provider now reports it under another reference
	again := funding("PSK_1_RETRY", 5000, 0, models.TransactionStatusSuccess)
	again.ProviderTransactionID = first.ProviderTransactionID

	err := fx.svc.ProcessWebhook(context.Background(), again)
	require.ErrorIs(t, err, ErrDuplicateEvent)
	require.Equal(t, int64(5000), fx.store.Balance(fx.wallet.ID))
	require.Len(t, fx.store.Transactions(), 1)
}

func TestFundingUnknownAccountMutatesNothing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(fx *fixture)
	}{
		{"no account", func(fx *fixture) {}},
		{"inactive account", func(fx *fixture) {
			other := fx.store.SeedWallet("owner-2", 0)
			fx.store.SeedVirtualAccount(other, "1112223334", models.ProviderPaystack, false)
		}},
		{"account of another provider", func(fx *fixture) {
			other := fx.store.SeedWallet("owner-2", 0)
			fx.store.SeedVirtualAccount(other, "1112223334", models.ProviderMonnify, true)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, 700)
			tt.setup(fx)

			result := funding("PSK_9", 5000, 0, models.TransactionStatusSuccess)
			result.AccountNumber = "1112223334"

			err := fx.svc.ProcessWebhook(context.Background(), result)
			require.ErrorIs(t, err, ErrAccountNotFound)
			require.ErrorIs(t, err, ErrResourceNotFound)

			assert.Equal(t, int64(700), fx.store.Balance(fx.wallet.ID))
			assert.Empty(t, fx.store.Transactions())
			assert.Empty(t, fx.store.Deposits())
			assert.Empty(t, fx.events())

			reviews := fx.reviews()
			require.Len(t, reviews, 1)
			assert.Equal(t, "1112223334", reviews[0].AccountNumber)
		})
	}
}

func TestFundingNonSuccessRecordedWithoutCredit(t *testing.T) {
	for _, status := range []models.TransactionStatus{models.TransactionStatusPending, models.TransactionStatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			fx := newFixture(t, 100)

			require.NoError(t, fx.svc.ProcessWebhook(context.Background(), funding("PSK_1", 5000, 0, status)))

			assert.Equal(t, int64(100), fx.store.Balance(fx.wallet.ID))
			txs := fx.store.Transactions()
			require.Len(t, txs, 1)
			assert.Equal(t, status, txs[0].Status)
			assert.False(t, txs[0].BalanceAfter.Valid)
			assert.Empty(t, fx.events())
		})
	}
}

func TestPendingFundingIsPromotedOnce(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, fx.svc.ProcessWebhook(ctx, funding("PSK_1", 500000, 5000, models.TransactionStatusPending)))
	require.Equal(t, int64(0), fx.store.Balance(fx.wallet.ID))

	require.NoError(t, fx.svc.ProcessWebhook(ctx, funding("PSK_1", 500000, 5000, models.TransactionStatusSuccess)))
	require.Equal(t, int64(495000), fx.store.Balance(fx.wallet.ID))

	err := fx.svc.ProcessWebhook(ctx, funding("PSK_1", 500000, 5000, models.TransactionStatusSuccess))
	require.ErrorIs(t, err, ErrDuplicateEvent)
	require.Equal(t, int64(495000), fx.store.Balance(fx.wallet.ID))

	txs := fx.store.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionStatusSuccess, txs[0].Status)
	assert.Equal(t, int64(0), txs[0].BalanceBefore.Int64)
	assert.Equal(t, int64(495000), txs[0].BalanceAfter.Int64)
	assert.Equal(t, true, txs[0].Metadata["promoted"])

	deposits := fx.store.Deposits()
	require.Len(t, deposits, 1)
	assert.Equal(t, models.TransactionStatusSuccess, deposits[0].Status)
}

func TestRepeatedPendingIsDuplicate(t *testing.T) {
	fx := newFixture(t, 0)
	result := funding("PSK_1", 5000, 0, models.TransactionStatusPending)

	require.NoError(t, fx.svc.ProcessWebhook(context.Background(), result))
	require.ErrorIs(t, fx.svc.ProcessWebhook(context.Background(), result), ErrDuplicateEvent)
	require.Len(t, fx.store.Transactions(), 1)
}

func TestFundingFaultRollsBackEverything(t *testing.T) {
	fx := newFixture(t, 250)
	fault := errors.New("connection reset")
	fx.store.FailOn("Deposit.Insert", fault)

	result := funding("PSK_1", 5000, 0, models.TransactionStatusSuccess)
	err := fx.svc.ProcessWebhook(context.Background(), result)
	require.ErrorIs(t, err, fault)

	assert.Equal(t, int64(250), fx.store.Balance(fx.wallet.ID))
	assert.Empty(t, fx.store.Transactions())
	assert.Empty(t, fx.store.Deposits())
	assert.Empty(t, fx.events())

	// the provider retries once storage recovers
	fx.store.ClearFailures()
	require.NoError(t, fx.svc.ProcessWebhook(context.Background(), result))
	assert.Equal(t, int64(5250), fx.store.Balance(fx.wallet.ID))
}

func TestFundingCommitFailureRollsBack(t *testing.T) {
	fx := newFixture(t, 0)
	fx.store.FailOn("Commit", errors.New("serialization failure"))

	err := fx.svc.ProcessWebhook(context.Background(), funding("PSK_1", 5000, 0, models.TransactionStatusSuccess))
	require.Error(t, err)
	assert.Equal(t, int64(0), fx.store.Balance(fx.wallet.ID))
	assert.Empty(t, fx.store.Transactions())
}

func TestConcurrentDistinctFundingSumsExactly(t *testing.T) {
	fx := newFixture(t, 1000)

	const n = 25
	var want int64 = 1000
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		net := int64(i * 100)
		want += net

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := fx.svc.ProcessWebhook(context.Background(), funding(fmt.Sprintf("PSK_%d", i), net, 0, models.TransactionStatusSuccess))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Equal(t, want, fx.store.Balance(fx.wallet.ID))
	require.Len(t, fx.store.Transactions(), n)
}

func TestConcurrentIdenticalDeliveriesCreditOnce(t *testing.T) {
	fx := newFixture(t, 0)
	// no Redis: only the database keys stand between the deliveries
	fx.deps.Locker = nil
	svc := NewPaystackService(fx.deps)

	result := funding("PSK_1", 5000, 0, models.TransactionStatusSuccess)

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := *result
			err := svc.ProcessWebhook(context.Background(), &r)
			if err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrDuplicateEvent)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, applied)
	require.Equal(t, int64(5000), fx.store.Balance(fx.wallet.ID))
	require.Len(t, fx.store.Transactions(), 1)
}

func TestInFlightLockSuppressesDelivery(t *testing.T) {
	fx := newFixture(t, 0)
	fx.locker.Hold("webhook:paystack:PSK_1:success")

	err := fx.svc.ProcessWebhook(context.Background(), funding("PSK_1", 5000, 0, models.TransactionStatusSuccess))
	require.ErrorIs(t, err, ErrDuplicateEvent)
	require.Equal(t, int64(0), fx.store.Balance(fx.wallet.ID))
}

func TestInFlightLockOnlyHoldsIdenticalStatus(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.svc.ProcessWebhook(ctx, funding("PSK_1", 5000, 0, models.TransactionStatusPending)))

	// a redelivery of the pending event is still in flight
	fx.locker.Hold("webhook:paystack:PSK_1:pending")

	require.NoError(t, fx.svc.ProcessWebhook(ctx, funding("PSK_1", 5000, 0, models.TransactionStatusSuccess)))
	require.Equal(t, int64(5000), fx.store.Balance(fx.wallet.ID))

	txs := fx.store.Transactions()
	require.Len(t, txs, 1)
	require.Equal(t, models.TransactionStatusSuccess, txs[0].Status)
}

// staleLookup hides existing transactions from the first idempotency
// lookup, as when another delivery commits between lookup and insert.
type staleLookup struct {
	*mocks.Store
	misses int
}

func (d *staleLookup) Transaction() repository.TransactionRepository {
	return staleTransactions{TransactionRepository: d.Store.Transaction(), d: d}
}

type staleTransactions struct {
	repository.TransactionRepository
	d *staleLookup
}

func (t staleTransactions) FindByProviderIDs(ctx context.Context, p models.Provider, ids []string) (*models.Transaction, bool, error) {
	if t.d.misses > 0 {
		t.d.misses--
		return nil, false, nil
	}
	return t.TransactionRepository.FindByProviderIDs(ctx, p, ids)
}

func TestSuccessLosingInsertRaceStillPromotes(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.svc.ProcessWebhook(ctx, funding("PSK_1", 5000, 0, models.TransactionStatusPending)))

	deps := fx.deps
	deps.DB = &staleLookup{Store: fx.store, misses: 1}
	svc := NewPaystackService(deps)

	require.NoError(t, svc.ProcessWebhook(ctx, funding("PSK_1", 5000, 0, models.TransactionStatusSuccess)))
	require.Equal(t, int64(5000), fx.store.Balance(fx.wallet.ID))

	txs := fx.store.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionStatusSuccess, txs[0].Status)
	assert.Len(t, fx.store.Deposits(), 1)
}

func TestSameStatusLosingInsertRaceIsDuplicate(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.svc.ProcessWebhook(ctx, funding("PSK_1", 5000, 0, models.TransactionStatusSuccess)))

	deps := fx.deps
	deps.DB = &staleLookup{Store: fx.store, misses: 1}
	svc := NewPaystackService(deps)

	err := svc.ProcessWebhook(ctx, funding("PSK_1", 5000, 0, models.TransactionStatusSuccess))
	require.ErrorIs(t, err, ErrDuplicateEvent)
	require.Equal(t, int64(5000), fx.store.Balance(fx.wallet.ID))
}

// expiringLocker grants the hold, then lets it expire and hands the key
// to another worker before processing finishes.
type expiringLocker struct {
	*mocks.Locker
}

func (l expiringLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token, ok, err := l.Locker.Acquire(ctx, key, ttl)
	if ok {
		l.Locker.Expire(key)
		l.Locker.Hold(key)
	}
	return token, ok, err
}

func TestLockReleaseLeavesAnotherHoldersLock(t *testing.T) {
	fx := newFixture(t, 0)
	locker := expiringLocker{Locker: &mocks.Locker{}}
	deps := fx.deps
	deps.Locker = locker
	svc := NewPaystackService(deps)

	require.NoError(t, svc.ProcessWebhook(context.Background(), funding("PSK_1", 5000, 0, models.TransactionStatusSuccess)))
	require.Equal(t, int64(5000), fx.store.Balance(fx.wallet.ID))
	require.True(t, locker.Held("webhook:paystack:PSK_1:success"))
}

func TestFundingWithNothingLeftAfterFeesIsRejected(t *testing.T) {
	fx := newFixture(t, 0)

	err := fx.svc.ProcessWebhook(context.Background(), funding("PSK_1", 5000, 5000, models.TransactionStatusSuccess))
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, int64(0), fx.store.Balance(fx.wallet.ID))
	require.Empty(t, fx.store.Transactions())
	require.Empty(t, fx.store.Deposits())
}

func TestLockOutageFallsBackToDatabase(t *testing.T) {
	fx := newFixture(t, 0)
	fx.locker.Err = errors.New("redis: connection refused")

	require.NoError(t, fx.svc.ProcessWebhook(context.Background(), funding("PSK_1", 5000, 0, models.TransactionStatusSuccess)))
	require.Equal(t, int64(5000), fx.store.Balance(fx.wallet.ID))
}

func TestUnknownStatusRecordedPendingAndEscalated(t *testing.T) {
	fx := newFixture(t, 0)

	result := funding("PSK_1", 5000, 0, models.TransactionStatusPending)
	result.RawStatus = "settling"
	result.NeedsReview = true

	require.NoError(t, fx.svc.ProcessWebhook(context.Background(), result))
	require.Equal(t, int64(0), fx.store.Balance(fx.wallet.ID))

	txs := fx.store.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionStatusPending, txs[0].Status)
	assert.Equal(t, true, txs[0].Metadata["needs_review"])

	reviews := fx.reviews()
	require.Len(t, reviews, 1)
	assert.Contains(t, reviews[0].Reason, "settling")
}

func TestUnsupportedEventIgnored(t *testing.T) {
	fx := newFixture(t, 0)

	result := funding("PSK_1", 5000, 0, models.TransactionStatusSuccess)
	result.EventType = "subscription.create"

	require.NoError(t, fx.svc.ProcessWebhook(context.Background(), result))
	require.Empty(t, fx.store.Transactions())
}

func TestResultForAnotherProviderRejected(t *testing.T) {
	fx := newFixture(t, 0)

	result := funding("PSK_1", 5000, 0, models.TransactionStatusSuccess)
	result.Provider = models.ProviderMonnify

	err := fx.svc.ProcessWebhook(context.Background(), result)
	require.ErrorIs(t, err, ErrValidation)
}

func TestWithdrawalSuccessDoesNotMoveMoney(t *testing.T) {
	fx := newFixture(t, 60000)
	trans := fx.seedWithdrawal()

	require.NoError(t, fx.svc.ProcessWebhook(context.Background(), withdrawal("transfer.success", models.TransactionStatusSuccess)))

	require.Equal(t, int64(60000), fx.store.Balance(fx.wallet.ID))

	got, found, err := fx.store.Transaction().GetOne(context.Background(), trans.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.TransactionStatusSuccess, got.Status)
	assert.Equal(t, "TRF_1", got.ProviderReference.String)
	assert.Equal(t, int64(60000), got.BalanceAfter.Int64)

	events := fx.events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventWalletDebited, events[0].Type)
}

func TestWithdrawalFailureRefundsOnce(t *testing.T) {
	for _, tc := range []struct {
		event  string
		status models.TransactionStatus
	}{
		{"transfer.failed", models.TransactionStatusFailed},
		{"transfer.reversed", models.TransactionStatusReversed},
	} {
		t.Run(tc.event, func(t *testing.T) {
			fx := newFixture(t, 60000)
			trans := fx.seedWithdrawal()
			result := withdrawal(tc.event, tc.status)

			require.NoError(t, fx.svc.ProcessWebhook(context.Background(), result))
			require.Equal(t, int64(100000), fx.store.Balance(fx.wallet.ID))

			require.ErrorIs(t, fx.svc.ProcessWebhook(context.Background(), result), ErrDuplicateEvent)
			require.Equal(t, int64(100000), fx.store.Balance(fx.wallet.ID))

			got, _, err := fx.store.Transaction().GetOne(context.Background(), trans.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.status, got.Status)
			assert.Equal(t, int64(100000), got.BalanceAfter.Int64)
			assert.Equal(t, true, got.Metadata["refunded"])

			events := fx.events()
			require.Len(t, events, 1)
			assert.Equal(t, notify.EventTransactionFailed, events[0].Type)
			assert.True(t, events[0].Refunded)
		})
	}
}

func TestWithdrawalRefundReturnsToReservedBalance(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	_, err := fx.store.Wallet().Increment(ctx, fx.wallet.ID, models.BalanceFieldBonus, 500)
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Dependencies{DB: fx.store, Helper: fx.helper, Logger: mocks.Logger})
	res, err := orch.ExecuteTransaction(ctx, orchestrator.Request{
		OwnerID:        fx.wallet.OwnerID,
		Amount:         200,
		Category:       models.CategoryWithdrawal,
		Provider:       models.ProviderPaystack,
		Field:          models.BalanceFieldBonus,
		IdempotencyKey: "idem-bonus",
		Reference:      "WDR-1",
	}, func(context.Context, provider.Request) (*provider.Response, error) {
		return &provider.Response{Pending: true, Status: "pending", ProviderReference: "TRF_1"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusPending, res.Transaction.Status)

	result := withdrawal("transfer.failed", models.TransactionStatusFailed)
	result.Amount, result.NetAmount = 200, 200
	require.NoError(t, fx.svc.ProcessWebhook(ctx, result))

	w, _, err := fx.store.Wallet().GetOne(ctx, fx.wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Balance)
	assert.Equal(t, int64(500), w.BonusBalance)

	got, _, err := fx.store.Transaction().GetOne(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, got.Status)
	assert.Equal(t, int64(500), got.BalanceAfter.Int64)
}

func TestFailureAfterSuccessIsNoOp(t *testing.T) {
	fx := newFixture(t, 60000)
	fx.seedWithdrawal()
	ctx := context.Background()

	require.NoError(t, fx.svc.ProcessWebhook(ctx, withdrawal("transfer.success", models.TransactionStatusSuccess)))

	err := fx.svc.ProcessWebhook(ctx, withdrawal("transfer.failed", models.TransactionStatusFailed))
	require.ErrorIs(t, err, ErrDuplicateEvent)

	err = fx.svc.ProcessWebhook(ctx, withdrawal("transfer.reversed", models.TransactionStatusReversed))
	require.ErrorIs(t, err, ErrDuplicateEvent)

	require.Equal(t, int64(60000), fx.store.Balance(fx.wallet.ID))
	txs := fx.store.Transactions()
	require.Len(t, txs, 1)
	require.Equal(t, models.TransactionStatusSuccess, txs[0].Status)
}

func TestWithdrawalRefundRollsBackOnFault(t *testing.T) {
	fx := newFixture(t, 60000)
	trans := fx.seedWithdrawal()
	fx.store.FailOn("Transaction.UpdateStatus", errors.New("deadlock detected"))

	err := fx.svc.ProcessWebhook(context.Background(), withdrawal("transfer.failed", models.TransactionStatusFailed))
	require.Error(t, err)

	require.Equal(t, int64(60000), fx.store.Balance(fx.wallet.ID))
	got, _, _ := fx.store.Transaction().GetOne(context.Background(), trans.ID)
	require.Equal(t, models.TransactionStatusPending, got.Status)
}

func TestWithdrawalPendingAttachesProviderReference(t *testing.T) {
	fx := newFixture(t, 60000)
	trans := fx.seedWithdrawal()

	result := withdrawal("transfer.success", models.TransactionStatusPending)
	require.NoError(t, fx.svc.ProcessWebhook(context.Background(), result))

	got, _, err := fx.store.Transaction().GetOne(context.Background(), trans.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPending, got.Status)
	assert.Equal(t, "TRF_1", got.ProviderReference.String)
	assert.Equal(t, int64(60000), fx.store.Balance(fx.wallet.ID))

	// the final answer still applies afterwards
	require.NoError(t, fx.svc.ProcessWebhook(context.Background(), withdrawal("transfer.failed", models.TransactionStatusFailed)))
	assert.Equal(t, int64(100000), fx.store.Balance(fx.wallet.ID))
}

func TestWithdrawalUnknownReference(t *testing.T) {
	fx := newFixture(t, 60000)

	result := withdrawal("transfer.failed", models.TransactionStatusFailed)
	result.Reference = "WDR-404"

	err := fx.svc.ProcessWebhook(context.Background(), result)
	require.ErrorIs(t, err, ErrTransactionNotFound)
	require.ErrorIs(t, err, ErrResourceNotFound)
	require.Equal(t, int64(60000), fx.store.Balance(fx.wallet.ID))
	require.Len(t, fx.reviews(), 1)
}

func TestWithdrawalWebhookCannotCreditAFundingTransaction(t *testing.T) {
	fx := newFixture(t, 0)
	require.NoError(t, fx.svc.ProcessWebhook(context.Background(), funding("PSK_1", 5000, 0, models.TransactionStatusPending)))

	txs := fx.store.Transactions()
	require.Len(t, txs, 1)

	result := withdrawal("transfer.failed", models.TransactionStatusFailed)
	result.Reference = txs[0].Reference
	result.ProviderReference = "TRF_X"

	err := fx.svc.ProcessWebhook(context.Background(), result)
	require.ErrorIs(t, err, ErrTransactionNotFound)
	require.Equal(t, int64(0), fx.store.Balance(fx.wallet.ID))
}
