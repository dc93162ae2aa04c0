package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"goldledger/internal/fallback"
	"goldledger/internal/infrastructure/database"
	"goldledger/internal/infrastructure/lock"
	"goldledger/internal/metrics"
	"goldledger/internal/model"
	"goldledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// flakyStore 可随时切换为"主库不可达"的账本
type flakyStore struct {
	*repository.LedgerStore
	down atomic.Bool
}

func (f *flakyStore) Apply(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if f.down.Load() {
		return nil, repository.ErrStoreUnavailable
	}
	return f.LedgerStore.Apply(ctx, txn)
}

func (f *flakyStore) Append(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if f.down.Load() {
		return nil, repository.ErrStoreUnavailable
	}
	return f.LedgerStore.Append(ctx, txn)
}

func (f *flakyStore) GetBalance(ctx context.Context, userRef string) (decimal.Decimal, error) {
	if f.down.Load() {
		return decimal.Zero, repository.ErrStoreTimeout
	}
	return f.LedgerStore.GetBalance(ctx, userRef)
}

func (f *flakyStore) ProjectBalance(ctx context.Context, userRef string) (decimal.Decimal, error) {
	if f.down.Load() {
		return decimal.Zero, repository.ErrStoreUnavailable
	}
	return f.LedgerStore.ProjectBalance(ctx, userRef)
}

func (f *flakyStore) ListTransactions(ctx context.Context, userRef string, filter repository.TransactionFilter) ([]*model.Transaction, int64, error) {
	if f.down.Load() {
		return nil, 0, repository.ErrStoreUnavailable
	}
	return f.LedgerStore.ListTransactions(ctx, userRef, filter)
}

func (f *flakyStore) GetTransaction(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	if f.down.Load() {
		return nil, repository.ErrStoreUnavailable
	}
	return f.LedgerStore.GetTransaction(ctx, transactionNo)
}

func (f *flakyStore) FindByIdempotencyKey(ctx context.Context, userRef, key string) (*model.Transaction, error) {
	if f.down.Load() {
		return nil, repository.ErrStoreUnavailable
	}
	return f.LedgerStore.FindByIdempotencyKey(ctx, userRef, key)
}

func (f *flakyStore) Ping(ctx context.Context) error {
	if f.down.Load() {
		return repository.ErrStoreUnavailable
	}
	return f.LedgerStore.Ping(ctx)
}

type harness struct {
	engine   *Engine
	store    *flakyStore
	cache    *fallback.Cache
	profiles *repository.ProfileRepository
	plans    *repository.SipPlanRepository
	account  *AccountService
	metrics  *metrics.Metrics
}

func openDB(t *testing.T, migrate func(*gorm.DB) error) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:", false)
	require.NoError(t, err)
	require.NoError(t, migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newHarness(t *testing.T, mutate ...func(*EngineOptions)) *harness {
	t.Helper()

	primary := openDB(t, database.MigratePrimary)
	local := openDB(t, database.MigrateFallback)

	opts := EngineOptions{
		FeeRate:    dec("0.03"),
		MaxRateAge: time.Minute,
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	h := &harness{
		store:    &flakyStore{LedgerStore: repository.NewLedgerStore(primary, "gold_ledger_events", 2*time.Second)},
		cache:    fallback.NewCache(local),
		profiles: repository.NewProfileRepository(primary),
		plans:    repository.NewSipPlanRepository(primary),
		metrics:  metrics.New("test"),
	}
	h.engine = NewEngine(
		h.store,
		h.cache,
		NewStaticRateProvider(dec("7250.45"), dec("7010.20")),
		h.profiles,
		lock.NewLocalLocker(),
		h.metrics,
		opts,
	)
	h.account = NewAccountService(h.store, h.cache)
	return h
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (h *harness) balance(t *testing.T, userRef string) decimal.Decimal {
	t.Helper()
	grams, err := h.store.LedgerStore.GetBalance(context.Background(), userRef)
	require.NoError(t, err)
	return grams
}

func (h *harness) buyGrams(t *testing.T, userRef, grams string) {
	t.Helper()
	_, err := h.engine.Execute(context.Background(), &Intent{
		UserRef: userRef,
		Kind:    model.KindBuy,
		Mode:    model.ModeWeight,
		Value:   dec(grams),
		Rate:    dec("7000"),
	})
	require.NoError(t, err)
}

func (h *harness) register(t *testing.T, phone string) {
	t.Helper()
	require.NoError(t, h.profiles.Create(context.Background(), &model.Profile{
		Phone:     phone,
		FirstName: "Test",
		KycStatus: model.KycNotStarted,
	}))
}
