package service

import (
	"context"
	"testing"
	"time"

	"goldledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount_BalanceIncludesPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.buyGrams(t, "u1", "1.0")

	view, err := h.account.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, view.Provisional)
	assert.True(t, view.Grams.Equal(dec("1.0")))

	h.store.down.Store(true)
	_, err = h.engine.Execute(ctx, &Intent{UserRef: "u1", Kind: model.KindSell, Mode: model.ModeWeight, Value: dec("0.3"), Rate: dec("7000")})
	require.NoError(t, err)
	h.store.down.Store(false)

	// 主库恢复但尚未对账
	view, err = h.account.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, view.Provisional)
	assert.True(t, view.Grams.Equal(dec("0.7")))
}

// slowRead 读到余额后先执行 between，再把旧值交给调用方
type slowRead struct {
	LedgerStore
	between func()
}

func (s *slowRead) GetBalance(ctx context.Context, userRef string) (decimal.Decimal, error) {
	grams, err := s.LedgerStore.GetBalance(ctx, userRef)
	if s.between != nil {
		s.between()
	}
	return grams, err
}

func TestAccount_StaleReadDoesNotOverwriteSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.buyGrams(t, "u1", "1.0")

	store := &slowRead{LedgerStore: h.store}
	store.between = func() {
		// 读完主库后、写快照前，另一请求完成了买入并刷新快照
		time.Sleep(time.Millisecond)
		h.buyGrams(t, "u1", "0.5")
	}
	account := NewAccountService(store, h.cache)

	view, err := account.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, view.Grams.Equal(dec("1.0")))

	snap, err := h.cache.Snapshot(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Grams.Equal(dec("1.5")), "snapshot=%s", snap.Grams)

	// 降级时乐观余额基于最新快照
	h.store.down.Store(true)
	view, err = h.account.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, view.Provisional)
	assert.True(t, view.Grams.Equal(dec("1.5")))
}

func TestAccount_UnknownUserHasZeroBalance(t *testing.T) {
	h := newHarness(t)

	view, err := h.account.GetBalance(context.Background(), "ghost")
	require.NoError(t, err)
	assert.True(t, view.Grams.IsZero())
	assert.False(t, view.Provisional)
}

func TestAccount_GetTransactionNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.account.GetTransaction(context.Background(), "TXN-missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	h.store.down.Store(true)
	_, err = h.account.GetTransaction(context.Background(), "TXN-missing")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestProfile_RegisterAndGet(t *testing.T) {
	h := newHarness(t)
	svc := NewProfileService(h.profiles)
	ctx := context.Background()

	p, err := svc.Register(ctx, &RegisterRequest{Phone: " 9000000009 ", FirstName: "Ravi"})
	require.NoError(t, err)
	assert.Equal(t, "9000000009", p.Phone)
	assert.Equal(t, model.KycNotStarted, p.KycStatus)

	_, err = svc.Register(ctx, &RegisterRequest{Phone: "9000000009", FirstName: "Again"})
	assert.ErrorIs(t, err, ErrProfileExists)

	got, err := svc.Get(ctx, "9000000009")
	require.NoError(t, err)
	assert.Equal(t, "Ravi", got.FirstName)

	_, err = svc.Get(ctx, "0000")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	exists, err := svc.Exists(ctx, "9000000009")
	require.NoError(t, err)
	assert.True(t, exists)
}
