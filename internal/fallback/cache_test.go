package fallback

import (
	"context"
	"testing"
	"time"

	"goldledger/internal/infrastructure/database"
	"goldledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) *Cache {
	t.Helper()
	db, err := database.InitSQLite(":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewCache(db)
}

func pendingTxn(no, userRef string, kind model.Kind, weight string) *model.Transaction {
	return &model.Transaction{
		TransactionNo:  no,
		UserRef:        userRef,
		Kind:           kind,
		CurrencyAmount: decimal.RequireFromString("5150"),
		Weight:         decimal.RequireFromString(weight),
		RatePerGram:    decimal.RequireFromString("7000"),
		Status:         model.TxnStatusPending,
		CreatedAt:      time.Now(),
	}
}

func TestCache_EnqueueKeepsOrderAndBalance(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetSnapshot(ctx, "u1", decimal.RequireFromString("1.0000")))

	_, err := c.Enqueue(ctx, pendingTxn("T1", "u1", model.KindBuy, "0.5000"), decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, pendingTxn("T2", "u1", model.KindSell, "0.2000"), decimal.RequireFromString("-0.2"))
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, pendingTxn("T3", "u2", model.KindBuy, "0.1000"), decimal.RequireFromString("0.1"))
	require.NoError(t, err)

	entries, err := c.Pending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "T1", entries[0].TransactionNo)
	assert.Equal(t, "T2", entries[1].TransactionNo)
	assert.Less(t, entries[0].Seq, entries[1].Seq)

	grams, known, err := c.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, known)
	assert.True(t, grams.Equal(decimal.RequireFromString("1.3")), grams.String())

	grams, known, err = c.Balance(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, known)
	assert.True(t, grams.Equal(decimal.RequireFromString("0.1")))

	users, err := c.UsersWithPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	txn, err := DecodeTransaction(entries[1])
	require.NoError(t, err)
	assert.Equal(t, model.KindSell, txn.Kind)
	assert.True(t, txn.Weight.Equal(decimal.RequireFromString("0.2")))
}

func TestCache_MarkRemovesFromPending(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	e1, err := c.Enqueue(ctx, pendingTxn("T1", "u1", model.KindBuy, "0.5000"), decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	e2, err := c.Enqueue(ctx, pendingTxn("T2", "u1", model.KindSell, "0.9000"), decimal.RequireFromString("-0.9"))
	require.NoError(t, err)

	require.NoError(t, c.MarkCommitted(ctx, e1.Seq))
	require.NoError(t, c.MarkFailed(ctx, e2.Seq, "余额不足"))
	assert.ErrorIs(t, c.MarkCommitted(ctx, e1.Seq), ErrNotFound)

	has, err := c.HasPending(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, has)

	failed, err := c.ListFailed(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "余额不足", failed[0].FailReason)
}

func TestCache_IdempotencyKey(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	key := "k1"
	txn := pendingTxn("T1", "u1", model.KindBuy, "0.5000")
	txn.IdempotencyKey = &key
	_, err := c.Enqueue(ctx, txn, decimal.RequireFromString("0.5"))
	require.NoError(t, err)

	again := pendingTxn("T2", "u1", model.KindBuy, "0.5000")
	again.IdempotencyKey = &key
	_, err = c.Enqueue(ctx, again, decimal.RequireFromString("0.5"))
	assert.ErrorIs(t, err, ErrDuplicate)

	found, err := c.FindByIdempotencyKey(ctx, "u1", key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "T1", found.TransactionNo)

	missing, err := c.FindByIdempotencyKey(ctx, "u1", "other")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// 其他用户使用相同的 key 不冲突
	third := pendingTxn("T3", "u2", model.KindBuy, "0.5000")
	third.IdempotencyKey = &key
	_, err = c.Enqueue(ctx, third, decimal.RequireFromString("0.5"))
	require.NoError(t, err)

	theirs, err := c.FindByIdempotencyKey(ctx, "u2", key)
	require.NoError(t, err)
	require.NotNil(t, theirs)
	assert.Equal(t, "T3", theirs.TransactionNo)
}

func TestCache_SetSnapshotUpserts(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetSnapshot(ctx, "u1", decimal.RequireFromString("1")))
	require.NoError(t, c.SetSnapshot(ctx, "u1", decimal.RequireFromString("2.5")))

	snap, err := c.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, snap.Grams.Equal(decimal.RequireFromString("2.5")))
}

func TestCache_SetSnapshotIfNewerKeepsLaterWrite(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	readAt := time.Now()
	require.NoError(t, c.SetSnapshotIfNewer(ctx, "u1", decimal.RequireFromString("1"), readAt))

	// 记账在读之后写入新值
	time.Sleep(time.Millisecond)
	require.NoError(t, c.SetSnapshot(ctx, "u1", decimal.RequireFromString("3")))

	// 旧读结果不能覆盖
	require.NoError(t, c.SetSnapshotIfNewer(ctx, "u1", decimal.RequireFromString("1"), readAt))
	snap, err := c.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, snap.Grams.Equal(decimal.RequireFromString("3")), "grams=%s", snap.Grams)

	// 更晚开始的读可以覆盖
	require.NoError(t, c.SetSnapshotIfNewer(ctx, "u1", decimal.RequireFromString("4"), time.Now().Add(time.Second)))
	snap, err = c.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, snap.Grams.Equal(decimal.RequireFromString("4")))
}
