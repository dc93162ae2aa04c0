package repository

import (
	"testing"
	"time"

	"goldledger/internal/infrastructure/database"
	"goldledger/internal/model"
	"goldledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:", false)
	require.NoError(t, err)
	require.NoError(t, database.MigratePrimary(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTxn(userRef string, kind model.Kind, weight string) *model.Transaction {
	w := dec(weight)
	rate := dec("7000")
	value := w.Mul(rate).Round(2)
	return &model.Transaction{
		TransactionNo:  idgen.GenerateTransactionNo(),
		UserRef:        userRef,
		Kind:           kind,
		CurrencyAmount: value,
		GoldValue:      value,
		Fee:            decimal.Zero,
		Weight:         w,
		RatePerGram:    rate,
		CreatedAt:      time.Now(),
	}
}
