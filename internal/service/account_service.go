package service

import (
	"context"
	"errors"
	"time"

	"goldledger/internal/fallback"
	"goldledger/internal/model"
	"goldledger/internal/repository"
	"goldledger/pkg/logger"

	"github.com/shopspring/decimal"
)

// AccountService 读路径，不产生任何副作用（除刷新本地快照）
type AccountService struct {
	store LedgerStore
	cache *fallback.Cache
	now   func() time.Time
}

func NewAccountService(store LedgerStore, cache *fallback.Cache) *AccountService {
	return &AccountService{store: store, cache: cache, now: time.Now}
}

type BalanceView struct {
	UserRef     string          `json:"user_ref"`
	Grams       decimal.Decimal `json:"grams"`
	Provisional bool            `json:"provisional"` // 含未对账的降级记录，或主库不可达
}

// GetBalance 主库余额加上尚未对账的降级差额；主库不可达时读本地乐观余额
func (s *AccountService) GetBalance(ctx context.Context, userRef string) (*BalanceView, error) {
	readAt := s.now()
	grams, err := s.store.GetBalance(ctx, userRef)
	if errors.Is(err, ErrStoreUnavailable) {
		local, _, cacheErr := s.cache.Balance(ctx, userRef)
		if cacheErr != nil {
			return nil, cacheErr
		}
		return &BalanceView{UserRef: userRef, Grams: local, Provisional: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetSnapshotIfNewer(ctx, userRef, grams, readAt); err != nil {
		logger.Warn("更新本地余额快照失败", "user", userRef, "error", err)
	}

	pending, err := s.cache.Pending(ctx, userRef)
	if err != nil {
		return nil, err
	}
	view := &BalanceView{UserRef: userRef, Grams: grams}
	for _, e := range pending {
		view.Grams = view.Grams.Add(e.Delta)
		view.Provisional = true
	}
	return view, nil
}

type TransactionPage struct {
	Items []*model.Transaction `json:"items"`
	Total int64                `json:"total"`
}

// ListTransactions 主库流水，最新的在前
func (s *AccountService) ListTransactions(ctx context.Context, userRef string, filter repository.TransactionFilter) (*TransactionPage, error) {
	items, total, err := s.store.ListTransactions(ctx, userRef, filter)
	if err != nil {
		return nil, err
	}
	return &TransactionPage{Items: items, Total: total}, nil
}

// GetTransaction 先查主库，再查降级队列
func (s *AccountService) GetTransaction(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, transactionNo)
	if err != nil && !errors.Is(err, ErrStoreUnavailable) {
		return nil, err
	}
	if txn != nil {
		return txn, nil
	}

	entry, cacheErr := s.cache.FindByTransactionNo(ctx, transactionNo)
	if cacheErr != nil {
		return nil, cacheErr
	}
	if entry == nil {
		if err != nil {
			return nil, err
		}
		return nil, ErrTransactionNotFound
	}
	return fallback.EntryTransaction(entry)
}

type ConsistencyReport struct {
	UserRef    string          `json:"user_ref"`
	Projection decimal.Decimal `json:"projection"`
	Folded     decimal.Decimal `json:"folded"`
	Consistent bool            `json:"consistent"`
}

// VerifyConsistency 余额投影与流水折叠结果比对
func (s *AccountService) VerifyConsistency(ctx context.Context, userRef string) (*ConsistencyReport, error) {
	projection, err := s.store.GetBalance(ctx, userRef)
	if err != nil {
		return nil, err
	}
	folded, err := s.store.ProjectBalance(ctx, userRef)
	if err != nil {
		return nil, err
	}

	report := &ConsistencyReport{
		UserRef:    userRef,
		Projection: projection,
		Folded:     folded,
		Consistent: projection.Equal(folded),
	}
	if !report.Consistent {
		logger.Error("余额与流水不一致", "user", userRef, "projection", projection.String(), "folded", folded.String())
	}
	return report, nil
}
