package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goldledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const maxApplyAttempts = 3

// LedgerStore 主账本：只追加的流水 + 每用户余额投影。
// 余额只会随 SUCCESS 流水在同一个数据库事务里变更
type LedgerStore struct {
	db              *gorm.DB
	balanceRepo     *BalanceRepository
	transactionRepo *TransactionRepository
	outboxRepo      *OutboxRepository
	topic           string
	timeout         time.Duration
}

func NewLedgerStore(db *gorm.DB, topic string, timeout time.Duration) *LedgerStore {
	return &LedgerStore{
		db:              db,
		balanceRepo:     NewBalanceRepository(db),
		transactionRepo: NewTransactionRepository(db),
		outboxRepo:      NewOutboxRepository(db),
		topic:           topic,
		timeout:         timeout,
	}
}

func (s *LedgerStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func validate(txn *model.Transaction) error {
	switch {
	case txn == nil:
		return ErrValidation
	case txn.TransactionNo == "", txn.UserRef == "":
		return fmt.Errorf("%w: 流水号和用户不能为空", ErrValidation)
	case !txn.Kind.Valid():
		return fmt.Errorf("%w: 未知交易类型 %q", ErrValidation, txn.Kind)
	case !txn.Weight.IsPositive(), !txn.RatePerGram.IsPositive():
		return fmt.Errorf("%w: 克重和金价必须大于0", ErrValidation)
	case txn.CurrencyAmount.IsNegative(), txn.Fee.IsNegative():
		return fmt.Errorf("%w: 金额不能为负", ErrValidation)
	case txn.IdempotencyKey != nil && *txn.IdempotencyKey == "":
		return fmt.Errorf("%w: 幂等键不能为空串", ErrValidation)
	}
	return nil
}

// Apply 原子地完成：锁余额 → 校验非负 → 追加 SUCCESS 流水 → CAS 更新余额 → 写 outbox。
// 幂等键或流水号已存在时返回已有流水和 ErrDuplicate
func (s *LedgerStore) Apply(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if err := validate(txn); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		committed, err := s.applyOnce(ctx, txn)
		if errors.Is(err, ErrOptimisticLock) {
			lastErr = err
			continue
		}
		return committed, err
	}
	return nil, lastErr
}

func (s *LedgerStore) applyOnce(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var existing, committed *model.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.findDuplicate(ctx, tx, txn)
		if err != nil {
			return err
		}
		if found != nil {
			existing = found
			return ErrDuplicate
		}

		balance, err := s.balanceRepo.GetOrCreateForUpdate(ctx, tx, txn.UserRef)
		if err != nil {
			return err
		}

		record := *txn
		record.ID = 0
		record.Status = model.TxnStatusSuccess
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now()
		}

		after := balance.Grams.Add(record.SignedWeight())
		if after.IsNegative() {
			return ErrInsufficientBalance
		}
		record.BalanceBefore = balance.Grams
		record.BalanceAfter = after

		if err := s.transactionRepo.Create(ctx, tx, &record); err != nil {
			return err
		}
		if err := s.balanceRepo.UpdateWithVersion(ctx, tx, record.UserRef, after, balance.Version); err != nil {
			return err
		}
		if err := s.writeOutbox(ctx, tx, &record); err != nil {
			return fmt.Errorf("写入账本事件失败: %w", err)
		}

		committed = &record
		return nil
	})

	if errors.Is(err, ErrDuplicate) {
		if existing == nil {
			// 并发写入被唯一索引拦下，事务外再查一次
			existing, err = s.findDuplicate(ctx, nil, txn)
			if err != nil {
				return nil, err
			}
		}
		return existing, ErrDuplicate
	}
	if err != nil {
		return nil, classify(err)
	}
	return committed, nil
}

func (s *LedgerStore) findDuplicate(ctx context.Context, tx *gorm.DB, txn *model.Transaction) (*model.Transaction, error) {
	if txn.IdempotencyKey != nil {
		found, err := s.transactionRepo.GetByIdempotencyKey(ctx, tx, txn.UserRef, *txn.IdempotencyKey)
		if err != nil || found != nil {
			return found, err
		}
	}
	return s.transactionRepo.GetByTransactionNo(ctx, tx, txn.TransactionNo)
}

func (s *LedgerStore) writeOutbox(ctx context.Context, tx *gorm.DB, txn *model.Transaction) error {
	payload, err := json.Marshal(model.LedgerEvent{
		TransactionNo:  txn.TransactionNo,
		UserRef:        txn.UserRef,
		Kind:           txn.Kind,
		Inbound:        txn.Inbound,
		CurrencyAmount: txn.CurrencyAmount.StringFixed(2),
		Weight:         txn.Weight.StringFixed(4),
		RatePerGram:    txn.RatePerGram.String(),
		BalanceAfter:   txn.BalanceAfter.StringFixed(4),
		Status:         txn.Status,
		CreatedAt:      txn.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: txn.UserRef,
		Topic:      s.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

// Append 追加不影响余额的流水（FAILED / PENDING），SUCCESS 必须走 Apply
func (s *LedgerStore) Append(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if err := validate(txn); err != nil {
		return nil, err
	}
	if txn.Status != model.TxnStatusFailed && txn.Status != model.TxnStatusPending {
		return nil, fmt.Errorf("%w: Append 只接受 FAILED/PENDING", ErrValidation)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	grams, err := s.currentGrams(ctx, txn.UserRef)
	if err != nil {
		return nil, err
	}

	record := *txn
	record.ID = 0
	record.BalanceBefore = grams
	record.BalanceAfter = grams
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if err := s.transactionRepo.Create(ctx, nil, &record); err != nil {
		if errors.Is(err, ErrDuplicate) {
			existing, findErr := s.findDuplicate(ctx, nil, txn)
			if findErr != nil {
				return nil, findErr
			}
			return existing, ErrDuplicate
		}
		return nil, err
	}
	return &record, nil
}

func (s *LedgerStore) currentGrams(ctx context.Context, userRef string) (decimal.Decimal, error) {
	balance, err := s.balanceRepo.GetByUserRef(ctx, userRef)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Grams, nil
}

// GetBalance 当前余额投影，没有记录视为 0
func (s *LedgerStore) GetBalance(ctx context.Context, userRef string) (decimal.Decimal, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.currentGrams(ctx, userRef)
}

// ProjectBalance 从流水重新折叠出余额
func (s *LedgerStore) ProjectBalance(ctx context.Context, userRef string) (decimal.Decimal, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	transactions, err := s.transactionRepo.ListSuccessByUserRef(ctx, userRef)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, t := range transactions {
		sum = sum.Add(t.SignedWeight())
	}
	return sum, nil
}

func (s *LedgerStore) ListTransactions(ctx context.Context, userRef string, filter TransactionFilter) ([]*model.Transaction, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.transactionRepo.ListByUserRef(ctx, userRef, filter)
}

// GetTransaction 不存在时返回 nil, nil
func (s *LedgerStore) GetTransaction(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.transactionRepo.GetByTransactionNo(ctx, nil, transactionNo)
}

// FindByIdempotencyKey 不存在时返回 nil, nil
func (s *LedgerStore) FindByIdempotencyKey(ctx context.Context, userRef, key string) (*model.Transaction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.transactionRepo.GetByIdempotencyKey(ctx, nil, userRef, key)
}

// Ping 健康检查与对账前探测主库
func (s *LedgerStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err != nil {
		return classify(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
