package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"goldledger/internal/fallback"
	"goldledger/internal/infrastructure/lock"
	"goldledger/internal/metrics"
	"goldledger/internal/model"
	"goldledger/internal/quote"
	"goldledger/internal/repository"
	"goldledger/pkg/idgen"
	"goldledger/pkg/logger"

	"github.com/shopspring/decimal"
)

// LedgerStore 主账本
type LedgerStore interface {
	Apply(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	Append(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	GetBalance(ctx context.Context, userRef string) (decimal.Decimal, error)
	ProjectBalance(ctx context.Context, userRef string) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, userRef string, filter repository.TransactionFilter) ([]*model.Transaction, int64, error)
	GetTransaction(ctx context.Context, transactionNo string) (*model.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, userRef, key string) (*model.Transaction, error)
	Ping(ctx context.Context) error
}

// ProfileLookup 赠送时查找受赠人
type ProfileLookup interface {
	Exists(ctx context.Context, phone string) (bool, error)
}

// 兑换支持的珠宝品牌
var redeemBrands = map[string]struct{}{
	"TANISHQ":   {},
	"KALYAN":    {},
	"MALABAR":   {},
	"BLUESTONE": {},
}

type EngineOptions struct {
	FeeRate               decimal.Decimal
	MaxRateAge            time.Duration
	GiftRequiresRecipient bool
}

// Engine 单笔黄金交易的编排：换算 → 记账 → 主库不可达时降级到本地队列
type Engine struct {
	store    LedgerStore
	cache    *fallback.Cache
	rates    RateProvider
	profiles ProfileLookup
	locker   lock.Locker
	metrics  *metrics.Metrics
	opts     EngineOptions
	now      func() time.Time
}

func NewEngine(store LedgerStore, cache *fallback.Cache, rates RateProvider, profiles ProfileLookup,
	locker lock.Locker, m *metrics.Metrics, opts EngineOptions) *Engine {
	return &Engine{
		store:    store,
		cache:    cache,
		rates:    rates,
		profiles: profiles,
		locker:   locker,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// Intent 一次交易意图。Rate 为零时按类型从行情取价
type Intent struct {
	UserRef        string          `json:"user_ref" binding:"required"`
	Kind           model.Kind      `json:"kind" binding:"required"`
	Mode           model.Mode      `json:"mode"`
	Value          decimal.Decimal `json:"value"`
	Rate           decimal.Decimal `json:"rate"`
	RecipientRef   string          `json:"recipient_ref"`
	RecipientName  string          `json:"recipient_name"`
	Message        string          `json:"message"`
	Brand          string          `json:"brand"`
	IdempotencyKey string          `json:"idempotency_key"`

	SipPlanNo      string `json:"-"`
	RequirePrimary bool   `json:"-"` // 不允许降级，主库不可达直接返回错误
}

type ExecuteResult struct {
	Transaction       *model.Transaction   `json:"transaction"`
	Quote             *quote.Result        `json:"quote,omitempty"`
	Warning           *DegradedModeWarning `json:"warning,omitempty"`
	RecipientCredited bool                 `json:"recipient_credited"`
	Duplicate         bool                 `json:"duplicate"`
}

func (e *Engine) validate(intent *Intent) error {
	if intent == nil {
		return invalidInput("交易意图为空")
	}
	if intent.Mode == "" {
		intent.Mode = model.ModeCurrency
	}
	intent.Brand = strings.ToUpper(strings.TrimSpace(intent.Brand))

	switch {
	case intent.UserRef == "":
		return invalidInput("用户不能为空")
	case !intent.Kind.Valid():
		return invalidInput("未知交易类型 %q", intent.Kind)
	case !intent.Mode.Valid():
		return invalidInput("未知换算方式 %q", intent.Mode)
	case !intent.Value.IsPositive():
		return invalidInput("金额或克重必须大于0")
	case intent.Rate.IsNegative():
		return invalidInput("金价不能为负")
	}

	switch intent.Kind {
	case model.KindGift:
		if intent.RecipientRef == "" {
			return invalidInput("赠送必须指定受赠人")
		}
		if intent.RecipientRef == intent.UserRef {
			return invalidInput("不能赠送给自己")
		}
	case model.KindRedeem:
		if intent.Brand != "" {
			if _, ok := redeemBrands[intent.Brand]; !ok {
				return invalidInput("不支持的兑换品牌 %q", intent.Brand)
			}
		}
	}
	return nil
}

func (e *Engine) feeRate(kind model.Kind) decimal.Decimal {
	if kind.ChargesFee() {
		return e.opts.FeeRate
	}
	return decimal.Zero
}

func (e *Engine) resolveRate(ctx context.Context, intent *Intent) (decimal.Decimal, error) {
	if intent.Rate.IsPositive() {
		return intent.Rate, nil
	}
	if e.rates == nil {
		return decimal.Zero, ErrRateUnavailable
	}
	q, err := e.rates.GetRate(ctx, intent.Kind.Side())
	if err != nil {
		return decimal.Zero, err
	}
	if err := CheckFresh(q, e.opts.MaxRateAge, e.now()); err != nil {
		return decimal.Zero, err
	}
	return q.RatePerGram, nil
}

// Quote 只换算不记账
func (e *Engine) Quote(ctx context.Context, intent *Intent) (*quote.Result, error) {
	if err := e.validate(intent); err != nil {
		return nil, err
	}
	rate, err := e.resolveRate(ctx, intent)
	if err != nil {
		return nil, err
	}
	q, err := quote.Calculate(intent.Kind, intent.Mode, intent.Value, rate, e.feeRate(intent.Kind))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return q, nil
}

// Execute 执行一笔交易，返回 SUCCESS 或 PENDING 流水。
// 同一用户的操作由 locker 串行；主库不可达时写入降级队列并在结果里带上 Warning
func (e *Engine) Execute(ctx context.Context, intent *Intent) (*ExecuteResult, error) {
	if err := e.validate(intent); err != nil {
		return nil, err
	}

	release, err := e.lockUser(ctx, intent.UserRef)
	if err != nil {
		return nil, err
	}
	defer release()

	return e.executeLocked(ctx, intent)
}

func (e *Engine) lockUser(ctx context.Context, userRef string) (func(), error) {
	release, err := e.locker.Acquire(ctx, userRef)
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	return release, nil
}

// executeLocked 调用方必须已持有 intent.UserRef 的锁
func (e *Engine) executeLocked(ctx context.Context, intent *Intent) (*ExecuteResult, error) {
	start := e.now()
	if err := e.validate(intent); err != nil {
		return nil, err
	}

	result, err := e.execute(ctx, intent)
	if err != nil {
		e.metrics.ObserveTransaction(string(intent.Kind), "REJECTED", e.now().Sub(start))
		return nil, err
	}
	e.metrics.ObserveTransaction(string(intent.Kind), result.Transaction.Status, e.now().Sub(start))
	return result, nil
}

func (e *Engine) execute(ctx context.Context, intent *Intent) (*ExecuteResult, error) {
	// 幂等校验
	if intent.IdempotencyKey != "" {
		existing, err := e.findExisting(ctx, intent.UserRef, intent.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &ExecuteResult{Transaction: existing, Duplicate: true}, nil
		}
	}

	// 有未对账的降级记录时先重放，保证按原始顺序入账
	var degradeCause error
	hasPending, err := e.cache.HasPending(ctx, intent.UserRef)
	if err != nil {
		return nil, fmt.Errorf("读取降级队列失败: %w", err)
	}
	if hasPending {
		report, err := e.reconcileLocked(ctx, intent.UserRef)
		if errors.Is(err, ErrStoreUnavailable) || (report != nil && report.Remaining > 0) {
			degradeCause = fmt.Errorf("%w: 存在未对账记录", ErrStoreUnavailable)
		} else if err != nil && !errors.Is(err, ErrReconciliationConflict) {
			return nil, err
		}
	}

	rate, err := e.resolveRate(ctx, intent)
	if err != nil {
		return nil, err
	}
	q, err := quote.Calculate(intent.Kind, intent.Mode, intent.Value, rate, e.feeRate(intent.Kind))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if intent.Kind == model.KindGift && e.opts.GiftRequiresRecipient {
		exists, err := e.recipientExists(ctx, intent.RecipientRef)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, invalidInput("受赠人 %s 不存在", intent.RecipientRef)
		}
	}

	txn := e.buildTransaction(intent, q)

	if degradeCause != nil {
		return e.degrade(ctx, intent, txn, q, degradeCause)
	}

	// 扣减类交易先查余额，不足直接拒绝，不落任何记录
	if intent.Kind.Debits() {
		grams, err := e.store.GetBalance(ctx, intent.UserRef)
		if errors.Is(err, ErrStoreUnavailable) {
			return e.degrade(ctx, intent, txn, q, err)
		}
		if err != nil {
			return nil, err
		}
		if grams.LessThan(txn.Weight) {
			return nil, ErrInsufficientBalance
		}
	}

	committed, err := e.store.Apply(ctx, txn)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrDuplicate) && committed != nil:
		return &ExecuteResult{Transaction: committed, Duplicate: true}, nil
	case errors.Is(err, repository.ErrInsufficientBalance):
		return nil, ErrInsufficientBalance
	case errors.Is(err, ErrStoreUnavailable):
		return e.degrade(ctx, intent, txn, q, err)
	default:
		return nil, fmt.Errorf("记账失败: %w", err)
	}

	if err := e.cache.SetSnapshot(ctx, committed.UserRef, committed.BalanceAfter); err != nil {
		logger.Warn("更新本地余额快照失败", "user", committed.UserRef, "error", err)
	}

	result := &ExecuteResult{Transaction: committed, Quote: q}
	if committed.Kind == model.KindGift {
		result.RecipientCredited = e.creditRecipient(ctx, committed)
	}

	logger.Info("交易成功",
		"transactionNo", committed.TransactionNo,
		"user", committed.UserRef,
		"kind", committed.Kind,
		"weight", committed.Weight.StringFixed(quote.WeightPlaces),
		"amount", committed.CurrencyAmount.StringFixed(quote.CurrencyPlaces),
		"balanceAfter", committed.BalanceAfter.StringFixed(quote.WeightPlaces),
	)
	return result, nil
}

func (e *Engine) buildTransaction(intent *Intent, q *quote.Result) *model.Transaction {
	txn := &model.Transaction{
		TransactionNo:  idgen.GenerateTransactionNo(),
		UserRef:        intent.UserRef,
		Kind:           intent.Kind,
		CurrencyAmount: q.CurrencyAmount,
		GoldValue:      q.GoldValue,
		Fee:            q.Fee,
		Weight:         q.Weight,
		RatePerGram:    q.RatePerGram,
		SipPlanNo:      intent.SipPlanNo,
		CreatedAt:      e.now(),
	}
	if intent.IdempotencyKey != "" {
		key := intent.IdempotencyKey
		txn.IdempotencyKey = &key
	}

	switch intent.Kind {
	case model.KindGift:
		txn.CounterpartyRef = intent.RecipientRef
		txn.Remark = giftRemark(intent)
	case model.KindRedeem:
		if intent.Brand != "" {
			txn.VoucherCode = idgen.GenerateVoucherCode(intent.Brand)
			txn.Remark = "兑换-" + intent.Brand
		}
	}
	return txn
}

func giftRemark(intent *Intent) string {
	remark := "赠送-" + intent.RecipientRef
	if intent.RecipientName != "" {
		remark += "-" + intent.RecipientName
	}
	if intent.Message != "" {
		remark += "：" + intent.Message
	}
	if r := []rune(remark); len(r) > 120 {
		remark = string(r[:120])
	}
	return remark
}

func (e *Engine) findExisting(ctx context.Context, userRef, key string) (*model.Transaction, error) {
	existing, err := e.store.FindByIdempotencyKey(ctx, userRef, key)
	if err != nil && !errors.Is(err, ErrStoreUnavailable) {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	entry, err := e.cache.FindByIdempotencyKey(ctx, userRef, key)
	if err != nil {
		return nil, fmt.Errorf("读取降级队列失败: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	return fallback.EntryTransaction(entry)
}

// degrade 主库不可达：按本地乐观余额校验后挂入降级队列
func (e *Engine) degrade(ctx context.Context, intent *Intent, txn *model.Transaction, q *quote.Result, cause error) (*ExecuteResult, error) {
	if intent.RequirePrimary {
		return nil, cause
	}

	grams, _, err := e.cache.Balance(ctx, txn.UserRef)
	if err != nil {
		return nil, fmt.Errorf("读取本地余额失败: %w", err)
	}

	delta := txn.Weight
	if txn.Kind.Debits() {
		delta = txn.Weight.Neg()
	}
	if grams.Add(delta).IsNegative() {
		return nil, ErrInsufficientBalance
	}

	txn.Status = model.TxnStatusPending
	txn.BalanceBefore = grams
	txn.BalanceAfter = grams.Add(delta)

	if _, err := e.cache.Enqueue(ctx, txn, delta); err != nil {
		if errors.Is(err, fallback.ErrDuplicate) && txn.IdempotencyKey != nil {
			existing, findErr := e.findExisting(ctx, txn.UserRef, *txn.IdempotencyKey)
			if findErr == nil && existing != nil {
				return &ExecuteResult{Transaction: existing, Duplicate: true}, nil
			}
		}
		return nil, fmt.Errorf("写入降级队列失败: %w", err)
	}

	e.metrics.IncDegraded(string(txn.Kind))
	logger.Warn("主库不可达，交易已挂起待对账",
		"transactionNo", txn.TransactionNo,
		"user", txn.UserRef,
		"kind", txn.Kind,
		"error", cause,
	)

	return &ExecuteResult{
		Transaction: txn,
		Quote:       q,
		Warning: &DegradedModeWarning{
			Reason: "主库暂不可用，交易已暂存，恢复后自动入账",
			Cause:  cause,
		},
	}, nil
}

func (e *Engine) recipientExists(ctx context.Context, recipientRef string) (bool, error) {
	if e.profiles == nil {
		return false, nil
	}
	return e.profiles.Exists(ctx, recipientRef)
}

// creditRecipient 尽力给受赠人入账：受赠人不存在或入账失败都不回滚赠送人的扣减
func (e *Engine) creditRecipient(ctx context.Context, sent *model.Transaction) bool {
	exists, err := e.recipientExists(ctx, sent.CounterpartyRef)
	if err != nil {
		logger.Warn("查询受赠人失败", "transactionNo", sent.TransactionNo, "recipient", sent.CounterpartyRef, "error", err)
		return false
	}
	if !exists {
		logger.Info("受赠人未注册，仅扣减赠送人", "transactionNo", sent.TransactionNo, "recipient", sent.CounterpartyRef)
		return false
	}

	key := "gift:" + sent.TransactionNo
	inbound := &model.Transaction{
		TransactionNo:   idgen.GenerateTransactionNo(),
		UserRef:         sent.CounterpartyRef,
		Kind:            model.KindGift,
		Inbound:         true,
		CounterpartyRef: sent.UserRef,
		CurrencyAmount:  sent.CurrencyAmount,
		GoldValue:       sent.GoldValue,
		Fee:             decimal.Zero,
		Weight:          sent.Weight,
		RatePerGram:     sent.RatePerGram,
		IdempotencyKey:  &key,
		Remark:          "收到赠送-" + sent.UserRef,
		CreatedAt:       e.now(),
	}

	if _, err := e.store.Apply(ctx, inbound); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		logger.Error("受赠人入账失败", "transactionNo", sent.TransactionNo, "recipient", sent.CounterpartyRef, "error", err)
		return false
	}
	return true
}
