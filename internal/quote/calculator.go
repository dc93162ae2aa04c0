// Package quote 金额与克重之间的纯换算，不涉及任何存储
package quote

import (
	"errors"

	"goldledger/internal/model"

	"github.com/shopspring/decimal"
)

const (
	CurrencyPlaces int32 = 2
	WeightPlaces   int32 = 4
)

var ErrInvalidInput = errors.New("换算参数不合法")

// Result 换算结果，所有字段都已按精度舍入
type Result struct {
	CurrencyAmount decimal.Decimal `json:"currency_amount"` // 买入/定投为含服务费应付总额
	GoldValue      decimal.Decimal `json:"gold_value"`
	Fee            decimal.Decimal `json:"fee"`
	Weight         decimal.Decimal `json:"weight"`
	RatePerGram    decimal.Decimal `json:"rate_per_gram"`
}

// Calculate 按交易类型的收费规则换算。
// 中间计算保持全精度，只在输出时舍入一次（四舍五入）
func Calculate(kind model.Kind, mode model.Mode, value, rate, feeRate decimal.Decimal) (*Result, error) {
	if !kind.Valid() || !mode.Valid() {
		return nil, ErrInvalidInput
	}
	if !value.IsPositive() || !rate.IsPositive() || feeRate.IsNegative() {
		return nil, ErrInvalidInput
	}

	var goldValue, weight decimal.Decimal
	switch mode {
	case model.ModeCurrency:
		goldValue = value
		weight = value.DivRound(rate, 16)
	case model.ModeWeight:
		weight = value
		goldValue = value.Mul(rate)
	}

	fee := decimal.Zero
	if kind.ChargesFee() {
		fee = goldValue.Mul(feeRate)
	}

	res := &Result{
		GoldValue:   goldValue.Round(CurrencyPlaces),
		Fee:         fee.Round(CurrencyPlaces),
		Weight:      weight.Round(WeightPlaces),
		RatePerGram: rate,
	}
	res.CurrencyAmount = goldValue.Add(fee).Round(CurrencyPlaces)
	if !res.Weight.IsPositive() {
		// 金额太小，舍入后不足 0.0001 克
		return nil, ErrInvalidInput
	}
	return res, nil
}
