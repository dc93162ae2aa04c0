package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"goldledger/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// RateQuote 每克金价
type RateQuote struct {
	Side        model.RateSide  `json:"side"`
	RatePerGram decimal.Decimal `json:"rate_per_gram"`
	AsOf        time.Time       `json:"as_of"`
}

// RateProvider 外部行情，只消费不实现
type RateProvider interface {
	GetRate(ctx context.Context, side model.RateSide) (*RateQuote, error)
}

// CheckFresh 超过 maxAge 或非正数的报价视为非法输入。maxAge<=0 不校验时效
func CheckFresh(q *RateQuote, maxAge time.Duration, now time.Time) error {
	if q == nil || !q.RatePerGram.IsPositive() {
		return invalidInput("金价必须大于0")
	}
	if maxAge > 0 && now.Sub(q.AsOf) > maxAge {
		return invalidInput("金价已过期: as_of=%s", q.AsOf.Format(time.RFC3339))
	}
	return nil
}

// StaticRateProvider 配置文件中的固定金价，报价时间总是当前时间
type StaticRateProvider struct {
	buy  decimal.Decimal
	sell decimal.Decimal
	now  func() time.Time
}

func NewStaticRateProvider(buy, sell decimal.Decimal) *StaticRateProvider {
	return &StaticRateProvider{buy: buy, sell: sell, now: time.Now}
}

func (p *StaticRateProvider) GetRate(_ context.Context, side model.RateSide) (*RateQuote, error) {
	rate := p.buy
	if side == model.SideSell {
		rate = p.sell
	}
	return &RateQuote{Side: side, RatePerGram: rate, AsOf: p.now()}, nil
}

// RedisRateProvider 读取行情服务写入的哈希：buy / sell / as_of(unix 秒)
type RedisRateProvider struct {
	client redis.UniversalClient
	key    string
}

func NewRedisRateProvider(client redis.UniversalClient, key string) *RedisRateProvider {
	return &RedisRateProvider{client: client, key: key}
}

func (p *RedisRateProvider) GetRate(ctx context.Context, side model.RateSide) (*RateQuote, error) {
	values, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	field := "buy"
	if side == model.SideSell {
		field = "sell"
	}
	raw, ok := values[field]
	if !ok {
		return nil, fmt.Errorf("%w: 缺少 %s 报价", ErrRateUnavailable, field)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: 报价格式错误 %q", ErrRateUnavailable, raw)
	}

	asOf, err := strconv.ParseInt(values["as_of"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: as_of 格式错误", ErrRateUnavailable)
	}

	return &RateQuote{Side: side, RatePerGram: rate, AsOf: time.Unix(asOf, 0)}, nil
}

// PublishRate 写入一份报价，行情同步任务和测试使用
func PublishRate(ctx context.Context, client redis.UniversalClient, key string, buy, sell decimal.Decimal, asOf time.Time) error {
	return client.HSet(ctx, key,
		"buy", buy.String(),
		"sell", sell.String(),
		"as_of", strconv.FormatInt(asOf.Unix(), 10),
	).Err()
}
