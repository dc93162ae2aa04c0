package model

// Kind 交易类型，闭合枚举，新增类型时必须同步 Side/ChargesFee
type Kind string

const (
	KindBuy    Kind = "BUY"
	KindSell   Kind = "SELL"
	KindGift   Kind = "GIFT"
	KindRedeem Kind = "REDEEM"
	KindSip    Kind = "SIP"
)

// RateSide 报价方向
type RateSide string

const (
	SideBuy  RateSide = "BUY"
	SideSell RateSide = "SELL"
)

func (k Kind) Valid() bool {
	switch k {
	case KindBuy, KindSell, KindGift, KindRedeem, KindSip:
		return true
	}
	return false
}

// Side 返回该类型使用的报价方向：买入、定投、赠送按买入价，卖出、兑换按卖出价
func (k Kind) Side() RateSide {
	switch k {
	case KindSell, KindRedeem:
		return SideSell
	default:
		return SideBuy
	}
}

// ChargesFee 只有买入和定投收取服务费
func (k Kind) ChargesFee() bool {
	return k == KindBuy || k == KindSip
}

// Debits 该类型是否从发起人账户扣减克数
func (k Kind) Debits() bool {
	switch k {
	case KindSell, KindRedeem, KindGift:
		return true
	}
	return false
}

// Mode 换算方式：按金额或按克重
type Mode string

const (
	ModeCurrency Mode = "CURRENCY"
	ModeWeight   Mode = "WEIGHT"
)

func (m Mode) Valid() bool {
	return m == ModeCurrency || m == ModeWeight
}
