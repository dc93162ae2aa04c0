package idgen

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// 雪花 ID 生成器
// ============================================================================
//
// 流水号、计划号都要求全局唯一且趋势递增：
//
//   0 - 41位毫秒时间戳 - 10位机器ID - 12位序列号
//
// 同一毫秒内序列号用尽时自旋到下一毫秒。
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// New 创建独立的生成器，workerID 超出范围时返回错误
func New(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID 必须在 0-%d 之间", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init 初始化默认生成器，只有第一次调用生效
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = New(workerID)
	})
	return err
}

// NextID 未调用 Init 时按 workerID=1 初始化
func NextID() int64 {
	_ = Init(1)
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateTransactionNo 生成流水号，例如 TXN20240115143052000123456789
// 完整雪花ID保证同一秒内不重复
func GenerateTransactionNo() string {
	return "TXN" + time.Now().Format("20060102150405") + fmt.Sprintf("%019d", NextID())
}

// GeneratePlanNo 生成定投计划号
func GeneratePlanNo() string {
	return "SIP" + time.Now().Format("20060102150405") + fmt.Sprintf("%019d", NextID())
}

// GenerateVoucherCode 生成兑换券码：品牌前三位 + 6位36进制
// 例如 TAN-3K9ZQ1
func GenerateVoucherCode(brand string) string {
	prefix := strings.ToUpper(brand)
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}

	code := strings.ToUpper(strconv.FormatInt(NextID(), 36))
	if len(code) > 6 {
		code = code[len(code)-6:]
	} else if len(code) < 6 {
		code = strings.Repeat("0", 6-len(code)) + code
	}
	return prefix + "-" + code
}
