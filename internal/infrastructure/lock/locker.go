package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"goldledger/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// Locker 按用户串行化账本操作，release 必须调用
type Locker interface {
	Acquire(ctx context.Context, userRef string) (release func(), err error)
}

// LocalLocker 进程内按用户加锁。降级路径和对账重放都依赖它保证同一用户按序执行
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*userMutex
}

type userMutex struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*userMutex)}
}

func (l *LocalLocker) Acquire(ctx context.Context, userRef string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[userRef]
	if !ok {
		m = &userMutex{ch: make(chan struct{}, 1)}
		l.locks[userRef] = m
	}
	m.refs++
	l.mu.Unlock()

	select {
	case m.ch <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(userRef, m)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-m.ch
			l.releaseRef(userRef, m)
		})
	}, nil
}

func (l *LocalLocker) releaseRef(userRef string, m *userMutex) {
	l.mu.Lock()
	m.refs--
	if m.refs == 0 {
		delete(l.locks, userRef)
	}
	l.mu.Unlock()
}

// RedisLocker 多实例部署时的用户锁
type RedisLocker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: 50 * time.Millisecond,
		maxRetries:    100,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, userRef string) (func(), error) {
	l := NewUserLock(r.client, userRef, r.ttl)
	if err := l.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := l.Unlock(ctx); err != nil {
			logger.Warn("释放用户锁失败", "user", userRef, "error", err)
		}
	}, nil
}

// ChainLocker 先取进程内锁再取分布式锁。
// Redis 不可达时只保留进程内锁继续执行，数据库版本号仍会拦住并发写
type ChainLocker struct {
	local  *LocalLocker
	remote *RedisLocker
}

func NewChainLocker(local *LocalLocker, remote *RedisLocker) *ChainLocker {
	return &ChainLocker{local: local, remote: remote}
}

func (c *ChainLocker) Acquire(ctx context.Context, userRef string) (func(), error) {
	releaseLocal, err := c.local.Acquire(ctx, userRef)
	if err != nil {
		return nil, err
	}
	if c.remote == nil {
		return releaseLocal, nil
	}

	releaseRemote, err := c.remote.Acquire(ctx, userRef)
	if err != nil {
		if errors.Is(err, ErrLockFailed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			releaseLocal()
			return nil, err
		}
		logger.Warn("Redis 锁不可用，仅使用进程内锁", "user", userRef, "error", err)
		return releaseLocal, nil
	}

	return func() {
		releaseRemote()
		releaseLocal()
	}, nil
}
