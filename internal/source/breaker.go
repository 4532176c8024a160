package source

import (
	"sync"
	"time"
)

// CircuitState 熔断器状态
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// BreakerSnapshot 熔断器状态快照（观测用）
type BreakerSnapshot struct {
	State                CircuitState `json:"state"`
	FailureCount         int          `json:"failure_count"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	OpenedAt             time.Time    `json:"opened_at,omitempty"`
}

// Breaker 每个 adapter 一个的熔断状态机。
// closed：连续失败达到阈值后转 open；open：冷却期内拒绝调用，
// 到期转 half_open 且只放行一次探测；探测成功关闭，失败重新打开
// 并将冷却时间翻倍（有上限）。
type Breaker struct {
	mu sync.Mutex

	state                CircuitState
	failureCount         int
	consecutiveSuccesses int
	openedAt             time.Time
	probing              bool

	threshold    int
	baseCooldown time.Duration
	cooldown     time.Duration // 当前冷却期（reopen 时退避延长）
	maxCooldown  time.Duration

	now func() time.Time // 测试可注入时钟
}

// NewBreaker 创建熔断器
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		state:        CircuitClosed,
		threshold:    failureThreshold,
		baseCooldown: cooldown,
		cooldown:     cooldown,
		maxCooldown:  8 * cooldown,
		now:          time.Now,
	}
}

// SetClock 注入时钟（仅测试）
func (b *Breaker) SetClock(fn func() time.Time) {
	b.mu.Lock()
	b.now = fn
	b.mu.Unlock()
}

// Allow 判断本次调用是否放行。open 冷却到期转 half_open，
// half_open 状态下只允许一个探测调用。
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = CircuitHalfOpen
		b.probing = true
		return true
	case CircuitHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// CancelProbe 归还未真正发起调用的探测名额。
// 调度在 adapter 调用前被放弃（截止已到、并发闸拿不到）时必须调用，
// 否则 half_open 会一直占着唯一名额，恢复的源再也探测不到。
func (b *Breaker) CancelProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitHalfOpen {
		b.probing = false
	}
}

// RecordSuccess 记录成功。half_open 下单次探测成功即关闭并复位冷却。
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveSuccesses++
	switch b.state {
	case CircuitHalfOpen:
		b.state = CircuitClosed
		b.failureCount = 0
		b.cooldown = b.baseCooldown
		b.probing = false
	case CircuitClosed:
		b.failureCount = 0
	}
}

// RecordFailure 记录失败（超时同样算失败）。
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveSuccesses = 0
	switch b.state {
	case CircuitClosed:
		b.failureCount++
		if b.failureCount >= b.threshold {
			b.trip()
		}
	case CircuitHalfOpen:
		// 探测失败：重新打开并退避延长冷却
		b.cooldown *= 2
		if b.cooldown > b.maxCooldown {
			b.cooldown = b.maxCooldown
		}
		b.trip()
		b.probing = false
	}
}

// trip 转 open，必须持锁调用
func (b *Breaker) trip() {
	b.state = CircuitOpen
	b.openedAt = b.now()
}

// State 当前状态（open 冷却到期视为 half_open）
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

// Snapshot 导出状态快照
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:                b.state,
		FailureCount:         b.failureCount,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		OpenedAt:             b.openedAt,
	}
}
