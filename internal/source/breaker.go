package source

import (
	"sync"
	"time"

	"quotecache/internal/logger"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "CLOSED"
	case stateOpen:
		return "OPEN"
	case stateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker 是保护上游提供方的简单熔断器：连续失败达到阈值后打开，
// 冷却期结束进入半开，放行一次探测请求。
type Breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	threshold   int
	cooldown    time.Duration
	lastFailure time.Time
	name        string
}

func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     stateClosed,
	}
}

// Allow 判断当前是否放行请求。
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(b.lastFailure) >= b.cooldown {
			b.transition(stateHalfOpen)
			return true
		}
		return false
	case stateHalfOpen:
		return true
	default:
		return true
	}
}

// Success 记录一次成功并复位。
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != stateClosed {
		b.transition(stateClosed)
	}
}

// Failure 记录一次失败；达到阈值或半开探测失败时打开熔断。
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	if b.state == stateHalfOpen || b.failures >= b.threshold {
		if b.state != stateOpen {
			b.transition(stateOpen)
		}
	}
}

func (b *Breaker) transition(to breakerState) {
	from := b.state
	b.state = to
	logger.Warnf("[breaker] %s 状态 %s -> %s", b.name, from, to)
}
