package infra

import (
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// TokenBucket é o algoritmo de balde de tokens de uma partição.
//
// Reposição pró-rata: `rate` tokens a cada `period`, acumulando fração de
// período, teto em `capacity`. Cada admissão consome 1 token. Não tem fila:
// política deliberadamente estrita, rajada permitida mas limitada.
type TokenBucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64
	period   time.Duration

	tokens  float64
	last    time.Time
	stopped bool
}

// NewTokenBucket cria o estado com o balde cheio.
func NewTokenBucket(p domain.Policy, now time.Time) *TokenBucket {
	return &TokenBucket{
		capacity: float64(p.Limit),
		rate:     p.Rate,
		period:   p.Window,
		tokens:   float64(p.Limit),
		last:     now,
	}
}

// TryAcquire implementa domain.Limiter.
func (b *TokenBucket) TryAcquire(now time.Time) domain.Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return domain.Outcome{Verdict: domain.VerdictReject}
	}

	b.refill(now)

	if b.tokens >= 1 {
		b.tokens--
		return domain.Outcome{Verdict: domain.VerdictAdmit, Lease: domain.NopLease}
	}

	// tempo até acumular >= 1 token
	missing := 1 - b.tokens
	wait := time.Duration(missing / b.rate * float64(b.period))
	return domain.Outcome{Verdict: domain.VerdictReject, RetryAfter: wait}
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.tokens += b.rate * float64(elapsed) / float64(b.period)
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

// Busy implementa domain.Limiter: balde não segura lease nem fila.
func (b *TokenBucket) Busy() bool { return false }

// Stop implementa domain.Limiter.
func (b *TokenBucket) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}
