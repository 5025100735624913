package infra

import (
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// FixedWindow é o contador de janela fixa de uma partição.
//
// Justiça mais grosseira que a janela deslizante (a fronteira permite até
// 2x o limite em rajada colada no reset) — aceitável para operações de baixa
// frequência, tipo registro de conta.
type FixedWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration

	count   int
	start   time.Time
	stopped bool
}

func NewFixedWindow(p domain.Policy, now time.Time) *FixedWindow {
	return &FixedWindow{
		limit:  p.Limit,
		window: p.Window,
		start:  now,
	}
}

// TryAcquire implementa domain.Limiter.
func (f *FixedWindow) TryAcquire(now time.Time) domain.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return domain.Outcome{Verdict: domain.VerdictReject}
	}

	if now.Sub(f.start) >= f.window {
		f.count = 0
		f.start = now
	}

	if f.count < f.limit {
		f.count++
		return domain.Outcome{Verdict: domain.VerdictAdmit, Lease: domain.NopLease}
	}

	retry := f.start.Add(f.window).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return domain.Outcome{Verdict: domain.VerdictReject, RetryAfter: retry}
}

// Busy implementa domain.Limiter: janela fixa não segura lease nem fila.
func (f *FixedWindow) Busy() bool { return false }

// Stop implementa domain.Limiter.
func (f *FixedWindow) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}
