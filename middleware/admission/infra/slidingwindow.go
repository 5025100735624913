package infra

import (
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// SlidingWindow é o contador de janela deslizante de uma partição.
//
// A janela W é dividida em S segmentos iguais. A carga atual é a soma das
// contagens dos segmentos vivos, com o segmento mais antigo ponderado pela
// fração que ainda sobrepõe a janela. Quando cheia, admissões entram em fila
// FIFO; um timer reexamina a fila quando o segmento mais antigo drena por
// completo (a mesma estimativa usada na dica de retry).
type SlidingWindow struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	segment time.Duration

	segments []windowSegment
	queue    *waitQueue
	timer    *time.Timer
	stopped  bool
}

type windowSegment struct {
	start time.Time
	count int
}

func (s windowSegment) end(segment time.Duration) time.Time { return s.start.Add(segment) }

func NewSlidingWindow(p domain.Policy) *SlidingWindow {
	s := &SlidingWindow{
		limit:   p.Limit,
		window:  p.Window,
		segment: p.Window / time.Duration(p.Segments),
	}
	s.queue = newWaitQueue(&s.mu, p.QueueLimit)
	return s
}

// TryAcquire implementa domain.Limiter.
func (s *SlidingWindow) TryAcquire(now time.Time) domain.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return domain.Outcome{Verdict: domain.VerdictReject}
	}

	s.advance(now)

	// fila não-vazia: a nova chegada entra atrás, não fura
	if s.queue.len() == 0 && s.load(now) < float64(s.limit) {
		s.record(now)
		return domain.Outcome{Verdict: domain.VerdictAdmit, Lease: domain.NopLease}
	}

	if w := s.queue.push(now); w != nil {
		s.scheduleLocked(now)
		return domain.Outcome{Verdict: domain.VerdictQueue, Waiter: w}
	}

	return domain.Outcome{Verdict: domain.VerdictReject, RetryAfter: s.drainDelay(now)}
}

// advance descarta segmentos cujo fim já saiu da janela (end <= now-W).
func (s *SlidingWindow) advance(now time.Time) {
	left := now.Add(-s.window)
	for len(s.segments) > 0 && !s.segments[0].end(s.segment).After(left) {
		s.segments = s.segments[1:]
	}
}

// load soma as contagens vivas, ponderando o segmento mais antigo pela
// sobreposição restante com a janela.
func (s *SlidingWindow) load(now time.Time) float64 {
	left := now.Add(-s.window)
	var total float64
	for i, seg := range s.segments {
		w := 1.0
		if i == 0 && seg.start.Before(left) {
			w = float64(seg.end(s.segment).Sub(left)) / float64(s.segment)
		}
		total += w * float64(seg.count)
	}
	return total
}

// record incrementa o segmento corrente (grade alinhada ao tamanho do segmento).
func (s *SlidingWindow) record(now time.Time) {
	cur := now.Truncate(s.segment)
	if n := len(s.segments); n > 0 && s.segments[n-1].start.Equal(cur) {
		s.segments[n-1].count++
		return
	}
	s.segments = append(s.segments, windowSegment{start: cur, count: 1})
}

// drainDelay é o tempo até a contagem do segmento mais antigo drenar por
// inteiro da janela.
func (s *SlidingWindow) drainDelay(now time.Time) time.Duration {
	if len(s.segments) == 0 {
		return 0
	}
	d := s.segments[0].end(s.segment).Add(s.window).Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// scheduleLocked garante que o pump vai rodar quando capacidade puder surgir.
// Pré-condição: mutex em posse do chamador.
func (s *SlidingWindow) scheduleLocked(now time.Time) {
	d := s.drainDelay(now)
	if d <= 0 {
		d = time.Millisecond
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(d, s.pump)
		return
	}
	s.timer.Reset(d)
}

// pump reexamina a fila: admite da cabeça enquanto couber, reagenda se sobrar.
func (s *SlidingWindow) pump() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	now := time.Now()
	s.advance(now)
	for s.queue.len() > 0 && s.load(now) < float64(s.limit) {
		w := s.queue.pop()
		s.record(now)
		s.queue.grant(w, domain.Grant{Lease: domain.NopLease})
	}
	if s.queue.len() > 0 {
		s.scheduleLocked(now)
	}
}

// Busy implementa domain.Limiter: ocupada enquanto houver fila.
func (s *SlidingWindow) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len() > 0
}

// Stop implementa domain.Limiter.
func (s *SlidingWindow) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.queue.drainStopped()
}
