package infra

import (
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// Semaphore limita ocupação concorrente de uma partição.
//
// Único algoritmo com release explícito: mede ocupação simultânea, não taxa.
// Waiters esperam em fila FIFO; no release, o permit é entregue diretamente ao
// mais antigo (hand-off atômico, sem corrida de re-checagem).
type Semaphore struct {
	mu      sync.Mutex
	permits int

	inFlight int
	queue    *waitQueue
	stopped  bool
}

func NewSemaphore(p domain.Policy) *Semaphore {
	s := &Semaphore{permits: p.Limit}
	s.queue = newWaitQueue(&s.mu, p.QueueLimit)
	return s
}

// TryAcquire implementa domain.Limiter.
func (s *Semaphore) TryAcquire(now time.Time) domain.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return domain.Outcome{Verdict: domain.VerdictReject}
	}

	// fila não-vazia: a nova chegada entra atrás, não fura
	if s.inFlight < s.permits && s.queue.len() == 0 {
		s.inFlight++
		return domain.Outcome{Verdict: domain.VerdictAdmit, Lease: &semLease{sem: s}}
	}

	if w := s.queue.push(now); w != nil {
		return domain.Outcome{Verdict: domain.VerdictQueue, Waiter: w}
	}

	// fila cheia; ocupação não tem tempo de drenagem previsível, sem dica
	return domain.Outcome{Verdict: domain.VerdictReject}
}

// release devolve um permit. Havendo waiter, o permit muda de mãos sem
// decrementar inFlight (hand-off); senão a vaga reabre.
func (s *Semaphore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w := s.queue.pop(); w != nil {
		s.queue.grant(w, domain.Grant{Lease: &semLease{sem: s}})
		return
	}
	s.inFlight--
}

// Busy implementa domain.Limiter.
func (s *Semaphore) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight > 0 || s.queue.len() > 0
}

// Stop implementa domain.Limiter.
func (s *Semaphore) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.queue.drainStopped()
}

// semLease é o lease real do semáforo. Release é idempotente para permitir
// uso em defer mesmo quando o caminho de erro já liberou.
type semLease struct {
	sem  *Semaphore
	once sync.Once
}

func (l *semLease) Release() {
	l.once.Do(l.sem.release)
}
