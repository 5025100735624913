package infra

import (
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// waitQueue é a fila FIFO de admissões pendentes de uma partição.
//
// Toda manipulação ocorre sob o mutex da partição dona (recebido na
// construção); a fila em si não tem lock próprio. Atendimento é estritamente
// oldest-first: só a cabeça pode receber grant.
type waitQueue struct {
	mu      *sync.Mutex
	limit   int
	entries []*waiter
}

type waiterState int

const (
	waiterWaiting waiterState = iota
	waiterGranted
	waiterCancelled
	waiterStopped
)

type waiter struct {
	q     *waitQueue
	ready chan domain.Grant
	at    time.Time
	state waiterState
}

func newWaitQueue(mu *sync.Mutex, limit int) *waitQueue {
	return &waitQueue{mu: mu, limit: limit}
}

// push enfileira um novo waiter; nil quando a fila está cheia.
// Pré-condição: mutex da partição em posse do chamador.
func (q *waitQueue) push(now time.Time) *waiter {
	if len(q.entries) >= q.limit {
		return nil
	}
	w := &waiter{
		q: q,
		// buffer 1: o grant nunca bloqueia quem entrega
		ready: make(chan domain.Grant, 1),
		at:    now,
	}
	q.entries = append(q.entries, w)
	return w
}

// pop remove e retorna a cabeça da fila (nil se vazia).
// Pré-condição: mutex em posse do chamador.
func (q *waitQueue) pop() *waiter {
	if len(q.entries) == 0 {
		return nil
	}
	w := q.entries[0]
	q.entries = q.entries[1:]
	return w
}

// len conta os waiters pendentes. Pré-condição: mutex em posse do chamador.
func (q *waitQueue) len() int { return len(q.entries) }

// grant entrega o resultado a um waiter já removido da fila.
// Pré-condição: mutex em posse do chamador.
func (q *waitQueue) grant(w *waiter, g domain.Grant) {
	w.state = waiterGranted
	w.ready <- g
}

// drainStopped rejeita todos os waiters pendentes com Grant{Stopped: true}.
// Pré-condição: mutex em posse do chamador.
func (q *waitQueue) drainStopped() {
	for _, w := range q.entries {
		w.state = waiterStopped
		w.ready <- domain.Grant{Stopped: true}
	}
	q.entries = nil
}

// Ready implementa domain.Waiter.
func (w *waiter) Ready() <-chan domain.Grant { return w.ready }

// Cancel implementa domain.Waiter.
//
// Enquanto espera: remove da fila na hora, liberando a vaga sem efeito em
// contadores (uma espera cancelada nunca consumiu capacidade). Se o grant já
// saiu (corrida com um release/pump), o lease concedido é devolvido para não
// vazar capacidade.
func (w *waiter) Cancel() {
	w.q.mu.Lock()
	switch w.state {
	case waiterWaiting:
		for i, e := range w.q.entries {
			if e == w {
				w.q.entries = append(w.q.entries[:i], w.q.entries[i+1:]...)
				break
			}
		}
		w.state = waiterCancelled
		w.q.mu.Unlock()
		return
	case waiterGranted:
		w.state = waiterCancelled
		w.q.mu.Unlock()
		g := <-w.ready
		if g.Lease != nil {
			g.Lease.Release()
		}
		return
	}
	w.q.mu.Unlock()
}
