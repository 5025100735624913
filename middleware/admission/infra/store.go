package infra

import (
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// Store é o dono exclusivo do estado por partição: cria sob demanda na
// primeira requisição de uma (política, chave) e remove entradas ociosas
// além do período de retenção.
type Store struct {
	mu         sync.Mutex
	entries    map[partitionKey]*partitionEntry
	retention  time.Duration
	sweepEvery time.Duration
}

type partitionKey struct {
	policy string
	key    domain.Key
}

type partitionEntry struct {
	lim      domain.Limiter
	lastSeen time.Time
}

type StoreOption func(*Store)

func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) { s.retention = d }
}

func WithSweepEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.sweepEvery = d }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries:    make(map[partitionKey]*partitionEntry),
		retention:  15 * time.Minute,
		sweepEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) SweepEvery() time.Duration { return s.sweepEvery }

// GetOrCreate implementa domain.PartitionSource. Invariante: no máximo uma
// instância de estado por (política, chave) a qualquer momento.
func (s *Store) GetOrCreate(p domain.Policy, key domain.Key) domain.Limiter {
	now := time.Now()
	k := partitionKey{policy: p.Name, key: key}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[k]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := newLimiter(p, now)
	s.entries[k] = &partitionEntry{lim: lim, lastSeen: now}
	return lim
}

func newLimiter(p domain.Policy, now time.Time) domain.Limiter {
	switch p.Kind {
	case domain.KindTokenBucket:
		return NewTokenBucket(p, now)
	case domain.KindFixedWindow:
		return NewFixedWindow(p, now)
	case domain.KindConcurrency:
		return NewSemaphore(p)
	default:
		return NewSlidingWindow(p)
	}
}

// Sweep remove partições ociosas além da retenção. Nunca remove partição
// ocupada (lease pendente ou fila não-vazia): Busy é checado sob o lock da
// partição, e a remoção acontece sob o lock do store, na mesma passada.
// A partição removida é parada, então uma referência obsoleta rejeita em vez
// de mutar estado órfão.
func (s *Store) Sweep(now time.Time) {
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) && !ent.lim.Busy() {
			ent.lim.Stop()
			delete(s.entries, k)
		}
	}
}

// Size conta as partições vivas.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor inicia uma goroutine que varre partições inativas
// periodicamente. Pare cancelando o contexto.
func (s *Store) StartJanitor(ctx DoneContext) {
	if s.sweepEvery <= 0 {
		return
	}

	t := time.NewTicker(s.sweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep(time.Now())
			}
		}
	}()
}

// Stop encerra todos os limiters, drenando filas pendentes com o motivo de
// shutdown. Usado quando o processo está parando.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ent := range s.entries {
		ent.lim.Stop()
	}
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar
// context aqui. (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}
