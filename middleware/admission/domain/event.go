package domain

import (
	"context"
	"time"
)

// Event representa uma decisão de admissão para o coletor de eventos.
//
// Propositalmente agnóstico de HTTP: Method/Path são strings genéricas.
//
// Observação: cuidado com cardinalidade — gravar Key/Path sem controle pode
// explodir o número de séries em uma base como Redis.
type Event struct {
	Key     Key
	Allowed bool
	Reason  Reason

	Method string
	Path   string

	// RetryAfter é a dica reportada ao chamador (só em rejeição).
	RetryAfter time.Duration

	At time.Time
}

// EventStore é a estratégia de persistência dos eventos de admissão.
//
// Implementações podem gravar em Redis, memória, etc. O chamador trata erro
// como best-effort: falha de log nunca afeta a decisão já tomada.
type EventStore interface {
	Record(ctx context.Context, ev Event) error
}
