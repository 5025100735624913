package domain

import "time"

// Verdict é a decisão de um TryAcquire.
type Verdict int

const (
	VerdictAdmit Verdict = iota
	VerdictQueue
	VerdictReject
)

// Reason explica uma rejeição. Faz parte do fluxo de controle normal: o
// chamador decide com base nela, nunca é propagada como erro.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonGlobalLimit: a política global rejeitou (curto-circuito).
	ReasonGlobalLimit
	// ReasonPolicyLimit: a política nomeada rejeitou.
	ReasonPolicyLimit
	// ReasonCancelled: o chamador desistiu enquanto esperava na fila.
	ReasonCancelled
	// ReasonStopping: o processo está encerrando; filas drenadas.
	ReasonStopping
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonGlobalLimit:
		return "global_limit"
	case ReasonPolicyLimit:
		return "policy_limit"
	case ReasonCancelled:
		return "cancelled"
	case ReasonStopping:
		return "stopping"
	}
	return "unknown"
}

// Lease representa capacidade concedida. Release deve ser chamada exatamente
// uma vez quando a requisição admitida termina (sucesso ou falha); as
// implementações toleram chamadas repetidas para permitir release em defer.
type Lease interface {
	Release()
}

// NopLease é o lease dos algoritmos de contagem pontual (janelas, balde):
// eles decrementam no acquire e não seguram capacidade por duração.
var NopLease Lease = nopLease{}

type nopLease struct{}

func (nopLease) Release() {}

// Grant é o resultado entregue a um waiter que saiu da fila.
// Stopped indica drenagem por shutdown (sem lease).
type Grant struct {
	Lease   Lease
	Stopped bool
}

// Waiter é uma admissão pendente na fila de uma partição.
//
// Ready entrega no máximo um Grant. Cancel remove o waiter da fila liberando a
// vaga imediatamente e sem efeito em contadores; se o grant já tiver sido
// emitido, Cancel o devolve (nenhum lease vaza).
type Waiter interface {
	Ready() <-chan Grant
	Cancel()
}

// Outcome é o resultado de um TryAcquire.
//
//   - VerdictAdmit: Lease preenchido
//   - VerdictQueue: Waiter preenchido; o chamador suspende até Grant/Cancel
//   - VerdictReject: RetryAfter é a dica de espera (0 = sem recomendação)
type Outcome struct {
	Verdict    Verdict
	Lease      Lease
	Waiter     Waiter
	RetryAfter time.Duration
}

// Limiter é o contrato comum dos quatro algoritmos sobre o estado de UMA
// partição. Todo acesso é serializado por partição (não globalmente).
type Limiter interface {
	// TryAcquire decide admitir, enfileirar ou rejeitar no instante now.
	// Não bloqueia; enfileirar devolve um Waiter para o chamador esperar.
	TryAcquire(now time.Time) Outcome

	// Busy informa se a partição segura leases pendentes ou fila não-vazia.
	// O sweep do store nunca remove partição ocupada.
	Busy() bool

	// Stop drena a fila rejeitando waiters pendentes com Grant{Stopped: true}.
	// Idempotente; TryAcquire após Stop rejeita.
	Stop()
}

// PartitionSource obtém o limiter da partição (política, chave), criando com
// estado zerado no primeiro acesso. Implementado pelo store de infra.
type PartitionSource interface {
	GetOrCreate(p Policy, key Key) Limiter
}
