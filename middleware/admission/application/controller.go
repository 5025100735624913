package application

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// Result é a decisão final de uma admissão.
//
// Quando admitido, Release deve ser chamado exatamente uma vez ao fim da
// requisição (os leases toleram chamadas repetidas, então defer é seguro).
// Quando rejeitado, RetryAfter é a dica crua do algoritmo (0 = sem
// recomendação) e Reason explica o motivo.
type Result struct {
	Admitted   bool
	Release    func()
	Reason     domain.Reason
	RetryAfter time.Duration
	Resolution domain.Resolution
}

// Controller é o único ponto de entrada usado pela camada de transporte.
//
// Fluxo: resolve a chave do chamador, tenta a política global (que sempre tem
// precedência: rejeição global curto-circuita sem tocar a política nomeada),
// depois a política nomeada. Resultados enfileirados suspendem o chamador até
// grant, cancelamento (ctx) ou shutdown.
type Controller struct {
	registry *domain.Registry
	parts    domain.PartitionSource
	reporter *Reporter

	stop     chan struct{}
	stopOnce sync.Once
}

// stopper é o que o Controller precisa do store no shutdown.
type stopper interface {
	Stop()
}

func NewController(reg *domain.Registry, parts domain.PartitionSource, reporter *Reporter) *Controller {
	return &Controller{
		registry: reg,
		parts:    parts,
		reporter: reporter,
		stop:     make(chan struct{}),
	}
}

// Admit decide aceitar, esperar ou rejeitar a requisição para a política
// nomeada. O único erro possível é nome de política desconhecido (erro de
// programação: o gateway valida todos os nomes no startup); todo o resto é
// valor de resultado.
func (c *Controller) Admit(ctx context.Context, policyName string, caller domain.Caller) (Result, error) {
	named, err := c.registry.Resolve(policyName)
	if err != nil {
		return Result{}, err
	}

	res := domain.Resolve(caller)
	if res.Malformed != "" {
		c.reporter.ResolutionFailure(res.Malformed)
	}
	if res.Bypass() {
		// loopback e entrada não-parseável nunca são limitados
		return Result{Admitted: true, Release: func() {}, Resolution: res}, nil
	}

	globalLease, reason, retry, ok := c.acquire(ctx, c.registry.Global(), res.Key)
	if !ok {
		if reason == domain.ReasonNone {
			reason = domain.ReasonGlobalLimit
		}
		return Result{Reason: reason, RetryAfter: retry, Resolution: res}, nil
	}

	namedLease, reason, retry, ok := c.acquire(ctx, named, res.Key)
	if !ok {
		// devolve o lease global para não vazar permit quando a global for
		// de concorrência; para contadores é no-op
		globalLease.Release()
		if reason == domain.ReasonNone {
			reason = domain.ReasonPolicyLimit
		}
		return Result{Reason: reason, RetryAfter: retry, Resolution: res}, nil
	}

	release := func() {
		// leases independentes; ordem de release não importa
		namedLease.Release()
		globalLease.Release()
	}
	return Result{Admitted: true, Release: release, Resolution: res}, nil
}

// acquire tenta uma política e, se enfileirado, espera grant, cancelamento ou
// shutdown. Reason devolvida: ReasonNone = limite de capacidade (quem chama
// decide se foi global ou nomeada), ReasonCancelled ou ReasonStopping.
func (c *Controller) acquire(ctx context.Context, pol domain.Policy, key domain.Key) (domain.Lease, domain.Reason, time.Duration, bool) {
	select {
	case <-c.stop:
		return nil, domain.ReasonStopping, 0, false
	default:
	}

	lim := c.parts.GetOrCreate(pol, key)
	out := lim.TryAcquire(time.Now())

	switch out.Verdict {
	case domain.VerdictAdmit:
		return out.Lease, domain.ReasonNone, 0, true
	case domain.VerdictReject:
		return nil, domain.ReasonNone, out.RetryAfter, false
	}

	select {
	case g := <-out.Waiter.Ready():
		if g.Stopped {
			return nil, domain.ReasonStopping, 0, false
		}
		return g.Lease, domain.ReasonNone, 0, true
	case <-ctx.Done():
		out.Waiter.Cancel()
		return nil, domain.ReasonCancelled, 0, false
	case <-c.stop:
		out.Waiter.Cancel()
		return nil, domain.ReasonStopping, 0, false
	}
}

// Stop encerra o motor: admissões novas e esperas pendentes passam a ser
// rejeitadas com o motivo de shutdown. Se o PartitionSource souber parar
// (caso do Store de infra), as filas são drenadas também.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if s, ok := c.parts.(stopper); ok {
			s.Stop()
		}
	})
}
