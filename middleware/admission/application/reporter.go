package application

import (
	"context"
	"log"
	"math"
	"time"

	"admission-gateway/middleware/admission/domain"

	"golang.org/x/time/rate"
)

// RedactedKey substitui chaves derivadas de identidade verificada nos eventos
// (política de privacidade: identidade não vai para o coletor).
const RedactedKey = domain.Key("user:(redacted)")

// Reporter traduz rejeições para o chamador (segundos de Retry-After) e emite
// eventos estruturados para o coletor externo, sempre best-effort: falha de
// coleta jamais afeta a decisão já tomada.
type Reporter struct {
	events domain.EventStore
	logger *log.Logger

	// throttle segura o volume de logs de endereço malformado:
	// entrada hostil não pode inundar o log
	throttle *rate.Limiter
}

// NewReporter cria um reporter; events e logger podem ser nil (sem coleta,
// log padrão).
func NewReporter(events domain.EventStore, logger *log.Logger) *Reporter {
	if logger == nil {
		logger = log.Default()
	}
	return &Reporter{
		events:   events,
		logger:   logger,
		throttle: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// RetryAfterSeconds converte a dica de um algoritmo no valor inteiro do
// header: teto em segundos, nunca negativo; sem recomendação (<= 0) vira o
// piso de 1s.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

// Rejected computa os segundos de retry e emite o evento de rejeição.
// Retorna os segundos para o adapter HTTP escrever no header.
func (r *Reporter) Rejected(ctx context.Context, method, path string, res domain.Resolution, reason domain.Reason, retryAfter time.Duration) int {
	secs := RetryAfterSeconds(retryAfter)
	if r == nil {
		return secs
	}
	r.record(ctx, domain.Event{
		Key:        r.eventKey(res),
		Allowed:    false,
		Reason:     reason,
		Method:     method,
		Path:       path,
		RetryAfter: time.Duration(secs) * time.Second,
		At:         time.Now(),
	})
	return secs
}

// Admitted emite o evento de admissão (best-effort).
func (r *Reporter) Admitted(ctx context.Context, method, path string, res domain.Resolution) {
	if r == nil {
		return
	}
	r.record(ctx, domain.Event{
		Key:     r.eventKey(res),
		Allowed: true,
		Method:  method,
		Path:    path,
		At:      time.Now(),
	})
}

// ResolutionFailure registra, com baixa severidade e vazão limitada, uma
// entrada que não parseou como IP e degradou para bypass.
func (r *Reporter) ResolutionFailure(raw string) {
	if r == nil || !r.throttle.Allow() {
		return
	}
	r.logger.Printf("admission: unparseable caller address %q, failing open", raw)
}

func (r *Reporter) eventKey(res domain.Resolution) domain.Key {
	if res.Source == domain.SourceIdentity {
		return RedactedKey
	}
	return res.Key
}

func (r *Reporter) record(ctx context.Context, ev domain.Event) {
	// o contrato é "nunca levanta": nem erro nem panic do coletor escapam
	defer func() { _ = recover() }()
	if r.events == nil {
		return
	}
	_ = r.events.Record(ctx, ev)
}
