package domain

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifica o algoritmo de uma política.
type Kind int

const (
	KindSlidingWindow Kind = iota
	KindTokenBucket
	KindFixedWindow
	KindConcurrency
)

func (k Kind) String() string {
	switch k {
	case KindSlidingWindow:
		return "sliding_window"
	case KindTokenBucket:
		return "token_bucket"
	case KindFixedWindow:
		return "fixed_window"
	case KindConcurrency:
		return "concurrency"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// QueueOldestFirst é a única ordem de fila suportada: waiters são atendidos
// estritamente na ordem de chegada.
const QueueOldestFirst = "oldest-first"

// Erros de configuração. São fatais no startup, nunca condição de runtime.
var (
	ErrInvalidPolicy   = errors.New("invalid policy")
	ErrUnknownPolicy   = errors.New("unknown policy")
	ErrDuplicatePolicy = errors.New("duplicate policy")
)

// Policy é a configuração imutável de uma política nomeada (ou da global).
//
//   - Limit: permits (concurrency), contagem por janela (windowed) ou
//     capacidade do balde (token bucket)
//   - Window: janela (sliding/fixed) ou período de reposição (token bucket)
//   - Segments: subdivisões da janela (sliding apenas)
//   - Rate: tokens repostos por período (token bucket apenas)
//   - QueueLimit: waiters máximos (sliding e concurrency; 0 = sem fila)
//
// Criada uma vez no startup, compartilhada read-only por todas as requisições.
type Policy struct {
	Name       string
	Kind       Kind
	Limit      int
	Window     time.Duration
	Segments   int
	Rate       float64
	QueueLimit int
	QueueOrder string
}

// Validate confere a combinação de parâmetros. Falha rápido: qualquer erro
// aqui derruba o processo no startup.
func (p Policy) Validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("%w %q: limit must be > 0", ErrInvalidPolicy, p.Name)
	}
	if p.QueueLimit < 0 {
		return fmt.Errorf("%w %q: queue limit must be >= 0", ErrInvalidPolicy, p.Name)
	}
	if p.QueueOrder != "" && p.QueueOrder != QueueOldestFirst {
		return fmt.Errorf("%w %q: unsupported queue order %q", ErrInvalidPolicy, p.Name, p.QueueOrder)
	}
	switch p.Kind {
	case KindSlidingWindow:
		if p.Window <= 0 {
			return fmt.Errorf("%w %q: window must be > 0", ErrInvalidPolicy, p.Name)
		}
		if p.Segments < 1 {
			return fmt.Errorf("%w %q: segments must be >= 1", ErrInvalidPolicy, p.Name)
		}
		if p.Window%time.Duration(p.Segments) != 0 {
			// exigimos divisão exata para a grade de segmentos não acumular resto
			return fmt.Errorf("%w %q: window must divide evenly into %d segments", ErrInvalidPolicy, p.Name, p.Segments)
		}
	case KindTokenBucket:
		if p.Window <= 0 {
			return fmt.Errorf("%w %q: replenishment period must be > 0", ErrInvalidPolicy, p.Name)
		}
		if p.Rate <= 0 {
			return fmt.Errorf("%w %q: rate must be > 0", ErrInvalidPolicy, p.Name)
		}
		if p.QueueLimit != 0 {
			return fmt.Errorf("%w %q: token bucket does not queue", ErrInvalidPolicy, p.Name)
		}
	case KindFixedWindow:
		if p.Window <= 0 {
			return fmt.Errorf("%w %q: window must be > 0", ErrInvalidPolicy, p.Name)
		}
		if p.QueueLimit != 0 {
			return fmt.Errorf("%w %q: fixed window does not queue", ErrInvalidPolicy, p.Name)
		}
	case KindConcurrency:
		// sem janela; Limit é o número de permits
	default:
		return fmt.Errorf("%w %q: unknown kind %d", ErrInvalidPolicy, p.Name, int(p.Kind))
	}
	return nil
}

// Registry liga nomes de política à sua configuração. Imutável após criado.
//
// Toda requisição passa primeiro pela política global implícita e depois pela
// política nomeada da operação.
type Registry struct {
	global   Policy
	policies map[string]Policy
}

// NewRegistry valida e congela a configuração de políticas.
func NewRegistry(global Policy, named []Policy) (*Registry, error) {
	global.Name = "global"
	if err := global.Validate(); err != nil {
		return nil, err
	}
	m := make(map[string]Policy, len(named))
	for _, p := range named {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: named policy without a name", ErrInvalidPolicy)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, ok := m[p.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePolicy, p.Name)
		}
		m[p.Name] = p
	}
	return &Registry{global: global, policies: m}, nil
}

// Global retorna a política global implícita.
func (r *Registry) Global() Policy { return r.global }

// Resolve retorna a política nomeada. Nome desconhecido é erro de programação
// (o gateway resolve todos os nomes no startup), não condição por requisição.
func (r *Registry) Resolve(name string) (Policy, error) {
	p, ok := r.policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return p, nil
}

// Names lista as políticas nomeadas (para validação no startup do gateway).
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.policies))
	for name := range r.policies {
		out = append(out, name)
	}
	return out
}
