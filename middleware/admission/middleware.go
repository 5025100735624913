package admission

import (
	"net/http"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
)

// IdentityFunc extrai a identidade verificada da requisição (ex: claim de um
// token já validado pelo middleware de autenticação). "" = anônimo.
type IdentityFunc func(r *http.Request) string

// PolicyFunc mapeia a requisição para o nome da política de admissão.
type PolicyFunc func(r *http.Request) string

type Options struct {
	Controller *application.Controller
	Reporter   *application.Reporter

	// Policy é o nome fixo da política; PolicyFn tem precedência quando
	// definido (ex: mapear por rota).
	Policy   string
	PolicyFn PolicyFunc

	IdentityFn IdentityFunc

	// TrustXForwardedFor liga a leitura do X-Forwarded-For. Só habilite com um
	// proxy confiável na frente; o header é influenciável pelo cliente.
	TrustXForwardedFor bool

	RejectStatus    int // padrão 429
	StoppingStatus  int // padrão 503
	AddPolicyHeader bool
}

// Middleware aplica o controle de admissão antes do próximo handler.
//
// A chave de partição nunca vai em resposta: o chamador rejeitado só recebe o
// status e o Retry-After.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.StoppingStatus == 0 {
		opts.StoppingStatus = http.StatusServiceUnavailable
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := domain.Caller{RemoteAddr: r.RemoteAddr}
			if opts.IdentityFn != nil {
				caller.Identity = opts.IdentityFn(r)
			}
			if opts.TrustXForwardedFor {
				caller.ForwardedFor = r.Header.Get("X-Forwarded-For")
			}

			policy := opts.Policy
			if opts.PolicyFn != nil {
				policy = opts.PolicyFn(r)
			}
			if opts.AddPolicyHeader {
				w.Header().Set("X-Admission-Policy", policy)
			}

			res, err := opts.Controller.Admit(r.Context(), policy, caller)
			if err != nil {
				// nome de política desconhecido: erro de programação no wiring
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if !res.Admitted {
				if res.Reason == domain.ReasonCancelled {
					// chamador desistiu esperando na fila; não há para quem responder
					return
				}
				secs := opts.Reporter.Rejected(r.Context(), r.Method, r.URL.Path, res.Resolution, res.Reason, res.RetryAfter)
				w.Header().Set("Retry-After", formatInt(secs))
				status := opts.RejectStatus
				if res.Reason == domain.ReasonStopping {
					status = opts.StoppingStatus
				}
				http.Error(w, http.StatusText(status), status)
				return
			}

			defer res.Release()
			opts.Reporter.Admitted(r.Context(), r.Method, r.URL.Path, res.Resolution)

			next.ServeHTTP(w, r)
		})
	}
}
