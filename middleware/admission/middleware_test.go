package admission

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

func testEngine(t *testing.T, named []domain.Policy) (*application.Controller, *infra.MemoryEventStore) {
	t.Helper()
	reg, err := domain.NewRegistry(
		domain.Policy{Kind: domain.KindTokenBucket, Limit: 1000, Rate: 1000, Window: time.Second},
		named,
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	events := infra.NewMemoryEventStore(infra.WithTrackKeys(true))
	reporter := application.NewReporter(events, nil)
	return application.NewController(reg, infra.NewStore(), reporter), events
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_AdmitsAndRejectsWithRetryAfter(t *testing.T) {
	ctrl, events := testEngine(t, []domain.Policy{
		{Name: "op", Kind: domain.KindFixedWindow, Limit: 1, Window: time.Minute},
	})
	reporter := application.NewReporter(events, nil)

	h := Middleware(Options{Controller: ctrl, Reporter: reporter, Policy: "op"})(okHandler())

	r1 := httptest.NewRequest(http.MethodGet, "http://example/op", nil)
	r1.RemoteAddr = "10.0.0.1:1234"
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, r1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", w1.Code)
	}

	r2 := httptest.NewRequest(http.MethodGet, "http://example/op", nil)
	r2.RemoteAddr = "10.0.0.1:9999" // mesma chave: porta não entra
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, r2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request 429, got %d", w2.Code)
	}
	if ra := w2.Header().Get("Retry-After"); ra != "60" {
		t.Fatalf("expected Retry-After 60 (rest of the window), got %q", ra)
	}

	total := events.Total()
	if total.Allowed != 1 || total.Denied != 1 {
		t.Fatalf("expected 1 allowed / 1 denied recorded, got %+v", total)
	}
}

func TestMiddleware_DistinctCallersGetDistinctPartitions(t *testing.T) {
	ctrl, _ := testEngine(t, []domain.Policy{
		{Name: "op", Kind: domain.KindFixedWindow, Limit: 1, Window: time.Minute},
	})
	h := Middleware(Options{Controller: ctrl, Policy: "op"})(okHandler())

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("caller %s: expected 200, got %d", addr, w.Code)
		}
	}
}

func TestMiddleware_LoopbackIsNeverLimited(t *testing.T) {
	ctrl, _ := testEngine(t, []domain.Policy{
		{Name: "op", Kind: domain.KindFixedWindow, Limit: 1, Window: time.Minute},
	})
	h := Middleware(Options{Controller: ctrl, Policy: "op"})(okHandler())

	for i := 0; i < 50; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.RemoteAddr = "127.0.0.1:4321"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("loopback request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestMiddleware_IdentityTakesPrecedenceOverAddress(t *testing.T) {
	ctrl, _ := testEngine(t, []domain.Policy{
		{Name: "op", Kind: domain.KindFixedWindow, Limit: 1, Window: time.Minute},
	})
	h := Middleware(Options{
		Controller: ctrl,
		Policy:     "op",
		IdentityFn: func(r *http.Request) string { return r.Header.Get("X-Test-User") },
	})(okHandler())

	// mesmo IP, identidades distintas: partições distintas
	for _, user := range []string{"alice", "bob"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.RemoteAddr = "10.0.0.1:1"
		r.Header.Set("X-Test-User", user)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("user %s: expected 200, got %d", user, w.Code)
		}
	}

	// identidade repetida estoura o limite
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.99:1"
	r.Header.Set("X-Test-User", "alice")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for repeated identity, got %d", w.Code)
	}
}

func TestMiddleware_UntrustedHeaderIsIgnored(t *testing.T) {
	ctrl, _ := testEngine(t, []domain.Policy{
		{Name: "op", Kind: domain.KindFixedWindow, Limit: 1, Window: time.Minute},
	})
	h := Middleware(Options{Controller: ctrl, Policy: "op", TrustXForwardedFor: false})(okHandler())

	// XFF variando não engana o limiter quando não confiamos no header
	for i, xff := range []string{"1.1.1.1", "2.2.2.2"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.RemoteAddr = "10.0.0.1:1"
		r.Header.Set("X-Forwarded-For", xff)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		want := http.StatusOK
		if i > 0 {
			want = http.StatusTooManyRequests
		}
		if w.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, w.Code)
		}
	}
}

func TestMiddleware_StoppingReturns503(t *testing.T) {
	ctrl, _ := testEngine(t, []domain.Policy{
		{Name: "op", Kind: domain.KindFixedWindow, Limit: 1, Window: time.Minute},
	})
	h := Middleware(Options{Controller: ctrl, Policy: "op"})(okHandler())

	ctrl.Stop()

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while stopping, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected a Retry-After hint while stopping")
	}
}

func TestMiddleware_UnknownPolicyIs500(t *testing.T) {
	ctrl, _ := testEngine(t, nil)
	h := Middleware(Options{Controller: ctrl, Policy: "nope"})(okHandler())

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unknown policy, got %d", w.Code)
	}
}

func TestMiddleware_ConcurrencyReleaseFreesPermit(t *testing.T) {
	ctrl, _ := testEngine(t, []domain.Policy{
		{Name: "op", Kind: domain.KindConcurrency, Limit: 1, QueueLimit: 0},
	})
	h := Middleware(Options{Controller: ctrl, Policy: "op"})(okHandler())

	// o release no fim do handler devolve o permit: requisições sequenciais
	// ilimitadas passam mesmo com permitLimit 1
	for i := 0; i < 5; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.RemoteAddr = "10.0.0.1:1"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 after release, got %d", i, w.Code)
		}
	}
}

func TestMiddleware_PolicyHeaderOptIn(t *testing.T) {
	ctrl, _ := testEngine(t, []domain.Policy{
		{Name: "op", Kind: domain.KindFixedWindow, Limit: 10, Window: time.Minute},
	})
	h := Middleware(Options{Controller: ctrl, Policy: "op", AddPolicyHeader: true})(okHandler())

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if got := w.Header().Get("X-Admission-Policy"); got != "op" {
		t.Fatalf("expected policy header, got %q", got)
	}
	// a chave de partição nunca vaza em header
	for name := range w.Header() {
		if name == "X-Admission-Key" {
			t.Fatalf("partition key must never be exposed")
		}
	}
}
