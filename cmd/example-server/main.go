package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy)
	global := domain.Policy{Kind: domain.KindTokenBucket, Limit: 100, Rate: 50, Window: time.Second}
	policies := []domain.Policy{
		{Name: "api", Kind: domain.KindSlidingWindow, Limit: 30, Window: 10 * time.Second, Segments: 5, QueueLimit: 10},
		{Name: "slow", Kind: domain.KindConcurrency, Limit: 4, QueueLimit: 8},
	}
	registry, err := domain.NewRegistry(global, policies)
	if err != nil {
		log.Fatalf("registry error: %v", err)
	}

	store := infra.NewStore()
	events := infra.NewMemoryEventStore()
	reporter := application.NewReporter(events, nil)
	controller := application.NewController(registry, store, reporter)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	// endpoint lento para exercitar a política de concorrência na mão
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("slow ok\n"))
	})

	h := http.Handler(mux)
	h = admission.Middleware(admission.Options{
		Controller: controller,
		Reporter:   reporter,
		PolicyFn: func(r *http.Request) string {
			if r.URL.Path == "/slow" {
				return "slow"
			}
			return "api"
		},
		TrustXForwardedFor: true,
		AddPolicyHeader:    true,
	})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		controller.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("example server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}

	total := events.Total()
	log.Printf("admission totals: allowed=%d denied=%d", total.Allowed, total.Denied)
}
