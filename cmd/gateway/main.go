package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatalf("invalid UPSTREAM_URL: %v", err)
	}

	registry, routes, defaultPolicy, err := loadLimits(cfg.limitsPath)
	if err != nil {
		log.Fatalf("limits config error: %v", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("proxy error: %v", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	var events domain.EventStore
	if cfg.eventsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.eventsRedisAddr,
			Password: cfg.eventsRedisPassword,
			DB:       cfg.eventsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			log.Fatalf("redis events ping error: %v", err)
		}

		events = infra.NewRedisEventStore(
			rdb,
			infra.WithEventPrefix(cfg.eventsPrefix),
			infra.WithEventTTL(cfg.eventsTTL),
			infra.WithEventBucket(cfg.eventsBucket),
			infra.WithEventTrackKeys(cfg.eventsTrackKeys),
		)
	}

	store := infra.NewStore(
		infra.WithRetention(cfg.retention),
		infra.WithSweepEvery(cfg.sweepEvery),
	)
	reporter := application.NewReporter(events, nil)
	controller := application.NewController(registry, store, reporter)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	h := http.Handler(proxy)
	h = admission.Middleware(admission.Options{
		Controller:         controller,
		Reporter:           reporter,
		PolicyFn:           routePolicy(routes, defaultPolicy),
		TrustXForwardedFor: cfg.trustXFF,
		AddPolicyHeader:    cfg.policyHeader,
	})(h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// drena as filas antes de derrubar o listener: waiters pendentes
		// recebem 503 com o motivo de shutdown
		controller.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("gateway listening on %s -> %s", cfg.listenAddr, target)
	log.Printf("policies: default=%q named=%v trustXFF=%v", defaultPolicy, registryNames(registry), cfg.trustXFF)
	log.Printf("events: enabled=%v redisAddr=%q bucket=%q ttl=%s trackKeys=%v", cfg.eventsEnabled, cfg.eventsRedisAddr, cfg.eventsBucket, cfg.eventsTTL, cfg.eventsTrackKeys)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// routePolicy mapeia a rota para a política pelo prefixo mais longo.
func routePolicy(routes map[string]string, fallback string) admission.PolicyFunc {
	prefixes := make([]string, 0, len(routes))
	for p := range routes {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	return func(r *http.Request) string {
		for _, p := range prefixes {
			if strings.HasPrefix(r.URL.Path, p) {
				return routes[p]
			}
		}
		return fallback
	}
}

func registryNames(reg *domain.Registry) []string {
	names := reg.Names()
	sort.Strings(names)
	return names
}
