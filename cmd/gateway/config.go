package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"gopkg.in/yaml.v3"
)

type config struct {
	listenAddr   string
	upstreamURL  string
	trustXFF     bool
	policyHeader bool

	limitsPath string

	retention  time.Duration
	sweepEvery time.Duration

	eventsEnabled       bool
	eventsRedisAddr     string
	eventsRedisPassword string
	eventsRedisDB       int
	eventsPrefix        string
	eventsTTL           time.Duration
	eventsBucket        string
	eventsTrackKeys     bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.policyHeader = getenvBoolDefault("ADD_POLICY_HEADER", false)
	cfg.limitsPath = os.Getenv("LIMITS_CONFIG")
	cfg.retention = getenvDurationDefault("PARTITION_RETENTION", 15*time.Minute)
	cfg.sweepEvery = getenvDurationDefault("PARTITION_SWEEP_EVERY", 2*time.Minute)

	cfg.eventsEnabled = getenvBoolDefault("EVENTS_ENABLED", false)
	cfg.eventsRedisAddr = getenvDefault("EVENTS_REDIS_ADDR", "")
	cfg.eventsRedisPassword = os.Getenv("EVENTS_REDIS_PASSWORD")
	cfg.eventsRedisDB = getenvIntDefault("EVENTS_REDIS_DB", 0)
	cfg.eventsPrefix = getenvDefault("EVENTS_PREFIX", "admission:events")
	cfg.eventsTTL = getenvDurationDefault("EVENTS_TTL", 24*time.Hour)
	cfg.eventsBucket = getenvDefault("EVENTS_BUCKET", "minute")
	cfg.eventsTrackKeys = getenvBoolDefault("EVENTS_TRACK_KEYS", false)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.eventsEnabled && strings.TrimSpace(cfg.eventsRedisAddr) == "" {
		return config{}, errors.New("EVENTS_REDIS_ADDR is required when EVENTS_ENABLED=true")
	}
	if cfg.retention <= 0 {
		return config{}, errors.New("PARTITION_RETENTION must be > 0")
	}
	return cfg, nil
}

// limits descreve o arquivo YAML de políticas (LIMITS_CONFIG).
type limits struct {
	Global        policySpec            `yaml:"global"`
	Policies      map[string]policySpec `yaml:"policies"`
	Routes        map[string]string     `yaml:"routes"`
	DefaultPolicy string                `yaml:"default_policy"`
}

type policySpec struct {
	Kind       string  `yaml:"kind"`
	Limit      int     `yaml:"limit"`
	Window     string  `yaml:"window"`
	Period     string  `yaml:"period"`
	Segments   int     `yaml:"segments"`
	Rate       float64 `yaml:"rate"`
	Queue      int     `yaml:"queue"`
	QueueOrder string  `yaml:"queue_order"`
}

func (s policySpec) toPolicy(name string) (domain.Policy, error) {
	p := domain.Policy{
		Name:       name,
		Limit:      s.Limit,
		Segments:   s.Segments,
		Rate:       s.Rate,
		QueueLimit: s.Queue,
		QueueOrder: s.QueueOrder,
	}
	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case "sliding_window":
		p.Kind = domain.KindSlidingWindow
	case "token_bucket":
		p.Kind = domain.KindTokenBucket
	case "fixed_window":
		p.Kind = domain.KindFixedWindow
	case "concurrency":
		p.Kind = domain.KindConcurrency
	default:
		return domain.Policy{}, fmt.Errorf("policy %q: unknown kind %q", name, s.Kind)
	}

	raw := s.Window
	if raw == "" {
		raw = s.Period
	}
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return domain.Policy{}, fmt.Errorf("policy %q: invalid window: %w", name, err)
		}
		p.Window = d
	}
	return p, nil
}

// loadLimits lê e valida o arquivo de políticas; path vazio usa os defaults.
func loadLimits(path string) (*domain.Registry, map[string]string, string, error) {
	doc := defaultLimits()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, "", err
		}
		doc = limits{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, nil, "", err
		}
	}

	global, err := doc.Global.toPolicy("global")
	if err != nil {
		return nil, nil, "", err
	}
	named := make([]domain.Policy, 0, len(doc.Policies))
	for name, spec := range doc.Policies {
		p, err := spec.toPolicy(name)
		if err != nil {
			return nil, nil, "", err
		}
		named = append(named, p)
	}

	reg, err := domain.NewRegistry(global, named)
	if err != nil {
		return nil, nil, "", err
	}

	if doc.DefaultPolicy == "" {
		return nil, nil, "", errors.New("default_policy is required")
	}
	if _, err := reg.Resolve(doc.DefaultPolicy); err != nil {
		return nil, nil, "", err
	}
	for route, policy := range doc.Routes {
		if !strings.HasPrefix(route, "/") {
			return nil, nil, "", fmt.Errorf("route %q must start with /", route)
		}
		if _, err := reg.Resolve(policy); err != nil {
			return nil, nil, "", fmt.Errorf("route %q: %w", route, err)
		}
	}
	return reg, doc.Routes, doc.DefaultPolicy, nil
}

// defaultLimits é o conjunto embutido de políticas quando não há arquivo.
func defaultLimits() limits {
	return limits{
		Global: policySpec{Kind: "token_bucket", Limit: 300, Rate: 100, Period: "1s"},
		Policies: map[string]policySpec{
			"register":    {Kind: "fixed_window", Limit: 20, Window: "150s"},
			"submit":      {Kind: "sliding_window", Limit: 100, Window: "30s", Segments: 6, Queue: 20},
			"container":   {Kind: "token_bucket", Limit: 60, Rate: 30, Period: "5s"},
			"concurrency": {Kind: "concurrency", Limit: 10, Queue: 20},
		},
		Routes: map[string]string{
			"/register":  "register",
			"/submit":    "submit",
			"/container": "container",
		},
		DefaultPolicy: "concurrency",
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
