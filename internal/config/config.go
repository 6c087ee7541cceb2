package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"stanksmarket/internal/market"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	defaultKafkaTopic = "stanks.market.tape"
)

type EngineConfig struct {
	Addr        string
	Store       string
	DatabaseURL string
	AdminToken  string
	SeedStocks  bool
	RunOnce     bool
	LogLevel    slog.Level

	Market       market.Config
	CatalogPath  string
	RedisAddr    string
	RedisPass    string
	RedisDB      int
	KafkaBrokers []string
	KafkaTopic   string
}

type CLIConfig struct {
	APIBaseURL string
	AdminToken string
}

func LoadEngineFromEnv() (EngineConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("STANKS_API_ADDR", ":8080")
	}

	profile := market.ProfileFor(envVolatilityDefault())
	halt := market.DefaultHaltPolicy()
	halt.BreakerPct = envFloatDefault("STANKS_CIRCUIT_BREAKER_PCT", halt.BreakerPct)
	halt.Cooldown = envDurationDefault("STANKS_HALT_COOLDOWN", halt.Cooldown)
	halt.MarketCooldown = envDurationDefault("STANKS_MARKET_HALT_COOLDOWN", halt.MarketCooldown)
	halt.EscalationFraction = envFloatDefault("STANKS_ESCALATION_FRACTION", halt.EscalationFraction)
	halt.EscalationWindow = envDurationDefault("STANKS_ESCALATION_WINDOW", halt.EscalationWindow)

	mc := market.DefaultConfig()
	mc.TickEvery = envDurationDefault("STANKS_MARKET_TICK_EVERY", mc.TickEvery)
	mc.Profile = profile
	mc.Halt = halt
	mc.EventProbability = envFloatDefault("STANKS_EVENT_PROBABILITY", profile.EventProbability)
	mc.IPOWindow = envDurationDefault("STANKS_IPO_WINDOW", mc.IPOWindow)
	mc.StoreRetries = envIntDefault("STANKS_STORE_RETRIES", mc.StoreRetries)
	mc.Workers = envIntDefault("STANKS_TICK_WORKERS", mc.Workers)

	cfg := EngineConfig{
		Addr:         addr,
		Store:        strings.ToLower(envDefault("STANKS_STORE", StoreMemory)),
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AdminToken:   strings.TrimSpace(os.Getenv("STANKS_ADMIN_TOKEN")),
		SeedStocks:   envBoolDefault("STANKS_SEED_STOCKS", true),
		RunOnce:      envBoolDefault("STANKS_WORKER_RUN_ONCE", false),
		LogLevel:     envLogLevel("STANKS_LOG_LEVEL"),
		Market:       mc,
		CatalogPath:  strings.TrimSpace(os.Getenv("STANKS_EVENT_CATALOG")),
		RedisAddr:    strings.TrimSpace(os.Getenv("STANKS_REDIS_ADDR")),
		RedisPass:    os.Getenv("STANKS_REDIS_PASSWORD"),
		RedisDB:      envIntDefault("STANKS_REDIS_DB", 0),
		KafkaBrokers: envList("STANKS_KAFKA_BROKERS"),
		KafkaTopic:   envDefault("STANKS_KAFKA_TOPIC", defaultKafkaTopic),
	}

	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required when STANKS_STORE=postgres")
		}
	default:
		return cfg, fmt.Errorf("STANKS_STORE must be %q or %q, got %q", StoreMemory, StorePostgres, cfg.Store)
	}
	if cfg.Market.TickEvery <= 0 {
		return cfg, fmt.Errorf("STANKS_MARKET_TICK_EVERY must be positive")
	}
	if halt.BreakerPct <= 0 || halt.BreakerPct >= 1 {
		return cfg, fmt.Errorf("STANKS_CIRCUIT_BREAKER_PCT must be in (0, 1)")
	}
	if halt.EscalationFraction <= 0 || halt.EscalationFraction > 1 {
		return cfg, fmt.Errorf("STANKS_ESCALATION_FRACTION must be in (0, 1]")
	}
	if p := cfg.Market.EventProbability; p < 0 || p > 1 {
		return cfg, fmt.Errorf("STANKS_EVENT_PROBABILITY must be in [0, 1]")
	}
	if cfg.CatalogPath != "" {
		catalog, err := market.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return cfg, err
		}
		cfg.Market.Catalog = catalog
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("STK_API_BASE_URL", "http://localhost:8080"), "/"),
		AdminToken: strings.TrimSpace(os.Getenv("STANKS_ADMIN_TOKEN")),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envLogLevel(key string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envVolatilityDefault() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("VOLATILITY")))
	if v == "" {
		v = strings.ToLower(strings.TrimSpace(os.Getenv("STANKS_MARKET_VOLATILITY")))
	}
	switch v {
	case "calm", "mor", "wild":
		return v
	default:
		return "mor"
	}
}
