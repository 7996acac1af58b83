package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "HANDLEGATE_"

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// HTTPAddr is the listen address of the HTTP API, in host:port form.
	HTTPAddr string `koanf:"http_addr" validate:"required,listen_addr"`

	// StoreDriver selects the authoritative store: "postgres" or "bolt".
	StoreDriver string `koanf:"store_driver" validate:"required,oneof=postgres bolt"`
	DatabaseURL string `koanf:"database_url" validate:"required_if=StoreDriver postgres"`
	BoltPath    string `koanf:"bolt_path" validate:"required_if=StoreDriver bolt"`

	// StoreTimeout bounds each store round trip on the request path.
	StoreTimeout time.Duration `koanf:"store_timeout" validate:"gt=0"`

	// UncertainPolicy decides what an availability check reports when the
	// store cannot answer: "taken" (fail-safe) or "available".
	UncertainPolicy string `koanf:"uncertain_policy" validate:"required,oneof=taken available"`

	FilterKind        string  `koanf:"filter_kind" validate:"required,oneof=cuckoo bloom"`
	FilterCapacity    uint    `koanf:"filter_capacity" validate:"gte=1"`
	FilterFPRate      float64 `koanf:"filter_fp_rate" validate:"gt=0,lt=1"`
	FilterMaxSegments int     `koanf:"filter_max_segments" validate:"gte=1,lte=32"`

	// CacheBackend selects the positive cache: "memory" or "redis".
	CacheBackend string `koanf:"cache_backend" validate:"required,oneof=memory redis"`
	// CacheMaxEntries bounds the memory cache. Zero disables caching.
	CacheMaxEntries int           `koanf:"cache_max_entries" validate:"gte=0"`
	CacheTTL        time.Duration `koanf:"cache_ttl" validate:"gt=0"`
	RedisURL        string        `koanf:"redis_url" validate:"required_if=CacheBackend redis"`

	// BootstrapDisabled skips warming the filter and cache at startup.
	// Useful for tests against an empty store.
	BootstrapDisabled    bool `koanf:"bootstrap_disabled"`
	BootstrapFilterBatch int  `koanf:"bootstrap_filter_batch" validate:"gte=1"`
	BootstrapCacheBatch  int  `koanf:"bootstrap_cache_batch" validate:"gte=1"`
	BootstrapWindowDays  int  `koanf:"bootstrap_window_days" validate:"gte=1"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server and background jobs.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// DEFAULT_APP_CONFIG defines the default application configuration. The
// defaults run a single node on an embedded store with an in-process cache.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:                  "prod",
	LogLevel:             "info",
	HTTPAddr:             ":8080",
	StoreDriver:          "bolt",
	BoltPath:             "/var/lib/handlegate/claims.db",
	StoreTimeout:         2 * time.Second,
	UncertainPolicy:      "taken",
	FilterKind:           "cuckoo",
	FilterCapacity:       100_000,
	FilterFPRate:         0.001,
	FilterMaxSegments:    8,
	CacheBackend:         "memory",
	CacheMaxEntries:      500_000,
	CacheTTL:             24 * time.Hour,
	BootstrapFilterBatch: 100,
	BootstrapCacheBatch:  250,
	BootstrapWindowDays:  30,
	ShutdownTimeout:      10 * time.Second,
}

// validListenAddr accepts "host:port" or ":port". The host, when present,
// must be an IP address or a hostname; the port must be 1-65535.
func validListenAddr(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || port == "" {
		return false
	}
	if strings.ContainsAny(host, " /") {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0
}

// envLoader loads environment variables with the prefix "HANDLEGATE_",
// lower-cased with the prefix removed. It can be replaced in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the "listen_addr" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("listen_addr", validListenAddr)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
