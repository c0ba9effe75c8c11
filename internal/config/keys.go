package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // secret store account for secret keys
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "provider.api_key", typ: kString, env: "BFL_API_KEY",
		secret: true, account: apiKeyAccount,
		apply:   func(cfg *Config, v any) { cfg.Provider.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.APIKey },
	},
	{
		key: "provider.base_url", typ: kString, env: "FLUXMCP_PROVIDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.timeout", typ: kDuration, env: "FLUXMCP_PROVIDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Provider.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Provider.Timeout },
	},
	{
		key: "provider.rate_limit", typ: kFloat, env: "FLUXMCP_PROVIDER_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Provider.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Provider.RateLimit },
	},
	{
		key: "provider.rate_burst", typ: kInt, env: "FLUXMCP_PROVIDER_RATE_BURST",
		apply:   func(cfg *Config, v any) { cfg.Provider.RateBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Provider.RateBurst },
	},
	{
		key: "poll.max_attempts", typ: kInt, env: "FLUXMCP_POLL_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Poll.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Poll.MaxAttempts },
	},
	{
		key: "poll.interval", typ: kDuration, env: "FLUXMCP_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Poll.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.Interval },
	},
	{
		key: "poll.max_interval", typ: kDuration, env: "FLUXMCP_POLL_MAX_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Poll.MaxInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.MaxInterval },
	},
	{
		key: "poll.multiplier", typ: kFloat, env: "FLUXMCP_POLL_MULTIPLIER",
		apply:   func(cfg *Config, v any) { cfg.Poll.Multiplier = v.(float64) },
		extract: func(cfg Config) any { return cfg.Poll.Multiplier },
	},
	{
		key: "poll.jitter", typ: kBool, env: "FLUXMCP_POLL_JITTER",
		apply:   func(cfg *Config, v any) { cfg.Poll.Jitter = v.(bool) },
		extract: func(cfg Config) any { return cfg.Poll.Jitter },
	},
	{
		key: "poll.retry_transient", typ: kBool, env: "FLUXMCP_POLL_RETRY_TRANSIENT",
		apply:   func(cfg *Config, v any) { cfg.Poll.RetryTransient = v.(bool) },
		extract: func(cfg Config) any { return cfg.Poll.RetryTransient },
	},
	{
		key: "registry.backend", typ: kString, env: "FLUXMCP_REGISTRY_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Registry.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Registry.Backend },
	},
	{
		key: "registry.capacity", typ: kInt, env: "FLUXMCP_REGISTRY_CAPACITY",
		apply:   func(cfg *Config, v any) { cfg.Registry.Capacity = v.(int) },
		extract: func(cfg Config) any { return cfg.Registry.Capacity },
	},
	{
		key: "registry.ttl", typ: kDuration, env: "FLUXMCP_REGISTRY_TTL",
		apply:   func(cfg *Config, v any) { cfg.Registry.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Registry.TTL },
	},
	{
		key: "registry.redis_url", typ: kString, env: "FLUXMCP_REGISTRY_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Registry.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Registry.RedisURL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FLUXMCP_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "artifact.max_bytes", typ: kInt, env: "FLUXMCP_ARTIFACT_MAX_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Artifact.MaxBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Artifact.MaxBytes },
	},
	{
		key: "artifact.download_dir", typ: kString, env: "FLUXMCP_ARTIFACT_DOWNLOAD_DIR",
		apply:   func(cfg *Config, v any) { cfg.Artifact.DownloadDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Artifact.DownloadDir },
	},
	{
		key: "refresh.interval", typ: kDuration, env: "FLUXMCP_REFRESH_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Refresh.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Refresh.Interval },
	},
	{
		key: "server.http_addr", typ: kString, env: "FLUXMCP_SERVER_HTTP_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Server.HTTPAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.HTTPAddr },
	},
	{
		key: "server.token", typ: kString, env: "FLUXMCP_SERVER_TOKEN",
		secret: true, account: tokenAccount,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "FLUXMCP_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts raw into the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func (s keySpec) typeName() string {
	switch s.typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

// applyStored layers persisted settings over the defaults. Secrets are never
// read from the settings store.
func applyStored(cfg *Config, st settingsStore) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := st.Lookup(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typeName(), s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		if v, err := s.parse(raw); err == nil {
			s.apply(cfg, v)
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typeName(), s.env, raw, err)
		}
	}
}
