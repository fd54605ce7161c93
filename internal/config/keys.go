package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

// keychainService is the service name secrets are stored under.
const keychainService = "socq"

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// account is the secret store account name: the key without its section.
func (s keySpec) account() string {
	if i := strings.LastIndexByte(s.key, '.'); i >= 0 {
		return s.key[i+1:]
	}
	return s.key
}

var specs = []keySpec{
	{
		key: "remote.base_url", typ: kString, env: "SOCQ_REMOTE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.BaseURL },
	},
	{
		key: "remote.transport", typ: kString, env: "SOCQ_REMOTE_TRANSPORT",
		apply:   func(cfg *Config, v any) { cfg.Remote.Transport = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.Transport },
	},
	{
		key: "remote.top_k", typ: kInt, env: "SOCQ_REMOTE_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Remote.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Remote.TopK },
	},
	{
		key: "remote.timeout", typ: kDuration, env: "SOCQ_REMOTE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Remote.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Remote.Timeout },
	},
	{
		key: "poll.max_attempts", typ: kInt, env: "SOCQ_POLL_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Poll.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Poll.MaxAttempts },
	},
	{
		key: "poll.interval", typ: kDuration, env: "SOCQ_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Poll.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.Interval },
	},
	{
		key: "auth.mode", typ: kString, env: "SOCQ_AUTH_MODE",
		apply:   func(cfg *Config, v any) { cfg.Auth.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Mode },
	},
	{
		key: "auth.token_endpoint", typ: kString, env: "SOCQ_AUTH_TOKEN_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Auth.TokenEndpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.TokenEndpoint },
	},
	{
		key: "auth.api_key", typ: kString, env: "SOCQ_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.APIKey },
	},
	{
		key: "auth.refresh_token", typ: kString, env: "SOCQ_REFRESH_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.RefreshToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.RefreshToken },
	},
	{
		key: "auth.token", typ: kString, env: "SOCQ_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Token },
	},
	{
		key: "auth.ssm_parameter", typ: kString, env: "SOCQ_AUTH_SSM_PARAMETER",
		apply:   func(cfg *Config, v any) { cfg.Auth.SSMParameter = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.SSMParameter },
	},
	{
		key: "server.port", typ: kInt, env: "SOCQ_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SOCQ_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SOCQ_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					slog.Warn("could not parse duration from config key, using default", "key", s.key, "value", v, "error", err)
				}
			}
		}
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
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("could not parse integer from env var, using default", "env", s.env, "value", raw, "error", err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				slog.Warn("could not parse duration from env var, using default", "env", s.env, "value", raw, "error", err)
			}
		}
	}
}
