package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/socq/internal/answer"
	"github.com/kalambet/socq/internal/auth"
)

// Auth modes.
const (
	AuthModeRefresh = "refresh"
	AuthModeStatic  = "static"
)

type Config struct {
	Remote  RemoteConfig
	Poll    PollConfig
	Auth    AuthConfig
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
}

type RemoteConfig struct {
	BaseURL   string
	Transport string
	TopK      int
	Timeout   time.Duration
}

type PollConfig struct {
	MaxAttempts int
	Interval    time.Duration
}

type AuthConfig struct {
	Mode          string
	TokenEndpoint string
	APIKey        string
	RefreshToken  string
	Token         string
	SSMParameter  string
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Remote: RemoteConfig{
			BaseURL:   answer.DefaultBaseURL,
			Transport: answer.TransportSync,
			TopK:      3,
			Timeout:   60 * time.Second,
		},
		Poll: PollConfig{
			MaxAttempts: answer.DefaultMaxAttempts,
			Interval:    answer.DefaultPollInterval,
		},
		Auth: AuthConfig{
			Mode:          AuthModeRefresh,
			TokenEndpoint: auth.DefaultSecureTokenEndpoint,
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.socq.app) and secrets
// live in the login Keychain (service: socq).
// Elsewhere the backend is a TOML file at $XDG_CONFIG_HOME/socq/config.toml
// and secrets live in $XDG_DATA_HOME/socq/secrets.json.
//
// Environment variables (SOCQ_*) override backend values on all platforms.
// Secrets still empty after env are read from the secret store.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainStore{})
}

// secretStore abstracts Keychain access for testing.
type secretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, kc secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecretStore(&cfg, kc)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applySecretStore(cfg *Config, kc secretStore) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(*cfg).(string); v != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account()); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

// Validate rejects values the rest of the program cannot act on.
func (c Config) Validate() error {
	switch c.Remote.Transport {
	case answer.TransportSync, answer.TransportJob:
	default:
		return fmt.Errorf("remote.transport must be %q or %q, got %q", answer.TransportSync, answer.TransportJob, c.Remote.Transport)
	}
	switch c.Auth.Mode {
	case AuthModeRefresh, AuthModeStatic:
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModeRefresh, AuthModeStatic, c.Auth.Mode)
	}
	if strings.TrimSpace(c.Remote.BaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Remote.TopK <= 0 {
		return fmt.Errorf("remote.top_k must be positive, got %d", c.Remote.TopK)
	}
	if c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("poll.max_attempts must be positive, got %d", c.Poll.MaxAttempts)
	}
	if c.Poll.Interval < 0 {
		return fmt.Errorf("poll.interval must not be negative, got %s", c.Poll.Interval)
	}
	return nil
}
