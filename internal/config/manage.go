package config

import (
	"fmt"
	"strconv"
	"time"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string `json:"key" yaml:"key"`
	EnvVar string `json:"env" yaml:"env"`
	Value  string `json:"value" yaml:"value"`
	Secret bool   `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// ShowAll returns all config key/value pairs from the current config.
// Secret values are reported only as set or unset.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		info := KeyInfo{Key: s.key, EnvVar: s.env, Secret: s.secret}
		if s.secret {
			info.Value = "(unset)"
			if v, _ := s.extract(cfg).(string); v != "" {
				info.Value = "(set)"
			}
		} else {
			info.Value = fmt.Sprintf("%v", s.extract(cfg))
		}
		result = append(result, info)
	}
	return result
}

// SetKey writes a config key to the platform backend.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use `socq token` or environment variable %s", key, s.env)
	}

	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		return b.SetInt(key, i)
	case kDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", key, err)
		}
		return b.SetString(key, value)
	default:
		return b.SetString(key, value)
	}
}

// SetSecret stores a secret key (auth.api_key, auth.refresh_token,
// auth.token) in the platform secret store.
func SetSecret(key, value string) error {
	return setSecretWith(keychainStore{}, key, value)
}

func setSecretWith(kc secretStore, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok || !s.secret {
		return fmt.Errorf("%q is not a secret key", key)
	}
	if value == "" {
		return fmt.Errorf("empty value for %s", key)
	}
	return kc.Set(keychainService, s.account(), value)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
