//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.socq.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "socq")
	}
	return "socq-data"
}

// FilePath returns the preferences plist backing UserDefaults.
func FilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Preferences", defaultsDomain+".plist")
	}
	return defaultsDomain + ".plist"
}

type darwinBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &darwinBackend{domain: defaultsDomain}
}

// run invokes the defaults CLI for b's domain and returns its trimmed
// combined output.
func (b *darwinBackend) run(verb, key string, extra ...string) (string, error) {
	args := append([]string{verb, b.domain, key}, extra...)
	out, err := exec.Command("defaults", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// missing reports whether err is the exit status defaults uses for an absent
// key or domain.
func missing(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}

func (b *darwinBackend) GetString(key string) (string, bool, error) {
	out, err := b.run("read", key)
	switch {
	case missing(err):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, out)
	}
	return out, true, nil
}

func (b *darwinBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *darwinBackend) SetString(key, val string) error {
	if out, err := b.run("write", key, "-string", val); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, out)
	}
	return nil
}

func (b *darwinBackend) SetInt(key string, val int) error {
	if out, err := b.run("write", key, "-int", strconv.Itoa(val)); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, out)
	}
	return nil
}

// Delete removes key; deleting an absent key is not an error.
func (b *darwinBackend) Delete(key string) error {
	out, err := b.run("delete", key)
	if err != nil && !missing(err) {
		return fmt.Errorf("defaults delete %s: %w: %s", key, err, out)
	}
	return nil
}
