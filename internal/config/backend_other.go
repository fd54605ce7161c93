//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

func xdgDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "socq-data"
		}
	}
	return filepath.Join(dir, "socq")
}

func defaultDataDir() string {
	return xdgDataDir()
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(xdgConfigFilePath())
}

// FilePath returns the file backing the platform config backend.
func FilePath() string {
	return xdgConfigFilePath()
}
