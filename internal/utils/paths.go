package utils

import (
	"os"
	"path/filepath"
)

const configDirName = ".taskmate"

// GetConfigDir returns ~/.taskmate, falling back to the temp dir when the home
// directory cannot be resolved.
func GetConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), configDirName)
	}
	return filepath.Join(home, configDirName)
}

// EnsureDir creates dir with owner-only permissions.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
