// Package infra implements infrastructure concerns (storage, keys, paths, processes).
package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser keeps state in the user's home directory.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem keeps state under /var/lib (running as root).
	ExecModeSystem ExecMode = "system"

	// EnvDataDir overrides the detected data directory.
	EnvDataDir = "SITEGATE_DATA_DIR"
)

// ExecModeConfig holds paths based on execution mode.
type ExecModeConfig struct {
	Mode    ExecMode
	DataDir string // Where the store, its key and the log live
	IsRoot  bool
}

// StoreFilePath is the JSON file used by the file store backend.
func (c *ExecModeConfig) StoreFilePath() string {
	return filepath.Join(c.DataDir, "state.json")
}

// LogPath is the host log file.
func (c *ExecModeConfig) LogPath() string {
	return filepath.Join(c.DataDir, "sitegate.log")
}

// ErrorLogPath is the host error log file.
func (c *ExecModeConfig) ErrorLogPath() string {
	return filepath.Join(c.DataDir, "sitegate.error.log")
}

// DetectExecMode determines the execution mode based on effective UID.
// SITEGATE_DATA_DIR, when set, replaces the data directory in either mode.
func DetectExecMode() *ExecModeConfig {
	cfg := &ExecModeConfig{
		Mode:    ExecModeUser,
		DataDir: filepath.Join(GetRealUserHome(), ".sitegate"),
	}
	if os.Geteuid() == 0 && os.Getenv("SUDO_USER") == "" {
		cfg.Mode = ExecModeSystem
		cfg.DataDir = "/var/lib/sitegate"
		cfg.IsRoot = true
	}
	if dir := os.Getenv(EnvDataDir); dir != "" {
		cfg.DataDir = dir
	}
	return cfg
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root, /var/lib/sitegate)"
	case ExecModeUser:
		return "user (~/.sitegate)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
