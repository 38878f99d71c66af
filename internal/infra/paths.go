package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	AppName = "kalshi-go"
)

// GetWorkspaceDir returns the root directory for runtime data.
// A local "_workspace" directory wins (dev mode); otherwise the OS data directory is used.
func GetWorkspaceDir() string {
	localDir := "_workspace"
	if _, err := os.Stat(localDir); err == nil {
		return localDir
	}

	var baseDir string
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, "Library", "Application Support")
	case "linux":
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			home, _ := os.UserHomeDir()
			baseDir = filepath.Join(home, ".local", "share")
		}
	default:
		return localDir
	}
	return filepath.Join(baseDir, AppName)
}

// Paths are the per-mode data locations. Paper, demo and live never share files.
type Paths struct {
	Root      string
	Data      string
	Snapshots string
	DB        string
}

// ResolvePaths derives data paths for mode, honouring explicit overrides from cfg.
func ResolvePaths(root string, cfg StorageConfig, mode string) Paths {
	p := Paths{Root: root, Data: filepath.Join(root, "data", mode)}
	p.Snapshots = cfg.SnapshotDir
	if p.Snapshots == "" {
		p.Snapshots = filepath.Join(p.Data, "snapshots")
	}
	p.DB = cfg.DBPath
	if p.DB == "" {
		p.DB = filepath.Join(p.Data, "records.db")
	}
	return p
}

// Ensure creates every directory of p.
func (p Paths) Ensure() error {
	for _, d := range []string{p.Data, p.Snapshots, filepath.Dir(p.DB)} {
		if err := EnsureDir(d); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// EnsureDir creates the directory if it doesn't exist (0755).
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// CreateLockFile blocks a second instance from writing the same data directory.
// The returned func removes the lock.
func CreateLockFile(dir string) (func(), error) {
	lockPath := filepath.Join(dir, "instance.lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another instance is already running (lock file exists: %s)", lockPath)
		}
		return nil, err
	}
	fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()

	return func() { os.Remove(lockPath) }, nil
}

// ResolveConfigPath finds config.yaml: ./configs first, then the OS config dir.
func ResolveConfigPath() string {
	defaultPath := filepath.Join("configs", "config.yaml")
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}

	if configRoot, err := os.UserConfigDir(); err == nil {
		osPath := filepath.Join(configRoot, AppName, "config.yaml")
		if _, err := os.Stat(osPath); err == nil {
			return osPath
		}
	}
	// LoadConfig reports the missing file.
	return defaultPath
}
