// Package config resolves the daemon's paths and settings from flags and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mirrorkit/mirrorkit/internal/utils"
)

const (
	// DefaultSyncInterval is how often the reconciler re-walks the source tree.
	DefaultSyncInterval = 900 * time.Second

	// LogFileName is the daemon log file created under LogDir.
	LogFileName = "mirrorkit.log"
)

var (
	ErrSourceMissing   = errors.New("source root does not exist")
	ErrMirrorInsideSrc = errors.New("mirror root must not be inside the source root")
)

// Config holds everything the daemon needs, resolved once at startup and
// passed to every component by reference. No global state.
type Config struct {
	SourceRoot   string        `json:"source"`
	MirrorRoot   string        `json:"mirror"`
	LogDir       string        `json:"log_dir"`
	SyncInterval time.Duration `json:"sync_interval"`
	Checksum     bool          `json:"checksum"`
}

// DefaultSourceRoot returns the per-OS fallback for SOURCE_ROOT.
func DefaultSourceRoot() string {
	return filepath.Join(baseDir(), "source")
}

// DefaultMirrorRoot returns the per-OS fallback for MIRROR_ROOT.
func DefaultMirrorRoot() string {
	return filepath.Join(baseDir(), "mirror")
}

// DefaultLogDir returns the per-OS fallback for LOG_DIR.
func DefaultLogDir() string {
	return filepath.Join(baseDir(), "logs")
}

func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "Documents", "MirrorKit")
	}
	return filepath.Join(home, "MirrorKit")
}

// Resolve normalizes all paths to clean absolute form and ensures the log
// directory exists. It does not check that the source root exists; the
// entry point owns that validation.
func (c *Config) Resolve() error {
	var err error

	if c.SourceRoot, err = utils.ResolvePath(c.SourceRoot); err != nil {
		return fmt.Errorf("resolve source root: %w", err)
	}
	if c.MirrorRoot, err = utils.ResolvePath(c.MirrorRoot); err != nil {
		return fmt.Errorf("resolve mirror root: %w", err)
	}
	if c.LogDir, err = utils.ResolvePath(c.LogDir); err != nil {
		return fmt.Errorf("resolve log dir: %w", err)
	}

	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}

	if err := utils.EnsureDir(c.LogDir); err != nil {
		return fmt.Errorf("ensure log dir: %w", err)
	}

	return nil
}

// Validate checks the resolved configuration for fatal problems. A missing
// source root is the only condition that terminates the process.
func (c *Config) Validate() error {
	if !utils.DirExists(c.SourceRoot) {
		return fmt.Errorf("%w: %s", ErrSourceMissing, c.SourceRoot)
	}
	if c.MirrorRoot == c.SourceRoot {
		return errors.New("mirror root and source root must differ")
	}
	if strings.HasPrefix(c.MirrorRoot, c.SourceRoot+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrMirrorInsideSrc, c.MirrorRoot)
	}
	return nil
}

// LogFilePath returns the full path of the daemon log file.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.LogDir, LogFileName)
}
