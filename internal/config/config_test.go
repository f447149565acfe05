package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_NormalizesAndEnsuresLogDir(t *testing.T) {
	tmp := t.TempDir()
	cfg := &Config{
		SourceRoot: filepath.Join(tmp, "source"),
		MirrorRoot: filepath.Join(tmp, "mirror"),
		LogDir:     filepath.Join(tmp, "logs", "nested"),
	}

	require.NoError(t, cfg.Resolve())

	assert.True(t, filepath.IsAbs(cfg.SourceRoot))
	assert.True(t, filepath.IsAbs(cfg.MirrorRoot))
	assert.DirExists(t, cfg.LogDir)
	assert.Equal(t, DefaultSyncInterval, cfg.SyncInterval)
}

func TestResolve_KeepsExplicitInterval(t *testing.T) {
	tmp := t.TempDir()
	cfg := &Config{
		SourceRoot:   tmp,
		MirrorRoot:   filepath.Join(tmp, "mirror"),
		LogDir:       filepath.Join(tmp, "logs"),
		SyncInterval: 30 * time.Second,
	}

	require.NoError(t, cfg.Resolve())
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
}

func TestValidate(t *testing.T) {
	tmp := t.TempDir()
	source := filepath.Join(tmp, "source")
	require.NoError(t, os.MkdirAll(source, 0o755))

	t.Run("ok", func(t *testing.T) {
		cfg := &Config{
			SourceRoot: source,
			MirrorRoot: filepath.Join(tmp, "mirror"),
			LogDir:     filepath.Join(tmp, "logs"),
		}
		require.NoError(t, cfg.Resolve())
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing source is fatal", func(t *testing.T) {
		cfg := &Config{
			SourceRoot: filepath.Join(tmp, "does-not-exist"),
			MirrorRoot: filepath.Join(tmp, "mirror"),
			LogDir:     filepath.Join(tmp, "logs"),
		}
		require.NoError(t, cfg.Resolve())
		err := cfg.Validate()
		assert.True(t, errors.Is(err, ErrSourceMissing))
	})

	t.Run("mirror inside source rejected", func(t *testing.T) {
		cfg := &Config{
			SourceRoot: source,
			MirrorRoot: filepath.Join(source, "mirror"),
			LogDir:     filepath.Join(tmp, "logs"),
		}
		require.NoError(t, cfg.Resolve())
		err := cfg.Validate()
		assert.True(t, errors.Is(err, ErrMirrorInsideSrc))
	})

	t.Run("mirror equals source rejected", func(t *testing.T) {
		cfg := &Config{
			SourceRoot: source,
			MirrorRoot: source,
			LogDir:     filepath.Join(tmp, "logs"),
		}
		require.NoError(t, cfg.Resolve())
		assert.Error(t, cfg.Validate())
	})
}

func TestDefaults(t *testing.T) {
	assert.NotEmpty(t, DefaultSourceRoot())
	assert.NotEmpty(t, DefaultMirrorRoot())
	assert.NotEmpty(t, DefaultLogDir())
	assert.NotEqual(t, DefaultSourceRoot(), DefaultMirrorRoot())
}
