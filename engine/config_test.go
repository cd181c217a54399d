package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pferrors "github.com/wippyai/packedfunc/errors"
)

func TestConfig_Validate(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero", Config{}, false},
		{"limits", Config{MemoryLimitPages: 256, MaxArgs: 16}, false},
		{"existing cache dir", Config{CompilationCacheDir: dir}, false},
		{"cache dir created on first use", Config{CompilationCacheDir: filepath.Join(dir, "cache", "wasm")}, false},
		{"cache dir is a file", Config{CompilationCacheDir: file}, true},
		{"too many pages", Config{MemoryLimitPages: 65537}, true},
		{"negative args", Config{MaxArgs: -1}, true},
		{"too many args", Config{MaxArgs: 70000}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var e *pferrors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, pferrors.PhaseConfig, e.Phase)
		})
	}
}

func TestConfig_MaxArgsDefault(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, DefaultMaxArgs, cfg.maxArgs())
}

func TestNewLocal_InvalidConfig(t *testing.T) {
	_, err := NewLocal(&Config{MaxArgs: -5})
	assert.Error(t, err)
}

func TestNewLocal_MissingCacheDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	l, err := NewLocal(&Config{CompilationCacheDir: dir})
	require.NoError(t, err)
	defer l.Close(t.Context())

	mod := loadWasm(t, l, "arith.wasm")
	assert.Zero(t, l.ModFree(mod))
}
