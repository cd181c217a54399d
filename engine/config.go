package engine

import (
	"os"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/wippyai/packedfunc/errors"
)

// DefaultMaxArgs bounds the argument count of a single call.
const DefaultMaxArgs = 1024

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("cachedir", validCacheDir); err != nil {
		panic(err)
	}
	return v
}

// validCacheDir accepts a directory or a path that does not exist yet;
// wazero creates it on first use.
func validCacheDir(fl validator.FieldLevel) bool {
	info, err := os.Stat(fl.Field().String())
	if err != nil {
		return os.IsNotExist(err)
	}
	return info.IsDir()
}

// Config holds configuration for a Local runtime
type Config struct {
	// Logger overrides the package logger for this runtime.
	Logger *zap.Logger `toml:"-" validate:"-"`

	// CompilationCacheDir enables the wazero on-disk compilation cache.
	// Empty disables it.
	CompilationCacheDir string `toml:"compilation_cache_dir" validate:"omitempty,cachedir"`

	// MemoryLimitPages sets the maximum memory per wasm instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32 `toml:"memory_limit_pages" validate:"lte=65536"`

	// MaxArgs rejects calls with more arguments. 0 means DefaultMaxArgs.
	MaxArgs int `toml:"max_args" validate:"gte=0,lte=65535"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "invalid engine config")
	}
	return nil
}

func (c *Config) maxArgs() int {
	if c.MaxArgs == 0 {
		return DefaultMaxArgs
	}
	return c.MaxArgs
}
