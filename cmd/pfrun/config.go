package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/packedfunc/engine"
)

// fileConfig is the optional TOML configuration of pfrun.
//
//	preload = ["lib.wasm", "model.wasm"]
//	verbose = true
//
//	[engine]
//	memory_limit_pages = 256
//	compilation_cache_dir = "/tmp/pfrun-cache"
//	max_args = 64
type fileConfig struct {
	Preload []string      `toml:"preload"`
	Engine  engine.Config `toml:"engine"`
	Verbose bool          `toml:"verbose"`
}

// loadConfig reads path. An empty path yields the defaults.
func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
