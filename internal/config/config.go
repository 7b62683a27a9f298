// Package config loads the demo launcher configuration used by cmd/wlinfo
// (spec §10 "Configuration"): socket name, runtime
// directory override, and the debug-trace flag. It follows the
// reference repo's cmd/ghostctl/config.go / cmd/miragectl/config.go
// selective-overlay-onto-defaults pattern, decoding with
// github.com/BurntSushi/toml and consulting meta.IsDefined so that an
// absent key keeps the default rather than zeroing it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the demo launcher's resolved configuration.
type Config struct {
	// SocketName overrides WAYLAND_DISPLAY when non-empty.
	SocketName string `toml:"socket_name"`
	// RuntimeDir overrides XDG_RUNTIME_DIR when non-empty.
	RuntimeDir string `toml:"runtime_dir"`
	// Debug mirrors WAYLAND_DEBUG: trace every received (dispatched)
	// message. Sent messages are not traced.
	Debug bool `toml:"debug"`
}

// Default returns the launcher's baseline configuration: no overrides,
// tracing off. File-supplied values are overlaid on top of this.
func Default() Config {
	return Config{}
}

type fileConfig struct {
	SocketName string `toml:"socket_name"`
	RuntimeDir string `toml:"runtime_dir"`
	Debug      bool   `toml:"debug"`
}

// Load reads path as TOML and overlays any keys it defines onto Default().
// A missing file is not an error here; callers that require one check
// existence themselves before calling Load.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	if meta.IsDefined("socket_name") {
		cfg.SocketName = strings.TrimSpace(raw.SocketName)
	}
	if meta.IsDefined("runtime_dir") {
		cfg.RuntimeDir = strings.TrimSpace(raw.RuntimeDir)
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would only fail later, deep
// inside socket resolution, with a less specific error.
func Validate(cfg Config) error {
	if strings.ContainsRune(cfg.SocketName, '/') {
		return fmt.Errorf("config: socket_name must not contain a path separator: %q", cfg.SocketName)
	}
	return nil
}
