// Command wlinfo connects to a display server, performs one round-trip to
// force the initial global replay, prints every advertised global, and
// exits. It is the protocol-core analogue of wayland-info.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/CSRedRat/wayland/internal/client"
	"github.com/CSRedRat/wayland/internal/config"
	"github.com/CSRedRat/wayland/internal/logging"
)

func main() {
	logging.ConfigureRuntime()

	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a TOML config file")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "wlinfo: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cfg.SocketName != "" {
		os.Setenv("WAYLAND_DISPLAY", cfg.SocketName)
	}
	if cfg.RuntimeDir != "" {
		os.Setenv("XDG_RUNTIME_DIR", cfg.RuntimeDir)
	}
	if cfg.Debug {
		os.Setenv("WAYLAND_DEBUG", "1")
	}

	c, err := client.Connect()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	if _, err := c.Roundtrip(); err != nil {
		return fmt.Errorf("roundtrip: %w", err)
	}
	if c.Fatal() {
		return fmt.Errorf("connection entered the fatal-error state")
	}

	for _, g := range c.Globals() {
		fmt.Printf("%-4d %-32s v%d\n", g.Name, g.Interface, g.Version)
	}
	log.Debug().Int("count", len(c.Globals())).Msg("wlinfo: listed globals")
	return nil
}
