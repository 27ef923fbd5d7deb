package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// Config mirrors dbgi.Options plus CLI session settings. Every field may be
// set in the TOML file; flags given on the command line win.
type Config struct {
	Slots        int    `toml:"slots"`
	Stripes      int    `toml:"stripes"`
	Lanes        int    `toml:"lanes"`
	ThreadBudget int    `toml:"thread_budget"`
	NativeExt    string `toml:"native_ext"`

	// Converter is the converter binary. "self" (the default) re-executes
	// this binary's convert subcommand; "" disables conversion.
	Converter string `toml:"converter"`
	// SignalDir holds the completion channel files ("" = temp dir).
	SignalDir string `toml:"signal_dir"`

	// Wait bounds how long a command waits for modules to load.
	Wait duration `toml:"wait"`
	// MaxAge: converted files older than now-MaxAge are regenerated.
	MaxAge duration `toml:"max_age"`
}

// duration decodes TOML strings such as "30s".
type duration struct{ time.Duration }

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func defaultConfig() Config {
	return Config{
		Converter: "self",
		Wait:      duration{30 * time.Second},
		MaxAge:    duration{365 * 24 * time.Hour},
	}
}

// loadConfig reads --config (if any) and applies flag overrides.
func loadConfig(cmd *cobra.Command) (Config, error) {
	cfg := defaultConfig()
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return cfg, err
	}
	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("config %s: unknown keys %v", path, undecoded)
		}
	}

	fl := cmd.Flags()
	if fl.Changed("lanes") {
		if cfg.Lanes, err = fl.GetInt("lanes"); err != nil {
			return cfg, err
		}
	}
	if fl.Changed("threads") {
		if cfg.ThreadBudget, err = fl.GetInt("threads"); err != nil {
			return cfg, err
		}
	}
	if fl.Changed("converter") {
		if cfg.Converter, err = fl.GetString("converter"); err != nil {
			return cfg, err
		}
	}
	if fl.Changed("wait") {
		if cfg.Wait.Duration, err = fl.GetDuration("wait"); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// addSessionFlags registers the flags every module-loading command shares.
func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().Int("lanes", 0, "lanes per tick (0 = GOMAXPROCS)")
	cmd.Flags().Int("threads", 0, "converter thread budget (0 = NumCPU/2)")
	cmd.Flags().String("converter", "self", `converter binary ("self" = this binary, "" = none)`)
	cmd.Flags().Duration("wait", 30*time.Second, "how long to wait for modules to load")
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
