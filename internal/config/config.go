// Package config owns the plcctl TOML schema: the file layout, strict
// validation and the starter template.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// File is the on-disk layout of plcctl.toml.
type File struct {
	Controller ControllerSection `toml:"controller"`
	Mirror     MirrorSection     `toml:"mirror"`
	Poll       PollSection       `toml:"poll"`
	Serve      ServeSection      `toml:"serve"`
}

type ControllerSection struct {
	Scheme             string `toml:"scheme"`
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	LoginPath          string `toml:"login_path"`
	Timeout            string `toml:"timeout"`
	CAFile             string `toml:"ca_file"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type MirrorSection struct {
	Host                string `toml:"host"`
	Port                int    `toml:"port"`
	User                string `toml:"user"`
	KeyPath             string `toml:"key_path"`
	Password            string `toml:"password"`
	KnownHosts          string `toml:"known_hosts"`
	InsecureSkipHostKey bool   `toml:"insecure_skip_host_key"`
	Root                string `toml:"root"`
	Timeout             string `toml:"timeout"`
}

type PollSection struct {
	Interval    string  `toml:"interval"`
	Multiplier  float64 `toml:"multiplier"`
	MaxInterval string  `toml:"max_interval"`
	Jitter      bool    `toml:"jitter"`
	MaxAttempts int     `toml:"max_attempts"`
}

type ServeSection struct {
	Addr            string   `toml:"addr"`
	CorsOrigins     []string `toml:"cors_origins"`
	Token           string   `toml:"token"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`
}

// Load decodes path strictly: unknown keys are errors, so a misspelled
// setting is reported instead of silently ignored.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var cfg File
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return File{}, fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return File{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return File{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// MinPollInterval keeps the compile log poll from spinning on the console.
const MinPollInterval = 100 * time.Millisecond

// Validate checks values that decode but cannot be used.
func Validate(cfg File) error {
	if cfg.Controller.Port < 0 || cfg.Controller.Port > 65535 {
		return fmt.Errorf("controller.port %d out of range", cfg.Controller.Port)
	}
	if s := strings.TrimSpace(cfg.Controller.Scheme); s != "" && s != "http" && s != "https" {
		return fmt.Errorf("controller.scheme must be http or https, got %q", s)
	}
	if cfg.Mirror.Port < 0 || cfg.Mirror.Port > 65535 {
		return fmt.Errorf("mirror.port %d out of range", cfg.Mirror.Port)
	}
	if cfg.Mirror.Host != "" && cfg.Mirror.User == "" {
		return fmt.Errorf("mirror.user is required when mirror.host is set")
	}
	if cfg.Poll.MaxAttempts < 0 {
		return fmt.Errorf("poll.max_attempts must not be negative")
	}
	if cfg.Poll.Multiplier != 0 && cfg.Poll.Multiplier < 1 {
		return fmt.Errorf("poll.multiplier must be >= 1")
	}
	durations := map[string]string{
		"controller.timeout":     cfg.Controller.Timeout,
		"mirror.timeout":         cfg.Mirror.Timeout,
		"poll.interval":          cfg.Poll.Interval,
		"poll.max_interval":      cfg.Poll.MaxInterval,
		"serve.shutdown_timeout": cfg.Serve.ShutdownTimeout,
	}
	for key, raw := range durations {
		if raw == "" {
			continue
		}
		if _, err := ParseDuration(key, raw); err != nil {
			return err
		}
	}
	if cfg.Poll.Interval != "" {
		d, _ := ParseDuration("poll.interval", cfg.Poll.Interval)
		if d < MinPollInterval {
			return fmt.Errorf("poll.interval must be at least %s, got %s", MinPollInterval, d)
		}
	}
	return nil
}
