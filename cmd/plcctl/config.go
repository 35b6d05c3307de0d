package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/plcctl/internal/auth"
	"github.com/danmuck/plcctl/internal/config"
	"github.com/danmuck/plcctl/internal/controller"
	"github.com/danmuck/plcctl/internal/mirror"
	"github.com/danmuck/plcctl/internal/mutate"
	"github.com/danmuck/plcctl/internal/resource"
	"github.com/danmuck/plcctl/internal/server"
)

const (
	EnvUsername    = "PLCCTL_USERNAME"
	EnvPassword    = "PLCCTL_PASSWORD"
	EnvSSHPassword = "PLCCTL_SSH_PASSWORD"
	EnvServeToken  = "PLCCTL_TOKEN"
)

// appConfig is everything one plcctl process needs, resolved from defaults,
// the config file, the environment and flags in that order.
type appConfig struct {
	Controller controller.Config
	// Mirror is nil when no mirror host is configured.
	Mirror *mirror.SSH
	Poll   mutate.PollConfig
	Serve  server.Config
	Token  string
}

func defaultConfig() appConfig {
	return appConfig{
		Controller: controller.Config{
			Scheme:    "http",
			Port:      8080,
			LoginPath: controller.DefaultLoginPath,
			Timeout:   controller.DefaultTimeout,
		},
		Poll: mutate.DefaultPollConfig(),
		Serve: server.Config{
			Addr:            server.DefaultAddr,
			ShutdownTimeout: server.DefaultShutdownTimeout,
		},
	}
}

// loadConfig overlays path onto the defaults. A missing path is not an
// error when optional is set, so plcctl runs from flags and env alone.
func loadConfig(path string, optional bool) (appConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return appConfig{}, fmt.Errorf("load plcctl config: %w", err)
	}

	// Strict pass first: unknown keys and bad values fail before any
	// default is overridden.
	if _, err := config.Load(path); err != nil {
		return appConfig{}, err
	}

	var raw config.File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load plcctl config: %w", err)
	}

	c := &cfg.Controller
	if meta.IsDefined("controller", "scheme") {
		c.Scheme = strings.TrimSpace(raw.Controller.Scheme)
	}
	if meta.IsDefined("controller", "host") {
		c.Host = strings.TrimSpace(raw.Controller.Host)
	}
	if meta.IsDefined("controller", "port") {
		c.Port = raw.Controller.Port
	}
	if meta.IsDefined("controller", "username") {
		c.Credentials.Username = raw.Controller.Username
	}
	if meta.IsDefined("controller", "password") {
		c.Credentials.Password = raw.Controller.Password
	}
	if meta.IsDefined("controller", "login_path") {
		c.LoginPath = strings.TrimSpace(raw.Controller.LoginPath)
	}
	if meta.IsDefined("controller", "timeout") {
		d, err := config.ParseDuration("controller.timeout", raw.Controller.Timeout)
		if err != nil {
			return appConfig{}, err
		}
		c.Timeout = d
	}
	if meta.IsDefined("controller", "ca_file") {
		c.CAFile = strings.TrimSpace(raw.Controller.CAFile)
	}
	if meta.IsDefined("controller", "insecure_skip_verify") {
		c.InsecureSkipVerify = raw.Controller.InsecureSkipVerify
	}

	if meta.IsDefined("mirror", "host") && strings.TrimSpace(raw.Mirror.Host) != "" {
		m, err := mirrorFromFile(raw.Mirror)
		if err != nil {
			return appConfig{}, err
		}
		cfg.Mirror = m
	}

	p := &cfg.Poll
	if meta.IsDefined("poll", "interval") {
		d, err := config.ParseDuration("poll.interval", raw.Poll.Interval)
		if err != nil {
			return appConfig{}, err
		}
		p.Interval = d
	}
	if meta.IsDefined("poll", "multiplier") {
		p.Multiplier = raw.Poll.Multiplier
	}
	if meta.IsDefined("poll", "max_interval") {
		d, err := config.ParseDuration("poll.max_interval", raw.Poll.MaxInterval)
		if err != nil {
			return appConfig{}, err
		}
		p.MaxInterval = d
	}
	if meta.IsDefined("poll", "jitter") {
		p.Jitter = raw.Poll.Jitter
	}
	if meta.IsDefined("poll", "max_attempts") {
		p.MaxAttempts = raw.Poll.MaxAttempts
	}

	s := &cfg.Serve
	if meta.IsDefined("serve", "addr") {
		s.Addr = strings.TrimSpace(raw.Serve.Addr)
	}
	if meta.IsDefined("serve", "cors_origins") {
		s.AllowOrigins = normalizeList(raw.Serve.CorsOrigins)
	}
	if meta.IsDefined("serve", "shutdown_timeout") {
		d, err := config.ParseDuration("serve.shutdown_timeout", raw.Serve.ShutdownTimeout)
		if err != nil {
			return appConfig{}, err
		}
		s.ShutdownTimeout = d
	}
	if meta.IsDefined("serve", "token") {
		cfg.Token = raw.Serve.Token
	}

	return cfg, nil
}

func mirrorFromFile(sec config.MirrorSection) (*mirror.SSH, error) {
	m := &mirror.SSH{
		Host:                        strings.TrimSpace(sec.Host),
		User:                        strings.TrimSpace(sec.User),
		KeyPath:                     strings.TrimSpace(sec.KeyPath),
		Password:                    sec.Password,
		KnownHostsPath:              strings.TrimSpace(sec.KnownHosts),
		InsecureSkipHostKeyChecking: sec.InsecureSkipHostKey,
		Root:                        strings.TrimSpace(sec.Root),
	}
	var err error
	if m.KeyPath, err = expandHome(m.KeyPath); err != nil {
		return nil, err
	}
	if m.KnownHostsPath, err = expandHome(m.KnownHostsPath); err != nil {
		return nil, err
	}
	if sec.Port > 0 {
		m.Port = strconv.Itoa(sec.Port)
	}
	if m.Root == "" {
		m.Root = resource.DefaultMirrorRoot
	}
	if sec.Timeout != "" {
		d, err := config.ParseDuration("mirror.timeout", sec.Timeout)
		if err != nil {
			return nil, err
		}
		m.Timeout = d
	}
	return m, nil
}

// applyEnv lets secrets stay out of the config file.
func (c *appConfig) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvUsername); ok && v != "" {
		c.Controller.Credentials.Username = v
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		c.Controller.Credentials.Password = v
	}
	if v, ok := lookup(EnvSSHPassword); ok && v != "" && c.Mirror != nil {
		c.Mirror.Password = v
	}
	if v, ok := lookup(EnvServeToken); ok && v != "" {
		c.Token = v
	}
}

// mirror returns the configured mirror, or one that always reports
// unavailable.
func (c appConfig) mirror() mirror.Mirror {
	if c.Mirror == nil {
		return mirror.Nop{}
	}
	return *c.Mirror
}

// serveConfig attaches the token guard when a token is set.
func (c appConfig) serveConfig() server.Config {
	s := c.Serve
	if c.Token != "" {
		s.Validator = auth.StaticToken{Token: c.Token}
	}
	return s
}

// expandHome resolves a leading "~/" against the current user's home.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
