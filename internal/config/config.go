// Package config loads client settings from TOML or YAML files.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/kivups/kivups-client/internal/heartbeat"
	"github.com/kivups/kivups-client/internal/logging"
	"github.com/kivups/kivups-client/internal/login"
	"github.com/kivups/kivups-client/internal/recovery"
	"github.com/kivups/kivups-client/internal/transport"
)

var (
	ErrInvalid           = errors.New("config: invalid")
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8080
)

// Config is everything a session needs besides the player name.
type Config struct {
	Host      string
	Port      int
	Transport string
	Name      string

	ConnectTimeout time.Duration
	// ReadTimeout bounds a single receive; zero leaves liveness to the
	// heartbeat.
	ReadTimeout  time.Duration
	LoginTimeout time.Duration

	Heartbeat heartbeat.Config
	Recovery  recovery.Config
	Log       logging.Config
}

// Default returns the stock settings.
func Default() Config {
	return Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		Transport:      transport.DialTCP.String(),
		ConnectTimeout: 5 * time.Second,
		LoginTimeout:   login.DefaultTimeout,
		Heartbeat:      heartbeat.DefaultConfig(),
		Recovery:       recovery.DefaultConfig(),
		Log:            logging.DefaultConfig(),
	}
}

// Address is host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DialMode parses the Transport field.
func (c Config) DialMode() (transport.DialMode, error) {
	return transport.ParseDialMode(c.Transport)
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Host) == "":
		return fmt.Errorf("%w: empty host", ErrInvalid)
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	case c.ConnectTimeout <= 0:
		return fmt.Errorf("%w: connect_timeout must be positive", ErrInvalid)
	case c.ReadTimeout < 0:
		return fmt.Errorf("%w: read_timeout must not be negative", ErrInvalid)
	case c.LoginTimeout <= 0:
		return fmt.Errorf("%w: login_timeout must be positive", ErrInvalid)
	case c.Heartbeat.Interval <= 0:
		return fmt.Errorf("%w: heartbeat.interval must be positive", ErrInvalid)
	case c.Heartbeat.MaxMissed <= 0:
		return fmt.Errorf("%w: heartbeat.max_missed must be positive", ErrInvalid)
	case c.Heartbeat.RecoverEvery < 0:
		return fmt.Errorf("%w: heartbeat.recover_every must not be negative", ErrInvalid)
	case c.Recovery.Interval <= 0:
		return fmt.Errorf("%w: recovery.interval must be positive", ErrInvalid)
	case c.Recovery.MaxAttempts <= 0:
		return fmt.Errorf("%w: recovery.max_attempts must be positive", ErrInvalid)
	}
	if _, err := c.DialMode(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Name != "" {
		if err := login.ValidateName(c.Name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

// fileConfig mirrors the on-disk layout. Pointer fields distinguish "absent"
// from zero so a file only overrides what it sets.
type fileConfig struct {
	Host           *string `toml:"host" yaml:"host"`
	Port           *int    `toml:"port" yaml:"port"`
	Transport      *string `toml:"transport" yaml:"transport"`
	Name           *string `toml:"name" yaml:"name"`
	ConnectTimeout *string `toml:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    *string `toml:"read_timeout" yaml:"read_timeout"`
	LoginTimeout   *string `toml:"login_timeout" yaml:"login_timeout"`

	Heartbeat struct {
		Interval     *string `toml:"interval" yaml:"interval"`
		MaxMissed    *int    `toml:"max_missed" yaml:"max_missed"`
		RecoverEvery *int    `toml:"recover_every" yaml:"recover_every"`
	} `toml:"heartbeat" yaml:"heartbeat"`

	Recovery struct {
		Interval    *string `toml:"interval" yaml:"interval"`
		MaxAttempts *int    `toml:"max_attempts" yaml:"max_attempts"`
	} `toml:"recovery" yaml:"recovery"`

	Log struct {
		Level  *string `toml:"level" yaml:"level"`
		Format *string `toml:"format" yaml:"format"`
	} `toml:"log" yaml:"log"`
}

// Load reads path over Default. The decoder is chosen by extension:
// .toml, .yaml or .yml. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	var raw fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalid, path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(data, &raw); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}

	cfg := Default()
	if err := raw.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (f *fileConfig) apply(cfg *Config) error {
	if f.Host != nil {
		cfg.Host = strings.TrimSpace(*f.Host)
	}
	if f.Port != nil {
		cfg.Port = *f.Port
	}
	if f.Transport != nil {
		cfg.Transport = strings.TrimSpace(*f.Transport)
	}
	if f.Name != nil {
		cfg.Name = strings.TrimSpace(*f.Name)
	}
	if f.Heartbeat.MaxMissed != nil {
		cfg.Heartbeat.MaxMissed = *f.Heartbeat.MaxMissed
	}
	if f.Heartbeat.RecoverEvery != nil {
		cfg.Heartbeat.RecoverEvery = *f.Heartbeat.RecoverEvery
	}
	if f.Recovery.MaxAttempts != nil {
		cfg.Recovery.MaxAttempts = *f.Recovery.MaxAttempts
	}
	if f.Log.Level != nil {
		cfg.Log.Level = *f.Log.Level
	}
	if f.Log.Format != nil {
		cfg.Log.Format = *f.Log.Format
	}

	durations := []struct {
		key string
		raw *string
		dst *time.Duration
	}{
		{"connect_timeout", f.ConnectTimeout, &cfg.ConnectTimeout},
		{"read_timeout", f.ReadTimeout, &cfg.ReadTimeout},
		{"login_timeout", f.LoginTimeout, &cfg.LoginTimeout},
		{"heartbeat.interval", f.Heartbeat.Interval, &cfg.Heartbeat.Interval},
		{"recovery.interval", f.Recovery.Interval, &cfg.Recovery.Interval},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(*d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}
