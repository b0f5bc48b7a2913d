// Package config resolves runtime settings: built-in defaults, then an
// optional TOML file, then .env and PAGEBUILDER_* environment variables.
// Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	FileName  = "pagebuilder.toml"
	envPrefix = "PAGEBUILDER_"
)

// Duration decodes TOML strings such as "5s".
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

type Config struct {
	DataDir        string   `toml:"data_dir"`
	DBPath         string   `toml:"db_path"`
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
	ThemeFile      string   `toml:"theme_file"`
	HistoryLimit   int      `toml:"history_limit"`

	Engine EngineConfig `toml:"engine"`
	Cache  CacheConfig  `toml:"cache"`
	Sync   SyncConfig   `toml:"sync"`
}

type EngineConfig struct {
	ActionTimeout Duration `toml:"action_timeout"`
	EventTimeout  Duration `toml:"event_timeout"`
}

type CacheConfig struct {
	MaxEntries int      `toml:"max_entries"`
	TTL        Duration `toml:"ttl"`
}

type SyncConfig struct {
	// InboundRate caps websocket frames per second per socket.
	InboundRate float64  `toml:"inbound_rate"`
	WatchEvery  Duration `toml:"watch_every"`
	RetryCount  int      `toml:"retry_count"`
	RetryDelay  Duration `toml:"retry_delay"`
}

// DefaultDBPath is where the database lives inside dataDir.
func DefaultDBPath(dataDir string) string {
	return filepath.Join(dataDir, "pagebuilder.db")
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "pagebuilder")
	return &Config{
		DataDir:        dataDir,
		DBPath:         DefaultDBPath(dataDir),
		Addr:           "127.0.0.1:7420",
		AllowedOrigins: []string{"http://localhost:5173", "http://127.0.0.1:7420"},
		HistoryLimit:   50,
		Engine: EngineConfig{
			ActionTimeout: Duration{5 * time.Second},
			EventTimeout:  Duration{10 * time.Second},
		},
		Cache: CacheConfig{MaxEntries: 100, TTL: Duration{5 * time.Minute}},
		Sync: SyncConfig{
			InboundRate: 50,
			WatchEvery:  Duration{2 * time.Second},
			RetryCount:  3,
			RetryDelay:  Duration{time.Second},
		},
	}
}

// Load resolves the configuration. path may be empty, in which case
// pagebuilder.toml is looked up in the working directory and then in the
// default data dir; a missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	cfg := Default()
	defaultDB := cfg.DBPath

	explicit := path != ""
	if !explicit {
		path = os.Getenv(envPrefix + "CONFIG")
		explicit = path != ""
	}
	if !explicit {
		for _, candidate := range []string{FileName, filepath.Join(cfg.DataDir, FileName)} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.DBPath == defaultDB || cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath(cfg.DataDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
			*dst = v
		}
	}
	str("DATA_DIR", &c.DataDir)
	str("DB_PATH", &c.DBPath)
	str("ADDR", &c.Addr)
	str("THEME_FILE", &c.ThemeFile)

	if v := strings.TrimSpace(os.Getenv(envPrefix + "ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv(envPrefix + "HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sHISTORY_LIMIT: %w", envPrefix, err)
		}
		c.HistoryLimit = n
	}
	if v := os.Getenv(envPrefix + "CACHE_MAX_ENTRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sCACHE_MAX_ENTRIES: %w", envPrefix, err)
		}
		c.Cache.MaxEntries = n
	}
	for key, dst := range map[string]*Duration{
		"ACTION_TIMEOUT": &c.Engine.ActionTimeout,
		"EVENT_TIMEOUT":  &c.Engine.EventTimeout,
		"CACHE_TTL":      &c.Cache.TTL,
	} {
		if v := os.Getenv(envPrefix + key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
		}
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("history_limit must be positive, got %d", c.HistoryLimit))
	}
	if c.Engine.ActionTimeout.Duration <= 0 || c.Engine.EventTimeout.Duration <= 0 {
		errs = append(errs, errors.New("engine timeouts must be positive"))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
