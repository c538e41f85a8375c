package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	envPrefix = "RETROSCRAPE_"
)

// Config describes the application level configuration loaded from json.
type Config struct {
	Log           LogConfig           `json:"log"`
	DB            DBConfig            `json:"db"`
	ScreenScraper ScreenScraperConfig `json:"screenscraper"`
	RetroBat      RetroBatConfig      `json:"retrobat"`
	Aria2         Aria2Config         `json:"aria2"`
	Launcher      LauncherConfig      `json:"launcher"`
	S3            S3Config            `json:"s3"`
	Metrics       MetricsConfig       `json:"metrics"`
}

type LogConfig struct {
	File  string `json:"file"`
	Level string `json:"level"`
}

// DBConfig selects the catalog backend. An empty DSN means the default sqlite file.
type DBConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// ScreenScraperConfig holds the developer and user credentials for the metadata service.
type ScreenScraperConfig struct {
	Host         string `json:"host"`
	DevID        string `json:"dev_id"`
	DevPassword  string `json:"dev_password"`
	SoftName     string `json:"soft_name"`
	UserName     string `json:"user_name"`
	UserPassword string `json:"user_password"`
	MaxThreads   int    `json:"max_threads"`
}

type RetroBatConfig struct {
	Path string `json:"path"`
}

type Aria2Config struct {
	Binary      string `json:"binary"`
	Connections int    `json:"connections"`
}

type LauncherConfig struct {
	Command string `json:"command"`
}

// S3Config holds the options for accessing the object store. Leaving Bucket
// empty disables the media mirror.
type S3Config struct {
	Host            string `json:"host"`
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
	ForcePathStyle  bool   `json:"force_path_style"`
}

// Enabled reports whether an object store is configured.
func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

type MetricsConfig struct {
	Listen string `json:"listen"`
}

// Default returns a configuration usable without any file.
func Default() *Config {
	return &Config{
		Log:           LogConfig{Level: "info"},
		DB:            DBConfig{Driver: DriverSQLite},
		ScreenScraper: ScreenScraperConfig{SoftName: "retroscrape"},
		Aria2:         Aria2Config{Binary: "aria2c", Connections: 4},
		Launcher:      LauncherConfig{Command: "emulatorLauncher_original"},
	}
}

// LoadFirst tries to load configuration from the given paths, returning the
// first successfully decoded configuration. If none of the paths contain a
// readable config, the defaults are used.
func LoadFirst(paths ...string) (*Config, error) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		cfg, err := Load(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}
	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads configuration from a single json file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	// a missing .env is fine, it only feeds credential overrides
	_ = godotenv.Load()
	c.applyEnv(os.Getenv)
	if err := c.applyDefaults(); err != nil {
		return err
	}
	return c.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(envPrefix + key)); v != "" {
			*dst = v
		}
	}
	set(&c.ScreenScraper.DevID, "SS_DEV_ID")
	set(&c.ScreenScraper.DevPassword, "SS_DEV_PASSWORD")
	set(&c.ScreenScraper.UserName, "SS_USER")
	set(&c.ScreenScraper.UserPassword, "SS_PASSWORD")
	set(&c.RetroBat.Path, "RETROBAT_PATH")
	set(&c.DB.DSN, "DB_DSN")
	set(&c.S3.AccessKeyID, "S3_ACCESS_KEY_ID")
	set(&c.S3.SecretAccessKey, "S3_SECRET_ACCESS_KEY")
	if v := strings.TrimSpace(getenv(envPrefix + "SS_MAX_THREADS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ScreenScraper.MaxThreads = n
		}
	}
}

func (c *Config) applyDefaults() error {
	if c.DB.Driver == "" {
		c.DB.Driver = DriverSQLite
	}
	if c.DB.DSN == "" && c.DB.Driver == DriverSQLite {
		path, err := xdg.DataFile("retroscrape/catalog.db")
		if err != nil {
			return fmt.Errorf("resolve default database path: %w", err)
		}
		c.DB.DSN = path
	}
	if c.Aria2.Binary == "" {
		c.Aria2.Binary = "aria2c"
	}
	if c.Aria2.Connections <= 0 {
		c.Aria2.Connections = 4
	}
	if c.ScreenScraper.SoftName == "" {
		c.ScreenScraper.SoftName = "retroscrape"
	}
	return nil
}

// Validate performs basic validation of the configuration.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("config.db.driver %q is not supported", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return errors.New("config.db.dsn must be set")
	}
	if c.S3.Enabled() && c.S3.Host == "" {
		return errors.New("config.s3.host must be set when config.s3.bucket is set")
	}
	if c.ScreenScraper.MaxThreads < 0 {
		return errors.New("config.screenscraper.max_threads must not be negative")
	}
	return nil
}

// RequireScreenScraper checks the credentials needed by commands that talk to the service.
func (c *Config) RequireScreenScraper() error {
	if c.ScreenScraper.DevID == "" || c.ScreenScraper.DevPassword == "" {
		return errors.New("screenscraper dev_id and dev_password must be set")
	}
	return nil
}
