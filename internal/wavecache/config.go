package wavecache

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port          int    `yaml:"port" validate:"gte=0,lte=65535"`
		Origin        string `yaml:"origin" validate:"required,url"`
		ControlPrefix string `yaml:"controlPrefix" validate:"required,startswith=/"`
	} `yaml:"server"`

	Cache struct {
		Prefix  string `yaml:"prefix" validate:"required"`
		Version string `yaml:"version" validate:"required,excludes=/"`
		// Path of the leveldb directory. Empty keeps all stores in memory.
		Path    string `yaml:"path"`
		MaxBody string `yaml:"maxBody"`
	} `yaml:"cache"`

	Static struct {
		Assets     []string `yaml:"assets"`
		Extensions []string `yaml:"extensions"`
	} `yaml:"static"`

	Images struct {
		MaxAge     string   `yaml:"maxAge"`
		MaxEntries int      `yaml:"maxEntries" validate:"gt=0"`
		Extensions []string `yaml:"extensions"`
		Markers    []string `yaml:"markers"`
	} `yaml:"images"`

	API struct {
		MaxAge       string   `yaml:"maxAge"`
		Hosts        []string `yaml:"hosts"`
		PathMarkers  []string `yaml:"pathMarkers"`
		StrictMaxAge bool     `yaml:"strictMaxAge"`
	} `yaml:"api"`

	Logging struct {
		Level         string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Format        string `yaml:"format" validate:"omitempty,oneof=json console"`
		LogStatsEvery string `yaml:"logStatsEvery"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`

	// compiled
	origin           *url.URL
	maxBody          int64
	imageMaxAge      time.Duration
	apiMaxAge        time.Duration
	logStatsEveryDur time.Duration
}

var configValidator = validator.New()

// DefaultConfig returns the configuration the RadioWave deployment ships with.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Port = 8080
	cfg.Server.ControlPrefix = "/__sw"
	cfg.Cache.Prefix = "radiowave-"
	cfg.Cache.Version = "v1.1.4"
	cfg.Cache.MaxBody = "8MB"
	cfg.Static.Assets = []string{
		"/",
		"/index.html",
		"/styles.css",
		"/main.js",
		"/manifest.json",
		"https://cdn.jsdelivr.net/npm/bulma@1.0.0/css/bulma.min.css",
		"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.5.1/css/all.min.css",
	}
	cfg.Static.Extensions = []string{".html", ".css", ".js"}
	cfg.Images.MaxAge = "720h"
	cfg.Images.MaxEntries = 200
	cfg.Images.Extensions = []string{".png", ".jpg", ".jpeg", ".svg", ".gif", ".ico", ".webp"}
	cfg.Images.Markers = []string{"favicon", "flagcdn.com"}
	cfg.API.MaxAge = "24h"
	cfg.API.Hosts = []string{"radio-browser.info"}
	cfg.API.PathMarkers = []string{"/json/", "api"}
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Metrics.Enabled = true
	return cfg
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes YAML on top of DefaultConfig and compiles it.
func ParseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) compile() error {
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	if err := configValidator.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	u, err := url.Parse(cfg.Server.Origin)
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.origin: want absolute http(s) URL, got %q", cfg.Server.Origin)
	}
	cfg.origin = &url.URL{Scheme: u.Scheme, Host: u.Host}

	if cfg.Cache.MaxBody != "" {
		n, err := humanize.ParseBytes(cfg.Cache.MaxBody)
		if err != nil {
			return fmt.Errorf("cache.maxBody: %w", err)
		}
		cfg.maxBody = int64(n)
	}
	if cfg.imageMaxAge, err = parseDurationField("images.maxAge", cfg.Images.MaxAge); err != nil {
		return err
	}
	if cfg.apiMaxAge, err = parseDurationField("api.maxAge", cfg.API.MaxAge); err != nil {
		return err
	}
	if cfg.Logging.LogStatsEvery != "" {
		if cfg.logStatsEveryDur, err = parseDurationField("logging.logStatsEvery", cfg.Logging.LogStatsEvery); err != nil {
			return err
		}
	}
	if cfg.imageMaxAge <= 0 {
		return fmt.Errorf("images.maxAge must be positive")
	}
	return nil
}

func parseDurationField(name, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

// StoreNames holds the versioned names of the three current stores.
type StoreNames struct {
	Prefix string
	Static string
	Images string
	API    string
}

func NewStoreNames(prefix, version string) StoreNames {
	return StoreNames{
		Prefix: prefix,
		Static: prefix + "static-" + version,
		Images: prefix + "images-" + version,
		API:    prefix + "api-" + version,
	}
}

// Current reports whether name is one of the current-version stores.
func (n StoreNames) Current(name string) bool {
	return name == n.Static || name == n.Images || name == n.API
}

// Owned reports whether name belongs to this application.
func (n StoreNames) Owned(name string) bool {
	return strings.HasPrefix(name, n.Prefix)
}

func (n StoreNames) All() []string {
	return []string{n.Static, n.Images, n.API}
}
