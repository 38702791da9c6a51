package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix prefixes every environment override, e.g. TERMIDL_DOWNLOAD_PATH.
	EnvPrefix = "TERMIDL"

	// PathEnv overrides the location of the config file.
	PathEnv = "TERMIDL_CONFIG"

	fileName = ".termidl_config.json"
)

// Duration is a time.Duration stored as a Go duration string ("500ms", "1m").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}

	*d = Duration(v)

	return nil
}

// Config is the persisted user configuration. Every key can be overridden from
// the environment with the TERMIDL_ prefix.
type Config struct {
	DownloadPath           string `json:"download_path" envconfig:"DOWNLOAD_PATH"`
	MaxConcurrentDownloads int    `json:"max_concurrent_downloads" envconfig:"MAX_CONCURRENT_DOWNLOADS"`
	Theme                  string `json:"theme" envconfig:"THEME"`
	Aria2Path              string `json:"aria2_path" envconfig:"ARIA2_PATH"`
	YtdlpPath              string `json:"ytdlp_path" envconfig:"YTDLP_PATH"`

	LogLevel          string   `json:"log_level" envconfig:"LOG_LEVEL"`
	LogFile           string   `json:"log_file" envconfig:"LOG_FILE"`
	HistoryDB         string   `json:"history_db" envconfig:"HISTORY_DB"`
	CancelTimeout     Duration `json:"cancel_timeout" envconfig:"CANCEL_TIMEOUT"`
	RefreshInterval   Duration `json:"refresh_interval" envconfig:"REFRESH_INTERVAL"`
	APIAddress        string   `json:"api_address" envconfig:"API_ADDRESS"`
	DiscordWebhookURL string   `json:"discord_webhook_url" envconfig:"DISCORD_WEBHOOK_URL"`
	TelemetryEnabled  bool     `json:"telemetry_enabled" envconfig:"TELEMETRY_ENABLED"`
	OTLPEndpoint      string   `json:"otlp_endpoint" envconfig:"OTLP_ENDPOINT"`

	Web struct {
		ReadTimeout     Duration `json:"read_timeout" split_words:"true"`
		WriteTimeout    Duration `json:"write_timeout" split_words:"true"`
		IdleTimeout     Duration `json:"idle_timeout" split_words:"true"`
		ShutdownTimeout Duration `json:"shutdown_timeout" split_words:"true"`
	} `json:"web"`

	path string
	// file holds the document Set writes back: defaults overlaid with the keys
	// read from the file. Environment overrides and expanded paths never reach it.
	file map[string]json.RawMessage
	// loaded is false when the file existed but could not be read.
	loaded bool
}

// FileError is returned by Load when the config file exists but cannot be used.
// The Config returned alongside it holds defaults plus environment overrides.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("failed to load config file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// DefaultPath returns TERMIDL_CONFIG or ~/.termidl_config.json.
func DefaultPath() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}

	return filepath.Join(homeDir(), fileName)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home := homeDir()

	c := &Config{
		DownloadPath:           filepath.Join(home, "Downloads"),
		MaxConcurrentDownloads: 3,
		Theme:                  "default",
		Aria2Path:              "aria2c",
		YtdlpPath:              "yt-dlp",
		LogLevel:               "INFO",
		LogFile:                filepath.Join(home, ".termidl.log"),
		HistoryDB:              filepath.Join(home, ".termidl_history.db"),
		RefreshInterval:        Duration(500 * time.Millisecond),
	}

	c.Web.ReadTimeout = Duration(30 * time.Second)
	c.Web.WriteTimeout = Duration(30 * time.Second)
	c.Web.IdleTimeout = Duration(5 * time.Second)
	c.Web.ShutdownTimeout = Duration(10 * time.Second)

	return c
}

// Load reads the config file at path, fills missing keys with defaults and applies
// environment overrides. A missing file is not an error. Unknown keys are ignored
// but preserved by Set.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	fileErr := cfg.readFile(path)
	if fileErr != nil {
		cfg = Default()
		cfg.path = path
	}

	cfg.loaded = fileErr == nil

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	cfg.normalize()

	if fileErr != nil {
		return cfg, fileErr
	}

	return cfg, nil
}

func (c *Config) readFile(path string) error {
	doc, err := document(Default())
	if err != nil {
		return err
	}

	c.file = doc

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return &FileError{Path: path, Err: err}
	}

	if err := json.Unmarshal(data, c); err != nil {
		return &FileError{Path: path, Err: err}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return &FileError{Path: path, Err: err}
	}

	for k, v := range raw {
		c.file[k] = v
	}

	return nil
}

func (c *Config) normalize() {
	c.DownloadPath = ExpandHome(c.DownloadPath)
	c.LogFile = ExpandHome(c.LogFile)
	c.HistoryDB = ExpandHome(c.HistoryDB)

	if c.RefreshInterval <= 0 {
		c.RefreshInterval = Default().RefreshInterval
	}

	if c.CancelTimeout < 0 {
		c.CancelTimeout = 0
	}
}

// Path is the file Set writes to.
func (c *Config) Path() string {
	return c.path
}

// Set changes one key in the config file and saves it, indented with four spaces.
// Known keys are type checked; unknown keys are kept as they are. The loaded values
// are left alone, so the change applies from the next Load.
func (c *Config) Set(key string, value any) error {
	if c.path == "" {
		return errors.New("config has no file path")
	}

	if !c.loaded {
		return fmt.Errorf("config file %s was not loaded, refusing to overwrite it", c.path)
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}

	doc := make(map[string]json.RawMessage, len(c.file)+1)
	for k, v := range c.file {
		doc[k] = v
	}

	doc[key] = encoded

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := json.Unmarshal(data, Default()); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	if err := write(c.path, doc); err != nil {
		return err
	}

	c.file = doc

	return nil
}

func write(path string, doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// document returns c as a JSON object keyed by its json tags.
func document(c *Config) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	return doc, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	if p == "~" {
		return homeDir()
	}

	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}

	return p
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return home
}
