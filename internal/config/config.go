package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "UTC"
	defaultRefresh     = "*/15 * * * *"
	defaultHorizonDays = 7
	defaultModel       = "gpt-4o-mini"
	defaultRPM         = 20

	// OnSourceError values.
	SourceErrorPartial = "partial"
	SourceErrorFail    = "fail"
)

// CalendarConfig describes one calendar source. Exactly one of URL, Path or
// GoogleID is expected; URL wins over Path, Path wins over GoogleID.
type CalendarConfig struct {
	// ID is an internal identifier used as the occurrence source id.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in schedules.
	Name string `yaml:"name" json:"name"`

	// URL is an ICS subscription endpoint (http, https, webcal).
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// Path is a local ICS file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// GoogleID is a Google Calendar id read through the API ("primary").
	GoogleID string `yaml:"google_id,omitempty" json:"google_id,omitempty"`
}

// GoogleConfig holds Google Calendar API credentials.
type GoogleConfig struct {
	// CredentialsPath is a service account key or an installed-app client
	// secret downloaded from the Cloud console.
	CredentialsPath string `yaml:"credentials_path" json:"credentials_path"`
	// TokenPath is an existing OAuth token for installed-app credentials.
	TokenPath string `yaml:"token_path" json:"token_path"`
	// WriteCalendarID receives accepted suggestions.
	WriteCalendarID string `yaml:"write_calendar_id" json:"write_calendar_id"`
}

// Enabled reports whether Google credentials are configured.
func (g GoogleConfig) Enabled() bool {
	return g.CredentialsPath != ""
}

// LLMConfig configures the suggestion engine.
type LLMConfig struct {
	APIKey            string `yaml:"api_key" json:"-"`
	BaseURL           string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Model             string `yaml:"model" json:"model"`
	RequestsPerMinute int    `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone schedules are rendered in (e.g. "Europe/Athens").
	Timezone string `yaml:"timezone" json:"timezone"`

	// HorizonDays is the default number of days a schedule covers.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used to warm the schedule cache.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// OnSourceError is "partial" (skip failed calendars) or "fail".
	OnSourceError string `yaml:"on_source_error" json:"on_source_error"`

	// MaxOccurrencesPerEvent caps a single recurring event; 0 uses the
	// materializer default.
	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event,omitempty" json:"max_occurrences_per_event,omitempty"`

	// CacheDir stores ICS bodies and their ETag metadata.
	CacheDir string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`

	// ExportPath receives accepted suggestions as ICS when Google is not configured.
	ExportPath string `yaml:"export_path,omitempty" json:"export_path,omitempty"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	Google GoogleConfig `yaml:"google" json:"google"`
	LLM    LLMConfig    `yaml:"llm" json:"llm"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        defaultListen,
		Timezone:      defaultTimezone,
		HorizonDays:   defaultHorizonDays,
		RefreshCron:   defaultRefresh,
		OnSourceError: SourceErrorPartial,
		LogLevel:      "info",
		Calendars:     []CalendarConfig{},
		LLM: LLMConfig{
			Model:             defaultModel,
			RequestsPerMinute: defaultRPM,
		},
	}
}

// DefaultPath is config.yaml under the user's config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "calsuggest", "config.yaml")
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	c.OnSourceError = strings.ToLower(strings.TrimSpace(c.OnSourceError))
	if c.OnSourceError == "" {
		c.OnSourceError = SourceErrorPartial
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	for i := range c.Calendars {
		cal := &c.Calendars[i]
		if cal.ID == "" {
			cal.ID = fmt.Sprintf("cal%d", i+1)
		}
		if cal.Name == "" {
			cal.Name = cal.ID
		}
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModel
	}
	if c.LLM.RequestsPerMinute <= 0 {
		c.LLM.RequestsPerMinute = defaultRPM
	}
	if c.Google.WriteCalendarID == "" && c.Google.Enabled() {
		c.Google.WriteCalendarID = "primary"
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.OnSourceError {
	case SourceErrorPartial, SourceErrorFail:
	default:
		return fmt.Errorf("on_source_error must be %q or %q, got %q", SourceErrorPartial, SourceErrorFail, c.OnSourceError)
	}
	seen := make(map[string]bool, len(c.Calendars))
	for _, cal := range c.Calendars {
		if seen[cal.ID] {
			return fmt.Errorf("duplicate calendar id %q", cal.ID)
		}
		seen[cal.ID] = true
		if cal.URL == "" && cal.Path == "" && cal.GoogleID == "" {
			return fmt.Errorf("calendar %q needs url, path or google_id", cal.ID)
		}
		if cal.URL == "" && cal.Path == "" && !c.Google.Enabled() {
			return fmt.Errorf("calendar %q uses google_id but google.credentials_path is empty", cal.ID)
		}
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is decoded and defaults are filled in.
//
// OPENAI_API_KEY fills llm.api_key when the file leaves it empty.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Return cfg with the error so the caller can decide.
				return cfg, err
			}
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.applyEnv()

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory with 0700.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calsuggest-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
