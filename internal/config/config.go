package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // reference timezone must resolve on hosts without zoneinfo

	"gopkg.in/yaml.v3"

	"roomradar/internal/fsutil"
	"roomradar/internal/ics"
	"roomradar/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	DefaultTimezone   = "Europe/Paris"
	DefaultFeedURL    = "https://edt.univ-angers.fr/edt/ics?id={id}"
	DefaultCacheDir   = "cache_ics"
	DefaultOutputPath = "Mes_Salles_Libres.ics"
	DefaultUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// FeedIDPlaceholder is replaced by the room source identifier in FeedURL.
	FeedIDPlaceholder = "{id}"
)

// RoomConfig describes a single room and its feed identifier.
type RoomConfig struct {
	// Name is the display label used in the output calendar.
	Name string `yaml:"name" json:"name"`
	// ID is the opaque identifier the scheduling portal uses for the room.
	ID string `yaml:"id" json:"id"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA reference timezone used for "today" and the
	// closing time (e.g. "Europe/Paris").
	Timezone string `yaml:"timezone" json:"timezone"`

	// FeedURL is the feed endpoint template. "{id}" is replaced by the
	// query-escaped room ID.
	FeedURL string `yaml:"feed_url" json:"feed_url"`

	// CacheDir receives a copy of every successfully fetched feed.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// OutputPath is where the merged free-room calendar is written.
	OutputPath string `yaml:"output_path" json:"output_path"`

	TimeoutSeconds     int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	UserAgent          string `yaml:"user_agent" json:"user_agent"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`

	// ClosingTime ("HH:MM") caps free windows that would otherwise extend
	// past today.
	ClosingTime string `yaml:"closing_time" json:"closing_time"`

	// FallbackMinutes is the window length used when the closing time has
	// already passed.
	FallbackMinutes int `yaml:"fallback_minutes" json:"fallback_minutes"`

	// HorizonDays bounds recurrence expansion into the future.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	FreeMarker  string `yaml:"free_marker" json:"free_marker"`
	Description string `yaml:"description" json:"description"`
	ProductID   string `yaml:"product_id" json:"product_id"`

	// RefreshCron is a cron-style schedule string used by the watch command.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Listen is the HTTP listen address used by the watch command. Empty
	// disables the server.
	Listen string `yaml:"listen" json:"listen"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Rooms is processed in order; the output calendar keeps this order.
	RoomList []RoomConfig `yaml:"rooms" json:"rooms"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone:        DefaultTimezone,
		FeedURL:         DefaultFeedURL,
		CacheDir:        DefaultCacheDir,
		OutputPath:      DefaultOutputPath,
		TimeoutSeconds:  15,
		UserAgent:       DefaultUserAgent,
		ClosingTime:     "20:00",
		FallbackMinutes: 60,
		HorizonDays:     7,
		FreeMarker:      "LIBRE",
		Description:     "Créneau libre détecté par le Radar.",
		ProductID:       "-//Radar Salles Angers//FR//",
		RefreshCron:     "*/15 7-20 * * 1-6",
		Listen:          "127.0.0.1:8080",
		LogLevel:        "info",
		RoomList: []RoomConfig{
			{Name: "Amphi Amande", ID: "S9F8A5BD6A82A88EDE0530100007FD17D"},
			{Name: "Amphi Ardoise", ID: "S9F8A5BD6A82B88EDE0530100007FD17D"},
			{Name: "Amphi Bodin", ID: "S9F8A5BD6A82C88EDE0530100007FD17D"},
			{Name: "Amphi Inca", ID: "S9F8A5BD6A6E688EDE0530100007FD17D"},
			{Name: "Amphi Ivoire", ID: "S9F8A5BD6A6E788EDE0530100007FD17D"},
			{Name: "Amphi Lagon", ID: "S9F8A5BD6A6E888EDE0530100007FD17D"},
			{Name: "Amphi Pocquet", ID: "S9F8A5BD6A6E988EDE0530100007FD17D"},
			{Name: "Amphi Quartz", ID: "S9F8A5BD6A6EA88EDE0530100007FD17D"},
			{Name: "Amphi Sienne", ID: "S9F8A5BD6A6EB88EDE0530100007FD17D"},
			{Name: "Amphi Tamaris", ID: "S9F8A5BD6A6EC88EDE0530100007FD17D"},
			{Name: "Amphi Volney", ID: "S9F8A5BD6A6ED88EDE0530100007FD17D"},
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly. Rooms are never filled
// in: an empty list is rejected by Validate.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.FeedURL == "" {
		c.FeedURL = def.FeedURL
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.OutputPath == "" {
		c.OutputPath = def.OutputPath
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = def.TimeoutSeconds
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.ClosingTime == "" {
		c.ClosingTime = def.ClosingTime
	}
	if c.FallbackMinutes <= 0 {
		c.FallbackMinutes = def.FallbackMinutes
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.FreeMarker == "" {
		c.FreeMarker = def.FreeMarker
	}
	if c.Description == "" {
		c.Description = def.Description
	}
	if c.ProductID == "" {
		c.ProductID = def.ProductID
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	for i := range c.RoomList {
		c.RoomList[i].Name = strings.TrimSpace(c.RoomList[i].Name)
		c.RoomList[i].ID = strings.TrimSpace(c.RoomList[i].ID)
	}
}

// Validate reports the first configuration problem that would make a run
// meaningless.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if !strings.Contains(c.FeedURL, FeedIDPlaceholder) {
		return fmt.Errorf("feed_url %q has no %s placeholder", c.FeedURL, FeedIDPlaceholder)
	}
	if _, _, err := c.Closing(); err != nil {
		return err
	}
	if len(c.RoomList) == 0 {
		return errors.New("no rooms configured")
	}
	// Each room owns one cache file, so names must stay distinct after
	// sanitizing: "A B" and "A/B" would share A_B.ics.
	cacheFiles := make(map[string]string, len(c.RoomList))
	for i, r := range c.RoomList {
		if r.Name == "" || r.ID == "" {
			return fmt.Errorf("room #%d: name and id are required", i+1)
		}
		file := ics.CacheFileName(r.Name)
		if prev, ok := cacheFiles[file]; ok {
			if prev == r.Name {
				return fmt.Errorf("room %q is configured twice", r.Name)
			}
			return fmt.Errorf("rooms %q and %q share cache file %s", prev, r.Name, file)
		}
		cacheFiles[file] = r.Name
	}
	return nil
}

// Location loads the reference timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Closing parses ClosingTime into hour and minute.
func (c *Config) Closing() (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.ClosingTime))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid closing_time %q: want HH:MM", c.ClosingTime)
	}
	return t.Hour(), t.Minute(), nil
}

// Timeout returns the per-feed HTTP timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Fallback returns the window length used once the closing time has passed.
func (c *Config) Fallback() time.Duration {
	return time.Duration(c.FallbackMinutes) * time.Minute
}

// Rooms returns the configured rooms in order. The slice is a fresh copy so
// callers cannot mutate the configuration.
func (c *Config) Rooms() []model.Room {
	out := make([]model.Room, 0, len(c.RoomList))
	for _, r := range c.RoomList {
		out = append(out, model.Room{Name: r.Name, SourceID: r.ID})
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}
