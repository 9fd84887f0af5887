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

	"github.com/harrisonrobin/dayblock/pkg/logx"
)

const (
	xdgAppName = "dayblock"
	configFile = "config.yaml"
)

// ICSSource is one subscribed ICS feed whose events count as busy time.
type ICSSource struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

type Storage struct {
	Driver      string `yaml:"driver"` // sqlite | memory
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout"`
}

type Google struct {
	// Calendar is the name of the calendar focus blocks are written to.
	Calendar          string   `yaml:"calendar"`
	BusyCalendars     []string `yaml:"busy_calendars"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Credentials       string   `yaml:"credentials"`
}

type Planning struct {
	BufferMinutes   int    `yaml:"buffer_minutes"`
	MaxChunkMinutes int    `yaml:"max_chunk_minutes"`
	EventSummary    string `yaml:"event_summary"`
	AutoConfirm     bool   `yaml:"auto_confirm"`
}

type Learning struct {
	Alpha       float64 `yaml:"alpha"`
	MinEstimate int     `yaml:"min_estimate"`
	MaxEstimate int     `yaml:"max_estimate"`
}

// Schedule holds cron expressions for the daemon jobs. Empty disables a job.
type Schedule struct {
	Plan  string `yaml:"plan"`
	Sync  string `yaml:"sync"`
	Sweep string `yaml:"sweep"`
}

type Config struct {
	User         string      `yaml:"user"`
	Timezone     string      `yaml:"timezone"`
	WorkdayStart string      `yaml:"workday_start"`
	WorkdayEnd   string      `yaml:"workday_end"`
	HorizonDays  int         `yaml:"horizon_days"`
	Storage      Storage     `yaml:"storage"`
	Log          logx.Config `yaml:"log"`
	Google       Google      `yaml:"google"`
	ICS          []ICSSource `yaml:"ics"`
	ICSCacheDir  string      `yaml:"ics_cache_dir"`
	Planning     Planning    `yaml:"planning"`
	Learning     Learning    `yaml:"learning"`
	Schedule     Schedule    `yaml:"schedule"`
}

// Dir returns the dayblock configuration directory, honouring XDG_CONFIG_HOME.
func Dir() (string, error) {
	if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
		return filepath.Join(x, xdgAppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		User:         "me",
		Timezone:     "America/Chicago",
		WorkdayStart: "09:00",
		WorkdayEnd:   "17:00",
		HorizonDays:  1,
		Storage:      Storage{Driver: "sqlite", BusyTimeout: "5s"},
		Log:          logx.Config{Level: "info", Console: true},
		Google:       Google{Calendar: "Focus", BusyCalendars: []string{"primary"}, RequestsPerSecond: 5},
		Planning:     Planning{BufferMinutes: 5, MaxChunkMinutes: 60, EventSummary: "Focus block"},
		Learning:     Learning{Alpha: 0.3, MinEstimate: 15, MaxEstimate: 480},
		Schedule:     Schedule{Plan: "0 7 * * 1-5", Sync: "*/15 * * * *", Sweep: "*/30 * * * *"},
	}
}

// Load reads the config at the default path.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, cfg.finish(filepath.Dir(path))
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := cfg.finish(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish fills paths relative to dir and validates the result.
func (c *Config) finish(dir string) error {
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(dir, "dayblock.db")
	}
	if c.Google.Credentials == "" {
		c.Google.Credentials = filepath.Join(dir, "credentials.json")
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = filepath.Join(dir, "ics-cache")
	}
	if strings.TrimSpace(c.User) == "" {
		return errors.New("config: user must not be empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if _, err := c.BusyTimeout(); err != nil {
		return err
	}
	if c.HorizonDays < 1 {
		c.HorizonDays = 1
	}
	for i, src := range c.ICS {
		if src.URL == "" {
			return fmt.Errorf("config: ics[%d] has no url", i)
		}
		if src.ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics%d", i+1)
		}
	}
	return nil
}

// BusyTimeout parses Storage.BusyTimeout, zero when unset.
func (c *Config) BusyTimeout() (time.Duration, error) {
	if c.Storage.BusyTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Storage.BusyTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: storage.busy_timeout: %w", err)
	}
	return d, nil
}

// Location returns the configured default zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(path, cfg)
}

func SaveFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
