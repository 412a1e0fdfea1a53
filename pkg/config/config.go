package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/harrisonrobin/gpxstrava/pkg/ledger"
	"github.com/harrisonrobin/gpxstrava/pkg/logging"
)

const (
	xdgAppName = "gpxstrava"
	configFile = "config.yaml"
	envPrefix  = "GPXSTRAVA"
)

type Strava struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token" yaml:"refresh_token"`
	// BaseURL overrides the API root, mostly for testing.
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

type Config struct {
	GPXDir       string         `mapstructure:"gpx_dir" yaml:"gpx_dir"`
	DryRun       bool           `mapstructure:"dry_run" yaml:"dry_run"`
	NoPoll       bool           `mapstructure:"no_poll" yaml:"no_poll"`
	PollInterval time.Duration  `mapstructure:"poll_interval" yaml:"poll_interval"`
	PollTimeout  time.Duration  `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	Workers      int            `mapstructure:"workers" yaml:"workers"`
	LedgerPath   string         `mapstructure:"ledger_path" yaml:"ledger_path"`
	MetricsFile  string         `mapstructure:"metrics_file" yaml:"metrics_file,omitempty"`
	// Calendar names the Google calendar used as upload journal. Empty
	// disables the journal.
	Calendar string         `mapstructure:"calendar" yaml:"calendar,omitempty"`
	Strava   Strava         `mapstructure:"strava" yaml:"strava"`
	Log      logging.Config `mapstructure:"log" yaml:"log"`
}

func GetConfigDir() (string, error) {
	xdgHome, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(xdgHome, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// SetDefaults registers every key so that environment overrides apply to
// all of them.
func SetDefaults(v *viper.Viper) {
	ledgerPath := ledger.DefaultPath("")
	if dir, err := GetConfigDir(); err == nil {
		ledgerPath = ledger.DefaultPath(dir)
	}
	logDefaults := logging.DefaultConfig()

	v.SetDefault("gpx_dir", "./gpx_files")
	v.SetDefault("dry_run", false)
	v.SetDefault("no_poll", false)
	v.SetDefault("poll_interval", 5*time.Second)
	v.SetDefault("poll_timeout", 3*time.Minute)
	v.SetDefault("workers", 1)
	v.SetDefault("ledger_path", ledgerPath)
	v.SetDefault("metrics_file", "")
	v.SetDefault("calendar", "")
	v.SetDefault("strava.client_id", "")
	v.SetDefault("strava.client_secret", "")
	v.SetDefault("strava.refresh_token", "")
	v.SetDefault("strava.base_url", "")
	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.format", logDefaults.Format)
	v.SetDefault("log.output", logDefaults.Output)
}

// New returns a viper instance with defaults and environment binding:
// GPXSTRAVA_<KEY> for every key, plus the plain STRAVA_CLIENT_ID,
// STRAVA_CLIENT_SECRET and STRAVA_REFRESH_TOKEN variables.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, key := range []string{"client_id", "client_secret", "refresh_token"} {
		upper := strings.ToUpper(key)
		// BindEnv only fails without arguments.
		_ = v.BindEnv("strava."+key, envPrefix+"_STRAVA_"+upper, "STRAVA_"+upper)
	}
	return v
}

// LoadEnvFiles loads .env then .env.local into the process environment.
// Variables that are already set are kept. Missing files are ignored.
func LoadEnvFiles(files ...string) {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load reads the YAML config file at path (default location when empty)
// into v and decodes the merged result. A missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return nil, err
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.GPXDir == "":
		return errors.New("gpx_dir must not be empty")
	case c.Workers < 1:
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	case c.PollInterval <= 0:
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	case c.PollTimeout < c.PollInterval:
		return fmt.Errorf("poll_timeout (%s) must not be shorter than poll_interval (%s)", c.PollTimeout, c.PollInterval)
	}
	return nil
}

// Save writes cfg as YAML to path, or to the default location when path is
// empty. The file holds credentials and is readable by the owner only.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return err
		}
	}

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
