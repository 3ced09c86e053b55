// Package config manages wikimirror configuration and the .wikimirror
// directory structure. The file is TOML; every key can be overridden by a
// WIKIMIRROR_* environment variable or a bound command-line flag.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/kilupskalvis/wikimirror/internal/core"
	"github.com/kilupskalvis/wikimirror/internal/logging"
	"github.com/kilupskalvis/wikimirror/internal/remote"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	MirrorDir    = ".wikimirror"
	ConfigFile   = "config.toml"
	DatabaseFile = "mirror.db"
	ReportFile   = "findings.db"
	MediaDir     = "media"
	EnvPrefix    = "WIKIMIRROR"

	// TimeLayout is the accepted layout for start and end.
	TimeLayout = time.RFC3339
)

// Duration is a time.Duration written as "2s" in the config file.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config represents the wikimirror configuration.
type Config struct {
	APIURL            string  `toml:"api_url" mapstructure:"api_url" validate:"required,url"`
	UserAgent         string  `toml:"user_agent" mapstructure:"user_agent" validate:"required"`
	Token             string  `toml:"token,omitempty" mapstructure:"token"`
	Namespaces        []int   `toml:"namespaces,omitempty" mapstructure:"namespaces" validate:"dive,gte=-2"`
	Start             string  `toml:"start,omitempty" mapstructure:"start" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	End               string  `toml:"end,omitempty" mapstructure:"end" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	PageSize          int     `toml:"page_size" mapstructure:"page_size" validate:"gte=1,lte=500"`
	ProgressEvery     int     `toml:"progress_every" mapstructure:"progress_every" validate:"gte=0"`
	CheckpointEvery   int     `toml:"checkpoint_every" mapstructure:"checkpoint_every" validate:"gte=0"`
	DryRun            bool    `toml:"dry_run" mapstructure:"dry_run"`
	RequestsPerSecond float64 `toml:"requests_per_second" mapstructure:"requests_per_second" validate:"gte=0"`
	MediaDir          string  `toml:"media_dir" mapstructure:"media_dir"`
	MetricsFile       string  `toml:"metrics_file,omitempty" mapstructure:"metrics_file"`

	Retry    RetryConfig    `toml:"retry" mapstructure:"retry"`
	Transfer TransferConfig `toml:"transfer" mapstructure:"transfer"`
	Log      LogConfig      `toml:"log" mapstructure:"log"`

	path string // path to .wikimirror directory
}

// RetryConfig bounds retries of transient remote errors.
type RetryConfig struct {
	MaxRetries     int      `toml:"max_retries" mapstructure:"max_retries" validate:"gte=0,lte=20"`
	InitialBackoff Duration `toml:"initial_backoff" mapstructure:"initial_backoff" validate:"gte=0"`
	MaxBackoff     Duration `toml:"max_backoff" mapstructure:"max_backoff" validate:"gtefield=InitialBackoff"`
}

// TransferConfig controls file downloads.
type TransferConfig struct {
	MaxAttempts int               `toml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	RetryDelay  Duration          `toml:"retry_delay" mapstructure:"retry_delay" validate:"gte=0"`
	OriginRules []core.OriginRule `toml:"origin_rules,omitempty" mapstructure:"origin_rules" validate:"dive"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `toml:"format" mapstructure:"format" validate:"oneof=text json"`
	File       string `toml:"file,omitempty" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb,omitempty" mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `toml:"max_backups,omitempty" mapstructure:"max_backups" validate:"gte=0"`
}

// Default returns the configuration written by init.
func Default(apiURL string) *Config {
	rc := remote.DefaultRetryConfig()
	tc := core.DefaultTransferOptions()
	return &Config{
		APIURL:          apiURL,
		UserAgent:       remote.DefaultUserAgent,
		PageSize:        50,
		ProgressEvery:   10,
		CheckpointEvery: 3,
		MediaDir:        MediaDir,
		Retry: RetryConfig{
			MaxRetries:     rc.MaxRetries,
			InitialBackoff: Duration(rc.InitialBackoff),
			MaxBackoff:     Duration(rc.MaxBackoff),
		},
		Transfer: TransferConfig{
			MaxAttempts: tc.MaxAttempts,
			RetryDelay:  Duration(tc.RetryDelay),
			OriginRules: tc.Rules,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// FindRoot finds the .wikimirror directory by walking up from the current
// directory.
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		p := filepath.Join(dir, MirrorDir)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a wikimirror directory (or any parent up to root)")
		}
		dir = parent
	}
}

// Load reads the configuration found above the current directory.
// Environment variables and the flags in fs, when changed, win over the
// file.
func Load(fs *pflag.FlagSet) (*Config, error) {
	root, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(root, fs)
}

// LoadFrom reads the configuration of the .wikimirror directory at root.
func LoadFrom(root string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default(""))
	v.SetConfigFile(filepath.Join(root, ConfigFile))
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.path = root

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"dry-run":      "dry_run",
	"namespace":    "namespaces",
	"start":        "start",
	"end":          "end",
	"metrics-file": "metrics_file",
	"page-size":    "page_size",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// the file leaves out.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("api_url", d.APIURL)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("token", "")
	v.SetDefault("namespaces", []int{})
	v.SetDefault("start", "")
	v.SetDefault("end", "")
	v.SetDefault("page_size", d.PageSize)
	v.SetDefault("progress_every", d.ProgressEvery)
	v.SetDefault("checkpoint_every", d.CheckpointEvery)
	v.SetDefault("dry_run", false)
	v.SetDefault("requests_per_second", 0.0)
	v.SetDefault("media_dir", d.MediaDir)
	v.SetDefault("metrics_file", "")
	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.initial_backoff", time.Duration(d.Retry.InitialBackoff).String())
	v.SetDefault("retry.max_backoff", time.Duration(d.Retry.MaxBackoff).String())
	v.SetDefault("transfer.max_attempts", d.Transfer.MaxAttempts)
	v.SetDefault("transfer.retry_delay", time.Duration(d.Transfer.RetryDelay).String())
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the sync window.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	start, end, err := c.Window()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("invalid config: end %s is before start %s", c.End, c.Start)
	}
	return nil
}

// Window returns the parsed start and end bounds. Zero means unbounded.
func (c *Config) Window() (start, end time.Time, err error) {
	if c.Start != "" {
		if start, err = time.Parse(TimeLayout, c.Start); err != nil {
			return start, end, fmt.Errorf("invalid start: %w", err)
		}
	}
	if c.End != "" {
		if end, err = time.Parse(TimeLayout, c.End); err != nil {
			return start, end, fmt.Errorf("invalid end: %w", err)
		}
	}
	return start, end, nil
}

// Save saves the configuration to disk.
func (c *Config) Save() error {
	configPath := filepath.Join(c.path, ConfigFile)
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0600)
}

// Path returns the path to the .wikimirror directory.
func (c *Config) Path() string {
	return c.path
}

// DatabasePath returns the path to the bbolt database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.path, DatabaseFile)
}

// ReportPath returns the path to the findings database.
func (c *Config) ReportPath() string {
	return filepath.Join(c.path, ReportFile)
}

// MediaPath returns the media directory. A relative media_dir is resolved
// against the .wikimirror directory.
func (c *Config) MediaPath() string {
	if filepath.IsAbs(c.MediaDir) {
		return c.MediaDir
	}
	return filepath.Join(c.path, c.MediaDir)
}

// LoggingOptions returns the logger options.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	}
}

// RetryConfig returns the remote retry policy.
func (c *Config) RetryConfig() *remote.RetryConfig {
	rc := remote.DefaultRetryConfig()
	rc.MaxRetries = c.Retry.MaxRetries
	rc.InitialBackoff = time.Duration(c.Retry.InitialBackoff)
	rc.MaxBackoff = time.Duration(c.Retry.MaxBackoff)
	return rc
}

// TransferOptions returns the file transfer options. Configured origin
// rules replace the built-in ones.
func (c *Config) TransferOptions() core.TransferOptions {
	opts := core.DefaultTransferOptions()
	opts.MaxAttempts = c.Transfer.MaxAttempts
	opts.RetryDelay = time.Duration(c.Transfer.RetryDelay)
	if len(c.Transfer.OriginRules) > 0 {
		opts.Rules = c.Transfer.OriginRules
	}
	return opts
}

// Initialize creates a new .wikimirror directory in dir with the default
// configuration for apiURL.
func Initialize(dir, apiURL string) (*Config, error) {
	root := filepath.Join(dir, MirrorDir)

	// Check if already initialized
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("wikimirror directory already exists")
	}

	cfg := Default(apiURL)
	cfg.path = root
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", MirrorDir, err)
	}
	if err := os.MkdirAll(cfg.MediaPath(), 0755); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(root)
		return nil, err
	}

	return cfg, nil
}
