// Package config loads promptvault settings.
//
// Settings live in config.yaml inside the data directory and can be
// overridden by PROMPTVAULT_* environment variables (dots become
// underscores: PROMPTVAULT_WATCH_DEBOUNCE=500ms). A commented default file
// is written on first run; a missing file is not an error.
package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mschirtzinger/promptvault/internal/retention"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	envPrefix = "PROMPTVAULT"

	// DefaultDirName is the data directory under the user's home.
	DefaultDirName = ".promptvault"
)

// Config keys.
const (
	KeyDataDir            = "data_dir"
	KeyCatalogPath        = "catalog.path"
	KeyWatchDebounce      = "watch.debounce"
	KeyWatchIgnore        = "watch.ignore"
	KeyWatchResync        = "watch.resync"
	KeySearchDefaultLimit = "search.default_limit"
	KeyLogFile            = "log.file"
	KeyLogMaxSizeMB       = "log.max_size_mb"
	KeyLogMaxBackups      = "log.max_backups"
	KeyLogMaxAgeDays      = "log.max_age_days"
	KeyRetentionMax       = "retention.max_versions_per_prompt"
	KeyRetentionDays      = "retention.retention_days"
	KeyRetentionStrategy  = "retention.strategy"
	KeyRetentionPreserve  = "retention.preserve_tagged_versions"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# promptvault configuration
# Environment variables override these keys, e.g. PROMPTVAULT_WATCH_DEBOUNCE=500ms

# Catalog database, relative to the data directory
# catalog:
#   path: catalog.db

watch:
  # How long an edit waits before it is synced
  debounce: 150ms
  # Extra glob patterns to ignore, matched against file and relative path
  ignore: []
  # Periodic full sync while watching (0 disables)
  resync: 5m

search:
  default_limit: 50

log:
  # Rotating log file, relative to the data directory (empty logs to stderr only)
  file: ""
  max_size_mb: 10
  max_backups: 3
  max_age_days: 28

# Retention defaults. Values set with "pv retention set" take precedence.
retention:
  max_versions_per_prompt: 50
  retention_days: 90
  strategy: count
  preserve_tagged_versions: true
`

// WatchConfig configures the change watcher.
type WatchConfig struct {
	Debounce time.Duration
	Ignore   []string
	Resync   time.Duration
}

// LogConfig configures the log file.
type LogConfig struct {
	// File is the absolute path of the rotating log file. Empty disables it.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Config is the resolved configuration.
type Config struct {
	DataDir            string
	CatalogPath        string
	Watch              WatchConfig
	SearchDefaultLimit int
	Log                LogConfig
	// Retention holds the policy defaults used for keys the catalog has no
	// persisted value for.
	Retention retention.Config
}

// PromptsDir is where record files live.
func (c *Config) PromptsDir() string {
	return filepath.Join(c.DataDir, "prompts")
}

// ArchiveDir is where archived record files live.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.DataDir, "archive")
}

// DefaultDataDir returns $PROMPTVAULT_DATA_DIR, or ~/.promptvault.
func DefaultDataDir() (string, error) {
	if dir := os.Getenv(envPrefix + "_" + strings.ToUpper(KeyDataDir)); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// Load reads the configuration of dataDir. An empty dataDir uses
// DefaultDataDir. The directory and a default config.yaml are created if
// missing.
func Load(dataDir string) (*Config, error) {
	if dataDir == "" {
		var err error
		if dataDir, err = DefaultDataDir(); err != nil {
			return nil, err
		}
	}
	dataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data dir: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := ensureDefaultConfigFile(dataDir); err != nil {
		return nil, fmt.Errorf("failed to write default config: %w", err)
	}

	v := newViper()
	v.AddConfigPath(dataDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return fromViper(v, dataDir)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := retention.DefaultConfig()
	v.SetDefault(KeyCatalogPath, "catalog.db")
	v.SetDefault(KeyWatchDebounce, "150ms")
	v.SetDefault(KeyWatchIgnore, []string{})
	v.SetDefault(KeyWatchResync, "5m")
	v.SetDefault(KeySearchDefaultLimit, 50)
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, 10)
	v.SetDefault(KeyLogMaxBackups, 3)
	v.SetDefault(KeyLogMaxAgeDays, 28)
	v.SetDefault(KeyRetentionMax, def.MaxVersionsPerPrompt)
	v.SetDefault(KeyRetentionDays, def.RetentionDays)
	v.SetDefault(KeyRetentionStrategy, string(def.Strategy))
	v.SetDefault(KeyRetentionPreserve, def.PreserveTaggedVersions)
	return v
}

func fromViper(v *viper.Viper, dataDir string) (*Config, error) {
	cfg := &Config{
		DataDir:     dataDir,
		CatalogPath: resolve(dataDir, v.GetString(KeyCatalogPath)),
		Watch: WatchConfig{
			Debounce: v.GetDuration(KeyWatchDebounce),
			Ignore:   v.GetStringSlice(KeyWatchIgnore),
			Resync:   v.GetDuration(KeyWatchResync),
		},
		SearchDefaultLimit: v.GetInt(KeySearchDefaultLimit),
		Log: LogConfig{
			MaxSizeMB:  v.GetInt(KeyLogMaxSizeMB),
			MaxBackups: v.GetInt(KeyLogMaxBackups),
			MaxAgeDays: v.GetInt(KeyLogMaxAgeDays),
		},
		Retention: retention.Config{
			MaxVersionsPerPrompt:   v.GetInt(KeyRetentionMax),
			RetentionDays:          v.GetInt(KeyRetentionDays),
			Strategy:               retention.Strategy(v.GetString(KeyRetentionStrategy)),
			PreserveTaggedVersions: v.GetBool(KeyRetentionPreserve),
		},
	}
	if f := v.GetString(KeyLogFile); f != "" {
		cfg.Log.File = resolve(dataDir, f)
	}

	if cfg.Watch.Debounce < 0 {
		return nil, fmt.Errorf("%s must not be negative", KeyWatchDebounce)
	}
	if cfg.SearchDefaultLimit < 1 {
		return nil, fmt.Errorf("%s must be at least 1", KeySearchDefaultLimit)
	}
	if err := cfg.Retention.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retention defaults: %w", err)
	}
	return cfg, nil
}

// resolve makes p absolute relative to dir.
func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// ensureDefaultConfigFile creates config.yaml if it does not exist.
func ensureDefaultConfigFile(dataDir string) error {
	path := filepath.Join(dataDir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0644)
}

// NewLogOutput returns the process log destination: w, plus the rotating
// log file when one is configured. The returned closer releases the file.
func NewLogOutput(cfg LogConfig, w io.Writer) (io.Writer, io.Closer) {
	if cfg.File == "" {
		return w, nopCloser{}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	return io.MultiWriter(w, file), file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger returns a logger for component writing to out, prefixed the
// way every package's default logger is: "[component] ".
func NewLogger(out io.Writer, component string) *log.Logger {
	return log.New(out, "["+component+"] ", log.LstdFlags)
}
