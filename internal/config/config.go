package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"waveform.click/internal/media"
	"waveform.click/internal/render"
)

var ErrInvalidConfig = errors.New("config validation failed")

var validLogLevels = []string{"debug", "info", "warn", "error"}

// FileLoggingConfig represents file-based logging configuration
type FileLoggingConfig struct {
	Enabled    bool   `json:"enabled"`      // Whether file logging is enabled
	Filename   string `json:"filename"`     // Log file path (empty = XDG cache path)
	MaxSizeMB  int    `json:"max_size_mb"`  // Max file size in MB before rotation
	MaxBackups int    `json:"max_backups"`  // Max number of backup files to keep
	MaxAgeDays int    `json:"max_age_days"` // Max age in days before deletion
	Compress   bool   `json:"compress"`     // Whether to compress rotated files
}

// ExtractionConfig controls the waveform cache
type ExtractionConfig struct {
	MaxWorkers   int  `json:"max_workers"`           // Concurrent extractions (0 = number of CPUs)
	ChannelStart int  `json:"channel_start"`         // First channel, 0-based
	ChannelEnd   *int `json:"channel_end,omitempty"` // Last channel, inclusive (nil = last available)
	MaxChannels  int  `json:"max_channels"`          // When > 0, select the first N channels instead
}

// ChannelSelector normalises the channel settings onto one inclusive range
func (e ExtractionConfig) ChannelSelector() media.ChannelSelector {
	if e.MaxChannels > 0 {
		return media.MaxChannels(e.MaxChannels)
	}
	end := media.AllChannels.End
	if e.ChannelEnd != nil {
		end = *e.ChannelEnd
	}
	return media.Channels(e.ChannelStart, end)
}

// RenderConfig holds the image defaults used by the render command
type RenderConfig struct {
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	NormalColor    string  `json:"normal_color"`
	ProgressColor  string  `json:"progress_color"`
	Background     string  `json:"background"`
	Precision      float64 `json:"precision"`
	LineWidthRatio float64 `json:"line_width_ratio"`
	Padding        int     `json:"padding"`
}

// Options converts the config into validated renderer options
func (r RenderConfig) Options() (render.Options, error) {
	opts := render.DefaultOptions()
	opts.Height = r.Height
	opts.Precision = r.Precision
	opts.LineWidthRatio = r.LineWidthRatio
	opts.Padding = r.Padding

	var err error
	if opts.NormalColor, err = parseColor(r.NormalColor, opts.NormalColor); err != nil {
		return opts, err
	}
	if opts.ProgressColor, err = parseColor(r.ProgressColor, opts.ProgressColor); err != nil {
		return opts, err
	}
	if opts.Background, err = parseColor(r.Background, opts.Background); err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

// parseColor keeps fallback for an empty value
func parseColor(value string, fallback color.Color) (color.Color, error) {
	if value == "" {
		return fallback, nil
	}
	return render.ParseHexColor(value)
}

// TrackingConfig represents extraction tracking configuration
type TrackingConfig struct {
	Enabled      bool   `json:"enabled"`       // Whether extraction events are recorded
	DatabasePath string `json:"database_path"` // Custom database path (empty = XDG cache path)
}

// Config represents waveform configuration
type Config struct {
	LogLevel    string             `json:"log_level"` // Log level (debug, info, warn, error)
	Extraction  ExtractionConfig   `json:"extraction"`
	Render      RenderConfig       `json:"render"`
	Tracking    *TrackingConfig    `json:"tracking,omitempty"`
	FileLogging *FileLoggingConfig `json:"file_logging,omitempty"`
}

// XDGInterface defines the interface for XDG directory operations
type XDGInterface interface {
	GetConfigPaths(filename string) []string
	GetCachePath(purpose string) string
	CreateCacheDir(purpose string) error
}

// ConfigManager handles loading, saving, and validating configuration
type ConfigManager struct {
	xdg XDGInterface
	fs  afero.Fs
}

// NewConfigManager creates a configuration manager on the OS filesystem
func NewConfigManager() *ConfigManager {
	return NewConfigManagerWithFilesystem(afero.NewOsFs())
}

// NewConfigManagerWithFilesystem creates a configuration manager that does
// all file I/O through fs
func NewConfigManagerWithFilesystem(fs afero.Fs) *ConfigManager {
	slog.Debug("creating new config manager")
	return &ConfigManager{
		xdg: NewXDGDirsWithFilesystem(fs),
		fs:  fs,
	}
}

// GetDefaultConfig returns the default configuration
func (cm *ConfigManager) GetDefaultConfig() *Config {
	defaultConfig := &Config{
		LogLevel: "warn",
		Extraction: ExtractionConfig{
			MaxWorkers: 0,
		},
		Render: RenderConfig{
			Width:          1200,
			Height:         200,
			NormalColor:    "#b4e4ff",
			ProgressColor:  "#ffaa3c",
			Background:     "#26262c",
			Precision:      1,
			LineWidthRatio: 1,
		},
		Tracking: GetDefaultTrackingConfig(),
		FileLogging: &FileLoggingConfig{
			Enabled:    false,
			Filename:   "", // Empty = XDG cache path
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}

	slog.Debug("generated default config",
		"log_level", defaultConfig.LogLevel,
		"render_width", defaultConfig.Render.Width,
		"render_height", defaultConfig.Render.Height,
		"tracking_enabled", defaultConfig.Tracking.Enabled,
		"file_logging_enabled", defaultConfig.FileLogging.Enabled)

	return defaultConfig
}

// GetDefaultTrackingConfig returns the default tracking configuration
func GetDefaultTrackingConfig() *TrackingConfig {
	return &TrackingConfig{
		Enabled:      true,
		DatabasePath: "",
	}
}

// LoadFromFile loads configuration from a specific file. Missing fields
// keep their default values.
func (cm *ConfigManager) LoadFromFile(filePath string) (*Config, error) {
	slog.Debug("loading config from file", "file_path", filePath)

	data, err := afero.ReadFile(cm.fs, filePath)
	if err != nil {
		slog.Error("failed to read config file", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := cm.GetDefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		slog.Error("failed to parse config JSON", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cm.ValidateConfig(config); err != nil {
		slog.Error("config validation failed", "file_path", filePath, "error", err)
		return nil, err
	}

	slog.Debug("config loaded successfully",
		"file_path", filePath,
		"log_level", config.LogLevel,
		"max_workers", config.Extraction.MaxWorkers)

	return config, nil
}

// SaveToFile saves configuration to a specific file
func (cm *ConfigManager) SaveToFile(config *Config, filePath string) error {
	slog.Debug("saving config to file", "file_path", filePath)

	if err := cm.ValidateConfig(config); err != nil {
		slog.Error("cannot save invalid config", "error", err)
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	dir := filepath.Dir(filePath)
	if err := cm.fs.MkdirAll(dir, 0755); err != nil {
		slog.Error("failed to create config directory", "directory", dir, "error", err)
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		slog.Error("failed to marshal config", "error", err)
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(cm.fs, filePath, data, 0644); err != nil {
		slog.Error("failed to write config file", "file_path", filePath, "error", err)
		return fmt.Errorf("failed to write config file: %w", err)
	}

	slog.Info("config saved successfully", "file_path", filePath)
	return nil
}

// LoadConfig loads configuration using XDG path discovery
func (cm *ConfigManager) LoadConfig() (*Config, error) {
	configPaths := cm.xdg.GetConfigPaths("config.json")
	slog.Debug("searching for config file", "paths", configPaths)

	for i, configPath := range configPaths {
		if _, err := cm.fs.Stat(configPath); err == nil {
			slog.Debug("found config file", "path_index", i, "path", configPath)
			return cm.LoadFromFile(configPath)
		}
	}

	slog.Debug("no config file found, using defaults")
	return cm.GetDefaultConfig(), nil
}

// ValidateConfig validates configuration values and reports every problem
func (cm *ConfigManager) ValidateConfig(config *Config) error {
	var problems []string

	if config.LogLevel != "" {
		if _, err := ParseLogLevel(config.LogLevel); err != nil {
			problems = append(problems, err.Error())
		}
	}

	ext := config.Extraction
	if ext.MaxWorkers < 0 {
		problems = append(problems, fmt.Sprintf("extraction max_workers must be >= 0, got %d", ext.MaxWorkers))
	}
	if ext.ChannelStart < 0 {
		problems = append(problems, fmt.Sprintf("extraction channel_start must be >= 0, got %d", ext.ChannelStart))
	}
	if ext.ChannelEnd != nil && *ext.ChannelEnd < 0 {
		problems = append(problems, fmt.Sprintf("extraction channel_end must be >= 0, got %d", *ext.ChannelEnd))
	}
	if ext.MaxChannels < 0 {
		problems = append(problems, fmt.Sprintf("extraction max_channels must be >= 0, got %d", ext.MaxChannels))
	}

	if config.Render.Width < 1 {
		problems = append(problems, fmt.Sprintf("render width must be positive, got %d", config.Render.Width))
	}
	if _, err := config.Render.Options(); err != nil {
		problems = append(problems, fmt.Sprintf("render: %v", err))
	}

	if fileLogging := config.FileLogging; fileLogging != nil {
		if fileLogging.MaxSizeMB < 0 {
			problems = append(problems, fmt.Sprintf("file logging max_size_mb must be >= 0, got %d", fileLogging.MaxSizeMB))
		}
		if fileLogging.MaxBackups < 0 {
			problems = append(problems, fmt.Sprintf("file logging max_backups must be >= 0, got %d", fileLogging.MaxBackups))
		}
		if fileLogging.MaxAgeDays < 0 {
			problems = append(problems, fmt.Sprintf("file logging max_age_days must be >= 0, got %d", fileLogging.MaxAgeDays))
		}
	}

	if len(problems) > 0 {
		errMsg := strings.Join(problems, "; ")
		slog.Error("config validation failed", "errors", errMsg)
		return fmt.Errorf("%w: %s", ErrInvalidConfig, errMsg)
	}

	slog.Debug("config validation passed")
	return nil
}

// MergeConfigs merges two configurations, with override taking precedence
// for every non-zero value
func (cm *ConfigManager) MergeConfigs(base, override *Config) *Config {
	slog.Debug("merging configurations")

	merged := *base

	if override.LogLevel != "" {
		merged.LogLevel = override.LogLevel
	}

	if override.Extraction.MaxWorkers != 0 {
		merged.Extraction.MaxWorkers = override.Extraction.MaxWorkers
	}
	if override.Extraction.ChannelStart != 0 {
		merged.Extraction.ChannelStart = override.Extraction.ChannelStart
	}
	if override.Extraction.ChannelEnd != nil {
		end := *override.Extraction.ChannelEnd
		merged.Extraction.ChannelEnd = &end
	}
	if override.Extraction.MaxChannels != 0 {
		merged.Extraction.MaxChannels = override.Extraction.MaxChannels
	}

	r, o := &merged.Render, override.Render
	if o.Width != 0 {
		r.Width = o.Width
	}
	if o.Height != 0 {
		r.Height = o.Height
	}
	if o.NormalColor != "" {
		r.NormalColor = o.NormalColor
	}
	if o.ProgressColor != "" {
		r.ProgressColor = o.ProgressColor
	}
	if o.Background != "" {
		r.Background = o.Background
	}
	if o.Precision != 0 {
		r.Precision = o.Precision
	}
	if o.LineWidthRatio != 0 {
		r.LineWidthRatio = o.LineWidthRatio
	}
	if o.Padding != 0 {
		r.Padding = o.Padding
	}

	// Sections are replaced whole: an explicit false must win
	if override.Tracking != nil {
		tracking := *override.Tracking
		merged.Tracking = &tracking
	}
	if override.FileLogging != nil {
		fileLogging := *override.FileLogging
		merged.FileLogging = &fileLogging
	}

	slog.Debug("configurations merged successfully")
	return &merged
}

// ApplyEnvironmentOverrides applies environment variable overrides to config
func (cm *ConfigManager) ApplyEnvironmentOverrides(config *Config) *Config {
	slog.Debug("applying environment variable overrides")

	result := *config

	if logLevel := os.Getenv("WAVEFORM_LOG_LEVEL"); logLevel != "" {
		result.LogLevel = logLevel
		slog.Debug("applied log level override from environment", "value", logLevel)
	}

	if n, ok := envInt("WAVEFORM_MAX_WORKERS"); ok {
		result.Extraction.MaxWorkers = n
	}

	if n, ok := envInt("WAVEFORM_MAX_CHANNELS"); ok {
		result.Extraction.MaxChannels = n
	}

	tracking := GetDefaultTrackingConfig()
	if config.Tracking != nil {
		tracking = config.Tracking
	}
	result.Tracking = ApplyTrackingEnvironmentOverrides(tracking)

	slog.Debug("environment overrides applied")
	return &result
}

// ApplyTrackingEnvironmentOverrides applies environment variable overrides to tracking config
func ApplyTrackingEnvironmentOverrides(config *TrackingConfig) *TrackingConfig {
	result := *config

	if trackingStr := os.Getenv("WAVEFORM_TRACKING"); trackingStr != "" {
		if enabled, err := strconv.ParseBool(trackingStr); err == nil {
			result.Enabled = enabled
			slog.Debug("applied tracking override from environment", "value", enabled)
		} else {
			slog.Warn("invalid WAVEFORM_TRACKING environment variable", "value", trackingStr, "error", err)
		}
	}

	if dbPath := os.Getenv("WAVEFORM_DB_PATH"); dbPath != "" {
		result.DatabasePath = dbPath
	}

	return &result
}

func envInt(name string) (int, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		slog.Warn("invalid integer environment variable", "name", name, "value", s, "error", err)
		return 0, false
	}
	slog.Debug("applied override from environment", "name", name, "value", n)
	return n, true
}

// ParseLogLevel converts a level name to a slog.Level
func ParseLogLevel(logLevel string) (slog.Level, error) {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("invalid log level '%s', must be one of: %s",
			logLevel, strings.Join(validLogLevels, ", "))
	}
}

// ResolveLogFilePath resolves the log file path using XDG cache directory when filename is empty
func (cm *ConfigManager) ResolveLogFilePath(filename string) string {
	if filename != "" {
		return filename
	}
	return filepath.Join(cm.xdg.GetCachePath("logs"), "waveform.log")
}

// ResolveDatabasePath resolves the tracking database path, defaulting to the XDG cache directory
func (cm *ConfigManager) ResolveDatabasePath(config *Config) string {
	if config.Tracking != nil && config.Tracking.DatabasePath != "" {
		return config.Tracking.DatabasePath
	}
	return filepath.Join(cm.xdg.GetCachePath(""), "extractions.db")
}
