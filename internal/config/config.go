// Package config provides configuration management for vertd using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jmylchreest/vertd/internal/storage"
)

// Default configuration values.
const (
	defaultServerPort       = 24153
	defaultReadTimeout      = 5 * time.Minute
	defaultShutdownTimeout  = 10 * time.Second
	defaultOutputLifetime   = time.Hour
	defaultDownloadGrace    = 30 * time.Second
	defaultMaxUploadSize    = "8GB"
	defaultSweepSchedule    = "0 */15 * * * *"
	defaultProbeTimeout     = 10 * time.Second
	defaultVAAPIDevice      = "/dev/dri/renderD128"
	defaultWebhookTimeout   = 15 * time.Second
	defaultUploadRateLimit  = 0.0
	defaultUploadBurst      = 5
	defaultAdminPlaceholder = "supersecret"
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	FFmpeg  FFmpegConfig  `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Admin   AdminConfig   `mapstructure:"admin" yaml:"admin"`
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"` // 0 = unlimited, needed for long downloads
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	UploadRateLimit float64       `mapstructure:"upload_rate_limit" yaml:"upload_rate_limit"` // uploads/sec per IP, 0 = disabled
	UploadBurst     int           `mapstructure:"upload_burst" yaml:"upload_burst"`
}

// StorageConfig holds on-disk layout and retention configuration.
type StorageConfig struct {
	BaseDir        string        `mapstructure:"base_dir" yaml:"base_dir"`
	OutputLifetime time.Duration `mapstructure:"output_lifetime" yaml:"output_lifetime"`
	DownloadGrace  time.Duration `mapstructure:"download_grace" yaml:"download_grace"`
	MaxUploadSize  ByteSize      `mapstructure:"max_upload_size" yaml:"max_upload_size"`
	SweepSchedule  string        `mapstructure:"sweep_schedule" yaml:"sweep_schedule"` // 6-field cron expression
	CleanOnStartup bool          `mapstructure:"clean_on_startup" yaml:"clean_on_startup"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// FFmpegConfig holds encoder binary and hardware acceleration configuration.
type FFmpegConfig struct {
	BinaryPath   string        `mapstructure:"binary_path" yaml:"binary_path"` // empty = auto-detect
	ProbePath    string        `mapstructure:"probe_path" yaml:"probe_path"`   // empty = auto-detect
	HWAccel      bool          `mapstructure:"hwaccel" yaml:"hwaccel"`
	VAAPIDevice  string        `mapstructure:"vaapi_device" yaml:"vaapi_device"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// AdminConfig holds the privileged download override.
type AdminConfig struct {
	Password string `mapstructure:"password" yaml:"password" masq:"secret"`
}

// WebhookConfig holds the failure notification target.
type WebhookConfig struct {
	URL     string        `mapstructure:"url" yaml:"url" masq:"secret"`
	Pings   string        `mapstructure:"pings" yaml:"pings"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// legacyEnv maps config keys to the unprefixed environment variables
// older deployments set.
var legacyEnv = map[string]string{
	"server.port":         "PORT",
	"server.cors_origins": "CORS_ORIGINS",
	"admin.password":      "ADMIN_PASSWORD",
	"webhook.url":         "WEBHOOK_URL",
	"webhook.pings":       "WEBHOOK_PINGS",
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VERTD_ and use underscores for nesting.
// Example: VERTD_SERVER_PORT=24153.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vertd")
		v.AddConfigPath("$HOME/.vertd")
	}

	v.SetEnvPrefix("VERTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// bindLegacyEnv binds each key to its prefixed variable first and the legacy
// variable second, so VERTD_* wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	for key, env := range legacyEnv {
		prefixed := "VERTD_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("binding %s: %w", env, err)
		}
	}
	return nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultReadTimeout)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.upload_rate_limit", defaultUploadRateLimit)
	v.SetDefault("server.upload_burst", defaultUploadBurst)

	// Storage defaults
	v.SetDefault("storage.base_dir", ".")
	v.SetDefault("storage.output_lifetime", defaultOutputLifetime)
	v.SetDefault("storage.download_grace", defaultDownloadGrace)
	v.SetDefault("storage.max_upload_size", defaultMaxUploadSize)
	v.SetDefault("storage.sweep_schedule", defaultSweepSchedule)
	v.SetDefault("storage.clean_on_startup", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.hwaccel", true)
	v.SetDefault("ffmpeg.vaapi_device", defaultVAAPIDevice)
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)

	// Admin, webhook and metrics defaults
	v.SetDefault("admin.password", "")
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.pings", "")
	v.SetDefault("webhook.timeout", defaultWebhookTimeout)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.UploadRateLimit < 0 {
		return fmt.Errorf("server.upload_rate_limit must not be negative")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.OutputLifetime <= 0 {
		return fmt.Errorf("storage.output_lifetime must be positive")
	}
	if c.Storage.DownloadGrace < 0 {
		return fmt.Errorf("storage.download_grace must not be negative")
	}
	if c.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("storage.max_upload_size must be positive")
	}
	if err := storage.ValidateSchedule(c.Storage.SweepSchedule); err != nil {
		return fmt.Errorf("storage.sweep_schedule: %w", err)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AllowsAnyOrigin reports whether CORS is unrestricted.
func (c *ServerConfig) AllowsAnyOrigin() bool {
	if len(c.CORSOrigins) == 0 {
		return true
	}
	for _, o := range c.CORSOrigins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// OverrideEnabled reports whether the admin override token may be used.
// An unset password or the shipped placeholder disables it.
func (c *AdminConfig) OverrideEnabled() bool {
	return c.Password != "" && c.Password != defaultAdminPlaceholder
}

// Enabled reports whether failure notifications should be sent.
func (c *WebhookConfig) Enabled() bool {
	return c.URL != ""
}
