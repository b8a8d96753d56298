// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface is read access to the application configuration.
type Interface interface {
	Logger() LoggerConfig
	Engine() EngineConfig
	Dispatch() DispatchConfig
	Pilot() PilotConfig
	Browser() BrowserConfig

	SetBrowserHeadless(bool)
	SetPilotServerURL(string)
	SetLoggerLevel(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	DispatchCfg DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
	PilotCfg    PilotConfig    `mapstructure:"pilot" yaml:"pilot"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
}

// --- Getters ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Dispatch() DispatchConfig { return c.DispatchCfg }
func (c *Config) Pilot() PilotConfig       { return c.PilotCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }

// --- Setters ---

func (c *Config) SetBrowserHeadless(b bool)   { c.BrowserCfg.Headless = b }
func (c *Config) SetPilotServerURL(u string)  { c.PilotCfg.ServerURL = u }
func (c *Config) SetLoggerLevel(level string) { c.LoggerCfg.Level = level }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the console color of each log level.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig tunes the in-page primitives.
type EngineConfig struct {
	SettleFallback     time.Duration `mapstructure:"settle_fallback" yaml:"settle_fallback"`
	FrameSettle        time.Duration `mapstructure:"frame_settle" yaml:"frame_settle"`
	WaitPollInterval   time.Duration `mapstructure:"wait_poll_interval" yaml:"wait_poll_interval"`
	DefaultWaitTimeout time.Duration `mapstructure:"default_wait_timeout" yaml:"default_wait_timeout"`
	ListLimit          int           `mapstructure:"list_limit" yaml:"list_limit"`
	ShadowDepth        int           `mapstructure:"shadow_depth" yaml:"shadow_depth"`
	CandidateLimit     int           `mapstructure:"candidate_limit" yaml:"candidate_limit"`
	MutationLimit      int           `mapstructure:"mutation_limit" yaml:"mutation_limit"`
}

// DispatchConfig controls frame and world routing.
type DispatchConfig struct {
	DefaultWorld     string `mapstructure:"default_world" yaml:"default_world"`
	ProbeWorld       string `mapstructure:"probe_world" yaml:"probe_world"`
	FrameConcurrency int    `mapstructure:"frame_concurrency" yaml:"frame_concurrency"`
}

// PilotConfig configures the sync loop and the query service.
type PilotConfig struct {
	ServerURL        string        `mapstructure:"server_url" yaml:"server_url"`
	SessionID        string        `mapstructure:"session_id" yaml:"session_id"`
	ExtensionVersion string        `mapstructure:"extension_version" yaml:"extension_version"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MinPollInterval  time.Duration `mapstructure:"min_poll_interval" yaml:"min_poll_interval"`
	MaxInFlight      int           `mapstructure:"max_in_flight" yaml:"max_in_flight"`
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
	ToastMinTrying   time.Duration `mapstructure:"toast_min_trying" yaml:"toast_min_trying"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

// BrowserConfig holds settings for the Chrome instance used to snapshot
// live pages.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ChromeFlags       []string      `mapstructure:"chrome_flags" yaml:"chrome_flags"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-pilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Engine --
	v.SetDefault("engine.settle_fallback", "80ms")
	v.SetDefault("engine.frame_settle", "50ms")
	v.SetDefault("engine.wait_poll_interval", "80ms")
	v.SetDefault("engine.default_wait_timeout", "5s")
	v.SetDefault("engine.list_limit", 100)
	v.SetDefault("engine.shadow_depth", 10)
	v.SetDefault("engine.candidate_limit", 8)
	v.SetDefault("engine.mutation_limit", 50)

	// -- Dispatch --
	v.SetDefault("dispatch.default_world", "auto")
	v.SetDefault("dispatch.probe_world", "isolated")
	v.SetDefault("dispatch.frame_concurrency", 4)

	// -- Pilot --
	v.SetDefault("pilot.server_url", "http://127.0.0.1:7890")
	v.SetDefault("pilot.session_id", "")
	v.SetDefault("pilot.extension_version", "")
	v.SetDefault("pilot.poll_interval", "1s")
	v.SetDefault("pilot.min_poll_interval", "100ms")
	v.SetDefault("pilot.max_in_flight", 4)
	v.SetDefault("pilot.failure_threshold", 5)
	v.SetDefault("pilot.breaker_cooldown", "10s")
	v.SetDefault("pilot.toast_min_trying", "500ms")
	v.SetDefault("pilot.query_timeout", "30s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.chrome_flags", []string{})
}

// NewConfigFromViper builds and validates a configuration from v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The sync endpoint and session usually differ per machine.
	_ = v.BindEnv("pilot.server_url", "SCALPEL_PILOT_SERVER_URL")
	_ = v.BindEnv("pilot.session_id", "SCALPEL_PILOT_SESSION_ID")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.ListLimit <= 0 {
		return fmt.Errorf("engine.list_limit must be a positive integer")
	}
	if c.EngineCfg.ShadowDepth <= 0 {
		return fmt.Errorf("engine.shadow_depth must be a positive integer")
	}
	if err := c.DispatchCfg.Validate(); err != nil {
		return fmt.Errorf("dispatch configuration invalid: %w", err)
	}
	if err := c.PilotCfg.Validate(); err != nil {
		return fmt.Errorf("pilot configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the dispatch settings.
func (d *DispatchConfig) Validate() error {
	switch strings.ToLower(d.DefaultWorld) {
	case "auto", "main", "isolated":
	default:
		return fmt.Errorf("default_world must be auto, main or isolated, got %q", d.DefaultWorld)
	}
	switch strings.ToLower(d.ProbeWorld) {
	case "main", "isolated":
	default:
		return fmt.Errorf("probe_world must be main or isolated, got %q", d.ProbeWorld)
	}
	if d.FrameConcurrency <= 0 {
		return fmt.Errorf("frame_concurrency must be a positive integer")
	}
	return nil
}

// Validate checks the pilot settings.
func (p *PilotConfig) Validate() error {
	if p.MaxInFlight <= 0 {
		return fmt.Errorf("max_in_flight must be a positive integer")
	}
	if p.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if p.MinPollInterval > p.PollInterval {
		return fmt.Errorf("min_poll_interval must not exceed poll_interval")
	}
	return nil
}
