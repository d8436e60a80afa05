// Package config loads and hot-reloads the orchestrator's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the root configuration structure for the orchestrator.
type Config struct {
	Version   int             `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Memory    MemoryConfig    `yaml:"memory"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Tools     ToolsConfig     `yaml:"tools"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cron      CronConfig      `yaml:"cron"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the gateway's listening surfaces.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`

	// DataDir holds the task store's tasks.json and the cron execution
	// store's sqlite file. Empty means in-memory only - nothing touches disk.
	DataDir string `yaml:"data_dir"`
}

// LLMConfig configures the provider registry available to agent instances.
type LLMConfig struct {
	DefaultProvider string           `yaml:"default_provider"`
	DefaultModel    string           `yaml:"default_model"`
	Providers       []ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes a single configured LLM backend.
//
// APIKeyEnv names an environment variable read at construction time rather
// than stored in the config file or logs.
type ProviderConfig struct {
	Name       string `yaml:"name"`
	APIKeyEnv  string `yaml:"api_key_env"`
	BaseURL    string `yaml:"base_url,omitempty"`
	Model      string `yaml:"model,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
}

// APIKey resolves the provider's secret from its configured environment variable.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// MemoryConfig configures per-agent conversation memory retention and compaction.
type MemoryConfig struct {
	MaxMessages          int           `yaml:"max_messages"`
	CompactionEnabled    bool          `yaml:"compaction_enabled"`
	ThresholdPercent     int           `yaml:"threshold_percent"`
	FlushPrompt          string        `yaml:"flush_prompt"`
	ConfirmationTimeout  time.Duration `yaml:"confirmation_timeout"`
	AutoCompactOnTimeout bool          `yaml:"auto_compact_on_timeout"`
}

// ExecutorConfig configures the tool execution engine's concurrency and retry policy.
type ExecutorConfig struct {
	MaxConcurrency  int           `yaml:"max_concurrency"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	DefaultRetries  int           `yaml:"default_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff"`
}

// ToolsConfig configures approval requirements for tool execution.
type ToolsConfig struct {
	// SensitiveToolNames lists tools that always require human approval before execution.
	SensitiveToolNames []string `yaml:"sensitive_tool_names"`
	// ApprovalPatterns additionally derives sensitivity from glob-style name patterns.
	ApprovalPatterns []string `yaml:"approval_patterns"`
}

// SchedulerConfig configures the plan director's scheduling and watchdog loops.
type SchedulerConfig struct {
	// PollInterval is how often the scheduling loop re-checks the queue even
	// absent a triggering event, as a backstop against a missed publish.
	PollInterval time.Duration `yaml:"poll_interval"`
	// WatchdogInterval is how often the watchdog scans in-flight tasks for
	// inactivity, total-time, or tool-call-count violations.
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	// ZombieTimeout is kept for config-schema compatibility with older
	// deployments; startup zombie recovery resets every in_progress task
	// with no live tracker unconditionally, so this is not consulted.
	ZombieTimeout time.Duration `yaml:"zombie_timeout"`
	// MaxConcurrentTasks bounds how many tasks the scheduling loop runs at once (K).
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`
	// InactivityTimeout blocks a task if its agent loop produces no chunk for this long.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	// MaxTotalTime blocks a task if it has run for longer than this in total.
	MaxTotalTime time.Duration `yaml:"max_total_time"`
	// MaxToolCalls blocks a task once it has issued this many tool calls.
	MaxToolCalls int `yaml:"max_tool_calls"`
}

// CronConfig configures the recurring job scheduler's tick granularity.
type CronConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// TelemetryConfig configures metrics and tracing export.
type TelemetryConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"`
	ServiceName    string `yaml:"service_name"`
}

// LoggingConfig configures the root slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Default returns a Config populated with the orchestrator's baseline defaults.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			Host:        "127.0.0.1",
			HTTPPort:    8080,
			MetricsPort: 9090,
		},
		LLM: LLMConfig{
			DefaultModel: "default",
		},
		Memory: MemoryConfig{
			MaxMessages:          50,
			CompactionEnabled:    true,
			ThresholdPercent:     80,
			FlushPrompt:          "Please summarize the conversation so far before we continue.",
			ConfirmationTimeout:  5 * time.Minute,
			AutoCompactOnTimeout: true,
		},
		Executor: ExecutorConfig{
			MaxConcurrency:  5,
			DefaultTimeout:  30 * time.Second,
			DefaultRetries:  2,
			RetryBackoff:    100 * time.Millisecond,
			MaxRetryBackoff: 5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			PollInterval:       1 * time.Second,
			WatchdogInterval:   45 * time.Second,
			ZombieTimeout:      10 * time.Minute,
			MaxConcurrentTasks: 1,
			InactivityTimeout:  240 * time.Second,
			MaxTotalTime:       900 * time.Second,
			MaxToolCalls:       100,
		},
		Cron: CronConfig{
			TickInterval: 15 * time.Second,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
			TracingEnabled: false,
			ServiceName:    "orchestra",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads, merges (resolving $include), and decodes the config file at path,
// layering its values over Default() and validating the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with the baseline defaults. Because
// decodeRawConfig decodes into a fresh struct, every field this function
// touches here is one the file simply never set.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Version == 0 {
		c.Version = d.Version
	}
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = d.Server.HTTPPort
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = d.Server.MetricsPort
	}
	if c.Memory.MaxMessages == 0 {
		c.Memory.MaxMessages = d.Memory.MaxMessages
	}
	if c.Memory.ThresholdPercent == 0 {
		c.Memory.ThresholdPercent = d.Memory.ThresholdPercent
	}
	if c.Memory.FlushPrompt == "" {
		c.Memory.FlushPrompt = d.Memory.FlushPrompt
	}
	if c.Memory.ConfirmationTimeout == 0 {
		c.Memory.ConfirmationTimeout = d.Memory.ConfirmationTimeout
	}
	if c.Executor.MaxConcurrency == 0 {
		c.Executor.MaxConcurrency = d.Executor.MaxConcurrency
	}
	if c.Executor.DefaultTimeout == 0 {
		c.Executor.DefaultTimeout = d.Executor.DefaultTimeout
	}
	if c.Executor.RetryBackoff == 0 {
		c.Executor.RetryBackoff = d.Executor.RetryBackoff
	}
	if c.Executor.MaxRetryBackoff == 0 {
		c.Executor.MaxRetryBackoff = d.Executor.MaxRetryBackoff
	}
	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = d.Scheduler.PollInterval
	}
	if c.Scheduler.WatchdogInterval == 0 {
		c.Scheduler.WatchdogInterval = d.Scheduler.WatchdogInterval
	}
	if c.Scheduler.ZombieTimeout == 0 {
		c.Scheduler.ZombieTimeout = d.Scheduler.ZombieTimeout
	}
	if c.Scheduler.MaxConcurrentTasks == 0 {
		c.Scheduler.MaxConcurrentTasks = d.Scheduler.MaxConcurrentTasks
	}
	if c.Scheduler.InactivityTimeout == 0 {
		c.Scheduler.InactivityTimeout = d.Scheduler.InactivityTimeout
	}
	if c.Scheduler.MaxTotalTime == 0 {
		c.Scheduler.MaxTotalTime = d.Scheduler.MaxTotalTime
	}
	if c.Scheduler.MaxToolCalls == 0 {
		c.Scheduler.MaxToolCalls = d.Scheduler.MaxToolCalls
	}
	if c.Cron.TickInterval == 0 {
		c.Cron.TickInterval = d.Cron.TickInterval
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
}

// Validate checks the config for internally inconsistent values that
// applyDefaults cannot repair.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be between 1 and 65535, got %d", c.Server.HTTPPort)
	}
	if c.Memory.ThresholdPercent <= 0 || c.Memory.ThresholdPercent > 100 {
		return fmt.Errorf("memory.threshold_percent must be between 1 and 100, got %d", c.Memory.ThresholdPercent)
	}
	if c.Executor.MaxConcurrency <= 0 {
		return fmt.Errorf("executor.max_concurrency must be positive, got %d", c.Executor.MaxConcurrency)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", c.Logging.Format)
	}
	for _, p := range c.LLM.Providers {
		if p.Name == "" {
			return fmt.Errorf("llm.providers entries must have a name")
		}
	}
	return nil
}
