// Package configs provides configuration structures and utilities for hguard.
// It offers mechanisms for loading, validating, and saving configuration from various sources
// including JSON and YAML files. The package defines one configuration structure
// that wires every component of the resilience layer.
//
// Package configs 提供hguard的配置结构和工具。
// 它提供从各种来源（包括JSON和YAML文件）加载、验证和保存配置的机制。
// 该包定义了一个配置结构，用于装配弹性层的所有组件。
package configs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"github.com/Humphrey-He/hguard/internal/metrics"
	"github.com/Humphrey-He/hguard/pkg/breaker"
	"github.com/Humphrey-He/hguard/pkg/cache"
	"github.com/Humphrey-He/hguard/pkg/coordinator"
	"github.com/Humphrey-He/hguard/pkg/executor"
)

// Config represents the complete configuration for hguard.
// It contains all settings needed to build the process,
// organized into one section per component.
//
// Config 表示hguard的完整配置。
// 它包含构建进程所需的所有设置，每个组件一个部分。
type Config struct {
	// Cache configures the analysis store
	// Cache 配置分析结果存储
	Cache cache.Config `json:"cache" yaml:"cache" mapstructure:"cache"`

	// Breakers configures the circuit breakers per upstream operation
	// Breakers 按上游操作配置熔断器
	Breakers BreakersConfig `json:"breakers" yaml:"breakers" mapstructure:"breakers"`

	// Executor configures the rate-limited worker pool
	// Executor 配置限速工作池
	Executor executor.Config `json:"executor" yaml:"executor" mapstructure:"executor"`

	// Coordinator configures the freshness window and request coalescing
	// Coordinator 配置新鲜度窗口和请求合并
	Coordinator coordinator.Config `json:"coordinator" yaml:"coordinator" mapstructure:"coordinator"`

	// Metrics configures Prometheus collection
	// Metrics 配置Prometheus指标采集
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" mapstructure:"metrics"`

	// Admin configures the admin HTTP server
	// Admin 配置管理HTTP服务
	Admin AdminConfig `json:"admin" yaml:"admin" mapstructure:"admin"`

	// Log configures the logging behavior
	// Log 配置日志行为
	Log LogConfig `json:"log" yaml:"log" mapstructure:"log"`

	// Profiling configures continuous profiling
	// Profiling 配置持续性能剖析
	Profiling ProfilingConfig `json:"profiling" yaml:"profiling" mapstructure:"profiling"`

	// Simulator configures the synthetic market data upstream
	// Simulator 配置模拟行情上游
	Simulator SimulatorConfig `json:"simulator" yaml:"simulator" mapstructure:"simulator"`

	// Extensions configures optional features like hot reloading
	// Extensions 配置可选功能，如热重载
	Extensions ExtensionsConfig `json:"extensions" yaml:"extensions" mapstructure:"extensions"`
}

// BreakersConfig holds the default breaker configuration and per-name overrides.
// Zero fields of an override are taken from Default.
//
// BreakersConfig 包含默认熔断器配置和按名称的覆盖配置。
// 覆盖配置中的零值字段取自Default。
type BreakersConfig struct {
	Default   breaker.Config            `json:"default" yaml:"default" mapstructure:"default"`
	Overrides map[string]breaker.Config `json:"overrides" yaml:"overrides" mapstructure:"overrides"`
}

// Resolve returns the effective configuration of every override.
//
// Resolve 返回每个覆盖配置的生效配置。
func (b BreakersConfig) Resolve() map[string]breaker.Config {
	out := make(map[string]breaker.Config, len(b.Overrides))
	for name, o := range b.Overrides {
		out[name] = o.Inherit(b.Default)
	}
	return out
}

// MetricsConfig contains settings for metrics collection.
//
// MetricsConfig 包含指标收集的设置。
type MetricsConfig struct {
	// Enable determines whether metrics collection is active
	// Enable 确定是否启用指标收集
	Enable bool `json:"enable" yaml:"enable" mapstructure:"enable"`

	// Level controls the detail of metrics collection ("basic", "detailed", "disabled")
	// Level 控制指标收集的详细程度（"basic"、"detailed"、"disabled"）
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Namespace prefixes every metric name
	// Namespace 是所有指标名的前缀
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`

	// RuntimeCollectors adds the Go runtime and process collectors
	// RuntimeCollectors 添加Go运行时和进程指标
	RuntimeCollectors bool `json:"runtime_collectors" yaml:"runtime_collectors" mapstructure:"runtime_collectors"`
}

// MetricsOptions converts the section into the metrics package configuration.
//
// MetricsOptions 将本部分转换为metrics包的配置。
func (m MetricsConfig) MetricsOptions() (*metrics.Config, error) {
	if !m.Enable {
		return &metrics.Config{Level: metrics.Disabled}, nil
	}
	level, err := metrics.ParseLevel(m.Level)
	if err != nil {
		return nil, err
	}
	return &metrics.Config{
		Level:             level,
		Namespace:         m.Namespace,
		RuntimeCollectors: m.RuntimeCollectors,
	}, nil
}

// AdminConfig contains settings for the admin HTTP server.
//
// AdminConfig 包含管理HTTP服务的设置。
type AdminConfig struct {
	Enable          bool          `json:"enable" yaml:"enable" mapstructure:"enable"`
	Addr            string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	Mode            string        `json:"mode" yaml:"mode" mapstructure:"mode"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// LogConfig contains settings for logging.
// These settings control the logging behavior, including
// log level, format, and output destination.
//
// LogConfig 包含日志记录的设置。
// 这些设置控制日志行为，包括日志级别、格式和输出目的地。
type LogConfig struct {
	// Level sets the minimum log level ("debug", "info", "warn", "error")
	// Level 设置最低日志级别（"debug"、"info"、"warn"、"error"）
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format specifies the log format ("text", "json")
	// Format 指定日志格式（"text"、"json"）
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// Output determines where logs are written ("stdout", "stderr", "file")
	// Output 确定日志写入的位置（"stdout"、"stderr"、"file"）
	Output string `json:"output" yaml:"output" mapstructure:"output"`

	// FilePath is the path to the log file when Output is "file"
	// FilePath 是当Output为"file"时的日志文件路径
	FilePath string `json:"file_path" yaml:"file_path" mapstructure:"file_path"`

	// AddSource adds the source position to every record
	// AddSource 在每条日志中加入源码位置
	AddSource bool `json:"add_source" yaml:"add_source" mapstructure:"add_source"`
}

// ProfilingConfig contains settings for continuous profiling with Pyroscope.
//
// ProfilingConfig 包含Pyroscope持续剖析的设置。
type ProfilingConfig struct {
	Enable          bool              `json:"enable" yaml:"enable" mapstructure:"enable"`
	ServerAddress   string            `json:"server_address" yaml:"server_address" mapstructure:"server_address"`
	ApplicationName string            `json:"application_name" yaml:"application_name" mapstructure:"application_name"`
	Tags            map[string]string `json:"tags" yaml:"tags" mapstructure:"tags"`
}

// SimulatorConfig configures the synthetic market data source used by the service binary.
//
// SimulatorConfig 配置服务程序使用的模拟行情数据源。
type SimulatorConfig struct {
	// Symbols scanned by each analysis round
	// 每轮分析扫描的交易对
	Symbols []string `json:"symbols" yaml:"symbols" mapstructure:"symbols"`

	// Latency is the mean upstream latency
	// Latency 是上游的平均延迟
	Latency time.Duration `json:"latency" yaml:"latency" mapstructure:"latency"`

	// FailureRate is the probability in [0, 1] that a request fails
	// FailureRate 是请求失败的概率，取值[0, 1]
	FailureRate float64 `json:"failure_rate" yaml:"failure_rate" mapstructure:"failure_rate"`

	// Seed makes the simulation reproducible. 0 seeds from the clock.
	// Seed 使模拟可复现，0表示使用时钟作为种子
	Seed int64 `json:"seed" yaml:"seed" mapstructure:"seed"`

	// ScanInterval is the period between analysis rounds
	// ScanInterval 是两轮分析之间的间隔
	ScanInterval time.Duration `json:"scan_interval" yaml:"scan_interval" mapstructure:"scan_interval"`

	// Breaker names the breaker guarding the simulated upstream
	// Breaker 是保护模拟上游的熔断器名称
	Breaker string `json:"breaker" yaml:"breaker" mapstructure:"breaker"`
}

// ExtensionsConfig contains settings for extensions.
//
// ExtensionsConfig 包含扩展的设置。
type ExtensionsConfig struct {
	// HotReload contains settings for dynamic configuration reloading
	// HotReload 包含动态配置重新加载的设置
	HotReload HotReloadConfig `json:"hot_reload" yaml:"hot_reload" mapstructure:"hot_reload"`
}

// HotReloadConfig contains settings for hot reloading.
// These settings control how configuration changes are
// detected and applied without system restart.
//
// HotReloadConfig 包含热重载的设置。
// 这些设置控制如何检测和应用配置更改而无需重启系统。
type HotReloadConfig struct {
	// Enable determines whether hot reloading is active
	// Enable 确定是否启用热重载
	Enable bool `json:"enable" yaml:"enable" mapstructure:"enable"`

	// WatchInterval is how often the polling watcher checks for changes
	// WatchInterval 是轮询监视器检查配置更改的频率
	WatchInterval time.Duration `json:"watch_interval" yaml:"watch_interval" mapstructure:"watch_interval"`
}

// DefaultConfig returns a new Config with default values.
// This provides a starting point for configuration with reasonable defaults
// for all settings, which can then be customized as needed.
//
// DefaultConfig 返回具有默认值的新Config。
// 这为所有设置提供了具有合理默认值的配置起点，
// 然后可以根据需要进行自定义。
//
// Returns:
//   - *Config: A new configuration instance with default values
func DefaultConfig() *Config {
	return &Config{
		Cache: *cache.NewDefaultConfig().WithSnapshotPath("data/analysis.snapshot.json"),
		Breakers: BreakersConfig{
			Default: breaker.DefaultConfig(),
			Overrides: map[string]breaker.Config{
				"order_placement": {
					FailureThreshold: 3,
					RecoveryTimeout:  120 * time.Second,
					SuccessThreshold: 5,
					CallTimeout:      10 * time.Second,
				},
			},
		},
		Executor:    executor.DefaultConfig(),
		Coordinator: coordinator.DefaultConfig(),
		Metrics: MetricsConfig{
			Enable:            true,
			Level:             "basic",
			Namespace:         "hguard",
			RuntimeCollectors: true,
		},
		Admin: AdminConfig{
			Enable:          true,
			Addr:            ":8080",
			Mode:            "release",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Profiling: ProfilingConfig{
			Enable:          false,
			ServerAddress:   "http://localhost:4040",
			ApplicationName: "hguard",
		},
		Simulator: SimulatorConfig{
			Symbols:      []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "BNB/USDT"},
			Latency:      50 * time.Millisecond,
			FailureRate:  0.05,
			ScanInterval: 30 * time.Second,
			Breaker:      "market_data",
		},
		Extensions: ExtensionsConfig{
			HotReload: HotReloadConfig{
				Enable:        false,
				WatchInterval: 30 * time.Second,
			},
		},
	}
}

// LoadFromFile loads configuration from a file.
// It supports both YAML and JSON formats, automatically
// detecting the format based on the file extension.
//
// LoadFromFile 从文件加载配置。
// 它支持YAML和JSON格式，根据文件扩展名自动检测格式。
//
// Parameters:
//   - filename: Path to the configuration file
//
// Returns:
//   - *Config: The loaded configuration
//   - error: An error if loading fails
func LoadFromFile(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open configuration file: %w", err)
	}
	defer file.Close()

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch ext {
	case "yaml", "yml", "json":
		return LoadFromReader(file, ext)
	default:
		return nil, fmt.Errorf("unsupported configuration file format: .%s", ext)
	}
}

// LoadFromReader loads configuration from an io.Reader.
// Fields missing from the data keep their default values.
//
// LoadFromReader 从io.Reader加载配置，数据中缺失的字段保留默认值。
//
// Parameters:
//   - r: The reader providing the configuration data
//   - format: The format of the data ("json", "yaml", or "yml")
//
// Returns:
//   - *Config: The loaded configuration
//   - error: An error if loading fails
func LoadFromReader(r io.Reader, format string) (*Config, error) {
	config := DefaultConfig()
	var err error

	switch strings.ToLower(format) {
	case "yaml", "yml":
		err = yaml.NewDecoder(r).Decode(config)
		if err == io.EOF {
			err = nil
		}
	case "json":
		var data []byte
		if data, err = io.ReadAll(r); err == nil {
			err = sonic.ConfigStd.Unmarshal(data, config)
		}
	default:
		return nil, fmt.Errorf("unsupported configuration format: %s", format)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a file.
// It supports both YAML and JSON formats, automatically
// selecting the format based on the file extension.
//
// SaveToFile 将配置保存到文件。
// 它支持YAML和JSON格式，根据文件扩展名自动选择格式。
func (c *Config) SaveToFile(filename string) error {
	var (
		data []byte
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	case ".json":
		data, err = sonic.ConfigStd.MarshalIndent(c, "", "  ")
	default:
		return fmt.Errorf("unsupported configuration file format: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// Validate validates the configuration.
// It checks every component section and the process-level settings.
//
// Validate 验证配置。
// 它检查每个组件部分以及进程级设置。
//
// Returns:
//   - error: An error describing the validation failure, or nil if valid
func (c *Config) Validate() error {
	// 组件配置
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Breakers.Default.Validate(); err != nil {
		return err
	}
	for name, bc := range c.Breakers.Resolve() {
		if err := bc.Validate(); err != nil {
			return fmt.Errorf("breakers.overrides.%s: %w", name, err)
		}
	}
	if err := c.Executor.Validate(); err != nil {
		return err
	}
	if err := c.Coordinator.Validate(); err != nil {
		return err
	}

	// 指标
	if c.Metrics.Enable {
		if _, err := metrics.ParseLevel(c.Metrics.Level); err != nil {
			return fmt.Errorf("metrics.level must be one of: disabled, basic, detailed")
		}
	}

	// 管理服务
	if c.Admin.Enable {
		if c.Admin.Addr == "" {
			return fmt.Errorf("admin.addr must be specified when admin.enable is true")
		}
		switch c.Admin.Mode {
		case "debug", "release", "test":
		default:
			return fmt.Errorf("admin.mode must be one of: debug, release, test")
		}
	}

	// 日志
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be one of: text, json")
	}
	switch c.Log.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("log.output must be one of: stdout, stderr, file")
	}
	if c.Log.Output == "file" && c.Log.FilePath == "" {
		return fmt.Errorf("log.file_path must be specified when log.output is 'file'")
	}

	if c.Profiling.Enable && c.Profiling.ServerAddress == "" {
		return fmt.Errorf("profiling.server_address must be specified when profiling.enable is true")
	}

	// 模拟上游
	if c.Simulator.FailureRate < 0 || c.Simulator.FailureRate > 1 {
		return fmt.Errorf("simulator.failure_rate must be between 0 and 1")
	}
	if c.Simulator.Latency < 0 {
		return fmt.Errorf("simulator.latency must be >= 0")
	}
	if c.Simulator.ScanInterval < 0 {
		return fmt.Errorf("simulator.scan_interval must be >= 0")
	}

	if c.Extensions.HotReload.Enable && c.Extensions.HotReload.WatchInterval < time.Second {
		return fmt.Errorf("extensions.hot_reload.watch_interval must be at least 1 second")
	}

	return nil
}
