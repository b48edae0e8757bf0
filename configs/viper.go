// Package configs provides configuration structures and utilities for hguard.
// This file implements Viper-based configuration management with hot reloading support.
//
// Package configs 提供hguard的配置结构和工具。
// 本文件实现基于Viper的配置管理，支持热重载。
package configs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override file values,
// e.g. HGUARD_EXECUTOR_RATE_PER_SECOND.
//
// EnvPrefix 是覆盖文件配置的环境变量前缀。
const EnvPrefix = "HGUARD"

// ViperConfig wraps a Config with Viper functionality for hot reloading.
// It provides thread-safe access to configuration and supports dynamic
// updates when the underlying configuration file changes.
//
// ViperConfig 使用Viper功能包装Config以支持热重载。
// 它提供对配置的线程安全访问，并支持在底层配置文件更改时进行动态更新。
type ViperConfig struct {
	config      *Config         // 当前配置
	viper       *viper.Viper    // Viper实例
	configFile  string          // 配置文件路径
	logger      *slog.Logger    // 重载日志
	mu          sync.RWMutex    // 保护config和subscribers
	subscribers []func(*Config) // 配置更改时要通知的订阅者列表
}

// NewViperConfig creates a new ViperConfig.
// It loads configuration from the specified file, applies HGUARD_ environment
// overrides and validates the result.
//
// NewViperConfig 创建一个新的ViperConfig。
// 它从指定的文件加载配置，应用HGUARD_环境变量覆盖并验证结果。
//
// Parameters:
//   - configFile: Path to the configuration file
//
// Returns:
//   - *ViperConfig: A new ViperConfig instance
//   - error: An error if loading or validation fails
func NewViperConfig(configFile string) (*ViperConfig, error) {
	v := viper.New()

	v.SetConfigFile(configFile)
	v.SetConfigType(strings.TrimPrefix(filepath.Ext(configFile), "."))
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := decode(v)
	if err != nil {
		return nil, err
	}

	return &ViperConfig{
		config:     config,
		viper:      v,
		configFile: configFile,
		logger:     slog.Default(),
	}, nil
}

// decode 将viper中的配置解析到默认配置之上并验证
func decode(v *viper.Viper) (*Config, error) {
	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// SetLogger sets the logger used to report reloads.
//
// SetLogger 设置用于报告重载的日志记录器。
func (vc *ViperConfig) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	vc.mu.Lock()
	vc.logger = logger
	vc.mu.Unlock()
}

// EnableHotReload enables hot reloading of the configuration file.
// When the configuration file changes, the configuration is automatically
// reloaded and all subscribers are notified. An invalid file is logged and
// the previous configuration stays in effect.
//
// EnableHotReload 启用配置文件的热重载。
// 当配置文件更改时，配置会自动重新加载，并通知所有订阅者。
// 无效的文件会被记录，之前的配置继续生效。
func (vc *ViperConfig) EnableHotReload() {
	vc.viper.OnConfigChange(func(e fsnotify.Event) {
		vc.log().Info("config file changed", "file", e.Name, "op", e.Op.String())
		vc.apply(false)
	})
	vc.viper.WatchConfig()
}

// Watch polls the configuration file every interval until ctx is done.
// This is an alternative to fsnotify-based hot reloading for file systems
// where notifications are unreliable. Subscribers are notified only when
// the decoded configuration actually changed.
//
// Watch 每隔interval轮询一次配置文件，直到ctx结束。
// 这是基于fsnotify的热重载的替代方案，仅在解析后的配置确实变化时通知订阅者。
func (vc *ViperConfig) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := vc.viper.ReadInConfig(); err != nil {
				vc.log().Warn("failed to read config file", "file", vc.configFile, "error", err)
				continue
			}
			vc.apply(true)
		}
	}
}

// apply 重新解析配置，成功后替换当前配置并通知订阅者
func (vc *ViperConfig) apply(onlyIfChanged bool) {
	newConfig, err := decode(vc.viper)
	if err != nil {
		vc.log().Error("config reload rejected", "file", vc.configFile, "error", err)
		return
	}

	vc.mu.Lock()
	if onlyIfChanged && configsEqual(vc.config, newConfig) {
		vc.mu.Unlock()
		return
	}
	vc.config = newConfig
	subscribers := make([]func(*Config), len(vc.subscribers))
	copy(subscribers, vc.subscribers)
	vc.mu.Unlock()

	vc.log().Info("config reloaded", "file", vc.configFile, "subscribers", len(subscribers))
	for _, subscriber := range subscribers {
		subscriber(newConfig)
	}
}

func (vc *ViperConfig) log() *slog.Logger {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.logger
}

// Subscribe adds a subscriber that will be notified when the configuration changes.
// The subscriber function is called with the new configuration as its argument.
//
// Subscribe 添加一个在配置更改时将被通知的订阅者。
// 订阅者函数将以新配置作为其参数被调用。
func (vc *ViperConfig) Subscribe(subscriber func(*Config)) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.subscribers = append(vc.subscribers, subscriber)
}

// Get returns the current configuration.
// This method is thread-safe and can be called concurrently.
//
// Get 返回当前配置。
// 此方法是线程安全的，可以并发调用。
func (vc *ViperConfig) Get() *Config {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.config
}

// File returns the path of the watched configuration file.
func (vc *ViperConfig) File() string {
	return vc.configFile
}

// LoadViperConfig loads a configuration from a file using Viper.
// It optionally enables hot reloading based on the enableHotReload parameter.
//
// LoadViperConfig 使用Viper从文件加载配置。
// 它根据enableHotReload参数可选地启用热重载。
//
// Parameters:
//   - configFile: Path to the configuration file
//   - enableHotReload: Whether to enable hot reloading
//
// Returns:
//   - *ViperConfig: A new ViperConfig instance
//   - error: An error if loading fails
func LoadViperConfig(configFile string, enableHotReload bool) (*ViperConfig, error) {
	vc, err := NewViperConfig(configFile)
	if err != nil {
		return nil, err
	}

	if enableHotReload {
		vc.EnableHotReload()
	}

	return vc, nil
}

// LoadViperConfigWithWatcher loads a configuration from a file using Viper and starts
// a polling watcher bound to ctx.
//
// LoadViperConfigWithWatcher 使用Viper从文件加载配置，并启动一个绑定到ctx的轮询监视器。
func LoadViperConfigWithWatcher(ctx context.Context, configFile string, watchInterval time.Duration) (*ViperConfig, error) {
	vc, err := NewViperConfig(configFile)
	if err != nil {
		return nil, err
	}

	go vc.Watch(ctx, watchInterval)

	return vc, nil
}

// configsEqual 比较两个配置的可序列化字段
func configsEqual(c1, c2 *Config) bool {
	return reflect.DeepEqual(c1, c2)
}
