// Command hguard runs the trading resilience layer against a simulated
// exchange and serves the admin API.
//
// Command hguard 针对模拟交易所运行交易弹性层并提供管理API。
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"

	"github.com/Humphrey-He/hguard/configs"
	"github.com/Humphrey-He/hguard/internal/app"
)

func main() {
	configFile := flag.String("config", "", "Path to the configuration file (yaml or json); defaults are used when empty")
	hotReload := flag.Bool("hot-reload", false, "Reload log level, executor rate and simulator failure rate when the file changes")
	scanInterval := flag.Duration("scan-interval", 0, "Override simulator.scan_interval; 0 keeps the configured value")
	flag.Parse()

	if err := run(*configFile, *hotReload, *scanInterval); err != nil {
		fmt.Fprintf(os.Stderr, "hguard: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, hotReload bool, scanInterval time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		cfg *configs.Config
		vc  *configs.ViperConfig
		err error
	)
	if configFile == "" {
		cfg = configs.DefaultConfig()
	} else {
		if vc, err = configs.NewViperConfig(configFile); err != nil {
			return err
		}
		cfg = vc.Get()
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	logger := a.Logger()

	if vc != nil && (hotReload || cfg.Extensions.HotReload.Enable) {
		vc.SetLogger(logger)
		vc.Subscribe(a.ApplyConfig)
		if hotReload {
			vc.EnableHotReload()
		} else {
			go vc.Watch(ctx, cfg.Extensions.HotReload.WatchInterval)
		}
		logger.Info("config hot reload enabled", "file", vc.File())
	}

	if cfg.Profiling.Enable {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.ApplicationName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Tags:            cfg.Profiling.Tags,
			Logger:          profilerLogger{logger.With("component", "pyroscope")},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logger.Error("pyroscope start failed", "error", err)
		} else {
			defer func() {
				_ = profiler.Stop()
			}()
		}
	}

	interval := cfg.Simulator.ScanInterval
	if scanInterval > 0 {
		interval = scanInterval
	}

	runErr := a.Run(ctx, interval)
	logger.Info("shutting down", "cause", context.Cause(ctx))
	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// profilerLogger adapts slog to the pyroscope logger interface.
type profilerLogger struct {
	*slog.Logger
}

func (l profilerLogger) Infof(format string, args ...any) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l profilerLogger) Debugf(format string, args ...any) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l profilerLogger) Errorf(format string, args ...any) {
	l.Error(fmt.Sprintf(format, args...))
}
