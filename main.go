// Package main is the entry point for the docsync CLI application.
// docsync keeps a directory of notes in sync with one branch of a remote git
// repository, using the git binary when present and a built-in engine otherwise.
package main

import (
	"context"
	"os"
	"sync"

	"github.com/MyCarrier-DevOps/goLibMyCarrier/logger"

	"github.com/MyCarrier-DevOps/docsync/cmd"
	"github.com/MyCarrier-DevOps/docsync/internal/adapters/git"
	"github.com/MyCarrier-DevOps/docsync/internal/adapters/gitcli"
	"github.com/MyCarrier-DevOps/docsync/internal/adapters/hostfs"
	"github.com/MyCarrier-DevOps/docsync/internal/adapters/lock"
	logadapter "github.com/MyCarrier-DevOps/docsync/internal/adapters/logger"
	"github.com/MyCarrier-DevOps/docsync/internal/adapters/notify"
	"github.com/MyCarrier-DevOps/docsync/internal/adapters/transport"
	"github.com/MyCarrier-DevOps/docsync/internal/adapters/watch"
	"github.com/MyCarrier-DevOps/docsync/internal/domain"
	"github.com/MyCarrier-DevOps/docsync/internal/infrastructure/config"
	"github.com/MyCarrier-DevOps/docsync/internal/usecases"
)

func main() {
	// The logger is built on first use so that -v can raise LOG_LEVEL first.
	var (
		logOnce sync.Once
		adapter *logadapter.ZapAdapter
	)
	baseLogger := func() *logadapter.ZapAdapter {
		logOnce.Do(func() {
			adapter = logadapter.NewZapAdapter(logger.NewZapLoggerFromConfig())
		})
		return adapter
	}

	runner := gitcli.NewExecRunner("")
	caps := capabilities(runner)
	host := transport.NewCleanHTTPHost()
	locker := lock.NewFileLocker()
	notifier := notify.NewWriter()
	tokens := config.NewKeyringStore()

	// Wire up production dependencies
	deps := &cmd.Dependencies{
		LoggerFactory: func() cmd.Logger {
			return baseLogger().With(map[string]any{"component": "cli"})
		},

		ConfigLoader: func(ctx context.Context, path, workDir string) (*cmd.AppConfig, error) {
			cfg, err := config.LoadWithSources(ctx, config.Options{
				Path:    path,
				WorkDir: workDir,
				Keyring: tokens,
			})
			if err != nil {
				return nil, err
			}
			return toAppConfig(cfg), nil
		},

		ControllerFactory: func(settings domain.Settings, _ cmd.Logger) cmd.Controller {
			backends := usecases.Backends{
				Subprocess: func(s domain.Settings) domain.Backend {
					return gitcli.NewBackend(s, runner, baseLogger().With(map[string]any{
						"component": "backend",
						"backend":   string(domain.BackendSubprocess),
					}))
				},
				Embedded: func(s domain.Settings) domain.Backend {
					return git.NewEngine(s, hostfs.NewOSStorage(s.WorkDir), host, baseLogger().With(map[string]any{
						"component": "backend",
						"backend":   string(domain.BackendEmbedded),
					}))
				},
			}
			return usecases.NewController(settings, caps, backends, locker, notifier,
				baseLogger().With(map[string]any{"component": "controller"}))
		},

		WatcherFactory: func(settings domain.Settings, _ cmd.Logger) (domain.ChangeSource, error) {
			w, err := watch.New(settings.WorkDir, settings.WatchDebounce,
				baseLogger().With(map[string]any{"component": "watcher"}))
			if err != nil {
				return nil, err
			}
			return w, nil
		},

		SchedulerFactory: func(
			ctrl cmd.Controller,
			settings domain.Settings,
			changes domain.ChangeSource,
			_ cmd.Logger,
		) cmd.Scheduler {
			return usecases.NewScheduler(ctrl, settings, changes,
				baseLogger().With(map[string]any{"component": "scheduler"}))
		},

		TokenStoreFactory: func() cmd.TokenStore {
			return tokens
		},

		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	cmd.SetDefaultDependencies(deps)
	cmd.Execute()
}

// capabilities probes the host once at startup.
func capabilities(runner interface{ Available() bool }) domain.HostCapabilities {
	return domain.HostCapabilities{CanSpawnProcesses: runner.Available()}
}

// toAppConfig converts the loaded configuration to the command layer's view.
func toAppConfig(cfg *config.Config) *cmd.AppConfig {
	return &cmd.AppConfig{
		Settings:   cfg.Settings,
		LogLevel:   cfg.LogLevel,
		LogAppName: cfg.LogAppName,
		Warnings:   cfg.TokenSourceErrors,
	}
}
