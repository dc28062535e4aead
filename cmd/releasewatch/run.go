package main

import (
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlexAkulov/releasewatch"
	"github.com/AlexAkulov/releasewatch/checkmanager"
	"github.com/AlexAkulov/releasewatch/config"
	"github.com/AlexAkulov/releasewatch/metrics"
	"github.com/AlexAkulov/releasewatch/router"

	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		pprofFlag bool
		watchFlag bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Check the configured repositories periodically and notify about new versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(pprofFlag, watchFlag)
		},
	}
	cmd.Flags().BoolVar(&pprofFlag, "pprof", false, "Enable listen pprof on :6060")
	cmd.Flags().BoolVar(&watchFlag, "watch-config", true, "Reload the config when the file changes")
	return cmd
}

func run(pprofFlag, watchFlag bool) error {
	conf, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	metricsRepo, err := metrics.StartMetricsRepo(conf.Metrics, logger)
	if err != nil {
		return err
	}

	stateManager, err := openState(conf, logger)
	if err != nil {
		logger.Error().Str("service", "state manager").Str("error", err.Error()).Msg("fail")
		return err
	}

	fetcher, err := newFetcher(conf, logger)
	if err != nil {
		return err
	}

	resultChannel := make(chan releasewatch.CycleResult, 1)

	logger.Debug().Str("service", "events router").Msg("start")
	eventsRouter := &router.EventsRouter{
		ResultChannel: resultChannel,
		Config:        conf,
		Log:           logger,
		Metrics: router.Metrics{
			Sent:       metricsRepo.CreateCounter("events.sent"),
			SendErrors: metricsRepo.CreateCounter("events.errors"),
		},
		OnStatus: func(s router.Status) { logStatus(logger, s) },
	}
	eventsRouter.SetTargets(conf.Targets(), stateManager)
	if err := eventsRouter.Start(); err != nil {
		logger.Error().Str("service", "events router").Str("error", err.Error()).Msg("fail")
		return err
	}
	logger.Debug().Str("service", "events router").Msg("started")

	logger.Debug().Str("service", "check manager").Msg("start")
	checkManager := &checkmanager.CheckManager{
		Fetcher:       fetcher,
		State:         stateManager,
		ResultChannel: resultChannel,
		Log:           logger,
		Metrics: checkmanager.Metrics{
			Checks:      metricsRepo.CreateCounter("checks"),
			New:         metricsRepo.CreateCounter("checks.new"),
			Errors:      metricsRepo.CreateCounter("checks.errors"),
			RateLimited: metricsRepo.CreateCounter("checks.rate_limited"),
			CycleTime:   metricsRepo.CreateHistogram("cycle.time"),
		},
	}
	if err := checkManager.Start(conf); err != nil {
		logger.Error().Str("service", "check manager").Str("error", err.Error()).Msg("fail")
		return err
	}

	var reloadSync deadlock.Mutex
	current := conf
	reload := func(newConf *config.Config) {
		reloadSync.Lock()
		defer reloadSync.Unlock()
		if config.FetcherChanged(current, newConf) {
			client, err := newFetcher(newConf, logger)
			if err != nil {
				logger.Error().Str("service", "github").Str("error", err.Error()).Msg("can't update config")
				return
			}
			checkManager.SetFetcher(client)
			logger.Info().Str("service", "github").Msg("client rebuilt")
		}
		if err := checkManager.SetConfig(newConf); err != nil {
			logger.Error().Str("error", err.Error()).Msg("can't update config")
			return
		}
		eventsRouter.SetTargets(newConf.Targets(), stateManager)
		if changed := config.RestartRequired(current, newConf); len(changed) > 0 {
			logger.Warn().Strs("settings", changed).Msg("changed settings are applied after restart")
		}
		current = newConf
		logger.Info().Int("repos", len(newConf.Repos)).Msg("settings reloaded")
	}

	var watcher *config.Watcher
	if watchFlag {
		watcher = &config.Watcher{Path: configFlag, OnReload: reload, Log: logger}
		if err := watcher.Start(); err != nil {
			logger.Error().Str("service", "config watcher").Str("error", err.Error()).Msg("can't watch config, use SIGHUP to reload")
			watcher = nil
		}
	}

	if pprofFlag {
		go func() {
			if err := http.ListenAndServe(":6060", nil); err != nil {
				logger.Error().Str("error", err.Error()).Msg("can't start pprof")
			}
		}()
	}

	logger.Info().Str("version", version).Msg("started")

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)

	for {
		s := <-signalChannel
		logger.Info().Str("signal", s.String()).Msg("received signal")
		if s == syscall.SIGUSR1 {
			checkManager.CheckNow()
			continue
		}
		if s == syscall.SIGUSR2 {
			eventsRouter.AcknowledgeAll()
			logStatus(logger, eventsRouter.Status())
			continue
		}
		if s != syscall.SIGHUP {
			break
		}

		newConf, err := config.LoadConfig(configFlag)
		if err != nil {
			logger.Error().Str("error", err.Error()).Msg("can't update config")
			continue
		}
		reload(newConf)
	}

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Error().Str("error", err.Error()).Str("service", "config watcher").Msg("can't stop")
		}
	}

	if err := checkManager.Stop(); err != nil {
		logger.Error().Str("error", err.Error()).Str("service", "check manager").Msg("can't stop")
	}
	logger.Debug().Str("service", "check manager").Msg("stopped")

	if err := eventsRouter.Stop(); err != nil {
		logger.Error().Str("error", err.Error()).Str("service", "events router").Msg("can't stop")
	}
	logger.Debug().Str("service", "events router").Msg("stopped")

	if err := stateManager.Close(); err != nil {
		logger.Error().Str("error", err.Error()).Str("service", "state manager").Msg("can't stop")
	}

	logger.Debug().Str("service", "metrics repository").Msg("stop")
	if err := metricsRepo.Stop(); err != nil {
		logger.Error().Str("error", err.Error()).Str("service", "metrics repository").Msg("can't stop")
	}

	logger.Info().Str("version", version).Msg("stopped")
	return nil
}

func logStatus(logger zerolog.Logger, s router.Status) {
	l := logger.Info().Str("service", "status").Str("indicator", string(s.Indicator))
	if s.ErrorMessage != "" {
		l = l.Str("error", s.ErrorMessage)
	}
	if !s.RetryAt.IsZero() {
		l = l.Str("retry_at", s.RetryAt.UTC().Format(time.RFC3339))
	}
	l.Msg("cycle")
	for _, t := range s.Targets {
		logger.Debug().Str("service", "status").Str("repo", t.Key).Msg(t.String())
	}
}
