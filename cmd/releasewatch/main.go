package main

import (
	"fmt"
	"os"

	"github.com/AlexAkulov/releasewatch"
	"github.com/AlexAkulov/releasewatch/config"
	"github.com/AlexAkulov/releasewatch/credentials"
	"github.com/AlexAkulov/releasewatch/github"
	"github.com/AlexAkulov/releasewatch/state/dbstate"
	"github.com/AlexAkulov/releasewatch/state/filestate"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	keychainService = "github-release-watcher"
	keychainAccount = "github-token"
)

var (
	version    = "unknown"
	configFlag string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "releasewatch",
		Short:         "Watch GitHub repositories for new tags and releases",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "config.json", "config file location")
	rootCmd.AddCommand(runCmd(), checkCmd(), statusCmd(), defaultConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func createLogger(conf *config.Logging) (zerolog.Logger, error) {
	var lvl zerolog.Level
	switch conf.Level {
	case "debug":
		lvl = zerolog.DebugLevel
	case "info", "":
		lvl = zerolog.InfoLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	default:
		return zerolog.Nop(), fmt.Errorf("unknown logging level '%s'", conf.Level)
	}
	if conf.File != "" {
		writer := &lumberjack.Logger{
			Filename: conf.File,
			MaxSize:  100, //MB
			MaxAge:   7,   //d
			Compress: true,
		}
		return zerolog.New(writer).Level(lvl).With().Timestamp().Logger(), nil
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{Out: os.Stdout}), nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, error) {
	conf, err := config.LoadConfig(configFlag)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger, err := createLogger(conf.Logging)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return conf, logger, nil
}

func openState(conf *config.Config, logger zerolog.Logger) (releasewatch.IStateStore, error) {
	var (
		store releasewatch.IStateStore
		err   error
	)
	switch conf.StateBackend {
	case config.StateBackendSQLite:
		store, err = dbstate.Open(conf.StateFile)
	default:
		store, err = filestate.Load(conf.StateFile)
	}
	if err != nil {
		return nil, err
	}
	if warning := store.Warning(); warning != "" {
		logger.Warn().Str("service", "state manager").Msg(warning)
	}
	logger.Debug().Str("service", "state manager").Str("backend", conf.StateBackend).Str("location", conf.StateFile).Int("repos", len(store.Keys())).Msg("loaded")
	return store, nil
}

func tokenResolver(conf *config.Config, logger zerolog.Logger) releasewatch.ICredentialResolver {
	chain := &credentials.Chain{Log: logger}
	if conf.GitHub != nil && conf.GitHub.Token != "" {
		chain.Resolvers = append(chain.Resolvers, credentials.Static(conf.GitHub.Token))
	}
	chain.Resolvers = append(chain.Resolvers, &credentials.Env{DotEnvFile: conf.DotEnvFile})
	if conf.Vault != nil && conf.Vault.Enable {
		chain.Resolvers = append(chain.Resolvers, &credentials.Vault{Config: conf.Vault})
	}
	chain.Resolvers = append(chain.Resolvers, &credentials.Keychain{Service: keychainService, Account: keychainAccount})
	return chain
}

func newFetcher(conf *config.Config, logger zerolog.Logger) (*github.Client, error) {
	token, err := tokenResolver(conf, logger).Resolve()
	if err != nil {
		return nil, fmt.Errorf("can't resolve github token with: %w", err)
	}
	return &github.Client{
		Token:   token,
		BaseURL: conf.GitHub.BaseURL,
		Timeout: conf.GitHub.Timeout,
		Log:     logger,
	}, nil
}
