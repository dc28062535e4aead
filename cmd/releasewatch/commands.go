package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/AlexAkulov/releasewatch"
	"github.com/AlexAkulov/releasewatch/checkmanager"
	"github.com/AlexAkulov/releasewatch/config"
	"github.com/AlexAkulov/releasewatch/router"

	"github.com/spf13/cobra"
)

func checkCmd() *cobra.Command {
	var notifyFlag bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a single check cycle and print the outcome of every repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			stateManager, err := openState(conf, logger)
			if err != nil {
				return err
			}
			defer stateManager.Close()
			fetcher, err := newFetcher(conf, logger)
			if err != nil {
				return err
			}

			checkManager := &checkmanager.CheckManager{Fetcher: fetcher, State: stateManager, Log: logger}
			result, _ := checkManager.RunCycle(context.Background(), conf.Targets())

			if notifyFlag {
				eventsRouter := &router.EventsRouter{Config: conf, Log: logger}
				if err := eventsRouter.Start(); err != nil {
					return err
				}
				eventsRouter.Handle(result)
				eventsRouter.Stop()
			}

			printOutcomes(result)
			if result.AnyError {
				return fmt.Errorf("check failed: %s", result.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&notifyFlag, "notify", false, "Send notifications for new versions")
	return cmd
}

func printOutcomes(result releasewatch.CycleResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REPO\tLABEL\tWATCH\tVERSION\tOUTCOME")
	for _, o := range result.Outcomes {
		outcome := string(o.Outcome)
		if o.Err != nil {
			outcome += ": " + o.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.Target.Key(), o.Target.Label, o.Watch, o.Version, outcome)
	}
	w.Flush()
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the last known version of every configured repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			stateManager, err := openState(conf, logger)
			if err != nil {
				return err
			}
			defer stateManager.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REPO\tLABEL\tWATCH\tVERSION\tLAST CHECKED")
			for _, target := range conf.Targets() {
				version, checked := "checking...", "never"
				if state, ok := stateManager.Get(target.Key()); ok {
					version = state.LastTagName
					checked = state.LastChecked.Local().Format(time.RFC822)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", target.Key(), target.Label, target.Watch, version, checked)
			}
			return w.Flush()
		},
	}
}

func defaultConfigCmd() *cobra.Command {
	var yamlFlag bool
	cmd := &cobra.Command{
		Use:   "default-config",
		Short: "Print default config to stdout and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.PrintDefaultConfig(os.Stdout, yamlFlag)
		},
	}
	cmd.Flags().BoolVar(&yamlFlag, "yaml", false, "Print the config as YAML")
	return cmd
}
