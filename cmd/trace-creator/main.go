package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tracekit/tracekit/capture"
	"github.com/tracekit/tracekit/config"
	"github.com/tracekit/tracekit/creator"
	"github.com/tracekit/tracekit/log"
	"github.com/tracekit/tracekit/remote"
	"github.com/tracekit/tracekit/runner"
)

func newRootCmd() *cobra.Command {
	cfg := config.NewCreatorConfig()
	cmd := &cobra.Command{
		Use:           "trace-creator",
		Short:         "Record packet traces of scripted tasks",
		Long:          `trace-creator configures hosts over SSH, runs each task command while tshark records the interface and collects the captures`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, &cfg)
		},
	}
	cfg.BindFlags(cmd)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, cfg *config.CreatorConfig) error {
	settings, err := config.NewSettings(cmd.Flags())
	if err != nil {
		return log.Errorf("%v", err)
	}
	if err := settings.Decode(cfg); err != nil {
		return log.Errorf("%v", err)
	}
	if err := cfg.Logging.Apply(cmd.ErrOrStderr()); err != nil {
		return err
	}
	defer log.CloseErrorFile()
	if err := cfg.Validate(); err != nil {
		return log.Errorf("invalid configuration: %w", err)
	}

	tasks, err := config.LoadTasks(cfg.Configuration)
	if err != nil {
		return err
	}

	r := runner.NewRunner(settings.ToolPaths(capture.ToolTshark), runner.IgnoreStderr)
	if err := r.Require(capture.ToolTshark); err != nil {
		return log.Errorf("requirements not satisfied: %w", err)
	}

	var configurator creator.Configurator
	if creator.NeedsRemote(tasks) {
		if configurator, err = newConfigurator(cfg); err != nil {
			return err
		}
	}

	c := creator.New(r, configurator, capture.NewManager(cfg.CaptureDirectory, cfg.OutputDirectory), creator.Options{
		Interface:   cfg.Interface,
		Delay:       time.Duration(cfg.Delay) * time.Second,
		GracePeriod: cfg.GracePeriod,
		StopTimeout: cfg.StopTimeout,
		Console:     cmd.OutOrStdout(),
	})
	_, err = c.Run(cmd.Context(), tasks)
	return err
}

func newConfigurator(cfg *config.CreatorConfig) (*remote.Configurator, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, log.Errorf("invalid configuration: %w", err)
	}
	hostKeys, err := remote.HostKeyCallback(cfg.HostKeyPolicy, cfg.KnownHosts)
	if err != nil {
		return nil, err
	}
	return remote.NewConfigurator(remote.Options{
		Username:        cfg.Username,
		Password:        cfg.Password,
		HostKeyCallback: hostKeys,
		Timeout:         cfg.SSHTimeout,
	})
}
