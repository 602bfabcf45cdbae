package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tracekit/tracekit/config"
	"github.com/tracekit/tracekit/log"
	"github.com/tracekit/tracekit/normalizer"
	"github.com/tracekit/tracekit/runner"
)

func newRootCmd() *cobra.Command {
	cfg := config.NewNormalizerConfig()
	cmd := &cobra.Command{
		Use:           "trace-normalizer",
		Short:         "Rewrite addresses and timestamps of a capture",
		Long:          `trace-normalizer shifts timestamps and replaces IP and MAC addresses of a capture file with editcap, tcprewrite and bittwiste`,
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

func run(cmd *cobra.Command, cfg *config.NormalizerConfig) error {
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

	r := runner.NewRunner(settings.ToolPaths(normalizer.RequiredTools...), runner.AllowSubstrings("written"))
	if err := r.Require(normalizer.RequiredTools...); err != nil {
		return log.Errorf("requirements not satisfied: %w", err)
	}

	req, err := config.LoadNormalization(cfg.Configuration)
	if err != nil {
		return err
	}
	if req.Empty() {
		log.Warnf("%s requests no rewrite, only converting the capture", cfg.Configuration)
	}

	return normalizer.New(r, cfg.WorkDir).Normalize(cmd.Context(), cfg.InputFile, cfg.OutputFile, req)
}
