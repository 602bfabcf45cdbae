package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tracekit/tracekit/analyzer"
	"github.com/tracekit/tracekit/config"
	"github.com/tracekit/tracekit/log"
	"github.com/tracekit/tracekit/runner"
)

func newRootCmd() *cobra.Command {
	cfg := &config.AnalyzerConfig{}
	cmd := &cobra.Command{
		Use:           "trace-analyzer",
		Short:         "Capture file statistics as JSON",
		Long:          `trace-analyzer prints TCP conversations, MAC-IP pairs and capture properties of a capture file using tshark and capinfos`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, cfg)
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

func run(cmd *cobra.Command, cfg *config.AnalyzerConfig) error {
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

	r := runner.NewRunner(settings.ToolPaths(analyzer.RequiredTools...), runner.StrictStderr)
	if err := r.Require(analyzer.RequiredTools...); err != nil {
		return log.Errorf("requirements not satisfied: %w", err)
	}

	ctx := cmd.Context()
	a := analyzer.New(r)
	enc := json.NewEncoder(cmd.OutOrStdout())

	// Tool and parse failures are logged by the analyzer and print an empty
	// collection.
	if cfg.Conversations {
		convs, _ := a.TCPConversations(ctx, cfg.Filename)
		if err := enc.Encode(convs); err != nil {
			return err
		}
	}
	if cfg.Pairs {
		pairs, _ := a.MACIPPairs(ctx, cfg.Filename)
		if err := enc.Encode(pairs); err != nil {
			return err
		}
	}
	if cfg.CaptureInfo {
		props, _ := a.CaptureProperties(ctx, cfg.Filename)
		if err := enc.Encode(props); err != nil {
			return err
		}
	}
	return nil
}
