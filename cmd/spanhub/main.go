package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"spanhub/internal/engine"
	"spanhub/internal/logging"
	"spanhub/internal/transport"
	"spanhub/source/eventhub"

	_ "spanhub/sink/kafka"
	_ "spanhub/sink/rabbitmq"
	_ "spanhub/sink/stdout"
)

func main() {
	logging.InitFromEnv()
	eventhub.Register("azeventhubs", eventhub.NewAzureHost)
	eventhub.Register("sarama", eventhub.NewSaramaHost)

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "spanhub",
		Short:        "Collects Zipkin spans from Azure Event Hubs",
		SilenceUsage: true,
	}
	root.AddCommand(runCmd(), healthCmd())
	return root
}

func runCmd() *cobra.Command {
	cfg := engine.Config{GRPCPort: 7070, MetricsPort: 9100, PipelineYml: "pipeline.yml"}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := engine.Bootstrap(ctx, cfg)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			if err := e.Run(ctx); err != nil {
				return fmt.Errorf("engine: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.PipelineYml, "pipeline", cfg.PipelineYml, "pipeline YAML; empty serves health only")
	cmd.Flags().IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "gRPC health port")
	cmd.Flags().IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Prometheus port; negative disables")
	return cmd
}

func healthCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health [addr]",
		Short: "Exit non-zero unless the collector at addr is serving",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := "127.0.0.1:7070"
			if len(args) == 1 {
				addr = args[0]
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := transport.CheckServing(ctx, addr); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "SERVING")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "health check deadline")
	return cmd
}
