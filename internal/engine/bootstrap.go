package engine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"spanhub/internal/logging"
	"spanhub/internal/pipeline"
	"spanhub/internal/telemetry"
	"spanhub/internal/transport"
)

type Config struct {
	GRPCPort    int
	MetricsPort int
	PipelineYml string // optional; without it the engine only serves health
}

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 1. transport server
	srv, err := transport.StartServer(cfg.GRPCPort)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	// 2. pipeline runner
	var runner *pipeline.Runner
	if cfg.PipelineYml != "" {
		runner, err = pipeline.Compile(cfg.PipelineYml, reg)
		if err != nil {
			srv.Stop()
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		if err := runner.Start(ctx); err != nil {
			srv.Stop()
			_ = runner.Close()
			return nil, err
		}
	}

	// 3. metrics
	var metrics *http.Server
	if cfg.MetricsPort >= 0 {
		metrics = telemetry.Expose(cfg.MetricsPort, reg)
	}

	logging.L().Info("engine started", "grpc", srv.Addr().String(), "pipeline", cfg.PipelineYml)
	return &Engine{
		transport: srv,
		runner:    runner,
		metrics:   metrics,
	}, nil
}
