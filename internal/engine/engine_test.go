package engine

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spanhub/internal/transport"
	"spanhub/source/eventhub"
)

type stubHost struct {
	unregistered atomic.Bool
}

func (h *stubHost) RegisterProcessorFactory(context.Context, eventhub.ProcessorFactory) (*eventhub.Registration, error) {
	return eventhub.Completed(nil), nil
}

func (h *stubHost) UnregisterProcessor(context.Context) error {
	h.unregistered.Store(true)
	return nil
}

func (h *stubHost) String() string { return "stub" }

var host = &stubHost{}

func init() {
	eventhub.Register("stub", func(eventhub.Config) (eventhub.Host, error) { return host, nil })
}

func pipelineFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	eh := "connection_string: Endpoint=sb://ns.servicebus.windows.net/\nstorage: { connection_string: UseDevelopmentStorage=true }\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "eventhub.yml"), []byte(eh), 0o644))
	p := "schema_version: v1\nsource: { kind: eventhub, driver: stub, config: eventhub.yml }\nsinks: [stdout]\nhealth: { interval_ms: 20 }\n"
	path := filepath.Join(dir, "pipeline.yml")
	require.NoError(t, os.WriteFile(path, []byte(p), 0o644))
	return path
}

func TestEngine_ServesHealthAndShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := Bootstrap(ctx, Config{GRPCPort: 0, MetricsPort: -1, PipelineYml: pipelineFile(t)})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	addr := fmt.Sprintf("127.0.0.1:%d", e.Addr().(*net.TCPAddr).Port)
	require.Eventually(t, func() bool {
		pctx, pcancel := context.WithTimeout(context.Background(), time.Second)
		defer pcancel()
		return transport.CheckServing(pctx, addr) == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	require.True(t, host.unregistered.Load())
}

func TestBootstrap_BadPipeline(t *testing.T) {
	_, err := Bootstrap(context.Background(), Config{GRPCPort: 0, MetricsPort: -1, PipelineYml: filepath.Join(t.TempDir(), "missing.yml")})
	require.Error(t, err)
}
