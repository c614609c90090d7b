// spanhub/sink/stdout/driver.go
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"spanhub/codec"
	"spanhub/sink"
	"spanhub/span"
)

/* ────────── public YAML config ────────── */
type Config struct {
	DelayMS      int  `yaml:"delay_ms"`      // artificial delay before the callback
	PrintCounter bool `yaml:"print_counter"` // prepend seq#
	JSON         bool `yaml:"json"`          // one JSON list per batch instead of a line per span
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config
	out io.Writer

	mu  sync.Mutex // serialises writes
	seq atomic.Uint64
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) Accept(_ context.Context, spans []span.Span, cb sink.Callback) {
	err := d.write(spans)
	if d.cfg.DelayMS > 0 {
		time.AfterFunc(time.Duration(d.cfg.DelayMS)*time.Millisecond, func() { cb(err) })
		return
	}
	cb(err)
}

func (d *driver) write(spans []span.Span) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.JSON {
		b, err := codec.EncodeJSON(spans)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(d.out, "%s\n", b)
		return err
	}
	for i := range spans {
		s := &spans[i]
		prefix := ""
		if d.cfg.PrintCounter {
			prefix = fmt.Sprintf("[sink %06d] ", d.seq.Add(1))
		}
		if _, err := fmt.Fprintf(d.out, "%s%s/%s %s %s %dµs\n",
			prefix, s.TraceID, s.ID, s.LocalServiceName(), s.Name, s.Duration); err != nil {
			return err
		}
	}
	return nil
}

func (d *driver) Close() error { return nil }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
