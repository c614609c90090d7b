package pipeline

import (
	"context"
	"sync"

	"spanhub/sink"
	"spanhub/span"
)

// FanOut hands every batch to all sinks. The callback fires once, after the
// last sink answered, with the first error reported.
type FanOut []sink.Sink

func (f FanOut) Accept(ctx context.Context, spans []span.Span, cb sink.Callback) {
	switch len(f) {
	case 0:
		cb(nil)
		return
	case 1:
		f[0].Accept(ctx, spans, cb)
		return
	}

	var (
		mu        sync.Mutex
		remaining = len(f)
		first     error
	)
	for _, s := range f {
		s.Accept(ctx, spans, func(err error) {
			mu.Lock()
			if err != nil && first == nil {
				first = err
			}
			remaining--
			done, res := remaining == 0, first
			mu.Unlock()
			if done {
				cb(res)
			}
		})
	}
}
