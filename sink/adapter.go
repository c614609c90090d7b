package sink

import (
	"context"
	"fmt"

	"spanhub/span"
)

// Callback reports the outcome of one Accept call. It may run on another
// goroutine, after Accept has returned.
type Callback func(err error)

// Noop ignores the outcome.
func Noop(error) {}

// Sink accepts decoded spans. Accept must return once the batch is handed off
// or ctx ends, whichever comes first; failures are reported through cb, never
// returned. Work that outlives Accept must not depend on ctx.
type Sink interface {
	Accept(ctx context.Context, spans []span.Span, cb Callback)
}

// Adapter is the common behaviour every sink driver exposes.
type Adapter interface {
	Sink
	Configure(any) error // driver-specific YAML ⇒ struct
	Close() error        // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
