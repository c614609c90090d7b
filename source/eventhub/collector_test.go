package eventhub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCollector_StartIsLazy(t *testing.T) {
	host := &fakeHost{}
	c := NewCollector(host, &recordingSink{}, 10)
	require.Zero(t, host.registers.Load())

	c.Start().Start()
	require.EqualValues(t, 1, host.registers.Load())
	require.NoError(t, c.Check(context.Background()))
	require.EqualValues(t, 1, host.registers.Load())
}

func TestCollector_ConcurrentStartAndCheck(t *testing.T) {
	host := &fakeHost{}
	c := NewCollector(host, &recordingSink{}, 10)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Start()
		}()
		go func() {
			defer wg.Done()
			if err := c.Check(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, host.registers.Load())
}

func TestCollector_CloseTwiceUnregistersOnce(t *testing.T) {
	host := &fakeHost{}
	c := NewCollector(host, &recordingSink{}, 10).Start()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.EqualValues(t, 1, host.unregisters.Load())
}

func TestCollector_StartAfterCloseDoesNotRegister(t *testing.T) {
	host := &fakeHost{}
	c := NewCollector(host, &recordingSink{}, 10)

	require.NoError(t, c.Close())
	c.Start()
	c.Start()
	require.Zero(t, host.registers.Load())
	require.Zero(t, host.unregisters.Load())
}

func TestCollector_CheckReturnsRegistrationError(t *testing.T) {
	leaseErr := ErrRegistration.New("Failure initializing Storage lease manager")
	c := NewCollector(&fakeHost{registerErr: leaseErr}, &recordingSink{}, 10)

	require.Same(t, leaseErr, c.Check(context.Background()))
}

func TestCollector_CheckUnwrapsAsyncFailure(t *testing.T) {
	root := errors.New("403 Forbidden")
	c := NewCollector(&fakeHost{reg: Completed(fmt.Errorf("event hub %q: %w", "zipkin", root))}, &recordingSink{}, 10)

	require.Same(t, root, c.Check(context.Background()))
}

func TestCollector_CheckWaitsForRegistration(t *testing.T) {
	pending := NewRegistration(nil)
	c := NewCollector(&fakeHost{reg: pending}, &recordingSink{}, 10).Start()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Check(ctx), context.DeadlineExceeded)

	pending.Complete(nil)
	require.NoError(t, c.Check(context.Background()))
}

func TestCollector_CheckAfterCloseWithoutStart(t *testing.T) {
	c := NewCollector(&fakeHost{}, &recordingSink{}, 10)
	require.NoError(t, c.Close())

	require.True(t, ErrClosed.Has(c.Check(context.Background())))
}

func TestCollector_ProcessorsShareNothingAcrossPartitions(t *testing.T) {
	host := &fakeHost{}
	s := &recordingSink{}
	c := NewCollector(host, s, 10).Start()
	require.NoError(t, c.Check(context.Background()))

	f := host.factory.Load().(ProcessorFactory)
	p0, err := f.CreateProcessor(&partition{id: "0"})
	require.NoError(t, err)
	p1, err := f.CreateProcessor(&partition{id: "1"})
	require.NoError(t, err)

	pc0, pc1 := &partition{id: "0"}, &partition{id: "1"}
	ctx := context.Background()
	require.NoError(t, p0.OnEvents(ctx, pc0, []Message{message(t, 1, 1, 6)}))
	require.NoError(t, p1.OnEvents(ctx, pc1, []Message{message(t, 1, 2, 6)}))

	require.Empty(t, pc0.Checkpoints())
	require.Empty(t, pc1.Checkpoints())
	require.Len(t, s.Spans(), 12)
}
