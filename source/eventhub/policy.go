package eventhub

import "sync"

// DefaultCheckpointBatchSize is the number of spans read between checkpoints.
const DefaultCheckpointBatchSize = 10

// Policy decides *when* a partition should checkpoint: once the spans read
// since the last checkpoint reach the batch size.
//
// The counter resets to zero, not to the overshoot, so a large delta does not
// shorten the next window. Existing deployments rely on this cadence.
type Policy struct {
	batchSize int

	mu    sync.Mutex
	count int
}

func NewPolicy(batchSize int) *Policy {
	if batchSize <= 0 {
		batchSize = DefaultCheckpointBatchSize
	}
	return &Policy{batchSize: batchSize}
}

// ShouldCheckpoint adds delta spans and reports whether a checkpoint is due.
func (p *Policy) ShouldCheckpoint(delta int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count += delta
	if p.count >= p.batchSize {
		p.count = 0
		return true
	}
	return false
}

// Pending returns the spans counted since the last checkpoint.
func (p *Policy) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *Policy) BatchSize() int { return p.batchSize }
