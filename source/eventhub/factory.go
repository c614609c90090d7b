package eventhub

import (
	"sync"
)

// partitionFactory hands out one EventProcessor per partition id and reuses it
// while the partition stays open, so each partition keeps its own counter.
type partitionFactory struct {
	newProcessor func() *EventProcessor

	mu         sync.Mutex
	processors map[string]*EventProcessor
}

func newPartitionFactory(newProcessor func() *EventProcessor) *partitionFactory {
	return &partitionFactory{
		newProcessor: newProcessor,
		processors:   make(map[string]*EventProcessor),
	}
}

func (f *partitionFactory) CreateProcessor(pc PartitionContext) (Processor, error) {
	id := pc.PartitionID()

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.processors[id]; ok {
		return p, nil
	}
	p := f.newProcessor()
	p.release = func() { f.remove(id, p) }
	f.processors[id] = p
	return p, nil
}

func (f *partitionFactory) remove(id string, p *EventProcessor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processors[id] == p {
		delete(f.processors, id)
	}
}

// Partitions returns the ids of the partitions that currently have a
// processor.
func (f *partitionFactory) Partitions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.processors))
	for id := range f.processors {
		ids = append(ids, id)
	}
	return ids
}
