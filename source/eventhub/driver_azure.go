package eventhub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs/checkpoints"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"golang.org/x/sync/errgroup"

	"spanhub/internal/logging"
)

// AzureHost drives a ProcessorFactory with the azeventhubs Processor, keeping
// leases and checkpoints in a blob container.
type AzureHost struct {
	cfg Config

	mu  sync.Mutex
	run *azureRun
}

type azureRun struct {
	cancel   context.CancelFunc
	group    *errgroup.Group
	consumer *azeventhubs.ConsumerClient
}

// partitionClient is the part of *azeventhubs.ProcessorPartitionClient a
// partition goroutine uses.
type partitionClient interface {
	PartitionID() string
	ReceiveEvents(ctx context.Context, count int, options *azeventhubs.ReceiveEventsOptions) ([]*azeventhubs.ReceivedEventData, error)
	UpdateCheckpoint(ctx context.Context, latestEvent *azeventhubs.ReceivedEventData, options *azeventhubs.UpdateCheckpointOptions) error
	Close(ctx context.Context) error
}

var _ partitionClient = (*azeventhubs.ProcessorPartitionClient)(nil)

func NewAzureHost(cfg Config) (Host, error) {
	return &AzureHost{cfg: cfg}, nil
}

func (h *AzureHost) String() string {
	return fmt.Sprintf("EventProcessorHost(host=%s, hub=%s, group=%s)", h.cfg.ProcessorHost, h.cfg.Name, h.cfg.ConsumerGroup)
}

// RegisterProcessorFactory builds the clients and starts the processor in the
// background. The Registration completes once the hub and the lease container
// have both been reached.
func (h *AzureHost) RegisterProcessorFactory(ctx context.Context, f ProcessorFactory) (*Registration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run != nil {
		return nil, ErrRegistration.New("%s: processor already registered", h)
	}

	consumer, err := azeventhubs.NewConsumerClientFromConnectionString(h.cfg.ConnectionString, h.cfg.Name,
		h.cfg.ConsumerGroup, &azeventhubs.ConsumerClientOptions{ApplicationID: h.cfg.ProcessorHost})
	if err != nil {
		return nil, fmt.Errorf("consumer client: %w", err)
	}
	leases, err := container.NewClientFromConnectionString(h.cfg.Storage.ConnectionString, h.cfg.Storage.Container, nil)
	if err != nil {
		_ = consumer.Close(ctx)
		return nil, fmt.Errorf("lease container client: %w", err)
	}
	blobStore, err := checkpoints.NewBlobStore(leases, nil)
	if err != nil {
		_ = consumer.Close(ctx)
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}
	processor, err := azeventhubs.NewProcessor(consumer, withBlobPrefix(blobStore, h.cfg.Storage.BlobPrefix), nil)
	if err != nil {
		_ = consumer.Close(ctx)
		return nil, fmt.Errorf("processor: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	reg := NewRegistration(cancel)
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := h.initialize(gctx, consumer, leases); err != nil {
			reg.Complete(err)
			return nil
		}
		reg.Complete(nil)

		g.Go(func() error { return h.dispatch(gctx, g, processor, f) })
		if err := processor.Run(gctx); err != nil && gctx.Err() == nil {
			logging.L().Error("eventhub processor stopped", "host", h.cfg.ProcessorHost, "err", err)
			return err
		}
		return nil
	})

	h.run = &azureRun{cancel: cancel, group: g, consumer: consumer}
	return reg, nil
}

// initialize makes sure the hub is reachable and the lease container exists.
func (h *AzureHost) initialize(ctx context.Context, consumer *azeventhubs.ConsumerClient, leases *container.Client) error {
	props, err := consumer.GetEventHubProperties(ctx, nil)
	if err != nil {
		return fmt.Errorf("event hub %q: %w", h.cfg.Name, err)
	}
	if _, err := leases.Create(ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("lease container %q: %w", h.cfg.Storage.Container, err)
	}
	logging.L().Info("eventhub processor registered", "host", h.cfg.ProcessorHost, "hub", props.Name,
		"consumer_group", h.cfg.ConsumerGroup, "partitions", len(props.PartitionIDs))
	return nil
}

func (h *AzureHost) dispatch(ctx context.Context, g *errgroup.Group, processor *azeventhubs.Processor, f ProcessorFactory) error {
	for {
		client := processor.NextPartitionClient(ctx)
		if client == nil {
			return nil
		}
		g.Go(func() error {
			h.consume(ctx, client, f)
			return nil
		})
	}
}

func (h *AzureHost) consume(ctx context.Context, client partitionClient, f ProcessorFactory) {
	pc := &azurePartition{client: client, group: h.cfg.ConsumerGroup}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}()

	proc, err := f.CreateProcessor(pc)
	if err != nil {
		logging.L().Error("create processor", "partition", pc.PartitionID(), "err", err)
		return
	}
	proc.OnOpen(pc)
	reason := CloseShutdown
	defer func() { proc.OnClose(pc, reason) }()

	for {
		receiveCtx, cancel := context.WithTimeout(ctx, h.cfg.Receive.MaxWait)
		events, err := client.ReceiveEvents(receiveCtx, h.cfg.Receive.MaxBatch, nil)
		cancel()

		if len(events) > 0 {
			if err := proc.OnEvents(ctx, pc, toMessages(events)); err != nil {
				// Drop the partition; whoever claims it next resumes from the
				// last stored checkpoint.
				proc.OnError(pc, err)
				return
			}
		}

		var ehErr *azeventhubs.Error
		switch {
		case ctx.Err() != nil:
			return
		case err == nil, errors.Is(err, context.DeadlineExceeded):
		case errors.As(err, &ehErr) && ehErr.Code == azeventhubs.ErrorCodeOwnershipLost:
			reason = CloseLeaseLost
			return
		default:
			proc.OnError(pc, err)
			return
		}
	}
}

// UnregisterProcessor stops the processor and waits for every partition
// goroutine to return, or for ctx to end.
func (h *AzureHost) UnregisterProcessor(ctx context.Context) error {
	h.mu.Lock()
	run := h.run
	h.run = nil
	h.mu.Unlock()
	if run == nil {
		return nil
	}

	run.cancel()
	done := make(chan error, 1)
	go func() { done <- run.group.Wait() }()

	select {
	case err := <-done:
		return errors.Join(err, run.consumer.Close(ctx))
	case <-ctx.Done():
		return ctx.Err()
	}
}

type azurePartition struct {
	client partitionClient
	group  string
}

func (p *azurePartition) PartitionID() string   { return p.client.PartitionID() }
func (p *azurePartition) ConsumerGroup() string { return p.group }

func (p *azurePartition) Checkpoint(ctx context.Context, msg Message) error {
	return p.client.UpdateCheckpoint(ctx, &azeventhubs.ReceivedEventData{
		Offset:         msg.Offset,
		SequenceNumber: msg.SequenceNumber,
	}, nil)
}

func toMessages(events []*azeventhubs.ReceivedEventData) []Message {
	msgs := make([]Message, 0, len(events))
	for _, e := range events {
		m := Message{Body: e.Body, Offset: e.Offset, SequenceNumber: e.SequenceNumber}
		if e.EnqueuedTime != nil {
			m.EnqueuedTime = *e.EnqueuedTime
		}
		if e.PartitionKey != nil {
			m.PartitionKey = *e.PartitionKey
		}
		msgs = append(msgs, m)
	}
	return msgs
}
