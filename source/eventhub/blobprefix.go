package eventhub

import (
	"context"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
)

// prefixedStore places every ownership and checkpoint blob under prefix by
// rewriting the namespace component of the blob name.
type prefixedStore struct {
	inner  azeventhubs.CheckpointStore
	prefix string
}

func withBlobPrefix(store azeventhubs.CheckpointStore, prefix string) azeventhubs.CheckpointStore {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return store
	}
	return &prefixedStore{inner: store, prefix: prefix + "/"}
}

func (s *prefixedStore) add(ns string) string   { return s.prefix + ns }
func (s *prefixedStore) strip(ns string) string { return strings.TrimPrefix(ns, s.prefix) }

func (s *prefixedStore) ClaimOwnership(ctx context.Context, partitionOwnership []azeventhubs.Ownership, options *azeventhubs.ClaimOwnershipOptions) ([]azeventhubs.Ownership, error) {
	in := make([]azeventhubs.Ownership, len(partitionOwnership))
	for i, o := range partitionOwnership {
		o.FullyQualifiedNamespace = s.add(o.FullyQualifiedNamespace)
		in[i] = o
	}
	out, err := s.inner.ClaimOwnership(ctx, in, options)
	for i := range out {
		out[i].FullyQualifiedNamespace = s.strip(out[i].FullyQualifiedNamespace)
	}
	return out, err
}

func (s *prefixedStore) ListCheckpoints(ctx context.Context, fullyQualifiedNamespace string, eventHubName string, consumerGroup string, options *azeventhubs.ListCheckpointsOptions) ([]azeventhubs.Checkpoint, error) {
	out, err := s.inner.ListCheckpoints(ctx, s.add(fullyQualifiedNamespace), eventHubName, consumerGroup, options)
	for i := range out {
		out[i].FullyQualifiedNamespace = s.strip(out[i].FullyQualifiedNamespace)
	}
	return out, err
}

func (s *prefixedStore) ListOwnership(ctx context.Context, fullyQualifiedNamespace string, eventHubName string, consumerGroup string, options *azeventhubs.ListOwnershipOptions) ([]azeventhubs.Ownership, error) {
	out, err := s.inner.ListOwnership(ctx, s.add(fullyQualifiedNamespace), eventHubName, consumerGroup, options)
	for i := range out {
		out[i].FullyQualifiedNamespace = s.strip(out[i].FullyQualifiedNamespace)
	}
	return out, err
}

func (s *prefixedStore) SetCheckpoint(ctx context.Context, checkpoint azeventhubs.Checkpoint, options *azeventhubs.SetCheckpointOptions) error {
	checkpoint.FullyQualifiedNamespace = s.add(checkpoint.FullyQualifiedNamespace)
	return s.inner.SetCheckpoint(ctx, checkpoint, options)
}
