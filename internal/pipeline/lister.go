// Package pipeline implements the staged, cancellable, back-pressured
// synchronization engine of §2: lister, filter chain, key aggregator, diff
// detectors, packers, versioning collector, syncer and deleter worker
// pools, and the controller that wires them into a DAG of bounded channels.
package pipeline

import (
	"context"

	"github.com/s3sync-go/engine/internal/storage"
)

// Lister produces a lazy stream of object descriptors from one storage
// adapter, choosing non-versioned or versioned listing per versioned.
type Lister struct {
	Adapter    storage.Adapter
	Versioned  bool
	MaxKeys    int32
	WarnAsError bool
	FollowSymlinks bool
}

// Run starts the list operation and returns the channel descriptors are
// sent on. The channel is closed when listing completes, errors out, or ctx
// is cancelled; the returned error channel receives at most one error.
func (l *Lister) Run(ctx context.Context, capacity int) (<-chan storage.ObjectDescriptor, <-chan error) {
	out := make(chan storage.ObjectDescriptor, capacity)
	errCh := make(chan error, 1)

	opts := storage.ListOptions{
		MaxKeys:        l.MaxKeys,
		WarnAsError:    l.WarnAsError,
		FollowSymlinks: l.FollowSymlinks,
	}

	go func() {
		defer close(errCh)
		var err error
		if l.Versioned {
			err = l.Adapter.ListObjectVersions(ctx, opts, out)
		} else {
			err = l.Adapter.ListObjects(ctx, opts, out)
		}
		if err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}
