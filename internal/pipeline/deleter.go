package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/s3sync-go/engine/internal/engineerr"
	"github.com/s3sync-go/engine/internal/storage"
)

// Deleter reads the delete-diff stream (keys present at target, absent at
// source) and removes them, per §4.8.
type Deleter struct {
	Target storage.Adapter

	MaxDelete   int  // 0 means unlimited
	IfMatch     bool // enables precondition-checked delete
	WarnAsError bool

	count atomic.Int64
}

// Process deletes one key and returns its terminal Event. When MaxDelete is
// reached, it returns a Warning event and the caller is expected to cancel
// the run without processing further keys.
func (d *Deleter) Process(ctx context.Context, desc storage.ObjectDescriptor, cancel *CancelToken) Event {
	if cancel.IsSet() {
		return Event{Kind: EventWarning, Key: desc.Key, Message: "cancelled before delete"}
	}

	if d.MaxDelete > 0 && d.count.Load() >= int64(d.MaxDelete) {
		return Event{Kind: EventWarning, Key: desc.Key, Message: "max_delete limit reached"}
	}

	opts := storage.DeleteOptions{VersionID: desc.VersionID}
	if d.IfMatch {
		opts.IfMatch = desc.ETag
	}

	err := d.Target.DeleteObject(ctx, desc.Key, opts)
	if err != nil {
		if engineerr.KindOf(err) == engineerr.KindPreconditionFailed {
			ev := Event{Kind: EventWarning, Key: desc.Key, Err: err, Message: "precondition failed"}
			if d.WarnAsError {
				ev.Kind = EventError
			}
			return ev
		}
		return Event{Kind: EventError, Key: desc.Key, Err: err, Message: "DeleteObject"}
	}

	d.count.Add(1)
	return Event{Kind: EventComplete, Key: desc.Key, IsDelete: true}
}

// Count reports the number of successful deletions so far.
func (d *Deleter) Count() int64 { return d.count.Load() }

// reachedLimit reports whether the next call to Process would be rejected
// by the max_delete limit, letting the worker pool decide to cancel the
// whole run instead of merely skipping one key.
func (d *Deleter) reachedLimit() bool {
	return d.MaxDelete > 0 && d.count.Load() >= int64(d.MaxDelete)
}
