package pipeline

import (
	"context"
	"sync"

	"github.com/s3sync-go/engine/internal/storage"
	"github.com/s3sync-go/engine/pkg/recovery"
)

// RunSyncerPool fans a descriptor stream out across workerSize concurrent
// syncer workers, forwarding every terminal Event to events. It returns
// once in is drained (or cancel is set) and every in-flight worker has
// finished.
func RunSyncerPool(ctx context.Context, s *Syncer, workerSize int, in <-chan storage.ObjectDescriptor, events chan<- Event, cancel *CancelToken) {
	if workerSize <= 0 {
		workerSize = 1
	}

	var wg sync.WaitGroup
	wg.Add(workerSize)
	for i := 0; i < workerSize; i++ {
		recovery.GoGuard("Syncer.worker", func() {
			defer wg.Done()
			for {
				select {
				case desc, ok := <-in:
					if !ok {
						return
					}
					ev := s.Process(ctx, desc, cancel)
					if !emit(ctx, events, ev) {
						return
					}
					if ev.Kind == EventError {
						cancel.Set()
					}
				case <-cancel.Context().Done():
					return
				}
			}
		}, func(err error) {
			emit(ctx, events, Event{Kind: EventError, Err: err, Message: "syncer worker panicked"})
			cancel.Set()
		})
	}
	wg.Wait()
}

// RunDeleterPool mirrors RunSyncerPool for the delete-diff stream of §4.8:
// once max_delete is hit, it cancels the run rather than merely rejecting
// one key.
func RunDeleterPool(ctx context.Context, d *Deleter, workerSize int, in <-chan storage.ObjectDescriptor, events chan<- Event, cancel *CancelToken) {
	if workerSize <= 0 {
		workerSize = 1
	}

	var wg sync.WaitGroup
	wg.Add(workerSize)
	for i := 0; i < workerSize; i++ {
		recovery.GoGuard("Deleter.worker", func() {
			defer wg.Done()
			for {
				select {
				case desc, ok := <-in:
					if !ok {
						return
					}
					if d.reachedLimit() {
						emit(ctx, events, Event{Kind: EventWarning, Key: desc.Key, Message: "max_delete limit reached"})
						cancel.Set()
						return
					}
					ev := d.Process(ctx, desc, cancel)
					if !emit(ctx, events, ev) {
						return
					}
					if ev.Kind == EventError {
						cancel.Set()
					}
					if ev.Message == "max_delete limit reached" {
						cancel.Set()
						return
					}
				case <-cancel.Context().Done():
					return
				}
			}
		}, func(err error) {
			emit(ctx, events, Event{Kind: EventError, Err: err, Message: "deleter worker panicked"})
			cancel.Set()
		})
	}
	wg.Wait()
}

func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
