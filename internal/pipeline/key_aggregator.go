package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/s3sync-go/engine/internal/storage"
)

// KeyEntry is what the key aggregator records for one key: just enough to
// answer "does the target already have this, and is it current".
type KeyEntry struct {
	LastModified time.Time
	Size         int64
	ETag         string
}

// KeyAggregator builds an in-memory key -> KeyEntry map while forwarding
// descriptors downstream unchanged. It is used both for the
// target-modified filter and for the delete-diff stage (keys present at
// target but absent at source).
type KeyAggregator struct {
	mu      sync.RWMutex
	entries map[string]KeyEntry
}

// NewKeyAggregator creates an empty aggregator.
func NewKeyAggregator() *KeyAggregator {
	return &KeyAggregator{entries: make(map[string]KeyEntry)}
}

// Insert records desc's key. Inserting an already-present key is a
// programming error per the data model's invariant — the aggregator is
// fed from a single lister stage that never repeats a key within one run.
func (a *KeyAggregator) Insert(desc storage.ObjectDescriptor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.entries[desc.Key]; exists {
		panic(fmt.Sprintf("pipeline: key aggregator received duplicate key %q", desc.Key))
	}
	a.entries[desc.Key] = KeyEntry{
		LastModified: desc.LastModified,
		Size:         desc.Size,
		ETag:         desc.ETag,
	}
}

// Get looks up a previously inserted key.
func (a *KeyAggregator) Get(key string) (KeyEntry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entry, ok := a.entries[key]
	return entry, ok
}

// Keys returns a snapshot of every aggregated key, for the delete-diff
// stage to compare against the source's listed (pre-filter) key set.
func (a *KeyAggregator) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.entries))
	for k := range a.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len reports the number of aggregated keys.
func (a *KeyAggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Stage reads from in, inserts every descriptor into the aggregator, and
// forwards it unchanged to out — the shape that lets the aggregator sit
// inline in a listing pipeline without the lister needing to know about it.
func (a *KeyAggregator) Stage(ctx context.Context, in <-chan storage.ObjectDescriptor, out chan<- storage.ObjectDescriptor) {
	defer close(out)
	for {
		select {
		case desc, ok := <-in:
			if !ok {
				return
			}
			a.Insert(desc)
			select {
			case out <- desc:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// DeleteCandidates returns every key present in this aggregator (the
// target) that is absent from sourceKeys — the "target-only" diff stream
// the deleter worker pool consumes.
func (a *KeyAggregator) DeleteCandidates(sourceKeys map[string]struct{}) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var candidates []string
	for k := range a.entries {
		if _, present := sourceKeys[k]; !present {
			candidates = append(candidates, k)
		}
	}
	return candidates
}
