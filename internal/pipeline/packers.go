package pipeline

import (
	"context"
	"time"

	"github.com/s3sync-go/engine/internal/storage"
)

// Batch groups every version of one key the lister emitted, already
// ordered oldest-to-newest (a trailing delete marker, if any, comes last).
type Batch struct {
	Key      string
	Versions []storage.ObjectDescriptor
}

// VersioningPacker groups a per-key-ordered descriptor stream into Batch
// values, one per run of identical keys, flushing the final batch when the
// stream ends.
type VersioningPacker struct{}

func (VersioningPacker) Run(ctx context.Context, in <-chan storage.ObjectDescriptor, out chan<- Batch) {
	defer close(out)

	var current Batch
	emit := func() bool {
		if current.Key == "" {
			return true
		}
		select {
		case out <- current:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case desc, ok := <-in:
			if !ok {
				emit()
				return
			}
			if desc.Key != current.Key && current.Key != "" {
				if !emit() {
					return
				}
				current = Batch{}
			}
			current.Key = desc.Key
			current.Versions = append(current.Versions, desc)
		case <-ctx.Done():
			return
		}
	}
}

// PointInTimePacker groups the same way as VersioningPacker but restores
// the state of each key as of Instant: every version newer than Instant is
// dropped, and the remaining effective-latest version is emitted alone (or
// the key is elided entirely when that effective latest is a delete
// marker).
type PointInTimePacker struct {
	Instant time.Time
}

func (p PointInTimePacker) Run(ctx context.Context, in <-chan storage.ObjectDescriptor, out chan<- Batch) {
	defer close(out)

	rawOut := make(chan Batch)
	go func() {
		(VersioningPacker{}).Run(ctx, in, rawOut)
	}()

	for {
		select {
		case batch, ok := <-rawOut:
			if !ok {
				return
			}
			reduced := p.reduce(batch)
			if reduced == nil {
				continue
			}
			select {
			case out <- *reduced:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// reduce applies the point-in-time restore rule to one key's batch,
// returning nil when the key should be elided entirely.
func (p PointInTimePacker) reduce(batch Batch) *Batch {
	var effectiveLatest *storage.ObjectDescriptor
	for i := range batch.Versions {
		v := batch.Versions[i]
		if v.LastModified.After(p.Instant) {
			continue
		}
		effectiveLatest = &batch.Versions[i]
	}
	if effectiveLatest == nil || effectiveLatest.IsDeleteMarker {
		return nil
	}
	return &Batch{Key: batch.Key, Versions: []storage.ObjectDescriptor{*effectiveLatest}}
}
