package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/s3sync-go/engine/internal/storage"
)

func TestKeyAggregator_InsertAndGet(t *testing.T) {
	t.Parallel()

	agg := NewKeyAggregator()
	agg.Insert(storage.ObjectDescriptor{Key: "a", Size: 10, ETag: "etag-a"})

	entry, ok := agg.Get("a")
	if !ok {
		t.Fatal("expected key \"a\" to be present")
	}
	if entry.Size != 10 || entry.ETag != "etag-a" {
		t.Errorf("got %+v", entry)
	}

	if _, ok := agg.Get("missing"); ok {
		t.Error("expected \"missing\" to be absent")
	}
}

func TestKeyAggregator_DuplicateInsertPanics(t *testing.T) {
	t.Parallel()

	agg := NewKeyAggregator()
	agg.Insert(storage.ObjectDescriptor{Key: "a"})

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected a panic on duplicate insert")
		}
	}()
	agg.Insert(storage.ObjectDescriptor{Key: "a"})
}

func TestKeyAggregator_Stage_ForwardsAndAggregates(t *testing.T) {
	t.Parallel()

	agg := NewKeyAggregator()
	in := make(chan storage.ObjectDescriptor, 3)
	out := make(chan storage.ObjectDescriptor, 3)

	in <- storage.ObjectDescriptor{Key: "a"}
	in <- storage.ObjectDescriptor{Key: "b"}
	close(in)

	agg.Stage(context.Background(), in, out)

	var forwarded []string
	for d := range out {
		forwarded = append(forwarded, d.Key)
	}
	if len(forwarded) != 2 {
		t.Fatalf("expected 2 forwarded descriptors, got %v", forwarded)
	}
	if agg.Len() != 2 {
		t.Errorf("expected 2 aggregated keys, got %d", agg.Len())
	}
}

func TestKeyAggregator_DeleteCandidates(t *testing.T) {
	t.Parallel()

	agg := NewKeyAggregator()
	agg.Insert(storage.ObjectDescriptor{Key: "keep"})
	agg.Insert(storage.ObjectDescriptor{Key: "stale"})

	sourceKeys := map[string]struct{}{"keep": {}}
	candidates := agg.DeleteCandidates(sourceKeys)
	if len(candidates) != 1 || candidates[0] != "stale" {
		t.Errorf("got %v, want [\"stale\"]", candidates)
	}
}

func TestLister_Run_EmitsFromAdapter(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{objects: []storage.ObjectDescriptor{
		{Key: "a", LastModified: time.Now()},
		{Key: "b", LastModified: time.Now()},
	}}
	l := &Lister{Adapter: adapter}

	out, errCh := l.Run(context.Background(), 10)

	var keys []string
	for d := range out {
		keys = append(keys, d.Key)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected lister error: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("got %v, want 2 keys", keys)
	}
}

// fakeAdapter is a minimal storage.Adapter stub for exercising the lister
// stage without a real backend.
type fakeAdapter struct {
	objects []storage.ObjectDescriptor
}

func (f *fakeAdapter) ListObjects(ctx context.Context, opts storage.ListOptions, out chan<- storage.ObjectDescriptor) error {
	defer close(out)
	for _, o := range f.objects {
		out <- o
	}
	return nil
}

func (f *fakeAdapter) ListObjectVersions(ctx context.Context, opts storage.ListOptions, out chan<- storage.ObjectDescriptor) error {
	defer close(out)
	return nil
}

func (f *fakeAdapter) ListObjectVersionsForKey(ctx context.Context, key string) ([]storage.ObjectDescriptor, error) {
	return nil, nil
}

func (f *fakeAdapter) HeadObject(ctx context.Context, key string, opts storage.HeadOptions) (*storage.ObjectMetadata, error) {
	return nil, nil
}
func (f *fakeAdapter) GetObject(ctx context.Context, key string, opts storage.GetOptions) (*storage.GetObjectOutput, error) {
	return nil, nil
}
func (f *fakeAdapter) GetObjectParts(ctx context.Context, key string, opts storage.GetOptions) ([]storage.PartInfo, error) {
	return nil, nil
}
func (f *fakeAdapter) GetObjectPartsAttributes(ctx context.Context, key string, opts storage.GetOptions) ([]storage.PartInfo, error) {
	return nil, nil
}
func (f *fakeAdapter) PutObject(ctx context.Context, key string, input storage.PutObjectInput) (*storage.PutObjectResult, error) {
	return nil, nil
}
func (f *fakeAdapter) DeleteObject(ctx context.Context, key string, opts storage.DeleteOptions) error {
	return nil
}
func (f *fakeAdapter) GetObjectTagging(ctx context.Context, key, versionID string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeAdapter) PutObjectTagging(ctx context.Context, key, versionID string, tags map[string]string) error {
	return nil
}
func (f *fakeAdapter) DeleteObjectTagging(ctx context.Context, key, versionID string) error {
	return nil
}
func (f *fakeAdapter) IsVersioningEnabled(ctx context.Context) (bool, error) { return false, nil }
func (f *fakeAdapter) Close() error                                         { return nil }

var _ storage.Adapter = (*fakeAdapter)(nil)
