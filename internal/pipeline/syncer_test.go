package pipeline

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/s3sync-go/engine/internal/config"
	"github.com/s3sync-go/engine/internal/engineerr"
	"github.com/s3sync-go/engine/internal/storage"
)

// scriptedAdapter is a fakeAdapter extended with configurable GetObject/
// PutObject/tagging behavior, enough to drive the syncer's state machine
// end to end without a real backend.
type scriptedAdapter struct {
	fakeAdapter

	getObjectErr error
	getObjectOut *storage.GetObjectOutput

	putObjectErr    error
	putObjectResult *storage.PutObjectResult
	putObjectCalls  int

	tags      map[string]string
	tagsErr   error
	putTagsCalls int
}

func (a *scriptedAdapter) GetObject(ctx context.Context, key string, opts storage.GetOptions) (*storage.GetObjectOutput, error) {
	if a.getObjectErr != nil {
		return nil, a.getObjectErr
	}
	return a.getObjectOut, nil
}

func (a *scriptedAdapter) PutObject(ctx context.Context, key string, input storage.PutObjectInput) (*storage.PutObjectResult, error) {
	a.putObjectCalls++
	if a.putObjectErr != nil {
		return nil, a.putObjectErr
	}
	return a.putObjectResult, nil
}

func (a *scriptedAdapter) GetObjectTagging(ctx context.Context, key, versionID string) (map[string]string, error) {
	return a.tags, a.tagsErr
}

func (a *scriptedAdapter) PutObjectTagging(ctx context.Context, key, versionID string, tags map[string]string) error {
	a.putTagsCalls++
	return nil
}

func newTestSyncer(source, target storage.Adapter) *Syncer {
	return &Syncer{
		Source:   source,
		Target:   target,
		Checksum: config.ChecksumConfig{DisableETagVerify: true},
		Retry:    config.RetryConfig{ForceRetryCount: 1, ForceRetryInterval: 0},
	}
}

func TestSyncer_Process_SkipsWhenHeadCheckerSaysNo(t *testing.T) {
	t.Parallel()

	target := &headOnlyAdapter{meta: &storage.ObjectMetadata{Size: 10}}
	source := &scriptedAdapter{}
	s := newTestSyncer(source, target)
	s.HeadChecker = &HeadObjectChecker{Target: target, Diff: config.DiffConfig{Strategy: config.DiffStrategyETag}}

	desc := storage.ObjectDescriptor{Key: "k", Size: 10, ETag: ""}
	ev := s.Process(context.Background(), desc, NewCancelToken(context.Background()))
	if ev.Kind != EventSkip {
		t.Errorf("got %+v, want Skip", ev)
	}
	if source.putObjectCalls != 0 {
		t.Error("expected no PutObject call on skip")
	}
}

func TestSyncer_Process_CompletesOnSuccessfulPut(t *testing.T) {
	t.Parallel()

	source := &scriptedAdapter{
		getObjectOut: &storage.GetObjectOutput{Body: io.NopCloser(strings.NewReader("hello")), Size: 5},
	}
	target := &scriptedAdapter{putObjectResult: &storage.PutObjectResult{ETag: "abc"}}
	s := newTestSyncer(source, target)

	ev := s.Process(context.Background(), storage.ObjectDescriptor{Key: "k"}, NewCancelToken(context.Background()))
	if ev.Kind != EventComplete {
		t.Errorf("got %+v, want Complete", ev)
	}
	if target.putObjectCalls != 1 {
		t.Errorf("expected exactly one PutObject call, got %d", target.putObjectCalls)
	}
}

func TestSyncer_Process_NotFoundBecomesWarningByDefault(t *testing.T) {
	t.Parallel()

	source := &scriptedAdapter{getObjectErr: engineerr.New(engineerr.KindNotFound, "GetObject", "k", "gone")}
	target := &scriptedAdapter{}
	s := newTestSyncer(source, target)

	ev := s.Process(context.Background(), storage.ObjectDescriptor{Key: "k"}, NewCancelToken(context.Background()))
	if ev.Kind != EventWarning {
		t.Errorf("got %+v, want Warning", ev)
	}
}

func TestSyncer_Process_WarnAsErrorEscalates(t *testing.T) {
	t.Parallel()

	source := &scriptedAdapter{getObjectErr: engineerr.New(engineerr.KindNotFound, "GetObject", "k", "gone")}
	target := &scriptedAdapter{}
	s := newTestSyncer(source, target)
	s.Safety.WarnAsError = true

	ev := s.Process(context.Background(), storage.ObjectDescriptor{Key: "k"}, NewCancelToken(context.Background()))
	if ev.Kind != EventError {
		t.Errorf("got %+v, want Error (warn_as_error set)", ev)
	}
}

func TestSyncer_Process_OtherErrorBecomesError(t *testing.T) {
	t.Parallel()

	source := &scriptedAdapter{getObjectErr: engineerr.New(engineerr.KindOther, "GetObject", "k", "boom")}
	target := &scriptedAdapter{}
	s := newTestSyncer(source, target)

	ev := s.Process(context.Background(), storage.ObjectDescriptor{Key: "k"}, NewCancelToken(context.Background()))
	if ev.Kind != EventError {
		t.Errorf("got %+v, want Error", ev)
	}
}

func TestSyncer_Process_ReturnsWarningWhenAlreadyCancelled(t *testing.T) {
	t.Parallel()

	s := newTestSyncer(&scriptedAdapter{}, &scriptedAdapter{})
	token := NewCancelToken(context.Background())
	token.Set()

	ev := s.Process(context.Background(), storage.ObjectDescriptor{Key: "k"}, token)
	if ev.Kind != EventWarning {
		t.Errorf("got %+v, want Warning", ev)
	}
}

func TestSyncer_Process_PanicIsContainedAsError(t *testing.T) {
	t.Parallel()

	s := newTestSyncer(&panicAdapter{}, &scriptedAdapter{})
	ev := s.Process(context.Background(), storage.ObjectDescriptor{Key: "k"}, NewCancelToken(context.Background()))
	if ev.Kind != EventError {
		t.Errorf("got %+v, want Error (panic contained)", ev)
	}
}

type panicAdapter struct {
	fakeAdapter
}

func (p *panicAdapter) GetObject(ctx context.Context, key string, opts storage.GetOptions) (*storage.GetObjectOutput, error) {
	panic("boom")
}
