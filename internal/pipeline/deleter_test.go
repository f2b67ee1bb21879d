package pipeline

import (
	"context"
	"testing"

	"github.com/s3sync-go/engine/internal/engineerr"
	"github.com/s3sync-go/engine/internal/storage"
)

type deleteScriptedAdapter struct {
	fakeAdapter
	deleteErr error
	calls     int
}

func (a *deleteScriptedAdapter) DeleteObject(ctx context.Context, key string, opts storage.DeleteOptions) error {
	a.calls++
	return a.deleteErr
}

func TestDeleter_Process_CompletesAndCounts(t *testing.T) {
	t.Parallel()

	target := &deleteScriptedAdapter{}
	d := &Deleter{Target: target}

	ev := d.Process(context.Background(), storage.ObjectDescriptor{Key: "k"}, NewCancelToken(context.Background()))
	if ev.Kind != EventComplete {
		t.Errorf("got %+v, want Complete", ev)
	}
	if d.Count() != 1 {
		t.Errorf("count = %d, want 1", d.Count())
	}
}

func TestDeleter_Process_MaxDeleteLimitWarns(t *testing.T) {
	t.Parallel()

	target := &deleteScriptedAdapter{}
	d := &Deleter{Target: target, MaxDelete: 1}

	first := d.Process(context.Background(), storage.ObjectDescriptor{Key: "a"}, NewCancelToken(context.Background()))
	if first.Kind != EventComplete {
		t.Fatalf("got %+v, want Complete", first)
	}
	second := d.Process(context.Background(), storage.ObjectDescriptor{Key: "b"}, NewCancelToken(context.Background()))
	if second.Kind != EventWarning {
		t.Errorf("got %+v, want Warning once max_delete is reached", second)
	}
	if target.calls != 1 {
		t.Errorf("expected the second key to never reach DeleteObject, got %d calls", target.calls)
	}
}

func TestDeleter_Process_PreconditionFailedWarnsUnlessWarnAsError(t *testing.T) {
	t.Parallel()

	target := &deleteScriptedAdapter{deleteErr: engineerr.New(engineerr.KindPreconditionFailed, "DeleteObject", "k", "changed")}
	d := &Deleter{Target: target, IfMatch: true}

	ev := d.Process(context.Background(), storage.ObjectDescriptor{Key: "k", ETag: "abc"}, NewCancelToken(context.Background()))
	if ev.Kind != EventWarning {
		t.Errorf("got %+v, want Warning", ev)
	}

	d.WarnAsError = true
	ev = d.Process(context.Background(), storage.ObjectDescriptor{Key: "k", ETag: "abc"}, NewCancelToken(context.Background()))
	if ev.Kind != EventError {
		t.Errorf("got %+v, want Error once warn_as_error is set", ev)
	}
}

func TestDeleter_Process_CancelledSkipsDelete(t *testing.T) {
	t.Parallel()

	target := &deleteScriptedAdapter{}
	d := &Deleter{Target: target}
	token := NewCancelToken(context.Background())
	token.Set()

	ev := d.Process(context.Background(), storage.ObjectDescriptor{Key: "k"}, token)
	if ev.Kind != EventWarning {
		t.Errorf("got %+v, want Warning", ev)
	}
	if target.calls != 0 {
		t.Error("expected no DeleteObject call once cancelled")
	}
}
