package recovery

import (
	"testing"
	"time"

	"github.com/s3sync-go/engine/internal/engineerr"
)

func TestGuard_NoPanic(t *testing.T) {
	t.Parallel()

	err := Guard("op", "key", func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGuard_PropagatesOrdinaryError(t *testing.T) {
	t.Parallel()

	want := engineerr.New(engineerr.KindNotFound, "op", "key", "missing")
	err := Guard("op", "key", func() error { return want })
	if err != want {
		t.Errorf("Guard should pass through a non-panic error unchanged")
	}
}

func TestGuard_CatchesPanic(t *testing.T) {
	t.Parallel()

	err := Guard("PutObject", "dir/x", func() error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected an error from the recovered panic")
	}
	if engineerr.KindOf(err) != engineerr.KindOther {
		t.Errorf("panic should classify as KindOther, got %v", engineerr.KindOf(err))
	}
}

func TestGoGuard_CatchesPanic(t *testing.T) {
	t.Parallel()

	done := make(chan error, 1)
	GoGuard("worker", func() {
		panic("goroutine boom")
	}, func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		if engineerr.KindOf(err) != engineerr.KindOther {
			t.Errorf("expected KindOther, got %v", engineerr.KindOf(err))
		}
	case <-time.After(time.Second):
		t.Fatal("onPanic was never called")
	}
}
