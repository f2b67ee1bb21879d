// Package recovery provides panic containment for the engine's worker
// goroutines. A panic inside a syncer or deleter worker must never crash the
// whole process — it is converted into a KindOther SyncError, recorded on
// the run's error queue, and treated exactly like any other non-retryable
// failure: it cancels the pipeline (§7 "Other" row) instead of taking down
// the caller with it.
package recovery

import (
	"fmt"
	"runtime/debug"

	"github.com/s3sync-go/engine/internal/engineerr"
)

// Guard runs fn and converts any panic into a KindOther *engineerr.SyncError
// instead of letting it propagate. op and key are used purely for the
// resulting error's diagnostic context.
func Guard(op, key string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = engineerr.New(engineerr.KindOther, op, key, fmt.Sprintf("panic: %v", r)).
				WithContext("stack", string(debug.Stack()))
		}
	}()
	return fn()
}

// GoGuard runs fn in a new goroutine, reporting any panic through onPanic
// instead of crashing the process. Used by the worker pools to launch each
// worker: a single misbehaving worker degrades to a recorded error rather
// than taking the whole pipeline down with it.
func GoGuard(op string, fn func(), onPanic func(err error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if onPanic != nil {
					onPanic(engineerr.New(engineerr.KindOther, op, "", fmt.Sprintf("panic: %v", r)).
						WithContext("stack", string(debug.Stack())))
				}
			}
		}()
		fn()
	}()
}
