package pipeline

import (
	"context"
	"regexp"
	"time"

	"github.com/s3sync-go/engine/internal/storage"
)

// Filter decides whether one descriptor continues downstream. Implementors
// must be safe to call concurrently only if the chain itself is run from a
// single goroutine — the spec models each filter as a single-producer/
// single-consumer stage, so FilterChain.Run owns all calls.
type Filter interface {
	// Keep reports whether desc should continue downstream.
	Keep(desc storage.ObjectDescriptor) bool
}

// FilterFunc adapts a plain function to the Filter interface.
type FilterFunc func(storage.ObjectDescriptor) bool

func (f FilterFunc) Keep(desc storage.ObjectDescriptor) bool { return f(desc) }

// UserFilterCallback is the contract for the "user-defined-filter" stage:
// invoked serially, once per descriptor, returning whether to keep it.
type UserFilterCallback func(desc storage.ObjectDescriptor) bool

// MtimeBefore keeps descriptors modified strictly before cutoff.
func MtimeBefore(cutoff time.Time) Filter {
	return FilterFunc(func(d storage.ObjectDescriptor) bool { return d.LastModified.Before(cutoff) })
}

// MtimeAfter keeps descriptors modified strictly after cutoff.
func MtimeAfter(cutoff time.Time) Filter {
	return FilterFunc(func(d storage.ObjectDescriptor) bool { return d.LastModified.After(cutoff) })
}

// SmallerSize keeps descriptors with size strictly smaller than max.
func SmallerSize(max int64) Filter {
	return FilterFunc(func(d storage.ObjectDescriptor) bool { return d.Size < max })
}

// LargerSize keeps descriptors with size strictly larger than min.
func LargerSize(min int64) Filter {
	return FilterFunc(func(d storage.ObjectDescriptor) bool { return d.Size > min })
}

// IncludeRegex keeps only descriptors whose key matches re.
func IncludeRegex(re *regexp.Regexp) Filter {
	return FilterFunc(func(d storage.ObjectDescriptor) bool { return re.MatchString(d.Key) })
}

// ExcludeRegex drops descriptors whose key matches re.
func ExcludeRegex(re *regexp.Regexp) Filter {
	return FilterFunc(func(d storage.ObjectDescriptor) bool { return !re.MatchString(d.Key) })
}

// UserDefined wraps a registered filter callback, invoked serially per the
// data model's note that long-lived user callbacks are shared behind a
// mutex because invocations must be serial.
func UserDefined(cb UserFilterCallback) Filter {
	return FilterFunc(func(d storage.ObjectDescriptor) bool { return cb(d) })
}

// TargetModified keeps a descriptor only when the target does NOT already
// have an entry with mtime >= the source's mtime — i.e. it drops objects
// that are not newer at the source. It consults a KeyAggregator populated
// by an earlier target-listing stage.
func TargetModified(target *KeyAggregator) Filter {
	return FilterFunc(func(d storage.ObjectDescriptor) bool {
		entry, ok := target.Get(d.Key)
		if !ok {
			return true
		}
		// Skip (drop) when the target is already at least as new as the
		// source; keep only when the source is strictly newer.
		return d.LastModified.After(entry.LastModified)
	})
}

// FilterChain runs an ordered list of filters, short-circuiting on the
// first that drops a descriptor — §4.4's numbered stage order is the
// caller's responsibility when constructing the slice.
type FilterChain struct {
	Filters []Filter
}

// Run reads from in and forwards descriptors that pass every filter to out,
// closing out when in is drained or ctx is cancelled.
func (c *FilterChain) Run(ctx context.Context, in <-chan storage.ObjectDescriptor, out chan<- storage.ObjectDescriptor) {
	defer close(out)
	for {
		select {
		case desc, ok := <-in:
			if !ok {
				return
			}
			if !c.keepAll(desc) {
				continue
			}
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

func (c *FilterChain) keepAll(desc storage.ObjectDescriptor) bool {
	for _, f := range c.Filters {
		if !f.Keep(desc) {
			return false
		}
	}
	return true
}
