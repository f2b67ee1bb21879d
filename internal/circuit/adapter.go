package circuit

import (
	"context"

	"github.com/s3sync-go/engine/internal/storage"
)

// Adapter wraps a storage.Adapter so every call to the backend passes
// through a CircuitBreaker: once failures trip the breaker, further calls
// fail fast with ErrOpenState instead of piling onto an already-struggling
// endpoint, until the breaker's timeout lets one probe request back in.
type Adapter struct {
	inner   storage.Adapter
	breaker *CircuitBreaker
}

// Wrap returns a storage.Adapter backed by inner, protected by a breaker
// named name.
func Wrap(name string, inner storage.Adapter, cfg Config) *Adapter {
	return &Adapter{inner: inner, breaker: NewCircuitBreaker(name, cfg)}
}

// Breaker exposes the underlying breaker, e.g. for a health probe to read
// GetState() without going through a call.
func (a *Adapter) Breaker() *CircuitBreaker { return a.breaker }

func (a *Adapter) ListObjects(ctx context.Context, opts storage.ListOptions, out chan<- storage.ObjectDescriptor) error {
	return a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.inner.ListObjects(ctx, opts, out)
	})
}

func (a *Adapter) ListObjectVersions(ctx context.Context, opts storage.ListOptions, out chan<- storage.ObjectDescriptor) error {
	return a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.inner.ListObjectVersions(ctx, opts, out)
	})
}

func (a *Adapter) ListObjectVersionsForKey(ctx context.Context, key string) ([]storage.ObjectDescriptor, error) {
	var result []storage.ObjectDescriptor
	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = a.inner.ListObjectVersionsForKey(ctx, key)
		return err
	})
	return result, err
}

func (a *Adapter) HeadObject(ctx context.Context, key string, opts storage.HeadOptions) (*storage.ObjectMetadata, error) {
	var result *storage.ObjectMetadata
	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = a.inner.HeadObject(ctx, key, opts)
		return err
	})
	return result, err
}

func (a *Adapter) GetObject(ctx context.Context, key string, opts storage.GetOptions) (*storage.GetObjectOutput, error) {
	var result *storage.GetObjectOutput
	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = a.inner.GetObject(ctx, key, opts)
		return err
	})
	return result, err
}

func (a *Adapter) GetObjectParts(ctx context.Context, key string, opts storage.GetOptions) ([]storage.PartInfo, error) {
	var result []storage.PartInfo
	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = a.inner.GetObjectParts(ctx, key, opts)
		return err
	})
	return result, err
}

func (a *Adapter) GetObjectPartsAttributes(ctx context.Context, key string, opts storage.GetOptions) ([]storage.PartInfo, error) {
	var result []storage.PartInfo
	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = a.inner.GetObjectPartsAttributes(ctx, key, opts)
		return err
	})
	return result, err
}

func (a *Adapter) PutObject(ctx context.Context, key string, input storage.PutObjectInput) (*storage.PutObjectResult, error) {
	var result *storage.PutObjectResult
	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = a.inner.PutObject(ctx, key, input)
		return err
	})
	return result, err
}

func (a *Adapter) DeleteObject(ctx context.Context, key string, opts storage.DeleteOptions) error {
	return a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.inner.DeleteObject(ctx, key, opts)
	})
}

func (a *Adapter) GetObjectTagging(ctx context.Context, key, versionID string) (map[string]string, error) {
	var result map[string]string
	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = a.inner.GetObjectTagging(ctx, key, versionID)
		return err
	})
	return result, err
}

func (a *Adapter) PutObjectTagging(ctx context.Context, key, versionID string, tags map[string]string) error {
	return a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.inner.PutObjectTagging(ctx, key, versionID, tags)
	})
}

func (a *Adapter) DeleteObjectTagging(ctx context.Context, key, versionID string) error {
	return a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return a.inner.DeleteObjectTagging(ctx, key, versionID)
	})
}

func (a *Adapter) IsVersioningEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	err := a.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var err error
		enabled, err = a.inner.IsVersioningEnabled(ctx)
		return err
	})
	return enabled, err
}

// Close is never circuit-protected: releasing local resources should
// always proceed regardless of the breaker's state.
func (a *Adapter) Close() error { return a.inner.Close() }

var _ storage.Adapter = (*Adapter)(nil)
