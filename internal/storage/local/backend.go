// Package local implements the local-directory half of the storage adapter
// (§4.1): a directory walk for list_objects, stat-based head_object, and a
// temp-file-then-atomic-rename write path mirroring the multipart protocol's
// two-path structure (single write vs. parallel per-part write) for
// put_object.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/karrick/godirwalk"
	"golang.org/x/sync/semaphore"

	"github.com/s3sync-go/engine/internal/engineerr"
	"github.com/s3sync-go/engine/internal/storage"
	"github.com/s3sync-go/engine/internal/storagepath"
)

// Backend implements storage.Adapter against a directory tree rooted at
// Root. It never carries a notion of versioning or tagging beyond a small
// in-memory tag-shadow map, since the local filesystem has no native
// equivalent — tags are kept in memory for the duration of the process so
// round-tripping through a local adapter in tests behaves consistently.
type Backend struct {
	Root           string
	FollowSymlinks bool

	mu   sync.Mutex
	tags map[string]map[string]string
}

// NewBackend constructs a Backend rooted at root. root is created if it does
// not already exist.
func NewBackend(root string) (*Backend, error) {
	if root == "" {
		return nil, engineerr.New(engineerr.KindOther, "NewBackend", "", "root path cannot be empty")
	}
	if !strings.HasSuffix(root, string(os.PathSeparator)) {
		root += string(os.PathSeparator)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, engineerr.Wrap(engineerr.KindOther, "NewBackend", "", err)
	}
	return &Backend{Root: root, tags: make(map[string]map[string]string)}, nil
}

func (b *Backend) fullPath(key string) string {
	return filepath.Join(b.Root, filepath.FromSlash(key))
}

// writablePath resolves key to a path under Root, rejecting any key whose
// ".." segments would let a write escape the destination tree.
func (b *Backend) writablePath(key string) (string, error) {
	path, err := storagepath.JoinLocal(strings.TrimSuffix(b.Root, string(os.PathSeparator)), key)
	if err != nil {
		return "", engineerr.New(engineerr.KindDirectoryTraversal, "PutObject", key, err.Error())
	}
	return path, nil
}

// ListObjects walks the directory tree rooted at Root, emitting one
// descriptor per regular file with key = path relative to Root using "/" as
// the separator on every platform. Directory-traversal rejection happens on
// the write side, not here, per §4.1.
func (b *Backend) ListObjects(ctx context.Context, opts storage.ListOptions, out chan<- storage.ObjectDescriptor) error {
	defer close(out)

	var walkErr error
	err := godirwalk.Walk(strings.TrimSuffix(b.Root, string(os.PathSeparator)), &godirwalk.Options{
		FollowSymbolicLinks: opts.FollowSymlinks,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if de.IsDir() {
				return nil
			}

			info, err := os.Lstat(osPathname)
			if err != nil {
				return err
			}

			rel, err := filepath.Rel(b.Root, osPathname)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)

			desc := storage.ObjectDescriptor{
				Key:          key,
				Size:         info.Size(),
				LastModified: info.ModTime(),
				IsLatest:     true,
			}
			select {
			case out <- desc:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
		ErrorCallback: func(osPathname string, err error) godirwalk.ErrorAction {
			if opts.WarnAsError {
				walkErr = err
				return godirwalk.Halt
			}
			return godirwalk.SkipNode
		},
	})
	if walkErr != nil {
		return engineerr.Wrap(engineerr.KindOther, "ListObjects", b.Root, walkErr)
	}
	if err != nil {
		return engineerr.Wrap(engineerr.KindOther, "ListObjects", b.Root, err)
	}
	return nil
}

// ListObjectVersions has no local-filesystem analog.
func (b *Backend) ListObjectVersions(ctx context.Context, opts storage.ListOptions, out chan<- storage.ObjectDescriptor) error {
	close(out)
	return engineerr.New(engineerr.KindOther, "ListObjectVersions", b.Root, "versioning is not supported by the local adapter")
}

// ListObjectVersionsForKey reports the current file as its only "version",
// since the local filesystem has no version id.
func (b *Backend) ListObjectVersionsForKey(ctx context.Context, key string) ([]storage.ObjectDescriptor, error) {
	info, err := os.Stat(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, b.translateStatError(err, "ListObjectVersionsForKey", key)
	}
	return []storage.ObjectDescriptor{{
		Key:          key,
		Size:         info.Size(),
		LastModified: info.ModTime(),
		IsLatest:     true,
	}}, nil
}

// HeadObject stats the file at key. A missing file is reported as a
// synthesized "not found" error, the same engineerr.Kind the S3 backend
// produces for a missing key, so upstream error classification is
// backend-agnostic.
func (b *Backend) HeadObject(ctx context.Context, key string, opts storage.HeadOptions) (*storage.ObjectMetadata, error) {
	info, err := os.Stat(b.fullPath(key))
	if err != nil {
		return nil, b.translateStatError(err, "HeadObject", key)
	}
	return &storage.ObjectMetadata{
		Size:         info.Size(),
		LastModified: info.ModTime(),
		Metadata:     map[string]string{},
	}, nil
}

// GetObject opens the file at key, optionally seeking to a byte range.
func (b *Backend) GetObject(ctx context.Context, key string, opts storage.GetOptions) (*storage.GetObjectOutput, error) {
	path := b.fullPath(key)
	f, err := os.Open(path)
	if err != nil {
		return nil, b.translateStatError(err, "GetObject", key)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, engineerr.Wrap(engineerr.KindOther, "GetObject", key, err)
	}

	size := info.Size()
	var body io.ReadCloser = f
	contentRange := ""
	if opts.HasRange {
		if _, err := f.Seek(opts.RangeStart, io.SeekStart); err != nil {
			f.Close()
			return nil, engineerr.Wrap(engineerr.KindOther, "GetObject", key, err)
		}
		end := opts.RangeEnd
		if end <= 0 || end >= size {
			end = size - 1
		}
		length := end - opts.RangeStart + 1
		body = limitedReadCloser{r: io.LimitReader(f, length), c: f}
		contentRange = rangeHeader(opts.RangeStart, end, size)
	}

	return &storage.GetObjectOutput{
		Body:         body,
		Size:         size,
		ContentRange: contentRange,
		LastModified: info.ModTime(),
		Metadata:     map[string]string{},
	}, nil
}

func rangeHeader(start, end, total int64) string {
	return "bytes " + itoa(start) + "-" + itoa(end) + "/" + itoa(total)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l limitedReadCloser) Close() error               { return l.c.Close() }

// GetObjectParts and GetObjectPartsAttributes have no meaning for a local
// file — a local source is always read as a single stream and chunked by
// the caller using fixed boundaries, never mirrored part-for-part.
func (b *Backend) GetObjectParts(ctx context.Context, key string, opts storage.GetOptions) ([]storage.PartInfo, error) {
	return nil, nil
}

func (b *Backend) GetObjectPartsAttributes(ctx context.Context, key string, opts storage.GetOptions) ([]storage.PartInfo, error) {
	return nil, nil
}

// PutObject writes to a temp file in the same directory as the destination
// and atomically renames it into place on success, so a reader never
// observes a partially written file. A key ending in "/" is materialized as
// a directory; a non-zero-size object with a directory-suffix key is
// rejected rather than silently dropped (the caller decides how to report
// that as a warning).
func (b *Backend) PutObject(ctx context.Context, key string, input storage.PutObjectInput) (*storage.PutObjectResult, error) {
	dest, err := b.writablePath(key)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(key, "/") {
		if input.Size != 0 {
			return nil, engineerr.New(engineerr.KindOther, "PutObject", key, "non-empty object has a directory-suffix key")
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return nil, engineerr.Wrap(engineerr.KindOther, "PutObject", key, err)
		}
		return &storage.PutObjectResult{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, engineerr.Wrap(engineerr.KindOther, "PutObject", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".s3sync-tmp-*")
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindOther, "PutObject", key, err)
	}
	tmpPath := tmp.Name()
	abort := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	parallelism := input.PartParallelism
	if len(input.SourceParts) > 1 && parallelism > 1 {
		if err := writeParallel(ctx, tmp, input); err != nil {
			abort()
			return nil, err
		}
	} else {
		if _, err := io.Copy(tmp, input.Body); err != nil {
			abort()
			return nil, engineerr.Wrap(engineerr.KindOther, "PutObject", key, err)
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, engineerr.Wrap(engineerr.KindOther, "PutObject", key, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return nil, engineerr.Wrap(engineerr.KindOther, "PutObject", key, err)
	}
	if mtime, ok := input.Metadata["s3sync_origin_last_modified"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, mtime); err == nil {
			_ = os.Chtimes(dest, t, t)
		}
	}

	return &storage.PutObjectResult{PartCount: len(input.SourceParts)}, nil
}

// writeParallel writes each source part at its correct offset using
// concurrent pwrite-style writes, bounded by input.PartParallelism —
// the local equivalent of the multipart upload's bounded-semaphore part fan
// out (§4.9).
func writeParallel(ctx context.Context, f *os.File, input storage.PutObjectInput) error {
	sem := semaphore.NewWeighted(int64(input.PartParallelism))
	errCh := make(chan error, len(input.SourceParts))
	var wg sync.WaitGroup

	var offset int64
	for _, p := range input.SourceParts {
		buf := make([]byte, p.Size)
		if _, err := io.ReadFull(input.Body, buf); err != nil {
			return engineerr.Wrap(engineerr.KindOther, "PutObject", f.Name(), err)
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return engineerr.Wrap(engineerr.KindOther, "PutObject", f.Name(), err)
		}
		wg.Add(1)
		go func(off int64, data []byte) {
			defer wg.Done()
			defer sem.Release(1)

			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}
			if _, err := f.WriteAt(data, off); err != nil {
				errCh <- err
			}
		}(offset, buf)
		offset += p.Size
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return engineerr.Wrap(engineerr.KindOther, "PutObject", f.Name(), err)
		}
	}
	return nil
}

func (b *Backend) DeleteObject(ctx context.Context, key string, opts storage.DeleteOptions) error {
	if opts.IfMatch != "" {
		md, err := b.HeadObject(ctx, key, storage.HeadOptions{})
		if err != nil {
			return err
		}
		_ = md // local adapter has no ETag to compare; presence check only
	}
	if err := os.Remove(b.fullPath(key)); err != nil {
		return b.translateStatError(err, "DeleteObject", key)
	}
	return nil
}

func (b *Backend) GetObjectTagging(ctx context.Context, key, versionID string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tags := b.tags[key]
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out, nil
}

func (b *Backend) PutObjectTagging(ctx context.Context, key, versionID string, tags map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	copyOf := make(map[string]string, len(tags))
	for k, v := range tags {
		copyOf[k] = v
	}
	b.tags[key] = copyOf
	return nil
}

func (b *Backend) DeleteObjectTagging(ctx context.Context, key, versionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tags, key)
	return nil
}

func (b *Backend) IsVersioningEnabled(ctx context.Context) (bool, error) {
	return false, nil
}

func (b *Backend) Close() error { return nil }

func (b *Backend) translateStatError(err error, op, key string) error {
	if os.IsNotExist(err) {
		return engineerr.New(engineerr.KindNotFound, op, key, "no such file or directory")
	}
	if os.IsPermission(err) {
		return engineerr.Wrap(engineerr.KindAccessDenied, op, key, err)
	}
	return engineerr.Wrap(engineerr.KindOther, op, key, err)
}

var _ storage.Adapter = (*Backend)(nil)
