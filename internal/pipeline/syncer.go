package pipeline

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/s3sync-go/engine/internal/config"
	"github.com/s3sync-go/engine/internal/engineerr"
	"github.com/s3sync-go/engine/internal/etagverify"
	"github.com/s3sync-go/engine/internal/ratelimit"
	"github.com/s3sync-go/engine/internal/storage"
	"github.com/s3sync-go/engine/internal/storagepath"
	"github.com/s3sync-go/engine/pkg/recovery"
	"github.com/s3sync-go/engine/pkg/retry"
)

// Syncer runs the per-object state machine of §4.7: decide whether a
// source object needs to be copied, fetch it, put it at the target, and
// verify the result.
type Syncer struct {
	Source storage.Adapter
	Target storage.Adapter

	// SourceLocalRoot is non-empty when Source is a local-directory
	// adapter — it lets a diff detector read the raw file bytes directly
	// for ETag/checksum recomputation instead of going through
	// GetObject, mirroring how the local backend itself resolves keys.
	SourceLocalRoot string

	// HeadChecker drives ShouldSync when set (target is local, or
	// head_each_target/sync_latest_tagging forces a per-object head per
	// §4.5). When nil, every descriptor handed to Process is assumed
	// already filtered upstream (the common S3-target, mtime-diff case).
	HeadChecker *HeadObjectChecker

	Diff     config.DiffConfig
	Checksum config.ChecksumConfig
	Transfer config.TransferConfig
	Tagging  config.TaggingConfig
	Safety   config.SafetyConfig
	Retry    config.RetryConfig

	Encryption etagverify.EncryptionContext

	ObjectLimiter *ratelimit.ObjectLimiter
	ByteLimiter   *ratelimit.ByteLimiter
}

func (s *Syncer) retryerFor(onRetry func(attempt int, err error)) *retry.Retryer {
	return retry.New(retry.Config{
		MaxAttempts: s.Retry.ForceRetryCount,
		Interval:    s.Retry.ForceRetryInterval,
		OnRetry:     onRetry,
	})
}

func (s *Syncer) sourceLocalPath(key string) string {
	if s.SourceLocalRoot == "" {
		return ""
	}
	path, err := storagepath.JoinLocal(s.SourceLocalRoot, key)
	if err != nil {
		return ""
	}
	return path
}

// Process runs the full state machine for one descriptor and returns its
// terminal Event.
func (s *Syncer) Process(ctx context.Context, desc storage.ObjectDescriptor, cancel *CancelToken) Event {
	return recoveredEvent(desc.Key, func() Event { return s.process(ctx, desc, cancel) })
}

func recoveredEvent(key string, fn func() Event) (ev Event) {
	err := recovery.Guard("Syncer.Process", key, func() error {
		ev = fn()
		return nil
	})
	if err != nil {
		return Event{Kind: EventError, Key: key, Err: err}
	}
	return ev
}

func (s *Syncer) process(ctx context.Context, desc storage.ObjectDescriptor, cancel *CancelToken) Event {
	if cancel.IsSet() {
		return Event{Kind: EventWarning, Key: desc.Key, Message: "cancelled before start"}
	}

	should, err := s.shouldSync(ctx, desc)
	if err != nil {
		return s.classify("ShouldSync", desc.Key, err)
	}
	if !should {
		if s.Tagging.SyncLatestTagging && !s.Tagging.DisableTagging {
			if err := s.syncTagsOnly(ctx, desc); err != nil {
				return s.classify("SyncLatestTagging", desc.Key, err)
			}
		}
		return Event{Kind: EventSkip, Key: desc.Key}
	}

	if cancel.IsSet() {
		return Event{Kind: EventWarning, Key: desc.Key, Message: "cancelled after ShouldSync"}
	}

	if s.ObjectLimiter != nil {
		if err := s.ObjectLimiter.Acquire(ctx); err != nil {
			return Event{Kind: EventWarning, Key: desc.Key, Err: err, Message: "cancelled waiting for object rate limit"}
		}
	}

	output, err := s.Source.GetObject(ctx, desc.Key, storage.GetOptions{})
	if err != nil {
		return s.classify("GetObject", desc.Key, err)
	}
	defer output.Body.Close()

	if cancel.IsSet() {
		return Event{Kind: EventWarning, Key: desc.Key, Message: "cancelled before put"}
	}

	body := output.Body
	if s.ByteLimiter != nil {
		body = rateLimitedBody{reader: s.ByteLimiter.Reader(ctx, output.Body), closer: output.Body}
	}

	input := storage.PutObjectInput{
		Body: body,
		Size: output.Size,
		Metadata: map[string]string{
			OriginVersionIDMetadataKey:    desc.VersionID,
			OriginLastModifiedMetadataKey: desc.LastModified.UTC().Format(time.RFC3339),
		},
		AdditionalChecksumAlgorithm: string(s.Checksum.Algorithm),
		MultipartThreshold:          s.Transfer.MultipartThreshold,
		MultipartChunksize:          s.Transfer.MultipartChunksize,
	}
	if !s.Tagging.DisableTagging {
		if tagging, err := s.sourceTagging(ctx, desc); err != nil {
			return s.classify("GetObjectTagging", desc.Key, err)
		} else {
			input.Tagging = tagging
		}
	}

	var result *storage.PutObjectResult
	retryErr := s.retryerFor(nil).Do(ctx, func(ctx context.Context) error {
		var putErr error
		result, putErr = s.Target.PutObject(ctx, desc.Key, input)
		return putErr
	})
	if retryErr != nil {
		return s.classify("PutObject", desc.Key, retryErr)
	}

	if !s.Checksum.DisableETagVerify {
		verify := etagverify.Verify(desc.ETag, result.ETag, s.Encryption, s.Checksum.DisableMultipartVerify)
		if !verify.Skipped && !verify.Matched {
			ev := Event{Kind: EventWarning, Key: desc.Key, Message: "uploaded object's ETag does not match the source"}
			if s.Safety.WarnAsError {
				ev.Kind = EventError
			}
			return ev
		}
	}

	return Event{Kind: EventComplete, Key: desc.Key, Size: output.Size}
}

// shouldSync decides whether desc needs to be copied. When HeadChecker is
// nil, the descriptor is assumed to have already passed the upstream
// target-modified filter.
func (s *Syncer) shouldSync(ctx context.Context, desc storage.ObjectDescriptor) (bool, error) {
	if s.HeadChecker == nil {
		return true, nil
	}
	return s.HeadChecker.ShouldSync(ctx, desc, s.sourceLocalPath(desc.Key))
}

func (s *Syncer) sourceTagging(ctx context.Context, desc storage.ObjectDescriptor) (string, error) {
	tags, err := s.Source.GetObjectTagging(ctx, desc.Key, desc.VersionID)
	if err != nil || len(tags) == 0 {
		return "", err
	}
	values := url.Values{}
	for k, v := range tags {
		values.Set(k, v)
	}
	return values.Encode(), nil
}

// syncTagsOnly implements --sync-latest-tagging's "update tags without
// re-copying the body" path.
func (s *Syncer) syncTagsOnly(ctx context.Context, desc storage.ObjectDescriptor) error {
	tags, err := s.Source.GetObjectTagging(ctx, desc.Key, desc.VersionID)
	if err != nil {
		return err
	}
	return s.Target.PutObjectTagging(ctx, desc.Key, "", tags)
}

// classify turns a raw error into a terminal Event per §7's dispatch table:
// not-found/access-denied/precondition-failed/checksum-mismatch and
// force-retryable (once retries are exhausted) become a Warning (or an Error
// when warn_as_error is set); anything else is an Error that cancels the
// run.
func (s *Syncer) classify(op, key string, err error) Event {
	switch engineerr.KindOf(err) {
	case engineerr.KindCancelled:
		return Event{Kind: EventWarning, Key: key, Err: err, Message: op + " cancelled"}
	case engineerr.KindNotFound, engineerr.KindAccessDenied, engineerr.KindPreconditionFailed,
		engineerr.KindChecksumMismatch, engineerr.KindForceRetryable:
		ev := Event{Kind: EventWarning, Key: key, Err: err, Message: op}
		if s.Safety.WarnAsError {
			ev.Kind = EventError
		}
		return ev
	default:
		return Event{Kind: EventError, Key: key, Err: err, Message: op}
	}
}

// rateLimitedBody adapts a plain io.Reader (the rate-limited wrapper) back
// into an io.ReadCloser backed by the original body's Close.
type rateLimitedBody struct {
	reader io.Reader
	closer io.Closer
}

func (b rateLimitedBody) Read(p []byte) (int, error) { return b.reader.Read(p) }
func (b rateLimitedBody) Close() error               { return b.closer.Close() }
