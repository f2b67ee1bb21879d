package pipeline

import (
	"context"
	"time"

	"github.com/s3sync-go/engine/internal/config"
	"github.com/s3sync-go/engine/internal/engineerr"
	"github.com/s3sync-go/engine/internal/etagverify"
	"github.com/s3sync-go/engine/internal/storage"
)

// HeadObjectChecker decides, by heading the target, whether one source
// object needs to be synced. It is only consulted when the target is local
// or when head_each_target/sync_latest_tagging force a per-object head
// (§4.5) — the mtime-only path never calls it.
type HeadObjectChecker struct {
	Target     storage.Adapter
	Diff       config.DiffConfig
	Checksum   config.ChecksumConfig
	Encryption etagverify.EncryptionContext

	MultipartThreshold int64
	MultipartChunksize int64
}

// ShouldSync reports whether source needs to be synced to the target,
// given sourceLocalPath (empty when the source is not a local backend).
func (c *HeadObjectChecker) ShouldSync(ctx context.Context, source storage.ObjectDescriptor, sourceLocalPath string) (bool, error) {
	meta, err := c.Target.HeadObject(ctx, source.Key, storage.HeadOptions{VersionID: source.VersionID})
	if err != nil {
		if engineerr.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}
	if meta == nil {
		return true, nil
	}

	if c.Diff.CheckSize && source.Size != meta.Size {
		return true, nil
	}

	switch c.Diff.Strategy {
	case config.DiffStrategyETag:
		decision, err := c.etagDiffers(source, sourceLocalPath, meta)
		if err != nil {
			return false, err
		}
		return decision.Different, nil

	case config.DiffStrategyChecksum:
		decision, err := c.checksumDiffers(source, sourceLocalPath, meta)
		if err != nil {
			return false, err
		}
		return decision.Different, nil

	default:
		return c.mtimeOrAdditionalChecksumDiffers(ctx, source, sourceLocalPath, meta)
	}
}

// mtimeOrAdditionalChecksumDiffers implements the default mtime comparison,
// additionally consulting an additional-checksum algorithm when
// check_mtime_and_additional_checksum_algorithm is configured.
func (c *HeadObjectChecker) mtimeOrAdditionalChecksumDiffers(ctx context.Context, source storage.ObjectDescriptor, sourceLocalPath string, meta *storage.ObjectMetadata) (bool, error) {
	if c.Diff.CheckMtimeAndAdditionalChecksumAlgo != "" {
		decision, err := c.checksumDiffers(source, sourceLocalPath, meta)
		if err != nil {
			return false, err
		}
		if decision.Different {
			return true, nil
		}
	}
	return sourceNewer(source.LastModified, meta.LastModified), nil
}

func sourceNewer(source, target time.Time) bool {
	return source.After(target)
}

func (c *HeadObjectChecker) etagDiffers(source storage.ObjectDescriptor, sourceLocalPath string, meta *storage.ObjectMetadata) (Decision, error) {
	detector := ETagDetector{}
	return detector.Differs(DetectorInput{
		SourceIsLocal:      sourceLocalPath != "",
		SourceLocalPath:    sourceLocalPath,
		SourceSize:         source.Size,
		TargetSize:         meta.Size,
		SourceETag:         source.ETag,
		TargetETag:         meta.ETag,
		MultipartThreshold: c.MultipartThreshold,
		MultipartChunksize: c.MultipartChunksize,
		Encryption:         c.Encryption,
	})
}

func (c *HeadObjectChecker) checksumDiffers(source storage.ObjectDescriptor, sourceLocalPath string, meta *storage.ObjectMetadata) (Decision, error) {
	alg := c.Diff.CheckMtimeAndAdditionalChecksumAlgo
	if c.Diff.CheckAdditionalChecksumAlgorithm != "" {
		alg = c.Diff.CheckAdditionalChecksumAlgorithm
	}
	if alg == "" {
		alg = c.Checksum.Algorithm
	}

	detector := ChecksumDetector{CheckChecksumAlgorithm: alg}
	return detector.Differs(DetectorInput{
		SourceIsLocal:      sourceLocalPath != "",
		SourceLocalPath:    sourceLocalPath,
		SourceChecksum:     source.AdditionalChecksum,
		TargetChecksum:     meta.AdditionalChecksum,
		ChecksumAlgorithm:  alg,
		MultipartThreshold: c.MultipartThreshold,
		MultipartChunksize: c.MultipartChunksize,
	})
}
