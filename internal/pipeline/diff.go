// Diff detectors (§4.5): pluggable strategies deciding whether a source and
// target object differ, used on the head-each-target and checksum paths.
package pipeline

import (
	"fmt"
	"io"
	"os"

	"github.com/s3sync-go/engine/internal/checksum"
	"github.com/s3sync-go/engine/internal/config"
	"github.com/s3sync-go/engine/internal/etagverify"
)

func openLocal(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open %s: %w", path, err)
	}
	return f, nil
}

// Decision is the result of a diff detector: either a definite answer, or
// an answer carrying a warning when the comparison couldn't be made —
// "not different" for e.g. a missing checksum, "different" when a local
// ETag recomputation is unknown — and the caller must decide what that means.
type Decision struct {
	Different bool
	Warning   string
}

// DetectorInput carries everything a detector needs to compare one object
// across source and target without knowing which backends are involved.
type DetectorInput struct {
	SourceIsLocal   bool
	SourceLocalPath string

	SourceSize int64
	TargetSize int64

	SourceETag string
	TargetETag string

	SourceChecksum    string
	TargetChecksum    string
	ChecksumAlgorithm config.ChecksumAlgorithm

	// TargetParts, when non-empty, is the target's exact multipart part
	// layout — used to recompute a local source's ETag/checksum so it
	// mirrors the target's chunking instead of assuming fixed chunks.
	TargetParts []etagverify.PartSize

	MultipartThreshold int64
	MultipartChunksize int64

	Encryption              etagverify.EncryptionContext
	MultipartVerifyDisabled bool
}

// Detector decides whether a source and target object differ.
type Detector interface {
	Differs(in DetectorInput) (Decision, error)
}

// ETagDetector compares (or recomputes and compares) ETags.
type ETagDetector struct{}

func (ETagDetector) Differs(in DetectorInput) (Decision, error) {
	sourceETag := in.SourceETag
	if in.SourceIsLocal {
		recomputed, err := recomputeLocalETag(in)
		if err != nil {
			return Decision{}, err
		}
		if recomputed == etagverify.Unknown {
			return Decision{Different: true, Warning: "local ETag recomputation produced an unknown result; treating as different"}, nil
		}
		sourceETag = recomputed
	}

	result := etagverify.Verify(sourceETag, in.TargetETag, in.Encryption, in.MultipartVerifyDisabled)
	if result.Skipped {
		return Decision{Different: false, Warning: result.Reason}, nil
	}

	if result.Matched && in.SourceSize != in.TargetSize {
		// Equal ETag with different size is not a legitimate outcome of
		// S3's ETag algorithm; surfacing it as a panic catches corrupt
		// input rather than silently reporting "not different".
		panic(fmt.Sprintf("pipeline: equal ETag %q with differing sizes (source=%d, target=%d)", etagverify.Normalize(sourceETag), in.SourceSize, in.TargetSize))
	}

	return Decision{Different: !result.Matched}, nil
}

func recomputeLocalETag(in DetectorInput) (string, error) {
	if len(in.TargetParts) > 0 {
		return etagverify.ETagWithParts(in.SourceLocalPath, in.SourceSize, in.TargetParts)
	}
	return etagverify.ETagFixedChunksize(in.SourceLocalPath, in.SourceSize, in.MultipartThreshold, in.MultipartChunksize)
}

// ChecksumDetector compares (or recomputes and compares) an additional
// checksum.
type ChecksumDetector struct {
	// CheckChecksumAlgorithm, when set, overrides ChecksumAlgorithm from
	// DetectorInput — the "check_additional_checksum_algorithm" override
	// of §4.5.
	CheckChecksumAlgorithm config.ChecksumAlgorithm
}

func (d ChecksumDetector) Differs(in DetectorInput) (Decision, error) {
	alg := in.ChecksumAlgorithm
	if d.CheckChecksumAlgorithm != "" {
		alg = d.CheckChecksumAlgorithm
	}
	if alg == "" {
		return Decision{Different: false, Warning: "no checksum algorithm configured; skipping checksum comparison"}, nil
	}

	sourceChecksum := in.SourceChecksum
	if in.SourceIsLocal {
		recomputed, err := recomputeLocalChecksum(in, alg)
		if err != nil {
			return Decision{}, err
		}
		sourceChecksum = recomputed
	}

	if sourceChecksum == "" || in.TargetChecksum == "" {
		return Decision{Different: false, Warning: "missing checksum on source or target; not treated as different"}, nil
	}

	return Decision{Different: !checksum.Equal(sourceChecksum, in.TargetChecksum)}, nil
}

func recomputeLocalChecksum(in DetectorInput, alg config.ChecksumAlgorithm) (string, error) {
	f, err := openLocal(in.SourceLocalPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if len(in.TargetParts) == 0 {
		return checksum.FullObjectDigest(alg, f)
	}

	hasher := checksum.NewPartHasher(alg)
	var digests []checksum.PartDigest
	for _, p := range in.TargetParts {
		limited := io.LimitReader(f, p.Size)
		d, err := hasher.HashPart(p.PartNumber, limited)
		if err != nil {
			return "", fmt.Errorf("pipeline: hash part %d of %s: %w", p.PartNumber, in.SourceLocalPath, err)
		}
		digests = append(digests, d)
	}
	return checksum.Composite(alg, digests)
}
