package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/s3sync-go/engine/internal/config"
	"github.com/s3sync-go/engine/internal/etagverify"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "object")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestETagDetector_S3ToS3_MatchingETagsAreNotDifferent(t *testing.T) {
	t.Parallel()

	d := ETagDetector{}
	decision, err := d.Differs(DetectorInput{
		SourceETag: `"abc123"`,
		TargetETag: "abc123",
		SourceSize: 10,
		TargetSize: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Different {
		t.Error("expected identical normalized ETags to be reported as not different")
	}
}

func TestETagDetector_S3ToS3_MismatchedETagsAreDifferent(t *testing.T) {
	t.Parallel()

	d := ETagDetector{}
	decision, err := d.Differs(DetectorInput{
		SourceETag: "abc123",
		TargetETag: "def456",
		SourceSize: 10,
		TargetSize: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Different {
		t.Error("expected mismatched ETags to be reported as different")
	}
}

func TestETagDetector_SkipsOnSSEC(t *testing.T) {
	t.Parallel()

	d := ETagDetector{}
	decision, err := d.Differs(DetectorInput{
		SourceETag: "abc123",
		TargetETag: "def456",
		SourceSize: 10,
		TargetSize: 10,
		Encryption: etagverify.EncryptionContext{TargetSSEC: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Different || decision.Warning == "" {
		t.Errorf("expected a skip-with-warning result, got %+v", decision)
	}
}

func TestETagDetector_PanicsOnEqualETagDifferentSize(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected a panic on equal ETag with differing sizes")
		}
	}()

	d := ETagDetector{}
	_, _ = d.Differs(DetectorInput{
		SourceETag: "abc123",
		TargetETag: "abc123",
		SourceSize: 10,
		TargetSize: 20,
	})
}

func TestETagDetector_LocalSource_FixedChunksizeRecompute(t *testing.T) {
	t.Parallel()

	content := []byte("hello world")
	path := writeTempFile(t, content)

	expected, err := etagverify.ETagFixedChunksize(path, int64(len(content)), 1<<20, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error computing expected ETag: %v", err)
	}

	d := ETagDetector{}
	decision, err := d.Differs(DetectorInput{
		SourceIsLocal:      true,
		SourceLocalPath:    path,
		SourceSize:         int64(len(content)),
		TargetSize:         int64(len(content)),
		TargetETag:         expected,
		MultipartThreshold: 1 << 20,
		MultipartChunksize: 1 << 20,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Different {
		t.Error("expected recomputed local ETag to match the target's")
	}
}

func TestETagDetector_LocalSource_ExplicitPartsRecompute(t *testing.T) {
	t.Parallel()

	content := make([]byte, 15)
	for i := range content {
		content[i] = byte(i)
	}
	path := writeTempFile(t, content)

	parts := []etagverify.PartSize{{PartNumber: 1, Size: 10}, {PartNumber: 2, Size: 5}}
	expected, err := etagverify.ETagWithParts(path, int64(len(content)), parts)
	if err != nil {
		t.Fatalf("unexpected error computing expected ETag: %v", err)
	}

	d := ETagDetector{}
	decision, err := d.Differs(DetectorInput{
		SourceIsLocal:   true,
		SourceLocalPath: path,
		SourceSize:      int64(len(content)),
		TargetSize:      int64(len(content)),
		TargetETag:      expected,
		TargetParts:     parts,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Different {
		t.Error("expected recomputed local ETag (via explicit parts) to match the target's")
	}
}

func TestChecksumDetector_MissingChecksumWarnsAndIsNotDifferent(t *testing.T) {
	t.Parallel()

	d := ChecksumDetector{}
	decision, err := d.Differs(DetectorInput{
		ChecksumAlgorithm: config.ChecksumCRC32C,
		SourceChecksum:    "",
		TargetChecksum:    "some-value",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Different {
		t.Error("expected a missing checksum to be reported as not different")
	}
	if decision.Warning == "" {
		t.Error("expected a warning explaining the missing checksum")
	}
}

func TestChecksumDetector_NoAlgorithmConfiguredIsNotDifferent(t *testing.T) {
	t.Parallel()

	d := ChecksumDetector{}
	decision, err := d.Differs(DetectorInput{SourceChecksum: "a", TargetChecksum: "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Different {
		t.Error("expected no configured algorithm to skip comparison entirely")
	}
}

func TestChecksumDetector_ComparesMatchingValues(t *testing.T) {
	t.Parallel()

	d := ChecksumDetector{}
	decision, err := d.Differs(DetectorInput{
		ChecksumAlgorithm: config.ChecksumSHA256,
		SourceChecksum:    " same-value ",
		TargetChecksum:    "same-value",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Different {
		t.Error("expected whitespace-trimmed equal checksums to match")
	}
}

func TestChecksumDetector_OverrideAlgorithmTakesPrecedence(t *testing.T) {
	t.Parallel()

	d := ChecksumDetector{CheckChecksumAlgorithm: config.ChecksumCRC32}
	decision, err := d.Differs(DetectorInput{
		ChecksumAlgorithm: "",
		SourceChecksum:    "x",
		TargetChecksum:    "x",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Different {
		t.Error("expected override algorithm to still allow the comparison to proceed")
	}
}

func TestChecksumDetector_LocalSource_RecomputesFullObjectDigest(t *testing.T) {
	t.Parallel()

	content := []byte("checksum me")
	path := writeTempFile(t, content)

	d := ChecksumDetector{}
	in := DetectorInput{
		SourceIsLocal:     true,
		SourceLocalPath:   path,
		ChecksumAlgorithm: config.ChecksumSHA256,
		TargetChecksum:    "placeholder",
	}
	decision, err := d.Differs(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Different {
		t.Error("expected the recomputed digest to differ from an unrelated placeholder")
	}
}
