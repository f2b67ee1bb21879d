// Package etagverify recomputes S3's MD5-based ETag from a local file and
// implements the comparison rules of §4.3: when SSE-C or SSE-KMS make an
// ETag opaque, or multipart verification is disabled, the caller is told to
// skip rather than fail.
//
// No pack dependency reimplements S3's ETag algorithm (it's MD5 over fixed
// or caller-supplied chunk boundaries, a detail specific to this protocol);
// crypto/md5 is the standard library's correct, and only, tool for it — see
// DESIGN.md.
package etagverify

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Unknown is the sentinel ETag value returned when the caller-supplied part
// sizes don't sum to the file's actual length — a first-class result, not
// an error, per the spec's "absence of key" sentinel design note.
const Unknown = "UNKNOWN"

// PartSize describes one part of a multipart upload, used by the
// auto-chunksize algorithm to mirror the source's exact part geometry.
type PartSize struct {
	PartNumber int
	Size       int64
}

// ETagFixedChunksize recomputes the ETag a single-part-or-multipart S3
// upload of localPath would have produced, using a fixed chunk size
// (§4.3's "Fixed chunksize" algorithm): below multipartThreshold the ETag is
// the plain hex MD5 of the whole file; at or above it, each
// multipartChunksize-sized chunk is hashed independently and the ETag
// becomes "hex(md5(concat(part md5s)))-N".
func ETagFixedChunksize(localPath string, size, multipartThreshold, multipartChunksize int64) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("etagverify: open %s: %w", localPath, err)
	}
	defer f.Close()

	if size < multipartThreshold {
		h := md5.New()
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("etagverify: hash %s: %w", localPath, err)
		}
		return hexDigest(h.Sum(nil)), nil
	}

	var concatenated []byte
	parts := 0
	buf := make([]byte, multipartChunksize)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			sum := md5.Sum(buf[:n])
			concatenated = append(concatenated, sum[:]...)
			parts++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("etagverify: read %s: %w", localPath, err)
		}
	}
	if parts == 0 {
		return "", fmt.Errorf("etagverify: %s produced no parts", localPath)
	}
	finalSum := md5.Sum(concatenated)
	return fmt.Sprintf("%s-%d", hexDigest(finalSum[:]), parts), nil
}

// ETagWithParts recomputes the ETag using an explicit, caller-supplied part
// layout (§4.3's "Auto chunksize" algorithm, used when the target mirrors
// the source's exact multipart geometry). If the sum of part sizes doesn't
// match the file's length, it returns Unknown rather than an error.
func ETagWithParts(localPath string, fileSize int64, parts []PartSize) (string, error) {
	var sum int64
	for _, p := range parts {
		sum += p.Size
	}
	if sum != fileSize {
		return Unknown, nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("etagverify: open %s: %w", localPath, err)
	}
	defer f.Close()

	var concatenated []byte
	for _, p := range parts {
		buf := make([]byte, p.Size)
		if _, err := io.ReadFull(f, buf); err != nil {
			return "", fmt.Errorf("etagverify: read part %d of %s: %w", p.PartNumber, localPath, err)
		}
		sum := md5.Sum(buf)
		concatenated = append(concatenated, sum[:]...)
	}
	finalSum := md5.Sum(concatenated)
	return fmt.Sprintf("%s-%d", hexDigest(finalSum[:]), len(parts)), nil
}

func hexDigest(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

// Normalize strips surrounding double quotes S3 wraps ETags in over the
// wire, so comparisons operate on the bare hex/composite value.
func Normalize(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), `"`)
}

// IsMultipart reports whether a normalized ETag is in S3's multipart form
// ("hex-N").
func IsMultipart(etag string) bool {
	idx := strings.LastIndex(etag, "-")
	if idx < 0 {
		return false
	}
	_, err := strconv.Atoi(etag[idx+1:])
	return err == nil
}

// EncryptionContext carries the per-side encryption facts §4.3's skip rules
// need: whether either side uses SSE-C (opaque ETag, key never leaves the
// client) or SSE-KMS (opaque ETag, server-managed key).
type EncryptionContext struct {
	SourceSSEC   bool
	TargetSSEC   bool
	SourceSSEKMS bool
	TargetSSEKMS bool
}

// Result is the outcome of Verify: either a definitive match/mismatch, or a
// Skipped result carrying the reason verification didn't happen at all.
type Result struct {
	Verified bool
	Matched  bool
	Skipped  bool
	Reason   string
}

// Verify implements §4.3's comparison rules in order: SSE-C on either side
// skips; SSE-KMS on either side skips; a multipart ETag on either side with
// multipartVerifyDisabled skips; otherwise the normalized strings are
// compared.
func Verify(sourceETag, targetETag string, enc EncryptionContext, multipartVerifyDisabled bool) Result {
	if enc.SourceSSEC || enc.TargetSSEC {
		return Result{Skipped: true, Reason: "SSE-C in use; ETag is not comparable"}
	}
	if enc.SourceSSEKMS || enc.TargetSSEKMS {
		return Result{Skipped: true, Reason: "SSE-KMS in use; ETag is opaque"}
	}

	a, b := Normalize(sourceETag), Normalize(targetETag)
	if multipartVerifyDisabled && (IsMultipart(a) || IsMultipart(b)) {
		return Result{Skipped: true, Reason: "multipart ETag verification disabled"}
	}

	return Result{Verified: true, Matched: a == b}
}
