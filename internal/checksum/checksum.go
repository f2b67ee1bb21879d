// Package checksum implements the engine's additional-checksum engine
// (§4.2): incremental hashers for CRC32, CRC32C, CRC64NVME, SHA1 and SHA256,
// each capable of producing either a composite "digest-of-digests" value for
// a multipart object or a single full-object digest.
//
// No third-party hash library in the retrieval pack exposes CRC32C or
// CRC64NVME as a ready-made incremental hash.Hash — both are expressible
// exactly via the standard library's hash/crc32 (Castagnoli polynomial) and
// hash/crc64 (NVMe polynomial) tables, so this package is one of the few
// places the engine reaches for stdlib over a pack dependency; see
// DESIGN.md.
package checksum

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"hash/crc32"
	"hash/crc64"
	"io"
	"strconv"
	"strings"

	"github.com/s3sync-go/engine/internal/config"
	"github.com/s3sync-go/engine/internal/engineerr"
)

// crc64NVMEPoly is the reflected polynomial used by the NVM Express
// specification for its CRC64 checksum (also known as CRC-64/NVME,
// CRC-64/XZ uses a different one).
const crc64NVMEPoly = 0x9a6c9329ac4bc9b5

var crc64NVMETable = crc64.MakeTable(crc64NVMEPoly)

// NewHasher returns a fresh incremental hash.Hash for the given algorithm.
func NewHasher(alg config.ChecksumAlgorithm) (hash.Hash, error) {
	switch alg {
	case config.ChecksumCRC32:
		return crc32.NewIEEE(), nil
	case config.ChecksumCRC32C:
		return crc32.New(crc32.MakeTable(crc32.Castagnoli)), nil
	case config.ChecksumCRC64NVME:
		return crc64.New(crc64NVMETable), nil
	case config.ChecksumSHA1:
		return sha1.New(), nil
	case config.ChecksumSHA256:
		return sha256.New(), nil
	default:
		return nil, engineerr.New(engineerr.KindUnknownAlgorithm, "NewHasher", "", fmt.Sprintf("unknown checksum algorithm %q", alg))
	}
}

// PartDigest is the raw (unencoded) digest of one part, used to build the
// composite value.
type PartDigest struct {
	PartNumber int
	Raw        []byte
}

// FullObjectDigest hashes an entire stream with one incremental hasher and
// returns the base64-encoded digest with no part-count suffix — the "full
// object" mode of §4.2.
func FullObjectDigest(alg config.ChecksumAlgorithm, r io.Reader) (string, error) {
	h, err := NewHasher(alg)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("checksum: full-object hash failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// PartHasher accumulates one PartDigest per part for composite mode. It is
// not goroutine-safe; the syncer's multipart upload path creates one per
// concurrent part and collects the results after the fan-in.
type PartHasher struct {
	alg config.ChecksumAlgorithm
}

// NewPartHasher creates a PartHasher for the given algorithm.
func NewPartHasher(alg config.ChecksumAlgorithm) *PartHasher {
	return &PartHasher{alg: alg}
}

// HashPart hashes a single part's bytes and returns its raw digest.
func (p *PartHasher) HashPart(partNumber int, r io.Reader) (PartDigest, error) {
	h, err := NewHasher(p.alg)
	if err != nil {
		return PartDigest{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return PartDigest{}, fmt.Errorf("checksum: part %d hash failed: %w", partNumber, err)
	}
	return PartDigest{PartNumber: partNumber, Raw: h.Sum(nil)}, nil
}

// EncodePart returns the base64 encoding of a single part's raw digest, the
// value the syncer sends as the per-part additional checksum on UploadPart.
func EncodePart(d PartDigest) string {
	return base64.StdEncoding.EncodeToString(d.Raw)
}

// Composite builds the "digest-of-digests + part count" value of §4.2: the
// hash of the concatenation of every part's *raw* digest, base64-encoded,
// followed by "-N". parts must already be sorted by PartNumber — the
// multipart upload path sorts its fan-in results before calling this, the
// same way it sorts CompletedParts before CompleteMultipartUpload.
func Composite(alg config.ChecksumAlgorithm, parts []PartDigest) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("checksum: composite requires at least one part")
	}
	h, err := NewHasher(alg)
	if err != nil {
		return "", err
	}
	for _, p := range parts {
		if _, err := h.Write(p.Raw); err != nil {
			return "", fmt.Errorf("checksum: composite write failed: %w", err)
		}
	}
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))
	return fmt.Sprintf("%s-%d", digest, len(parts)), nil
}

// IsComposite reports whether a checksum value is in composite (multipart)
// form, i.e. it contains a "-" separating the digest from the part count
// (standard base64 never contains "-").
func IsComposite(value string) bool {
	return strings.Contains(value, "-")
}

// PartCount extracts the part count suffix of a composite checksum. Returns
// an error if value is not composite or the suffix isn't a valid count.
func PartCount(value string) (int, error) {
	idx := strings.LastIndex(value, "-")
	if idx < 0 {
		return 0, fmt.Errorf("checksum: %q is not a composite value", value)
	}
	n, err := strconv.Atoi(value[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("checksum: invalid part count in %q: %w", value, err)
	}
	return n, nil
}

// Equal compares two checksum values as bytes after trimming surrounding
// whitespace — the engine never treats a missing checksum as unequal on its
// own; callers decide whether an absent value is a warning or a mismatch.
func Equal(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
