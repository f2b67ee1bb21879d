package checksum

import (
	"bytes"
	"strings"
	"testing"

	"github.com/s3sync-go/engine/internal/config"
	"github.com/s3sync-go/engine/internal/engineerr"
)

func TestNewHasher_UnknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := NewHasher(config.ChecksumAlgorithm("MD5"))
	if engineerr.KindOf(err) != engineerr.KindUnknownAlgorithm {
		t.Fatalf("expected KindUnknownAlgorithm, got %v", err)
	}
}

func TestFullObjectDigest_Deterministic(t *testing.T) {
	t.Parallel()

	for _, alg := range []config.ChecksumAlgorithm{config.ChecksumCRC32, config.ChecksumCRC32C, config.ChecksumCRC64NVME, config.ChecksumSHA1, config.ChecksumSHA256} {
		a, err := FullObjectDigest(alg, bytes.NewReader([]byte("hello world")))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", alg, err)
		}
		b, err := FullObjectDigest(alg, bytes.NewReader([]byte("hello world")))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", alg, err)
		}
		if a != b {
			t.Errorf("%s: digest not stable: %q != %q", alg, a, b)
		}
		if strings.Contains(a, "-") {
			t.Errorf("%s: full-object digest must not contain a part-count suffix, got %q", alg, a)
		}
	}
}

func TestComposite_ContainsExactlyOneDash(t *testing.T) {
	t.Parallel()

	hasher := NewPartHasher(config.ChecksumCRC32C)
	var parts []PartDigest
	for i, data := range [][]byte{[]byte("part-one"), []byte("part-two"), []byte("part-three")} {
		d, err := hasher.HashPart(i+1, bytes.NewReader(data))
		if err != nil {
			t.Fatalf("HashPart: %v", err)
		}
		parts = append(parts, d)
	}

	composite, err := Composite(config.ChecksumCRC32C, parts)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	if got := strings.Count(composite, "-"); got != 1 {
		t.Errorf("composite value %q has %d dashes, want exactly 1", composite, got)
	}
	if !IsComposite(composite) {
		t.Errorf("IsComposite(%q) = false, want true", composite)
	}
	n, err := PartCount(composite)
	if err != nil {
		t.Fatalf("PartCount: %v", err)
	}
	if n != 3 {
		t.Errorf("PartCount = %d, want 3", n)
	}
}

func TestComposite_StableIndependentOfChunking(t *testing.T) {
	t.Parallel()

	// Hashing the same three parts in two separate PartHasher instances
	// (simulating independent goroutines) must produce the same digests.
	h1 := NewPartHasher(config.ChecksumSHA256)
	h2 := NewPartHasher(config.ChecksumSHA256)

	d1, _ := h1.HashPart(1, bytes.NewReader([]byte("chunk-a")))
	d2, _ := h2.HashPart(1, bytes.NewReader([]byte("chunk-a")))

	if !bytes.Equal(d1.Raw, d2.Raw) {
		t.Error("identical part content produced different raw digests")
	}
}

func TestIsComposite(t *testing.T) {
	t.Parallel()

	if IsComposite("abcDEF==") {
		t.Error("plain digest misclassified as composite")
	}
	if !IsComposite("abcDEF==-4") {
		t.Error("composite digest not classified as composite")
	}
}

func TestPartCount_NotComposite(t *testing.T) {
	t.Parallel()

	if _, err := PartCount("abcDEF=="); err == nil {
		t.Error("expected error for non-composite value")
	}
}

func TestEqual_TrimsWhitespace(t *testing.T) {
	t.Parallel()

	if !Equal(" abc ", "abc") {
		t.Error("Equal should trim surrounding whitespace")
	}
	if Equal("abc", "def") {
		t.Error("Equal should report different values as unequal")
	}
}
