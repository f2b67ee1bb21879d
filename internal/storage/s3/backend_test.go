package s3

import (
	"crypto/md5"
	"testing"
	"time"

	"github.com/s3sync-go/engine/internal/storage"
)

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	cfg := (&Config{}).withDefaults()
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries default = %d, want 3", cfg.MaxRetries)
	}
	if cfg.PoolSize != 8 {
		t.Errorf("PoolSize default = %d, want 8", cfg.PoolSize)
	}
	if cfg.CargoShipThreshold != 32*1024*1024 {
		t.Errorf("CargoShipThreshold default = %d, want 32MiB", cfg.CargoShipThreshold)
	}

	explicit := (&Config{MaxRetries: 9, PoolSize: 2, CargoShipThreshold: 1024}).withDefaults()
	if explicit.MaxRetries != 9 || explicit.PoolSize != 2 || explicit.CargoShipThreshold != 1024 {
		t.Errorf("withDefaults overwrote explicit values: %+v", explicit)
	}
}

func TestStrippedKey(t *testing.T) {
	t.Parallel()

	cases := []struct{ key, prefix, want string }{
		{"backups/2024/a.txt", "backups/", "2024/a.txt"},
		{"a.txt", "", "a.txt"},
		{"other/a.txt", "backups/", "other/a.txt"},
	}
	for _, c := range cases {
		if got := strippedKey(c.key, c.prefix); got != c.want {
			t.Errorf("strippedKey(%q, %q) = %q, want %q", c.key, c.prefix, got, c.want)
		}
	}
}

func TestSortVersionsOldestFirst_LatestFloatsToEnd(t *testing.T) {
	t.Parallel()

	now := time.Now()
	versions := []storage.ObjectDescriptor{
		{VersionID: "new-but-not-latest", LastModified: now.Add(2 * time.Hour)},
		{VersionID: "oldest", LastModified: now},
		{VersionID: "latest", LastModified: now.Add(time.Hour), IsLatest: true},
	}
	sortVersionsOldestFirst(versions)

	if versions[len(versions)-1].VersionID != "latest" {
		t.Errorf("expected latest version last, got order: %v", versionIDs(versions))
	}
	if versions[0].VersionID != "oldest" {
		t.Errorf("expected oldest version first, got order: %v", versionIDs(versions))
	}
}

func versionIDs(versions []storage.ObjectDescriptor) []string {
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.VersionID
	}
	return out
}

func TestPartLayout_UsesSourcePartsWhenSupplied(t *testing.T) {
	t.Parallel()

	input := storage.PutObjectInput{
		Size:               100,
		MultipartChunksize: 10,
		SourceParts: []storage.PartInfo{
			{PartNumber: 1, Size: 60},
			{PartNumber: 2, Size: 40},
		},
	}
	parts := partLayout(input)
	if len(parts) != 2 || parts[0].Size != 60 || parts[1].Size != 40 {
		t.Errorf("expected source part layout preserved, got %+v", parts)
	}
}

func TestPartLayout_EvenChunksWhenNoSourceParts(t *testing.T) {
	t.Parallel()

	input := storage.PutObjectInput{Size: 25, MultipartChunksize: 10}
	parts := partLayout(input)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts for 25 bytes / 10-byte chunks, got %d", len(parts))
	}
	var sum int64
	for _, p := range parts {
		sum += p.Size
	}
	if sum != 25 {
		t.Errorf("part sizes sum to %d, want 25", sum)
	}
	if parts[2].Size != 5 {
		t.Errorf("last part size = %d, want 5 (remainder)", parts[2].Size)
	}
}

func TestBase64Sum_MatchesStandardEncoding(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	sum := md5.Sum(data)
	got := base64Sum(sum)

	want := "XrY7u+Ae7tCTyyK7j1rNww==" // base64(md5("hello world"))
	if got != want {
		t.Errorf("base64Sum = %q, want %q", got, want)
	}
}
