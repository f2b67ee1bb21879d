// Package storagepath defines the StoragePath value type the engine's
// storage adapters are constructed from. Parsing the `s3://bucket[/prefix]`
// / local-path URL surface the CLI accepts is an external collaborator (§1) —
// this package only holds the already-resolved value and the handful of
// normalization rules §6 pins down as data-model behavior rather than CLI
// behavior: local-path trailing-separator normalization and key-level
// directory-traversal rejection.
package storagepath

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind distinguishes the two supported backends.
type Kind int

const (
	KindS3 Kind = iota
	KindLocal
)

// StoragePath identifies one side (source or target) of a sync. Exactly one
// of the S3 fields or Path is meaningful, selected by Kind.
type StoragePath struct {
	Kind Kind

	// S3 fields, valid when Kind == KindS3.
	Bucket string
	Prefix string

	// Path, valid when Kind == KindLocal. Always normalized to end in the
	// OS path separator.
	Path string
}

// NewS3 constructs an S3 StoragePath. prefix may be empty.
func NewS3(bucket, prefix string) StoragePath {
	return StoragePath{Kind: KindS3, Bucket: bucket, Prefix: prefix}
}

// NewLocal constructs a local StoragePath, appending the OS separator if the
// caller didn't already (§6: "A local path not ending in the OS separator
// receives one appended on normalization").
func NewLocal(path string) StoragePath {
	if !strings.HasSuffix(path, string(filepath.Separator)) {
		path += string(filepath.Separator)
	}
	return StoragePath{Kind: KindLocal, Path: path}
}

// IsS3 reports whether this path addresses an S3 bucket.
func (p StoragePath) IsS3() bool { return p.Kind == KindS3 }

// IsLocal reports whether this path addresses a local directory.
func (p StoragePath) IsLocal() bool { return p.Kind == KindLocal }

// String renders the path for logging.
func (p StoragePath) String() string {
	if p.IsS3() {
		if p.Prefix == "" {
			return fmt.Sprintf("s3://%s", p.Bucket)
		}
		return fmt.Sprintf("s3://%s/%s", p.Bucket, p.Prefix)
	}
	return p.Path
}

// ValidateKey rejects a key that attempts directory traversal. Called on the
// local write side only, per §4.1 ("..-traversal in resulting keys is
// rejected on the write side, not here") — list_objects never calls this;
// put_object and the local adapter's path-join helper do.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("storagepath: key must not be empty")
	}
	// Reject both POSIX and Windows traversal segments; S3 keys always use
	// "/" but a maliciously-crafted key could carry a backslash sequence
	// that a local filepath.Join would still interpret as traversal on
	// Windows.
	normalized := strings.ReplaceAll(key, "\\", "/")
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return fmt.Errorf("storagepath: key %q contains directory traversal", key)
		}
	}
	return nil
}

// JoinLocal joins a normalized local root with an object key, after
// validating the key contains no traversal segments. Returns the OS-native
// path for opening/creating the destination file.
func JoinLocal(root, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	cleanKey := filepath.FromSlash(key)
	return filepath.Join(root, cleanKey), nil
}
