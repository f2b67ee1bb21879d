// Package config defines the engine's configuration tree: every field the
// CLI wrapper (out of scope per the engine's design) populates from flags
// before handing a *Configuration to a pipeline.Controller. Validate() catches
// contradictory or out-of-range settings before a run starts.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ChecksumAlgorithm names one of the additional-checksum algorithms the
// checksum engine supports.
type ChecksumAlgorithm string

const (
	ChecksumNone       ChecksumAlgorithm = ""
	ChecksumCRC32      ChecksumAlgorithm = "CRC32"
	ChecksumCRC32C     ChecksumAlgorithm = "CRC32C"
	ChecksumCRC64NVME  ChecksumAlgorithm = "CRC64NVME"
	ChecksumSHA1       ChecksumAlgorithm = "SHA1"
	ChecksumSHA256     ChecksumAlgorithm = "SHA256"
)

// ChecksumMode selects whether additional-checksum values are read as
// composite (per-part digest-of-digests) or full-object.
type ChecksumMode string

const (
	ChecksumModeComposite  ChecksumMode = "COMPOSITE"
	ChecksumModeFullObject ChecksumMode = "FULL_OBJECT"
)

// DiffStrategy selects how the engine decides a source and target object
// differ, per §4.5.
type DiffStrategy string

const (
	// DiffStrategyMtime compares size and modification time only.
	DiffStrategyMtime DiffStrategy = "MTIME"
	// DiffStrategyETag additionally recomputes and compares ETags.
	DiffStrategyETag DiffStrategy = "ETAG"
	// DiffStrategyChecksum additionally recomputes and compares an
	// additional checksum.
	DiffStrategyChecksum DiffStrategy = "CHECKSUM"
)

// Configuration is the complete set of knobs the engine consults. It has no
// notion of how it was populated (flags, a file, environment variables) —
// that belongs to the CLI wrapper.
type Configuration struct {
	Concurrency    ConcurrencyConfig    `yaml:"concurrency"`
	Transfer       TransferConfig       `yaml:"transfer"`
	Checksum       ChecksumConfig       `yaml:"checksum"`
	Diff           DiffConfig           `yaml:"diff"`
	Filters        FiltersConfig        `yaml:"filters"`
	Versioning     VersioningConfig     `yaml:"versioning"`
	Delete         DeleteConfig         `yaml:"delete"`
	Tagging        TaggingConfig        `yaml:"tagging"`
	Encryption     EncryptionConfig     `yaml:"encryption"`
	ObjectAttrs    ObjectAttrsConfig    `yaml:"object_attrs"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Retry          RetryConfig          `yaml:"retry"`
	Safety         SafetyConfig         `yaml:"safety"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ConcurrencyConfig controls the worker pools and multipart parallelism.
type ConcurrencyConfig struct {
	WorkerSize            int `yaml:"worker_size"`
	MultipartUploadParallelism int `yaml:"multipart_upload_parallelism"`
	MaxKeys               int32 `yaml:"max_keys"`
	ChannelCapacity       int `yaml:"channel_capacity"`
}

// TransferConfig controls single-part vs. multipart upload geometry.
type TransferConfig struct {
	MultipartThreshold int64 `yaml:"multipart_threshold"`
	MultipartChunksize int64 `yaml:"multipart_chunksize"`
	AutoChunksize      bool  `yaml:"auto_chunksize"`
	DryRun             bool  `yaml:"dry_run"`
}

// ChecksumConfig controls additional-checksum behavior and integrity
// verification toggles.
type ChecksumConfig struct {
	Algorithm              ChecksumAlgorithm `yaml:"additional_checksum_algorithm"`
	Mode                   ChecksumMode      `yaml:"additional_checksum_mode"`
	FullObjectChecksum     bool              `yaml:"full_object_checksum"`
	DisableETagVerify      bool              `yaml:"disable_etag_verify"`
	DisableMultipartVerify bool              `yaml:"disable_multipart_verify"`
}

// DiffConfig selects the diff strategy and head-object behavior.
type DiffConfig struct {
	Strategy                       DiffStrategy      `yaml:"strategy"`
	CheckSize                      bool              `yaml:"check_size"`
	HeadEachTarget                 bool              `yaml:"head_each_target"`
	CheckAdditionalChecksumAlgorithm    ChecksumAlgorithm `yaml:"check_additional_checksum_algorithm"`
	CheckMtimeAndAdditionalChecksumAlgo ChecksumAlgorithm `yaml:"check_mtime_and_additional_checksum_algorithm"`
	SyncLatestTagging              bool              `yaml:"sync_latest_tagging"`
}

// FiltersConfig configures the ordered filter chain of §4.4.
type FiltersConfig struct {
	MtimeBefore          *time.Time `yaml:"mtime_before"`
	MtimeAfter           *time.Time `yaml:"mtime_after"`
	SmallerSize          *int64     `yaml:"smaller_size"`
	LargerSize           *int64     `yaml:"larger_size"`
	IncludeRegex         string     `yaml:"include_regex"`
	ExcludeRegex         string     `yaml:"exclude_regex"`
	RemoveModifiedFilter bool       `yaml:"remove_modified_filter"`
}

// VersioningConfig selects versioned or point-in-time replication.
type VersioningConfig struct {
	EnableVersioning bool       `yaml:"enable_versioning"`
	PointInTime      *time.Time `yaml:"point_in_time"`
}

// DeleteConfig controls the delete-diff phase.
type DeleteConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxDelete int  `yaml:"max_delete"`
	IfMatch  bool `yaml:"if_match"`
}

// TaggingConfig controls tag propagation.
type TaggingConfig struct {
	DisableTagging    bool   `yaml:"disable_tagging"`
	FixedTagging      string `yaml:"tagging"`
	SyncLatestTagging bool   `yaml:"sync_latest_tagging"`
}

// EncryptionConfig carries server-side encryption knobs for both endpoints.
type EncryptionConfig struct {
	SSE               string `yaml:"sse"`
	SSEKMSKeyID       string `yaml:"sse_kms_key_id"`
	SourceSSECKey     string `yaml:"source_sse_c_key"`
	TargetSSECKey     string `yaml:"target_sse_c_key"`
}

// ObjectAttrsConfig carries per-object attributes applied on upload.
type ObjectAttrsConfig struct {
	CannedACL    string `yaml:"canned_acl"`
	StorageClass string `yaml:"storage_class"`
}

// RateLimitConfig configures the two token buckets of §4.10.
type RateLimitConfig struct {
	ObjectsPerSecond int64 `yaml:"rate_limit_objects"`
	BytesPerSecond   int64 `yaml:"rate_limit_bandwidth"`
}

// RetryConfig configures the syncer's fixed-interval retry policy.
type RetryConfig struct {
	ForceRetryCount            int           `yaml:"force_retry_count"`
	ForceRetryInterval         time.Duration `yaml:"force_retry_interval"`
}

// SafetyConfig holds severity/safety knobs.
type SafetyConfig struct {
	WarnAsError      bool `yaml:"warn_as_error"`
	ReportSyncStatus bool `yaml:"report_sync_status"`
	AllowLocalToLocal bool `yaml:"allow_local_to_local"`
}

// CircuitBreakerConfig wraps the source and target adapters in a breaker
// that fails fast once an endpoint starts erroring, instead of letting the
// worker pools keep hammering it. Disabled by default: a struggling
// endpoint's errors still flow through the normal retry/error-kind
// classification even with no breaker in front of it.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxRequests uint32        `yaml:"max_requests"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MonitoringConfig configures the ambient observability stack.
type MonitoringConfig struct {
	MetricsEnabled     bool   `yaml:"metrics_enabled"`
	MetricsNamespace   string `yaml:"metrics_namespace"`
	HealthCheckEnabled bool   `yaml:"health_check_enabled"`
	APIAddress         string `yaml:"api_address"`
	LogLevel           string `yaml:"log_level"`
}

// Default returns an engine configuration matching the spec's stated
// defaults and s3sync's historical behavior (mtime-based diff, tagging
// enabled, ETag verification enabled).
func Default() *Configuration {
	return &Configuration{
		Concurrency: ConcurrencyConfig{
			WorkerSize:                 8,
			MultipartUploadParallelism: 8,
			MaxKeys:                    1000,
			ChannelCapacity:            20000,
		},
		Transfer: TransferConfig{
			MultipartThreshold: 8 * 1024 * 1024,
			MultipartChunksize: 8 * 1024 * 1024,
		},
		Checksum: ChecksumConfig{
			Mode: ChecksumModeFullObject,
		},
		Diff: DiffConfig{
			Strategy: DiffStrategyMtime,
		},
		Tagging: TaggingConfig{},
		RateLimit: RateLimitConfig{},
		Retry: RetryConfig{
			ForceRetryCount:    5,
			ForceRetryInterval: 1 * time.Second,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:   true,
			MetricsNamespace: "s3sync",
			LogLevel:         "INFO",
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
		},
	}
}

// Validate rejects contradictory configuration before a pipeline run
// starts, the way the teacher's Configuration.Validate does for its own
// settings tree.
func (c *Configuration) Validate() error {
	if c.Concurrency.WorkerSize <= 0 {
		return fmt.Errorf("config: worker_size must be greater than 0")
	}
	if c.Concurrency.MultipartUploadParallelism <= 0 {
		return fmt.Errorf("config: multipart_upload_parallelism must be greater than 0")
	}
	if c.Concurrency.ChannelCapacity <= 0 {
		return fmt.Errorf("config: channel_capacity must be greater than 0")
	}
	if c.Transfer.MultipartThreshold <= 0 {
		return fmt.Errorf("config: multipart_threshold must be greater than 0")
	}
	if c.Transfer.MultipartChunksize <= 0 {
		return fmt.Errorf("config: multipart_chunksize must be greater than 0")
	}
	if c.Versioning.EnableVersioning && c.Versioning.PointInTime != nil {
		return fmt.Errorf("config: enable_versioning and point_in_time are mutually exclusive")
	}
	if c.Delete.MaxDelete < 0 {
		return fmt.Errorf("config: max_delete must not be negative")
	}
	if c.CircuitBreaker.Enabled && c.CircuitBreaker.Timeout <= 0 {
		return fmt.Errorf("config: circuit_breaker.timeout must be greater than 0 when enabled")
	}
	if err := validateChecksumAlgorithm(c.Checksum.Algorithm); err != nil {
		return err
	}
	if err := validateChecksumAlgorithm(c.Diff.CheckAdditionalChecksumAlgorithm); err != nil {
		return err
	}
	if err := validateChecksumAlgorithm(c.Diff.CheckMtimeAndAdditionalChecksumAlgo); err != nil {
		return err
	}
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if c.Monitoring.LogLevel != "" {
		ok := false
		for _, lvl := range validLevels {
			if strings.EqualFold(lvl, c.Monitoring.LogLevel) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("config: invalid log_level %q (must be one of: %s)", c.Monitoring.LogLevel, strings.Join(validLevels, ", "))
		}
	}
	return nil
}

func validateChecksumAlgorithm(alg ChecksumAlgorithm) error {
	switch alg {
	case ChecksumNone, ChecksumCRC32, ChecksumCRC32C, ChecksumCRC64NVME, ChecksumSHA1, ChecksumSHA256:
		return nil
	default:
		return fmt.Errorf("config: unknown checksum algorithm %q", alg)
	}
}

// LoadFromFile loads a Configuration from a YAML file, mirroring the
// teacher's Configuration.LoadFromFile.
func LoadFromFile(filename string) (*Configuration, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse config file: %w", err)
	}
	return cfg, nil
}
