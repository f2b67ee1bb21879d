// Package s3 implements the S3-compatible half of the storage adapter
// (§4.1): list/head/get/put/delete/tagging against an S3 bucket, with the
// multipart upload protocol of §4.9 and CargoShip-accelerated transfer for
// large bodies.
package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	cargoconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/s3sync-go/engine/internal/engineerr"
	"github.com/s3sync-go/engine/internal/storage"
)

// Config configures a Backend's connection to one bucket.
type Config struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool
	UseAccelerate  bool
	UseDualStack   bool
	MaxRetries     int
	PoolSize       int

	// EnableCargoShipOptimization routes large uploads through CargoShip's
	// throughput-optimized transporter instead of a plain PutObject.
	EnableCargoShipOptimization bool
	CargoShipThreshold          int64
}

func (c *Config) withDefaults() *Config {
	if c == nil {
		c = &Config{}
	}
	cp := *c
	if cp.MaxRetries <= 0 {
		cp.MaxRetries = 3
	}
	if cp.PoolSize <= 0 {
		cp.PoolSize = 8
	}
	if cp.CargoShipThreshold <= 0 {
		cp.CargoShipThreshold = 32 * 1024 * 1024
	}
	return &cp
}

// Backend implements storage.Adapter against one S3 bucket/prefix pair.
type Backend struct {
	client      *s3.Client
	bucket      string
	prefix      string
	pool        *ConnectionPool
	config      *Config
	transporter *cargoships3.Transporter
	logger      *slog.Logger

	mu      sync.Mutex
	pending map[string]*MultipartUploadState
}

// NewBackend constructs a Backend for bucket/prefix using the default AWS
// credential chain.
func NewBackend(ctx context.Context, bucket, prefix string, cfg *Config) (*Backend, error) {
	if bucket == "" {
		return nil, engineerr.New(engineerr.KindOther, "NewBackend", "", "bucket name cannot be empty")
	}
	cfg = cfg.withDefaults()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(cfg.MaxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.UseAccelerate {
			o.UseAccelerate = true
		}
		if cfg.UseDualStack {
			o.UseDualstack = true
		}
	})

	pool, err := NewConnectionPool(cfg.PoolSize, func() (*s3.Client, error) {
		return s3.NewFromConfig(awsCfg), nil
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create connection pool: %w", err)
	}

	logger := slog.Default().With("component", "storage-s3", "bucket", bucket)

	var transporter *cargoships3.Transporter
	if cfg.EnableCargoShipOptimization {
		cargoCfg := cargoconfig.S3Config{
			Bucket:             bucket,
			StorageClass:       cargoconfig.StorageClassStandard,
			MultipartThreshold: cfg.CargoShipThreshold,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        cfg.PoolSize,
		}
		transporter = cargoships3.NewTransporter(client, cargoCfg)
		logger.Info("cargoship acceleration enabled", "threshold", cfg.CargoShipThreshold)
	}

	return &Backend{
		client:      client,
		bucket:      bucket,
		prefix:      prefix,
		pool:        pool,
		config:      cfg,
		transporter: transporter,
		logger:      logger,
		pending:     make(map[string]*MultipartUploadState),
	}, nil
}

func (b *Backend) fullKey(key string) string {
	return b.prefix + key
}

// ListObjects paginates ListObjectsV2 under the backend's prefix, stripping
// the prefix from every emitted key. A key identical to the prefix itself is
// skipped (it represents the "directory marker" object, not real content).
func (b *Backend) ListObjects(ctx context.Context, opts storage.ListOptions, out chan<- storage.ObjectDescriptor) error {
	defer close(out)

	client := b.pool.Get()
	defer b.pool.Put(client)

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	var token *string
	for {
		input := &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(b.prefix),
			MaxKeys:           aws.Int32(maxKeys),
			ContinuationToken: token,
		}
		result, err := client.ListObjectsV2(ctx, input)
		if err != nil {
			return b.translateError(err, "ListObjects", b.prefix)
		}
		for _, obj := range result.Contents {
			key := aws.ToString(obj.Key)
			if key == b.prefix {
				continue
			}
			desc := storage.ObjectDescriptor{
				Key:          strippedKey(key, b.prefix),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
				IsLatest:     true,
			}
			select {
			case out <- desc:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !aws.ToBool(result.IsTruncated) {
			return nil
		}
		token = result.NextContinuationToken
	}
}

func strippedKey(key, prefix string) string {
	if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}

// ListObjectVersions paginates ListObjectVersions, buffering per key until
// every page touching that key has been seen, then sorts oldest-first (the
// current-latest version floats to the end) before sending downstream.
func (b *Backend) ListObjectVersions(ctx context.Context, opts storage.ListOptions, out chan<- storage.ObjectDescriptor) error {
	defer close(out)

	client := b.pool.Get()
	defer b.pool.Put(client)

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	buffers := make(map[string][]storage.ObjectDescriptor)
	order := make([]string, 0)

	flush := func(key string) error {
		versions := buffers[key]
		delete(buffers, key)
		sortVersionsOldestFirst(versions)
		for _, v := range versions {
			select {
			case out <- v:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	var keyMarker, versionIDMarker *string
	for {
		input := &s3.ListObjectVersionsInput{
			Bucket:          aws.String(b.bucket),
			Prefix:          aws.String(b.prefix),
			MaxKeys:         aws.Int32(maxKeys),
			KeyMarker:       keyMarker,
			VersionIdMarker: versionIDMarker,
		}
		result, err := client.ListObjectVersions(ctx, input)
		if err != nil {
			return b.translateError(err, "ListObjectVersions", b.prefix)
		}

		for _, v := range result.Versions {
			key := strippedKey(aws.ToString(v.Key), b.prefix)
			if key == "" {
				continue
			}
			if _, seen := buffers[key]; !seen {
				order = append(order, key)
			}
			buffers[key] = append(buffers[key], storage.ObjectDescriptor{
				Key:          key,
				Size:         aws.ToInt64(v.Size),
				LastModified: aws.ToTime(v.LastModified),
				ETag:         aws.ToString(v.ETag),
				VersionID:    aws.ToString(v.VersionId),
				IsLatest:     aws.ToBool(v.IsLatest),
			})
		}
		for _, dm := range result.DeleteMarkers {
			key := strippedKey(aws.ToString(dm.Key), b.prefix)
			if key == "" {
				continue
			}
			if _, seen := buffers[key]; !seen {
				order = append(order, key)
			}
			buffers[key] = append(buffers[key], storage.ObjectDescriptor{
				Key:            key,
				LastModified:   aws.ToTime(dm.LastModified),
				VersionID:      aws.ToString(dm.VersionId),
				IsLatest:       aws.ToBool(dm.IsLatest),
				IsDeleteMarker: true,
			})
		}

		if !aws.ToBool(result.IsTruncated) {
			break
		}
		keyMarker = result.NextKeyMarker
		versionIDMarker = result.NextVersionIdMarker
	}

	// Every key's buffer is complete only once pagination has finished, since
	// S3 does not guarantee all versions of a key land on one page.
	for _, key := range order {
		if err := flush(key); err != nil {
			return err
		}
	}
	return nil
}

// ListObjectVersionsForKey returns every version of exactly one key,
// oldest-first, for the versioning collector (§4.6) to build its
// origin-version map from.
func (b *Backend) ListObjectVersionsForKey(ctx context.Context, key string) ([]storage.ObjectDescriptor, error) {
	client := b.pool.Get()
	defer b.pool.Put(client)

	fullKey := b.fullKey(key)
	var versions []storage.ObjectDescriptor
	var keyMarker, versionIDMarker *string
	for {
		input := &s3.ListObjectVersionsInput{
			Bucket:          aws.String(b.bucket),
			Prefix:          aws.String(fullKey),
			MaxKeys:         aws.Int32(1000),
			KeyMarker:       keyMarker,
			VersionIdMarker: versionIDMarker,
		}
		result, err := client.ListObjectVersions(ctx, input)
		if err != nil {
			return nil, b.translateError(err, "ListObjectVersions", fullKey)
		}
		for _, v := range result.Versions {
			if aws.ToString(v.Key) != fullKey {
				continue
			}
			versions = append(versions, storage.ObjectDescriptor{
				Key:          key,
				Size:         aws.ToInt64(v.Size),
				LastModified: aws.ToTime(v.LastModified),
				ETag:         aws.ToString(v.ETag),
				VersionID:    aws.ToString(v.VersionId),
				IsLatest:     aws.ToBool(v.IsLatest),
			})
		}
		for _, dm := range result.DeleteMarkers {
			if aws.ToString(dm.Key) != fullKey {
				continue
			}
			versions = append(versions, storage.ObjectDescriptor{
				Key:            key,
				LastModified:   aws.ToTime(dm.LastModified),
				VersionID:      aws.ToString(dm.VersionId),
				IsLatest:       aws.ToBool(dm.IsLatest),
				IsDeleteMarker: true,
			})
		}
		if !aws.ToBool(result.IsTruncated) {
			break
		}
		keyMarker = result.NextKeyMarker
		versionIDMarker = result.NextVersionIdMarker
	}
	sortVersionsOldestFirst(versions)
	return versions, nil
}

func sortVersionsOldestFirst(versions []storage.ObjectDescriptor) {
	sort.SliceStable(versions, func(i, j int) bool {
		if versions[i].IsLatest != versions[j].IsLatest {
			return !versions[i].IsLatest // latest floats to the end
		}
		return versions[i].LastModified.Before(versions[j].LastModified)
	})
}

// HeadObject retrieves object metadata via HeadObject.
func (b *Backend) HeadObject(ctx context.Context, key string, opts storage.HeadOptions) (*storage.ObjectMetadata, error) {
	client := b.pool.Get()
	defer b.pool.Put(client)

	input := &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.fullKey(key)),
	}
	if opts.VersionID != "" {
		input.VersionId = aws.String(opts.VersionID)
	}
	applySSEC(input, opts.SourceSSE)

	result, err := client.HeadObject(ctx, input)
	if err != nil {
		return nil, b.translateError(err, "HeadObject", key)
	}

	md := &storage.ObjectMetadata{
		Size:         aws.ToInt64(result.ContentLength),
		LastModified: aws.ToTime(result.LastModified),
		ETag:         aws.ToString(result.ETag),
		TagCount:     int(aws.ToInt32(result.TagCount)),
		Metadata:     result.Metadata,
		ContentType:  aws.ToString(result.ContentType),
	}
	if result.ServerSideEncryption != "" {
		md.SSEAlgorithm = string(result.ServerSideEncryption)
	}
	return md, nil
}

// GetObject retrieves the object body, optionally within a byte range.
func (b *Backend) GetObject(ctx context.Context, key string, opts storage.GetOptions) (*storage.GetObjectOutput, error) {
	client := b.pool.Get()
	defer b.pool.Put(client)

	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.fullKey(key)),
	}
	if opts.VersionID != "" {
		input.VersionId = aws.String(opts.VersionID)
	}
	if opts.HasRange {
		if opts.RangeEnd > 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", opts.RangeStart, opts.RangeEnd))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", opts.RangeStart))
		}
	}
	applySSEC(input, opts.SourceSSE)

	result, err := client.GetObject(ctx, input)
	if err != nil {
		return nil, b.translateError(err, "GetObject", key)
	}

	return &storage.GetObjectOutput{
		Body:         result.Body,
		Size:         aws.ToInt64(result.ContentLength),
		ContentRange: aws.ToString(result.ContentRange),
		ETag:         aws.ToString(result.ETag),
		LastModified: aws.ToTime(result.LastModified),
		Metadata:     result.Metadata,
	}, nil
}

// GetObjectParts discovers per-part sizes by issuing HEAD with partNumber
// 1..N until a part number beyond the object's part count fails.
func (b *Backend) GetObjectParts(ctx context.Context, key string, opts storage.GetOptions) ([]storage.PartInfo, error) {
	client := b.pool.Get()
	defer b.pool.Put(client)

	var parts []storage.PartInfo
	for partNumber := int32(1); ; partNumber++ {
		input := &s3.HeadObjectInput{
			Bucket:     aws.String(b.bucket),
			Key:        aws.String(b.fullKey(key)),
			PartNumber: aws.Int32(partNumber),
		}
		if opts.VersionID != "" {
			input.VersionId = aws.String(opts.VersionID)
		}
		result, err := client.HeadObject(ctx, input)
		if err != nil {
			if partNumber == 1 {
				return nil, b.translateError(err, "GetObjectParts", key)
			}
			break
		}
		if aws.ToInt32(result.PartsCount) <= 1 {
			return nil, nil
		}
		parts = append(parts, storage.PartInfo{PartNumber: int(partNumber), Size: aws.ToInt64(result.ContentLength)})
		if partNumber >= aws.ToInt32(result.PartsCount) {
			break
		}
	}
	return parts, nil
}

// GetObjectPartsAttributes uses GetObjectAttributes to discover part
// layout in a single round trip. Returns an empty slice when the object
// uses a full-object (not composite) checksum.
func (b *Backend) GetObjectPartsAttributes(ctx context.Context, key string, opts storage.GetOptions) ([]storage.PartInfo, error) {
	client := b.pool.Get()
	defer b.pool.Put(client)

	input := &s3.GetObjectAttributesInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.fullKey(key)),
		ObjectAttributes: []s3types.ObjectAttributes{
			s3types.ObjectAttributesObjectParts,
		},
	}
	if opts.VersionID != "" {
		input.VersionId = aws.String(opts.VersionID)
	}

	result, err := client.GetObjectAttributes(ctx, input)
	if err != nil {
		return nil, b.translateError(err, "GetObjectPartsAttributes", key)
	}
	if result.ObjectParts == nil {
		return nil, nil
	}

	parts := make([]storage.PartInfo, 0, len(result.ObjectParts.Parts))
	for _, p := range result.ObjectParts.Parts {
		parts = append(parts, storage.PartInfo{
			PartNumber: int(aws.ToInt32(p.PartNumber)),
			Size:       aws.ToInt64(p.Size),
		})
	}
	return parts, nil
}

// DeleteObject removes an object, optionally a specific version, optionally
// gated by an If-Match precondition.
func (b *Backend) DeleteObject(ctx context.Context, key string, opts storage.DeleteOptions) error {
	client := b.pool.Get()
	defer b.pool.Put(client)

	input := &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.fullKey(key)),
	}
	if opts.VersionID != "" {
		input.VersionId = aws.String(opts.VersionID)
	}
	if opts.IfMatch != "" {
		input.IfMatch = aws.String(opts.IfMatch)
	}

	_, err := client.DeleteObject(ctx, input)
	if err != nil {
		return b.translateError(err, "DeleteObject", key)
	}
	return nil
}

func (b *Backend) GetObjectTagging(ctx context.Context, key, versionID string) (map[string]string, error) {
	client := b.pool.Get()
	defer b.pool.Put(client)

	input := &s3.GetObjectTaggingInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.fullKey(key)),
	}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}
	result, err := client.GetObjectTagging(ctx, input)
	if err != nil {
		return nil, b.translateError(err, "GetObjectTagging", key)
	}
	tags := make(map[string]string, len(result.TagSet))
	for _, t := range result.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}

func (b *Backend) PutObjectTagging(ctx context.Context, key, versionID string, tags map[string]string) error {
	client := b.pool.Get()
	defer b.pool.Put(client)

	tagSet := make([]s3types.Tag, 0, len(tags))
	for k, v := range tags {
		tagSet = append(tagSet, s3types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	input := &s3.PutObjectTaggingInput{
		Bucket:  aws.String(b.bucket),
		Key:     aws.String(b.fullKey(key)),
		Tagging: &s3types.Tagging{TagSet: tagSet},
	}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}
	_, err := client.PutObjectTagging(ctx, input)
	if err != nil {
		return b.translateError(err, "PutObjectTagging", key)
	}
	return nil
}

func (b *Backend) DeleteObjectTagging(ctx context.Context, key, versionID string) error {
	client := b.pool.Get()
	defer b.pool.Put(client)

	input := &s3.DeleteObjectTaggingInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.fullKey(key)),
	}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}
	_, err := client.DeleteObjectTagging(ctx, input)
	if err != nil {
		return b.translateError(err, "DeleteObjectTagging", key)
	}
	return nil
}

func (b *Backend) IsVersioningEnabled(ctx context.Context) (bool, error) {
	client := b.pool.Get()
	defer b.pool.Put(client)

	result, err := client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return false, b.translateError(err, "IsVersioningEnabled", "")
	}
	return result.Status == s3types.BucketVersioningStatusEnabled, nil
}

func (b *Backend) Close() error {
	return b.pool.Close()
}

// PutObject dispatches to single-part or multipart upload per §4.9,
// depending on input.Size against input.MultipartThreshold and whether the
// caller supplied an explicit part layout to mirror.
func (b *Backend) PutObject(ctx context.Context, key string, input storage.PutObjectInput) (*storage.PutObjectResult, error) {
	if len(input.SourceParts) == 0 && input.Size < input.MultipartThreshold {
		return b.putSinglePart(ctx, key, input)
	}
	return b.putMultipart(ctx, key, input)
}

func (b *Backend) putSinglePart(ctx context.Context, key string, input storage.PutObjectInput) (*storage.PutObjectResult, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: read source body for %s: %w", key, err)
	}
	sum := md5.Sum(body)
	expectedETag := fmt.Sprintf("%x", sum)

	s3Input := &s3.PutObjectInput{
		Bucket:             aws.String(b.bucket),
		Key:                aws.String(b.fullKey(key)),
		Body:               bytes.NewReader(body),
		ContentLength:      aws.Int64(int64(len(body))),
		Metadata:           input.Metadata,
		ContentType:        orNil(input.ContentType),
		ContentEncoding:    orNil(input.ContentEncoding),
		ContentLanguage:    orNil(input.ContentLanguage),
		ContentDisposition: orNil(input.ContentDisposition),
		CacheControl:       orNil(input.CacheControl),
		Tagging:            orNil(input.Tagging),
	}
	if input.CannedACL != "" {
		s3Input.ACL = s3types.ObjectCannedACL(input.CannedACL)
	}
	if input.StorageClass != "" {
		s3Input.StorageClass = s3types.StorageClass(input.StorageClass)
	}
	if input.Expires != nil {
		s3Input.Expires = input.Expires
	}
	applyTargetSSE(s3Input, input.TargetSSE)

	var uploadErr error
	if b.transporter != nil && int64(len(body)) >= b.config.CargoShipThreshold {
		archive := cargoships3.Archive{
			Key:          key,
			Reader:       bytes.NewReader(body),
			Size:         int64(len(body)),
			StorageClass: cargoconfig.StorageClassStandard,
			Metadata:     input.Metadata,
		}
		if _, uploadErr = b.transporter.Upload(ctx, archive); uploadErr == nil {
			return &storage.PutObjectResult{ETag: expectedETag}, nil
		}
		b.logger.Warn("cargoship upload failed, falling back to plain PutObject", "key", key, "error", uploadErr)
	}

	client := b.pool.Get()
	defer b.pool.Put(client)

	result, err := client.PutObject(ctx, s3Input)
	if err != nil {
		return nil, b.translateError(err, "PutObject", key)
	}
	return &storage.PutObjectResult{ETag: aws.ToString(result.ETag)}, nil
}

func (b *Backend) putMultipart(ctx context.Context, key string, input storage.PutObjectInput) (*storage.PutObjectResult, error) {
	client := b.pool.Get()
	defer b.pool.Put(client)

	createInput := &s3.CreateMultipartUploadInput{
		Bucket:             aws.String(b.bucket),
		Key:                aws.String(b.fullKey(key)),
		Metadata:           input.Metadata,
		ContentType:        orNil(input.ContentType),
		ContentEncoding:    orNil(input.ContentEncoding),
		ContentLanguage:    orNil(input.ContentLanguage),
		ContentDisposition: orNil(input.ContentDisposition),
		CacheControl:       orNil(input.CacheControl),
		Tagging:            orNil(input.Tagging),
	}
	if input.CannedACL != "" {
		createInput.ACL = s3types.ObjectCannedACL(input.CannedACL)
	}
	if input.StorageClass != "" {
		createInput.StorageClass = s3types.StorageClass(input.StorageClass)
	}
	applyTargetSSECreate(createInput, input.TargetSSE)

	created, err := client.CreateMultipartUpload(ctx, createInput)
	if err != nil {
		return nil, b.translateError(err, "CreateMultipartUpload", key)
	}
	uploadID := aws.ToString(created.UploadId)

	parts := partLayout(input)
	state := NewMultipartUploadState(uploadID, b.bucket, b.fullKey(key), input.Size, input.MultipartChunksize)
	b.trackUpload(uploadID, state)
	defer b.untrackUpload(uploadID)

	parallelism := input.PartParallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	type partResult struct {
		part    s3types.CompletedPart
		md5sum  [16]byte
		err     error
	}
	resultsCh := make(chan partResult, len(parts))
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup

	var offset int64
	for _, p := range parts {
		buf := make([]byte, p.Size)
		if _, err := io.ReadFull(input.Body, buf); err != nil {
			b.abortMultipart(ctx, key, uploadID)
			return nil, fmt.Errorf("s3: read part %d of %s: %w", p.PartNumber, key, err)
		}
		offset += p.Size

		wg.Add(1)
		sem <- struct{}{}
		go func(p storage.PartInfo, data []byte) {
			defer wg.Done()
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				resultsCh <- partResult{err: ctx.Err()}
				return
			default:
			}

			sum := md5.Sum(data)
			uploadInput := &s3.UploadPartInput{
				Bucket:     aws.String(b.bucket),
				Key:        aws.String(b.fullKey(key)),
				UploadId:   aws.String(uploadID),
				PartNumber: aws.Int32(int32(p.PartNumber)),
				Body:       bytes.NewReader(data),
				ContentMD5: aws.String(base64Sum(sum)),
			}
			uploadResult, uploadErr := client.UploadPart(ctx, uploadInput)
			if uploadErr != nil {
				state.MarkPartFailed(p.PartNumber, uploadErr)
				resultsCh <- partResult{err: b.translateError(uploadErr, "UploadPart", key)}
				return
			}
			state.MarkPartCompleted(p.PartNumber, p.Size, aws.ToString(uploadResult.ETag))
			resultsCh <- partResult{
				part: s3types.CompletedPart{
					PartNumber: aws.Int32(int32(p.PartNumber)),
					ETag:       uploadResult.ETag,
				},
				md5sum: sum,
			}
		}(p, buf)
	}

	wg.Wait()
	close(resultsCh)

	var completed []s3types.CompletedPart
	var firstErr error
	for res := range resultsCh {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		completed = append(completed, res.part)
	}
	if firstErr != nil {
		b.abortMultipart(ctx, key, uploadID)
		return nil, firstErr
	}

	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})

	completeResult, err := client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(b.fullKey(key)),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		b.abortMultipart(ctx, key, uploadID)
		return nil, b.translateError(err, "CompleteMultipartUpload", key)
	}
	state.MarkCompleted()

	return &storage.PutObjectResult{
		ETag:      aws.ToString(completeResult.ETag),
		PartCount: len(completed),
	}, nil
}

func (b *Backend) abortMultipart(ctx context.Context, key, uploadID string) {
	client := b.pool.Get()
	defer b.pool.Put(client)
	_, _ = client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(b.fullKey(key)),
		UploadId: aws.String(uploadID),
	})
}

func (b *Backend) trackUpload(uploadID string, state *MultipartUploadState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[uploadID] = state
}

func (b *Backend) untrackUpload(uploadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, uploadID)
}

// partLayout computes the part boundaries: SourceParts when supplied
// (auto-chunksize, mirroring the source's geometry exactly), otherwise even
// MultipartChunksize-sized chunks.
func partLayout(input storage.PutObjectInput) []storage.PartInfo {
	if len(input.SourceParts) > 0 {
		return input.SourceParts
	}
	chunkSize := input.MultipartChunksize
	if chunkSize <= 0 {
		chunkSize = 8 * 1024 * 1024
	}
	var parts []storage.PartInfo
	remaining := input.Size
	n := 1
	for remaining > 0 {
		size := chunkSize
		if remaining < size {
			size = remaining
		}
		parts = append(parts, storage.PartInfo{PartNumber: n, Size: size})
		remaining -= size
		n++
	}
	return parts
}

func base64Sum(sum [16]byte) string {
	const table = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	return base64Encode(sum[:], table)
}

func base64Encode(data []byte, table string) string {
	var out []byte
	for i := 0; i < len(data); i += 3 {
		var b [3]byte
		n := copy(b[:], data[i:])
		out = append(out,
			table[b[0]>>2],
			table[(b[0]&0x03)<<4|b[1]>>4],
		)
		if n > 1 {
			out = append(out, table[(b[1]&0x0f)<<2|b[2]>>6])
		} else {
			out = append(out, '=')
		}
		if n > 2 {
			out = append(out, table[b[2]&0x3f])
		} else {
			out = append(out, '=')
		}
	}
	return string(out)
}

func orNil(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func applySSEC(input *s3.GetObjectInput, sse storage.SSEConfig) {
	if sse.CustomerKey == "" {
		return
	}
	input.SSECustomerAlgorithm = aws.String("AES256")
	input.SSECustomerKey = aws.String(sse.CustomerKey)
	input.SSECustomerKeyMD5 = aws.String(sse.CustomerMD5)
}

func applyTargetSSE(input *s3.PutObjectInput, sse storage.SSEConfig) {
	if sse.CustomerKey != "" {
		input.SSECustomerAlgorithm = aws.String("AES256")
		input.SSECustomerKey = aws.String(sse.CustomerKey)
		input.SSECustomerKeyMD5 = aws.String(sse.CustomerMD5)
		return
	}
	if sse.Algorithm != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryption(sse.Algorithm)
		if sse.KMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(sse.KMSKeyID)
		}
	}
}

func applyTargetSSECreate(input *s3.CreateMultipartUploadInput, sse storage.SSEConfig) {
	if sse.CustomerKey != "" {
		input.SSECustomerAlgorithm = aws.String("AES256")
		input.SSECustomerKey = aws.String(sse.CustomerKey)
		input.SSECustomerKeyMD5 = aws.String(sse.CustomerMD5)
		return
	}
	if sse.Algorithm != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryption(sse.Algorithm)
		if sse.KMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(sse.KMSKeyID)
		}
	}
}

func (b *Backend) translateError(err error, op, key string) error {
	var nsk *s3types.NoSuchKey
	var nsb *s3types.NoSuchBucket
	switch {
	case errors.As(err, &nsk):
		return engineerr.Wrap(engineerr.KindNotFound, op, key, err)
	case errors.As(err, &nsb):
		return engineerr.Wrap(engineerr.KindNotFound, op, key, err)
	}

	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return engineerr.Wrap(engineerr.KindNotFound, op, key, err)
		case "AccessDenied", "Forbidden":
			return engineerr.Wrap(engineerr.KindAccessDenied, op, key, err)
		case "PreconditionFailed":
			return engineerr.Wrap(engineerr.KindPreconditionFailed, op, key, err)
		case "RequestTimeout", "SlowDown", "InternalError", "ServiceUnavailable":
			return engineerr.Wrap(engineerr.KindForceRetryable, op, key, err)
		}
	}

	var opErr interface{ Unwrap() error }
	if errors.As(err, &opErr) {
		// Network/dispatch-layer failures (no API error code reached the
		// service) are the "force-retryable" bucket per §4.7: anything
		// that isn't a construction failure or a service error.
		return engineerr.Wrap(engineerr.KindForceRetryable, op, key, err)
	}

	return engineerr.Wrap(engineerr.KindOther, op, key, err)
}

var _ storage.Adapter = (*Backend)(nil)
