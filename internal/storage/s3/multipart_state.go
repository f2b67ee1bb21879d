package s3

import (
	"sync"
	"time"
)

// UploadPart tracks one part of an in-progress multipart upload.
type UploadPart struct {
	PartNumber   int
	Size         int64
	ETag         string
	Completed    bool
	LastModified time.Time
	RetryCount   int
	Error        string
}

// MultipartUploadStatus is the lifecycle state of a multipart upload.
type MultipartUploadStatus string

const (
	UploadStatusInitiated  MultipartUploadStatus = "initiated"
	UploadStatusInProgress MultipartUploadStatus = "in_progress"
	UploadStatusCompleted  MultipartUploadStatus = "completed"
	UploadStatusFailed     MultipartUploadStatus = "failed"
	UploadStatusAborted    MultipartUploadStatus = "aborted"
)

func (s MultipartUploadStatus) IsTerminal() bool {
	return s == UploadStatusCompleted || s == UploadStatusFailed || s == UploadStatusAborted
}

// MultipartUploadState tracks the progress of one multipart upload, used
// for diagnostics while the upload is in progress during a long-running sync.
type MultipartUploadState struct {
	UploadID      string
	Bucket        string
	Key           string
	TotalSize     int64
	ChunkSize     int64
	Parts         map[int]*UploadPart
	StartedAt     time.Time
	LastUpdatedAt time.Time
	CompletedParts int
	TotalParts     int
	BytesUploaded  int64
	Status         MultipartUploadStatus

	mu sync.Mutex
}

// NewMultipartUploadState creates a tracker for a freshly created multipart
// upload. TotalParts is filled in lazily as parts are marked complete since
// the caller may be using an explicit, uneven part layout.
func NewMultipartUploadState(uploadID, bucket, key string, totalSize, chunkSize int64) *MultipartUploadState {
	return &MultipartUploadState{
		UploadID:      uploadID,
		Bucket:        bucket,
		Key:           key,
		TotalSize:     totalSize,
		ChunkSize:     chunkSize,
		Parts:         make(map[int]*UploadPart),
		StartedAt:     time.Now(),
		LastUpdatedAt: time.Now(),
		Status:        UploadStatusInitiated,
	}
}

// MarkPartCompleted records a successfully uploaded part.
func (s *MultipartUploadState) MarkPartCompleted(partNumber int, size int64, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, exists := s.Parts[partNumber]
	if !exists {
		part = &UploadPart{PartNumber: partNumber}
		s.Parts[partNumber] = part
		s.TotalParts++
	}
	part.Size = size
	part.ETag = etag
	part.Completed = true
	part.LastModified = time.Now()
	part.Error = ""

	s.CompletedParts++
	s.BytesUploaded += size
	s.LastUpdatedAt = time.Now()
	s.Status = UploadStatusInProgress
}

// MarkPartFailed records a failed part attempt without removing it from
// tracking — the caller decides whether to retry or abort the whole upload.
func (s *MultipartUploadState) MarkPartFailed(partNumber int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, exists := s.Parts[partNumber]
	if !exists {
		part = &UploadPart{PartNumber: partNumber}
		s.Parts[partNumber] = part
	}
	part.Completed = false
	part.RetryCount++
	part.LastModified = time.Now()
	if err != nil {
		part.Error = err.Error()
	}
	s.LastUpdatedAt = time.Now()
}

// MarkCompleted transitions the tracker to its terminal success state.
func (s *MultipartUploadState) MarkCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = UploadStatusCompleted
	s.LastUpdatedAt = time.Now()
}

// Progress returns completion as a percentage of the parts seen so far.
func (s *MultipartUploadState) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TotalParts == 0 {
		return 0
	}
	return (float64(s.CompletedParts) / float64(s.TotalParts)) * 100
}
