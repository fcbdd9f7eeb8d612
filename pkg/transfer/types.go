// Package transfer provides chunked file transfer with resume support.
package transfer

import (
	"sync"
	"time"

	"github.com/capydeploy/capydeploy/pkg/protocol"
)

// DefaultChunkSize is the default size for file chunks (1MB).
const DefaultChunkSize = 1024 * 1024

// progressEmitMinDelta and progressEmitMinInterval gate upload_progress
// events so a chunk stream doesn't flood the Hub with one event per chunk.
// The chunk ACK is unaffected by this gate — it is always sent.
const (
	progressEmitMinDelta    = 2.0
	progressEmitMinInterval = 500 * time.Millisecond
)

// Chunk represents a single chunk of data in a transfer.
type Chunk struct {
	Offset   int64  `json:"offset"`
	Size     int    `json:"size"`
	Data     []byte `json:"data,omitempty"`
	FilePath string `json:"filePath"`
	Checksum string `json:"checksum,omitempty"`
}

// FileEntry represents a file in the upload.
type FileEntry struct {
	RelativePath string `json:"relativePath"`
	Size         int64  `json:"size"`
}

// UploadSession tracks an active upload operation.
type UploadSession struct {
	mu sync.RWMutex

	ID               string                `json:"id"`
	Config           protocol.UploadConfig `json:"config"`
	Status           protocol.UploadStatus `json:"status"`
	TotalBytes       int64                 `json:"totalBytes"`
	TransferredBytes int64                 `json:"transferredBytes"`
	Files            []FileEntry           `json:"files"`
	CurrentFile      string                `json:"currentFile,omitempty"`
	StartedAt        time.Time             `json:"startedAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
	CompletedAt      *time.Time            `json:"completedAt,omitempty"`
	Error            string                `json:"error,omitempty"`
	ChunkOffsets     map[string]int64      `json:"chunkOffsets"` // file -> last confirmed offset

	lastEmitPct float64
	lastEmitAt  time.Time
	everEmitted bool
}

// NewUploadSession creates a new upload session.
func NewUploadSession(id string, config protocol.UploadConfig, totalBytes int64, files []FileEntry) *UploadSession {
	now := time.Now()
	return &UploadSession{
		ID:           id,
		Config:       config,
		Status:       protocol.UploadStatusPending,
		TotalBytes:   totalBytes,
		Files:        files,
		StartedAt:    now,
		UpdatedAt:    now,
		ChunkOffsets: make(map[string]int64),
	}
}

// Start marks the session as in progress.
func (s *UploadSession) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = protocol.UploadStatusInProgress
	s.UpdatedAt = time.Now()
}

// AddProgress adds bytes to the transferred count and records which file
// the chunk belonged to, so Progress() reports the file actually in
// flight rather than a positional guess.
func (s *UploadSession) AddProgress(bytes int64, filePath string, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TransferredBytes += bytes
	s.ChunkOffsets[filePath] = offset + bytes
	s.CurrentFile = filePath
	s.UpdatedAt = time.Now()
}

// Complete marks the session as completed.
func (s *UploadSession) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = protocol.UploadStatusCompleted
	now := time.Now()
	s.CompletedAt = &now
	s.UpdatedAt = now
}

// Fail marks the session as failed with an error.
func (s *UploadSession) Fail(err string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = protocol.UploadStatusFailed
	s.Error = err
	s.UpdatedAt = time.Now()
}

// Cancel marks the session as cancelled.
func (s *UploadSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = protocol.UploadStatusCancelled
	s.UpdatedAt = time.Now()
}

// Progress returns the current progress.
func (s *UploadSession) Progress() protocol.UploadProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return protocol.UploadProgress{
		UploadID:         s.ID,
		Status:           s.Status,
		TotalBytes:       s.TotalBytes,
		TransferredBytes: s.TransferredBytes,
		CurrentFile:      s.CurrentFile,
		StartedAt:        s.StartedAt,
		UpdatedAt:        s.UpdatedAt,
		Error:            s.Error,
	}
}

// GetResumeOffset returns the offset to resume from for a file.
func (s *UploadSession) GetResumeOffset(filePath string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ChunkOffsets[filePath]
}

// IsActive returns true if the session is still active.
func (s *UploadSession) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status == protocol.UploadStatusPending || s.Status == protocol.UploadStatusInProgress
}

// ShouldEmitProgress reports whether an upload_progress event should be
// sent for the given percentage right now, and if so records it as the
// last-emitted point. The chunk ACK is sent unconditionally by the caller
// regardless of this gate; only the push event is throttled, to
// `pct>=100 || |delta pct|>=2.0 || elapsed>=500ms` since the last emit.
func (s *UploadSession) ShouldEmitProgress(pct float64, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	emit := !s.everEmitted ||
		pct >= 100 ||
		pct-s.lastEmitPct >= progressEmitMinDelta ||
		s.lastEmitPct-pct >= progressEmitMinDelta ||
		now.Sub(s.lastEmitAt) >= progressEmitMinInterval

	if emit {
		s.everEmitted = true
		s.lastEmitPct = pct
		s.lastEmitAt = now
	}
	return emit
}
