package telemetry

import (
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogRotationConfig controls when a long-running daemonized sync rotates
// its log file.
type LogRotationConfig struct {
	Filename   string
	MaxSizeMB  int64
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// RotatingFile is an io.WriteCloser that rotates the underlying file by
// size or age, renaming the old one with a timestamp and optionally
// gzipping it. slog.NewJSONHandler writes straight through it via
// NewRotatingLogger, so a daemonized sync gets structured logging without
// an unbounded log file.
type RotatingFile struct {
	mu sync.Mutex

	cfg      LogRotationConfig
	file     *os.File
	size     int64
	openedAt time.Time
}

// NewRotatingFile opens (creating if necessary) the configured log file.
func NewRotatingFile(cfg LogRotationConfig) (*RotatingFile, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("telemetry: log rotation filename is required")
	}
	rf := &RotatingFile{cfg: cfg}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

// NewRotatingLogger builds a leveled slog.Logger that writes JSON lines
// through a RotatingFile, returning the logger and the file so callers can
// Close it on shutdown.
func NewRotatingLogger(cfg LogRotationConfig, level slog.Level) (*slog.Logger, *RotatingFile, error) {
	rf, err := NewRotatingFile(cfg)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewJSONHandler(rf, &slog.HandlerOptions{Level: level})
	return slog.New(handler), rf, nil
}

func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.needsRotation(int64(len(p))) {
		if err := rf.rotate(); err != nil {
			return 0, fmt.Errorf("telemetry: log rotation failed: %w", err)
		}
	}
	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// Close closes the current file handle.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}

// Rotate forces an out-of-band rotation, e.g. on SIGHUP.
func (rf *RotatingFile) Rotate() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.rotate()
}

func (rf *RotatingFile) needsRotation(nextWrite int64) bool {
	if rf.cfg.MaxSizeMB > 0 && rf.size+nextWrite >= rf.cfg.MaxSizeMB*1024*1024 {
		return true
	}
	if rf.cfg.MaxAgeDays > 0 && time.Since(rf.openedAt) >= time.Duration(rf.cfg.MaxAgeDays)*24*time.Hour {
		return true
	}
	return false
}

func (rf *RotatingFile) rotate() error {
	if rf.file != nil {
		if err := rf.file.Close(); err != nil {
			return fmt.Errorf("closing current log file: %w", err)
		}
		rf.file = nil
	}

	backup := rf.backupName(time.Now().UTC())
	if err := os.Rename(rf.cfg.Filename, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("renaming log file: %w", err)
	}
	if rf.cfg.Compress {
		if err := compressAndRemove(backup); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry: compressing rotated log %s: %v\n", backup, err)
		}
	}
	if err := rf.pruneBackups(); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: pruning rotated logs: %v\n", err)
	}
	return rf.open()
}

func (rf *RotatingFile) open() error {
	dir := filepath.Dir(rf.cfg.Filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	file, err := os.OpenFile(rf.cfg.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("statting log file: %w", err)
	}
	rf.file = file
	rf.size = info.Size()
	rf.openedAt = time.Now()
	return nil
}

func (rf *RotatingFile) backupName(timestamp time.Time) string {
	dir := filepath.Dir(rf.cfg.Filename)
	base := filepath.Base(rf.cfg.Filename)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, timestamp.Format("2006-01-02T15-04-05"), ext))
}

func compressAndRemove(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}
	defer dst.Close()

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}

func (rf *RotatingFile) pruneBackups() error {
	backups, err := rf.listBackups()
	if err != nil {
		return err
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].ModTime().Before(backups[j].ModTime()) })

	var toDelete []string
	if rf.cfg.MaxBackups > 0 && len(backups) > rf.cfg.MaxBackups {
		excess := len(backups) - rf.cfg.MaxBackups
		for _, b := range backups[:excess] {
			toDelete = append(toDelete, b.Name())
		}
		backups = backups[excess:]
	}
	if rf.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().Add(-time.Duration(rf.cfg.MaxAgeDays) * 24 * time.Hour)
		for _, b := range backups {
			if b.ModTime().Before(cutoff) {
				toDelete = append(toDelete, b.Name())
			}
		}
	}

	dir := filepath.Dir(rf.cfg.Filename)
	for _, name := range toDelete {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry: removing old log backup %s: %v\n", name, err)
		}
	}
	return nil
}

func (rf *RotatingFile) listBackups() ([]os.FileInfo, error) {
	dir := filepath.Dir(rf.cfg.Filename)
	base := filepath.Base(rf.cfg.Filename)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var backups []os.FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if name == base || !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		if !strings.HasSuffix(name, ext) && !strings.HasSuffix(name, ext+".gz") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, info)
	}
	return backups, nil
}
