package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Rotation defaults for the workflow log file.
const (
	DefaultMaxBytes    = 100 * 1024 * 1024
	DefaultBackupCount = 5
)

// FileSink appends entries as JSON lines to a file, rotating by size.
// dbworkflow.log rolls to dbworkflow.log.1 .. dbworkflow.log.N, oldest
// dropped. A single mutex guards the appender.
type FileSink struct {
	mu          sync.Mutex
	path        string
	maxBytes    int64
	backupCount int
	file        *os.File
	size        int64
}

// NewFileSink opens (or creates) the log file for appending. maxBytes and
// backupCount fall back to the defaults when non-positive.
func NewFileSink(path string, maxBytes int64, backupCount int) (*FileSink, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if backupCount <= 0 {
		backupCount = DefaultBackupCount
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	return &FileSink{
		path:        path,
		maxBytes:    maxBytes,
		backupCount: backupCount,
		file:        file,
		size:        info.Size(),
	}, nil
}

// Write appends one entry as a JSON line, rotating first when the line
// would push the file past maxBytes.
func (s *FileSink) Write(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size+int64(len(data)) > s.maxBytes && s.size > 0 {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.file.Write(data)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("write log entry: %w", err)
	}
	return nil
}

// rotate shifts existing backups up by one index and starts a fresh file.
// Callers must hold the mutex.
func (s *FileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close log file for rotation: %w", err)
	}

	// Drop the oldest backup, then shift the rest.
	_ = os.Remove(fmt.Sprintf("%s.%d", s.path, s.backupCount))
	for i := s.backupCount - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", s.path, i), fmt.Sprintf("%s.%d", s.path, i+1))
	}
	if err := os.Rename(s.path, s.path+".1"); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("reopen log file: %w", err)
	}
	s.file = file
	s.size = 0
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
