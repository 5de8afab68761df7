package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/session"
)

// Config holds configuration for the file sink
type Config struct {
	Path          string        `json:"path"           yaml:"path"`
	Format        string        `json:"format"         yaml:"format"`
	Append        bool          `json:"append"         yaml:"append"`
	BufferSize    int           `json:"buffer_size"    yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path is required")
	}

	validFormats := map[string]bool{"json": true, "jsonl": true}
	if !validFormats[c.Format] {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: json, jsonl")
	}

	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}

	return nil
}

// DefaultConfig returns default configuration for the file sink
func DefaultConfig() Config {
	return Config{
		Path:          "/tmp/chatsession/published.jsonl",
		Format:        "jsonl",
		Append:        true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// Sink appends session publications to a file, one record per line
type Sink struct {
	path          string
	format        string
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time

	// File handling
	file   *os.File
	fileMu sync.Mutex

	// Buffer for batching writes
	buffer   [][]byte
	bufferMu sync.Mutex

	// Lifecycle management
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Metrics
	recordsWritten int64
	bytesWritten   int64
	errors         int64
}

var _ session.Sink = (*Sink)(nil)

// Open creates the directory, opens the file and starts the flush loop
func Open(cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, errors.WrapFatal(err, "FileSink", "Open", "create output directory")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(cfg.Path, flags, 0644)
	if err != nil {
		return nil, errors.WrapFatal(err, "FileSink", "Open", "open output file")
	}

	s := &Sink{
		path:          cfg.Path,
		format:        cfg.Format,
		bufferSize:    cfg.BufferSize,
		flushInterval: cfg.FlushInterval,
		logger:        logger.With("component", "file-sink"),
		now:           time.Now,
		file:          file,
		buffer:        make([][]byte, 0, cfg.BufferSize),
		shutdown:      make(chan struct{}),
	}

	s.wg.Add(1)
	go s.flushLoop()

	s.logger.Info("File sink opened",
		"path", cfg.Path,
		"format", cfg.Format,
		"append", cfg.Append,
		"buffer_size", cfg.BufferSize)
	return s, nil
}

// Publish buffers the record and flushes once the buffer is full
func (s *Sink) Publish(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(session.NewRecord(key, value, s.now()))
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		return errors.WrapInvalid(err, "FileSink", "Publish", "marshal record")
	}

	s.bufferMu.Lock()
	s.buffer = append(s.buffer, data)
	shouldFlush := len(s.buffer) >= s.bufferSize
	s.bufferMu.Unlock()

	if shouldFlush {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		return s.flush()
	}
	return nil
}

// Close flushes what is buffered and closes the file
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.shutdown)
		s.wg.Wait()

		err = s.flush()

		s.fileMu.Lock()
		defer s.fileMu.Unlock()
		if s.file != nil {
			if cerr := s.file.Close(); cerr != nil && err == nil {
				err = errors.WrapTransient(cerr, "FileSink", "Close", "close output file")
			}
			s.file = nil
		}
	})
	return err
}

// Path returns the file being written
func (s *Sink) Path() string { return s.path }

// Written returns the number of records written
func (s *Sink) Written() int64 { return atomic.LoadInt64(&s.recordsWritten) }

// Errors returns the number of records that could not be written
func (s *Sink) Errors() int64 { return atomic.LoadInt64(&s.errors) }

func (s *Sink) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			if err := s.flush(); err != nil {
				s.logger.Error("Periodic flush failed", "error", err)
			}
		}
	}
}

func (s *Sink) flush() error {
	s.bufferMu.Lock()
	if len(s.buffer) == 0 {
		s.bufferMu.Unlock()
		return nil
	}
	records := s.buffer
	s.buffer = make([][]byte, 0, s.bufferSize)
	s.bufferMu.Unlock()

	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if s.file == nil {
		atomic.AddInt64(&s.errors, int64(len(records)))
		return errors.WrapFatal(fmt.Errorf("file sink closed, %d records lost", len(records)),
			"FileSink", "flush", "write records")
	}

	var firstErr error
	for _, record := range records {
		data := record
		if s.format == "json" {
			var obj any
			if err := json.Unmarshal(record, &obj); err == nil {
				if formatted, err := json.MarshalIndent(obj, "", "  "); err == nil {
					data = formatted
				}
			}
		}
		n, err := s.file.Write(append(data, '\n'))
		if err != nil {
			atomic.AddInt64(&s.errors, 1)
			if firstErr == nil {
				firstErr = errors.WrapTransient(err, "FileSink", "flush", "write record")
			}
			continue
		}
		atomic.AddInt64(&s.recordsWritten, 1)
		atomic.AddInt64(&s.bytesWritten, int64(n))
	}

	s.logger.Debug("Flush completed",
		"records", len(records),
		"total_written", atomic.LoadInt64(&s.recordsWritten),
		"total_errors", atomic.LoadInt64(&s.errors))
	return firstErr
}
