package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// JSONLSink appends every record as one JSON line to a rotating file. Writes
// are queued and never block the caller.
type JSONLSink struct {
	path    string
	writeCh chan any
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	logger *lumberjack.Logger
	once   sync.Once
}

// NewJSONLSink starts the writer. maxSizeMB bounds each file before rotation.
func NewJSONLSink(path string, bufferSize, maxSizeMB int) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit sink: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 25
	}
	s := &JSONLSink{
		path:    path,
		writeCh: make(chan any, bufferSize),
		done:    make(chan struct{}),
		logger: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
	}
	s.wg.Add(1)
	go s.writeLoop()
	slog.Info("audit sink opened", "file", path)
	return s, nil
}

// Write queues record, dropping it when the buffer is full.
func (s *JSONLSink) Write(record any) error {
	select {
	case <-s.done:
		return fmt.Errorf("audit sink closed")
	default:
	}
	select {
	case s.writeCh <- record:
		return nil
	default:
		slog.Warn("audit sink buffer full, dropping record", "file", s.path)
		return fmt.Errorf("audit sink buffer full")
	}
}

// Close flushes queued records, bounded by a short timeout, and closes the file.
func (s *JSONLSink) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()

		timeout := time.After(5 * time.Second)
	drain:
		for {
			select {
			case record := <-s.writeCh:
				s.writeRecord(record)
			case <-timeout:
				slog.Warn("audit sink close timeout, some records may be lost", "file", s.path)
				break drain
			default:
				break drain
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		err = s.logger.Close()
	})
	return err
}

func (s *JSONLSink) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case record := <-s.writeCh:
			s.writeRecord(record)
		case <-s.done:
			return
		}
	}
}

func (s *JSONLSink) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("audit sink marshal failed", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.logger.Write(append(data, '\n')); err != nil {
		slog.Error("audit sink write failed", "error", err, "file", s.path)
	}
}
