package delivery

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

const maxLineBytes = 4 << 20

// Stats totals the outcomes of a source run.
type Stats struct {
	Batches      int
	Processed    int
	DeadLettered int
	Failed       int
}

func (s *Stats) add(o Outcome) {
	s.Batches++
	s.Processed += o.Processed
	s.DeadLettered += o.DeadLettered
	if o.Err != nil {
		s.Failed += len(o.Batch.Records) - o.DeadLettered
	}
}

// FileSource reads newline-delimited JSON events, one event per line.
type FileSource struct {
	name       string
	reader     io.Reader
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewFileSource reads from r. name labels the records in logs and the dead
// letter sink.
func NewFileSource(name string, r io.Reader, dispatcher *Dispatcher, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		name:       name,
		reader:     r,
		dispatcher: dispatcher,
		logger:     logger.With("component", "file_source", "source", name),
	}
}

// Run submits the input in batches and waits for all of them to finish.
// Blank lines are skipped.
func (s *FileSource) Run(ctx context.Context) (Stats, error) {
	var (
		mu    sync.Mutex
		stats Stats
	)
	done := func(o Outcome) {
		mu.Lock()
		stats.add(o)
		mu.Unlock()
		if o.Err != nil {
			s.logger.Error("batch failed", "first", o.Batch.Records[0].ID, "err", o.Err)
		}
	}

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	size := s.dispatcher.BatchSize()
	batch := Batch{Source: s.name}
	line := 0
	submit := func() error {
		if len(batch.Records) == 0 {
			return nil
		}
		err := s.dispatcher.Submit(ctx, batch, done)
		batch = Batch{Source: s.name}
		return err
	}

	var runErr error
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		batch.Records = append(batch.Records, Record{
			ID:   fmt.Sprintf("%s:%d", s.name, line),
			Data: bytes.Clone(data),
		})
		if len(batch.Records) == size {
			if err := submit(); err != nil {
				runErr = err
				break
			}
		}
	}
	if runErr == nil {
		if err := scanner.Err(); err != nil {
			runErr = fmt.Errorf("reading %s: %w", s.name, err)
		} else {
			runErr = submit()
		}
	}

	s.dispatcher.Wait()
	mu.Lock()
	defer mu.Unlock()
	s.logger.Info("source drained", "batches", stats.Batches, "processed", stats.Processed, "dead_lettered", stats.DeadLettered, "failed", stats.Failed)
	return stats, runErr
}

// FileDeadLetter appends dead-letter messages as JSON lines.
type FileDeadLetter struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewFileDeadLetter writes to w.
func NewFileDeadLetter(w io.Writer) *FileDeadLetter {
	return &FileDeadLetter{w: w}
}

// OpenFileDeadLetter appends to the file at path, creating it if needed.
func OpenFileDeadLetter(path string) (*FileDeadLetter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening dead letter file: %w", err)
	}
	return &FileDeadLetter{w: f, closer: f}, nil
}

// Send writes msg as one line.
func (d *FileDeadLetter) Send(ctx context.Context, msg DeadLetterMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.w.Write(line); err != nil {
		return fmt.Errorf("writing dead letter: %w", err)
	}
	return nil
}

// Close closes the underlying file when the sink owns it.
func (d *FileDeadLetter) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
