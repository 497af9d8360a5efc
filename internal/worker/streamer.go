package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type logPoster interface {
	PostLogs(ctx context.Context, runID string, lines []LogLine) error
}

// LogStreamer batches a run's output lines and ships them to the control
// plane periodically. Sequence numbers are assigned on Add so ordering
// survives batching and retries.
type LogStreamer struct {
	client logPoster
	runID  string
	logger *slog.Logger

	mu       sync.Mutex
	buffer   []LogLine
	sequence int
}

func NewLogStreamer(client logPoster, runID string, logger *slog.Logger) *LogStreamer {
	return &LogStreamer{
		client: client,
		runID:  runID,
		logger: logger.With("run_id", runID),
	}
}

// Add buffers one line under the next sequence number.
func (s *LogStreamer) Add(stream, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	s.buffer = append(s.buffer, LogLine{Sequence: s.sequence, Stream: stream, Line: line})
}

// Flush posts the buffered batch. On failure the batch is put back at the
// front of the buffer so no lines are lost and ordering is preserved.
func (s *LogStreamer) Flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if err := s.client.PostLogs(ctx, s.runID, batch); err != nil {
		s.logger.Error("send logs", "error", err)
		s.mu.Lock()
		s.buffer = append(batch, s.buffer...)
		s.mu.Unlock()
	}
}

// Start flushes on a fixed interval until ctx is cancelled.
func (s *LogStreamer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}
