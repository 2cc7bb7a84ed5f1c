package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/events"
)

// Batch drain defaults for the generation phase.
const (
	DefaultBatchMax  = 500
	DefaultBatchWait = 2 * time.Second
)

// signalReader is the slice of Consumer the batch source needs.
type signalReader interface {
	ReadSignal(ctx context.Context) (*events.ScoredSignal, *kafka.Message, error)
	CommitBatch(ctx context.Context, msgs []kafka.Message) error
}

// BatchSource adapts the streaming consumer into a bounded fetch for the
// generation phase. Fetch drains up to max messages, giving up once no new
// message arrives within wait. Offsets are held until Commit, so a crash
// between fetch and commit replays the batch on restart (at-least-once).
type BatchSource struct {
	reader  signalReader
	max     int
	wait    time.Duration
	pending []kafka.Message
}

// NewBatchSource creates a batch source over an existing consumer.
// max <= 0 and wait <= 0 fall back to the defaults.
func NewBatchSource(c *Consumer, max int, wait time.Duration) *BatchSource {
	if max <= 0 {
		max = DefaultBatchMax
	}
	if wait <= 0 {
		wait = DefaultBatchWait
	}
	return &BatchSource{reader: c, max: max, wait: wait}
}

// Fetch drains currently available signals from the topic. Malformed
// messages are logged and included in the pending commit so they are not
// replayed forever. An idle read deadline, not an error, ends the drain.
func (s *BatchSource) Fetch(ctx context.Context) ([]*events.ScoredSignal, error) {
	var signals []*events.ScoredSignal
	for len(s.pending) < s.max {
		readCtx, cancel := context.WithTimeout(ctx, s.wait)
		sig, msg, err := s.reader.ReadSignal(readCtx)
		cancel()

		if err != nil {
			if msg != nil {
				slog.Warn("Skipping bad scored signal",
					"partition", msg.Partition,
					"offset", msg.Offset,
					"error", err,
				)
				s.pending = append(s.pending, *msg)
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return signals, ctxErr
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return signals, err
		}

		s.pending = append(s.pending, *msg)
		signals = append(signals, sig)
	}
	return signals, nil
}

// Commit acknowledges every message fetched since the last commit.
func (s *BatchSource) Commit(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.reader.CommitBatch(ctx, s.pending); err != nil {
		return err
	}
	s.pending = s.pending[:0]
	return nil
}
