package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Flusher periodically drains the recorder's buffer into a Sink on its own
// goroutine, fully decoupled from the tick loop. A failed flush leaves the
// buffer intact for retry on the next interval.
type Flusher struct {
	recorder *Recorder
	sink     Sink
	interval time.Duration
	keepDays int
	logger   *zap.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewFlusher creates a stopped Flusher.
//
// Precondition: recorder, sink, and logger must be non-nil; interval > 0.
func NewFlusher(recorder *Recorder, sink Sink, interval time.Duration, keepDays int, logger *zap.Logger) *Flusher {
	return &Flusher{
		recorder: recorder,
		sink:     sink,
		interval: interval,
		keepDays: keepDays,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the background flush loop. It runs until Stop or ctx
// cancellation, performing one final flush on the way out.
func (f *Flusher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				f.flushAndLog()
				return
			case <-f.done:
				f.flushAndLog()
				return
			case <-ticker.C:
				f.flushAndLog()
				f.prune()
			}
		}
	}()
}

// Stop halts the loop after a final flush. Safe to call multiple times.
func (f *Flusher) Stop() {
	f.stopOnce.Do(func() { close(f.done) })
}

// Flush writes the current buffer through the sink, then removes exactly the
// flushed entries from the buffer. Entries recorded while the write was in
// progress survive for the next flush.
//
// Postcondition: On nil error the flushed entries are gone from the buffer;
// on error the buffer is unchanged.
func (f *Flusher) Flush() (int, error) {
	entries, mark := f.recorder.snapshotForFlush()
	if len(entries) == 0 {
		return 0, nil
	}
	if err := f.sink.Write(entries); err != nil {
		return 0, fmt.Errorf("flushing %d audit entries: %w", len(entries), err)
	}
	f.recorder.drainFlushed(len(entries), mark)
	return len(entries), nil
}

// flushAndLog contains flush failures; audit problems never propagate.
func (f *Flusher) flushAndLog() {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("audit flush panicked", zap.Any("panic", r))
		}
	}()
	n, err := f.Flush()
	if err != nil {
		f.logger.Warn("audit flush failed, buffer retained", zap.Error(err))
		return
	}
	if n > 0 {
		f.logger.Debug("audit entries flushed", zap.Int("count", n))
	}
}

// prune applies file retention when the sink supports it.
func (f *Flusher) prune() {
	type pruner interface {
		Prune(keepDays int) (int, error)
	}
	p, ok := f.sink.(pruner)
	if !ok || f.keepDays <= 0 {
		return
	}
	removed, err := p.Prune(f.keepDays)
	if err != nil {
		f.logger.Warn("audit retention prune failed", zap.Error(err))
		return
	}
	if removed > 0 {
		f.logger.Info("pruned aged audit logs", zap.Int("removed", removed))
	}
}
