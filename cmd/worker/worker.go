package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	appkafka "example.com/photoposts/internal/broker"
	"example.com/photoposts/internal/logger"
	"example.com/photoposts/internal/store"
	"github.com/segmentio/kafka-go"
)

var logg = logger.New()

const (
	maxBackoff = time.Second
	idleWait   = 50 * time.Millisecond
)

// Stats counts what a worker did with the events it read.
type Stats struct {
	Journaled int64
	Failed    int64
}

// Worker consumes post events from Kafka and appends them to the journal
// with a fixed pool of goroutines.
type Worker struct {
	journal      store.JournalInterface
	reader       appkafka.KafkaReader
	workerCount  int
	jobQueueSize int

	journaled atomic.Int64
	failed    atomic.Int64
}

// New returns a Worker. Non-positive sizes fall back to one goroutine per
// CPU and a queue ten times that.
func New(journal store.JournalInterface, reader appkafka.KafkaReader, workerCount, jobQueueSize int) *Worker {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if jobQueueSize <= 0 {
		jobQueueSize = workerCount * 10
	}
	return &Worker{
		journal:      journal,
		reader:       reader,
		workerCount:  workerCount,
		jobQueueSize: jobQueueSize,
	}
}

// Run reads events until ctx is done. Events already queued at that point
// are still journaled before Run returns.
func (w *Worker) Run(ctx context.Context) {
	logg.Info("worker", fmt.Sprintf("Journaling with %d workers, queue size %d", w.workerCount, w.jobQueueSize))

	jobs := make(chan kafka.Message, w.jobQueueSize)
	var wg sync.WaitGroup
	wg.Add(w.workerCount)
	for i := 0; i < w.workerCount; i++ {
		go func() {
			defer wg.Done()
			for msg := range jobs {
				w.process(msg)
			}
		}()
	}

	w.readLoop(ctx, jobs)
	close(jobs)
	wg.Wait()

	s := w.Stats()
	logg.Info("worker", fmt.Sprintf("Stopped: %d events journaled, %d failed", s.Journaled, s.Failed))
}

// Stats returns the counters accumulated so far.
func (w *Worker) Stats() Stats {
	return Stats{Journaled: w.journaled.Load(), Failed: w.failed.Load()}
}

func (w *Worker) readLoop(ctx context.Context, jobs chan<- kafka.Message) {
	failures := 0
	for ctx.Err() == nil {
		msg, err := w.reader.ReadMessage(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			logg.Error("worker", "Kafka read failed, backing off", err)
			if !sleep(ctx, backoff(failures)) {
				return
			}
			failures++
			continue
		}
		failures = 0

		if len(msg.Value) == 0 {
			if !sleep(ctx, idleWait) {
				return
			}
			continue
		}

		select {
		case jobs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) process(msg kafka.Message) {
	if err := w.handle(msg); err != nil {
		w.failed.Add(1)
		logg.Error("worker", "Failed to journal post event", err)
		return
	}
	w.journaled.Add(1)
}

// handle journals one message. Empty messages are ignored.
func (w *Worker) handle(msg kafka.Message) error {
	if len(msg.Value) == 0 {
		return nil
	}
	ev, err := appkafka.DecodeEvent(msg)
	if err != nil {
		return fmt.Errorf("invalid event in Kafka message: %w", err)
	}
	if err := w.journal.AppendEvent(ev); err != nil {
		return fmt.Errorf("append %s for post %s: %w", ev.Type, ev.PostID, err)
	}
	logg.Debug("worker", "Journaled "+string(ev.Type)+" for post_id="+ev.PostID)
	return nil
}

// backoff doubles from 1ms per consecutive failure, capped at maxBackoff.
func backoff(failures int) time.Duration {
	if failures >= 10 {
		return maxBackoff
	}
	return min(time.Millisecond<<failures, maxBackoff)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close shuts down the Kafka reader, then the journal session. The journal
// is closed even when the reader fails to close; that error is returned.
func (w *Worker) Close() error {
	err := w.reader.Close()
	if err != nil {
		logg.Error("worker", "Error closing Kafka reader", err)
	}
	w.journal.Close()
	logg.Info("worker", "Kafka reader and journal closed")
	return err
}
