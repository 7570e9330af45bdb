// internal/historian/historian.go is the batch writer that drains finished match results from
// the Redis queue into Postgres.
package historian

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/sirupsen/logrus"
)

// Source yields queued match results. Pop returns (nil, nil) when nothing arrived within timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*models.MatchResult, error)
}

// Publisher takes records back onto the queue. A Source that also implements it gets records
// beyond MaxPending returned to the queue instead of dropped.
type Publisher interface {
	Publish(ctx context.Context, record models.MatchResult) error
}

// Sink persists a batch of match results atomically.
type Sink interface {
	InsertMatchResults(ctx context.Context, results []models.MatchResult) error
}

// Options tunes batching. Zero values pick defaults.
type Options struct {
	BatchSize  int
	FlushEvery time.Duration
	PopTimeout time.Duration
	// MaxPending caps how many records are held while the sink keeps failing. The oldest beyond
	// it go back to the source queue when it is a Publisher, and are dropped otherwise.
	MaxPending int
	Logger     *logrus.Logger
}

// Service pops results, accumulates them and flushes a batch when it is full or on every tick.
type Service struct {
	source     Source
	sink       Sink
	batchSize  int
	flushDelay time.Duration
	popTimeout time.Duration
	maxPending int
	log        *logrus.Entry

	batchMu sync.Mutex
	batch   []models.MatchResult
	flushed  int
	dropped  int
	returned int
}

func NewService(source Source, sink Sink, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = 500 * time.Millisecond
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 3 * time.Second
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = opts.BatchSize * 50
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Service{
		source:     source,
		sink:       sink,
		batchSize:  opts.BatchSize,
		flushDelay: opts.FlushEvery,
		popTimeout: opts.PopTimeout,
		maxPending: opts.MaxPending,
		log:        opts.Logger.WithField("component", "historian"),
		batch:      make([]models.MatchResult, 0, opts.BatchSize),
	}
}

// Run reads until ctx is cancelled, then makes a final flush with a short deadline.
func (hs *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(hs.flushDelay)
	defer ticker.Stop()

	hs.log.Info("historian started")
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			hs.Flush(flushCtx)
			cancel()
			hs.log.Info("historian stopped")
			return

		case <-ticker.C:
			hs.Flush(ctx)

		default:
			rec, err := hs.source.Pop(ctx, hs.popTimeout)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				hs.log.Errorf("pop: %v", err)
				// keep a broken queue from spinning the loop
				select {
				case <-ctx.Done():
				case <-time.After(hs.flushDelay):
				}
				continue
			}
			if rec == nil {
				continue
			}
			if hs.append(*rec) {
				hs.Flush(ctx)
			}
		}
	}
}

// append adds a record and reports whether the batch reached its threshold.
func (hs *Service) append(rec models.MatchResult) bool {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()
	hs.batch = append(hs.batch, rec)
	return len(hs.batch) >= hs.batchSize
}

// Flush writes the pending batch in one transaction. On failure the records stay pending for
// the next flush.
func (hs *Service) Flush(ctx context.Context) {
	hs.batchMu.Lock()
	if len(hs.batch) == 0 {
		hs.batchMu.Unlock()
		return
	}
	batchCopy := make([]models.MatchResult, len(hs.batch))
	copy(batchCopy, hs.batch)
	hs.batch = hs.batch[:0]
	hs.batchMu.Unlock()

	if err := hs.sink.InsertMatchResults(ctx, batchCopy); err != nil {
		hs.log.Errorf("flush %d results: %v", len(batchCopy), err)
		if overflow := hs.requeue(batchCopy); len(overflow) > 0 {
			hs.release(ctx, overflow)
		}
		return
	}

	hs.batchMu.Lock()
	hs.flushed += len(batchCopy)
	hs.batchMu.Unlock()
	hs.log.Debugf("flushed %d results", len(batchCopy))
}

// requeue puts failed records back at the head of the batch and returns the oldest ones beyond
// maxPending.
func (hs *Service) requeue(failed []models.MatchResult) []models.MatchResult {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()
	hs.batch = append(failed, hs.batch...)
	over := len(hs.batch) - hs.maxPending
	if over <= 0 {
		return nil
	}
	overflow := append([]models.MatchResult(nil), hs.batch[:over]...)
	hs.batch = hs.batch[over:]
	return overflow
}

// release pushes overflow records back onto the source queue. Whatever cannot be pushed back
// is dropped.
func (hs *Service) release(ctx context.Context, overflow []models.MatchResult) {
	returned := 0
	if back, ok := hs.source.(Publisher); ok {
		for _, rec := range overflow {
			if err := back.Publish(ctx, rec); err != nil {
				hs.log.Errorf("return result %s to queue: %v", rec.ID, err)
				break
			}
			returned++
		}
	}
	lost := len(overflow) - returned

	hs.batchMu.Lock()
	hs.returned += returned
	hs.dropped += lost
	hs.batchMu.Unlock()

	if returned > 0 {
		hs.log.Warnf("returned %d results to the queue after repeated flush failures", returned)
	}
	if lost > 0 {
		hs.log.Warnf("dropped %d results after repeated flush failures", lost)
	}
}

// Counters reports how many results were written, are pending, were dropped, and were handed
// back to the queue.
func (hs *Service) Counters() (flushed, pending, dropped, returned int) {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()
	return hs.flushed, len(hs.batch), hs.dropped, hs.returned
}
