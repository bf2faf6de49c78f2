// Package retention purges completed and deleted groups once they are older
// than the configured TTL.
package retention

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var purgedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warikan_retention_purged_groups_total",
	Help: "Closed groups removed by the retention worker",
})

// Purger deletes closed groups whose closed_at is before the cutoff.
type Purger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

type Worker struct {
	store    Purger
	logger   *zap.Logger
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
	done     chan struct{}
}

func NewWorker(store Purger, ttl, interval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:    store,
		logger:   logger,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs one purge immediately and then every interval until Stop.
func (w *Worker) Start() {
	go w.loop()
}

// Stop ends the loop and waits for a running purge to finish.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.tick(ctx)
	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-w.stopChan:
			return
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	cutoff := w.now().Add(-w.ttl)
	n, err := w.store.PurgeExpired(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("retention: purge failed", zap.Time("cutoff", cutoff), zap.Error(err))
		}
		return
	}
	if n > 0 {
		purgedTotal.Add(float64(n))
		w.logger.Info("retention: purged closed groups", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
}
