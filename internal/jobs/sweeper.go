// Package jobs holds periodic background jobs.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mhrdina/narrator/internal/eventlog"
	"github.com/mhrdina/narrator/internal/store"
)

// StaleSweeper periodically reclaims abandoned processing entries from the
// generation cache. Correctness never depends on it: the request path already
// reclaims stale entries lazily on the next lookup. The sweeper just keeps
// entries nobody re-requests from sitting in the table forever.
type StaleSweeper struct {
	store    *store.Store
	eventLog *eventlog.Logger
	logger   *log.Logger
	timeout  time.Duration
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewStaleSweeper creates a sweeper that reclaims processing entries older
// than timeout, checking every interval (default: 10 minutes).
func NewStaleSweeper(s *store.Store, el *eventlog.Logger, logger *log.Logger, timeout, interval time.Duration) *StaleSweeper {
	if interval == 0 {
		interval = 10 * time.Minute
	}
	return &StaleSweeper{
		store:    s,
		eventLog: el,
		logger:   logger,
		timeout:  timeout,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background job.
func (j *StaleSweeper) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("StaleSweeper: started (timeout=%v interval=%v)", j.timeout, j.interval)
}

// Stop gracefully stops the background job.
func (j *StaleSweeper) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Println("StaleSweeper: stopped")
}

func (j *StaleSweeper) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stopCh:
			return
		}
	}
}

func (j *StaleSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fingerprints, err := j.store.DeleteAllStaleEntries(ctx, j.timeout)
	if err != nil {
		j.logger.Printf("StaleSweeper: sweep failed: %v", err)
		return
	}
	if len(fingerprints) == 0 {
		return
	}

	for _, fp := range fingerprints {
		j.eventLog.Log(ctx, fp, eventlog.EventEntryReclaimed, map[string]any{
			"reclaimed_by": "sweeper",
		})
	}
	j.logger.Printf("StaleSweeper: reclaimed %d stale entries", len(fingerprints))
}
