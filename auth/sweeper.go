/*
sweeper.go - Background session pruning

PURPOSE:
  Lookup only removes an expired token when someone presents it again.
  Tokens abandoned by their clients would otherwise stay in memory until
  shutdown, so the sweeper prunes them on a fixed interval.

USAGE:
  sweeper := auth.NewSweeper(sessions, log.Default())
  sweeper.Start()
  // ... later
  sweeper.Stop()
*/
package auth

import (
	"log"
	"sync"
	"time"
)

// Sweeper periodically prunes expired sessions.
type Sweeper struct {
	Sessions *Sessions
	Interval time.Duration
	Logger   *log.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a sweeper with a one-minute interval.
func NewSweeper(sessions *Sessions, logger *log.Logger) *Sweeper {
	return &Sweeper{
		Sessions: sessions,
		Interval: time.Minute,
		Logger:   logger,
	}
}

// Start begins sweeping. Calling Start on a running sweeper does nothing.
func (sw *Sweeper) Start() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.ticker != nil {
		return
	}
	sw.ticker = time.NewTicker(sw.Interval)
	sw.stop = make(chan struct{})
	sw.wg.Add(1)

	go sw.run(sw.ticker, sw.stop)

	sw.logf("Started with interval: %v", sw.Interval)
}

// Stop stops the sweeper and waits for an in-flight sweep to finish.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.ticker == nil {
		return
	}
	sw.ticker.Stop()
	close(sw.stop)
	sw.wg.Wait()
	sw.ticker = nil
	sw.logf("Stopped")
}

func (sw *Sweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer sw.wg.Done()

	for {
		select {
		case <-ticker.C:
			sw.Sweep()
		case <-stop:
			return
		}
	}
}

// Sweep prunes expired sessions once.
func (sw *Sweeper) Sweep() int {
	removed := sw.Sessions.Prune()
	if removed > 0 {
		sw.logf("Pruned %d expired sessions", removed)
	}
	return removed
}

func (sw *Sweeper) logf(format string, args ...any) {
	if sw.Logger != nil {
		sw.Logger.Printf("[Sessions] "+format, args...)
	}
}
