/*
scheduler.go - Weekly cycle scheduler

PURPOSE:
  Periodically checks whether the weekly report/alert cycle is due and runs
  it. The cycle itself lives in report/; this file owns only the timing.

DESIGN:
  - Runs a background goroutine with a coarse check interval (default 1 hour)
  - A cycle is due once per week: the first check at or after Sunday 06:00
  - The last completed run is recorded by the cycle in the store, so a
    restart - even on the fire day - does not re-send the week's alerts
  - Overlap with a manual /api/admin/run-cycle trigger is resolved by the
    cycle's own lock; the scheduler logs the conflict and moves on

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewWeeklyScheduler(cycle)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - report/weekly.go: The cycle being scheduled
  - handlers.go: RunCycle endpoint (manual trigger)
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/warp/risk-engine/report"
	"github.com/warp/risk-engine/school"
)

// fireWeekday/fireHour: the cycle fires at the first check at or after
// Sunday 06:00 local time.
const (
	fireWeekday = time.Sunday
	fireHour    = 6
)

// WeeklyScheduler fires the weekly cycle once per week.
type WeeklyScheduler struct {
	Cycle         *report.Cycle
	CheckInterval time.Duration
	Enabled       bool

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewWeeklyScheduler creates a new scheduler.
func NewWeeklyScheduler(cycle *report.Cycle) *WeeklyScheduler {
	return &WeeklyScheduler{
		Cycle:         cycle,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ws *WeeklyScheduler) Start() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if !ws.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ws.ticker = time.NewTicker(ws.CheckInterval)
	ws.wg.Add(1)

	go ws.run()

	log.Printf("[Scheduler] Started with check interval: %v", ws.CheckInterval)
}

// Stop stops the scheduler.
func (ws *WeeklyScheduler) Stop() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.ticker != nil {
		ws.ticker.Stop()
		close(ws.stop)
		ws.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ws *WeeklyScheduler) run() {
	defer ws.wg.Done()

	// Check immediately on start
	ws.checkAndRun()

	for {
		select {
		case <-ws.ticker.C:
			ws.checkAndRun()
		case <-ws.stop:
			return
		}
	}
}

func (ws *WeeklyScheduler) checkAndRun() {
	now := ws.Now()

	lastRun, err := ws.lastRunTime()
	if err != nil {
		log.Printf("[Scheduler] Reading last run time failed: %v", err)
		return
	}
	if !checkDue(now, lastRun) {
		return
	}

	log.Printf("[Scheduler] Weekly cycle due at %v", now)

	// The cycle records its own completion time in the store.
	res, err := ws.Cycle.Run(context.Background())
	if err != nil {
		if errors.Is(err, school.ErrCycleInProgress) {
			log.Println("[Scheduler] Cycle already running, skipping this tick")
			return
		}
		log.Printf("[Scheduler] Cycle failed: %v", err)
		return
	}

	log.Printf("[Scheduler] Cycle done: %d reports, %d notified, %d skipped",
		res.Reports, res.Notified, res.Skipped)
}

// lastRunTime loads the persisted completion time of the last cycle; the
// zero time means no cycle has ever completed.
func (ws *WeeklyScheduler) lastRunTime() (time.Time, error) {
	at, err := ws.Cycle.Store.GetLastCycleRun(context.Background())
	if err != nil {
		return time.Time{}, err
	}
	if at == nil {
		return time.Time{}, nil
	}
	return *at, nil
}

// checkDue reports whether a weekly run is due at now given the previous run.
// Due means: it is the fire weekday at or past the fire hour, and the last
// run was not already in this weekday's window.
func checkDue(now, lastRun time.Time) bool {
	if now.Weekday() != fireWeekday || now.Hour() < fireHour {
		return false
	}
	if lastRun.IsZero() {
		return true
	}
	windowStart := time.Date(now.Year(), now.Month(), now.Day(), fireHour, 0, 0, 0, now.Location())
	return lastRun.Before(windowStart)
}

// RunNow triggers an immediate cycle regardless of schedule (for admin use).
// The cycle itself records the completion time.
func (ws *WeeklyScheduler) RunNow() (report.CycleResult, error) {
	return ws.Cycle.Run(context.Background())
}
