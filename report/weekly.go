/*
Package report implements the weekly recompute/report/alert cycle.

PURPOSE:
  The recurring batch job: make sure thresholds exist, recompute every
  student's risk, build a 7-day summary per student, and fan the summaries
  out to registered contacts over whichever transports are configured.

FAILURE MODEL:
  Nothing here may crash the cycle. A student whose report cannot be built
  is logged and skipped. A contact that cannot be reached is logged and the
  remaining contacts still get theirs. A student with no contacts is skipped
  silently - that is the normal case, not an error.

SERIALIZATION:
  Run takes a per-cycle lock with TryLock. An overlapping trigger (scheduler
  tick racing a manual trigger) returns ErrCycleInProgress instead of
  interleaving recompute and notification for the same students.

SEE ALSO:
  - risk/recompute.go: The pass run at the start of every cycle
  - notify/: Transports
  - api/scheduler.go: The timer that fires Run
*/
package report

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/warp/risk-engine/notify"
	"github.com/warp/risk-engine/risk"
	"github.com/warp/risk-engine/school"
)

// WindowDays is the report lookback window.
const WindowDays = 7

// Report is one student's weekly summary. The week aggregates are nil when
// the window holds no records of that kind.
type Report struct {
	StudentID         string            `json:"student_id"`
	Name              string            `json:"student_name"`
	RiskLevel         school.RiskLevel  `json:"risk_level"`
	AttendancePctWeek *float64          `json:"attendance_pct_week"`
	AvgScoreWeek      *float64          `json:"avg_score_week"`
	Summary           string            `json:"summary"`
}

// CycleResult summarizes one cycle run.
type CycleResult struct {
	Recompute risk.Result
	Reports   int // reports built
	Notified  int // students whose contacts were notified
	Skipped   int // students skipped (no contacts, or report build failed)
}

// Cycle is the weekly job. Email and SMS may each be nil when that channel
// is not configured.
type Cycle struct {
	Store      school.Store
	Recomputer *risk.Recomputer
	Email      notify.EmailSender
	SMS        notify.SmsSender

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	mu sync.Mutex
}

func NewCycle(store school.Store, recomputer *risk.Recomputer, email notify.EmailSender, sms notify.SmsSender) *Cycle {
	return &Cycle{Store: store, Recomputer: recomputer, Email: email, SMS: sms, Now: time.Now}
}

// Run executes one full cycle: thresholds -> recompute -> reports -> alerts.
func (c *Cycle) Run(ctx context.Context) (CycleResult, error) {
	if !c.mu.TryLock() {
		return CycleResult{}, school.ErrCycleInProgress
	}
	defer c.mu.Unlock()

	var res CycleResult

	if _, err := risk.EnsureThresholds(ctx, c.Store); err != nil {
		return res, err
	}

	recompute, err := c.Recomputer.RecomputeAll(ctx)
	if err != nil {
		return res, fmt.Errorf("recompute: %w", err)
	}
	res.Recompute = recompute

	reports, skipped := c.buildReports(ctx)
	res.Reports = len(reports)
	res.Skipped += skipped

	for _, rep := range reports {
		notified, err := c.dispatch(ctx, rep)
		if err != nil {
			log.Printf("[Cycle] Dispatch failed for student %s: %v", rep.StudentID, err)
			res.Skipped++
			continue
		}
		if notified {
			res.Notified++
		} else {
			res.Skipped++
		}
	}

	// Record completion so the scheduler sees the run across restarts. A
	// bookkeeping failure never fails the cycle itself.
	if err := c.Store.SetLastCycleRun(ctx, c.now()); err != nil {
		log.Printf("[Cycle] Recording run time failed: %v", err)
	}

	log.Printf("[Cycle] Completed: %d reports, %d notified, %d skipped", res.Reports, res.Notified, res.Skipped)
	return res, nil
}

// buildReports builds the 7-day report for every student. Per-student
// failures are logged and skipped.
func (c *Cycle) buildReports(ctx context.Context) ([]Report, int) {
	students, err := c.Store.ListStudents(ctx, school.StudentFilter{})
	if err != nil {
		log.Printf("[Cycle] Listing students failed: %v", err)
		return nil, 0
	}

	skipped := 0
	reports := make([]Report, 0, len(students))
	for _, st := range students {
		rep, err := c.BuildReport(ctx, st)
		if err != nil {
			log.Printf("[Cycle] Report build failed for student %s: %v", st.ID, err)
			skipped++
			continue
		}
		reports = append(reports, rep)
	}
	return reports, skipped
}

// BuildReport builds one student's weekly report from the 7-day window.
func (c *Cycle) BuildReport(ctx context.Context, st school.Student) (Report, error) {
	weekAgo := c.now().AddDate(0, 0, -WindowDays)

	attendance, err := c.Store.AttendanceByStudent(ctx, st.ID, weekAgo)
	if err != nil {
		return Report{}, fmt.Errorf("attendance: %w", err)
	}
	exams, err := c.Store.ExamsByStudent(ctx, st.ID, weekAgo)
	if err != nil {
		return Report{}, fmt.Errorf("exams: %w", err)
	}

	rep := Report{
		StudentID: st.ID,
		Name:      st.Name,
		RiskLevel: st.RiskLevel,
	}
	if len(attendance) > 0 {
		present := 0
		for _, a := range attendance {
			if a.Present {
				present++
			}
		}
		pct := round1(float64(present) / float64(len(attendance)) * 100)
		rep.AttendancePctWeek = &pct
	}
	if len(exams) > 0 {
		sum := 0.0
		for _, e := range exams {
			sum += e.Score
		}
		avg := round1(sum / float64(len(exams)))
		rep.AvgScoreWeek = &avg
	}
	rep.Summary = summarize(rep)
	return rep, nil
}

// summarize renders the free-text summary line.
func summarize(rep Report) string {
	parts := []string{fmt.Sprintf("Student: %s (Risk: %s)", rep.Name, rep.RiskLevel)}
	if rep.AttendancePctWeek != nil {
		parts = append(parts, fmt.Sprintf("Attendance (last 7 days): %.1f%%", *rep.AttendancePctWeek))
	}
	if rep.AvgScoreWeek != nil {
		parts = append(parts, fmt.Sprintf("Avg Score (last 7 days): %.1f", *rep.AvgScoreWeek))
	}
	return strings.Join(parts, " | ")
}

// dispatch sends one report to every registered contact. Returns false when
// the student has no contacts. Transport failures are logged per contact and
// never abort the batch.
func (c *Cycle) dispatch(ctx context.Context, rep Report) (bool, error) {
	contacts, err := c.Store.ContactsByStudent(ctx, rep.StudentID)
	if err != nil {
		return false, err
	}
	if len(contacts) == 0 {
		return false, nil
	}

	subject := fmt.Sprintf("[Weekly Alert] %s - Risk: %s", rep.Name, titleCase(string(rep.RiskLevel)))

	if c.Email != nil {
		for _, f := range c.Email.SendEmail(ctx, contacts, subject, rep.Summary) {
			log.Printf("[Cycle] Email to %s failed: %v", f.Contact.Email, f.Err)
		}
	}
	if c.SMS != nil {
		for _, f := range c.SMS.SendSMS(ctx, contacts, rep.Summary) {
			log.Printf("[Cycle] SMS to %s failed: %v", f.Contact.Phone, f.Err)
		}
	}
	return true, nil
}

func (c *Cycle) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
