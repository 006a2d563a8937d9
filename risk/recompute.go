/*
recompute.go - The per-student derivation and recompute pass

PURPOSE:
  Derives the cached Student fields (attendance_pct, avg_score, fee_status,
  risk_level) from the full fact history and the active policy, for every
  student. This is the only code path that mutates those fields.

DERIVATION RULES:
  attendance_pct   present / total * 100, 0 when no records
  avg_score        mean of all exam scores, 0 when none
  fee days overdue days past due on the most-recently-due unpaid/partial fee
                   record; 0 when fully paid or no fee records. The latest
                   due date wins even if an older unpaid record has been
                   overdue longer (max-across-all-unpaid was considered and
                   rejected to match the source behavior).
  fee_status       ok when nothing outstanding; overdue when outstanding and
                   past due; partial when outstanding but not yet past due

CONCURRENCY:
  The whole pass runs under one mutex. Recompute over the full data set is
  cheap; serializing globally is simpler and strictly safer than per-student
  locking. Per-student writes go through UpdateStudentDerived, which is
  atomic at the store level.

IDEMPOTENCY:
  With no new facts, running the pass twice yields identical cached fields.

SEE ALSO:
  - policy.go: The strategies evaluated here
  - report/: The weekly cycle, which runs this pass before building reports
*/
package risk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/risk-engine/school"
)

// EnsureThresholds returns the stored thresholds, creating the defaults if
// none exist yet. A missing settings row is a recoverable condition, never a
// surfaced error.
func EnsureThresholds(ctx context.Context, store school.Store) (school.Thresholds, error) {
	th, err := store.GetThresholds(ctx)
	if err != nil {
		return school.Thresholds{}, fmt.Errorf("load thresholds: %w", err)
	}
	if th != nil {
		return *th, nil
	}
	defaults := school.DefaultThresholds()
	if err := store.SaveThresholds(ctx, defaults); err != nil {
		return school.Thresholds{}, fmt.Errorf("save default thresholds: %w", err)
	}
	return defaults, nil
}

// Recomputer runs the recompute pass.
type Recomputer struct {
	Store school.Store

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	mu sync.Mutex
}

func NewRecomputer(store school.Store) *Recomputer {
	return &Recomputer{Store: store, Now: time.Now}
}

// Result summarizes one recompute pass.
type Result struct {
	Students int // students visited
	Updated  int // students whose derived fields were written
	Skipped  int // students skipped due to a per-student failure
}

// RecomputeAll recomputes derived fields for every student. A failure on one
// student is logged and skipped; it never aborts the pass.
func (r *Recomputer) RecomputeAll(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	th, err := EnsureThresholds(ctx, r.Store)
	if err != nil {
		return Result{}, err
	}
	policy := ForMode(th.ScoringMode)

	students, err := r.Store.ListStudents(ctx, school.StudentFilter{})
	if err != nil {
		return Result{}, fmt.Errorf("list students: %w", err)
	}

	res := Result{Students: len(students)}
	for _, st := range students {
		if err := r.recomputeOne(ctx, th, policy, st.ID); err != nil {
			log.Printf("[Recompute] Skipping student %s: %v", st.ID, err)
			res.Skipped++
			continue
		}
		res.Updated++
	}
	return res, nil
}

func (r *Recomputer) recomputeOne(ctx context.Context, th school.Thresholds, policy Policy, studentID string) error {
	signals, feeStatus, err := r.deriveSignals(ctx, studentID)
	if err != nil {
		return err
	}
	level := policy.Evaluate(th, signals)
	return r.Store.UpdateStudentDerived(ctx, studentID, signals.AttendancePct, signals.AvgScore, feeStatus, level)
}

// deriveSignals reads the full fact history for one student and computes
// every signal both strategies need, plus the fee status.
func (r *Recomputer) deriveSignals(ctx context.Context, studentID string) (Signals, school.FeeStatus, error) {
	var s Signals

	attendance, err := r.Store.AttendanceByStudent(ctx, studentID, time.Time{})
	if err != nil {
		return s, "", fmt.Errorf("attendance: %w", err)
	}
	if len(attendance) > 0 {
		present := 0
		for _, a := range attendance {
			if a.Present {
				present++
			}
		}
		s.PresentRate = float64(present) / float64(len(attendance))
		s.AttendancePct = s.PresentRate * 100
	}

	exams, err := r.Store.ExamsByStudent(ctx, studentID, time.Time{})
	if err != nil {
		return s, "", fmt.Errorf("exams: %w", err)
	}
	if len(exams) > 0 {
		s.HasExams = true
		sum := 0.0
		s.MinScore = exams[0].Score
		for _, e := range exams {
			sum += e.Score
			if e.Score < s.MinScore {
				s.MinScore = e.Score
			}
		}
		s.AvgScore = sum / float64(len(exams))
	}

	fees, err := r.Store.FeesByStudent(ctx, studentID)
	if err != nil {
		return s, "", fmt.Errorf("fees: %w", err)
	}
	s.Outstanding = decimal.Zero
	var latestUnpaid *school.FeeRecord
	for i := range fees {
		f := fees[i]
		s.Outstanding = s.Outstanding.Add(f.AmountDue).Sub(f.AmountPaid)
		if f.Settled() {
			continue
		}
		if latestUnpaid == nil || f.DueDate.After(latestUnpaid.DueDate) {
			latestUnpaid = &fees[i]
		}
	}

	feeStatus := school.FeeOK
	if latestUnpaid != nil {
		s.FeeDaysOverdue = daysOverdue(latestUnpaid.DueDate, r.now())
		if s.FeeDaysOverdue > 0 {
			feeStatus = school.FeeOverdue
		} else {
			feeStatus = school.FeePartial
		}
	}

	return s, feeStatus, nil
}

func (r *Recomputer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// daysOverdue returns whole days elapsed since due, floored at zero for
// due dates in the future.
func daysOverdue(due, now time.Time) int {
	days := int(now.Sub(due).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
