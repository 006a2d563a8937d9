/*
Package school provides the core domain model for the dropout-risk engine.

PURPOSE:
  This package contains the entities and value types shared by every other
  layer: students and their cached risk fields, the three append-only fact
  streams (attendance, exam results, fee payments), the tunable threshold
  settings, and the contacts used for alerting.

KEY CONCEPTS IN THIS FILE (types.go):
  - RiskLevel: The low/medium/high verdict, with a total severity order
  - Student: Identity plus derived fields written only by recompute
  - AttendanceRecord / ExamResult / FeeRecord: Immutable facts
  - Thresholds: The singleton cut-point configuration

DESIGN PRINCIPLES:
  1. Facts are append-only: records are accumulated, never overwritten
  2. Derived state is cached on Student and owned by the recompute pass
  3. Precision: fee amounts use decimal.Decimal, never float64
  4. The store interface (store.go) is the only persistence contract

SEE ALSO:
  - store.go: Persistence interface over these types
  - errors.go: Error taxonomy (validation, not-found)
  - risk/: Policies and the recompute pass that fill the derived fields
*/
package school

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RISK LEVEL - The single dropout-risk verdict
// =============================================================================

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Severity returns a total order over risk levels (low < medium < high).
func (r RiskLevel) Severity() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 0
	}
}

// MaxRisk returns the worst of the given levels. An empty call returns low.
func MaxRisk(levels ...RiskLevel) RiskLevel {
	worst := RiskLow
	for _, l := range levels {
		if l.Severity() > worst.Severity() {
			worst = l
		}
	}
	return worst
}

// ValidRiskLevel reports whether s is one of the three known levels.
func ValidRiskLevel(s string) bool {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// =============================================================================
// FEE STATUS
// =============================================================================

type FeeStatus string

const (
	FeeOK      FeeStatus = "ok"      // nothing outstanding
	FeePartial FeeStatus = "partial" // outstanding amount, not yet past due
	FeeOverdue FeeStatus = "overdue" // outstanding amount past its due date
)

// =============================================================================
// ENTITIES
// =============================================================================

// Student is the aggregate the whole system pivots on. The derived fields
// (AttendancePct, AvgScore, FeeStatus, RiskLevel) are caches written only by
// the recompute pass, never by uploads directly.
type Student struct {
	ID      string
	Name    string
	ClassID string // optional; empty when unassigned

	AttendancePct float64
	AvgScore      float64
	FeeStatus     FeeStatus
	RiskLevel     RiskLevel

	CreatedAt time.Time
}

// PlaceholderName is the name given to students auto-created on first
// reference by an upload row.
func PlaceholderName(studentID string) string {
	return fmt.Sprintf("Student %s", studentID)
}

type Classroom struct {
	ID   string
	Name string
}

// Subject names are unique; subjects are auto-created on first reference.
type Subject struct {
	ID   string
	Name string
}

// =============================================================================
// FACTS - Append-only record streams
// =============================================================================

// AttendanceRecord is one (student, date, present) observation.
type AttendanceRecord struct {
	ID        int64
	StudentID string
	Date      time.Time
	Present   bool
}

// ExamResult is one graded exam. Score is on a 0-100 scale.
type ExamResult struct {
	ID        int64
	StudentID string
	SubjectID string
	Date      time.Time
	Score     float64
}

// FeeRecord is one billing line. The most-recently-due unpaid record drives
// the overdue computation.
type FeeRecord struct {
	ID         int64
	StudentID  string
	DueDate    time.Time
	PaidDate   *time.Time
	AmountDue  decimal.Decimal
	AmountPaid decimal.Decimal
}

// Outstanding returns due minus paid, floored at zero.
func (f FeeRecord) Outstanding() decimal.Decimal {
	out := f.AmountDue.Sub(f.AmountPaid)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// Settled reports whether nothing remains outstanding on this record.
func (f FeeRecord) Settled() bool {
	return !f.Outstanding().IsPositive()
}

// =============================================================================
// CONTACTS - Alert recipients
// =============================================================================

type ContactType string

const (
	ContactParent ContactType = "parent"
	ContactMentor ContactType = "mentor"
)

// Contact is a notification recipient for one student. Either Email or Phone
// (or both) may be set; dispatch skips whichever channel is empty.
type Contact struct {
	ID        string
	StudentID string
	Type      ContactType
	Name      string
	Email     string
	Phone     string
}

// =============================================================================
// THRESHOLDS - Singleton cut-point configuration
// =============================================================================

// ScoringMode selects which risk aggregation strategy is active.
type ScoringMode string

const (
	// ScoringThreshold is the two-threshold bucketing with max-severity
	// aggregation. This is the default.
	ScoringThreshold ScoringMode = "threshold"

	// ScoringWeighted is the legacy binary-indicator weighted sum. Kept as a
	// selectable alternative; the two formulas are never blended.
	ScoringWeighted ScoringMode = "weighted"
)

// Thresholds holds the tunable cut points. Attendance and score risks
// decrease as the input grows (>= low is low risk); fee risk increases with
// days overdue (>= high is high risk). The asymmetry is deliberate.
type Thresholds struct {
	AttendanceLow    float64
	AttendanceMedium float64

	ScoreLow    float64
	ScoreMedium float64

	FeeDaysOverdueMedium int
	FeeDaysOverdueHigh   int

	ScoringMode ScoringMode
}

// DefaultThresholds returns the cut points applied lazily when no settings
// row exists yet.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AttendanceLow:        90,
		AttendanceMedium:     75,
		ScoreLow:             70,
		ScoreMedium:          50,
		FeeDaysOverdueMedium: 7,
		FeeDaysOverdueHigh:   30,
		ScoringMode:          ScoringThreshold,
	}
}

// Validate checks internal ordering: the "low risk" cut must not sit below
// the "medium risk" cut for descending components, and the fee "high" cut
// must not sit below the fee "medium" cut.
func (t Thresholds) Validate() error {
	var bad []string
	if t.AttendanceLow < t.AttendanceMedium {
		bad = append(bad, "attendance_low < attendance_medium")
	}
	if t.ScoreLow < t.ScoreMedium {
		bad = append(bad, "score_low < score_medium")
	}
	if t.FeeDaysOverdueHigh < t.FeeDaysOverdueMedium {
		bad = append(bad, "fee_days_overdue_high < fee_days_overdue_medium")
	}
	if t.ScoringMode != "" && t.ScoringMode != ScoringThreshold && t.ScoringMode != ScoringWeighted {
		bad = append(bad, fmt.Sprintf("unknown scoring_mode %q", t.ScoringMode))
	}
	if len(bad) > 0 {
		return &ValidationError{Subject: "settings", Problems: bad}
	}
	return nil
}
