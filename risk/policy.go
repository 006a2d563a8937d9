/*
Package risk implements dropout-risk classification.

PURPOSE:
  Turns the three per-student signals (attendance, exam scores, fees) into a
  single low/medium/high verdict, and recomputes the cached verdict for every
  student from the accumulated facts.

TWO STRATEGIES:
  The source system carries two unreconciled formulas. Both are kept behind
  the Policy interface and selected by Thresholds.ScoringMode:

  ThresholdPolicy (default):
    Per-component two-threshold bucketing, aggregated by max severity.
    Attendance and score risks fall as the input rises; fee risk rises with
    days overdue. Any high => high, else any medium => medium, else low.

  WeightedPolicy (legacy):
    Binary indicators (present-rate < 0.75, min score < 40, outstanding > 0)
    combined as 0.4*attendance + 0.4*exam + 0.2*fee; >= 0.7 high, >= 0.4
    medium, else low. Its cut points are constants - the legacy path never
    consulted settings.

PROPERTIES:
  Both strategies are deterministic and order-independent. ThresholdPolicy is
  monotonic: raising attendance or score never raises risk; raising days
  overdue never lowers it.

SEE ALSO:
  - recompute.go: Derives Signals from facts and writes cached fields
  - school/types.go: Thresholds and RiskLevel
*/
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/warp/risk-engine/school"
)

// Signals bundles everything a policy may look at for one student.
// ThresholdPolicy reads the first three fields; WeightedPolicy reads the
// rest. Recompute fills them all so the strategies stay interchangeable.
type Signals struct {
	AttendancePct  float64
	AvgScore       float64
	FeeDaysOverdue int

	PresentRate float64 // 0..1 over all attendance records
	MinScore    float64 // lowest exam score; ignored when HasExams is false
	HasExams    bool
	Outstanding decimal.Decimal // sum(due) - sum(paid) across all fee records
}

// Policy is one interchangeable risk-aggregation strategy.
type Policy interface {
	Name() string
	Evaluate(th school.Thresholds, s Signals) school.RiskLevel
}

// ForMode returns the strategy selected by the settings. Unknown or empty
// modes fall back to the threshold strategy.
func ForMode(mode school.ScoringMode) Policy {
	if mode == school.ScoringWeighted {
		return WeightedPolicy{}
	}
	return ThresholdPolicy{}
}

// =============================================================================
// THRESHOLD POLICY - Two-threshold bucketing, max-severity aggregation
// =============================================================================

type ThresholdPolicy struct{}

func (ThresholdPolicy) Name() string { return string(school.ScoringThreshold) }

// Components returns the three independent component risks before
// aggregation. Exposed separately so callers (and tests) can see which
// signal drove the verdict.
func (ThresholdPolicy) Components(th school.Thresholds, s Signals) (attendance, score, fee school.RiskLevel) {
	// Attendance and score: risk falls as the input rises.
	attendance = bucketDescending(s.AttendancePct, th.AttendanceLow, th.AttendanceMedium)
	score = bucketDescending(s.AvgScore, th.ScoreLow, th.ScoreMedium)

	// Fee: risk rises with days overdue. The direction reversal relative to
	// the other two components is intentional.
	switch {
	case s.FeeDaysOverdue >= th.FeeDaysOverdueHigh:
		fee = school.RiskHigh
	case s.FeeDaysOverdue >= th.FeeDaysOverdueMedium:
		fee = school.RiskMedium
	default:
		fee = school.RiskLow
	}
	return attendance, score, fee
}

func (p ThresholdPolicy) Evaluate(th school.Thresholds, s Signals) school.RiskLevel {
	att, score, fee := p.Components(th, s)
	return school.MaxRisk(att, score, fee)
}

// bucketDescending classifies a value where bigger is better:
// >= low cut is low risk, >= medium cut is medium risk, else high.
func bucketDescending(value, lowCut, mediumCut float64) school.RiskLevel {
	switch {
	case value >= lowCut:
		return school.RiskLow
	case value >= mediumCut:
		return school.RiskMedium
	default:
		return school.RiskHigh
	}
}

// =============================================================================
// WEIGHTED POLICY - Legacy binary-indicator weighted sum
// =============================================================================

// Legacy cut points. The weighted formula always used these fixed values;
// deliberately not part of Thresholds.
const (
	legacyPresentRateCut = 0.75
	legacyMinScoreCut    = 40.0

	legacyAttendanceWeight = 0.4
	legacyExamWeight       = 0.4
	legacyFeeWeight        = 0.2

	legacyHighCut   = 0.7
	legacyMediumCut = 0.4
)

type WeightedPolicy struct{}

func (WeightedPolicy) Name() string { return string(school.ScoringWeighted) }

// Score returns the raw weighted score in [0, 1].
func (WeightedPolicy) Score(s Signals) float64 {
	var att, exam, fee float64
	if s.PresentRate < legacyPresentRateCut {
		att = 1
	}
	if s.HasExams && s.MinScore < legacyMinScoreCut {
		exam = 1
	}
	if s.Outstanding.IsPositive() {
		fee = 1
	}
	return legacyAttendanceWeight*att + legacyExamWeight*exam + legacyFeeWeight*fee
}

func (p WeightedPolicy) Evaluate(_ school.Thresholds, s Signals) school.RiskLevel {
	score := p.Score(s)
	switch {
	case score >= legacyHighCut:
		return school.RiskHigh
	case score >= legacyMediumCut:
		return school.RiskMedium
	default:
		return school.RiskLow
	}
}
