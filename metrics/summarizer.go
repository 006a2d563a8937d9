/*
Package metrics derives read-only summaries from the stored facts.

PURPOSE:
  The dashboard views: risk distribution, attendance trend over time, score
  progression over time, and the per-subject risk breakdown. All are pure
  reads - nothing here mutates state - and all tolerate empty buckets by
  yielding 0 rather than dividing by zero.

FILTERS:
  Each summary accepts the class and/or subject filters its view supports.
  Empty filter values mean "all".

SEE ALSO:
  - school/store.go: The queries these summaries are built from
  - api/handlers.go: The /api/metrics endpoints
*/
package metrics

import (
	"context"
	"math"
	"sort"

	"github.com/warp/risk-engine/school"
)

const dateLayout = "2006-01-02"

// Summarizer computes aggregate views over the store.
type Summarizer struct {
	Store school.Store
}

func NewSummarizer(store school.Store) *Summarizer {
	return &Summarizer{Store: store}
}

// =============================================================================
// RISK SUMMARY
// =============================================================================

// RiskSummary counts students per cached risk level.
type RiskSummary struct {
	Total  int `json:"total"`
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

func (s *Summarizer) RiskSummary(ctx context.Context, classID, subjectID string) (RiskSummary, error) {
	students, err := s.Store.ListStudents(ctx, school.StudentFilter{ClassID: classID, SubjectID: subjectID})
	if err != nil {
		return RiskSummary{}, err
	}
	summary := RiskSummary{Total: len(students)}
	for _, st := range students {
		switch st.RiskLevel {
		case school.RiskHigh:
			summary.High++
		case school.RiskMedium:
			summary.Medium++
		default:
			summary.Low++
		}
	}
	return summary, nil
}

// =============================================================================
// ATTENDANCE TREND
// =============================================================================

// TrendPoint is the percentage present on one date.
type TrendPoint struct {
	Date string  `json:"date"`
	Pct  float64 `json:"pct"`
}

// AttendanceTrend returns, for each date with records, the percentage
// present, rounded to one decimal and sorted ascending by date.
func (s *Summarizer) AttendanceTrend(ctx context.Context, classID string) ([]TrendPoint, error) {
	records, err := s.Store.ListAttendance(ctx, classID)
	if err != nil {
		return nil, err
	}

	type bucket struct{ present, total int }
	byDate := make(map[string]*bucket)
	for _, r := range records {
		key := r.Date.Format(dateLayout)
		b := byDate[key]
		if b == nil {
			b = &bucket{}
			byDate[key] = b
		}
		b.total++
		if r.Present {
			b.present++
		}
	}

	points := make([]TrendPoint, 0, len(byDate))
	for date, b := range byDate {
		points = append(points, TrendPoint{Date: date, Pct: round1(pct(b.present, b.total))})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}

// =============================================================================
// SCORE PROGRESSION
// =============================================================================

// ScorePoint is the mean exam score on one date.
type ScorePoint struct {
	Date string  `json:"date"`
	Avg  float64 `json:"avg"`
}

// ScoreProgression returns, for each date with exam records, the mean score,
// rounded to one decimal and sorted ascending by date.
func (s *Summarizer) ScoreProgression(ctx context.Context, classID, subjectID string) ([]ScorePoint, error) {
	exams, err := s.Store.ListExamResults(ctx, classID, subjectID)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		sum   float64
		count int
	}
	byDate := make(map[string]*bucket)
	for _, e := range exams {
		key := e.Date.Format(dateLayout)
		b := byDate[key]
		if b == nil {
			b = &bucket{}
			byDate[key] = b
		}
		b.sum += e.Score
		b.count++
	}

	points := make([]ScorePoint, 0, len(byDate))
	for date, b := range byDate {
		avg := 0.0
		if b.count > 0 {
			avg = b.sum / float64(b.count)
		}
		points = append(points, ScorePoint{Date: date, Avg: round1(avg)})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}

// =============================================================================
// SUBJECT RISK BREAKDOWN
// =============================================================================

// SubjectRiskRow counts distinct students per risk level among students with
// at least one exam result in the subject, using the cached risk level.
type SubjectRiskRow struct {
	SubjectID   string `json:"subject_id"`
	SubjectName string `json:"subject_name"`
	Low         int    `json:"low"`
	Medium      int    `json:"medium"`
	High        int    `json:"high"`
}

func (s *Summarizer) SubjectRisk(ctx context.Context, classID string) ([]SubjectRiskRow, error) {
	subjects, err := s.Store.ListSubjects(ctx)
	if err != nil {
		return nil, err
	}
	students, err := s.Store.ListStudents(ctx, school.StudentFilter{ClassID: classID})
	if err != nil {
		return nil, err
	}
	riskByStudent := make(map[string]school.RiskLevel, len(students))
	for _, st := range students {
		riskByStudent[st.ID] = st.RiskLevel
	}

	exams, err := s.Store.ListExamResults(ctx, classID, "")
	if err != nil {
		return nil, err
	}
	// subject -> set of students seen, to count each student once.
	seen := make(map[string]map[string]bool)
	for _, e := range exams {
		if _, ok := riskByStudent[e.StudentID]; !ok {
			continue
		}
		if seen[e.SubjectID] == nil {
			seen[e.SubjectID] = make(map[string]bool)
		}
		seen[e.SubjectID][e.StudentID] = true
	}

	rows := make([]SubjectRiskRow, 0, len(subjects))
	for _, subject := range subjects {
		row := SubjectRiskRow{SubjectID: subject.ID, SubjectName: subject.Name}
		for studentID := range seen[subject.ID] {
			switch riskByStudent[studentID] {
			case school.RiskHigh:
				row.High++
			case school.RiskMedium:
				row.Medium++
			default:
				row.Low++
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SubjectName < rows[j].SubjectName })
	return rows, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// pct guards the empty bucket: no records means 0, never a division error.
func pct(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
