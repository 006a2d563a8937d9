package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/risk-engine/metrics"
	"github.com/warp/risk-engine/school"
	"github.com/warp/risk-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func date(day int) time.Time {
	return time.Date(2025, time.May, day, 0, 0, 0, 0, time.UTC)
}

func seedStudent(t *testing.T, store *memory.Store, id, classID string, level school.RiskLevel) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveStudent(ctx, school.Student{ID: id, Name: id, ClassID: classID}))
	require.NoError(t, store.UpdateStudentDerived(ctx, id, 0, 0, school.FeeOK, level))
}

// =============================================================================
// RISK SUMMARY
// =============================================================================

func TestRiskSummary_CountsPerLevel(t *testing.T) {
	store := memory.New()
	seedStudent(t, store, "a", "c1", school.RiskLow)
	seedStudent(t, store, "b", "c1", school.RiskMedium)
	seedStudent(t, store, "c", "c2", school.RiskHigh)
	seedStudent(t, store, "d", "c2", school.RiskHigh)

	s := metrics.NewSummarizer(store)

	all, err := s.RiskSummary(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, metrics.RiskSummary{Total: 4, Low: 1, Medium: 1, High: 2}, all)

	c1, err := s.RiskSummary(context.Background(), "c1", "")
	require.NoError(t, err)
	assert.Equal(t, metrics.RiskSummary{Total: 2, Low: 1, Medium: 1}, c1)
}

func TestRiskSummary_Empty(t *testing.T) {
	s := metrics.NewSummarizer(memory.New())

	summary, err := s.RiskSummary(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, metrics.RiskSummary{}, summary)
}

// =============================================================================
// ATTENDANCE TREND
// =============================================================================

func TestAttendanceTrend_BucketsByDateSortedAscending(t *testing.T) {
	// GIVEN: day 2 has 1/2 present, day 1 has 2/2 present (inserted out of
	//        order)
	// THEN: points come back date-ascending with rounded percentages

	store := memory.New()
	ctx := context.Background()
	seedStudent(t, store, "a", "c1", school.RiskLow)
	seedStudent(t, store, "b", "c1", school.RiskLow)

	for _, r := range []school.AttendanceRecord{
		{StudentID: "a", Date: date(2), Present: true},
		{StudentID: "b", Date: date(2), Present: false},
		{StudentID: "a", Date: date(1), Present: true},
		{StudentID: "b", Date: date(1), Present: true},
	} {
		require.NoError(t, store.AppendAttendance(ctx, r))
	}

	points, err := metrics.NewSummarizer(store).AttendanceTrend(ctx, "")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, metrics.TrendPoint{Date: "2025-05-01", Pct: 100}, points[0])
	assert.Equal(t, metrics.TrendPoint{Date: "2025-05-02", Pct: 50}, points[1])
}

func TestAttendanceTrend_RoundsToOneDecimal(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedStudent(t, store, "a", "", school.RiskLow)

	// 1 of 3 present => 33.333...% => 33.3
	require.NoError(t, store.AppendAttendance(ctx, school.AttendanceRecord{StudentID: "a", Date: date(1), Present: true}))
	require.NoError(t, store.AppendAttendance(ctx, school.AttendanceRecord{StudentID: "a", Date: date(1), Present: false}))
	require.NoError(t, store.AppendAttendance(ctx, school.AttendanceRecord{StudentID: "a", Date: date(1), Present: false}))

	points, err := metrics.NewSummarizer(store).AttendanceTrend(ctx, "")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 33.3, points[0].Pct)
}

func TestAttendanceTrend_ClassFilter(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedStudent(t, store, "in", "c1", school.RiskLow)
	seedStudent(t, store, "out", "c2", school.RiskLow)

	require.NoError(t, store.AppendAttendance(ctx, school.AttendanceRecord{StudentID: "in", Date: date(1), Present: false}))
	require.NoError(t, store.AppendAttendance(ctx, school.AttendanceRecord{StudentID: "out", Date: date(1), Present: true}))

	points, err := metrics.NewSummarizer(store).AttendanceTrend(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 0.0, points[0].Pct)
}

// =============================================================================
// SCORE PROGRESSION
// =============================================================================

func TestScoreProgression_MeanPerDate(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedStudent(t, store, "a", "c1", school.RiskLow)
	require.NoError(t, store.SaveSubject(ctx, school.Subject{ID: "sub-m", Name: "Math"}))

	for _, e := range []school.ExamResult{
		{StudentID: "a", SubjectID: "sub-m", Date: date(3), Score: 70},
		{StudentID: "a", SubjectID: "sub-m", Date: date(3), Score: 81},
		{StudentID: "a", SubjectID: "sub-m", Date: date(5), Score: 90},
	} {
		require.NoError(t, store.AppendExamResult(ctx, e))
	}

	points, err := metrics.NewSummarizer(store).ScoreProgression(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, metrics.ScorePoint{Date: "2025-05-03", Avg: 75.5}, points[0])
	assert.Equal(t, metrics.ScorePoint{Date: "2025-05-05", Avg: 90}, points[1])
}

func TestScoreProgression_SubjectFilter(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedStudent(t, store, "a", "c1", school.RiskLow)

	require.NoError(t, store.AppendExamResult(ctx, school.ExamResult{StudentID: "a", SubjectID: "sub-m", Date: date(1), Score: 40}))
	require.NoError(t, store.AppendExamResult(ctx, school.ExamResult{StudentID: "a", SubjectID: "sub-p", Date: date(1), Score: 100}))

	points, err := metrics.NewSummarizer(store).ScoreProgression(ctx, "", "sub-m")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 40.0, points[0].Avg)
}

// =============================================================================
// SUBJECT RISK
// =============================================================================

func TestSubjectRisk_DistinctStudentsPerSubject(t *testing.T) {
	// GIVEN: student a (high) with two Math exams, student b (low) with one
	//        Math exam and one Physics exam
	// THEN: Math counts a once under high and b once under low; Physics
	//       counts only b

	store := memory.New()
	ctx := context.Background()
	seedStudent(t, store, "a", "c1", school.RiskHigh)
	seedStudent(t, store, "b", "c1", school.RiskLow)
	require.NoError(t, store.SaveSubject(ctx, school.Subject{ID: "sub-m", Name: "Math"}))
	require.NoError(t, store.SaveSubject(ctx, school.Subject{ID: "sub-p", Name: "Physics"}))

	for _, e := range []school.ExamResult{
		{StudentID: "a", SubjectID: "sub-m", Date: date(1), Score: 20},
		{StudentID: "a", SubjectID: "sub-m", Date: date(2), Score: 30},
		{StudentID: "b", SubjectID: "sub-m", Date: date(1), Score: 90},
		{StudentID: "b", SubjectID: "sub-p", Date: date(1), Score: 85},
	} {
		require.NoError(t, store.AppendExamResult(ctx, e))
	}

	rows, err := metrics.NewSummarizer(store).SubjectRisk(ctx, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Sorted by subject name: Math, Physics.
	assert.Equal(t, "Math", rows[0].SubjectName)
	assert.Equal(t, 1, rows[0].High)
	assert.Equal(t, 1, rows[0].Low)
	assert.Equal(t, 0, rows[0].Medium)

	assert.Equal(t, "Physics", rows[1].SubjectName)
	assert.Equal(t, 1, rows[1].Low)
	assert.Equal(t, 0, rows[1].High)
}

func TestSubjectRisk_SubjectWithNoExams_ZeroRow(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.SaveSubject(ctx, school.Subject{ID: "sub-m", Name: "Math"}))

	rows, err := metrics.NewSummarizer(store).SubjectRisk(ctx, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, metrics.SubjectRiskRow{SubjectID: "sub-m", SubjectName: "Math"}, rows[0])
}
