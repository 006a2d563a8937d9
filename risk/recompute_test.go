package risk_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/risk-engine/risk"
	"github.com/warp/risk-engine/school"
	"github.com/warp/risk-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.May, 15, 12, 0, 0, 0, time.UTC)

func newTestRecomputer() (*risk.Recomputer, *memory.Store) {
	store := memory.New()
	r := risk.NewRecomputer(store)
	r.Now = func() time.Time { return testNow }
	return r, store
}

func addStudent(t *testing.T, store *memory.Store, id string) {
	t.Helper()
	require.NoError(t, store.SaveStudent(context.Background(), school.Student{
		ID:   id,
		Name: school.PlaceholderName(id),
	}))
}

func day(offset int) time.Time {
	return testNow.AddDate(0, 0, offset).Truncate(24 * time.Hour)
}

func addAttendance(t *testing.T, store *memory.Store, studentID string, present ...bool) {
	t.Helper()
	for i, p := range present {
		require.NoError(t, store.AppendAttendance(context.Background(), school.AttendanceRecord{
			StudentID: studentID,
			Date:      day(-len(present) + i),
			Present:   p,
		}))
	}
}

func addFee(t *testing.T, store *memory.Store, studentID string, due time.Time, amountDue, amountPaid int64) {
	t.Helper()
	require.NoError(t, store.AppendFeeRecord(context.Background(), school.FeeRecord{
		StudentID:  studentID,
		DueDate:    due,
		AmountDue:  decimal.NewFromInt(amountDue),
		AmountPaid: decimal.NewFromInt(amountPaid),
	}))
}

// =============================================================================
// DERIVATION TESTS
// =============================================================================

func TestRecompute_DerivesCachedFields(t *testing.T) {
	// GIVEN: 4 of 5 days present, two exams, no fee records
	// WHEN: Recomputing
	// THEN: attendance_pct=80, avg_score=mean, fee ok, risk from thresholds

	r, store := newTestRecomputer()
	ctx := context.Background()

	addStudent(t, store, "s-1")
	addAttendance(t, store, "s-1", true, true, true, true, false)
	require.NoError(t, store.AppendExamResult(ctx, school.ExamResult{StudentID: "s-1", SubjectID: "math", Date: day(-2), Score: 60}))
	require.NoError(t, store.AppendExamResult(ctx, school.ExamResult{StudentID: "s-1", SubjectID: "math", Date: day(-1), Score: 50}))

	res, err := r.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Students)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Skipped)

	st, err := store.GetStudent(ctx, "s-1")
	require.NoError(t, err)
	assert.InDelta(t, 80.0, st.AttendancePct, 1e-9)
	assert.InDelta(t, 55.0, st.AvgScore, 1e-9)
	assert.Equal(t, school.FeeOK, st.FeeStatus)
	// 80% attendance => medium, 55 avg => medium, fee low => medium overall
	assert.Equal(t, school.RiskMedium, st.RiskLevel)
}

func TestRecompute_NoRecords_ZeroSignalsReadHigh(t *testing.T) {
	// A student with no facts derives zero attendance and score, which the
	// default threshold mode reads as high risk: no data looks like absence.

	r, store := newTestRecomputer()
	ctx := context.Background()

	addStudent(t, store, "s-empty")

	_, err := r.RecomputeAll(ctx)
	require.NoError(t, err)

	st, err := store.GetStudent(ctx, "s-empty")
	require.NoError(t, err)
	assert.Zero(t, st.AttendancePct)
	assert.Zero(t, st.AvgScore)
	assert.Equal(t, school.FeeOK, st.FeeStatus)
	assert.Equal(t, school.RiskHigh, st.RiskLevel)
}

func TestRecompute_FeeStatusTransitions(t *testing.T) {
	r, store := newTestRecomputer()
	ctx := context.Background()

	// Fully paid => ok
	addStudent(t, store, "paid")
	addAttendance(t, store, "paid", true, true)
	addFee(t, store, "paid", day(-40), 100, 100)

	// Outstanding, due in the future => partial
	addStudent(t, store, "partial")
	addAttendance(t, store, "partial", true, true)
	addFee(t, store, "partial", day(10), 100, 50)

	// Outstanding, past due => overdue
	addStudent(t, store, "overdue")
	addAttendance(t, store, "overdue", true, true)
	addFee(t, store, "overdue", day(-10), 100, 0)

	_, err := r.RecomputeAll(ctx)
	require.NoError(t, err)

	for id, want := range map[string]school.FeeStatus{
		"paid":    school.FeeOK,
		"partial": school.FeePartial,
		"overdue": school.FeeOverdue,
	} {
		st, err := store.GetStudent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, st.FeeStatus, "student %s", id)
	}
}

func TestRecompute_LatestDueUnpaidRecordWins(t *testing.T) {
	// GIVEN: an old unpaid record (60 days overdue) and a newer unpaid one
	//        (5 days overdue)
	// THEN: days overdue come from the most-recently-due record, so the fee
	//       component reads medium-ish (5 days => low), not high

	r, store := newTestRecomputer()
	ctx := context.Background()

	addStudent(t, store, "s-1")
	addAttendance(t, store, "s-1", true, true, true, true, true)
	require.NoError(t, store.AppendExamResult(ctx, school.ExamResult{StudentID: "s-1", SubjectID: "sub", Date: day(-1), Score: 95}))
	addFee(t, store, "s-1", day(-60), 100, 0)
	addFee(t, store, "s-1", day(-5), 100, 0)

	_, err := r.RecomputeAll(ctx)
	require.NoError(t, err)

	st, err := store.GetStudent(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, school.FeeOverdue, st.FeeStatus)
	// 5 days overdue stays under the 7-day medium cut.
	assert.Equal(t, school.RiskLow, st.RiskLevel)
}

func TestRecompute_OverpaidRecordIsSettled(t *testing.T) {
	// A record paid above its due amount is settled and never drives overdue.

	r, store := newTestRecomputer()
	ctx := context.Background()

	addStudent(t, store, "s-1")
	addAttendance(t, store, "s-1", true)
	require.NoError(t, store.AppendExamResult(ctx, school.ExamResult{StudentID: "s-1", SubjectID: "sub", Date: day(-1), Score: 95}))
	addFee(t, store, "s-1", day(-90), 100, 120)

	_, err := r.RecomputeAll(ctx)
	require.NoError(t, err)

	st, err := store.GetStudent(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, school.FeeOK, st.FeeStatus)
}

func TestRecompute_Idempotent(t *testing.T) {
	// With no new facts, a second pass yields identical cached fields.

	r, store := newTestRecomputer()
	ctx := context.Background()

	addStudent(t, store, "s-1")
	addAttendance(t, store, "s-1", true, false, true)
	addFee(t, store, "s-1", day(-20), 100, 30)

	_, err := r.RecomputeAll(ctx)
	require.NoError(t, err)
	first, err := store.GetStudent(ctx, "s-1")
	require.NoError(t, err)

	_, err = r.RecomputeAll(ctx)
	require.NoError(t, err)
	second, err := store.GetStudent(ctx, "s-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRecompute_WeightedModeSelected(t *testing.T) {
	// GIVEN: settings in weighted mode; student with low present rate only
	// THEN: 0.4 alone => medium under the legacy formula

	r, store := newTestRecomputer()
	ctx := context.Background()

	th := school.DefaultThresholds()
	th.ScoringMode = school.ScoringWeighted
	require.NoError(t, store.SaveThresholds(ctx, th))

	addStudent(t, store, "s-1")
	addAttendance(t, store, "s-1", true, false, false, true) // 0.5 < 0.75
	require.NoError(t, store.AppendExamResult(ctx, school.ExamResult{StudentID: "s-1", SubjectID: "sub", Date: day(-1), Score: 80}))

	_, err := r.RecomputeAll(ctx)
	require.NoError(t, err)

	st, err := store.GetStudent(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, school.RiskMedium, st.RiskLevel)
}

// =============================================================================
// THRESHOLD BOOTSTRAP
// =============================================================================

func TestEnsureThresholds_CreatesDefaultsOnce(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	got, err := risk.EnsureThresholds(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, school.DefaultThresholds(), got)

	// A saved custom value survives subsequent calls.
	custom := school.DefaultThresholds()
	custom.AttendanceLow = 85
	require.NoError(t, store.SaveThresholds(ctx, custom))

	got, err = risk.EnsureThresholds(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, custom, got)
}
