/*
Package ingest normalizes raw spreadsheet rows into typed facts.

PURPOSE:
  Takes the tabular rows parsed upstream from an uploaded file, validates the
  header for the declared kind, coerces cell values, and appends the
  resulting facts - auto-creating referenced students and subjects with
  placeholder names on first sight.

CONTRACT:
  - Missing required columns are a ValidationError naming every missing
    column. This is reported to the caller, never silently skipped.
  - A row whose numeric/boolean/date cells cannot be coerced, or whose exam
    score falls outside the 0-100 scale, is dropped and counted; a bad row
    is never fatal.
  - Unknown kinds are a ValidationError.

REQUIRED COLUMNS:
  attendance  student_id, present
  exams       student_id, subject, score
  fees        student_id, due_date, amount_due, amount_paid

OPTIONAL COLUMNS:
  name (student display name), class_id, date (defaults to the upload day),
  paid_date (fees).

SEE ALSO:
  - school/errors.go: ValidationError
  - api/handlers.go: The upload endpoint calling Import
*/
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/risk-engine/school"
)

// Kind declares what an upload contains.
type Kind string

const (
	KindAttendance Kind = "attendance"
	KindExams      Kind = "exams"
	KindFees       Kind = "fees"
)

// Row is one spreadsheet row, keyed by column header. Cells arrive as text;
// coercion happens here.
type Row map[string]string

// ImportResult counts the outcome of one upload.
type ImportResult struct {
	Imported int
	Dropped  int
}

var requiredColumns = map[Kind][]string{
	KindAttendance: {"student_id", "present"},
	KindExams:      {"student_id", "subject", "score"},
	KindFees:       {"student_id", "due_date", "amount_due", "amount_paid"},
}

const dateLayout = "2006-01-02"

// Normalizer imports uploads into the store.
type Normalizer struct {
	Store school.Store

	// Now is injectable for tests; defaults to time.Now. Used as the fact
	// date when the upload has no date column.
	Now func() time.Time
}

func NewNormalizer(store school.Store) *Normalizer {
	return &Normalizer{Store: store, Now: time.Now}
}

// Import validates and imports rows of the declared kind, returning how many
// rows were imported and how many were dropped.
func (n *Normalizer) Import(ctx context.Context, kind Kind, rows []Row) (ImportResult, error) {
	required, ok := requiredColumns[kind]
	if !ok {
		return ImportResult{}, &school.ValidationError{
			Subject:  "upload",
			Problems: []string{fmt.Sprintf("unknown kind %q (expected attendance, exams, or fees)", kind)},
		}
	}
	if len(rows) == 0 {
		return ImportResult{}, nil
	}

	if missing := missingColumns(required, rows); len(missing) > 0 {
		return ImportResult{}, school.MissingColumnsError(string(kind), missing)
	}

	var res ImportResult
	for _, row := range rows {
		var err error
		switch kind {
		case KindAttendance:
			err = n.importAttendance(ctx, row)
		case KindExams:
			err = n.importExam(ctx, row)
		case KindFees:
			err = n.importFee(ctx, row)
		}
		if err != nil {
			// Row-level coercion failure: drop, don't fail the upload.
			res.Dropped++
			continue
		}
		res.Imported++
	}
	return res, nil
}

// missingColumns returns required columns absent from every row. Presence in
// any row counts: sparse JSON rows omit empty cells.
func missingColumns(required []string, rows []Row) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for col := range row {
			seen[strings.ToLower(strings.TrimSpace(col))] = true
		}
	}
	var missing []string
	for _, col := range required {
		if !seen[col] {
			missing = append(missing, col)
		}
	}
	return missing
}

// =============================================================================
// PER-KIND ROW IMPORTERS
// =============================================================================

func (n *Normalizer) importAttendance(ctx context.Context, row Row) error {
	studentID := cell(row, "student_id")
	if studentID == "" {
		return fmt.Errorf("empty student_id")
	}
	present, err := parseBool(cell(row, "present"))
	if err != nil {
		return err
	}
	date, err := n.rowDate(row)
	if err != nil {
		return err
	}
	if err := n.ensureStudent(ctx, studentID, row); err != nil {
		return err
	}
	return n.Store.AppendAttendance(ctx, school.AttendanceRecord{
		StudentID: studentID,
		Date:      date,
		Present:   present,
	})
}

func (n *Normalizer) importExam(ctx context.Context, row Row) error {
	studentID := cell(row, "student_id")
	subjectName := cell(row, "subject")
	if studentID == "" || subjectName == "" {
		return fmt.Errorf("empty student_id or subject")
	}
	score, err := strconv.ParseFloat(cell(row, "score"), 64)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	if score < 0 || score > 100 {
		return fmt.Errorf("score %v outside 0-100", score)
	}
	date, err := n.rowDate(row)
	if err != nil {
		return err
	}
	if err := n.ensureStudent(ctx, studentID, row); err != nil {
		return err
	}
	subject, err := n.ensureSubject(ctx, subjectName)
	if err != nil {
		return err
	}
	return n.Store.AppendExamResult(ctx, school.ExamResult{
		StudentID: studentID,
		SubjectID: subject.ID,
		Date:      date,
		Score:     score,
	})
}

func (n *Normalizer) importFee(ctx context.Context, row Row) error {
	studentID := cell(row, "student_id")
	if studentID == "" {
		return fmt.Errorf("empty student_id")
	}
	dueDate, err := time.Parse(dateLayout, cell(row, "due_date"))
	if err != nil {
		return fmt.Errorf("due_date: %w", err)
	}
	amountDue, err := decimal.NewFromString(cell(row, "amount_due"))
	if err != nil {
		return fmt.Errorf("amount_due: %w", err)
	}
	amountPaid, err := decimal.NewFromString(cell(row, "amount_paid"))
	if err != nil {
		return fmt.Errorf("amount_paid: %w", err)
	}
	var paidDate *time.Time
	if raw := cell(row, "paid_date"); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return fmt.Errorf("paid_date: %w", err)
		}
		paidDate = &d
	}
	if err := n.ensureStudent(ctx, studentID, row); err != nil {
		return err
	}
	return n.Store.AppendFeeRecord(ctx, school.FeeRecord{
		StudentID:  studentID,
		DueDate:    dueDate,
		PaidDate:   paidDate,
		AmountDue:  amountDue,
		AmountPaid: amountPaid,
	})
}

// =============================================================================
// ENTITY UPSERTS
// =============================================================================

// ensureStudent creates the referenced student on first sight with a
// placeholder name (or the row's name column when present), so uploads in
// any order always attach to a listable student.
func (n *Normalizer) ensureStudent(ctx context.Context, studentID string, row Row) error {
	existing, err := n.Store.GetStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	name := cell(row, "name")
	if name == "" {
		name = school.PlaceholderName(studentID)
	}
	classID := cell(row, "class_id")
	if classID != "" {
		if err := n.Store.SaveClassroom(ctx, school.Classroom{ID: classID, Name: classID}); err != nil {
			return err
		}
	}
	return n.Store.SaveStudent(ctx, school.Student{ID: studentID, Name: name, ClassID: classID})
}

func (n *Normalizer) ensureSubject(ctx context.Context, name string) (*school.Subject, error) {
	existing, err := n.Store.GetSubjectByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	subject := school.Subject{ID: uuid.NewString(), Name: name}
	if err := n.Store.SaveSubject(ctx, subject); err != nil {
		return nil, err
	}
	return &subject, nil
}

// =============================================================================
// CELL COERCION
// =============================================================================

func cell(row Row, col string) string {
	if v, ok := row[col]; ok {
		return strings.TrimSpace(v)
	}
	// Tolerate headers with stray case/whitespace.
	for k, v := range row {
		if strings.EqualFold(strings.TrimSpace(k), col) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// parseBool accepts the spellings spreadsheets actually contain: true/false,
// yes/no, and numerics (non-zero is present).
func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "true", "yes", "y":
		return true, nil
	case "false", "no", "n":
		return false, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, fmt.Errorf("present: %w", err)
	}
	return f != 0, nil
}

func (n *Normalizer) rowDate(row Row) (time.Time, error) {
	raw := cell(row, "date")
	if raw == "" {
		now := time.Now()
		if n.Now != nil {
			now = n.Now()
		}
		return now.Truncate(24 * time.Hour), nil
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date: %w", err)
	}
	return d, nil
}
