/*
Package sqlite provides the SQLite-backed implementation of school.Store.

PURPOSE:
  Production persistence for students, classrooms, subjects, the three
  append-only fact tables, the singleton settings row, and contacts.

APPEND-ONLY ENFORCEMENT:
  The fact tables (attendance, exam_results, fee_payments) only ever see
  INSERTs. There are no UPDATE or DELETE statements for them; risk recompute
  always reads the accumulated history.

KEY TABLES:
  students      Identity plus cached derived fields (risk, percentages)
  attendance    (student_id, date, present) facts
  exam_results  (student_id, subject_id, date, score) facts
  fee_payments  (student_id, due_date, paid_date, amounts) facts
  settings      One row (id=1) of threshold cut points
  contacts      Alert recipients per student
  cycle_state   One row (id=1) recording the last completed weekly cycle

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of WAL mode. Derived-field
  updates are one UPDATE statement per student, so each student's cache is
  written atomically.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/risk.db")   // ":memory:" for tests
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - school/store.go: Interface definition
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/risk-engine/school"
)

const dateLayout = "2006-01-02"

// Store implements school.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ school.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS classrooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		class_id TEXT,
		attendance_pct REAL NOT NULL DEFAULT 0,
		avg_score REAL NOT NULL DEFAULT 0,
		fee_status TEXT NOT NULL DEFAULT 'ok',
		risk_level TEXT NOT NULL DEFAULT 'low',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_students_class ON students(class_id);
	CREATE INDEX IF NOT EXISTS idx_students_risk ON students(risk_level);

	-- Facts: append-only, never updated or deleted
	CREATE TABLE IF NOT EXISTS attendance (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id TEXT NOT NULL,
		date TEXT NOT NULL,
		present INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_student_date
		ON attendance(student_id, date);
	CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(date);

	CREATE TABLE IF NOT EXISTS exam_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		date TEXT NOT NULL,
		score REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_exams_student_date
		ON exam_results(student_id, date);
	CREATE INDEX IF NOT EXISTS idx_exams_subject ON exam_results(subject_id);

	CREATE TABLE IF NOT EXISTS fee_payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id TEXT NOT NULL,
		due_date TEXT NOT NULL,
		paid_date TEXT,
		amount_due TEXT NOT NULL,
		amount_paid TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fees_student_due
		ON fee_payments(student_id, due_date);

	-- Singleton threshold settings (id is always 1)
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		attendance_low REAL NOT NULL,
		attendance_medium REAL NOT NULL,
		score_low REAL NOT NULL,
		score_medium REAL NOT NULL,
		fee_days_overdue_medium INTEGER NOT NULL,
		fee_days_overdue_high INTEGER NOT NULL,
		scoring_mode TEXT NOT NULL DEFAULT 'threshold'
	);

	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_contacts_student ON contacts(student_id);

	-- Singleton weekly-cycle bookkeeping (id is always 1)
	CREATE TABLE IF NOT EXISTS cycle_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_run_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STUDENTS
// =============================================================================

// SaveStudent inserts a student or updates identity fields (name, class) of
// an existing one. Derived fields are owned by UpdateStudentDerived and are
// never touched here.
func (s *Store) SaveStudent(ctx context.Context, st school.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, name, class_id, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			class_id = COALESCE(excluded.class_id, students.class_id)`,
		st.ID, st.Name, st.ClassID, createdAt.Format(time.RFC3339))
	return err
}

func (s *Store) GetStudent(ctx context.Context, id string) (*school.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(class_id, ''), attendance_pct, avg_score,
		       fee_status, risk_level, created_at
		FROM students WHERE id = ?`, id)
	st, err := scanStudent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) ListStudents(ctx context.Context, f school.StudentFilter) ([]school.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT DISTINCT s.id, s.name, COALESCE(s.class_id, ''), s.attendance_pct,
		       s.avg_score, s.fee_status, s.risk_level, s.created_at
		FROM students s`
	var where []string
	var args []any

	if f.SubjectID != "" {
		query += ` JOIN exam_results e ON e.student_id = s.id`
		where = append(where, "e.subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.ClassID != "" {
		where = append(where, "s.class_id = ?")
		args = append(args, f.ClassID)
	}
	if f.Risk != "" {
		where = append(where, "s.risk_level = ?")
		args = append(args, string(f.Risk))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []school.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, *st)
	}
	return students, rows.Err()
}

func (s *Store) UpdateStudentDerived(ctx context.Context, id string, attendancePct, avgScore float64, feeStatus school.FeeStatus, level school.RiskLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE students
		SET attendance_pct = ?, avg_score = ?, fee_status = ?, risk_level = ?
		WHERE id = ?`,
		attendancePct, avgScore, string(feeStatus), string(level), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &school.NotFoundError{Entity: "student", ID: id}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (*school.Student, error) {
	var st school.Student
	var feeStatus, riskLevel, createdAt string
	err := row.Scan(&st.ID, &st.Name, &st.ClassID, &st.AttendancePct,
		&st.AvgScore, &feeStatus, &riskLevel, &createdAt)
	if err != nil {
		return nil, err
	}
	st.FeeStatus = school.FeeStatus(feeStatus)
	st.RiskLevel = school.RiskLevel(riskLevel)
	st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &st, nil
}

// =============================================================================
// CLASSROOMS AND SUBJECTS
// =============================================================================

func (s *Store) SaveClassroom(ctx context.Context, c school.Classroom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classrooms (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		c.ID, c.Name)
	return err
}

func (s *Store) ListClassrooms(ctx context.Context) ([]school.Classroom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM classrooms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var classrooms []school.Classroom
	for rows.Next() {
		var c school.Classroom
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		classrooms = append(classrooms, c)
	}
	return classrooms, rows.Err()
}

func (s *Store) SaveSubject(ctx context.Context, sub school.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subjects (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		sub.ID, sub.Name)
	return err
}

func (s *Store) GetSubjectByName(ctx context.Context, name string) (*school.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sub school.Subject
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM subjects WHERE name = ?`, name).
		Scan(&sub.ID, &sub.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) ListSubjects(ctx context.Context) ([]school.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM subjects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []school.Subject
	for rows.Next() {
		var sub school.Subject
		if err := rows.Scan(&sub.ID, &sub.Name); err != nil {
			return nil, err
		}
		subjects = append(subjects, sub)
	}
	return subjects, rows.Err()
}

// =============================================================================
// ATTENDANCE FACTS
// =============================================================================

func (s *Store) AppendAttendance(ctx context.Context, r school.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance (student_id, date, present) VALUES (?, ?, ?)`,
		r.StudentID, r.Date.Format(dateLayout), boolToInt(r.Present))
	return err
}

func (s *Store) AttendanceByStudent(ctx context.Context, studentID string, since time.Time) ([]school.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, student_id, date, present FROM attendance WHERE student_id = ?`
	args := []any{studentID}
	if !since.IsZero() {
		query += ` AND date >= ?`
		args = append(args, since.Format(dateLayout))
	}
	query += ` ORDER BY date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttendance(rows)
}

func (s *Store) ListAttendance(ctx context.Context, classID string) ([]school.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT a.id, a.student_id, a.date, a.present FROM attendance a`
	var args []any
	if classID != "" {
		query += ` JOIN students s ON s.id = a.student_id WHERE s.class_id = ?`
		args = append(args, classID)
	}
	query += ` ORDER BY a.date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttendance(rows)
}

func scanAttendance(rows *sql.Rows) ([]school.AttendanceRecord, error) {
	var records []school.AttendanceRecord
	for rows.Next() {
		var r school.AttendanceRecord
		var date string
		var present int
		if err := rows.Scan(&r.ID, &r.StudentID, &date, &present); err != nil {
			return nil, err
		}
		r.Date, _ = time.Parse(dateLayout, date)
		r.Present = present != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// =============================================================================
// EXAM FACTS
// =============================================================================

func (s *Store) AppendExamResult(ctx context.Context, r school.ExamResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exam_results (student_id, subject_id, date, score)
		VALUES (?, ?, ?, ?)`,
		r.StudentID, r.SubjectID, r.Date.Format(dateLayout), r.Score)
	return err
}

func (s *Store) ExamsByStudent(ctx context.Context, studentID string, since time.Time) ([]school.ExamResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, student_id, subject_id, date, score FROM exam_results WHERE student_id = ?`
	args := []any{studentID}
	if !since.IsZero() {
		query += ` AND date >= ?`
		args = append(args, since.Format(dateLayout))
	}
	query += ` ORDER BY date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExams(rows)
}

func (s *Store) ListExamResults(ctx context.Context, classID, subjectID string) ([]school.ExamResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT e.id, e.student_id, e.subject_id, e.date, e.score FROM exam_results e`
	var where []string
	var args []any
	if classID != "" {
		query += ` JOIN students s ON s.id = e.student_id`
		where = append(where, "s.class_id = ?")
		args = append(args, classID)
	}
	if subjectID != "" {
		where = append(where, "e.subject_id = ?")
		args = append(args, subjectID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY e.date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExams(rows)
}

func scanExams(rows *sql.Rows) ([]school.ExamResult, error) {
	var exams []school.ExamResult
	for rows.Next() {
		var e school.ExamResult
		var date string
		if err := rows.Scan(&e.ID, &e.StudentID, &e.SubjectID, &date, &e.Score); err != nil {
			return nil, err
		}
		e.Date, _ = time.Parse(dateLayout, date)
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// =============================================================================
// FEE FACTS
// =============================================================================

func (s *Store) AppendFeeRecord(ctx context.Context, r school.FeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var paidDate any
	if r.PaidDate != nil {
		paidDate = r.PaidDate.Format(dateLayout)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fee_payments (student_id, due_date, paid_date, amount_due, amount_paid)
		VALUES (?, ?, ?, ?, ?)`,
		r.StudentID, r.DueDate.Format(dateLayout), paidDate,
		r.AmountDue.String(), r.AmountPaid.String())
	return err
}

func (s *Store) FeesByStudent(ctx context.Context, studentID string) ([]school.FeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, due_date, paid_date, amount_due, amount_paid
		FROM fee_payments WHERE student_id = ? ORDER BY due_date`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fees []school.FeeRecord
	for rows.Next() {
		var f school.FeeRecord
		var dueDate string
		var paidDate sql.NullString
		var amountDue, amountPaid string
		if err := rows.Scan(&f.ID, &f.StudentID, &dueDate, &paidDate, &amountDue, &amountPaid); err != nil {
			return nil, err
		}
		f.DueDate, _ = time.Parse(dateLayout, dueDate)
		if paidDate.Valid {
			d, _ := time.Parse(dateLayout, paidDate.String)
			f.PaidDate = &d
		}
		if f.AmountDue, err = decimal.NewFromString(amountDue); err != nil {
			return nil, fmt.Errorf("amount_due for fee %d: %w", f.ID, err)
		}
		if f.AmountPaid, err = decimal.NewFromString(amountPaid); err != nil {
			return nil, fmt.Errorf("amount_paid for fee %d: %w", f.ID, err)
		}
		fees = append(fees, f)
	}
	return fees, rows.Err()
}

// =============================================================================
// THRESHOLD SETTINGS
// =============================================================================

func (s *Store) GetThresholds(ctx context.Context) (*school.Thresholds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t school.Thresholds
	var mode string
	err := s.db.QueryRowContext(ctx, `
		SELECT attendance_low, attendance_medium, score_low, score_medium,
		       fee_days_overdue_medium, fee_days_overdue_high, scoring_mode
		FROM settings WHERE id = 1`).
		Scan(&t.AttendanceLow, &t.AttendanceMedium, &t.ScoreLow, &t.ScoreMedium,
			&t.FeeDaysOverdueMedium, &t.FeeDaysOverdueHigh, &mode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.ScoringMode = school.ScoringMode(mode)
	return &t, nil
}

func (s *Store) SaveThresholds(ctx context.Context, t school.Thresholds) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ScoringMode == "" {
		t.ScoringMode = school.ScoringThreshold
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, attendance_low, attendance_medium, score_low,
			score_medium, fee_days_overdue_medium, fee_days_overdue_high, scoring_mode)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			attendance_low = excluded.attendance_low,
			attendance_medium = excluded.attendance_medium,
			score_low = excluded.score_low,
			score_medium = excluded.score_medium,
			fee_days_overdue_medium = excluded.fee_days_overdue_medium,
			fee_days_overdue_high = excluded.fee_days_overdue_high,
			scoring_mode = excluded.scoring_mode`,
		t.AttendanceLow, t.AttendanceMedium, t.ScoreLow, t.ScoreMedium,
		t.FeeDaysOverdueMedium, t.FeeDaysOverdueHigh, string(t.ScoringMode))
	return err
}

// =============================================================================
// CONTACTS
// =============================================================================

func (s *Store) SaveContact(ctx context.Context, c school.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, student_id, type, name, email, phone)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			student_id = excluded.student_id,
			type = excluded.type,
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone`,
		c.ID, c.StudentID, string(c.Type), c.Name, c.Email, c.Phone)
	return err
}

func (s *Store) ContactsByStudent(ctx context.Context, studentID string) ([]school.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, type, name, COALESCE(email, ''), COALESCE(phone, '')
		FROM contacts WHERE student_id = ? ORDER BY id`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []school.Contact
	for rows.Next() {
		var c school.Contact
		var ctype string
		if err := rows.Scan(&c.ID, &c.StudentID, &ctype, &c.Name, &c.Email, &c.Phone); err != nil {
			return nil, err
		}
		c.Type = school.ContactType(ctype)
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// =============================================================================
// CYCLE BOOKKEEPING
// =============================================================================

func (s *Store) GetLastCycleRun(ctx context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT last_run_at FROM cycle_state WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("last_run_at: %w", err)
	}
	return &at, nil
}

func (s *Store) SetLastCycleRun(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycle_state (id, last_run_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_run_at = excluded.last_run_at`,
		at.Format(time.RFC3339))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
