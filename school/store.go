/*
store.go - Persistence interface for the domain

PURPOSE:
  Defines the contract between domain logic and storage. Facts are
  append-only; Student derived fields are updated atomically per student via
  a single dedicated method so uploads can never race a recompute into a
  half-written state.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - store/memory: In-memory store for tests/dev

APPEND-ONLY CONTRACT:
  Attendance, exam, and fee records have Append* methods only. No update or
  delete exists; recompute always reads the accumulated history.

SEE ALSO:
  - types.go: Entities persisted here
  - risk/recompute.go: The only writer of Student derived fields
*/
package school

import (
	"context"
	"time"
)

// StudentFilter narrows ListStudents. Zero values mean "no filter".
// SubjectID selects students with at least one exam result in that subject.
type StudentFilter struct {
	ClassID   string
	SubjectID string
	Risk      RiskLevel
}

// Store handles persistence of all domain entities.
//
// Fact queries take a `since` lower bound; the zero time means "all history".
// The weekly cycle passes a 7-day bound, recompute passes zero.
type Store interface {
	// Students
	SaveStudent(ctx context.Context, s Student) error
	GetStudent(ctx context.Context, id string) (*Student, error)
	ListStudents(ctx context.Context, f StudentFilter) ([]Student, error)

	// UpdateStudentDerived overwrites the cached derived fields for one
	// student atomically. Returns ErrNotFound if the student is missing.
	UpdateStudentDerived(ctx context.Context, id string, attendancePct, avgScore float64, feeStatus FeeStatus, level RiskLevel) error

	// Classrooms and subjects
	SaveClassroom(ctx context.Context, c Classroom) error
	ListClassrooms(ctx context.Context) ([]Classroom, error)
	SaveSubject(ctx context.Context, s Subject) error
	GetSubjectByName(ctx context.Context, name string) (*Subject, error)
	ListSubjects(ctx context.Context) ([]Subject, error)

	// Facts (append-only)
	AppendAttendance(ctx context.Context, r AttendanceRecord) error
	AttendanceByStudent(ctx context.Context, studentID string, since time.Time) ([]AttendanceRecord, error)
	ListAttendance(ctx context.Context, classID string) ([]AttendanceRecord, error)

	AppendExamResult(ctx context.Context, r ExamResult) error
	ExamsByStudent(ctx context.Context, studentID string, since time.Time) ([]ExamResult, error)
	ListExamResults(ctx context.Context, classID, subjectID string) ([]ExamResult, error)

	AppendFeeRecord(ctx context.Context, r FeeRecord) error
	FeesByStudent(ctx context.Context, studentID string) ([]FeeRecord, error)

	// Thresholds (singleton; (nil, nil) when not yet configured)
	GetThresholds(ctx context.Context) (*Thresholds, error)
	SaveThresholds(ctx context.Context, t Thresholds) error

	// Contacts
	SaveContact(ctx context.Context, c Contact) error
	ContactsByStudent(ctx context.Context, studentID string) ([]Contact, error)

	// Cycle bookkeeping. The weekly cycle records its completion time so a
	// process restart on the fire day does not re-send the week's alerts.
	// GetLastCycleRun returns (nil, nil) when no cycle has ever completed.
	GetLastCycleRun(ctx context.Context) (*time.Time, error)
	SetLastCycleRun(ctx context.Context, at time.Time) error
}
