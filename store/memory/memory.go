// Package memory provides an in-memory school.Store implementation
// (for testing/dev). Created at startup, reset only via Clear; never
// ambient global state.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/risk-engine/school"
)

type Store struct {
	mu sync.RWMutex

	students   map[string]school.Student
	classrooms map[string]school.Classroom
	subjects   map[string]school.Subject

	attendance []school.AttendanceRecord
	exams      []school.ExamResult
	fees       []school.FeeRecord

	thresholds   *school.Thresholds
	contacts     []school.Contact
	lastCycleRun *time.Time

	nextID int64
}

var _ school.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		students:   make(map[string]school.Student),
		classrooms: make(map[string]school.Classroom),
		subjects:   make(map[string]school.Subject),
	}
}

// Clear resets all state. Explicit lifecycle operation for tests/dev.
func (m *Store) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students = make(map[string]school.Student)
	m.classrooms = make(map[string]school.Classroom)
	m.subjects = make(map[string]school.Subject)
	m.attendance = nil
	m.exams = nil
	m.fees = nil
	m.thresholds = nil
	m.contacts = nil
	m.lastCycleRun = nil
	m.nextID = 0
}

// =============================================================================
// STUDENTS
// =============================================================================

func (m *Store) SaveStudent(_ context.Context, s school.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.students[s.ID]; ok {
		// Preserve derived fields; SaveStudent only owns identity.
		s.AttendancePct = existing.AttendancePct
		s.AvgScore = existing.AvgScore
		s.FeeStatus = existing.FeeStatus
		s.RiskLevel = existing.RiskLevel
		s.CreatedAt = existing.CreatedAt
	} else {
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now()
		}
		if s.FeeStatus == "" {
			s.FeeStatus = school.FeeOK
		}
		if s.RiskLevel == "" {
			s.RiskLevel = school.RiskLow
		}
	}
	m.students[s.ID] = s
	return nil
}

func (m *Store) GetStudent(_ context.Context, id string) (*school.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *Store) ListStudents(_ context.Context, f school.StudentFilter) ([]school.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var inSubject map[string]bool
	if f.SubjectID != "" {
		inSubject = make(map[string]bool)
		for _, e := range m.exams {
			if e.SubjectID == f.SubjectID {
				inSubject[e.StudentID] = true
			}
		}
	}

	var result []school.Student
	for _, s := range m.students {
		if f.ClassID != "" && s.ClassID != f.ClassID {
			continue
		}
		if f.Risk != "" && s.RiskLevel != f.Risk {
			continue
		}
		if inSubject != nil && !inSubject[s.ID] {
			continue
		}
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Store) UpdateStudentDerived(_ context.Context, id string, attendancePct, avgScore float64, feeStatus school.FeeStatus, level school.RiskLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return &school.NotFoundError{Entity: "student", ID: id}
	}
	s.AttendancePct = attendancePct
	s.AvgScore = avgScore
	s.FeeStatus = feeStatus
	s.RiskLevel = level
	m.students[id] = s
	return nil
}

// =============================================================================
// CLASSROOMS AND SUBJECTS
// =============================================================================

func (m *Store) SaveClassroom(_ context.Context, c school.Classroom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classrooms[c.ID] = c
	return nil
}

func (m *Store) ListClassrooms(_ context.Context) ([]school.Classroom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]school.Classroom, 0, len(m.classrooms))
	for _, c := range m.classrooms {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Store) SaveSubject(_ context.Context, s school.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[s.ID] = s
	return nil
}

func (m *Store) GetSubjectByName(_ context.Context, name string) (*school.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subjects {
		if s.Name == name {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (m *Store) ListSubjects(_ context.Context) ([]school.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]school.Subject, 0, len(m.subjects))
	for _, s := range m.subjects {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// =============================================================================
// FACTS (append-only)
// =============================================================================

func (m *Store) AppendAttendance(_ context.Context, r school.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	m.attendance = append(m.attendance, r)
	return nil
}

func (m *Store) AttendanceByStudent(_ context.Context, studentID string, since time.Time) ([]school.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []school.AttendanceRecord
	for _, a := range m.attendance {
		if a.StudentID == studentID && !a.Date.Before(since) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (m *Store) ListAttendance(_ context.Context, classID string) ([]school.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []school.AttendanceRecord
	for _, a := range m.attendance {
		if classID != "" && m.students[a.StudentID].ClassID != classID {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

func (m *Store) AppendExamResult(_ context.Context, r school.ExamResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	m.exams = append(m.exams, r)
	return nil
}

func (m *Store) ExamsByStudent(_ context.Context, studentID string, since time.Time) ([]school.ExamResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []school.ExamResult
	for _, e := range m.exams {
		if e.StudentID == studentID && !e.Date.Before(since) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Store) ListExamResults(_ context.Context, classID, subjectID string) ([]school.ExamResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []school.ExamResult
	for _, e := range m.exams {
		if subjectID != "" && e.SubjectID != subjectID {
			continue
		}
		if classID != "" && m.students[e.StudentID].ClassID != classID {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (m *Store) AppendFeeRecord(_ context.Context, r school.FeeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	m.fees = append(m.fees, r)
	return nil
}

func (m *Store) FeesByStudent(_ context.Context, studentID string) ([]school.FeeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []school.FeeRecord
	for _, f := range m.fees {
		if f.StudentID == studentID {
			result = append(result, f)
		}
	}
	return result, nil
}

// =============================================================================
// THRESHOLDS AND CONTACTS
// =============================================================================

func (m *Store) GetThresholds(_ context.Context) (*school.Thresholds, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.thresholds == nil {
		return nil, nil
	}
	t := *m.thresholds
	return &t, nil
}

func (m *Store) SaveThresholds(_ context.Context, t school.Thresholds) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = &t
	return nil
}

func (m *Store) SaveContact(_ context.Context, c school.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.contacts {
		if existing.ID == c.ID {
			m.contacts[i] = c
			return nil
		}
	}
	m.contacts = append(m.contacts, c)
	return nil
}

func (m *Store) ContactsByStudent(_ context.Context, studentID string) ([]school.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []school.Contact
	for _, c := range m.contacts {
		if c.StudentID == studentID {
			result = append(result, c)
		}
	}
	return result, nil
}

// =============================================================================
// CYCLE BOOKKEEPING
// =============================================================================

func (m *Store) GetLastCycleRun(_ context.Context) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastCycleRun == nil {
		return nil, nil
	}
	at := *m.lastCycleRun
	return &at, nil
}

func (m *Store) SetLastCycleRun(_ context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCycleRun = &at
	return nil
}
