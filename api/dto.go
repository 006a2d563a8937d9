/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers and domain types, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - school/types.go: The domain model behind them
*/
package api

import (
	"github.com/warp/risk-engine/ingest"
	"github.com/warp/risk-engine/school"
)

// =============================================================================
// SETTINGS
// =============================================================================

// SettingsDTO carries the risk thresholds over the wire.
type SettingsDTO struct {
	AttendanceLow        float64 `json:"attendance_low"`
	AttendanceMedium     float64 `json:"attendance_medium"`
	ScoreLow             float64 `json:"score_low"`
	ScoreMedium          float64 `json:"score_medium"`
	FeeDaysOverdueMedium int     `json:"fee_days_overdue_medium"`
	FeeDaysOverdueHigh   int     `json:"fee_days_overdue_high"`
	ScoringMode          string  `json:"scoring_mode"`
}

func toSettingsDTO(t school.Thresholds) SettingsDTO {
	return SettingsDTO{
		AttendanceLow:        t.AttendanceLow,
		AttendanceMedium:     t.AttendanceMedium,
		ScoreLow:             t.ScoreLow,
		ScoreMedium:          t.ScoreMedium,
		FeeDaysOverdueMedium: t.FeeDaysOverdueMedium,
		FeeDaysOverdueHigh:   t.FeeDaysOverdueHigh,
		ScoringMode:          string(t.ScoringMode),
	}
}

func (d SettingsDTO) toDomain() school.Thresholds {
	return school.Thresholds{
		AttendanceLow:        d.AttendanceLow,
		AttendanceMedium:     d.AttendanceMedium,
		ScoreLow:             d.ScoreLow,
		ScoreMedium:          d.ScoreMedium,
		FeeDaysOverdueMedium: d.FeeDaysOverdueMedium,
		FeeDaysOverdueHigh:   d.FeeDaysOverdueHigh,
		ScoringMode:          school.ScoringMode(d.ScoringMode),
	}
}

// =============================================================================
// UPLOAD
// =============================================================================

// UploadRequest is one sheet of rows plus the kind of records it holds.
type UploadRequest struct {
	Kind string       `json:"kind"`
	Rows []ingest.Row `json:"rows"`
}

// UploadResponse reports how the sheet was consumed.
type UploadResponse struct {
	Imported int `json:"imported"`
	Dropped  int `json:"dropped"`
}

// =============================================================================
// STUDENTS
// =============================================================================

// StudentSummaryDTO is the list-view shape of a student.
type StudentSummaryDTO struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	ClassID       string  `json:"class_id,omitempty"`
	ClassName     string  `json:"class_name,omitempty"`
	AttendancePct float64 `json:"attendance_pct"`
	AvgScore      float64 `json:"avg_score"`
	FeeStatus     string  `json:"fee_status"`
	RiskLevel     string  `json:"risk_level"`
}

// StudentDetailDTO adds the record history and contacts to the summary.
type StudentDetailDTO struct {
	StudentSummaryDTO
	Attendance []AttendanceDTO `json:"attendance"`
	Exams      []ExamDTO       `json:"exams"`
	Fees       []FeeDTO        `json:"fees"`
	Contacts   []ContactDTO    `json:"contacts"`
}

type AttendanceDTO struct {
	Date    string `json:"date"`
	Present bool   `json:"present"`
}

type ExamDTO struct {
	SubjectID string  `json:"subject_id"`
	Date      string  `json:"date"`
	Score     float64 `json:"score"`
}

type FeeDTO struct {
	DueDate    string  `json:"due_date"`
	PaidDate   *string `json:"paid_date,omitempty"`
	AmountDue  string  `json:"amount_due"`
	AmountPaid string  `json:"amount_paid"`
}

// ContactDTO represents an alert recipient.
type ContactDTO struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// CreateContactRequest is the request to register a contact for a student.
type CreateContactRequest struct {
	StudentID string `json:"student_id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// =============================================================================
// CLASSROOMS AND SUBJECTS
// =============================================================================

type ClassroomDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SubjectDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// =============================================================================
// ADMIN
// =============================================================================

// RecomputeResponse reports one recompute pass.
type RecomputeResponse struct {
	Students int `json:"students"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// CycleResponse reports one weekly cycle run.
type CycleResponse struct {
	Recompute RecomputeResponse `json:"recompute"`
	Reports   int               `json:"reports"`
	Notified  int               `json:"notified"`
	Skipped   int               `json:"skipped"`
}

// ErrorResponse is the uniform error shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

const dateLayout = "2006-01-02"

func toStudentSummaryDTO(st school.Student, className string) StudentSummaryDTO {
	return StudentSummaryDTO{
		ID:            st.ID,
		Name:          st.Name,
		ClassID:       st.ClassID,
		ClassName:     className,
		AttendancePct: st.AttendancePct,
		AvgScore:      st.AvgScore,
		FeeStatus:     string(st.FeeStatus),
		RiskLevel:     string(st.RiskLevel),
	}
}

func toAttendanceDTOs(records []school.AttendanceRecord) []AttendanceDTO {
	dtos := make([]AttendanceDTO, len(records))
	for i, r := range records {
		dtos[i] = AttendanceDTO{Date: r.Date.Format(dateLayout), Present: r.Present}
	}
	return dtos
}

func toExamDTOs(exams []school.ExamResult) []ExamDTO {
	dtos := make([]ExamDTO, len(exams))
	for i, e := range exams {
		dtos[i] = ExamDTO{SubjectID: e.SubjectID, Date: e.Date.Format(dateLayout), Score: e.Score}
	}
	return dtos
}

func toFeeDTOs(fees []school.FeeRecord) []FeeDTO {
	dtos := make([]FeeDTO, len(fees))
	for i, f := range fees {
		dto := FeeDTO{
			DueDate:    f.DueDate.Format(dateLayout),
			AmountDue:  f.AmountDue.String(),
			AmountPaid: f.AmountPaid.String(),
		}
		if f.PaidDate != nil {
			paid := f.PaidDate.Format(dateLayout)
			dto.PaidDate = &paid
		}
		dtos[i] = dto
	}
	return dtos
}

func toContactDTOs(contacts []school.Contact) []ContactDTO {
	dtos := make([]ContactDTO, len(contacts))
	for i, c := range contacts {
		dtos[i] = ContactDTO{
			ID:        c.ID,
			StudentID: c.StudentID,
			Type:      string(c.Type),
			Name:      c.Name,
			Email:     c.Email,
			Phone:     c.Phone,
		}
	}
	return dtos
}
