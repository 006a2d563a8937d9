/*
handlers.go - HTTP API handlers for the dropout-risk engine

PURPOSE:
  Exposes the risk engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Settings:
    GET    /api/settings               Current risk thresholds
    PUT    /api/settings               Replace risk thresholds

  Upload:
    POST   /api/upload                 Ingest one sheet of records

  Students:
    GET    /api/students               List students (class/subject/risk filters)
    GET    /api/students/{id}          Student detail with full history

  Reference data:
    GET    /api/classes                List classrooms
    GET    /api/subjects               List subjects
    GET    /api/contacts               Contacts for ?student_id=
    POST   /api/contacts               Register a contact

  Metrics:
    GET    /api/metrics/risk-summary
    GET    /api/metrics/attendance-trend
    GET    /api/metrics/score-progression
    GET    /api/metrics/subject-risk

  Admin:
    POST   /api/admin/recompute        Recompute all risk levels now
    POST   /api/admin/run-cycle        Run the weekly cycle now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (cycle already running)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/risk-engine/ingest"
	"github.com/warp/risk-engine/metrics"
	"github.com/warp/risk-engine/report"
	"github.com/warp/risk-engine/risk"
	"github.com/warp/risk-engine/school"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      school.Store
	Normalizer *ingest.Normalizer
	Recomputer *risk.Recomputer
	Summarizer *metrics.Summarizer
	Cycle      *report.Cycle
}

// NewHandler wires a handler over the given store and cycle. The recomputer
// is the cycle's own, so a manual recompute and a scheduled cycle pass
// serialize on the same lock instead of interleaving.
func NewHandler(store school.Store, cycle *report.Cycle) *Handler {
	return &Handler{
		Store:      store,
		Normalizer: ingest.NewNormalizer(store),
		Recomputer: cycle.Recomputer,
		Summarizer: metrics.NewSummarizer(store),
		Cycle:      cycle,
	}
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// GetSettings returns the current thresholds, creating defaults on first read.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	th, err := risk.EnsureThresholds(r.Context(), h.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(th))
}

// UpdateSettings replaces the thresholds after validating their ordering.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var dto SettingsDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return
	}

	th := dto.toDomain()
	if th.ScoringMode == "" {
		th.ScoringMode = school.ScoringThreshold
	}
	if err := th.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings", err)
		return
	}
	if err := h.Store.SaveThresholds(r.Context(), th); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(th))
}

// =============================================================================
// UPLOAD HANDLER
// =============================================================================

// Upload ingests one sheet of attendance/exam/fee rows. Sheet-level problems
// (unknown kind, missing columns) are 400; bad rows are dropped and counted.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return
	}

	res, err := h.Normalizer.Import(r.Context(), ingest.Kind(req.Kind), req.Rows)
	if err != nil {
		var verr *school.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, "Upload rejected", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Upload failed", err)
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{Imported: res.Imported, Dropped: res.Dropped})
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns student summaries, optionally filtered by
// class_id, subject_id, and risk query parameters.
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := school.StudentFilter{
		ClassID:   q.Get("class_id"),
		SubjectID: q.Get("subject_id"),
	}
	if riskParam := q.Get("risk"); riskParam != "" {
		if !school.ValidRiskLevel(riskParam) {
			writeError(w, http.StatusBadRequest, "Invalid risk filter", nil)
			return
		}
		filter.Risk = school.RiskLevel(riskParam)
	}

	students, err := h.Store.ListStudents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list students", err)
		return
	}
	classNames, err := h.classNames(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list classrooms", err)
		return
	}

	dtos := make([]StudentSummaryDTO, len(students))
	for i, st := range students {
		dtos[i] = toStudentSummaryDTO(st, classNames[st.ClassID])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStudent returns one student with full record history and contacts.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	st, err := h.Store.GetStudent(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get student", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}

	attendance, err := h.Store.AttendanceByStudent(ctx, id, noSince)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load attendance", err)
		return
	}
	exams, err := h.Store.ExamsByStudent(ctx, id, noSince)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load exams", err)
		return
	}
	fees, err := h.Store.FeesByStudent(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load fees", err)
		return
	}
	contacts, err := h.Store.ContactsByStudent(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load contacts", err)
		return
	}
	classNames, err := h.classNames(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list classrooms", err)
		return
	}

	writeJSON(w, http.StatusOK, StudentDetailDTO{
		StudentSummaryDTO: toStudentSummaryDTO(*st, classNames[st.ClassID]),
		Attendance:        toAttendanceDTOs(attendance),
		Exams:             toExamDTOs(exams),
		Fees:              toFeeDTOs(fees),
		Contacts:          toContactDTOs(contacts),
	})
}

func (h *Handler) classNames(r *http.Request) (map[string]string, error) {
	classrooms, err := h.Store.ListClassrooms(r.Context())
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(classrooms))
	for _, c := range classrooms {
		names[c.ID] = c.Name
	}
	return names, nil
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

// ListClasses returns all classrooms.
func (h *Handler) ListClasses(w http.ResponseWriter, r *http.Request) {
	classrooms, err := h.Store.ListClassrooms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list classrooms", err)
		return
	}
	dtos := make([]ClassroomDTO, len(classrooms))
	for i, c := range classrooms {
		dtos[i] = ClassroomDTO{ID: c.ID, Name: c.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListSubjects returns all subjects.
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.Store.ListSubjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list subjects", err)
		return
	}
	dtos := make([]SubjectDTO, len(subjects))
	for i, s := range subjects {
		dtos[i] = SubjectDTO{ID: s.ID, Name: s.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListContacts returns the contacts for ?student_id=.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	studentID := r.URL.Query().Get("student_id")
	if studentID == "" {
		writeError(w, http.StatusBadRequest, "student_id query parameter is required", nil)
		return
	}
	contacts, err := h.Store.ContactsByStudent(r.Context(), studentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list contacts", err)
		return
	}
	writeJSON(w, http.StatusOK, toContactDTOs(contacts))
}

// CreateContact registers an alert recipient for a student.
func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return
	}

	var problems []string
	if req.StudentID == "" {
		problems = append(problems, "student_id is required")
	}
	if req.Name == "" {
		problems = append(problems, "name is required")
	}
	if req.Email == "" && req.Phone == "" {
		problems = append(problems, "at least one of email, phone is required")
	}
	ctype := school.ContactType(req.Type)
	if ctype != school.ContactParent && ctype != school.ContactMentor {
		problems = append(problems, "type must be parent or mentor")
	}
	if len(problems) > 0 {
		writeError(w, http.StatusBadRequest, "Invalid contact",
			&school.ValidationError{Subject: "contact", Problems: problems})
		return
	}

	st, err := h.Store.GetStudent(ctx, req.StudentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get student", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}

	contact := school.Contact{
		ID:        uuid.NewString(),
		StudentID: req.StudentID,
		Type:      ctype,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
	}
	if err := h.Store.SaveContact(ctx, contact); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save contact", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContactDTOs([]school.Contact{contact})[0])
}

// =============================================================================
// METRICS HANDLERS
// =============================================================================

// RiskSummary returns the risk-level distribution.
func (h *Handler) RiskSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	summary, err := h.Summarizer.RiskSummary(r.Context(), q.Get("class_id"), q.Get("subject_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute risk summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// AttendanceTrend returns the per-date attendance percentage series.
func (h *Handler) AttendanceTrend(w http.ResponseWriter, r *http.Request) {
	points, err := h.Summarizer.AttendanceTrend(r.Context(), r.URL.Query().Get("class_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute attendance trend", err)
		return
	}
	if points == nil {
		points = []metrics.TrendPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// ScoreProgression returns the per-date mean score series.
func (h *Handler) ScoreProgression(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	points, err := h.Summarizer.ScoreProgression(r.Context(), q.Get("class_id"), q.Get("subject_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute score progression", err)
		return
	}
	if points == nil {
		points = []metrics.ScorePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// SubjectRisk returns the per-subject risk breakdown.
func (h *Handler) SubjectRisk(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Summarizer.SubjectRisk(r.Context(), r.URL.Query().Get("class_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute subject risk", err)
		return
	}
	if rows == nil {
		rows = []metrics.SubjectRiskRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Recompute re-derives every student's risk level immediately.
// POST /api/admin/recompute
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	res, err := h.Recomputer.RecomputeAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Recompute failed", err)
		return
	}
	writeJSON(w, http.StatusOK, RecomputeResponse{
		Students: res.Students,
		Updated:  res.Updated,
		Skipped:  res.Skipped,
	})
}

// RunCycle runs the full weekly cycle immediately. A run overlapping another
// returns 409.
// POST /api/admin/run-cycle
func (h *Handler) RunCycle(w http.ResponseWriter, r *http.Request) {
	res, err := h.Cycle.Run(r.Context())
	if err != nil {
		if errors.Is(err, school.ErrCycleInProgress) {
			writeError(w, http.StatusConflict, "Weekly cycle already running", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Weekly cycle failed", err)
		return
	}
	writeJSON(w, http.StatusOK, CycleResponse{
		Recompute: RecomputeResponse{
			Students: res.Recompute.Students,
			Updated:  res.Recompute.Updated,
			Skipped:  res.Recompute.Skipped,
		},
		Reports:  res.Reports,
		Notified: res.Notified,
		Skipped:  res.Skipped,
	})
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// noSince is the zero time, meaning "all history" for the *ByStudent queries.
var noSince time.Time

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
