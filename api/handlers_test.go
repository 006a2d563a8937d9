/*
handlers_test.go - HTTP-level tests for the API surface

Tests drive the real router with httptest over the in-memory store, so the
routes, JSON shapes, and status codes are exercised exactly as a client
sees them.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/warp/risk-engine/notify"
	"github.com/warp/risk-engine/report"
	"github.com/warp/risk-engine/risk"
	"github.com/warp/risk-engine/school"
	"github.com/warp/risk-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store, *notify.Memory) {
	t.Helper()
	store := memory.New()
	transport := &notify.Memory{}
	cycle := report.NewCycle(store, risk.NewRecomputer(store), transport, transport)
	handler := NewHandler(store, cycle)

	srv := httptest.NewServer(NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, store, transport
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func uploadRows(t *testing.T, srv *httptest.Server, kind string, rows []map[string]string) UploadResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/upload", map[string]any{"kind": kind, "rows": rows})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload returned %d", resp.StatusCode)
	}
	return decode[UploadResponse](t, resp)
}

// =============================================================================
// HEALTH AND SETTINGS
// =============================================================================

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSettings_DefaultsOnFirstGet(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/settings", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	dto := decode[SettingsDTO](t, resp)
	if dto.AttendanceLow != 90 || dto.ScoringMode != "threshold" {
		t.Errorf("unexpected defaults: %+v", dto)
	}
}

func TestSettings_UpdateRoundTrips(t *testing.T) {
	srv, _, _ := newTestServer(t)

	update := SettingsDTO{
		AttendanceLow: 85, AttendanceMedium: 70,
		ScoreLow: 65, ScoreMedium: 45,
		FeeDaysOverdueMedium: 5, FeeDaysOverdueHigh: 20,
		ScoringMode: "weighted",
	}
	resp := doJSON(t, http.MethodPut, srv.URL+"/api/settings", update)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/settings", nil)
	got := decode[SettingsDTO](t, resp)
	if got != update {
		t.Errorf("round trip mismatch: sent %+v, got %+v", update, got)
	}
}

func TestSettings_InvalidOrderingRejected(t *testing.T) {
	// attendance_low below attendance_medium breaks the cut ordering
	srv, _, _ := newTestServer(t)

	bad := SettingsDTO{
		AttendanceLow: 50, AttendanceMedium: 75,
		ScoreLow: 70, ScoreMedium: 50,
		FeeDaysOverdueMedium: 7, FeeDaysOverdueHigh: 30,
	}
	resp := doJSON(t, http.MethodPut, srv.URL+"/api/settings", bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	errResp := decode[ErrorResponse](t, resp)
	if errResp.Details == "" {
		t.Error("expected validation details in error response")
	}
}

// =============================================================================
// UPLOAD
// =============================================================================

func TestUpload_AttendanceSheet(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res := uploadRows(t, srv, "attendance", []map[string]string{
		{"student_id": "s-1", "present": "yes", "date": "2025-05-01", "name": "Amina K"},
		{"student_id": "s-1", "present": "no", "date": "2025-05-02"},
		{"student_id": "s-1", "present": "banana", "date": "2025-05-03"},
	})
	if res.Imported != 2 || res.Dropped != 1 {
		t.Errorf("expected 2 imported / 1 dropped, got %+v", res)
	}
}

func TestUpload_MissingColumns400(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/upload", map[string]any{
		"kind": "fees",
		"rows": []map[string]string{{"student_id": "s-1"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUpload_UnknownKind400(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/upload", map[string]any{
		"kind": "report-cards",
		"rows": []map[string]string{{"student_id": "s-1"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// =============================================================================
// STUDENTS
// =============================================================================

func TestStudents_ListAndFilter(t *testing.T) {
	srv, _, _ := newTestServer(t)

	uploadRows(t, srv, "attendance", []map[string]string{
		{"student_id": "s-1", "present": "no", "class_id": "7A"},
		{"student_id": "s-2", "present": "yes", "class_id": "7B"},
	})
	uploadRows(t, srv, "exams", []map[string]string{
		{"student_id": "s-1", "subject": "Math", "score": "30"},
		{"student_id": "s-2", "subject": "Math", "score": "85"},
	})
	// Classify so the risk filter has something to match.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admin/recompute", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recompute returned %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/students", nil)
	all := decode[[]StudentSummaryDTO](t, resp)
	if len(all) != 2 {
		t.Fatalf("expected 2 students, got %d", len(all))
	}
	if all[0].ClassName != "7A" {
		t.Errorf("expected class_name 7A, got %q", all[0].ClassName)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/students?risk=high", nil)
	high := decode[[]StudentSummaryDTO](t, resp)
	if len(high) != 1 || high[0].ID != "s-1" {
		t.Errorf("expected only s-1 at high risk, got %+v", high)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/students?risk=catastrophic", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad risk filter, got %d", resp.StatusCode)
	}
}

func TestStudents_DetailIncludesHistory(t *testing.T) {
	srv, _, _ := newTestServer(t)

	uploadRows(t, srv, "exams", []map[string]string{
		{"student_id": "s-1", "subject": "Math", "score": "72", "date": "2025-05-01"},
	})
	uploadRows(t, srv, "fees", []map[string]string{
		{"student_id": "s-1", "due_date": "2025-04-01", "amount_due": "100", "amount_paid": "40"},
	})

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/students/s-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	detail := decode[StudentDetailDTO](t, resp)
	if len(detail.Exams) != 1 || detail.Exams[0].Score != 72 {
		t.Errorf("unexpected exams: %+v", detail.Exams)
	}
	if len(detail.Fees) != 1 || detail.Fees[0].AmountDue != "100" {
		t.Errorf("unexpected fees: %+v", detail.Fees)
	}
}

func TestStudents_Unknown404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/students/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

// =============================================================================
// CONTACTS
// =============================================================================

func TestContacts_CreateAndList(t *testing.T) {
	srv, _, _ := newTestServer(t)

	uploadRows(t, srv, "attendance", []map[string]string{
		{"student_id": "s-1", "present": "yes"},
	})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/contacts", CreateContactRequest{
		StudentID: "s-1", Type: "parent", Name: "P. Parent", Email: "p@example.com",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/contacts?student_id=s-1", nil)
	contacts := decode[[]ContactDTO](t, resp)
	if len(contacts) != 1 || contacts[0].Email != "p@example.com" {
		t.Errorf("unexpected contacts: %+v", contacts)
	}
}

func TestContacts_ValidationAndMissingStudent(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// No email and no phone
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/contacts", CreateContactRequest{
		StudentID: "s-1", Type: "parent", Name: "P",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}

	// Well-formed but for a student that does not exist
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/contacts", CreateContactRequest{
		StudentID: "ghost", Type: "mentor", Name: "M", Phone: "+1555",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

// =============================================================================
// METRICS AND ADMIN
// =============================================================================

func TestMetrics_RiskSummaryAfterCycle(t *testing.T) {
	srv, _, transport := newTestServer(t)

	uploadRows(t, srv, "attendance", []map[string]string{
		{"student_id": "s-1", "present": "no"},
		{"student_id": "s-2", "present": "yes"},
	})
	uploadRows(t, srv, "exams", []map[string]string{
		{"student_id": "s-1", "subject": "Math", "score": "30"},
		{"student_id": "s-2", "subject": "Math", "score": "85"},
	})
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/contacts", CreateContactRequest{
		StudentID: "s-1", Type: "parent", Name: "P", Email: "p@example.com",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("contact create returned %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/admin/run-cycle", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run-cycle returned %d", resp.StatusCode)
	}
	cycleRes := decode[CycleResponse](t, resp)
	if cycleRes.Reports != 2 || cycleRes.Notified != 1 {
		t.Errorf("unexpected cycle result: %+v", cycleRes)
	}
	if len(transport.Messages) == 0 {
		t.Error("expected at least one alert to be recorded")
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/metrics/risk-summary", nil)
	summary := decode[map[string]int](t, resp)
	if summary["total"] != 2 || summary["high"] != 1 || summary["low"] != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestMetrics_EmptySeriesAreArrays(t *testing.T) {
	// Empty metric series must encode as [] rather than null.
	srv, _, _ := newTestServer(t)

	for _, path := range []string{
		"/api/metrics/attendance-trend",
		"/api/metrics/score-progression",
		"/api/metrics/subject-risk",
	} {
		resp := doJSON(t, http.MethodGet, srv.URL+path, nil)
		var raw json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if string(bytes.TrimSpace(raw)) == "null" {
			t.Errorf("%s returned null, want []", path)
		}
	}
}

// gateStore parks the first recompute pass inside ListStudents and tracks
// how many passes are reading students concurrently.
type gateStore struct {
	school.Store
	parked  chan struct{}
	release chan struct{}
	park    sync.Once

	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func (g *gateStore) ListStudents(ctx context.Context, f school.StudentFilter) ([]school.Student, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.maxSeen {
		g.maxSeen = g.inFlight
	}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	g.park.Do(func() {
		close(g.parked)
		<-g.release
	})
	return g.Store.ListStudents(ctx, f)
}

func TestAdmin_RecomputeSerializesWithCycleRecompute(t *testing.T) {
	// GIVEN: the cycle's recompute pass parked mid-flight
	// WHEN: the manual recompute endpoint fires
	// THEN: it waits for the running pass instead of interleaving with it

	store := memory.New()
	gate := &gateStore{Store: store, parked: make(chan struct{}), release: make(chan struct{})}
	cycle := report.NewCycle(gate, risk.NewRecomputer(gate), &notify.Memory{}, nil)
	h := NewHandler(gate, cycle)

	if h.Recomputer != cycle.Recomputer {
		t.Fatal("handler and cycle must share one recomputer")
	}

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		if _, err := cycle.Recomputer.RecomputeAll(context.Background()); err != nil {
			t.Errorf("cycle recompute: %v", err)
		}
	}()
	<-gate.parked

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		rr := httptest.NewRecorder()
		h.Recompute(rr, httptest.NewRequest(http.MethodPost, "/api/admin/recompute", nil))
		if rr.Code != http.StatusOK {
			t.Errorf("recompute returned %d", rr.Code)
		}
	}()

	select {
	case <-secondDone:
		t.Fatal("manual recompute completed while the cycle pass still held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	<-firstDone
	<-secondDone

	if gate.maxSeen != 1 {
		t.Errorf("recompute passes overlapped: %d concurrent student listings", gate.maxSeen)
	}
}

func TestAdmin_RecomputeCounts(t *testing.T) {
	srv, _, _ := newTestServer(t)

	uploadRows(t, srv, "attendance", []map[string]string{
		{"student_id": "s-1", "present": "yes"},
	})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admin/recompute", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	res := decode[RecomputeResponse](t, resp)
	if res.Students != 1 || res.Updated != 1 {
		t.Errorf("unexpected recompute result: %+v", res)
	}
}
