package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ipulse-dev/ipulse/internal/bridge"
	"github.com/ipulse-dev/ipulse/internal/config"
	"github.com/ipulse-dev/ipulse/internal/domain"
	"github.com/ipulse-dev/ipulse/internal/identity"
	"github.com/ipulse-dev/ipulse/internal/importer"
	"github.com/ipulse-dev/ipulse/internal/session"
	"github.com/ipulse-dev/ipulse/internal/store"
)

type appEnv struct {
	router   *chi.Mux
	repo     *store.SQLiteStore
	sessions *session.MemoryStore
}

func newAppEnv(t *testing.T, portal *fakePortal) *appEnv {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	sessions := session.NewMemoryStore()
	var client *bridge.Client
	if portal != nil {
		client = bridge.New(portal.server(t).URL, sessions, 30*time.Minute, 5*time.Second)
	}

	base := NewHandler(repo, client, importer.New(repo), &config.Config{RankboardMinParticipants: 3})

	r := chi.NewRouter()
	NewStudentHandler(base).RegisterRoutes(r)
	return &appEnv{router: r, repo: repo, sessions: sessions}
}

// as issues a request carrying the given device identity.
func (e *appEnv) as(t *testing.T, anonID, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if anonID != "" {
		req = req.WithContext(identity.ContextWithAnonID(req.Context(), anonID))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func seedStudent(t *testing.T, e *appEnv, enrollmentNo, anonID string, fn func(*domain.Student)) {
	t.Helper()
	st := &domain.Student{
		EnrollmentNo: enrollmentNo,
		Name:         "Asha Verma",
		Branch:       "CSE",
		Batch:        "2022",
		DisplayMode:  domain.DisplayAnonymous,
	}
	if fn != nil {
		fn(st)
	}
	if err := e.repo.UpsertStudent(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if anonID != "" {
		if err := e.repo.LinkIdentity(context.Background(), anonID, enrollmentNo); err != nil {
			t.Fatal(err)
		}
	}
}

func seedRecord(t *testing.T, e *appEnv, enrollmentNo string, semester, marks, credits int) {
	t.Helper()
	rec := &domain.AcademicRecord{
		EnrollmentNo: enrollmentNo,
		Semester:     semester,
		Subjects: []domain.Subject{{
			PaperCode:  "CS10" + string(rune('0'+semester)),
			TotalMarks: marks,
			GradePoint: 0,
			Credits:    credits,
		}},
	}
	if err := e.repo.UpsertRecord(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
}

const anonA = "anon_0123456789abcdef0123456789abcdef"
const anonB = "anon_fedcba9876543210fedcba9876543210"

func TestGetMeUnlinked(t *testing.T) {
	e := newAppEnv(t, nil)

	rec := e.as(t, anonA, http.MethodGet, "/api/me", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGetMeLinked(t *testing.T) {
	e := newAppEnv(t, nil)
	seedStudent(t, e, "01234567890", anonA, nil)

	rec := e.as(t, anonA, http.MethodGet, "/api/me", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var st domain.Student
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.EnrollmentNo != "01234567890" || st.Name != "Asha Verma" {
		t.Errorf("unexpected profile: %+v", st)
	}
}

func TestGetStudentRequiresOwnership(t *testing.T) {
	e := newAppEnv(t, nil)
	seedStudent(t, e, "01234567890", anonA, nil)

	rec := e.as(t, anonB, http.MethodGet, "/api/students/01234567890/", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	rec = e.as(t, anonA, http.MethodGet, "/api/students/01234567890/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestUpdatePrivacyLogsChangedConsents(t *testing.T) {
	e := newAppEnv(t, nil)
	seedStudent(t, e, "01234567890", anonA, nil)

	payload, _ := json.Marshal(map[string]any{
		"consent_analytics": true,
		"consent_rankboard": true,
		"display_mode":      "named",
	})
	rec := e.as(t, anonA, http.MethodPut, "/api/students/01234567890/privacy", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	st, err := e.repo.GetStudent(context.Background(), "01234567890")
	if err != nil {
		t.Fatal(err)
	}
	if !st.ConsentAnalytics || !st.ConsentRankboard || st.DisplayMode != domain.DisplayNamed {
		t.Errorf("privacy not applied: %+v", st)
	}

	logs, err := e.repo.ListConsentLogs(context.Background(), "01234567890")
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("consent logs = %d, want 2", len(logs))
	}

	// Re-sending the same settings must not duplicate audit entries.
	rec = e.as(t, anonA, http.MethodPut, "/api/students/01234567890/privacy", payload)
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}
	logs, _ = e.repo.ListConsentLogs(context.Background(), "01234567890")
	if len(logs) != 2 {
		t.Errorf("consent logs = %d after no-op update, want 2", len(logs))
	}
}

func TestUpdatePrivacyRejectsBadDisplayMode(t *testing.T) {
	e := newAppEnv(t, nil)
	seedStudent(t, e, "01234567890", anonA, nil)

	payload, _ := json.Marshal(map[string]any{"display_mode": "public"})
	rec := e.as(t, anonA, http.MethodPut, "/api/students/01234567890/privacy", payload)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteStudentNeedsConfirmation(t *testing.T) {
	e := newAppEnv(t, nil)
	seedStudent(t, e, "01234567890", anonA, nil)

	payload, _ := json.Marshal(map[string]string{"confirm": "wrong"})
	rec := e.as(t, anonA, http.MethodDelete, "/api/students/01234567890/", payload)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	payload, _ = json.Marshal(map[string]string{"confirm": "01234567890"})
	rec = e.as(t, anonA, http.MethodDelete, "/api/students/01234567890/", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	if _, err := e.repo.GetStudent(context.Background(), "01234567890"); err == nil {
		t.Error("student still present after delete")
	}
}

func TestGetSummary(t *testing.T) {
	e := newAppEnv(t, nil)
	seedStudent(t, e, "01234567890", anonA, nil)
	seedRecord(t, e, "01234567890", 1, 91, 4) // O, gp 10
	seedRecord(t, e, "01234567890", 2, 80, 4) // A+, gp 9

	rec := e.as(t, anonA, http.MethodGet, "/api/students/01234567890/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["cgpa"] != 9.5 {
		t.Errorf("cgpa = %v, want 9.5", body["cgpa"])
	}
	if body["total_credits"] != float64(8) {
		t.Errorf("total_credits = %v, want 8", body["total_credits"])
	}
	semesters, _ := body["semesters"].([]any)
	if len(semesters) != 2 {
		t.Fatalf("semesters = %d, want 2", len(semesters))
	}
}

func TestRankboardRequiresOptIn(t *testing.T) {
	e := newAppEnv(t, nil)
	seedStudent(t, e, "01234567890", anonA, nil)

	rec := e.as(t, anonA, http.MethodGet, "/api/rankboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["available"] != false || body["reason"] != "opt_in_required" {
		t.Errorf("body = %v", body)
	}
}

func TestRankboardHiddenBelowMinimum(t *testing.T) {
	e := newAppEnv(t, nil)
	seedStudent(t, e, "01234567890", anonA, func(s *domain.Student) { s.ConsentRankboard = true })
	seedRecord(t, e, "01234567890", 1, 91, 4)

	rec := e.as(t, anonA, http.MethodGet, "/api/rankboard", nil)
	body := decodeBody(t, rec)
	if body["available"] != false || body["reason"] != "not_enough_participants" {
		t.Errorf("body = %v", body)
	}
}

func TestRankboardRanksAndAnonymizes(t *testing.T) {
	e := newAppEnv(t, nil)
	enrollments := []struct {
		no    string
		marks int
		mode  domain.DisplayMode
	}{
		{"100", 91, domain.DisplayAnonymous},
		{"200", 80, domain.DisplayNamed},
		{"300", 60, domain.DisplayAnonymous},
	}
	for _, en := range enrollments {
		seedStudent(t, e, en.no, "", func(s *domain.Student) {
			s.ConsentRankboard = true
			s.DisplayMode = en.mode
		})
		seedRecord(t, e, en.no, 1, en.marks, 4)
	}
	if err := e.repo.LinkIdentity(context.Background(), anonA, "300"); err != nil {
		t.Fatal(err)
	}

	rec := e.as(t, anonA, http.MethodGet, "/api/rankboard", nil)
	body := decodeBody(t, rec)
	if body["available"] != true {
		t.Fatalf("body = %v", body)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}

	first := entries[0].(map[string]any)
	if first["rank"] != float64(1) || first["name"] != "Anonymous" {
		t.Errorf("first entry = %v", first)
	}
	second := entries[1].(map[string]any)
	if second["name"] != "Asha Verma" {
		t.Errorf("named entry = %v", second)
	}
	last := entries[2].(map[string]any)
	if last["you"] != true {
		t.Errorf("caller entry not flagged: %v", last)
	}
}

func TestOnboardImportsAndLinks(t *testing.T) {
	rows := `[
		{"name":"Asha Verma","branch":"CSE","batch":"2022","sem":"1","papercode":"CS101","intern":"28","extern":"63","credits":"4"},
		{"sem":"1","papercode":"CS102","intern":"20","extern":"55","credits":"4"},
		{"sem":"2","papercode":"CS201","intern":"25","extern":"60","credits":"4"}
	]`
	e := newAppEnv(t, &fakePortal{resultsBody: rows})
	if err := e.sessions.Put(context.Background(), "TOK1", "JSESSIONID=TOK1", time.Minute); err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(map[string]string{
		"enrollmentNo": "01234567890",
		"sessionId":    "TOK1",
	})
	rec := e.as(t, anonA, http.MethodPost, "/api/students", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	// The device is now linked and /api/me resolves.
	rec = e.as(t, anonA, http.MethodGet, "/api/me", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me after onboarding = %d, want 200", rec.Code)
	}

	records, err := e.repo.ListRecords(context.Background(), "01234567890")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 semesters", len(records))
	}
}

func TestImportRequiresSessionID(t *testing.T) {
	e := newAppEnv(t, nil)
	seedStudent(t, e, "01234567890", anonA, nil)

	payload, _ := json.Marshal(map[string]string{})
	rec := e.as(t, anonA, http.MethodPost, "/api/students/01234567890/import", payload)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
