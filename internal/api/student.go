package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ipulse-dev/ipulse/internal/bridge"
	"github.com/ipulse-dev/ipulse/internal/domain"
	"github.com/ipulse-dev/ipulse/internal/grading"
	"github.com/ipulse-dev/ipulse/internal/identity"
)

// StudentHandler serves student profiles, records, analytics summaries, the
// rankboard, and privacy settings.
type StudentHandler struct {
	*Handler
}

// NewStudentHandler creates the student-facing application handler.
func NewStudentHandler(base *Handler) *StudentHandler {
	return &StudentHandler{Handler: base}
}

// RegisterRoutes registers the application routes.
func (h *StudentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Post("/students", h.Onboard)
		r.Get("/rankboard", h.GetRankboard)

		r.Route("/students/{enrollmentNo}", func(r chi.Router) {
			r.Get("/", h.GetStudent)
			r.Delete("/", h.DeleteStudent)
			r.Get("/records", h.GetRecords)
			r.Get("/summary", h.GetSummary)
			r.Put("/privacy", h.UpdatePrivacy)
			r.Get("/consents", h.GetConsents)
			r.Post("/import", h.Import)
		})
	})
}

// linkedEnrollment resolves the caller's device identity to an enrollment
// number, or "" when the device is not linked yet.
func (h *StudentHandler) linkedEnrollment(r *http.Request) string {
	anonID := identity.AnonIDFromContext(r.Context())
	if anonID == "" {
		return ""
	}
	enrollment, err := h.repo.LinkedEnrollment(r.Context(), anonID)
	if err != nil {
		return ""
	}
	return enrollment
}

// requireOwner checks that the caller's linked enrollment matches the path.
func (h *StudentHandler) requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	enrollmentNo := chi.URLParam(r, "enrollmentNo")
	if h.linkedEnrollment(r) != enrollmentNo {
		Error(w, http.StatusForbidden, "not your enrollment")
		return "", false
	}
	return enrollmentNo, true
}

// GetMe returns the profile linked to the calling device.
func (h *StudentHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	enrollmentNo := h.linkedEnrollment(r)
	if enrollmentNo == "" {
		Error(w, http.StatusUnauthorized, "no linked enrollment")
		return
	}

	student, err := h.repo.GetStudent(r.Context(), enrollmentNo)
	if err != nil {
		Error(w, http.StatusUnauthorized, "student not found")
		return
	}
	JSON(w, http.StatusOK, student)
}

type onboardRequest struct {
	EnrollmentNo string `json:"enrollmentNo"`
	SessionID    string `json:"sessionId"`
}

// Onboard imports all published results for a freshly authenticated portal
// session and links the calling device to the enrollment.
func (h *StudentHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	var req onboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EnrollmentNo == "" || req.SessionID == "" {
		Error(w, http.StatusBadRequest, "enrollmentNo and sessionId are required")
		return
	}

	ctx := r.Context()
	records, err := h.bridge.FetchResults(ctx, req.SessionID, bridge.AllSemesters)
	if err != nil {
		Fail(w, bridgeStatus(err), bridge.Message(err))
		return
	}

	result, err := h.importer.Import(ctx, req.EnrollmentNo, records)
	if err != nil {
		slog.Error("Onboarding import failed", "error", err, "enrollment_no", req.EnrollmentNo)
		Error(w, http.StatusInternalServerError, "failed to import results")
		return
	}

	if anonID := identity.AnonIDFromContext(ctx); anonID != "" {
		if err := h.repo.LinkIdentity(ctx, anonID, req.EnrollmentNo); err != nil {
			slog.Error("Identity link failed", "error", err, "enrollment_no", req.EnrollmentNo)
			Error(w, http.StatusInternalServerError, "failed to link identity")
			return
		}
	}

	slog.Info("Student onboarded",
		"enrollment_no", req.EnrollmentNo,
		"semesters", len(result.Records),
		"skipped_rows", result.Skipped)

	JSON(w, http.StatusCreated, map[string]any{
		"success":   true,
		"semesters": len(result.Records),
	})
}

// GetStudent returns a student profile.
func (h *StudentHandler) GetStudent(w http.ResponseWriter, r *http.Request) {
	enrollmentNo, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	student, err := h.repo.GetStudent(r.Context(), enrollmentNo)
	if err != nil {
		if errdefs.IsNotFound(err) {
			Error(w, http.StatusNotFound, "student not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to load student")
		return
	}
	JSON(w, http.StatusOK, student)
}

// GetRecords returns the student's semesters with subjects.
func (h *StudentHandler) GetRecords(w http.ResponseWriter, r *http.Request) {
	enrollmentNo, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	records, err := h.repo.ListRecords(r.Context(), enrollmentNo)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load records")
		return
	}
	if records == nil {
		records = []*domain.AcademicRecord{}
	}
	JSON(w, http.StatusOK, map[string]any{"records": records})
}

type semesterSummary struct {
	Semester     int     `json:"semester"`
	SemesterName string  `json:"semester_name"`
	SGPA         float64 `json:"sgpa"`
	TotalCredits int     `json:"total_credits"`
	SubjectCount int     `json:"subject_count"`
}

// GetSummary returns the dashboard analytics payload: per-semester SGPA,
// CGPA, division, credits, and grade distribution.
func (h *StudentHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	enrollmentNo, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	records, err := h.repo.ListRecords(r.Context(), enrollmentNo)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load records")
		return
	}

	semesters := make([]semesterSummary, 0, len(records))
	semResults := make([]grading.SemesterResult, 0, len(records))
	var allSubjects []domain.Subject
	for _, rec := range records {
		res := grading.SGPA(rec.Subjects)
		semesters = append(semesters, semesterSummary{
			Semester:     rec.Semester,
			SemesterName: grading.SemesterName(rec.Semester),
			SGPA:         res.SGPA,
			TotalCredits: res.TotalCredits,
			SubjectCount: len(rec.Subjects),
		})
		semResults = append(semResults, res)
		allSubjects = append(allSubjects, rec.Subjects...)
	}

	cgpa := grading.CGPA(semResults)
	totalCredits := 0
	for _, res := range semResults {
		totalCredits += res.TotalCredits
	}

	JSON(w, http.StatusOK, map[string]any{
		"cgpa":               cgpa,
		"division":           grading.Division(cgpa),
		"total_credits":      totalCredits,
		"subject_count":      len(allSubjects),
		"best_grade":         grading.BestGrade(allSubjects),
		"semesters":          semesters,
		"grade_distribution": grading.Distribution(allSubjects),
	})
}

type privacyRequest struct {
	ConsentAnalytics bool               `json:"consent_analytics"`
	ConsentRankboard bool               `json:"consent_rankboard"`
	DisplayMode      domain.DisplayMode `json:"display_mode"`
}

// UpdatePrivacy updates consent flags and display mode, appending an audit
// log entry for each consent that changed.
func (h *StudentHandler) UpdatePrivacy(w http.ResponseWriter, r *http.Request) {
	enrollmentNo, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	var req privacyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.DisplayMode {
	case domain.DisplayAnonymous, domain.DisplayNamed:
	default:
		Error(w, http.StatusBadRequest, "display_mode must be anonymous or named")
		return
	}

	ctx := r.Context()
	before, err := h.repo.GetStudent(ctx, enrollmentNo)
	if err != nil {
		Error(w, http.StatusNotFound, "student not found")
		return
	}

	if err := h.repo.UpdatePrivacy(ctx, enrollmentNo, req.ConsentAnalytics, req.ConsentRankboard, req.DisplayMode); err != nil {
		Error(w, http.StatusInternalServerError, "failed to update privacy settings")
		return
	}

	now := time.Now()
	changes := []struct {
		consentType string
		was, is     bool
	}{
		{"analytics", before.ConsentAnalytics, req.ConsentAnalytics},
		{"rankboard", before.ConsentRankboard, req.ConsentRankboard},
	}
	for _, c := range changes {
		if c.was == c.is {
			continue
		}
		log := domain.ConsentLog{
			ID:           uuid.NewString(),
			EnrollmentNo: enrollmentNo,
			ConsentType:  c.consentType,
			Granted:      c.is,
			CreatedAt:    now,
		}
		if err := h.repo.AppendConsentLog(ctx, log); err != nil {
			slog.Error("Failed to append consent log", "error", err, "consent_type", c.consentType)
		}
	}

	JSON(w, http.StatusOK, map[string]any{"success": true})
}

// GetConsents returns the consent audit trail.
func (h *StudentHandler) GetConsents(w http.ResponseWriter, r *http.Request) {
	enrollmentNo, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	logs, err := h.repo.ListConsentLogs(r.Context(), enrollmentNo)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load consent logs")
		return
	}
	if logs == nil {
		logs = []domain.ConsentLog{}
	}
	JSON(w, http.StatusOK, map[string]any{"consents": logs})
}

type deleteRequest struct {
	Confirm string `json:"confirm"`
}

// DeleteStudent permanently removes a student and everything derived from
// their results. The confirmation field must repeat the enrollment number.
func (h *StudentHandler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	enrollmentNo, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Confirm != enrollmentNo {
		Error(w, http.StatusBadRequest, "confirmation does not match enrollment number")
		return
	}

	if err := h.repo.DeleteStudent(r.Context(), enrollmentNo); err != nil {
		if errdefs.IsNotFound(err) {
			Error(w, http.StatusNotFound, "student not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to delete data")
		return
	}

	slog.Info("Student data deleted", "enrollment_no", enrollmentNo)
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

type importRequest struct {
	SessionID string `json:"sessionId"`
	Semester  string `json:"semester"`
}

// Import fetches results for one semester (or all) through the bridge and
// persists them for an already-linked student.
func (h *StudentHandler) Import(w http.ResponseWriter, r *http.Request) {
	enrollmentNo, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	ctx := r.Context()
	records, err := h.bridge.FetchResults(ctx, req.SessionID, req.Semester)
	if err != nil {
		Fail(w, bridgeStatus(err), bridge.Message(err))
		return
	}

	result, err := h.importer.Import(ctx, enrollmentNo, records)
	if err != nil {
		slog.Error("Import failed", "error", err, "enrollment_no", enrollmentNo)
		Error(w, http.StatusInternalServerError, "failed to import results")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"semesters": len(result.Records),
		"skipped":   result.Skipped,
	})
}

type rankboardEntry struct {
	Rank   int     `json:"rank"`
	Name   string  `json:"name"`
	CGPA   float64 `json:"cgpa"`
	Batch  string  `json:"batch,omitempty"`
	Branch string  `json:"branch,omitempty"`
	You    bool    `json:"you,omitempty"`
}

// GetRankboard returns the CGPA leaderboard over opted-in students. Only
// callers who opted in themselves may view it, and it stays hidden below the
// minimum participant count to avoid de-anonymizing small cohorts.
func (h *StudentHandler) GetRankboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerEnrollment := h.linkedEnrollment(r)

	if callerEnrollment == "" {
		Error(w, http.StatusUnauthorized, "no linked enrollment")
		return
	}
	caller, err := h.repo.GetStudent(ctx, callerEnrollment)
	if err != nil {
		Error(w, http.StatusUnauthorized, "student not found")
		return
	}
	if !caller.ConsentRankboard {
		JSON(w, http.StatusOK, map[string]any{
			"available": false,
			"reason":    "opt_in_required",
		})
		return
	}

	students, err := h.repo.ListRankboardStudents(ctx)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load rankboard")
		return
	}

	batchFilter := r.URL.Query().Get("batch")
	branchFilter := r.URL.Query().Get("branch")

	var entries []rankboardEntry
	for _, st := range students {
		if batchFilter != "" && st.Batch != batchFilter {
			continue
		}
		if branchFilter != "" && st.Branch != branchFilter {
			continue
		}

		records, err := h.repo.ListRecords(ctx, st.EnrollmentNo)
		if err != nil {
			slog.Error("Failed to load records for rankboard", "error", err, "enrollment_no", st.EnrollmentNo)
			continue
		}
		semResults := make([]grading.SemesterResult, 0, len(records))
		for _, rec := range records {
			semResults = append(semResults, grading.SGPA(rec.Subjects))
		}
		cgpa := grading.CGPA(semResults)
		if cgpa == 0 {
			continue
		}

		entries = append(entries, rankboardEntry{
			Name:   st.RankboardName(),
			CGPA:   cgpa,
			Batch:  st.Batch,
			Branch: st.Branch,
			You:    st.EnrollmentNo == callerEnrollment,
		})
	}

	if len(entries) < h.cfg.RankboardMinParticipants {
		JSON(w, http.StatusOK, map[string]any{
			"available":    false,
			"reason":       "not_enough_participants",
			"participants": len(entries),
		})
		return
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CGPA > entries[j].CGPA })
	for i := range entries {
		entries[i].Rank = i + 1
	}

	JSON(w, http.StatusOK, map[string]any{
		"available":    true,
		"participants": len(entries),
		"entries":      entries,
	})
}
