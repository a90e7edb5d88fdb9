// Package importer converts raw result rows from the examination portal
// into academic records and persists them.
//
// The portal's result payload is an undocumented JSON array whose field
// names have drifted across portal revisions, so every field is looked up
// through a list of candidate keys and coerced from string or number form.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/ipulse-dev/ipulse/internal/domain"
	"github.com/ipulse-dev/ipulse/internal/grading"
	"github.com/ipulse-dev/ipulse/internal/store"
)

// Profile carries the student fields present on result rows.
type Profile struct {
	Name        string
	Institution string
	Programme   string
	Branch      string
	Batch       string
}

// Result summarizes one parse/import pass.
type Result struct {
	Records []*domain.AcademicRecord
	Profile Profile
	// Skipped counts rows missing a paper code.
	Skipped int
}

var (
	semesterKeys  = []string{"sem", "semester", "euno"}
	paperCodeKeys = []string{"papercode", "paper_code", "subcode", "subjectcode"}
	paperNameKeys = []string{"papername", "subjectname", "subject", "paper"}
	internalKeys  = []string{"intern", "internal", "minor"}
	externalKeys  = []string{"extern", "external", "major"}
	totalKeys     = []string{"total", "totalmarks", "marks"}
	gradeKeys     = []string{"grade"}
	creditKeys    = []string{"credits", "credit"}

	nameKeys        = []string{"name", "studentname"}
	institutionKeys = []string{"institution", "instname"}
	programmeKeys   = []string{"programme", "prgname", "degree"}
	branchKeys      = []string{"branch", "branchname"}
	batchKeys       = []string{"batch"}
)

// Parse groups raw portal rows into per-semester records for a student.
// Rows without a paper code are skipped and counted. Grade and grade point
// are derived from total marks when the portal row lacks them.
func Parse(enrollmentNo string, raw []json.RawMessage) (*Result, error) {
	result := &Result{}
	bySemester := make(map[int]*domain.AcademicRecord)

	for i, record := range raw {
		var row map[string]any
		if err := json.Unmarshal(record, &row); err != nil {
			return nil, fmt.Errorf("result row %d is not an object: %w", i, err)
		}
		fields := lowerKeys(row)

		result.Profile.merge(Profile{
			Name:        asString(fields, nameKeys),
			Institution: asString(fields, institutionKeys),
			Programme:   asString(fields, programmeKeys),
			Branch:      asString(fields, branchKeys),
			Batch:       asString(fields, batchKeys),
		})

		paperCode := asString(fields, paperCodeKeys)
		if paperCode == "" {
			result.Skipped++
			slog.Debug("Skipping result row without paper code", "row", i)
			continue
		}

		semester := asInt(fields, semesterKeys)
		if semester <= 0 {
			semester = 1
		}

		subject := domain.Subject{
			PaperCode:     paperCode,
			PaperName:     asString(fields, paperNameKeys),
			InternalMarks: asInt(fields, internalKeys),
			ExternalMarks: asInt(fields, externalKeys),
			TotalMarks:    asInt(fields, totalKeys),
			Grade:         asString(fields, gradeKeys),
			Credits:       asInt(fields, creditKeys),
		}
		if subject.TotalMarks == 0 {
			subject.TotalMarks = subject.InternalMarks + subject.ExternalMarks
		}
		if subject.Grade == "" {
			subject.Grade = grading.MarksToGrade(subject.TotalMarks)
		}
		subject.GradePoint = grading.MarksToGradePoint(subject.TotalMarks)

		rec, ok := bySemester[semester]
		if !ok {
			rec = &domain.AcademicRecord{EnrollmentNo: enrollmentNo, Semester: semester}
			bySemester[semester] = rec
		}
		rec.Subjects = append(rec.Subjects, subject)
	}

	for _, rec := range bySemester {
		result.Records = append(result.Records, rec)
	}
	sort.Slice(result.Records, func(i, j int) bool {
		return result.Records[i].Semester < result.Records[j].Semester
	})

	return result, nil
}

// Importer parses and persists portal results.
type Importer struct {
	repo store.Repository
}

// New creates an Importer backed by the given repository.
func New(repo store.Repository) *Importer {
	return &Importer{repo: repo}
}

// Import parses raw rows and upserts the student profile and each semester
// record. It returns the parse result so callers can report counts.
func (im *Importer) Import(ctx context.Context, enrollmentNo string, raw []json.RawMessage) (*Result, error) {
	return im.ImportEach(ctx, enrollmentNo, raw, nil)
}

// ImportEach is Import with a per-semester callback, invoked after each
// record is persisted. Used by the websocket progress stream.
func (im *Importer) ImportEach(ctx context.Context, enrollmentNo string, raw []json.RawMessage, onSemester func(*domain.AcademicRecord)) (*Result, error) {
	result, err := Parse(enrollmentNo, raw)
	if err != nil {
		return nil, err
	}

	student := &domain.Student{
		EnrollmentNo: enrollmentNo,
		Name:         result.Profile.Name,
		Institution:  result.Profile.Institution,
		Programme:    result.Profile.Programme,
		Branch:       result.Profile.Branch,
		Batch:        result.Profile.Batch,
	}
	if err := im.repo.UpsertStudent(ctx, student); err != nil {
		return nil, fmt.Errorf("upsert student: %w", err)
	}

	for _, rec := range result.Records {
		if err := im.repo.UpsertRecord(ctx, rec); err != nil {
			return nil, fmt.Errorf("upsert semester %d: %w", rec.Semester, err)
		}
		if onSemester != nil {
			onSemester(rec)
		}
	}

	if result.Skipped > 0 {
		slog.Info("Import skipped rows without paper codes",
			"enrollment_no", enrollmentNo, "skipped", result.Skipped)
	}

	return result, nil
}

func (p *Profile) merge(other Profile) {
	if p.Name == "" {
		p.Name = other.Name
	}
	if p.Institution == "" {
		p.Institution = other.Institution
	}
	if p.Programme == "" {
		p.Programme = other.Programme
	}
	if p.Branch == "" {
		p.Branch = other.Branch
	}
	if p.Batch == "" {
		p.Batch = other.Batch
	}
}

func lowerKeys(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[strings.ToLower(k)] = v
	}
	return out
}

func asString(fields map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := fields[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func asInt(fields map[string]any, keys []string) int {
	for _, key := range keys {
		switch v := fields[key].(type) {
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}
