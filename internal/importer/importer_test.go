package importer

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/ipulse-dev/ipulse/internal/store"
)

func rawRows(t *testing.T, rows ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(rows))
	for i, r := range rows {
		out[i] = json.RawMessage(r)
	}
	return out
}

func TestParseGroupsBySemester(t *testing.T) {
	raw := rawRows(t,
		`{"name":"Asha Verma","institution":"USICT","sem":"1","papercode":"ICT101","papername":"Programming","intern":"22","extern":"63","credits":"3"}`,
		`{"name":"Asha Verma","sem":"1","papercode":"BS109","papername":"Physics","intern":"20","extern":"52","credits":"3"}`,
		`{"name":"Asha Verma","sem":"2","papercode":"BS104","papername":"Maths II","intern":"25","extern":"68","credits":"4"}`,
	)

	result, err := Parse("01234567890", raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(result.Records) != 2 {
		t.Fatalf("Expected 2 semesters, got %d", len(result.Records))
	}
	if result.Records[0].Semester != 1 || result.Records[1].Semester != 2 {
		t.Errorf("Expected semesters ordered 1,2: %+v", result.Records)
	}
	if len(result.Records[0].Subjects) != 2 {
		t.Errorf("Expected 2 subjects in semester 1, got %d", len(result.Records[0].Subjects))
	}
	if result.Profile.Name != "Asha Verma" || result.Profile.Institution != "USICT" {
		t.Errorf("Profile not extracted: %+v", result.Profile)
	}
}

func TestParseDerivesTotalsAndGrades(t *testing.T) {
	raw := rawRows(t,
		`{"sem":1,"papercode":"ICT101","intern":22,"extern":63,"credits":3}`,
	)

	result, err := Parse("e1", raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	sub := result.Records[0].Subjects[0]
	if sub.TotalMarks != 85 {
		t.Errorf("Expected total derived from internal+external, got %d", sub.TotalMarks)
	}
	if sub.Grade != "A+" {
		t.Errorf("Expected derived grade A+, got %q", sub.Grade)
	}
	if sub.GradePoint != 9 {
		t.Errorf("Expected grade point 9, got %v", sub.GradePoint)
	}
}

func TestParseSkipsRowsWithoutPaperCode(t *testing.T) {
	raw := rawRows(t,
		`{"sem":1,"papercode":"ICT101","total":85,"credits":3}`,
		`{"sem":1,"remark":"header row"}`,
	)

	result, err := Parse("e1", raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if result.Skipped != 1 {
		t.Errorf("Expected 1 skipped row, got %d", result.Skipped)
	}
	if len(result.Records[0].Subjects) != 1 {
		t.Errorf("Expected 1 subject, got %d", len(result.Records[0].Subjects))
	}
}

func TestParseToleratesAlternativeKeys(t *testing.T) {
	// Same fields under a different portal revision's names.
	raw := rawRows(t,
		`{"semester":"3","subcode":"ARD201","subjectname":"Data Structures","minor":"24","major":"70","credit":"4"}`,
	)

	result, err := Parse("e1", raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sub := result.Records[0].Subjects[0]
	if sub.PaperCode != "ARD201" || sub.PaperName != "Data Structures" {
		t.Errorf("Alternative keys not recognized: %+v", sub)
	}
	if sub.TotalMarks != 94 || sub.Credits != 4 {
		t.Errorf("Marks/credits not coerced: %+v", sub)
	}
	if result.Records[0].Semester != 3 {
		t.Errorf("Semester not recognized: %d", result.Records[0].Semester)
	}
}

func TestParseRejectsNonObjectRow(t *testing.T) {
	raw := rawRows(t, `"just a string"`)
	if _, err := Parse("e1", raw); err == nil {
		t.Error("Expected error for non-object row")
	}
}

func TestImportPersists(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer repo.Close()

	im := New(repo)
	ctx := context.Background()

	raw := rawRows(t,
		`{"name":"Asha Verma","batch":"2023","sem":"1","papercode":"ICT101","intern":"22","extern":"63","credits":"3"}`,
		`{"name":"Asha Verma","batch":"2023","sem":"2","papercode":"BS104","intern":"25","extern":"68","credits":"4"}`,
	)

	result, err := im.Import(ctx, "01234567890", raw)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(result.Records) != 2 {
		t.Fatalf("Expected 2 records imported, got %d", len(result.Records))
	}

	student, err := repo.GetStudent(ctx, "01234567890")
	if err != nil {
		t.Fatalf("GetStudent after import failed: %v", err)
	}
	if student.Name != "Asha Verma" || student.Batch != "2023" {
		t.Errorf("Profile not persisted: %+v", student)
	}

	records, err := repo.ListRecords(ctx, "01234567890")
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 persisted records, got %d", len(records))
	}
}
