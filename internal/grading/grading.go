// Package grading implements the IPU grading scale: marks to letter grades
// and grade points, SGPA/CGPA aggregation, and division classification.
package grading

import (
	"math"
	"strconv"

	"github.com/ipulse-dev/ipulse/internal/domain"
)

// Band maps a marks range to a letter grade and grade point.
type Band struct {
	MinMarks   int
	MaxMarks   int
	Grade      string
	GradePoint float64
	Label      string
}

// Scale is the marks-to-grade mapping, highest band first.
var Scale = []Band{
	{90, 100, "O", 10, "Outstanding"},
	{75, 89, "A+", 9, "Excellent"},
	{65, 74, "A", 8, "Very Good"},
	{55, 64, "B+", 7, "Good"},
	{50, 54, "B", 6, "Above Average"},
	{45, 49, "C", 5, "Average"},
	{40, 44, "P", 4, "Pass"},
	{0, 39, "F", 0, "Fail"},
}

// gradeOrder lists grades best-first for distribution output.
var gradeOrder = []string{"O", "A+", "A", "B+", "B", "C", "P", "F"}

// MarksToGrade converts total marks (out of 100) to a letter grade.
func MarksToGrade(marks int) string {
	for _, b := range Scale {
		if marks >= b.MinMarks && marks <= b.MaxMarks {
			return b.Grade
		}
	}
	return "F"
}

// MarksToGradePoint converts total marks (out of 100) to a grade point.
func MarksToGradePoint(marks int) float64 {
	for _, b := range Scale {
		if marks >= b.MinMarks && marks <= b.MaxMarks {
			return b.GradePoint
		}
	}
	return 0
}

// Division returns the CGPA division per the university scale.
func Division(cgpa float64) string {
	switch {
	case cgpa >= 10.0:
		return "Exemplary Performance"
	case cgpa >= 6.5:
		return "First Division"
	case cgpa >= 5.0:
		return "Second Division"
	case cgpa >= 4.0:
		return "Third Division"
	default:
		return "Fail"
	}
}

// SemesterResult is the aggregate for one semester.
type SemesterResult struct {
	SGPA         float64 `json:"sgpa"`
	TotalCredits int     `json:"total_credits"`
}

// SGPA computes Σ(credits × grade points) / Σ(credits) for a semester,
// rounded to two decimals. Subjects with zero credits or a zero grade point
// are excluded, matching how the university weighs NUES and failed papers.
func SGPA(subjects []domain.Subject) SemesterResult {
	var creditPoints float64
	var credits int

	for _, s := range subjects {
		gp := s.GradePoint
		if gp == 0 {
			gp = MarksToGradePoint(s.TotalMarks)
		}
		if gp > 0 && s.Credits > 0 {
			creditPoints += float64(s.Credits) * gp
			credits += s.Credits
		}
	}

	if credits == 0 {
		return SemesterResult{}
	}
	return SemesterResult{
		SGPA:         round2(creditPoints / float64(credits)),
		TotalCredits: credits,
	}
}

// CGPA aggregates semester results: Σ(sgpa × credits) / Σ(credits),
// rounded to two decimals.
func CGPA(semesters []SemesterResult) float64 {
	var creditPoints float64
	var credits int

	for _, sem := range semesters {
		creditPoints += sem.SGPA * float64(sem.TotalCredits)
		credits += sem.TotalCredits
	}

	if credits == 0 {
		return 0
	}
	return round2(creditPoints / float64(credits))
}

// GradeCount is one bucket of the grade distribution.
type GradeCount struct {
	Grade string `json:"grade"`
	Count int    `json:"count"`
}

// Distribution counts subjects per letter grade, best grades first.
// Grades with no subjects are omitted.
func Distribution(subjects []domain.Subject) []GradeCount {
	counts := make(map[string]int)
	for _, s := range subjects {
		grade := s.Grade
		if grade == "" {
			grade = MarksToGrade(s.TotalMarks)
		}
		counts[grade]++
	}

	var out []GradeCount
	for _, grade := range gradeOrder {
		if n, ok := counts[grade]; ok {
			out = append(out, GradeCount{Grade: grade, Count: n})
		}
	}
	return out
}

// BestGrade returns the letter grade of the highest-scoring subject, or
// "N/A" when there are none.
func BestGrade(subjects []domain.Subject) string {
	if len(subjects) == 0 {
		return "N/A"
	}
	best := 0
	for _, s := range subjects {
		if s.TotalMarks > best {
			best = s.TotalMarks
		}
	}
	return MarksToGrade(best)
}

var semesterNames = []string{
	"",
	"First Semester",
	"Second Semester",
	"Third Semester",
	"Fourth Semester",
	"Fifth Semester",
	"Sixth Semester",
	"Seventh Semester",
	"Eighth Semester",
	"Ninth Semester",
	"Tenth Semester",
}

// SemesterName returns the ordinal name for a semester number.
func SemesterName(n int) string {
	if n > 0 && n < len(semesterNames) {
		return semesterNames[n]
	}
	return "Semester " + strconv.Itoa(n)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
