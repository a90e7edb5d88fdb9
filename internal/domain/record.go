package domain

import (
	"time"
)

// Subject is one subject row within a semester's result.
type Subject struct {
	ID            int64   `json:"id"`
	PaperCode     string  `json:"paper_code"`
	PaperName     string  `json:"paper_name"`
	InternalMarks int     `json:"internal_marks"`
	ExternalMarks int     `json:"external_marks"`
	TotalMarks    int     `json:"total_marks"`
	Grade         string  `json:"grade"`
	GradePoint    float64 `json:"grade_point"`
	Credits       int     `json:"credits"`
}

// AcademicRecord holds one semester's published results for a student.
type AcademicRecord struct {
	ID           int64     `json:"id"`
	EnrollmentNo string    `json:"enrollment_no"`
	Semester     int       `json:"semester"`
	Subjects     []Subject `json:"subjects"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
