// Package domain contains core domain types for the iPulse application.
package domain

import (
	"time"
)

// DisplayMode controls how a student appears on the rankboard.
type DisplayMode string

const (
	DisplayAnonymous DisplayMode = "anonymous"
	DisplayNamed     DisplayMode = "named"
)

// Student represents a student profile linked to an IPU enrollment number.
type Student struct {
	EnrollmentNo     string      `json:"enrollment_no"`
	Name             string      `json:"name"`
	Branch           string      `json:"branch,omitempty"`
	Batch            string      `json:"batch,omitempty"`
	Programme        string      `json:"programme,omitempty"`
	Institution      string      `json:"institution,omitempty"`
	ConsentAnalytics bool        `json:"consent_analytics"`
	ConsentRankboard bool        `json:"consent_rankboard"`
	DisplayMode      DisplayMode `json:"display_mode"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// RankboardName returns the name to show on the rankboard, honoring the
// student's display mode.
func (s *Student) RankboardName() string {
	if s.DisplayMode == DisplayNamed && s.Name != "" {
		return s.Name
	}
	return "Anonymous"
}

// ConsentLog records one consent grant or withdrawal for audit purposes.
type ConsentLog struct {
	ID           string    `json:"id"`
	EnrollmentNo string    `json:"enrollment_no"`
	ConsentType  string    `json:"consent_type"`
	Granted      bool      `json:"granted"`
	CreatedAt    time.Time `json:"created_at"`
}
