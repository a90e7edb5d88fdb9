// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ipulse-dev/ipulse/internal/domain"
)

// Repository defines the interface for persisting students, academic
// records, and consent state. Missing rows are reported with the
// errdefs.ErrNotFound sentinel.
type Repository interface {
	// GetStudent retrieves a student by enrollment number.
	GetStudent(ctx context.Context, enrollmentNo string) (*domain.Student, error)

	// UpsertStudent creates or updates a student profile.
	UpsertStudent(ctx context.Context, student *domain.Student) error

	// UpdatePrivacy updates consent flags and rankboard display mode.
	UpdatePrivacy(ctx context.Context, enrollmentNo string, analytics, rankboard bool, mode domain.DisplayMode) error

	// DeleteStudent removes a student and cascades to their records,
	// subjects, consent logs, and identity links.
	DeleteStudent(ctx context.Context, enrollmentNo string) error

	// ListRecords returns a student's semesters with subjects, ordered by
	// semester number.
	ListRecords(ctx context.Context, enrollmentNo string) ([]*domain.AcademicRecord, error)

	// UpsertRecord stores one semester's results, replacing any subjects
	// previously stored for that semester.
	UpsertRecord(ctx context.Context, record *domain.AcademicRecord) error

	// AppendConsentLog records a consent grant or withdrawal.
	AppendConsentLog(ctx context.Context, log domain.ConsentLog) error

	// ListConsentLogs returns a student's consent audit trail, newest first.
	ListConsentLogs(ctx context.Context, enrollmentNo string) ([]domain.ConsentLog, error)

	// ListRankboardStudents returns students who opted in to the rankboard.
	ListRankboardStudents(ctx context.Context) ([]*domain.Student, error)

	// LinkIdentity maps an anonymous device ID to an enrollment number.
	LinkIdentity(ctx context.Context, anonID, enrollmentNo string) error

	// LinkedEnrollment returns the enrollment number linked to a device ID.
	LinkedEnrollment(ctx context.Context, anonID string) (string, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
