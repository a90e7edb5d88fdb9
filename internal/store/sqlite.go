package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	_ "modernc.org/sqlite"

	"github.com/ipulse-dev/ipulse/internal/domain"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better concurrency between request handlers.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS students (
		enrollment_no TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL DEFAULT '',
		batch TEXT NOT NULL DEFAULT '',
		programme TEXT NOT NULL DEFAULT '',
		institution TEXT NOT NULL DEFAULT '',
		consent_analytics INTEGER NOT NULL DEFAULT 0,
		consent_rankboard INTEGER NOT NULL DEFAULT 0,
		display_mode TEXT NOT NULL DEFAULT 'anonymous',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS academic_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		enrollment_no TEXT NOT NULL REFERENCES students(enrollment_no) ON DELETE CASCADE,
		semester INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(enrollment_no, semester)
	);

	CREATE TABLE IF NOT EXISTS subjects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id INTEGER NOT NULL REFERENCES academic_records(id) ON DELETE CASCADE,
		paper_code TEXT NOT NULL,
		paper_name TEXT NOT NULL DEFAULT '',
		internal_marks INTEGER NOT NULL DEFAULT 0,
		external_marks INTEGER NOT NULL DEFAULT 0,
		total_marks INTEGER NOT NULL DEFAULT 0,
		grade TEXT NOT NULL DEFAULT '',
		grade_point REAL NOT NULL DEFAULT 0,
		credits INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_subjects_record ON subjects(record_id);

	CREATE TABLE IF NOT EXISTS consent_logs (
		id TEXT PRIMARY KEY,
		enrollment_no TEXT NOT NULL REFERENCES students(enrollment_no) ON DELETE CASCADE,
		consent_type TEXT NOT NULL,
		granted INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_consent_logs_enrollment ON consent_logs(enrollment_no, created_at);

	CREATE TABLE IF NOT EXISTS identities (
		anon_id TEXT PRIMARY KEY,
		enrollment_no TEXT NOT NULL REFERENCES students(enrollment_no) ON DELETE CASCADE,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetStudent retrieves a student by enrollment number.
func (s *SQLiteStore) GetStudent(ctx context.Context, enrollmentNo string) (*domain.Student, error) {
	query := `
		SELECT enrollment_no, name, branch, batch, programme, institution,
		       consent_analytics, consent_rankboard, display_mode,
		       created_at, updated_at
		FROM students WHERE enrollment_no = ?`

	row := s.db.QueryRowContext(ctx, query, enrollmentNo)
	student, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("student %q: %w", enrollmentNo, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	return student, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (*domain.Student, error) {
	var st domain.Student
	var createdAt, updatedAt int64
	err := row.Scan(
		&st.EnrollmentNo, &st.Name, &st.Branch, &st.Batch, &st.Programme,
		&st.Institution, &st.ConsentAnalytics, &st.ConsentRankboard,
		&st.DisplayMode, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.CreatedAt = time.Unix(createdAt, 0)
	st.UpdatedAt = time.Unix(updatedAt, 0)
	return &st, nil
}

// UpsertStudent creates or updates a student profile.
func (s *SQLiteStore) UpsertStudent(ctx context.Context, student *domain.Student) error {
	if student.EnrollmentNo == "" {
		return fmt.Errorf("enrollment number required: %w", errdefs.ErrInvalidArgument)
	}
	if student.DisplayMode == "" {
		student.DisplayMode = domain.DisplayAnonymous
	}

	now := time.Now().Unix()
	query := `
		INSERT INTO students (enrollment_no, name, branch, batch, programme, institution,
		                      consent_analytics, consent_rankboard, display_mode,
		                      created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(enrollment_no) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE students.name END,
			branch = CASE WHEN excluded.branch != '' THEN excluded.branch ELSE students.branch END,
			batch = CASE WHEN excluded.batch != '' THEN excluded.batch ELSE students.batch END,
			programme = CASE WHEN excluded.programme != '' THEN excluded.programme ELSE students.programme END,
			institution = CASE WHEN excluded.institution != '' THEN excluded.institution ELSE students.institution END,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		student.EnrollmentNo, student.Name, student.Branch, student.Batch,
		student.Programme, student.Institution,
		student.ConsentAnalytics, student.ConsentRankboard, string(student.DisplayMode),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}
	return nil
}

// UpdatePrivacy updates consent flags and rankboard display mode.
func (s *SQLiteStore) UpdatePrivacy(ctx context.Context, enrollmentNo string, analytics, rankboard bool, mode domain.DisplayMode) error {
	query := `
		UPDATE students
		SET consent_analytics = ?, consent_rankboard = ?, display_mode = ?, updated_at = ?
		WHERE enrollment_no = ?`

	res, err := s.db.ExecContext(ctx, query, analytics, rankboard, string(mode), time.Now().Unix(), enrollmentNo)
	if err != nil {
		return fmt.Errorf("update privacy: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("student %q: %w", enrollmentNo, errdefs.ErrNotFound)
	}
	return nil
}

// DeleteStudent removes a student and all dependent rows. The cascade is
// explicit rather than FK-driven: the foreign_keys pragma is per-connection
// and the pool does not guarantee which connection serves the delete.
func (s *SQLiteStore) DeleteStudent(ctx context.Context, enrollmentNo string) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM subjects WHERE record_id IN
				(SELECT id FROM academic_records WHERE enrollment_no = ?)`, enrollmentNo); err != nil {
			return fmt.Errorf("delete subjects: %w", err)
		}
		for _, q := range []string{
			`DELETE FROM academic_records WHERE enrollment_no = ?`,
			`DELETE FROM consent_logs WHERE enrollment_no = ?`,
			`DELETE FROM identities WHERE enrollment_no = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, enrollmentNo); err != nil {
				return fmt.Errorf("delete dependents: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM students WHERE enrollment_no = ?`, enrollmentNo)
		if err != nil {
			return fmt.Errorf("delete student: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("student %q: %w", enrollmentNo, errdefs.ErrNotFound)
		}

		return tx.Commit()
	})
}

// ListRecords returns a student's semesters with subjects.
func (s *SQLiteStore) ListRecords(ctx context.Context, enrollmentNo string) ([]*domain.AcademicRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, enrollment_no, semester, created_at, updated_at
		FROM academic_records WHERE enrollment_no = ? ORDER BY semester`, enrollmentNo)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*domain.AcademicRecord
	for rows.Next() {
		var rec domain.AcademicRecord
		var createdAt, updatedAt int64
		if err := rows.Scan(&rec.ID, &rec.EnrollmentNo, &rec.Semester, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0)
		rec.UpdatedAt = time.Unix(updatedAt, 0)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	for _, rec := range records {
		subjects, err := s.listSubjects(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		rec.Subjects = subjects
	}
	return records, nil
}

func (s *SQLiteStore) listSubjects(ctx context.Context, recordID int64) ([]domain.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, paper_code, paper_name, internal_marks, external_marks,
		       total_marks, grade, grade_point, credits
		FROM subjects WHERE record_id = ? ORDER BY paper_code`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []domain.Subject
	for rows.Next() {
		var sub domain.Subject
		if err := rows.Scan(&sub.ID, &sub.PaperCode, &sub.PaperName,
			&sub.InternalMarks, &sub.ExternalMarks, &sub.TotalMarks,
			&sub.Grade, &sub.GradePoint, &sub.Credits); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, sub)
	}
	return subjects, rows.Err()
}

// UpsertRecord stores one semester's results inside a transaction, replacing
// any subjects previously stored for that semester.
func (s *SQLiteStore) UpsertRecord(ctx context.Context, record *domain.AcademicRecord) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin record upsert: %w", err)
		}
		defer tx.Rollback()

		now := time.Now().Unix()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO academic_records (enrollment_no, semester, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(enrollment_no, semester) DO UPDATE SET updated_at = excluded.updated_at`,
			record.EnrollmentNo, record.Semester, now, now); err != nil {
			return fmt.Errorf("upsert record: %w", err)
		}

		// LastInsertId is unreliable on the conflict path; resolve the id
		// explicitly.
		var recordID int64
		row := tx.QueryRowContext(ctx,
			`SELECT id FROM academic_records WHERE enrollment_no = ? AND semester = ?`,
			record.EnrollmentNo, record.Semester)
		if err := row.Scan(&recordID); err != nil {
			return fmt.Errorf("resolve record id: %w", err)
		}
		record.ID = recordID

		if _, err := tx.ExecContext(ctx, `DELETE FROM subjects WHERE record_id = ?`, recordID); err != nil {
			return fmt.Errorf("clear subjects: %w", err)
		}

		for _, sub := range record.Subjects {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO subjects (record_id, paper_code, paper_name, internal_marks,
				                      external_marks, total_marks, grade, grade_point, credits)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				recordID, sub.PaperCode, sub.PaperName, sub.InternalMarks,
				sub.ExternalMarks, sub.TotalMarks, sub.Grade, sub.GradePoint, sub.Credits); err != nil {
				return fmt.Errorf("insert subject %s: %w", sub.PaperCode, err)
			}
		}

		return tx.Commit()
	})
}

// AppendConsentLog records a consent grant or withdrawal.
func (s *SQLiteStore) AppendConsentLog(ctx context.Context, log domain.ConsentLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consent_logs (id, enrollment_no, consent_type, granted, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		log.ID, log.EnrollmentNo, log.ConsentType, log.Granted, log.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("append consent log: %w", err)
	}
	return nil
}

// ListConsentLogs returns a student's consent audit trail, newest first.
func (s *SQLiteStore) ListConsentLogs(ctx context.Context, enrollmentNo string) ([]domain.ConsentLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, enrollment_no, consent_type, granted, created_at
		FROM consent_logs WHERE enrollment_no = ? ORDER BY created_at DESC`, enrollmentNo)
	if err != nil {
		return nil, fmt.Errorf("list consent logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.ConsentLog
	for rows.Next() {
		var log domain.ConsentLog
		var createdAt int64
		if err := rows.Scan(&log.ID, &log.EnrollmentNo, &log.ConsentType, &log.Granted, &createdAt); err != nil {
			return nil, fmt.Errorf("scan consent log: %w", err)
		}
		log.CreatedAt = time.Unix(createdAt, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// ListRankboardStudents returns students who opted in to the rankboard.
func (s *SQLiteStore) ListRankboardStudents(ctx context.Context) ([]*domain.Student, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT enrollment_no, name, branch, batch, programme, institution,
		       consent_analytics, consent_rankboard, display_mode,
		       created_at, updated_at
		FROM students WHERE consent_rankboard = 1`)
	if err != nil {
		return nil, fmt.Errorf("list rankboard students: %w", err)
	}
	defer rows.Close()

	var students []*domain.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// LinkIdentity maps an anonymous device ID to an enrollment number.
func (s *SQLiteStore) LinkIdentity(ctx context.Context, anonID, enrollmentNo string) error {
	if anonID == "" || enrollmentNo == "" {
		return fmt.Errorf("anon id and enrollment number required: %w", errdefs.ErrInvalidArgument)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (anon_id, enrollment_no, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(anon_id) DO UPDATE SET enrollment_no = excluded.enrollment_no`,
		anonID, enrollmentNo, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("link identity: %w", err)
	}
	return nil
}

// LinkedEnrollment returns the enrollment number linked to a device ID.
func (s *SQLiteStore) LinkedEnrollment(ctx context.Context, anonID string) (string, error) {
	var enrollmentNo string
	err := s.db.QueryRowContext(ctx,
		`SELECT enrollment_no FROM identities WHERE anon_id = ?`, anonID).Scan(&enrollmentNo)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("identity %q: %w", anonID, errdefs.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("linked enrollment: %w", err)
	}
	return enrollmentNo, nil
}
