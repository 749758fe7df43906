package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"teacherportal/internal/model"
)

// PostgresRepository persists portal data in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY,
	email         TEXT UNIQUE NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL,
	password_hash BYTEA NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS refresh_tokens (
	user_id    TEXT NOT NULL REFERENCES accounts(id),
	token      TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked    BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS courses (
	course_code   TEXT PRIMARY KEY,
	teachers      JSONB NOT NULL DEFAULT '[]',
	tas           JSONB NOT NULL DEFAULT '[]',
	total_classes INT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS students (
	id          TEXT PRIMARY KEY,
	course_code TEXT NOT NULL REFERENCES courses(course_code),
	roll_no     TEXT NOT NULL,
	name        TEXT NOT NULL,
	position    BIGSERIAL,
	UNIQUE (course_code, roll_no)
);
CREATE TABLE IF NOT EXISTS class_sessions (
	id           TEXT PRIMARY KEY,
	course_code  TEXT NOT NULL REFERENCES courses(course_code),
	held_at      TIMESTAMPTZ NOT NULL,
	roll_numbers JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_class_sessions_course ON class_sessions(course_code, held_at);
CREATE TABLE IF NOT EXISTS grievances (
	id              TEXT PRIMARY KEY,
	course_code     TEXT NOT NULL REFERENCES courses(course_code),
	student_name    TEXT NOT NULL,
	student_roll_no TEXT NOT NULL,
	subject         TEXT NOT NULL,
	body            TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'open',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the schema if needed.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PostgresRepository) CreateAccount(ctx context.Context, a Account) (Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Email = strings.ToLower(a.Email)
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, email, name, role, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, a.ID, a.Email, a.Name, a.Role, a.PasswordHash)
	if err := row.Scan(&a.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Account{}, ErrConflict
		}
		return Account{}, err
	}
	return a, nil
}

func (r *PostgresRepository) AccountByEmail(ctx context.Context, email string) (Account, error) {
	var a Account
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, password_hash, created_at
		FROM accounts WHERE email = $1
	`, strings.ToLower(email)).Scan(&a.ID, &a.Email, &a.Name, &a.Role, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *PostgresRepository) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, userID, token, expiresAt)
	return err
}

func (r *PostgresRepository) UpsertCourse(ctx context.Context, c model.Course) error {
	teachers, tas, err := encodeLists(c.Teachers, c.TAs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO courses (course_code, teachers, tas, total_classes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (course_code) DO UPDATE SET
			teachers = EXCLUDED.teachers,
			tas = EXCLUDED.tas,
			total_classes = EXCLUDED.total_classes
	`, c.CourseCode, teachers, tas, c.TotalClasses)
	return err
}

const courseColumns = `course_code, teachers, tas, total_classes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCourse(row rowScanner) (model.Course, error) {
	var (
		c             model.Course
		teachers, tas []byte
	)
	if err := row.Scan(&c.CourseCode, &teachers, &tas, &c.TotalClasses); err != nil {
		return model.Course{}, err
	}
	if err := json.Unmarshal(teachers, &c.Teachers); err != nil {
		return model.Course{}, fmt.Errorf("decode teachers of %s: %w", c.CourseCode, err)
	}
	if err := json.Unmarshal(tas, &c.TAs); err != nil {
		return model.Course{}, fmt.Errorf("decode tas of %s: %w", c.CourseCode, err)
	}
	return c, nil
}

func (r *PostgresRepository) Course(ctx context.Context, code string) (model.Course, error) {
	c, err := scanCourse(r.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE course_code = $1`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Course{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepository) CoursesFor(ctx context.Context, email string) ([]model.Course, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+courseColumns+` FROM courses
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements_text(teachers || tas) AS staff(email)
			WHERE lower(staff.email) = lower($1)
		)
		ORDER BY course_code
	`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Course{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SetTAs(ctx context.Context, code string, tas []string) (model.Course, error) {
	raw, err := json.Marshal(nonNil(tas))
	if err != nil {
		return model.Course{}, err
	}
	c, err := scanCourse(r.db.QueryRowContext(ctx, `
		UPDATE courses SET tas = $2 WHERE course_code = $1
		RETURNING `+courseColumns, code, raw))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Course{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepository) AddStudent(ctx context.Context, s model.Student) (model.Student, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, course_code, roll_no, name) VALUES ($1, $2, $3, $4)
	`, s.ID, s.CourseCode, s.RollNo, s.Name)
	if isUniqueViolation(err) {
		return model.Student{}, ErrConflict
	}
	if err != nil {
		return model.Student{}, err
	}
	return s, nil
}

// Students returns the roster in insertion order.
func (r *PostgresRepository) Students(ctx context.Context, code string) ([]model.Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_code, roll_no, name FROM students
		WHERE course_code = $1 ORDER BY position
	`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Student{}
	for rows.Next() {
		var s model.Student
		if err := rows.Scan(&s.ID, &s.CourseCode, &s.RollNo, &s.Name); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) RecordSession(ctx context.Context, s ClassSession) (ClassSession, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	rolls, err := json.Marshal(nonNil(s.RollNumbers))
	if err != nil {
		return ClassSession{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ClassSession{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE courses SET total_classes = total_classes + 1 WHERE course_code = $1`, s.CourseCode)
	if err != nil {
		return ClassSession{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ClassSession{}, ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO class_sessions (id, course_code, held_at, roll_numbers)
		VALUES ($1, $2, $3, $4)
	`, s.ID, s.CourseCode, s.HeldAt, rolls); err != nil {
		return ClassSession{}, err
	}
	return s, tx.Commit()
}

// Sessions returns roll calls with basic range filters.
func (r *PostgresRepository) Sessions(ctx context.Context, code string, start, end *time.Time) ([]ClassSession, error) {
	query := `SELECT id, course_code, held_at, roll_numbers FROM class_sessions`
	args := []any{code}
	clauses := []string{"course_code = $1"}
	if start != nil {
		args = append(args, *start)
		clauses = append(clauses, fmt.Sprintf("held_at >= $%d", len(args)))
	}
	if end != nil {
		args = append(args, *end)
		clauses = append(clauses, fmt.Sprintf("held_at <= $%d", len(args)))
	}
	query += " WHERE " + strings.Join(clauses, " AND ") + " ORDER BY held_at"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ClassSession
	for rows.Next() {
		var (
			s     ClassSession
			rolls []byte
		)
		if err := rows.Scan(&s.ID, &s.CourseCode, &s.HeldAt, &rolls); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rolls, &s.RollNumbers); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", s.ID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const grievanceColumns = `id, course_code, student_name, student_roll_no, subject, body, status, created_at`

func scanGrievance(row rowScanner) (model.Grievance, error) {
	var g model.Grievance
	err := row.Scan(&g.ID, &g.CourseCode, &g.StudentName, &g.StudentRollNo, &g.Subject, &g.Body, &g.Status, &g.CreatedAt)
	return g, err
}

func (r *PostgresRepository) CreateGrievance(ctx context.Context, g model.Grievance) (model.Grievance, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = model.GrievanceOpen
	}
	return scanGrievance(r.db.QueryRowContext(ctx, `
		INSERT INTO grievances (id, course_code, student_name, student_roll_no, subject, body, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+grievanceColumns,
		g.ID, g.CourseCode, g.StudentName, g.StudentRollNo, g.Subject, g.Body, g.Status))
}

func (r *PostgresRepository) GrievancesFor(ctx context.Context, courseCodes []string) ([]model.Grievance, error) {
	out := []model.Grievance{}
	if len(courseCodes) == 0 {
		return out, nil
	}
	codes, err := json.Marshal(courseCodes)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+grievanceColumns+` FROM grievances
		WHERE course_code IN (SELECT jsonb_array_elements_text($1::jsonb))
		ORDER BY created_at
	`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		g, err := scanGrievance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Grievance(ctx context.Context, id string) (model.Grievance, error) {
	g, err := scanGrievance(r.db.QueryRowContext(ctx, `SELECT `+grievanceColumns+` FROM grievances WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Grievance{}, ErrNotFound
	}
	return g, err
}

func (r *PostgresRepository) SetGrievanceStatus(ctx context.Context, id, status string) (model.Grievance, error) {
	g, err := scanGrievance(r.db.QueryRowContext(ctx, `
		UPDATE grievances SET status = $2 WHERE id = $1
		RETURNING `+grievanceColumns, id, status))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Grievance{}, ErrNotFound
	}
	return g, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func encodeLists(teachers, tas []string) ([]byte, []byte, error) {
	t, err := json.Marshal(nonNil(teachers))
	if err != nil {
		return nil, nil, err
	}
	a, err := json.Marshal(nonNil(tas))
	if err != nil {
		return nil, nil, err
	}
	return t, a, nil
}
