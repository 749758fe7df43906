package backend

import (
	"context"
	"errors"
	"time"

	"teacherportal/internal/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrInvalid      = errors.New("invalid request")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("invalid credentials")
)

// Account is a stored user with its password hash.
type Account struct {
	model.User
	PasswordHash []byte
	CreatedAt    time.Time
}

// ClassSession is one recorded roll call.
type ClassSession struct {
	ID          string
	CourseCode  string
	HeldAt      time.Time
	RollNumbers []string
}

// Repository persists the mock backend's data.
type Repository interface {
	Ping(ctx context.Context) error

	CreateAccount(ctx context.Context, a Account) (Account, error)
	AccountByEmail(ctx context.Context, email string) (Account, error)
	SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error

	UpsertCourse(ctx context.Context, c model.Course) error
	Course(ctx context.Context, code string) (model.Course, error)
	CoursesFor(ctx context.Context, email string) ([]model.Course, error)
	SetTAs(ctx context.Context, code string, tas []string) (model.Course, error)

	AddStudent(ctx context.Context, s model.Student) (model.Student, error)
	Students(ctx context.Context, code string) ([]model.Student, error)

	// RecordSession stores a roll call and increments the course's class count.
	RecordSession(ctx context.Context, s ClassSession) (ClassSession, error)
	// Sessions lists a course's roll calls held within [start, end]; nil bounds are open.
	Sessions(ctx context.Context, code string, start, end *time.Time) ([]ClassSession, error)

	CreateGrievance(ctx context.Context, g model.Grievance) (model.Grievance, error)
	GrievancesFor(ctx context.Context, courseCodes []string) ([]model.Grievance, error)
	Grievance(ctx context.Context, id string) (model.Grievance, error)
	SetGrievanceStatus(ctx context.Context, id, status string) (model.Grievance, error)
}

func inRange(t time.Time, start, end *time.Time) bool {
	if start != nil && t.Before(*start) {
		return false
	}
	if end != nil && t.After(*end) {
		return false
	}
	return true
}
