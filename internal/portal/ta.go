package portal

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"teacherportal/internal/model"
)

var (
	// ErrInvalidEmail is returned for a TA address that does not parse.
	ErrInvalidEmail = errors.New("portal: invalid email address")
	// ErrAlreadyTA is returned when adding someone who is already a TA.
	ErrAlreadyTA = errors.New("portal: already a TA of this course")
	// ErrNotTA is returned when removing someone who is not a TA.
	ErrNotTA = errors.New("portal: not a TA of this course")
)

// TAScreen manages the teaching assistants of one course. Updates go
// through the course list screen so the cached course list stays current.
type TAScreen struct {
	backend Backend
	courses *CoursesScreen
	log     *zap.Logger
	code    string
}

// ManageTAs returns a TA controller for courseCode backed by courses.
func (p *Portal) ManageTAs(courses *CoursesScreen, courseCode string) *TAScreen {
	return &TAScreen{backend: p.backend, courses: courses, log: p.log.Named("ta"), code: courseCode}
}

// Course returns the displayed course, if the course list holds it.
func (s *TAScreen) Course() (model.Course, bool) {
	for _, c := range s.courses.State().Data {
		if c.CourseCode == s.code {
			return c, true
		}
	}
	return model.Course{}, false
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Add assigns taEmail as a TA.
func (s *TAScreen) Add(ctx context.Context, taEmail string) (model.Course, error) {
	email, err := normalizeEmail(taEmail)
	if err != nil {
		return model.Course{}, err
	}
	if c, ok := s.Course(); ok && c.HasTA(email) {
		return model.Course{}, ErrAlreadyTA
	}
	updated, err := s.backend.AddTA(ctx, s.code, email)
	if err != nil {
		return model.Course{}, err
	}
	s.courses.replaceCourse(ctx, updated)
	s.log.Info("ta added", zap.String("course", s.code), zap.String("ta", email))
	return updated, nil
}

// Remove unassigns taEmail.
func (s *TAScreen) Remove(ctx context.Context, taEmail string) (model.Course, error) {
	email, err := normalizeEmail(taEmail)
	if err != nil {
		return model.Course{}, err
	}
	if c, ok := s.Course(); ok && !c.HasTA(email) {
		return model.Course{}, ErrNotTA
	}
	updated, err := s.backend.RemoveTA(ctx, s.code, email)
	if err != nil {
		return model.Course{}, err
	}
	s.courses.replaceCourse(ctx, updated)
	s.log.Info("ta removed", zap.String("course", s.code), zap.String("ta", email))
	return updated, nil
}
