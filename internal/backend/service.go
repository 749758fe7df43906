package backend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"teacherportal/internal/auth"
	"teacherportal/internal/metrics"
	"teacherportal/internal/model"
	"teacherportal/internal/roll"
)

const minPasswordLen = 6

// TokenConfig controls how access and refresh tokens are minted.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Caller is the authenticated account making a request.
type Caller struct {
	UserID string
	Email  string
	Role   string
}

// Service implements the portal backend's business rules on top of a Repository.
type Service struct {
	repo   Repository
	tokens TokenConfig
	logger *zap.Logger
	now    func() time.Time

	hashCost int
}

// NewService wires a service. A nil logger is replaced by a no-op logger.
func NewService(repo Repository, tokens TokenConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		tokens:   tokens,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		hashCost: bcrypt.DefaultCost,
	}
}

// SetHashCost changes the bcrypt cost used for new passwords. Values outside
// bcrypt's range fall back to bcrypt.DefaultCost.
func (s *Service) SetHashCost(cost int) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	s.hashCost = cost
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, email, password, name, role string) (model.AuthResponse, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return model.AuthResponse{}, fmt.Errorf("%w: invalid email", ErrInvalid)
	}
	if len(password) < minPasswordLen {
		return model.AuthResponse{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalid, minPasswordLen)
	}
	if role == "" {
		role = "teacher"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return model.AuthResponse{}, err
	}
	acct, err := s.repo.CreateAccount(ctx, Account{
		User:         model.User{Email: addr.Address, Name: strings.TrimSpace(name), Role: role},
		PasswordHash: hash,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return model.AuthResponse{}, err
	}
	s.logger.Info("account registered", zap.String("user_id", acct.ID), zap.String("role", acct.Role))
	return s.signIn(ctx, acct)
}

// Login checks credentials and returns a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (model.AuthResponse, error) {
	acct, err := s.repo.AccountByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrNotFound) {
		return model.AuthResponse{}, ErrUnauthorized
	}
	if err != nil {
		return model.AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)); err != nil {
		return model.AuthResponse{}, ErrUnauthorized
	}
	return s.signIn(ctx, acct)
}

func (s *Service) signIn(ctx context.Context, acct Account) (model.AuthResponse, error) {
	tokens, err := auth.Issue(acct.ID, acct.Email, acct.Role, s.tokens.Issuer, s.tokens.SigningKey, s.tokens.AccessTTL, s.tokens.RefreshTTL)
	if err != nil {
		return model.AuthResponse{}, fmt.Errorf("issue tokens: %w", err)
	}
	if err := s.repo.SaveRefreshToken(ctx, acct.ID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		s.logger.Warn("refresh token not stored", zap.String("user_id", acct.ID), zap.Error(err))
	}
	return model.AuthResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		User:         acct.User,
	}, nil
}

// Courses lists the courses email teaches or assists. Callers may only list their own.
func (s *Service) Courses(ctx context.Context, caller Caller, email string) ([]model.Course, error) {
	if email == "" {
		email = caller.Email
	}
	if !strings.EqualFold(email, caller.Email) {
		return nil, ErrForbidden
	}
	return s.repo.CoursesFor(ctx, caller.Email)
}

// staffCourse loads a course the caller teaches or assists.
func (s *Service) staffCourse(ctx context.Context, caller Caller, code string) (model.Course, error) {
	c, err := s.repo.Course(ctx, code)
	if err != nil {
		return model.Course{}, err
	}
	if !containsEmail(c.Teachers, caller.Email) && !containsEmail(c.TAs, caller.Email) {
		return model.Course{}, ErrForbidden
	}
	return c, nil
}

// Students returns the roster of a course.
func (s *Service) Students(ctx context.Context, caller Caller, code string) ([]model.Student, error) {
	if _, err := s.staffCourse(ctx, caller, code); err != nil {
		return nil, err
	}
	return s.repo.Students(ctx, code)
}

// SubmitAttendance records one class session with the given present roll numbers.
func (s *Service) SubmitAttendance(ctx context.Context, caller Caller, code string, rollNumbers []string) error {
	if code == "" {
		return fmt.Errorf("%w: course_code required", ErrInvalid)
	}
	if _, err := s.staffCourse(ctx, caller, code); err != nil {
		return err
	}
	students, err := s.repo.Students(ctx, code)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(students))
	for _, st := range students {
		known[st.RollNo] = true
	}
	seen := make(map[string]bool, len(rollNumbers))
	present := make([]string, 0, len(rollNumbers))
	for _, r := range rollNumbers {
		if !known[r] {
			return fmt.Errorf("%w: unknown roll number %q", ErrInvalid, r)
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		present = append(present, r)
	}
	sess, err := s.repo.RecordSession(ctx, ClassSession{CourseCode: code, HeldAt: s.now(), RollNumbers: present})
	if err != nil {
		return err
	}
	metrics.AttendanceSubmissions.WithLabelValues(code).Inc()
	s.logger.Info("attendance recorded",
		zap.String("course", code),
		zap.String("session_id", sess.ID),
		zap.Int("present", len(present)),
		zap.Int("roster", len(students)))
	return nil
}

// attendanceRow is one student's attendance within a range.
type attendanceRow struct {
	student  model.Student
	attended int
	pct      float64
}

// attendance computes per-student attendance for sessions held within [start, end],
// ordered by roll number.
func (s *Service) attendance(ctx context.Context, caller Caller, code string, start, end *time.Time) ([]attendanceRow, int, error) {
	if start != nil && end != nil && start.After(*end) {
		return nil, 0, fmt.Errorf("%w: start_date after end_date", ErrInvalid)
	}
	if _, err := s.staffCourse(ctx, caller, code); err != nil {
		return nil, 0, err
	}
	students, err := s.repo.Students(ctx, code)
	if err != nil {
		return nil, 0, err
	}
	sessions, err := s.repo.Sessions(ctx, code, start, end)
	if err != nil {
		return nil, 0, err
	}

	counts := make(map[string]int, len(students))
	for _, sess := range sessions {
		for _, r := range sess.RollNumbers {
			counts[r]++
		}
	}

	entries := make([]roll.Entry, len(students))
	for i, st := range students {
		entries[i] = roll.Entry{Student: st}
	}
	roll.SortByRoll(entries)

	rows := make([]attendanceRow, len(entries))
	for i, e := range entries {
		row := attendanceRow{student: e.Student, attended: counts[e.RollNo]}
		if len(sessions) > 0 {
			row.pct = percentage(row.attended, len(sessions))
		}
		rows[i] = row
	}
	return rows, len(sessions), nil
}

func percentage(attended, held int) float64 {
	return math.Round(float64(attended)/float64(held)*10000) / 100
}

// LowAttendance lists students below the attendance threshold. With no sessions in
// range nobody is listed.
func (s *Service) LowAttendance(ctx context.Context, caller Caller, code string, start, end *time.Time) (model.LowAttendanceRecord, error) {
	rows, held, err := s.attendance(ctx, caller, code, start, end)
	if err != nil {
		return model.LowAttendanceRecord{}, err
	}
	rec := model.LowAttendanceRecord{
		CourseCode:    code,
		TotalClasses:  held,
		TotalStudents: len(rows),
		Students:      []model.LowAttendanceStudent{},
		StartDate:     start,
		EndDate:       end,
	}
	if held == 0 {
		return rec, nil
	}
	for _, row := range rows {
		if row.pct < model.LowAttendanceThreshold {
			rec.Students = append(rec.Students, model.LowAttendanceStudent{
				StudentName:          row.student.Name,
				StudentRollNo:        row.student.RollNo,
				AttendancePercentage: row.pct,
			})
		}
	}
	return rec, nil
}

// Stats summarises attendance for every student of a course.
func (s *Service) Stats(ctx context.Context, caller Caller, code string, start, end *time.Time) (model.AttendanceStats, error) {
	rows, held, err := s.attendance(ctx, caller, code, start, end)
	if err != nil {
		return model.AttendanceStats{}, err
	}
	stats := model.AttendanceStats{CourseCode: code, TotalClasses: held, Students: make([]model.StudentStat, len(rows))}
	for i, row := range rows {
		stats.Students[i] = model.StudentStat{
			Name:       row.student.Name,
			RollNo:     row.student.RollNo,
			Attended:   row.attended,
			Percentage: row.pct,
		}
	}
	return stats, nil
}

// teacherCourse loads a course the caller teaches.
func (s *Service) teacherCourse(ctx context.Context, caller Caller, code string) (model.Course, error) {
	c, err := s.repo.Course(ctx, code)
	if err != nil {
		return model.Course{}, err
	}
	if !containsEmail(c.Teachers, caller.Email) {
		return model.Course{}, ErrForbidden
	}
	return c, nil
}

// AddTA appends taEmail, lowercased like account emails, to the course's TA list.
func (s *Service) AddTA(ctx context.Context, caller Caller, code, taEmail string) (model.Course, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(taEmail))
	if err != nil {
		return model.Course{}, fmt.Errorf("%w: invalid ta_email", ErrInvalid)
	}
	email := strings.ToLower(addr.Address)
	c, err := s.teacherCourse(ctx, caller, code)
	if err != nil {
		return model.Course{}, err
	}
	if c.HasTA(email) {
		return model.Course{}, fmt.Errorf("%w: %s is already a TA", ErrConflict, email)
	}
	return s.repo.SetTAs(ctx, code, append(c.TAs, email))
}

// RemoveTA drops taEmail from the course's TA list.
func (s *Service) RemoveTA(ctx context.Context, caller Caller, code, taEmail string) (model.Course, error) {
	c, err := s.teacherCourse(ctx, caller, code)
	if err != nil {
		return model.Course{}, err
	}
	taEmail = strings.TrimSpace(taEmail)
	if !c.HasTA(taEmail) {
		return model.Course{}, fmt.Errorf("%w: %s is not a TA", ErrNotFound, taEmail)
	}
	tas := make([]string, 0, len(c.TAs)-1)
	for _, ta := range c.TAs {
		if !strings.EqualFold(ta, taEmail) {
			tas = append(tas, ta)
		}
	}
	return s.repo.SetTAs(ctx, code, tas)
}

// Grievances lists grievances raised against the courses of email.
func (s *Service) Grievances(ctx context.Context, caller Caller, email string) ([]model.Grievance, error) {
	courses, err := s.Courses(ctx, caller, email)
	if err != nil {
		return nil, err
	}
	codes := make([]string, len(courses))
	for i, c := range courses {
		codes[i] = c.CourseCode
	}
	return s.repo.GrievancesFor(ctx, codes)
}

// SetGrievanceStatus moves a grievance to status.
func (s *Service) SetGrievanceStatus(ctx context.Context, caller Caller, id, status string) (model.Grievance, error) {
	if !model.ValidGrievanceStatus(status) {
		return model.Grievance{}, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	g, err := s.repo.Grievance(ctx, id)
	if err != nil {
		return model.Grievance{}, err
	}
	if _, err := s.staffCourse(ctx, caller, g.CourseCode); err != nil {
		return model.Grievance{}, err
	}
	return s.repo.SetGrievanceStatus(ctx, id, status)
}
