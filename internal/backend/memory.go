package backend

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"teacherportal/internal/model"
)

// MemoryRepository keeps everything in process memory, for development and tests.
type MemoryRepository struct {
	mu         sync.RWMutex
	accounts   map[string]Account // by email
	tokens     map[string]time.Time
	courses    map[string]model.Course
	students   map[string][]model.Student
	sessions   map[string][]ClassSession
	grievances map[string]model.Grievance
	grvOrder   []string
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:   make(map[string]Account),
		tokens:     make(map[string]time.Time),
		courses:    make(map[string]model.Course),
		students:   make(map[string][]model.Student),
		sessions:   make(map[string][]ClassSession),
		grievances: make(map[string]model.Grievance),
	}
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) CreateAccount(_ context.Context, a Account) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(a.Email)
	if _, ok := r.accounts[email]; ok {
		return Account{}, ErrConflict
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Email = email
	r.accounts[email] = a
	return a, nil
}

func (r *MemoryRepository) AccountByEmail(_ context.Context, email string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[strings.ToLower(email)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepository) SaveRefreshToken(_ context.Context, _ string, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = expiresAt
	return nil
}

func copyCourse(c model.Course) model.Course {
	c.Teachers = append([]string{}, c.Teachers...)
	c.TAs = append([]string{}, c.TAs...)
	return c
}

func (r *MemoryRepository) UpsertCourse(_ context.Context, c model.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses[c.CourseCode] = copyCourse(c)
	return nil
}

func (r *MemoryRepository) Course(_ context.Context, code string) (model.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.courses[code]
	if !ok {
		return model.Course{}, ErrNotFound
	}
	return copyCourse(c), nil
}

func (r *MemoryRepository) CoursesFor(_ context.Context, email string) ([]model.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []model.Course{}
	for _, c := range r.courses {
		if containsEmail(c.Teachers, email) || containsEmail(c.TAs, email) {
			out = append(out, copyCourse(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseCode < out[j].CourseCode })
	return out, nil
}

func (r *MemoryRepository) SetTAs(_ context.Context, code string, tas []string) (model.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.courses[code]
	if !ok {
		return model.Course{}, ErrNotFound
	}
	c.TAs = append([]string{}, tas...)
	r.courses[code] = c
	return copyCourse(c), nil
}

func (r *MemoryRepository) AddStudent(_ context.Context, s model.Student) (model.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.students[s.CourseCode] {
		if existing.RollNo == s.RollNo {
			return model.Student{}, ErrConflict
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	r.students[s.CourseCode] = append(r.students[s.CourseCode], s)
	return s, nil
}

func (r *MemoryRepository) Students(_ context.Context, code string) ([]model.Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.Student{}, r.students[code]...), nil
}

func (r *MemoryRepository) RecordSession(_ context.Context, s ClassSession) (ClassSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.courses[s.CourseCode]
	if !ok {
		return ClassSession{}, ErrNotFound
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.RollNumbers = append([]string{}, s.RollNumbers...)
	r.sessions[s.CourseCode] = append(r.sessions[s.CourseCode], s)
	c.TotalClasses++
	r.courses[s.CourseCode] = c
	return s, nil
}

func (r *MemoryRepository) Sessions(_ context.Context, code string, start, end *time.Time) ([]ClassSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ClassSession
	for _, s := range r.sessions[code] {
		if inRange(s.HeldAt, start, end) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CreateGrievance(_ context.Context, g model.Grievance) (model.Grievance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = model.GrievanceOpen
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	r.grievances[g.ID] = g
	r.grvOrder = append(r.grvOrder, g.ID)
	return g, nil
}

func (r *MemoryRepository) GrievancesFor(_ context.Context, courseCodes []string) ([]model.Grievance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []model.Grievance{}
	for _, id := range r.grvOrder {
		g := r.grievances[id]
		if contains(courseCodes, g.CourseCode) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Grievance(_ context.Context, id string) (model.Grievance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grievances[id]
	if !ok {
		return model.Grievance{}, ErrNotFound
	}
	return g, nil
}

func (r *MemoryRepository) SetGrievanceStatus(_ context.Context, id, status string) (model.Grievance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grievances[id]
	if !ok {
		return model.Grievance{}, ErrNotFound
	}
	g.Status = status
	r.grievances[id] = g
	return g, nil
}

func containsEmail(list []string, email string) bool {
	for _, s := range list {
		if strings.EqualFold(s, email) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
