package portal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"teacherportal/internal/cache"
	"teacherportal/internal/model"
)

// ErrInvalidRange is returned when the start bound is after the end bound.
var ErrInvalidRange = errors.New("portal: start date is after end date")

// DateRange is an optional filter; a nil bound leaves that side open.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// Validate rejects inverted ranges.
func (r DateRange) Validate() error {
	if r.Start != nil && r.End != nil && r.Start.After(*r.End) {
		return ErrInvalidRange
	}
	return nil
}

// rangedScreen holds the course and date range of a per-course query.
type rangedScreen struct {
	mu         sync.Mutex
	courseCode string
	rng        DateRange
}

func (r *rangedScreen) params() (string, DateRange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.courseCode, r.rng
}

// LowAttendanceScreen shows the students of a course under the attendance threshold.
type LowAttendanceScreen struct {
	query[model.LowAttendanceRecord]
	rangedScreen
	backend Backend
}

// LowAttendance returns a controller for courseCode with no date filter.
func (p *Portal) LowAttendance(courseCode string) *LowAttendanceScreen {
	return &LowAttendanceScreen{
		query:        query[model.LowAttendanceRecord]{cache: p.cache, log: p.log.Named("low_attendance")},
		rangedScreen: rangedScreen{courseCode: courseCode},
		backend:      p.backend,
	}
}

// SetRange changes the date filter and clears the displayed report.
func (s *LowAttendanceScreen) SetRange(rng DateRange) error {
	if err := rng.Validate(); err != nil {
		return err
	}
	s.rangedScreen.mu.Lock()
	s.rng = rng
	s.rangedScreen.mu.Unlock()
	s.reset()
	return nil
}

// Key is the cache key of the current course and range.
func (s *LowAttendanceScreen) Key() string {
	code, rng := s.params()
	return cache.LowAttendanceKey(code, rng.Start, rng.End)
}

// ShowCached displays the cached report for the current course and range.
func (s *LowAttendanceScreen) ShowCached(ctx context.Context) bool {
	return s.showCached(ctx, s.Key())
}

// FetchLive fetches the report and caches it.
func (s *LowAttendanceScreen) FetchLive(ctx context.Context) error {
	return s.fetchLive(ctx, s.Key(), false, s.fetch)
}

// Load shows the cached report and then the live one.
func (s *LowAttendanceScreen) Load(ctx context.Context) error {
	s.ShowCached(ctx)
	return s.FetchLive(ctx)
}

// Refresh re-fetches without the loading spinner if a report is shown.
func (s *LowAttendanceScreen) Refresh(ctx context.Context) error {
	return s.fetchLive(ctx, s.Key(), true, s.fetch)
}

func (s *LowAttendanceScreen) fetch(ctx context.Context) (model.LowAttendanceRecord, error) {
	code, rng := s.params()
	return s.backend.GetLowAttendanceStudents(ctx, code, rng.Start, rng.End)
}

// State returns the current view.
func (s *LowAttendanceScreen) State() View[model.LowAttendanceRecord] { return s.snapshot() }

// Filter returns the flagged students whose name or roll number contains query.
func (s *LowAttendanceScreen) Filter(query string) []model.LowAttendanceStudent {
	students := s.snapshot().Data.Students
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return students
	}
	var out []model.LowAttendanceStudent
	for _, st := range students {
		if strings.Contains(strings.ToLower(st.StudentName), q) || strings.Contains(strings.ToLower(st.StudentRollNo), q) {
			out = append(out, st)
		}
	}
	return out
}

// StatsScreen shows per-student attendance for a course.
type StatsScreen struct {
	query[model.AttendanceStats]
	rangedScreen
	backend Backend
}

// Stats returns an attendance stats controller for courseCode.
func (p *Portal) Stats(courseCode string) *StatsScreen {
	return &StatsScreen{
		query:        query[model.AttendanceStats]{cache: p.cache, log: p.log.Named("stats")},
		rangedScreen: rangedScreen{courseCode: courseCode},
		backend:      p.backend,
	}
}

// SetRange changes the date filter and clears the displayed stats.
func (s *StatsScreen) SetRange(rng DateRange) error {
	if err := rng.Validate(); err != nil {
		return err
	}
	s.rangedScreen.mu.Lock()
	s.rng = rng
	s.rangedScreen.mu.Unlock()
	s.reset()
	return nil
}

func (s *StatsScreen) key() string {
	code, rng := s.params()
	return cache.StatsKey(code, rng.Start, rng.End)
}

// Load shows the cached stats and then the live ones.
func (s *StatsScreen) Load(ctx context.Context) error {
	s.showCached(ctx, s.key())
	return s.fetchLive(ctx, s.key(), false, s.fetch)
}

// Refresh re-fetches without the loading spinner if stats are shown.
func (s *StatsScreen) Refresh(ctx context.Context) error {
	return s.fetchLive(ctx, s.key(), true, s.fetch)
}

func (s *StatsScreen) fetch(ctx context.Context) (model.AttendanceStats, error) {
	code, rng := s.params()
	return s.backend.GetAttendanceStats(ctx, code, rng.Start, rng.End)
}

// State returns the current view.
func (s *StatsScreen) State() View[model.AttendanceStats] { return s.snapshot() }
