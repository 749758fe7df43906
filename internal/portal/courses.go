package portal

import (
	"context"
	"strings"

	"teacherportal/internal/cache"
	"teacherportal/internal/model"
)

// CoursesScreen lists the courses of the signed-in teacher.
type CoursesScreen struct {
	query[[]model.Course]
	backend Backend
	email   string
}

// Courses returns a new course list controller.
func (p *Portal) Courses() *CoursesScreen {
	return &CoursesScreen{
		query:   query[[]model.Course]{cache: p.cache, log: p.log.Named("courses")},
		backend: p.backend,
		email:   p.sess.Email,
	}
}

func (s *CoursesScreen) key() string { return cache.CoursesKey(s.email) }

// ShowCached displays the last known course list, if any.
func (s *CoursesScreen) ShowCached(ctx context.Context) bool {
	return s.showCached(ctx, s.key())
}

// FetchLive fetches the course list and caches it.
func (s *CoursesScreen) FetchLive(ctx context.Context) error {
	return s.fetchLive(ctx, s.key(), false, s.fetch)
}

// Load shows the cached list and then the live one.
func (s *CoursesScreen) Load(ctx context.Context) error {
	s.ShowCached(ctx)
	return s.FetchLive(ctx)
}

// Refresh re-fetches without the loading spinner if a list is shown.
func (s *CoursesScreen) Refresh(ctx context.Context) error {
	return s.fetchLive(ctx, s.key(), true, s.fetch)
}

func (s *CoursesScreen) fetch(ctx context.Context) ([]model.Course, error) {
	return s.backend.GetCourses(ctx, s.email)
}

// State returns the current view.
func (s *CoursesScreen) State() View[[]model.Course] { return s.snapshot() }

// Filter returns the displayed courses whose code contains query, ignoring case.
func (s *CoursesScreen) Filter(query string) []model.Course {
	courses := s.snapshot().Data
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return courses
	}
	var out []model.Course
	for _, c := range courses {
		if strings.Contains(strings.ToLower(c.CourseCode), q) {
			out = append(out, c)
		}
	}
	return out
}

// replaceCourse swaps in an updated course, both on screen and in the cache.
func (s *CoursesScreen) replaceCourse(ctx context.Context, updated model.Course) {
	s.update(ctx, s.key(), func(courses []model.Course) []model.Course {
		return withCourse(courses, updated)
	})
}

func withCourse(courses []model.Course, updated model.Course) []model.Course {
	out := make([]model.Course, len(courses))
	copy(out, courses)
	for i := range out {
		if out[i].CourseCode == updated.CourseCode {
			out[i] = updated
		}
	}
	return out
}
