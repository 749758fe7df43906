package portal

import (
	"context"
	"errors"
	"strings"

	"teacherportal/internal/cache"
	"teacherportal/internal/model"
)

// ErrInvalidStatus is returned for an unknown grievance status.
var ErrInvalidStatus = errors.New("portal: invalid grievance status")

// GrievancesScreen lists grievances raised against the teacher's courses.
type GrievancesScreen struct {
	query[[]model.Grievance]
	backend Backend
	email   string
}

// Grievances returns a grievance list controller.
func (p *Portal) Grievances() *GrievancesScreen {
	return &GrievancesScreen{
		query:   query[[]model.Grievance]{cache: p.cache, log: p.log.Named("grievances")},
		backend: p.backend,
		email:   p.sess.Email,
	}
}

func (s *GrievancesScreen) key() string { return cache.GrievancesKey(s.email) }

func (s *GrievancesScreen) fetch(ctx context.Context) ([]model.Grievance, error) {
	return s.backend.GetGrievances(ctx, s.email)
}

// Load shows the cached list and then the live one.
func (s *GrievancesScreen) Load(ctx context.Context) error {
	s.showCached(ctx, s.key())
	return s.fetchLive(ctx, s.key(), false, s.fetch)
}

// Refresh re-fetches without the loading spinner if a list is shown.
func (s *GrievancesScreen) Refresh(ctx context.Context) error {
	return s.fetchLive(ctx, s.key(), true, s.fetch)
}

// State returns the current view.
func (s *GrievancesScreen) State() View[[]model.Grievance] { return s.snapshot() }

// SetStatus moves a grievance to status and updates the list in place.
func (s *GrievancesScreen) SetStatus(ctx context.Context, id, status string) (model.Grievance, error) {
	if !model.ValidGrievanceStatus(status) {
		return model.Grievance{}, ErrInvalidStatus
	}
	updated, err := s.backend.UpdateGrievanceStatus(ctx, id, status)
	if err != nil {
		return model.Grievance{}, err
	}
	s.update(ctx, s.key(), func(list []model.Grievance) []model.Grievance {
		out := make([]model.Grievance, len(list))
		copy(out, list)
		for i := range out {
			if out[i].ID == updated.ID {
				out[i] = updated
			}
		}
		return out
	})
	return updated, nil
}

// Filter returns grievances whose subject, student name or roll number contains query.
func (s *GrievancesScreen) Filter(query string) []model.Grievance {
	list := s.snapshot().Data
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return list
	}
	var out []model.Grievance
	for _, g := range list {
		if strings.Contains(strings.ToLower(g.Subject), q) ||
			strings.Contains(strings.ToLower(g.StudentName), q) ||
			strings.Contains(strings.ToLower(g.StudentRollNo), q) {
			out = append(out, g)
		}
	}
	return out
}
