package portal

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"teacherportal/internal/roll"
)

var (
	// ErrSaveInProgress is returned while a previous Save has not finished.
	ErrSaveInProgress = errors.New("portal: attendance save already in progress")
	// ErrNoCourse is returned when no course has been selected yet.
	ErrNoCourse = errors.New("portal: no course selected")
)

// AttendanceState is a snapshot of the take-attendance screen.
type AttendanceState struct {
	CourseCode string
	Entries    []roll.Entry
	Tally      roll.Tally
	Loading    bool
	Saving     bool
	Saved      bool
	Err        error
}

// TakeAttendanceScreen drives a roll call for one course at a time.
type TakeAttendanceScreen struct {
	lifecycle
	backend Backend
	log     *zap.Logger

	mu      sync.Mutex
	gen     uint64
	roster  *roll.Roster
	loading bool
	saving  bool
	saved   bool
	err     error
}

// TakeAttendance returns a roll-call controller with no course selected.
func (p *Portal) TakeAttendance() *TakeAttendanceScreen {
	return &TakeAttendanceScreen{backend: p.backend, log: p.log.Named("take_attendance")}
}

// SelectCourse discards the current roster and loads the roster of courseCode.
// If another course is selected before the fetch completes, this result is dropped.
func (s *TakeAttendanceScreen) SelectCourse(ctx context.Context, courseCode string) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.roster = nil
	s.loading = true
	s.saved = false
	s.err = nil
	s.mu.Unlock()

	next := &roll.Roster{}
	err := next.Load(ctx, s.backend, courseCode)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Mounted() || gen != s.gen {
		s.log.Debug("discarding stale roster", zap.String("course", courseCode))
		return ErrUnmounted
	}
	s.loading = false
	if err != nil {
		s.err = err
		return err
	}
	s.roster = next
	return nil
}

func (s *TakeAttendanceScreen) current() (*roll.Roster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roster == nil {
		return nil, ErrNoCourse
	}
	return s.roster, nil
}

// Toggle flips one student's mark. Unknown ids are logged and ignored.
func (s *TakeAttendanceScreen) Toggle(id string) error {
	r, err := s.current()
	if err != nil {
		return err
	}
	if err := r.Toggle(id); err != nil {
		s.log.Warn("toggle on unknown student", zap.String("id", id))
		return err
	}
	s.clearSaved()
	return nil
}

// MarkAll marks every student present or absent.
func (s *TakeAttendanceScreen) MarkAll(present bool) error {
	r, err := s.current()
	if err != nil {
		return err
	}
	r.MarkAll(present)
	s.clearSaved()
	return nil
}

func (s *TakeAttendanceScreen) clearSaved() {
	s.mu.Lock()
	s.saved = false
	s.mu.Unlock()
}

// Save submits the roll call. Only one save runs at a time; on failure the
// marks stay as they are so the teacher can retry. If another course is
// selected while the save is in flight, its outcome is not shown.
func (s *TakeAttendanceScreen) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.roster == nil {
		s.mu.Unlock()
		return ErrNoCourse
	}
	if s.saving {
		s.mu.Unlock()
		return ErrSaveInProgress
	}
	s.saving = true
	s.err = nil
	gen := s.gen
	r := s.roster
	s.mu.Unlock()

	err := r.Save(ctx, s.backend)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if !s.Mounted() || gen != s.gen {
		s.log.Debug("discarding stale save", zap.String("course", r.CourseCode()))
		return ErrUnmounted
	}
	if err != nil {
		s.err = err
		s.log.Warn("attendance save failed", zap.String("course", r.CourseCode()), zap.Error(err))
		return err
	}
	s.saved = true
	return nil
}

// Filter returns the students whose name or roll number contains query.
func (s *TakeAttendanceScreen) Filter(query string) []roll.Entry {
	r, err := s.current()
	if err != nil {
		return nil
	}
	return r.Filter(query)
}

// State returns the current view.
func (s *TakeAttendanceScreen) State() AttendanceState {
	s.mu.Lock()
	st := AttendanceState{
		Loading: s.loading,
		Saving:  s.saving,
		Saved:   s.saved,
		Err:     s.err,
	}
	r := s.roster
	s.mu.Unlock()
	if r != nil {
		st.CourseCode = r.CourseCode()
		st.Entries = r.Entries()
		st.Tally = r.Tally()
	}
	return st
}
