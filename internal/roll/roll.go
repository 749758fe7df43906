// Package roll holds the attendance roster of a single roll-call session.
// Marks live in memory until Save submits the present roll numbers.
package roll

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"teacherportal/internal/model"
)

// ErrNotFound is returned by Toggle for an id that is not on the roster.
var ErrNotFound = errors.New("roll: student not on roster")

// RosterSource fetches the students of a course.
type RosterSource interface {
	GetStudents(ctx context.Context, courseCode string) ([]model.Student, error)
}

// Submitter records a session given the roll numbers of present students.
type Submitter interface {
	SubmitAttendance(ctx context.Context, courseCode string, rollNumbers []string) error
}

// Entry is a roster student with the session-local present mark.
type Entry struct {
	model.Student
	Present bool `json:"present"`
}

// Tally counts the marks of a roster. Present+Absent always equals Total.
type Tally struct {
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Total   int `json:"total"`
}

// ExtractNumericSuffix keeps only the digits of roll and parses them, so
// "CS104" is 104 and "CS007" is 7. A roll without digits is 0; values too
// large for an int clamp to math.MaxInt.
func ExtractNumericSuffix(roll string) int {
	var b strings.Builder
	for _, r := range roll {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return math.MaxInt
	}
	return n
}

// SortByRoll orders entries by the numeric part of their roll number.
// Entries with equal numbers keep their relative order.
func SortByRoll(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return ExtractNumericSuffix(entries[i].RollNo) < ExtractNumericSuffix(entries[j].RollNo)
	})
}

// Roster is the mutable roll of one course.
type Roster struct {
	mu         sync.Mutex
	courseCode string
	entries    []Entry
}

// New returns a roster over students, all marked present and sorted by roll.
func New(courseCode string, students []model.Student) *Roster {
	r := &Roster{}
	r.reset(courseCode, students)
	return r
}

func (r *Roster) reset(courseCode string, students []model.Student) {
	entries := make([]Entry, len(students))
	for i, s := range students {
		entries[i] = Entry{Student: s, Present: true}
	}
	SortByRoll(entries)
	r.courseCode = courseCode
	r.entries = entries
}

// Load fetches the roster of courseCode and replaces the current one. On
// failure the roster is left as it was.
func (r *Roster) Load(ctx context.Context, src RosterSource, courseCode string) error {
	students, err := src.GetStudents(ctx, courseCode)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset(courseCode, students)
	return nil
}

// CourseCode is the course the roster was loaded for.
func (r *Roster) CourseCode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.courseCode
}

// Entries returns a copy of the roster in display order.
func (r *Roster) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Toggle flips the mark of the student with the given id.
func (r *Roster) Toggle(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID == id {
			r.entries[i].Present = !r.entries[i].Present
			return nil
		}
	}
	return ErrNotFound
}

// MarkAll sets every mark to present or absent.
func (r *Roster) MarkAll(present bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		r.entries[i].Present = present
	}
}

// Tally counts present and absent students.
func (r *Roster) Tally() Tally {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := Tally{Total: len(r.entries)}
	for _, e := range r.entries {
		if e.Present {
			t.Present++
		}
	}
	t.Absent = t.Total - t.Present
	return t
}

// PresentRollNumbers lists the roll numbers marked present, in roster order.
func (r *Roster) PresentRollNumbers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rolls := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Present {
			rolls = append(rolls, e.RollNo)
		}
	}
	return rolls
}

// Save submits the present roll numbers for the roster's course. Absentees
// are implied. The roster is not modified, whatever the outcome.
func (r *Roster) Save(ctx context.Context, dst Submitter) error {
	return dst.SubmitAttendance(ctx, r.CourseCode(), r.PresentRollNumbers())
}

// Filter returns the entries whose name or roll number contains query,
// ignoring case. An empty query returns every entry.
func (r *Roster) Filter(query string) []Entry {
	entries := r.Entries()
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return entries
	}
	out := entries[:0]
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.RollNo), q) {
			out = append(out, e)
		}
	}
	return out
}
