// Package portal contains the headless screen controllers of the teacher
// portal. Each controller shows the cached value of its query first, then
// replaces it with a live fetch, and drops any result that arrives after
// Unmount.
package portal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"teacherportal/internal/cache"
	"teacherportal/internal/model"
	"teacherportal/internal/session"
)

// ErrUnmounted is returned when a result arrived after the screen was unmounted.
var ErrUnmounted = errors.New("portal: screen unmounted")

// Backend is the remote service the controllers call. *api.Client implements it.
type Backend interface {
	GetCourses(ctx context.Context, email string) ([]model.Course, error)
	GetStudents(ctx context.Context, courseCode string) ([]model.Student, error)
	SubmitAttendance(ctx context.Context, courseCode string, rollNumbers []string) error
	GetLowAttendanceStudents(ctx context.Context, courseCode string, start, end *time.Time) (model.LowAttendanceRecord, error)
	GetAttendanceStats(ctx context.Context, courseCode string, start, end *time.Time) (model.AttendanceStats, error)
	AddTA(ctx context.Context, courseCode, taEmail string) (model.Course, error)
	RemoveTA(ctx context.Context, courseCode, taEmail string) (model.Course, error)
	GetGrievances(ctx context.Context, email string) ([]model.Grievance, error)
	UpdateGrievanceStatus(ctx context.Context, id, status string) (model.Grievance, error)
}

// Portal builds screen controllers that share a backend, a cache and the
// signed-in session.
type Portal struct {
	backend Backend
	cache   *cache.Cache
	sess    session.Session
	log     *zap.Logger
}

// New creates a Portal. A nil logger discards output.
func New(backend Backend, c *cache.Cache, sess session.Session, logger *zap.Logger) *Portal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Portal{backend: backend, cache: c, sess: sess, log: logger}
}

// Session returns the session the portal acts for.
func (p *Portal) Session() session.Session { return p.sess }

// View is a snapshot of a screen's query state.
type View[T any] struct {
	Data T
	// HasData is true once a cached or live value has been shown.
	HasData bool
	// Live is true once the live fetch has replaced the cached value.
	Live       bool
	Loading    bool
	Refreshing bool
	Err        error
}

// lifecycle tracks whether a screen is still mounted.
type lifecycle struct {
	dead atomic.Bool
}

// Unmount marks the screen as gone. Results arriving later are discarded.
func (l *lifecycle) Unmount() { l.dead.Store(true) }

// Mounted reports whether the screen still accepts results.
func (l *lifecycle) Mounted() bool { return !l.dead.Load() }

// query is the cache-then-fetch state machine shared by the list screens.
type query[T any] struct {
	lifecycle

	cache *cache.Cache
	log   *zap.Logger

	mu   sync.Mutex
	gen  uint64
	view View[T]
}

func (q *query[T]) snapshot() View[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.view
}

// reset discards the current value, e.g. after the query parameters change.
// Fetches started before the reset are ignored when they complete.
func (q *query[T]) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gen++
	q.view = View[T]{}
}

// showCached displays the cached value under key unless a live value is
// already shown.
func (q *query[T]) showCached(ctx context.Context, key string) bool {
	q.mu.Lock()
	gen := q.gen
	q.mu.Unlock()

	v, ok := cache.ReadCached[T](ctx, q.cache, key)
	if !ok {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.Mounted() || gen != q.gen || q.view.Live {
		return false
	}
	q.view.Data = v
	q.view.HasData = true
	return true
}

// fetchLive runs fetch and, on success, stores the result under key and
// shows it. refresh selects the pull-to-refresh flag instead of the spinner
// when a value is already displayed.
func (q *query[T]) fetchLive(ctx context.Context, key string, refresh bool, fetch func(context.Context) (T, error)) error {
	q.mu.Lock()
	gen := q.gen
	if refresh && q.view.HasData {
		q.view.Refreshing = true
	} else {
		q.view.Loading = true
	}
	q.mu.Unlock()

	v, err := fetch(ctx)
	if err == nil {
		cache.WriteCached(ctx, q.cache, key, v)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.Mounted() || gen != q.gen {
		q.log.Debug("discarding stale result", zap.String("key", key))
		return ErrUnmounted
	}
	q.view.Loading = false
	q.view.Refreshing = false
	if err != nil {
		q.view.Err = err
		return err
	}
	q.view.Data = v
	q.view.HasData = true
	q.view.Live = true
	q.view.Err = nil
	return nil
}

// update applies fn to the displayed value and writes the result to the cache.
// An unmounted screen keeps its view but the cache is still updated.
func (q *query[T]) update(ctx context.Context, key string, fn func(T) T) {
	q.mu.Lock()
	if !q.view.HasData {
		q.mu.Unlock()
		return
	}
	v := fn(q.view.Data)
	if q.Mounted() {
		q.view.Data = v
	}
	q.mu.Unlock()
	cache.WriteCached(ctx, q.cache, key, v)
}
