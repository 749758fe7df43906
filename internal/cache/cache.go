package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"teacherportal/internal/metrics"
)

// Cache holds the last good response per logical query. Reads and writes
// never fail from the caller's point of view; problems are logged.
type Cache struct {
	store Store
	log   *zap.Logger
}

// New wraps store. A nil logger discards output.
func New(store Store, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, log: logger}
}

// Store exposes the underlying backend.
func (c *Cache) Store() Store { return c.store }

// ReadCached decodes the value stored under key. ok is false when nothing
// usable is stored, including when the stored blob is corrupt.
func ReadCached[T any](ctx context.Context, c *Cache, key string) (v T, ok bool) {
	raw, err := c.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrMiss):
		metrics.CacheReads.WithLabelValues("miss").Inc()
		return v, false
	case err != nil:
		metrics.CacheReads.WithLabelValues("error").Inc()
		c.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		metrics.CacheReads.WithLabelValues("corrupt").Inc()
		c.log.Warn("cached value is corrupt", zap.String("key", key), zap.Error(err))
		var zero T
		return zero, false
	}
	metrics.CacheReads.WithLabelValues("hit").Inc()
	return v, true
}

// WriteCached stores v under key, replacing any previous value.
func WriteCached[T any](ctx context.Context, c *Cache, key string, v T) {
	raw, err := json.Marshal(v)
	if err != nil {
		metrics.CacheWriteFailures.Inc()
		c.log.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, raw); err != nil {
		metrics.CacheWriteFailures.Inc()
		c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// NoBound stands in for a missing date bound inside a key.
const NoBound = "none"

// CoursesKey is the key of the course list of a teacher.
func CoursesKey(email string) string {
	return "courses:" + strings.ToLower(email)
}

// LowAttendanceKey is the key of a low-attendance report for a course and range.
func LowAttendanceKey(courseCode string, start, end *time.Time) string {
	return rangeKey("low_attendance", courseCode, start, end)
}

// StatsKey is the key of the attendance stats for a course and range.
func StatsKey(courseCode string, start, end *time.Time) string {
	return rangeKey("attendance_stats", courseCode, start, end)
}

// GrievancesKey is the key of the grievance list of a teacher.
func GrievancesKey(email string) string {
	return "grievances:" + strings.ToLower(email)
}

func rangeKey(kind, courseCode string, start, end *time.Time) string {
	return kind + ":" + courseCode + ":" + bound(start) + ":" + bound(end)
}

func bound(t *time.Time) string {
	if t == nil {
		return NoBound
	}
	return t.UTC().Format(time.RFC3339)
}
