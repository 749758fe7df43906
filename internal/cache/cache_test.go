package cache

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teacherportal/internal/model"
)

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestCacheKeys(t *testing.T) {
	tests := []struct {
		name  string
		a, b  string
		equal bool
	}{
		{
			name:  "no range is deterministic",
			a:     LowAttendanceKey("CS101", nil, nil),
			b:     LowAttendanceKey("CS101", nil, nil),
			equal: true,
		},
		{
			name: "start bound partitions",
			a:    LowAttendanceKey("CS101", date("2024-01-01"), nil),
			b:    LowAttendanceKey("CS101", nil, nil),
		},
		{
			name: "start only differs from end only",
			a:    LowAttendanceKey("CS101", date("2024-01-01"), nil),
			b:    LowAttendanceKey("CS101", nil, date("2024-01-01")),
		},
		{
			name:  "same range collides",
			a:     LowAttendanceKey("CS101", date("2024-01-01"), date("2024-02-01")),
			b:     LowAttendanceKey("CS101", date("2024-01-01"), date("2024-02-01")),
			equal: true,
		},
		{
			name: "course partitions",
			a:    LowAttendanceKey("CS101", nil, nil),
			b:    LowAttendanceKey("CS102", nil, nil),
		},
		{
			name: "stats and low attendance do not share keys",
			a:    StatsKey("CS101", nil, nil),
			b:    LowAttendanceKey("CS101", nil, nil),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.equal {
				assert.Equal(t, tt.a, tt.b)
			} else {
				assert.NotEqual(t, tt.a, tt.b)
			}
		})
	}
}

func TestCoursesRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), nil)
	key := CoursesKey("teacher@x.edu")

	_, ok := ReadCached[[]model.Course](ctx, c, key)
	assert.False(t, ok)

	courses := []model.Course{{CourseCode: "CS101", TAs: []string{}, TotalClasses: 10}}
	WriteCached(ctx, c, key, courses)

	got, ok := ReadCached[[]model.Course](ctx, c, key)
	require.True(t, ok)
	assert.Equal(t, courses, got)
}

func TestReadCorruptIsAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, "k", []byte("{not json")))

	got, ok := ReadCached[model.LowAttendanceRecord](ctx, New(store, nil), "k")
	assert.False(t, ok)
	assert.Equal(t, model.LowAttendanceRecord{}, got)
}

type brokenStore struct{}

var errDiskGone = errors.New("disk gone")

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errDiskGone }
func (brokenStore) Set(context.Context, string, []byte) error   { return errDiskGone }
func (brokenStore) Delete(context.Context, string) error        { return errDiskGone }

func TestBrokenStoreNeverPropagates(t *testing.T) {
	ctx := context.Background()
	c := New(brokenStore{}, nil)
	assert.NotPanics(t, func() { WriteCached(ctx, c, "k", 1) })
	_, ok := ReadCached[int](ctx, c, "k")
	assert.False(t, ok)
}

func TestLowAttendanceRangesDoNotCrossContaminate(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), nil)

	all := model.LowAttendanceRecord{CourseCode: "CS101", TotalClasses: 20}
	ranged := model.LowAttendanceRecord{CourseCode: "CS101", TotalClasses: 4}
	WriteCached(ctx, c, LowAttendanceKey("CS101", nil, nil), all)
	WriteCached(ctx, c, LowAttendanceKey("CS101", date("2024-01-01"), date("2024-02-01")), ranged)

	got, ok := ReadCached[model.LowAttendanceRecord](ctx, c, LowAttendanceKey("CS101", nil, nil))
	require.True(t, ok)
	assert.Equal(t, 20, got.TotalClasses)

	got, ok = ReadCached[model.LowAttendanceRecord](ctx, c, LowAttendanceKey("CS101", date("2024-01-01"), date("2024-02-01")))
	require.True(t, ok)
	assert.Equal(t, 4, got.TotalClasses)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, "")
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, s.Set(ctx, "k", []byte(`"v"`)))
	assert.True(t, mr.Exists("portal:k"))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"v"`), got)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM kv_cache WHERE key = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectExec(`INSERT INTO kv_cache`).
		WithArgs("k", []byte(`[1]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM kv_cache WHERE key = $1`)).
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`[1]`)))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, s.Set(ctx, "k", []byte(`[1]`)))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[1]`), got)

	assert.NoError(t, mock.ExpectationsWereMet())
}
