package backend

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teacherportal/internal/model"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

var courseCols = []string{"course_code", "teachers", "tas", "total_classes"}

func TestPostgresCoursesFor(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM courses\s+WHERE EXISTS \(\s*SELECT 1 FROM jsonb_array_elements_text\(teachers \|\| tas\)`).
		WithArgs("t@school.edu").
		WillReturnRows(sqlmock.NewRows(courseCols).
			AddRow("CS101", []byte(`["t@school.edu"]`), []byte(`["ta@school.edu"]`), 4).
			AddRow("MA201", []byte(`["t@school.edu"]`), []byte(`[]`), 0))

	got, err := repo.CoursesFor(context.Background(), "t@school.edu")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.Course{CourseCode: "CS101", Teachers: []string{"t@school.edu"}, TAs: []string{"ta@school.edu"}, TotalClasses: 4}, got[0])
	assert.Empty(t, got[1].TAs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCourseNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`FROM courses WHERE course_code = \$1`).
		WithArgs("NOPE").
		WillReturnRows(sqlmock.NewRows(courseCols))

	_, err := repo.Course(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetTAs(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`UPDATE courses SET tas = \$2`).
		WithArgs("CS101", []byte(`[]`)).
		WillReturnRows(sqlmock.NewRows(courseCols).AddRow("CS101", []byte(`["t@school.edu"]`), []byte(`[]`), 2))

	c, err := repo.SetTAs(context.Background(), "CS101", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{}, c.TAs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordSession(t *testing.T) {
	repo, mock := newMockRepo(t)
	held := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE courses SET total_classes = total_classes \+ 1`).
		WithArgs("CS101").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO class_sessions`).
		WithArgs("s1", "CS101", held, []byte(`["CS1","CS2"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s, err := repo.RecordSession(context.Background(), ClassSession{ID: "s1", CourseCode: "CS101", HeldAt: held, RollNumbers: []string{"CS1", "CS2"}})
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordSessionUnknownCourse(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE courses SET total_classes`).
		WithArgs("NOPE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.RecordSession(context.Background(), ClassSession{CourseCode: "NOPE", HeldAt: time.Now()})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSessionsRange(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	tests := []struct {
		name       string
		start, end *time.Time
		where      string
		args       []driver.Value
	}{
		{"open", nil, nil, `WHERE course_code = \$1 ORDER BY`, []driver.Value{"CS101"}},
		{"start only", &start, nil, `WHERE course_code = \$1 AND held_at >= \$2 ORDER BY`, []driver.Value{"CS101", start}},
		{"end only", nil, &end, `WHERE course_code = \$1 AND held_at <= \$2 ORDER BY`, []driver.Value{"CS101", end}},
		{"both", &start, &end, `held_at >= \$2 AND held_at <= \$3`, []driver.Value{"CS101", start, end}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectQuery(tt.where).
				WithArgs(tt.args...).
				WillReturnRows(sqlmock.NewRows([]string{"id", "course_code", "held_at", "roll_numbers"}).
					AddRow("s1", "CS101", start, []byte(`["CS3"]`)))

			got, err := repo.Sessions(context.Background(), "CS101", tt.start, tt.end)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, []string{"CS3"}, got[0].RollNumbers)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresCreateAccountConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`INSERT INTO accounts`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.CreateAccount(context.Background(), Account{User: model.User{Email: "A@b.edu", Role: "teacher"}})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGrievancesFor(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM grievances\s+WHERE course_code IN`).
		WithArgs([]byte(`["CS101"]`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_code", "student_name", "student_roll_no", "subject", "body", "status", "created_at"}).
			AddRow("g1", "CS101", "Chen Wei", "CS3", "absent", "", "open", created))

	got, err := repo.GrievancesFor(context.Background(), []string{"CS101"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CS3", got[0].StudentRollNo)
	assert.Equal(t, created, got[0].CreatedAt)

	none, err := repo.GrievancesFor(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPingError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("down"))

	assert.Error(t, NewPostgresRepository(db).Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
