package backend

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"teacherportal/internal/auth"
	"teacherportal/internal/model"
)

var testTokens = TokenConfig{
	Issuer:     "portal-test",
	SigningKey: "test-signing-key",
	AccessTTL:  15 * time.Minute,
	RefreshTTL: time.Hour,
}

var day0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	svc := NewService(repo, testTokens, nil)
	svc.SetHashCost(bcrypt.MinCost)
	svc.now = func() time.Time { return day0 }
	return svc, repo
}

var teacher = Caller{Email: "t@school.edu", Role: "teacher"}

// seedCourse creates a course taught by teacher with students CS1..CSn inserted
// in reverse order.
func seedCourse(t *testing.T, repo *MemoryRepository, code string, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.UpsertCourse(ctx, model.Course{CourseCode: code, Teachers: []string{teacher.Email}, TAs: []string{"ta@school.edu"}}))
	for i := n; i >= 1; i-- {
		_, err := repo.AddStudent(ctx, model.Student{CourseCode: code, RollNo: rollNo(i), Name: "Student " + rollNo(i)})
		require.NoError(t, err)
	}
}

func rollNo(i int) string {
	return "CS" + strconv.Itoa(i)
}

func record(t *testing.T, repo *MemoryRepository, code string, held time.Time, rolls ...string) {
	t.Helper()
	_, err := repo.RecordSession(context.Background(), ClassSession{CourseCode: code, HeldAt: held, RollNumbers: rolls})
	require.NoError(t, err)
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Register(ctx, "New@School.edu", "secret1", "New Teacher", "")
	require.NoError(t, err)
	assert.Equal(t, "new@school.edu", resp.User.Email)
	assert.Equal(t, "teacher", resp.User.Role)
	assert.NotEmpty(t, resp.RefreshToken)

	claims, err := auth.Parse(resp.AccessToken, testTokens.SigningKey, testTokens.Issuer)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.Subject)
	assert.Equal(t, auth.KindAccess, claims.Kind)

	_, err = svc.Register(ctx, "new@school.edu", "secret1", "Again", "")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.Login(ctx, "new@school.edu", "wrong-password")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = svc.Login(ctx, "nobody@school.edu", "secret1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	again, err := svc.Login(ctx, "new@school.edu", "secret1")
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, again.User.ID)
}

func TestRegisterUsesConfiguredHashCost(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "cost@school.edu", "secret1", "", "")
	require.NoError(t, err)
	acct, err := repo.AccountByEmail(ctx, "cost@school.edu")
	require.NoError(t, err)
	cost, err := bcrypt.Cost(acct.PasswordHash)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	svc.SetHashCost(99)
	assert.Equal(t, bcrypt.DefaultCost, svc.hashCost)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	tests := []struct {
		name, email, password string
	}{
		{"bad email", "not-an-email", "secret1"},
		{"short password", "a@b.edu", "123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.email, tt.password, "", "")
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestCoursesOnlyForCaller(t *testing.T) {
	svc, repo := newTestService(t)
	seedCourse(t, repo, "CS101", 2)

	got, err := svc.Courses(context.Background(), teacher, "")
	require.NoError(t, err)
	require.Len(t, got, 1)

	ta := Caller{Email: "ta@school.edu"}
	got, err = svc.Courses(context.Background(), ta, "TA@school.edu")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = svc.Courses(context.Background(), ta, teacher.Email)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSubmitAttendance(t *testing.T) {
	svc, repo := newTestService(t)
	seedCourse(t, repo, "CS101", 3)
	ctx := context.Background()

	require.NoError(t, svc.SubmitAttendance(ctx, teacher, "CS101", []string{"CS1", "CS3", "CS1"}))
	sessions, err := repo.Sessions(ctx, "CS101", nil, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, []string{"CS1", "CS3"}, sessions[0].RollNumbers)
	assert.Equal(t, day0, sessions[0].HeldAt)

	course, err := repo.Course(ctx, "CS101")
	require.NoError(t, err)
	assert.Equal(t, 1, course.TotalClasses)

	require.NoError(t, svc.SubmitAttendance(ctx, teacher, "CS101", nil), "an all-absent class is still a class")

	err = svc.SubmitAttendance(ctx, teacher, "CS101", []string{"CS9"})
	assert.ErrorIs(t, err, ErrInvalid)

	err = svc.SubmitAttendance(ctx, Caller{Email: "stranger@school.edu"}, "CS101", nil)
	assert.ErrorIs(t, err, ErrForbidden)

	err = svc.SubmitAttendance(ctx, teacher, "NOPE", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLowAttendance(t *testing.T) {
	svc, repo := newTestService(t)
	seedCourse(t, repo, "CS101", 4)
	ctx := context.Background()

	// CS1 attends 4/4, CS2 3/4, CS3 2/4, CS4 0/4
	record(t, repo, "CS101", day0, "CS1", "CS2", "CS3")
	record(t, repo, "CS101", day0.AddDate(0, 0, 1), "CS1", "CS2", "CS3")
	record(t, repo, "CS101", day0.AddDate(0, 0, 2), "CS1", "CS2")
	record(t, repo, "CS101", day0.AddDate(0, 0, 3), "CS1")

	rec, err := svc.LowAttendance(ctx, teacher, "CS101", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.TotalClasses)
	assert.Equal(t, 4, rec.TotalStudents)
	require.Len(t, rec.Students, 2)
	assert.Equal(t, "CS3", rec.Students[0].StudentRollNo)
	assert.Equal(t, 50.0, rec.Students[0].AttendancePercentage)
	assert.Equal(t, "CS4", rec.Students[1].StudentRollNo)
	assert.Equal(t, 0.0, rec.Students[1].AttendancePercentage)

	start := day0.AddDate(0, 0, 2)
	rec, err = svc.LowAttendance(ctx, teacher, "CS101", &start, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.TotalClasses)
	require.Len(t, rec.Students, 3)
	assert.Equal(t, []string{"CS2", "CS3", "CS4"}, []string{rec.Students[0].StudentRollNo, rec.Students[1].StudentRollNo, rec.Students[2].StudentRollNo})
	assert.Equal(t, &start, rec.StartDate)
	assert.Nil(t, rec.EndDate)
}

func TestLowAttendanceWithoutSessions(t *testing.T) {
	svc, repo := newTestService(t)
	seedCourse(t, repo, "CS101", 3)

	rec, err := svc.LowAttendance(context.Background(), teacher, "CS101", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, rec.TotalClasses)
	assert.NotNil(t, rec.Students)
	assert.Empty(t, rec.Students)
}

func TestLowAttendanceRejectsInvertedRange(t *testing.T) {
	svc, repo := newTestService(t)
	seedCourse(t, repo, "CS101", 1)
	start, end := day0, day0.AddDate(0, 0, -1)
	_, err := svc.LowAttendance(context.Background(), teacher, "CS101", &start, &end)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestStatsOrderedByRoll(t *testing.T) {
	svc, repo := newTestService(t)
	seedCourse(t, repo, "CS101", 12)
	record(t, repo, "CS101", day0, "CS12", "CS3")
	record(t, repo, "CS101", day0.AddDate(0, 0, 1), "CS3")
	record(t, repo, "CS101", day0.AddDate(0, 0, 2), "CS3")

	stats, err := svc.Stats(context.Background(), teacher, "CS101", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalClasses)
	require.Len(t, stats.Students, 12)
	assert.Equal(t, "CS1", stats.Students[0].RollNo)
	assert.Equal(t, "CS12", stats.Students[11].RollNo)
	assert.Equal(t, 33.33, stats.Students[11].Percentage)
	assert.Equal(t, 3, stats.Students[2].Attended)
	assert.Equal(t, 100.0, stats.Students[2].Percentage)
}

func TestManageTAs(t *testing.T) {
	svc, repo := newTestService(t)
	seedCourse(t, repo, "CS101", 1)
	ctx := context.Background()

	c, err := svc.AddTA(ctx, teacher, "CS101", " new.ta@school.edu ")
	require.NoError(t, err)
	assert.Equal(t, []string{"ta@school.edu", "new.ta@school.edu"}, c.TAs)

	_, err = svc.AddTA(ctx, teacher, "CS101", "new.ta@school.edu")
	assert.ErrorIs(t, err, ErrConflict)
	_, err = svc.AddTA(ctx, teacher, "CS101", "nope")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = svc.AddTA(ctx, Caller{Email: "ta@school.edu"}, "CS101", "x@school.edu")
	assert.ErrorIs(t, err, ErrForbidden, "TAs cannot manage TAs")

	c, err = svc.RemoveTA(ctx, teacher, "CS101", "ta@school.edu")
	require.NoError(t, err)
	assert.Equal(t, []string{"new.ta@school.edu"}, c.TAs)

	_, err = svc.RemoveTA(ctx, teacher, "CS101", "ta@school.edu")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGrievances(t *testing.T) {
	svc, repo := newTestService(t)
	seedCourse(t, repo, "CS101", 1)
	require.NoError(t, repo.UpsertCourse(context.Background(), model.Course{CourseCode: "BIO1", Teachers: []string{"other@school.edu"}}))
	ctx := context.Background()

	mine, err := repo.CreateGrievance(ctx, model.Grievance{CourseCode: "CS101", Subject: "absent by mistake"})
	require.NoError(t, err)
	theirs, err := repo.CreateGrievance(ctx, model.Grievance{CourseCode: "BIO1", Subject: "not mine"})
	require.NoError(t, err)

	got, err := svc.Grievances(ctx, teacher, teacher.Email)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)
	assert.Equal(t, model.GrievanceOpen, got[0].Status)

	g, err := svc.SetGrievanceStatus(ctx, teacher, mine.ID, model.GrievanceResolved)
	require.NoError(t, err)
	assert.Equal(t, model.GrievanceResolved, g.Status)

	_, err = svc.SetGrievanceStatus(ctx, teacher, mine.ID, "closed")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = svc.SetGrievanceStatus(ctx, teacher, theirs.ID, model.GrievanceResolved)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.SetGrievanceStatus(ctx, teacher, "missing", model.GrievanceResolved)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSeedIsIdempotent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	require.NoError(t, Seed(ctx, svc))
	require.NoError(t, Seed(ctx, svc))

	courses, err := repo.CoursesFor(ctx, DemoTeacherEmail)
	require.NoError(t, err)
	require.Len(t, courses, 2)
	assert.Equal(t, 6, courses[0].TotalClasses)

	rec, err := svc.LowAttendance(ctx, Caller{Email: DemoTeacherEmail}, "CS101", nil, nil)
	require.NoError(t, err)
	require.Len(t, rec.Students, 4)
	assert.Equal(t, "CS3", rec.Students[0].StudentRollNo)
	assert.Equal(t, 50.0, rec.Students[0].AttendancePercentage)
}

func TestTAEmailsIgnoreCase(t *testing.T) {
	svc, repo := newTestService(t)
	seedCourse(t, repo, "CS101", 1)
	ctx := context.Background()

	c, err := svc.AddTA(ctx, teacher, "CS101", "New.TA@X.edu")
	require.NoError(t, err)
	assert.Equal(t, []string{"ta@school.edu", "new.ta@x.edu"}, c.TAs)

	got, err := svc.Courses(ctx, Caller{Email: "new.ta@x.edu"}, "")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = svc.AddTA(ctx, teacher, "CS101", "new.ta@x.edu")
	assert.ErrorIs(t, err, ErrConflict)

	c, err = svc.RemoveTA(ctx, teacher, "CS101", "NEW.TA@x.edu")
	require.NoError(t, err)
	assert.Equal(t, []string{"ta@school.edu"}, c.TAs)

	_, err = svc.Students(ctx, Caller{Email: "T@School.edu"}, "CS101")
	assert.NoError(t, err, "staff checks ignore case")
}
