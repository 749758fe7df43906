// Command rollcall takes attendance for one course from the terminal. It signs
// in (or reuses the stored session), lists the teacher's courses, marks the
// roster and submits it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"teacherportal/internal/api"
	"teacherportal/internal/cache"
	"teacherportal/internal/config"
	"teacherportal/internal/model"
	"teacherportal/internal/portal"
	"teacherportal/internal/session"
	"teacherportal/internal/store"
)

type options struct {
	email    string
	password string
	course   string
	absent   []string
	dryRun   bool
	report   bool
	logout   bool
}

func main() {
	var (
		opts   options
		absent string
	)
	flag.StringVar(&opts.email, "email", os.Getenv("PORTAL_EMAIL"), "teacher email")
	flag.StringVar(&opts.password, "password", os.Getenv("PORTAL_PASSWORD"), "teacher password")
	flag.StringVar(&opts.course, "course", "", "course code (defaults to the first course)")
	flag.StringVar(&absent, "absent", "", "comma separated roll numbers to mark absent")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "print the tally without submitting")
	flag.BoolVar(&opts.report, "report", false, "print the low attendance report after saving")
	flag.BoolVar(&opts.logout, "logout", false, "forget the stored session and exit")
	flag.Parse()
	opts.absent = splitList(absent)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	var logger *zap.Logger
	var err error
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("cache store unavailable", zap.String("backend", cfg.CacheBackend), zap.Error(err))
	}
	defer closeStore()

	client := api.New(cfg.APIBaseURL, cfg.APITimeout, logger)
	if err := run(ctx, opts, client, kv, logger, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "rollcall:", err)
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// openStore picks the local persistence for the cache and the session.
func openStore(ctx context.Context, cfg config.App) (cache.Store, func(), error) {
	switch cfg.CacheBackend {
	case "redis":
		r := store.NewRedis(cfg.RedisAddr)
		return cache.NewRedisStore(r.Client, ""), func() { r.Close() }, nil
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		pg := cache.NewPostgresStore(db.Client)
		if err := pg.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return pg, func() { db.Close() }, nil
	default:
		return cache.NewMemoryStore(), func() {}, nil
	}
}

// signIn reuses a stored, unexpired session for opts.email or logs in again.
func signIn(ctx context.Context, opts options, client *api.Client, sessions *session.Store, logger *zap.Logger) (session.Session, error) {
	sess, err := sessions.Load(ctx)
	switch {
	case err == nil && !sess.Expired(time.Now()) && (opts.email == "" || strings.EqualFold(sess.Email, opts.email)):
		return sess, nil
	case err != nil && !errors.Is(err, session.ErrNoSession):
		logger.Warn("stored session unreadable", zap.Error(err))
	}

	if opts.email == "" || opts.password == "" {
		return session.Session{}, errors.New("not signed in: -email and -password are required")
	}
	resp, err := client.Login(ctx, opts.email, opts.password)
	if err != nil {
		return session.Session{}, fmt.Errorf("login: %w", err)
	}
	sess = session.FromAuth(resp)
	if err := sessions.Save(ctx, sess); err != nil {
		logger.Warn("session not persisted", zap.Error(err))
	}
	return sess, nil
}

func run(ctx context.Context, opts options, client *api.Client, kv cache.Store, logger *zap.Logger, out io.Writer) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := session.NewStore(kv)
	if opts.logout {
		if err := sessions.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "signed out")
		return nil
	}

	sess, err := signIn(ctx, opts, client, sessions, logger)
	if err != nil {
		return err
	}
	client = client.WithSession(sess)
	p := portal.New(client, cache.New(kv, logger), sess, logger)

	courses := p.Courses()
	defer courses.Unmount()
	if courses.ShowCached(ctx) {
		fmt.Fprintf(out, "cached courses: %d\n", len(courses.State().Data))
	}
	if err := courses.FetchLive(ctx); err != nil {
		if api.IsUnauthorized(err) {
			_ = sessions.Clear(ctx)
			return fmt.Errorf("session rejected, sign in again: %w", err)
		}
		if !courses.State().HasData {
			return fmt.Errorf("load courses: %w", err)
		}
		fmt.Fprintf(out, "showing cached courses, refresh failed: %v\n", err)
	}
	list := courses.State().Data
	if len(list) == 0 {
		return errors.New("no courses for " + sess.Email)
	}
	for _, c := range list {
		fmt.Fprintf(out, "  %s  classes=%d  TAs=%s\n", c.CourseCode, c.TotalClasses, strings.Join(c.TAs, ","))
	}

	code := opts.course
	if code == "" {
		code = list[0].CourseCode
	}

	screen := p.TakeAttendance()
	defer screen.Unmount()
	if err := screen.SelectCourse(ctx, code); err != nil {
		return fmt.Errorf("load roster of %s: %w", code, err)
	}
	if err := screen.MarkAll(true); err != nil {
		return err
	}
	for _, rollNo := range opts.absent {
		matched := false
		for _, e := range screen.State().Entries {
			if !strings.EqualFold(e.RollNo, rollNo) {
				continue
			}
			// a roll number listed twice must not flip back to present
			if e.Present {
				if err := screen.Toggle(e.ID); err != nil {
					return err
				}
			}
			matched = true
			break
		}
		if !matched {
			return fmt.Errorf("roll number %s is not on the roster of %s", rollNo, code)
		}
	}

	st := screen.State()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ROLL\tNAME\tPRESENT\n")
	for _, e := range st.Entries {
		fmt.Fprintf(w, "%s\t%s\t%v\n", e.RollNo, e.Name, e.Present)
	}
	w.Flush()
	fmt.Fprintf(out, "%s: present %d, absent %d, total %d\n", code, st.Tally.Present, st.Tally.Absent, st.Tally.Total)

	if opts.dryRun {
		return nil
	}
	if err := screen.Save(ctx); err != nil {
		return fmt.Errorf("save attendance: %w", err)
	}
	fmt.Fprintln(out, "attendance saved")

	if opts.report {
		low := p.LowAttendance(code)
		defer low.Unmount()
		if err := low.Load(ctx); err != nil {
			return fmt.Errorf("low attendance report: %w", err)
		}
		rec := low.State().Data
		fmt.Fprintf(out, "below %.0f%% over %d classes: %d of %d\n", model.LowAttendanceThreshold, rec.TotalClasses, len(rec.Students), rec.TotalStudents)
		for _, s := range rec.Students {
			fmt.Fprintf(out, "  %s  %s  %.2f%%\n", s.StudentRollNo, s.StudentName, s.AttendancePercentage)
		}
	}
	return nil
}
