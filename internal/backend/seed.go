package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"teacherportal/internal/model"
)

// Demo accounts created by Seed.
const (
	DemoTeacherEmail = "teacher@portal.dev"
	DemoTAEmail      = "ta@portal.dev"
	DemoPassword     = "portal123"
)

var demoNames = []string{
	"Asha Rao", "Ben Okafor", "Chen Wei", "Dana Cohen", "Eli Brooks", "Farah Khan",
	"Gita Patel", "Hugo Silva", "Ines Moreau", "Jon Park", "Kofi Mensah", "Lena Novak",
}

// Seed fills an empty repository with demo accounts, courses, rosters, past roll
// calls and grievances. It does nothing if the demo teacher already exists.
func Seed(ctx context.Context, svc *Service) error {
	repo := svc.repo
	if _, err := repo.AccountByEmail(ctx, DemoTeacherEmail); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if _, err := svc.Register(ctx, DemoTeacherEmail, DemoPassword, "Demo Teacher", "teacher"); err != nil {
		return fmt.Errorf("seed teacher: %w", err)
	}
	if _, err := svc.Register(ctx, DemoTAEmail, DemoPassword, "Demo TA", "ta"); err != nil {
		return fmt.Errorf("seed ta: %w", err)
	}

	courses := []model.Course{
		{CourseCode: "CS101", Teachers: []string{DemoTeacherEmail}, TAs: []string{DemoTAEmail}},
		{CourseCode: "MA201", Teachers: []string{DemoTeacherEmail}, TAs: []string{}},
	}
	now := svc.now()
	for _, c := range courses {
		if err := repo.UpsertCourse(ctx, c); err != nil {
			return fmt.Errorf("seed course %s: %w", c.CourseCode, err)
		}
		rolls := make([]string, 0, len(demoNames))
		// reverse roll order
		for i := len(demoNames); i >= 1; i-- {
			roll := fmt.Sprintf("%s%d", c.CourseCode[:2], i)
			if _, err := repo.AddStudent(ctx, model.Student{CourseCode: c.CourseCode, RollNo: roll, Name: demoNames[i-1]}); err != nil {
				return fmt.Errorf("seed student %s: %w", roll, err)
			}
			rolls = append(rolls, roll)
		}
		for day := 6; day >= 1; day-- {
			// every third student skips every other class
			var present []string
			for i, r := range rolls {
				if i%3 == 0 && day%2 == 0 {
					continue
				}
				present = append(present, r)
			}
			held := now.AddDate(0, 0, -day)
			if _, err := repo.RecordSession(ctx, ClassSession{CourseCode: c.CourseCode, HeldAt: held, RollNumbers: present}); err != nil {
				return fmt.Errorf("seed session: %w", err)
			}
		}
	}

	grievances := []model.Grievance{
		{CourseCode: "CS101", StudentName: demoNames[2], StudentRollNo: "CS3", Subject: "Marked absent on Monday", Body: "I was in the back row."},
		{CourseCode: "MA201", StudentName: demoNames[6], StudentRollNo: "MA7", Subject: "Percentage looks wrong", Body: "I have attended every class."},
	}
	for _, g := range grievances {
		g.CreatedAt = now.Add(-time.Hour)
		if _, err := repo.CreateGrievance(ctx, g); err != nil {
			return fmt.Errorf("seed grievance: %w", err)
		}
	}
	svc.logger.Info("demo data seeded", zap.String("teacher", DemoTeacherEmail), zap.Int("courses", len(courses)))
	return nil
}
