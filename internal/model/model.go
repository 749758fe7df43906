package model

import (
	"strings"
	"time"
)

// LowAttendanceThreshold is the attendance percentage below which a student is flagged.
const LowAttendanceThreshold = 75.0

// Course is owned by the backend; the client only reads it and edits its TA list.
type Course struct {
	CourseCode   string   `json:"course_code"`
	Teachers     []string `json:"teachers"`
	TAs          []string `json:"TA"`
	TotalClasses int      `json:"total_classes"`
}

// HasTA reports whether email is already one of the course's TAs. Emails
// compare case-insensitively.
func (c Course) HasTA(email string) bool {
	for _, ta := range c.TAs {
		if strings.EqualFold(ta, email) {
			return true
		}
	}
	return false
}

// Student is a roster entry as returned by the backend.
type Student struct {
	ID         string `json:"_id"`
	CourseCode string `json:"course_code"`
	RollNo     string `json:"roll_no"`
	Name       string `json:"name"`
}

// LowAttendanceStudent is one row of a low-attendance report.
type LowAttendanceStudent struct {
	StudentName          string  `json:"student_name"`
	StudentRollNo        string  `json:"student_roll_no"`
	AttendancePercentage float64 `json:"attendance_percentage"`
}

// LowAttendanceRecord is computed server side for a course and optional date range.
type LowAttendanceRecord struct {
	CourseCode    string                 `json:"course_code"`
	TotalClasses  int                    `json:"total_classes"`
	TotalStudents int                    `json:"total_students"`
	Students      []LowAttendanceStudent `json:"low_attendance_students"`
	StartDate     *time.Time             `json:"start_date,omitempty"`
	EndDate       *time.Time             `json:"end_date,omitempty"`
}

// StudentStat is a per-student attendance summary.
type StudentStat struct {
	Name       string  `json:"name"`
	RollNo     string  `json:"roll_no"`
	Attended   int     `json:"attended"`
	Percentage float64 `json:"percentage"`
}

// AttendanceStats summarises attendance for every student of a course.
type AttendanceStats struct {
	CourseCode   string        `json:"course_code"`
	TotalClasses int           `json:"total_classes"`
	Students     []StudentStat `json:"students"`
}

// Grievance statuses.
const (
	GrievanceOpen     = "open"
	GrievanceInReview = "in_review"
	GrievanceResolved = "resolved"
)

// ValidGrievanceStatus reports whether s is a known grievance status.
func ValidGrievanceStatus(s string) bool {
	switch s {
	case GrievanceOpen, GrievanceInReview, GrievanceResolved:
		return true
	}
	return false
}

// Grievance is a complaint raised by a student against a course.
type Grievance struct {
	ID            string    `json:"_id"`
	CourseCode    string    `json:"course_code"`
	StudentName   string    `json:"student_name"`
	StudentRollNo string    `json:"student_roll_no"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// User is the authenticated account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}
