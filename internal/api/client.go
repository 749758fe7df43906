package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"teacherportal/internal/metrics"
	"teacherportal/internal/model"
	"teacherportal/internal/session"
)

// Client calls the portal REST backend. Every method issues exactly one
// request and never retries; caching is left to the caller.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	sess session.Session
	log  *zap.Logger
}

// New creates a client with the given request timeout.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		log:     logger,
	}
}

// WithSession returns a copy of the client that authenticates as s.
func (c *Client) WithSession(s session.Session) *Client {
	cp := *c
	cp.sess = s
	return &cp
}

// Session returns the session the client authenticates with.
func (c *Client) Session() session.Session { return c.sess }

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (model.AuthResponse, error) {
	var out model.AuthResponse
	body := map[string]string{"email": email, "password": password}
	err := c.do(ctx, "login", http.MethodPost, "/auth/login", nil, body, &out)
	return out, err
}

// Register creates an account and returns its token pair.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (model.AuthResponse, error) {
	var out model.AuthResponse
	err := c.do(ctx, "register", http.MethodPost, "/auth/register", nil, req, &out)
	return out, err
}

// GetCourses lists the courses taught by email.
func (c *Client) GetCourses(ctx context.Context, email string) ([]model.Course, error) {
	var out []model.Course
	q := url.Values{"email": {email}}
	err := c.do(ctx, "courses", http.MethodGet, "/courses", q, nil, &out)
	return out, err
}

// GetStudents returns the roster of a course in backend order.
func (c *Client) GetStudents(ctx context.Context, courseCode string) ([]model.Student, error) {
	var out []model.Student
	err := c.do(ctx, "students", http.MethodGet, "/courses/"+url.PathEscape(courseCode)+"/students", nil, nil, &out)
	return out, err
}

// SubmitAttendance records one class session; rollNumbers lists the students present.
func (c *Client) SubmitAttendance(ctx context.Context, courseCode string, rollNumbers []string) error {
	if rollNumbers == nil {
		rollNumbers = []string{}
	}
	body := struct {
		CourseCode  string   `json:"course_code"`
		RollNumbers []string `json:"roll_numbers"`
	}{courseCode, rollNumbers}
	return c.do(ctx, "attendance", http.MethodPost, "/attendance", nil, body, nil)
}

// GetLowAttendanceStudents returns students under the attendance threshold.
// Nil bounds are omitted and the backend applies its own default.
func (c *Client) GetLowAttendanceStudents(ctx context.Context, courseCode string, start, end *time.Time) (model.LowAttendanceRecord, error) {
	var out model.LowAttendanceRecord
	path := "/attendance/" + url.PathEscape(courseCode) + "/low"
	err := c.do(ctx, "low_attendance", http.MethodGet, path, DateRangeQuery(start, end), nil, &out)
	return out, err
}

// GetAttendanceStats returns per-student attendance for a course.
func (c *Client) GetAttendanceStats(ctx context.Context, courseCode string, start, end *time.Time) (model.AttendanceStats, error) {
	var out model.AttendanceStats
	path := "/attendance/" + url.PathEscape(courseCode) + "/stats"
	err := c.do(ctx, "attendance_stats", http.MethodGet, path, DateRangeQuery(start, end), nil, &out)
	return out, err
}

// AddTA assigns a teaching assistant and returns the updated course.
func (c *Client) AddTA(ctx context.Context, courseCode, taEmail string) (model.Course, error) {
	return c.changeTA(ctx, "ta_add", http.MethodPost, courseCode, taEmail)
}

// RemoveTA unassigns a teaching assistant and returns the updated course.
func (c *Client) RemoveTA(ctx context.Context, courseCode, taEmail string) (model.Course, error) {
	return c.changeTA(ctx, "ta_remove", http.MethodDelete, courseCode, taEmail)
}

func (c *Client) changeTA(ctx context.Context, endpoint, method, courseCode, taEmail string) (model.Course, error) {
	var out model.Course
	body := map[string]string{"ta_email": taEmail}
	err := c.do(ctx, endpoint, method, "/courses/"+url.PathEscape(courseCode)+"/ta", nil, body, &out)
	return out, err
}

// GetGrievances lists grievances raised against courses taught by email.
func (c *Client) GetGrievances(ctx context.Context, email string) ([]model.Grievance, error) {
	var out []model.Grievance
	q := url.Values{"email": {email}}
	err := c.do(ctx, "grievances", http.MethodGet, "/grievances", q, nil, &out)
	return out, err
}

// UpdateGrievanceStatus moves a grievance to status and returns it.
func (c *Client) UpdateGrievanceStatus(ctx context.Context, id, status string) (model.Grievance, error) {
	var out model.Grievance
	body := map[string]string{"status": status}
	err := c.do(ctx, "grievance_update", http.MethodPatch, "/grievances/"+url.PathEscape(id), nil, body, &out)
	return out, err
}

// DateRangeQuery serialises optional bounds as RFC 3339 UTC. Each bound is
// added on its own, so a start without an end is still sent.
func DateRangeQuery(start, end *time.Time) url.Values {
	q := url.Values{}
	if start != nil {
		q.Set("start_date", start.UTC().Format(time.RFC3339))
	}
	if end != nil {
		q.Set("end_date", end.UTC().Format(time.RFC3339))
	}
	return q
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, in, out any) error {
	started := time.Now()
	defer func() {
		metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
	}()

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &RequestError{Message: "encode request: " + err.Error(), Err: err}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &RequestError{Message: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sess.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.sess.AccessToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues(endpoint, "transport_error").Inc()
		c.log.Warn("backend request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return &RequestError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.APIRequests.WithLabelValues(endpoint, "transport_error").Inc()
		return &RequestError{Status: resp.StatusCode, Message: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.APIRequests.WithLabelValues(endpoint, "http_error").Inc()
		msg := errorMessage(resp.StatusCode, raw)
		c.log.Debug("backend returned error status",
			zap.String("endpoint", endpoint), zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return &RequestError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			metrics.APIRequests.WithLabelValues(endpoint, "malformed").Inc()
			return &RequestError{
				Status:  resp.StatusCode,
				Message: fmt.Sprintf("decode %s response: %v", endpoint, err),
				Err:     errors.Join(ErrMalformedResponse, err),
			}
		}
	}
	metrics.APIRequests.WithLabelValues(endpoint, "ok").Inc()
	return nil
}

// errorMessage picks a human readable message out of an error body.
func errorMessage(status int, raw []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 512 {
		return text
	}
	return http.StatusText(status)
}
