package backend

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"teacherportal/internal/auth"
	"teacherportal/internal/httpmiddleware"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler serves the portal REST API.
type Handler struct {
	svc    *Service
	logger *zap.Logger
	checks map[string]HealthCheck
}

// NewHandler creates a handler. checks are reported by /healthz next to the repository ping.
func NewHandler(svc *Service, logger *zap.Logger, checks map[string]HealthCheck) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger, checks: checks}
}

// Router builds the gin engine with middleware and routes.
func (h *Handler) Router(limiter httpmiddleware.Limiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	if limiter != nil {
		r.Use(httpmiddleware.RateLimit(limiter, h.logger))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.healthz)

	r.POST("/auth/login", h.login)
	r.POST("/auth/register", h.register)

	authed := r.Group("/", auth.Bearer(h.svc.tokens.SigningKey, h.svc.tokens.Issuer))
	authed.GET("/courses", h.courses)
	authed.GET("/courses/:code/students", h.students)
	authed.POST("/courses/:code/ta", h.addTA)
	authed.DELETE("/courses/:code/ta", h.removeTA)
	authed.POST("/attendance", h.submitAttendance)
	authed.GET("/attendance/:code/low", h.lowAttendance)
	authed.GET("/attendance/:code/stats", h.stats)
	authed.GET("/grievances", h.grievances)
	authed.PATCH("/grievances/:id", h.setGrievanceStatus)
	return r
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func (h *Handler) healthz(c *gin.Context) {
	ctx := c.Request.Context()
	body := gin.H{"status": "ok"}
	status := http.StatusOK

	repoHealthy := h.svc.repo.Ping(ctx) == nil
	body["repository"] = repoHealthy
	if !repoHealthy {
		status = http.StatusServiceUnavailable
	}
	for name, check := range h.checks {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// fail maps service errors onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func caller(c *gin.Context) Caller {
	claims, _ := auth.FromContext(c)
	return Caller{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}
}

// dateRange reads the optional start_date and end_date query parameters. A
// bare date as end_date covers that whole day.
func dateRange(c *gin.Context) (start, end *time.Time, ok bool) {
	parse := func(name string, endOfDay bool) (*time.Time, bool) {
		v := c.Query(name)
		if v == "" {
			return nil, true
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			t = t.UTC()
			return &t, true
		}
		if t, err := time.Parse(time.DateOnly, v); err == nil {
			if endOfDay {
				t = t.Add(24*time.Hour - time.Nanosecond)
			}
			return &t, true
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	if start, ok = parse("start_date", false); !ok {
		return nil, nil, false
	}
	if end, ok = parse("end_date", true); !ok {
		return nil, nil, false
	}
	return start, end, true
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Name     string `json:"name"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.svc.Register(c.Request.Context(), req.Email, req.Password, req.Name, req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) courses(c *gin.Context) {
	out, err := h.svc.Courses(c.Request.Context(), caller(c), c.Query("email"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) students(c *gin.Context) {
	out, err := h.svc.Students(c.Request.Context(), caller(c), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type taRequest struct {
	TAEmail string `json:"ta_email" binding:"required"`
}

func (h *Handler) addTA(c *gin.Context) {
	var req taRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	course, err := h.svc.AddTA(c.Request.Context(), caller(c), c.Param("code"), req.TAEmail)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

func (h *Handler) removeTA(c *gin.Context) {
	var req taRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	course, err := h.svc.RemoveTA(c.Request.Context(), caller(c), c.Param("code"), req.TAEmail)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

func (h *Handler) submitAttendance(c *gin.Context) {
	var req struct {
		CourseCode  string   `json:"course_code" binding:"required"`
		RollNumbers []string `json:"roll_numbers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.SubmitAttendance(c.Request.Context(), caller(c), req.CourseCode, req.RollNumbers); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "attendance recorded"})
}

func (h *Handler) lowAttendance(c *gin.Context) {
	start, end, ok := dateRange(c)
	if !ok {
		return
	}
	rec, err := h.svc.LowAttendance(c.Request.Context(), caller(c), c.Param("code"), start, end)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) stats(c *gin.Context) {
	start, end, ok := dateRange(c)
	if !ok {
		return
	}
	out, err := h.svc.Stats(c.Request.Context(), caller(c), c.Param("code"), start, end)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) grievances(c *gin.Context) {
	out, err := h.svc.Grievances(c.Request.Context(), caller(c), c.Query("email"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) setGrievanceStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g, err := h.svc.SetGrievanceStatus(c.Request.Context(), caller(c), c.Param("id"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}
