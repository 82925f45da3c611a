// Package handler exposes the attendance service over HTTP with gin.
package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"presence/internal/attendance"
	"presence/internal/auth"
	"presence/internal/calendar"
	"presence/internal/metrics"
	"presence/internal/model"
	"presence/internal/sheet"
	"presence/internal/stats"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// HealthCheck reports on one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) bool
}

type Handler struct {
	svc    *attendance.Service
	issuer *auth.Issuer
	checks []HealthCheck
	now    func() time.Time
}

func New(svc *attendance.Service, issuer *auth.Issuer, checks ...HealthCheck) *Handler {
	return &Handler{svc: svc, issuer: issuer, checks: checks, now: time.Now}
}

// Routes mounts the API on r. loginLimit guards the session endpoint.
func (h *Handler) Routes(r gin.IRouter, loginLimit gin.HandlerFunc) {
	api := r.Group("/api")
	api.GET("/healthz", h.Healthz)
	if loginLimit != nil {
		api.POST("/session", loginLimit, h.Login)
	} else {
		api.POST("/session", h.Login)
	}

	private := api.Group("", auth.SessionAuth(h.issuer))
	{
		private.GET("/classes", h.Classes)

		private.GET("/students", h.ListStudents)
		private.POST("/students", h.CreateStudent)
		private.PATCH("/students", h.UpdateStudent)
		private.DELETE("/students", h.DeleteStudent)
		private.POST("/students/import", h.ImportStudents)

		private.GET("/records", h.ListRecords)
		private.POST("/records", h.SaveRecords)

		private.GET("/settings", h.Settings)
		private.POST("/settings", h.SaveSetting)

		private.GET("/stats/global", h.GlobalStats)
		private.GET("/stats/class/:classId", h.ClassStats)
		private.GET("/stats/today/:classId", h.TodayStats)
		private.GET("/stats/student/:id", h.StudentStats)
		private.GET("/stats/at-risk", h.AtRisk)

		private.GET("/export/students", h.ExportStudents)
		private.GET("/export/summary", h.ExportSummary)
	}
}

// ---------- Errors ----------

func writeError(c *gin.Context, err error) {
	var verr *attendance.ValidationError
	var perr *calendar.ParseError
	switch {
	case errors.As(err, &verr):
		body := gin.H{"error": verr.Error()}
		if len(verr.Fields) > 0 {
			body["fields"] = verr.Fields
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.As(err, &perr):
		c.JSON(http.StatusBadRequest, gin.H{"error": perr.Error()})
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
}

// ---------- Health / session ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for _, hc := range h.checks {
		ok := hc.Check(c.Request.Context())
		body[hc.Name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Passphrase string `json:"passphrase"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.issuer.Login(req.Passphrase)
	switch {
	case errors.Is(err, auth.ErrBadPassphrase):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	case errors.Is(err, auth.ErrNoPassphrase):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) Classes(c *gin.Context) {
	w, err := h.svc.FormationWindow(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	classes := make([]model.ClassInfo, 0, len(model.Classes))
	for _, id := range model.Classes {
		classes = append(classes, model.ClassInfos[id])
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes, "formation": w})
}

// ---------- Students ----------

func (h *Handler) ListStudents(c *gin.Context) {
	students, err := h.svc.ListStudents(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if students == nil {
		students = []model.Student{}
	}
	c.JSON(http.StatusOK, students)
}

func (h *Handler) CreateStudent(c *gin.Context) {
	var req model.NewStudent
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.svc.CreateStudent(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) UpdateStudent(c *gin.Context) {
	var req struct {
		ID string `json:"id"`
		model.StudentUpdate
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.svc.UpdateStudent(c.Request.Context(), req.ID, req.StudentUpdate)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) DeleteStudent(c *gin.Context) {
	if err := h.svc.DeleteStudent(c.Request.Context(), c.Query("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ImportStudents(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	defer file.Close()

	res, err := sheet.ParseStudents(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sum := sheet.Import(c.Request.Context(), h.svc, res)
	log.Printf("import: added %d, skipped %d, failed %d", sum.Added, sum.Skipped, sum.Failed)
	c.JSON(http.StatusOK, sum)
}

// ---------- Records ----------

func (h *Handler) ListRecords(c *gin.Context) {
	records, err := h.svc.ListRecords(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []model.AttendanceRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) SaveRecords(c *gin.Context) {
	var req model.DaySave
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	records, err := h.svc.SaveAttendance(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	metrics.AttendanceSaves.WithLabelValues(string(req.ClassID)).Inc()
	if records == nil {
		records = []model.AttendanceRecord{}
	}
	c.JSON(http.StatusOK, records)
}

// ---------- Settings ----------

func (h *Handler) Settings(c *gin.Context) {
	settings, err := h.svc.Settings(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *Handler) SaveSetting(c *gin.Context) {
	var req model.Setting
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	created, err := h.svc.SaveSetting(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"created": created})
}

// ---------- Stats ----------

func (h *Handler) GlobalStats(c *gin.Context) {
	g, err := h.svc.Global(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) ClassStats(c *gin.Context) {
	cs, err := h.svc.Class(c.Request.Context(), model.ClassID(c.Param("classId")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (h *Handler) TodayStats(c *gin.Context) {
	t, err := h.svc.Today(c.Request.Context(), model.ClassID(c.Param("classId")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) StudentStats(c *gin.Context) {
	st, err := h.svc.Student(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) AtRisk(c *gin.Context) {
	limit := 5
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}
	list, err := h.svc.AtRisk(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []stats.StudentStats{}
	}
	c.JSON(http.StatusOK, list)
}

// ---------- Exports ----------

func (h *Handler) ExportStudents(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		rows  []stats.StudentStats
		scope = "tous"
	)
	if v := c.Query("class"); v != "" {
		classID, err := model.ParseClassID(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cs, err := h.svc.Class(ctx, classID)
		if err != nil {
			writeError(c, err)
			return
		}
		rows, scope = cs.StudentStats, string(classID)
	} else {
		g, err := h.svc.Global(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		rows = g.All()
	}

	var buf bytes.Buffer
	if err := sheet.WriteStudentStats(&buf, rows); err != nil {
		writeError(c, err)
		return
	}
	h.sendXLSX(c, fmt.Sprintf("statistiques-%s-%s.xlsx", scope, calendar.FormatDate(h.now())), buf.Bytes())
}

func (h *Handler) ExportSummary(c *gin.Context) {
	g, err := h.svc.Global(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := sheet.WriteGlobalSummary(&buf, g.Summary()); err != nil {
		writeError(c, err)
		return
	}
	h.sendXLSX(c, "resume-global-presence.xlsx", buf.Bytes())
}

func (h *Handler) sendXLSX(c *gin.Context, filename string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}
