package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/model"
)

// statView adds the rounded percentage to a SubjectStat.
type statView struct {
	model.SubjectStat
	Rate int `json:"rate"`
}

func viewStats(stats []model.SubjectStat) []statView {
	out := make([]statView, 0, len(stats))
	for _, s := range stats {
		out = append(out, statView{SubjectStat: s, Rate: s.Rate()})
	}
	return out
}

func reportBody(rep attendance.Report) gin.H {
	return gin.H{
		"stats":   viewStats(rep.Stats),
		"overall": statView{SubjectStat: rep.Overall, Rate: rep.Overall.Rate()},
		"records": rep.Records,
	}
}

// ---------- Profile ----------

func (h *Handler) StudentProfile(c *gin.Context) {
	p, err := h.svc.StudentProfile(c.Request.Context(), uid(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateStudentProfile(c *gin.Context) {
	var p model.StudentProfile
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	p.ID = uid(c)
	if err := h.svc.SaveStudentProfile(c.Request.Context(), p); err != nil {
		h.fail(c, err)
		return
	}
	h.StudentProfile(c)
}

// ---------- Classes & reports ----------

func (h *Handler) StudentClasses(c *gin.Context) {
	classes, err := h.svc.ClassesForStudent(c.Request.Context(), uid(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	// the active token is only shown on the teacher's screen
	for i := range classes {
		classes[i].QRCode, classes[i].QRImageURL = "", ""
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

// StudentStats returns per-subject counts plus the session history.
func (h *Handler) StudentStats(c *gin.Context) {
	rep, err := h.svc.StudentReport(c.Request.Context(), uid(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reportBody(rep))
}

// StudentHistory returns the session history, newest first.
func (h *Handler) StudentHistory(c *gin.Context) {
	rep, err := h.svc.StudentReport(c.Request.Context(), uid(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	records := make([]model.HistoryRecord, len(rep.Records))
	for i, r := range rep.Records {
		records[len(records)-1-i] = r
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// ---------- Scan ----------

type scanRequest struct {
	ClassID           string `json:"classId" binding:"required"`
	Token             string `json:"token" binding:"required"`
	DeviceFingerprint string `json:"deviceFingerprint" binding:"max=256"`
}

// Scan marks the student present for the class scanned from the QR link.
func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.svc.Scan(c.Request.Context(), attendance.ScanRequest{
		StudentID:         uid(c),
		ClassID:           req.ClassID,
		Token:             req.Token,
		DeviceFingerprint: req.DeviceFingerprint,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}
