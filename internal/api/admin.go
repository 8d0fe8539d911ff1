package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) AdminProfile(c *gin.Context) {
	p, err := h.svc.AdminProfile(c.Request.Context(), uid(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) ListStudents(c *gin.Context) {
	students, err := h.svc.ListStudents(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) ListTeachers(c *gin.Context) {
	teachers, err := h.svc.ListTeachers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"teachers": teachers})
}

func (h *Handler) ListClasses(c *gin.Context) {
	classes, err := h.svc.ListClasses(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

// StudentReport is the stats view of any student.
func (h *Handler) StudentReport(c *gin.Context) {
	rep, err := h.svc.StudentReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reportBody(rep))
}
