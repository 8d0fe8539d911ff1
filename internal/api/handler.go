// Package api exposes the attendance service over HTTP for the student,
// teacher and admin clients.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"qrattend/internal/apperr"
	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/identity"
	"qrattend/internal/model"
	"qrattend/internal/qr"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck = func(ctx context.Context) bool

// Deps are the collaborators a Handler needs. Verifier and Health are optional.
type Deps struct {
	Service  *attendance.Service
	QR       *qr.Manager
	Identity identity.Provider
	Verifier identity.TokenVerifier
	Tokens   *auth.Issuer
	Logger   *zap.Logger
	Health   map[string]HealthCheck
}

// Handler serves the REST and websocket endpoints.
type Handler struct {
	svc      *attendance.Service
	qr       *qr.Manager
	ids      identity.Provider
	verifier identity.TokenVerifier
	tokens   *auth.Issuer
	log      *zap.Logger
	health   map[string]HealthCheck
	upgrader websocket.Upgrader

	// liveDayCheck is how often a live view checks for the date rolling over.
	liveDayCheck time.Duration
}

// New creates a Handler.
func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Handler{
		svc:      d.Service,
		qr:       d.QR,
		ids:      d.Identity,
		verifier: d.Verifier,
		tokens:   d.Tokens,
		log:      d.Logger,
		health:   d.Health,

		liveDayCheck: time.Minute,
	}
}

// ---------- Health ----------

// Healthz reports each dependency and answers 503 if any is down.
func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- helpers ----------

var kindStatus = map[apperr.Kind]int{
	apperr.NotFound:     http.StatusNotFound,
	apperr.Validation:   http.StatusBadRequest,
	apperr.Conflict:     http.StatusConflict,
	apperr.Unauthorized: http.StatusUnauthorized,
	apperr.Forbidden:    http.StatusForbidden,
	apperr.Unavailable:  http.StatusServiceUnavailable,
}

// fail writes err as {"error": message} with the status of its kind.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	var de *model.DecodeError
	if errors.As(err, &de) || status >= 500 {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// uid returns the authenticated subject; routes using it sit behind auth.Bearer.
func uid(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.Subject
}

// dateParam returns ?date=, defaulting to today.
func (h *Handler) dateParam(c *gin.Context) string {
	if d := c.Query("date"); d != "" {
		return d
	}
	return h.svc.Today()
}
