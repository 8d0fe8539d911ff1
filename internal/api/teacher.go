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
	"qrattend/internal/docstore"
	"qrattend/internal/model"
	"qrattend/internal/qr"
)

// ---------- Profile ----------

func (h *Handler) TeacherProfile(c *gin.Context) {
	p, err := h.svc.TeacherProfile(c.Request.Context(), uid(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateTeacherProfile(c *gin.Context) {
	var p model.TeacherProfile
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	p.ID = uid(c)
	if err := h.svc.SaveTeacherProfile(c.Request.Context(), p); err != nil {
		h.fail(c, err)
		return
	}
	h.TeacherProfile(c)
}

// ---------- Classes ----------

func (h *Handler) TeacherClasses(c *gin.Context) {
	classes, err := h.svc.TeacherClasses(c.Request.Context(), uid(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

func (h *Handler) TeacherClass(c *gin.Context) {
	class, err := h.svc.TeacherClass(c.Request.Context(), uid(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, class)
}

func (h *Handler) CreateClass(c *gin.Context) {
	var class model.ClassSession
	if err := c.ShouldBindJSON(&class); err != nil {
		badRequest(c, err)
		return
	}
	created, err := h.svc.CreateClass(c.Request.Context(), uid(c), class)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) UpdateClass(c *gin.Context) {
	var class model.ClassSession
	if err := c.ShouldBindJSON(&class); err != nil {
		badRequest(c, err)
		return
	}
	class.ID = c.Param("id")
	updated, err := h.svc.UpdateClass(c.Request.Context(), uid(c), class)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteClass(c *gin.Context) {
	if err := h.svc.DeleteClass(c.Request.Context(), uid(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- QR ----------

// GenerateQR replaces the class token; the previous one stops working at once.
func (h *Handler) GenerateQR(c *gin.Context) {
	st, err := h.qr.Generate(c.Request.Context(), c.Param("id"), uid(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

// QRStatus reports the token state and the MM:SS countdown.
func (h *Handler) QRStatus(c *gin.Context) {
	st, err := h.qr.Current(c.Request.Context(), c.Param("id"), uid(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// QRImage renders the active scan link as a PNG.
func (h *Handler) QRImage(c *gin.Context) {
	url, err := h.qr.URL(c.Request.Context(), c.Param("id"), uid(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	png, err := qr.RenderPNG(url, 512)
	if err != nil {
		h.fail(c, apperr.Wrap(apperr.Unavailable, "could not render QR code", err))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// ---------- Attendance ----------

func (h *Handler) ClassAttendance(c *gin.Context) {
	date := h.dateParam(c)
	recs, err := h.svc.ClassAttendance(c.Request.Context(), uid(c), c.Param("id"), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "count": len(recs), "records": recs})
}

func (h *Handler) Suspicious(c *gin.Context) {
	date := h.dateParam(c)
	rep, err := h.svc.Suspicious(c.Request.Context(), uid(c), c.Param("id"), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "report": rep})
}

const (
	liveWriteWait  = 10 * time.Second
	livePingPeriod = 30 * time.Second
	livePongWait   = 2 * livePingPeriod
)

type liveUpdate struct {
	Date    string             `json:"date"`
	Count   int                `json:"count"`
	Records []model.ScanRecord `json:"records"`
	Error   string             `json:"error,omitempty"`

	// last is set when the store stopped the live query.
	last bool
}

// Close reasons telling the client to open a new socket.
const (
	liveEndedReason  = "live updates stopped, reconnect"
	dayChangedReason = "attendance day changed, reconnect"
)

// LiveAttendance streams today's records over a websocket. The store
// subscription lives exactly as long as the socket. The socket is closed when
// the store ends the live query or the date rolls over, since either way the
// stream no longer shows today's records.
func (h *Handler) LiveAttendance(c *gin.Context) {
	teacherID, classID := uid(c), c.Param("id")
	if _, err := h.svc.TeacherClass(c.Request.Context(), teacherID, classID); err != nil {
		h.fail(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the error response
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	date := h.svc.Today()
	updates := make(chan liveUpdate, 1)
	sub, err := h.svc.WatchToday(ctx, teacherID, classID, func(recs []model.ScanRecord, err error) {
		u := liveUpdate{Date: date, Count: len(recs), Records: recs}
		if err != nil {
			u = liveUpdate{Date: date, Error: "could not read attendance", last: errors.Is(err, docstore.ErrWatchEnded)}
			h.log.Error("live attendance snapshot", zap.String("class_id", classID), zap.Error(err))
		}
		// keep only the newest snapshot; never block the store's goroutine
		for {
			select {
			case updates <- u:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, apperr.Message(err)),
			time.Now().Add(liveWriteWait))
		return
	}
	defer sub.Stop()

	// reads detect the client going away
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	closeWith := func(code int, reason string) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(liveWriteWait))
	}

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()
	dayCheck := time.NewTicker(h.liveDayCheck)
	defer dayCheck.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(u); err != nil {
				return
			}
			if u.last {
				closeWith(websocket.CloseInternalServerErr, liveEndedReason)
				return
			}
		case <-dayCheck.C:
			if h.svc.Today() != date {
				closeWith(websocket.CloseGoingAway, dayChangedReason)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		}
	}
}
