package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/auth"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/model"
)

// RouterOptions tune the middleware stack.
type RouterOptions struct {
	AllowedOrigins  []string
	RateLimitPerMin int
	Production      bool
	// Limiter overrides the limiter built from RateLimitPerMin.
	Limiter *httpmiddleware.SimpleTokenBucket
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router(o RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(h.log, "/healthz", "/metrics"))
	r.Use(httpmiddleware.Metrics())
	r.Use(cors.New(corsConfig(o.AllowedOrigins)))
	r.Use(securityHeaders(o.Production))

	h.upgrader.CheckOrigin = func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		return origin == "" || allowAll(o.AllowedOrigins) || slices.Contains(o.AllowedOrigins, origin)
	}

	limiter := o.Limiter
	if limiter == nil {
		limiter = httpmiddleware.NewSimpleTokenBucket(o.RateLimitPerMin, o.RateLimitPerMin)
	}
	limit := limiter.GinMiddleware()

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")

	authGroup := api.Group("/auth", limit)
	{
		authGroup.POST("/signup", h.SignUp)
		authGroup.POST("/signin", h.SignIn)
		authGroup.POST("/refresh", h.Refresh)
		if h.verifier != nil {
			authGroup.POST("/firebase", h.FirebaseExchange)
		}
	}

	bearer := auth.Bearer(h.tokens)

	student := api.Group("/student", bearer, limit, auth.RequireRole(model.RoleStudent))
	{
		student.GET("/profile", h.StudentProfile)
		student.PUT("/profile", h.UpdateStudentProfile)
		student.GET("/classes", h.StudentClasses)
		student.GET("/stats", h.StudentStats)
		student.GET("/history", h.StudentHistory)
		student.POST("/scan", h.Scan)
	}

	teacher := api.Group("/teacher", bearer, limit, auth.RequireRole(model.RoleTeacher))
	{
		teacher.GET("/profile", h.TeacherProfile)
		teacher.PUT("/profile", h.UpdateTeacherProfile)
		teacher.GET("/classes", h.TeacherClasses)
		teacher.POST("/classes", h.CreateClass)
		teacher.GET("/classes/:id", h.TeacherClass)
		teacher.PUT("/classes/:id", h.UpdateClass)
		teacher.DELETE("/classes/:id", h.DeleteClass)
		teacher.POST("/classes/:id/qr", h.GenerateQR)
		teacher.GET("/classes/:id/qr", h.QRStatus)
		teacher.GET("/classes/:id/qr.png", h.QRImage)
		teacher.GET("/classes/:id/attendance", h.ClassAttendance)
		teacher.GET("/classes/:id/suspicious", h.Suspicious)
		teacher.GET("/classes/:id/live", h.LiveAttendance)
	}

	admin := api.Group("/admin", bearer, limit, auth.RequireRole(model.RoleAdmin))
	{
		admin.GET("/profile", h.AdminProfile)
		admin.GET("/students", h.ListStudents)
		admin.GET("/students/:id/report", h.StudentReport)
		admin.GET("/teachers", h.ListTeachers)
		admin.GET("/classes", h.ListClasses)
	}

	return r
}

func allowAll(origins []string) bool {
	return len(origins) == 0 || slices.Contains(origins, "*")
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       24 * time.Hour,
	}
	if allowAll(origins) {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func securityHeaders(production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if production {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
