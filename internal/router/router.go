package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/hourglass/internal/config"
	"github.com/stemsi/hourglass/internal/handler"
	"github.com/stemsi/hourglass/internal/middleware"
	"github.com/stemsi/hourglass/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Take    *handler.TakeHandler
	Proctor *handler.ProctorHandler
	Push    *handler.PushHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	auth middleware.TokenValidator,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", middleware.CSRFHeader}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Every response carries a request ID and every handler gets a request logger.
	router.Use(response.RequestIDMiddleware(log))

	router.Use(middleware.Brotli())

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	csrf := middleware.CSRFConfig{CookieName: cfg.CSRFCookieName, Secure: cfg.CookieSecure}

	// Snapshots arrive every few seconds; this leaves room for retries.
	takeLimiter := middleware.NewRateLimiter(60, time.Minute)

	// ─── 1. Student Group (token + forgery protection) ─────────────────
	studentAPI := router.Group("/api/student/exams/:exam_id")
	studentAPI.Use(
		middleware.RequireStudent(auth, cfg.SessionCookieName),
		middleware.NoStore(),
		takeLimiter.Middleware(),
	)
	{
		studentAPI.GET("", middleware.IssueCSRF(csrf), handlers.Take.GetExamInfo)
		studentAPI.POST("/take", middleware.RequireCSRF(csrf), handlers.Take.Take)
		studentAPI.POST("/anomaly", middleware.RequireCSRF(csrf), handlers.Take.ReportAnomaly)
	}

	// ─── 2. WebSocket Group (student token) ────────────────────────────
	ws := router.Group("/ws/student")
	ws.Use(middleware.RequireStudent(auth, cfg.SessionCookieName))
	{
		ws.GET("/exams/:exam_id/messages", handlers.Push.StreamMessages)
	}

	// ─── 3. Proctor Group (staff token + forgery protection) ───────────
	proctorAPI := router.Group("/api/proctor")
	proctorAPI.Use(
		middleware.RequireProctor(auth, cfg.SessionCookieName),
		middleware.NoStore(),
		middleware.RequireCSRF(csrf),
	)
	{
		proctorAPI.GET("/exams/:exam_id/messages", handlers.Proctor.ListMessages)
		proctorAPI.POST("/exams/:exam_id/messages", handlers.Proctor.SendMessage)
		proctorAPI.GET("/exams/:exam_id/anomalies", handlers.Proctor.ListAnomalies)
		proctorAPI.GET("/exams/:exam_id/questions", handlers.Proctor.ListQuestions)
		proctorAPI.POST("/exams/:exam_id/finalize", handlers.Proctor.FinalizeExam)
		proctorAPI.DELETE("/anomalies/:anomaly_id", handlers.Proctor.ForgiveAnomaly)
		proctorAPI.POST("/registrations/:registration_id/finalize", handlers.Proctor.FinalizeRegistration)
	}

	return router
}
