package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/whisperexam/whisper-backend/internal/config"
	"github.com/whisperexam/whisper-backend/internal/handler"
	"github.com/whisperexam/whisper-backend/internal/middleware"
	"github.com/whisperexam/whisper-backend/internal/response"
	"github.com/whisperexam/whisper-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	ExamTake *handler.ExamTakeHandler
	Result   *handler.ResultHandler
	WS       *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Proctoring events can arrive in bursts from misbehaving clients;
	// cap them per IP instead of letting them hammer Postgres.
	violationLimiter := middleware.NewRateLimiter(60, time.Minute)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		studentAPI.POST("/exams/:exam_id/sessions", handlers.ExamTake.StartSession)
		studentAPI.GET("/sessions/:session_id", handlers.ExamTake.GetState)
		studentAPI.PUT("/sessions/:session_id/answers", handlers.ExamTake.SaveAnswer)
		studentAPI.PUT("/sessions/:session_id/answers/bulk", handlers.ExamTake.SaveAnswersBulk)
		studentAPI.POST("/sessions/:session_id/pause", handlers.ExamTake.Pause)
		studentAPI.POST("/sessions/:session_id/resume", handlers.ExamTake.Resume)
		studentAPI.POST("/sessions/:session_id/submit", handlers.ExamTake.Submit)
		studentAPI.POST("/sessions/:session_id/violations",
			violationLimiter.Middleware(),
			handlers.ExamTake.ReportViolation,
		)
		studentAPI.GET("/sessions/:session_id/result", handlers.ExamTake.GetOwnResult)
		studentAPI.GET("/results", handlers.ExamTake.ListOwnResults)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Examiner Group (JWT) ───────────────────────────────────────
	examinerAPI := router.Group("/api/v1/examiner")
	examinerAPI.Use(middleware.RequireExaminerJWT(authService))
	{
		examinerAPI.GET("/exams/:exam_id/results", handlers.Result.ListExamResults)
		examinerAPI.GET("/sessions/:session_id/result", handlers.Result.GetSessionResult)
		examinerAPI.POST("/sessions/:session_id/manual-scores", handlers.Result.ApplyManualScores)
		examinerAPI.GET("/sessions/:session_id/proctor-events", handlers.Result.GetProctorTimeline)
		examinerAPI.GET("/questions/:question_id/answer-key", handlers.Result.RevealAnswerKey)
	}

	return router
}
