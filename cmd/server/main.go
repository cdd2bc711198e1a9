package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisperexam/whisper-backend/internal/broadcast"
	"github.com/whisperexam/whisper-backend/internal/codec"
	"github.com/whisperexam/whisper-backend/internal/config"
	"github.com/whisperexam/whisper-backend/internal/database"
	"github.com/whisperexam/whisper-backend/internal/grading"
	"github.com/whisperexam/whisper-backend/internal/handler"
	"github.com/whisperexam/whisper-backend/internal/logger"
	"github.com/whisperexam/whisper-backend/internal/repository"
	"github.com/whisperexam/whisper-backend/internal/router"
	"github.com/whisperexam/whisper-backend/internal/service"
	"github.com/whisperexam/whisper-backend/internal/validator"
	"github.com/whisperexam/whisper-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Whisper Exam Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	answerRepo := repository.NewAnswerRepository(pool)
	resultRepo := repository.NewResultRepository(pool)
	regRepo := repository.NewRegistrationRepository(pool)
	proctorRepo := repository.NewProctorRepository(pool)
	sessionCache := repository.NewSessionCache(rdb)

	// ─── Initialize Broadcast Fabric ───────────────────────────────────
	hub := broadcast.NewHub()
	bridge := broadcast.NewRedisBridge(hub, rdb, log)

	// ─── Initialize Services ──────────────────────────────────────────
	answerCodec := codec.New(cfg.AnswerKeySecret)
	policy := grading.NewPolicy(answerCodec)

	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)
	sessionService := service.NewExamSessionService(
		examRepo, questionRepo, sessionRepo, answerRepo, resultRepo, regRepo,
		sessionCache, answerCodec, policy, bridge, cfg.GraceWindow, log,
	)
	resultService := service.NewResultService(resultRepo, sessionRepo, questionRepo, proctorRepo, answerCodec, log)
	proctorService := service.NewProctorService(sessionRepo, examRepo, rdb, bridge, log)
	proctorService.SetFinalizer(sessionService)

	// ─── Initialize Workers ───────────────────────────────────────────
	timers := worker.NewTimerSupervisor(sessionService, bridge, cfg.TimerTick, log)
	sessionService.SetTimers(timers)

	answerWorker := worker.NewAnswerWorker(sessionService, rdb, log)
	proctorWorker := worker.NewProctorWorker(proctorRepo, rdb, log)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	go timers.Start(workerCtx)
	go answerWorker.Start(workerCtx)
	go proctorWorker.Start(workerCtx)
	go bridge.Run(workerCtx)

	// ─── Rearm Session Timers ─────────────────────────────────────────
	// Live sessions must keep expiring on schedule across restarts.
	if err := sessionService.ResumeTimers(ctx); err != nil {
		log.Warn().Err(err).Msg("Timer rearm failed")
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		ExamTake: handler.NewExamTakeHandler(sessionService, resultService, proctorService),
		Result:   handler.NewResultHandler(resultService),
		WS:       handler.NewWSHandler(rdb, hub, sessionService, proctorService, log, cfg.AllowedOrigins),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
