package main

import (
	"context"
	"encoding/json"
	"flag"

	"github.com/google/uuid"

	"github.com/whisperexam/whisper-backend/internal/codec"
	"github.com/whisperexam/whisper-backend/internal/config"
	"github.com/whisperexam/whisper-backend/internal/database"
	"github.com/whisperexam/whisper-backend/internal/logger"
	"github.com/whisperexam/whisper-backend/internal/model"
	"github.com/whisperexam/whisper-backend/internal/repository"
)

// seedQuestion is one entry of the built-in demo paper. Key material is
// derived here so the stored rows never contain the plaintext answer.
type seedQuestion struct {
	qtype        model.QuestionType
	prompt       string
	options      string
	points       float64
	allowPartial bool
	fuzzyMatch   bool
	answer       json.RawMessage
}

var demoQuestions = []seedQuestion{
	{
		qtype:   model.QuestionTypeMCQ,
		prompt:  "Which planet is closest to the sun?",
		options: `["Mercury","Venus","Earth","Mars"]`,
		points:  2,
		answer:  json.RawMessage(`"Mercury"`),
	},
	{
		qtype:        model.QuestionTypeMCQ,
		prompt:       "Select every prime number.",
		options:      `["2","3","4","5","6"]`,
		points:       3,
		allowPartial: true,
		answer:       json.RawMessage(`["2","3","5"]`),
	},
	{
		qtype:  model.QuestionTypeBoolean,
		prompt: "The speed of light is finite.",
		points: 1,
		answer: json.RawMessage(`true`),
	},
	{
		qtype:  model.QuestionTypeMath,
		prompt: "What is 1/3 expressed as a decimal, to at least six places?",
		points: 2,
		answer: json.RawMessage(`"1/3"`),
	},
	{
		qtype:      model.QuestionTypeFillBlank,
		prompt:     "Water is composed of hydrogen and ____.",
		points:     1,
		fuzzyMatch: true,
		answer:     json.RawMessage(`"oxygen"`),
	},
	{
		qtype:        model.QuestionTypeMatch,
		prompt:       "Match each country to its capital.",
		options:      `{"left":["France","Japan"],"right":["Paris","Tokyo"]}`,
		points:       2,
		allowPartial: true,
		answer:       json.RawMessage(`{"france":"paris","japan":"tokyo"}`),
	},
	{
		qtype:  model.QuestionTypeEssay,
		prompt: "Explain the greenhouse effect in your own words.",
		points: 5,
	},
}

func main() {
	var userID string
	var studentCode string
	flag.StringVar(&userID, "user", "", "User UUID to register for the seeded exam")
	flag.StringVar(&studentCode, "code", "STU-0001", "Display student code for the registration")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	regRepo := repository.NewRegistrationRepository(pool)
	answerCodec := codec.New(cfg.AnswerKeySecret)

	exam := &model.Exam{
		Title:           "Demo General Knowledge Exam",
		Description:     "Seeded exam covering every auto-gradable question type.",
		DurationSeconds: 30 * 60,
		Status:          model.ExamStatusPublished,
		Settings: model.ExamSettings{
			AllowPause:     true,
			Proctoring:     true,
			MaxTabSwitches: 5,
		},
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Create exam failed")
	}
	log.Info().Str("exam_id", exam.ID.String()).Msg("Exam created")

	for i, sq := range demoQuestions {
		q := &model.Question{
			ExamID:       exam.ID,
			Type:         sq.qtype,
			Prompt:       sq.prompt,
			Points:       sq.points,
			AllowPartial: sq.allowPartial,
			FuzzyMatch:   sq.fuzzyMatch,
			OrderNum:     i + 1,
		}
		if sq.options != "" {
			q.Options = json.RawMessage(sq.options)
		}

		if sq.answer != nil {
			canonical, err := answerCodec.Normalize(sq.qtype, sq.answer)
			if err != nil {
				log.Fatal().Err(err).Str("prompt", sq.prompt).Msg("Normalize answer key failed")
			}
			fp, err := answerCodec.Fingerprint(canonical)
			if err != nil {
				log.Fatal().Err(err).Msg("Fingerprint failed")
			}
			ct, err := answerCodec.Encrypt(canonical)
			if err != nil {
				log.Fatal().Err(err).Msg("Encrypt failed")
			}
			q.AnswerFingerprint = &fp
			q.AnswerCipher = &ct
		}

		if err := questionRepo.Create(ctx, q); err != nil {
			log.Fatal().Err(err).Str("prompt", sq.prompt).Msg("Create question failed")
		}
	}
	log.Info().Int("count", len(demoQuestions)).Msg("Questions created")

	if userID != "" {
		uid, err := uuid.Parse(userID)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -user UUID")
		}
		reg := &model.ExamRegistration{ExamID: exam.ID, UserID: uid, StudentCode: studentCode}
		if err := regRepo.Create(ctx, reg); err != nil {
			log.Fatal().Err(err).Msg("Create registration failed")
		}
		log.Info().Str("user_id", uid.String()).Str("student_code", studentCode).Msg("Registration created")
	}
}
