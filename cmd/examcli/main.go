// Command examcli is a terminal shell around the session controller: it
// renders the selected questions, records answers, simulates visibility
// violations, and submits the attempt against a running exam service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/evalhub/examsession/internal/config"
	"github.com/evalhub/examsession/internal/examapi"
	"github.com/evalhub/examsession/internal/identity"
	"github.com/evalhub/examsession/internal/logger"
	"github.com/evalhub/examsession/internal/model"
	"github.com/evalhub/examsession/internal/proctor"
	"github.com/evalhub/examsession/internal/session"
	"github.com/evalhub/examsession/internal/store"
)

func main() {
	examFlag := flag.String("exam", "", "id of the exam to take")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if *examFlag == "" {
		log.Fatal().Msg("missing -exam flag")
	}
	examID, err := uuid.Parse(*examFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid exam id")
	}

	claims, err := identity.FromToken(cfg.APIToken, cfg.JWTSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("EXAM_API_TOKEN is missing or invalid")
	}
	log.Info().
		Int("student_id", claims.UserID).
		Str("username", claims.Username).
		Msg("Authenticated")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open marker store")
	}
	defer kv.Close()

	ui := &ui{out: os.Stdout}
	done := make(chan struct{})

	ctrl, err := session.NewController(session.Options{
		API:            examapi.New(cfg, log),
		Store:          kv,
		Claims:         claims,
		ExamID:         examID,
		ViolationLimit: cfg.ViolationLimit,
		Logger:         log,
		Hooks: session.Hooks{
			OnQuestionChanged: ui.showQuestion,
			OnTick:            ui.showTick,
			OnViolation:       ui.showViolation,
			OnAutoSubmit:      ui.showAutoSubmit,
			OnSubmitted: func(result *model.SubmissionResult) {
				ui.showResult(result)
				close(done)
			},
			OnError: ui.showError,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build session controller")
	}

	if err := ctrl.Start(ctx); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionLocked):
			log.Fatal().Msg("This exam is already open in another session")
		case errors.Is(err, session.ErrExamNotOpen):
			log.Fatal().Msg("The exam has not opened yet")
		case errors.Is(err, session.ErrExamClosed):
			log.Fatal().Msg("The exam window has closed")
		default:
			log.Fatal().Err(err).Msg("Failed to start session")
		}
	}
	defer ctrl.Close(context.Background())

	if cfg.ProctorFeedURL != "" {
		feed := proctor.NewFeed(cfg.ProctorFeedURL, examID, claims.UserID, ctrl.Report, log)
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Proctor feed stopped")
			}
		}()
	}

	exam := ctrl.Exam()
	ui.banner(exam, len(ctrl.Questions()), ctrl.State().RemainingSeconds)

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to enter raw terminal mode")
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	keys := make(chan byte)
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := os.Stdin.Read(buf); err != nil {
				return
			}
			keys <- buf[0]
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case key := <-keys:
			switch key {
			case 'n':
				ctrl.Next()
			case 'p':
				ctrl.Prev()
			case 'a', 'b', 'c', 'd':
				answer(ctrl, ui, int(key-'a'))
			case 'h':
				ctrl.Report(session.EventHidden)
			case 's':
				go func() {
					if _, err := ctrl.Submit(ctx); err != nil && !errors.Is(err, session.ErrSubmissionInFlight) {
						ui.showError(err)
					}
				}()
			case 'q', 3: // 3 is Ctrl-C in raw mode.
				return
			}
		}
	}
}

func answer(ctrl *session.Controller, ui *ui, choice int) {
	q, ok := ctrl.CurrentQuestion()
	if !ok || choice >= len(q.Choices) {
		return
	}
	if err := ctrl.SetAnswer(q.ID, q.Choices[choice].ID); err != nil {
		ui.showError(err)
		return
	}
	answered, total := ctrl.Progress()
	ui.printf("answered %c  (%d/%d done)", 'a'+choice, answered, total)
}

// openStore selects the durable marker backend from configuration.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.KV, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemory(), nil
	case "redis":
		return store.OpenRedis(ctx, cfg.RedisURL, log)
	case "sqlite":
		return store.OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// ui serializes terminal output; hooks arrive from several goroutines.
type ui struct {
	mu  sync.Mutex
	out *os.File
}

func (u *ui) printf(format string, args ...interface{}) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.out, format+"\r\n", args...)
}

func (u *ui) banner(exam *model.ExamDefinition, questions, remaining int) {
	u.printf("=== %s ===", exam.Title)
	if exam.Description != "" {
		u.printf("%s", exam.Description)
	}
	u.printf("%d questions, %s remaining", questions, formatSeconds(remaining))
	u.printf("keys: a-d answer | n/p navigate | s submit | h hide tab | q quit")
}

func (u *ui) showQuestion(index int, q model.Question) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.out, "\r\n[%d] %s\r\n", index+1, q.Content)
	for i, c := range q.Choices {
		fmt.Fprintf(u.out, "  %c) %s\r\n", 'a'+i, c.Content)
	}
}

func (u *ui) showTick(remaining int) {
	// A full countdown line every minute, then every second for the last ten.
	if remaining%60 == 0 || remaining <= 10 {
		u.printf("time remaining: %s", formatSeconds(remaining))
	}
}

func (u *ui) showViolation(count, limit int) {
	u.printf("warning: leaving the exam tab is recorded (%d/%d)", count, limit)
}

func (u *ui) showAutoSubmit(reason session.AutoSubmitReason) {
	switch reason {
	case session.AutoSubmitTimerExpired:
		u.printf("time is up, submitting your answers")
	case session.AutoSubmitViolationLimit:
		u.printf("violation limit reached, submitting your answers")
	}
}

func (u *ui) showResult(result *model.SubmissionResult) {
	u.printf("submitted %d answers, attempt complete", result.Submitted)
}

func (u *ui) showError(err error) {
	u.printf("error: %v", err)
}

func formatSeconds(s int) string {
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
