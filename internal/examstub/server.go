// Package examstub is a self-contained, in-memory rendition of the exam
// service surface the session controller consumes. It exists for local
// development and integration tests; nothing in it persists across restarts.
package examstub

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evalhub/examsession/internal/config"
	"github.com/evalhub/examsession/internal/examapi"
	"github.com/evalhub/examsession/internal/identity"
	"github.com/evalhub/examsession/internal/model"
	"github.com/evalhub/examsession/internal/validator"
)

const claimsKey = "claims"

type storedAttempt struct {
	model.Attempt
	number  int
	answers map[uuid.UUID]model.AnswerRecord
	result  *model.ExamResult
}

// Server holds the in-memory exam catalog and attempt state.
type Server struct {
	cfg *config.Config
	log zerolog.Logger

	mu       sync.Mutex
	exams    map[uuid.UUID]*model.ExamDefinition
	pools    map[uuid.UUID][]model.Question
	attempts map[uuid.UUID]*storedAttempt
	history  map[attemptKey][]*storedAttempt
	now      func() time.Time
}

type attemptKey struct {
	examID    uuid.UUID
	studentID int
}

// New builds an empty stub service. Seed exams with AddExam.
func New(cfg *config.Config, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		log:      log.With().Str("component", "examstub").Logger(),
		exams:    make(map[uuid.UUID]*model.ExamDefinition),
		pools:    make(map[uuid.UUID][]model.Question),
		attempts: make(map[uuid.UUID]*storedAttempt),
		history:  make(map[attemptKey][]*storedAttempt),
		now:      time.Now,
	}
}

// AddExam registers an exam and its question pool.
func (s *Server) AddExam(exam *model.ExamDefinition, pool []model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exams[exam.ID] = exam
	s.pools[exam.ID] = pool
}

// Router assembles the Gin engine with CORS, request ids, and the
// authenticated API group.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(s.cfg.GinMode)
	validator.Setup()
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(s.cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = s.cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(requestID())

	router.GET("/health", func(c *gin.Context) {
		success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.Use(s.authenticate())
	{
		api.GET("/exams/:examId", s.getExam)
		api.GET("/exams/:examId/questions", s.getQuestions)

		api.POST("/student-exams", s.createAttempt)
		api.GET("/student-exams/:attemptId", s.getAttempt)
		api.PUT("/student-exams/:attemptId/start", s.startAttempt)
		api.POST("/student-exams/:attemptId/answers", s.submitAnswer)
		api.PUT("/student-exams/:attemptId/complete", s.completeAttempt)
		api.GET("/student-exams/:attemptId/result", s.getResult)
		api.GET("/student-exams/:attemptId/all-results", s.listResults)
	}

	return router
}

// authenticate extracts and validates the bearer token, rejecting anything
// that is not a student principal.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(header) < 8 || header[:7] != "Bearer " {
			abortFail(c, http.StatusUnauthorized, examapi.ErrTokenRequired)
			return
		}

		claims, err := identity.FromToken(header[7:], s.cfg.JWTSecret)
		switch {
		case err == nil:
			c.Set(claimsKey, claims)
			c.Next()
		case errors.Is(err, identity.ErrNotStudent):
			abortFail(c, http.StatusForbidden, examapi.ErrForbidden)
		default:
			abortFail(c, http.StatusUnauthorized, examapi.ErrTokenInvalid)
		}
	}
}

func currentClaims(c *gin.Context) *identity.Claims {
	return c.MustGet(claimsKey).(*identity.Claims)
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		fail(c, http.StatusBadRequest, examapi.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) getExam(c *gin.Context) {
	examID, ok := parseID(c, "examId")
	if !ok {
		return
	}

	s.mu.Lock()
	exam, ok := s.exams[examID]
	s.mu.Unlock()
	if !ok {
		fail(c, http.StatusNotFound, examapi.ErrNotFound)
		return
	}
	success(c, http.StatusOK, exam)
}

func (s *Server) getQuestions(c *gin.Context) {
	examID, ok := parseID(c, "examId")
	if !ok {
		return
	}

	s.mu.Lock()
	pool, ok := s.pools[examID]
	s.mu.Unlock()
	if !ok {
		fail(c, http.StatusNotFound, examapi.ErrNotFound)
		return
	}
	if len(pool) == 0 {
		fail(c, http.StatusConflict, examapi.ErrNoQuestions)
		return
	}
	success(c, http.StatusOK, pool)
}

type createAttemptRequest struct {
	ExamID string `json:"exam_id" binding:"required,uuid"`
}

// createAttempt returns the student's open attempt for the exam if one
// exists, otherwise creates a fresh one. The exam window is enforced here:
// attempts cannot be created before the window opens or after it closes.
func (s *Server) createAttempt(c *gin.Context) {
	var req createAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		failWithFields(c, http.StatusUnprocessableEntity, examapi.ErrValidation, fields)
		return
	}
	examID := uuid.MustParse(req.ExamID)
	claims := currentClaims(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	exam, ok := s.exams[examID]
	if !ok {
		fail(c, http.StatusNotFound, examapi.ErrNotFound)
		return
	}

	key := attemptKey{examID: examID, studentID: claims.UserID}
	for _, a := range s.history[key] {
		if a.Status != model.SessionStatusCompleted {
			success(c, http.StatusOK, a.Attempt)
			return
		}
	}

	switch exam.Window(s.now()) {
	case model.WindowNotOpen:
		fail(c, http.StatusForbidden, examapi.ErrExamNotOpen)
		return
	case model.WindowClosed:
		fail(c, http.StatusForbidden, examapi.ErrExamClosed)
		return
	}

	attempt := &storedAttempt{
		Attempt: model.Attempt{
			ID:        uuid.New(),
			ExamID:    examID,
			StudentID: claims.UserID,
			Status:    model.SessionStatusNotStarted,
		},
		number:  len(s.history[key]) + 1,
		answers: make(map[uuid.UUID]model.AnswerRecord),
	}
	s.attempts[attempt.ID] = attempt
	s.history[key] = append(s.history[key], attempt)

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Int("student_id", claims.UserID).
		Msg("Attempt created")
	success(c, http.StatusCreated, attempt.Attempt)
}

// ownedAttempt resolves the path attempt and checks it belongs to the caller.
// Must be called with s.mu held.
func (s *Server) ownedAttempt(c *gin.Context, attemptID uuid.UUID) (*storedAttempt, bool) {
	attempt, ok := s.attempts[attemptID]
	if !ok {
		fail(c, http.StatusNotFound, examapi.ErrNotFound)
		return nil, false
	}
	if attempt.StudentID != currentClaims(c).UserID {
		fail(c, http.StatusForbidden, examapi.ErrForbidden)
		return nil, false
	}
	return attempt, true
}

func (s *Server) getAttempt(c *gin.Context) {
	attemptID, ok := parseID(c, "attemptId")
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.ownedAttempt(c, attemptID)
	if !ok {
		return
	}
	success(c, http.StatusOK, attempt.Attempt)
}

func (s *Server) startAttempt(c *gin.Context) {
	attemptID, ok := parseID(c, "attemptId")
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.ownedAttempt(c, attemptID)
	if !ok {
		return
	}
	if attempt.Status == model.SessionStatusCompleted {
		fail(c, http.StatusConflict, examapi.ErrAlreadyDone)
		return
	}

	if attempt.Status == model.SessionStatusNotStarted {
		now := s.now()
		attempt.Status = model.SessionStatusInProgress
		attempt.StartedAt = &now
	}
	success(c, http.StatusOK, attempt.Attempt)
}

func (s *Server) submitAnswer(c *gin.Context) {
	attemptID, ok := parseID(c, "attemptId")
	if !ok {
		return
	}

	var rec model.AnswerRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		failWithFields(c, http.StatusUnprocessableEntity, examapi.ErrValidation, validator.Translate(err))
		return
	}
	if rec.QuestionID == uuid.Nil || rec.ChoiceID == uuid.Nil {
		failWithFields(c, http.StatusUnprocessableEntity, examapi.ErrValidation, map[string]string{
			"question_id": "question_id and answer_id are required",
		})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.ownedAttempt(c, attemptID)
	if !ok {
		return
	}
	if attempt.Status != model.SessionStatusInProgress {
		fail(c, http.StatusConflict, examapi.ErrAlreadyDone)
		return
	}

	// Last write per question wins.
	attempt.answers[rec.QuestionID] = rec
	success(c, http.StatusOK, gin.H{"saved": true})
}

func (s *Server) completeAttempt(c *gin.Context) {
	attemptID, ok := parseID(c, "attemptId")
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.ownedAttempt(c, attemptID)
	if !ok {
		return
	}
	if attempt.Status == model.SessionStatusCompleted {
		fail(c, http.StatusConflict, examapi.ErrAlreadyDone)
		return
	}

	exam := s.exams[attempt.ExamID]
	now := s.now()
	attempt.Status = model.SessionStatusCompleted
	attempt.FinishedAt = &now
	attempt.result = s.grade(exam, attempt, now)

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Float64("score", attempt.result.Score).
		Msg("Attempt graded")
	success(c, http.StatusOK, attempt.Attempt)
}

// grade tallies the recorded answers into an aggregate result. The correctness
// flag is taken from the submitted records as-is.
func (s *Server) grade(exam *model.ExamDefinition, attempt *storedAttempt, completedAt time.Time) *model.ExamResult {
	total := len(s.pools[attempt.ExamID])
	if exam.MaxQuestions > 0 && exam.MaxQuestions < total {
		total = exam.MaxQuestions
	}

	correct := 0
	for _, rec := range attempt.answers {
		if rec.IsCorrect {
			correct++
		}
	}
	wrong := len(attempt.answers) - correct
	unanswered := total - len(attempt.answers)
	if unanswered < 0 {
		unanswered = 0
	}

	score := 0.0
	if total > 0 {
		score = float64(correct) / float64(total) * exam.MaxMarks
	}

	return &model.ExamResult{
		AttemptID:     attempt.ID,
		AttemptNumber: attempt.number,
		Score:         score,
		MaxMarks:      exam.MaxMarks,
		Correct:       correct,
		Wrong:         wrong,
		Unanswered:    unanswered,
		CompletedAt:   &completedAt,
	}
}

func (s *Server) getResult(c *gin.Context) {
	attemptID, ok := parseID(c, "attemptId")
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.ownedAttempt(c, attemptID)
	if !ok {
		return
	}
	if attempt.result == nil {
		fail(c, http.StatusNotFound, examapi.ErrNotFound)
		return
	}
	success(c, http.StatusOK, attempt.result)
}

// listResults returns results for every completed attempt the caller made on
// the same exam as the path attempt, newest first.
func (s *Server) listResults(c *gin.Context) {
	attemptID, ok := parseID(c, "attemptId")
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.ownedAttempt(c, attemptID)
	if !ok {
		return
	}

	key := attemptKey{examID: attempt.ExamID, studentID: attempt.StudentID}
	results := make([]model.ExamResult, 0)
	history := s.history[key]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].result != nil {
			results = append(results, *history[i].result)
		}
	}
	success(c, http.StatusOK, results)
}
