// Package examapi is the HTTP client for the remote exam service. Every call
// carries the bearer credential supplied by the external identity provider;
// timeout semantics are delegated to the underlying http.Client, and failures
// are surfaced as typed errors rather than retried.
package examapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evalhub/examsession/internal/config"
	"github.com/evalhub/examsession/internal/model"
)

// envelope is the service's standard response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error,omitempty"`
}

type errorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Client talks to the exam service on behalf of one authenticated student.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// New builds a client from configuration. The request timeout applies to
// every call including answer submission.
func New(cfg *config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.APIBaseURL,
		token:   cfg.APIToken,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		log:     log.With().Str("component", "examapi").Logger(),
	}
}

// GetExam fetches the immutable exam definition.
func (c *Client) GetExam(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	var exam model.ExamDefinition
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/exams/%s", examID), nil, &exam); err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return &exam, nil
}

// GetQuestionPool fetches the full question pool for an exam. The service
// includes correctness flags on choices; they feed local summary only.
func (c *Client) GetQuestionPool(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	var pool []model.Question
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/exams/%s/questions", examID), nil, &pool); err != nil {
		return nil, fmt.Errorf("get question pool: %w", err)
	}
	return pool, nil
}

// CreateAttempt creates (or returns the existing) attempt for this student
// and exam. The call is idempotent server-side.
func (c *Client) CreateAttempt(ctx context.Context, examID uuid.UUID) (*model.Attempt, error) {
	body := map[string]string{"exam_id": examID.String()}
	var attempt model.Attempt
	if err := c.do(ctx, http.MethodPost, "/student-exams", body, &attempt); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	return &attempt, nil
}

// StartAttempt transitions an attempt to in_progress.
func (c *Client) StartAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	var attempt model.Attempt
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/student-exams/%s/start", attemptID), nil, &attempt); err != nil {
		return nil, fmt.Errorf("start attempt: %w", err)
	}
	return &attempt, nil
}

// GetAttempt fetches the current server-side attempt state.
func (c *Client) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	var attempt model.Attempt
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/student-exams/%s", attemptID), nil, &attempt); err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return &attempt, nil
}

// SubmitAnswer records a single answer on the attempt.
func (c *Client) SubmitAnswer(ctx context.Context, attemptID uuid.UUID, rec model.AnswerRecord) error {
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/student-exams/%s/answers", attemptID), rec, nil); err != nil {
		return fmt.Errorf("submit answer %s: %w", rec.QuestionID, err)
	}
	return nil
}

// CompleteAttempt marks the attempt complete. Callers must have persisted all
// answers first; the service grades from what it has received.
func (c *Client) CompleteAttempt(ctx context.Context, attemptID uuid.UUID) error {
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/student-exams/%s/complete", attemptID), nil, nil); err != nil {
		return fmt.Errorf("complete attempt: %w", err)
	}
	return nil
}

// GetResult fetches the aggregate result of a completed attempt.
func (c *Client) GetResult(ctx context.Context, attemptID uuid.UUID) (*model.ExamResult, error) {
	var result model.ExamResult
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/student-exams/%s/result", attemptID), nil, &result); err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return &result, nil
}

// ListResults fetches summaries of every attempt the student made on this
// exam, newest first.
func (c *Client) ListResults(ctx context.Context, attemptID uuid.UUID) ([]model.ExamResult, error) {
	var results []model.ExamResult
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/student-exams/%s/all-results", attemptID), nil, &results); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return results, nil
}

// do performs one request/response cycle: marshal body, attach the bearer
// credential, decode the envelope, and convert service errors to *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Code: ErrInternal}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if env.Error != nil || resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Code: ErrInternal}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}
		c.log.Debug().
			Int("status", resp.StatusCode).
			Str("code", string(apiErr.Code)).
			Str("path", path).
			Msg("Service returned error")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
