package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-tutor/internal/metrics"
	"github.com/stemsi/exstem-tutor/internal/model"
)

const (
	submitPath     = "/submit-response"
	questionPath   = "/get-question"
	executePath    = "/execute"
	objectivesPath = "/get-learning-objectives"

	// DefaultFeedback replaces a missing feedback field in a successful submission.
	DefaultFeedback = "No feedback provided."

	// DefaultOutput replaces a missing or empty output field in a code run.
	DefaultOutput = "No output"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Client talks to the remote scoring backend. It holds no session state.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a scoring client for the backend rooted at baseURL.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: defaultTimeout,
		},
		log: log.With().Str("component", "scoring_client").Logger(),
	}
}

type submitRequest struct {
	UserID   string `json:"userId"`
	Code     string `json:"code"`
	Question string `json:"question"`
}

type submitResponse struct {
	Feedback *string `json:"feedback"`
	Summary  string  `json:"summary"`
}

type questionResponse struct {
	Question string `json:"question"`
}

type executeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type executeResponse struct {
	Output string `json:"output"`
}

// Older backends answer with "exercises" instead of "learning_objectives".
type objectivesResponse struct {
	LearningObjectives []string `json:"learning_objectives"`
	Exercises          []string `json:"exercises"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitAnswer posts the answer for grading and returns the backend's feedback.
// The answer text travels in the "code" field of the payload.
func (c *Client) SubmitAnswer(ctx context.Context, sub model.AnswerSubmission) (model.FeedbackResult, error) {
	body, err := json.Marshal(submitRequest{
		UserID:   sub.UserID,
		Code:     sub.AnswerText,
		Question: sub.Question,
	})
	if err != nil {
		return model.FeedbackResult{}, &TransportError{Op: OpSubmitAnswer, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+submitPath, bytes.NewReader(body))
	if err != nil {
		return model.FeedbackResult{}, &TransportError{Op: OpSubmitAnswer, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var out submitResponse
	if err := c.do(req, OpSubmitAnswer, submitPath, &out); err != nil {
		return model.FeedbackResult{}, err
	}

	result := model.FeedbackResult{
		Feedback:     DefaultFeedback,
		NextQuestion: out.Summary,
	}
	if out.Feedback != nil {
		result.Feedback = *out.Feedback
	}
	return result, nil
}

// FetchNextQuestion asks the backend for the next question for userID.
// A response without a question yields an empty Question.
func (c *Client) FetchNextQuestion(ctx context.Context, userID string) (model.NextQuestionResult, error) {
	params := url.Values{}
	params.Set("userId", userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+questionPath+"?"+params.Encode(), nil)
	if err != nil {
		return model.NextQuestionResult{}, &TransportError{Op: OpFetchQuestion, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	var out questionResponse
	if err := c.do(req, OpFetchQuestion, questionPath, &out); err != nil {
		return model.NextQuestionResult{}, err
	}

	return model.NextQuestionResult{Question: out.Question}, nil
}

// ExecuteCode sends code to the backend runner and returns its output.
func (c *Client) ExecuteCode(ctx context.Context, run model.CodeExecution) (model.ExecutionResult, error) {
	body, err := json.Marshal(executeRequest{Language: run.Language, Code: run.Code})
	if err != nil {
		return model.ExecutionResult{}, &TransportError{Op: OpExecuteCode, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+executePath, bytes.NewReader(body))
	if err != nil {
		return model.ExecutionResult{}, &TransportError{Op: OpExecuteCode, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var out executeResponse
	if err := c.do(req, OpExecuteCode, executePath, &out); err != nil {
		return model.ExecutionResult{}, err
	}

	if out.Output == "" {
		return model.ExecutionResult{Output: DefaultOutput}, nil
	}
	return model.ExecutionResult{Output: out.Output}, nil
}

// FetchLearningObjectives asks the backend for objectives covering article.
// A response without objectives yields an empty, non-nil slice.
func (c *Client) FetchLearningObjectives(ctx context.Context, article string) (model.LearningObjectivesResult, error) {
	params := url.Values{}
	params.Set("articleContent", article)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+objectivesPath+"?"+params.Encode(), nil)
	if err != nil {
		return model.LearningObjectivesResult{}, &TransportError{Op: OpFetchObjectives, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	var out objectivesResponse
	if err := c.do(req, OpFetchObjectives, objectivesPath, &out); err != nil {
		return model.LearningObjectivesResult{}, err
	}

	objectives := out.LearningObjectives
	if objectives == nil {
		objectives = out.Exercises
	}
	if objectives == nil {
		objectives = []string{}
	}
	return model.LearningObjectivesResult{Objectives: objectives}, nil
}

// do sends req and decodes a 2xx JSON body into out. Every failure comes
// back as a *TransportError.
func (c *Client) do(req *http.Request, op Op, endpoint string, out interface{}) error {
	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	metrics.ScoringDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		return c.fail(op, endpoint, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := fmt.Errorf("%s for url: %s", resp.Status, req.URL.Redacted())
		if s := strings.TrimSpace(string(snippet)); s != "" {
			detail = fmt.Errorf("%w - %s", detail, s)
		}
		te := c.fail(op, endpoint, resp.StatusCode, detail)
		var eb errorResponse
		if json.Unmarshal(snippet, &eb) == nil {
			te.Detail = eb.Error
		}
		return te
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.fail(op, endpoint, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}

	metrics.ScoringCalls.WithLabelValues(endpoint, "ok").Inc()
	return nil
}

func (c *Client) fail(op Op, endpoint string, status int, err error) *TransportError {
	metrics.ScoringCalls.WithLabelValues(endpoint, "error").Inc()
	c.log.Warn().
		Err(err).
		Str("op", string(op)).
		Int("status", status).
		Msg("Scoring backend call failed")
	return &TransportError{Op: op, StatusCode: status, Err: err}
}
