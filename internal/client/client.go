// Package client talks to the take endpoints on behalf of one student and one
// exam. It implements attempt.Transport and attempt.PushSource.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stemsi/hourglass/internal/model"
)

const (
	DefaultCSRFCookie = "csrf_token"
	CSRFHeader        = "X-CSRF-Token"
	defaultTimeout    = 30 * time.Second
)

// ErrForbidden is returned for HTTP 403 outside the snapshot task.
var ErrForbidden = errors.New("forbidden")

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrForbidden && e.StatusCode == http.StatusForbidden
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type Options struct {
	BaseURL    string
	ExamID     string
	Token      string
	CSRFCookie string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client is bound to one exam. It keeps cookies across calls so the forgery
// protection token issued by ExamInfo is echoed on every mutating request.
type Client struct {
	base       *url.URL
	examID     string
	token      string
	csrfCookie string
	http       *http.Client
	log        zerolog.Logger
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", opts.BaseURL)
	}
	if opts.ExamID == "" {
		return nil, errors.New("exam id is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	csrf := opts.CSRFCookie
	if csrf == "" {
		csrf = DefaultCSRFCookie
	}
	logger := log.With().Str("component", "take_client").Logger()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "take_client").Logger()
	}

	return &Client{
		base:       base,
		examID:     opts.ExamID,
		token:      opts.Token,
		csrfCookie: csrf,
		http:       httpClient,
		log:        logger.With().Str("exam_id", opts.ExamID).Logger(),
	}, nil
}

func (c *Client) examPath(suffix string) string {
	return "/api/student/exams/" + url.PathEscape(c.examID) + suffix
}

// ExamInfo fetches the exam's name, window and lockdown policies. It also
// collects the forgery protection cookie, so call it before anything else.
func (c *Client) ExamInfo(ctx context.Context) (*model.ExamInfo, error) {
	var info model.ExamInfo
	if err := c.do(ctx, http.MethodGet, c.examPath(""), nil, &info); err != nil {
		return nil, fmt.Errorf("exam info: %w", err)
	}
	return &info, nil
}

func (c *Client) Start(ctx context.Context) (*model.StartResponse, error) {
	var resp model.StartResponse
	if err := c.take(ctx, model.TakeRequest{Task: model.TaskStart}, &resp); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	return &resp, nil
}

// Snapshot reports a 403 as a lockout.
func (c *Client) Snapshot(ctx context.Context, answers model.AnswersState, lastMessageID int64) (*model.SnapshotResponse, error) {
	raw, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}
	msg := json.RawMessage(raw)

	var resp model.SnapshotResponse
	err = c.take(ctx, model.TakeRequest{Task: model.TaskSnapshot, Answers: &msg, LastMessageID: lastMessageID}, &resp)
	if errors.Is(err, ErrForbidden) {
		c.log.Warn().Err(err).Msg("Snapshot rejected, treating as lockout")
		return &model.SnapshotResponse{Lockout: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &resp, nil
}

func (c *Client) Submit(ctx context.Context, answers model.AnswersState) error {
	raw, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	msg := json.RawMessage(raw)
	if err := c.take(ctx, model.TakeRequest{Task: model.TaskSubmit, Answers: &msg}, nil); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

// AskQuestion fails when the server answers {success:false}.
func (c *Client) AskQuestion(ctx context.Context, body string) error {
	var resp model.QuestionResponse
	req := model.TakeRequest{Task: model.TaskQuestion, Question: &model.QuestionBody{Body: body}}
	if err := c.take(ctx, req, &resp); err != nil {
		return fmt.Errorf("question: %w", err)
	}
	if !resp.Success {
		return errors.New("question: server did not accept the question")
	}
	return nil
}

func (c *Client) ReportAnomaly(ctx context.Context, reason string) error {
	if err := c.do(ctx, http.MethodPost, c.examPath("/anomaly"), model.AnomalyRequest{Reason: reason}, nil); err != nil {
		return fmt.Errorf("anomaly: %w", err)
	}
	return nil
}

func (c *Client) take(ctx context.Context, req model.TakeRequest, out interface{}) error {
	return c.do(ctx, http.MethodPost, c.examPath("/take"), req, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	target := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if method != http.MethodGet {
		if token := c.csrfToken(); token != "" {
			req.Header.Set(CSRFHeader, token)
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{StatusCode: res.StatusCode}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func (c *Client) csrfToken() string {
	for _, cookie := range c.http.Jar.Cookies(c.base) {
		if cookie.Name == c.csrfCookie {
			return cookie.Value
		}
	}
	return ""
}
