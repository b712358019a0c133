// Package provider is the HTTP client for the external z-image generation API and
// the wire types it shares with the completion webhook.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nadmax/imagegen/internal/metrics"
	"github.com/nadmax/imagegen/internal/task"
)

const (
	Model = "z-image"

	DefaultBaseURL = "https://api.kie.ai"
	DefaultTimeout = 30 * time.Second

	createPath = "/api/v1/jobs/createTask"
	statusPath = "/api/v1/jobs/recordInfo"

	maxErrorBody = 4 << 10
)

var ErrProvider = errors.New("provider error")

// ProviderError is returned for any failed or unexpected provider response.
type ProviderError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("provider %s: API error: %d - %s", e.Op, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("provider %s: %s", e.Op, e.Body)
	}
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

type Client struct {
	baseURL     string
	token       string
	callbackURL string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithCallbackURL(u string) Option {
	return func(c *Client) {
		c.callbackURL = u
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

type createRequest struct {
	Model       string      `json:"model"`
	Input       createInput `json:"input"`
	CallBackURL string      `json:"callBackUrl,omitempty"`
}

type createInput struct {
	Prompt      string           `json:"prompt"`
	AspectRatio task.AspectRatio `json:"aspect_ratio"`
}

// CreateTask submits a generation job and returns the provider task id.
func (c *Client) CreateTask(ctx context.Context, prompt string, ratio task.AspectRatio) (string, error) {
	start := time.Now()
	id, err := c.createTask(ctx, prompt, ratio)
	metrics.RecordProviderRequest("create", err, time.Since(start))

	return id, err
}

func (c *Client) createTask(ctx context.Context, prompt string, ratio task.AspectRatio) (string, error) {
	body, err := json.Marshal(createRequest{
		Model:       Model,
		Input:       createInput{Prompt: prompt, AspectRatio: ratio},
		CallBackURL: c.callbackURL,
	})
	if err != nil {
		return "", &ProviderError{Op: "create", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+createPath, bytes.NewReader(body))
	if err != nil {
		return "", &ProviderError{Op: "create", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := c.do(req, "create")
	if err != nil {
		return "", err
	}

	var env createEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", &ProviderError{Op: "create", Err: fmt.Errorf("invalid response: %w", err)}
	}
	if env.Code != http.StatusOK {
		return "", &ProviderError{Op: "create", Body: fmt.Sprintf("unexpected code %d: %s", env.Code, env.Msg)}
	}
	if env.Data == nil || env.Data.TaskID == "" {
		return "", &ProviderError{Op: "create", Body: "response missing data.taskId"}
	}

	return env.Data.TaskID, nil
}

// GetTaskStatus fetches the current state of a provider job.
func (c *Client) GetTaskStatus(ctx context.Context, providerTaskID string) (*StatusReport, error) {
	start := time.Now()
	report, err := c.getTaskStatus(ctx, providerTaskID)
	metrics.RecordProviderRequest("status", err, time.Since(start))

	return report, err
}

func (c *Client) getTaskStatus(ctx context.Context, providerTaskID string) (*StatusReport, error) {
	u := c.baseURL + statusPath + "?" + url.Values{"taskId": {providerTaskID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &ProviderError{Op: "status", Err: err}
	}

	data, err := c.do(req, "status")
	if err != nil {
		return nil, err
	}

	env, err := decodeStatusEnvelope(data)
	if err != nil {
		return nil, &ProviderError{Op: "status", Err: err}
	}
	if *env.Code != http.StatusOK {
		return nil, &ProviderError{Op: "status", Body: fmt.Sprintf("unexpected code %d: %s", *env.Code, *env.Msg)}
	}

	return env.Data, nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ProviderError{Op: op, StatusCode: resp.StatusCode, Body: string(text)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Op: op, Err: err}
	}

	return data, nil
}
