package genai

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

	"veostudio/internal/infra"
)

const (
	defaultBaseURL  = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel    = "veo-2.0-generate-001"
	defaultMimeType = "video/mp4"

	redactedKey = "REDACTED"
)

// Options controls how the Gemini client is configured.
type Options struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client talks to the long-running Veo endpoints of the Gemini API. It never
// holds an API key: every call receives the credential explicitly so that a
// key entered by one user is scoped to that user's request.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// VideoRequest represents the information required to start a video job.
type VideoRequest struct {
	Prompt      string
	SampleCount int
	RequestID   string
}

// Operation is the job handle returned by predictLongRunning and refreshed
// by polling operations/{name}.
type Operation struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done"`
	Response *OperationResponse `json:"response,omitempty"`
	Error    *OperationError    `json:"error,omitempty"`
}

type OperationResponse struct {
	GenerateVideoResponse *GenerateVideoResponse `json:"generateVideoResponse,omitempty"`
}

type GenerateVideoResponse struct {
	GeneratedSamples []GeneratedSample `json:"generatedSamples,omitempty"`
}

type GeneratedSample struct {
	Video *VideoFile `json:"video,omitempty"`
}

type VideoFile struct {
	URI string `json:"uri,omitempty"`
}

type OperationError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

// VideoURI returns the delivery locator of the first generated video, or ""
// when the response carries none.
func (o *Operation) VideoURI() string {
	if o == nil || o.Response == nil || o.Response.GenerateVideoResponse == nil {
		return ""
	}
	samples := o.Response.GenerateVideoResponse.GeneratedSamples
	if len(samples) == 0 || samples[0].Video == nil {
		return ""
	}
	return strings.TrimSpace(samples[0].Video.URI)
}

// Download is a fetched video payload.
type Download struct {
	Data     []byte
	MimeType string
}

// StatusError reports a non-2xx response from the API or the file host.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = http.StatusText(e.StatusCode)
	}
	if e.Body == "" {
		return fmt.Sprintf("status %d %s", e.StatusCode, status)
	}
	return fmt.Sprintf("status %d %s - %s", e.StatusCode, status, e.Body)
}

type predictRequest struct {
	Instances  []predictInstance  `json:"instances"`
	Parameters *predictParameters `json:"parameters,omitempty"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	SampleCount int `json:"sampleCount,omitempty"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("genai: invalid base url: %w", err)
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	return &Client{
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     infra.OrDiscard(opts.Logger),
	}, nil
}

// Model returns the configured Veo model identifier.
func (c *Client) Model() string {
	return c.model
}

// SubmitVideo starts a video generation job.
func (c *Client) SubmitVideo(ctx context.Context, credential string, req VideoRequest) (*Operation, error) {
	count := req.SampleCount
	if count <= 0 {
		count = 1
	}
	payload := predictRequest{
		Instances:  []predictInstance{{Prompt: req.Prompt}},
		Parameters: &predictParameters{SampleCount: count},
	}

	var op Operation
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(c.model))
	if err := c.invokeGemini(ctx, http.MethodPost, path, credential, payload, &op); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.model).
		Str("operation", op.Name).
		Bool("done", op.Done).
		Msg("genai: video operation started")

	return &op, nil
}

// PollOperation fetches the latest state of op.
func (c *Client) PollOperation(ctx context.Context, credential string, op *Operation) (*Operation, error) {
	if op == nil || strings.TrimSpace(op.Name) == "" {
		return nil, errors.New("genai: operation name is required")
	}

	var refreshed Operation
	path := "/" + strings.TrimLeft(op.Name, "/")
	if err := c.invokeGemini(ctx, http.MethodGet, path, credential, nil, &refreshed); err != nil {
		return nil, err
	}
	if refreshed.Name == "" {
		refreshed.Name = op.Name
	}

	c.logger.Debug().
		Str("operation", refreshed.Name).
		Bool("done", refreshed.Done).
		Msg("genai: video operation polled")

	return &refreshed, nil
}

// Download fetches the bytes behind a delivery locator, authenticating with
// the credential in the query string.
func (c *Client) Download(ctx context.Context, credential, locator string) (*Download, error) {
	target := locator
	if !strings.HasPrefix(locator, "http://") && !strings.HasPrefix(locator, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(locator, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, DownloadURL(target, credential), nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", redact(err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
			Body:       strings.TrimSpace(string(data)),
		}
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || strings.HasPrefix(mime, "application/octet-stream") {
		mime = defaultMimeType
	}

	c.logger.Debug().
		Int("bytes", len(blob)).
		Str("mime", mime).
		Msg("genai: video downloaded")

	return &Download{Data: blob, MimeType: mime}, nil
}

// DownloadURL appends the credential to a delivery locator. Veo locators
// already carry a query string, so the key is normally joined with '&'.
func DownloadURL(locator, credential string) string {
	sep := "&"
	if !strings.Contains(locator, "?") {
		sep = "?"
	}
	return locator + sep + "key=" + url.QueryEscape(credential)
}

func (c *Client) invokeGemini(ctx context.Context, method, path, credential string, payload any, out any) error {
	endpoint := c.baseURL + path

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	if credential != "" {
		q.Set("key", credential)
	}
	req.URL.RawQuery = q.Encode()
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		statusErr := &StatusError{StatusCode: resp.StatusCode, Status: statusText(resp)}
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			statusErr.Body = apiErr.Error.Message
		} else {
			statusErr.Body = strings.TrimSpace(string(data))
		}
		return fmt.Errorf("gemini %w", statusErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

// statusText trims the numeric prefix net/http puts in Response.Status.
func statusText(resp *http.Response) string {
	status := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)))
	if status == "" {
		status = http.StatusText(resp.StatusCode)
	}
	return status
}

// redact rewrites the URL carried by transport errors so the key query
// parameter never reaches logs or user-facing messages.
func redact(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	return &url.Error{Op: uerr.Op, URL: redactURL(uerr.URL), Err: uerr.Err}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[redacted url]"
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", redactedKey)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
