package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"coursechat/internal/models"
)

const DefaultTimeout = 15 * time.Second

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// AuthFailure is the reason a session must be dropped.
type AuthFailure string

const (
	AuthFailureBanned       AuthFailure = "banned"
	AuthFailureAccessDenied AuthFailure = "access-denied"
)

var bannedPattern = regexp.MustCompile(`(?i)bann`)

// Error is a non-2xx response.
type Error struct {
	Status  int
	Message string
	Code    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case models.ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Failure classifies an auth error. It reports false when the session
// should be kept.
func (e *Error) Failure() (AuthFailure, bool) {
	if e.Status != http.StatusUnauthorized && e.Status != http.StatusForbidden {
		return "", false
	}
	if bannedPattern.MatchString(e.Message) {
		return AuthFailureBanned, true
	}
	if e.Status != http.StatusForbidden {
		return "", false
	}
	if bannedPattern.MatchString(e.Code) {
		return AuthFailureBanned, true
	}
	return AuthFailureAccessDenied, true
}

type Config struct {
	// BaseURL is the server root; request paths are resolved under /api.
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Token returns the current bearer token, or "" for anonymous calls.
	Token func() string
	// OnAuthFailure is called when a response means the session is over.
	OnAuthFailure func(reason AuthFailure)
}

// Client is a typed client of the course chat HTTP API.
type Client struct {
	baseURL       string
	http          *http.Client
	token         func() string
	onAuthFailure func(reason AuthFailure)
}

func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	return &Client{
		baseURL:       strings.TrimSuffix(config.BaseURL, "/"),
		http:          config.HTTPClient,
		token:         config.Token,
		onAuthFailure: config.OnAuthFailure,
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + "/api" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// do sends a JSON request and returns the raw response body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

func (c *Client) send(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.fail(resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) fail(status int, body []byte) error {
	apiErr := &Error{Status: status}
	apiErr.Message, apiErr.Code = errorText(body)

	if reason, ok := apiErr.Failure(); ok && c.onAuthFailure != nil {
		c.onAuthFailure(reason)
	}
	return apiErr
}

// errorText extracts a human readable message and an error code from an
// error body of unknown shape.
func errorText(body []byte) (message, code string) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return strings.TrimSpace(string(body)), ""
	}

	switch v := v.(type) {
	case string:
		return v, ""
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s, ""
			}
		}
	case map[string]any:
		for _, key := range []string{"message", "error", "code", "errorCode", "reason"} {
			if s, ok := v[key].(string); ok {
				message = s
				break
			}
		}
		for _, key := range []string{"code", "errorCode", "error"} {
			if s, ok := v[key].(string); ok {
				code = s
				break
			}
		}
	}
	return message, code
}

func decode[T any](data json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

func coursePath(courseID string, parts ...string) string {
	path := "/courses/" + url.PathEscape(courseID)
	for _, p := range parts {
		path += "/" + url.PathEscape(p)
	}
	return path
}

func cursorQuery(cursor string) url.Values {
	if cursor == "" {
		return nil
	}
	return url.Values{"cursor": {cursor}}
}
