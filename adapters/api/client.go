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
	"strings"
	"time"

	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
)

// DefaultTimeout bounds every request made by the client.
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps response codes onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return core.ErrInvalidRequest
	case http.StatusUnauthorized:
		return core.ErrTokenExpired
	case http.StatusForbidden:
		if strings.Contains(strings.ToLower(e.Message), "token") {
			return core.ErrInvalidToken
		}
		return core.ErrForbidden
	case http.StatusConflict:
		return core.ErrUserExists
	}
	return nil
}

// Client talks to the xcafe REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var (
	_ ports.AuthService   = (*Client)(nil)
	_ ports.UserStore     = (*Client)(nil)
	_ ports.WidgetService = (*Client)(nil)
)

// NewClient creates a client for the API rooted at baseURL,
// e.g. http://localhost:3000/api.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Verify wraps POST /auth/verify. A rejected sign-in is returned as a
// result with Success false, not as an error.
func (c *Client) Verify(ctx context.Context, req core.VerifyRequest) (*core.VerifyResult, error) {
	var out core.VerifyResult
	err := c.do(ctx, http.MethodPost, "/auth/verify", "", req, &out)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		return &core.VerifyResult{Success: false, Error: apiErr.Message}, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Setup wraps POST /system/setup.
func (c *Client) Setup(ctx context.Context, token string, req core.SetupRequest) (*core.SetupResult, error) {
	var out core.SetupResult
	if err := c.do(ctx, http.MethodPost, "/system/setup", token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status wraps GET /system/status.
func (c *Client) Status(ctx context.Context) (*core.SystemStatus, error) {
	var out core.SystemStatus
	if err := c.do(ctx, http.MethodGet, "/system/status", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type userResponse struct {
	Success bool       `json:"success"`
	User    *core.User `json:"user"`
}

func (c *Client) GetUser(ctx context.Context, address string) (*core.User, error) {
	var out userResponse
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(address), "", nil, &out)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", core.ErrUserNotFound, address)
	}
	if err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) CreateUser(ctx context.Context, user *core.User) (*core.User, error) {
	var out userResponse
	if err := c.do(ctx, http.MethodPost, "/users", "", user, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) UpdateUser(ctx context.Context, address string, update core.UserUpdate) (*core.User, error) {
	var out userResponse
	err := c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(address), "", update, &out)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", core.ErrUserNotFound, address)
	}
	if err != nil {
		return nil, err
	}
	return out.User, nil
}

type widgetResponse struct {
	Success bool           `json:"success"`
	Widget  *core.Widget   `json:"widget,omitempty"`
	Widgets []*core.Widget `json:"widgets,omitempty"`
}

func (c *Client) ListWidgets(ctx context.Context, token string) ([]*core.Widget, error) {
	var out widgetResponse
	if err := c.do(ctx, http.MethodGet, "/widgets", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Widgets, nil
}

func (c *Client) CreateWidget(ctx context.Context, token string, input core.WidgetInput) (*core.Widget, error) {
	var out widgetResponse
	if err := c.do(ctx, http.MethodPost, "/widgets", token, input, &out); err != nil {
		return nil, err
	}
	return out.Widget, nil
}

func (c *Client) GetWidget(ctx context.Context, token, id string) (*core.Widget, error) {
	var out widgetResponse
	err := c.do(ctx, http.MethodGet, "/widgets/"+url.PathEscape(id), token, nil, &out)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", core.ErrWidgetNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return out.Widget, nil
}

func (c *Client) UpdateWidget(ctx context.Context, token, id string, input core.WidgetInput) (*core.Widget, error) {
	var out widgetResponse
	err := c.do(ctx, http.MethodPut, "/widgets/"+url.PathEscape(id), token, input, &out)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", core.ErrWidgetNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return out.Widget, nil
}

func (c *Client) DeleteWidget(ctx context.Context, token, id string) error {
	err := c.do(ctx, http.MethodDelete, "/widgets/"+url.PathEscape(id), token, nil, nil)
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", core.ErrWidgetNotFound, id)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
