package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eventhub/partner-portal/internal/domain"
)

// APIError is returned for any non-2xx answer from the external API.
type APIError struct {
	Message          string
	Status           int
	ValidationErrors map[string]string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client is the authenticated request helper for the external API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// New creates a client without credentials.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// WithToken returns a copy that sends the bearer token on every request.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

type errorBody struct {
	Message string `json:"message"`
	Errors  []struct {
		Path    string `json:"path"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Do sends a JSON request and decodes a JSON response into out when non-nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &APIError{Message: err.Error(), Status: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func decodeError(status int, raw []byte) *APIError {
	apiErr := &APIError{Status: status}

	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		apiErr.Message = eb.Message
		for _, fe := range eb.Errors {
			if fe.Path == "" || fe.Message == "" {
				continue
			}
			if apiErr.ValidationErrors == nil {
				apiErr.ValidationErrors = make(map[string]string)
			}
			apiErr.ValidationErrors[fe.Path] = fe.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	if apiErr.Message == "" {
		apiErr.Message = "An error occurred"
	}
	return apiErr
}

var (
	_ domain.ChatAPI         = (*Client)(nil)
	_ domain.NotificationAPI = (*Client)(nil)
)
