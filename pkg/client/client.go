package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/commitment-engine/internal/models"
)

// Client is a Go SDK for the commitment-engine API
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new commitment-engine client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dialer: websocket.DefaultDialer,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is an error envelope returned by the server
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s - %s", e.Code, e.Message)
}

// HasCode reports whether err is an APIError with the given code
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Error codes returned by the server
const (
	CodeNotFound              = "not_found"
	CodeValidation            = "validation_error"
	CodeAlreadyComplete       = "already_complete"
	CodeAlreadyCompletedToday = "already_completed_today"
)

// CreateCommitmentRequest represents a commitment creation request
type CreateCommitmentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Timeframe   int    `json:"timeframe"`
	ImageID     string `json:"image_id"`
}

// Completion is the result of completing today's regions
type Completion struct {
	CommitmentID string                  `json:"commitment_id"`
	State        string                  `json:"state"`
	Day          int                     `json:"day"`
	Date         string                  `json:"date"`
	Entries      []*models.ProgressEntry `json:"entries"`
	Completed    bool                    `json:"completed"`
	Remaining    int                     `json:"remaining"`
}

// Event is a message from the progress feed
type Event struct {
	Type         string                  `json:"type"`
	CommitmentID string                  `json:"commitment_id"`
	Day          int                     `json:"day"`
	Date         string                  `json:"date"`
	Entries      []*models.ProgressEntry `json:"entries"`
	Completed    bool                    `json:"completed"`
	Remaining    int                     `json:"remaining"`
}

// ListOptions contains options for listing commitments
type ListOptions struct {
	Status string
	Limit  int
	Offset int
}

type envelope[T any] struct {
	Success bool      `json:"success"`
	Data    T         `json:"data"`
	Error   *APIError `json:"error"`
}

// CreateCommitment creates a new commitment
func (c *Client) CreateCommitment(ctx context.Context, req CreateCommitmentRequest) (*models.Commitment, error) {
	body, err := json.Marshal(map[string]CreateCommitmentRequest{"commitment": req})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return call[*models.Commitment](ctx, c, http.MethodPost, "/commitments", bytes.NewReader(body))
}

// GetCommitment retrieves a commitment by ID
func (c *Client) GetCommitment(ctx context.Context, id string) (*models.Commitment, error) {
	return call[*models.Commitment](ctx, c, http.MethodGet, "/commitments/"+url.PathEscape(id), nil)
}

// ListCommitments lists commitments, newest first
func (c *Client) ListCommitments(ctx context.Context, opts ListOptions) ([]*models.Commitment, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/commitments"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	data, err := call[struct {
		Commitments []*models.Commitment `json:"commitments"`
		Total       int                  `json:"total"`
	}](ctx, c, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return data.Commitments, nil
}

// ListEntries returns the progress entries of a commitment ordered by day
func (c *Client) ListEntries(ctx context.Context, commitmentID string) ([]*models.ProgressEntry, error) {
	data, err := call[struct {
		Entries []*models.ProgressEntry `json:"entries"`
		Total   int                     `json:"total"`
	}](ctx, c, http.MethodGet, "/commitments/"+url.PathEscape(commitmentID)+"/progress_entries", nil)
	if err != nil {
		return nil, err
	}
	return data.Entries, nil
}

// CompleteToday records today's regions for a commitment
func (c *Client) CompleteToday(ctx context.Context, commitmentID string) (*Completion, error) {
	return call[*Completion](ctx, c, http.MethodPost, "/commitments/"+url.PathEscape(commitmentID)+"/progress_entries", nil)
}

// Progress returns the progress summary of a commitment
func (c *Client) Progress(ctx context.Context, commitmentID string) (*models.ProgressSummary, error) {
	return call[*models.ProgressSummary](ctx, c, http.MethodGet, "/commitments/"+url.PathEscape(commitmentID)+"/progress", nil)
}

// ListImages retrieves the image catalog
func (c *Client) ListImages(ctx context.Context) ([]models.ImageResponse, error) {
	data, err := call[struct {
		Images []models.ImageResponse `json:"images"`
		Total  int                    `json:"total"`
	}](ctx, c, http.MethodGet, "/images", nil)
	if err != nil {
		return nil, err
	}
	return data.Images, nil
}

// GetImage retrieves one image with its region colors
func (c *Client) GetImage(ctx context.Context, id string) (*models.ImageResponse, error) {
	return call[*models.ImageResponse](ctx, c, http.MethodGet, "/images/"+url.PathEscape(id), nil)
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err
}

// Watch streams progress feed events for a commitment until ctx is done or the connection drops
func (c *Client) Watch(ctx context.Context, commitmentID string, fn func(Event)) error {
	u, err := url.Parse(c.baseURL + "/commitments/" + url.PathEscape(commitmentID) + "/events")
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &APIError{Status: resp.StatusCode, Code: CodeNotFound, Message: "commitment not found"}
		}
		return fmt.Errorf("failed to open progress feed: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("progress feed closed: %w", err)
		}
		fn(ev)
	}
}

// call performs a request and unwraps the response envelope
func call[T any](ctx context.Context, c *Client, method, path string, body io.Reader) (T, error) {
	var zero T

	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return zero, err
	}

	var result envelope[T]
	if err := json.Unmarshal(resp, &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		if result.Error != nil {
			return zero, result.Error
		}
		return zero, fmt.Errorf("API error: unsuccessful response")
	}

	return result.Data, nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var result envelope[json.RawMessage]
		if err := json.Unmarshal(respBody, &result); err == nil && result.Error != nil {
			result.Error.Status = resp.StatusCode
			return nil, result.Error
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
