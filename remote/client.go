// Package remote is the HTTP client for the library server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/stevemurr/library-sync/logging"
	"github.com/stevemurr/library-sync/metrics"
	"github.com/stevemurr/library-sync/model"
)

// Error is a non-2xx answer from the server.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: status %d", e.Status)
	}
	return fmt.Sprintf("remote: %s (status %d)", e.Message, e.Status)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Status == http.StatusNotFound
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// Client talks to the library server. Every call goes through a circuit
// breaker; reads are retried with exponential backoff, writes never are.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("remote: invalid base url %q: %w", opts.BaseURL, err)
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: hc,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		logger:     logging.OrNop(opts.Logger),
	}
	c.breaker = c.createCircuitBreaker()
	return c, nil
}

func (c *Client) createCircuitBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "library-server",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// Client errors are answers, not outages.
		IsSuccessful: func(err error) bool {
			var re *Error
			if errors.As(err, &re) {
				return re.Status < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// ---------- transport ----------

// call performs one request through the breaker. route is the path template
// used as a metrics label.
func (c *Client) call(ctx context.Context, method, route, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = b
	}

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doHTTPCall(ctx, method, path, body, out)
	})
	metrics.RemoteDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	metrics.RemoteRequests.WithLabelValues(method, route, statusLabel(err)).Inc()
	return err
}

func statusLabel(err error) string {
	var re *Error
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &re):
		return strconv.Itoa(re.Status)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return "error"
	}
}

// callWithRetry retries call with exponential backoff. Only used for reads.
func (c *Client) callWithRetry(ctx context.Context, route, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.retryDelay
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.call(ctx, http.MethodGet, route, path, nil, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(err) {
			return err
		}
		c.logger.Debug("remote read failed, retrying",
			zap.String("path", path), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Status >= 500
	}
	return true
}

func (c *Client) doHTTPCall(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		re := &Error{Status: resp.StatusCode}
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(respBody, &detail) == nil && detail.Detail != "" {
			re.Message = detail.Detail
		} else {
			re.Message = strings.TrimSpace(string(respBody))
		}
		return re
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ---------- accessor ----------

// CreateCollection creates a collection in workspace and returns its id.
func (c *Client) CreateCollection(ctx context.Context, workspace string, draft model.CollectionDraft) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	path := "/workspaces/" + url.PathEscape(workspace) + "/collections"
	if err := c.call(ctx, http.MethodPost, "/workspaces/{workspace}/collections", path, draft, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("remote: create collection: empty id in response")
	}
	return resp.ID, nil
}

// GetCollections lists the collections of workspace.
func (c *Client) GetCollections(ctx context.Context, workspace string) ([]model.Collection, error) {
	var cs []model.Collection
	path := "/workspaces/" + url.PathEscape(workspace) + "/collections"
	if err := c.callWithRetry(ctx, "/workspaces/{workspace}/collections", path, &cs); err != nil {
		return nil, err
	}
	if cs == nil {
		cs = []model.Collection{}
	}
	return cs, nil
}

// GetCollectionMembers lists the member ids of a collection.
func (c *Client) GetCollectionMembers(ctx context.Context, collectionID string) ([]string, error) {
	var ids []string
	path := "/collections/" + url.PathEscape(collectionID) + "/members"
	if err := c.callWithRetry(ctx, "/collections/{id}/members", path, &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

type membersRequest struct {
	IDs []string `json:"ids"`
}

// AddMembers adds ids to a collection.
func (c *Client) AddMembers(ctx context.Context, collectionID string, ids []string) error {
	path := "/collections/" + url.PathEscape(collectionID) + "/members"
	return c.call(ctx, http.MethodPost, "/collections/{id}/members", path, membersRequest{IDs: ids}, nil)
}

// RemoveMembers removes ids from a collection.
func (c *Client) RemoveMembers(ctx context.Context, collectionID string, ids []string) error {
	path := "/collections/" + url.PathEscape(collectionID) + "/members/remove"
	return c.call(ctx, http.MethodPost, "/collections/{id}/members/remove", path, membersRequest{IDs: ids}, nil)
}

// UpdateCollection applies patch to a collection.
func (c *Client) UpdateCollection(ctx context.Context, id string, patch model.CollectionPatch) error {
	path := "/collections/" + url.PathEscape(id)
	return c.call(ctx, http.MethodPut, "/collections/{id}", path, patch, nil)
}

// DeleteCollection deletes a collection and its membership.
func (c *Client) DeleteCollection(ctx context.Context, id string) error {
	path := "/collections/" + url.PathEscape(id)
	return c.call(ctx, http.MethodDelete, "/collections/{id}", path, nil, nil)
}
