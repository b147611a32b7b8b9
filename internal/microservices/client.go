package microservices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/retry"
)

// ErrServiceStatus is wrapped by errors for non-2xx service responses.
var ErrServiceStatus = errors.New("microservices: unexpected status")

// StatusError carries the HTTP status of a failed call.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("Service returned status %d", e.Code) }

func (e *StatusError) Unwrap() error { return ErrServiceStatus }

const healthTimeout = 5 * time.Second

// Client posts work to analysis services. All calls share one rate limiter.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	logger  *slog.Logger
}

// NewClient limits outbound calls to perSecond (<=0 disables the limit) and
// retries transient failures up to retries extra times.
func NewClient(perSecond float64, retries int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(int(perSecond), 1)
	}
	policy := retry.DefaultPolicy()
	policy.Attempts = max(retries, 0) + 1
	return &Client{
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		policy:  policy,
		logger:  logger,
	}
}

// serviceResponse is the part of a service answer the pipeline consumes.
type serviceResponse struct {
	Findings []finding.Raw `json:"findings"`
}

// Call posts body to ep and decodes the findings it reports.
func (c *Client) Call(ctx context.Context, ep Endpoint, body any) ([]finding.Raw, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", ep.Service, err)
	}
	if ep.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
	}

	var out serviceResponse
	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(ep.URL, ep.Path), bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			statusErr := &StatusError{Code: resp.StatusCode}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return statusErr
			}
			return retry.Permanent(statusErr)
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return retry.Permanent(fmt.Errorf("decode %s response: %w", ep.Service, err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Findings, nil
}

// HealthStatus values.
const (
	Healthy     = "healthy"
	Unhealthy   = "unhealthy"
	Unavailable = "unavailable"
)

// Health is the observed state of one service.
type Health struct {
	Status      string `json:"status"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Check probes GET <url>/health with a short timeout.
func (c *Client) Check(ctx context.Context, ep Endpoint) Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	h := Health{URL: ep.URL}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(ep.URL, "/health"), nil)
	if err != nil {
		h.Status, h.Error = Unavailable, err.Error()
		return h
	}
	resp, err := c.http.Do(req)
	if err != nil {
		h.Status, h.Error = Unavailable, err.Error()
		return h
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		h.Status, h.Error = Unhealthy, fmt.Sprintf("HTTP %d", resp.StatusCode)
		return h
	}
	h.Status, h.Description = Healthy, ep.Description
	return h
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
