// Package apiclient is the JSON-over-HTTP client shared by the remote
// feeds. It adds the configured headers, waits on a rate limiter, retries
// transient failures and maps HTTP statuses to typed errors.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "pixivdl/pkg/errors"
	"pixivdl/pkg/logger"
	"pixivdl/pkg/ratelimit"
	"pixivdl/pkg/retry"
)

// maxErrorBody bounds how much of a failed response is read for
// classification
const maxErrorBody = 64 * 1024

// Classifier turns a non-2xx response into an error. Returning nil falls
// back to the default mapping.
type Classifier func(status int, body []byte) error

// Options configures a Client
type Options struct {
	BaseURL    string
	Headers    map[string]string
	Timeout    time.Duration
	HTTPClient *http.Client
	Retry      *retry.Config
	Limiter    ratelimit.Limiter
	Classify   Classifier
	Logger     logger.Logger
}

// Client is safe for concurrent use once configured
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	retry      *retry.Config
	limiter    ratelimit.Limiter
	classify   Classifier
	logger     logger.Logger
}

// NewClient creates a new API client
func NewClient(opts Options) *Client {
	log := logger.OrGlobal(opts.Logger)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	rc := opts.Retry
	if rc == nil {
		rc = retry.DefaultConfig()
	}
	cfg := *rc
	cfg.RetryIf = retry.TransientAPI
	if cfg.Logger == nil {
		cfg.Logger = log
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	headers := map[string]string{
		"Accept": "application/json, text/plain, */*",
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &Client{
		httpClient: httpClient,
		headers:    headers,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		retry:      &cfg,
		limiter:    limiter,
		classify:   opts.Classify,
		logger:     log,
	}
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// URL joins endpoint to the base URL and appends query. An absolute
// endpoint is used as is.
func (c *Client) URL(endpoint string, query url.Values) string {
	u := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		u = c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + query.Encode()
	}
	return u
}

// GetJSON performs a GET request and decodes the JSON response into
// target, retrying transport failures, 429 and 5xx
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, target interface{}) error {
	u := c.URL(endpoint, query)
	return retry.Do(ctx, func(ctx context.Context) error {
		return c.getJSON(ctx, u, target)
	}, c.retry)
}

func (c *Client) getJSON(ctx context.Context, u string, target interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, err, "failed to create request")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.WithError(err).WarnWithFields("HTTP request failed", map[string]interface{}{
			"method": req.Method,
			"url":    u,
		})
		return errs.Transport(err)
	}
	defer resp.Body.Close()
	logger.LogRequest(c.logger, req.Method, u, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return c.checkResponseStatus(resp.StatusCode, u, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Transport(fmt.Errorf("failed to read response body: %w", err))
	}

	if err := json.Unmarshal(body, target); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          u,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return errs.Wrap(errs.ErrorTypeParsing, err, "failed to parse JSON")
	}
	return nil
}

// checkResponseStatus maps a failed response to a typed error
func (c *Client) checkResponseStatus(status int, u string, body []byte) error {
	if c.classify != nil {
		if err := c.classify(status, body); err != nil {
			return err
		}
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.WarnWithFields("authentication error", map[string]interface{}{
			"status": status,
			"url":    u,
		})
		return errs.Auth(status, "authentication rejected")
	case http.StatusNotFound:
		return &errs.Error{Type: errs.ErrorTypeNotFound, Message: "resource not found: " + u, Code: status}
	case http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", map[string]interface{}{
			"url": u,
		})
		return &errs.Error{Type: errs.ErrorTypeRateLimit, Message: "rate limit exceeded", Code: status}
	default:
		return errs.HTTPStatus(status, u)
	}
}
