// Package fanbox reads a creator's posts from the fanbox API using a
// browser session cookie.
package fanbox

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pixivdl/pkg/apiclient"
	"pixivdl/pkg/config"
	"pixivdl/pkg/logger"
	"pixivdl/pkg/ratelimit"
	"pixivdl/pkg/retry"
)

const (
	DefaultBaseURL   = "https://api.fanbox.cc"
	DefaultOrigin    = "https://www.fanbox.cc"
	DefaultReferer   = "https://www.fanbox.cc/"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultLimit     = 10

	ListEndpoint = "/post.listCreator"
	InfoEndpoint = "/post.info"

	sessionCookie = "FANBOXSESSID"
)

// Client talks to api.fanbox.cc
type Client struct {
	api    *apiclient.Client
	limit  int
	logger logger.Logger
}

// Options carries the collaborators of a Client
type Options struct {
	HTTPClient *http.Client
	Retry      *retry.Config
	Limiter    ratelimit.Limiter
	Timeout    time.Duration
	Logger     logger.Logger
}

// NewClient creates a client for cfg
func NewClient(cfg config.FanboxConfig, opts Options) *Client {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	log := logger.OrGlobal(opts.Logger).WithField("component", "fanbox")
	headers := map[string]string{"Origin": DefaultOrigin}
	for k, v := range DownloadHeader(cfg) {
		headers[k] = v[0]
	}

	return &Client{
		api: apiclient.NewClient(apiclient.Options{
			BaseURL:    baseURL,
			Headers:    headers,
			Timeout:    opts.Timeout,
			HTTPClient: opts.HTTPClient,
			Retry:      opts.Retry,
			Limiter:    opts.Limiter,
			Logger:     log,
		}),
		limit:  limit,
		logger: log,
	}
}

// DownloadHeader returns the headers file downloads from fanbox need
func DownloadHeader(cfg config.FanboxConfig) http.Header {
	referer := cfg.Referer
	if referer == "" {
		referer = DefaultReferer
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := http.Header{}
	h.Set("Cookie", SessionCookie(cfg.SessionID))
	h.Set("Referer", referer)
	h.Set("User-Agent", userAgent)
	return h
}

// SessionCookie accepts either the bare session id or a full cookie string
func SessionCookie(session string) string {
	session = strings.TrimSpace(session)
	if session == "" || strings.Contains(session, "=") {
		return session
	}
	return sessionCookie + "=" + session
}

func (c *Client) listCreator(ctx context.Context, query url.Values) (*listResponse, error) {
	var resp listResponse
	if err := c.api.GetJSON(ctx, ListEndpoint, query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) firstPageQuery(creatorID string) url.Values {
	return url.Values{
		"creatorId": {creatorID},
		"limit":     {strconv.Itoa(c.limit)},
	}
}

func (c *Client) postInfo(ctx context.Context, postID string) (*infoResponse, error) {
	var resp infoResponse
	if err := c.api.GetJSON(ctx, InfoEndpoint, url.Values{"postId": {postID}}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
