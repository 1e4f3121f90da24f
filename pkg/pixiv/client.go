// Package pixiv reads illustration feeds from the pixiv app API.
package pixiv

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"time"

	"pixivdl/pkg/apiclient"
	"pixivdl/pkg/config"
	errs "pixivdl/pkg/errors"
	"pixivdl/pkg/logger"
	"pixivdl/pkg/ratelimit"
	"pixivdl/pkg/retry"
)

const (
	// DefaultBaseURL is the app API host
	DefaultBaseURL = "https://app-api.pixiv.net"
	// DefaultUserAgent mimics the Android client the API expects
	DefaultUserAgent = "PixivAndroidApp/5.0.234 (Android 11; Pixel 5)"

	BookmarksEndpoint = "/v1/user/bookmarks/illust"
	WorksEndpoint     = "/v1/user/illusts"
	UgoiraEndpoint    = "/v1/ugoira/metadata"
)

// Client is an authenticated pixiv app API client. The access token is
// obtained outside this package.
type Client struct {
	api    *apiclient.Client
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
func NewClient(cfg config.PixivConfig, opts Options) *Client {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	referer := cfg.Referer
	if referer == "" {
		referer = DefaultBaseURL + "/"
	}

	log := logger.OrGlobal(opts.Logger).WithField("component", "pixiv")
	return &Client{
		api: apiclient.NewClient(apiclient.Options{
			BaseURL: baseURL,
			Headers: map[string]string{
				"Authorization":   "Bearer " + cfg.AccessToken,
				"User-Agent":      userAgent,
				"Referer":         referer,
				"App-OS":          "android",
				"Accept-Language": "en-us",
			},
			Timeout:    opts.Timeout,
			HTTPClient: opts.HTTPClient,
			Retry:      opts.Retry,
			Limiter:    opts.Limiter,
			Classify:   classify,
			Logger:     log,
		}),
		logger: log,
	}
}

// classify recognises the OAuth failures pixiv reports with status 400
func classify(status int, body []byte) error {
	if status == http.StatusBadRequest &&
		(bytes.Contains(body, []byte("invalid_grant")) || bytes.Contains(body, []byte("OAuth"))) {
		return errs.Auth(status, "access token rejected")
	}
	return nil
}

func (c *Client) illusts(ctx context.Context, endpoint string, query url.Values) (*illustPage, error) {
	var page illustPage
	if err := c.api.GetJSON(ctx, endpoint, query, &page); err != nil {
		return nil, err
	}
	if page.Illusts == nil {
		return nil, errs.New(errs.ErrorTypeParsing, "feed page has no illusts field")
	}
	return &page, nil
}

func (c *Client) ugoiraMetadata(ctx context.Context, illustID string) (*ugoiraMetadata, error) {
	var resp ugoiraResponse
	if err := c.api.GetJSON(ctx, UgoiraEndpoint, url.Values{"illust_id": {illustID}}, &resp); err != nil {
		return nil, err
	}
	return &resp.Metadata, nil
}
