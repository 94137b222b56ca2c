// Package linkedin talks to LinkedIn's OAuth endpoints and content
// publishing REST API.
package linkedin

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/linkedin-mcp/linkedin-mcp/internal/config"
)

const (
	tokenExchangeTimeout = 10 * time.Second
	userInfoTimeout      = 10 * time.Second
	postTimeout          = 30 * time.Second
	uploadTimeout        = 5 * time.Minute
)

// Config is the subset of settings the client needs.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
	PostURL     string
	AssetsURL   string

	LinkedInVersion       string
	RestliProtocolVersion string
}

// ConfigFrom maps the process configuration onto the client's.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ClientID:              cfg.ClientID,
		ClientSecret:          cfg.ClientSecret,
		RedirectURI:           cfg.RedirectURI,
		Scopes:                cfg.ScopeList(),
		AuthURL:               cfg.AuthURL,
		TokenURL:              cfg.TokenURL,
		UserInfoURL:           cfg.UserInfoURL,
		PostURL:               cfg.PostURL,
		AssetsURL:             cfg.AssetsURL,
		LinkedInVersion:       cfg.LinkedInVersion,
		RestliProtocolVersion: cfg.RestliProtocolVersion,
	}
}

// Client performs the provider HTTP calls.
type Client struct {
	cfg     Config
	oauth   *oauth2.Config
	http    *retry.Client
	logger  *log.Entry
	nowFunc func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithRetryClient replaces the HTTP transport.
func WithRetryClient(rc *retry.Client) Option {
	return func(c *Client) { c.http = rc }
}

// WithLogger sets the entry retry attempts are logged through.
func WithLogger(l *log.Entry) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a client over a retrying HTTP transport.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	c := &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		logger:  log.WithField("component", "linkedin"),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		baseHTTPClient := &http.Client{
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
		rc, err := retry.NewClient(
			retry.WithHTTPClient(baseHTTPClient),
			retry.WithRetryableChecker(retryIdempotent),
			retry.WithLogger(retryLogger{c.logger}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create retry client: %w", err)
		}
		c.http = rc
	}
	return c, nil
}

// retryIdempotent retries a request that got no answer at all, and a 5xx or
// 429 only for methods that are safe to repeat. Creating a post, registering
// an upload and redeeming an authorization code are POSTs that may already
// have taken effect behind a failing gateway.
func retryIdempotent(err error, resp *http.Response) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil || resp.Request == nil {
		return false
	}
	switch resp.Request.Method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return retry.DefaultRetryableChecker(nil, resp)
	default:
		return false
	}
}

// retryLogger sends go-httpretry's key/value logging through logrus.
type retryLogger struct {
	entry *log.Entry
}

func (l retryLogger) with(args []any) *log.Entry {
	fields := make(log.Fields, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 == len(args) {
			fields["extra"] = args[i]
			break
		}
		fields[key] = args[i+1]
	}
	return l.entry.WithFields(fields)
}

func (l retryLogger) Debug(msg string, args ...any) { l.with(args).Debug(msg) }
func (l retryLogger) Info(msg string, args ...any)  { l.with(args).Info(msg) }
func (l retryLogger) Warn(msg string, args ...any)  { l.with(args).Warn(msg) }
func (l retryLogger) Error(msg string, args ...any) { l.with(args).Error(msg) }

// ErrorResponse is an OAuth error payload.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// APIError is a non-2xx answer from a LinkedIn endpoint.
type APIError struct {
	StatusCode       int
	ServiceErrorCode int
	Code             string
	Message          string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.StatusCode)
	case e.Message != "":
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	default:
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
}

// decodeError turns an error body in either the OAuth or the Rest.li shape
// into an *APIError.
func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}

	var oauthErr ErrorResponse
	if err := json.Unmarshal(body, &oauthErr); err == nil && oauthErr.Error != "" {
		apiErr.Code = oauthErr.Error
		apiErr.Message = oauthErr.ErrorDescription
		return apiErr
	}

	var restli struct {
		Message          string `json:"message"`
		ServiceErrorCode int    `json:"serviceErrorCode"`
		Code             string `json:"code"`
	}
	if err := json.Unmarshal(body, &restli); err == nil && restli.Message != "" {
		apiErr.Message = restli.Message
		apiErr.ServiceErrorCode = restli.ServiceErrorCode
		apiErr.Code = restli.Code
		return apiErr
	}

	if len(body) > 0 {
		apiErr.Message = string(body)
	}
	return apiErr
}

// do sends req and returns the response with its body fully read.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, body, nil
}

func (c *Client) setAPIHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Restli-Protocol-Version", c.cfg.RestliProtocolVersion)
	req.Header.Set("LinkedIn-Version", c.cfg.LinkedInVersion)
}
