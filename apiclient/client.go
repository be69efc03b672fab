// Package apiclient issues requests against the catcare backend with a bearer
// token and recovers from token expiry by refreshing once and replaying.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"catcare.com/client/session"
	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

const (
	RefreshPath     = "/auth/refresh"
	RequestIDHeader = "X-Request-ID"
	maxBodySize     = 10 * 1024 * 1024
)

type Config struct {
	BaseURL        string        `envconfig:"CATCARE_API_BASE_URL" default:"http://localhost:8080"`
	RequestTimeout time.Duration `envconfig:"CATCARE_API_TIMEOUT" default:"30s"`
}

// Request describes one logical call. Anonymous requests never carry a token
// and are not retried on 401 (login, signup, refresh).
type Request struct {
	Method    string
	Path      string
	Body      interface{}
	Anonymous bool
}

type Client struct {
	config     Config
	httpClient *http.Client
	session    *session.Session
	apiLogger  zerolog.Logger
}

type Option func(*Client)

// WithSession replaces the process-wide session.
func WithSession(s *session.Session) Option {
	return func(c *Client) { c.session = s }
}

// WithHTTPClient replaces the transport. It should keep a cookie jar when the
// backend uses cookie based refresh.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.apiLogger = l }
}

func New(config Config, opts ...Option) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("api base url is empty")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	client := &Client{
		config:    config,
		session:   session.Default(),
		apiLogger: defaultLogger,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		client.httpClient = &http.Client{Timeout: config.RequestTimeout, Jar: jar}
	}
	return client, nil
}

func NewFromEnv(opts ...Option) (*Client, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		defaultLogger.Error().Err(err).Msg("Could not read env config")
		return nil, err
	}
	return New(config, opts...)
}

func (c *Client) Session() *session.Session {
	return c.session
}

func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Do sends req and decodes the data payload of a successful envelope into out.
func (c *Client) Do(ctx context.Context, req Request, out interface{}) error {
	env, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	if err := env.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s payload: %w", req.Method, req.Path, err)
	}
	return nil
}

// Send issues req and returns the envelope of a successful response. Any
// non-2xx status or success:false envelope comes back as a typed error. A 401
// on the first attempt refreshes the token (or joins the refresh in flight)
// and replays req exactly once.
func (c *Client) Send(ctx context.Context, req Request) (*Envelope, error) {
	requestID := uuid.NewString()
	reqLogger := makeRequestLogger(c.apiLogger, req, requestID)

	token := ""
	if !req.Anonymous {
		token = c.session.Token()
	}
	resp, err := c.roundTrip(ctx, req, requestID, token, 1, &reqLogger)
	if err != nil {
		return nil, err
	}
	if resp.statusCode != http.StatusUnauthorized || req.Anonymous {
		return resp.envelope()
	}

	reqLogger.Info().Msg("Got 401, refreshing access token before replay")
	newToken, err := c.session.Refresh(ctx, token, c.RefreshToken)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, &AuthError{Message: "access token refresh failed", Err: err}
	}
	resp, err = c.roundTrip(ctx, req, requestID, newToken, 2, &reqLogger)
	if err != nil {
		return nil, err
	}
	if resp.statusCode == http.StatusUnauthorized {
		reqLogger.Warn().Msg("Replay with refreshed token still unauthorized")
	}
	return resp.envelope()
}

// RefreshToken calls the refresh endpoint. The refresh credential travels in
// the cookie jar, never as a bearer token.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	req := Request{Method: http.MethodPost, Path: RefreshPath, Anonymous: true}
	requestID := uuid.NewString()
	reqLogger := makeRequestLogger(c.apiLogger, req, requestID)
	resp, err := c.roundTrip(ctx, req, requestID, "", 1, &reqLogger)
	if err != nil {
		return "", err
	}
	env, err := resp.envelope()
	if err != nil {
		return "", err
	}
	var data struct {
		AccessToken string `json:"accessToken"`
	}
	if err := env.Decode(&data); err != nil {
		return "", fmt.Errorf("failed to decode refresh payload: %w", err)
	}
	if data.AccessToken == "" {
		return "", &AuthError{Message: "refresh returned an empty access token"}
	}
	return data.AccessToken, nil
}

type rawResponse struct {
	statusCode int
	body       []byte
}

func (c *Client) roundTrip(
	ctx context.Context,
	req Request,
	requestID string,
	token string,
	attempt int,
	reqLogger *zerolog.Logger,
) (*rawResponse, error) {
	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(b)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.config.BaseURL+req.Path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(RequestIDHeader, requestID)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		reqLogger.Err(err).Int("attempt", attempt).Msg("Request failed")
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	reqLogger.Debug().
		Int("attempt", attempt).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("Request finished")
	return &rawResponse{statusCode: resp.StatusCode, body: b}, nil
}

func (resp *rawResponse) envelope() (*Envelope, error) {
	ok := resp.statusCode >= 200 && resp.statusCode < 300
	if ok && len(bytes.TrimSpace(resp.body)) == 0 {
		return &Envelope{Success: true}, nil
	}
	var env Envelope
	decodeErr := json.Unmarshal(resp.body, &env)
	switch {
	case decodeErr != nil && ok:
		return nil, fmt.Errorf("failed to decode response envelope: %w", decodeErr)
	case decodeErr != nil:
		body := &ErrorBody{Message: strings.TrimSpace(string(resp.body))}
		return nil, classify(resp.statusCode, body)
	case !ok || !env.Success:
		return nil, classify(resp.statusCode, env.Error)
	}
	return &env, nil
}
