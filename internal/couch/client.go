package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultHost is used when Config.Host is empty.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the CouchDB HTTP port.
	DefaultPort = "5984"

	// DefaultSecurePort is the CouchDB HTTPS port.
	DefaultSecurePort = "6984"

	// DefaultTimeout bounds every request made by the client.
	DefaultTimeout = 30 * time.Second
)

// ErrMissingName indicates that no database name was configured.
var ErrMissingName = errors.New("couch: database name is required")

// Config describes how to reach one database on a document store.
type Config struct {
	Host     string
	Port     string
	Secure   bool
	Name     string
	Username string
	Password string
	Timeout  time.Duration
}

// ConfigFromURL builds a Config from a server URL such as http://127.0.0.1:5984.
func ConfigFromURL(rawURL, name string) (Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Config{}, fmt.Errorf("couch: invalid server url: %w", err)
	}
	cfg := Config{
		Host:   u.Hostname(),
		Port:   u.Port(),
		Secure: u.Scheme == "https",
		Name:   name,
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	return cfg, nil
}

// ServerURL returns the scheme, host and port of the store, applying defaults.
func (c Config) ServerURL() string {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port == "" {
		port = DefaultPort
		if c.Secure {
			port = DefaultSecurePort
		}
	}
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(host, port)
}

// DatabaseURL returns the absolute URL of the configured database.
func (c Config) DatabaseURL() string {
	return c.ServerURL() + "/" + url.PathEscape(c.Name)
}

// TokenSource issues bearer tokens for the Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to a single database of a CouchDB-compatible document store.
// It is safe for concurrent use and holds no per-document state.
type Client struct {
	cfg        Config
	dbURL      string
	httpClient *http.Client
	tokens     TokenSource // nil unless bearer auth is configured
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTokenSource authenticates every request with a bearer token from ts.
// It takes precedence over basic credentials.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(c *Client) {
		c.tokens = ts
	}
}

// NewClient creates a client for the database described by cfg.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.Name == "" {
		return nil, ErrMissingName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		cfg:        cfg,
		dbURL:      cfg.DatabaseURL(),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the database name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// URL returns the absolute database URL.
func (c *Client) URL() string {
	return c.dbURL
}

// response is a fully read store response.
type response struct {
	status int
	header http.Header
	body   []byte
}

// storeError is the error body CouchDB returns on failure.
type storeError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// do executes one request against the database. path is relative to the
// database URL and must already be escaped. Non-2xx responses are returned
// as *Error.
func (c *Client) do(ctx context.Context, op, method, path, id string, query url.Values, body any) (*response, error) {
	reqURL := c.dbURL
	if path != "" {
		reqURL += "/" + path
	}
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("couch: failed to marshal %s body: %w", op, err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("couch: failed to build %s request: %w", op, err)
	}

	correlationID := uuid.New().String()
	logger := log.With().
		Str("op", op).
		Str("method", method).
		Str("url", reqURL).
		Str("correlationId", correlationID).
		Logger()

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(ctx, req, &logger); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		logger.Error().Err(err).Dur("duration", duration).Msg("store request failed")
		return nil, &Error{Kind: KindTransport, Op: op, ID: id, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error().Err(err).Int("status", resp.StatusCode).Msg("failed to read store response")
		return nil, &Error{Kind: KindTransport, Op: op, ID: id, Status: resp.StatusCode, Err: err}
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("store request completed")

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.parseError(op, id, resp.StatusCode, respBody, &logger)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: respBody}, nil
}

// authorize injects bearer or basic credentials.
func (c *Client) authorize(ctx context.Context, req *http.Request, logger *zerolog.Logger) error {
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("couch: failed to get auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		logger.Debug().Msg("injected bearer token")
		return nil
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	return nil
}

// parseError normalizes an error response into *Error.
func (c *Client) parseError(op, id string, status int, body []byte, logger *zerolog.Logger) error {
	var sErr storeError
	if len(body) > 0 {
		_ = json.Unmarshal(body, &sErr)
	}
	code := sErr.Error
	if code == "" {
		code = statusCode(status)
	}
	cErr := &Error{
		Kind:   classify(status, code),
		Op:     op,
		ID:     id,
		Status: status,
		Code:   code,
		Reason: sErr.Reason,
	}

	logger.Debug().
		Int("status", status).
		Str("error", code).
		Str("reason", sErr.Reason).
		Msg("store reported error")

	return cErr
}

// decode unmarshals a response body, wrapping failures with op context.
func decode(op string, resp *response, v any) error {
	if err := json.Unmarshal(resp.body, v); err != nil {
		return fmt.Errorf("couch: failed to decode %s response: %w", op, err)
	}
	return nil
}
