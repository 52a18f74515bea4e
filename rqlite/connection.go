package rqlite

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultPort is the standard rqlite HTTP API port.
	DefaultPort = 4001

	// UnlimitedRedirects disables the redirect bound; leader redirects
	// are followed for as long as the cluster issues them.
	UnlimitedRedirects = -1

	// retryAttempts bounds the immediate reconnect-and-retry loop for a
	// single logical request. No backoff: each retry is immediate.
	retryAttempts = 10
)

// Connection owns one HTTP connection to one cluster node. It is not
// safe for concurrent use; callers needing concurrency use separate
// connections. The effective target node changes when a leader redirect
// points elsewhere.
type Connection struct {
	scheme       string
	host         string
	port         int
	authHeader   string
	timeout      time.Duration
	maxRedirects int
	detectTypes  int
	tlsConfig    *tls.Config
	logger       *slog.Logger
	registry     *Registry

	httpClient *http.Client
	closed     bool
}

// Option is a functional option for configuring a Connection
type Option func(*Connection)

// WithPort sets the cluster node port (default 4001)
func WithPort(port int) Option {
	return func(c *Connection) {
		c.port = port
	}
}

// WithHTTPS switches the connection scheme to https
func WithHTTPS() Option {
	return func(c *Connection) {
		c.scheme = "https"
	}
}

// WithBasicAuth sets credentials sent as an HTTP basic Authorization
// header on every request
func WithBasicAuth(user, password string) Option {
	return func(c *Connection) {
		credentials := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		c.authHeader = "Basic " + credentials
	}
}

// WithTimeout sets the fixed per-connection timeout applied to every
// network call. There is no per-request override.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Connection) {
		c.timeout = timeout
	}
}

// WithMaxRedirects bounds how many leader redirects a single request
// may follow. The default is UnlimitedRedirects.
func WithMaxRedirects(max int) Option {
	return func(c *Connection) {
		c.maxRedirects = max
	}
}

// WithDetectTypes enables the type-detection modes, a bitmask of
// ParseDeclTypes and ParseColNames
func WithDetectTypes(flags int) Option {
	return func(c *Connection) {
		c.detectTypes = flags
	}
}

// WithTLSConfig sets a custom TLS configuration for https connections
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Connection) {
		c.tlsConfig = cfg
	}
}

// WithLogger sets the logger used for request/response debug output.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithRegistry gives the connection its own adapter/converter registry
// instead of the shared DefaultRegistry
func WithRegistry(registry *Registry) Option {
	return func(c *Connection) {
		c.registry = registry
	}
}

// Connect opens a logical connection to the cluster node at host.
func Connect(host string, options ...Option) (*Connection, error) {
	if host == "" {
		host = "localhost"
	}
	conn := &Connection{
		scheme:       "http",
		host:         host,
		port:         DefaultPort,
		maxRedirects: UnlimitedRedirects,
		logger:       slog.Default(),
		registry:     DefaultRegistry,
	}
	for _, option := range options {
		option(conn)
	}
	conn.initHTTPClient()
	return conn, nil
}

// initHTTPClient builds the transport. Automatic redirect following is
// disabled so leader redirects surface to fetchResponse, which owns the
// node-switching logic.
func (c *Connection) initHTTPClient() {
	c.httpClient = &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			TLSClientConfig: c.tlsConfig,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Host returns the host of the node the connection currently targets.
// It changes when a leader redirect moves the connection.
func (c *Connection) Host() string {
	return c.host
}

// Port returns the port of the node the connection currently targets.
func (c *Connection) Port() int {
	return c.port
}

// ParseDeclTypesEnabled reports whether declared-type detection is on.
func (c *Connection) ParseDeclTypesEnabled() bool {
	return c.detectTypes&ParseDeclTypes != 0
}

// ParseColNamesEnabled reports whether column-name-hint detection is on.
func (c *Connection) ParseColNamesEnabled() bool {
	return c.detectTypes&ParseColNames != 0
}

// Registry returns the adapter/converter registry this connection uses.
func (c *Connection) Registry() *Registry {
	return c.registry
}

func (c *Connection) baseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.scheme, c.host, c.port)
}

// retryRequest performs one logical request with the bounded
// reconnect-and-retry loop: any transport-level failure tears down the
// underlying client and tries again immediately, up to retryAttempts.
func (c *Connection) retryRequest(method, rawURL string, body []byte, headers map[string]string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		var req *http.Request
		var err error
		if reader != nil {
			req, err = http.NewRequest(method, rawURL, reader)
		} else {
			req, err = http.NewRequest(method, rawURL, nil)
		}
		if err != nil {
			return nil, NewErrorWithCause(ErrorTypeOperational, "failed to create request", err)
		}
		if c.authHeader != "" {
			req.Header.Set("Authorization", c.authHeader)
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.logger.Debug("transport failure, reconnecting",
			"method", method, "url", rawURL, "error", err)
		c.httpClient.CloseIdleConnections()
		c.initHTTPClient()
	}
	return nil, NewErrorWithCause(ErrorTypeOperational,
		fmt.Sprintf("request failed after %d attempts", retryAttempts), lastErr)
}

func isRedirectStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// fetchResponse performs a request and follows leader redirects. A
// redirect to a different host:port closes the current connection and
// opens a new one against the new node before resending. Exhausting the
// redirect bound returns the last response as-is for the caller to
// interpret.
func (c *Connection) fetchResponse(method, path string, body []byte, headers map[string]string) (*http.Response, error) {
	if c.closed {
		return nil, NewProgrammingError("cannot operate on a closed connection")
	}

	resp, err := c.retryRequest(method, c.baseURL()+path, body, headers)
	if err != nil {
		return nil, err
	}

	redirects := 0
	for isRedirectStatus(resp.StatusCode) && resp.Header.Get("Location") != "" &&
		(c.maxRedirects == UnlimitedRedirects || redirects < c.maxRedirects) {
		redirects++
		location := resp.Header.Get("Location")
		resp.Body.Close()

		c.logger.Debug("following redirect",
			"status", resp.StatusCode, "location", location)

		target, err := url.Parse(location)
		if err != nil {
			return nil, NewErrorWithCause(ErrorTypeOperational,
				fmt.Sprintf("invalid redirect location %q", location), err)
		}

		rawURL := location
		if target.Host != "" {
			port := targetPort(target)
			if target.Hostname() != c.host || port != c.port {
				c.httpClient.CloseIdleConnections()
				c.host = target.Hostname()
				c.port = port
				if target.Scheme != "" {
					c.scheme = target.Scheme
				}
				c.initHTTPClient()
			}
		} else {
			rawURL = c.baseURL() + location
		}

		resp, err = c.retryRequest(method, rawURL, body, headers)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func targetPort(u *url.URL) int {
	if p := u.Port(); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			return port
		}
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}

// Cursor returns a new cursor on this connection.
func (c *Connection) Cursor() *Cursor {
	return &Cursor{
		conn:      c,
		Arraysize: 1,
		RowCount:  -1,
		typeCache: make(map[string]map[string]string),
	}
}

// Execute runs a statement on a fresh cursor and returns it.
func (c *Connection) Execute(operation string, parameters ...any) (*Cursor, error) {
	cursor := c.Cursor()
	if err := cursor.Execute(operation, parameters...); err != nil {
		return nil, err
	}
	return cursor, nil
}

// Commit is a no-op: the remote store commits every request on its own.
func (c *Connection) Commit() error {
	if c.closed {
		return NewProgrammingError("cannot operate on a closed connection")
	}
	return nil
}

// Rollback is a no-op: there is nothing to roll back on an
// autocommitting store.
func (c *Connection) Rollback() error {
	if c.closed {
		return NewProgrammingError("cannot operate on a closed connection")
	}
	return nil
}

// Close shuts the connection down. The connection is unusable from this
// point forward; any operation on it or its cursors fails.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.httpClient.CloseIdleConnections()
	return nil
}
