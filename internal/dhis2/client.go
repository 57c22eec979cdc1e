// Package dhis2 is a small client for the DHIS2 Web API.
//
// The client authenticates with Basic credentials or a Personal Access
// Token, classifies failures into the dialect error taxonomy, and never
// mutates shared state: callers decide what to cache.
package dhis2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// maxBodyBytes bounds how much of a response is read into memory.
const maxBodyBytes = 256 << 20

// Client issues authenticated GET requests against one DHIS2 server.
type Client struct {
	conn       types.Connection
	base       string
	httpClient *http.Client
	logger     logrus.FieldLogger
	retry      RetryPolicy
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetry enables retries of transient failures.
func WithRetry(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient creates a client for the given connection.
func NewClient(conn types.Connection, opts ...Option) (*Client, error) {
	if err := conn.Validate(); err != nil {
		return nil, dherrors.Wrap(dherrors.ErrCategoryValidation, dherrors.CodeInvalidConnection,
			"invalid DHIS2 connection", err)
	}

	c := &Client{
		conn:       conn,
		base:       conn.APIBase(),
		httpClient: &http.Client{Timeout: conn.EffectiveTimeout()},
		logger:     logrus.StandardLogger(),
		retry:      NoRetry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connection returns the connection the client was built from.
func (c *Client) Connection() types.Connection {
	return c.conn
}

// BaseURL returns the API base URL, ending in /api.
func (c *Client) BaseURL() string {
	return c.base
}

// endpointURL joins the API base with an endpoint path and query.
func (c *Client) endpointURL(endpoint string, params url.Values) string {
	u := c.base + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + encodeParams(params)
	}
	return u
}

// encodeParams encodes query parameters, keeping the ":" and "," separators
// of DHIS2 dimension and filter expressions readable in logs.
func encodeParams(params url.Values) string {
	enc := params.Encode()
	return strings.NewReplacer("%3A", ":", "%2C", ",").Replace(enc)
}

// authorize sets the Authorization header for the configured auth mode.
// Personal access tokens ("d2pat_...") use the ApiToken scheme; other
// tokens are sent as Bearer tokens.
func (c *Client) authorize(req *http.Request) {
	switch c.conn.Mode() {
	case types.AuthToken:
		scheme := "Bearer"
		if strings.HasPrefix(c.conn.Token, "d2pat_") {
			scheme = "ApiToken"
		}
		req.Header.Set("Authorization", scheme+" "+c.conn.Token)
	default:
		req.SetBasicAuth(c.conn.Username, c.conn.Password)
	}
}

// Fetch performs GET <base>/<endpoint>?params and returns the JSON body.
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	target := c.endpointURL(endpoint, params)

	var body []byte
	err := c.retry.do(ctx, func(attempt int, err error, wait time.Duration) {
		c.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"attempt":  attempt,
			"wait_ms":  wait.Milliseconds(),
		}).WithError(err).Warn("retrying DHIS2 request")
	}, func(ctx context.Context) error {
		var err error
		body, err = c.get(ctx, endpoint, target)
		return err
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// get performs one round trip.
func (c *Client) get(ctx context.Context, endpoint, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, dherrors.Wrap(dherrors.ErrCategoryValidation, dherrors.CodeInvalidURI,
			"could not build DHIS2 request", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		classified := classifyTransport(err)
		c.logger.WithFields(logrus.Fields{
			"endpoint":    endpoint,
			"duration_ms": time.Since(start).Milliseconds(),
		}).WithError(err).Warn("DHIS2 request failed")
		return nil, classified
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransport(err)
	}

	entry := c.logger.WithFields(logrus.Fields{
		"endpoint":    endpoint,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		entry.Warn("DHIS2 returned an error status")
		return nil, classifyResponse(resp.StatusCode, redact(target), body)
	}

	entry.Info("DHIS2 request completed")
	return body, nil
}

// redact strips the query string so URLs in errors stay short.
func redact(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}

// decode unmarshals a response body into v.
func decode(endpoint string, body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return dherrors.NewUpstreamError(dherrors.CodeInvalidResponse,
			fmt.Sprintf("DHIS2 %s returned a response that is not valid JSON", endpoint), err)
	}
	return nil
}
