// Package httpexec performs the list and reference calls of the back office
// API over HTTP and maps failures onto the fetch error taxonomy.
package httpexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sternrassler/pagedsearch/pkg/fetch"
	"github.com/Sternrassler/pagedsearch/pkg/filterkey"
	"github.com/Sternrassler/pagedsearch/pkg/logging"
	"github.com/Sternrassler/pagedsearch/pkg/record"
)

const (
	// DefaultUserAgent identifies the client when none is configured
	DefaultUserAgent = "pagedsearch/1.0"

	// DefaultTimeout is the transport timeout of the default HTTP client
	DefaultTimeout = 30 * time.Second

	// PageParam and LimitParam are the paging query parameters
	PageParam  = "page"
	LimitParam = "limit"

	// maxErrorBody bounds how much of an error response is kept for messages
	maxErrorBody = 512
)

var tracer = otel.Tracer("github.com/Sternrassler/pagedsearch/pkg/httpexec")

// TokenFunc returns the bearer token for a request. An empty token omits the
// Authorization header.
type TokenFunc func(ctx context.Context) (string, error)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, e.g. "https://backoffice.example.com/api" (required)
	BaseURL string

	// UserAgent header (default: DefaultUserAgent)
	UserAgent string

	// Token supplies the bearer token (optional)
	Token TokenFunc

	// HTTPClient (default: client with DefaultTimeout)
	HTTPClient *http.Client

	// Logger (default: component logger "httpexec")
	Logger *zerolog.Logger
}

// Client performs GET requests against the API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http(s), got %q", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	logger := logging.NewLogger("httpexec")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Endpoint returns the list executor for path.
func (c *Client) Endpoint(path string) *Endpoint {
	return &Endpoint{client: c, path: path}
}

// GetJSON performs GET {base}{path}?query and decodes the JSON body into out.
//
// A cancelled ctx yields fetch.ErrCancelled; every other failure is a
// *fetch.NetworkError.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := path
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	ctx, span := tracer.Start(ctx, "GET "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", http.MethodGet),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	err := c.do(ctx, path, query, out, span)
	if err != nil && !errors.Is(err, fetch.ErrCancelled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var netErr *fetch.NetworkError
		if errors.As(err, &netErr) {
			errorsTotal.WithLabelValues(string(netErr.Class)).Inc()
		}
	}
	return err
}

func (c *Client) do(ctx context.Context, path string, query url.Values, out any, span trace.Span) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.urlFor(path, query), nil)
	if err != nil {
		return &fetch.NetworkError{Class: fetch.ErrorClassClient, Message: "create request", Err: err}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	if c.config.Token != nil {
		token, err := c.config.Token(ctx)
		if err != nil {
			return &fetch.NetworkError{Class: fetch.ErrorClassClient, Message: "obtain token", Err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	c.logger.Debug().
		Str("endpoint", path).
		Str("query", query.Encode()).
		Msg("Executing request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			requestsTotal.WithLabelValues(path, "cancelled").Inc()
			return fetch.ErrCancelled
		}
		requestsTotal.WithLabelValues(path, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", path).Msg("HTTP request failed")
		return &fetch.NetworkError{Class: fetch.ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	requestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		c.logger.Warn().
			Str("endpoint", path).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("API request error")

		return &fetch.NetworkError{
			Class:      class,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Status, body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return fetch.ErrCancelled
		}
		return &fetch.NetworkError{
			Class:      fetch.ErrorClassDecode,
			StatusCode: resp.StatusCode,
			Message:    "decode response",
			Err:        err,
		}
	}

	return nil
}

func (c *Client) urlFor(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = query.Encode()
	return u.String()
}

// classifyStatus categorizes an HTTP error status.
func classifyStatus(status int) fetch.ErrorClass {
	if status >= 500 {
		return fetch.ErrorClassServer
	}
	return fetch.ErrorClassClient
}

// errorMessage prefers the API's {"error": "..."} text over the status line.
func errorMessage(status string, body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return status
}

// Endpoint lists one entity. It implements fetch.Executor.
type Endpoint struct {
	client *Client
	path   string
}

// Path returns the endpoint path.
func (e *Endpoint) Path() string {
	return e.path
}

// Fetch performs GET {base}{path}?<filters>&page=N&limit=M. PageParam and
// LimitParam are reserved; a filter using either name is rejected as a client
// error without a request.
func (e *Endpoint) Fetch(ctx context.Context, filters filterkey.FilterSet, page, pageSize int) (record.Page, error) {
	query := filters.Values()
	for _, reserved := range []string{PageParam, LimitParam} {
		if query.Has(reserved) {
			return record.Page{}, &fetch.NetworkError{
				Class:   fetch.ErrorClassClient,
				Message: fmt.Sprintf("filter %q is a reserved query parameter", reserved),
			}
		}
	}
	query.Set(PageParam, strconv.Itoa(page))
	query.Set(LimitParam, strconv.Itoa(pageSize))

	var result record.Page
	if err := e.client.GetJSON(ctx, e.path, query, &result); err != nil {
		return record.Page{}, err
	}
	if result.Items == nil {
		result.Items = []record.Row{}
	}
	return result, nil
}
