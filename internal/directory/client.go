package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/customer-directory/internal/circuitbreaker"
	"github.com/jogardn/customer-directory/internal/metrics"
	"github.com/jogardn/customer-directory/internal/middleware"
	"github.com/jogardn/customer-directory/pkg/models"
	"github.com/sirupsen/logrus"
)

const defaultTimeout = 10 * time.Second

// HTTPDoer is the part of *http.Client the directory client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client reads customers and orders from the remote directory API. Each call
// makes exactly one attempt; failures are logged and returned as *Error.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	timeout    *time.Duration
	breaker    *circuitbreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

type Option func(*Client)

func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		c.httpClient = doer
	}
}

// WithTimeout bounds every request. Zero disables the bound. It applies to
// an *http.Client whatever the option order; other HTTPDoers keep their own
// deadlines.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = &timeout
	}
}

func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func NewClient(baseURL string, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if hc, ok := c.httpClient.(*http.Client); ok && c.timeout != nil {
		bounded := *hc
		bounded.Timeout = *c.timeout
		c.httpClient = &bounded
	}
	return c
}

// FetchCustomers lists customers. query is forwarded verbatim.
func (c *Client) FetchCustomers(ctx context.Context, query url.Values) ([]models.Customer, error) {
	return fetch[[]models.Customer](ctx, c, "fetch_customers", "/customers", query)
}

// FetchCustomerByID returns one customer with nested orders and items.
func (c *Client) FetchCustomerByID(ctx context.Context, id models.ID) (models.Customer, error) {
	return fetch[models.Customer](ctx, c, "fetch_customer", "/customers/"+url.PathEscape(id.String()), nil)
}

func (c *Client) FetchCustomerOrders(ctx context.Context, id models.ID, query url.Values) ([]models.Order, error) {
	return fetch[[]models.Order](ctx, c, "fetch_customer_orders", "/customers/"+url.PathEscape(id.String())+"/orders", query)
}

func (c *Client) FetchOrder(ctx context.Context, id models.ID) (models.Order, error) {
	return fetch[models.Order](ctx, c, "fetch_order", "/orders/"+url.PathEscape(id.String()), nil)
}

func fetch[T any](ctx context.Context, c *Client, operation, path string, query url.Values) (T, error) {
	var zero T
	start := time.Now()
	requestID := middleware.RequestIDFrom(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	entry := c.logger.WithFields(logrus.Fields{
		"operation":  operation,
		"path":       path,
		"request_id": requestID,
	})

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return zero, c.fail(ctx, entry, operation, start, &Error{Kind: KindClientError, Message: err.Error(), Err: err})
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	entry.Debug("Fetching from directory")

	resp, err := c.do(req)
	if err != nil {
		return zero, c.fail(ctx, entry, operation, start, &Error{Kind: KindNoResponse, Message: NoResponseMessage, Err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, c.fail(ctx, entry, operation, start, &Error{
			Kind:    KindNoResponse,
			Message: NoResponseMessage,
			Err:     fmt.Errorf("failed to read directory response: %w", err),
		})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody models.ErrorBody
		_ = json.Unmarshal(body, &errBody)

		message := errBody.Message()
		if message == "" {
			message = FallbackServerMessage
		}
		return zero, c.fail(ctx, entry, operation, start, &Error{Kind: KindServerError, Status: resp.StatusCode, Message: message})
	}

	var envelope models.Envelope[T]
	if err := json.Unmarshal(body, &envelope); err != nil {
		return zero, c.fail(ctx, entry, operation, start, &Error{
			Kind:    KindClientError,
			Message: err.Error(),
			Err:     fmt.Errorf("failed to decode directory response: %w", err),
		})
	}

	c.metrics.ObserveFetch(operation, "success", time.Since(start))
	entry.WithFields(logrus.Fields{
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Retrieved from directory")

	return envelope.Data, nil
}

// do sends req through the breaker when one is configured. Only transport
// failures count against the breaker; HTTP error statuses are answers.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.httpClient.Do(req)
	}

	var resp *http.Response
	err := c.breaker.Execute(func() error {
		r, err := c.httpClient.Do(req)
		if err != nil {
			if abandoned(req.Context()) {
				return circuitbreaker.Ignore(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return nil, fmt.Errorf("request not sent: %w", err)
	}
	return resp, err
}

// abandoned reports whether the caller cancelled ctx. A deadline is not
// abandonment: a directory that never answers is a failure.
func abandoned(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

// fail logs and records e. Requests the caller cancelled, such as a
// superseded load, are logged at Debug under the "cancelled" outcome.
func (c *Client) fail(ctx context.Context, entry *logrus.Entry, operation string, start time.Time, e *Error) error {
	if e.Kind == KindNoResponse && abandoned(ctx) {
		entry.WithError(e.Err).WithField("duration_ms", time.Since(start).Milliseconds()).Debug("Directory request cancelled")
		c.metrics.ObserveFetch(operation, "cancelled", time.Since(start))
		return e
	}

	fields := logrus.Fields{
		"kind":        e.Kind,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if e.Status != 0 {
		fields["status"] = e.Status
	}
	if e.Err != nil {
		entry = entry.WithError(e.Err)
	}
	entry.WithFields(fields).WithField("message", e.Message).Error("Directory request failed")

	c.metrics.ObserveFetch(operation, string(e.Kind), time.Since(start))
	return e
}
