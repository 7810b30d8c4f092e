// Package bitrix provides a Bitrix24 REST client for inbound webhooks with
// operating budget gating, request metrics and error classification.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/bitrix-report/pkg/ratelimit"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MethodItemList lists smart process items.
	MethodItemList = "crm.item.list"

	// DefaultEntityTypeID identifies the time-tracking smart process.
	DefaultEntityTypeID = 1164

	// DefaultTimeout bounds a single REST call.
	DefaultTimeout = 30 * time.Second
)

// Prometheus metrics for Bitrix24 calls.
var (
	bitrixRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitrix_requests_total",
		Help: "Total Bitrix24 REST calls by method and status",
	}, []string{"method", "status"})

	bitrixRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bitrix_request_duration_seconds",
		Help:    "Bitrix24 REST call duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	bitrixErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitrix_errors_total",
		Help: "Total Bitrix24 errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// WebhookURL is the inbound webhook base, e.g.
	// "https://portal.bitrix24.ru/rest/1/abcdef/". Method names are appended to it.
	WebhookURL string `validate:"required,url"`

	// EntityTypeID is the smart process used by ListItems.
	EntityTypeID int `validate:"gt=0"`

	// Timeout per REST call when HTTPClient is nil.
	Timeout time.Duration

	// HTTPClient overrides the transport (optional).
	HTTPClient *http.Client `validate:"-"`

	// Redis enables operating budget tracking when set (optional).
	Redis *redis.Client `validate:"-"`
}

// DefaultConfig returns the configuration for the given webhook URL.
func DefaultConfig(webhookURL string) Config {
	return Config{
		WebhookURL:   webhookURL,
		EntityTypeID: DefaultEntityTypeID,
		Timeout:      DefaultTimeout,
	}
}

// Client calls Bitrix24 REST methods through an inbound webhook.
type Client struct {
	httpClient   *http.Client
	webhookURL   string
	entityTypeID int
	tracker      *ratelimit.Tracker
	tracer       trace.Tracer
	logger       zerolog.Logger
}

// New creates a new Bitrix24 client.
func New(cfg Config) (*Client, error) {
	if cfg.EntityTypeID == 0 {
		cfg.EntityTypeID = DefaultEntityTypeID
	}

	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Field() == "WebhookURL" {
					return nil, errors.Wrapf(ErrInvalidWebhookURL, "%q", cfg.WebhookURL)
				}
			}
		}
		return nil, errors.Wrap(err, "invalid bitrix config")
	}

	u, err := url.Parse(cfg.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Wrapf(ErrInvalidWebhookURL, "%q", cfg.WebhookURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := log.With().Str("component", "bitrix-client").Logger()

	var tracker *ratelimit.Tracker
	if cfg.Redis != nil {
		tracker = ratelimit.NewTracker(cfg.Redis, logger)
	}

	return &Client{
		httpClient:   httpClient,
		webhookURL:   strings.TrimSuffix(cfg.WebhookURL, "/") + "/",
		entityTypeID: cfg.EntityTypeID,
		tracker:      tracker,
		tracer:       otel.Tracer("github.com/Sternrassler/bitrix-report/pkg/bitrix"),
		logger:       logger,
	}, nil
}

// envelope is the Bitrix24 response shape; only consumed fields are declared.
type envelope struct {
	Result           json.RawMessage   `json:"result"`
	Error            string            `json:"error"`
	ErrorDescription string            `json:"error_description"`
	Time             *ratelimit.Timing `json:"time"`
}

// Call invokes a REST method with params as the JSON body and decodes the "result"
// field into out (out may be nil). Any failure is logged here and returned as *APIError.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	ctx, span := c.tracer.Start(ctx, "bitrix.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("bitrix.method", method)),
	)
	defer span.End()

	startTime := time.Now()
	defer func() {
		bitrixRequestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	body, err := encodeJSON(params)
	if err != nil {
		return c.fail(span, method, nil, &APIError{Method: method, ErrorClass: ErrorClassDecode, Description: "encode params", Err: err})
	}

	if c.tracker != nil {
		allowed, err := c.tracker.ShouldAllowRequest(ctx, method)
		if err != nil {
			c.logger.Warn().Err(err).Str("method", method).Msg("Rate limit check failed")
			if ctx.Err() != nil {
				return c.fail(span, method, body, &APIError{Method: method, ErrorClass: ErrorClassNetwork, Err: ctx.Err()})
			}
		} else if !allowed {
			bitrixRequestsTotal.WithLabelValues(method, "blocked").Inc()
			return c.fail(span, method, body, &APIError{Method: method, ErrorClass: ErrorClassRateLimit, Err: ErrRequestBlocked})
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL+method, bytes.NewReader(body))
	if err != nil {
		return c.fail(span, method, body, &APIError{Method: method, ErrorClass: ErrorClassNetwork, Description: "create request", Err: err})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("method", method).
		RawJSON("params", body).
		Msg("Executing Bitrix24 call")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		bitrixRequestsTotal.WithLabelValues(method, "network_error").Inc()
		return c.fail(span, method, body, &APIError{Method: method, ErrorClass: ErrorClassNetwork, Err: err})
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	bitrixRequestsTotal.WithLabelValues(method, status).Inc()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fail(span, method, body, &APIError{Method: method, StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Description: "read body", Err: err})
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	// Bitrix24 reports API errors with 4xx/5xx statuses as well as with 200.
	if decodeErr == nil && env.Error != "" {
		return c.fail(span, method, body, &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			ErrorClass:  classifyCode(env.Error),
			Code:        env.Error,
			Description: env.ErrorDescription,
		})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.fail(span, method, body, &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			ErrorClass:  classifyStatus(resp.StatusCode),
			Description: resp.Status,
		})
	}

	if decodeErr != nil {
		return c.fail(span, method, body, &APIError{Method: method, StatusCode: resp.StatusCode, ErrorClass: ErrorClassDecode, Description: "decode response", Err: decodeErr})
	}

	if c.tracker != nil && env.Time != nil {
		if err := c.tracker.UpdateFromTiming(ctx, method, *env.Time); err != nil {
			c.logger.Warn().Err(err).Str("method", method).Msg("Failed to update operating budget")
		}
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return c.fail(span, method, body, &APIError{Method: method, StatusCode: resp.StatusCode, ErrorClass: ErrorClassDecode, Description: "decode result", Err: err})
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// fail records, logs and returns apiErr with a stack rooted at the caller.
func (c *Client) fail(span trace.Span, method string, params []byte, apiErr *APIError) error {
	bitrixErrorsTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()

	event := c.logger.Error().
		Err(apiErr).
		Str("method", method).
		Str("error_class", string(apiErr.ErrorClass))
	if apiErr.StatusCode > 0 {
		event = event.Int("status", apiErr.StatusCode)
	}
	if json.Valid(params) {
		event = event.RawJSON("params", params)
	}
	event.Msg("Bitrix24 API request failed")

	span.RecordError(apiErr)
	span.SetStatus(codes.Error, string(apiErr.ErrorClass))

	return errors.WithStackDepth(apiErr, 1)
}

// listParams is the crm.item.list request body.
type listParams struct {
	EntityTypeID int    `json:"entityTypeId"`
	Filter       Filter `json:"filter"`
	Start        int    `json:"start"`
	Limit        int    `json:"limit"`
}

// listResult is the crm.item.list "result" payload.
type listResult struct {
	Items []json.RawMessage `json:"items"`
}

// ListItems returns one page of smart process items matching filter, starting at
// offset start. The items are passed through untouched.
func (c *Client) ListItems(ctx context.Context, filter Filter, start, limit int) ([]json.RawMessage, error) {
	var result listResult
	err := c.Call(ctx, MethodItemList, listParams{
		EntityTypeID: c.entityTypeID,
		Filter:       filter,
		Start:        start,
		Limit:        limit,
	}, &result)
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

// EntityTypeID returns the smart process queried by ListItems.
func (c *Client) EntityTypeID() int {
	return c.entityTypeID
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
