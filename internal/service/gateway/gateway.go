// Package gateway wraps outbound calls to the back-office services. Every
// call carries the bearer token, the active shop and the subject; transient
// failures are retried with exponential backoff when the policy allows it.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/r2r72/x-sm-backoffice/internal/logger"
	"github.com/r2r72/x-sm-backoffice/internal/metrics"
)

const (
	HeaderShopID    = "X-Shop-ID"
	HeaderUserID    = "X-User-ID"
	HeaderRequestID = "X-Request-ID"

	tracerName = "github.com/r2r72/x-sm-backoffice/internal/service/gateway"
)

// TokenSource supplies access tokens.
type TokenSource interface {
	CurrentToken(ctx context.Context, minValidity time.Duration) string
}

// SubjectSource supplies the authenticated subject.
type SubjectSource interface {
	SubjectID() string
}

// ShopPointer supplies the durable active-shop pointer.
type ShopPointer interface {
	ActiveShop(ctx context.Context) (string, error)
}

// RetryPolicy configures retries of transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy is used for service-to-service calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}
}

// NoRetry is used for user-facing calls that must not be silently repeated.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Config holds Gateway settings.
type Config struct {
	Services    map[string]string // service name -> base URL
	Timeout     time.Duration     // per attempt
	Retry       RetryPolicy
	MinValidity time.Duration // token validity required before each call
	HTTPClient  *http.Client

	// OnUnauthorized runs when a service answers 401 to a call that carried
	// a token. It runs on the calling goroutine before Request returns.
	OnUnauthorized func(error)
}

// Gateway performs authenticated calls against the back-office services.
type Gateway struct {
	cfg     Config
	client  *http.Client
	tokens  TokenSource
	subject SubjectSource
	pointer ShopPointer
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates a Gateway.
func New(cfg Config, tokens TokenSource, subject SubjectSource, pointer ShopPointer, log *zap.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.MinValidity <= 0 {
		cfg.MinValidity = 30 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Gateway{
		cfg:     cfg,
		client:  client,
		tokens:  tokens,
		subject: subject,
		pointer: pointer,
		logger:  logger.OrNop(log).Named("gateway"),
		tracer:  otel.Tracer(tracerName),
	}
}

// WithRetry returns a copy of g that uses policy.
func (g *Gateway) WithRetry(policy RetryPolicy) *Gateway {
	clone := *g
	clone.cfg.Retry = policy
	return &clone
}

type requestOptions struct {
	headers map[string]string
	shopID  string
	noShop  bool
}

// Option customizes a single request.
type Option func(*requestOptions)

// WithHeader adds an extra header.
func WithHeader(key, value string) Option {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		o.headers[key] = value
	}
}

// WithShop scopes the request to shopID instead of the durable pointer.
func WithShop(shopID string) Option {
	return func(o *requestOptions) { o.shopID = shopID }
}

// WithoutShop sends no shop header, for calls that predate shop selection.
func WithoutShop() Option {
	return func(o *requestOptions) { o.noShop = true }
}

// Request performs method on path. The first path segment names the
// service. body is JSON-encoded when non-nil. The response is decoded into
// out when non-nil; a *[]byte out receives the raw body.
func (g *Gateway) Request(ctx context.Context, method, path string, body, out any, opts ...Option) error {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	service, baseURL, err := g.resolve(path)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	ctx, span := g.tracer.Start(ctx, method+" "+service,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
			attribute.String("console.service", service),
		))
	defer span.End()

	start := time.Now()
	attempt := 0
	raw, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		raw, err := g.do(ctx, service, method, baseURL+path, payload, o)
		if err != nil && !IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return raw, err
	},
		backoff.WithBackOff(g.backOff()),
		backoff.WithMaxTries(uint(g.cfg.Retry.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.RecordGatewayRetry(service)
			g.logger.Warn("retrying gateway call",
				zap.String("service", service),
				zap.String("method", method),
				zap.String("path", path),
				zap.Duration("retry_in", next),
				zap.Error(err))
		}),
	)
	err = g.finalError(service, err)
	metrics.RecordGatewayRequest(service, method, statusOf(err), time.Since(start))
	span.SetAttributes(attribute.Int("console.attempts", attempt))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if g.cfg.OnUnauthorized != nil && rejected(err) {
			g.cfg.OnUnauthorized(err)
		}
		return err
	}
	return decode(raw, out)
}

func (g *Gateway) do(ctx context.Context, service, method, url string, payload []byte, o requestOptions) ([]byte, error) {
	token := g.tokens.CurrentToken(ctx, g.cfg.MinValidity)
	if token == "" {
		return nil, &ServiceError{
			StatusCode:  http.StatusUnauthorized,
			ServiceName: service,
			Message:     ErrNoAccessToken.Error(),
			Err:         ErrNoAccessToken,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(HeaderRequestID, uuid.NewString())
	if subject := g.subject.SubjectID(); subject != "" {
		req.Header.Set(HeaderUserID, subject)
	}
	if shopID := g.shopHeader(ctx, o); shopID != "" {
		req.Header.Set(HeaderShopID, shopID)
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &ServiceError{ServiceName: service, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{ServiceName: service, Message: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServiceError{
			StatusCode:  resp.StatusCode,
			ServiceName: service,
			Message:     errorMessage(resp.StatusCode, raw),
		}
	}
	return raw, nil
}

// rejected reports whether a service refused the token. A call that never
// had a token is not a rejection.
func rejected(err error) bool {
	return IsUnauthorized(err) && !errors.Is(err, ErrNoAccessToken)
}

func (g *Gateway) shopHeader(ctx context.Context, o requestOptions) string {
	if o.noShop {
		return ""
	}
	if o.shopID != "" {
		return o.shopID
	}
	if g.pointer == nil {
		return ""
	}
	shopID, err := g.pointer.ActiveShop(ctx)
	if err != nil {
		g.logger.Warn("failed to read active shop pointer", zap.Error(err))
		return ""
	}
	return shopID
}

func (g *Gateway) resolve(path string) (string, string, error) {
	trimmed := strings.TrimPrefix(path, "/")
	service, _, _ := strings.Cut(trimmed, "/")
	baseURL, ok := g.cfg.Services[service]
	if !ok || service == "" {
		return "", "", &ServiceError{
			ServiceName: service,
			Message:     fmt.Sprintf("no base URL for path %q", path),
			Err:         ErrUnknownService,
		}
	}
	return service, strings.TrimSuffix(baseURL, "/"), nil
}

func (g *Gateway) backOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.Retry.BaseDelay
	bo.Multiplier = g.cfg.Retry.Multiplier
	bo.RandomizationFactor = 0.25
	bo.MaxInterval = 30 * time.Second
	return bo
}

func (g *Gateway) finalError(service string, err error) error {
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return &ServiceError{ServiceName: service, Message: err.Error(), Err: err}
}

func statusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return StatusCode(err)
}

func decode(raw []byte, out any) error {
	switch v := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*v = raw
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(status int, raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return http.StatusText(status)
	}
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
