package netservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TokenEnvVar is read by Default for the credential plugin token.
const TokenEnvVar = "NETSERVICE_TOKEN"

// Service fetches endpoints through an ordered plugin chain and remembers
// every successful response body by endpoint. It is safe for concurrent use.
//
// Two concurrent requests for the same uncached endpoint both fetch; the
// later write wins.
type Service struct {
	fetcher         Fetcher
	plugins         Chain
	cache           *SafeCache[string, []byte]
	executor        Executor
	metrics         *MetricsCollector
	debug           *DebugConfig
	logger          Logger
	validationError error
}

// New builds a service around an injected fetcher and plugin order.
func New(fetcher Fetcher, plugins []Plugin, options ...Option) *Service {
	s := &Service{
		fetcher:  fetcher,
		plugins:  NewChain(plugins...),
		cache:    NewSafeCache[string, []byte](),
		executor: InlineExecutor,
		metrics:  nil,
		debug:    DefaultDebugConfig(),
		logger:   NopLogger(),
	}

	for _, option := range options {
		option(s)
	}

	if err := s.ValidateConfiguration(); err != nil {
		s.validationError = err
	}

	if s.executor == nil {
		s.executor = InlineExecutor
	}
	if s.logger == nil {
		s.logger = NopLogger()
	}
	if s.debug == nil {
		s.debug = DefaultDebugConfig()
	}
	if s.cache == nil {
		s.cache = NewSafeCache[string, []byte]()
	}

	return s
}

// Default returns a service using HTTPFetcher and the standard chain:
// logging, then credentials from $NETSERVICE_TOKEN, then activity tracking.
// Without WithLogger, logs go to a console logger on stderr.
func Default(options ...Option) *Service {
	opts := append([]Option{WithLogger(NewConsoleLogger(os.Stderr, zerolog.InfoLevel))}, options...)
	s := New(NewHTTPFetcher(), nil, opts...)
	s.plugins = s.defaultChain(&CredentialPlugin{Token: os.Getenv(TokenEnvVar)})
	return s
}

func (s *Service) defaultChain(credentials *CredentialPlugin) Chain {
	var tracker ActivityTracker
	if s.metrics != nil {
		tracker = s.metrics
	}
	return NewChain(
		NewLoggerPlugin(s.logger),
		credentials,
		&ActivityPlugin{Tracker: tracker, RequestIDGen: s.debug.RequestIDGen},
	)
}

// InlineExecutor runs the callback on the goroutine that produced the result.
func InlineExecutor(fn func()) {
	fn()
}

// Request resolves endpoint and calls complete exactly once through the
// service executor. Lookup, preparation and the plugin chain run before
// Request returns; only the fetch runs in the background.
func (s *Service) Request(ctx context.Context, endpoint string, complete CompletionFunc) {
	if complete == nil {
		complete = func([]byte, error) {}
	}
	s.start(ctx, endpoint, func(body []byte, err error) {
		s.executor(func() {
			complete(body, err)
		})
	})
}

// Go is Request with the result delivered on a buffered channel that is
// closed after its single value.
func (s *Service) Go(ctx context.Context, endpoint string) <-chan Result {
	results := make(chan Result, 1)
	s.start(ctx, endpoint, func(body []byte, err error) {
		results <- Result{Body: body, Err: err}
		close(results)
	})
	return results
}

// Do runs the whole pipeline on the calling goroutine.
func (s *Service) Do(ctx context.Context, endpoint string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	if body, found := s.lookup(endpoint, start); found {
		return body, nil
	}

	req, err := s.prepare(ctx, endpoint, start)
	if err != nil {
		return nil, err
	}

	return s.dispatch(ctx, endpoint, req, start)
}

func (s *Service) start(ctx context.Context, endpoint string, deliver func([]byte, error)) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	if body, found := s.lookup(endpoint, start); found {
		deliver(body, nil)
		return
	}

	req, err := s.prepare(ctx, endpoint, start)
	if err != nil {
		deliver(nil, err)
		return
	}

	go func() {
		deliver(s.dispatch(ctx, endpoint, req, start))
	}()
}

// Cached returns a copy of the stored body for endpoint.
func (s *Service) Cached(endpoint string) ([]byte, bool) {
	body, found := s.cache.Get(endpoint)
	if !found {
		return nil, false
	}
	return bytes.Clone(body), true
}

// CacheLen reports how many endpoints have a stored body.
func (s *Service) CacheLen() int {
	return s.cache.Len()
}

// Plugins returns a copy of the configured chain.
func (s *Service) Plugins() []Plugin {
	return NewChain(s.plugins...)
}

func (s *Service) lookup(endpoint string, start time.Time) ([]byte, bool) {
	body, found := s.cache.Get(endpoint)
	if !found {
		if s.metrics != nil {
			s.metrics.RecordCacheMiss(endpoint)
		}
		if s.debugEnabled(s.debug.LogCache) {
			s.logger.Debug("Cache miss", "endpoint", endpoint)
		}
		return nil, false
	}

	if s.debugEnabled(s.debug.LogCache) {
		s.logger.Debug("Cache hit", "endpoint", endpoint, "bytes", len(body))
	}
	if s.metrics != nil {
		s.metrics.RecordCacheHit(endpoint)
		s.metrics.RecordRequest(OutcomeHit, endpoint, time.Since(start))
	}

	return bytes.Clone(body), true
}

// prepare builds the initial GET request and runs the plugin chain.
func (s *Service) prepare(ctx context.Context, endpoint string, start time.Time) (*http.Request, error) {
	if s.validationError != nil {
		return nil, s.fail(&ServiceError{
			Type:    ErrorTypeValidation,
			Message: "service configuration is invalid",
			Cause:   s.validationError,
		}, endpoint, start)
	}

	if err := validateEndpoint(endpoint); err != nil {
		return nil, s.fail(&ServiceError{
			Type:    ErrorTypeInvalidEndpoint,
			Message: fmt.Sprintf("cannot build request for %q", endpoint),
			Cause:   err,
		}, endpoint, start)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, s.fail(&ServiceError{
			Type:    ErrorTypeInvalidEndpoint,
			Message: fmt.Sprintf("cannot build request for %q", endpoint),
			Cause:   fmt.Errorf("%w: %w", ErrInvalidEndpoint, err),
		}, endpoint, start)
	}

	final, err := s.plugins.Apply(req)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordPluginError(endpoint)
		}
		return nil, s.fail(&ServiceError{
			Type:    ErrorTypePlugin,
			Message: "plugin chain aborted",
			Cause:   fmt.Errorf("%w: %w", ErrPluginFailed, err),
			URL:     req.URL.String(),
		}, endpoint, start)
	}

	if s.debugEnabled(s.debug.LogPlugins) {
		s.logger.Debug("Plugin chain applied", "endpoint", endpoint, "plugins", s.plugins.Len(), "url", final.URL.String())
	}

	return final, nil
}

// dispatch fetches req and stores the body under endpoint on success.
func (s *Service) dispatch(ctx context.Context, endpoint string, req *http.Request, start time.Time) ([]byte, error) {
	if s.debugEnabled(s.debug.LogRequests) {
		s.logger.Debug("Dispatching request", "endpoint", endpoint, "method", req.Method, "url", req.URL.String())
	}

	if s.metrics != nil {
		s.metrics.RecordFetchStart(endpoint)
	}
	body, err := s.fetcher.Fetch(ctx, req)
	if s.metrics != nil {
		s.metrics.RecordFetchEnd(endpoint)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		cause := ctxErr
		if err != nil {
			cause = err
		}
		return nil, s.fail(&ServiceError{
			Type:    ErrorTypeCanceled,
			Message: "request canceled before completion",
			Cause:   cause,
			URL:     req.URL.String(),
		}, endpoint, start)
	}

	if err != nil {
		serviceErr := &ServiceError{
			Type:    ErrorTypeNetwork,
			Message: "fetch failed",
			Cause:   err,
			URL:     req.URL.String(),
		}
		var fetchErr *ServiceError
		if errors.As(err, &fetchErr) {
			copied := *fetchErr
			serviceErr = &copied
		}
		return nil, s.fail(serviceErr, endpoint, start)
	}

	s.cache.Put(endpoint, bytes.Clone(body))

	if s.debugEnabled(s.debug.LogCache) {
		s.logger.Debug("Response cached", "endpoint", endpoint, "bytes", len(body))
	}
	if s.metrics != nil {
		s.metrics.RecordCacheSize(s.cache.Len())
		s.metrics.RecordRequest(OutcomeFetched, endpoint, time.Since(start))
	}

	return body, nil
}

// fail stamps err with request context, records it and returns it.
func (s *Service) fail(err error, endpoint string, start time.Time) error {
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		serviceErr = newServiceError(ErrorTypeNetwork, "request failed", err)
	}
	if serviceErr.Endpoint == "" {
		serviceErr.Endpoint = endpoint
	}
	if serviceErr.Timestamp.IsZero() {
		serviceErr.Timestamp = time.Now()
	}
	serviceErr.Duration = time.Since(start)

	if s.debugEnabled(s.debug.LogRequests) {
		s.logger.Warn("Request failed", "endpoint", endpoint, "type", serviceErr.Type, "error", serviceErr)
	}
	if s.metrics != nil {
		s.metrics.RecordError(serviceErr.Type, endpoint)
		s.metrics.RecordRequest(OutcomeFailed, endpoint, serviceErr.Duration)
	}

	return serviceErr
}

func (s *Service) debugEnabled(flag bool) bool {
	return s.debug != nil && s.debug.Enabled && flag
}

// validateEndpoint accepts absolute http(s) URLs with a host.
func validateEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return fmt.Errorf("%w: empty endpoint", ErrInvalidEndpoint)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return nil
}
