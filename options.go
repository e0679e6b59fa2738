package netservice

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// DefaultDebugConfig returns debug settings with every event selected but
// logging switched off.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogCache:     true,
		LogPlugins:   true,
		RequestIDGen: DefaultRequestIDGen,
	}
}

// WithLogger sets the logger used for debug output and by LoggerPlugin in Default
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithZerolog wraps a zerolog logger
func WithZerolog(log zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = NewZerologLogger(log)
	}
}

// WithConsoleLogger logs human readable lines to w at the given level
func WithConsoleLogger(w io.Writer, level zerolog.Level) Option {
	return func(s *Service) {
		s.logger = NewConsoleLogger(w, level)
	}
}

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(s *Service) {
		if s.debug == nil {
			s.debug = DefaultDebugConfig()
		}
		s.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(s *Service) {
		if config != nil {
			s.debug = config
		}
	}
}

// WithRequestIDGenerator sets the generator ActivityPlugin uses in Default
func WithRequestIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if s.debug == nil {
			s.debug = DefaultDebugConfig()
		}
		s.debug.RequestIDGen = gen
	}
}

// WithMetrics enables Prometheus metrics collection on the default registerer
func WithMetrics() Option {
	return func(s *Service) {
		s.metrics = NewMetricsCollector()
	}
}

// WithMetricsRegistry enables Prometheus metrics on a specific registerer
func WithMetricsRegistry(registry prometheus.Registerer) Option {
	return func(s *Service) {
		s.metrics = NewMetricsCollectorWithRegistry(registry)
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(s *Service) {
		s.metrics = collector
	}
}

// WithExecutor sets where completion callbacks of Request run
func WithExecutor(executor Executor) Option {
	return func(s *Service) {
		s.executor = executor
	}
}

// WithCache shares a pre-populated cache with the service
func WithCache(cache *SafeCache[string, []byte]) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// ValidateConfiguration validates the service configuration and returns an error if invalid
func (s *Service) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, s.validateFetcherConfig()...)
	errors = append(errors, s.validatePluginConfig()...)
	errors = append(errors, s.validateDeliveryConfig()...)
	errors = append(errors, s.validateDebugConfig()...)

	if len(errors) > 0 {
		return &ServiceError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

func (s *Service) validateFetcherConfig() []string {
	var errors []string

	if s.fetcher == nil {
		errors = append(errors, "fetcher cannot be nil")
	}

	return errors
}

func (s *Service) validatePluginConfig() []string {
	var errors []string

	for i, plugin := range s.plugins {
		if plugin == nil {
			errors = append(errors, fmt.Sprintf("plugin[%d] cannot be nil", i))
		}
	}

	return errors
}

func (s *Service) validateDeliveryConfig() []string {
	var errors []string

	if s.executor == nil {
		errors = append(errors, "executor cannot be nil")
	}
	if s.cache == nil {
		errors = append(errors, "cache cannot be nil")
	}

	return errors
}

func (s *Service) validateDebugConfig() []string {
	var errors []string

	if s.debug != nil && s.debug.Enabled && s.logger == nil {
		errors = append(errors, "logger must be set when debug is enabled")
	}

	return errors
}

// IsValid reports whether configuration validation passed at construction.
func (s *Service) IsValid() bool {
	return s.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (s *Service) ValidationError() error {
	return s.validationError
}
