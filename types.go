package netservice

import (
	"context"
	"net/http"
)

// Fetcher performs the network exchange for a fully prepared request.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) ([]byte, error)
}

// FetcherFunc is a helper type for plain fetch functions
type FetcherFunc func(ctx context.Context, req *http.Request) ([]byte, error)

// Fetch calls f(ctx, req).
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) ([]byte, error) {
	return f(ctx, req)
}

// Plugin inspects or transforms an outgoing request before dispatch.
// Plugins that change the request must return a clone.
type Plugin interface {
	Process(req *http.Request) (*http.Request, error)
}

// PluginFunc is a helper type for plain plugin functions
type PluginFunc func(req *http.Request) (*http.Request, error)

// Process calls f(req).
func (f PluginFunc) Process(req *http.Request) (*http.Request, error) {
	return f(req)
}

// CompletionFunc receives the outcome of a Request call. Exactly one of
// body and err is meaningful.
type CompletionFunc func(body []byte, err error)

// Result is the outcome delivered on the channel returned by Go.
type Result struct {
	Body []byte
	Err  error
}

// Executor runs completion callbacks on the context the caller expects.
type Executor func(fn func())

// Logger is the minimal structured logger used for debug output.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ActivityTracker is notified when a request is about to be dispatched.
type ActivityTracker interface {
	RequestStarted(req *http.Request)
}

// ActivityTrackerFunc is a helper type for plain activity callbacks
type ActivityTrackerFunc func(req *http.Request)

// RequestStarted calls f(req).
func (f ActivityTrackerFunc) RequestStarted(req *http.Request) {
	f(req)
}

// DebugConfig selects which lifecycle events are logged.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogCache     bool
	LogPlugins   bool
	RequestIDGen func() string
}

// Option represents a configuration option
type Option func(*Service)
