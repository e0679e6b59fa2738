package netservice

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxBodySize caps the bytes read from a single response.
const DefaultMaxBodySize = 10 * 1024 * 1024

// HTTPFetcher performs a single exchange over net/http. It never retries.
type HTTPFetcher struct {
	client      *http.Client
	timeout     time.Duration
	hasTimeout  bool
	maxBodySize int64
	userAgent   string
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient sets the underlying client. The client is never modified;
// WithFetchTimeout applies to a copy.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithFetchTimeout sets the client timeout regardless of option order.
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.timeout = d
		f.hasTimeout = true
	}
}

// WithMaxBodySize limits how many response bytes are accepted.
func WithMaxBodySize(n int64) FetcherOption {
	return func(f *HTTPFetcher) {
		f.maxBodySize = n
	}
}

// WithUserAgent sets the User-Agent header for requests that carry none.
func WithUserAgent(ua string) FetcherOption {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// NewHTTPFetcher returns a fetcher with a 30s timeout, a 10 MiB body limit
// and a netservice User-Agent unless options say otherwise.
func NewHTTPFetcher(options ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxBodySize: DefaultMaxBodySize,
		userAgent:   "netservice/" + Version,
	}
	for _, option := range options {
		option(f)
	}
	if f.hasTimeout {
		client := *f.client
		client.Timeout = f.timeout
		f.client = &client
	}
	return f
}

// Fetch sends req bound to ctx and returns the full body of a 2xx response.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) ([]byte, error) {
	if ctx != nil && ctx != req.Context() {
		req = req.WithContext(ctx)
	}
	if f.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &ServiceError{
			Type:      ErrorTypeNetwork,
			Message:   "network request failed",
			Cause:     err,
			URL:       req.URL.String(),
			Timestamp: time.Now(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &ServiceError{
			Type:       ErrorTypeStatus,
			Message:    fmt.Sprintf("unexpected status %s", resp.Status),
			Cause:      ErrFetchFailed,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
		}
	}

	limit := f.maxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &ServiceError{
			Type:       ErrorTypeNetwork,
			Message:    "reading response body failed",
			Cause:      err,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
		}
	}
	if int64(len(body)) > limit {
		return nil, &ServiceError{
			Type:       ErrorTypeBodyTooLarge,
			Message:    fmt.Sprintf("response body exceeds %d bytes", limit),
			Cause:      ErrFetchFailed,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
		}
	}

	return body, nil
}
