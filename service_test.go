package netservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NghiaTranUIT/netservice/nettest"
)

const (
	testEndpoint       = "http://example.com/a"
	resultTimeout      = 2 * time.Second
	expectedBodyMsg    = "Expected body %q, got %q"
	expectedFetchesMsg = "Expected %d fetcher calls, got %d"
)

func requestAndWait(t *testing.T, svc *Service, ctx context.Context, endpoint string) ([]byte, error) {
	t.Helper()

	results := make(chan Result, 1)
	svc.Request(ctx, endpoint, func(body []byte, err error) {
		results <- Result{Body: body, Err: err}
	})

	select {
	case r := <-results:
		return r.Body, r.Err
	case <-time.After(resultTimeout):
		t.Fatalf("Request(%q) did not complete within %v", endpoint, resultTimeout)
		return nil, nil
	}
}

func newSpies(n int) ([]*nettest.SpyPlugin, []Plugin) {
	spies := make([]*nettest.SpyPlugin, n)
	plugins := make([]Plugin, n)
	for i := range spies {
		spies[i] = new(nettest.SpyPlugin)
		plugins[i] = spies[i]
	}
	return spies, plugins
}

func TestServiceAllPluginsCalled(t *testing.T) {
	spies, plugins := newSpies(3)
	fetcher := nettest.NewStubFetcher("Hello")
	svc := New(fetcher, plugins)

	body, err := requestAndWait(t, svc, context.Background(), testEndpoint)
	if err != nil {
		t.Fatalf("Request returned error: %v", err)
	}
	if string(body) != "Hello" {
		t.Errorf(expectedBodyMsg, "Hello", body)
	}

	for i, spy := range spies {
		if !spy.IsCalled() {
			t.Errorf("Expected plugin %d to be called", i)
		}
		if spy.Calls() != 1 {
			t.Errorf("Expected plugin %d to be called once, got %d", i, spy.Calls())
		}
	}
}

func TestServicePluginsRunBeforeRequestReturns(t *testing.T) {
	spies, plugins := newSpies(2)
	fetcher := nettest.NewStubFetcher("Hello")
	fetcher.Block()
	defer fetcher.Release()

	svc := New(fetcher, plugins)
	results := make(chan Result, 1)
	svc.Request(context.Background(), testEndpoint, func(body []byte, err error) {
		results <- Result{Body: body, Err: err}
	})

	for i, spy := range spies {
		if !spy.IsCalled() {
			t.Errorf("Expected plugin %d to run before Request returned", i)
		}
	}

	select {
	case <-fetcher.Started():
	case <-time.After(resultTimeout):
		t.Fatal("fetch never started")
	}

	select {
	case <-results:
		t.Fatal("Expected completion to wait for the blocked fetch")
	default:
	}

	fetcher.Release()
	select {
	case r := <-results:
		if r.Err != nil || string(r.Body) != "Hello" {
			t.Errorf("Unexpected result: %q, %v", r.Body, r.Err)
		}
	case <-time.After(resultTimeout):
		t.Fatal("Request did not complete after release")
	}
}

func TestServiceCacheHitSkipsFetch(t *testing.T) {
	_, plugins := newSpies(3)
	fetcher := nettest.NewStubFetcher("Hello")
	svc := New(fetcher, plugins)

	if _, err := requestAndWait(t, svc, context.Background(), testEndpoint); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	fetcher.SetOutput("World")

	body, err := requestAndWait(t, svc, context.Background(), testEndpoint)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if string(body) != "Hello" {
		t.Errorf(expectedBodyMsg, "Hello", body)
	}
	if fetcher.Calls() != 1 {
		t.Errorf(expectedFetchesMsg, 1, fetcher.Calls())
	}
}

func TestServiceCacheHitSkipsPlugins(t *testing.T) {
	spies, plugins := newSpies(1)
	fetcher := nettest.NewStubFetcher("Hello")
	svc := New(fetcher, plugins)

	for i := 0; i < 3; i++ {
		if _, err := svc.Do(context.Background(), testEndpoint); err != nil {
			t.Fatalf("Do #%d failed: %v", i, err)
		}
	}

	if spies[0].Calls() != 1 {
		t.Errorf("Expected plugin to run only for the fetch, got %d calls", spies[0].Calls())
	}
	if fetcher.Calls() != 1 {
		t.Errorf(expectedFetchesMsg, 1, fetcher.Calls())
	}
}

func TestServiceMalformedEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"unparseable", "://bad"},
		{"unsupported scheme", "ftp://example.com/file"},
		{"missing scheme", "example.com/a"},
		{"missing host", "http://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spies, plugins := newSpies(1)
			fetcher := nettest.NewStubFetcher("Hello")
			svc := New(fetcher, plugins)

			body, err := requestAndWait(t, svc, context.Background(), tt.endpoint)
			if err == nil {
				t.Fatalf("Expected error for %q, got body %q", tt.endpoint, body)
			}
			if ErrorType(err) != ErrorTypeInvalidEndpoint {
				t.Errorf("Expected %s error, got %v", ErrorTypeInvalidEndpoint, err)
			}
			if !errors.Is(err, ErrInvalidEndpoint) {
				t.Errorf("Expected errors.Is(err, ErrInvalidEndpoint), got %v", err)
			}
			if fetcher.Calls() != 0 {
				t.Errorf(expectedFetchesMsg, 0, fetcher.Calls())
			}
			if spies[0].IsCalled() {
				t.Error("Expected plugins not to run for a malformed endpoint")
			}
			if svc.CacheLen() != 0 {
				t.Errorf("Expected empty cache, got %d entries", svc.CacheLen())
			}
		})
	}
}

func TestServicePluginOrder(t *testing.T) {
	recorder := &nettest.Recorder{}
	plugins := []Plugin{
		&nettest.RecordingPlugin{Name: "first", Recorder: recorder},
		&nettest.RecordingPlugin{Name: "second", Recorder: recorder},
		&nettest.RecordingPlugin{Name: "third", Recorder: recorder},
	}
	fetcher := FetcherFunc(func(ctx context.Context, req *http.Request) ([]byte, error) {
		recorder.Record("fetch")
		return []byte("ok"), nil
	})

	svc := New(fetcher, plugins)
	if _, err := svc.Do(context.Background(), testEndpoint); err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	expected := []string{"first", "second", "third", "fetch"}
	if got := recorder.Events(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected order %v, got %v", expected, got)
	}
}

func TestServicePluginOutputReachesFetcher(t *testing.T) {
	fetcher := nettest.NewStubFetcher("Hello")
	svc := New(fetcher, []Plugin{
		&nettest.HeaderPlugin{Key: "X-Trace", Value: "abc"},
		NewBearerCredentialPlugin("secret"),
	})

	if _, err := svc.Do(context.Background(), testEndpoint); err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	last := fetcher.LastRequest()
	if last == nil {
		t.Fatal("fetcher received no request")
	}
	if got := last.Header.Get("X-Trace"); got != "abc" {
		t.Errorf("Expected X-Trace=abc, got %q", got)
	}
	if got := last.Header.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("Expected bearer credentials, got %q", got)
	}
	if last.Method != http.MethodGet {
		t.Errorf("Expected GET, got %s", last.Method)
	}
}

func TestServicePluginFailureAbortsChain(t *testing.T) {
	boom := errors.New("boom")
	before := new(nettest.SpyPlugin)
	after := new(nettest.SpyPlugin)
	fetcher := nettest.NewStubFetcher("Hello")
	svc := New(fetcher, []Plugin{before, &nettest.ErrorPlugin{Err: boom}, after})

	_, err := requestAndWait(t, svc, context.Background(), testEndpoint)
	if err == nil {
		t.Fatal("Expected plugin failure")
	}
	if ErrorType(err) != ErrorTypePlugin {
		t.Errorf("Expected %s error, got %v", ErrorTypePlugin, err)
	}
	if !errors.Is(err, ErrPluginFailed) {
		t.Error("Expected errors.Is(err, ErrPluginFailed)")
	}
	if !errors.Is(err, boom) {
		t.Error("Expected the plugin's error to be wrapped")
	}
	if !before.IsCalled() {
		t.Error("Expected the plugin before the failure to run")
	}
	if after.IsCalled() {
		t.Error("Expected the plugin after the failure not to run")
	}
	if fetcher.Calls() != 0 {
		t.Errorf(expectedFetchesMsg, 0, fetcher.Calls())
	}
	if svc.CacheLen() != 0 {
		t.Errorf("Expected empty cache, got %d entries", svc.CacheLen())
	}
}

func TestServicePluginReturningNilRequest(t *testing.T) {
	fetcher := nettest.NewStubFetcher("Hello")
	svc := New(fetcher, []Plugin{PluginFunc(func(*http.Request) (*http.Request, error) {
		return nil, nil
	})})

	_, err := svc.Do(context.Background(), testEndpoint)
	if !errors.Is(err, ErrNilRequest) {
		t.Fatalf("Expected ErrNilRequest, got %v", err)
	}
	if fetcher.Calls() != 0 {
		t.Errorf(expectedFetchesMsg, 0, fetcher.Calls())
	}
}

func TestServiceFetchFailureLeavesCacheUntouched(t *testing.T) {
	offline := errors.New("offline")
	fetcher := nettest.NewFailingFetcher(offline)
	svc := New(fetcher, nil)

	_, err := requestAndWait(t, svc, context.Background(), testEndpoint)
	if err == nil {
		t.Fatal("Expected fetch failure")
	}
	if ErrorType(err) != ErrorTypeNetwork {
		t.Errorf("Expected %s error, got %v", ErrorTypeNetwork, err)
	}
	if !errors.Is(err, offline) {
		t.Errorf("Expected fetch error to be wrapped, got %v", err)
	}
	if _, found := svc.Cached(testEndpoint); found {
		t.Error("Expected failed fetch not to populate cache")
	}

	fetcher.SetOutput("recovered")
	body, err := requestAndWait(t, svc, context.Background(), testEndpoint)
	if err != nil {
		t.Fatalf("Expected second request to succeed, got %v", err)
	}
	if string(body) != "recovered" {
		t.Errorf(expectedBodyMsg, "recovered", body)
	}
	if fetcher.Calls() != 2 {
		t.Errorf(expectedFetchesMsg, 2, fetcher.Calls())
	}
}

func TestServiceFetcherServiceErrorKeepsType(t *testing.T) {
	fetcher := FetcherFunc(func(ctx context.Context, req *http.Request) ([]byte, error) {
		return nil, &ServiceError{Type: ErrorTypeStatus, Message: "unexpected status", StatusCode: 503}
	})
	svc := New(fetcher, nil)

	_, err := svc.Do(context.Background(), testEndpoint)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("Expected *ServiceError, got %T", err)
	}
	if serviceErr.Type != ErrorTypeStatus || serviceErr.StatusCode != 503 {
		t.Errorf("Expected status error 503, got %s %d", serviceErr.Type, serviceErr.StatusCode)
	}
	if serviceErr.Endpoint != testEndpoint {
		t.Errorf("Expected endpoint %q, got %q", testEndpoint, serviceErr.Endpoint)
	}
}

func TestServiceCanceledWhileFetching(t *testing.T) {
	fetcher := nettest.NewStubFetcher("Hello")
	fetcher.Block()
	defer fetcher.Release()

	svc := New(fetcher, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := svc.Go(ctx, testEndpoint)

	select {
	case <-fetcher.Started():
	case <-time.After(resultTimeout):
		t.Fatal("fetch never started")
	}
	cancel()

	select {
	case r := <-results:
		if ErrorType(r.Err) != ErrorTypeCanceled {
			t.Errorf("Expected %s error, got %v", ErrorTypeCanceled, r.Err)
		}
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("Expected context.Canceled in chain, got %v", r.Err)
		}
	case <-time.After(resultTimeout):
		t.Fatal("canceled request did not complete")
	}

	if svc.CacheLen() != 0 {
		t.Errorf("Expected empty cache, got %d entries", svc.CacheLen())
	}
}

func TestServiceCanceledAfterFetchDoesNotPopulate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := FetcherFunc(func(context.Context, *http.Request) ([]byte, error) {
		cancel()
		return []byte("late"), nil
	})
	svc := New(fetcher, nil)

	_, err := svc.Do(ctx, testEndpoint)
	if ErrorType(err) != ErrorTypeCanceled {
		t.Fatalf("Expected %s error, got %v", ErrorTypeCanceled, err)
	}
	if svc.CacheLen() != 0 {
		t.Errorf("Expected empty cache, got %d entries", svc.CacheLen())
	}
}

func TestServiceExecutorDeliversEveryOutcome(t *testing.T) {
	var delivered atomic.Int32
	executor := func(fn func()) {
		delivered.Add(1)
		fn()
	}

	svc := New(nettest.NewStubFetcher("Hello"), nil, WithExecutor(executor))

	requestAndWait(t, svc, context.Background(), testEndpoint) // miss
	requestAndWait(t, svc, context.Background(), testEndpoint) // hit
	requestAndWait(t, svc, context.Background(), "")           // invalid

	if got := delivered.Load(); got != 3 {
		t.Errorf("Expected 3 deliveries through the executor, got %d", got)
	}
}

func TestServiceExecutorRunsOnDesignatedGoroutine(t *testing.T) {
	queue := make(chan func(), 4)
	svc := New(nettest.NewStubFetcher("Hello"), nil, WithExecutor(func(fn func()) {
		queue <- fn
	}))

	var got []byte
	svc.Request(context.Background(), testEndpoint, func(body []byte, err error) {
		got = body
	})

	select {
	case fn := <-queue:
		fn()
	case <-time.After(resultTimeout):
		t.Fatal("completion was never scheduled")
	}

	if string(got) != "Hello" {
		t.Errorf(expectedBodyMsg, "Hello", got)
	}
}

func TestServiceRequestNilCompletion(t *testing.T) {
	fetcher := nettest.NewStubFetcher("Hello")
	svc := New(fetcher, nil)

	svc.Request(context.Background(), testEndpoint, nil)

	deadline := time.Now().Add(resultTimeout)
	for svc.CacheLen() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if svc.CacheLen() != 1 {
		t.Errorf("Expected request without completion to still populate cache")
	}
}

func TestServiceGoDeliversOnceAndCloses(t *testing.T) {
	svc := New(nettest.NewStubFetcher("Hello"), nil)

	results := svc.Go(context.Background(), testEndpoint)

	select {
	case r, ok := <-results:
		if !ok {
			t.Fatal("Expected a result before close")
		}
		if r.Err != nil || string(r.Body) != "Hello" {
			t.Errorf("Unexpected result: %q, %v", r.Body, r.Err)
		}
	case <-time.After(resultTimeout):
		t.Fatal("Go did not deliver")
	}

	if _, ok := <-results; ok {
		t.Error("Expected channel to be closed after the result")
	}

	hit := <-svc.Go(context.Background(), testEndpoint)
	if hit.Err != nil || string(hit.Body) != "Hello" {
		t.Errorf("Unexpected cached result: %q, %v", hit.Body, hit.Err)
	}
}

func TestServiceCallerCannotCorruptCache(t *testing.T) {
	svc := New(nettest.NewStubFetcher("Hello"), nil)

	body, err := svc.Do(context.Background(), testEndpoint)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	body[0] = 'J'

	cached, _ := svc.Do(context.Background(), testEndpoint)
	if string(cached) != "Hello" {
		t.Fatalf(expectedBodyMsg, "Hello", cached)
	}
	cached[0] = 'C'

	again, _ := svc.Cached(testEndpoint)
	if string(again) != "Hello" {
		t.Errorf(expectedBodyMsg, "Hello", again)
	}
}

func TestServiceConcurrentDistinctEndpoints(t *testing.T) {
	fetcher := FetcherFunc(func(ctx context.Context, req *http.Request) ([]byte, error) {
		return []byte(req.URL.Path), nil
	})
	svc := New(fetcher, []Plugin{new(nettest.SpyPlugin)})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			endpoint := fmt.Sprintf("http://example.com/item/%d", i)
			if _, err := svc.Do(context.Background(), endpoint); err != nil {
				t.Errorf("Do(%q) failed: %v", endpoint, err)
			}
		}(i)
	}
	wg.Wait()

	if svc.CacheLen() != n {
		t.Fatalf("Expected %d cached endpoints, got %d", n, svc.CacheLen())
	}
	for i := 0; i < n; i++ {
		endpoint := fmt.Sprintf("http://example.com/item/%d", i)
		body, found := svc.Cached(endpoint)
		if !found {
			t.Errorf("Expected %q to be cached", endpoint)
			continue
		}
		if want := fmt.Sprintf("/item/%d", i); string(body) != want {
			t.Errorf(expectedBodyMsg, want, body)
		}
	}
}

func TestServiceConcurrentSameEndpoint(t *testing.T) {
	fetcher := nettest.NewStubFetcher("Hello")
	svc := New(fetcher, nil)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := svc.Do(context.Background(), testEndpoint)
			if err != nil || string(body) != "Hello" {
				t.Errorf("Unexpected result: %q, %v", body, err)
			}
		}()
	}
	wg.Wait()

	if svc.CacheLen() != 1 {
		t.Errorf("Expected one cached endpoint, got %d", svc.CacheLen())
	}
	if calls := fetcher.Calls(); calls < 1 || calls > n {
		t.Errorf("Expected between 1 and %d fetches, got %d", n, calls)
	}
}

func TestServiceWithHTTPFetcher(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if _, err := w.Write([]byte("Hello")); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer server.Close()

	svc := New(NewHTTPFetcher(), []Plugin{NewBearerCredentialPlugin("token")})

	for i := 0; i < 2; i++ {
		body, err := requestAndWait(t, svc, context.Background(), server.URL+"/home")
		if err != nil {
			t.Fatalf("request #%d failed: %v", i, err)
		}
		if string(body) != "Hello" {
			t.Errorf(expectedBodyMsg, "Hello", body)
		}
	}

	if hits.Load() != 1 {
		t.Errorf("Expected the server to be hit once, got %d", hits.Load())
	}
}

func TestServiceHTTPStatusFailureNotCached(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := New(NewHTTPFetcher(), nil)
	_, err := svc.Do(context.Background(), server.URL)
	if ErrorType(err) != ErrorTypeStatus {
		t.Fatalf("Expected %s error, got %v", ErrorTypeStatus, err)
	}
	if svc.CacheLen() != 0 {
		t.Errorf("Expected empty cache, got %d entries", svc.CacheLen())
	}
}

func TestServiceInvalidConfiguration(t *testing.T) {
	svc := New(nil, nil)

	if svc.IsValid() {
		t.Fatal("Expected service without fetcher to be invalid")
	}

	_, err := requestAndWait(t, svc, context.Background(), testEndpoint)
	if ErrorType(err) != ErrorTypeValidation {
		t.Errorf("Expected %s error, got %v", ErrorTypeValidation, err)
	}
}

func TestServicePluginsCopied(t *testing.T) {
	plugins := []Plugin{new(nettest.SpyPlugin)}
	svc := New(nettest.NewStubFetcher("Hello"), plugins)

	replacement := new(nettest.SpyPlugin)
	plugins[0] = replacement

	if _, err := svc.Do(context.Background(), testEndpoint); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if replacement.IsCalled() {
		t.Error("Expected chain to be fixed at construction")
	}
	if len(svc.Plugins()) != 1 {
		t.Errorf("Expected 1 plugin, got %d", len(svc.Plugins()))
	}
}

func TestDefault(t *testing.T) {
	t.Setenv(TokenEnvVar, "env-secret")

	svc := Default(WithLogger(NopLogger()))
	if !svc.IsValid() {
		t.Fatalf("Default service invalid: %v", svc.ValidationError())
	}

	if _, ok := svc.fetcher.(*HTTPFetcher); !ok {
		t.Errorf("Expected *HTTPFetcher, got %T", svc.fetcher)
	}

	plugins := svc.Plugins()
	if len(plugins) != 3 {
		t.Fatalf("Expected 3 default plugins, got %d", len(plugins))
	}
	if _, ok := plugins[0].(*LoggerPlugin); !ok {
		t.Errorf("Expected *LoggerPlugin first, got %T", plugins[0])
	}
	credentials, ok := plugins[1].(*CredentialPlugin)
	if !ok {
		t.Fatalf("Expected *CredentialPlugin second, got %T", plugins[1])
	}
	if credentials.Token != "env-secret" {
		t.Errorf("Expected token from environment, got %q", credentials.Token)
	}
	if _, ok := plugins[2].(*ActivityPlugin); !ok {
		t.Errorf("Expected *ActivityPlugin third, got %T", plugins[2])
	}
}

func TestValidateEndpoint(t *testing.T) {
	valid := []string{
		"http://example.com",
		"https://example.com/a?b=c",
		"http://127.0.0.1:8080/path",
	}
	for _, endpoint := range valid {
		if err := validateEndpoint(endpoint); err != nil {
			t.Errorf("Expected %q to be valid, got %v", endpoint, err)
		}
	}
}

func TestServicePluginReturningRequestWithoutURL(t *testing.T) {
	fetcher := nettest.NewStubFetcher("Hello")
	svc := New(fetcher, []Plugin{PluginFunc(func(req *http.Request) (*http.Request, error) {
		out := req.Clone(req.Context())
		out.URL = nil
		return out, nil
	})}, WithDebug())

	_, err := svc.Do(context.Background(), testEndpoint)
	if ErrorType(err) != ErrorTypePlugin {
		t.Fatalf("Expected %s error, got %v", ErrorTypePlugin, err)
	}
	if !errors.Is(err, ErrNilRequest) {
		t.Errorf("Expected ErrNilRequest, got %v", err)
	}
	if fetcher.Calls() != 0 {
		t.Errorf(expectedFetchesMsg, 0, fetcher.Calls())
	}
}
