// Package nettest provides deterministic fetchers and spy plugins for
// testing code built on netservice.
package nettest

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
)

// StubFetcher completes every fetch with a configured payload or error.
// It is safe for concurrent use.
type StubFetcher struct {
	mu      sync.Mutex
	output  []byte
	err     error
	gate    chan struct{}
	last    *http.Request
	calls   atomic.Int64
	started chan struct{}
}

// NewStubFetcher returns a fetcher that always yields output.
func NewStubFetcher(output string) *StubFetcher {
	return &StubFetcher{output: []byte(output)}
}

// NewFailingFetcher returns a fetcher that always fails with err.
func NewFailingFetcher(err error) *StubFetcher {
	return &StubFetcher{err: err}
}

// SetOutput changes the payload for later fetches and clears any error.
func (f *StubFetcher) SetOutput(output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output = []byte(output)
	f.err = nil
}

// SetError makes later fetches fail with err.
func (f *StubFetcher) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Block makes later fetches wait until Release is called or their context
// ends. Started is signalled each time a fetch begins waiting.
func (f *StubFetcher) Block() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 64)
}

// Release unblocks every waiting and future fetch.
func (f *StubFetcher) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// Started returns the channel signalled by blocked fetches, or nil when
// Block was never called.
func (f *StubFetcher) Started() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Fetch returns a copy of the configured output or the configured error.
func (f *StubFetcher) Fetch(ctx context.Context, req *http.Request) ([]byte, error) {
	f.calls.Add(1)

	f.mu.Lock()
	f.last = req
	gate := f.gate
	started := f.started
	f.mu.Unlock()

	if gate != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]byte, len(f.output))
	copy(out, f.output)
	return out, nil
}

// Calls reports how many times Fetch ran.
func (f *StubFetcher) Calls() int {
	return int(f.calls.Load())
}

// LastRequest returns the most recent request passed to Fetch.
func (f *StubFetcher) LastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// SpyPlugin records that it ran and passes the request through.
type SpyPlugin struct {
	calls atomic.Int64
}

// Process counts the call and returns req.
func (p *SpyPlugin) Process(req *http.Request) (*http.Request, error) {
	p.calls.Add(1)
	return req, nil
}

// IsCalled reports whether Process ran at least once.
func (p *SpyPlugin) IsCalled() bool {
	return p.calls.Load() > 0
}

// Calls reports how many times Process ran.
func (p *SpyPlugin) Calls() int {
	return int(p.calls.Load())
}

// Recorder collects the order in which RecordingPlugins and fetchers run.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// Record appends event.
func (r *Recorder) Record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// RecordingPlugin appends its name to a Recorder and passes the request through.
type RecordingPlugin struct {
	Name     string
	Recorder *Recorder
}

// Process records Name and returns req.
func (p *RecordingPlugin) Process(req *http.Request) (*http.Request, error) {
	p.Recorder.Record(p.Name)
	return req, nil
}

// ErrorPlugin fails every request with Err.
type ErrorPlugin struct {
	Err error
}

// Process returns Err.
func (p *ErrorPlugin) Process(*http.Request) (*http.Request, error) {
	return nil, p.Err
}

// HeaderPlugin sets a header on a clone of the request.
type HeaderPlugin struct {
	Key   string
	Value string
}

// Process returns a clone of req with the header set.
func (p *HeaderPlugin) Process(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	out.Header.Set(p.Key, p.Value)
	return out, nil
}
