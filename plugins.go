package netservice

import (
	"errors"
	"net/http"
	"sort"

	"github.com/google/uuid"
)

// RequestIDHeader is set by ActivityPlugin when the request has none.
const RequestIDHeader = "X-Request-ID"

// LoggerPlugin logs the identifying parts of the request it sees. Its
// position in the chain decides whether it observes credentials.
type LoggerPlugin struct {
	Logger Logger
}

// NewLoggerPlugin returns a plugin logging through logger.
func NewLoggerPlugin(logger Logger) *LoggerPlugin {
	return &LoggerPlugin{Logger: logger}
}

// Process logs req and returns it unchanged.
func (p *LoggerPlugin) Process(req *http.Request) (*http.Request, error) {
	logger := p.Logger
	if logger == nil {
		return req, nil
	}

	headers := make([]string, 0, len(req.Header))
	for name := range req.Header {
		headers = append(headers, name)
	}
	sort.Strings(headers)

	logger.Info("Outgoing request",
		"method", req.Method,
		"url", req.URL.String(),
		"headers", headers,
		"requestID", req.Header.Get(RequestIDHeader))
	return req, nil
}

// TokenSource supplies a credential per request.
type TokenSource func(req *http.Request) (string, error)

// CredentialPlugin injects authentication into a clone of the request,
// overwriting any existing value. Exactly one mode applies, in this order:
// Username (basic auth), Header (raw header value), then bearer token.
type CredentialPlugin struct {
	Token       string
	TokenSource TokenSource
	// Scheme prefixes the token in the Authorization header. Defaults to "Bearer".
	Scheme string
	// Header, when set, receives the bare token instead of Authorization.
	Header   string
	Username string
	Password string
}

// NewBearerCredentialPlugin sends token as "Authorization: Bearer <token>".
func NewBearerCredentialPlugin(token string) *CredentialPlugin {
	return &CredentialPlugin{Token: token}
}

// NewBasicCredentialPlugin sends HTTP basic auth.
func NewBasicCredentialPlugin(username, password string) *CredentialPlugin {
	return &CredentialPlugin{Username: username, Password: password}
}

// Process returns a clone of req carrying the credential. Without a token
// or username req is returned as is.
func (p *CredentialPlugin) Process(req *http.Request) (*http.Request, error) {
	if p.Username != "" {
		out := req.Clone(req.Context())
		out.SetBasicAuth(p.Username, p.Password)
		return out, nil
	}

	token := p.Token
	if p.TokenSource != nil {
		var err error
		token, err = p.TokenSource(req)
		if err != nil {
			return nil, err
		}
	}
	if token == "" {
		return req, nil
	}

	out := req.Clone(req.Context())
	if p.Header != "" {
		out.Header.Set(p.Header, token)
		return out, nil
	}

	scheme := p.Scheme
	if scheme == "" {
		scheme = "Bearer"
	}
	out.Header.Set("Authorization", scheme+" "+token)
	return out, nil
}

// ActivityPlugin signals the start of a request. A request without an ID
// gets one on a clone so the tracker and later plugins can correlate it.
type ActivityPlugin struct {
	Tracker      ActivityTracker
	RequestIDGen func() string
}

// NewActivityPlugin reports to tracker, which may be nil.
func NewActivityPlugin(tracker ActivityTracker) *ActivityPlugin {
	return &ActivityPlugin{Tracker: tracker}
}

// Process ensures a request ID and notifies the tracker.
func (p *ActivityPlugin) Process(req *http.Request) (*http.Request, error) {
	out := req
	if req.Header.Get(RequestIDHeader) == "" {
		gen := p.RequestIDGen
		if gen == nil {
			gen = DefaultRequestIDGen
		}
		if id := gen(); id != "" {
			out = req.Clone(req.Context())
			out.Header.Set(RequestIDHeader, id)
		}
	}

	if p.Tracker != nil {
		p.Tracker.RequestStarted(out)
	}
	return out, nil
}

// DefaultRequestIDGen returns a random UUID.
func DefaultRequestIDGen() string {
	return uuid.NewString()
}

var errEmptyToken = errors.New("empty credential")

// StaticTokenSource returns a TokenSource that always yields token and
// fails when token is empty.
func StaticTokenSource(token string) TokenSource {
	return func(*http.Request) (string, error) {
		if token == "" {
			return "", errEmptyToken
		}
		return token, nil
	}
}
