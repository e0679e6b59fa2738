package netservice

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file form of a default service.
//
//	timeout: 10s
//	max_body_size: 1048576
//	user_agent: my-app/1.0
//	credential:
//	  token: secret
//	log:
//	  level: debug
//	  format: json
//	metrics:
//	  enabled: true
type Config struct {
	Timeout     time.Duration    `yaml:"timeout"`
	MaxBodySize int64            `yaml:"max_body_size"`
	UserAgent   string           `yaml:"user_agent"`
	Debug       bool             `yaml:"debug"`
	Credential  CredentialConfig `yaml:"credential"`
	Log         LogConfig        `yaml:"log"`
	Metrics     MetricsConfig    `yaml:"metrics"`
}

type CredentialConfig struct {
	Token    string `yaml:"token"`
	Scheme   string `yaml:"scheme"`
	Header   string `yaml:"header"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "console" (default) or "json".
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoadConfig reads a YAML config file and applies environment overrides.
func LoadConfig(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, rejecting unknown fields, then applies
// environment overrides. Empty input yields the zero Config.
func ParseConfig(data []byte) (Config, error) {
	var config Config

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if token := os.Getenv(TokenEnvVar); token != "" {
		config.Credential.Token = token
	}

	return config, config.Validate()
}

// Validate reports values that cannot produce a working service.
func (c Config) Validate() error {
	var problems []string

	if c.Timeout < 0 {
		problems = append(problems, "timeout must be non-negative")
	}
	if c.MaxBodySize < 0 {
		problems = append(problems, "max_body_size must be non-negative")
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}
	if c.Credential.Username == "" && c.Credential.Password != "" {
		problems = append(problems, "credential password requires a username")
	}

	if len(problems) > 0 {
		return &ServiceError{
			Type:    ErrorTypeValidation,
			Message: "invalid config",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}
	return nil
}

func (c Config) fetcherOptions() []FetcherOption {
	var options []FetcherOption
	if c.Timeout > 0 {
		options = append(options, WithFetchTimeout(c.Timeout))
	}
	if c.MaxBodySize > 0 {
		options = append(options, WithMaxBodySize(c.MaxBodySize))
	}
	if c.UserAgent != "" {
		options = append(options, WithUserAgent(c.UserAgent))
	}
	return options
}

func (c Config) serviceOptions() []Option {
	level := ParseLogLevel(c.Log.Level)
	var options []Option
	if c.Log.Format == "json" {
		options = append(options, WithLogger(NewJSONLogger(os.Stderr, level)))
	} else {
		options = append(options, WithConsoleLogger(os.Stderr, level))
	}
	if c.Debug {
		options = append(options, WithDebug())
	}
	if c.Metrics.Enabled {
		options = append(options, WithMetrics())
	}
	return options
}

func (c Config) credentialPlugin() *CredentialPlugin {
	return &CredentialPlugin{
		Token:    c.Credential.Token,
		Scheme:   c.Credential.Scheme,
		Header:   c.Credential.Header,
		Username: c.Credential.Username,
		Password: c.Credential.Password,
	}
}

// NewFromConfig builds the default chain and an HTTPFetcher from config.
// Options are applied after the config-derived ones and take precedence.
func NewFromConfig(config Config, options ...Option) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := append(config.serviceOptions(), options...)
	s := New(NewHTTPFetcher(config.fetcherOptions()...), nil, opts...)
	s.plugins = s.defaultChain(config.credentialPlugin())
	if !s.IsValid() {
		return nil, s.ValidationError()
	}
	return s, nil
}
