package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/pkg/retry"
	"github.com/c360/chatsession/pkg/tlsutil"
	"github.com/c360/chatsession/session"
)

// Config holds configuration for the webhook sink
type Config struct {
	URL         string               `json:"url"          yaml:"url"`
	Headers     map[string]string    `json:"headers"      yaml:"headers"`
	Timeout     time.Duration        `json:"timeout"      yaml:"timeout"`
	RetryCount  int                  `json:"retry_count"  yaml:"retry_count"`
	ContentType string               `json:"content_type" yaml:"content_type"`
	RateLimit   float64              `json:"rate_limit"   yaml:"rate_limit"` // posts per second, 0 is unlimited
	RateBurst   int                  `json:"rate_burst"   yaml:"rate_burst"`
	TLS         tlsutil.ClientConfig `json:"tls"          yaml:"tls"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "invalid URL format")
	}

	if c.Timeout < 0 || c.Timeout > 5*time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 5m")
	}

	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_count must be between 0 and 10")
	}

	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit and rate_burst cannot be negative")
	}

	return c.TLS.Validate()
}

// DefaultConfig returns default configuration for the webhook sink
func DefaultConfig() Config {
	return Config{
		URL:         "http://localhost:8080/webhook",
		Headers:     make(map[string]string),
		Timeout:     30 * time.Second,
		RetryCount:  3,
		ContentType: "application/json",
	}
}

// Sink posts every session publication to a webhook as a JSON record
type Sink struct {
	url         string
	headers     map[string]string
	contentType string
	retry       retry.Config
	limiter     *rate.Limiter
	httpClient  *http.Client
	logger      *slog.Logger
	now         func() time.Time

	messagesSent    int64
	messagesRetried int64
	errors          int64
}

var _ session.Sink = (*Sink)(nil)

// New creates a webhook sink
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	httpClient := &http.Client{Timeout: timeout}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, errors.WrapFatal(err, "httppost-sink", "New", "load TLS config")
	}
	if tlsConfig != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst == 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Sink{
		url:         cfg.URL,
		limiter:     limiter,
		headers:     cfg.Headers,
		contentType: contentType,
		retry: retry.Config{
			MaxAttempts:  cfg.RetryCount + 1,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		},
		httpClient: httpClient,
		logger:     logger.With("component", "httppost-sink"),
		now:        time.Now,
	}, nil
}

// Publish posts the record, retrying transport failures and 5xx answers
func (s *Sink) Publish(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(session.NewRecord(key, value, s.now()))
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		return errors.WrapInvalid(err, "httppost-sink", "Publish", "marshal record")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		atomic.AddInt64(&s.errors, 1)
		return errors.WrapTransient(err, "httppost-sink", "Publish", "wait for rate limit")
	}

	attempt := 0
	err = retry.Do(ctx, s.retry, func() error {
		attempt++
		if attempt > 1 {
			atomic.AddInt64(&s.messagesRetried, 1)
		}
		return s.post(ctx, data)
	})
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		s.logger.Warn("Webhook post failed", "key", key, "attempts", attempt, "error", err)
		return errors.WrapTransient(err, "httppost-sink", "Publish", fmt.Sprintf("post %s", key))
	}

	atomic.AddInt64(&s.messagesSent, 1)
	return nil
}

func (s *Sink) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return retry.NonRetryable(err)
	}

	req.Header.Set("Content-Type", s.contentType)
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	default:
		return retry.NonRetryable(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	}
}

// Sent returns the number of records delivered
func (s *Sink) Sent() int64 { return atomic.LoadInt64(&s.messagesSent) }

// Retried returns the number of retried posts
func (s *Sink) Retried() int64 { return atomic.LoadInt64(&s.messagesRetried) }

// Errors returns the number of records that could not be delivered
func (s *Sink) Errors() int64 { return atomic.LoadInt64(&s.errors) }
