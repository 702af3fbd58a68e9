package sinks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPConfig controls a generic bulk-POST HTTP transport covering
// HEC-style and bulk-indexing endpoints alike: one endpoint, one auth
// header, one content type, a batch body built by concatenating already
// wire-encoded records.
type HTTPConfig struct {
	URL             string            `yaml:"url"`
	Method          string            `yaml:"method"`
	AuthHeader      string            `yaml:"auth_header"`
	AuthValue       string            `yaml:"auth_value"`
	ContentType     string            `yaml:"content_type"`
	Timeout         time.Duration     `yaml:"timeout"`
	ExtraHeaders    map[string]string `yaml:"extra_headers"`
	RecordSeparator string            `yaml:"record_separator"`
}

func (c *HTTPConfig) applyDefaults() {
	if c.Method == "" {
		c.Method = http.MethodPost
	}
	if c.ContentType == "" {
		c.ContentType = "application/json"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RecordSeparator == "" {
		c.RecordSeparator = "\n"
	}
}

// HTTPTransport implements sinkrt.Transport as a single bulk POST per
// batch: a shared *http.Client, a per-request auth header, and every
// failed request left to the sink runtime's own retry loop, which treats
// all errors alike (HTTPTransport itself never retries).
type HTTPTransport struct {
	config HTTPConfig
	logger *logrus.Logger
	client *http.Client
}

// NewHTTPTransport builds an HTTPTransport with a bounded-timeout client.
func NewHTTPTransport(config HTTPConfig, logger *logrus.Logger) (*HTTPTransport, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("http transport: no url configured")
	}
	config.applyDefaults()
	return &HTTPTransport{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Send joins every encoded record with the configured separator and
// issues one request for the whole batch. A non-2xx response is reported
// as an error so the sink runtime's retry-then-rescue policy applies.
// Retryable and terminal status codes are not told apart, here or in
// Runtime.deliver: every failure is retried up to MaxRetries, then rescued.
func (ht *HTTPTransport) Send(ctx context.Context, encoded [][]byte) error {
	var body bytes.Buffer
	sep := []byte(ht.config.RecordSeparator)
	for i, payload := range encoded {
		if i > 0 {
			body.Write(sep)
		}
		body.Write(payload)
	}

	req, err := http.NewRequestWithContext(ctx, ht.config.Method, ht.config.URL, &body)
	if err != nil {
		return fmt.Errorf("http transport: build request failed: %w", err)
	}
	req.Header.Set("Content-Type", ht.config.ContentType)
	if ht.config.AuthHeader != "" {
		req.Header.Set(ht.config.AuthHeader, ht.config.AuthValue)
	}
	for k, v := range ht.config.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := ht.client.Do(req)
	if err != nil {
		return fmt.Errorf("http transport: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http transport: non-2xx response: %d", resp.StatusCode)
	}
	return nil
}

// Sync is a no-op: each Send call is already a synchronous round trip.
func (ht *HTTPTransport) Sync() error { return nil }
