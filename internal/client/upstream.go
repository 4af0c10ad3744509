// Package client provides the HTTP client used to reach the relay's upstream.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"form-relay/internal/config"
	"form-relay/internal/metrics"
	"form-relay/internal/model"
)

// UpstreamClient sends requests to the configured upstream.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Post sends body to url with exactly the given header and returns the
// fully read response. Any status code is returned as a response; only
// transport failures produce an error.
func (c *UpstreamClient) Post(ctx context.Context, url string, header http.Header, body []byte) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	c.logger.Debug("upstream request",
		"url", url,
		"bytes_out", len(body),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(start, 0)
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	c.observe(start, resp.StatusCode)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// observe records latency and outcome; status 0 means no response arrived.
func (c *UpstreamClient) observe(start time.Time, status int) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	if status == 0 {
		c.metrics.UpstreamFailures.Inc()
		return
	}
	c.metrics.UpstreamResponses.WithLabelValues(strconv.Itoa(status)).Inc()
}
