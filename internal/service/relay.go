// Package service implements the relay forwarding logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"form-relay/internal/client"
	"form-relay/internal/config"
	"form-relay/internal/model"
)

const userAgent = "form-relay/1.0"

// Poster performs the outbound upstream call.
type Poster interface {
	Post(ctx context.Context, url string, header http.Header, body []byte) (*model.UpstreamResponse, error)
}

var _ Poster = (*client.UpstreamClient)(nil)

// UpstreamError is returned when the upstream call does not succeed.
// StatusCode is zero when no response was received.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string { return e.Message }

func (e *UpstreamError) Unwrap() error { return e.Err }

// HTTPStatus is the status reported to the caller: the upstream's own
// status when one arrived, otherwise 500.
func (e *UpstreamError) HTTPStatus() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// RelayService forwards inbound bodies to the single configured upstream.
// Its fields are set at construction and only read afterwards.
type RelayService struct {
	client      Poster
	logger      *slog.Logger
	upstreamURL string
	header      http.Header
	encoding    string
}

// NewRelayService creates a RelayService for the upstream described in cfg.
func NewRelayService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*RelayService, error) {
	return newRelayService(c, cfg, logger)
}

func newRelayService(p Poster, cfg *config.Config, logger *slog.Logger) (*RelayService, error) {
	u, err := url.Parse(cfg.Upstream.URL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream url %q is not absolute", cfg.Upstream.URL)
	}

	header := make(http.Header)
	header.Set("Referer", cfg.Upstream.Referer)
	header.Set("Content-Type", cfg.Upstream.ContentType)
	header.Set("Accept", "application/json, text/plain, */*")
	header.Set("User-Agent", userAgent)

	return &RelayService{
		client:      p,
		logger:      logger.With("component", "relay_service"),
		upstreamURL: u.String(),
		header:      header,
		encoding:    cfg.Upstream.BodyEncoding,
	}, nil
}

// Forward sends the inbound body to the upstream with the fixed outbound
// headers and returns the upstream response when its status is 2xx.
// Every other outcome is reported as an *UpstreamError.
func (s *RelayService) Forward(req *model.InboundRequest) (*model.UpstreamResponse, error) {
	payload := s.encodeBody(req.Body)

	s.logger.Debug("forwarding request",
		"url", s.upstreamURL,
		"bytes_in", len(req.Body),
		"bytes_out", len(payload),
	)

	resp, err := s.client.Post(req.Ctx, s.upstreamURL, s.header.Clone(), payload)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Request failed with status code %d", resp.StatusCode),
		}
	}
	return resp, nil
}

// encodeBody renders the payload sent upstream. Bodies that are not a JSON
// object pass through unchanged.
func (s *RelayService) encodeBody(body []byte) []byte {
	if s.encoding != config.EncodingForm {
		return body
	}
	form, err := encodeForm(body)
	if err != nil {
		return body
	}
	return form
}

// IsUpstreamError reports whether err carries an *UpstreamError and returns it.
func IsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
