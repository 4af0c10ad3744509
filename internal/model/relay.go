// Package model defines shared types for the relay.
package model

import (
	"context"
	"net/http"
)

// InboundRequest is a caller's request to the relay route. Header is kept
// for logging only; none of it is sent upstream.
type InboundRequest struct {
	Ctx    context.Context
	Header http.Header
	Body   []byte
}

// UpstreamResponse is the fully read response returned by the upstream.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
