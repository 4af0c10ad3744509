package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"form-relay/internal/model"
	"form-relay/internal/service"
)

// RelayHandler serves the relay route.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
	}
}

// Handle forwards the request body upstream. A successful upstream call is
// answered with 200 and the upstream body regardless of the upstream's 2xx
// code; failures carry the upstream status (or 500) and {"error": msg}.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return h.readError(c, err)
	}

	h.logger.Info("relay request received",
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		"remote_ip", c.RealIP(),
		"bytes_in", len(body),
	)

	resp, err := h.service.Forward(&model.InboundRequest{
		Ctx:    req.Context(),
		Header: req.Header,
		Body:   body,
	})
	if err != nil {
		return h.mapError(c, err)
	}

	h.logger.Info("upstream responded",
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		"upstream_status", resp.StatusCode,
		"bytes_out", len(resp.Body),
	)

	return c.JSONBlob(http.StatusOK, jsonBody(resp.Body))
}

// jsonBody returns the upstream body as JSON: verbatim when it already is,
// otherwise encoded as a JSON string.
func jsonBody(body []byte) []byte {
	if json.Valid(body) {
		return body
	}
	encoded, err := json.Marshal(string(body))
	if err != nil {
		return []byte(`""`)
	}
	return encoded
}

func (h *RelayHandler) mapError(c echo.Context, err error) error {
	if ue, ok := service.IsUpstreamError(err); ok {
		h.logger.Warn("upstream request failed",
			"err", err,
			"status", ue.HTTPStatus(),
		)
		return c.JSON(ue.HTTPStatus(), errorBody(ue.Message))
	}

	h.logger.Error("relay error", "err", err)
	return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
}

func (h *RelayHandler) readError(c echo.Context, err error) error {
	status := http.StatusBadRequest
	msg := err.Error()

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	}

	h.logger.Warn("read request body", "err", err, "status", status)
	return c.JSON(status, errorBody(msg))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
