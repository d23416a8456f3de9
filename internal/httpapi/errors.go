package httpapi

import (
	"errors"
	"net/http"

	"agent-console/internal/backend"
	"agent-console/internal/calls"
	"agent-console/internal/connection"
	"agent-console/internal/console"
	"agent-console/pkg/logger"

	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors to HTTP status codes: local validation is 400,
// state conflicts are 409, backend failures are 502 and a rejected agent token
// is 401 so the UI navigates to login.
func statusFor(err error) int {
	var pf *connection.PartialFailureError
	switch {
	case connection.IsSessionExpired(err), errors.Is(err, backend.ErrNoToken):
		return http.StatusUnauthorized
	case errors.Is(err, calls.ErrNotReady),
		errors.Is(err, calls.ErrCallActive),
		errors.Is(err, calls.ErrSubmitInFlight),
		errors.Is(err, connection.ErrAlreadyConnecting),
		errors.Is(err, connection.ErrDisconnecting),
		errors.Is(err, connection.ErrAlreadyConnected),
		errors.Is(err, connection.ErrCanceled),
		errors.Is(err, console.ErrLocked):
		return http.StatusConflict
	case calls.IsValidation(err), errors.Is(err, connection.ErrInvalidBranch):
		return http.StatusBadRequest
	case errors.Is(err, connection.ErrConnectTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &pf),
		errors.Is(err, connection.ErrConnection),
		errors.Is(err, connection.ErrLinkFailed),
		backend.IsTransport(err),
		errors.Is(err, backend.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error, extra gin.H) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		body["error"] = "internal error"
	}
	var pf *connection.PartialFailureError
	if errors.As(err, &pf) {
		body["failed_links"] = pf.IDs()
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}
