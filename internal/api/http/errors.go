package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/framelink/internal/protocol"
)

// StatusFor maps a session error to an HTTP status.
func StatusFor(err error) int {
	var (
		verr *protocol.ValidationError
		uerr *protocol.UnknownSessionError
		perr *protocol.ProtocolError
		terr *protocol.TransportError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &uerr):
		return http.StatusNotFound
	case errors.As(err, &perr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &terr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	h.logFailure(c, status, err)
	_ = c.Error(err)

	body := gin.H{
		"success": false,
		"error":   err.Error(),
	}

	var (
		verr *protocol.ValidationError
		perr *protocol.ProtocolError
		terr *protocol.TransportError
	)
	switch {
	case errors.As(err, &perr):
		body["name"] = perr.Name
		body["message"] = perr.Message
		if perr.Method != "" {
			body["method"] = perr.Method
		}
	case errors.As(err, &verr):
		body["name"] = verr.Name()
		body["message"] = verr.Message
	case errors.As(err, &terr):
		body["kind"] = terr.Kind.String()
	}

	c.AbortWithStatusJSON(status, body)
}
