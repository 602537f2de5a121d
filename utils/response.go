package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "byteme/errors"
)

// Envelope is the body every service answers with.
type Envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Code: http.StatusOK, Message: message, Data: data})
}

func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, Envelope{Code: http.StatusCreated, Message: message, Data: data})
}

func Fail(c *gin.Context, status int, message string) {
	c.JSON(status, Envelope{Code: status, Message: message})
}

// classified returns the outermost application error in err's chain, or nil
// when there is none. A typed error wrapping another typed error decides the
// response on its own.
func classified(err error) error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch e.(type) {
		case *apperrors.NotFoundError,
			*apperrors.ValidationError,
			*apperrors.ConflictError,
			*apperrors.ForbiddenError,
			*apperrors.UpstreamError,
			*apperrors.InternalError:
			return e
		}
	}
	return nil
}

// StatusFor maps an application error to its HTTP status.
func StatusFor(err error) int {
	switch e := classified(err).(type) {
	case *apperrors.NotFoundError:
		return http.StatusNotFound
	case *apperrors.ValidationError:
		return http.StatusBadRequest
	case *apperrors.ConflictError:
		return http.StatusConflict
	case *apperrors.ForbiddenError:
		return http.StatusForbidden
	case *apperrors.UpstreamError:
		if e.Status >= 400 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err using the envelope. Unclassified errors are reported
// with fallback instead of their text, and causes are never exposed.
func Error(c *gin.Context, err error, fallback string) {
	_ = c.Error(err)
	status := StatusFor(err)

	var message string
	switch e := classified(err).(type) {
	case *apperrors.NotFoundError:
		message = e.Message
	case *apperrors.ConflictError:
		message = e.Message
	case *apperrors.ForbiddenError:
		message = e.Message
	case *apperrors.UpstreamError:
		message = e.Message
	case *apperrors.InternalError:
		message = e.Message
	case *apperrors.ValidationError:
		if len(e.Details) > 1 {
			c.JSON(status, Envelope{Code: status, Message: e.Message, Data: e.Details})
			return
		}
		message = e.Message
	}
	if message == "" {
		message = fallback
	}
	c.JSON(status, Envelope{Code: status, Message: message})
}
