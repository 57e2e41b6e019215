package http_server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/gologger"
	"github.com/danthegoodman1/icetree/metastore"
	"github.com/danthegoodman1/icetree/table"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type CustomContext struct {
	echo.Context
	RequestID string
}

// CreateReqContext tags the request logger with a request ID, reusing the
// client's X-Request-ID when present
func CreateReqContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := c.Request().Header.Get(echo.HeaderXRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, reqID)

		reqLogger := logger.With().Str("reqID", reqID).Logger()
		ctx := context.WithValue(c.Request().Context(), gologger.ReqIDKey, reqID)
		ctx = reqLogger.WithContext(ctx)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(&CustomContext{
			Context:   c,
			RequestID: reqID,
		})
	}
}

// ccHandler casts to the custom context once for every handler
func ccHandler(h func(*CustomContext) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		return h(c.(*CustomContext))
	}
}

func (c *CustomContext) InternalError(err error, msg string) error {
	reqLogger := zerolog.Ctx(c.Request().Context())
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		reqLogger.Warn().CallerSkipFrame(1).Err(err).Msg(msg)
	} else {
		reqLogger.Error().CallerSkipFrame(1).Err(err).Msg(msg)
	}
	return c.String(http.StatusInternalServerError, "internal error, request id: "+c.RequestID)
}

// ServiceError maps catalog and input errors to client statuses, anything
// else is an internal error
func (c *CustomContext) ServiceError(err error, msg string) error {
	switch {
	case errors.Is(err, metastore.ErrTableNotFound), errors.Is(err, metastore.ErrPartNotFound):
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, metastore.ErrTableExists), errors.Is(err, metastore.ErrPartExists):
		return c.String(http.StatusConflict, err.Error())
	case errors.Is(err, table.ErrNothingToMerge):
		return c.String(http.StatusConflict, err.Error())
	case errors.Is(err, metastore.ErrBadSchema), errors.Is(err, table.ErrNoRows), errors.Is(err, block.ErrBadValue):
		return c.String(http.StatusBadRequest, err.Error())
	}
	return c.InternalError(err, msg)
}
