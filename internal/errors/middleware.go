// Package errors provides standardized error handling for the Custard gateway API.
//
// ErrorHandler and Recovery are gin middleware: ErrorHandler drains
// c.Errors and renders the last one as the response body, logging 5xx at
// error level and 4xx at warn level; Recovery turns a panic into a 500
// instead of killing the connection. HandleError and AbortWithError are
// handler-side helpers for the common case of returning a single error
// immediately.
package errors

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/custard/gateway/internal/logger"
)

// ErrorHandler is a middleware that handles errors consistently
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last()
		log := logger.HTTP()

		if appErr, ok := err.Err.(*AppError); ok {
			if appErr.StatusCode >= 500 {
				log.Error().Str("code", appErr.Code).Str("details", appErr.Details).Msg(appErr.Message)
			} else {
				log.Warn().Str("code", appErr.Code).Msg(appErr.Message)
			}
			c.JSON(appErr.StatusCode, appErr.ToResponse())
			return
		}

		log.Error().Err(err.Err).Msg("unhandled error")
		internalErr := Internal(err.Err)
		c.JSON(internalErr.StatusCode, internalErr.ToResponse())
	}
}

// Recovery is a middleware that recovers from panics
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.HTTP().Error().Interface("panic", r).Msg("recovered from panic")
				internalErr := Internal(fmt.Errorf("%v", r))
				c.JSON(internalErr.StatusCode, internalErr.ToResponse())
				c.Abort()
			}
		}()

		c.Next()
	}
}

// HandleError is a helper function to handle errors in handlers
func HandleError(c *gin.Context, err error) {
	if appErr, ok := err.(*AppError); ok {
		c.Error(appErr)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
	} else {
		internalErr := Internal(err)
		c.Error(internalErr)
		c.JSON(internalErr.StatusCode, internalErr.ToResponse())
	}
}

// AbortWithError is a helper to abort request with error
func AbortWithError(c *gin.Context, err *AppError) {
	c.Error(err)
	c.AbortWithStatusJSON(err.StatusCode, err.ToResponse())
}
