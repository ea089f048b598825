package middleware

import (
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/web"
)

// RecoveryConfig configures panic recovery middleware
type RecoveryConfig struct {
	Logger core.Logger

	// StackTrace puts the panic value in the response body
	StackTrace bool
}

// DefaultRecoveryConfig returns a default recovery configuration
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{Logger: core.NewDefaultLogger()}
}

// Recovery middleware recovers from panics and returns 500
func Recovery(config RecoveryConfig) web.FastMiddleware {
	logger := config.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				logger.Error("panic recovered",
					"request_id", ctx.RequestID(),
					"method", string(ctx.Method()),
					"path", string(ctx.Path()),
					"panic", r)

				msg := "Internal Server Error"
				if config.StackTrace {
					msg = fmt.Sprintf("Panic: %v", r)
				}
				ctx.RequestCtx.ResetBody()
				err = ctx.JSON(fasthttp.StatusInternalServerError, map[string]string{
					"error":      "internal_server_error",
					"message":    msg,
					"request_id": ctx.RequestID(),
				})
			}()

			return next(ctx)
		}
	}
}

// AccessLog logs one line per request at debug level, and at warn level
// for 5xx responses
func AccessLog(logger core.Logger) web.FastMiddleware {
	if logger == nil {
		logger = core.NopLogger()
	}
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			start := time.Now()
			err := next(ctx)

			status := ctx.RequestCtx.Response.StatusCode()
			args := []interface{}{
				"request_id", ctx.RequestID(),
				"method", string(ctx.Method()),
				"path", string(ctx.Path()),
				"status", status,
				"elapsed", time.Since(start),
			}
			if err != nil {
				args = append(args, "error", err)
			}
			if status >= 500 || err != nil {
				logger.Warn(append([]interface{}{"request failed"}, args...)...)
			} else {
				logger.Debug(append([]interface{}{"request"}, args...)...)
			}
			return err
		}
	}
}
