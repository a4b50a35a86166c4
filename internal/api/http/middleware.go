package http

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/auth-session/internal/api/dto"
	"github.com/spec-kit/auth-session/internal/auth"
	"github.com/spec-kit/auth-session/internal/observability"
	"github.com/spec-kit/auth-session/internal/session"
	apperrors "github.com/spec-kit/auth-session/pkg/util"
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(errorHandlingMiddleware(logger, metrics))
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// errorHandlingMiddleware renders every handler error, panics included, as a
// dto.ErrorResponse. 5xx responses are logged with the caller's user id.
func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err == nil {
				return
			}
			domainErr := apperrors.ToDomainError(err)
			metrics.RecordError(c.Path(), c.Method(), domainErr.Code)

			var snapshot *session.State
			if state, ok := auth.StateFromContext(c); ok {
				snapshot = &state
			}
			if domainErr.HTTPStatus >= 500 {
				fields := []zap.Field{zap.String("path", c.Path()), zap.Error(domainErr)}
				if snapshot != nil && snapshot.User != nil {
					fields = append(fields, zap.String("user_id", snapshot.User.ID))
				}
				logger.Error("request failed", fields...)
			}
			err = c.Status(domainErr.HTTPStatus).JSON(dto.NewErrorResponse(domainErr, snapshot))
		}()
		return c.Next()
	}
}
