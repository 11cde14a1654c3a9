package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ErrorHandler renders errors returned by handlers as ErrorBody. A *fiber.Error
// keeps its status; anything else is a 500 whose detail is logged, not sent.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		message := "internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			message = fe.Message
		} else if logger != nil {
			logger.Error("unhandled error",
				slog.String("path", c.Path()),
				slog.String("request_id", GetRequestID(c)),
				slog.Any("error", err),
			)
		}

		return c.Status(status).JSON(ErrorBody{Message: message, Code: statusCode(status)})
	}
}

// statusCode turns 404 into "NOT_FOUND" and so on.
func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "ERROR"
	}
	return strings.ToUpper(strings.ReplaceAll(text, " ", "_"))
}
