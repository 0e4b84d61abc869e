package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/billing-engine/internal/logger"
	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
)

// ErrorHandler обрабатывает ошибки централизованно.
// Маскирует внутренние ошибки и возвращает понятные сообщения клиенту.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Проверяем, не был ли уже отправлен ответ
		if c.Writer.Written() {
			return
		}

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		statusCode := http.StatusInternalServerError
		message := "внутренняя ошибка сервера"
		code := apperror.ErrCodeInternal

		var appErr *apperror.AppError
		switch {
		case errors.As(err, &appErr):
			statusCode = appErr.HTTPStatus
			message = appErr.Message
			code = appErr.Code
		case errors.Is(err, apperror.ErrOfferNotFound),
			errors.Is(err, apperror.ErrContractNotFound),
			errors.Is(err, apperror.ErrEscrowNotFound),
			errors.Is(err, apperror.ErrBillingUnitNotFound),
			errors.Is(err, apperror.ErrBatchNotFound),
			errors.Is(err, apperror.ErrInvoiceNotFound),
			errors.Is(err, apperror.ErrRequestNotFound):
			statusCode = http.StatusNotFound
			message = err.Error()
			code = apperror.ErrCodeNotFound
		}

		if logger.Log != nil {
			entry := logger.Log.WithFields(logrus.Fields{
				"error":  err.Error(),
				"code":   code,
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			})
			if statusCode >= http.StatusInternalServerError {
				entry.Error("Request error")
			} else {
				entry.Warn("Request rejected")
			}
		}

		c.JSON(statusCode, gin.H{"error": message, "code": code})
	}
}
