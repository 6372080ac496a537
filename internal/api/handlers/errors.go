package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ledger-stack/ledger_service/pkg/errors"
)

// ErrorResponse is the wire shape for every error.
type ErrorResponse struct {
	Timestamp        time.Time         `json:"timestamp"`
	Status           int               `json:"status"`
	Error            string            `json:"error"`
	Message          string            `json:"message"`
	Path             string            `json:"path"`
	ValidationErrors map[string]string `json:"validationErrors,omitempty"`
	TransactionID    string            `json:"transactionId,omitempty"`
}

// SendError maps an application error onto the wire. Internal causes
// are logged upstream and never leak into the body.
func SendError(c *gin.Context, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal(err)
	}

	if appErr.StatusCode == http.StatusServiceUnavailable {
		c.Header("Retry-After", "30")
	}

	c.JSON(appErr.StatusCode, ErrorResponse{
		Timestamp:     time.Now().UTC(),
		Status:        appErr.StatusCode,
		Error:         appErr.Code,
		Message:       appErr.Message,
		Path:          c.Request.URL.Path,
		TransactionID: appErr.TransactionID,
	})
}

// SendValidationError returns a 400 with per-field detail.
func SendValidationError(c *gin.Context, message string, fields map[string]string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Timestamp:        time.Now().UTC(),
		Status:           http.StatusBadRequest,
		Error:            apperrors.CodeInvalidValue,
		Message:          message,
		Path:             c.Request.URL.Path,
		ValidationErrors: fields,
	})
}
