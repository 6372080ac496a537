package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ledger-stack/ledger_service/internal/api/middleware"
	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	apperrors "github.com/ledger-stack/ledger_service/pkg/errors"
	"github.com/ledger-stack/ledger_service/pkg/logger"
)

// UserStore reads the users and roles tables.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*entities.User, error)
	GetRoles(ctx context.Context, username string) ([]string, error)
}

// UserHandlers serves the caller's own user record.
type UserHandlers struct {
	users  UserStore
	logger *logger.Logger
}

// NewUserHandlers creates the user HTTP facade.
func NewUserHandlers(users UserStore, log *logger.Logger) *UserHandlers {
	return &UserHandlers{users: users, logger: log}
}

// Me handles GET /api/users/me. The record is looked up by the token
// subject; roles come from the database, not the token, so the caller
// can see what a freshly issued token would carry.
func (h *UserHandlers) Me(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	user, err := h.users.GetByUsername(c.Request.Context(), principal.Name)
	if err != nil {
		SendError(c, err)
		return
	}

	roles, err := h.users.GetRoles(c.Request.Context(), principal.Name)
	if err != nil {
		SendError(c, apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user, "roles": roles})
}
