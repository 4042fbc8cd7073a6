package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskhubdev/taskhub/internal/config"
	"github.com/taskhubdev/taskhub/internal/domain/user"
	"github.com/taskhubdev/taskhub/internal/utils"
)

type AdminUserStore interface {
	ListCursor(ctx context.Context, limit int, afterCreatedAt time.Time, afterID string) ([]user.User, bool, error)
	SetBlocked(ctx context.Context, id string, blocked bool) (user.User, error)
}

// SessionRevoker invalidates every refresh token a user holds.
type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string) error
}

type AdminUsersHandler struct {
	store    AdminUserStore
	sessions SessionRevoker // nil when refresh tokens are not wired
}

func NewAdminUsersHandler(store AdminUserStore, sessions SessionRevoker) *AdminUsersHandler {
	return &AdminUsersHandler{
		store:    store,
		sessions: sessions,
	}
}

type SetBlockedRequest struct {
	IsBlocked *bool `json:"isBlocked"`
	Blocked   *bool `json:"blocked"`
}

func (h *AdminUsersHandler) ListUsers(ctx *gin.Context) {
	limit := parseIntDefault(ctx.Query("limit"), 20, 1, 100)

	var (
		afterCreatedAt time.Time
		afterID        string
	)

	rawCursor := ctx.Query("cursor")

	if rawCursor != "" {
		cur, err := utils.DecodeUserCursor(rawCursor)

		if err != nil {
			RespondBadRequest(ctx, "Invalid cursor", nil)
			return
		}

		afterCreatedAt = cur.CreatedAt
		afterID = cur.ID
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	users, hasMore, err := h.store.ListCursor(cctx, limit, afterCreatedAt, afterID)

	if err != nil {
		RespondServiceUnavailable(ctx, "Could not list users")
		return
	}

	views := make([]user.PublicView, 0, len(users))

	for _, u := range users {
		views = append(views, u.Public())
	}

	resp := gin.H{"users": views}

	if hasMore && len(users) > 0 {
		last := users[len(users)-1]

		next, err := utils.EncodeUserCursor(last.CreatedAt, last.ID)
		if err == nil {
			resp["nextCursor"] = next
		}
	}

	ctx.JSON(http.StatusOK, resp)
}

func (h *AdminUsersHandler) SetBlocked(ctx *gin.Context) {
	targetID := ctx.Param("id")

	if !utils.IsUUID(targetID) {
		RespondNotFound(ctx, "User not found")
		return
	}

	var req SetBlockedRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// accept either key; older clients send "blocked"
	blocked := req.IsBlocked

	if blocked == nil {
		blocked = req.Blocked
	}

	if blocked == nil {
		RespondBadRequest(ctx, "isBlocked is required", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	updated, err := h.store.SetBlocked(cctx, targetID, *blocked)

	if err != nil {
		switch {
		case errors.Is(err, user.ErrAdminTarget):
			RespondForbidden(ctx, "admin_target", "Admin accounts cannot be blocked.")
		case errors.Is(err, user.ErrNotFound):
			RespondNotFound(ctx, "User not found")
		default:
			RespondServiceUnavailable(ctx, "Could not update user")
		}
		return
	}

	if *blocked && h.sessions != nil {
		// best effort; the auth middleware rejects blocked accounts anyway
		if err := h.sessions.RevokeAllForUser(cctx, updated.ID); err != nil {
			slog.Default().WarnContext(ctx.Request.Context(), "session revoke failed", "error", err, "user_id", updated.ID)
		}
	}

	ctx.JSON(http.StatusOK, gin.H{"user": updated.Public()})
}
