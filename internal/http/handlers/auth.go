package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskhubdev/taskhub/internal/auth"
	"github.com/taskhubdev/taskhub/internal/config"
	"github.com/taskhubdev/taskhub/internal/domain/job"
	"github.com/taskhubdev/taskhub/internal/domain/user"
	"github.com/taskhubdev/taskhub/internal/jobs"
	"github.com/taskhubdev/taskhub/internal/observability"
	"github.com/taskhubdev/taskhub/internal/repo/postgres"
	"github.com/taskhubdev/taskhub/internal/security"
)

type UserReader interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
}

type UserWriter interface {
	Create(ctx context.Context, email, passwordHash, name, role string) (user.User, error)
}

type JobsCreator interface {
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
}

type AuthHandler struct {
	users      UserReader
	userWriter UserWriter
	jwt        *auth.Manager

	// nil in tests that exercise only the credential paths
	refreshStore *postgres.RefreshTokensRepo
	jobsStore    JobsCreator
	prom         *observability.Prom

	cfg config.Config
}

func NewAuthHandler(users UserReader, userWriter UserWriter, jwtManager *auth.Manager, refreshStore *postgres.RefreshTokensRepo, jobsStore JobsCreator, prom *observability.Prom, cfg config.Config) *AuthHandler {
	return &AuthHandler{
		users:        users,
		userWriter:   userWriter,
		jwt:          jwtManager,
		refreshStore: refreshStore,
		jobsStore:    jobsStore,
		prom:         prom,
		cfg:          cfg,
	}
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

const minPasswordLen = 6

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if len(req.Password) < minPasswordLen {
		RespondError(ctx, http.StatusBadRequest, "weak_credential", "Password must be at least 6 characters.", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	// name is optional; fall back to the local part of the email
	name := strings.TrimSpace(req.Name)

	if name == "" {
		name, _, _ = strings.Cut(req.Email, "@")
	}

	u, err := h.userWriter.Create(cctx, req.Email, hash, name, user.RoleUser)

	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			RespondError(ctx, http.StatusBadRequest, "email_taken", "Email is already in use.", nil)
			return
		}

		RespondServiceUnavailable(ctx, "Could not create user")
		return
	}

	accessToken, err := h.jwt.GenerateAccessToken(u.Identity())

	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	if h.refreshStore != nil {
		rawRefreshToken, jti, expiresAt, err := h.jwt.GenerateRefreshToken(u.Identity())

		if err != nil {
			RespondInternal(ctx, "Could not generate refresh token")
			return
		}

		if err := h.storeRefreshToken(cctx, u.ID, jti, rawRefreshToken, expiresAt); err != nil {
			RespondServiceUnavailable(ctx, "Could not create session")
			return
		}

		h.setRefreshCookie(ctx, rawRefreshToken, expiresAt)
	}

	h.enqueueWelcome(ctx, u)

	ctx.JSON(http.StatusCreated, gin.H{
		"user":        u.Public(),
		"accessToken": accessToken,
	})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// short timeout for DB lookup
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, req.Email)
	if err != nil {
		// only a confirmed miss is a credential failure; a store outage
		// must not masquerade as one
		if errors.Is(err, user.ErrNotFound) {
			h.countLogin("invalid")
			RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
			return
		}

		h.countLogin("error")
		RespondServiceUnavailable(ctx, "Could not verify credentials")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		h.countLogin("invalid")
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	if foundUser.IsBlocked {
		h.countLogin("blocked")
		RespondForbidden(ctx, "account_blocked", "Account is blocked.")
		return
	}

	accessToken, err := h.jwt.GenerateAccessToken(foundUser.Identity())

	if err != nil {
		h.countLogin("error")
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	if h.refreshStore != nil {
		rawRefreshToken, jti, expiresAt, err := h.jwt.GenerateRefreshToken(foundUser.Identity())

		if err != nil {
			h.countLogin("error")
			RespondInternal(ctx, "Could not generate refresh token")
			return
		}

		if err := h.storeRefreshToken(cctx, foundUser.ID, jti, rawRefreshToken, expiresAt); err != nil {
			h.countLogin("error")
			RespondServiceUnavailable(ctx, "Could not create session")
			return
		}

		h.setRefreshCookie(ctx, rawRefreshToken, expiresAt)
	}

	h.countLogin("ok")

	ctx.JSON(http.StatusOK, gin.H{
		"user":        foundUser.Public(),
		"accessToken": accessToken,
	})
}

// Refresh rotates the refresh token inside a row-locked transaction and
// issues a fresh access token.
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	raw, err := ctx.Cookie(h.refreshCookieName())

	if err != nil || raw == "" {
		RespondUnAuthorized(ctx, "no_refresh", "Missing refresh token")
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	// blocked accounts lose their sessions even if a token slipped through
	current, err := h.users.GetByID(cctx, claims.UserID)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
			return
		}

		RespondServiceUnavailable(ctx, "Could not refresh session")
		return
	}

	if current.IsBlocked {
		RespondForbidden(ctx, "account_blocked", "Account is blocked.")
		return
	}

	if h.refreshStore == nil {
		RespondUnAuthorized(ctx, "no_refresh", "Refresh sessions are not enabled")
		return
	}

	tx, err := h.refreshStore.BeginTx(cctx)

	if err != nil {
		RespondServiceUnavailable(ctx, "Could not refresh session")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	row, err := h.refreshStore.GetForUpdate(cctx, tx, claims.JTI)

	if err != nil {
		if errors.Is(err, postgres.ErrRefreshTokenNotFound) {
			RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
			return
		}

		RespondServiceUnavailable(ctx, "Could not refresh session")
		return
	}

	if row.RevokedAt != nil {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	if time.Now().UTC().After(row.ExpiresAt) {
		RespondUnAuthorized(ctx, "expired_refresh", "Refresh token expired.")
		return
	}

	// verify hash matches the presented token (prevents token substitution)

	if row.TokenHash != h.jwt.HashRefreshToken(raw) {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token.")
		return
	}

	newRaw, newJTI, newExpiresAt, err := h.jwt.GenerateRefreshToken(current.Identity())
	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	// revoke old, insert new

	err = h.refreshStore.Revoke(cctx, tx, row.ID, &newJTI)

	if err != nil {
		RespondServiceUnavailable(ctx, "Could not refresh session")
		return
	}

	newRow := postgres.RefreshTokenRow{
		ID:        newJTI,
		UserID:    row.UserID,
		TokenHash: h.jwt.HashRefreshToken(newRaw),
		ExpiresAt: newExpiresAt,
		CreatedAt: time.Now().UTC(),
	}

	err = h.refreshStore.Create(cctx, tx, newRow)

	if err != nil {
		RespondServiceUnavailable(ctx, "Could not refresh session")
		return
	}

	err = tx.Commit(cctx)

	if err != nil {
		RespondServiceUnavailable(ctx, "Could not refresh session")
		return
	}

	accessToken, err := h.jwt.GenerateAccessToken(current.Identity())
	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	h.setRefreshCookie(ctx, newRaw, newExpiresAt)

	ctx.JSON(http.StatusOK, gin.H{
		"accessToken": accessToken,
	})
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	raw, err := ctx.Cookie(h.refreshCookieName())

	if err != nil || raw == "" {
		// still clear cookie to be safe
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)
	if err != nil || h.refreshStore == nil {
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.refreshStore.BeginTx(cctx)
	if err != nil {
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}
	defer func() { _ = tx.Rollback(cctx) }()

	// revoke that one token (idempotent)
	_ = h.refreshStore.Revoke(cctx, tx, claims.JTI, nil)
	_ = tx.Commit(cctx)

	h.clearRefreshCookie(ctx)
	ctx.Status(http.StatusNoContent)
}

// Helper functions

func (h *AuthHandler) enqueueWelcome(ctx *gin.Context, u user.User) {
	if h.jobsStore == nil {
		return
	}

	payload := jobs.SendWelcomePayload{
		UserID:      u.ID,
		Email:       u.Email,
		Name:        u.Name,
		RequestedAt: time.Now().UTC(),
		RequestID:   requestIDFrom(ctx),
	}

	raw, err := jobs.EncodePayload(jobs.JobSendWelcome, payload)
	if err != nil {
		slog.Default().WarnContext(ctx.Request.Context(), "welcome job encode failed", "error", err, "user_id", u.ID)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	// the signup itself never fails on queue trouble
	_, err = h.jobsStore.Create(cctx, job.CreateRequest{
		Type:    string(jobs.JobSendWelcome),
		Payload: raw,
		UserID:  &u.ID,
	})

	if err != nil {
		slog.Default().WarnContext(ctx.Request.Context(), "welcome job enqueue failed", "error", err, "user_id", u.ID)
	}
}

func (h *AuthHandler) countLogin(outcome string) {
	if h.prom != nil {
		h.prom.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *AuthHandler) storeRefreshToken(ctx context.Context, userID, jti, raw string, expiresAt time.Time) error {
	tx, err := h.refreshStore.BeginTx(ctx)

	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := postgres.RefreshTokenRow{
		ID:        jti,
		UserID:    userID,
		TokenHash: h.jwt.HashRefreshToken(raw),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	err = h.refreshStore.Create(ctx, tx, row)

	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (h *AuthHandler) refreshCookieName() string {
	return "refresh_token"
}

func (h *AuthHandler) setRefreshCookie(ctx *gin.Context, raw string, expiresAt time.Time) {
	secure := h.cfg.Env == "prod"

	maxAge := int(time.Until(expiresAt).Seconds())

	ctx.SetSameSite(http.SameSiteStrictMode)

	ctx.SetCookie(
		h.refreshCookieName(),
		raw,
		maxAge,
		"/api/auth",
		"",
		secure,
		true, // HttpOnly.
	)
}

func (h *AuthHandler) clearRefreshCookie(ctx *gin.Context) {
	secure := h.cfg.Env == "prod"
	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(
		h.refreshCookieName(),
		"",
		-1,
		"/api/auth",
		"",
		secure,
		true,
	)
}
