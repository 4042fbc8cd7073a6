package middlewares_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/taskhubdev/taskhub/internal/auth"
	"github.com/taskhubdev/taskhub/internal/domain/user"
	"github.com/taskhubdev/taskhub/internal/http/middlewares"
	"github.com/taskhubdev/taskhub/internal/identity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeUserGetter struct {
	getFn func(ctx context.Context, id string) (user.User, error)
}

func (f *fakeUserGetter) GetByID(ctx context.Context, id string) (user.User, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}

	return user.User{ID: id}, nil
}

func newManager() *auth.Manager {
	return auth.NewManager("test-secret", 15*time.Minute, 24*time.Hour)
}

func tokenFor(t *testing.T, m *auth.Manager, id identity.Identity) string {
	t.Helper()

	token, err := m.GenerateAccessToken(id)

	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	return token
}

func TestRequireAuth(t *testing.T) {
	m := newManager()

	userID := uuid.NewString()
	ident := identity.Identity{UserID: userID, Email: "ada@example.com", Role: user.RoleUser}

	validToken := tokenFor(t, m, ident)

	expiredManager := auth.NewManager("test-secret", -time.Minute, 24*time.Hour)
	expiredToken := tokenFor(t, expiredManager, ident)

	tests := []struct {
		name           string
		authHeader     string
		usersSetUp     func(*fakeUserGetter)
		wantStatusCode int
	}{
		{
			name:           "missing_header",
			authHeader:     "",
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "not_bearer",
			authHeader:     "Basic abc123",
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "garbage_token",
			authHeader:     "Bearer not.a.jwt",
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "expired_token",
			authHeader:     "Bearer " + expiredToken,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:       "valid_token",
			authHeader: "Bearer " + validToken,
			usersSetUp: func(f *fakeUserGetter) {
				f.getFn = func(ctx context.Context, id string) (user.User, error) {
					return user.User{ID: id, Email: "ada@example.com", Role: user.RoleUser}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:       "user_deleted",
			authHeader: "Bearer " + validToken,
			usersSetUp: func(f *fakeUserGetter) {
				f.getFn = func(ctx context.Context, id string) (user.User, error) {
					return user.User{}, user.ErrNotFound
				}
			},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:       "user_blocked",
			authHeader: "Bearer " + validToken,
			usersSetUp: func(f *fakeUserGetter) {
				f.getFn = func(ctx context.Context, id string) (user.User, error) {
					return user.User{ID: id, IsBlocked: true}, nil
				}
			},
			wantStatusCode: http.StatusForbidden,
		},
		{
			name:       "store_down",
			authHeader: "Bearer " + validToken,
			usersSetUp: func(f *fakeUserGetter) {
				f.getFn = func(ctx context.Context, id string) (user.User, error) {
					return user.User{}, errors.New("connection refused")
				}
			},
			wantStatusCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			users := &fakeUserGetter{}

			if tt.usersSetUp != nil {
				tt.usersSetUp(users)
			}

			mw := middlewares.NewAuthMiddleware(m, users)

			r := gin.New()
			r.GET("/protected", mw.RequireAuth(), func(c *gin.Context) {
				gotID, ok := middlewares.UserIDFromContext(c)

				if !ok || gotID != userID {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "identity not propagated"})
					return
				}

				ident, ok := middlewares.IdentityFromContext(c)

				if !ok || ident.UserID != userID {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "request context identity missing"})
					return
				}

				c.JSON(http.StatusOK, gin.H{"ok": true})
			})

			req := httptest.NewRequest(http.MethodGet, "/protected", nil)

			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	m := newManager()

	adminID := uuid.NewString()
	plainID := uuid.NewString()

	adminToken := tokenFor(t, m, identity.Identity{UserID: adminID, Email: "root@example.com", Role: user.RoleAdmin})
	plainToken := tokenFor(t, m, identity.Identity{UserID: plainID, Email: "ada@example.com", Role: user.RoleUser})

	users := &fakeUserGetter{
		getFn: func(ctx context.Context, id string) (user.User, error) {
			role := user.RoleUser
			if id == adminID {
				role = user.RoleAdmin
			}
			return user.User{ID: id, Role: role}, nil
		},
	}

	mw := middlewares.NewAuthMiddleware(m, users)

	r := gin.New()
	r.GET("/admin", mw.RequireAuth(), mw.RequireRole(user.RoleAdmin), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	tests := []struct {
		name           string
		token          string
		wantStatusCode int
	}{
		{name: "admin_allowed", token: adminToken, wantStatusCode: http.StatusOK},
		{name: "user_forbidden", token: plainToken, wantStatusCode: http.StatusForbidden},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}
