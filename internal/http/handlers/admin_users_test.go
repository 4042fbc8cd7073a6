package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskhubdev/taskhub/internal/domain/user"
	"github.com/taskhubdev/taskhub/internal/http/handlers"
	"github.com/taskhubdev/taskhub/internal/utils"
)

// Fake implementation of the handlers.AdminUserStore interface

type fakeAdminStore struct {
	listCursorFn func(ctx context.Context, limit int, afterCreatedAt time.Time, afterID string) ([]user.User, bool, error)
	setBlockedFn func(ctx context.Context, id string, blocked bool) (user.User, error)
}

func (f *fakeAdminStore) ListCursor(ctx context.Context, limit int, afterCreatedAt time.Time, afterID string) ([]user.User, bool, error) {
	if f.listCursorFn != nil {
		return f.listCursorFn(ctx, limit, afterCreatedAt, afterID)
	}

	return nil, false, nil
}

func (f *fakeAdminStore) SetBlocked(ctx context.Context, id string, blocked bool) (user.User, error) {
	if f.setBlockedFn != nil {
		return f.setBlockedFn(ctx, id, blocked)
	}

	return user.User{}, nil
}

type fakeRevoker struct {
	revokedUserIDs []string
	err            error
}

func (f *fakeRevoker) RevokeAllForUser(ctx context.Context, userID string) error {
	f.revokedUserIDs = append(f.revokedUserIDs, userID)

	return f.err
}

func TestListUsersHandler(t *testing.T) {
	now := time.Now().UTC()

	validCursor, err := utils.EncodeUserCursor(now.Add(-time.Hour), newUUID())

	if err != nil {
		t.Fatalf("failed to build cursor: %v", err)
	}

	tests := []struct {
		name           string
		url            string
		storeSetUp     func(*fakeAdminStore)
		wantStatusCode int
		wantNextCursor bool
	}{
		{
			name: "first_page",
			url:  "/api/admin/users?limit=2",
			storeSetUp: func(f *fakeAdminStore) {
				f.listCursorFn = func(ctx context.Context, limit int, afterCreatedAt time.Time, afterID string) ([]user.User, bool, error) {
					if limit != 2 {
						return nil, false, errors.New("unexpected limit")
					}
					if !afterCreatedAt.IsZero() || afterID != "" {
						return nil, false, errors.New("first page should have empty cursor")
					}
					return []user.User{
						{ID: newUUID(), Email: "a@example.com", Name: "A", Role: user.RoleUser, CreatedAt: now.Add(-2 * time.Hour)},
						{ID: newUUID(), Email: "b@example.com", Name: "B", Role: user.RoleUser, CreatedAt: now.Add(-time.Hour)},
					}, true, nil
				}
			},
			wantStatusCode: http.StatusOK,
			wantNextCursor: true,
		},
		{
			name: "with_cursor",
			url:  "/api/admin/users?limit=2&cursor=" + validCursor,
			storeSetUp: func(f *fakeAdminStore) {
				f.listCursorFn = func(ctx context.Context, limit int, afterCreatedAt time.Time, afterID string) ([]user.User, bool, error) {
					if afterCreatedAt.IsZero() || afterID == "" {
						return nil, false, errors.New("cursor not decoded")
					}
					return []user.User{}, false, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "bad_cursor",
			url:            "/api/admin/users?cursor=!!!not-base64",
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "store_down",
			url:  "/api/admin/users",
			storeSetUp: func(f *fakeAdminStore) {
				f.listCursorFn = func(ctx context.Context, limit int, afterCreatedAt time.Time, afterID string) ([]user.User, bool, error) {
					return nil, false, errors.New("db error")
				}
			},
			wantStatusCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			store := &fakeAdminStore{}

			if tt.storeSetUp != nil {
				tt.storeSetUp(store)
			}

			h := handlers.NewAdminUsersHandler(store, nil)

			r := gin.New()
			r.GET("/api/admin/users", h.ListUsers)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.url, nil))

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if tt.wantStatusCode != http.StatusOK {
				return
			}

			var resp struct {
				Users      []user.PublicView `json:"users"`
				NextCursor string            `json:"nextCursor"`
			}

			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("bad response body: %v", err)
			}

			if tt.wantNextCursor && resp.NextCursor == "" {
				t.Fatal("missing nextCursor on a page with more results")
			}

			if !tt.wantNextCursor && resp.NextCursor != "" {
				t.Fatalf("unexpected nextCursor %q", resp.NextCursor)
			}
		})
	}
}

func TestSetBlockedHandler(t *testing.T) {
	targetID := newUUID()

	tests := []struct {
		name           string
		id             string
		body           string
		storeSetUp     func(*fakeAdminStore)
		wantStatusCode int
		wantErrCode    string
		wantRevoked    bool
	}{
		{
			name: "block_user",
			id:   targetID,
			body: `{"isBlocked": true}`,
			storeSetUp: func(f *fakeAdminStore) {
				f.setBlockedFn = func(ctx context.Context, id string, blocked bool) (user.User, error) {
					if !blocked {
						return user.User{}, errors.New("expected blocked=true")
					}
					return user.User{ID: id, Role: user.RoleUser, IsBlocked: true}, nil
				}
			},
			wantStatusCode: http.StatusOK,
			wantRevoked:    true,
		},
		{
			name: "unblock_user",
			id:   targetID,
			body: `{"isBlocked": false}`,
			storeSetUp: func(f *fakeAdminStore) {
				f.setBlockedFn = func(ctx context.Context, id string, blocked bool) (user.User, error) {
					return user.User{ID: id, Role: user.RoleUser, IsBlocked: false}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name: "legacy_blocked_key",
			id:   targetID,
			body: `{"blocked": true}`,
			storeSetUp: func(f *fakeAdminStore) {
				f.setBlockedFn = func(ctx context.Context, id string, blocked bool) (user.User, error) {
					return user.User{ID: id, Role: user.RoleUser, IsBlocked: true}, nil
				}
			},
			wantStatusCode: http.StatusOK,
			wantRevoked:    true,
		},
		{
			name: "admin_target",
			id:   targetID,
			body: `{"isBlocked": true}`,
			storeSetUp: func(f *fakeAdminStore) {
				f.setBlockedFn = func(ctx context.Context, id string, blocked bool) (user.User, error) {
					return user.User{}, user.ErrAdminTarget
				}
			},
			wantStatusCode: http.StatusForbidden,
			wantErrCode:    "admin_target",
		},
		{
			name: "not_found",
			id:   targetID,
			body: `{"isBlocked": true}`,
			storeSetUp: func(f *fakeAdminStore) {
				f.setBlockedFn = func(ctx context.Context, id string, blocked bool) (user.User, error) {
					return user.User{}, user.ErrNotFound
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name:           "malformed_id",
			id:             "not-a-uuid",
			body:           `{"isBlocked": true}`,
			wantStatusCode: http.StatusNotFound,
		},
		{
			name:           "missing_flag",
			id:             targetID,
			body:           `{}`,
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			store := &fakeAdminStore{}

			if tt.storeSetUp != nil {
				tt.storeSetUp(store)
			}

			revoker := &fakeRevoker{}

			h := handlers.NewAdminUsersHandler(store, revoker)

			r := gin.New()
			r.PATCH("/api/admin/users/:id/block", h.SetBlocked)

			req := httptest.NewRequest(http.MethodPatch, "/api/admin/users/"+tt.id+"/block", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if tt.wantErrCode != "" && !strings.Contains(w.Body.String(), tt.wantErrCode) {
				t.Fatalf("body %q missing error code %q", w.Body.String(), tt.wantErrCode)
			}

			if tt.wantRevoked && len(revoker.revokedUserIDs) == 0 {
				t.Fatal("expected refresh tokens to be revoked on block")
			}

			if !tt.wantRevoked && len(revoker.revokedUserIDs) != 0 {
				t.Fatalf("unexpected revocation: %v", revoker.revokedUserIDs)
			}
		})
	}
}
