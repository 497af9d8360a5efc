package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
	"github.com/gin-gonic/gin"
)

const (
	errUnauthorized = "Unauthorized"
	errForbidden    = "Forbidden"

	// WorkspaceHeader selects the workspace a request operates in; absent
	// means the default workspace.
	WorkspaceHeader = "X-Workspace-ID"

	authContextKey = "authContext"
)

type AuthDeps struct {
	Keys       repository.APIKeyRepository
	Users      repository.UserRepository
	Workspaces repository.WorkspaceRepository
	// AdminKey is the bootstrap bearer token; it maps to the seeded admin
	// identity and bypasses workspace membership.
	AdminKey string
	Logger   *slog.Logger
}

// Auth authenticates the bearer API key, resolves the target workspace and
// verifies membership, then stores the AuthContext for handlers.
func Auth(deps AuthDeps) gin.HandlerFunc {
	logger := deps.Logger.With("component", "auth")

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		workspaceID := c.GetHeader(WorkspaceHeader)
		if workspaceID == "" {
			workspaceID = domain.DefaultWorkspaceID
		}

		ctx := c.Request.Context()

		if deps.AdminKey != "" && raw == deps.AdminKey {
			// Bootstrap key: synthesized admin identity, no membership gate.
			user, err := deps.Users.GetByID(ctx, "admin")
			if err != nil {
				user = &domain.User{ID: "admin", Username: "admin"}
			}
			c.Set(authContextKey, &domain.AuthContext{
				User:        user,
				APIKey:      &domain.APIKey{Name: "default-admin", Role: domain.KeyRoleAdmin, UserID: user.ID},
				WorkspaceID: workspaceID,
			})
			c.Next()
			return
		}

		key, err := deps.Keys.GetByHash(ctx, domain.HashKey(raw))
		if err != nil {
			if !errors.Is(err, domain.ErrAPIKeyNotFound) {
				logger.ErrorContext(ctx, "look up api key", "error", err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		user, err := deps.Users.GetByID(ctx, key.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		member, err := deps.Workspaces.IsMember(ctx, workspaceID, user.ID)
		if err != nil {
			logger.ErrorContext(ctx, "check workspace membership", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if !member {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errForbidden})
			return
		}

		c.Set(authContextKey, &domain.AuthContext{
			User:        user,
			APIKey:      key,
			WorkspaceID: workspaceID,
		})
		c.Next()
	}
}

// RequireAdmin gates admin-only endpoints; it must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := AuthFrom(c)
		if auth == nil || !auth.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errForbidden})
			return
		}
		c.Next()
	}
}

// AuthFrom returns the AuthContext set by Auth, or nil.
func AuthFrom(c *gin.Context) *domain.AuthContext {
	v, ok := c.Get(authContextKey)
	if !ok {
		return nil
	}
	auth, _ := v.(*domain.AuthContext)
	return auth
}
