package middleware // middleware provides shared request processing for handlers

import (
    "context"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/leadray/backoffice/internal/repository"
    "github.com/leadray/backoffice/internal/utils"
)

// principalKey is the context key under which the resolved principal is
// stored for downstream middleware and handlers.
const principalKey = "principal"

// PrincipalStore is the subset of the user repository the gate needs to
// turn a token subject into a live principal.
type PrincipalStore interface {
    GetByID(ctx context.Context, id uint64) (repository.User, error)
}

// Auth returns an Echo middleware that validates a Bearer access token,
// resolves its subject against the store and injects the principal into
// the request context.  A token of the wrong kind, an unknown subject and
// a deactivated account all collapse to the same 401 so the caller cannot
// tell which check failed.  This runs on every protected request; the only
// store access is a single primary-key lookup.
func Auth(secret string, users PrincipalStore) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            raw := strings.TrimPrefix(auth, "Bearer ")

            claims, err := utils.VerifyToken(secret, raw, utils.TokenKindAccess)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }

            ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
            defer cancel()

            u, err := users.GetByID(ctx, claims.UserID)
            if err != nil || !u.IsActive {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }

            c.Set(principalKey, u)
            return next(c)
        }
    }
}

// CurrentUser returns the principal resolved by Auth for this request.
func CurrentUser(c echo.Context) (repository.User, bool) {
    u, ok := c.Get(principalKey).(repository.User)
    return u, ok
}

// SetCurrentUser injects a principal directly.  Exposed for handler tests
// that bypass the Auth middleware.
func SetCurrentUser(c echo.Context, u repository.User) {
    c.Set(principalKey, u)
}
