package handler

import (
    "context"  // provides context with cancellation for DB calls
    "errors"
    "log"
    "net/http" // HTTP status codes and primitives
    "strconv"
    "strings"  // string manipulation utilities
    "time"     // timeouts for DB calls

    "github.com/labstack/echo/v4" // Echo framework for HTTP routing

    "github.com/leadray/backoffice/internal/config"
    "github.com/leadray/backoffice/internal/middleware"
    "github.com/leadray/backoffice/internal/repository"
    "github.com/leadray/backoffice/internal/utils"
)

// UserStore is the credential-store surface the auth endpoints need.
type UserStore interface {
    GetByLogin(ctx context.Context, login string) (repository.User, error)
    GetByID(ctx context.Context, id uint64) (repository.User, error)
}

// TokenStore persists refresh token records.
type TokenStore interface {
    Store(ctx context.Context, userID uint64, tokenHash string, exp time.Time, ip, userAgent string) error
    Get(ctx context.Context, tokenHash string) (repository.RefreshToken, error)
    Rotate(ctx context.Context, oldHash string, userID uint64, newHash string, exp time.Time, ip, userAgent string) error
    RevokeByHash(ctx context.Context, tokenHash string) (int64, error)
    RevokeAllForUser(ctx context.Context, userID uint64) (int64, error)
}

// LoginLimiter admits or denies login attempts per client key.
type LoginLimiter interface {
    Allow(key string) (ok bool, retryAfter int)
    Reset(key string)
}

// AuthHandler bundles dependencies for the session endpoints: login,
// refresh with rotation, logout and current-principal resolution.
type AuthHandler struct {
    Cfg     config.Config
    Users   UserStore
    Tokens  TokenStore
    Limiter LoginLimiter
}

func NewAuthHandler(cfg config.Config, u UserStore, t TokenStore, l LoginLimiter) *AuthHandler {
    return &AuthHandler{Cfg: cfg, Users: u, Tokens: t, Limiter: l}
}

// ----- DTOs -----

type loginReq struct {
    Login    string `json:"login"`
    Password string `json:"password"`
}
type refreshReq struct {
    RefreshToken string `json:"refresh_token"`
}

type userPart struct {
    ID        uint64    `json:"id"`
    Login     string    `json:"login"`
    Name      string    `json:"name"`
    Role      string    `json:"role"`
    Percent   *float64  `json:"percent"`
    IsActive  bool      `json:"is_active"`
    CreatedAt time.Time `json:"created_at"`
}

type sessionResp struct {
    AccessToken  string   `json:"access_token"`
    RefreshToken string   `json:"refresh_token"`
    TokenType    string   `json:"token_type"`
    ExpiresIn    int      `json:"expires_in"`
    User         userPart `json:"user"`
}

func toUserPart(u repository.User) userPart {
    return userPart{
        ID:        u.ID,
        Login:     u.Login,
        Name:      u.Name,
        Role:      u.Role,
        Percent:   u.Percent,
        IsActive:  u.IsActive,
        CreatedAt: u.CreatedAt,
    }
}

func (h *AuthHandler) accessTTL() time.Duration {
    return time.Duration(h.Cfg.AccessTTLMin) * time.Minute
}

func (h *AuthHandler) refreshTTL() time.Duration {
    return time.Duration(h.Cfg.RefreshTTLDays) * 24 * time.Hour
}

// issuePair mints an access/refresh token pair for a user and returns the
// response body plus the refresh expiry needed for persistence.
func (h *AuthHandler) issuePair(u repository.User) (sessionResp, string, time.Time, error) {
    access, accessClaims, err := utils.IssueToken(h.Cfg.JWTSecret, u.ID, u.Role, utils.TokenKindAccess, h.accessTTL())
    if err != nil {
        return sessionResp{}, "", time.Time{}, err
    }
    refresh, refreshClaims, err := utils.IssueToken(h.Cfg.JWTSecret, u.ID, u.Role, utils.TokenKindRefresh, h.refreshTTL())
    if err != nil {
        return sessionResp{}, "", time.Time{}, err
    }
    resp := sessionResp{
        AccessToken:  access,
        RefreshToken: refresh,
        TokenType:    "bearer",
        ExpiresIn:    int(accessClaims.ExpiresAt.Sub(accessClaims.IssuedAt).Seconds()),
        User:         toUserPart(u),
    }
    return resp, utils.HashToken(refresh), refreshClaims.ExpiresAt, nil
}

// Login verifies credentials behind the per-IP limiter and returns a new
// token pair.  An unknown login, a deactivated account and a wrong
// password all produce the same 401 so the endpoint cannot be used to
// enumerate accounts.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    req.Login = strings.TrimSpace(req.Login)
    if req.Login == "" || req.Password == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "login/password required"})
    }

    clientIP := c.RealIP()
    if ok, retryAfter := h.Limiter.Allow(clientIP); !ok {
        c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
        return c.JSON(http.StatusTooManyRequests, echo.Map{
            "error":       "too many login attempts",
            "retry_after": retryAfter,
        })
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    u, err := h.Users.GetByLogin(ctx, req.Login)
    if err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
        }
        log.Printf("auth: login lookup failed: %v", err)
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
    }
    if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, req.Password) {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
    }

    // A successful authentication clears the window so earlier failed
    // attempts from this client stop counting.
    h.Limiter.Reset(clientIP)

    resp, refreshHash, refreshExp, err := h.issuePair(u)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue tokens failed"})
    }
    if err := h.Tokens.Store(ctx, u.ID, refreshHash, refreshExp, clientIP, c.Request().UserAgent()); err != nil {
        log.Printf("auth: save refresh failed: %v", err)
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save refresh failed"})
    }

    return c.JSON(http.StatusOK, resp)
}

// Refresh exchanges a live refresh token for a new pair, rotating the
// presented token.  Every failure mode — malformed or expired token,
// unknown hash, subject mismatch, revoked or stale record, deactivated
// owner — collapses to one 401 response.
func (h *AuthHandler) Refresh(c echo.Context) error {
    var req refreshReq
    if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
    }
    raw := strings.TrimSpace(req.RefreshToken)

    claims, err := utils.VerifyToken(h.Cfg.JWTSecret, raw, utils.TokenKindRefresh)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
    }
    hash := utils.HashToken(raw)

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    rec, err := h.Tokens.Get(ctx, hash)
    if err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
        }
        log.Printf("auth: refresh lookup failed: %v", err)
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
    }
    if rec.UserID != claims.UserID || rec.RevokedAt.Valid || time.Now().UTC().After(rec.ExpiresAt) {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
    }

    u, err := h.Users.GetByID(ctx, rec.UserID)
    if err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
        }
        log.Printf("auth: refresh user load failed: %v", err)
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
    }
    if !u.IsActive {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
    }

    resp, newHash, newExp, err := h.issuePair(u)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue tokens failed"})
    }

    // Revoke-old plus insert-new runs as a single transaction; when a
    // concurrent refresh already consumed this token the rotation aborts
    // and the caller gets the same generic 401.
    if err := h.Tokens.Rotate(ctx, hash, u.ID, newHash, newExp, c.RealIP(), c.Request().UserAgent()); err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
        }
        log.Printf("auth: rotate refresh failed: %v", err)
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save refresh failed"})
    }

    return c.JSON(http.StatusOK, resp)
}

// Logout revokes sessions best-effort and always answers 200.  A refresh
// token in the body revokes that one session; a valid bearer access token
// revokes every live session of its subject.  Tokens that fail to decode
// are ignored rather than reported: logout must never fail loudly on a
// stale or garbage token.
func (h *AuthHandler) Logout(c echo.Context) error {
    var revoked int64

    var req refreshReq
    _ = c.Bind(&req)
    refreshToken := strings.TrimSpace(req.RefreshToken)

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    if refreshToken != "" {
        n, err := h.Tokens.RevokeByHash(ctx, utils.HashToken(refreshToken))
        if err != nil {
            log.Printf("auth: logout revoke failed: %v", err)
        }
        revoked += n
    }

    if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
        raw := strings.TrimPrefix(auth, "Bearer ")
        if claims, err := utils.VerifyToken(h.Cfg.JWTSecret, raw, utils.TokenKindAccess); err == nil {
            n, err := h.Tokens.RevokeAllForUser(ctx, claims.UserID)
            if err != nil {
                log.Printf("auth: logout revoke-all failed: %v", err)
            }
            revoked += n
        }
    }

    return c.JSON(http.StatusOK, echo.Map{"success": true, "revoked": revoked})
}

// Me returns the principal resolved by the Auth middleware.
func (h *AuthHandler) Me(c echo.Context) error {
    u, ok := middleware.CurrentUser(c)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    return c.JSON(http.StatusOK, toUserPart(u))
}
