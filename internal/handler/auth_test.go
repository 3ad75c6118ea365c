package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/leadray/backoffice/internal/config"
	"github.com/leadray/backoffice/internal/middleware"
	"github.com/leadray/backoffice/internal/repository"
	"github.com/leadray/backoffice/internal/utils"
)

// ----- in-memory fakes -----

type fakeUserStore struct {
	users map[uint64]repository.User
}

func (s *fakeUserStore) GetByLogin(_ context.Context, login string) (repository.User, error) {
	for _, u := range s.users {
		if u.Login == login {
			return u, nil
		}
	}
	return repository.User{}, repository.ErrNotFound
}

func (s *fakeUserStore) GetByID(_ context.Context, id uint64) (repository.User, error) {
	u, ok := s.users[id]
	if !ok {
		return repository.User{}, repository.ErrNotFound
	}
	return u, nil
}

type fakeTokenStore struct {
	mu   sync.Mutex
	rows map[string]repository.RefreshToken
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{rows: map[string]repository.RefreshToken{}}
}

func (s *fakeTokenStore) Store(_ context.Context, userID uint64, hash string, exp time.Time, ip, ua string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[hash] = repository.RefreshToken{
		ID: uint64(len(s.rows) + 1), UserID: userID, TokenHash: hash,
		ExpiresAt: exp, CreatedAt: time.Now().UTC(), IP: ip, UserAgent: ua,
	}
	return nil
}

func (s *fakeTokenStore) Get(_ context.Context, hash string) (repository.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[hash]
	if !ok {
		return repository.RefreshToken{}, repository.ErrNotFound
	}
	return row, nil
}

func (s *fakeTokenStore) Rotate(_ context.Context, oldHash string, userID uint64, newHash string, exp time.Time, ip, ua string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[oldHash]
	if !ok || row.RevokedAt.Valid || row.UserID != userID {
		return repository.ErrNotFound
	}
	row.RevokedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	s.rows[oldHash] = row
	s.rows[newHash] = repository.RefreshToken{
		ID: uint64(len(s.rows) + 1), UserID: userID, TokenHash: newHash,
		ExpiresAt: exp, CreatedAt: time.Now().UTC(), IP: ip, UserAgent: ua,
	}
	return nil
}

func (s *fakeTokenStore) RevokeByHash(_ context.Context, hash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[hash]
	if !ok || row.RevokedAt.Valid {
		return 0, nil
	}
	row.RevokedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	s.rows[hash] = row
	return 1, nil
}

func (s *fakeTokenStore) RevokeAllForUser(_ context.Context, userID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, row := range s.rows {
		if row.UserID == userID && !row.RevokedAt.Valid {
			row.RevokedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
			s.rows[h] = row
			n++
		}
	}
	return n, nil
}

type fakeLimiter struct {
	denied bool
	retry  int
	resets []string
}

func (f *fakeLimiter) Allow(string) (bool, int) {
	if f.denied {
		return false, f.retry
	}
	return true, 0
}

func (f *fakeLimiter) Reset(key string) { f.resets = append(f.resets, key) }

// ----- helpers -----

func testConfig() config.Config {
	return config.Config{
		JWTSecret:      "handler-test-secret",
		AccessTTLMin:   15,
		RefreshTTLDays: 30,
		BcryptCost:     bcrypt.MinCost,
	}
}

func testUser(t *testing.T, id uint64, login, password, role string, active bool) repository.User {
	t.Helper()
	hash, err := utils.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	return repository.User{
		ID: id, Login: login, PasswordHash: hash, Name: login,
		Role: role, IsActive: active, CreatedAt: time.Now().UTC(),
	}
}

func newAuthFixture(t *testing.T) (*AuthHandler, *fakeUserStore, *fakeTokenStore, *fakeLimiter) {
	t.Helper()
	users := &fakeUserStore{users: map[uint64]repository.User{
		1: testUser(t, 1, "boss", "admin-pass-123", repository.RoleAdmin, true),
		2: testUser(t, 2, "partner", "investor-pass", repository.RoleInvestor, true),
		3: testUser(t, 3, "ghost", "ghost-pass-99", repository.RoleInvestor, false),
	}}
	tokens := newFakeTokenStore()
	limiter := &fakeLimiter{}
	return NewAuthHandler(testConfig(), users, tokens, limiter), users, tokens, limiter
}

func doJSON(h echo.HandlerFunc, method, target, body string, mod func(*http.Request)) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if mod != nil {
		mod(req)
	}
	rec := httptest.NewRecorder()
	err := h(e.NewContext(req, rec))
	return rec, err
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) sessionResp {
	t.Helper()
	var resp sessionResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// ----- login -----

func TestLoginSuccess(t *testing.T) {
	h, _, tokens, limiter := newAuthFixture(t)

	rec, err := doJSON(h.Login, http.MethodPost, "/v1/auth/login",
		`{"login":"boss","password":"admin-pass-123"}`, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSession(t, rec)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, 15*60, resp.ExpiresIn)
	assert.Equal(t, "boss", resp.User.Login)
	assert.Equal(t, repository.RoleAdmin, resp.User.Role)

	claims, err := utils.VerifyToken(testConfig().JWTSecret, resp.AccessToken, utils.TokenKindAccess)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), claims.UserID)

	// refresh token persisted by hash, never raw
	row, err := tokens.Get(context.Background(), utils.HashToken(resp.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), row.UserID)

	// success clears the attempt window for this client
	assert.NotEmpty(t, limiter.resets)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	h, _, _, _ := newAuthFixture(t)

	cases := map[string]string{
		"unknown login":  `{"login":"nobody","password":"whatever-123"}`,
		"wrong password": `{"login":"boss","password":"not-the-password"}`,
		"inactive user":  `{"login":"ghost","password":"ghost-pass-99"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec, err := doJSON(h.Login, http.MethodPost, "/v1/auth/login", body, nil)
			require.NoError(t, err)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid credentials")
		})
	}
}

func TestLoginMissingFields(t *testing.T) {
	h, _, _, _ := newAuthFixture(t)

	rec, err := doJSON(h.Login, http.MethodPost, "/v1/auth/login", `{"login":"boss"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginRateLimited(t *testing.T) {
	h, _, _, limiter := newAuthFixture(t)
	limiter.denied = true
	limiter.retry = 120

	rec, err := doJSON(h.Login, http.MethodPost, "/v1/auth/login",
		`{"login":"boss","password":"admin-pass-123"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "120", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "retry_after")
	// a throttled request never resets the window
	assert.Empty(t, limiter.resets)
}

// ----- refresh -----

func login(t *testing.T, h *AuthHandler, login, password string) sessionResp {
	t.Helper()
	rec, err := doJSON(h.Login, http.MethodPost, "/v1/auth/login",
		`{"login":"`+login+`","password":"`+password+`"}`, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	return decodeSession(t, rec)
}

func TestRefreshRotatesToken(t *testing.T) {
	h, _, tokens, _ := newAuthFixture(t)
	first := login(t, h, "partner", "investor-pass")

	rec, err := doJSON(h.Refresh, http.MethodPost, "/v1/auth/refresh",
		`{"refresh_token":"`+first.RefreshToken+`"}`, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)

	second := decodeSession(t, rec)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, "partner", second.User.Login)

	// the presented token is spent
	old, err := tokens.Get(context.Background(), utils.HashToken(first.RefreshToken))
	require.NoError(t, err)
	assert.True(t, old.RevokedAt.Valid)

	// and cannot be replayed
	rec, err = doJSON(h.Refresh, http.MethodPost, "/v1/auth/refresh",
		`{"refresh_token":"`+first.RefreshToken+`"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// the rotated token still works
	rec, err = doJSON(h.Refresh, http.MethodPost, "/v1/auth/refresh",
		`{"refresh_token":"`+second.RefreshToken+`"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	h, _, _, _ := newAuthFixture(t)
	sess := login(t, h, "boss", "admin-pass-123")

	rec, err := doJSON(h.Refresh, http.MethodPost, "/v1/auth/refresh",
		`{"refresh_token":"`+sess.AccessToken+`"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	h, _, _, _ := newAuthFixture(t)

	// well-formed refresh JWT that was never persisted
	raw, _, err := utils.IssueToken(testConfig().JWTSecret, 2, repository.RoleInvestor, utils.TokenKindRefresh, time.Hour)
	require.NoError(t, err)

	rec, err := doJSON(h.Refresh, http.MethodPost, "/v1/auth/refresh",
		`{"refresh_token":"`+raw+`"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshRejectsSubjectMismatch(t *testing.T) {
	h, _, tokens, _ := newAuthFixture(t)

	raw, claims, err := utils.IssueToken(testConfig().JWTSecret, 2, repository.RoleInvestor, utils.TokenKindRefresh, time.Hour)
	require.NoError(t, err)
	// stored record belongs to a different user than the token subject
	require.NoError(t, tokens.Store(context.Background(), 1, utils.HashToken(raw), claims.ExpiresAt, "", ""))

	rec, err := doJSON(h.Refresh, http.MethodPost, "/v1/auth/refresh",
		`{"refresh_token":"`+raw+`"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshRejectsDeactivatedUser(t *testing.T) {
	h, users, _, _ := newAuthFixture(t)
	sess := login(t, h, "partner", "investor-pass")

	u := users.users[2]
	u.IsActive = false
	users.users[2] = u

	rec, err := doJSON(h.Refresh, http.MethodPost, "/v1/auth/refresh",
		`{"refresh_token":"`+sess.RefreshToken+`"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshMissingToken(t *testing.T) {
	h, _, _, _ := newAuthFixture(t)

	rec, err := doJSON(h.Refresh, http.MethodPost, "/v1/auth/refresh", `{}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ----- logout -----

func TestLogoutRevokesRefreshToken(t *testing.T) {
	h, _, tokens, _ := newAuthFixture(t)
	sess := login(t, h, "partner", "investor-pass")

	rec, err := doJSON(h.Logout, http.MethodPost, "/v1/auth/logout",
		`{"refresh_token":"`+sess.RefreshToken+`"}`, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool  `json:"success"`
		Revoked int64 `json:"revoked"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(1), resp.Revoked)

	row, err := tokens.Get(context.Background(), utils.HashToken(sess.RefreshToken))
	require.NoError(t, err)
	assert.True(t, row.RevokedAt.Valid)
}

func TestLogoutWithBearerRevokesAllSessions(t *testing.T) {
	h, _, _, _ := newAuthFixture(t)
	first := login(t, h, "boss", "admin-pass-123")
	login(t, h, "boss", "admin-pass-123")

	rec, err := doJSON(h.Logout, http.MethodPost, "/v1/auth/logout", `{}`, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+first.AccessToken)
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool  `json:"success"`
		Revoked int64 `json:"revoked"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(2), resp.Revoked)
}

func TestLogoutNeverFails(t *testing.T) {
	h, _, _, _ := newAuthFixture(t)

	rec, err := doJSON(h.Logout, http.MethodPost, "/v1/auth/logout",
		`{"refresh_token":"garbage"}`, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer also-garbage")
		})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"revoked":0`)
}

// ----- me -----

func TestMeReturnsPrincipal(t *testing.T) {
	h, users, _, _ := newAuthFixture(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	middleware.SetCurrentUser(c, users.users[2])

	require.NoError(t, h.Me(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp userPart
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(2), resp.ID)
	assert.Equal(t, "partner", resp.Login)
	assert.Equal(t, repository.RoleInvestor, resp.Role)
}
