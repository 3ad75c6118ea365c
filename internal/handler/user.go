package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/leadray/backoffice/internal/config"
	"github.com/leadray/backoffice/internal/middleware"
	"github.com/leadray/backoffice/internal/repository"
	"github.com/leadray/backoffice/internal/utils"
)

// UserAdminStore is the store surface behind the admin-only user CRUD.
type UserAdminStore interface {
	List(ctx context.Context) ([]repository.User, error)
	GetByID(ctx context.Context, id uint64) (repository.User, error)
	Create(ctx context.Context, login, password, name, role string, percent *float64, cost int) (uint64, error)
	Update(ctx context.Context, id uint64, ch repository.UserChanges) error
	SetActive(ctx context.Context, id uint64, active bool) error
}

// UserHandler implements principal management.  Every route is registered
// behind RequireRole(admin).
type UserHandler struct {
	Cfg   config.Config
	Users UserAdminStore
}

func NewUserHandler(cfg config.Config, u UserAdminStore) *UserHandler {
	return &UserHandler{Cfg: cfg, Users: u}
}

var loginPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

type createUserReq struct {
	Login    string   `json:"login"`
	Password string   `json:"password"`
	Name     string   `json:"name"`
	Role     string   `json:"role"`
	Percent  *float64 `json:"percent"`
}

type updateUserReq struct {
	Login    *string  `json:"login"`
	Password *string  `json:"password"`
	Name     *string  `json:"name"`
	Role     *string  `json:"role"`
	Percent  *float64 `json:"percent"`
}

func validLogin(login string) bool {
	return len(login) >= 3 && len(login) <= 64 && loginPattern.MatchString(login)
}

func validRole(role string) bool {
	return role == repository.RoleAdmin || role == repository.RoleInvestor
}

func validPercent(p *float64) bool {
	return p == nil || (*p >= 0 && *p <= 100)
}

// List returns all principals.
func (h *UserHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	users, err := h.Users.List(ctx)
	if err != nil {
		log.Printf("users: list failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]userPart, 0, len(users))
	for _, u := range users {
		out = append(out, toUserPart(u))
	}
	return c.JSON(http.StatusOK, out)
}

// Create inserts a new principal.  Percent is required for investors and
// always absent for admins.
func (h *UserHandler) Create(c echo.Context) error {
	var req createUserReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Login = strings.TrimSpace(req.Login)
	req.Name = strings.TrimSpace(req.Name)

	switch {
	case !validLogin(req.Login):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "login must be 3-64 chars of [a-zA-Z0-9_.-]"})
	case len(req.Password) < 8:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 8 chars"})
	case req.Name == "" || len(req.Name) > 120:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
	case !validRole(req.Role):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "role must be admin or investor"})
	case !validPercent(req.Percent):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "percent must be within [0,100]"})
	case req.Role == repository.RoleInvestor && req.Percent == nil:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "percent is required for investor role"})
	}
	if req.Role == repository.RoleAdmin {
		req.Percent = nil
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, err := h.Users.Create(ctx, req.Login, req.Password, req.Name, req.Role, req.Percent, h.Cfg.BcryptCost)
	if err != nil {
		if errors.Is(err, repository.ErrLoginExists) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "login already exists"})
		}
		log.Printf("users: create failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
	}

	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		log.Printf("users: load created failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
	}
	return c.JSON(http.StatusCreated, toUserPart(u))
}

// Update applies a partial update.  Flipping a user to admin clears the
// percent; an investor must end up with a percent one way or another.
func (h *UserHandler) Update(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	var req updateUserReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	existing, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		log.Printf("users: load failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	var ch repository.UserChanges
	if req.Login != nil {
		trimmed := strings.TrimSpace(*req.Login)
		if !validLogin(trimmed) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "login must be 3-64 chars of [a-zA-Z0-9_.-]"})
		}
		ch.Login = &trimmed
	}
	if req.Password != nil && *req.Password != "" {
		if len(*req.Password) < 8 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 8 chars"})
		}
		hash, err := utils.HashPassword(*req.Password, h.Cfg.BcryptCost)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "hash password failed"})
		}
		ch.PasswordHash = &hash
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" || len(trimmed) > 120 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
		}
		ch.Name = &trimmed
	}
	if req.Role != nil {
		if !validRole(*req.Role) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "role must be admin or investor"})
		}
		ch.Role = req.Role
	}
	if !validPercent(req.Percent) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "percent must be within [0,100]"})
	}

	nextRole := existing.Role
	if ch.Role != nil {
		nextRole = *ch.Role
	}
	if nextRole == repository.RoleAdmin {
		ch.ClearPercent = true
	} else if req.Percent != nil {
		ch.Percent = req.Percent
	} else if existing.Percent == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "percent is required for investor role"})
	}

	if err := h.Users.Update(ctx, id, ch); err != nil {
		switch {
		case errors.Is(err, repository.ErrLoginExists):
			return c.JSON(http.StatusConflict, echo.Map{"error": "login already taken"})
		case errors.Is(err, repository.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		log.Printf("users: update failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update user failed"})
	}

	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		log.Printf("users: load updated failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
	}
	return c.JSON(http.StatusOK, toUserPart(u))
}

// Toggle flips a user's active flag.  An admin cannot deactivate their own
// active account, which would lock the last session out mid-flight.
func (h *UserHandler) Toggle(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	caller, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		log.Printf("users: load failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	if u.ID == caller.ID && u.IsActive {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "cannot disable your own active account"})
	}

	if err := h.Users.SetActive(ctx, id, !u.IsActive); err != nil {
		log.Printf("users: toggle failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update user failed"})
	}

	updated, err := h.Users.GetByID(ctx, id)
	if err != nil {
		log.Printf("users: load toggled failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "user": toUserPart(updated)})
}
