package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/leadray/backoffice/internal/middleware"
	"github.com/leadray/backoffice/internal/repository"
)

// ApplicationStore is the store surface behind application management.
type ApplicationStore interface {
	List(ctx context.Context, f repository.ApplicationFilter) ([]repository.Application, error)
	GetByID(ctx context.Context, id uint64) (repository.Application, error)
	GetByIDForInvestor(ctx context.Context, id, investorID uint64) (repository.Application, error)
	Update(ctx context.Context, id uint64, ch repository.ApplicationChanges) error
	Delete(ctx context.Context, id uint64) error
}

// ApplicationHandler manages submitted lead applications.  Investors only
// see applications attached to their own campaigns.
type ApplicationHandler struct {
	Apps ApplicationStore
}

func NewApplicationHandler(a ApplicationStore) *ApplicationHandler {
	return &ApplicationHandler{Apps: a}
}

type applicationPart struct {
	ID           uint64    `json:"id"`
	TelegramID   int64     `json:"telegram_id"`
	Username     *string   `json:"username"`
	FirstName    *string   `json:"first_name"`
	Phone        string    `json:"phone"`
	Age          int       `json:"age"`
	Citizenship  string    `json:"citizenship"`
	Source       *string   `json:"source"`
	Contacted    bool      `json:"contacted"`
	SubmittedAt  time.Time `json:"submitted_at"`
	CampaignID   *uint64   `json:"campaign_id"`
	CampaignName *string   `json:"campaign_name"`
	Status       string    `json:"status"`
	Revenue      *float64  `json:"revenue"`
}

func toApplicationPart(a repository.Application) applicationPart {
	return applicationPart{
		ID:           a.ID,
		TelegramID:   a.TelegramID,
		Username:     a.Username,
		FirstName:    a.FirstName,
		Phone:        a.Phone,
		Age:          a.Age,
		Citizenship:  a.Citizenship,
		Source:       a.Source,
		Contacted:    a.Contacted,
		SubmittedAt:  a.SubmittedAt,
		CampaignID:   a.CampaignID,
		CampaignName: a.CampaignName,
		Status:       a.Status,
		Revenue:      a.Revenue,
	}
}

type updateApplicationReq struct {
	Status  *string  `json:"status"`
	Revenue *float64 `json:"revenue"`
}

func validApplicationStatus(s string) bool {
	switch s {
	case repository.ApplicationStatusNew,
		repository.ApplicationStatusInProgress,
		repository.ApplicationStatusApproved,
		repository.ApplicationStatusRejected:
		return true
	}
	return false
}

// List returns applications filtered by the query string, narrowed to the
// caller's campaigns for investors.
func (h *ApplicationHandler) List(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var f repository.ApplicationFilter
	if u.Role == repository.RoleInvestor {
		f.InvestorID = &u.ID
	} else if raw := c.QueryParam("investor_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid investor_id"})
		}
		f.InvestorID = &id
	}
	if raw := c.QueryParam("campaign_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid campaign_id"})
		}
		f.CampaignID = &id
	}
	if raw := c.QueryParam("status"); raw != "" {
		if !validApplicationStatus(raw) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
		}
		f.Status = &raw
	}
	if raw := c.QueryParam("date_from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "date_from must be YYYY-MM-DD"})
		}
		f.DateFrom = &t
	}
	if raw := c.QueryParam("date_to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "date_to must be YYYY-MM-DD"})
		}
		// inclusive upper bound on the day
		end := t.Add(24*time.Hour - time.Nanosecond)
		f.DateTo = &end
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	apps, err := h.Apps.List(ctx, f)
	if err != nil {
		log.Printf("applications: list failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]applicationPart, 0, len(apps))
	for _, a := range apps {
		out = append(out, toApplicationPart(a))
	}
	return c.JSON(http.StatusOK, out)
}

// Get returns a single application through the caller's visibility.
func (h *ApplicationHandler) Get(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid application id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	app, err := h.loadScoped(ctx, u, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "application not found"})
		}
		log.Printf("applications: load failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, toApplicationPart(app))
}

func (h *ApplicationHandler) loadScoped(ctx context.Context, u repository.User, id uint64) (repository.Application, error) {
	if u.Role == repository.RoleInvestor {
		return h.Apps.GetByIDForInvestor(ctx, id, u.ID)
	}
	return h.Apps.GetByID(ctx, id)
}

// Update sets status and/or revenue on an application the caller can see.
// Marking a status past "new" also flips the contacted flag in the store.
func (h *ApplicationHandler) Update(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid application id"})
	}
	var req updateApplicationReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Status == nil && req.Revenue == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no fields to update"})
	}
	if req.Status != nil && !validApplicationStatus(*req.Status) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	if req.Revenue != nil && *req.Revenue < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "revenue must not be negative"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := h.loadScoped(ctx, u, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "application not found"})
		}
		log.Printf("applications: load failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	ch := repository.ApplicationChanges{Status: req.Status, Revenue: req.Revenue}
	if err := h.Apps.Update(ctx, id, ch); err != nil {
		log.Printf("applications: update failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update application failed"})
	}

	updated, err := h.Apps.GetByID(ctx, id)
	if err != nil {
		log.Printf("applications: load updated failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load application failed"})
	}
	return c.JSON(http.StatusOK, toApplicationPart(updated))
}

// Delete removes an application.  Registered behind RequireRole(admin).
func (h *ApplicationHandler) Delete(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid application id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Apps.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "application not found"})
		}
		log.Printf("applications: delete failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete application failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "deleted_id": id})
}
