package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/leadray/backoffice/internal/middleware"
	"github.com/leadray/backoffice/internal/repository"
)

// CampaignStore is the store surface behind campaign management.
type CampaignStore interface {
	List(ctx context.Context, investorID *uint64) ([]repository.Campaign, error)
	GetByID(ctx context.Context, id uint64) (repository.Campaign, error)
	GetByIDForInvestor(ctx context.Context, id, investorID uint64) (repository.Campaign, error)
	Create(ctx context.Context, investorID uint64, name string, budget float64, status string) (uint64, error)
	Update(ctx context.Context, id uint64, ch repository.CampaignChanges) error
	UpdateStatus(ctx context.Context, id uint64, status string) error
	DeleteCascade(ctx context.Context, id uint64) (int64, error)
}

// CampaignHandler manages campaigns.  Admins see and touch everything;
// investors are confined to campaigns they own, and rows they do not own
// answer as 404 across the board.
type CampaignHandler struct {
	Campaigns CampaignStore
	Users     UserStore
}

func NewCampaignHandler(c CampaignStore, u UserStore) *CampaignHandler {
	return &CampaignHandler{Campaigns: c, Users: u}
}

type campaignPart struct {
	ID            uint64    `json:"id"`
	InvestorID    uint64    `json:"investor_id"`
	InvestorLogin string    `json:"investor_login"`
	InvestorName  string    `json:"investor_name"`
	Name          string    `json:"name"`
	Budget        float64   `json:"budget"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

func toCampaignPart(c repository.Campaign) campaignPart {
	return campaignPart{
		ID:            c.ID,
		InvestorID:    c.InvestorID,
		InvestorLogin: c.InvestorLogin,
		InvestorName:  c.InvestorName,
		Name:          c.Name,
		Budget:        c.Budget,
		Status:        c.Status,
		CreatedAt:     c.CreatedAt,
	}
}

type createCampaignReq struct {
	InvestorID *uint64  `json:"investor_id"`
	Name       string   `json:"name"`
	Budget     *float64 `json:"budget"`
	Status     string   `json:"status"`
}

type updateCampaignReq struct {
	InvestorID *uint64  `json:"investor_id"`
	Name       *string  `json:"name"`
	Budget     *float64 `json:"budget"`
	Status     *string  `json:"status"`
}

type campaignStatusReq struct {
	Status string `json:"status"`
}

func validCampaignStatus(s string) bool {
	return s == repository.CampaignStatusActive || s == repository.CampaignStatusPaused
}

// loadScoped fetches a campaign through the caller's visibility: admins by
// id, investors by id and ownership.
func (h *CampaignHandler) loadScoped(ctx context.Context, u repository.User, id uint64) (repository.Campaign, error) {
	if u.Role == repository.RoleInvestor {
		return h.Campaigns.GetByIDForInvestor(ctx, id, u.ID)
	}
	return h.Campaigns.GetByID(ctx, id)
}

// validateInvestor checks that an id references an active investor before
// a campaign is attached to it.
func (h *CampaignHandler) validateInvestor(ctx context.Context, id uint64) error {
	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		return errors.New("investor_id must reference an investor user")
	}
	if u.Role != repository.RoleInvestor {
		return errors.New("investor_id must reference an investor user")
	}
	if !u.IsActive {
		return errors.New("investor account is inactive")
	}
	return nil
}

// List returns the caller's visible campaigns.
func (h *CampaignHandler) List(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	var scope *uint64
	if u.Role == repository.RoleInvestor {
		scope = &u.ID
	}
	campaigns, err := h.Campaigns.List(ctx, scope)
	if err != nil {
		log.Printf("campaigns: list failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	out := make([]campaignPart, 0, len(campaigns))
	for _, cmp := range campaigns {
		out = append(out, toCampaignPart(cmp))
	}
	return c.JSON(http.StatusOK, out)
}

// Create inserts a campaign.  Admins must name the owning investor;
// investors always create for themselves.
func (h *CampaignHandler) Create(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req createCampaignReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
	}
	budget := 0.0
	if req.Budget != nil {
		if *req.Budget < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "budget must not be negative"})
		}
		budget = *req.Budget
	}
	status := req.Status
	if status == "" {
		status = repository.CampaignStatusActive
	}
	if !validCampaignStatus(status) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status must be active or paused"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	var investorID uint64
	if u.Role == repository.RoleAdmin {
		if req.InvestorID == nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "investor_id is required"})
		}
		if err := h.validateInvestor(ctx, *req.InvestorID); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		investorID = *req.InvestorID
	} else {
		investorID = u.ID
	}

	id, err := h.Campaigns.Create(ctx, investorID, req.Name, budget, status)
	if err != nil {
		log.Printf("campaigns: create failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create campaign failed"})
	}

	created, err := h.Campaigns.GetByID(ctx, id)
	if err != nil {
		log.Printf("campaigns: load created failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load campaign failed"})
	}
	return c.JSON(http.StatusCreated, toCampaignPart(created))
}

// Update applies a partial update through the caller's visibility.  Only
// admins may reassign ownership.
func (h *CampaignHandler) Update(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid campaign id"})
	}
	var req updateCampaignReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := h.loadScoped(ctx, u, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "campaign not found"})
		}
		log.Printf("campaigns: load failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	var ch repository.CampaignChanges
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
		}
		ch.Name = &trimmed
	}
	if req.Budget != nil {
		if *req.Budget < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "budget must not be negative"})
		}
		ch.Budget = req.Budget
	}
	if req.Status != nil {
		if !validCampaignStatus(*req.Status) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "status must be active or paused"})
		}
		ch.Status = req.Status
	}
	if req.InvestorID != nil {
		if u.Role != repository.RoleAdmin {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "only admin can reassign campaign ownership"})
		}
		if err := h.validateInvestor(ctx, *req.InvestorID); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		ch.InvestorID = req.InvestorID
	}
	if ch.Name == nil && ch.Budget == nil && ch.Status == nil && ch.InvestorID == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no fields to update"})
	}

	if err := h.Campaigns.Update(ctx, id, ch); err != nil {
		log.Printf("campaigns: update failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update campaign failed"})
	}

	updated, err := h.Campaigns.GetByID(ctx, id)
	if err != nil {
		log.Printf("campaigns: load updated failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load campaign failed"})
	}
	return c.JSON(http.StatusOK, toCampaignPart(updated))
}

// UpdateStatus flips a campaign between active and paused.
func (h *CampaignHandler) UpdateStatus(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid campaign id"})
	}
	var req campaignStatusReq
	if err := c.Bind(&req); err != nil || !validCampaignStatus(req.Status) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status must be active or paused"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := h.loadScoped(ctx, u, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "campaign not found"})
		}
		log.Printf("campaigns: load failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	if err := h.Campaigns.UpdateStatus(ctx, id, req.Status); err != nil {
		log.Printf("campaigns: status update failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update campaign failed"})
	}

	updated, err := h.Campaigns.GetByID(ctx, id)
	if err != nil {
		log.Printf("campaigns: load updated failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load campaign failed"})
	}
	return c.JSON(http.StatusOK, toCampaignPart(updated))
}

// Delete removes a campaign and its applications.  Registered behind
// RequireRole(admin).
func (h *CampaignHandler) Delete(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid campaign id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	deletedApps, err := h.Campaigns.DeleteCascade(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "campaign not found"})
		}
		log.Printf("campaigns: delete failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete campaign failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":              true,
		"deleted_campaign_id":  id,
		"deleted_applications": deletedApps,
	})
}
