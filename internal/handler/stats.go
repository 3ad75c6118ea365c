package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/leadray/backoffice/internal/metrics"
	"github.com/leadray/backoffice/internal/middleware"
	"github.com/leadray/backoffice/internal/repository"
)

// StatsStore is the aggregation surface behind the dashboard.
type StatsStore interface {
	CampaignRows(ctx context.Context, investorID *uint64) ([]repository.CampaignAgg, error)
	CampaignRow(ctx context.Context, campaignID uint64) (repository.CampaignAgg, error)
	Timeline(ctx context.Context, investorID, campaignID *uint64) ([]repository.TimelinePoint, error)
	StatusCounts(ctx context.Context, campaignID uint64) ([]repository.StatusCount, error)
}

// StatsHandler serves the dashboard and per-campaign statistics.
type StatsHandler struct {
	Stats StatsStore
}

func NewStatsHandler(s StatsStore) *StatsHandler { return &StatsHandler{Stats: s} }

type campaignStatsRow struct {
	CampaignID   uint64         `json:"campaign_id"`
	CampaignName string         `json:"campaign_name"`
	InvestorID   uint64         `json:"investor_id"`
	InvestorName string         `json:"investor_name"`
	Status       string         `json:"status"`
	Applications int            `json:"applications"`
	Budget       float64        `json:"budget"`
	TotalRevenue float64        `json:"total_revenue"`
	Percent      float64        `json:"percent"`
	Metrics      metrics.Profit `json:"metrics"`
}

type dashboardResp struct {
	TotalCampaigns    int                        `json:"total_campaigns"`
	TotalApplications int                        `json:"total_applications"`
	TotalBudget       float64                    `json:"total_budget"`
	TotalRevenue      float64                    `json:"total_revenue"`
	Campaigns         []campaignStatsRow         `json:"campaigns"`
	Timeline          []repository.TimelinePoint `json:"timeline"`
	GeneratedAt       time.Time                  `json:"generated_at"`
}

type campaignStatsResp struct {
	campaignStatsRow
	StatusCounts []repository.StatusCount   `json:"status_counts"`
	Timeline     []repository.TimelinePoint `json:"timeline"`
	GeneratedAt  time.Time                  `json:"generated_at"`
}

func toStatsRow(agg repository.CampaignAgg) campaignStatsRow {
	return campaignStatsRow{
		CampaignID:   agg.ID,
		CampaignName: agg.Name,
		InvestorID:   agg.InvestorID,
		InvestorName: agg.InvestorName,
		Status:       agg.Status,
		Applications: agg.Applications,
		Budget:       agg.Budget,
		TotalRevenue: agg.TotalRevenue,
		Percent:      agg.Percent,
		Metrics:      metrics.Calc(agg.TotalRevenue, agg.Budget, agg.Percent),
	}
}

// Dashboard aggregates every campaign visible to the caller into totals,
// per-campaign profit rows and a revenue timeline.
func (h *StatsHandler) Dashboard(c echo.Context) error {
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
	aggs, err := h.Stats.CampaignRows(ctx, scope)
	if err != nil {
		log.Printf("stats: campaign rows failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	timeline, err := h.Stats.Timeline(ctx, scope, nil)
	if err != nil {
		log.Printf("stats: timeline failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if timeline == nil {
		timeline = []repository.TimelinePoint{}
	}

	resp := dashboardResp{
		Campaigns:   make([]campaignStatsRow, 0, len(aggs)),
		Timeline:    timeline,
		GeneratedAt: time.Now().UTC(),
	}
	for _, agg := range aggs {
		resp.TotalCampaigns++
		resp.TotalApplications += agg.Applications
		resp.TotalBudget += agg.Budget
		resp.TotalRevenue += agg.TotalRevenue
		resp.Campaigns = append(resp.Campaigns, toStatsRow(agg))
	}
	return c.JSON(http.StatusOK, resp)
}

// Campaign returns the statistics for one campaign, with per-status counts.
// Investors asking about a campaign they do not own get a 404.
func (h *StatsHandler) Campaign(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid campaign id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	agg, err := h.Stats.CampaignRow(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "campaign not found"})
		}
		log.Printf("stats: campaign row failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if u.Role == repository.RoleInvestor && agg.InvestorID != u.ID {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "campaign not found"})
	}

	counts, err := h.Stats.StatusCounts(ctx, id)
	if err != nil {
		log.Printf("stats: status counts failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if counts == nil {
		counts = []repository.StatusCount{}
	}
	timeline, err := h.Stats.Timeline(ctx, nil, &id)
	if err != nil {
		log.Printf("stats: timeline failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if timeline == nil {
		timeline = []repository.TimelinePoint{}
	}

	return c.JSON(http.StatusOK, campaignStatsResp{
		campaignStatsRow: toStatsRow(agg),
		StatusCounts:     counts,
		Timeline:         timeline,
		GeneratedAt:      time.Now().UTC(),
	})
}
