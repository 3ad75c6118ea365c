package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CampaignAgg is one campaign with its aggregated revenue, used by the
// stats endpoints.  Percent is the owning investor's profit share (0 when
// unset).
type CampaignAgg struct {
	ID           uint64
	InvestorID   uint64
	InvestorName string
	Name         string
	Budget       float64
	Status       string
	CreatedAt    time.Time
	Percent      float64
	TotalRevenue float64
	Applications int
}

// TimelinePoint is revenue aggregated per submission day.
type TimelinePoint struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
}

// StatusCount is the number of applications per status for one campaign.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// StatsRepo runs the aggregation queries behind the dashboard.
type StatsRepo struct{ DB *sql.DB }

func NewStatsRepo(db *sql.DB) *StatsRepo { return &StatsRepo{DB: db} }

const campaignAggSelect = `
	SELECT c.id, c.investor_id, u.name, c.name, c.budget, c.status, c.created_at,
	       COALESCE(u.percent, 0),
	       COALESCE(SUM(a.revenue), 0),
	       COUNT(a.id)
	FROM campaigns c
	JOIN users u ON u.id = c.investor_id
	LEFT JOIN applications a ON a.campaign_id = c.id`

const campaignAggGroup = `
	GROUP BY c.id, c.investor_id, u.name, c.name, c.budget, c.status, c.created_at, u.percent`

// CampaignRows returns aggregated rows for every campaign visible to the
// caller, newest first.  A non-nil investorID applies ownership scoping.
func (r *StatsRepo) CampaignRows(ctx context.Context, investorID *uint64) ([]CampaignAgg, error) {
	q := campaignAggSelect
	var args []interface{}
	if investorID != nil {
		q += " WHERE c.investor_id = ?"
		args = append(args, *investorID)
	}
	q += campaignAggGroup + " ORDER BY c.id DESC"

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CampaignAgg
	for rows.Next() {
		var c CampaignAgg
		if err := rows.Scan(&c.ID, &c.InvestorID, &c.InvestorName, &c.Name, &c.Budget,
			&c.Status, &c.CreatedAt, &c.Percent, &c.TotalRevenue, &c.Applications); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CampaignRow returns the aggregated row for one campaign.
func (r *StatsRepo) CampaignRow(ctx context.Context, campaignID uint64) (CampaignAgg, error) {
	var c CampaignAgg
	err := r.DB.QueryRowContext(ctx,
		campaignAggSelect+" WHERE c.id = ?"+campaignAggGroup, campaignID).
		Scan(&c.ID, &c.InvestorID, &c.InvestorName, &c.Name, &c.Budget,
			&c.Status, &c.CreatedAt, &c.Percent, &c.TotalRevenue, &c.Applications)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CampaignAgg{}, ErrNotFound
		}
		return CampaignAgg{}, err
	}
	return c, nil
}

// Timeline returns revenue per submission day across the caller's visible
// applications, oldest day first.  campaignID further narrows to one
// campaign when non-nil.
func (r *StatsRepo) Timeline(ctx context.Context, investorID, campaignID *uint64) ([]TimelinePoint, error) {
	q := `
		SELECT DATE_FORMAT(a.submitted_at, '%Y-%m-%d') AS day,
		       COALESCE(SUM(a.revenue), 0)
		FROM applications a
		JOIN campaigns c ON c.id = a.campaign_id
		WHERE a.campaign_id IS NOT NULL`
	var args []interface{}
	if investorID != nil {
		q += " AND c.investor_id = ?"
		args = append(args, *investorID)
	}
	if campaignID != nil {
		q += " AND a.campaign_id = ?"
		args = append(args, *campaignID)
	}
	q += " GROUP BY day ORDER BY day ASC"

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimelinePoint
	for rows.Next() {
		var p TimelinePoint
		if err := rows.Scan(&p.Date, &p.Revenue); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// StatusCounts returns per-status application counts for one campaign.
func (r *StatsRepo) StatusCounts(ctx context.Context, campaignID uint64) ([]StatusCount, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT COALESCE(status, 'new') AS s, COUNT(*)
		FROM applications
		WHERE campaign_id = ?
		GROUP BY s`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
