package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Application statuses.  Rows inserted by the intake bot carry no status
// until an operator touches them; reads coalesce NULL to "new".
const (
	ApplicationStatusNew        = "new"
	ApplicationStatusInProgress = "in_progress"
	ApplicationStatusApproved   = "approved"
	ApplicationStatusRejected   = "rejected"
)

// Application mirrors an 'applications' row joined with its campaign.
type Application struct {
	ID           uint64
	TelegramID   int64
	Username     *string
	FirstName    *string
	Phone        string
	Age          int
	Citizenship  string
	Source       *string
	Contacted    bool
	SubmittedAt  time.Time
	CampaignID   *uint64
	CampaignName *string
	InvestorID   *uint64 // owning investor via the campaign join
	Status       string  // coalesced, never empty
	Revenue      *float64
}

// ApplicationFilter narrows List results.  A non-nil InvestorID scopes
// rows to campaigns owned by that investor (the row-level authorization
// rule for the investor role).
type ApplicationFilter struct {
	InvestorID *uint64
	CampaignID *uint64
	Status     *string
	DateFrom   *time.Time
	DateTo     *time.Time
}

// ApplicationChanges describes the operator-editable fields.
type ApplicationChanges struct {
	Status  *string
	Revenue *float64
}

type ApplicationRepo struct{ DB *sql.DB }

func NewApplicationRepo(db *sql.DB) *ApplicationRepo { return &ApplicationRepo{DB: db} }

const applicationSelect = `
	SELECT a.id, a.telegram_id, a.username, a.first_name, a.phone, a.age,
	       a.citizenship, a.source, a.contacted, a.submitted_at,
	       a.campaign_id, c.name, c.investor_id,
	       COALESCE(a.status, 'new'), a.revenue
	FROM applications a
	LEFT JOIN campaigns c ON c.id = a.campaign_id`

func scanApplication(scan func(dest ...interface{}) error) (Application, error) {
	var (
		a          Application
		username   sql.NullString
		firstName  sql.NullString
		source     sql.NullString
		campaignID sql.NullInt64
		campName   sql.NullString
		investorID sql.NullInt64
		revenue    sql.NullFloat64
	)
	err := scan(&a.ID, &a.TelegramID, &username, &firstName, &a.Phone, &a.Age,
		&a.Citizenship, &source, &a.Contacted, &a.SubmittedAt,
		&campaignID, &campName, &investorID, &a.Status, &revenue)
	if err != nil {
		return Application{}, err
	}
	if username.Valid {
		a.Username = &username.String
	}
	if firstName.Valid {
		a.FirstName = &firstName.String
	}
	if source.Valid {
		a.Source = &source.String
	}
	if campaignID.Valid {
		v := uint64(campaignID.Int64)
		a.CampaignID = &v
	}
	if campName.Valid {
		a.CampaignName = &campName.String
	}
	if investorID.Valid {
		v := uint64(investorID.Int64)
		a.InvestorID = &v
	}
	if revenue.Valid {
		a.Revenue = &revenue.Float64
	}
	return a, nil
}

// List returns applications newest first, honoring the filter.  Investor
// scoping joins through campaigns: an application without a campaign is
// never visible to investors.
func (r *ApplicationRepo) List(ctx context.Context, f ApplicationFilter) ([]Application, error) {
	q := applicationSelect + " WHERE 1=1"
	var args []interface{}

	if f.InvestorID != nil {
		q += " AND c.investor_id = ?"
		args = append(args, *f.InvestorID)
	}
	if f.CampaignID != nil {
		q += " AND a.campaign_id = ?"
		args = append(args, *f.CampaignID)
	}
	if f.Status != nil {
		q += " AND COALESCE(a.status, 'new') = ?"
		args = append(args, *f.Status)
	}
	if f.DateFrom != nil {
		q += " AND a.submitted_at >= ?"
		args = append(args, *f.DateFrom)
	}
	if f.DateTo != nil {
		q += " AND a.submitted_at <= ?"
		args = append(args, *f.DateTo)
	}
	q += " ORDER BY a.id DESC"

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Application
	for rows.Next() {
		a, err := scanApplication(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetByID fetches one application without ownership scoping.
func (r *ApplicationRepo) GetByID(ctx context.Context, id uint64) (Application, error) {
	row := r.DB.QueryRowContext(ctx, applicationSelect+" WHERE a.id = ?", id)
	a, err := scanApplication(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, err
	}
	return a, nil
}

// GetByIDForInvestor fetches one application only when its campaign
// belongs to the given investor; anything else is ErrNotFound.
func (r *ApplicationRepo) GetByIDForInvestor(ctx context.Context, id, investorID uint64) (Application, error) {
	row := r.DB.QueryRowContext(ctx,
		applicationSelect+" WHERE a.id = ? AND c.investor_id = ?", id, investorID)
	a, err := scanApplication(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, err
	}
	return a, nil
}

// Update applies the operator-editable fields.
func (r *ApplicationRepo) Update(ctx context.Context, id uint64, ch ApplicationChanges) error {
	var (
		sets []string
		args []interface{}
	)
	if ch.Status != nil {
		sets = append(sets, "status=?")
		args = append(args, *ch.Status)
		// moving past "new" means an operator has reached the lead
		if *ch.Status != ApplicationStatusNew {
			sets = append(sets, "contacted=1")
		}
	}
	if ch.Revenue != nil {
		sets = append(sets, "revenue=?")
		args = append(args, *ch.Revenue)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := r.DB.ExecContext(ctx,
		"UPDATE applications SET "+strings.Join(sets, ", ")+" WHERE id=?", args...)
	return err
}

// Delete removes an application outright.  Admin-only at the handler
// layer; returns ErrNotFound when nothing was deleted.
func (r *ApplicationRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM applications WHERE id=?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Insert stores a bot-submitted application.  Used by the intake
// consumer; the operator-only fields (status, revenue) start NULL.
func (r *ApplicationRepo) Insert(ctx context.Context, a Application) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO applications
		 (telegram_id, username, first_name, phone, age, citizenship, source, contacted, submitted_at, campaign_id)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.TelegramID, nullable(a.Username), nullable(a.FirstName), a.Phone, a.Age,
		a.Citizenship, nullable(a.Source), a.Contacted, a.SubmittedAt, nullableID(a.CampaignID))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableID(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
