package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Campaign statuses.
const (
	CampaignStatusActive = "active"
	CampaignStatusPaused = "paused"
)

// Campaign represents a lead-generation campaign owned by one investor.
// InvestorLogin and InvestorName are joined from users for display.
type Campaign struct {
	ID            uint64
	InvestorID    uint64
	InvestorLogin string
	InvestorName  string
	Name          string
	Budget        float64
	Status        string
	CreatedAt     time.Time
}

// CampaignChanges describes a partial campaign update.  Nil fields are
// left untouched.
type CampaignChanges struct {
	Name       *string
	Budget     *float64
	Status     *string
	InvestorID *uint64
}

type CampaignRepo struct{ DB *sql.DB }

func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{DB: db} }

const campaignSelect = `
	SELECT c.id, c.investor_id, c.name, c.budget, c.status, c.created_at,
	       u.login, u.name
	FROM campaigns c
	JOIN users u ON u.id = c.investor_id`

func scanCampaign(row *sql.Row) (Campaign, error) {
	var c Campaign
	err := row.Scan(&c.ID, &c.InvestorID, &c.Name, &c.Budget, &c.Status, &c.CreatedAt,
		&c.InvestorLogin, &c.InvestorName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return c, nil
}

// GetByID fetches a campaign regardless of owner.  Admin paths use this.
func (r *CampaignRepo) GetByID(ctx context.Context, id uint64) (Campaign, error) {
	return scanCampaign(r.DB.QueryRowContext(ctx, campaignSelect+" WHERE c.id = ?", id))
}

// GetByIDForInvestor fetches a campaign only when it belongs to the given
// investor.  A campaign owned by someone else comes back as ErrNotFound,
// so a non-owner cannot probe for existence.
func (r *CampaignRepo) GetByIDForInvestor(ctx context.Context, id, investorID uint64) (Campaign, error) {
	return scanCampaign(r.DB.QueryRowContext(ctx,
		campaignSelect+" WHERE c.id = ? AND c.investor_id = ?", id, investorID))
}

// List returns campaigns newest first.  A non-nil investorID restricts the
// listing to that investor's rows.
func (r *CampaignRepo) List(ctx context.Context, investorID *uint64) ([]Campaign, error) {
	q := campaignSelect
	var args []interface{}
	if investorID != nil {
		q += " WHERE c.investor_id = ?"
		args = append(args, *investorID)
	}
	q += " ORDER BY c.id DESC"

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.InvestorID, &c.Name, &c.Budget, &c.Status, &c.CreatedAt,
			&c.InvestorLogin, &c.InvestorName); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Create inserts a campaign and returns its ID.
func (r *CampaignRepo) Create(ctx context.Context, investorID uint64, name string, budget float64, status string) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO campaigns (investor_id, name, budget, status) VALUES (?,?,?,?)",
		investorID, name, budget, status)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// Update applies a partial update to an existing campaign.
func (r *CampaignRepo) Update(ctx context.Context, id uint64, ch CampaignChanges) error {
	var (
		sets []string
		args []interface{}
	)
	if ch.Name != nil {
		sets = append(sets, "name=?")
		args = append(args, *ch.Name)
	}
	if ch.Budget != nil {
		sets = append(sets, "budget=?")
		args = append(args, *ch.Budget)
	}
	if ch.Status != nil {
		sets = append(sets, "status=?")
		args = append(args, *ch.Status)
	}
	if ch.InvestorID != nil {
		sets = append(sets, "investor_id=?")
		args = append(args, *ch.InvestorID)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := r.DB.ExecContext(ctx,
		"UPDATE campaigns SET "+strings.Join(sets, ", ")+" WHERE id=?", args...)
	return err
}

// UpdateStatus flips a campaign between active and paused.
func (r *CampaignRepo) UpdateStatus(ctx context.Context, id uint64, status string) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE campaigns SET status=? WHERE id=?", status, id)
	return err
}

// DeleteCascade removes a campaign and its applications in one
// transaction, returning the number of applications removed.  Explicit
// deletes keep the behavior deterministic regardless of how the schema's
// foreign keys are configured.
func (r *CampaignRepo) DeleteCascade(ctx context.Context, id uint64) (deletedApps int64, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, "DELETE FROM applications WHERE campaign_id = ?", id)
	if err != nil {
		return 0, err
	}
	deletedApps, err = res.RowsAffected()
	if err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx, "DELETE FROM campaigns WHERE id = ?", id)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		err = ErrNotFound
		return 0, err
	}

	err = tx.Commit()
	return deletedApps, err
}
