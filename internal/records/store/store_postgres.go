package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vigil/internal/records/models"
	"vigil/pkg/domain"

	"github.com/google/uuid"
)

// Postgres reads domain records from the host application's tables.
// This store is pure I/O; window arithmetic and escalation decisions belong
// to the detectors and the escalation machine.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed record store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// scopeClause appends company/site predicates starting at the given argument
// position. A nil company id means unscoped.
func scopeClause(scope domain.Scope, args []any) (string, []any) {
	clause := ""
	if !scope.CompanyID.IsNil() {
		args = append(args, uuid.UUID(scope.CompanyID))
		clause += fmt.Sprintf(" AND company_id = $%d", len(args))
		if scope.SiteScoped() {
			args = append(args, uuid.UUID(scope.SiteID))
			clause += fmt.Sprintf(" AND site_id = $%d", len(args))
		}
	}
	return clause, args
}

func (s *Postgres) PendingDueBy(ctx context.Context, scope domain.Scope, horizon time.Time) ([]models.Deadline, error) {
	args := []any{horizon}
	clause, args := scopeClause(scope, args)
	query := `
		SELECT id, company_id, site_id, title, due_date, status
		FROM deadlines
		WHERE status = 'pending' AND due_date <= $1` + clause

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending deadlines: %w", err)
	}
	defer rows.Close()

	var out []models.Deadline
	for rows.Next() {
		var d models.Deadline
		var companyID, siteID uuid.UUID
		var status string
		if err := rows.Scan(&d.ID, &companyID, &siteID, &d.Title, &d.DueDate, &status); err != nil {
			return nil, fmt.Errorf("scan deadline: %w", err)
		}
		d.Scope = domain.Scope{CompanyID: domain.CompanyID(companyID), SiteID: domain.SiteID(siteID)}
		d.Status = models.DeadlineStatus(status)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Postgres) Unresolved(ctx context.Context, scope domain.Scope) ([]models.ReviewItem, error) {
	var args []any
	clause, args := scopeClause(scope, args)
	query := `
		SELECT id, company_id, site_id, title, created_at, resolved_at,
		       escalation_level, escalated_at, last_escalation_reset
		FROM review_items
		WHERE resolved_at IS NULL` + clause

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unresolved review items: %w", err)
	}
	defer rows.Close()

	var out []models.ReviewItem
	for rows.Next() {
		var r models.ReviewItem
		var companyID, siteID uuid.UUID
		var level int
		if err := rows.Scan(&r.ID, &companyID, &siteID, &r.Title, &r.CreatedAt, &r.ResolvedAt,
			&level, &r.EscalatedAt, &r.LastEscalationReset); err != nil {
			return nil, fmt.Errorf("scan review item: %w", err)
		}
		r.Scope = domain.Scope{CompanyID: domain.CompanyID(companyID), SiteID: domain.SiteID(siteID)}
		parsed, err := domain.ParseEscalationLevel(level)
		if err != nil {
			return nil, fmt.Errorf("review item %s: %w", r.ID, err)
		}
		r.EscalationLevel = parsed
		out = append(out, r)
	}
	return out, rows.Err()
}

// RaiseEscalationLevel performs the conditional raise in a single UPDATE so a
// stale read on a concurrent worker can never downgrade a level.
func (s *Postgres) RaiseEscalationLevel(ctx context.Context, itemID string, target domain.EscalationLevel, at time.Time) (bool, error) {
	query := `
		UPDATE review_items
		SET escalation_level = $2,
		    escalated_at = COALESCE(escalated_at, $3)
		WHERE id = $1 AND escalation_level < $2 AND resolved_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, itemID, int(target), at)
	if err != nil {
		return false, fmt.Errorf("raise escalation level: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("raise escalation level rows: %w", err)
	}
	return n > 0, nil
}

func (s *Postgres) ResetEscalation(ctx context.Context, itemID string, at time.Time) error {
	query := `
		UPDATE review_items
		SET escalation_level = 0,
		    escalated_at = NULL,
		    last_escalation_reset = $2
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, itemID, at); err != nil {
		return fmt.Errorf("reset escalation: %w", err)
	}
	return nil
}

func (s *Postgres) ExpiringBy(ctx context.Context, scope domain.Scope, horizon time.Time) ([]models.Licence, error) {
	args := []any{horizon}
	clause, args := scopeClause(scope, args)
	query := `
		SELECT id, company_id, site_id, title, expiry_date, renewed_at
		FROM licences
		WHERE expiry_date <= $1` + clause

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expiring licences: %w", err)
	}
	defer rows.Close()

	var out []models.Licence
	for rows.Next() {
		var l models.Licence
		var companyID, siteID uuid.UUID
		if err := rows.Scan(&l.ID, &companyID, &siteID, &l.Title, &l.ExpiryDate, &l.RenewedAt); err != nil {
			return nil, fmt.Errorf("scan licence: %w", err)
		}
		l.Scope = domain.Scope{CompanyID: domain.CompanyID(companyID), SiteID: domain.SiteID(siteID)}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Postgres) DueBy(ctx context.Context, scope domain.Scope, horizon time.Time) ([]models.PeriodicTest, error) {
	args := []any{horizon}
	clause, args := scopeClause(scope, args)
	query := `
		SELECT id, company_id, site_id, title, due_date, completed_at
		FROM periodic_tests
		WHERE completed_at IS NULL AND due_date <= $1` + clause

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query due periodic tests: %w", err)
	}
	defer rows.Close()

	var out []models.PeriodicTest
	for rows.Next() {
		var t models.PeriodicTest
		var companyID, siteID uuid.UUID
		if err := rows.Scan(&t.ID, &companyID, &siteID, &t.Title, &t.DueDate, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan periodic test: %w", err)
		}
		t.Scope = domain.Scope{CompanyID: domain.CompanyID(companyID), SiteID: domain.SiteID(siteID)}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) HasValidEvidence(ctx context.Context, ref domain.ItemRef, at time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM evidence_links
			WHERE item_ref = $1
			  AND (unlinked_at IS NULL OR unlinked_at > $2)
			  AND (expires_at IS NULL OR expires_at > $2)
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, ref.String(), at).Scan(&exists); err != nil {
		return false, fmt.Errorf("check valid evidence: %w", err)
	}
	return exists, nil
}

// LatestResolutionAt combines the domain-specific resolution timestamp with
// the newest still-linked evidence for the item.
func (s *Postgres) LatestResolutionAt(ctx context.Context, ref domain.ItemRef) (*time.Time, error) {
	var domainQuery string
	switch ref.Domain {
	case domain.DomainReview:
		domainQuery = `SELECT resolved_at FROM review_items WHERE id = $1`
	case domain.DomainLicence:
		domainQuery = `SELECT renewed_at FROM licences WHERE id = $1`
	case domain.DomainTest:
		domainQuery = `SELECT completed_at FROM periodic_tests WHERE id = $1`
	}

	var latest *time.Time
	if domainQuery != "" {
		var t sql.NullTime
		err := s.db.QueryRowContext(ctx, domainQuery, ref.EntityID).Scan(&t)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("query domain resolution: %w", err)
		}
		if t.Valid {
			latest = &t.Time
		}
	}

	var evidenceAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM evidence_links
		WHERE item_ref = $1 AND unlinked_at IS NULL
	`, ref.String()).Scan(&evidenceAt)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query evidence resolution: %w", err)
	}
	if evidenceAt.Valid && (latest == nil || evidenceAt.Time.After(*latest)) {
		latest = &evidenceAt.Time
	}
	return latest, nil
}
