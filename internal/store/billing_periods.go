package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrBillingPeriodNotFound = errors.New("billing period not found")
	ErrBillingPeriodOverlap  = errors.New("billing period overlaps with existing period")
)

// overlapConstraintMessage is the fixed part of the error raised by the
// check_billing_period_overlap trigger; the full message also names the
// project id, and the driver wraps it, so callers match it as a substring.
const overlapConstraintMessage = "cannot overlap"

const billingPeriodColumns = "id, user_id, project_id, starts_on, ends_on, hourly_rate, created_at, updated_at"

// BillingPeriod is the hourly rate in effect for a project from StartsOn
// through EndsOn, both dates included. A nil EndsOn means the rate is still open-ended —
// it applies to every entry materialized from here forward until a new
// period is created or this one is closed out.
type BillingPeriod struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	ProjectID  uuid.UUID
	StartsOn   time.Time
	EndsOn     *time.Time
	HourlyRate float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BillingPeriodStore provides PostgreSQL-backed billing period storage
type BillingPeriodStore struct {
	pool *pgxpool.Pool
}

// NewBillingPeriodStore creates a new PostgreSQL billing period store
func NewBillingPeriodStore(pool *pgxpool.Pool) *BillingPeriodStore {
	return &BillingPeriodStore{pool: pool}
}

func scanBillingPeriod(row pgx.Row) (*BillingPeriod, error) {
	p := &BillingPeriod{}
	err := row.Scan(&p.ID, &p.UserID, &p.ProjectID, &p.StartsOn, &p.EndsOn, &p.HourlyRate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create adds a new billing period
func (s *BillingPeriodStore) Create(ctx context.Context, userID, projectID uuid.UUID, startsOn time.Time, endsOn *time.Time, hourlyRate float64) (*BillingPeriod, error) {
	period := &BillingPeriod{
		ID:         uuid.New(),
		UserID:     userID,
		ProjectID:  projectID,
		StartsOn:   startsOn,
		EndsOn:     endsOn,
		HourlyRate: hourlyRate,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_periods (id, user_id, project_id, starts_on, ends_on, hourly_rate, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, period.ID, period.UserID, period.ProjectID, period.StartsOn, period.EndsOn, period.HourlyRate, period.CreatedAt, period.UpdatedAt)

	if err != nil {
		if strings.Contains(err.Error(), overlapConstraintMessage) {
			return nil, ErrBillingPeriodOverlap
		}
		return nil, err
	}

	return period, nil
}

// GetByID retrieves a billing period by ID
func (s *BillingPeriodStore) GetByID(ctx context.Context, userID, periodID uuid.UUID) (*BillingPeriod, error) {
	period, err := scanBillingPeriod(s.pool.QueryRow(ctx, `
		SELECT `+billingPeriodColumns+`
		FROM billing_periods WHERE id = $1 AND user_id = $2
	`, periodID, userID))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBillingPeriodNotFound
		}
		return nil, err
	}
	return period, nil
}

// ListByProject retrieves all billing periods for a project, most recent
// StartsOn first.
func (s *BillingPeriodStore) ListByProject(ctx context.Context, userID, projectID uuid.UUID) ([]*BillingPeriod, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+billingPeriodColumns+`
		FROM billing_periods
		WHERE user_id = $1 AND project_id = $2
		ORDER BY starts_on DESC
	`, userID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []*BillingPeriod
	for rows.Next() {
		p, err := scanBillingPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}

	return periods, rows.Err()
}

// FindPeriodForDate finds the billing period whose StartsOn..EndsOn window
// (both ends included) covers date, the rate the invoice engine applies to a time entry on that
// date.
func (s *BillingPeriodStore) FindPeriodForDate(ctx context.Context, userID, projectID uuid.UUID, date time.Time) (*BillingPeriod, error) {
	period, err := scanBillingPeriod(s.pool.QueryRow(ctx, `
		SELECT `+billingPeriodColumns+`
		FROM billing_periods
		WHERE user_id = $1 AND project_id = $2
		AND starts_on <= $3
		AND (ends_on IS NULL OR ends_on >= $3)
		LIMIT 1
	`, userID, projectID, date))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBillingPeriodNotFound
		}
		return nil, err
	}
	return period, nil
}

// Update applies a sparse set of column changes to an existing billing
// period. updates keys become SQL identifiers directly, so callers must pass
// only the fixed set of known column names (handler/billing.go does); it's
// not safe to expose this map to arbitrary request input.
func (s *BillingPeriodStore) Update(ctx context.Context, userID, periodID uuid.UUID, updates map[string]interface{}) (*BillingPeriod, error) {
	updates["updated_at"] = time.Now().UTC()

	// Build dynamic update query
	setClauses := ""
	args := []interface{}{periodID, userID}
	argNum := 3

	for key, value := range updates {
		if setClauses != "" {
			setClauses += ", "
		}
		setClauses += fmt.Sprintf("%s = $%d", key, argNum)
		args = append(args, value)
		argNum++
	}

	query := "UPDATE billing_periods SET " + setClauses + " WHERE id = $1 AND user_id = $2 RETURNING " + billingPeriodColumns

	period, err := scanBillingPeriod(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBillingPeriodNotFound
		}
		if strings.Contains(err.Error(), overlapConstraintMessage) {
			return nil, ErrBillingPeriodOverlap
		}
		return nil, err
	}

	return period, nil
}

// Delete removes a billing period
func (s *BillingPeriodStore) Delete(ctx context.Context, userID, periodID uuid.UUID) error {
	result, err := s.pool.Exec(ctx,
		"DELETE FROM billing_periods WHERE id = $1 AND user_id = $2",
		periodID, userID,
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrBillingPeriodNotFound
	}

	return nil
}
