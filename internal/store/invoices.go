package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrInvoiceNotDraft     = errors.New("invoice is not a draft")
	ErrNoUnbilledEntries   = errors.New("no unbilled entries found in date range")
	ErrInvalidStatusChange = errors.New("invalid status change")
)

// validInvoiceTransitions enumerates the only legal invoice status changes:
// draft -> sent -> paid, and sent -> draft (to correct a mistake before it's
// paid). paid is terminal.
var validInvoiceTransitions = map[string]map[string]bool{
	"draft": {"sent": true},
	"sent":  {"draft": true, "paid": true},
	"paid":  {},
}

// Invoice represents a stored invoice
type Invoice struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	ProjectID       uuid.UUID
	BillingPeriodID *uuid.UUID
	InvoiceNumber   string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	InvoiceDate     time.Time
	Status          string
	TotalHours      decimal.Decimal
	TotalAmount     decimal.Decimal
	SpreadsheetID   *string
	SpreadsheetURL  *string
	WorksheetID     *int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	// Joined data
	Project   *Project
	LineItems []InvoiceLineItem
}

// InvoiceLineItem represents a line item in an invoice
type InvoiceLineItem struct {
	ID          uuid.UUID
	InvoiceID   uuid.UUID
	TimeEntryID uuid.UUID
	Date        time.Time
	Description string
	Hours       decimal.Decimal
	HourlyRate  decimal.Decimal
	Amount      decimal.Decimal
}

// TimeEntryMerger fills ephemeral gaps in a date range with analyzer-computed
// entries. InvoiceStore depends on this interface rather than importing
// *timeentry.Service directly to avoid a store<->timeentry import cycle
// (timeentry already imports store); main.go wires the concrete
// *timeentry.Service in via SetTimeEntryMerger.
type TimeEntryMerger interface {
	ListMerged(ctx context.Context, userID uuid.UUID, start, end time.Time, projectID *uuid.UUID) ([]MergedEntry, error)
}

// InvoiceStore provides PostgreSQL-backed invoice storage
type InvoiceStore struct {
	pool           *pgxpool.Pool
	timeEntries    *TimeEntryStore
	billingPeriods *BillingPeriodStore
	projects       *ProjectStore
	merger         TimeEntryMerger
}

// NewInvoiceStore creates a new PostgreSQL invoice store
func NewInvoiceStore(pool *pgxpool.Pool, timeEntries *TimeEntryStore, billingPeriods *BillingPeriodStore, projects *ProjectStore) *InvoiceStore {
	return &InvoiceStore{
		pool:           pool,
		timeEntries:    timeEntries,
		billingPeriods: billingPeriods,
		projects:       projects,
	}
}

// SetTimeEntryMerger wires in the ephemeral-entry materializer used by
// Create to turn gap dates into real 0h placeholder rows before invoicing.
func (s *InvoiceStore) SetTimeEntryMerger(merger TimeEntryMerger) {
	s.merger = merger
}

// generateInvoiceNumber creates an invoice number in format PROJECT-YEAR-SEQ
func (s *InvoiceStore) generateInvoiceNumber(ctx context.Context, tx pgx.Tx, userID, projectID uuid.UUID, invoiceDate time.Time) (string, error) {
	project, err := s.projects.GetByID(ctx, userID, projectID)
	if err != nil {
		return "", err
	}

	var prefix string
	if project.ShortCode != nil && *project.ShortCode != "" {
		prefix = *project.ShortCode
	} else {
		re := regexp.MustCompile(`[^a-zA-Z0-9\s]+`)
		cleaned := re.ReplaceAllString(project.Name, "")
		words := strings.Fields(cleaned)
		if len(words) > 0 {
			prefix = strings.ToUpper(words[0])
		} else {
			prefix = "INV"
		}
	}

	year := invoiceDate.Year()

	var maxSeq int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(
			CAST(
				SUBSTRING(invoice_number FROM '[0-9]+$') AS INTEGER
			)
		), 0)
		FROM invoices
		WHERE user_id = $1
		  AND project_id = $2
		  AND EXTRACT(YEAR FROM invoice_date) = $3
	`, userID, projectID, year).Scan(&maxSeq)
	if err != nil {
		return "", err
	}

	nextSeq := maxSeq + 1
	return fmt.Sprintf("%s-%d-%03d", prefix, year, nextSeq), nil
}

// Create generates an invoice covering [periodStart, periodEnd] for a
// project. Before snapshotting line items, it materializes a 0h
// "invoice-placeholder" row via the injected TimeEntryMerger for every date
// in the period with no stored entry, so the invoice reflects the full
// period even for days nobody ever touched. If billingPeriodID is given, its
// rate is used for every line item; otherwise each entry's date is matched
// against the project's billing periods independently.
func (s *InvoiceStore) Create(ctx context.Context, userID, projectID uuid.UUID, billingPeriodID *uuid.UUID, periodStart, periodEnd time.Time) (*Invoice, error) {
	if s.merger != nil {
		merged, err := s.merger.ListMerged(ctx, userID, periodStart, periodEnd, &projectID)
		if err != nil {
			return nil, err
		}
		for _, m := range merged {
			if !m.IsEphemeral {
				continue
			}
			hours := decimal.Zero
			if m.ComputedHours != nil {
				hours = *m.ComputedHours
			}
			if _, err := s.timeEntries.UpsertFromComputed(
				ctx, userID, projectID, m.Date, hours, "", "", m.CalculationDetails, m.ContributingEventIDs,
			); err != nil {
				return nil, err
			}
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, project_id, date, hours, title, description
		FROM time_entries
		WHERE user_id = $1
		  AND project_id = $2
		  AND date >= $3
		  AND date <= $4
		  AND invoice_id IS NULL
		  AND is_suppressed = false
		ORDER BY date ASC
	`, userID, projectID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	type unbilledEntry struct {
		ID          uuid.UUID
		ProjectID   uuid.UUID
		Date        time.Time
		Hours       decimal.Decimal
		Title       *string
		Description *string
	}

	var timeEntries []unbilledEntry
	for rows.Next() {
		var entry unbilledEntry
		if err := rows.Scan(&entry.ID, &entry.ProjectID, &entry.Date, &entry.Hours, &entry.Title, &entry.Description); err != nil {
			rows.Close()
			return nil, err
		}
		timeEntries = append(timeEntries, entry)
	}
	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(timeEntries) == 0 {
		return nil, ErrNoUnbilledEntries
	}

	billingPeriods, err := s.billingPeriods.ListByProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	var overrideRate *decimal.Decimal
	if billingPeriodID != nil {
		for _, p := range billingPeriods {
			if p.ID == *billingPeriodID {
				rate := decimal.NewFromFloat(p.HourlyRate)
				overrideRate = &rate
				break
			}
		}
	}

	findPeriodForDate := func(date time.Time) *BillingPeriod {
		for _, period := range billingPeriods {
			if !period.StartsOn.After(date) && (period.EndsOn == nil || !period.EndsOn.Before(date)) {
				return period
			}
		}
		return nil
	}

	invoiceDate := time.Now().UTC()
	invoiceNumber, err := s.generateInvoiceNumber(ctx, tx, userID, projectID, invoiceDate)
	if err != nil {
		return nil, err
	}

	invoice := &Invoice{
		ID:              uuid.New(),
		UserID:          userID,
		ProjectID:       projectID,
		BillingPeriodID: billingPeriodID,
		InvoiceNumber:   invoiceNumber,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		InvoiceDate:     invoiceDate,
		Status:          "draft",
		TotalHours:      decimal.Zero,
		TotalAmount:     decimal.Zero,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}

	var lineItems []InvoiceLineItem
	for _, entry := range timeEntries {
		var hourlyRate decimal.Decimal
		var periodID *uuid.UUID

		switch {
		case overrideRate != nil:
			hourlyRate = *overrideRate
			periodID = billingPeriodID
		default:
			period := findPeriodForDate(entry.Date)
			if period == nil {
				hourlyRate = decimal.Zero
			} else {
				hourlyRate = decimal.NewFromFloat(period.HourlyRate)
				periodID = &period.ID
				if invoice.BillingPeriodID == nil {
					invoice.BillingPeriodID = periodID
				}
			}
		}

		amount := entry.Hours.Mul(hourlyRate).Round(2)

		var desc string
		switch {
		case entry.Title != nil && *entry.Title != "":
			desc = *entry.Title
			if entry.Description != nil && *entry.Description != "" {
				desc = desc + " - " + *entry.Description
			}
		case entry.Description != nil:
			desc = *entry.Description
		default:
			desc = "Time entry"
		}

		lineItem := InvoiceLineItem{
			ID:          uuid.New(),
			InvoiceID:   invoice.ID,
			TimeEntryID: entry.ID,
			Date:        entry.Date,
			Description: desc,
			Hours:       entry.Hours,
			HourlyRate:  hourlyRate,
			Amount:      amount,
		}
		lineItems = append(lineItems, lineItem)

		invoice.TotalHours = invoice.TotalHours.Add(entry.Hours)
		invoice.TotalAmount = invoice.TotalAmount.Add(amount)
	}
	invoice.TotalAmount = invoice.TotalAmount.Round(2)

	_, err = tx.Exec(ctx, `
		INSERT INTO invoices (
			id, user_id, project_id, billing_period_id, invoice_number,
			period_start, period_end, invoice_date, status,
			total_hours, total_amount, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, invoice.ID, invoice.UserID, invoice.ProjectID, invoice.BillingPeriodID,
		invoice.InvoiceNumber, invoice.PeriodStart, invoice.PeriodEnd,
		invoice.InvoiceDate, invoice.Status, invoice.TotalHours,
		invoice.TotalAmount, invoice.CreatedAt, invoice.UpdatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range lineItems {
		_, err = tx.Exec(ctx, `
			INSERT INTO invoice_line_items (
				id, invoice_id, time_entry_id, date, description,
				hours, hourly_rate, amount
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.ID, item.InvoiceID, item.TimeEntryID, item.Date,
			item.Description, item.Hours, item.HourlyRate, item.Amount)
		if err != nil {
			return nil, err
		}
	}

	entryIDs := make([]uuid.UUID, len(timeEntries))
	for i, e := range timeEntries {
		entryIDs[i] = e.ID
	}
	_, err = tx.Exec(ctx, `
		UPDATE time_entries
		SET invoice_id = $1, updated_at = NOW()
		WHERE id = ANY($2)
	`, invoice.ID, entryIDs)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	invoice.LineItems = lineItems

	project, err := s.projects.GetByID(ctx, userID, projectID)
	if err == nil {
		invoice.Project = project
	}

	return invoice, nil
}

// GetByID retrieves an invoice with line items and project data
func (s *InvoiceStore) GetByID(ctx context.Context, userID, invoiceID uuid.UUID) (*Invoice, error) {
	invoice := &Invoice{Project: &Project{}}
	err := s.pool.QueryRow(ctx, `
		SELECT i.id, i.user_id, i.project_id, i.billing_period_id,
		       i.invoice_number, i.period_start, i.period_end,
		       i.invoice_date, i.status, i.total_hours, i.total_amount,
		       i.spreadsheet_id, i.spreadsheet_url, i.worksheet_id,
		       i.created_at, i.updated_at,
		       p.id, p.user_id, p.name, p.short_code, p.client, p.color,
		       p.is_billable, p.is_archived, p.is_hidden_by_default,
		       p.does_not_accumulate_hours, p.created_at, p.updated_at
		FROM invoices i
		JOIN projects p ON i.project_id = p.id
		WHERE i.id = $1 AND i.user_id = $2
	`, invoiceID, userID).Scan(
		&invoice.ID, &invoice.UserID, &invoice.ProjectID, &invoice.BillingPeriodID,
		&invoice.InvoiceNumber, &invoice.PeriodStart, &invoice.PeriodEnd,
		&invoice.InvoiceDate, &invoice.Status, &invoice.TotalHours, &invoice.TotalAmount,
		&invoice.SpreadsheetID, &invoice.SpreadsheetURL, &invoice.WorksheetID,
		&invoice.CreatedAt, &invoice.UpdatedAt,
		&invoice.Project.ID, &invoice.Project.UserID, &invoice.Project.Name,
		&invoice.Project.ShortCode, &invoice.Project.Client, &invoice.Project.Color,
		&invoice.Project.IsBillable, &invoice.Project.IsArchived,
		&invoice.Project.IsHiddenByDefault, &invoice.Project.DoesNotAccumulateHours,
		&invoice.Project.CreatedAt, &invoice.Project.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}

	// Amount is recalculated as hours x rate to stay in sync with time entry
	// (for sent/paid invoices, time entries are locked so values won't change)
	rows, err := s.pool.Query(ctx, `
		SELECT ili.id, ili.invoice_id, ili.time_entry_id,
		       te.date,
		       COALESCE(te.title || CASE WHEN te.description IS NOT NULL AND te.description != '' THEN ' - ' || te.description ELSE '' END, te.description, 'Time entry') as description,
		       te.hours, ili.hourly_rate, te.hours * ili.hourly_rate as amount
		FROM invoice_line_items ili
		JOIN time_entries te ON ili.time_entry_id = te.id
		WHERE ili.invoice_id = $1
		ORDER BY te.date ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lineItems []InvoiceLineItem
	for rows.Next() {
		var item InvoiceLineItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.TimeEntryID,
			&item.Date, &item.Description, &item.Hours, &item.HourlyRate, &item.Amount); err != nil {
			return nil, err
		}
		item.Amount = item.Amount.Round(2)
		lineItems = append(lineItems, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	invoice.LineItems = lineItems
	return invoice, nil
}

// List retrieves all invoices for a user with optional filters
func (s *InvoiceStore) List(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID, status *string) ([]*Invoice, error) {
	query := `
		SELECT i.id, i.user_id, i.project_id, i.billing_period_id,
		       i.invoice_number, i.period_start, i.period_end,
		       i.invoice_date, i.status, i.total_hours, i.total_amount,
		       i.spreadsheet_id, i.spreadsheet_url, i.worksheet_id,
		       i.created_at, i.updated_at,
		       p.id, p.user_id, p.name, p.short_code, p.client, p.color,
		       p.is_billable, p.is_archived, p.is_hidden_by_default,
		       p.does_not_accumulate_hours, p.created_at, p.updated_at
		FROM invoices i
		JOIN projects p ON i.project_id = p.id
		WHERE i.user_id = $1
	`

	args := []interface{}{userID}
	argNum := 2

	if projectID != nil {
		query += fmt.Sprintf(" AND i.project_id = $%d", argNum)
		args = append(args, *projectID)
		argNum++
	}

	if status != nil {
		query += fmt.Sprintf(" AND i.status = $%d", argNum)
		args = append(args, *status)
		argNum++
	}

	query += " ORDER BY i.invoice_date DESC, i.created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		invoice := &Invoice{Project: &Project{}}
		if err := rows.Scan(
			&invoice.ID, &invoice.UserID, &invoice.ProjectID, &invoice.BillingPeriodID,
			&invoice.InvoiceNumber, &invoice.PeriodStart, &invoice.PeriodEnd,
			&invoice.InvoiceDate, &invoice.Status, &invoice.TotalHours, &invoice.TotalAmount,
			&invoice.SpreadsheetID, &invoice.SpreadsheetURL, &invoice.WorksheetID,
			&invoice.CreatedAt, &invoice.UpdatedAt,
			&invoice.Project.ID, &invoice.Project.UserID, &invoice.Project.Name,
			&invoice.Project.ShortCode, &invoice.Project.Client, &invoice.Project.Color,
			&invoice.Project.IsBillable, &invoice.Project.IsArchived,
			&invoice.Project.IsHiddenByDefault, &invoice.Project.DoesNotAccumulateHours,
			&invoice.Project.CreatedAt, &invoice.Project.UpdatedAt,
		); err != nil {
			return nil, err
		}
		invoices = append(invoices, invoice)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return invoices, nil
}

// UpdateStatus updates an invoice status per the draft->sent->paid,
// sent->draft transition table; paid is terminal. Any other transition
// (including skipping straight from draft to paid) is rejected.
func (s *InvoiceStore) UpdateStatus(ctx context.Context, userID, invoiceID uuid.UUID, newStatus string) (*Invoice, error) {
	if newStatus != "draft" && newStatus != "sent" && newStatus != "paid" {
		return nil, ErrInvalidStatusChange
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var currentStatus string
	err = tx.QueryRow(ctx, `
		SELECT status
		FROM invoices
		WHERE id = $1 AND user_id = $2
	`, invoiceID, userID).Scan(&currentStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}

	if currentStatus == newStatus {
		return s.GetByID(ctx, userID, invoiceID)
	}

	if !validInvoiceTransitions[currentStatus][newStatus] {
		return nil, ErrInvalidStatusChange
	}

	// Time entries have invoice_id set at invoice creation time and remain
	// locked regardless of invoice status changes. Only deleting the invoice
	// (draft only) will unlock them.

	_, err = tx.Exec(ctx, `
		UPDATE invoices
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND user_id = $3
	`, newStatus, invoiceID, userID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return s.GetByID(ctx, userID, invoiceID)
}

// Delete removes an invoice (only allowed for draft invoices)
func (s *InvoiceStore) Delete(ctx context.Context, userID, invoiceID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `
		SELECT status FROM invoices WHERE id = $1 AND user_id = $2
	`, invoiceID, userID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvoiceNotFound
		}
		return err
	}

	if status != "draft" {
		return ErrInvoiceNotDraft
	}

	_, err = tx.Exec(ctx, `
		UPDATE time_entries SET invoice_id = NULL, updated_at = NOW()
		WHERE invoice_id = $1
	`, invoiceID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM invoice_line_items WHERE invoice_id = $1
	`, invoiceID)
	if err != nil {
		return err
	}

	result, err := tx.Exec(ctx, `
		DELETE FROM invoices WHERE id = $1 AND user_id = $2
	`, invoiceID, userID)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}

	return tx.Commit(ctx)
}

// UpdateSpreadsheetInfo updates the Sheets export metadata
func (s *InvoiceStore) UpdateSpreadsheetInfo(ctx context.Context, userID, invoiceID uuid.UUID, spreadsheetID, spreadsheetURL string, worksheetID int) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE invoices
		SET spreadsheet_id = $1,
		    spreadsheet_url = $2,
		    worksheet_id = $3,
		    updated_at = NOW()
		WHERE id = $4 AND user_id = $5
	`, spreadsheetID, spreadsheetURL, worksheetID, invoiceID, userID)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}

	return nil
}
