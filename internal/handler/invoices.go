package handler

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/michaelwinser/timesheet-core/internal/google"
	"github.com/michaelwinser/timesheet-core/internal/store"
)

// InvoiceHandler implements the invoice endpoints
type InvoiceHandler struct {
	invoices  *store.InvoiceStore
	projects  *store.ProjectStore
	sheets    *google.SheetsService
	calendars *store.CalendarConnectionStore
}

// NewInvoiceHandler creates a new invoice handler
func NewInvoiceHandler(invoices *store.InvoiceStore, projects *store.ProjectStore, sheets *google.SheetsService, calendars *store.CalendarConnectionStore) *InvoiceHandler {
	return &InvoiceHandler{
		invoices:  invoices,
		projects:  projects,
		sheets:    sheets,
		calendars: calendars,
	}
}

func invoiceIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// ListInvoices returns all invoices for the authenticated user
func (h *InvoiceHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	var projectID *uuid.UUID
	if pidStr := r.URL.Query().Get("project_id"); pidStr != "" {
		pid, err := uuid.Parse(pidStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid project_id")
			return
		}
		projectID = &pid
	}

	var status *string
	if s := r.URL.Query().Get("status"); s != "" {
		status = &s
	}

	invoices, err := h.invoices.List(r.Context(), userID, projectID, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	result := make([]invoiceDTO, len(invoices))
	for i, inv := range invoices {
		result[i] = invoiceToAPI(inv)
	}

	writeJSON(w, http.StatusOK, result)
}

type createInvoiceRequest struct {
	ProjectID       uuid.UUID  `json:"project_id"`
	BillingPeriodID *uuid.UUID `json:"billing_period_id"`
	PeriodStart     string     `json:"period_start"`
	PeriodEnd       string     `json:"period_end"`
}

// CreateInvoice creates a new invoice from unbilled entries
func (h *InvoiceHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		writeUnauthorized(w)
		return
	}

	var body createInvoiceRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body required")
		return
	}

	periodStart, err := time.Parse("2006-01-02", body.PeriodStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid period_start")
		return
	}
	periodEnd, err := time.Parse("2006-01-02", body.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid period_end")
		return
	}

	if _, err := h.projects.GetByID(ctx, userID, body.ProjectID); err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			writeError(w, http.StatusBadRequest, "not_found", "Project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	invoice, err := h.invoices.Create(ctx, userID, body.ProjectID, body.BillingPeriodID, periodStart, periodEnd)
	if err != nil {
		if errors.Is(err, store.ErrNoUnbilledEntries) {
			writeError(w, http.StatusBadRequest, "no_entries", "No unbilled entries found in the specified date range")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, invoiceToAPI(invoice))
}

// GetInvoice returns a single invoice with line items
func (h *InvoiceHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := invoiceIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid invoice id")
		return
	}

	invoice, err := h.invoices.GetByID(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Invoice not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, invoiceToAPI(invoice))
}

// DeleteInvoice deletes a draft invoice
func (h *InvoiceHandler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := invoiceIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid invoice id")
		return
	}

	if err := h.invoices.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Invoice not found")
			return
		}
		if errors.Is(err, store.ErrInvoiceNotDraft) {
			writeError(w, http.StatusNotFound, "not_draft", "Only draft invoices can be deleted")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type updateInvoiceStatusRequest struct {
	Status string `json:"status"`
}

// UpdateInvoiceStatus updates the status of an invoice
func (h *InvoiceHandler) UpdateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := invoiceIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid invoice id")
		return
	}

	var body updateInvoiceStatusRequest
	if err := decodeBody(r, &body); err != nil || body.Status == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body required")
		return
	}

	invoice, err := h.invoices.UpdateStatus(r.Context(), userID, id, body.Status)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Invoice not found")
			return
		}
		if errors.Is(err, store.ErrInvalidStatusChange) {
			writeError(w, http.StatusBadRequest, "invalid_status", "Invalid status value")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, invoiceToAPI(invoice))
}

// ExportInvoiceCSV generates and returns a CSV export of an invoice
func (h *InvoiceHandler) ExportInvoiceCSV(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := invoiceIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid invoice id")
		return
	}

	invoice, err := h.invoices.GetByID(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Invoice not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	cw.Write([]string{"Invoice Number:", invoice.InvoiceNumber})
	if invoice.Project != nil {
		cw.Write([]string{"Project:", invoice.Project.Name})
		if invoice.Project.Client != nil && *invoice.Project.Client != "" {
			cw.Write([]string{"Client:", *invoice.Project.Client})
		}
	}
	cw.Write([]string{"Period:", fmt.Sprintf("%s to %s", invoice.PeriodStart.Format("2006-01-02"), invoice.PeriodEnd.Format("2006-01-02"))})
	cw.Write([]string{"Invoice Date:", invoice.InvoiceDate.Format("2006-01-02")})
	cw.Write([]string{"Status:", invoice.Status})
	cw.Write([]string{})

	cw.Write([]string{"Date", "Description", "Hours", "Rate", "Amount"})

	for _, item := range invoice.LineItems {
		cw.Write([]string{
			item.Date.Format("2006-01-02"),
			item.Description,
			item.Hours.StringFixed(2),
			item.HourlyRate.StringFixed(2),
			item.Amount.StringFixed(2),
		})
	}

	cw.Write([]string{})
	cw.Write([]string{
		"Total",
		"",
		invoice.TotalHours.StringFixed(2),
		"",
		invoice.TotalAmount.StringFixed(2),
	})

	cw.Flush()
	if err := cw.Error(); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", invoice.InvoiceNumber))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

type exportSheetsResponse struct {
	SpreadsheetID  string `json:"spreadsheet_id"`
	SpreadsheetURL string `json:"spreadsheet_url"`
	WorksheetID    int    `json:"worksheet_id"`
}

// ExportInvoiceSheets exports an invoice to Google Sheets
func (h *InvoiceHandler) ExportInvoiceSheets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := invoiceIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid invoice id")
		return
	}

	invoice, err := h.invoices.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Invoice not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	conns, err := h.calendars.List(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if len(conns) == 0 {
		writeError(w, http.StatusUnauthorized, "no_connection", "No Google Calendar connection found. Please connect your calendar first.")
		return
	}
	conn, err := h.calendars.GetByID(ctx, userID, conns[0].ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	token := h.sheets.TokenFromConnection(conn)

	invoiceData := google.InvoiceData{
		InvoiceNumber: invoice.InvoiceNumber,
		PeriodStart:   invoice.PeriodStart,
		PeriodEnd:     invoice.PeriodEnd,
		InvoiceDate:   invoice.InvoiceDate,
		Status:        invoice.Status,
		TotalHours:    invoice.TotalHours.InexactFloat64(),
		TotalAmount:   invoice.TotalAmount.InexactFloat64(),
	}
	if invoice.Project != nil {
		invoiceData.ProjectName = invoice.Project.Name
		if invoice.Project.Client != nil {
			invoiceData.Client = *invoice.Project.Client
		}
	}
	for _, item := range invoice.LineItems {
		invoiceData.LineItems = append(invoiceData.LineItems, google.InvoiceLineItemData{
			Date:        item.Date,
			Description: item.Description,
			Hours:       item.Hours.InexactFloat64(),
			HourlyRate:  item.HourlyRate.InexactFloat64(),
			Amount:      item.Amount.InexactFloat64(),
		})
	}

	var spreadsheetID, spreadsheetURL string
	var worksheetID int

	// Invoices don't share a spreadsheet across a project; each gets its own
	// spreadsheet the first time it's exported, and re-exports update it in place.
	if invoice.SpreadsheetID == nil || *invoice.SpreadsheetID == "" {
		title := invoiceData.ProjectName
		if title == "" {
			title = invoice.InvoiceNumber
		}
		spreadsheetID, spreadsheetURL, err = h.sheets.CreateSpreadsheet(ctx, token, fmt.Sprintf("%s - Invoices", title))
		if err != nil {
			writeError(w, http.StatusNotFound, "sheets_error", fmt.Sprintf("Failed to create spreadsheet: %s", err.Error()))
			return
		}
		worksheetID, err = h.sheets.CreateInvoiceWorksheet(ctx, token, spreadsheetID, invoice.InvoiceNumber, invoiceData)
		if err != nil {
			writeError(w, http.StatusNotFound, "sheets_error", fmt.Sprintf("Failed to create worksheet: %s", err.Error()))
			return
		}
	} else {
		spreadsheetID = *invoice.SpreadsheetID
		if invoice.SpreadsheetURL != nil {
			spreadsheetURL = *invoice.SpreadsheetURL
		}
		worksheetID, err = h.sheets.UpdateInvoiceWorksheet(ctx, token, spreadsheetID, invoice.InvoiceNumber, invoiceData)
		if err != nil {
			writeError(w, http.StatusNotFound, "sheets_error", fmt.Sprintf("Failed to update worksheet: %s", err.Error()))
			return
		}
	}

	if err := h.invoices.UpdateSpreadsheetInfo(ctx, userID, invoice.ID, spreadsheetID, spreadsheetURL, worksheetID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, exportSheetsResponse{
		SpreadsheetID:  spreadsheetID,
		SpreadsheetURL: spreadsheetURL,
		WorksheetID:    worksheetID,
	})
}

type invoiceLineItemDTO struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	TimeEntryID uuid.UUID       `json:"time_entry_id"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Hours       decimal.Decimal `json:"hours"`
	HourlyRate  decimal.Decimal `json:"hourly_rate"`
	Amount      decimal.Decimal `json:"amount"`
}

type invoiceDTO struct {
	ID              uuid.UUID            `json:"id"`
	UserID          uuid.UUID            `json:"user_id"`
	ProjectID       uuid.UUID            `json:"project_id"`
	BillingPeriodID *uuid.UUID           `json:"billing_period_id,omitempty"`
	InvoiceNumber   string               `json:"invoice_number"`
	PeriodStart     string               `json:"period_start"`
	PeriodEnd       string               `json:"period_end"`
	InvoiceDate     string               `json:"invoice_date"`
	Status          string               `json:"status"`
	TotalHours      decimal.Decimal      `json:"total_hours"`
	TotalAmount     decimal.Decimal      `json:"total_amount"`
	SpreadsheetID   *string              `json:"spreadsheet_id,omitempty"`
	SpreadsheetURL  *string              `json:"spreadsheet_url,omitempty"`
	WorksheetID     *int                 `json:"worksheet_id,omitempty"`
	Project         *projectDTO          `json:"project,omitempty"`
	LineItems       []invoiceLineItemDTO `json:"line_items,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// invoiceToAPI converts a store Invoice to an invoiceDTO
func invoiceToAPI(inv *store.Invoice) invoiceDTO {
	dto := invoiceDTO{
		ID:              inv.ID,
		UserID:          inv.UserID,
		ProjectID:       inv.ProjectID,
		BillingPeriodID: inv.BillingPeriodID,
		InvoiceNumber:   inv.InvoiceNumber,
		PeriodStart:     inv.PeriodStart.Format("2006-01-02"),
		PeriodEnd:       inv.PeriodEnd.Format("2006-01-02"),
		InvoiceDate:     inv.InvoiceDate.Format("2006-01-02"),
		Status:          inv.Status,
		TotalHours:      inv.TotalHours,
		TotalAmount:     inv.TotalAmount,
		SpreadsheetID:   inv.SpreadsheetID,
		SpreadsheetURL:  inv.SpreadsheetURL,
		WorksheetID:     inv.WorksheetID,
		CreatedAt:       inv.CreatedAt,
		UpdatedAt:       inv.UpdatedAt,
	}

	if inv.Project != nil {
		project := projectToAPI(inv.Project)
		dto.Project = &project
	}

	if len(inv.LineItems) > 0 {
		dto.LineItems = make([]invoiceLineItemDTO, len(inv.LineItems))
		for i, item := range inv.LineItems {
			dto.LineItems[i] = invoiceLineItemDTO{
				ID:          item.ID,
				InvoiceID:   item.InvoiceID,
				TimeEntryID: item.TimeEntryID,
				Date:        item.Date.Format("2006-01-02"),
				Description: item.Description,
				Hours:       item.Hours,
				HourlyRate:  item.HourlyRate,
				Amount:      item.Amount,
			}
		}
	}

	return dto
}
