package services

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/franchisepay/backend/internal/models"
)

// ListingService runs the status-bucketed listing queries over invoices,
// purchase orders and credit notes. It is the data source the counters
// cache aggregates and the only reader the dashboards need. Invoice rows
// carry the amount still due; purchase orders and credit notes carry their
// total amount.
type ListingService struct {
	db *sql.DB
}

func NewListingService(db *sql.DB) *ListingService {
	return &ListingService{db: db}
}

func (s *ListingService) InvoicesDraft(filter models.ListingFilter) ([]models.ListingRow, error) {
	return s.invoices(models.StatusDraft, filter)
}

func (s *ListingService) InvoicesPendingApproval(filter models.ListingFilter) ([]models.ListingRow, error) {
	return s.invoices(models.StatusPendingApproval, filter)
}

func (s *ListingService) InvoicesApproved(filter models.ListingFilter) ([]models.ListingRow, error) {
	return s.invoices(models.StatusApproved, filter)
}

func (s *ListingService) InvoicesAll(filter models.ListingFilter) ([]models.ListingRow, error) {
	return s.invoices("", filter)
}

// invoices lists invoice rows with the amount due computed in the query.
func (s *ListingService) invoices(status string, filter models.ListingFilter) ([]models.ListingRow, error) {
	query := `
		SELECT i.id, i.location_id,
		       i.total_amount - COALESCE((SELECT SUM(ip.amount) FROM invoice_payments ip
		                                  WHERE ip.invoice_id = i.id), 0)
		FROM invoices i
		WHERE 1=1`
	return s.listRows(query, status, filter, "i")
}

func (s *ListingService) PurchaseOrdersDraft(filter models.ListingFilter) ([]models.ListingRow, error) {
	return s.purchaseOrders(models.StatusDraft, filter)
}

func (s *ListingService) PurchaseOrdersPendingApproval(filter models.ListingFilter) ([]models.ListingRow, error) {
	return s.purchaseOrders(models.StatusPendingApproval, filter)
}

func (s *ListingService) PurchaseOrdersApproved(filter models.ListingFilter) ([]models.ListingRow, error) {
	return s.purchaseOrders(models.StatusApproved, filter)
}

func (s *ListingService) PurchaseOrdersAll(filter models.ListingFilter) ([]models.ListingRow, error) {
	return s.purchaseOrders("", filter)
}

func (s *ListingService) purchaseOrders(status string, filter models.ListingFilter) ([]models.ListingRow, error) {
	query := `
		SELECT p.id, p.location_id, p.total_amount
		FROM purchase_orders p
		WHERE 1=1`
	return s.listRows(query, status, filter, "p")
}

func (s *ListingService) CreditNotesDraft(filter models.ListingFilter) ([]models.ListingRow, error) {
	return s.creditNotes(models.StatusDraft, filter)
}

func (s *ListingService) CreditNotesPendingApproval(filter models.ListingFilter) ([]models.ListingRow, error) {
	return s.creditNotes(models.StatusPendingApproval, filter)
}

func (s *ListingService) CreditNotesApproved(filter models.ListingFilter) ([]models.ListingRow, error) {
	return s.creditNotes(models.StatusApproved, filter)
}

func (s *ListingService) CreditNotesAll(filter models.ListingFilter) ([]models.ListingRow, error) {
	return s.creditNotes("", filter)
}

func (s *ListingService) creditNotes(status string, filter models.ListingFilter) ([]models.ListingRow, error) {
	query := `
		SELECT c.id, c.location_id, c.total_amount
		FROM credit_notes c
		WHERE 1=1`
	return s.listRows(query, status, filter, "c")
}

func (s *ListingService) listRows(baseQuery, status string, filter models.ListingFilter, alias string) ([]models.ListingRow, error) {
	query := baseQuery
	var args []interface{}

	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND %s.status = $%d", alias, len(args))
	}
	if len(filter.LocationIDs) > 0 {
		args = append(args, pq.Array(filter.LocationIDs))
		query += fmt.Sprintf(" AND %s.location_id = ANY($%d)", alias, len(args))
	}
	query += fmt.Sprintf(" ORDER BY %s.id ASC", alias)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.ListingRow{}
	for rows.Next() {
		var row models.ListingRow
		if err := rows.Scan(&row.ID, &row.LocationID, &row.Amount); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
