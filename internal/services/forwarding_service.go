package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/franchisepay/backend/internal/audit"
	"github.com/franchisepay/backend/internal/models"
)

// ForwardingService moves franchise funds already sitting in the holding
// account out to a real bank account, reconciled per invoice. Forwarded
// status is never stored: it is always the running comparison between an
// invoice's FP receipts and its forwarded totals, so repeated partial
// forwards can never double-count.
type ForwardingService struct {
	db        *sql.DB
	ledger    *LedgerService
	orgs      *OrganizationService
	remit     *RemittanceService
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewForwardingService(db *sql.DB, ledger *LedgerService, orgs *OrganizationService, remit *RemittanceService) *ForwardingService {
	return &ForwardingService{
		db:        db,
		ledger:    ledger,
		orgs:      orgs,
		remit:     remit,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// ForwardInput names the holding account to draw from, the bank account to
// fund, and the invoices whose unforwarded FP balance should move.
type ForwardInput struct {
	SourceGLAccountID      int64
	DestinationGLAccountID int64
	InvoiceIDs             []int64
	TransferredAt          time.Time
	RemittanceReference    string
	UserID                 int64
}

// ForwardResult reports what a forward actually moved.
type ForwardResult struct {
	ForwardedPayment models.ForwardedPayment          `json:"forwardedPayment"`
	TotalAmount      decimal.Decimal                  `json:"totalAmount"`
	Invoices         []models.ForwardedPaymentInvoice `json:"invoices"`
}

// Forward moves each listed invoice's entire unforwarded FP amount from the
// holding account to the destination bank account in one balanced
// transaction. Invoices with nothing left to forward are skipped; if
// nothing at all is forwardable the call is rejected rather than posting a
// zero-value transaction.
func (s *ForwardingService) Forward(in ForwardInput) (*ForwardResult, error) {
	if len(in.InvoiceIDs) == 0 {
		return nil, validationf("no invoices to forward")
	}
	if in.TransferredAt.IsZero() {
		in.TransferredAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	source, err := findGLAccount(tx, in.SourceGLAccountID)
	if err != nil {
		return nil, err
	}
	if source.Code != FranchisePaymentsAccountCode {
		return nil, notAllowedf("source account must be the franchise payments holding account")
	}

	destination, err := findGLAccount(tx, in.DestinationGLAccountID)
	if err != nil {
		return nil, err
	}
	if !destination.IsBankAccount() {
		return nil, notAllowedf("destination account must be bank account")
	}

	forwardable, err := s.lockForwardableAmounts(tx, in.InvoiceIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range in.InvoiceIDs {
		if _, ok := forwardable[id]; !ok {
			return nil, &NotFoundError{Entity: "invoice", ID: id}
		}
	}

	totalAmount := decimal.Zero
	invoiceAmounts := make([]models.ForwardedPaymentInvoice, 0, len(in.InvoiceIDs))
	for _, id := range in.InvoiceIDs {
		amount := forwardable[id]
		if !amount.IsPositive() {
			continue // already fully forwarded
		}
		totalAmount = totalAmount.Add(amount)
		invoiceAmounts = append(invoiceAmounts, models.ForwardedPaymentInvoice{
			InvoiceID: id,
			Amount:    amount,
		})
	}
	if !totalAmount.IsPositive() {
		return nil, notAllowedf("no unforwarded franchise funds for the given invoices")
	}

	builder := s.ledger.CreateTransaction(source.AccountingOrganizationID)
	builder.AddDecrease(source.ID, totalAmount)
	builder.AddIncrease(destination.ID, totalAmount)

	txnID, err := s.ledger.CommitTx(tx, builder)
	if err != nil {
		return nil, err
	}

	forwarded := models.ForwardedPayment{
		SourceGLAccountID:      source.ID,
		DestinationGLAccountID: destination.ID,
		UserID:                 in.UserID,
		TransferredAt:          in.TransferredAt,
		RemittanceReference:    in.RemittanceReference,
		TransactionID:          txnID,
	}
	err = tx.QueryRow(`
		INSERT INTO forwarded_payments
			(source_gl_account_id, destination_gl_account_id, user_id, transferred_at, remittance_reference, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		forwarded.SourceGLAccountID, forwarded.DestinationGLAccountID, forwarded.UserID,
		forwarded.TransferredAt, forwarded.RemittanceReference, forwarded.TransactionID).Scan(&forwarded.ID)
	if err != nil {
		return nil, err
	}

	for i := range invoiceAmounts {
		invoiceAmounts[i].ForwardedPaymentID = forwarded.ID
		_, err := tx.Exec(`
			INSERT INTO forwarded_payment_invoices (forwarded_payment_id, invoice_id, amount)
			VALUES ($1, $2, $3)`,
			forwarded.ID, invoiceAmounts[i].InvoiceID, invoiceAmounts[i].Amount)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogForward(txnID, source.ID, destination.ID, totalAmount.String(), in.RemittanceReference)
	log.Printf("[FORWARD] Forwarded %s from account %d to account %d across %d invoices",
		totalAmount, source.ID, destination.ID, len(invoiceAmounts))

	// Hand the credit transfer to the bank channel after commit; a
	// messaging failure must not unwind the ledger.
	s.sendRemittance(&forwarded, destination, totalAmount)

	return &ForwardResult{
		ForwardedPayment: forwarded,
		TotalAmount:      totalAmount,
		Invoices:         invoiceAmounts,
	}, nil
}

// lockForwardableAmounts computes, under row locks, each invoice's FP total
// minus what earlier forwards already took.
func (s *ForwardingService) lockForwardableAmounts(tx *sql.Tx, invoiceIDs []int64) (map[int64]decimal.Decimal, error) {
	rows, err := tx.Query(`
		SELECT i.id,
		       COALESCE((SELECT SUM(ip.amount) FROM invoice_payments ip
		                 WHERE ip.invoice_id = i.id AND ip.is_fp = TRUE), 0)
		     - COALESCE((SELECT SUM(fpi.amount) FROM forwarded_payment_invoices fpi
		                 WHERE fpi.invoice_id = i.id), 0)
		FROM invoices i
		WHERE i.id = ANY($1)
		FOR UPDATE OF i`, pq.Array(invoiceIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	amounts := make(map[int64]decimal.Decimal, len(invoiceIDs))
	for rows.Next() {
		var id int64
		var amount decimal.Decimal
		if err := rows.Scan(&id, &amount); err != nil {
			return nil, err
		}
		amounts[id] = amount
	}
	return amounts, rows.Err()
}

func (s *ForwardingService) sendRemittance(forwarded *models.ForwardedPayment, destination *models.GLAccount, amount decimal.Decimal) {
	debtorName := ""
	if org, err := s.orgs.FindOrganization(destination.AccountingOrganizationID); err == nil {
		debtorName = org.Name
	}

	doc, err := s.remit.CreatePacs008(&Remittance{
		ForwardedPaymentID:  forwarded.ID,
		RemittanceReference: forwarded.RemittanceReference,
		DebtorName:          debtorName,
		CreditorName:        *destination.BankAccountName,
		Amount:              amount,
		TransferredAt:       forwarded.TransferredAt,
	})
	if err != nil {
		log.Printf("[FORWARD] Failed to build remittance message for forward %d: %v", forwarded.ID, err)
		return
	}
	if err := s.remit.Send(doc); err != nil {
		log.Printf("[FORWARD] Failed to send remittance message for forward %d: %v", forwarded.ID, err)
	}
}

// Unforwarded returns the FP-flagged invoice payments at a location whose
// invoice still has franchise funds waiting to be forwarded. The comparison
// is recomputed on every call; there is no cached status to go stale.
func (s *ForwardingService) Unforwarded(locationID int64, invoiceIDs []int64) ([]models.InvoicePayment, error) {
	query := `
		SELECT ip.id, ip.payment_id, ip.invoice_id, ip.amount, ip.is_fp
		FROM invoice_payments ip
		JOIN invoices i ON i.id = ip.invoice_id
		WHERE ip.is_fp = TRUE
		  AND i.location_id = $1
		  AND COALESCE((SELECT SUM(fpi.amount) FROM forwarded_payment_invoices fpi
		                WHERE fpi.invoice_id = ip.invoice_id), 0)
		    < (SELECT SUM(ip2.amount) FROM invoice_payments ip2
		       WHERE ip2.invoice_id = ip.invoice_id AND ip2.is_fp = TRUE)`

	args := []interface{}{locationID}
	if len(invoiceIDs) > 0 {
		args = append(args, pq.Array(invoiceIDs))
		query += " AND ip.invoice_id = ANY($2)"
	}
	query += " ORDER BY ip.invoice_id ASC, ip.id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []models.InvoicePayment{}
	for rows.Next() {
		var p models.InvoicePayment
		if err := rows.Scan(&p.ID, &p.PaymentID, &p.InvoiceID, &p.Amount, &p.IsFP); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// HTTP handlers

type forwardRequest struct {
	SourceGLAccountID      int64     `json:"sourceGlAccountId" validate:"required"`
	DestinationGLAccountID int64     `json:"destinationGlAccountId" validate:"required"`
	InvoiceIDs             []int64   `json:"invoiceIds" validate:"required,min=1"`
	TransferredAt          time.Time `json:"transferredAt"`
	RemittanceReference    string    `json:"remittanceReference" validate:"required,max=100"`
}

// ForwardPayments forwards franchise funds to a bank account
// @Summary Forward franchise payments
// @Description Move each invoice's unforwarded franchise funds from the holding account to a bank account
// @Tags forwarding
// @Accept json
// @Produce json
// @Param forward body forwardRequest true "Forward request"
// @Success 201 {object} ForwardResult
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /payments/forward [post]
func (s *ForwardingService) ForwardPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req forwardRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := s.Forward(ForwardInput{
		SourceGLAccountID:      req.SourceGLAccountID,
		DestinationGLAccountID: req.DestinationGLAccountID,
		InvoiceIDs:             req.InvoiceIDs,
		TransferredAt:          req.TransferredAt,
		RemittanceReference:    req.RemittanceReference,
		UserID:                 userID,
	})
	if err != nil {
		log.Printf("[FORWARD] Forward failed: %v", err)
		s.audit.LogError("FORWARD", err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

// GetUnforwarded lists invoice payments still awaiting forwarding
// @Summary List unforwarded franchise payments
// @Tags forwarding
// @Produce json
// @Param locationId query int true "Location ID"
// @Param invoiceIds query string false "Comma-separated invoice IDs"
// @Success 200 {object} object{payments=[]models.InvoicePayment,count=int}
// @Failure 400 {object} ErrorResponse
// @Router /payments/unforwarded [get]
func (s *ForwardingService) GetUnforwarded(w http.ResponseWriter, r *http.Request) {
	locationID, err := strconv.ParseInt(r.URL.Query().Get("locationId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "locationId is required", http.StatusBadRequest, nil)
		return
	}

	var invoiceIDs []int64
	if raw := r.URL.Query().Get("invoiceIds"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				SendErrorResponse(w, "invalid invoiceIds", http.StatusBadRequest, nil)
				return
			}
			invoiceIDs = append(invoiceIDs, id)
		}
	}

	payments, err := s.Unforwarded(locationID, invoiceIDs)
	if err != nil {
		log.Printf("[FORWARD] Unforwarded query failed for location %d: %v", locationID, err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"payments": payments,
		"count":    len(payments),
	})
}
