package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/franchisepay/backend/internal/audit"
	"github.com/franchisepay/backend/internal/models"
)

// PaymentService turns "received $X against these invoices" into a balanced
// ledger transaction plus Payment/InvoicePayment rows, all in one atomic
// unit. Franchise (FP) portions land on the organization's holding account,
// direct deposit (DP) portions on the supplied bank account, and the total
// comes off Accounts Receivable.
type PaymentService struct {
	db        *sql.DB
	ledger    *LedgerService
	orgs      *OrganizationService
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewPaymentService(db *sql.DB, ledger *LedgerService, orgs *OrganizationService) *PaymentService {
	return &PaymentService{
		db:        db,
		ledger:    ledger,
		orgs:      orgs,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// InvoiceAllocation is one (invoice, amount, isFp) tuple of a payment.
type InvoiceAllocation struct {
	InvoiceID int64           `json:"invoiceId"`
	Amount    decimal.Decimal `json:"amount"`
	IsFP      bool            `json:"isFp"`
}

// CreatePaymentInput carries everything needed to allocate one received
// payment. DestinationGLAccountID is only consulted when the payment has a
// direct-deposit portion.
type CreatePaymentInput struct {
	DestinationGLAccountID   int64
	AccountingOrganizationID int64
	UserID                   int64
	PaidAt                   time.Time
	Reference                string
	Allocations              []InvoiceAllocation
}

// invoiceState is an invoice row locked for allocation, with its already
// paid total aggregated in.
type invoiceState struct {
	ID          int64
	TotalAmount decimal.Decimal
	PaidAmount  decimal.Decimal
}

func (i *invoiceState) amountDue() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount)
}

// CreatePayment validates every allocation against its invoice's amount
// due, builds the FP/DP postings, and commits ledger transaction, payment
// and invoice allocations atomically. Any failure leaves nothing behind.
func (s *PaymentService) CreatePayment(paymentType string, in CreatePaymentInput) (*models.Payment, error) {
	if len(in.Allocations) == 0 {
		return nil, validationf("payment has no invoice allocations")
	}
	for _, a := range in.Allocations {
		if !a.Amount.IsPositive() {
			return nil, validationf("allocation amount must be positive, got %s for invoice %d", a.Amount, a.InvoiceID)
		}
	}
	if in.PaidAt.IsZero() {
		in.PaidAt = time.Now()
	}
	if in.Reference == "" {
		in.Reference = uuid.NewString()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	invoices, err := s.lockInvoices(tx, allocationInvoiceIDs(in.Allocations))
	if err != nil {
		return nil, err
	}

	// All allocations must validate before any posting is built. Amounts
	// for the same invoice are summed first, so a payment split into
	// several tuples is bounded by the amount due as a whole.
	perInvoice := make(map[int64]decimal.Decimal, len(in.Allocations))
	fpAmount := decimal.Zero
	dpAmount := decimal.Zero
	for _, a := range in.Allocations {
		if _, ok := invoices[a.InvoiceID]; !ok {
			return nil, &NotFoundError{Entity: "invoice", ID: a.InvoiceID}
		}
		perInvoice[a.InvoiceID] = perInvoice[a.InvoiceID].Add(a.Amount)
		if a.IsFP {
			fpAmount = fpAmount.Add(a.Amount)
		} else {
			dpAmount = dpAmount.Add(a.Amount)
		}
	}
	for _, id := range allocationInvoiceIDs(in.Allocations) {
		inv := invoices[id]
		if perInvoice[id].GreaterThan(inv.amountDue()) {
			return nil, notAllowedf("payment exceeds balance due: %s > %s on invoice %d",
				perInvoice[id], inv.amountDue(), id)
		}
	}
	totalAmount := fpAmount.Add(dpAmount)

	builder := s.ledger.CreateTransaction(in.AccountingOrganizationID)

	if fpAmount.IsPositive() {
		holding, err := s.orgs.HoldingAccountTx(tx, in.AccountingOrganizationID)
		if err != nil {
			return nil, err
		}
		builder.AddIncrease(holding.ID, fpAmount)
	}

	if dpAmount.IsPositive() {
		destination, err := findGLAccount(tx, in.DestinationGLAccountID)
		if err != nil {
			return nil, err
		}
		if !destination.IsBankAccount() {
			return nil, notAllowedf("debit account must be bank account")
		}
		builder.AddIncrease(destination.ID, dpAmount)
	}

	receivable, err := s.orgs.ReceivableAccountTx(tx, in.AccountingOrganizationID)
	if err != nil {
		return nil, err
	}
	builder.AddDecrease(receivable.ID, totalAmount)

	txnID, err := s.ledger.CommitTx(tx, builder)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		Type:                     paymentType,
		Amount:                   totalAmount,
		PaidAt:                   in.PaidAt,
		AccountingOrganizationID: in.AccountingOrganizationID,
		Reference:                in.Reference,
		UserID:                   in.UserID,
		TransactionID:            txnID,
	}
	err = tx.QueryRow(`
		INSERT INTO payments (type, amount, paid_at, accounting_organization_id, reference, user_id, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		payment.Type, payment.Amount, payment.PaidAt, payment.AccountingOrganizationID,
		payment.Reference, payment.UserID, payment.TransactionID).Scan(&payment.ID)
	if err != nil {
		return nil, err
	}

	for _, a := range in.Allocations {
		_, err := tx.Exec(`
			INSERT INTO invoice_payments (payment_id, invoice_id, amount, is_fp)
			VALUES ($1, $2, $3, $4)`,
			payment.ID, a.InvoiceID, a.Amount, a.IsFP)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogPayment(txnID, paymentType, totalAmount.String(), len(in.Allocations))
	log.Printf("[PAYMENT] Created %s payment %d of %s across %d invoices (fp=%s, dp=%s)",
		paymentType, payment.ID, totalAmount, len(in.Allocations), fpAmount, dpAmount)
	return payment, nil
}

// lockInvoices batch-loads the referenced invoices with their paid sums,
// taking row locks so two concurrent allocations cannot both pass the
// amount-due check.
func (s *PaymentService) lockInvoices(tx *sql.Tx, invoiceIDs []int64) (map[int64]*invoiceState, error) {
	rows, err := tx.Query(`
		SELECT i.id, i.total_amount,
		       COALESCE((SELECT SUM(ip.amount) FROM invoice_payments ip WHERE ip.invoice_id = i.id), 0)
		FROM invoices i
		WHERE i.id = ANY($1)
		FOR UPDATE OF i`, pq.Array(invoiceIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make(map[int64]*invoiceState, len(invoiceIDs))
	for rows.Next() {
		var inv invoiceState
		if err := rows.Scan(&inv.ID, &inv.TotalAmount, &inv.PaidAmount); err != nil {
			return nil, err
		}
		invoices[inv.ID] = &inv
	}
	return invoices, rows.Err()
}

func allocationInvoiceIDs(allocations []InvoiceAllocation) []int64 {
	seen := make(map[int64]bool, len(allocations))
	ids := make([]int64, 0, len(allocations))
	for _, a := range allocations {
		if !seen[a.InvoiceID] {
			seen[a.InvoiceID] = true
			ids = append(ids, a.InvoiceID)
		}
	}
	return ids
}

// HTTP handlers

type paymentRequest struct {
	DestinationGLAccountID   int64               `json:"destinationGlAccountId"`
	AccountingOrganizationID int64               `json:"accountingOrganizationId" validate:"required"`
	PaidAt                   time.Time           `json:"paidAt"`
	Reference                string              `json:"reference" validate:"max=100"`
	Allocations              []InvoiceAllocation `json:"allocations" validate:"required,min=1"`
}

// CreateDirectDepositPayment records a payment received into a local bank account
// @Summary Create a direct deposit payment
// @Description Allocate a direct deposit across invoices and post it to the ledger
// @Tags payments
// @Accept json
// @Produce json
// @Param payment body paymentRequest true "Payment data"
// @Success 201 {object} models.Payment
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /payments/direct-deposit [post]
func (s *PaymentService) CreateDirectDepositPayment(w http.ResponseWriter, r *http.Request) {
	s.handleCreatePayment(w, r, models.PaymentTypeDirectDeposit)
}

// CreateCreditNotePayment records a payment settled by credit note
// @Summary Create a credit note payment
// @Tags payments
// @Accept json
// @Produce json
// @Param payment body paymentRequest true "Payment data"
// @Success 201 {object} models.Payment
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /payments/credit-note [post]
func (s *PaymentService) CreateCreditNotePayment(w http.ResponseWriter, r *http.Request) {
	s.handleCreatePayment(w, r, models.PaymentTypeCreditNote)
}

// CreateCreditCardPayment records a payment received by credit card
// @Summary Create a credit card payment
// @Tags payments
// @Accept json
// @Produce json
// @Param payment body paymentRequest true "Payment data"
// @Success 201 {object} models.Payment
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /payments/credit-card [post]
func (s *PaymentService) CreateCreditCardPayment(w http.ResponseWriter, r *http.Request) {
	s.handleCreatePayment(w, r, models.PaymentTypeCreditCard)
}

func (s *PaymentService) handleCreatePayment(w http.ResponseWriter, r *http.Request, paymentType string) {
	userID, ok := requestUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req paymentRequest
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

	payment, err := s.CreatePayment(paymentType, CreatePaymentInput{
		DestinationGLAccountID:   req.DestinationGLAccountID,
		AccountingOrganizationID: req.AccountingOrganizationID,
		UserID:                   userID,
		PaidAt:                   req.PaidAt,
		Reference:                req.Reference,
		Allocations:              req.Allocations,
	})
	if err != nil {
		log.Printf("[PAYMENT] Failed to create %s payment: %v", paymentType, err)
		s.audit.LogError("PAYMENT", err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"payment": payment,
	})
}

// requestUserID pulls the authenticated user id the auth middleware stored
// on the request context.
func requestUserID(r *http.Request) (int64, bool) {
	raw, ok := r.Context().Value("userID").(string)
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
