package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment kinds.
const (
	PaymentTypeDirectDeposit = "direct_deposit"
	PaymentTypeCreditNote    = "credit_note"
	PaymentTypeCreditCard    = "credit_card"
)

// Payment is a received customer payment. It owns exactly one ledger
// transaction, created atomically with it. Corrections happen via new,
// offsetting payments, never by mutation.
type Payment struct {
	ID                       int64           `json:"id" db:"id"`
	Type                     string          `json:"type" db:"type"`
	Amount                   decimal.Decimal `json:"amount" db:"amount"`
	PaidAt                   time.Time       `json:"paid_at" db:"paid_at"`
	AccountingOrganizationID int64           `json:"accounting_organization_id" db:"accounting_organization_id"`
	Reference                string          `json:"reference" db:"reference"`
	UserID                   int64           `json:"user_id" db:"user_id"`
	TransactionID            int64           `json:"transaction_id" db:"transaction_id"`
}

// InvoicePayment is the portion of a payment allocated to one invoice.
// IsFP marks franchise/holding-account receipts as opposed to direct
// local deposits.
type InvoicePayment struct {
	ID        int64           `json:"id" db:"id"`
	PaymentID int64           `json:"payment_id" db:"payment_id"`
	InvoiceID int64           `json:"invoice_id" db:"invoice_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	IsFP      bool            `json:"is_fp" db:"is_fp"`
}

// ForwardedPayment is one movement of previously received franchise funds
// from the holding account to a real bank account. It owns the ledger
// transaction carrying the transfer.
type ForwardedPayment struct {
	ID                       int64     `json:"id" db:"id"`
	SourceGLAccountID        int64     `json:"source_gl_account_id" db:"source_gl_account_id"`
	DestinationGLAccountID   int64     `json:"destination_gl_account_id" db:"destination_gl_account_id"`
	UserID                   int64     `json:"user_id" db:"user_id"`
	TransferredAt            time.Time `json:"transferred_at" db:"transferred_at"`
	RemittanceReference      string    `json:"remittance_reference" db:"remittance_reference"`
	TransactionID            int64     `json:"transaction_id" db:"transaction_id"`
}

// ForwardedPaymentInvoice records how much of one invoice's franchise funds
// a ForwardedPayment moved. Multiple rows per invoice accumulate across
// incremental forwards.
type ForwardedPaymentInvoice struct {
	ForwardedPaymentID int64           `json:"forwarded_payment_id" db:"forwarded_payment_id"`
	InvoiceID          int64           `json:"invoice_id" db:"invoice_id"`
	Amount             decimal.Decimal `json:"amount" db:"amount"`
}
