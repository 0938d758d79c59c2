package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies a GL account. IncreaseActionIsDebit decides the
// sign convention: when true, a debit-side posting increases the account's
// balance; when false, a credit-side posting does.
type AccountType struct {
	ID                    int64  `json:"id" db:"id"`
	Name                  string `json:"name" db:"name"`
	IncreaseActionIsDebit bool   `json:"increase_action_is_debit" db:"increase_action_is_debit"`
}

// GLAccount is a named ledger account belonging to one accounting
// organization. A non-empty BankAccountName marks it as a real
// money-transfer destination.
type GLAccount struct {
	ID                       int64     `json:"id" db:"id"`
	AccountingOrganizationID int64     `json:"accounting_organization_id" db:"accounting_organization_id"`
	AccountTypeID            int64     `json:"account_type_id" db:"account_type_id"`
	Code                     string    `json:"code" db:"code"` // unique within an organization
	Name                     string    `json:"name" db:"name"`
	BankAccountName          *string   `json:"bank_account_name,omitempty" db:"bank_account_name"`
	CreatedAt                time.Time `json:"created_at" db:"created_at"`

	IncreaseActionIsDebit bool `json:"-" db:"-"` // joined from account_types
}

// IsBankAccount reports whether the account may receive real money transfers.
func (a *GLAccount) IsBankAccount() bool {
	return a.BankAccountName != nil && *a.BankAccountName != ""
}

// Transaction is a committed, named grouping of postings representing one
// business event. Its records always net to zero.
type Transaction struct {
	ID                       int64     `json:"id" db:"id"`
	AccountingOrganizationID int64     `json:"accounting_organization_id" db:"accounting_organization_id"`
	CreatedAt                time.Time `json:"created_at" db:"created_at"`
}

// TransactionRecord is one posting against a GL account. IsDebit is the
// stored side; whether that increases or decreases the account is decided
// by the account type's convention. Records are immutable once created.
type TransactionRecord struct {
	ID            int64           `json:"id" db:"id"`
	TransactionID int64           `json:"transaction_id" db:"transaction_id"`
	GLAccountID   int64           `json:"gl_account_id" db:"gl_account_id"`
	IsDebit       bool            `json:"is_debit" db:"is_debit"`
	Amount        decimal.Decimal `json:"amount" db:"amount"` // always positive
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`

	// Balance is the running balance after this record, populated only by
	// the ledger's balance scan, never stored.
	Balance decimal.Decimal `json:"balance,omitempty" db:"-"`
}

// SignedAmount returns the record's effect on its account's balance under
// the given account type: +Amount when the stored side matches the type's
// increase convention, -Amount otherwise.
func (r *TransactionRecord) SignedAmount(accountType AccountType) decimal.Decimal {
	if r.IsDebit == accountType.IncreaseActionIsDebit {
		return r.Amount
	}
	return r.Amount.Neg()
}

// AccountingOrganization holds the per-organization ledger configuration.
// ReceivableGLAccountID may be unset on freshly created organizations; the
// payment engines fail fast in that case.
type AccountingOrganization struct {
	ID                    int64  `json:"id" db:"id"`
	Name                  string `json:"name" db:"name"`
	ReceivableGLAccountID *int64 `json:"receivable_gl_account_id,omitempty" db:"receivable_gl_account_id"`
}
