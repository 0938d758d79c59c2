package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/franchisepay/backend/internal/models"
)

func newPaymentService(t *testing.T) (*PaymentService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := NewLedgerService(db)
	orgs := NewOrganizationService(db)
	return NewPaymentService(db, ledger, orgs), mock, func() { db.Close() }
}

func glAccountRow(id, orgID, typeID int64, code, name string, bankName interface{}, increaseIsDebit bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "accounting_organization_id", "account_type_id", "code", "name",
		"bank_account_name", "created_at", "increase_action_is_debit",
	}).AddRow(id, orgID, typeID, code, name, bankName, time.Now(), increaseIsDebit)
}

func TestPaymentService_CreatePayment(t *testing.T) {
	service, mock, closeDB := newPaymentService(t)
	defer closeDB()

	t.Run("mixed fp and dp allocation", func(t *testing.T) {
		in := CreatePaymentInput{
			DestinationGLAccountID:   40,
			AccountingOrganizationID: 1,
			UserID:                   7,
			PaidAt:                   time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
			Reference:                "REF-1",
			Allocations: []InvoiceAllocation{
				{InvoiceID: 1, Amount: decimal.NewFromInt(100), IsFP: true},
				{InvoiceID: 2, Amount: decimal.NewFromInt(150), IsFP: false},
			},
		}

		mock.ExpectBegin()

		// Both invoices locked with their paid sums.
		mock.ExpectQuery("SELECT i.id, i.total_amount").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "total_amount", "paid_amount"}).
				AddRow(1, "100", "0").
				AddRow(2, "200", "50"))

		// FP portion lands on the holding account (credit-normal).
		mock.ExpectQuery("WHERE a.accounting_organization_id = \\$1 AND a.code = \\$2").
			WithArgs(int64(1), FranchisePaymentsAccountCode).
			WillReturnRows(glAccountRow(30, 1, 2, FranchisePaymentsAccountCode, "Franchise Payments (Holding)", nil, false))

		// DP portion lands on the named bank account.
		mock.ExpectQuery("WHERE a.id = \\$1").
			WithArgs(int64(40)).
			WillReturnRows(glAccountRow(40, 1, 1, "operating", "Operating Account", "Main Operating", true))

		// Total comes off Accounts Receivable.
		mock.ExpectQuery("SELECT receivable_gl_account_id").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"receivable_gl_account_id"}).AddRow(50))
		mock.ExpectQuery("WHERE a.id = \\$1").
			WithArgs(int64(50)).
			WillReturnRows(glAccountRow(50, 1, 1, "receivable", "Accounts Receivable", nil, true))

		for _, account := range []struct {
			id              int64
			increaseIsDebit bool
		}{{30, false}, {40, true}, {50, true}} {
			mock.ExpectQuery("SELECT a.accounting_organization_id, t.increase_action_is_debit").
				WithArgs(account.id).
				WillReturnRows(sqlmock.NewRows([]string{"accounting_organization_id", "increase_action_is_debit"}).
					AddRow(1, account.increaseIsDebit))
		}

		mock.ExpectQuery("INSERT INTO gl_transactions").
			WithArgs(int64(1), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))

		mock.ExpectExec("INSERT INTO transaction_records").
			WithArgs(int64(9), int64(30), false, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transaction_records").
			WithArgs(int64(9), int64(40), true, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectExec("INSERT INTO transaction_records").
			WithArgs(int64(9), int64(50), false, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(3, 1))

		mock.ExpectQuery("INSERT INTO payments").
			WithArgs(models.PaymentTypeDirectDeposit, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1), "REF-1", int64(7), int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

		mock.ExpectExec("INSERT INTO invoice_payments").
			WithArgs(int64(3), int64(1), sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO invoice_payments").
			WithArgs(int64(3), int64(2), sqlmock.AnyArg(), false).
			WillReturnResult(sqlmock.NewResult(2, 1))

		mock.ExpectCommit()

		payment, err := service.CreatePayment(models.PaymentTypeDirectDeposit, in)
		assert.NoError(t, err)
		assert.Equal(t, int64(3), payment.ID)
		assert.Equal(t, int64(9), payment.TransactionID)
		assert.True(t, payment.Amount.Equal(decimal.NewFromInt(250)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("allocation exceeding amount due", func(t *testing.T) {
		in := CreatePaymentInput{
			AccountingOrganizationID: 1,
			UserID:                   7,
			Allocations: []InvoiceAllocation{
				// Invoice has 100 total with 60 already paid; 50 is one unit
				// over the 40 due.
				{InvoiceID: 1, Amount: decimal.NewFromInt(50), IsFP: true},
			},
		}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT i.id, i.total_amount").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "total_amount", "paid_amount"}).
				AddRow(1, "100", "60"))
		mock.ExpectRollback()

		_, err := service.CreatePayment(models.PaymentTypeCreditNote, in)
		assert.Error(t, err)
		assert.IsType(t, &NotAllowedError{}, err)
		assert.Contains(t, err.Error(), "payment exceeds balance due")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("allocation exactly at amount due", func(t *testing.T) {
		in := CreatePaymentInput{
			AccountingOrganizationID: 1,
			UserID:                   7,
			Reference:                "REF-2",
			PaidAt:                   time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
			Allocations: []InvoiceAllocation{
				{InvoiceID: 1, Amount: decimal.NewFromInt(40), IsFP: true},
			},
		}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT i.id, i.total_amount").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "total_amount", "paid_amount"}).
				AddRow(1, "100", "60"))
		mock.ExpectQuery("WHERE a.accounting_organization_id = \\$1 AND a.code = \\$2").
			WithArgs(int64(1), FranchisePaymentsAccountCode).
			WillReturnRows(glAccountRow(30, 1, 2, FranchisePaymentsAccountCode, "Franchise Payments (Holding)", nil, false))
		mock.ExpectQuery("SELECT receivable_gl_account_id").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"receivable_gl_account_id"}).AddRow(50))
		mock.ExpectQuery("WHERE a.id = \\$1").
			WithArgs(int64(50)).
			WillReturnRows(glAccountRow(50, 1, 1, "receivable", "Accounts Receivable", nil, true))

		mock.ExpectQuery("SELECT a.accounting_organization_id, t.increase_action_is_debit").
			WithArgs(int64(30)).
			WillReturnRows(sqlmock.NewRows([]string{"accounting_organization_id", "increase_action_is_debit"}).
				AddRow(1, false))
		mock.ExpectQuery("SELECT a.accounting_organization_id, t.increase_action_is_debit").
			WithArgs(int64(50)).
			WillReturnRows(sqlmock.NewRows([]string{"accounting_organization_id", "increase_action_is_debit"}).
				AddRow(1, true))

		mock.ExpectQuery("INSERT INTO gl_transactions").
			WithArgs(int64(1), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
		mock.ExpectExec("INSERT INTO transaction_records").
			WithArgs(int64(10), int64(30), false, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transaction_records").
			WithArgs(int64(10), int64(50), false, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))

		mock.ExpectQuery("INSERT INTO payments").
			WithArgs(models.PaymentTypeCreditCard, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1), "REF-2", int64(7), int64(10)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
		mock.ExpectExec("INSERT INTO invoice_payments").
			WithArgs(int64(4), int64(1), sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		payment, err := service.CreatePayment(models.PaymentTypeCreditCard, in)
		assert.NoError(t, err)
		assert.True(t, payment.Amount.Equal(decimal.NewFromInt(40)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("split allocations are bounded together", func(t *testing.T) {
		// Two tuples of 60 against one invoice with 100 due: each fits on
		// its own, but the payment as a whole overpays and must be rejected.
		in := CreatePaymentInput{
			AccountingOrganizationID: 1,
			UserID:                   7,
			Allocations: []InvoiceAllocation{
				{InvoiceID: 1, Amount: decimal.NewFromInt(60), IsFP: true},
				{InvoiceID: 1, Amount: decimal.NewFromInt(60), IsFP: true},
			},
		}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT i.id, i.total_amount").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "total_amount", "paid_amount"}).
				AddRow(1, "100", "0"))
		mock.ExpectRollback()

		_, err := service.CreatePayment(models.PaymentTypeDirectDeposit, in)
		assert.Error(t, err)
		assert.IsType(t, &NotAllowedError{}, err)
		assert.Contains(t, err.Error(), "payment exceeds balance due")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("split allocations within the amount due", func(t *testing.T) {
		in := CreatePaymentInput{
			AccountingOrganizationID: 1,
			UserID:                   7,
			Reference:                "REF-3",
			PaidAt:                   time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
			Allocations: []InvoiceAllocation{
				{InvoiceID: 1, Amount: decimal.NewFromInt(60), IsFP: true},
				{InvoiceID: 1, Amount: decimal.NewFromInt(40), IsFP: true},
			},
		}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT i.id, i.total_amount").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "total_amount", "paid_amount"}).
				AddRow(1, "100", "0"))
		mock.ExpectQuery("WHERE a.accounting_organization_id = \\$1 AND a.code = \\$2").
			WithArgs(int64(1), FranchisePaymentsAccountCode).
			WillReturnRows(glAccountRow(30, 1, 2, FranchisePaymentsAccountCode, "Franchise Payments (Holding)", nil, false))
		mock.ExpectQuery("SELECT receivable_gl_account_id").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"receivable_gl_account_id"}).AddRow(50))
		mock.ExpectQuery("WHERE a.id = \\$1").
			WithArgs(int64(50)).
			WillReturnRows(glAccountRow(50, 1, 1, "receivable", "Accounts Receivable", nil, true))

		mock.ExpectQuery("SELECT a.accounting_organization_id, t.increase_action_is_debit").
			WithArgs(int64(30)).
			WillReturnRows(sqlmock.NewRows([]string{"accounting_organization_id", "increase_action_is_debit"}).
				AddRow(1, false))
		mock.ExpectQuery("SELECT a.accounting_organization_id, t.increase_action_is_debit").
			WithArgs(int64(50)).
			WillReturnRows(sqlmock.NewRows([]string{"accounting_organization_id", "increase_action_is_debit"}).
				AddRow(1, true))

		mock.ExpectQuery("INSERT INTO gl_transactions").
			WithArgs(int64(1), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
		mock.ExpectExec("INSERT INTO transaction_records").
			WithArgs(int64(12), int64(30), false, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transaction_records").
			WithArgs(int64(12), int64(50), false, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))

		mock.ExpectQuery("INSERT INTO payments").
			WithArgs(models.PaymentTypeDirectDeposit, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1), "REF-3", int64(7), int64(12)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(6))
		mock.ExpectExec("INSERT INTO invoice_payments").
			WithArgs(int64(6), int64(1), sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO invoice_payments").
			WithArgs(int64(6), int64(1), sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		payment, err := service.CreatePayment(models.PaymentTypeDirectDeposit, in)
		assert.NoError(t, err)
		assert.True(t, payment.Amount.Equal(decimal.NewFromInt(100)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown invoice", func(t *testing.T) {
		in := CreatePaymentInput{
			AccountingOrganizationID: 1,
			UserID:                   7,
			Allocations: []InvoiceAllocation{
				{InvoiceID: 404, Amount: decimal.NewFromInt(10), IsFP: true},
			},
		}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT i.id, i.total_amount").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "total_amount", "paid_amount"}))
		mock.ExpectRollback()

		_, err := service.CreatePayment(models.PaymentTypeDirectDeposit, in)
		assert.Error(t, err)
		assert.IsType(t, &NotFoundError{}, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("dp destination must be a bank account", func(t *testing.T) {
		in := CreatePaymentInput{
			DestinationGLAccountID:   50,
			AccountingOrganizationID: 1,
			UserID:                   7,
			Allocations: []InvoiceAllocation{
				{InvoiceID: 1, Amount: decimal.NewFromInt(10), IsFP: false},
			},
		}

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT i.id, i.total_amount").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "total_amount", "paid_amount"}).
				AddRow(1, "100", "0"))
		mock.ExpectQuery("WHERE a.id = \\$1").
			WithArgs(int64(50)).
			WillReturnRows(glAccountRow(50, 1, 1, "receivable", "Accounts Receivable", nil, true))
		mock.ExpectRollback()

		_, err := service.CreatePayment(models.PaymentTypeDirectDeposit, in)
		assert.Error(t, err)
		assert.IsType(t, &NotAllowedError{}, err)
		assert.Contains(t, err.Error(), "must be bank account")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no allocations", func(t *testing.T) {
		_, err := service.CreatePayment(models.PaymentTypeDirectDeposit, CreatePaymentInput{AccountingOrganizationID: 1})
		assert.Error(t, err)
		assert.IsType(t, &ValidationError{}, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive allocation", func(t *testing.T) {
		_, err := service.CreatePayment(models.PaymentTypeDirectDeposit, CreatePaymentInput{
			AccountingOrganizationID: 1,
			Allocations: []InvoiceAllocation{
				{InvoiceID: 1, Amount: decimal.NewFromInt(-5), IsFP: true},
			},
		})
		assert.Error(t, err)
		assert.IsType(t, &ValidationError{}, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAllocationInvoiceIDs(t *testing.T) {
	allocations := []InvoiceAllocation{
		{InvoiceID: 2, Amount: decimal.NewFromInt(10), IsFP: true},
		{InvoiceID: 1, Amount: decimal.NewFromInt(20), IsFP: false},
		{InvoiceID: 2, Amount: decimal.NewFromInt(30), IsFP: false},
	}

	// Duplicates collapse, first-seen order is kept.
	assert.Equal(t, []int64{2, 1}, allocationInvoiceIDs(allocations))
}
