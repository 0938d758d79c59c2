package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/franchisepay/backend/internal/audit"
	"github.com/franchisepay/backend/internal/models"
)

// LedgerService is the double-entry posting engine. Transactions are built
// in memory, validated, and committed atomically; history is append-only
// and reversal happens by posting the inverse, never by mutation.
type LedgerService struct {
	db    *sql.DB
	audit *audit.Logger
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db, audit: audit.NewLogger()}
}

// PostingLine is one uncommitted posting. Increase/decrease is relative to
// the target account's own convention; the stored debit/credit side is
// resolved at commit time from the account type.
type PostingLine struct {
	GLAccountID int64
	Amount      decimal.Decimal
	Increase    bool
}

// TransactionBuilder accumulates postings for one organization. Nothing is
// persisted until Commit; a builder that failed to commit must be discarded.
type TransactionBuilder struct {
	organizationID int64
	lines          []PostingLine
}

// CreateTransaction returns an uncommitted builder scoped to one organization.
func (s *LedgerService) CreateTransaction(organizationID int64) *TransactionBuilder {
	return &TransactionBuilder{organizationID: organizationID}
}

// AddIncrease appends a posting that raises the account's balance.
func (b *TransactionBuilder) AddIncrease(glAccountID int64, amount decimal.Decimal) *TransactionBuilder {
	b.lines = append(b.lines, PostingLine{GLAccountID: glAccountID, Amount: amount, Increase: true})
	return b
}

// AddDecrease appends a posting that lowers the account's balance.
func (b *TransactionBuilder) AddDecrease(glAccountID int64, amount decimal.Decimal) *TransactionBuilder {
	b.lines = append(b.lines, PostingLine{GLAccountID: glAccountID, Amount: amount, Increase: false})
	return b
}

// validate runs the write-free checks: every amount strictly positive and
// increase total equal to decrease total.
func (b *TransactionBuilder) validate() error {
	if len(b.lines) == 0 {
		return validationf("transaction has no postings")
	}

	increase := decimal.Zero
	decrease := decimal.Zero
	for _, line := range b.lines {
		if !line.Amount.IsPositive() {
			return validationf("posting amount must be positive, got %s for account %d", line.Amount, line.GLAccountID)
		}
		if line.Increase {
			increase = increase.Add(line.Amount)
		} else {
			decrease = decrease.Add(line.Amount)
		}
	}

	if !increase.Equal(decrease) {
		return &LedgerImbalanceError{Increase: increase.String(), Decrease: decrease.String()}
	}

	return nil
}

// Commit validates and persists the builder inside its own database
// transaction. On any failure nothing is persisted.
func (s *LedgerService) Commit(b *TransactionBuilder) (int64, error) {
	if err := b.validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	txnID, err := s.CommitTx(tx, b)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return txnID, nil
}

// CommitTx persists the builder as part of an enclosing database
// transaction, so callers can write payment rows in the same atomic unit.
func (s *LedgerService) CommitTx(tx *sql.Tx, b *TransactionBuilder) (int64, error) {
	if err := b.validate(); err != nil {
		return 0, err
	}

	// Resolve each line's debit/credit side and verify account ownership
	// before the first insert.
	isDebit := make([]bool, len(b.lines))
	for i, line := range b.lines {
		var orgID int64
		var increaseIsDebit bool
		err := tx.QueryRow(`
			SELECT a.accounting_organization_id, t.increase_action_is_debit
			FROM gl_accounts a
			JOIN account_types t ON t.id = a.account_type_id
			WHERE a.id = $1`, line.GLAccountID).Scan(&orgID, &increaseIsDebit)
		if err != nil {
			if err == sql.ErrNoRows {
				return 0, &NotFoundError{Entity: "gl account", ID: line.GLAccountID}
			}
			return 0, err
		}
		if orgID != b.organizationID {
			return 0, notAllowedf("gl account %d does not belong to organization %d", line.GLAccountID, b.organizationID)
		}
		isDebit[i] = line.Increase == increaseIsDebit
	}

	createdAt := time.Now()
	var txnID int64
	err := tx.QueryRow(`
		INSERT INTO gl_transactions (accounting_organization_id, created_at)
		VALUES ($1, $2)
		RETURNING id`, b.organizationID, createdAt).Scan(&txnID)
	if err != nil {
		return 0, err
	}

	for i, line := range b.lines {
		_, err := tx.Exec(`
			INSERT INTO transaction_records (transaction_id, gl_account_id, is_debit, amount, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			txnID, line.GLAccountID, isDebit[i], line.Amount, createdAt)
		if err != nil {
			return 0, err
		}
	}

	log.Printf("[LEDGER] Committed transaction %d with %d records for organization %d", txnID, len(b.lines), b.organizationID)
	return txnID, nil
}

// Rollback reverses a committed transaction by committing a new one with
// every posting inverted. The original is never touched.
func (s *LedgerService) Rollback(transactionID int64) (int64, error) {
	var orgID int64
	err := s.db.QueryRow(`
		SELECT accounting_organization_id FROM gl_transactions WHERE id = $1`,
		transactionID).Scan(&orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, &NotFoundError{Entity: "transaction", ID: transactionID}
		}
		return 0, err
	}

	rows, err := s.db.Query(`
		SELECT r.gl_account_id, r.amount, r.is_debit, t.increase_action_is_debit
		FROM transaction_records r
		JOIN gl_accounts a ON a.id = r.gl_account_id
		JOIN account_types t ON t.id = a.account_type_id
		WHERE r.transaction_id = $1
		ORDER BY r.id ASC`, transactionID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	builder := s.CreateTransaction(orgID)
	for rows.Next() {
		var glAccountID int64
		var amount decimal.Decimal
		var recordIsDebit, increaseIsDebit bool
		if err := rows.Scan(&glAccountID, &amount, &recordIsDebit, &increaseIsDebit); err != nil {
			return 0, err
		}
		wasIncrease := recordIsDebit == increaseIsDebit
		if wasIncrease {
			builder.AddDecrease(glAccountID, amount)
		} else {
			builder.AddIncrease(glAccountID, amount)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	newTxnID, err := s.Commit(builder)
	if err != nil {
		return 0, err
	}

	s.audit.LogRollback(transactionID, newTxnID)
	log.Printf("[LEDGER] Rolled back transaction %d via reversing transaction %d", transactionID, newTxnID)
	return newTxnID, nil
}

// RecordFilter bounds balance and record queries by an inclusive date range.
type RecordFilter struct {
	DateFrom *time.Time
	DateTo   *time.Time
}

// AccountBalance sums the signed amounts of the account's records,
// optionally bounded by the filter. An account with no postings balances
// to zero.
func (s *LedgerService) AccountBalance(glAccountID int64, filter *RecordFilter) (decimal.Decimal, error) {
	if _, err := s.FindGLAccount(glAccountID); err != nil {
		return decimal.Zero, err
	}

	query := `
		SELECT COALESCE(SUM(
			CASE WHEN r.is_debit = t.increase_action_is_debit THEN r.amount ELSE -r.amount END
		), 0)
		FROM transaction_records r
		JOIN gl_accounts a ON a.id = r.gl_account_id
		JOIN account_types t ON t.id = a.account_type_id
		WHERE r.gl_account_id = $1`

	args := []interface{}{glAccountID}
	query, args = appendDateRange(query, args, filter)

	var balance decimal.Decimal
	if err := s.db.QueryRow(query, args...).Scan(&balance); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// balanceBefore sums signed amounts of records strictly before the instant.
// It feeds the running-balance scan its starting value.
func (s *LedgerService) balanceBefore(glAccountID int64, before time.Time) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(
			CASE WHEN r.is_debit = t.increase_action_is_debit THEN r.amount ELSE -r.amount END
		), 0)
		FROM transaction_records r
		JOIN gl_accounts a ON a.id = r.gl_account_id
		JOIN account_types t ON t.id = a.account_type_id
		WHERE r.gl_account_id = $1 AND r.created_at < $2`,
		glAccountID, before).Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// FindTransactionRecordsByAccount returns the account's records in the
// deterministic replay order: created_at ascending, id as tie-break.
func (s *LedgerService) FindTransactionRecordsByAccount(glAccountID int64, filter *RecordFilter) ([]models.TransactionRecord, error) {
	if _, err := s.FindGLAccount(glAccountID); err != nil {
		return nil, err
	}
	return s.recordsByAccount(glAccountID, filter)
}

// recordsByAccount runs the record query for an account the caller has
// already resolved.
func (s *LedgerService) recordsByAccount(glAccountID int64, filter *RecordFilter) ([]models.TransactionRecord, error) {
	query := `
		SELECT r.id, r.transaction_id, r.gl_account_id, r.is_debit, r.amount, r.created_at
		FROM transaction_records r
		WHERE r.gl_account_id = $1`

	args := []interface{}{glAccountID}
	query, args = appendDateRange(query, args, filter)
	query += " ORDER BY r.created_at ASC, r.id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.TransactionRecord{}
	for rows.Next() {
		var r models.TransactionRecord
		if err := rows.Scan(&r.ID, &r.TransactionID, &r.GLAccountID, &r.IsDebit, &r.Amount, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// AddBalanceToRecords annotates an ordered record sequence with the running
// balance after each record, starting from startBalance. Pure scan: it
// never queries storage, and identical input always yields identical output.
func AddBalanceToRecords(accountType models.AccountType, startBalance decimal.Decimal, records []models.TransactionRecord) []models.TransactionRecord {
	balance := startBalance
	out := make([]models.TransactionRecord, len(records))
	for i, r := range records {
		balance = balance.Add(r.SignedAmount(accountType))
		r.Balance = balance
		out[i] = r
	}
	return out
}

// FindGLAccount loads an account with its type convention joined in.
func (s *LedgerService) FindGLAccount(id int64) (*models.GLAccount, error) {
	return findGLAccount(s.db, id)
}

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

func findGLAccount(q queryRower, id int64) (*models.GLAccount, error) {
	var a models.GLAccount
	err := q.QueryRow(`
		SELECT a.id, a.accounting_organization_id, a.account_type_id, a.code, a.name,
		       a.bank_account_name, a.created_at, t.increase_action_is_debit
		FROM gl_accounts a
		JOIN account_types t ON t.id = a.account_type_id
		WHERE a.id = $1`, id).Scan(
		&a.ID, &a.AccountingOrganizationID, &a.AccountTypeID, &a.Code, &a.Name,
		&a.BankAccountName, &a.CreatedAt, &a.IncreaseActionIsDebit)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "gl account", ID: id}
		}
		return nil, err
	}
	return &a, nil
}

func appendDateRange(query string, args []interface{}, filter *RecordFilter) (string, []interface{}) {
	if filter == nil {
		return query, args
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		query += fmt.Sprintf(" AND r.created_at >= $%d", len(args))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		query += fmt.Sprintf(" AND r.created_at <= $%d", len(args))
	}
	return query, args
}

// HTTP handlers

// GetAccountBalance returns a GL account's balance
// @Summary Get GL account balance
// @Description Compute the point-in-time balance of a GL account, optionally bounded by an inclusive date range
// @Tags ledger
// @Produce json
// @Param accountId path int true "GL account ID"
// @Param dateFrom query string false "Inclusive lower bound (RFC 3339 or YYYY-MM-DD)"
// @Param dateTo query string false "Inclusive upper bound (RFC 3339 or YYYY-MM-DD)"
// @Success 200 {object} object{accountId=int,balance=string}
// @Failure 404 {object} ErrorResponse
// @Router /gl-accounts/{accountId}/balance [get]
func (s *LedgerService) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	filter, err := parseRecordFilter(r)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	balance, err := s.AccountBalance(accountID, filter)
	if err != nil {
		log.Printf("[LEDGER] Balance query failed for account %d: %v", accountID, err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accountId": accountID,
		"balance":   balance,
	})
}

// GetAccountRecords returns a GL account's records with running balances
// @Summary List GL account transaction records
// @Description Return the account's postings in replay order, each annotated with the running balance
// @Tags ledger
// @Produce json
// @Param accountId path int true "GL account ID"
// @Param dateFrom query string false "Inclusive lower bound (RFC 3339 or YYYY-MM-DD)"
// @Param dateTo query string false "Inclusive upper bound (RFC 3339 or YYYY-MM-DD)"
// @Success 200 {object} object{accountId=int,records=[]models.TransactionRecord,count=int}
// @Failure 404 {object} ErrorResponse
// @Router /gl-accounts/{accountId}/records [get]
func (s *LedgerService) GetAccountRecords(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	filter, err := parseRecordFilter(r)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	account, err := s.FindGLAccount(accountID)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	records, err := s.recordsByAccount(accountID, filter)
	if err != nil {
		log.Printf("[LEDGER] Record query failed for account %d: %v", accountID, err)
		SendServiceError(w, err)
		return
	}

	startBalance := decimal.Zero
	if filter != nil && filter.DateFrom != nil {
		startBalance, err = s.balanceBefore(accountID, *filter.DateFrom)
		if err != nil {
			log.Printf("[LEDGER] Opening balance query failed for account %d: %v", accountID, err)
			SendServiceError(w, err)
			return
		}
	}

	accountType := models.AccountType{
		ID:                    account.AccountTypeID,
		IncreaseActionIsDebit: account.IncreaseActionIsDebit,
	}
	records = AddBalanceToRecords(accountType, startBalance, records)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accountId": accountID,
		"records":   records,
		"count":     len(records),
	})
}

func parseRecordFilter(r *http.Request) (*RecordFilter, error) {
	from := r.URL.Query().Get("dateFrom")
	to := r.URL.Query().Get("dateTo")
	if from == "" && to == "" {
		return nil, nil
	}

	filter := &RecordFilter{}
	if from != "" {
		t, err := parseDateParam(from, false)
		if err != nil {
			return nil, validationf("invalid dateFrom: %s", from)
		}
		filter.DateFrom = &t
	}
	if to != "" {
		t, err := parseDateParam(to, true)
		if err != nil {
			return nil, validationf("invalid dateTo: %s", to)
		}
		filter.DateTo = &t
	}
	return filter, nil
}

// parseDateParam accepts RFC 3339 instants or bare dates. A bare date used
// as an upper bound covers the whole day.
func parseDateParam(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
