package services

import (
	"database/sql"

	"github.com/franchisepay/backend/internal/models"
)

// FranchisePaymentsAccountCode is the per-organization code of the
// "Franchise Payments (Holding)" GL account that receives FP funds before
// they are forwarded to a real bank account.
const FranchisePaymentsAccountCode = "franchise_payments_holding"

// OrganizationService resolves the per-organization ledger configuration
// the payment and forwarding engines depend on. Both lookups fail fast
// when the organization is not fully configured.
type OrganizationService struct {
	db *sql.DB
}

func NewOrganizationService(db *sql.DB) *OrganizationService {
	return &OrganizationService{db: db}
}

// FindOrganization loads an accounting organization by id.
func (s *OrganizationService) FindOrganization(id int64) (*models.AccountingOrganization, error) {
	var org models.AccountingOrganization
	err := s.db.QueryRow(`
		SELECT id, name, receivable_gl_account_id
		FROM accounting_organizations
		WHERE id = $1`, id).Scan(&org.ID, &org.Name, &org.ReceivableGLAccountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "accounting organization", ID: id}
		}
		return nil, err
	}
	return &org, nil
}

// ReceivableAccount returns the organization's Accounts Receivable GL
// account, or NotAllowedError when none is configured.
func (s *OrganizationService) ReceivableAccount(organizationID int64) (*models.GLAccount, error) {
	return s.receivableAccount(s.db, organizationID)
}

// ReceivableAccountTx is the variant used inside an allocation transaction.
func (s *OrganizationService) ReceivableAccountTx(tx *sql.Tx, organizationID int64) (*models.GLAccount, error) {
	return s.receivableAccount(tx, organizationID)
}

func (s *OrganizationService) receivableAccount(q queryRower, organizationID int64) (*models.GLAccount, error) {
	var accountID sql.NullInt64
	err := q.QueryRow(`
		SELECT receivable_gl_account_id
		FROM accounting_organizations
		WHERE id = $1`, organizationID).Scan(&accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "accounting organization", ID: organizationID}
		}
		return nil, err
	}
	if !accountID.Valid {
		return nil, notAllowedf("organization %d has no receivable account configured", organizationID)
	}
	return findGLAccount(q, accountID.Int64)
}

// HoldingAccount returns the organization's Franchise Payments holding
// account, looked up by its well-known code, or NotAllowedError when the
// organization has none.
func (s *OrganizationService) HoldingAccount(organizationID int64) (*models.GLAccount, error) {
	return s.holdingAccount(s.db, organizationID)
}

// HoldingAccountTx is the variant used inside an allocation transaction.
func (s *OrganizationService) HoldingAccountTx(tx *sql.Tx, organizationID int64) (*models.GLAccount, error) {
	return s.holdingAccount(tx, organizationID)
}

func (s *OrganizationService) holdingAccount(q queryRower, organizationID int64) (*models.GLAccount, error) {
	var a models.GLAccount
	err := q.QueryRow(`
		SELECT a.id, a.accounting_organization_id, a.account_type_id, a.code, a.name,
		       a.bank_account_name, a.created_at, t.increase_action_is_debit
		FROM gl_accounts a
		JOIN account_types t ON t.id = a.account_type_id
		WHERE a.accounting_organization_id = $1 AND a.code = $2`,
		organizationID, FranchisePaymentsAccountCode).Scan(
		&a.ID, &a.AccountingOrganizationID, &a.AccountTypeID, &a.Code, &a.Name,
		&a.BankAccountName, &a.CreatedAt, &a.IncreaseActionIsDebit)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, notAllowedf("organization %d has no franchise payments holding account", organizationID)
		}
		return nil, err
	}
	return &a, nil
}
