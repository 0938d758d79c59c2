package models

import "github.com/shopspring/decimal"

// Entity statuses used by the listing queries and the counters cache.
const (
	StatusDraft           = "draft"
	StatusPendingApproval = "pending_approval"
	StatusApproved        = "approved"
)

// ListingRow is the shape every listing provider exposes: enough for the
// counters cache to aggregate and for the allocation engine to validate.
// For invoices Amount is the amount due (total minus paid); for purchase
// orders and credit notes it is the total amount.
type ListingRow struct {
	ID         int64           `json:"id" db:"id"`
	LocationID int64           `json:"location_id" db:"location_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
}

// ListingFilter narrows listing queries to a set of locations. Empty means
// no restriction.
type ListingFilter struct {
	LocationIDs []int64
}

// CounterItem is a cached (count, amount) aggregate for one
// (bucket-type, location) pair. Purely derived; recomputed, never versioned.
type CounterItem struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// Invoice carries the fields the allocation engine validates against.
// Invoice CRUD itself lives outside this service.
type Invoice struct {
	ID          int64           `json:"id" db:"id"`
	LocationID  int64           `json:"location_id" db:"location_id"`
	Status      string          `json:"status" db:"status"`
	TotalAmount decimal.Decimal `json:"total_amount" db:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount" db:"-"` // sum of invoice_payments
}

// AmountDue is the invoice's outstanding balance.
func (i *Invoice) AmountDue() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount)
}
