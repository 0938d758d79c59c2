package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/franchisepay/backend/internal/models"
)

// CounterType identifies one status bucket of one entity kind. The set is
// closed: every value is bound to its listing query in the provider table
// built at construction, so an unknown type can only come from caller
// input and is rejected at the edge.
type CounterType string

const (
	CounterInvoicesDraft                 CounterType = "invoices:draft"
	CounterInvoicesPendingApproval       CounterType = "invoices:pending_approval"
	CounterInvoicesApproved              CounterType = "invoices:approved"
	CounterPurchaseOrdersDraft           CounterType = "purchase_orders:draft"
	CounterPurchaseOrdersPendingApproval CounterType = "purchase_orders:pending_approval"
	CounterPurchaseOrdersApproved        CounterType = "purchase_orders:approved"
	CounterCreditNotesDraft              CounterType = "credit_notes:draft"
	CounterCreditNotesPendingApproval    CounterType = "credit_notes:pending_approval"
	CounterCreditNotesApproved           CounterType = "credit_notes:approved"
)

// AllCounterTypes returns every registered counter type, in the order the
// recalculation sweep visits them.
func AllCounterTypes() []CounterType {
	return []CounterType{
		CounterInvoicesDraft,
		CounterInvoicesPendingApproval,
		CounterInvoicesApproved,
		CounterPurchaseOrdersDraft,
		CounterPurchaseOrdersPendingApproval,
		CounterPurchaseOrdersApproved,
		CounterCreditNotesDraft,
		CounterCreditNotesPendingApproval,
		CounterCreditNotesApproved,
	}
}

type counterListFunc func(models.ListingFilter) ([]models.ListingRow, error)

// CountersService caches (count, amount) aggregates per counter type and
// location in Redis, with no expiry. Entries are only corrected by
// recomputation; the cache is a performance layer over data that is always
// re-derivable from the listing queries.
type CountersService struct {
	redis     *redis.Client
	providers map[CounterType]counterListFunc
}

func NewCountersService(redisClient *redis.Client, listing *ListingService) *CountersService {
	return &CountersService{
		redis: redisClient,
		providers: map[CounterType]counterListFunc{
			CounterInvoicesDraft:                 listing.InvoicesDraft,
			CounterInvoicesPendingApproval:       listing.InvoicesPendingApproval,
			CounterInvoicesApproved:              listing.InvoicesApproved,
			CounterPurchaseOrdersDraft:           listing.PurchaseOrdersDraft,
			CounterPurchaseOrdersPendingApproval: listing.PurchaseOrdersPendingApproval,
			CounterPurchaseOrdersApproved:        listing.PurchaseOrdersApproved,
			CounterCreditNotesDraft:              listing.CreditNotesDraft,
			CounterCreditNotesPendingApproval:    listing.CreditNotesPendingApproval,
			CounterCreditNotesApproved:           listing.CreditNotesApproved,
		},
	}
}

// ParseCounterType validates caller-supplied counter type input.
func ParseCounterType(raw string) (CounterType, error) {
	ct := CounterType(raw)
	for _, known := range AllCounterTypes() {
		if ct == known {
			return ct, nil
		}
	}
	return "", validationf("unknown counter type %q", raw)
}

func counterKey(counterType CounterType, locationID int64) string {
	return fmt.Sprintf("counters:%s:%d", counterType, locationID)
}

// Get sums the cached entries for every requested location. If any single
// entry is missing, all requested locations are recomputed for that type
// and cached before returning.
func (s *CountersService) Get(counterType CounterType, locationIDs []int64) (models.CounterItem, error) {
	if _, ok := s.providers[counterType]; !ok {
		return models.CounterItem{}, validationf("unknown counter type %q", counterType)
	}
	if len(locationIDs) == 0 {
		return models.CounterItem{Amount: decimal.Zero}, nil
	}

	if s.redis != nil {
		items, allCached, err := s.readCached(counterType, locationIDs)
		if err != nil {
			return models.CounterItem{}, err
		}
		if allCached {
			return sumCounterItems(items), nil
		}
	}

	computed, err := s.recompute(counterType, locationIDs)
	if err != nil {
		return models.CounterItem{}, err
	}

	items := make([]models.CounterItem, 0, len(locationIDs))
	for _, locationID := range locationIDs {
		items = append(items, computed[locationID])
	}
	return sumCounterItems(items), nil
}

// Recalculate re-runs every registered listing query for the locations and
// overwrites the cached pairs unconditionally, even to zero. This is the
// only way stale entries are corrected; there is no TTL.
func (s *CountersService) Recalculate(locationIDs []int64) error {
	for _, counterType := range AllCounterTypes() {
		if _, err := s.recompute(counterType, locationIDs); err != nil {
			return fmt.Errorf("recalculate %s: %w", counterType, err)
		}
	}
	log.Printf("[COUNTERS] Recalculated %d counter types for %d locations", len(AllCounterTypes()), len(locationIDs))
	return nil
}

func (s *CountersService) readCached(counterType CounterType, locationIDs []int64) ([]models.CounterItem, bool, error) {
	ctx := context.Background()
	items := make([]models.CounterItem, 0, len(locationIDs))
	for _, locationID := range locationIDs {
		data, err := s.redis.Get(ctx, counterKey(counterType, locationID)).Bytes()
		if err == redis.Nil {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		var item models.CounterItem
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, false, err
		}
		items = append(items, item)
	}
	return items, true, nil
}

// recompute derives fresh (count, amount) pairs per location from the
// provider's listing query and writes them through to the cache.
func (s *CountersService) recompute(counterType CounterType, locationIDs []int64) (map[int64]models.CounterItem, error) {
	list, ok := s.providers[counterType]
	if !ok {
		return nil, validationf("unknown counter type %q", counterType)
	}

	rows, err := list(models.ListingFilter{LocationIDs: locationIDs})
	if err != nil {
		return nil, err
	}

	computed := make(map[int64]models.CounterItem, len(locationIDs))
	for _, locationID := range locationIDs {
		computed[locationID] = models.CounterItem{Amount: decimal.Zero}
	}
	for _, row := range rows {
		item := computed[row.LocationID]
		item.Count++
		item.Amount = item.Amount.Add(row.Amount)
		computed[row.LocationID] = item
	}

	if s.redis != nil {
		ctx := context.Background()
		for _, locationID := range locationIDs {
			data, err := json.Marshal(computed[locationID])
			if err != nil {
				return nil, err
			}
			// No expiry: entries live until the next recomputation.
			if err := s.redis.Set(ctx, counterKey(counterType, locationID), data, 0).Err(); err != nil {
				return nil, err
			}
		}
	}

	return computed, nil
}

func sumCounterItems(items []models.CounterItem) models.CounterItem {
	total := models.CounterItem{Amount: decimal.Zero}
	for _, item := range items {
		total.Count += item.Count
		total.Amount = total.Amount.Add(item.Amount)
	}
	return total
}
