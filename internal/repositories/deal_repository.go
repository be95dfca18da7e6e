package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/tradedesk/services/deals/internal/fault"
	"example.com/tradedesk/services/deals/internal/models"
)

// DealFilters narrows a list query. Nil fields are not applied.
type DealFilters struct {
	ProductID    *uuid.UUID
	CurrencyCode *string
	Direction    *string
	From         *time.Time
	To           *time.Time
}

// DealRepository provides access to deal_event rows
type DealRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewDealRepository creates a new deal repository
func NewDealRepository(db *gorm.DB, readOnlyDB *gorm.DB) *DealRepository {
	return &DealRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create inserts a deal. Foreign key constraints serialize this against a
// concurrent reference deletion: a delete committed first makes the insert
// fail, and the violation is reported as an unresolvable reference.
func (r *DealRepository) Create(ctx context.Context, deal *models.DealEvent) error {
	err := r.db.WithContext(ctx).Create(deal).Error
	if err != nil {
		if field, ok := fkViolationField(err); ok {
			return fault.ReferenceNotFound(field, "referenced row no longer exists").WithCause(err)
		}
		return errors.Wrap(err, "failed to create deal")
	}
	return nil
}

// GetForOwner gets a deal by ID, filtered by owner. A foreign-owned row and
// a missing row are indistinguishable to the caller.
func (r *DealRepository) GetForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.DealEvent, error) {
	var deal models.DealEvent
	err := r.readOnlyDB.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&deal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("deal")
		}
		return nil, errors.Wrap(err, "failed to get deal")
	}
	return &deal, nil
}

// GetByID gets a deal by ID regardless of owner. Used by the update path,
// which must tell "foreign-owned" apart from "absent".
func (r *DealRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DealEvent, error) {
	var deal models.DealEvent
	err := r.readOnlyDB.WithContext(ctx).First(&deal, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("deal")
		}
		return nil, errors.Wrap(err, "failed to get deal")
	}
	return &deal, nil
}

// List returns deals owned by ownerID matching the filters, ordered by
// creation time then ID so repeated calls see a stable order.
func (r *DealRepository) List(ctx context.Context, ownerID uuid.UUID, filters DealFilters) ([]models.DealEvent, error) {
	q := r.readOnlyDB.WithContext(ctx).Where("owner_id = ?", ownerID)

	if filters.ProductID != nil {
		q = q.Where("product_id = ?", *filters.ProductID)
	}
	if filters.CurrencyCode != nil {
		q = q.Where("currency_code = ?", *filters.CurrencyCode)
	}
	if filters.Direction != nil {
		q = q.Where("direction = ?", *filters.Direction)
	}
	if filters.From != nil {
		q = q.Where("deal_timestamp >= ?", *filters.From)
	}
	if filters.To != nil {
		q = q.Where("deal_timestamp < ?", *filters.To)
	}

	var deals []models.DealEvent
	if err := q.Order("created_at, id").Find(&deals).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list deals")
	}
	return deals, nil
}

// UpdateVersioned writes the mutable columns of deal, guarded by a
// compare-and-swap on expectedVersion. Zero rows affected means a concurrent
// update won the race.
func (r *DealRepository) UpdateVersioned(ctx context.Context, deal *models.DealEvent, expectedVersion int) error {
	updates := map[string]interface{}{
		"deal_timestamp":  deal.DealTimestamp,
		"product_id":      deal.ProductID,
		"unit_code":       deal.UnitCode,
		"currency_code":   deal.CurrencyCode,
		"counterparty_id": deal.CounterpartyID,
		"quantity":        deal.Quantity,
		"fixed_price":     deal.FixedPrice,
		"direction":       deal.Direction,
		"effective_date":  deal.EffectiveDate,
		"delivery_start":  deal.DeliveryStart,
		"delivery_end":    deal.DeliveryEnd,
		"price_type":      deal.PriceType,
		"notes":           deal.Notes,
		"is_indexed":      deal.IsIndexed,
		"updated_at":      deal.UpdatedAt,
		"version":         expectedVersion + 1,
	}

	result := r.db.WithContext(ctx).
		Model(&models.DealEvent{}).
		Where("id = ? AND version = ?", deal.ID, expectedVersion).
		Updates(updates)

	if result.Error != nil {
		if field, ok := fkViolationField(result.Error); ok {
			return fault.ReferenceNotFound(field, "referenced row no longer exists").WithCause(result.Error)
		}
		return errors.Wrap(result.Error, "failed to update deal")
	}

	if result.RowsAffected == 0 {
		return fault.Conflict("deal %s was modified concurrently", deal.ID)
	}

	deal.Version = expectedVersion + 1
	return nil
}

// GetUnindexed returns deals not yet pushed to the search index
func (r *DealRepository) GetUnindexed(ctx context.Context, limit int) ([]models.DealEvent, error) {
	var deals []models.DealEvent
	err := r.readOnlyDB.WithContext(ctx).
		Where("is_indexed = ?", false).
		Limit(limit).
		Find(&deals).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get unindexed deals")
	}
	return deals, nil
}

// MarkIndexed flags a deal as present in the search index. Uses a targeted
// column update so neither version nor updated_at move.
func (r *DealRepository) MarkIndexed(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.DealEvent{}).
		Where("id = ?", id).
		UpdateColumn("is_indexed", true)

	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark deal as indexed")
	}
	if result.RowsAffected == 0 {
		return errors.New("no deal updated")
	}
	return nil
}

// fkViolationField maps a postgres foreign-key violation to the deal field
// whose reference failed to resolve.
func fkViolationField(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" {
		return "", false
	}

	name := strings.ToLower(pgErr.ConstraintName)
	switch {
	case strings.Contains(name, "product"):
		return "product_id", true
	case strings.Contains(name, "unit"):
		return "unit_code", true
	case strings.Contains(name, "currency"):
		return "currency_code", true
	case strings.Contains(name, "counterparty"):
		return "counterparty_id", true
	}
	return "reference", true
}
