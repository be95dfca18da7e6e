package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/tradedesk/services/deals/internal/fault"
	"example.com/tradedesk/services/deals/internal/models"
)

// ReferenceRepository provides access to the four reference tables and owns
// the delete rules: product/unit/currency deletions are blocked while a deal
// references them, counterparty deletion nulls the referencing deals.
type ReferenceRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewReferenceRepository creates a new reference repository
func NewReferenceRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ReferenceRepository {
	return &ReferenceRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetProduct gets a product by ID
func (r *ReferenceRepository) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.readOnlyDB.WithContext(ctx).First(&product, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("product")
		}
		return nil, errors.Wrap(err, "failed to get product")
	}
	return &product, nil
}

// GetUnit gets a unit by code
func (r *ReferenceRepository) GetUnit(ctx context.Context, code string) (*models.Unit, error) {
	var unit models.Unit
	err := r.readOnlyDB.WithContext(ctx).First(&unit, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("unit")
		}
		return nil, errors.Wrap(err, "failed to get unit")
	}
	return &unit, nil
}

// GetCurrency gets a currency by code
func (r *ReferenceRepository) GetCurrency(ctx context.Context, code string) (*models.Currency, error) {
	var currency models.Currency
	err := r.readOnlyDB.WithContext(ctx).First(&currency, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("currency")
		}
		return nil, errors.Wrap(err, "failed to get currency")
	}
	return &currency, nil
}

// GetCounterparty gets a counterparty by ID
func (r *ReferenceRepository) GetCounterparty(ctx context.Context, id uuid.UUID) (*models.Counterparty, error) {
	var counterparty models.Counterparty
	err := r.readOnlyDB.WithContext(ctx).First(&counterparty, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("counterparty")
		}
		return nil, errors.Wrap(err, "failed to get counterparty")
	}
	return &counterparty, nil
}

// ListProducts returns all product rows
func (r *ReferenceRepository) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := r.readOnlyDB.WithContext(ctx).Order("name").Find(&products).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list products")
	}
	return products, nil
}

// ListUnits returns all unit rows
func (r *ReferenceRepository) ListUnits(ctx context.Context) ([]models.Unit, error) {
	var units []models.Unit
	if err := r.readOnlyDB.WithContext(ctx).Order("code").Find(&units).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list units")
	}
	return units, nil
}

// ListCurrencies returns all currency rows
func (r *ReferenceRepository) ListCurrencies(ctx context.Context) ([]models.Currency, error) {
	var currencies []models.Currency
	if err := r.readOnlyDB.WithContext(ctx).Order("code").Find(&currencies).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list currencies")
	}
	return currencies, nil
}

// ListCounterparties returns all counterparty rows
func (r *ReferenceRepository) ListCounterparties(ctx context.Context) ([]models.Counterparty, error) {
	var counterparties []models.Counterparty
	if err := r.readOnlyDB.WithContext(ctx).Order("name").Find(&counterparties).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list counterparties")
	}
	return counterparties, nil
}

// ProductExists reports whether a product row exists
func (r *ReferenceRepository) ProductExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check product existence")
	}
	return count > 0, nil
}

// UnitExists reports whether a unit row exists
func (r *ReferenceRepository) UnitExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Unit{}).
		Where("code = ?", code).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check unit existence")
	}
	return count > 0, nil
}

// CurrencyExists reports whether a currency row exists
func (r *ReferenceRepository) CurrencyExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Currency{}).
		Where("code = ?", code).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check currency existence")
	}
	return count > 0, nil
}

// CounterpartyExists reports whether a counterparty row exists
func (r *ReferenceRepository) CounterpartyExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Counterparty{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check counterparty existence")
	}
	return count > 0, nil
}

// UpsertProduct creates or replaces a product row
func (r *ReferenceRepository) UpsertProduct(ctx context.Context, product *models.Product) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "updated_at"}),
		}).
		Create(product).Error
	return errors.Wrap(err, "failed to upsert product")
}

// UpsertUnit creates or replaces a unit row
func (r *ReferenceRepository) UpsertUnit(ctx context.Context, unit *models.Unit) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "updated_at"}),
		}).
		Create(unit).Error
	return errors.Wrap(err, "failed to upsert unit")
}

// UpsertCurrency creates or replaces a currency row
func (r *ReferenceRepository) UpsertCurrency(ctx context.Context, currency *models.Currency) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}).
		Create(currency).Error
	return errors.Wrap(err, "failed to upsert currency")
}

// UpsertCounterparty creates or replaces a counterparty row
func (r *ReferenceRepository) UpsertCounterparty(ctx context.Context, counterparty *models.Counterparty) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "country", "updated_at"}),
		}).
		Create(counterparty).Error
	return errors.Wrap(err, "failed to upsert counterparty")
}

// DeleteProduct deletes a product unless a deal still references it. The
// check and the delete share a transaction so a racing insert cannot slip
// between them.
func (r *ReferenceRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var refs int64
		if err := tx.Model(&models.DealEvent{}).Where("product_id = ?", id).Count(&refs).Error; err != nil {
			return errors.Wrap(err, "failed to count referencing deals")
		}
		if refs > 0 {
			return fault.ReferentialIntegrity("product", "%d deal(s) still reference product %s", refs, id)
		}

		result := tx.Delete(&models.Product{}, "id = ?", id)
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to delete product")
		}
		if result.RowsAffected == 0 {
			return fault.NotFound("product")
		}
		return nil
	})
}

// DeleteUnit deletes a unit unless a deal still references it
func (r *ReferenceRepository) DeleteUnit(ctx context.Context, code string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var refs int64
		if err := tx.Model(&models.DealEvent{}).Where("unit_code = ?", code).Count(&refs).Error; err != nil {
			return errors.Wrap(err, "failed to count referencing deals")
		}
		if refs > 0 {
			return fault.ReferentialIntegrity("unit", "%d deal(s) still reference unit %s", refs, code)
		}

		result := tx.Delete(&models.Unit{}, "code = ?", code)
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to delete unit")
		}
		if result.RowsAffected == 0 {
			return fault.NotFound("unit")
		}
		return nil
	})
}

// DeleteCurrency deletes a currency unless a deal still references it
func (r *ReferenceRepository) DeleteCurrency(ctx context.Context, code string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var refs int64
		if err := tx.Model(&models.DealEvent{}).Where("currency_code = ?", code).Count(&refs).Error; err != nil {
			return errors.Wrap(err, "failed to count referencing deals")
		}
		if refs > 0 {
			return fault.ReferentialIntegrity("currency", "%d deal(s) still reference currency %s", refs, code)
		}

		result := tx.Delete(&models.Currency{}, "code = ?", code)
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to delete currency")
		}
		if result.RowsAffected == 0 {
			return fault.NotFound("currency")
		}
		return nil
	})
}

// DeleteCounterparty deletes a counterparty, nulling counterparty_id on all
// referencing deals in the same transaction. The null-out touches only that
// column; referencing deals keep their version and updated_at.
func (r *ReferenceRepository) DeleteCounterparty(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.DealEvent{}).
			Where("counterparty_id = ?", id).
			UpdateColumn("counterparty_id", nil).Error
		if err != nil {
			return errors.Wrap(err, "failed to clear counterparty references")
		}

		result := tx.Delete(&models.Counterparty{}, "id = ?", id)
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to delete counterparty")
		}
		if result.RowsAffected == 0 {
			return fault.NotFound("counterparty")
		}
		return nil
	})
}
