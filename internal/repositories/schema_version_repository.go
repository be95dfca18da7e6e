package repositories

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/tradedesk/services/deals/internal/fault"
	"example.com/tradedesk/services/deals/internal/models"
)

// SchemaVersionRepository provides access to the append-only schema_version
// registry. Rows are never updated or deleted.
type SchemaVersionRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewSchemaVersionRepository creates a new schema version repository
func NewSchemaVersionRepository(db *gorm.DB, readOnlyDB *gorm.DB) *SchemaVersionRepository {
	return &SchemaVersionRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Latest returns the most recently appended schema version
func (r *SchemaVersionRepository) Latest(ctx context.Context) (*models.SchemaVersion, error) {
	var version models.SchemaVersion
	err := r.readOnlyDB.WithContext(ctx).Order("id DESC").First(&version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("schema version")
		}
		return nil, errors.Wrap(err, "failed to get latest schema version")
	}
	return &version, nil
}

// List returns every registered schema version, oldest first
func (r *SchemaVersionRepository) List(ctx context.Context) ([]models.SchemaVersion, error) {
	var versions []models.SchemaVersion
	if err := r.readOnlyDB.WithContext(ctx).Order("id").Find(&versions).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list schema versions")
	}
	return versions, nil
}

// Append adds a new schema version row
func (r *SchemaVersionRepository) Append(ctx context.Context, version *models.SchemaVersion) error {
	if err := r.db.WithContext(ctx).Create(version).Error; err != nil {
		return errors.Wrap(err, "failed to append schema version")
	}
	return nil
}
