package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/tradedesk/services/deals/internal/cache"
	"example.com/tradedesk/services/deals/internal/fault"
	"example.com/tradedesk/services/deals/internal/metrics"
	"example.com/tradedesk/services/deals/internal/models"
)

// Reference table names accepted by DeleteReference
const (
	TableProduct      = "product"
	TableUnit         = "unit"
	TableCurrency     = "currency"
	TableCounterparty = "counterparty"
)

// ReferenceStore is the reference-table persistence surface
type ReferenceStore interface {
	ReferenceChecker
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetUnit(ctx context.Context, code string) (*models.Unit, error)
	GetCurrency(ctx context.Context, code string) (*models.Currency, error)
	GetCounterparty(ctx context.Context, id uuid.UUID) (*models.Counterparty, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	ListUnits(ctx context.Context) ([]models.Unit, error)
	ListCurrencies(ctx context.Context) ([]models.Currency, error)
	ListCounterparties(ctx context.Context) ([]models.Counterparty, error)
	UpsertProduct(ctx context.Context, product *models.Product) error
	UpsertUnit(ctx context.Context, unit *models.Unit) error
	UpsertCurrency(ctx context.Context, currency *models.Currency) error
	UpsertCounterparty(ctx context.Context, counterparty *models.Counterparty) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	DeleteUnit(ctx context.Context, code string) error
	DeleteCurrency(ctx context.Context, code string) error
	DeleteCounterparty(ctx context.Context, id uuid.UUID) error
}

// SchemaVersionStore is the append-only schema registry surface
type SchemaVersionStore interface {
	Latest(ctx context.Context) (*models.SchemaVersion, error)
	List(ctx context.Context) ([]models.SchemaVersion, error)
	Append(ctx context.Context, version *models.SchemaVersion) error
}

// RefCache caches reference rows between the repository and its readers
type RefCache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
}

// ReferenceService owns reference-table reads and the admin-only write path,
// including the per-table delete rules and the schema version registry.
type ReferenceService struct {
	refRepo ReferenceStore
	svRepo  SchemaVersionStore
	cache   RefCache
	metrics *metrics.Metrics
}

// NewReferenceService creates a new reference service
func NewReferenceService(refRepo ReferenceStore, svRepo SchemaVersionStore, refCache RefCache, m *metrics.Metrics) *ReferenceService {
	return &ReferenceService{
		refRepo: refRepo,
		svRepo:  svRepo,
		cache:   refCache,
		metrics: m,
	}
}

// GetProduct reads a product, cache first
func (s *ReferenceService) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if s.cacheGet(ctx, cache.ProductKey(id), &product) {
		return &product, nil
	}

	p, err := s.refRepo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, cache.ProductKey(id), p)
	return p, nil
}

// GetUnit reads a unit, cache first
func (s *ReferenceService) GetUnit(ctx context.Context, code string) (*models.Unit, error) {
	var unit models.Unit
	if s.cacheGet(ctx, cache.UnitKey(code), &unit) {
		return &unit, nil
	}

	u, err := s.refRepo.GetUnit(ctx, code)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, cache.UnitKey(code), u)
	return u, nil
}

// GetCurrency reads a currency, cache first
func (s *ReferenceService) GetCurrency(ctx context.Context, code string) (*models.Currency, error) {
	var currency models.Currency
	if s.cacheGet(ctx, cache.CurrencyKey(code), &currency) {
		return &currency, nil
	}

	c, err := s.refRepo.GetCurrency(ctx, code)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, cache.CurrencyKey(code), c)
	return c, nil
}

// GetCounterparty reads a counterparty, cache first
func (s *ReferenceService) GetCounterparty(ctx context.Context, id uuid.UUID) (*models.Counterparty, error) {
	var counterparty models.Counterparty
	if s.cacheGet(ctx, cache.CounterpartyKey(id), &counterparty) {
		return &counterparty, nil
	}

	cp, err := s.refRepo.GetCounterparty(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, cache.CounterpartyKey(id), cp)
	return cp, nil
}

// ListProducts returns all products
func (s *ReferenceService) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.refRepo.ListProducts(ctx)
}

// ListUnits returns all units
func (s *ReferenceService) ListUnits(ctx context.Context) ([]models.Unit, error) {
	return s.refRepo.ListUnits(ctx)
}

// ListCurrencies returns all currencies
func (s *ReferenceService) ListCurrencies(ctx context.Context) ([]models.Currency, error) {
	return s.refRepo.ListCurrencies(ctx)
}

// ListCounterparties returns all counterparties
func (s *ReferenceService) ListCounterparties(ctx context.Context) ([]models.Counterparty, error) {
	return s.refRepo.ListCounterparties(ctx)
}

// UpsertProduct writes a product row. Administrative principals only.
func (s *ReferenceService) UpsertProduct(ctx context.Context, principal models.Principal, product *models.Product) error {
	if !principal.Admin {
		return fault.Authorization("reference writes require an administrative principal")
	}
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if product.Name == "" {
		return fault.Validation("name", "must not be empty")
	}

	if err := s.refRepo.UpsertProduct(ctx, product); err != nil {
		return err
	}
	s.invalidate(ctx, cache.ProductKey(product.ID))
	s.metrics.IncrementCounter(metrics.ReferenceMutations)
	return nil
}

// UpsertUnit writes a unit row. Administrative principals only.
func (s *ReferenceService) UpsertUnit(ctx context.Context, principal models.Principal, unit *models.Unit) error {
	if !principal.Admin {
		return fault.Authorization("reference writes require an administrative principal")
	}
	if unit.Code == "" {
		return fault.Validation("code", "must not be empty")
	}

	if err := s.refRepo.UpsertUnit(ctx, unit); err != nil {
		return err
	}
	s.invalidate(ctx, cache.UnitKey(unit.Code))
	s.metrics.IncrementCounter(metrics.ReferenceMutations)
	return nil
}

// UpsertCurrency writes a currency row. Administrative principals only.
func (s *ReferenceService) UpsertCurrency(ctx context.Context, principal models.Principal, currency *models.Currency) error {
	if !principal.Admin {
		return fault.Authorization("reference writes require an administrative principal")
	}
	if currency.Code == "" {
		return fault.Validation("code", "must not be empty")
	}

	if err := s.refRepo.UpsertCurrency(ctx, currency); err != nil {
		return err
	}
	s.invalidate(ctx, cache.CurrencyKey(currency.Code))
	s.metrics.IncrementCounter(metrics.ReferenceMutations)
	return nil
}

// UpsertCounterparty writes a counterparty row. Administrative principals only.
func (s *ReferenceService) UpsertCounterparty(ctx context.Context, principal models.Principal, counterparty *models.Counterparty) error {
	if !principal.Admin {
		return fault.Authorization("reference writes require an administrative principal")
	}
	if counterparty.ID == uuid.Nil {
		counterparty.ID = uuid.New()
	}
	if counterparty.Name == "" {
		return fault.Validation("name", "must not be empty")
	}

	if err := s.refRepo.UpsertCounterparty(ctx, counterparty); err != nil {
		return err
	}
	s.invalidate(ctx, cache.CounterpartyKey(counterparty.ID))
	s.metrics.IncrementCounter(metrics.ReferenceMutations)
	return nil
}

// DeleteReference deletes the keyed row from the named reference table.
// Product, unit and currency deletions are blocked while any deal references
// the key; counterparty deletion instead nulls counterparty_id on the
// referencing deals. Administrative principals only.
func (s *ReferenceService) DeleteReference(ctx context.Context, principal models.Principal, table, key string) error {
	if !principal.Admin {
		return fault.Authorization("reference deletes require an administrative principal")
	}

	var err error
	switch table {
	case TableProduct:
		id, parseErr := uuid.Parse(key)
		if parseErr != nil {
			return fault.Validation("key", "malformed product id %q", key)
		}
		if err = s.refRepo.DeleteProduct(ctx, id); err == nil {
			s.invalidate(ctx, cache.ProductKey(id))
		}
	case TableUnit:
		if err = s.refRepo.DeleteUnit(ctx, key); err == nil {
			s.invalidate(ctx, cache.UnitKey(key))
		}
	case TableCurrency:
		if err = s.refRepo.DeleteCurrency(ctx, key); err == nil {
			s.invalidate(ctx, cache.CurrencyKey(key))
		}
	case TableCounterparty:
		id, parseErr := uuid.Parse(key)
		if parseErr != nil {
			return fault.Validation("key", "malformed counterparty id %q", key)
		}
		if err = s.refRepo.DeleteCounterparty(ctx, id); err == nil {
			s.invalidate(ctx, cache.CounterpartyKey(id))
		}
	default:
		return fault.Validation("table", "unknown reference table %q", table)
	}

	if err != nil {
		return err
	}

	s.metrics.IncrementCounter(metrics.ReferenceMutations)
	log.Info().Str("table", table).Str("key", key).Msg("Reference row deleted")
	return nil
}

// ActiveVersion returns the schema contract version validation enforces
func (s *ReferenceService) ActiveVersion(ctx context.Context) (*models.SchemaVersion, error) {
	return s.svRepo.Latest(ctx)
}

// Versions lists the full registry, oldest first
func (s *ReferenceService) Versions(ctx context.Context) ([]models.SchemaVersion, error) {
	return s.svRepo.List(ctx)
}

// AppendVersion registers a new contract version. Administrative principals
// only; the registry is append-only.
func (s *ReferenceService) AppendVersion(ctx context.Context, principal models.Principal, version *models.SchemaVersion) error {
	if !principal.Admin {
		return fault.Authorization("schema version writes require an administrative principal")
	}
	if version.Version == "" {
		return fault.Validation("version", "must not be empty")
	}
	if version.ReleaseDate.IsZero() {
		version.ReleaseDate = time.Now().UTC()
	}
	return s.svRepo.Append(ctx, version)
}

// EnsureVersionSeeded seeds the registry with the initial contract version
// when empty, and logs the active version. Called once at startup.
func (s *ReferenceService) EnsureVersionSeeded(ctx context.Context) error {
	active, err := s.svRepo.Latest(ctx)
	if err != nil {
		if !fault.IsKind(err, fault.KindNotFound) {
			return errors.Wrap(err, "failed to read schema version registry")
		}

		seed := &models.SchemaVersion{
			Version:     "1.0.0",
			ReleaseDate: time.Now().UTC(),
			Notes:       "initial deal contract",
		}
		if err := s.svRepo.Append(ctx, seed); err != nil {
			return errors.Wrap(err, "failed to seed schema version registry")
		}
		active = seed
	}

	log.Info().
		Str("schema_version", active.Version).
		Time("release_date", active.ReleaseDate).
		Msg("Validation contract version active")
	return nil
}

func (s *ReferenceService) cacheGet(ctx context.Context, key string, value interface{}) bool {
	if s.cache == nil {
		return false
	}
	err := s.cache.Get(ctx, key, value)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrMiss) {
		log.Debug().Err(err).Str("key", key).Msg("Reference cache read failed")
	}
	return false
}

func (s *ReferenceService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Reference cache write failed")
	}
}

func (s *ReferenceService) invalidate(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Reference cache invalidation failed")
	}
}
