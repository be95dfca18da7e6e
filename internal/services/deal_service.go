package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/tradedesk/services/deals/internal/fault"
	"example.com/tradedesk/services/deals/internal/metrics"
	"example.com/tradedesk/services/deals/internal/models"
	"example.com/tradedesk/services/deals/internal/repositories"
	"example.com/tradedesk/services/deals/internal/tracing"
)

// DealStore is the deal persistence surface the service depends on
type DealStore interface {
	Create(ctx context.Context, deal *models.DealEvent) error
	GetForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.DealEvent, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.DealEvent, error)
	List(ctx context.Context, ownerID uuid.UUID, filters repositories.DealFilters) ([]models.DealEvent, error)
	UpdateVersioned(ctx context.Context, deal *models.DealEvent, expectedVersion int) error
	GetUnindexed(ctx context.Context, limit int) ([]models.DealEvent, error)
	MarkIndexed(ctx context.Context, id uuid.UUID) error
}

// ReferenceChecker resolves reference fields at write time
type ReferenceChecker interface {
	ProductExists(ctx context.Context, id uuid.UUID) (bool, error)
	UnitExists(ctx context.Context, code string) (bool, error)
	CurrencyExists(ctx context.Context, code string) (bool, error)
	CounterpartyExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// DealIndex is the search index surface. Indexing is best-effort; a failed
// index never fails the write that triggered it.
type DealIndex interface {
	IndexDeal(ctx context.Context, deal *models.DealEvent) error
	SearchDeals(ctx context.Context, ownerID uuid.UUID, query string, size int) ([]map[string]interface{}, error)
}

// DealService enforces the deal contract: field constraints, reference
// resolution, ownership isolation and optimistic concurrency.
type DealService struct {
	dealRepo DealStore
	refs     ReferenceChecker
	index    DealIndex
	metrics  *metrics.Metrics
	tracer   tracing.Tracer
}

// NewDealService creates a new deal service
func NewDealService(dealRepo DealStore, refs ReferenceChecker, index DealIndex, m *metrics.Metrics, tracer tracing.Tracer) *DealService {
	return &DealService{
		dealRepo: dealRepo,
		refs:     refs,
		index:    index,
		metrics:  m,
		tracer:   tracer,
	}
}

// DealCandidate is an incoming deal before validation and stamping
type DealCandidate struct {
	DealTimestamp  time.Time  `json:"deal_timestamp"`
	ProductID      uuid.UUID  `json:"product_id"`
	UnitCode       string     `json:"unit_code"`
	CurrencyCode   string     `json:"currency_code"`
	CounterpartyID *uuid.UUID `json:"counterparty_id"`
	Quantity       float64    `json:"quantity"`
	FixedPrice     *float64   `json:"fixed_price"`
	Direction      string     `json:"direction"`
	EffectiveDate  time.Time  `json:"effective_date"`
	DeliveryStart  time.Time  `json:"delivery_start"`
	DeliveryEnd    time.Time  `json:"delivery_end"`
	PriceType      string     `json:"price_type"`
	Notes          *string    `json:"notes"`
}

// DealPatch is a partial update. Nil fields are left unchanged; the Clear
// flags null out optional fields. Setting an immutable field is rejected.
type DealPatch struct {
	ID        *uuid.UUID `json:"id"`
	OwnerID   *uuid.UUID `json:"owner_id"`
	CreatedAt *time.Time `json:"created_at"`

	DealTimestamp     *time.Time `json:"deal_timestamp"`
	ProductID         *uuid.UUID `json:"product_id"`
	UnitCode          *string    `json:"unit_code"`
	CurrencyCode      *string    `json:"currency_code"`
	CounterpartyID    *uuid.UUID `json:"counterparty_id"`
	ClearCounterparty bool       `json:"clear_counterparty"`
	Quantity          *float64   `json:"quantity"`
	FixedPrice        *float64   `json:"fixed_price"`
	ClearFixedPrice   bool       `json:"clear_fixed_price"`
	Direction         *string    `json:"direction"`
	EffectiveDate     *time.Time `json:"effective_date"`
	DeliveryStart     *time.Time `json:"delivery_start"`
	DeliveryEnd       *time.Time `json:"delivery_end"`
	PriceType         *string    `json:"price_type"`
	Notes             *string    `json:"notes"`
	ClearNotes        bool       `json:"clear_notes"`
}

// CreateDeal validates a candidate, stamps ownership and timestamps, and
// persists it. A rejected candidate leaves no trace.
func (s *DealService) CreateDeal(ctx context.Context, principal models.Principal, candidate DealCandidate) (*models.DealEvent, error) {
	txn := s.tracer.StartTransaction("create-deal")
	defer s.tracer.EndTransaction(txn)

	now := time.Now().UTC()
	deal := &models.DealEvent{
		ID:             uuid.New(),
		CreatedAt:      now,
		UpdatedAt:      now,
		OwnerID:        principal.ID,
		Version:        1,
		DealTimestamp:  candidate.DealTimestamp,
		ProductID:      candidate.ProductID,
		UnitCode:       candidate.UnitCode,
		CurrencyCode:   candidate.CurrencyCode,
		CounterpartyID: candidate.CounterpartyID,
		Quantity:       candidate.Quantity,
		FixedPrice:     candidate.FixedPrice,
		Direction:      candidate.Direction,
		EffectiveDate:  candidate.EffectiveDate,
		DeliveryStart:  candidate.DeliveryStart,
		DeliveryEnd:    candidate.DeliveryEnd,
		PriceType:      candidate.PriceType,
		Notes:          candidate.Notes,
	}

	if err := validateDeal(deal); err != nil {
		s.metrics.IncrementCounter(metrics.DealsRejected)
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if err := s.checkReferences(ctx, deal); err != nil {
		s.metrics.IncrementCounter(metrics.DealsRejected)
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	span := s.tracer.StartSpan("persist-deal", txn)
	err := s.dealRepo.Create(ctx, deal)
	span.End()

	if err != nil {
		s.metrics.IncrementCounter(metrics.DealsRejected)
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.DealsCreated)

	log.Info().
		Str("deal_id", deal.ID.String()).
		Str("owner_id", deal.OwnerID.String()).
		Str("direction", deal.Direction).
		Float64("quantity", deal.Quantity).
		Msg("Deal created")

	s.indexDeal(ctx, deal)

	return deal, nil
}

// UpdateDeal re-validates the merged record under the create rules, guarded
// by a compare-and-swap on the record version. Only the owner may update;
// immutable fields are rejected, not ignored.
func (s *DealService) UpdateDeal(ctx context.Context, principal models.Principal, id uuid.UUID, patch DealPatch) (*models.DealEvent, error) {
	txn := s.tracer.StartTransaction("update-deal")
	defer s.tracer.EndTransaction(txn)

	if err := rejectImmutable(patch); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	current, err := s.dealRepo.GetByID(ctx, id)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if current.OwnerID != principal.ID {
		err := fault.Authorization("principal does not own deal %s", id)
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	merged := *current
	applyPatch(&merged, patch)
	merged.UpdatedAt = time.Now().UTC()
	merged.IsIndexed = false

	if err := validateDeal(&merged); err != nil {
		s.metrics.IncrementCounter(metrics.DealsRejected)
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if err := s.checkReferences(ctx, &merged); err != nil {
		s.metrics.IncrementCounter(metrics.DealsRejected)
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	span := s.tracer.StartSpan("persist-deal-update", txn)
	err = s.dealRepo.UpdateVersioned(ctx, &merged, current.Version)
	span.End()

	if err != nil {
		if fault.IsKind(err, fault.KindConflict) {
			s.metrics.IncrementCounter(metrics.UpdateConflicts)
		}
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.DealsUpdated)

	log.Info().
		Str("deal_id", merged.ID.String()).
		Int("version", merged.Version).
		Msg("Deal updated")

	s.indexDeal(ctx, &merged)

	return &merged, nil
}

// GetDeal returns a deal owned by the principal. A foreign-owned deal looks
// exactly like a missing one.
func (s *DealService) GetDeal(ctx context.Context, principal models.Principal, id uuid.UUID) (*models.DealEvent, error) {
	return s.dealRepo.GetForOwner(ctx, id, principal.ID)
}

// ListDeals returns the principal's deals matching filters
func (s *DealService) ListDeals(ctx context.Context, principal models.Principal, filters repositories.DealFilters) ([]models.DealEvent, error) {
	return s.dealRepo.List(ctx, principal.ID, filters)
}

// SearchDeals runs a full-text query over the principal's deals
func (s *DealService) SearchDeals(ctx context.Context, principal models.Principal, query string, size int) ([]map[string]interface{}, error) {
	if s.index == nil {
		return nil, errors.New("search index is not available")
	}
	return s.index.SearchDeals(ctx, principal.ID, query, size)
}

// ReconcileIndex pushes deals the immediate indexing path missed into the
// search index. Runs periodically from the worker as a fallback.
func (s *DealService) ReconcileIndex(ctx context.Context) error {
	if s.index == nil {
		return nil
	}

	deals, err := s.dealRepo.GetUnindexed(ctx, 100)
	if err != nil {
		return errors.Wrap(err, "failed to get unindexed deals")
	}

	if len(deals) == 0 {
		return nil
	}

	log.Info().Msgf("Found %d unindexed deals for reconciliation", len(deals))

	for i := range deals {
		s.indexDeal(ctx, &deals[i])
	}

	return nil
}

// dealMessage is the envelope of a queued deal submission. The sender side
// of the scaffold authenticates the submitter and stamps the principal.
type dealMessage struct {
	PrincipalID uuid.UUID       `json:"principal_id"`
	Candidate   json.RawMessage `json:"candidate"`
}

// ProcessDealMessage handles one queued deal submission through the same
// validated create path the API uses.
func (s *DealService) ProcessDealMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var envelope dealMessage
	if err := json.Unmarshal(message.Body, &envelope); err != nil {
		return fault.Validation("body", "malformed deal message: %v", err)
	}
	if envelope.PrincipalID == uuid.Nil {
		return fault.Validation("principal_id", "missing principal")
	}

	var candidate DealCandidate
	if err := json.Unmarshal(envelope.Candidate, &candidate); err != nil {
		return fault.Validation("candidate", "malformed deal candidate: %v", err)
	}

	deal, err := s.CreateDeal(ctx, models.Principal{ID: envelope.PrincipalID}, candidate)
	if err != nil {
		return err
	}

	log.Info().
		Str("deal_id", deal.ID.String()).
		Str("message_id", message.MessageID).
		Msg("Queued deal recorded")

	return nil
}

// indexDeal pushes a deal to the search index, best-effort. Failures are
// logged and left for ReconcileIndex.
func (s *DealService) indexDeal(ctx context.Context, deal *models.DealEvent) {
	if s.index == nil {
		return
	}

	if err := s.index.IndexDeal(ctx, deal); err != nil {
		s.metrics.IncrementCounter(metrics.IndexFailures)
		log.Warn().
			Err(err).
			Str("deal_id", deal.ID.String()).
			Msg("Failed to index deal, reconciliation will retry")
		return
	}

	if err := s.dealRepo.MarkIndexed(ctx, deal.ID); err != nil {
		log.Warn().Err(err).Str("deal_id", deal.ID.String()).Msg("Failed to mark deal as indexed")
		return
	}

	deal.IsIndexed = true
}

// validateDeal checks the field constraints every create and update must
// satisfy.
func validateDeal(deal *models.DealEvent) error {
	if deal.Quantity == 0 {
		return fault.Validation("quantity", "must be non-zero")
	}
	if deal.FixedPrice != nil && *deal.FixedPrice < 0 {
		return fault.Validation("fixed_price", "must not be negative, got %v", *deal.FixedPrice)
	}
	if deal.Direction != models.DirectionBuy && deal.Direction != models.DirectionSell {
		return fault.Validation("direction", "must be %q or %q", models.DirectionBuy, models.DirectionSell)
	}
	if deal.PriceType != models.PriceTypeFixed && deal.PriceType != models.PriceTypeFloating {
		return fault.Validation("price_type", "must be %q or %q", models.PriceTypeFixed, models.PriceTypeFloating)
	}
	if deal.DeliveryEnd.Before(deal.DeliveryStart) {
		return fault.Validation("delivery_start", "delivery_start must not be after delivery_end")
	}
	return nil
}

// checkReferences resolves every reference field against its table. These
// are the friendly pre-checks; the database FK constraints remain the
// authoritative guard against races.
func (s *DealService) checkReferences(ctx context.Context, deal *models.DealEvent) error {
	ok, err := s.refs.ProductExists(ctx, deal.ProductID)
	if err != nil {
		return errors.Wrap(err, "failed to resolve product reference")
	}
	if !ok {
		return fault.ReferenceNotFound("product_id", "product %s does not exist", deal.ProductID)
	}

	ok, err = s.refs.UnitExists(ctx, deal.UnitCode)
	if err != nil {
		return errors.Wrap(err, "failed to resolve unit reference")
	}
	if !ok {
		return fault.ReferenceNotFound("unit_code", "unit %s does not exist", deal.UnitCode)
	}

	ok, err = s.refs.CurrencyExists(ctx, deal.CurrencyCode)
	if err != nil {
		return errors.Wrap(err, "failed to resolve currency reference")
	}
	if !ok {
		return fault.ReferenceNotFound("currency_code", "currency %s does not exist", deal.CurrencyCode)
	}

	if deal.CounterpartyID != nil {
		ok, err = s.refs.CounterpartyExists(ctx, *deal.CounterpartyID)
		if err != nil {
			return errors.Wrap(err, "failed to resolve counterparty reference")
		}
		if !ok {
			return fault.ReferenceNotFound("counterparty_id", "counterparty %s does not exist", *deal.CounterpartyID)
		}
	}

	return nil
}

// rejectImmutable fails a patch that tries to set an immutable field
func rejectImmutable(patch DealPatch) error {
	switch {
	case patch.ID != nil:
		return fault.Validation("id", "field is immutable")
	case patch.OwnerID != nil:
		return fault.Validation("owner_id", "field is immutable")
	case patch.CreatedAt != nil:
		return fault.Validation("created_at", "field is immutable")
	}
	return nil
}

// applyPatch merges a patch into a deal copy
func applyPatch(deal *models.DealEvent, patch DealPatch) {
	if patch.DealTimestamp != nil {
		deal.DealTimestamp = *patch.DealTimestamp
	}
	if patch.ProductID != nil {
		deal.ProductID = *patch.ProductID
	}
	if patch.UnitCode != nil {
		deal.UnitCode = *patch.UnitCode
	}
	if patch.CurrencyCode != nil {
		deal.CurrencyCode = *patch.CurrencyCode
	}
	if patch.ClearCounterparty {
		deal.CounterpartyID = nil
	} else if patch.CounterpartyID != nil {
		deal.CounterpartyID = patch.CounterpartyID
	}
	if patch.Quantity != nil {
		deal.Quantity = *patch.Quantity
	}
	if patch.ClearFixedPrice {
		deal.FixedPrice = nil
	} else if patch.FixedPrice != nil {
		deal.FixedPrice = patch.FixedPrice
	}
	if patch.Direction != nil {
		deal.Direction = *patch.Direction
	}
	if patch.EffectiveDate != nil {
		deal.EffectiveDate = *patch.EffectiveDate
	}
	if patch.DeliveryStart != nil {
		deal.DeliveryStart = *patch.DeliveryStart
	}
	if patch.DeliveryEnd != nil {
		deal.DeliveryEnd = *patch.DeliveryEnd
	}
	if patch.PriceType != nil {
		deal.PriceType = *patch.PriceType
	}
	if patch.ClearNotes {
		deal.Notes = nil
	} else if patch.Notes != nil {
		deal.Notes = patch.Notes
	}
}
