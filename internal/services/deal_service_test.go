package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/tradedesk/services/deals/internal/fault"
	"example.com/tradedesk/services/deals/internal/metrics"
	"example.com/tradedesk/services/deals/internal/models"
	"example.com/tradedesk/services/deals/internal/repositories"
	"example.com/tradedesk/services/deals/internal/tracing"
)

// Mock deal store for testing
type MockDealStore struct {
	mock.Mock
}

func (m *MockDealStore) Create(ctx context.Context, deal *models.DealEvent) error {
	args := m.Called(ctx, deal)
	return args.Error(0)
}

func (m *MockDealStore) GetForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.DealEvent, error) {
	args := m.Called(ctx, id, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DealEvent), args.Error(1)
}

func (m *MockDealStore) GetByID(ctx context.Context, id uuid.UUID) (*models.DealEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DealEvent), args.Error(1)
}

func (m *MockDealStore) List(ctx context.Context, ownerID uuid.UUID, filters repositories.DealFilters) ([]models.DealEvent, error) {
	args := m.Called(ctx, ownerID, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DealEvent), args.Error(1)
}

func (m *MockDealStore) UpdateVersioned(ctx context.Context, deal *models.DealEvent, expectedVersion int) error {
	args := m.Called(ctx, deal, expectedVersion)
	return args.Error(0)
}

func (m *MockDealStore) GetUnindexed(ctx context.Context, limit int) ([]models.DealEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DealEvent), args.Error(1)
}

func (m *MockDealStore) MarkIndexed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// Mock reference checker for testing
type MockReferenceChecker struct {
	mock.Mock
}

func (m *MockReferenceChecker) ProductExists(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockReferenceChecker) UnitExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *MockReferenceChecker) CurrencyExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *MockReferenceChecker) CounterpartyExists(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// Mock search index for testing
type MockDealIndex struct {
	mock.Mock
}

func (m *MockDealIndex) IndexDeal(ctx context.Context, deal *models.DealEvent) error {
	args := m.Called(ctx, deal)
	return args.Error(0)
}

func (m *MockDealIndex) SearchDeals(ctx context.Context, ownerID uuid.UUID, query string, size int) ([]map[string]interface{}, error) {
	args := m.Called(ctx, ownerID, query, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]map[string]interface{}), args.Error(1)
}

func newTestDealService(store DealStore, refs ReferenceChecker, index DealIndex) *DealService {
	return &DealService{
		dealRepo: store,
		refs:     refs,
		index:    index,
		metrics:  metrics.NewMetrics(),
		tracer:   &tracing.NewRelicTracer{},
	}
}

func allRefsExist(refs *MockReferenceChecker) {
	refs.On("ProductExists", mock.Anything, mock.Anything).Return(true, nil)
	refs.On("UnitExists", mock.Anything, mock.Anything).Return(true, nil)
	refs.On("CurrencyExists", mock.Anything, mock.Anything).Return(true, nil)
	refs.On("CounterpartyExists", mock.Anything, mock.Anything).Return(true, nil)
}

func validCandidate() DealCandidate {
	now := time.Now().UTC()
	return DealCandidate{
		DealTimestamp: now,
		ProductID:     uuid.New(),
		UnitCode:      "MWh",
		CurrencyCode:  "EUR",
		Quantity:      25.5,
		Direction:     models.DirectionBuy,
		EffectiveDate: now,
		DeliveryStart: now.Add(24 * time.Hour),
		DeliveryEnd:   now.Add(48 * time.Hour),
		PriceType:     models.PriceTypeFloating,
	}
}

func TestCreateDeal(t *testing.T) {
	mockStore := new(MockDealStore)
	mockRefs := new(MockReferenceChecker)
	mockIndex := new(MockDealIndex)

	allRefsExist(mockRefs)
	mockStore.On("Create", mock.Anything, mock.AnythingOfType("*models.DealEvent")).Return(nil)
	mockIndex.On("IndexDeal", mock.Anything, mock.AnythingOfType("*models.DealEvent")).Return(nil)
	mockStore.On("MarkIndexed", mock.Anything, mock.AnythingOfType("uuid.UUID")).Return(nil)

	service := newTestDealService(mockStore, mockRefs, mockIndex)
	principal := models.Principal{ID: uuid.New()}

	deal, err := service.CreateDeal(context.Background(), principal, validCandidate())

	require.NoError(t, err)
	require.NotNil(t, deal)
	require.NotEqual(t, uuid.Nil, deal.ID)
	require.Equal(t, principal.ID, deal.OwnerID)
	require.Equal(t, 1, deal.Version)
	require.False(t, deal.CreatedAt.IsZero())
	require.True(t, deal.IsIndexed)

	mockStore.AssertExpectations(t)
	mockIndex.AssertExpectations(t)
}

func TestCreateDealRejectsZeroQuantity(t *testing.T) {
	mockStore := new(MockDealStore)
	service := newTestDealService(mockStore, new(MockReferenceChecker), nil)

	candidate := validCandidate()
	candidate.Quantity = 0

	_, err := service.CreateDeal(context.Background(), models.Principal{ID: uuid.New()}, candidate)

	require.Error(t, err)
	require.True(t, fault.IsKind(err, fault.KindValidation))
	mockStore.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateDealRejectsNegativeFixedPrice(t *testing.T) {
	service := newTestDealService(new(MockDealStore), new(MockReferenceChecker), nil)

	price := -10.0
	candidate := validCandidate()
	candidate.FixedPrice = &price
	candidate.PriceType = models.PriceTypeFixed

	_, err := service.CreateDeal(context.Background(), models.Principal{ID: uuid.New()}, candidate)

	require.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestCreateDealRejectsUnknownDirection(t *testing.T) {
	service := newTestDealService(new(MockDealStore), new(MockReferenceChecker), nil)

	candidate := validCandidate()
	candidate.Direction = "hold"

	_, err := service.CreateDeal(context.Background(), models.Principal{ID: uuid.New()}, candidate)

	require.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestCreateDealRejectsInvertedDeliveryWindow(t *testing.T) {
	service := newTestDealService(new(MockDealStore), new(MockReferenceChecker), nil)

	candidate := validCandidate()
	candidate.DeliveryStart = candidate.DeliveryEnd.Add(time.Hour)

	_, err := service.CreateDeal(context.Background(), models.Principal{ID: uuid.New()}, candidate)

	require.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestCreateDealAllowsNegativeQuantity(t *testing.T) {
	mockStore := new(MockDealStore)
	mockRefs := new(MockReferenceChecker)

	allRefsExist(mockRefs)
	mockStore.On("Create", mock.Anything, mock.AnythingOfType("*models.DealEvent")).Return(nil)

	service := newTestDealService(mockStore, mockRefs, nil)

	candidate := validCandidate()
	candidate.Quantity = -12.5

	deal, err := service.CreateDeal(context.Background(), models.Principal{ID: uuid.New()}, candidate)

	require.NoError(t, err)
	require.Equal(t, -12.5, deal.Quantity)
}

func TestCreateDealRejectsUnknownProduct(t *testing.T) {
	mockStore := new(MockDealStore)
	mockRefs := new(MockReferenceChecker)
	mockRefs.On("ProductExists", mock.Anything, mock.Anything).Return(false, nil)

	service := newTestDealService(mockStore, mockRefs, nil)

	_, err := service.CreateDeal(context.Background(), models.Principal{ID: uuid.New()}, validCandidate())

	require.True(t, fault.IsKind(err, fault.KindReferenceNotFound))
	mockStore.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateDealRejectsUnknownCounterparty(t *testing.T) {
	mockRefs := new(MockReferenceChecker)
	mockRefs.On("ProductExists", mock.Anything, mock.Anything).Return(true, nil)
	mockRefs.On("UnitExists", mock.Anything, mock.Anything).Return(true, nil)
	mockRefs.On("CurrencyExists", mock.Anything, mock.Anything).Return(true, nil)
	mockRefs.On("CounterpartyExists", mock.Anything, mock.Anything).Return(false, nil)

	service := newTestDealService(new(MockDealStore), mockRefs, nil)

	cpID := uuid.New()
	candidate := validCandidate()
	candidate.CounterpartyID = &cpID

	_, err := service.CreateDeal(context.Background(), models.Principal{ID: uuid.New()}, candidate)

	require.True(t, fault.IsKind(err, fault.KindReferenceNotFound))
}

func TestCreateDealSurvivesIndexFailure(t *testing.T) {
	mockStore := new(MockDealStore)
	mockRefs := new(MockReferenceChecker)
	mockIndex := new(MockDealIndex)

	allRefsExist(mockRefs)
	mockStore.On("Create", mock.Anything, mock.AnythingOfType("*models.DealEvent")).Return(nil)
	mockIndex.On("IndexDeal", mock.Anything, mock.AnythingOfType("*models.DealEvent")).Return(errors.New("es unavailable"))

	service := newTestDealService(mockStore, mockRefs, mockIndex)

	deal, err := service.CreateDeal(context.Background(), models.Principal{ID: uuid.New()}, validCandidate())

	require.NoError(t, err)
	require.False(t, deal.IsIndexed)
	mockStore.AssertNotCalled(t, "MarkIndexed", mock.Anything, mock.Anything)
}

func storedDeal(owner uuid.UUID) *models.DealEvent {
	now := time.Now().UTC().Add(-time.Hour)
	return &models.DealEvent{
		ID:            uuid.New(),
		CreatedAt:     now,
		UpdatedAt:     now,
		OwnerID:       owner,
		Version:       3,
		DealTimestamp: now,
		ProductID:     uuid.New(),
		UnitCode:      "MWh",
		CurrencyCode:  "EUR",
		Quantity:      100,
		Direction:     models.DirectionSell,
		EffectiveDate: now,
		DeliveryStart: now,
		DeliveryEnd:   now.Add(24 * time.Hour),
		PriceType:     models.PriceTypeFloating,
	}
}

func TestUpdateDealRejectsImmutableFields(t *testing.T) {
	mockStore := new(MockDealStore)
	service := newTestDealService(mockStore, new(MockReferenceChecker), nil)

	otherOwner := uuid.New()
	_, err := service.UpdateDeal(context.Background(), models.Principal{ID: uuid.New()}, uuid.New(), DealPatch{OwnerID: &otherOwner})

	require.True(t, fault.IsKind(err, fault.KindValidation))
	mockStore.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestUpdateDealForeignOwner(t *testing.T) {
	owner := uuid.New()
	current := storedDeal(owner)

	mockStore := new(MockDealStore)
	mockStore.On("GetByID", mock.Anything, current.ID).Return(current, nil)

	service := newTestDealService(mockStore, new(MockReferenceChecker), nil)

	quantity := 50.0
	_, err := service.UpdateDeal(context.Background(), models.Principal{ID: uuid.New()}, current.ID, DealPatch{Quantity: &quantity})

	require.True(t, fault.IsKind(err, fault.KindAuthorization))
	mockStore.AssertNotCalled(t, "UpdateVersioned", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateDealConflict(t *testing.T) {
	owner := uuid.New()
	current := storedDeal(owner)

	mockStore := new(MockDealStore)
	mockRefs := new(MockReferenceChecker)
	allRefsExist(mockRefs)
	mockStore.On("GetByID", mock.Anything, current.ID).Return(current, nil)
	mockStore.On("UpdateVersioned", mock.Anything, mock.AnythingOfType("*models.DealEvent"), current.Version).
		Return(fault.Conflict("deal %s was modified concurrently", current.ID))

	service := newTestDealService(mockStore, mockRefs, nil)

	quantity := 50.0
	_, err := service.UpdateDeal(context.Background(), models.Principal{ID: owner}, current.ID, DealPatch{Quantity: &quantity})

	require.True(t, fault.IsKind(err, fault.KindConflict))
}

func TestUpdateDealMergesPatch(t *testing.T) {
	owner := uuid.New()
	cpID := uuid.New()
	current := storedDeal(owner)
	current.CounterpartyID = &cpID

	var persisted *models.DealEvent
	mockStore := new(MockDealStore)
	mockRefs := new(MockReferenceChecker)
	allRefsExist(mockRefs)
	mockStore.On("GetByID", mock.Anything, current.ID).Return(current, nil)
	mockStore.On("UpdateVersioned", mock.Anything, mock.AnythingOfType("*models.DealEvent"), current.Version).
		Run(func(args mock.Arguments) {
			persisted = args.Get(1).(*models.DealEvent)
			persisted.Version = current.Version + 1
		}).
		Return(nil)

	service := newTestDealService(mockStore, mockRefs, nil)

	quantity := 75.0
	direction := models.DirectionBuy
	updated, err := service.UpdateDeal(context.Background(), models.Principal{ID: owner}, current.ID, DealPatch{
		Quantity:          &quantity,
		Direction:         &direction,
		ClearCounterparty: true,
	})

	require.NoError(t, err)
	require.Equal(t, 75.0, updated.Quantity)
	require.Equal(t, models.DirectionBuy, updated.Direction)
	require.Nil(t, updated.CounterpartyID)
	require.Equal(t, current.Version+1, updated.Version)

	// Untouched fields survive the merge
	require.Equal(t, current.CurrencyCode, persisted.CurrencyCode)
	require.Equal(t, current.CreatedAt, persisted.CreatedAt)
	require.Equal(t, owner, persisted.OwnerID)
}

func TestUpdateDealRevalidatesMergedRecord(t *testing.T) {
	owner := uuid.New()
	current := storedDeal(owner)

	mockStore := new(MockDealStore)
	mockStore.On("GetByID", mock.Anything, current.ID).Return(current, nil)

	service := newTestDealService(mockStore, new(MockReferenceChecker), nil)

	quantity := 0.0
	_, err := service.UpdateDeal(context.Background(), models.Principal{ID: owner}, current.ID, DealPatch{Quantity: &quantity})

	require.True(t, fault.IsKind(err, fault.KindValidation))
	mockStore.AssertNotCalled(t, "UpdateVersioned", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetDealOwnerScoped(t *testing.T) {
	owner := uuid.New()
	deal := storedDeal(owner)

	mockStore := new(MockDealStore)
	mockStore.On("GetForOwner", mock.Anything, deal.ID, owner).Return(deal, nil)
	mockStore.On("GetForOwner", mock.Anything, deal.ID, mock.Anything).Return(nil, fault.NotFound("deal"))

	service := newTestDealService(mockStore, new(MockReferenceChecker), nil)

	got, err := service.GetDeal(context.Background(), models.Principal{ID: owner}, deal.ID)
	require.NoError(t, err)
	require.Equal(t, deal.ID, got.ID)

	// A foreign principal sees the same error as a missing record
	_, err = service.GetDeal(context.Background(), models.Principal{ID: uuid.New()}, deal.ID)
	require.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestReconcileIndex(t *testing.T) {
	owner := uuid.New()
	deals := []models.DealEvent{*storedDeal(owner), *storedDeal(owner)}

	mockStore := new(MockDealStore)
	mockIndex := new(MockDealIndex)
	mockStore.On("GetUnindexed", mock.Anything, 100).Return(deals, nil)
	mockIndex.On("IndexDeal", mock.Anything, mock.AnythingOfType("*models.DealEvent")).Return(nil).Times(2)
	mockStore.On("MarkIndexed", mock.Anything, mock.AnythingOfType("uuid.UUID")).Return(nil).Times(2)

	service := newTestDealService(mockStore, new(MockReferenceChecker), mockIndex)

	require.NoError(t, service.ReconcileIndex(context.Background()))
	mockStore.AssertExpectations(t)
	mockIndex.AssertExpectations(t)
}

func TestProcessDealMessage(t *testing.T) {
	mockStore := new(MockDealStore)
	mockRefs := new(MockReferenceChecker)
	allRefsExist(mockRefs)
	mockStore.On("Create", mock.Anything, mock.AnythingOfType("*models.DealEvent")).Return(nil)

	service := newTestDealService(mockStore, mockRefs, nil)

	candidate, err := json.Marshal(validCandidate())
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"principal_id": uuid.New().String(),
		"candidate":    json.RawMessage(candidate),
	})
	require.NoError(t, err)

	err = service.ProcessDealMessage(context.Background(), &azservicebus.ReceivedMessage{Body: body})
	require.NoError(t, err)
	mockStore.AssertExpectations(t)
}

func TestProcessDealMessageMalformed(t *testing.T) {
	service := newTestDealService(new(MockDealStore), new(MockReferenceChecker), nil)

	err := service.ProcessDealMessage(context.Background(), &azservicebus.ReceivedMessage{Body: []byte("not json")})
	require.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestProcessDealMessageMissingPrincipal(t *testing.T) {
	service := newTestDealService(new(MockDealStore), new(MockReferenceChecker), nil)

	body, err := json.Marshal(map[string]interface{}{"candidate": map[string]interface{}{}})
	require.NoError(t, err)

	err = service.ProcessDealMessage(context.Background(), &azservicebus.ReceivedMessage{Body: body})
	require.True(t, fault.IsKind(err, fault.KindValidation))
}
