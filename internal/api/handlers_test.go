package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/tradedesk/services/deals/config"
	"example.com/tradedesk/services/deals/internal/fault"
	"example.com/tradedesk/services/deals/internal/metrics"
	"example.com/tradedesk/services/deals/internal/models"
	"example.com/tradedesk/services/deals/internal/repositories"
	"example.com/tradedesk/services/deals/internal/services"
	"example.com/tradedesk/services/deals/internal/tracing"
)

// Mock deal store for handler tests
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

// Mock reference checker for handler tests
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

// Mock schema version store for handler tests
type MockSchemaVersionStore struct {
	mock.Mock
}

func (m *MockSchemaVersionStore) Latest(ctx context.Context) (*models.SchemaVersion, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SchemaVersion), args.Error(1)
}

func (m *MockSchemaVersionStore) List(ctx context.Context) ([]models.SchemaVersion, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.SchemaVersion), args.Error(1)
}

func (m *MockSchemaVersionStore) Append(ctx context.Context, version *models.SchemaVersion) error {
	args := m.Called(ctx, version)
	return args.Error(0)
}

func newTestServer(store services.DealStore, refs services.ReferenceChecker, svStore services.SchemaVersionStore) *Server {
	gin.SetMode(gin.TestMode)

	m := metrics.NewMetrics()
	tracer := &tracing.NewRelicTracer{}

	server := &Server{
		config:  config.Config{Environment: "test"},
		deals:   services.NewDealService(store, refs, nil, m, tracer),
		refs:    services.NewReferenceService(nil, svStore, nil, m),
		metrics: m,
		tracer:  tracer,
	}
	server.router = server.setupRouter()
	return server
}

func doRequest(t *testing.T, server *Server, method, path string, principal *models.Principal, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if principal != nil {
		req.Header.Set(principalIDHeader, principal.ID.String())
		if principal.Admin {
			req.Header.Set(principalAdminHeader, "true")
		}
	}

	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, req)
	return rec
}

func dealRequestBody() map[string]interface{} {
	now := time.Now().UTC()
	return map[string]interface{}{
		"deal_timestamp": now,
		"product_id":     uuid.New(),
		"unit_code":      "MWh",
		"currency_code":  "EUR",
		"quantity":       25.5,
		"direction":      "buy",
		"effective_date": now,
		"delivery_start": now.Add(24 * time.Hour),
		"delivery_end":   now.Add(48 * time.Hour),
		"price_type":     "floating",
	}
}

func TestRequestsWithoutPrincipalAreRejected(t *testing.T) {
	server := newTestServer(new(MockDealStore), new(MockReferenceChecker), nil)

	rec := doRequest(t, server, http.MethodGet, "/deals", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMalformedPrincipalHeaderIsRejected(t *testing.T) {
	server := newTestServer(new(MockDealStore), new(MockReferenceChecker), nil)

	req := httptest.NewRequest(http.MethodGet, "/deals", nil)
	req.Header.Set(principalIDHeader, "not-a-uuid")
	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthEndpointIsPublic(t *testing.T) {
	server := newTestServer(new(MockDealStore), new(MockReferenceChecker), nil)

	rec := doRequest(t, server, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateDealEndpoint(t *testing.T) {
	mockStore := new(MockDealStore)
	mockRefs := new(MockReferenceChecker)
	mockRefs.On("ProductExists", mock.Anything, mock.Anything).Return(true, nil)
	mockRefs.On("UnitExists", mock.Anything, "MWh").Return(true, nil)
	mockRefs.On("CurrencyExists", mock.Anything, "EUR").Return(true, nil)
	mockStore.On("Create", mock.Anything, mock.AnythingOfType("*models.DealEvent")).Return(nil)

	server := newTestServer(mockStore, mockRefs, nil)
	principal := models.Principal{ID: uuid.New()}

	rec := doRequest(t, server, http.MethodPost, "/deals", &principal, dealRequestBody())

	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.DealEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, principal.ID, created.OwnerID)
	require.Equal(t, 1, created.Version)
	mockStore.AssertExpectations(t)
}

func TestCreateDealValidationStatus(t *testing.T) {
	server := newTestServer(new(MockDealStore), new(MockReferenceChecker), nil)
	principal := models.Principal{ID: uuid.New()}

	body := dealRequestBody()
	body["quantity"] = 0

	rec := doRequest(t, server, http.MethodPost, "/deals", &principal, body)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, string(fault.KindValidation), resp["kind"])
	require.Equal(t, "quantity", resp["field"])
}

func TestCreateDealUnknownReferenceStatus(t *testing.T) {
	mockRefs := new(MockReferenceChecker)
	mockRefs.On("ProductExists", mock.Anything, mock.Anything).Return(false, nil)

	server := newTestServer(new(MockDealStore), mockRefs, nil)
	principal := models.Principal{ID: uuid.New()}

	rec := doRequest(t, server, http.MethodPost, "/deals", &principal, dealRequestBody())

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, string(fault.KindReferenceNotFound), resp["kind"])
}

func TestGetDealNotFoundStatus(t *testing.T) {
	mockStore := new(MockDealStore)
	mockStore.On("GetForOwner", mock.Anything, mock.Anything, mock.Anything).Return(nil, fault.NotFound("deal"))

	server := newTestServer(mockStore, new(MockReferenceChecker), nil)
	principal := models.Principal{ID: uuid.New()}

	rec := doRequest(t, server, http.MethodGet, fmt.Sprintf("/deals/%s", uuid.New()), &principal, nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateDealConflictStatus(t *testing.T) {
	owner := uuid.New()
	now := time.Now().UTC()
	current := &models.DealEvent{
		ID:            uuid.New(),
		CreatedAt:     now,
		OwnerID:       owner,
		Version:       2,
		DealTimestamp: now,
		ProductID:     uuid.New(),
		UnitCode:      "MWh",
		CurrencyCode:  "EUR",
		Quantity:      10,
		Direction:     models.DirectionBuy,
		EffectiveDate: now,
		DeliveryStart: now,
		DeliveryEnd:   now.Add(time.Hour),
		PriceType:     models.PriceTypeFloating,
	}

	mockStore := new(MockDealStore)
	mockRefs := new(MockReferenceChecker)
	mockRefs.On("ProductExists", mock.Anything, mock.Anything).Return(true, nil)
	mockRefs.On("UnitExists", mock.Anything, mock.Anything).Return(true, nil)
	mockRefs.On("CurrencyExists", mock.Anything, mock.Anything).Return(true, nil)
	mockStore.On("GetByID", mock.Anything, current.ID).Return(current, nil)
	mockStore.On("UpdateVersioned", mock.Anything, mock.Anything, current.Version).
		Return(fault.Conflict("deal %s was modified concurrently", current.ID))

	server := newTestServer(mockStore, mockRefs, nil)
	principal := models.Principal{ID: owner}

	rec := doRequest(t, server, http.MethodPatch, fmt.Sprintf("/deals/%s", current.ID), &principal,
		map[string]interface{}{"quantity": 42.0})

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateDealForeignOwnerStatus(t *testing.T) {
	now := time.Now().UTC()
	current := &models.DealEvent{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		Version:       1,
		DealTimestamp: now,
		Quantity:      10,
		Direction:     models.DirectionBuy,
		PriceType:     models.PriceTypeFloating,
		DeliveryStart: now,
		DeliveryEnd:   now.Add(time.Hour),
	}

	mockStore := new(MockDealStore)
	mockStore.On("GetByID", mock.Anything, current.ID).Return(current, nil)

	server := newTestServer(mockStore, new(MockReferenceChecker), nil)
	principal := models.Principal{ID: uuid.New()}

	rec := doRequest(t, server, http.MethodPatch, fmt.Sprintf("/deals/%s", current.ID), &principal,
		map[string]interface{}{"quantity": 42.0})

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteReferenceRequiresAdminStatus(t *testing.T) {
	server := newTestServer(new(MockDealStore), new(MockReferenceChecker), nil)
	principal := models.Principal{ID: uuid.New()}

	rec := doRequest(t, server, http.MethodDelete, "/references/unit/MWh", &principal, nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetSchemaVersionEndpoint(t *testing.T) {
	mockSV := new(MockSchemaVersionStore)
	mockSV.On("Latest", mock.Anything).Return(&models.SchemaVersion{ID: 1, Version: "1.0.0"}, nil)

	server := newTestServer(new(MockDealStore), new(MockReferenceChecker), mockSV)
	principal := models.Principal{ID: uuid.New()}

	rec := doRequest(t, server, http.MethodGet, "/schema/version", &principal, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var version models.SchemaVersion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))
	require.Equal(t, "1.0.0", version.Version)
}

func TestAppendSchemaVersionRequiresAdminStatus(t *testing.T) {
	server := newTestServer(new(MockDealStore), new(MockReferenceChecker), new(MockSchemaVersionStore))
	principal := models.Principal{ID: uuid.New()}

	rec := doRequest(t, server, http.MethodPost, "/schema/version", &principal,
		map[string]interface{}{"version": "2.0.0"})

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSearchRequiresQuery(t *testing.T) {
	server := newTestServer(new(MockDealStore), new(MockReferenceChecker), nil)
	principal := models.Principal{ID: uuid.New()}

	rec := doRequest(t, server, http.MethodGet, "/deals/search", &principal, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
