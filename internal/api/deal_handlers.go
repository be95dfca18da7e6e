package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/tradedesk/services/deals/internal/fault"
	"example.com/tradedesk/services/deals/internal/repositories"
	"example.com/tradedesk/services/deals/internal/services"
)

// CreateDealRequest is an incoming deal submission
type CreateDealRequest struct {
	DealTimestamp  time.Time  `json:"deal_timestamp" validate:"required"`
	ProductID      uuid.UUID  `json:"product_id" validate:"required"`
	UnitCode       string     `json:"unit_code" validate:"required"`
	CurrencyCode   string     `json:"currency_code" validate:"required"`
	CounterpartyID *uuid.UUID `json:"counterparty_id"`
	Quantity       float64    `json:"quantity"`
	FixedPrice     *float64   `json:"fixed_price"`
	Direction      string     `json:"direction" validate:"required,oneof=buy sell"`
	EffectiveDate  time.Time  `json:"effective_date" validate:"required"`
	DeliveryStart  time.Time  `json:"delivery_start" validate:"required"`
	DeliveryEnd    time.Time  `json:"delivery_end" validate:"required"`
	PriceType      string     `json:"price_type" validate:"required,oneof=fixed floating"`
	Notes          *string    `json:"notes"`
}

// createDeal handles POST /deals
func (s *Server) createDeal(c *gin.Context) {
	var req CreateDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fault.Validation("body", "malformed request: %v", err))
		return
	}
	if err := validateRequest(&req); err != nil {
		respondError(c, err)
		return
	}

	candidate := services.DealCandidate{
		DealTimestamp:  req.DealTimestamp,
		ProductID:      req.ProductID,
		UnitCode:       req.UnitCode,
		CurrencyCode:   req.CurrencyCode,
		CounterpartyID: req.CounterpartyID,
		Quantity:       req.Quantity,
		FixedPrice:     req.FixedPrice,
		Direction:      req.Direction,
		EffectiveDate:  req.EffectiveDate,
		DeliveryStart:  req.DeliveryStart,
		DeliveryEnd:    req.DeliveryEnd,
		PriceType:      req.PriceType,
		Notes:          req.Notes,
	}

	deal, err := s.deals.CreateDeal(c.Request.Context(), CurrentPrincipal(c), candidate)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, deal)
}

// getDeal handles GET /deals/:id
func (s *Server) getDeal(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, fault.NotFound("deal"))
		return
	}

	deal, err := s.deals.GetDeal(c.Request.Context(), CurrentPrincipal(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, deal)
}

// listDeals handles GET /deals
func (s *Server) listDeals(c *gin.Context) {
	filters, err := parseDealFilters(c)
	if err != nil {
		respondError(c, err)
		return
	}

	deals, err := s.deals.ListDeals(c.Request.Context(), CurrentPrincipal(c), filters)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deals": deals, "count": len(deals)})
}

// updateDeal handles PATCH /deals/:id
func (s *Server) updateDeal(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, fault.NotFound("deal"))
		return
	}

	var patch services.DealPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, fault.Validation("body", "malformed request: %v", err))
		return
	}

	deal, err := s.deals.UpdateDeal(c.Request.Context(), CurrentPrincipal(c), id, patch)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, deal)
}

// searchDeals handles GET /deals/search
func (s *Server) searchDeals(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		respondError(c, fault.Validation("q", "must not be empty"))
		return
	}

	size := 50
	if raw := c.Query("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			respondError(c, fault.Validation("size", "must be an integer between 1 and 500"))
			return
		}
		size = parsed
	}

	docs, err := s.deals.SearchDeals(c.Request.Context(), CurrentPrincipal(c), query, size)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": docs, "count": len(docs)})
}

// parseDealFilters reads list filters off the query string
func parseDealFilters(c *gin.Context) (repositories.DealFilters, error) {
	var filters repositories.DealFilters

	if raw := c.Query("product_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filters, fault.Validation("product_id", "malformed id %q", raw)
		}
		filters.ProductID = &id
	}
	if raw := c.Query("currency_code"); raw != "" {
		filters.CurrencyCode = &raw
	}
	if raw := c.Query("direction"); raw != "" {
		filters.Direction = &raw
	}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, fault.Validation("from", "must be RFC3339, got %q", raw)
		}
		filters.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, fault.Validation("to", "must be RFC3339, got %q", raw)
		}
		filters.To = &t
	}

	return filters, nil
}
