package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/tradedesk/services/deals/internal/fault"
	"example.com/tradedesk/services/deals/internal/models"
	"example.com/tradedesk/services/deals/internal/services"
)

// ProductRequest is an admin product upsert
type ProductRequest struct {
	ID          *uuid.UUID `json:"id"`
	Name        string     `json:"name" validate:"required"`
	Description *string    `json:"description"`
}

// UnitRequest is an admin unit upsert
type UnitRequest struct {
	Code        string `json:"code" validate:"required"`
	Description string `json:"description" validate:"required"`
}

// CurrencyRequest is an admin currency upsert
type CurrencyRequest struct {
	Code string `json:"code" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// CounterpartyRequest is an admin counterparty upsert
type CounterpartyRequest struct {
	ID      *uuid.UUID `json:"id"`
	Name    string     `json:"name" validate:"required"`
	Country *string    `json:"country"`
}

// SchemaVersionRequest is an admin schema version append
type SchemaVersionRequest struct {
	Version     string     `json:"version" validate:"required"`
	ReleaseDate *time.Time `json:"release_date"`
	Notes       string     `json:"notes"`
}

// listReferences handles GET /references/:table
func (s *Server) listReferences(c *gin.Context) {
	ctx := c.Request.Context()

	switch c.Param("table") {
	case services.TableProduct:
		rows, err := s.refs.ListProducts(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"products": rows})
	case services.TableUnit:
		rows, err := s.refs.ListUnits(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"units": rows})
	case services.TableCurrency:
		rows, err := s.refs.ListCurrencies(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"currencies": rows})
	case services.TableCounterparty:
		rows, err := s.refs.ListCounterparties(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"counterparties": rows})
	default:
		respondError(c, fault.Validation("table", "unknown reference table %q", c.Param("table")))
	}
}

// getReference handles GET /references/:table/:key
func (s *Server) getReference(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("key")

	switch c.Param("table") {
	case services.TableProduct:
		id, err := uuid.Parse(key)
		if err != nil {
			respondError(c, fault.NotFound("product"))
			return
		}
		row, err := s.refs.GetProduct(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	case services.TableUnit:
		row, err := s.refs.GetUnit(ctx, key)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	case services.TableCurrency:
		row, err := s.refs.GetCurrency(ctx, key)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	case services.TableCounterparty:
		id, err := uuid.Parse(key)
		if err != nil {
			respondError(c, fault.NotFound("counterparty"))
			return
		}
		row, err := s.refs.GetCounterparty(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	default:
		respondError(c, fault.Validation("table", "unknown reference table %q", c.Param("table")))
	}
}

// writeReference handles POST /references/:table
func (s *Server) writeReference(c *gin.Context) {
	ctx := c.Request.Context()
	principal := CurrentPrincipal(c)

	switch c.Param("table") {
	case services.TableProduct:
		var req ProductRequest
		if err := bindReference(c, &req); err != nil {
			respondError(c, err)
			return
		}
		product := &models.Product{Name: req.Name, Description: req.Description}
		if req.ID != nil {
			product.ID = *req.ID
		}
		if err := s.refs.UpsertProduct(ctx, principal, product); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	case services.TableUnit:
		var req UnitRequest
		if err := bindReference(c, &req); err != nil {
			respondError(c, err)
			return
		}
		unit := &models.Unit{Code: req.Code, Description: req.Description}
		if err := s.refs.UpsertUnit(ctx, principal, unit); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, unit)
	case services.TableCurrency:
		var req CurrencyRequest
		if err := bindReference(c, &req); err != nil {
			respondError(c, err)
			return
		}
		currency := &models.Currency{Code: req.Code, Name: req.Name}
		if err := s.refs.UpsertCurrency(ctx, principal, currency); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, currency)
	case services.TableCounterparty:
		var req CounterpartyRequest
		if err := bindReference(c, &req); err != nil {
			respondError(c, err)
			return
		}
		counterparty := &models.Counterparty{Name: req.Name, Country: req.Country}
		if req.ID != nil {
			counterparty.ID = *req.ID
		}
		if err := s.refs.UpsertCounterparty(ctx, principal, counterparty); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, counterparty)
	default:
		respondError(c, fault.Validation("table", "unknown reference table %q", c.Param("table")))
	}
}

// deleteReference handles DELETE /references/:table/:key
func (s *Server) deleteReference(c *gin.Context) {
	err := s.refs.DeleteReference(c.Request.Context(), CurrentPrincipal(c), c.Param("table"), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// getSchemaVersion handles GET /schema/version
func (s *Server) getSchemaVersion(c *gin.Context) {
	version, err := s.refs.ActiveVersion(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, version)
}

// listSchemaVersions handles GET /schema/versions
func (s *Server) listSchemaVersions(c *gin.Context) {
	versions, err := s.refs.Versions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// appendSchemaVersion handles POST /schema/version
func (s *Server) appendSchemaVersion(c *gin.Context) {
	var req SchemaVersionRequest
	if err := bindReference(c, &req); err != nil {
		respondError(c, err)
		return
	}

	version := &models.SchemaVersion{Version: req.Version, Notes: req.Notes}
	if req.ReleaseDate != nil {
		version.ReleaseDate = *req.ReleaseDate
	}

	if err := s.refs.AppendVersion(c.Request.Context(), CurrentPrincipal(c), version); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, version)
}

// bindReference decodes and tag-validates a reference request body
func bindReference(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return fault.Validation("body", "malformed request: %v", err)
	}
	return validateRequest(req)
}
