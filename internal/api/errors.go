package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/tradedesk/services/deals/internal/fault"
)

// respondError translates a contract error kind to its documented status.
// Anything without a kind is an internal failure and is not echoed back.
func respondError(c *gin.Context, err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		log.Error().Err(err).Msg("Internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch fe.Kind {
	case fault.KindValidation, fault.KindReferenceNotFound:
		status = http.StatusBadRequest
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindAuthorization:
		status = http.StatusForbidden
	case fault.KindReferentialIntegrity, fault.KindConflict:
		status = http.StatusConflict
	}

	body := gin.H{
		"kind":  string(fe.Kind),
		"error": fe.Message,
	}
	if fe.Field != "" {
		body["field"] = fe.Field
	}

	c.JSON(status, body)
}
