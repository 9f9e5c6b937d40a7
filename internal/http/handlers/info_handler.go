package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/nocodb-codegen/internal/services"
)

const exampleQuery = "/generate-codes?tableId=mhwj2qg4d0u9xgx&dateField=Fecha&codeField=Código&digits=3&limit=10"

// Info godoc
// @ID          serviceInfo
// @Summary     Service description
// @Description Static document with the service name, version and /generate-codes usage, including an example URL for this host.
// @Tags        Meta
// @Produce     json
//
// @Success     200  {object} map[string]interface{}
// @Router      / [get]
func (h *Handlers) Info(c *gin.Context) {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}

	limitHelp := fmt.Sprintf("Number of records to process per run (default: %d)", services.DefaultLimit)
	if h.info.MaxLimit > 0 {
		limitHelp = fmt.Sprintf("Number of records to process per run (default: %d, max: %d)", services.DefaultLimit, h.info.MaxLimit)
	}

	ok(c, http.StatusOK, gin.H{
		"status":      "Server running",
		"name":        "NocoDB Code Generator Service",
		"version":     h.info.Version,
		"description": "Assigns date-based codes (YYMMDD-NN) to table records that have no code yet.",
		"usage": gin.H{
			"endpoint": "/generate-codes",
			"method":   http.MethodGet,
			"queryParams": gin.H{
				"tableId":   "Table ID (required)",
				"dateField": "Date column name (default: " + services.DefaultDateField + ")",
				"codeField": "Code column name (default: " + services.DefaultCodeField + ")",
				"digits":    "Digits of the sequence number (default: " + strconv.Itoa(services.DefaultDigits) + ")",
				"limit":     limitHelp,
			},
			"headers": gin.H{
				"Idempotency-Key": "Optional; a retry with the same key replays the stored result",
			},
		},
		"example": gin.H{
			"url": scheme + "://" + c.Request.Host + exampleQuery,
		},
	})
}
