package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"sensorhub/internal/middleware"
	"sensorhub/internal/service"
	"sensorhub/internal/validator"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type TelemetryHandler struct {
	service     service.TelemetryService
	csvFilename string
}

func NewTelemetryHandler(service service.TelemetryService, csvFilename string) *TelemetryHandler {
	if csvFilename == "" {
		csvFilename = "data.csv"
	}
	return &TelemetryHandler{service: service, csvFilename: csvFilename}
}

// Register mounts the telemetry routes. Truncate is only exposed when
// allowTruncate is set.
func (h *TelemetryHandler) Register(r gin.IRoutes, allowTruncate bool) {
	r.POST("/data", h.AddData)
	r.GET("/csv", h.GetCSV)
	r.GET("/xlsx", h.GetExcel)
	r.GET("/stats", h.GetStats)
	r.GET("/health", h.Health)
	if allowTruncate {
		r.POST("/truncate", h.Truncate)
	}
}

func (h *TelemetryHandler) AddData(c *gin.Context) {
	ctx := c.Request.Context()

	payload, err := validator.DecodePayload(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid data format",
			"message": "request body must be a single JSON object: " + err.Error(),
		})
		return
	}

	if _, err := h.service.Ingest(ctx, payload); err != nil {
		var vErr *validator.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid data format",
				"message": vErr.Error(),
				"field":   vErr.Field,
			})
			return
		}

		log.Error().Err(err).Str("request_id", c.GetString(middleware.RequestIDKey)).Msg("Failed to store telemetry")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to store telemetry",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Data added successfully"})
}

func (h *TelemetryHandler) GetCSV(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.service.ExportCSV(c.Request.Context(), &buf); err != nil {
		h.exportFailed(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.csvFilename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *TelemetryHandler) GetExcel(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.service.ExportExcel(c.Request.Context(), &buf); err != nil {
		h.exportFailed(c, err)
		return
	}

	filename := strings.TrimSuffix(h.csvFilename, ".csv") + ".xlsx"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *TelemetryHandler) exportFailed(c *gin.Context, err error) {
	log.Error().Err(err).Str("request_id", c.GetString(middleware.RequestIDKey)).Msg("Failed to export telemetry")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "failed to export telemetry",
		"message": err.Error(),
	})
}

func (h *TelemetryHandler) GetStats(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to get telemetry stats",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"backend": h.service.Backend(),
		"data":    summary,
	})
}

func (h *TelemetryHandler) Truncate(c *gin.Context) {
	if err := h.service.Truncate(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to truncate telemetry",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Data truncated successfully"})
}

func (h *TelemetryHandler) Health(c *gin.Context) {
	count, err := h.service.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"backend": h.service.Backend(),
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"backend": h.service.Backend(),
		"records": count,
	})
}
