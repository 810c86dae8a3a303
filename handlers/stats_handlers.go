package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"craftshop/storefront/utils"
)

const (
	defaultTopPagesLimit = 10
	maxTopPagesLimit     = 100
)

// GetEventCounts returns event counts bucketed by interval, optionally for
// one event type.
func (h *AnalyticsHandlers) GetEventCounts(c *gin.Context) {
	interval := c.Query("interval")
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or missing 'interval' parameter. Must be one of: Minute, Hour, Day, Week, Month, Quarter, Year"})
		return
	}
	start, end, err := utils.ParseTimeRange(c.Query("start"), c.Query("end"), h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()
	results, err := h.Stats.GetEventCountsOverTime(ctx, interval, start, end, c.Query("eventType"))
	if err != nil {
		h.logger.Error().Err(err).Msg("event counts query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"interval": interval, "start": start, "end": end, "data": results})
}

// GetUniqueSessions returns distinct sessions bucketed by interval.
func (h *AnalyticsHandlers) GetUniqueSessions(c *gin.Context) {
	interval := c.Query("interval")
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or missing 'interval' parameter. Must be one of: Minute, Hour, Day, Week, Month, Quarter, Year"})
		return
	}
	start, end, err := utils.ParseTimeRange(c.Query("start"), c.Query("end"), h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()
	results, err := h.Stats.GetUniqueSessionsOverTime(ctx, interval, start, end)
	if err != nil {
		h.logger.Error().Err(err).Msg("unique sessions query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique sessions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"interval": interval, "start": start, "end": end, "data": results})
}

func (h *AnalyticsHandlers) GetTopPages(c *gin.Context) {
	limit := uint64(defaultTopPagesLimit)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || n == 0 || n > maxTopPagesLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "'limit' must be between 1 and 100"})
			return
		}
		limit = n
	}
	start, end, err := utils.ParseTimeRange(c.Query("start"), c.Query("end"), h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()
	results, err := h.Stats.GetTopPages(ctx, start, end, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("top pages query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top pages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"start": start, "end": end, "data": results})
}

// GetAverageDwell returns the mean page view duration in milliseconds,
// across all pages or for one path.
func (h *AnalyticsHandlers) GetAverageDwell(c *gin.Context) {
	start, end, err := utils.ParseTimeRange(c.Query("start"), c.Query("end"), h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	path := c.Query("path")
	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()
	avg, err := h.Stats.GetAverageDwell(ctx, path, start, end)
	if err != nil {
		h.logger.Error().Err(err).Str("path", path).Msg("average dwell query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve average dwell time"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"path": path, "start": start, "end": end, "averageDurationMs": avg})
}

// GetAverageParameter averages a numeric field of the event data blob.
func (h *AnalyticsHandlers) GetAverageParameter(c *gin.Context) {
	eventType := c.Query("eventType")
	paramName := c.Query("paramName")
	if eventType == "" || paramName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'eventType' and 'paramName' are required"})
		return
	}
	start, end, err := utils.ParseTimeRange(c.Query("start"), c.Query("end"), h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()
	avg, err := h.Stats.GetAverageCustomEventParameter(ctx, eventType, paramName, start, end)
	if err != nil {
		h.logger.Error().Err(err).Str("event", eventType).Str("param", paramName).Msg("average parameter query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve average"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"eventType": eventType, "paramName": paramName, "start": start, "end": end, "average": avg})
}

// GetFunnel returns distinct sessions per funnel stage in stage order.
func (h *AnalyticsHandlers) GetFunnel(c *gin.Context) {
	start, end, err := utils.ParseTimeRange(c.Query("start"), c.Query("end"), h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()
	stages, err := h.Stats.GetFunnelCounts(ctx, start, end)
	if err != nil {
		h.logger.Error().Err(err).Msg("funnel query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve funnel"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"start": start, "end": end, "stages": stages})
}
