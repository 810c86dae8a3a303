package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"craftshop/storefront/logging"
	"craftshop/storefront/middleware"
	"craftshop/storefront/models"
	"craftshop/storefront/store"
)

// AnalyticsRecorder persists what the storefront tracker sends.
type AnalyticsRecorder interface {
	UpsertSession(ctx context.Context, s models.SessionUpsert) error
	MarkSessionOffline(ctx context.Context, s models.SessionOffline) error
	OpenPageView(ctx context.Context, id string, pv models.PageViewOpen) error
	ClosePageView(ctx context.Context, id string, pv models.PageViewClose) error
	InsertAnalyticsEvents(ctx context.Context, events []models.AnalyticsEvent) error
	InsertFunnelEvent(ctx context.Context, f models.FunnelPayload, ipAddress string) error
}

// StatsReader answers the reporting queries.
type StatsReader interface {
	GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventType string) ([]store.EventTypeCountByTime, error)
	GetUniqueSessionsOverTime(ctx context.Context, interval string, start, end time.Time) ([]store.EventTypeCountByTime, error)
	GetTopPages(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error)
	GetAverageDwell(ctx context.Context, path string, start, end time.Time) (float64, error)
	GetAverageCustomEventParameter(ctx context.Context, eventType, paramName string, start, end time.Time) (float64, error)
	GetFunnelCounts(ctx context.Context, start, end time.Time) ([]models.FunnelStageCount, error)
}

const (
	writeTimeout = 15 * time.Second
	readTimeout  = 10 * time.Second
)

type AnalyticsHandlers struct {
	Recorder AnalyticsRecorder
	Stats    StatsReader

	now    func() time.Time
	newID  func() string
	logger zerolog.Logger
}

func NewAnalyticsHandlers(recorder AnalyticsRecorder, stats StatsReader) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		Recorder: recorder,
		Stats:    stats,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logging.Component("collector"),
	}
}

// UpsertSession creates or refreshes a visitor session.
func (h *AnalyticsHandlers) UpsertSession(c *gin.Context) {
	var req models.SessionUpsert
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	req.IPAddress = c.ClientIP()
	if req.UserAgent == "" {
		req.UserAgent = c.Request.UserAgent()
	}
	if req.UserID == "" {
		req.UserID = authenticatedUserID(c)
	}
	if req.LastSeenAt.IsZero() {
		req.LastSeenAt = h.now().UTC()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()
	if err := h.Recorder.UpsertSession(ctx, req); err != nil {
		h.logger.Error().Err(err).Str("session", req.SessionID).Msg("failed to upsert session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessionId": req.SessionID})
}

// MarkOffline records that a session stopped being active. The body is optional.
func (h *AnalyticsHandlers) MarkOffline(c *gin.Context) {
	var req models.SessionOffline
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	id := c.Param("id")
	if req.SessionID != "" && req.SessionID != id {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId does not match the path"})
		return
	}
	req.SessionID = id
	if req.At.IsZero() {
		req.At = h.now().UTC()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()
	if err := h.Recorder.MarkSessionOffline(ctx, req); err != nil {
		h.logger.Error().Err(err).Str("session", id).Msg("failed to mark session offline")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record session state"})
		return
	}

	c.Status(http.StatusNoContent)
}

// OpenPageView starts a page view and returns its id for the later close.
func (h *AnalyticsHandlers) OpenPageView(c *gin.Context) {
	var req models.PageViewOpen
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	if req.UserID == "" {
		req.UserID = authenticatedUserID(c)
	}
	if req.StartedAt.IsZero() {
		req.StartedAt = h.now().UTC()
	}

	id := h.newID()
	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()
	if err := h.Recorder.OpenPageView(ctx, id, req); err != nil {
		h.logger.Error().Err(err).Str("session", req.SessionID).Msg("failed to open page view")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record page view"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// ClosePageView records dwell time, scroll depth and clicks of a page view.
func (h *AnalyticsHandlers) ClosePageView(c *gin.Context) {
	var req models.PageViewClose
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.DurationMs < 0 || req.Clicks < 0 || req.ScrollDepth < 0 || req.ScrollDepth > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "durationMs and clicks must be non-negative, scrollDepth within 0-100"})
		return
	}
	if req.EndedAt.IsZero() {
		req.EndedAt = h.now().UTC()
	}

	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()
	if err := h.Recorder.ClosePageView(ctx, id, req); err != nil {
		h.logger.Error().Err(err).Str("page_view", id).Msg("failed to close page view")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record page view"})
		return
	}

	c.Status(http.StatusNoContent)
}

// PostEvent records one discrete event.
func (h *AnalyticsHandlers) PostEvent(c *gin.Context) {
	var req models.EventPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if !req.EventType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown eventType"})
		return
	}
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	event := h.eventFromPayload(c, req)
	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()
	if err := h.Recorder.InsertAnalyticsEvents(ctx, []models.AnalyticsEvent{event}); err != nil {
		h.logger.Error().Err(err).Str("event", event.EventType).Msg("failed to insert event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record analytics event"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"eventId": event.EventID})
}

func (h *AnalyticsHandlers) eventFromPayload(c *gin.Context, p models.EventPayload) models.AnalyticsEvent {
	event := models.AnalyticsEvent{
		EventID:   p.EventID,
		EventType: string(p.EventType),
		UserID:    p.UserID,
		SessionID: p.SessionID,
		Timestamp: p.Timestamp,
		PagePath:  p.PagePath,
		Referrer:  c.Request.Referer(),
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
		Category:  p.Category,
		Label:     p.Label,
		ProductID: p.ProductID,
		OrderID:   p.OrderID,
		EventData: p.Data,
	}
	if p.Value != nil {
		event.Value = *p.Value
	}
	if event.EventID == "" {
		event.EventID = h.newID()
	}
	if event.UserID == "" {
		event.UserID = authenticatedUserID(c)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now().UTC()
	}
	return event
}

// TrackEvent accepts a batch of stored-form events, as older storefront
// builds send them.
func (h *AnalyticsHandlers) TrackEvent(c *gin.Context) {
	var incomingEvents []models.AnalyticsEvent
	if err := c.ShouldBindJSON(&incomingEvents); err != nil {
		h.logger.Debug().Err(err).Msg("invalid analytics batch")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if len(incomingEvents) == 0 {
		c.Status(http.StatusOK)
		return
	}

	eventsToInsert := make([]models.AnalyticsEvent, 0, len(incomingEvents))
	for _, event := range incomingEvents {
		if !models.AnalyticsEventType(event.EventType).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown eventType", "eventType": event.EventType})
			return
		}
		event.EventID = h.newID()
		event.IPAddress = c.ClientIP()
		if event.Timestamp.IsZero() {
			event.Timestamp = h.now().UTC()
		}
		eventsToInsert = append(eventsToInsert, event)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()

	if err := h.Recorder.InsertAnalyticsEvents(ctx, eventsToInsert); err != nil {
		h.logger.Error().Err(err).Int("events", len(eventsToInsert)).Msg("failed to insert analytics batch")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record analytics events"})
		return
	}

	c.Status(http.StatusOK)
}

// PostFunnel records that a session reached a funnel stage. Stages are
// accepted in any order.
func (h *AnalyticsHandlers) PostFunnel(c *gin.Context) {
	var req models.FunnelPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if !req.Stage.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown funnel stage"})
		return
	}
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	if req.UserID == "" {
		req.UserID = authenticatedUserID(c)
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = h.now().UTC()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()
	if err := h.Recorder.InsertFunnelEvent(ctx, req, c.ClientIP()); err != nil {
		h.logger.Error().Err(err).Str("stage", string(req.Stage)).Msg("failed to insert funnel event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record funnel stage"})
		return
	}

	c.Status(http.StatusAccepted)
}

func authenticatedUserID(c *gin.Context) string {
	if id := c.GetInt(middleware.ContextUserID); id > 0 {
		return strconv.Itoa(id)
	}
	return ""
}
