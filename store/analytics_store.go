package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"craftshop/storefront/database"
	"craftshop/storefront/logging"
	"craftshop/storefront/models"
	"craftshop/storefront/utils"
)

type AnalyticsStore struct {
	DB *database.ClickHouseClient
}

type EventTypeCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

func NewAnalyticsStore(chClient *database.ClickHouseClient) *AnalyticsStore {
	return &AnalyticsStore{
		DB: chClient,
	}
}

var analyticsSchema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_sessions (
		session_id    String,
		fingerprint   String,
		user_id       String,
		device_type   LowCardinality(String),
		browser       LowCardinality(String),
		os            LowCardinality(String),
		language      String,
		timezone      String,
		screen_width  UInt32,
		screen_height UInt32,
		referrer      String,
		landing_page  String,
		cart_items    UInt32,
		utm_source    String,
		utm_medium    String,
		utm_campaign  String,
		utm_term      String,
		utm_content   String,
		ip_address    String,
		user_agent    String,
		last_seen_at  DateTime64(3),
		is_online     UInt8
	) ENGINE = MergeTree ORDER BY (session_id, last_seen_at)`,
	`CREATE TABLE IF NOT EXISTS page_views (
		page_view_id String,
		session_id   String,
		user_id      String,
		url          String,
		path         String,
		page_type    LowCardinality(String),
		product_id   String,
		referrer     String,
		started_at   DateTime64(3)
	) ENGINE = MergeTree ORDER BY (session_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS page_view_ends (
		page_view_id String,
		duration_ms  Int64,
		scroll_depth UInt8,
		clicks       UInt32,
		ended_at     DateTime64(3)
	) ENGINE = MergeTree ORDER BY page_view_id`,
	`CREATE TABLE IF NOT EXISTS analytics_events (
		event_id    String,
		event_type  LowCardinality(String),
		user_id     String,
		session_id  String,
		timestamp   DateTime64(3),
		page_path   String,
		referrer    String,
		user_agent  String,
		ip_address  String,
		duration_ms Int64,
		category    String,
		label       String,
		value       Float64,
		product_id  String,
		order_id    String,
		event_data  String
	) ENGINE = MergeTree ORDER BY (event_type, timestamp)`,
	`CREATE TABLE IF NOT EXISTS funnel_events (
		session_id     String,
		user_id        String,
		stage          LowCardinality(String),
		stage_position UInt8,
		order_id       String,
		cart_total     Decimal(18, 4),
		cart_products  String,
		ip_address     String,
		timestamp      DateTime64(3)
	) ENGINE = MergeTree ORDER BY (stage, timestamp)`,
}

// EnsureSchema creates the analytics tables when they are missing.
func (s *AnalyticsStore) EnsureSchema(ctx context.Context) error {
	for _, ddl := range analyticsSchema {
		if err := s.DB.Conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create analytics schema: %w", err)
		}
	}
	return nil
}

func (s *AnalyticsStore) insertRow(ctx context.Context, query string, values ...any) error {
	batch, err := s.DB.Conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	if err := batch.Append(values...); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("failed to append row: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send insert: %w", err)
	}
	return nil
}

// UpsertSession appends the latest state of a session. Readers take the
// newest row per session_id.
func (s *AnalyticsStore) UpsertSession(ctx context.Context, sess models.SessionUpsert) error {
	return s.insertRow(ctx, `
		INSERT INTO analytics_sessions (
			session_id, fingerprint, user_id, device_type, browser, os, language, timezone,
			screen_width, screen_height, referrer, landing_page, cart_items,
			utm_source, utm_medium, utm_campaign, utm_term, utm_content,
			ip_address, user_agent, last_seen_at, is_online
		)`,
		sess.SessionID,
		sess.Fingerprint,
		sess.UserID,
		sess.DeviceType,
		sess.Browser,
		sess.OS,
		sess.Language,
		sess.Timezone,
		clampUint32(sess.ScreenWidth),
		clampUint32(sess.ScreenHeight),
		sess.Referrer,
		sess.LandingPage,
		clampUint32(sess.CartItems),
		sess.UTM.Source,
		sess.UTM.Medium,
		sess.UTM.Campaign,
		sess.UTM.Term,
		sess.UTM.Content,
		sess.IPAddress,
		sess.UserAgent,
		sess.LastSeenAt,
		boolToUint8(sess.IsOnline),
	)
}

// MarkSessionOffline records that a session went offline at off.At.
func (s *AnalyticsStore) MarkSessionOffline(ctx context.Context, off models.SessionOffline) error {
	return s.insertRow(ctx, `INSERT INTO analytics_sessions (session_id, last_seen_at, is_online)`,
		off.SessionID, off.At, uint8(0))
}

func (s *AnalyticsStore) OpenPageView(ctx context.Context, id string, pv models.PageViewOpen) error {
	return s.insertRow(ctx, `
		INSERT INTO page_views (
			page_view_id, session_id, user_id, url, path, page_type, product_id, referrer, started_at
		)`,
		id, pv.SessionID, pv.UserID, pv.URL, pv.Path, pv.PageType, pv.ProductID, pv.Referrer, pv.StartedAt)
}

func (s *AnalyticsStore) ClosePageView(ctx context.Context, id string, pv models.PageViewClose) error {
	return s.insertRow(ctx, `
		INSERT INTO page_view_ends (page_view_id, duration_ms, scroll_depth, clicks, ended_at)`,
		id, pv.DurationMs, uint8(max(0, min(100, pv.ScrollDepth))), clampUint32(pv.Clicks), pv.EndedAt)
}

func (s *AnalyticsStore) InsertAnalyticsEvents(ctx context.Context, events []models.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO analytics_events (
			event_id, event_type, user_id, session_id, timestamp, page_path, referrer, user_agent,
			ip_address, duration_ms, category, label, value, product_id, order_id, event_data
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	log := logging.Component("analytics-store")
	appended := 0
	for _, event := range events {
		err := batch.Append(
			event.EventID,
			event.EventType,
			event.UserID,
			event.SessionID,
			event.Timestamp,
			event.PagePath,
			event.Referrer,
			event.UserAgent,
			event.IPAddress,
			event.DurationMs,
			event.Category,
			event.Label,
			event.Value,
			event.ProductID,
			event.OrderID,
			string(event.EventData),
		)
		if err != nil {
			log.Warn().Err(err).Str("event_id", event.EventID).Msg("skipping event that could not be appended to batch")
			continue
		}
		appended++
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Debug().Int("events", appended).Msg("inserted analytics events")
	return nil
}

func (s *AnalyticsStore) InsertFunnelEvent(ctx context.Context, f models.FunnelPayload, ipAddress string) error {
	var (
		products = "[]"
		total    = decimal.Zero
	)
	if f.Cart != nil {
		data, err := json.Marshal(f.Cart.Products)
		if err != nil {
			return fmt.Errorf("failed to encode funnel cart: %w", err)
		}
		products = string(data)
		total = f.Cart.Total
	}

	return s.insertRow(ctx, `
		INSERT INTO funnel_events (
			session_id, user_id, stage, stage_position, order_id, cart_total, cart_products, ip_address, timestamp
		)`,
		f.SessionID, f.UserID, string(f.Stage), uint8(f.Stage.Position()), f.OrderID, total, products, ipAddress, f.Timestamp)
}

func (s *AnalyticsStore) GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	args := []any{start, end}
	selectCols := fmt.Sprintf("toStartOf%s(timestamp) AS time_bucket, count() AS total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"
	isFilteringByType := eventTypeFilter != ""

	if isFilteringByType {
		selectCols += ", event_type"
		groupByCols += ", event_type"
		whereClause += " AND event_type = ?"
		args = append(args, eventTypeFilter)
		orderByCols += ", event_type ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM analytics_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var (
			timeBucket    time.Time
			count         uint64
			eventTypeDB   string
			currentResult EventTypeCountByTime
		)

		if isFilteringByType {
			if err := rows.Scan(&timeBucket, &count, &eventTypeDB); err != nil {
				return nil, fmt.Errorf("failed to scan event count row: %w", err)
			}
			currentResult.EventType = &eventTypeDB
		} else {
			if err := rows.Scan(&timeBucket, &count); err != nil {
				return nil, fmt.Errorf("failed to scan event count row: %w", err)
			}
		}

		currentResult.Time = timeBucket
		currentResult.Count = count
		results = append(results, currentResult)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}

	return results, nil
}

func (s *AnalyticsStore) GetUniqueSessionsOverTime(ctx context.Context, interval string, start, end time.Time) ([]EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(last_seen_at) AS time_bucket, uniq(session_id) AS sessions
		FROM analytics_sessions
		WHERE last_seen_at >= ? AND last_seen_at <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique sessions over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var bucket time.Time
		var sessions uint64
		if err := rows.Scan(&bucket, &sessions); err != nil {
			return nil, fmt.Errorf("failed to scan unique sessions row: %w", err)
		}
		results = append(results, EventTypeCountByTime{Time: bucket, Count: sessions})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique sessions: %w", err)
	}

	return results, nil
}

func (s *AnalyticsStore) GetTopPages(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if limit == 0 {
		limit = 10
	}

	rows, err := s.DB.Conn.Query(ctx, `
		SELECT path, count() AS view_count
		FROM page_views
		WHERE started_at >= ? AND started_at <= ?
		GROUP BY path
		ORDER BY view_count DESC
		LIMIT ?
	`, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer rows.Close()

	var results []models.TopPathResult
	for rows.Next() {
		var r models.TopPathResult
		if err := rows.Scan(&r.PagePath, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top pages row: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top pages: %w", err)
	}

	return results, nil
}

// GetAverageDwell averages the dwell time of closed page views started in
// the window, optionally restricted to one path.
func (s *AnalyticsStore) GetAverageDwell(ctx context.Context, path string, start, end time.Time) (float64, error) {
	query := `
		SELECT avg(e.duration_ms)
		FROM page_view_ends AS e
		INNER JOIN page_views AS p ON p.page_view_id = e.page_view_id
		WHERE p.started_at >= ? AND p.started_at <= ?`
	args := []any{start, end}
	if path != "" {
		query += ` AND p.path = ?`
		args = append(args, path)
	}
	return s.queryAverage(ctx, "average dwell", query, args...)
}

func (s *AnalyticsStore) GetAverageCustomEventParameter(ctx context.Context, eventType, paramName string, start, end time.Time) (float64, error) {
	if paramName == "" {
		return 0, fmt.Errorf("parameter name for average calculation cannot be empty")
	}

	return s.queryAverage(ctx, "average of event parameter "+paramName, `
		SELECT avg(JSONExtractFloat(event_data, ?))
		FROM analytics_events
		WHERE event_type = ? AND timestamp >= ? AND timestamp <= ?
	`, paramName, eventType, start, end)
}

// avg() over no rows yields NaN, which JSON cannot carry; it is reported as 0.
func (s *AnalyticsStore) queryAverage(ctx context.Context, what, query string, args ...any) (float64, error) {
	var avg float64
	if err := s.DB.Conn.QueryRow(ctx, query, args...).Scan(&avg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to query %s: %w", what, err)
	}
	if math.IsNaN(avg) {
		return 0, nil
	}
	return avg, nil
}

// GetFunnelCounts returns, for every funnel stage in natural order, how many
// distinct sessions reached it in the window.
func (s *AnalyticsStore) GetFunnelCounts(ctx context.Context, start, end time.Time) ([]models.FunnelStageCount, error) {
	rows, err := s.DB.Conn.Query(ctx, `
		SELECT stage, uniqExact(session_id) AS sessions
		FROM funnel_events
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY stage
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query funnel counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.FunnelStage]uint64)
	for rows.Next() {
		var stage string
		var sessions uint64
		if err := rows.Scan(&stage, &sessions); err != nil {
			return nil, fmt.Errorf("failed to scan funnel row: %w", err)
		}
		counts[models.FunnelStage(stage)] = sessions
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funnel rows: %w", err)
	}

	return OrderFunnel(counts), nil
}

// OrderFunnel lays counts out in natural stage order, with zero for stages
// nobody reached.
func OrderFunnel(counts map[models.FunnelStage]uint64) []models.FunnelStageCount {
	out := make([]models.FunnelStageCount, 0, len(models.FunnelStages))
	for _, stage := range models.FunnelStages {
		out = append(out, models.FunnelStageCount{Stage: stage, Sessions: counts[stage]})
	}
	return out
}

func clampUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if int64(n) > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
