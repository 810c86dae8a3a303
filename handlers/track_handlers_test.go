package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craftshop/storefront/models"
	"craftshop/storefront/tracker"
)

func TestUpsertSession(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/analytics/sessions", models.SessionUpsert{
		SessionID:   "s-1",
		Fingerprint: "fp",
		DeviceType:  "desktop",
		UTM:         models.UTMParams{Source: "instagram"},
		IsOnline:    true,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s-1", decode(t, w)["sessionId"])
	require.Len(t, ts.recorder.sessions, 1)
	got := ts.recorder.sessions[0]
	assert.Equal(t, "203.0.113.7", got.IPAddress)
	assert.Equal(t, "test-agent", got.UserAgent)
	assert.Equal(t, fixedNow, got.LastSeenAt)
	assert.Equal(t, "instagram", got.UTM.Source)
	assert.Empty(t, got.UserID)
}

func TestUpsertSessionAttributesCustomer(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/analytics/sessions", models.SessionUpsert{SessionID: "s-1"}, ts.customerToken(t, 7))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7", ts.recorder.sessions[0].UserID)
}

func TestUpsertSessionRejects(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		fail   error
		status int
	}{
		{"missing session id", models.SessionUpsert{}, nil, http.StatusBadRequest},
		{"malformed json", `{"sessionId":`, nil, http.StatusBadRequest},
		{"store down", models.SessionUpsert{SessionID: "s-1"}, errDown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.recorder.fail = tt.fail

			w := ts.do(t, http.MethodPost, "/api/analytics/sessions", tt.body)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, decode(t, w), "error")
		})
	}
}

func TestMarkOffline(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/analytics/sessions/s-1/offline", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, ts.recorder.offline, 1)
	assert.Equal(t, models.SessionOffline{SessionID: "s-1", At: fixedNow}, ts.recorder.offline[0])

	at := fixedNow.Add(-time.Minute)
	w = ts.do(t, http.MethodPost, "/api/analytics/sessions/s-1/offline", models.SessionOffline{SessionID: "s-1", At: at})
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, at, ts.recorder.offline[1].At)

	w = ts.do(t, http.MethodPost, "/api/analytics/sessions/s-1/offline", models.SessionOffline{SessionID: "s-2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, ts.recorder.offline, 2)
}

func TestPageViewLifecycle(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/analytics/pageviews", models.PageViewOpen{
		SessionID: "s-1",
		Path:      "/product/candle-1",
		PageType:  "product",
		ProductID: "candle-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"]
	assert.Equal(t, "id-1", id)
	assert.Equal(t, fixedNow, ts.recorder.opened["id-1"].StartedAt)
	assert.Equal(t, "candle-1", ts.recorder.opened["id-1"].ProductID)

	w = ts.do(t, http.MethodPatch, "/api/analytics/pageviews/id-1", models.PageViewClose{DurationMs: 5000, ScrollDepth: 75, Clicks: 2})
	require.Equal(t, http.StatusNoContent, w.Code)
	closed := ts.recorder.closed["id-1"]
	assert.Equal(t, int64(5000), closed.DurationMs)
	assert.Equal(t, 75, closed.ScrollDepth)
	assert.Equal(t, 2, closed.Clicks)
	assert.Equal(t, fixedNow, closed.EndedAt)
}

func TestPageViewRejects(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/analytics/pageviews", models.PageViewOpen{Path: "/"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, body := range []models.PageViewClose{
		{DurationMs: -1},
		{ScrollDepth: 101},
		{Clicks: -2},
	} {
		w = ts.do(t, http.MethodPatch, "/api/analytics/pageviews/pv", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%+v", body)
	}
	assert.Empty(t, ts.recorder.opened)
	assert.Empty(t, ts.recorder.closed)
}

func TestPostEvent(t *testing.T) {
	ts := newTestServer(t)
	value := 1070.0

	w := ts.do(t, http.MethodPost, "/api/analytics/events", models.EventPayload{
		EventType: models.EventAddToCart,
		SessionID: "s-1",
		Category:  "ecommerce",
		Label:     "CANDLE",
		Value:     &value,
		ProductID: "CANDLE",
		PagePath:  "/cart",
		Data:      []byte(`{"quantity":2}`),
	}, func(r *http.Request) { r.Header.Set("Referer", "https://craft.shop/") })

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "id-1", decode(t, w)["eventId"])
	require.Len(t, ts.recorder.events, 1)
	ev := ts.recorder.events[0]
	assert.Equal(t, "add_to_cart", ev.EventType)
	assert.Equal(t, "s-1", ev.SessionID)
	assert.Equal(t, 1070.0, ev.Value)
	assert.Equal(t, "203.0.113.7", ev.IPAddress)
	assert.Equal(t, "test-agent", ev.UserAgent)
	assert.Equal(t, "https://craft.shop/", ev.Referrer)
	assert.Equal(t, fixedNow, ev.Timestamp)
	assert.JSONEq(t, `{"quantity":2}`, string(ev.EventData))
}

func TestPostEventKeepsClientFields(t *testing.T) {
	ts := newTestServer(t)
	at := fixedNow.Add(-3 * time.Second)

	w := ts.do(t, http.MethodPost, "/api/analytics/events", models.EventPayload{
		EventID:   "client-id",
		EventType: models.EventSearch,
		SessionID: "s-1",
		UserID:    "42",
		Timestamp: at,
	}, ts.customerToken(t, 7))

	require.Equal(t, http.StatusAccepted, w.Code)
	ev := ts.recorder.events[0]
	assert.Equal(t, "client-id", ev.EventID)
	assert.Equal(t, "42", ev.UserID)
	assert.Equal(t, at, ev.Timestamp)
}

func TestPostEventRejects(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/analytics/events", models.EventPayload{EventType: "mouse_wiggle", SessionID: "s-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/analytics/events", models.EventPayload{EventType: models.EventClick})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, ts.recorder.events)
}

func TestTrackBatch(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/track", []models.AnalyticsEvent{
		{EventType: "page_view", SessionID: "s-1", PagePath: "/"},
		{EventID: "ignored", EventType: "click", SessionID: "s-1", Timestamp: fixedNow.Add(-time.Hour)},
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ts.recorder.events, 2)
	assert.Equal(t, "id-1", ts.recorder.events[0].EventID)
	assert.Equal(t, "id-2", ts.recorder.events[1].EventID)
	assert.Equal(t, fixedNow, ts.recorder.events[0].Timestamp)
	assert.Equal(t, fixedNow.Add(-time.Hour), ts.recorder.events[1].Timestamp)
	assert.Equal(t, "203.0.113.7", ts.recorder.events[1].IPAddress)
}

func TestTrackBatchEdges(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/track", []models.AnalyticsEvent{})
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/track", []models.AnalyticsEvent{
		{EventType: "page_view", SessionID: "s-1"},
		{EventType: "bogus", SessionID: "s-1"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ts.recorder.events)

	ts.recorder.fail = errDown
	w = ts.do(t, http.MethodPost, "/api/track", []models.AnalyticsEvent{{EventType: "page_view"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPostFunnel(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/analytics/funnel", models.FunnelPayload{
		Stage:     models.StagePaidOrder,
		SessionID: "s-1",
		OrderID:   "order-9",
		Cart: &models.CartContext{
			Products: []models.FunnelProduct{{ProductID: "A", Quantity: 2}},
			Total:    decimal.NewFromInt(1670),
		},
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, ts.recorder.funnel, 1)
	got := ts.recorder.funnel[0]
	assert.Equal(t, models.StagePaidOrder, got.Stage)
	assert.Equal(t, fixedNow, got.Timestamp)
	assert.True(t, got.Cart.Total.Equal(decimal.NewFromInt(1670)))
	assert.Equal(t, "203.0.113.7", ts.recorder.funnelIP[0])

	w = ts.do(t, http.MethodPost, "/api/analytics/funnel", models.FunnelPayload{Stage: "teleported", SessionID: "s-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, ts.recorder.funnel, 1)
}

func TestCollectorServesTracker(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.router)
	t.Cleanup(srv.Close)

	path := "/product/CANDLE?utm_source=newsletter"
	tr := tracker.New(tracker.NewHTTPCollector(srv.URL), tracker.Environment{
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/126.0 Safari/537.36",
		Language:     "uk-UA",
		ScreenWidth:  1920,
		ScreenHeight: 1080,
		Location:     func() string { return "https://craft.shop" + path },
	}, tracker.WithHeartbeatInterval(0), tracker.WithInactivityTimeout(0))

	tr.Init()
	tr.TrackEvent(tracker.Event{Type: models.EventProductView, ProductID: "CANDLE"})
	tr.TrackFunnel(tracker.Funnel{Stage: models.StageViewedProduct})
	tr.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Flush(ctx))

	rec := ts.recorder
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.sessions)
	assert.Equal(t, tr.SessionID(), rec.sessions[0].SessionID)
	assert.Equal(t, "newsletter", rec.sessions[0].UTM.Source)
	require.Len(t, rec.opened, 1)
	require.Len(t, rec.closed, 1)
	for id := range rec.opened {
		assert.Contains(t, rec.closed, id)
	}
	var types []string
	for _, ev := range rec.events {
		types = append(types, ev.EventType)
	}
	assert.Contains(t, types, "product_view")
	assert.NotEmpty(t, rec.funnel)
}
