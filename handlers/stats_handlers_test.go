package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craftshop/storefront/utils"
)

func TestStatsRequireCredentials(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/stats/funnel", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/api/stats/funnel", nil, ts.customerToken(t, 3))
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/stats/funnel", nil, withAPIKey)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatsQueries(t *testing.T) {
	defaultStart := fixedNow.Add(-utils.DefaultStatsWindow)

	tests := []struct {
		name string
		url  string
		want statsCall
	}{
		{
			name: "event counts",
			url:  "/api/stats/event-counts?interval=Day&eventType=purchase",
			want: statsCall{name: "event-counts", interval: "Day", start: defaultStart, end: fixedNow, args: []string{"purchase"}},
		},
		{
			name: "unique sessions with range",
			url:  "/api/stats/unique-sessions?interval=Hour&start=2026-03-01T00:00:00Z&end=2026-03-02T00:00:00Z",
			want: statsCall{
				name:     "unique-sessions",
				interval: "Hour",
				start:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
				end:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "top paths default limit",
			url:  "/api/stats/top-paths",
			want: statsCall{name: "top-paths", start: defaultStart, end: fixedNow, limit: defaultTopPagesLimit},
		},
		{
			name: "top paths limit",
			url:  "/api/stats/top-paths?limit=25",
			want: statsCall{name: "top-paths", start: defaultStart, end: fixedNow, limit: 25},
		},
		{
			name: "average dwell",
			url:  "/api/stats/average-dwell?path=/cart",
			want: statsCall{name: "average-dwell", start: defaultStart, end: fixedNow, args: []string{"/cart"}},
		},
		{
			name: "average custom param",
			url:  "/api/stats/average-custom-param?eventType=search&paramName=results",
			want: statsCall{name: "average-custom-param", start: defaultStart, end: fixedNow, args: []string{"search", "results"}},
		},
		{
			name: "funnel",
			url:  "/api/stats/funnel",
			want: statsCall{name: "funnel", start: defaultStart, end: fixedNow},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			w := ts.do(t, http.MethodGet, tt.url, nil, withAPIKey)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			require.Len(t, ts.stats.calls, 1)
			got := ts.stats.calls[0]
			assert.Equal(t, tt.want.name, got.name)
			assert.Equal(t, tt.want.interval, got.interval)
			assert.True(t, tt.want.start.Equal(got.start), "start %s", got.start)
			assert.True(t, tt.want.end.Equal(got.end), "end %s", got.end)
			assert.Equal(t, tt.want.limit, got.limit)
			if tt.want.args != nil {
				assert.Equal(t, tt.want.args, got.args)
			}
		})
	}
}

func TestStatsBadRequests(t *testing.T) {
	urls := []string{
		"/api/stats/event-counts",
		"/api/stats/event-counts?interval=Fortnight",
		"/api/stats/unique-sessions?interval=Day&start=yesterday",
		"/api/stats/top-paths?limit=0",
		"/api/stats/top-paths?limit=1000",
		"/api/stats/average-custom-param?eventType=search",
		"/api/stats/funnel?start=2026-03-02T00:00:00Z&end=2026-03-01T00:00:00Z",
	}
	for _, url := range urls {
		t.Run(url, func(t *testing.T) {
			ts := newTestServer(t)

			w := ts.do(t, http.MethodGet, url, nil, withAPIKey)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, ts.stats.calls)
		})
	}
}

func TestFunnelResponseOrder(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/stats/funnel", nil, withAPIKey)

	require.Equal(t, http.StatusOK, w.Code)
	stages := decode(t, w)["stages"].([]any)
	require.NotEmpty(t, stages)
	first := stages[0].(map[string]any)
	assert.Equal(t, "visited_site", first["stage"])
	assert.EqualValues(t, 10, first["sessions"])
	assert.Equal(t, "paid_order", stages[len(stages)-1].(map[string]any)["stage"])
}

func TestStatsStoreFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.stats.fail = errDown

	w := ts.do(t, http.MethodGet, "/api/stats/average-dwell", nil, withAPIKey)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to retrieve average dwell time", decode(t, w)["error"])
}
