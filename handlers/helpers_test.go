package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"craftshop/storefront/models"
	"craftshop/storefront/store"
	"craftshop/storefront/utils"
)

const testAPIKey = "svc-key"

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeRecorder struct {
	mu       sync.Mutex
	fail     error
	sessions []models.SessionUpsert
	offline  []models.SessionOffline
	opened   map[string]models.PageViewOpen
	closed   map[string]models.PageViewClose
	events   []models.AnalyticsEvent
	funnel   []models.FunnelPayload
	funnelIP []string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		opened: map[string]models.PageViewOpen{},
		closed: map[string]models.PageViewClose{},
	}
}

func (f *fakeRecorder) UpsertSession(_ context.Context, s models.SessionUpsert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeRecorder) MarkSessionOffline(_ context.Context, s models.SessionOffline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.offline = append(f.offline, s)
	return nil
}

func (f *fakeRecorder) OpenPageView(_ context.Context, id string, pv models.PageViewOpen) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.opened[id] = pv
	return nil
}

func (f *fakeRecorder) ClosePageView(_ context.Context, id string, pv models.PageViewClose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.closed[id] = pv
	return nil
}

func (f *fakeRecorder) InsertAnalyticsEvents(_ context.Context, events []models.AnalyticsEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeRecorder) InsertFunnelEvent(_ context.Context, p models.FunnelPayload, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.funnel = append(f.funnel, p)
	f.funnelIP = append(f.funnelIP, ip)
	return nil
}

type statsCall struct {
	name       string
	interval   string
	start, end time.Time
	args       []string
	limit      uint64
}

type fakeStats struct {
	fail  error
	calls []statsCall
}

func (f *fakeStats) record(c statsCall) error {
	f.calls = append(f.calls, c)
	return f.fail
}

func (f *fakeStats) GetEventCountsOverTime(_ context.Context, interval string, start, end time.Time, eventType string) ([]store.EventTypeCountByTime, error) {
	if err := f.record(statsCall{name: "event-counts", interval: interval, start: start, end: end, args: []string{eventType}}); err != nil {
		return nil, err
	}
	return []store.EventTypeCountByTime{{Time: start, Count: 3}}, nil
}

func (f *fakeStats) GetUniqueSessionsOverTime(_ context.Context, interval string, start, end time.Time) ([]store.EventTypeCountByTime, error) {
	if err := f.record(statsCall{name: "unique-sessions", interval: interval, start: start, end: end}); err != nil {
		return nil, err
	}
	return []store.EventTypeCountByTime{{Time: start, Count: 2}}, nil
}

func (f *fakeStats) GetTopPages(_ context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if err := f.record(statsCall{name: "top-paths", start: start, end: end, limit: limit}); err != nil {
		return nil, err
	}
	return []models.TopPathResult{{PagePath: "/", Count: 9}}, nil
}

func (f *fakeStats) GetAverageDwell(_ context.Context, path string, start, end time.Time) (float64, error) {
	if err := f.record(statsCall{name: "average-dwell", start: start, end: end, args: []string{path}}); err != nil {
		return 0, err
	}
	return 4200, nil
}

func (f *fakeStats) GetAverageCustomEventParameter(_ context.Context, eventType, paramName string, start, end time.Time) (float64, error) {
	if err := f.record(statsCall{name: "average-custom-param", start: start, end: end, args: []string{eventType, paramName}}); err != nil {
		return 0, err
	}
	return 12.5, nil
}

func (f *fakeStats) GetFunnelCounts(_ context.Context, start, end time.Time) ([]models.FunnelStageCount, error) {
	if err := f.record(statsCall{name: "funnel", start: start, end: end}); err != nil {
		return nil, err
	}
	return store.OrderFunnel(map[models.FunnelStage]uint64{models.StageVisitedSite: 10}), nil
}

type fakeUsers struct {
	mu     sync.Mutex
	byID   map[int]*models.User
	nextID int
	fail   error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[int]*models.User{}, nextID: 1}
}

func (f *fakeUsers) CreateUser(_ context.Context, req models.SignupRequest, hashed []byte) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	for _, u := range f.byID {
		if u.Email == req.Email {
			return nil, fmt.Errorf("email %q: %w", req.Email, store.ErrUserExists)
		}
	}
	u := &models.User{ID: f.nextID, Email: req.Email, Name: req.Name, Phone: req.Phone, HashedPassword: hashed, CreatedAt: fixedNow, UpdatedAt: fixedNow}
	f.byID[u.ID] = u
	f.nextID++
	return u, nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (f *fakeUsers) GetUserByID(_ context.Context, id int) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, store.ErrUserNotFound
}

type testServer struct {
	router   *gin.Engine
	recorder *fakeRecorder
	stats    *fakeStats
	users    *fakeUsers
	tokens   *utils.TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		recorder: newFakeRecorder(),
		stats:    &fakeStats{},
		users:    newFakeUsers(),
		tokens:   utils.NewTokenIssuer("test-secret", time.Hour, "storefront-test"),
	}

	analytics := NewAnalyticsHandlers(ts.recorder, ts.stats)
	analytics.now = func() time.Time { return fixedNow }
	var ids atomic.Int64
	analytics.newID = func() string {
		return fmt.Sprintf("id-%d", ids.Add(1))
	}

	auth := NewAuthHandlers(ts.users, ts.tokens)
	auth.cost = bcrypt.MinCost

	ts.router = NewRouter(RouterConfig{
		Analytics:  analytics,
		Auth:       auth,
		Settings:   NewSettingsHandlers(map[string]string{"free_delivery_threshold": "2000"}),
		Tokens:     ts.tokens,
		APIKey:     testAPIKey,
		CORSOrigin: "https://craft.shop",
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, setup ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent")
	req.RemoteAddr = "203.0.113.7:5555"
	for _, fn := range setup {
		fn(req)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) customerToken(t *testing.T, id int) func(*http.Request) {
	t.Helper()
	token, err := ts.tokens.GenerateJWT(&models.User{ID: id, Email: "c@craft.shop"})
	require.NoError(t, err)
	return func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) }
}

func withAPIKey(req *http.Request) { req.Header.Set("X-API-KEY", testAPIKey) }

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

var errDown = errors.New("clickhouse: connection refused")
