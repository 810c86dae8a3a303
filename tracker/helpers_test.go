package tracker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"craftshop/storefront/models"
	"craftshop/storefront/tracker"
)

type closedView struct {
	ID    string
	Close models.PageViewClose
}

type fakeCollector struct {
	mu       sync.Mutex
	fail     error
	panicky  bool
	nextID   int
	upserts  []models.SessionUpsert
	opens    []models.PageViewOpen
	openIDs  []string
	closes   []closedView
	events   []models.EventPayload
	funnel   []models.FunnelPayload
	offlines []models.SessionOffline
}

var errCollectorDown = errors.New("collector down")

func (f *fakeCollector) check() error {
	if f.panicky {
		panic("collector exploded")
	}
	return f.fail
}

func (f *fakeCollector) UpsertSession(_ context.Context, s models.SessionUpsert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	f.upserts = append(f.upserts, s)
	return nil
}

func (f *fakeCollector) OpenPageView(_ context.Context, pv models.PageViewOpen) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("pv-%d", f.nextID)
	f.opens = append(f.opens, pv)
	f.openIDs = append(f.openIDs, id)
	return id, nil
}

func (f *fakeCollector) ClosePageView(_ context.Context, id string, pv models.PageViewClose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	f.closes = append(f.closes, closedView{ID: id, Close: pv})
	return nil
}

func (f *fakeCollector) PostEvent(_ context.Context, ev models.EventPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeCollector) PostFunnel(_ context.Context, p models.FunnelPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	f.funnel = append(f.funnel, p)
	return nil
}

func (f *fakeCollector) MarkOffline(_ context.Context, s models.SessionOffline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	f.offlines = append(f.offlines, s)
	return nil
}

func (f *fakeCollector) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func (f *fakeCollector) offlineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offlines)
}

func (f *fakeCollector) eventTypes() []models.AnalyticsEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AnalyticsEventType, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (f *fakeCollector) stages() []models.FunnelStage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.FunnelStage, 0, len(f.funnel))
	for _, p := range f.funnel {
		out = append(out, p.Stage)
	}
	return out
}

func (f *fakeCollector) closesFor(id string) []models.PageViewClose {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PageViewClose
	for _, c := range f.closes {
		if c.ID == id {
			out = append(out, c.Close)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// location is a mutable browser location.
type location struct {
	mu  sync.Mutex
	url string
}

func (l *location) Set(u string) {
	l.mu.Lock()
	l.url = u
	l.mu.Unlock()
}

func (l *location) Get() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.url
}

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

func testEnv(loc *location) tracker.Environment {
	return tracker.Environment{
		UserAgent:      chromeUA,
		Language:       "uk-UA",
		Platform:       "Win32",
		ScreenWidth:    1920,
		ScreenHeight:   1080,
		ColorDepth:     24,
		PixelRatio:     1,
		TimezoneOffset: -120,
		Timezone:       "Europe/Kyiv",
		CanvasHash:     func() (string, error) { return "c4nv4s", nil },
		Location:       loc.Get,
		Referrer:       func() string { return "https://google.com/" },
	}
}

// newTestTracker builds a tracker with its timers disabled.
func newTestTracker(c tracker.Collector, loc *location, opts ...tracker.Option) *tracker.Tracker {
	base := []tracker.Option{
		tracker.WithHeartbeatInterval(0),
		tracker.WithInactivityTimeout(0),
		tracker.WithScrollDebounce(10 * time.Millisecond),
		tracker.WithSendTimeout(time.Second),
	}
	return tracker.New(c, testEnv(loc), append(base, opts...)...)
}

func flush(t *testing.T, tr *tracker.Tracker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
