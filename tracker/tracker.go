// Package tracker is the storefront's analytics and funnel pipeline.
//
// A Tracker is constructed once per running storefront, started with Init and
// stopped with Destroy. Every emission is fire-and-forget: the network call
// runs on its own goroutine, failures are logged and never reach the caller.
//
//	t := tracker.New(tracker.NewHTTPCollector(baseURL), env,
//		tracker.WithSessionStore(sessionStore),
//		tracker.WithLocalStore(localStore),
//		tracker.WithCartCounter(engine.ItemCount))
//	t.Init()
//	defer t.Destroy()
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"craftshop/storefront/kvstore"
	"craftshop/storefront/logging"
	"craftshop/storefront/models"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultInactivityTimeout = 5 * time.Minute
	DefaultScrollDebounce    = 150 * time.Millisecond
	DefaultSendTimeout       = 10 * time.Second
	DefaultRecentSize        = 50
)

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateRunning
	stateDestroyed
)

// Event is a discrete analytics event to emit.
type Event struct {
	Type      models.AnalyticsEventType
	Category  string
	Label     string
	Value     *float64
	Data      map[string]any
	ProductID string
	OrderID   string
}

// Funnel is progress to a funnel stage, with optional cart and order context.
type Funnel struct {
	Stage   models.FunnelStage
	Cart    *models.CartContext
	OrderID string
}

// Tracker is the analytics pipeline for one storefront session.
type Tracker struct {
	collector  Collector
	env        Environment
	sessionKV  kvstore.Store
	localKV    kvstore.Store
	cartCount  func() int
	now        func() time.Time
	heartbeat  time.Duration
	inactivity time.Duration
	debounce   time.Duration
	timeout    time.Duration
	logger     zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	flight  inflight
	recent  *ring

	mu            sync.Mutex
	state         lifecycle
	sessionID     string
	fingerprint   string
	utm           models.UTMParams
	landing       string
	online        bool
	page          *pageView
	pendingScroll int
	scrollTimer   *time.Timer
	idleTimer     *time.Timer
	stopBeat      chan struct{}
}

type Option func(*Tracker)

// WithSessionStore sets the session-scoped store holding the session id and
// UTM attribution.
func WithSessionStore(s kvstore.Store) Option {
	return func(t *Tracker) { t.sessionKV = s }
}

// WithLocalStore sets the durable store the authenticated user is cached in.
func WithLocalStore(s kvstore.Store) Option {
	return func(t *Tracker) { t.localKV = s }
}

// WithCartCounter supplies the live cart item count reported with sessions.
func WithCartCounter(fn func() int) Option {
	return func(t *Tracker) { t.cartCount = fn }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(t *Tracker) { t.heartbeat = d }
}

func WithInactivityTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.inactivity = d }
}

func WithScrollDebounce(d time.Duration) Option {
	return func(t *Tracker) { t.debounce = d }
}

// WithSendTimeout bounds each collector call.
func WithSendTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d }
}

func WithRecentSize(n int) Option {
	return func(t *Tracker) { t.recent = newRing(n) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func New(collector Collector, env Environment, opts ...Option) *Tracker {
	t := &Tracker{
		collector:  collector,
		env:        env,
		sessionKV:  kvstore.NewMemory(),
		localKV:    kvstore.NewMemory(),
		cartCount:  func() int { return 0 },
		now:        time.Now,
		heartbeat:  DefaultHeartbeatInterval,
		inactivity: DefaultInactivityTimeout,
		debounce:   DefaultScrollDebounce,
		timeout:    DefaultSendTimeout,
		logger:     logging.Component("tracker"),
		recent:     newRing(DefaultRecentSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.baseCtx, t.cancel = context.WithCancel(context.Background())
	return t
}

// Init bootstraps the session: it resolves the session id, fingerprint and
// UTM attribution, upserts the session, records the visit, opens the first
// page view and starts the heartbeat and inactivity timers. Only the first
// call has any effect.
func (t *Tracker) Init() {
	t.mu.Lock()
	if t.state != stateIdle {
		t.mu.Unlock()
		return
	}
	t.state = stateRunning
	t.sessionIDLocked()
	t.fingerprint = ComputeFingerprint(t.env)
	t.landing = t.env.location()
	t.utm = t.resolveUTMLocked(t.landing)
	t.online = true
	upsert := t.sessionUpsertLocked()
	t.mu.Unlock()

	t.logger.Debug().Str("session", upsert.SessionID).Str("fingerprint", upsert.Fingerprint).Msg("analytics session started")
	t.dispatch("upsert session", func(ctx context.Context) error {
		return t.collector.UpsertSession(ctx, upsert)
	})
	t.TrackFunnel(Funnel{Stage: models.StageVisitedSite})
	t.TrackPageView()
	t.startTimers()
}

// Destroy stops the timers, closes the open page view, marks the session
// offline and waits a bounded time for in-flight sends.
func (t *Tracker) Destroy() {
	t.mu.Lock()
	if t.state == stateDestroyed {
		t.mu.Unlock()
		return
	}
	wasRunning := t.state == stateRunning
	t.state = stateDestroyed
	t.stopTimersLocked()
	t.mu.Unlock()

	if wasRunning {
		t.endPageView()
		t.goOffline()
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	if err := t.Flush(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("analytics sends still in flight at shutdown")
	}
	t.cancel()
}

// Flush waits until every send started so far has finished or ctx is done.
func (t *Tracker) Flush(ctx context.Context) error {
	return t.flight.wait(ctx)
}

// Recent returns the last emitted events and funnel stages, oldest first.
func (t *Tracker) Recent() []Record {
	return t.recent.snapshot()
}

// SessionID returns the session id, creating it on first use.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionIDLocked()
}

func (t *Tracker) Fingerprint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fingerprint
}

func (t *Tracker) UTM() models.UTMParams {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.utm
}

// Online reports whether the session is currently considered active.
func (t *Tracker) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

func (t *Tracker) destroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateDestroyed
}

func (t *Tracker) startTimers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateRunning {
		return
	}
	if t.inactivity > 0 {
		t.idleTimer = time.AfterFunc(t.inactivity, t.onInactive)
	}
	if t.heartbeat > 0 {
		stop := make(chan struct{})
		t.stopBeat = stop
		ticker := time.NewTicker(t.heartbeat)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					t.beat()
				}
			}
		}()
	}
}

func (t *Tracker) stopTimersLocked() {
	if t.stopBeat != nil {
		close(t.stopBeat)
		t.stopBeat = nil
	}
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	if t.scrollTimer != nil {
		t.scrollTimer.Stop()
		t.scrollTimer = nil
	}
}

// beat re-upserts the session so the collector keeps it alive.
func (t *Tracker) beat() {
	t.mu.Lock()
	if t.state != stateRunning || !t.online {
		t.mu.Unlock()
		return
	}
	upsert := t.sessionUpsertLocked()
	t.mu.Unlock()

	t.dispatch("heartbeat", func(ctx context.Context) error {
		return t.collector.UpsertSession(ctx, upsert)
	})
}

// dispatch runs fn on its own goroutine with a bounded context. Errors and
// panics are logged and go no further.
func (t *Tracker) dispatch(call string, fn func(ctx context.Context) error) {
	t.flight.add()
	go func() {
		defer t.flight.done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error().Str("call", call).Interface("panic", r).Msg("analytics send panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(t.baseCtx, t.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			t.logger.Warn().Str("call", call).Err(err).Msg("analytics send failed")
		}
	}()
}

// inflight counts running sends. Unlike sync.WaitGroup it tolerates new
// sends starting while someone is waiting.
type inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (f *inflight) add() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		close(f.idle)
	}
}

func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	if f.n == 0 {
		f.mu.Unlock()
		return nil
	}
	idle := f.idle
	f.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
