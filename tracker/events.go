package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"craftshop/storefront/models"
)

// TrackEvent emits one discrete event tagged with the session and, when
// known, the user. It returns immediately; delivery is best effort.
// Nothing is sent before Init or after Destroy.
func (t *Tracker) TrackEvent(ev Event) {
	if !ev.Type.Valid() {
		t.logger.Warn().Str("event", string(ev.Type)).Msg("dropping unknown analytics event type")
		return
	}

	t.mu.Lock()
	if t.state != stateRunning {
		t.mu.Unlock()
		return
	}
	sessionID := t.sessionIDLocked()
	pagePath := ""
	if t.page != nil {
		pagePath = t.page.path
	}
	t.mu.Unlock()

	payload := models.EventPayload{
		EventID:   uuid.NewString(),
		EventType: ev.Type,
		SessionID: sessionID,
		UserID:    t.userID(),
		Category:  ev.Category,
		Label:     ev.Label,
		Value:     ev.Value,
		ProductID: ev.ProductID,
		OrderID:   ev.OrderID,
		PagePath:  pagePath,
		Timestamp: t.now(),
	}
	if len(ev.Data) > 0 {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			t.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("event data not serialisable, sending without it")
		} else {
			payload.Data = data
		}
	}

	t.recent.add(Record{Kind: RecordEvent, Name: string(ev.Type), ProductID: ev.ProductID, OrderID: ev.OrderID, At: payload.Timestamp})
	t.dispatch("event "+string(ev.Type), func(ctx context.Context) error {
		return t.collector.PostEvent(ctx, payload)
	})
}

// TrackFunnel records that the session reached stage. Stages may arrive in
// any order; nothing here enforces the natural progression.
func (t *Tracker) TrackFunnel(f Funnel) {
	if !f.Stage.Valid() {
		t.logger.Warn().Str("stage", string(f.Stage)).Msg("dropping unknown funnel stage")
		return
	}

	t.mu.Lock()
	if t.state != stateRunning {
		t.mu.Unlock()
		return
	}
	sessionID := t.sessionIDLocked()
	t.mu.Unlock()

	payload := models.FunnelPayload{
		Stage:     f.Stage,
		SessionID: sessionID,
		UserID:    t.userID(),
		Cart:      f.Cart,
		OrderID:   f.OrderID,
		Timestamp: t.now(),
	}

	t.recent.add(Record{Kind: RecordFunnel, Name: string(f.Stage), OrderID: f.OrderID, At: payload.Timestamp})
	t.dispatch("funnel "+string(f.Stage), func(ctx context.Context) error {
		return t.collector.PostFunnel(ctx, payload)
	})
}

type RecordKind string

const (
	RecordEvent  RecordKind = "event"
	RecordFunnel RecordKind = "funnel"
)

// Record is a debug trace of one emission.
type Record struct {
	Kind      RecordKind `json:"kind"`
	Name      string     `json:"name"`
	ProductID string     `json:"productId,omitempty"`
	OrderID   string     `json:"orderId,omitempty"`
	At        time.Time  `json:"at"`
}

// ring keeps the last n records.
type ring struct {
	mu    sync.Mutex
	buf   []Record
	next  int
	count int
}

func newRing(n int) *ring {
	if n <= 0 {
		n = DefaultRecentSize
	}
	return &ring{buf: make([]Record, n)}
}

func (r *ring) add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *ring) snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, r.count)
	start := (r.next - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
