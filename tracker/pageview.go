package tracker

import (
	"context"
	"errors"
	"math"
	"net/url"
	"strings"
	"time"

	"craftshop/storefront/models"
)

// PageType is the coarse classification of a storefront URL.
type PageType string

const (
	PageHome     PageType = "home"
	PageProduct  PageType = "product"
	PageCategory PageType = "category"
	PageCheckout PageType = "checkout"
	PageCart     PageType = "cart"
	PageThankYou PageType = "thank_you"
	PageUser     PageType = "user"
	PageAdmin    PageType = "admin"
	PageOther    PageType = "other"
)

var errNoPageViewID = errors.New("page view was never opened on the collector")

type pageView struct {
	url       string
	path      string
	pageType  PageType
	productID string
	startedAt time.Time
	scroll    int
	clicks    int

	// ready is closed once the open call returns; id is set before that.
	ready chan struct{}
	id    string
}

// ClassifyPage maps a URL path to a page type and, for product pages, the
// product id it shows.
func ClassifyPage(path string) (PageType, string) {
	p := strings.ToLower(strings.Trim(path, "/"))
	segs := strings.Split(p, "/")
	first := segs[0]

	switch {
	case p == "":
		return PageHome, ""
	case (first == "product" || first == "products") && len(segs) > 1 && segs[1] != "":
		// keep the id's original case
		orig := strings.Split(strings.Trim(path, "/"), "/")
		return PageProduct, orig[1]
	case first == "products" || first == "category" || first == "categories" || first == "catalog" || first == "shop":
		return PageCategory, ""
	case first == "cart":
		return PageCart, ""
	case first == "checkout":
		if len(segs) > 1 && (segs[1] == "success" || segs[1] == "thank-you") {
			return PageThankYou, ""
		}
		return PageCheckout, ""
	case first == "thank-you" || first == "thanks" || first == "order-success":
		return PageThankYou, ""
	case first == "user" || first == "account" || first == "profile" || first == "login" || first == "register":
		return PageUser, ""
	case first == "admin":
		return PageAdmin, ""
	default:
		return PageOther, ""
	}
}

// TrackPageView closes the open page view, if any, and opens a new one for
// the current location with fresh dwell, scroll and click counters.
func (t *Tracker) TrackPageView() {
	t.mu.Lock()
	if t.state != stateRunning {
		t.mu.Unlock()
		return
	}
	prev := t.takePageLocked()

	loc := t.env.location()
	path := loc
	if u, err := url.Parse(loc); err == nil {
		path = u.Path
	}
	pageType, productID := ClassifyPage(path)
	pv := &pageView{
		url:       loc,
		path:      path,
		pageType:  pageType,
		productID: productID,
		startedAt: t.now(),
		ready:     make(chan struct{}),
	}
	t.page = pv
	open := models.PageViewOpen{
		SessionID: t.sessionIDLocked(),
		UserID:    t.userID(),
		URL:       loc,
		Path:      path,
		PageType:  string(pageType),
		ProductID: productID,
		Referrer:  t.env.referrer(),
		StartedAt: pv.startedAt,
	}
	t.mu.Unlock()

	if prev != nil {
		t.closePageView(prev)
	}

	t.dispatch("open page view", func(ctx context.Context) error {
		defer close(pv.ready)
		id, err := t.collector.OpenPageView(ctx, open)
		if err != nil {
			return err
		}
		pv.id = id
		return nil
	})

	if pageType == PageProduct {
		t.TrackEvent(Event{Type: models.EventProductView, Category: "ecommerce", ProductID: productID, Label: productID})
		t.TrackFunnel(Funnel{Stage: models.StageViewedProduct})
	}
}

// takePageLocked detaches the open page view, folding in any scroll sample
// still waiting on the debounce timer.
func (t *Tracker) takePageLocked() *pageView {
	pv := t.page
	t.page = nil
	if t.scrollTimer != nil {
		t.scrollTimer.Stop()
		t.scrollTimer = nil
	}
	if pv != nil && t.pendingScroll > pv.scroll {
		pv.scroll = t.pendingScroll
	}
	t.pendingScroll = 0
	return pv
}

func (t *Tracker) endPageView() {
	t.mu.Lock()
	pv := t.takePageLocked()
	t.mu.Unlock()
	if pv != nil {
		t.closePageView(pv)
	}
}

func (t *Tracker) closePageView(pv *pageView) {
	ended := t.now()
	msg := models.PageViewClose{
		DurationMs:  ended.Sub(pv.startedAt).Milliseconds(),
		ScrollDepth: pv.scroll,
		Clicks:      pv.clicks,
		EndedAt:     ended,
	}

	t.dispatch("close page view", func(ctx context.Context) error {
		select {
		case <-pv.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		if pv.id == "" {
			return errNoPageViewID
		}
		return t.collector.ClosePageView(ctx, pv.id, msg)
	})
}

// ScrollPercent converts a scroll position into the percentage of the
// scrollable height reached, 0 to 100.
func ScrollPercent(scrollTop, viewportHeight, documentHeight float64) int {
	scrollable := documentHeight - viewportHeight
	if scrollable <= 0 {
		return 100
	}
	pct := math.Round(scrollTop / scrollable * 100)
	return int(math.Max(0, math.Min(100, pct)))
}

// OnScroll records a scroll position. Samples are debounced; the page's
// scroll depth only ever grows.
func (t *Tracker) OnScroll(scrollTop, viewportHeight, documentHeight float64) {
	pct := ScrollPercent(scrollTop, viewportHeight, documentHeight)
	t.mu.Lock()
	if t.state != stateRunning || t.page == nil {
		t.mu.Unlock()
		return
	}
	if pct > t.pendingScroll {
		t.pendingScroll = pct
	}
	if t.scrollTimer != nil {
		t.scrollTimer.Stop()
	}
	page := t.page
	t.scrollTimer = time.AfterFunc(t.debounce, func() { t.applyScroll(page) })
	t.mu.Unlock()

	t.OnActivity()
}

func (t *Tracker) applyScroll(pv *pageView) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.page != pv {
		return
	}
	if t.pendingScroll > pv.scroll {
		pv.scroll = t.pendingScroll
	}
	t.scrollTimer = nil
}

// ScrollDepth returns the deepest scroll percentage applied to the open page.
func (t *Tracker) ScrollDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.page == nil {
		return 0
	}
	return t.page.scroll
}

// OnClick counts a click on the open page.
func (t *Tracker) OnClick() {
	t.mu.Lock()
	if t.state == stateRunning && t.page != nil {
		t.page.clicks++
	}
	t.mu.Unlock()
	t.OnActivity()
}

// Clicks returns the click count of the open page.
func (t *Tracker) Clicks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.page == nil {
		return 0
	}
	return t.page.clicks
}

// OnActivity restarts the inactivity window. A session that went offline
// through inactivity comes back online.
func (t *Tracker) OnActivity() {
	t.mu.Lock()
	if t.state != stateRunning {
		t.mu.Unlock()
		return
	}
	if t.idleTimer != nil {
		t.idleTimer.Reset(t.inactivity)
	}
	if t.online {
		t.mu.Unlock()
		return
	}
	t.online = true
	upsert := t.sessionUpsertLocked()
	t.mu.Unlock()

	t.dispatch("resume session", func(ctx context.Context) error {
		return t.collector.UpsertSession(ctx, upsert)
	})
}

// OnBeforeUnload ends the open page view and marks the session offline,
// giving those sends a short, bounded chance to complete.
func (t *Tracker) OnBeforeUnload() {
	if t.destroyed() {
		return
	}
	t.endPageView()
	t.goOffline()

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	if err := t.Flush(ctx); err != nil {
		t.logger.Debug().Err(err).Msg("unload sends not confirmed")
	}
}
