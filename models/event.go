// storefront/models/event.go
package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// AnalyticsEventType is one of the closed set of discrete events the storefront emits.
type AnalyticsEventType string

const (
	EventPageView       AnalyticsEventType = "page_view"
	EventProductView    AnalyticsEventType = "product_view"
	EventAddToCart      AnalyticsEventType = "add_to_cart"
	EventRemoveFromCart AnalyticsEventType = "remove_from_cart"
	EventBeginCheckout  AnalyticsEventType = "begin_checkout"
	EventCheckoutStep   AnalyticsEventType = "checkout_step"
	EventFormSubmit     AnalyticsEventType = "form_submit"
	EventPurchase       AnalyticsEventType = "purchase"
	EventPayment        AnalyticsEventType = "payment"
	EventSearch         AnalyticsEventType = "search"
	EventClick          AnalyticsEventType = "click"
	EventReviewSubmit   AnalyticsEventType = "review_submit"
	EventFAQOpen        AnalyticsEventType = "faq_open"
	EventGalleryOpen    AnalyticsEventType = "gallery_open"
	EventError          AnalyticsEventType = "error"
)

var eventTypes = map[AnalyticsEventType]struct{}{
	EventPageView: {}, EventProductView: {}, EventAddToCart: {}, EventRemoveFromCart: {},
	EventBeginCheckout: {}, EventCheckoutStep: {}, EventFormSubmit: {}, EventPurchase: {},
	EventPayment: {}, EventSearch: {}, EventClick: {}, EventReviewSubmit: {},
	EventFAQOpen: {}, EventGalleryOpen: {}, EventError: {},
}

// Valid reports whether t belongs to the known event set.
func (t AnalyticsEventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// FunnelStage is a named checkpoint between visiting the site and paying for an order.
type FunnelStage string

const (
	StageVisitedSite      FunnelStage = "visited_site"
	StageViewedProduct    FunnelStage = "viewed_product"
	StageAddedToCart      FunnelStage = "added_to_cart"
	StageStartedCheckout  FunnelStage = "started_checkout"
	StageFilledName       FunnelStage = "filled_name"
	StageFilledPhone      FunnelStage = "filled_phone"
	StageSelectedDelivery FunnelStage = "selected_delivery"
	StageFilledDelivery   FunnelStage = "filled_delivery"
	StageSelectedPayment  FunnelStage = "selected_payment"
	StageClickedSubmit    FunnelStage = "clicked_submit"
	StageCompletedOrder   FunnelStage = "completed_order"
	StagePaidOrder        FunnelStage = "paid_order"
)

// FunnelStages lists the stages in their natural order. The order is only
// used for reporting; emitting stages out of order is allowed.
var FunnelStages = []FunnelStage{
	StageVisitedSite,
	StageViewedProduct,
	StageAddedToCart,
	StageStartedCheckout,
	StageFilledName,
	StageFilledPhone,
	StageSelectedDelivery,
	StageFilledDelivery,
	StageSelectedPayment,
	StageClickedSubmit,
	StageCompletedOrder,
	StagePaidOrder,
}

// Position returns the index of s in FunnelStages, or -1.
func (s FunnelStage) Position() int {
	for i, stage := range FunnelStages {
		if stage == s {
			return i
		}
	}
	return -1
}

func (s FunnelStage) Valid() bool { return s.Position() >= 0 }

// UTMParams is the first-touch campaign attribution of a session.
type UTMParams struct {
	Source   string `json:"utmSource,omitempty"`
	Medium   string `json:"utmMedium,omitempty"`
	Campaign string `json:"utmCampaign,omitempty"`
	Term     string `json:"utmTerm,omitempty"`
	Content  string `json:"utmContent,omitempty"`
}

func (u UTMParams) Empty() bool { return u == UTMParams{} }

// SessionUpsert creates or refreshes a visitor session on the collector.
type SessionUpsert struct {
	SessionID    string    `json:"sessionId"`
	Fingerprint  string    `json:"fingerprint"`
	UserID       string    `json:"userId,omitempty"`
	DeviceType   string    `json:"deviceType"`
	Browser      string    `json:"browser"`
	OS           string    `json:"os"`
	Language     string    `json:"language"`
	Timezone     string    `json:"timezone"`
	ScreenWidth  int       `json:"screenWidth"`
	ScreenHeight int       `json:"screenHeight"`
	Referrer     string    `json:"referrer,omitempty"`
	LandingPage  string    `json:"landingPage"`
	CartItems    int       `json:"cartItems"`
	UTM          UTMParams `json:"utm"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	UserAgent    string    `json:"userAgent"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
	IsOnline     bool      `json:"isOnline"`
}

// PageViewOpen starts a page view. The collector answers with the page view id.
type PageViewOpen struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	URL       string    `json:"url"`
	Path      string    `json:"path"`
	PageType  string    `json:"pageType"`
	ProductID string    `json:"productId,omitempty"`
	Referrer  string    `json:"referrer,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// PageViewClose finalises a page view with its engagement counters.
type PageViewClose struct {
	DurationMs  int64     `json:"durationMs"`
	ScrollDepth int       `json:"scrollDepth"`
	Clicks      int       `json:"clicks"`
	EndedAt     time.Time `json:"endedAt"`
}

// EventPayload is one discrete analytics event as posted to the collector.
type EventPayload struct {
	EventID   string             `json:"eventId,omitempty"`
	EventType AnalyticsEventType `json:"eventType"`
	SessionID string             `json:"sessionId"`
	UserID    string             `json:"userId,omitempty"`
	Category  string             `json:"category,omitempty"`
	Label     string             `json:"label,omitempty"`
	Value     *float64           `json:"value,omitempty"`
	ProductID string             `json:"productId,omitempty"`
	OrderID   string             `json:"orderId,omitempty"`
	PagePath  string             `json:"pagePath,omitempty"`
	Data      json.RawMessage    `json:"data,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// FunnelProduct is a cart line as reported with a funnel stage.
type FunnelProduct struct {
	ProductID string   `json:"productId"`
	Quantity  int      `json:"quantity"`
	Options   []string `json:"options,omitempty"`
}

// CartContext is the cart state attached to checkout funnel stages.
type CartContext struct {
	Products []FunnelProduct `json:"products"`
	Total    decimal.Decimal `json:"total"`
}

// FunnelPayload records progress through the purchase funnel.
type FunnelPayload struct {
	Stage     FunnelStage  `json:"stage"`
	SessionID string       `json:"sessionId"`
	UserID    string       `json:"userId,omitempty"`
	Cart      *CartContext `json:"cart,omitempty"`
	OrderID   string       `json:"orderId,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// SessionOffline marks a session as no longer active.
type SessionOffline struct {
	SessionID string    `json:"sessionId"`
	At        time.Time `json:"at"`
}

// AnalyticsEvent is a stored event row, as written by the collector.
type AnalyticsEvent struct {
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	UserID     string          `json:"userId"`
	SessionID  string          `json:"sessionId"`
	Timestamp  time.Time       `json:"timestamp"`
	PagePath   string          `json:"pagePath"`
	Referrer   string          `json:"referrer"`
	UserAgent  string          `json:"userAgent"`
	IPAddress  string          `json:"ipAddress"`
	DurationMs int64           `json:"durationMs"`
	Category   string          `json:"category,omitempty"`
	Label      string          `json:"label,omitempty"`
	Value      float64         `json:"value,omitempty"`
	ProductID  string          `json:"productId,omitempty"`
	OrderID    string          `json:"orderId,omitempty"`
	EventData  json.RawMessage `json:"eventData,omitempty"`
}

type TopPathResult struct {
	PagePath string `json:"pagePath"`
	Count    uint64 `json:"count"`
}

// FunnelStageCount is the number of distinct sessions that reached a stage.
type FunnelStageCount struct {
	Stage    FunnelStage `json:"stage"`
	Sessions uint64      `json:"sessions"`
}
