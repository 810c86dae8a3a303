package tracker

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"craftshop/storefront/kvstore"
	"craftshop/storefront/models"
)

// Keys used in the session-scoped and durable stores.
const (
	SessionIDKey   = "analytics_session_id"
	UTMKey         = "analytics_utm"
	UserStorageKey = "user"
)

func (t *Tracker) sessionIDLocked() string {
	if t.sessionID != "" {
		return t.sessionID
	}
	if raw, err := t.sessionKV.Get(SessionIDKey); err == nil && len(raw) > 0 {
		t.sessionID = string(raw)
		return t.sessionID
	} else if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		t.logger.Warn().Err(err).Msg("failed to read session id, generating a new one")
	}

	t.sessionID = uuid.NewString()
	if err := t.sessionKV.Set(SessionIDKey, []byte(t.sessionID)); err != nil {
		t.logger.Warn().Err(err).Msg("failed to persist session id")
	}
	return t.sessionID
}

// resolveUTMLocked stores the UTM set of rawURL when it carries a
// utm_source, and otherwise falls back to the set stored earlier in the
// session.
func (t *Tracker) resolveUTMLocked(rawURL string) models.UTMParams {
	if utm := ParseUTM(rawURL); utm.Source != "" {
		data, err := json.Marshal(utm)
		if err == nil {
			err = t.sessionKV.Set(UTMKey, data)
		}
		if err != nil {
			t.logger.Warn().Err(err).Msg("failed to persist UTM attribution")
		}
		return utm
	}

	raw, err := t.sessionKV.Get(UTMKey)
	if err != nil {
		return models.UTMParams{}
	}
	var stored models.UTMParams
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.logger.Warn().Err(err).Msg("discarding unreadable UTM attribution")
		return models.UTMParams{}
	}
	return stored
}

// ParseUTM extracts the utm_* query parameters of rawURL.
func ParseUTM(rawURL string) models.UTMParams {
	u, err := url.Parse(rawURL)
	if err != nil {
		return models.UTMParams{}
	}
	q := u.Query()
	return models.UTMParams{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
		Term:     q.Get("utm_term"),
		Content:  q.Get("utm_content"),
	}
}

func (t *Tracker) sessionUpsertLocked() models.SessionUpsert {
	device := ParseUserAgent(t.env.UserAgent)
	return models.SessionUpsert{
		SessionID:    t.sessionIDLocked(),
		Fingerprint:  t.fingerprint,
		UserID:       t.userID(),
		DeviceType:   device.DeviceType,
		Browser:      device.Browser,
		OS:           device.OS,
		Language:     t.env.Language,
		Timezone:     t.env.Timezone,
		ScreenWidth:  t.env.ScreenWidth,
		ScreenHeight: t.env.ScreenHeight,
		Referrer:     t.env.referrer(),
		LandingPage:  t.landing,
		CartItems:    t.safeCartCount(),
		UTM:          t.utm,
		UserAgent:    t.env.UserAgent,
		LastSeenAt:   t.now(),
		IsOnline:     t.online,
	}
}

func (t *Tracker) safeCartCount() (n int) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Msg("cart counter panicked")
			n = 0
		}
	}()
	if t.cartCount == nil {
		return 0
	}
	return t.cartCount()
}

// userID reads the cached authenticated user. Anonymous visitors have none.
func (t *Tracker) userID() string {
	return UserIDFrom(t.localKV)
}

// UserIDFrom returns the id of the user record cached under UserStorageKey,
// or "" when there is none. Numeric and string ids are both accepted.
func UserIDFrom(store kvstore.Store) string {
	if store == nil {
		return ""
	}
	raw, err := store.Get(UserStorageKey)
	if err != nil {
		return ""
	}
	var user struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &user); err != nil || len(user.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(user.ID, &s); err == nil {
		return s
	}
	id := strings.TrimSpace(string(user.ID))
	if id == "null" {
		return ""
	}
	return id
}

// goOffline marks the session offline once.
func (t *Tracker) goOffline() {
	t.mu.Lock()
	if !t.online {
		t.mu.Unlock()
		return
	}
	t.online = false
	msg := models.SessionOffline{SessionID: t.sessionIDLocked(), At: t.now()}
	t.mu.Unlock()

	t.dispatch("mark offline", func(ctx context.Context) error {
		return t.collector.MarkOffline(ctx, msg)
	})
}

func (t *Tracker) onInactive() {
	if t.destroyed() {
		return
	}
	t.logger.Debug().Msg("no activity, marking session offline")
	t.goOffline()
}

// Device is what the user agent says about the visitor's device.
type Device struct {
	DeviceType string
	Browser    string
	OS         string
}

// ParseUserAgent classifies a user agent string into device type, browser
// and operating system families.
func ParseUserAgent(ua string) Device {
	l := strings.ToLower(ua)
	d := Device{DeviceType: "desktop", Browser: "other", OS: "other"}

	switch {
	case strings.Contains(l, "ipad") || strings.Contains(l, "tablet"):
		d.DeviceType = "tablet"
	case strings.Contains(l, "android") && !strings.Contains(l, "mobile"):
		d.DeviceType = "tablet"
	case strings.Contains(l, "mobi") || strings.Contains(l, "iphone"):
		d.DeviceType = "mobile"
	}

	switch {
	case strings.Contains(l, "edg/"):
		d.Browser = "edge"
	case strings.Contains(l, "opr/") || strings.Contains(l, "opera"):
		d.Browser = "opera"
	case strings.Contains(l, "firefox/") || strings.Contains(l, "fxios/"):
		d.Browser = "firefox"
	case strings.Contains(l, "chrome/") || strings.Contains(l, "crios/"):
		d.Browser = "chrome"
	case strings.Contains(l, "safari/"):
		d.Browser = "safari"
	}

	switch {
	case strings.Contains(l, "iphone") || strings.Contains(l, "ipad"):
		d.OS = "ios"
	case strings.Contains(l, "android"):
		d.OS = "android"
	case strings.Contains(l, "windows"):
		d.OS = "windows"
	case strings.Contains(l, "mac os") || strings.Contains(l, "macintosh"):
		d.OS = "macos"
	case strings.Contains(l, "linux"):
		d.OS = "linux"
	}
	return d
}
