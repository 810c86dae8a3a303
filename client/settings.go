package client

import (
	"context"

	"craftshop/storefront/cart"
)

const PathSettings = "/api/settings"

// SettingsClient reads the store settings blob.
type SettingsClient struct {
	rest *restClient
}

func NewSettingsClient(baseURL string, opts ...Option) *SettingsClient {
	return &SettingsClient{rest: newRestClient("settings", baseURL, opts)}
}

// Get fetches the settings. Unparseable values fall back to defaults.
func (c *SettingsClient) Get(ctx context.Context) (cart.Settings, error) {
	var raw map[string]string
	if err := c.rest.getJSON(ctx, PathSettings, &raw); err != nil {
		return cart.Settings{}, err
	}
	return cart.ParseSettings(raw), nil
}

// SettingsSink receives fresh settings.
type SettingsSink interface {
	SetSettings(s cart.Settings)
}

// Apply fetches the settings and hands them to sink. On error sink keeps
// what it had, which is the defaults until a fetch succeeds.
func (c *SettingsClient) Apply(ctx context.Context, sink SettingsSink) error {
	s, err := c.Get(ctx)
	if err != nil {
		c.rest.logger.Warn().Err(err).Msg("store settings unavailable, keeping current values")
		return err
	}
	sink.SetSettings(s)
	return nil
}
