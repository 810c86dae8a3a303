package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"craftshop/storefront/cart"
)

// SettingsHandlers publishes the store settings the storefront prices
// delivery with.
type SettingsHandlers struct {
	settings map[string]string
}

// NewSettingsHandlers normalises raw so clients always see parseable amounts.
func NewSettingsHandlers(raw map[string]string) *SettingsHandlers {
	s := cart.ParseSettings(raw)
	published := make(map[string]string, len(raw)+2)
	for k, v := range raw {
		published[k] = v
	}
	published[cart.SettingFreeDeliveryThreshold] = s.FreeDeliveryThreshold.String()
	published[cart.SettingDeliveryCost] = s.DeliveryCost.String()
	return &SettingsHandlers{settings: published}
}

func (h *SettingsHandlers) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settings)
}
