package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/persona-chat-go/internal/gateway"
)

// UpdateSettingsRequest is the body of PUT /api/v1/providers/settings.
type UpdateSettingsRequest struct {
	Provider  string `json:"provider" binding:"required"`
	APIKey    string `json:"api_key" binding:"required"`
	APIBase   string `json:"api_base"`
	ModelName string `json:"model_name"`
}

// ListSupportedProviders serves static reference data about the
// providers the gateway can be configured with.
func (a *API) ListSupportedProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": gateway.SupportedProviders()})
}

// CurrentProvider reports the head of the failover chain.
func (a *API) CurrentProvider(c *gin.Context) {
	c.JSON(http.StatusOK, a.gateway.CurrentProvider())
}

// UpdateProviderSettings replaces the credentials of one provider. The
// update is visible to subsequent gateway calls immediately; requests
// already in flight keep the snapshot they captured.
func (a *API) UpdateProviderSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.gateway.UpdateProviderSettings(req.Provider, req.APIKey, req.APIBase, req.ModelName); err != nil {
		if errors.Is(err, gateway.ErrUnsupportedProvider) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated", "provider": req.Provider})
}
