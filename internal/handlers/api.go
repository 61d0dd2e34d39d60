package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/persona-chat-go/internal/config"
	"github.com/persona-chat-go/internal/gateway"
	"github.com/persona-chat-go/internal/middleware"
	"github.com/persona-chat-go/internal/services/conversation"
	"github.com/persona-chat-go/internal/services/ocr"
	"github.com/sirupsen/logrus"
)

// API bundles the HTTP handlers with their collaborators.
type API struct {
	config      *config.Config
	gateway     *gateway.Gateway
	store       conversation.Store
	interpreter *ocr.Interpreter
	rateLimiter *middleware.CallerRateLimiter
	logger      *logrus.Logger
}

// NewAPI creates the handler set.
func NewAPI(
	cfg *config.Config,
	gw *gateway.Gateway,
	store conversation.Store,
	interpreter *ocr.Interpreter,
	rateLimiter *middleware.CallerRateLimiter,
	logger *logrus.Logger,
) *API {
	return &API{
		config:      cfg,
		gateway:     gw,
		store:       store,
		interpreter: interpreter,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// Register mounts all routes on the engine.
func (a *API) Register(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	v1.Use(a.rateLimiter.Middleware())

	v1.POST("/chat", a.Chat)
	v1.POST("/ocr/interpret", a.Interpret)

	v1.GET("/personas", a.ListPersonas)
	v1.GET("/stats", a.Stats)

	v1.GET("/providers", a.ListSupportedProviders)
	v1.GET("/providers/current", a.CurrentProvider)
	v1.PUT("/providers/settings", a.UpdateProviderSettings)

	v1.GET("/conversations", a.ListConversations)
	v1.GET("/conversations/:id/messages", a.ConversationMessages)
	v1.DELETE("/conversations/:id", a.DeleteConversation)
}

// callerID extracts the opaque caller identity. Authentication beyond
// this header is out of scope.
func callerID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

func requireCaller(c *gin.Context) (string, bool) {
	id := callerID(c)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-User-ID header"})
		return "", false
	}
	return id, true
}
