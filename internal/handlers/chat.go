package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/persona-chat-go/internal/gateway"
	"github.com/sirupsen/logrus"
)

const (
	maxMessageBytes = 4096
	historyLimit    = 20
)

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	PersonaID string `json:"persona_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

// ChatResponse carries the gateway result plus persistence status.
// Persisted is false when the LLM call succeeded but the conversation
// store failed; the reply is still returned, never discarded.
type ChatResponse struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Provider       string `json:"provider"`
	Content        string `json:"content"`
	LatencyMs      int64  `json:"latency_ms"`
	Cached         bool   `json:"cached"`
	Persisted      bool   `json:"persisted"`
}

// Chat handles one chat turn: it loads the stored history, drives the
// gateway, and appends the exchange to the conversation store.
func (a *API) Chat(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Message) > maxMessageBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message too long"})
		return
	}

	history, err := a.store.History(c.Request.Context(), caller, req.PersonaID, historyLimit)
	if err != nil {
		// A missing history degrades the turn, it does not block it.
		a.logger.WithError(err).WithFields(logrus.Fields{
			"caller_id": caller,
			"persona":   req.PersonaID,
		}).Warn("Failed to load conversation history")
		history = nil
	}

	result, err := a.gateway.SendMessage(c.Request.Context(), caller, req.PersonaID, req.Message, history)
	if err != nil {
		a.writeGatewayError(c, err)
		return
	}

	resp := ChatResponse{
		Provider:  result.Provider,
		Content:   result.Content,
		LatencyMs: result.LatencyMs,
		Cached:    result.Cached,
		Persisted: true,
	}

	conv, err := a.store.AppendExchange(c.Request.Context(), caller, req.PersonaID, req.Message, result.Content)
	if err != nil {
		// Degraded success: the reply was paid for and is returned; the
		// persistence failure is reported, not hidden, and the provider
		// is never re-called.
		a.logger.WithError(err).WithFields(logrus.Fields{
			"caller_id": caller,
			"persona":   req.PersonaID,
		}).Error("Exchange not persisted")
		resp.Persisted = false
	} else {
		resp.ConversationID = conv.ID
	}

	c.JSON(http.StatusOK, resp)
}

// ListPersonas serves the persona catalog.
func (a *API) ListPersonas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"personas": a.gateway.Personas()})
}

// Stats serves a snapshot of the usage accountant.
func (a *API) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, a.gateway.Stats())
}

func (a *API) writeGatewayError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gateway.ErrUnknownPersona):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, gateway.ErrAllProvidersUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
