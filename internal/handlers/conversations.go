package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListConversations returns the caller's conversations.
func (a *API) ListConversations(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	convs, err := a.store.List(c.Request.Context(), caller)
	if err != nil {
		a.logger.WithError(err).Error("Failed to list conversations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// ConversationMessages returns the ordered messages of a conversation.
func (a *API) ConversationMessages(c *gin.Context) {
	if _, ok := requireCaller(c); !ok {
		return
	}

	msgs, err := a.store.Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.logger.WithError(err).Error("Failed to load messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// DeleteConversation removes a conversation and all its messages.
func (a *API) DeleteConversation(c *gin.Context) {
	if _, ok := requireCaller(c); !ok {
		return
	}

	if err := a.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		a.logger.WithError(err).Error("Failed to delete conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
