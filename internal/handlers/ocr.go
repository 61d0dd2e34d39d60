package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/persona-chat-go/internal/gateway"
	"github.com/persona-chat-go/internal/services/ocr"
	"github.com/sirupsen/logrus"
)

// InterpretRequest is the body of POST /api/v1/ocr/interpret. The
// recognition engine runs upstream of this service; the request
// carries its output.
type InterpretRequest struct {
	Text       string  `json:"text" binding:"required"`
	Confidence float64 `json:"confidence"`
	Mode       string  `json:"mode"`
}

// Interpret runs recognized text through the interpretation persona.
// Nothing is persisted for interpretation turns.
func (a *API) Interpret(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req InterpretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a.logger.WithFields(logrus.Fields{
		"caller_id":  caller,
		"mode":       req.Mode,
		"confidence": req.Confidence,
	}).Debug("Interpretation requested")

	text, err := a.interpreter.Interpret(c.Request.Context(), caller, req.Text, req.Mode)
	if err != nil {
		if gateway.IsTerminal(err) {
			a.writeGatewayError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = ocr.DefaultMode
	}

	c.JSON(http.StatusOK, gin.H{
		"interpretation": text,
		"mode":           mode,
	})
}
