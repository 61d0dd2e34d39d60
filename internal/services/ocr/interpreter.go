package ocr

import (
	"context"
	"fmt"

	"github.com/persona-chat-go/internal/gateway"
	"github.com/persona-chat-go/internal/middleware"
	"github.com/sirupsen/logrus"
)

// interpretationModes maps the public mode names to the fixed personas
// the adapter speaks through.
var interpretationModes = map[string]string{
	"classical": gateway.PersonaInterpretClassical,
	"modern":    gateway.PersonaInterpretModern,
}

// DefaultMode is used when a request leaves the mode empty.
const DefaultMode = "classical"

// Interpreter turns text recognized from an image into an
// interpretation by driving a single turn through the gateway. It
// keeps no conversation state and persists nothing.
type Interpreter struct {
	gateway *gateway.Gateway
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// NewInterpreter creates an interpreter over the gateway.
func NewInterpreter(gw *gateway.Gateway, metrics *middleware.Metrics, logger *logrus.Logger) *Interpreter {
	return &Interpreter{gateway: gw, metrics: metrics, logger: logger}
}

// Modes returns the supported interpretation modes.
func Modes() []string {
	return []string{"classical", "modern"}
}

// Interpret runs the recognized text through the interpretation persona
// selected by mode and returns the interpretation.
func (i *Interpreter) Interpret(ctx context.Context, callerID, recognizedText, mode string) (string, error) {
	if mode == "" {
		mode = DefaultMode
	}

	personaID, ok := interpretationModes[mode]
	if !ok {
		return "", fmt.Errorf("unsupported interpretation mode: %s", mode)
	}

	result, err := i.gateway.SendMessage(ctx, callerID, personaID, recognizedText, nil)
	if err != nil {
		i.metrics.RecordInterpretRequest(mode, "error")
		return "", err
	}

	i.metrics.RecordInterpretRequest(mode, "success")
	i.logger.WithFields(logrus.Fields{
		"caller_id": callerID,
		"mode":      mode,
		"provider":  result.Provider,
		"cached":    result.Cached,
	}).Info("Interpretation produced")

	return result.Content, nil
}
