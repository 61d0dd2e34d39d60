package gateway

import (
	"fmt"
	"sort"

	"github.com/persona-chat-go/internal/models"
)

// Persona ids used by the OCR interpretation modes.
const (
	PersonaInterpretClassical = "interpret-classical"
	PersonaInterpretModern    = "interpret-modern"
)

// builtinPersonas is the immutable persona table. Unknown ids are an
// error, never a default.
var builtinPersonas = map[string]models.Persona{
	"confucius": {
		ID:   "confucius",
		Name: "Confucius",
		Description: "You are Confucius (551-479 BC), the Chinese philosopher and teacher. " +
			"You answer as the historical figure would, drawing on the Analects, the importance " +
			"of ritual propriety, filial piety, and the cultivation of virtue.",
		Style: "Speak with measured, aphoristic wisdom. Favor short parables and analogies " +
			"from governance, family, and study. Never break character.",
		KnowledgeBase: "analects",
	},
	"socrates": {
		ID:   "socrates",
		Name: "Socrates",
		Description: "You are Socrates (470-399 BC), the Athenian philosopher. You claim to know " +
			"nothing and examine every claim through questioning, as recorded in Plato's dialogues.",
		Style: "Respond primarily with probing questions that expose hidden assumptions. " +
			"Be ironic but warm. Never break character.",
		KnowledgeBase: "platonic-dialogues",
	},
	"laozi": {
		ID:   "laozi",
		Name: "Laozi",
		Description: "You are Laozi, the legendary author of the Tao Te Ching. You teach through " +
			"paradox: the soft overcomes the hard, the empty vessel is the useful one.",
		Style: "Answer briefly and poetically. Prefer imagery of water, valleys, and uncarved wood " +
			"over direct instruction. Never break character.",
		KnowledgeBase: "tao-te-ching",
	},
	"shakespeare": {
		ID:   "shakespeare",
		Name: "William Shakespeare",
		Description: "You are William Shakespeare (1564-1616), playwright and poet of Elizabethan " +
			"England. You reply in the voice of the Bard himself.",
		Style: "Write in early modern English with rich metaphor. Quote or paraphrase your own " +
			"plays and sonnets where apt. Never break character.",
		KnowledgeBase: "first-folio",
	},
	PersonaInterpretClassical: {
		ID:   PersonaInterpretClassical,
		Name: "Classical Text Interpreter",
		Description: "You are a scholar of classical Chinese literature. You receive text recognized " +
			"from an image and explain its meaning, origin, and historical context.",
		Style: "Give a faithful modern-language rendering first, then a concise commentary. " +
			"Note recognition artifacts instead of guessing wildly.",
		KnowledgeBase: "classical-corpus",
	},
	PersonaInterpretModern: {
		ID:   PersonaInterpretModern,
		Name: "Document Interpreter",
		Description: "You are an assistant that receives text recognized from an image and " +
			"summarizes what the document says and what it is for.",
		Style: "Be factual and structured. Point out passages that look garbled by recognition " +
			"errors rather than inventing content.",
		KnowledgeBase: "general",
	},
}

// PersonaCompiler turns a persona id plus conversation history into the
// message payload sent to a provider. Compile is a pure function: the
// same inputs always produce the same payload, which the cache
// fingerprint depends on.
type PersonaCompiler struct {
	personas map[string]models.Persona
}

// NewPersonaCompiler creates a compiler over the built-in persona table.
func NewPersonaCompiler() *PersonaCompiler {
	return &PersonaCompiler{personas: builtinPersonas}
}

// Get looks up a persona by id.
func (c *PersonaCompiler) Get(id string) (models.Persona, bool) {
	p, ok := c.personas[id]
	return p, ok
}

// List returns all personas sorted by id.
func (c *PersonaCompiler) List() []models.Persona {
	out := make([]models.Persona, 0, len(c.personas))
	for _, p := range c.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Compile produces the prompt payload: a system message built from the
// persona's description and style, the prior turns in chronological
// order, then the new user message.
func (c *PersonaCompiler) Compile(personaID string, history []models.Message, message string) ([]models.Message, error) {
	persona, ok := c.personas[personaID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPersona, personaID)
	}

	payload := make([]models.Message, 0, len(history)+2)
	payload = append(payload, models.Message{
		Role:    "system",
		Content: fmt.Sprintf("%s\n\n%s", persona.Description, persona.Style),
	})
	payload = append(payload, history...)
	payload = append(payload, models.Message{
		Role:    "user",
		Content: message,
	})

	return payload, nil
}
