package models

import (
	"time"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Persona represents a historical character profile that frames the
// system prompt of a conversation
type Persona struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Style         string `json:"style"`
	KnowledgeBase string `json:"knowledge_base"`
}

// CacheEntry represents a cached provider response
type CacheEntry struct {
	Response  string    `json:"response"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// ProviderInfo reports the currently active provider
type ProviderInfo struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Status   string `json:"status"`
}

// SupportedProvider is static reference data about a provider the
// gateway knows how to talk to
type SupportedProvider struct {
	Provider       string `json:"provider"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	URL            string `json:"url"`
	DefaultModel   string `json:"default_model"`
	DefaultAPIBase string `json:"default_api_base"`
}
