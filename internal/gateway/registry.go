package gateway

import (
	"sync"

	"github.com/persona-chat-go/internal/config"
	"github.com/persona-chat-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ProviderConfig holds the credentials and endpoint of one configured
// provider. Values handed out by the registry are copies; an in-flight
// request keeps the snapshot it captured even if settings change
// mid-call.
type ProviderConfig struct {
	ID      string
	APIKey  string
	APIBase string
	Model   string
	Enabled bool
}

// supportedProviders is the closed set a settings update may reference.
// The "local" slot is reserved for an internal fallback and is accepted
// from configuration but not through updates.
var supportedProviders = map[string]bool{
	"deepseek": true,
	"zhipuai":  true,
	"openai":   true,
}

// Registry owns the provider configurations and the failover priority
// list. All reads return copies; updates replace values atomically
// under the lock.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*ProviderConfig
	order     []string // registration order, for providers absent from priority
	priority  []string
	logger    *logrus.Logger
}

// NewRegistry builds a registry from the loaded configuration.
func NewRegistry(cfg *config.ProvidersConfig, logger *logrus.Logger) *Registry {
	r := &Registry{
		providers: make(map[string]*ProviderConfig),
		logger:    logger,
	}

	for _, entry := range cfg.Entries {
		r.providers[entry.ID] = &ProviderConfig{
			ID:      entry.ID,
			APIKey:  entry.APIKey,
			APIBase: entry.APIBase,
			Model:   entry.Model,
			Enabled: entry.Enabled,
		}
		r.order = append(r.order, entry.ID)

		logger.WithFields(logrus.Fields{
			"provider": entry.ID,
			"model":    entry.Model,
			"enabled":  entry.Enabled,
		}).Info("Registered provider")
	}

	r.priority = append([]string(nil), cfg.Priority...)

	return r
}

// ListProviders returns the enabled providers in failover order:
// priority-listed providers first, then the rest in registration order.
func (r *Registry) ListProviders() []ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.providers))
	out := make([]ProviderConfig, 0, len(r.providers))

	for _, id := range r.priority {
		p, ok := r.providers[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		if p.Enabled {
			out = append(out, *p)
		}
	}

	for _, id := range r.order {
		p := r.providers[id]
		if seen[id] {
			continue
		}
		seen[id] = true
		if p.Enabled {
			out = append(out, *p)
		}
	}

	return out
}

// CurrentProvider returns the head of the effective failover chain.
func (r *Registry) CurrentProvider() (ProviderConfig, bool) {
	providers := r.ListProviders()
	if len(providers) == 0 {
		return ProviderConfig{}, false
	}
	return providers[0], true
}

// Update replaces the stored credentials of a supported provider. The
// key is not verified against the live provider here; verification
// happens lazily on first use. Empty apiBase or model keep the current
// values (falling back to provider defaults for new entries).
func (r *Registry) Update(id, apiKey, apiBase, model string) error {
	if !supportedProviders[id] {
		return ErrUnsupportedProvider
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[id]
	if !ok {
		p = &ProviderConfig{ID: id}
		if ref, found := supportedReference[id]; found {
			p.APIBase = ref.DefaultAPIBase
			p.Model = ref.DefaultModel
		}
		r.providers[id] = p
		r.order = append(r.order, id)
	}

	p.APIKey = apiKey
	if apiBase != "" {
		p.APIBase = apiBase
	}
	if model != "" {
		p.Model = model
	}
	p.Enabled = true

	r.logger.WithFields(logrus.Fields{
		"provider": id,
		"api_base": p.APIBase,
		"model":    p.Model,
	}).Info("Provider settings updated")

	return nil
}

// SetPriority replaces the whole failover priority list. Partial edits
// are not offered so readers never observe an inconsistent order.
func (r *Registry) SetPriority(priority []string) {
	r.mu.Lock()
	r.priority = append([]string(nil), priority...)
	r.mu.Unlock()

	r.logger.WithField("priority", priority).Info("Provider priority updated")
}

// Disable marks a provider as disabled. Providers are never removed.
func (r *Registry) Disable(id string) error {
	if !supportedProviders[id] {
		return ErrUnsupportedProvider
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[id]; ok {
		p.Enabled = false
	}
	return nil
}

// supportedReference is the static catalog served by the supported
// providers endpoint.
var supportedReference = map[string]models.SupportedProvider{
	"deepseek": {
		Provider:       "deepseek",
		Name:           "DeepSeek",
		Description:    "DeepSeek chat completion API",
		URL:            "https://platform.deepseek.com",
		DefaultModel:   "deepseek-chat",
		DefaultAPIBase: "https://api.deepseek.com/v1",
	},
	"zhipuai": {
		Provider:       "zhipuai",
		Name:           "Zhipu AI",
		Description:    "Zhipu GLM chat completion API",
		URL:            "https://open.bigmodel.cn",
		DefaultModel:   "glm-4",
		DefaultAPIBase: "https://open.bigmodel.cn/api/paas/v4",
	},
	"openai": {
		Provider:       "openai",
		Name:           "OpenAI",
		Description:    "OpenAI chat completion API",
		URL:            "https://platform.openai.com",
		DefaultModel:   "gpt-4o-mini",
		DefaultAPIBase: "https://api.openai.com/v1",
	},
}

// SupportedProviders returns the static reference data for every
// provider the gateway can be configured with.
func SupportedProviders() []models.SupportedProvider {
	out := []models.SupportedProvider{
		supportedReference["deepseek"],
		supportedReference["zhipuai"],
		supportedReference["openai"],
	}
	return out
}
