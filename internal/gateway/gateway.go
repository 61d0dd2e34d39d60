package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/persona-chat-go/internal/middleware"
	"github.com/persona-chat-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Result is a successful gateway response, tagged with the provider
// that served it.
type Result struct {
	Provider  string `json:"provider"`
	Content   string `json:"content"`
	LatencyMs int64  `json:"latency_ms"`
	Cached    bool   `json:"cached"`
}

// Gateway orchestrates a chat request: persona compilation, cache
// lookup, rate limiting, ordered provider failover, and usage
// accounting. Candidates are tried strictly in order rather than in
// parallel, so a healthy high-priority provider never wastes calls
// against lower-priority ones.
type Gateway struct {
	registry *Registry
	compiler *PersonaCompiler
	limiter  *WindowLimiter
	cache    ResponseCache
	stats    *UsageStats
	client   *ProviderClient
	metrics  *middleware.Metrics
	logger   *logrus.Logger

	temperature float64
	maxTokens   int
}

// New creates a gateway over its collaborators.
func New(
	registry *Registry,
	compiler *PersonaCompiler,
	limiter *WindowLimiter,
	cache ResponseCache,
	stats *UsageStats,
	client *ProviderClient,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
	temperature float64,
	maxTokens int,
) *Gateway {
	return &Gateway{
		registry:    registry,
		compiler:    compiler,
		limiter:     limiter,
		cache:       cache,
		stats:       stats,
		client:      client,
		metrics:     metrics,
		logger:      logger,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// SendMessage drives one chat turn for a caller. On a cache hit the
// response is returned immediately, counted as a success with latency
// zero and without touching the provider quota. On a miss the enabled
// providers are tried in failover order until one succeeds; every
// candidate outcome is recorded. If all candidates fail or are rate
// limited, ErrAllProvidersUnavailable is returned and nothing is
// cached.
func (g *Gateway) SendMessage(ctx context.Context, callerID, personaID, message string, history []models.Message) (*Result, error) {
	payload, err := g.compiler.Compile(personaID, history, message)
	if err != nil {
		return nil, err
	}

	candidates := g.registry.ListProviders()
	if len(candidates) == 0 {
		g.logger.Warn("No enabled providers configured")
		return nil, ErrAllProvidersUnavailable
	}

	// The fingerprint is computed against the head provider: different
	// providers may legitimately answer differently, so cached answers
	// are only reused while the preferred provider is unchanged.
	head := candidates[0]
	fingerprint := Fingerprint(personaID, message, head.ID, head.Model, g.temperature, g.maxTokens)

	if entry, ok := g.cache.Get(ctx, fingerprint); ok {
		g.stats.RecordSuccess(entry.Provider, 0)
		g.metrics.RecordCacheHit()
		g.logger.WithFields(logrus.Fields{
			"caller_id": callerID,
			"persona":   personaID,
			"provider":  entry.Provider,
		}).Debug("Serving response from cache")

		return &Result{
			Provider: entry.Provider,
			Content:  entry.Response,
			Cached:   true,
		}, nil
	}
	g.metrics.RecordCacheMiss()

	for _, provider := range candidates {
		if ok, retryAfter := g.limiter.Admit(callerID, provider.ID); !ok {
			g.stats.RecordFailure(provider.ID, ReasonRateLimited)
			g.metrics.RecordRateLimitRejected("gateway")
			g.metrics.RecordGatewayRequest(provider.ID, "rate_limited", 0)
			g.logger.WithFields(logrus.Fields{
				"caller_id":   callerID,
				"provider":    provider.ID,
				"retry_after": retryAfter,
			}).Warn("Provider rate limited, trying next candidate")
			continue
		}

		g.stats.RecordAttempt(provider.ID)

		start := time.Now()
		text, err := g.client.ChatCompletion(ctx, provider, payload, g.temperature, g.maxTokens)
		elapsed := time.Since(start)

		if err != nil {
			g.stats.RecordFailure(provider.ID, ReasonProviderError)
			g.metrics.RecordGatewayRequest(provider.ID, "error", elapsed)
			g.logger.WithError(err).WithFields(logrus.Fields{
				"caller_id": callerID,
				"provider":  provider.ID,
			}).Warn("Provider call failed, trying next candidate")
			continue
		}

		latencyMs := elapsed.Milliseconds()
		g.stats.RecordSuccess(provider.ID, latencyMs)
		g.metrics.RecordGatewayRequest(provider.ID, "success", elapsed)

		if err := g.cache.Put(ctx, fingerprint, &models.CacheEntry{
			Response:  text,
			Provider:  provider.ID,
			CreatedAt: time.Now(),
		}); err != nil {
			g.logger.WithError(err).Warn("Failed to cache response")
		}

		return &Result{
			Provider:  provider.ID,
			Content:   text,
			LatencyMs: latencyMs,
		}, nil
	}

	g.logger.WithFields(logrus.Fields{
		"caller_id":  callerID,
		"persona":    personaID,
		"candidates": len(candidates),
	}).Error("All providers failed or rate limited")

	return nil, ErrAllProvidersUnavailable
}

// CurrentProvider reports the head of the effective failover chain.
func (g *Gateway) CurrentProvider() models.ProviderInfo {
	provider, ok := g.registry.CurrentProvider()
	if !ok {
		return models.ProviderInfo{Status: "not_configured"}
	}

	info := models.ProviderInfo{
		Provider: provider.ID,
		Model:    provider.Model,
		Status:   "active",
	}
	if ref, found := supportedReference[provider.ID]; found {
		info.Name = ref.Name
	} else {
		info.Name = provider.ID
	}
	if provider.APIKey == "" {
		info.Status = "missing_api_key"
	}
	return info
}

// UpdateProviderSettings replaces the credentials of a supported
// provider. Fails with ErrUnsupportedProvider outside the fixed set.
func (g *Gateway) UpdateProviderSettings(providerID, apiKey, apiBase, model string) error {
	return g.registry.Update(providerID, apiKey, apiBase, model)
}

// Personas returns the persona catalog.
func (g *Gateway) Personas() []models.Persona {
	return g.compiler.List()
}

// Stats returns a snapshot of the usage accountant.
func (g *Gateway) Stats() StatsSnapshot {
	return g.stats.Snapshot()
}

// IsTerminal reports whether an error is one of the gateway's terminal
// errors rather than a per-candidate failure.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrUnknownPersona) ||
		errors.Is(err, ErrUnsupportedProvider) ||
		errors.Is(err, ErrAllProvidersUnavailable)
}
