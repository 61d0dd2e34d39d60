package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/persona-chat-go/internal/config"
	"github.com/persona-chat-go/internal/middleware"
)

func okProvider(t *testing.T, reply string, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, reply)
	}))
	t.Cleanup(server.Close)
	return server
}

func failingProvider(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"upstream down"}}`)
	}))
	t.Cleanup(server.Close)
	return server
}

type testGateway struct {
	gw       *Gateway
	registry *Registry
	limiter  *WindowLimiter
	cache    ResponseCache
	stats    *UsageStats
}

func newTestGateway(t *testing.T, entries []config.ProviderEntry, priority []string, maxCalls int) *testGateway {
	t.Helper()
	log := newTestLogger()

	registry := NewRegistry(&config.ProvidersConfig{Priority: priority, Entries: entries}, log)
	compiler := NewPersonaCompiler()
	limiter := NewWindowLimiter(time.Minute, maxCalls, log)
	cache := newMemoryCacheForTest(t, time.Minute)
	stats := NewUsageStats()
	client := NewProviderClient(5*time.Second, log)

	gw := New(registry, compiler, limiter, cache, stats, client, middleware.NewMetrics(), log, 0.7, 2048)
	return &testGateway{gw: gw, registry: registry, limiter: limiter, cache: cache, stats: stats}
}

func entryFor(id, base string) config.ProviderEntry {
	return config.ProviderEntry{ID: id, APIKey: "sk-test", APIBase: base, Model: id + "-model", Enabled: true}
}

func TestSendMessageFailoverOrder(t *testing.T) {
	var deepseekCalls, zhipuCalls, openaiCalls int32
	deepseek := failingProvider(t, &deepseekCalls)
	zhipu := failingProvider(t, &zhipuCalls)
	openai := okProvider(t, "the reply", &openaiCalls)

	tg := newTestGateway(t, []config.ProviderEntry{
		entryFor("deepseek", deepseek.URL),
		entryFor("zhipuai", zhipu.URL),
		entryFor("openai", openai.URL),
	}, []string{"deepseek", "zhipuai", "openai"}, 100)

	result, err := tg.gw.SendMessage(context.Background(), "alice", "confucius", "hello", nil)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if result.Provider != "openai" {
		t.Errorf("expected openai to serve the request, got %s", result.Provider)
	}
	if result.Content != "the reply" {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if deepseekCalls != 1 || zhipuCalls != 1 || openaiCalls != 1 {
		t.Errorf("unexpected call counts: deepseek=%d zhipuai=%d openai=%d",
			deepseekCalls, zhipuCalls, openaiCalls)
	}

	snap := tg.stats.Snapshot()
	if snap.FailedRequests != 2 || snap.SuccessfulRequests != 1 {
		t.Errorf("expected 2 failures and 1 success, got %d/%d",
			snap.FailedRequests, snap.SuccessfulRequests)
	}
	if snap.SuccessfulRequests+snap.FailedRequests != snap.TotalRequests {
		t.Error("stats invariant violated")
	}
}

func TestSendMessageAllProvidersUnavailable(t *testing.T) {
	var calls int32
	down := failingProvider(t, &calls)

	tg := newTestGateway(t, []config.ProviderEntry{
		entryFor("deepseek", down.URL),
		entryFor("zhipuai", down.URL),
	}, []string{"deepseek", "zhipuai"}, 100)

	_, err := tg.gw.SendMessage(context.Background(), "alice", "confucius", "hello", nil)
	if !errors.Is(err, ErrAllProvidersUnavailable) {
		t.Fatalf("expected ErrAllProvidersUnavailable, got %v", err)
	}

	// No cache entry may exist for the failed fingerprint.
	head, _ := tg.registry.CurrentProvider()
	fp := Fingerprint("confucius", "hello", head.ID, head.Model, 0.7, 2048)
	if _, found := tg.cache.Get(context.Background(), fp); found {
		t.Error("cache entry created for a failed request")
	}
}

func TestSendMessageCacheHit(t *testing.T) {
	var calls int32
	provider := okProvider(t, "cached answer", &calls)

	tg := newTestGateway(t, []config.ProviderEntry{
		entryFor("deepseek", provider.URL),
	}, []string{"deepseek"}, 100)

	ctx := context.Background()
	first, err := tg.gw.SendMessage(ctx, "alice", "confucius", "What is virtue?", nil)
	if err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if first.Cached {
		t.Fatal("first response reported as cached")
	}

	// Same request modulo case and whitespace is served from cache.
	second, err := tg.gw.SendMessage(ctx, "bob", "confucius", "  what IS virtue?  ", nil)
	if err != nil {
		t.Fatalf("second send failed: %v", err)
	}
	if !second.Cached {
		t.Fatal("second response not served from cache")
	}
	if second.Content != "cached answer" || second.Provider != "deepseek" {
		t.Errorf("unexpected cached result: %+v", second)
	}
	if calls != 1 {
		t.Errorf("provider called %d times, want 1", calls)
	}

	// Cache hits count as successes with latency zero.
	snap := tg.stats.Snapshot()
	if snap.SuccessfulRequests != 2 || snap.TotalRequests != 2 {
		t.Errorf("unexpected stats after cache hit: %+v", snap)
	}
}

func TestSendMessageCacheHitBypassesRateLimiter(t *testing.T) {
	var calls int32
	provider := okProvider(t, "answer", &calls)

	tg := newTestGateway(t, []config.ProviderEntry{
		entryFor("deepseek", provider.URL),
	}, []string{"deepseek"}, 1)

	ctx := context.Background()
	if _, err := tg.gw.SendMessage(ctx, "alice", "confucius", "hello", nil); err != nil {
		t.Fatalf("first send failed: %v", err)
	}

	// Quota for (alice, deepseek) is exhausted, but the identical
	// request costs nothing against the provider and must still serve.
	result, err := tg.gw.SendMessage(ctx, "alice", "confucius", "hello", nil)
	if err != nil {
		t.Fatalf("cache hit rejected by rate limiter: %v", err)
	}
	if !result.Cached {
		t.Fatal("expected a cache hit")
	}
}

func TestSendMessageSkipsRateLimitedCandidate(t *testing.T) {
	var deepseekCalls, zhipuCalls int32
	deepseek := okProvider(t, "from deepseek", &deepseekCalls)
	zhipu := okProvider(t, "from zhipuai", &zhipuCalls)

	tg := newTestGateway(t, []config.ProviderEntry{
		entryFor("deepseek", deepseek.URL),
		entryFor("zhipuai", zhipu.URL),
	}, []string{"deepseek", "zhipuai"}, 2)

	// Exhaust alice's deepseek quota directly.
	tg.limiter.Admit("alice", "deepseek")
	tg.limiter.Admit("alice", "deepseek")

	result, err := tg.gw.SendMessage(context.Background(), "alice", "confucius", "hello", nil)
	if err != nil {
		t.Fatalf("send failed despite admissible candidate: %v", err)
	}
	if result.Provider != "zhipuai" {
		t.Errorf("expected zhipuai to serve, got %s", result.Provider)
	}
	if deepseekCalls != 0 {
		t.Errorf("rate-limited provider was called %d times", deepseekCalls)
	}

	snap := tg.stats.Snapshot()
	if snap.FailuresByReason[ReasonRateLimited] != 1 {
		t.Errorf("rate limited failures = %d, want 1", snap.FailuresByReason[ReasonRateLimited])
	}
}

func TestSendMessageAllCandidatesRateLimited(t *testing.T) {
	var calls int32
	provider := okProvider(t, "never", &calls)

	tg := newTestGateway(t, []config.ProviderEntry{
		entryFor("deepseek", provider.URL),
	}, []string{"deepseek"}, 1)

	tg.limiter.Admit("alice", "deepseek")

	_, err := tg.gw.SendMessage(context.Background(), "alice", "confucius", "hello", nil)
	if !errors.Is(err, ErrAllProvidersUnavailable) {
		t.Fatalf("expected ErrAllProvidersUnavailable, got %v", err)
	}
	if calls != 0 {
		t.Errorf("provider called %d times while rate limited", calls)
	}
}

func TestSendMessageUnknownPersonaFailsFast(t *testing.T) {
	var calls int32
	provider := okProvider(t, "never", &calls)

	tg := newTestGateway(t, []config.ProviderEntry{
		entryFor("deepseek", provider.URL),
	}, []string{"deepseek"}, 100)

	_, err := tg.gw.SendMessage(context.Background(), "alice", "napoleon", "hello", nil)
	if !errors.Is(err, ErrUnknownPersona) {
		t.Fatalf("expected ErrUnknownPersona, got %v", err)
	}
	if calls != 0 {
		t.Error("provider called for an unknown persona")
	}

	snap := tg.stats.Snapshot()
	if snap.TotalRequests != 0 {
		t.Errorf("stats recorded %d requests for a rejected persona", snap.TotalRequests)
	}
}
