package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/persona-chat-go/internal/config"
	"github.com/persona-chat-go/internal/gateway"
	"github.com/persona-chat-go/internal/middleware"
	"github.com/persona-chat-go/internal/models"
	"github.com/persona-chat-go/internal/services/ocr"
	"github.com/sirupsen/logrus"
)

// stubStore is an in-memory conversation.Store for handler tests.
type stubStore struct {
	conversations map[string]*models.Conversation
	messages      map[string][]models.ChatMessage
	failAppend    bool
}

func newStubStore() *stubStore {
	return &stubStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.ChatMessage),
	}
}

func (s *stubStore) key(userID, persona string) string { return userID + "|" + persona }

func (s *stubStore) AppendExchange(ctx context.Context, userID, persona, userMessage, assistantMessage string) (*models.Conversation, error) {
	if s.failAppend {
		return nil, errors.New("store unavailable")
	}
	conv, ok := s.conversations[s.key(userID, persona)]
	if !ok {
		conv = &models.Conversation{ID: uuid.NewString(), UserID: userID, Persona: persona, Title: userMessage}
		s.conversations[s.key(userID, persona)] = conv
	}
	now := time.Now()
	s.messages[conv.ID] = append(s.messages[conv.ID],
		models.ChatMessage{ConversationID: conv.ID, Role: "user", Content: userMessage, CreatedAt: now},
		models.ChatMessage{ConversationID: conv.ID, Role: "assistant", Content: assistantMessage, CreatedAt: now},
	)
	return conv, nil
}

func (s *stubStore) History(ctx context.Context, userID, persona string, limit int) ([]models.Message, error) {
	conv, ok := s.conversations[s.key(userID, persona)]
	if !ok {
		return nil, nil
	}
	var history []models.Message
	for _, m := range s.messages[conv.ID] {
		history = append(history, models.Message{Role: m.Role, Content: m.Content})
	}
	return history, nil
}

func (s *stubStore) List(ctx context.Context, userID string) ([]models.Conversation, error) {
	var out []models.Conversation
	for _, c := range s.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *stubStore) Messages(ctx context.Context, conversationID string) ([]models.ChatMessage, error) {
	return s.messages[conversationID], nil
}

func (s *stubStore) Delete(ctx context.Context, conversationID string) error {
	for k, c := range s.conversations {
		if c.ID == conversationID {
			delete(s.conversations, k)
		}
	}
	delete(s.messages, conversationID)
	return nil
}

func fakeProvider(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, reply)
	}))
	t.Cleanup(server.Close)
	return server
}

func setupTestRouter(t *testing.T, providerURL string, store *stubStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{}
	metrics := middleware.NewMetrics()

	registry := gateway.NewRegistry(&config.ProvidersConfig{
		Priority: []string{"deepseek"},
		Entries: []config.ProviderEntry{
			{ID: "deepseek", APIKey: "sk-test", APIBase: providerURL, Model: "deepseek-chat", Enabled: true},
		},
	}, log)

	cache, err := gateway.NewResponseCache(&config.CacheConfig{
		Enabled: true, Backend: "memory", TTL: time.Minute, MaxSize: 100,
	}, log)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	gw := gateway.New(
		registry,
		gateway.NewPersonaCompiler(),
		gateway.NewWindowLimiter(time.Minute, 100, log),
		cache,
		gateway.NewUsageStats(),
		gateway.NewProviderClient(5*time.Second, log),
		metrics,
		log,
		0.7, 2048,
	)

	interpreter := ocr.NewInterpreter(gw, metrics, log)
	limiter := middleware.NewCallerRateLimiter(&config.HTTPLimitConfig{Enabled: false}, metrics, log)

	router := gin.New()
	NewAPI(cfg, gw, store, interpreter, limiter, log).Register(router)
	return router
}

func doJSON(router *gin.Engine, method, path, caller string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-User-ID", caller)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestChatSuccess(t *testing.T) {
	provider := fakeProvider(t, "Virtue is its own reward.")
	store := newStubStore()
	router := setupTestRouter(t, provider.URL, store)

	w := doJSON(router, "POST", "/api/v1/chat", "alice", ChatRequest{
		PersonaID: "confucius",
		Message:   "What is virtue?",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Provider != "deepseek" {
		t.Errorf("provider = %s, want deepseek", resp.Provider)
	}
	if !resp.Persisted || resp.ConversationID == "" {
		t.Errorf("exchange not persisted: %+v", resp)
	}

	msgs, _ := store.Messages(context.Background(), resp.ConversationID)
	if len(msgs) != 2 {
		t.Errorf("expected 2 stored messages, got %d", len(msgs))
	}
}

func TestChatUnknownPersona(t *testing.T) {
	provider := fakeProvider(t, "never")
	router := setupTestRouter(t, provider.URL, newStubStore())

	w := doJSON(router, "POST", "/api/v1/chat", "alice", ChatRequest{
		PersonaID: "napoleon",
		Message:   "hello",
	})

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestChatRequiresCaller(t *testing.T) {
	provider := fakeProvider(t, "never")
	router := setupTestRouter(t, provider.URL, newStubStore())

	w := doJSON(router, "POST", "/api/v1/chat", "", ChatRequest{
		PersonaID: "confucius",
		Message:   "hello",
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestChatDegradedSuccessOnStoreFailure(t *testing.T) {
	provider := fakeProvider(t, "the reply")
	store := newStubStore()
	store.failAppend = true
	router := setupTestRouter(t, provider.URL, store)

	w := doJSON(router, "POST", "/api/v1/chat", "alice", ChatRequest{
		PersonaID: "confucius",
		Message:   "hello",
	})

	// The reply is returned even though persistence failed.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Persisted {
		t.Error("persisted = true despite store failure")
	}
	if resp.Content != "the reply" {
		t.Errorf("reply discarded on store failure: %q", resp.Content)
	}
}

func TestUpdateProviderSettingsRejectsUnsupported(t *testing.T) {
	provider := fakeProvider(t, "never")
	router := setupTestRouter(t, provider.URL, newStubStore())

	w := doJSON(router, "PUT", "/api/v1/providers/settings", "admin", UpdateSettingsRequest{
		Provider: "anthropic",
		APIKey:   "sk-ant",
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	// Existing provider is untouched.
	w = doJSON(router, "GET", "/api/v1/providers/current", "admin", nil)
	var info models.ProviderInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to unmarshal provider info: %v", err)
	}
	if info.Provider != "deepseek" || info.Model != "deepseek-chat" {
		t.Errorf("deepseek changed after rejected update: %+v", info)
	}
}

func TestUpdateProviderSettingsApplied(t *testing.T) {
	provider := fakeProvider(t, "never")
	router := setupTestRouter(t, provider.URL, newStubStore())

	w := doJSON(router, "PUT", "/api/v1/providers/settings", "admin", UpdateSettingsRequest{
		Provider:  "deepseek",
		APIKey:    "sk-new",
		ModelName: "deepseek-coder",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, "GET", "/api/v1/providers/current", "admin", nil)
	var info models.ProviderInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to unmarshal provider info: %v", err)
	}
	if info.Model != "deepseek-coder" {
		t.Errorf("model = %s, want deepseek-coder", info.Model)
	}
}

func TestListSupportedProviders(t *testing.T) {
	provider := fakeProvider(t, "never")
	router := setupTestRouter(t, provider.URL, newStubStore())

	w := doJSON(router, "GET", "/api/v1/providers", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Providers []models.SupportedProvider `json:"providers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Providers) != 3 {
		t.Errorf("expected 3 supported providers, got %d", len(resp.Providers))
	}
}

func TestInterpret(t *testing.T) {
	provider := fakeProvider(t, "This passage is from the Analects.")
	router := setupTestRouter(t, provider.URL, newStubStore())

	w := doJSON(router, "POST", "/api/v1/ocr/interpret", "alice", InterpretRequest{
		Text:       "学而时习之",
		Confidence: 0.92,
		Mode:       "classical",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Interpretation string `json:"interpretation"`
		Mode           string `json:"mode"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Interpretation == "" || resp.Mode != "classical" {
		t.Errorf("unexpected interpretation response: %+v", resp)
	}
}

func TestInterpretUnsupportedMode(t *testing.T) {
	provider := fakeProvider(t, "never")
	router := setupTestRouter(t, provider.URL, newStubStore())

	w := doJSON(router, "POST", "/api/v1/ocr/interpret", "alice", InterpretRequest{
		Text: "some text",
		Mode: "poetry",
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	provider := fakeProvider(t, "reply")
	router := setupTestRouter(t, provider.URL, newStubStore())

	doJSON(router, "POST", "/api/v1/chat", "alice", ChatRequest{
		PersonaID: "confucius",
		Message:   "hello",
	})

	w := doJSON(router, "GET", "/api/v1/stats", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var snap gateway.StatsSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("failed to unmarshal stats: %v", err)
	}
	if snap.TotalRequests != 1 || snap.SuccessfulRequests != 1 {
		t.Errorf("unexpected stats: %+v", snap)
	}
	if snap.SuccessfulRequests+snap.FailedRequests != snap.TotalRequests {
		t.Error("stats invariant violated")
	}
}
