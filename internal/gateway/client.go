package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/persona-chat-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ProviderClient issues chat-completion calls against OpenAI-compatible
// provider endpoints. One bounded timeout applies per attempt; the
// failover chain, not the client, decides what to try next.
type ProviderClient struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *logrus.Logger
}

// NewProviderClient creates a client with the given per-attempt timeout.
func NewProviderClient(timeout time.Duration, logger *logrus.Logger) *ProviderClient {
	return &ProviderClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		timeout: timeout,
		logger:  logger,
	}
}

// ChatCompletion sends the prompt payload to one provider and returns
// the assistant text. The call is detached from the caller's
// cancellation: a billed request that is already in flight is allowed
// to complete so its outcome can still be recorded.
func (c *ProviderClient) ChatCompletion(ctx context.Context, provider ProviderConfig, payload []models.Message, temperature float64, maxTokens int) (string, error) {
	reqBody := map[string]interface{}{
		"model":       provider.Model,
		"messages":    payload,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &ProviderError{Provider: provider.ID, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/chat/completions", strings.TrimSuffix(provider.APIBase, "/"))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", &ProviderError{Provider: provider.ID, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", provider.APIKey))

	c.logger.WithFields(logrus.Fields{
		"provider": provider.ID,
		"model":    provider.Model,
		"url":      url,
	}).Debug("Sending provider request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Provider: provider.ID, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{Provider: provider.ID, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"provider": provider.ID,
			"status":   resp.StatusCode,
			"body":     string(body),
		}).Error("Provider request failed")
		return "", &ProviderError{
			Provider: provider.ID,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("unexpected status: %s", string(body)),
		}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return "", &ProviderError{Provider: provider.ID, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if result.Error.Message != "" {
		return "", &ProviderError{Provider: provider.ID, Err: fmt.Errorf("provider error: %s", result.Error.Message)}
	}

	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", &ProviderError{Provider: provider.ID, Err: fmt.Errorf("empty response")}
	}

	return result.Choices[0].Message.Content, nil
}
