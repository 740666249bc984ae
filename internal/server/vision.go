// internal/server/vision.go
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultVisionBaseURL = "https://api.openai.com/v1"
	defaultVisionModel   = "gpt-4o"
	defaultVisionPrompt  = "What food is in this image? Estimate total calories."
	defaultMaxTokens     = 500
)

// Describer turns a food photo into the model's free-text description.
type Describer interface {
	Describe(ctx context.Context, image []byte, mimeType string) (string, error)
}

type VisionConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"-"`
	Model     string        `yaml:"model"`
	Prompt    string        `yaml:"prompt"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// VisionClient talks to an OpenAI-compatible chat completions endpoint.
type VisionClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	prompt     string
	maxTokens  int
}

// NewVisionClient fills unset fields from OPENAI_BASE_URL, OPENAI_API_KEY
// and VISION_MODEL, then from built-in defaults.
func NewVisionClient(cfg VisionConfig) *VisionClient {
	baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("OPENAI_BASE_URL"), defaultVisionBaseURL)
	apiKey := firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
	model := firstNonEmpty(cfg.Model, os.Getenv("VISION_MODEL"), defaultVisionModel)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &VisionClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		prompt:    firstNonEmpty(cfg.Prompt, defaultVisionPrompt),
		maxTokens: maxTokens,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *VisionClient) Describe(ctx context.Context, image []byte, mimeType string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("missing OPENAI_API_KEY")
	}
	if len(image) == 0 {
		return "", errors.New("empty image")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	completionRequest := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": c.prompt},
					{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
				},
			},
		},
		"max_tokens": c.maxTokens,
	}

	jsonData, err := json.Marshal(completionRequest)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("request failed with status %d and couldn't read body: %v", resp.StatusCode, err)
		}
		return "", fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("unexpected response format: no choices")
	}

	return completion.Choices[0].Message.Content, nil
}
