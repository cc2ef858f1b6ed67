package grok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cim-backend/internal/providers"
)

// Grok exposes an OpenAI-compatible chat completions endpoint on x.ai.
const defaultAPIURL = "https://api.x.ai/v1/chat/completions"

// Client invokes xAI Grok for text-based extraction.
type Client struct {
	apiKey     string
	model      string
	apiURL     string
	httpClient *http.Client
}

// NewClient constructs a Grok adapter.
func NewClient(apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GROK_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("grok model is required")
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		apiURL: defaultAPIURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// Name identifies the adapter for breakers and attempt records.
func (c *Client) Name() string { return "grok" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Invoke sends the prompt plus document text. Grok is used only for text
// analysis; image requests are rejected before any network call.
func (c *Client) Invoke(ctx context.Context, req providers.Request) (providers.RawResponse, error) {
	if len(req.Images) > 0 {
		return providers.RawResponse{}, &providers.Error{Provider: c.Name(), Kind: providers.KindMalformedResponse, Message: "grok adapter does not accept image payloads"}
	}

	temp := float32(0)
	body := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt + "\n\n" + req.Text}},
		Temperature: &temp,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return providers.RawResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return providers.RawResponse{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return providers.RawResponse{}, &providers.Error{Provider: c.Name(), Kind: providers.KindTimeout, Message: err.Error()}
		}
		return providers.RawResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.RawResponse{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return providers.RawResponse{}, &providers.Error{
			Provider:   c.Name(),
			Kind:       providers.KindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    truncate(string(raw), 500),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return providers.RawResponse{}, &providers.Error{Provider: c.Name(), Kind: providers.KindMalformedResponse, Message: fmt.Sprintf("response parse: %v", err)}
	}
	if parsed.Error != nil {
		return providers.RawResponse{}, &providers.Error{Provider: c.Name(), Kind: providers.KindHTTPError, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return providers.RawResponse{}, &providers.Error{Provider: c.Name(), Kind: providers.KindMalformedResponse, Message: "response missing choices"}
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return providers.RawResponse{}, &providers.Error{Provider: c.Name(), Kind: providers.KindMalformedResponse, Message: "response empty content"}
	}

	out := providers.RawResponse{Text: content, Model: parsed.Model}
	if parsed.Usage != nil {
		out.Usage = &providers.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

var _ providers.Adapter = (*Client)(nil)
