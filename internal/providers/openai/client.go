package openai

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

const defaultAPIURL = "https://api.openai.com/v1/chat/completions"

// Client invokes OpenAI Chat Completions for vision and text extraction.
type Client struct {
	apiKey     string
	model      string
	apiURL     string
	httpClient *http.Client
}

// NewClient constructs an OpenAI adapter.
func NewClient(apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("openai model is required")
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
func (c *Client) Name() string { return "openai" }

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float32       `json:"temperature,omitempty"`
	ResponseFormat responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
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
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Invoke sends the prompt plus page images (as data URIs) or plain text and
// returns the raw message content unparsed.
func (c *Client) Invoke(ctx context.Context, req providers.Request) (providers.RawResponse, error) {
	var content any
	if len(req.Images) > 0 {
		parts := make([]contentPart, 0, len(req.Images)+1)
		parts = append(parts, contentPart{Type: "text", Text: req.Prompt})
		for _, img := range req.Images {
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: asDataURI(img)},
			})
		}
		content = parts
	} else {
		content = req.Prompt + "\n\n" + req.Text
	}

	temp := float32(0)
	body := chatRequest{
		Model:          c.model,
		Messages:       []chatMessage{{Role: "user", Content: content}},
		Temperature:    &temp,
		ResponseFormat: responseFormat{Type: "json_object"},
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
		return providers.RawResponse{}, &providers.Error{Provider: c.Name(), Kind: providers.KindHTTPError, Message: fmt.Sprintf("%s (%s)", parsed.Error.Message, parsed.Error.Type)}
	}
	if len(parsed.Choices) == 0 {
		return providers.RawResponse{}, &providers.Error{Provider: c.Name(), Kind: providers.KindMalformedResponse, Message: "response missing choices"}
	}
	content2 := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content2 == "" {
		return providers.RawResponse{}, &providers.Error{Provider: c.Name(), Kind: providers.KindMalformedResponse, Message: "response empty content"}
	}

	out := providers.RawResponse{Text: content2, Model: parsed.Model}
	if parsed.Usage != nil {
		out.Usage = &providers.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

func asDataURI(img string) string {
	if strings.HasPrefix(img, "data:") {
		return img
	}
	return "data:image/jpeg;base64," + img
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

var _ providers.Adapter = (*Client)(nil)
