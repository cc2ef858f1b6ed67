package anthropic

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

const (
	defaultAPIURL = "https://api.anthropic.com/v1/messages"
	apiVersion    = "2023-06-01"
)

// Client invokes the Anthropic Messages API for vision and text extraction.
type Client struct {
	apiKey     string
	model      string
	maxTokens  int
	apiURL     string
	httpClient *http.Client
}

// NewClient constructs an Anthropic adapter.
func NewClient(apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("anthropic model is required")
	}
	return &Client{
		apiKey:    apiKey,
		model:     model,
		maxTokens: 8192,
		apiURL:    defaultAPIURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// Name identifies the adapter for breakers and attempt records.
func (c *Client) Name() string { return "anthropic" }

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Invoke sends the prompt plus page images (as base64 source blocks) or plain
// text and returns the concatenated text blocks unparsed.
func (c *Client) Invoke(ctx context.Context, req providers.Request) (providers.RawResponse, error) {
	blocks := make([]contentBlock, 0, len(req.Images)+1)
	for _, img := range req.Images {
		blocks = append(blocks, contentBlock{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: "image/jpeg",
				Data:      stripDataURI(img),
			},
		})
	}
	prompt := req.Prompt
	if len(req.Images) == 0 && req.Text != "" {
		prompt = req.Prompt + "\n\n" + req.Text
	}
	blocks = append(blocks, contentBlock{Type: "text", Text: prompt})

	body := messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  []message{{Role: "user", Content: blocks}},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return providers.RawResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return providers.RawResponse{}, err
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
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

	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return providers.RawResponse{}, &providers.Error{Provider: c.Name(), Kind: providers.KindMalformedResponse, Message: fmt.Sprintf("response parse: %v", err)}
	}
	if parsed.Error != nil {
		return providers.RawResponse{}, &providers.Error{Provider: c.Name(), Kind: providers.KindHTTPError, Message: fmt.Sprintf("%s (%s)", parsed.Error.Message, parsed.Error.Type)}
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return providers.RawResponse{}, &providers.Error{Provider: c.Name(), Kind: providers.KindMalformedResponse, Message: "response has no text content"}
	}

	out := providers.RawResponse{Text: text, Model: parsed.Model}
	if parsed.Usage != nil {
		out.Usage = &providers.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		}
	}
	return out, nil
}

func stripDataURI(encoded string) string {
	if strings.HasPrefix(encoded, "data:") {
		if idx := strings.Index(encoded, ","); idx >= 0 {
			return encoded[idx+1:]
		}
	}
	return encoded
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

var _ providers.Adapter = (*Client)(nil)
