package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cim-backend/internal/providers"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient("test-key", "gpt-4o")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.apiURL = srv.URL
	return c
}

func TestInvokeVisionRequestShape(t *testing.T) {
	var captured chatRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("bad auth header: %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":   "gpt-4o",
			"choices": []map[string]any{{"message": map[string]any{"content": `{"confidence": 80}`}}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	})

	resp, err := c.Invoke(context.Background(), providers.Request{
		Prompt: "extract",
		Images: []string{"aGVsbG8=", "d29ybGQ="},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.Text != `{"confidence": 80}` {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Fatalf("usage not carried over: %+v", resp.Usage)
	}

	if captured.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json_object response format, got %q", captured.ResponseFormat.Type)
	}
	if captured.Temperature == nil || *captured.Temperature != 0 {
		t.Fatal("expected temperature pinned to zero")
	}
	raw, _ := json.Marshal(captured.Messages[0].Content)
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		t.Fatalf("content is not multi-part: %v", err)
	}
	if len(parts) != 3 || parts[0].Type != "text" || parts[1].Type != "image_url" {
		t.Fatalf("unexpected content parts: %+v", parts)
	}
	if parts[1].ImageURL.URL != "data:image/jpeg;base64,aGVsbG8=" {
		t.Fatalf("image not wrapped as data URI: %q", parts[1].ImageURL.URL)
	}
}

func TestInvokeMapsStatusToErrorKind(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   providers.ErrorKind
	}{
		{name: "unauthorized", status: 401, want: providers.KindAuthError},
		{name: "forbidden", status: 403, want: providers.KindAuthError},
		{name: "rate limited", status: 429, want: providers.KindRateLimited},
		{name: "server error", status: 500, want: providers.KindHTTPError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.Invoke(context.Background(), providers.Request{Prompt: "p", Text: "t"})
			var perr *providers.Error
			if !errors.As(err, &perr) {
				t.Fatalf("expected providers.Error, got %v", err)
			}
			if perr.Kind != tt.want || perr.StatusCode != tt.status {
				t.Fatalf("got kind %s status %d, want %s %d", perr.Kind, perr.StatusCode, tt.want, tt.status)
			}
			if perr.Provider != "openai" {
				t.Fatalf("error not tagged with provider: %q", perr.Provider)
			}
		})
	}
}

func TestInvokeRejectsEmptyChoices(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})
	_, err := c.Invoke(context.Background(), providers.Request{Prompt: "p", Text: "t"})
	var perr *providers.Error
	if !errors.As(err, &perr) || perr.Kind != providers.KindMalformedResponse {
		t.Fatalf("expected malformed_response, got %v", err)
	}
}
