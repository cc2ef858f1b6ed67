package textract

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	awstextract "github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"cim-backend/internal/providers"
)

type fakeDetect struct {
	pages [][]string
	calls int
	err   error
}

func (f *fakeDetect) DetectDocumentText(ctx context.Context, params *awstextract.DetectDocumentTextInput, optFns ...func(*awstextract.Options)) (*awstextract.DetectDocumentTextOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	lines := f.pages[f.calls]
	f.calls++
	blocks := make([]types.Block, 0, len(lines)+1)
	blocks = append(blocks, types.Block{BlockType: types.BlockTypePage})
	for i := range lines {
		blocks = append(blocks, types.Block{BlockType: types.BlockTypeLine, Text: &lines[i]})
	}
	return &awstextract.DetectDocumentTextOutput{Blocks: blocks}, nil
}

type fakeInner struct {
	gotPrompt string
	gotText   string
	resp      providers.RawResponse
	err       error
}

func (f *fakeInner) Name() string { return "fake-llm" }

func (f *fakeInner) Invoke(ctx context.Context, req providers.Request) (providers.RawResponse, error) {
	f.gotPrompt = req.Prompt
	f.gotText = req.Text
	return f.resp, f.err
}

func page(t *testing.T, s string) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestInvokeOCRsPagesInOrder(t *testing.T) {
	ocr := &fakeDetect{pages: [][]string{
		{"Revenue 2023", "$4.2M"},
		{"EBITDA", "$900K"},
	}}
	inner := &fakeInner{resp: providers.RawResponse{Text: `{"confidence": 70}`, Model: "grok-2"}}
	c, err := NewClient(ocr, inner)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := c.Invoke(context.Background(), providers.Request{
		Prompt: "extract financials",
		Images: []string{page(t, "p1"), page(t, "p2")},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.Text != `{"confidence": 70}` {
		t.Fatalf("inner response not returned: %q", resp.Text)
	}
	if ocr.calls != 2 {
		t.Fatalf("expected 2 OCR calls, got %d", ocr.calls)
	}
	if inner.gotPrompt != "extract financials" {
		t.Fatalf("prompt not forwarded: %q", inner.gotPrompt)
	}
	for _, want := range []string{"--- Page 1 ---", "Revenue 2023", "$4.2M", "--- Page 2 ---", "EBITDA"} {
		if !strings.Contains(inner.gotText, want) {
			t.Fatalf("OCR text missing %q:\n%s", want, inner.gotText)
		}
	}
	if strings.Index(inner.gotText, "Revenue 2023") > strings.Index(inner.gotText, "EBITDA") {
		t.Fatal("pages out of order")
	}
}

func TestInvokeSkipsOCRWhenTextProvided(t *testing.T) {
	ocr := &fakeDetect{}
	inner := &fakeInner{resp: providers.RawResponse{Text: "{}"}}
	c, _ := NewClient(ocr, inner)

	if _, err := c.Invoke(context.Background(), providers.Request{Prompt: "p", Text: "already extracted"}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if ocr.calls != 0 {
		t.Fatalf("expected no OCR calls, got %d", ocr.calls)
	}
	if inner.gotText != "already extracted" {
		t.Fatalf("text not forwarded: %q", inner.gotText)
	}
}

func TestInvokeWrapsOCRFailure(t *testing.T) {
	ocr := &fakeDetect{err: errors.New("throttled")}
	inner := &fakeInner{}
	c, _ := NewClient(ocr, inner)

	_, err := c.Invoke(context.Background(), providers.Request{Prompt: "p", Images: []string{page(t, "p1")}})
	var perr *providers.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected providers.Error, got %v", err)
	}
	if perr.Provider != "textract" || perr.Kind != providers.KindHTTPError {
		t.Fatalf("unexpected error: %+v", perr)
	}
	if inner.gotText != "" {
		t.Fatal("inner adapter should not run after OCR failure")
	}
}

func TestInvokeRejectsEmptyRecoveredText(t *testing.T) {
	ocr := &fakeDetect{pages: [][]string{{}}}
	inner := &fakeInner{}
	c, _ := NewClient(ocr, inner)

	_, err := c.Invoke(context.Background(), providers.Request{Prompt: "p"})
	var perr *providers.Error
	if !errors.As(err, &perr) || perr.Kind != providers.KindMalformedResponse {
		t.Fatalf("expected malformed_response for empty text, got %v", err)
	}
}
