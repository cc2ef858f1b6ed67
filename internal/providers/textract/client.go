// Package textract implements the OCR-first hybrid adapter: each page image
// goes through AWS Textract line detection, and the concatenated text is
// handed to an inner text-analysis adapter for structured extraction.
package textract

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"cim-backend/internal/providers"
)

// DetectAPI is the slice of the Textract client this adapter needs.
type DetectAPI interface {
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// Client runs OCR over page images and delegates analysis of the recovered
// text to an inner adapter.
type Client struct {
	ocr   DetectAPI
	inner providers.Adapter
}

// NewClient wires a Textract API client to a downstream text adapter.
func NewClient(ocr DetectAPI, inner providers.Adapter) (*Client, error) {
	if ocr == nil {
		return nil, fmt.Errorf("textract api client is required")
	}
	if inner == nil {
		return nil, fmt.Errorf("inner text adapter is required")
	}
	return &Client{ocr: ocr, inner: inner}, nil
}

// Name identifies the adapter for breakers and attempt records.
func (c *Client) Name() string { return "textract" }

// Invoke OCRs every page image in order and forwards the recovered text to
// the inner adapter. Requests that already carry text skip the OCR pass.
func (c *Client) Invoke(ctx context.Context, req providers.Request) (providers.RawResponse, error) {
	text := req.Text
	if len(req.Images) > 0 {
		recovered, err := c.extractText(ctx, req.Images)
		if err != nil {
			return providers.RawResponse{}, err
		}
		text = recovered
	}
	if strings.TrimSpace(text) == "" {
		return providers.RawResponse{}, &providers.Error{Provider: c.Name(), Kind: providers.KindMalformedResponse, Message: "no text recovered from document pages"}
	}
	return c.inner.Invoke(ctx, providers.Request{Prompt: req.Prompt, Text: text})
}

func (c *Client) extractText(ctx context.Context, images []string) (string, error) {
	var sb strings.Builder
	for i, img := range images {
		raw, err := base64.StdEncoding.DecodeString(stripDataURI(img))
		if err != nil {
			return "", &providers.Error{Provider: c.Name(), Kind: providers.KindMalformedResponse, Message: fmt.Sprintf("page %d: invalid base64: %v", i, err)}
		}
		out, err := c.ocr.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
			Document: &types.Document{Bytes: raw},
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", &providers.Error{Provider: c.Name(), Kind: providers.KindTimeout, Message: ctx.Err().Error()}
			}
			return "", &providers.Error{Provider: c.Name(), Kind: providers.KindHTTPError, Message: fmt.Sprintf("page %d: %v", i, err)}
		}
		sb.WriteString(fmt.Sprintf("--- Page %d ---\n", i+1))
		for _, block := range out.Blocks {
			if block.BlockType == types.BlockTypeLine && block.Text != nil {
				sb.WriteString(*block.Text)
				sb.WriteByte('\n')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func stripDataURI(encoded string) string {
	if strings.HasPrefix(encoded, "data:") {
		if idx := strings.Index(encoded, ","); idx >= 0 {
			return encoded[idx+1:]
		}
	}
	return encoded
}

var _ providers.Adapter = (*Client)(nil)
