package client

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"libraai/internal/domain"
)

// UploadDocument sends a document to the assistant for indexing.
func (c *Client) UploadDocument(ctx context.Context, filename string, r io.Reader) (*domain.UploadResult, error) {
	var out domain.UploadResult
	if err := c.Upload(ctx, "/chat/upload", "file", filename, r, &out); err != nil {
		return nil, fmt.Errorf("upload document: %w", err)
	}
	return &out, nil
}

// Ask sends a question to the document assistant.
func (c *Client) Ask(ctx context.Context, question string) (*domain.Answer, error) {
	var out domain.Answer
	if err := c.DoJSON(ctx, http.MethodPost, "/chat/ask", nil, map[string]string{"question": question}, &out); err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}
	return &out, nil
}

// Documents lists the documents the current principal uploaded.
func (c *Client) Documents(ctx context.Context) ([]domain.Document, error) {
	var out struct {
		Documents []domain.Document `json:"documents"`
	}
	if err := c.DoJSON(ctx, http.MethodGet, "/chat/documents", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return out.Documents, nil
}

// AssistantHealth reports the assistant service liveness.
func (c *Client) AssistantHealth(ctx context.Context) (*domain.AssistantHealth, error) {
	var out domain.AssistantHealth
	if err := c.DoJSON(ctx, http.MethodGet, "/chat/health", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("assistant health: %w", err)
	}
	return &out, nil
}
