package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Embedder turns a query into a vector. The OpenAI client satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Retriever queries a Chroma collection of business knowledge documents and
// returns the top matching passages for an utterance. Retrieval is strictly
// best-effort: any failure degrades to empty context, never to an error the
// caller must handle.
type Retriever struct {
	HTTPClient *http.Client
	BaseURL    string
	embedder   Embedder
	topK       int
}

// NewRetriever creates a retriever against a Chroma server.
func NewRetriever(baseURL string, embedder Embedder) *Retriever {
	return &Retriever{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		embedder:   embedder,
		topK:       5,
	}
}

type chromaQueryRequest struct {
	QueryEmbeddings [][]float64    `json:"query_embeddings"`
	NResults        int            `json:"n_results"`
	Where           map[string]any `json:"where,omitempty"`
}

type chromaQueryResponse struct {
	Documents [][]string `json:"documents"`
}

// Retrieve returns the business's most relevant knowledge passages joined by
// blank lines, or "" when nothing relevant exists or retrieval fails.
func (r *Retriever) Retrieve(ctx context.Context, businessID, query string) string {
	if r.BaseURL == "" || businessID == "" || strings.TrimSpace(query) == "" {
		return ""
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("rag: embed query failed: %v", err)
		return ""
	}

	reqBody, _ := json.Marshal(chromaQueryRequest{
		QueryEmbeddings: [][]float64{vec},
		NResults:        r.topK,
		Where:           map[string]any{"business_id": businessID},
	})
	url := fmt.Sprintf("%s/api/v1/collections/business_knowledge/query", r.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		log.Printf("rag: query failed: %v", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		log.Printf("rag: query status=%d body=%s", resp.StatusCode, string(b))
		return ""
	}
	var qr chromaQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		log.Printf("rag: decode response: %v", err)
		return ""
	}
	if len(qr.Documents) == 0 {
		return ""
	}
	var passages []string
	for _, doc := range qr.Documents[0] {
		if strings.TrimSpace(doc) != "" {
			passages = append(passages, doc)
		}
	}
	return strings.Join(passages, "\n\n")
}
