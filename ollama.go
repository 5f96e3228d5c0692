package memstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OllamaEmbedder implements Embedder using the Ollama HTTP API (POST /api/embed).
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaEmbedder creates an embedder that calls the Ollama /api/embed endpoint.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates vector embeddings for the given texts via the Ollama API.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := ollamaEmbedRequest{
		Model: e.model,
		Input: texts,
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ollama embed: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: HTTP %d: %s", resp.StatusCode, body)
	}

	var embedResp ollamaEmbedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("ollama embed: unmarshal: %w", err)
	}

	if len(embedResp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama embed: empty response")
	}

	return embedResp.Embeddings, nil
}

// Model returns the configured Ollama embedding model name.
func (e *OllamaEmbedder) Model() string {
	return e.model
}

// OllamaChatModel implements ChatModel using the Ollama HTTP API
// (POST /api/generate), mapping tiers to distinct model names.
type OllamaChatModel struct {
	baseURL string
	models  map[ChatTier]string
	client  *http.Client
}

// NewOllamaChatModel creates a tiered chat model. Any tier absent from
// models falls back to the default tier's model.
func NewOllamaChatModel(baseURL string, models map[ChatTier]string) *OllamaChatModel {
	return &OllamaChatModel{baseURL: baseURL, models: models, client: &http.Client{}}
}

type ollamaGenerateRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Stream  bool   `json:"stream"`
	Options struct {
		Temperature float64 `json:"temperature,omitempty"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// Complete implements ChatModel.
func (m *OllamaChatModel) Complete(ctx context.Context, req ChatRequest) (string, error) {
	model := m.models[req.Tier]
	if model == "" {
		model = m.models[ChatTierDefault]
	}
	if model == "" {
		return "", fmt.Errorf("memstore: ollama: no model configured for tier %q", req.Tier)
	}

	body := ollamaGenerateRequest{Model: model, Prompt: req.Prompt, Stream: false}
	body.Options.Temperature = req.Temperature
	body.Options.NumPredict = req.MaxTokens

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("memstore: ollama chat: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("memstore: ollama chat: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("memstore: ollama chat: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("memstore: ollama chat: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("memstore: ollama chat: HTTP %d: %s", resp.StatusCode, respBody)
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("memstore: ollama chat: unmarshal: %w", err)
	}
	return out.Response, nil
}
