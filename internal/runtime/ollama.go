// Package runtime provides contracts.ModelRuntime implementations: an
// in-memory MockRuntime for tests, and an OllamaRuntime driving a local
// Ollama-compatible HTTP endpoint.
package runtime

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentcore/dispatchcore/pkg/contracts"
	"github.com/agentcore/dispatchcore/pkg/types"
)

// DefaultEndpoint is Ollama's conventional local address.
const DefaultEndpoint = "http://localhost:11434"

// OllamaRuntime implements contracts.ModelRuntime against an
// Ollama-compatible OpenAI-style chat completions endpoint.
type OllamaRuntime struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllamaRuntime creates a runtime targeting endpoint (DefaultEndpoint
// if empty) using model for every call.
func NewOllamaRuntime(endpoint, model string, client *http.Client) *OllamaRuntime {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OllamaRuntime{endpoint: endpoint, model: model, client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Options  chatOptions   `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func optionsFromParams(p types.Params) chatOptions {
	return chatOptions{
		Temperature: p.Temperature,
		TopP:        p.TopP,
		TopK:        p.TopK,
		NumPredict:  p.MaxTokens,
	}
}

func (r *OllamaRuntime) post(ctx context.Context, messages []chatMessage, params types.Params) (chatResponse, error) {
	reqBody, err := json.Marshal(chatRequest{Model: r.model, Messages: messages, Options: optionsFromParams(params)})
	if err != nil {
		return chatResponse{}, &contracts.ModelError{Op: "encode", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return chatResponse{}, &contracts.ModelError{Op: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return chatResponse{}, &contracts.TransientError{Op: "request", Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		err := fmt.Errorf("ollama runtime: status %d: %s", httpResp.StatusCode, body)
		if httpResp.StatusCode >= 500 {
			return chatResponse{}, &contracts.TransientError{Op: "request", Err: err}
		}
		return chatResponse{}, &contracts.ModelError{Op: "request", Err: err}
	}

	var decoded chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return chatResponse{}, &contracts.TransientError{Op: "decode", Err: err}
	}
	return decoded, nil
}

func (r *OllamaRuntime) Generate(ctx context.Context, prompt, system string, params types.Params) (contracts.GenerateResult, error) {
	messages := systemPrefixed(system, []chatMessage{{Role: "user", Content: prompt}})
	resp, err := r.post(ctx, messages, params)
	if err != nil {
		return contracts.GenerateResult{}, err
	}
	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	return contracts.GenerateResult{
		Text:  text,
		Usage: types.TokenUsage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens},
	}, nil
}

func (r *OllamaRuntime) Chat(ctx context.Context, messages []types.Message, system string, params types.Params) (contracts.ChatResult, error) {
	converted := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	converted = systemPrefixed(system, converted)

	resp, err := r.post(ctx, converted, params)
	if err != nil {
		return contracts.ChatResult{}, err
	}
	var out types.Message
	if len(resp.Choices) > 0 {
		out = types.Message{Role: types.RoleAssistant, Content: resp.Choices[0].Message.Content}
	}
	return contracts.ChatResult{
		Message: out,
		Usage:   types.TokenUsage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens},
	}, nil
}

func (r *OllamaRuntime) Vision(ctx context.Context, image []byte, mediaType, prompt, system string, params types.Params) (contracts.ChatResult, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(image))
	content := []map[string]any{
		{"type": "text", "text": prompt},
		{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
	}
	messages := systemPrefixed(system, []chatMessage{{Role: "user", Content: content}})

	resp, err := r.post(ctx, messages, params)
	if err != nil {
		return contracts.ChatResult{}, err
	}
	var out types.Message
	if len(resp.Choices) > 0 {
		out = types.Message{Role: types.RoleAssistant, Content: resp.Choices[0].Message.Content}
	}
	return contracts.ChatResult{
		Message: out,
		Usage:   types.TokenUsage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens},
	}, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (r *OllamaRuntime) Embed(ctx context.Context, text string) (contracts.EmbedResult, error) {
	reqBody, err := json.Marshal(embedRequest{Model: r.model, Input: text})
	if err != nil {
		return contracts.EmbedResult{}, &contracts.ModelError{Op: "encode", Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return contracts.EmbedResult{}, &contracts.ModelError{Op: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return contracts.EmbedResult{}, &contracts.TransientError{Op: "request", Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		err := fmt.Errorf("ollama runtime: embed status %d: %s", httpResp.StatusCode, body)
		if httpResp.StatusCode >= 500 {
			return contracts.EmbedResult{}, &contracts.TransientError{Op: "request", Err: err}
		}
		return contracts.EmbedResult{}, &contracts.ModelError{Op: "request", Err: err}
	}

	var decoded embedResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return contracts.EmbedResult{}, &contracts.TransientError{Op: "decode", Err: err}
	}
	if len(decoded.Data) == 0 {
		return contracts.EmbedResult{}, &contracts.ModelError{Op: "embed", Err: fmt.Errorf("empty embedding response")}
	}
	return contracts.EmbedResult{Embedding: decoded.Data[0].Embedding}, nil
}

func (r *OllamaRuntime) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, &contracts.ModelError{Op: "build request", Err: err}
	}
	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, &contracts.TransientError{Op: "request", Err: err}
	}
	defer httpResp.Body.Close()

	var decoded struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return nil, &contracts.TransientError{Op: "decode", Err: err}
	}
	names := make([]string, 0, len(decoded.Models))
	for _, m := range decoded.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (r *OllamaRuntime) Pull(ctx context.Context, name string) error {
	reqBody, _ := json.Marshal(map[string]string{"name": name})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/api/pull", bytes.NewReader(reqBody))
	if err != nil {
		return &contracts.ModelError{Op: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return &contracts.TransientError{Op: "request", Err: err}
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return &contracts.ModelError{Op: "pull", Err: fmt.Errorf("status %d: %s", httpResp.StatusCode, body)}
	}
	return nil
}

func systemPrefixed(system string, messages []chatMessage) []chatMessage {
	if system == "" {
		return messages
	}
	out := make([]chatMessage, 0, len(messages)+1)
	out = append(out, chatMessage{Role: "system", Content: system})
	return append(out, messages...)
}
