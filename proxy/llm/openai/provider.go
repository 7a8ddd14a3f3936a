// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package openai provides the native API client for the OpenAI chat
// completions endpoint, with streaming and non-streaming modes.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the OpenAI API base URL.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultModel is used when neither the request nor the config names one.
	DefaultModel = "gpt-4o-mini"
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the OpenAI provider.
type Config struct {
	APIKey  string        // Required: OpenAI API key
	BaseURL string        // Optional: API base URL (default: https://api.openai.com)
	Model   string        // Optional: default model (default: gpt-4o-mini)
	Timeout time.Duration // Optional: HTTP timeout (default: 120s)
}

// Provider is a client for the OpenAI chat completions API.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  HTTPClient
}

// NewProvider creates a new OpenAI provider instance.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openAI API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// SetHTTPClient sets a custom HTTP client for testing.
func (p *Provider) SetHTTPClient(client HTTPClient) {
	p.client = client
}

// Model returns the configured default model.
func (p *Provider) Model() string {
	return p.model
}

// Message is one chat turn in OpenAI wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat completions request body.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Usage is the token accounting block of a response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatResponse is the chat completions response body.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// APIError is a structured error returned by the OpenAI API.
type APIError struct {
	StatusCode int
	Code       string
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openAI API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
}

// ChatCompletion performs a non-streaming chat completion.
func (p *Provider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	req.Stream = false

	resp, err := p.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var apiResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &apiResp, nil
}

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	Content string
	Done    bool
}

// StreamHandler receives stream chunks; returning an error aborts the stream.
type StreamHandler func(chunk StreamChunk) error

// streamEvent is one SSE data payload from the streaming endpoint.
type streamEvent struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// ChatCompletionStream performs a streaming chat completion, invoking handler
// for each content delta, and returns the accumulated response.
func (p *Provider) ChatCompletionStream(ctx context.Context, req ChatRequest, handler StreamHandler) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	req.Stream = true

	resp, err := p.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseAPIError(resp.StatusCode, body)
	}

	return p.processStream(resp.Body, req.Model, handler)
}

func (p *Provider) processStream(body io.Reader, model string, handler StreamHandler) (*ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	var content strings.Builder
	var finishReason, id, responseModel string
	var created int64
	var usage Usage

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // skip malformed events
		}

		if event.ID != "" {
			id = event.ID
		}
		if event.Model != "" {
			responseModel = event.Model
		}
		if event.Created != 0 {
			created = event.Created
		}
		if event.Usage != nil {
			usage = *event.Usage
		}

		if len(event.Choices) > 0 {
			choice := event.Choices[0]
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				if handler != nil {
					if err := handler(StreamChunk{Content: choice.Delta.Content}); err != nil {
						return nil, fmt.Errorf("handler error: %w", err)
					}
				}
			}
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read error: %w", err)
	}

	if handler != nil {
		if err := handler(StreamChunk{Done: true}); err != nil {
			return nil, fmt.Errorf("handler error: %w", err)
		}
	}

	if responseModel == "" {
		responseModel = model
	}
	return &ChatResponse{
		ID:      id,
		Created: created,
		Model:   responseModel,
		Choices: []Choice{{
			Message:      Message{Role: "assistant", Content: content.String()},
			FinishReason: finishReason,
		}},
		Usage: usage,
	}, nil
}

func (p *Provider) send(ctx context.Context, req ChatRequest) (*http.Response, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openAI API error: %w", err)
	}
	return resp, nil
}

func parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return &APIError{StatusCode: statusCode, Message: string(body)}
	}
	return &APIError{
		StatusCode: statusCode,
		Code:       errResp.Error.Code,
		Type:       errResp.Error.Type,
		Message:    errResp.Error.Message,
	}
}
