// Package llm provides the language-model collaborators of the recommendation
// pipeline: a provider-neutral Client, OpenAI and Anthropic implementations,
// and helpers for requesting strict JSON answers.
//
// Example usage:
//
//	client, err := llm.NewClient(llm.FactoryConfig{Provider: "openai", OpenAI: llm.OpenAIConfig{APIKey: key}})
//	var out struct{ Items []Restaurant `json:"items"` }
//	err = llm.CompleteJSON(ctx, client, llm.Request{
//		Operation: "normalize_restaurants",
//		System:    systemPrompt,
//		User:      userPrompt,
//	}, &out)
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse is returned when the model answer cannot be decoded.
var ErrMalformedResponse = errors.New("malformed LLM response")

// Request is a single-turn completion request.
type Request struct {
	// Operation labels the call in logs and metrics (e.g. "parse_request").
	Operation string

	// System is the system prompt.
	System string

	// User is the user message.
	User string

	// MaxTokens caps the answer length. Zero uses the provider default.
	MaxTokens int

	// JSON asks the provider for a JSON object answer when it supports it.
	JSON bool
}

// Response is a completion answer.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client is implemented by every LLM provider.
type Client interface {
	// Complete sends req and returns the model's answer. Transient provider
	// errors are retried internally.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Provider returns the provider name.
	Provider() string

	// Model returns the model identifier.
	Model() string
}

// CompleteJSON requests a JSON object answer and decodes it into out.
func CompleteJSON(ctx context.Context, c Client, req Request, out any) error {
	req.JSON = true
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	body := extractJSONObject(resp.Content)
	if body == "" {
		return fmt.Errorf("%s: %w: no JSON object in answer", req.Operation, ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("%s: %w: %v", req.Operation, ErrMalformedResponse, err)
	}
	return nil
}

// extractJSONObject returns the outermost JSON object of s, tolerating code
// fences and prose around it.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
