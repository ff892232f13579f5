// Package llm is the provider-agnostic LLM boundary: a single chat-style
// completion call with system/user prompts and a JSON-object response
// contract, plus the parsing helpers the pipeline stages share.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"marketbrief/internal/config"
)

// DefaultModel is the default Gemini model for classification calls.
const DefaultModel = "gemini-2.5-flash-preview-05-20"

// Request describes one completion call.
type Request struct {
	System      string        // System prompt
	User        string        // User prompt
	MaxTokens   int32         // Token budget; 0 means provider default
	Temperature float32       // 0 means provider default
	Timeout     time.Duration // Per-call deadline; 0 means caller's context only
}

// Client is the capability injected into the pipeline stages. It is
// explicit state, never a process-wide global.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// GeminiClient implements Client on the Gemini API.
type GeminiClient struct {
	modelName string
	gClient   *genai.Client
	limiter   *rate.Limiter // Spaces calls to respect provider rate limits
}

// NewGeminiClient creates a Gemini-backed client from configuration.
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY or ai.gemini.api_key in config")
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = DefaultModel
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	every := cfg.RateLimitDuration()
	return &GeminiClient{
		modelName: modelName,
		gClient:   gClient,
		limiter:   rate.NewLimiter(rate.Every(every), 1),
	}, nil
}

// Complete runs one chat-style completion. The response is requested as a
// JSON object; callers still pass it through DecodeJSON because models
// occasionally wrap output in fenced code blocks anyway.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	if req.User == "" {
		return "", fmt.Errorf("user prompt cannot be empty")
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: SanitizeControlChars(req.User)}},
		Role:  "user",
	}}

	genCfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.System != "" {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: SanitizeControlChars(req.System)}},
		}
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		genCfg.Temperature = genai.Ptr(req.Temperature)
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, genCfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// SanitizeControlChars strips control characters (except newline and tab)
// from prompt inputs before they reach the provider.
func SanitizeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
