// Package llm is the single chokepoint to the language model. All prompt
// traffic flows through Client.Generate, which records llm_request and
// llm_response debug traces and accounts token usage.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/pkoukk/tiktoken-go"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/config"
	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/trace"
)

// maxAttempts bounds retries on transient LLM failures.
const maxAttempts = 3

// Usage reports token consumption of one generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is one generation request.
type Request struct {
	Prompt      string
	System      string
	Temperature float32
	MaxTokens   int
	// JSONOnly asks the model for a JSON-object response.
	JSONOnly bool
	// SessionID/TaskUID tag the emitted debug traces.
	SessionID string
	TaskUID   string
}

// Client is the generation interface used by agents and the pipeline.
// Implementations must be safe for concurrent use.
type Client interface {
	Generate(ctx context.Context, req Request) (string, Usage, error)
}

// ChatCompleter captures the subset of the go-openai client used here.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Client against any OpenAI-compatible endpoint.
type OpenAIClient struct {
	chat    ChatCompleter
	model   string
	defTemp float32
	defMax  int
	timeout time.Duration
	ring    *trace.Ring
	enc     *tiktoken.Tiktoken
}

// NewOpenAIClient builds a client from configuration. ring may be nil to
// disable trace emission (tests).
func NewOpenAIClient(cfg config.LLMConfig, ring *trace.Ring) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("LLM_API_KEY is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	// Token-count fallback for providers that omit usage in responses.
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("Failed to load tokenizer, usage fallback disabled", "error", err)
		enc = nil
	}

	return &OpenAIClient{
		chat:    openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		defTemp: cfg.Temperature,
		defMax:  cfg.MaxTokens,
		timeout: cfg.Timeout,
		ring:    ring,
		enc:     enc,
	}, nil
}

// NewFromCompleter wraps an existing ChatCompleter (tests, custom transports).
func NewFromCompleter(chat ChatCompleter, model string, ring *trace.Ring) *OpenAIClient {
	return &OpenAIClient{chat: chat, model: model, defTemp: 0.3, defMax: 2048, timeout: 60 * time.Second, ring: ring}
}

// Generate performs one chat completion with up to three attempts and
// exponential backoff on transient failures. Context cancellation aborts
// between attempts.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, Usage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.defTemp
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.defMax
	}

	request := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSONOnly {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	c.record(req, models.TraceLLMRequest, req.System+"\n"+req.Prompt, 0)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.chat.CreateChatCompletion(callCtx, request)
		cancel()
		elapsed := time.Since(start)

		if err == nil {
			if len(resp.Choices) == 0 {
				lastErr = errors.New("empty choices in completion response")
			} else {
				content := resp.Choices[0].Message.Content
				usage := Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
				if usage.TotalTokens == 0 && c.enc != nil {
					usage = c.estimateUsage(req, content)
				}
				c.record(req, models.TraceLLMResponse, content, elapsed.Milliseconds())
				return content, usage, nil
			}
		} else {
			lastErr = err
		}

		if cerr := ctx.Err(); cerr != nil {
			return "", Usage{}, apperr.Wrap(apperr.CodeOf(cerr), cerr, "generation aborted")
		}
		if attempt < maxAttempts {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			slog.Warn("LLM call failed, retrying",
				"attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				cerr := ctx.Err()
				return "", Usage{}, apperr.Wrap(apperr.CodeOf(cerr), cerr, "generation aborted")
			case <-time.After(backoff):
			}
		}
	}

	err := apperr.Wrap(apperr.CodeLLMFailure, lastErr, "LLM unavailable after %d attempts", maxAttempts)
	c.record(req, models.TraceError, err.Error(), 0)
	return "", Usage{}, err
}

func (c *OpenAIClient) estimateUsage(req Request, content string) Usage {
	prompt := len(c.enc.Encode(req.System+req.Prompt, nil, nil))
	completion := len(c.enc.Encode(content, nil, nil))
	return Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

func (c *OpenAIClient) record(req Request, tt models.TraceType, content string, durationMS int64) {
	if c.ring == nil {
		return
	}
	c.ring.Record(models.DebugTrace{
		SessionID:  req.SessionID,
		TaskUID:    req.TaskUID,
		TraceType:  tt,
		Source:     "llm_client",
		Target:     c.model,
		Content:    strings.TrimSpace(content),
		DurationMS: durationMS,
	})
}
