package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/time/rate"
)

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	cfg        *Config
	api        *openai.Client
	limiter    *rate.Limiter // nil when RequestsPerSecond is zero
	httpClient *http.Client
}

// ClientOption configures optional client behaviour.
type ClientOption func(*Client)

// WithHTTPClient replaces the transport, used by recorded-HTTP tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient constructs a Client from cfg.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("llm: config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apiOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if c.httpClient != nil {
		apiOpts = append(apiOpts, option.WithHTTPClient(c.httpClient))
	}
	api := openai.NewClient(apiOpts...)
	c.api = &api

	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Chat performs one synchronous completion request, with retries on
// transport failure and client-side pacing when configured.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil {
		return nil, errors.New("llm: request cannot be nil")
	}
	params, model, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	var completion *openai.ChatCompletion
	for attempt := 0; ; attempt++ {
		completion, err = c.api.Chat.Completions.New(ctx, params)
		if err == nil {
			break
		}
		if attempt >= c.cfg.MaxRetries || ctx.Err() != nil {
			return nil, fmt.Errorf("llm: chat completion: %w", err)
		}
		backoff := time.Duration(attempt+1) * 500 * time.Millisecond
		logx.WithContext(ctx).Infof("llm: attempt %d failed, retrying in %s: %v", attempt+1, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resp := &ChatResponse{
		ID:    completion.ID,
		Model: completion.Model,
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	for _, choice := range completion.Choices {
		resp.Choices = append(resp.Choices, Choice{
			Message:      Message{Role: string(choice.Message.Role), Content: choice.Message.Content},
			FinishReason: choice.FinishReason,
		})
	}
	logx.WithContext(ctx).Infof("llm: chat model=%s tokens=%d duration=%s", model, resp.Usage.TotalTokens, time.Since(start))
	return resp, nil
}

// ChatStructured forces a JSON-schema response derived from target's type
// and decodes the completion into target.
func (c *Client) ChatStructured(ctx context.Context, req *ChatRequest, target interface{}) error {
	if target == nil {
		return errors.New("llm: structured target cannot be nil")
	}

	structured := *req
	if structured.ResponseFormat == nil {
		schema, err := GenerateSchema(target)
		if err != nil {
			return err
		}
		structured.ResponseFormat = &ResponseFormat{Type: "json_schema", Name: "structured_output", Schema: schema, Strict: true}
	}

	resp, err := c.Chat(ctx, &structured)
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return errors.New("llm: empty structured response")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), target); err != nil {
		return fmt.Errorf("llm: decode structured response: %w", err)
	}
	return nil
}

// Close releases idle transport connections.
func (c *Client) Close() error {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}

func (c *Client) buildParams(req *ChatRequest) (openai.ChatCompletionNewParams, string, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, "", errors.New("llm: request requires at least one message")
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.cfg.DefaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}

	if rf := req.ResponseFormat; rf != nil && strings.EqualFold(rf.Type, "json_schema") {
		jsonSchema := shared.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   rf.Name,
			Schema: rf.Schema,
		}
		if jsonSchema.Name == "" {
			jsonSchema.Name = "structured_output"
		}
		if rf.Strict {
			jsonSchema.Strict = openai.Bool(true)
		}
		val := shared.ResponseFormatJSONSchemaParam{JSONSchema: jsonSchema}
		val.Type = val.Type.Default()
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONSchema: &val}
	} else if rf != nil && rf.Type != "" && !strings.EqualFold(rf.Type, "text") {
		return openai.ChatCompletionNewParams{}, "", fmt.Errorf("llm: unsupported response format %q", rf.Type)
	}

	return params, model, nil
}
