package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// Generator is the text-generation contract the agent components consume.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts ...Option) (string, error)
	GenerateStructured(ctx context.Context, prompt string, schema map[string]any, out any, opts ...Option) error
}

// Option tweaks a single generation call.
type Option func(*callOptions)

type callOptions struct {
	systemMessage string
	temperature   float64
	maxTokens     int
}

func WithSystemMessage(msg string) Option {
	return func(o *callOptions) { o.systemMessage = msg }
}

func WithTemperature(t float64) Option {
	return func(o *callOptions) { o.temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(o *callOptions) { o.maxTokens = n }
}

// Audit receives one record per completed model call.
type Audit interface {
	RecordCall(prompt, response string, err error)
}

// Client wraps a langchaingo model with plain and schema-constrained
// generation. Structured calls retry with progressively lower temperature
// when the model returns unparseable JSON.
type Client struct {
	model llms.Model
	retry RetryPolicy
	audit Audit
	log   zerolog.Logger
}

func NewClient(model llms.Model, retry RetryPolicy, log zerolog.Logger) *Client {
	return &Client{
		model: model,
		retry: retry,
		log:   log.With().Str("component", "llm").Logger(),
	}
}

func (c *Client) Generate(ctx context.Context, prompt string, opts ...Option) (string, error) {
	o := callOptions{temperature: 0.7, maxTokens: 1024}
	for _, opt := range opts {
		opt(&o)
	}

	var messages []llms.MessageContent
	if o.systemMessage != "" {
		messages = append(messages, llms.MessageContent{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(o.systemMessage)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(prompt)},
	})

	resp, err := c.model.GenerateContent(ctx, messages,
		llms.WithTemperature(o.temperature),
		llms.WithMaxTokens(o.maxTokens),
	)
	if err != nil {
		c.recordCall(prompt, "", err)
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		c.recordCall(prompt, "", fmt.Errorf("no choices"))
		return "", fmt.Errorf("generate: model returned no choices")
	}
	c.recordCall(prompt, resp.Choices[0].Content, nil)
	return resp.Choices[0].Content, nil
}

// SetAudit attaches a call recorder. Pass nil to disable.
func (c *Client) SetAudit(a Audit) {
	c.audit = a
}

func (c *Client) recordCall(prompt, response string, err error) {
	if c.audit != nil {
		c.audit.RecordCall(prompt, response, err)
	}
}

// GenerateStructured asks the model for JSON conforming to schema and
// unmarshals it into out. Parse failures are retried per the client's
// RetryPolicy; exhausting all attempts returns the last error.
func (c *Client) GenerateStructured(ctx context.Context, prompt string, schema map[string]any, out any, opts ...Option) error {
	o := callOptions{temperature: 0.7}
	for _, opt := range opts {
		opt(&o)
	}

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	structuredPrompt := fmt.Sprintf(
		"%s\n\nProvide your response as a valid JSON object conforming to this schema:\n%s\n\n"+
			"Return ONLY the JSON object, with no explanations or text outside it.",
		prompt, schemaJSON)

	var lastErr error
	for attempt, temp := range c.retry.Temperatures(o.temperature) {
		callOpts := []Option{WithTemperature(temp)}
		if o.systemMessage != "" {
			callOpts = append(callOpts, WithSystemMessage(o.systemMessage))
		}
		if o.maxTokens > 0 {
			callOpts = append(callOpts, WithMaxTokens(o.maxTokens))
		}

		text, err := c.Generate(ctx, structuredPrompt, callOpts...)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("structured generation call failed")
			continue
		}

		if err := json.Unmarshal([]byte(ExtractJSON(text)), out); err != nil {
			lastErr = fmt.Errorf("parse structured output: %w", err)
			c.log.Warn().Err(err).Int("attempt", attempt+1).Float64("temperature", temp).
				Msg("structured output did not parse, retrying cooler")
			continue
		}
		return nil
	}

	return fmt.Errorf("structured generation failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

var (
	codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	jsonBodyRe  = regexp.MustCompile(`(?s)(\{.*\})`)
)

// ExtractJSON pulls a JSON object out of model text that may wrap it in
// code fences or surrounding prose.
func ExtractJSON(text string) string {
	if m := codeBlockRe.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if strings.HasPrefix(candidate, "{") && strings.HasSuffix(candidate, "}") {
			return candidate
		}
	}
	if m := jsonBodyRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}
