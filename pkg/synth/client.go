// Package synth generates field values with an LLM when no data provider
// can supply them. Outputs are labeled as generated and carry the model's
// self-reported confidence.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const defaultModel = "claude-haiku-4-5-20251001"

// Client synthesizes field values for an entity.
type Client interface {
	Synthesize(ctx context.Context, req Request) (*Result, error)
}

// Request describes the entity and the fields to synthesize. Known holds
// already-enriched values the model can ground on.
type Request struct {
	EntityType string         `json:"entity_type"`
	Identifier string         `json:"identifier"`
	Fields     []string       `json:"fields"`
	Known      map[string]any `json:"known,omitempty"`
}

// FieldGuess is one synthesized value with the model's confidence.
type FieldGuess struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Result maps field names to guesses. Fields the model declined to guess
// are absent.
type Result struct {
	Fields map[string]FieldGuess `json:"fields"`
}

const systemPrompt = `You are a data enrichment assistant. Given an entity
and a list of field names, return your best estimate for each field as JSON:
{"fields": {"<field>": {"value": <value>, "confidence": <0..1>}}}.
Omit a field entirely if you cannot make a grounded estimate. Confidence
must reflect real uncertainty; never exceed 0.7 for inferred values.
Return only the JSON object, no prose.`

// Option configures the client.
type Option func(*sdkClient)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *sdkClient) {
		if model != "" {
			c.model = model
		}
	}
}

type sdkClient struct {
	client sdk.Client
	model  string
}

// NewClient creates a synthesis client backed by the Anthropic SDK.
func NewClient(apiKey string, opts ...Option) Client {
	c := &sdkClient{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultModel,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *sdkClient) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if len(req.Fields) == 0 {
		return &Result{Fields: map[string]FieldGuess{}}, nil
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 1024,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "synth: create message")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return parseResult(text.String())
}

func buildPrompt(req Request) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity type: %s\nIdentifier: %s\n", req.EntityType, req.Identifier)
	if len(req.Known) > 0 {
		known, err := json.Marshal(req.Known)
		if err != nil {
			return "", eris.Wrap(err, "synth: marshal known fields")
		}
		fmt.Fprintf(&b, "Known fields: %s\n", known)
	}
	fmt.Fprintf(&b, "Fields to estimate: %s\n", strings.Join(req.Fields, ", "))
	return b.String(), nil
}

// parseResult tolerates a JSON object wrapped in markdown fences.
func parseResult(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, eris.Wrap(err, "synth: parse model output")
	}
	if result.Fields == nil {
		result.Fields = map[string]FieldGuess{}
	}
	for f, g := range result.Fields {
		if g.Confidence < 0 {
			g.Confidence = 0
		}
		if g.Confidence > 1 {
			g.Confidence = 1
		}
		result.Fields[f] = g
	}
	return &result, nil
}
