package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jonesrussell/newsflow/internal/errkind"
)

// AnthropicProvider implements Provider on the Anthropic Messages API.
// Clients are built lazily per credential and reused.
type AnthropicProvider struct {
	model string

	mu      sync.Mutex
	clients map[string]*anthropic.Client
}

var _ Provider = (*AnthropicProvider)(nil)

// NewAnthropic creates a provider for the given model.
func NewAnthropic(model string) *AnthropicProvider {
	return &AnthropicProvider{
		model:   model,
		clients: make(map[string]*anthropic.Client),
	}
}

func (p *AnthropicProvider) client(apiKey string) *anthropic.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[apiKey]
	if !ok {
		newClient := anthropic.NewClient(option.WithAPIKey(apiKey))
		c = &newClient
		p.clients[apiKey] = c
	}
	return c
}

// Generate runs one Messages call and returns the first text block with the
// total token usage.
func (p *AnthropicProvider) Generate(ctx context.Context, apiKey string, req Request) (Result, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: req.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client(apiKey).Messages.New(ctx, params)
	if err != nil {
		return Result{}, classify(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		text.WriteString(block.Text)
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return Result{}, errkind.Newf(errkind.UpstreamTransient, "empty completion from model %s", p.model)
	}

	return Result{
		Text:       out,
		TokensUsed: msg.Usage.InputTokens + msg.Usage.OutputTokens,
	}, nil
}

// classify maps SDK errors onto the shared taxonomy.
func classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch kind := errkind.FromStatus(apierr.StatusCode); kind {
		case errkind.RateLimit, errkind.AuthError, errkind.UpstreamTransient:
			return errkind.New(kind, err)
		}
		return fmt.Errorf("anthropic api: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errkind.New(errkind.UpstreamTransient, err)
	}
	if errkind.IsQuotaMessage(err) {
		return errkind.New(errkind.RateLimit, err)
	}
	return fmt.Errorf("anthropic call: %w", err)
}
