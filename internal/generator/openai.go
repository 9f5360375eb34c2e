package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

const initialInstructions = `You are an expert web developer. Turn the user's description into one complete,
self-contained HTML document. Put all CSS in a <style> tag and all JavaScript in a <script> tag;
Tailwind from its CDN is allowed. Use responsive layout and realistic placeholder content.
Answer with the HTML document only, starting with <!DOCTYPE html>. No explanations, no markdown.`

const revisionInstructions = `You are an expert web developer. You will receive the current HTML document of a
website and a change request. Apply the requested change and keep everything else as it is.
Answer with the complete updated HTML document only, starting with <!DOCTYPE html>.
No explanations, no markdown.`

// OpenAIConfig configures an OpenAI-compatible chat completions backend (OpenAI, OpenRouter, ...).
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	AppName string // sent as X-Title, used by OpenRouter for attribution
}

// OpenAIGenerator calls a chat completions endpoint once per request. The answer is returned
// verbatim; callers clean it up with ExtractHTML.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

var _ Generator = (*OpenAIGenerator)(nil)

func NewOpenAIGenerator(cfg OpenAIConfig, logger *zap.Logger) *OpenAIGenerator {
	logger = logger.Named("openai")
	options := []option.RequestOption{
		option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/") + "/"), // keep the /api/v1 path segment
		option.WithMaxRetries(0), // retries are not the orchestrator's business
	}
	if cfg.APIKey == "" {
		logger.Warn("AI API key is not set, will try unauthenticated access")
	} else {
		options = append(options, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.AppName != "" {
		options = append(options, option.WithHeader("X-Title", cfg.AppName))
	}

	client := openai.NewClient(options...)
	return &OpenAIGenerator{client: &client, model: cfg.Model, logger: logger}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	switch req.Mode {
	case ModeRevision:
		messages = []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(revisionInstructions),
			openai.UserMessage("Current document:\n" + req.CurrentCode),
			openai.UserMessage("Change request:\n" + req.Instruction),
		}
	default:
		messages = []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(initialInstructions),
			openai.UserMessage(req.Instruction),
		}
	}

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    g.model,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("client didn't return any content choices: %w", ErrEmptyOutput)
	}

	g.logger.Debug("Chat completion finished",
		zap.String("mode", string(req.Mode)),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
	)
	return resp.Choices[0].Message.Content, nil
}
