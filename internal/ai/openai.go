package ai

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIGenerator backs the Generator contract with the OpenAI chat
// completion API. The model id is passed per call so the gateway owns
// the priority order.
type OpenAIGenerator struct {
	client      *openai.Client
	maxTokens   int
	temperature float32
}

func NewOpenAIGenerator(apiKey string, maxTokens int, temperature float64) *OpenAIGenerator {
	return &OpenAIGenerator{
		client:      openai.NewClient(apiKey),
		maxTokens:   maxTokens,
		temperature: float32(temperature),
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   g.maxTokens,
			Temperature: g.temperature,
		},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
