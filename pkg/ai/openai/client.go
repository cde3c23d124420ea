package openai

import (
	"context"
	"errors"
	"time"

	"lyricsync/pkg/ai"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const requestTimeout = 15 * time.Second

var _ ai.AiInterface = (*OpenAi)(nil)

type OpenAi struct {
	model  string
	client *openai.Client
}

// NewOpenAi 创建 OpenAI 兼容客户端；baseURL 为空时使用官方地址
func NewOpenAi(apiKey, modelName, baseURL string) *OpenAi {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	return &OpenAi{model: modelName, client: openai.NewClientWithConfig(cfg)}
}

func (o *OpenAi) Name() string {
	return "openai"
}

func (o *OpenAi) HandleText(msg string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: msg,
			},
		},
		MaxTokens: 200,
	})
	if err != nil {
		log.Error().Err(err).Msg("could not get response from openai")
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
