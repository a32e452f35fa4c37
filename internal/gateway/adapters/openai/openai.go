package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/creditrelay/creditrelay/internal/gateway/domain"
	goopenai "github.com/sashabaranov/go-openai"
)

const defaultModel = goopenai.GPT4oMini

type Adapter struct {
	baseURL string
}

func New(baseURL string) *Adapter {
	return &Adapter{baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *Adapter) Provider() string { return "openai" }

func (a *Adapter) newClient(client *http.Client, apiKey string) *goopenai.Client {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.HTTPClient = client
	if a.baseURL != "" {
		cfg.BaseURL = a.baseURL
	}
	return goopenai.NewClientWithConfig(cfg)
}

func (a *Adapter) GenerateText(ctx context.Context, client *http.Client, apiKey string, req domain.TextRequest) (*domain.TextResult, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = defaultModel
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}

	resp, err := a.newClient(client, apiKey).CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, translateErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &domain.UpstreamError{StatusCode: http.StatusOK, Message: "no choices returned"}
	}

	return &domain.TextResult{
		Model: resp.Model,
		Text:  resp.Choices[0].Message.Content,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (a *Adapter) GenerateImage(ctx context.Context, client *http.Client, apiKey string, req domain.ImageRequest) (*domain.ImageResult, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = goopenai.CreateImageModelDallE3
	}
	size := req.Size
	if size == "" {
		size = goopenai.CreateImageSize1024x1024
	}

	resp, err := a.newClient(client, apiKey).CreateImage(ctx, goopenai.ImageRequest{
		Model:          model,
		Prompt:         req.Prompt,
		N:              1,
		Size:           size,
		ResponseFormat: goopenai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, translateErr(err)
	}

	images := make([]string, 0, len(resp.Data))
	for _, item := range resp.Data {
		images = append(images, item.B64JSON)
	}
	if len(images) == 0 {
		return nil, &domain.UpstreamError{StatusCode: http.StatusOK, Message: "no images returned"}
	}
	return &domain.ImageResult{Model: model, ImagesB64: images}, nil
}

func translateErr(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &domain.UpstreamError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &domain.UpstreamError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}
