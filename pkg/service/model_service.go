// Chat model construction for the configured provider.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qianfan"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/dialectica/dialectica/pkg/config"
)

// ErrModelNotConfigured is returned when no usable model provider is configured.
var ErrModelNotConfigured = errors.New("model not configured")

// ModelService builds and caches the eino chat model for the configured
// provider. All generation paths (turns, personas, synthesis) share it.
type ModelService struct {
	cfg *config.AppConfig

	mu    sync.Mutex
	model einoModel.ToolCallingChatModel
}

// NewModelService creates a new model service.
func NewModelService(cfg *config.AppConfig) *ModelService {
	return &ModelService{cfg: cfg}
}

// ChatModel returns the chat model for the configured provider, creating it on
// first use.
func (m *ModelService) ChatModel(ctx context.Context) (einoModel.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.model != nil {
		return m.model, nil
	}

	chatModel, err := m.createChatModel(ctx)
	if err != nil {
		return nil, err
	}
	m.model = chatModel
	return chatModel, nil
}

// createChatModel creates an eino chat model from the configured provider.
func (m *ModelService) createChatModel(ctx context.Context) (einoModel.ToolCallingChatModel, error) {
	cfg := m.cfg

	switch cfg.ModelProvider() {
	case "openai", "custom":
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.ModelBaseURL(),
			APIKey:  cfg.ModelAPIKey(),
			Model:   cfg.ModelName(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
		}
		return chatModel, nil

	case "ark":
		timeout := time.Second * 600
		retries := 3
		chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:    cfg.ModelBaseURL(),
			Region:     cfg.ModelRegion(),
			Timeout:    &timeout,
			RetryTimes: &retries,
			APIKey:     cfg.ModelAPIKey(),
			Model:      cfg.ModelName(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ark model: %w", err)
		}
		return chatModel, nil

	case "deepseek":
		chatModel, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			BaseURL: cfg.ModelBaseURL(),
			APIKey:  cfg.ModelAPIKey(),
			Model:   cfg.ModelName(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DeepSeek model: %w", err)
		}
		return chatModel, nil

	case "anthropic":
		baseURL := cfg.ModelBaseURL()
		chatModel, err := claude.NewChatModel(ctx, &claude.Config{
			BaseURL:   &baseURL,
			APIKey:    cfg.ModelAPIKey(),
			Model:     cfg.ModelName(),
			MaxTokens: 8192,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Claude model: %w", err)
		}
		return chatModel, nil

	case "ollama":
		chatModel, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: cfg.ModelBaseURL(),
			Model:   cfg.ModelName(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama model: %w", err)
		}
		return chatModel, nil

	case "google":
		genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.ModelAPIKey(),
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: genaiClient,
			Model:  cfg.ModelName(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		return chatModel, nil

	case "qianfan":
		qianfanConfig := qianfan.GetQianfanSingletonConfig()
		qianfanConfig.BaseURL = cfg.ModelBaseURL()
		qianfanConfig.BearerToken = cfg.ModelAPIKey()
		chatModel, err := qianfan.NewChatModel(ctx, &qianfan.ChatModelConfig{
			Model: cfg.ModelName(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qianfan model: %w", err)
		}
		return chatModel, nil

	case "qwen":
		chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL: cfg.ModelBaseURL(),
			APIKey:  cfg.ModelAPIKey(),
			Model:   cfg.ModelName(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qwen model: %w", err)
		}
		return chatModel, nil

	default:
		return nil, ErrModelNotConfigured
	}
}
