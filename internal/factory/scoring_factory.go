package factory

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/adapters/bedrock"
	"github.com/mindwall/mindwall/internal/adapters/gemini"
	"github.com/mindwall/mindwall/internal/adapters/ollama"
	"github.com/mindwall/mindwall/internal/adapters/openai"
	"github.com/mindwall/mindwall/internal/config"
	"github.com/mindwall/mindwall/internal/core"
	"github.com/mindwall/mindwall/internal/utils"
)

// ScoringFactory creates scoring clients based on configuration
type ScoringFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewScoringFactory creates a new scoring factory
func NewScoringFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *ScoringFactory {
	return &ScoringFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateScoringClient creates a scoring client for the configured provider
func (f *ScoringFactory) CreateScoringClient() (core.ScoringClient, error) {
	scoringCfg, err := f.cfg.GetScoring()
	if err != nil {
		return nil, err
	}

	switch scoringCfg.Provider {
	case "ollama":
		ollamaCfg := f.cfg.GetOllama()
		return ollama.NewOllamaClient(
			ollamaCfg.BaseURL,
			ollamaCfg.Model,
			ollamaCfg.NumPredict,
			ollamaCfg.Temperature,
			ollamaCfg.TopP,
			scoringCfg.MaxBodySize,
			f.logger,
		), nil

	case "openai":
		openaiCfg := f.cfg.GetOpenAI()
		if openaiCfg.APIKey == "" {
			return nil, fmt.Errorf("openai API key is required")
		}
		return openai.NewOpenAIClient(
			openaiCfg.APIKey,
			openaiCfg.ModelName,
			openaiCfg.MaxTokens,
			openaiCfg.Temperature,
			openaiCfg.TopP,
			scoringCfg.MaxBodySize,
			f.logger,
		), nil

	case "gemini":
		geminiCfg := f.cfg.GetGemini()
		if geminiCfg.APIKey == "" {
			return nil, fmt.Errorf("gemini API key is required")
		}
		return gemini.NewGeminiClient(
			geminiCfg.APIKey,
			geminiCfg.ModelName,
			geminiCfg.MaxTokens,
			geminiCfg.Temperature,
			geminiCfg.TopP,
			scoringCfg.MaxBodySize,
			f.logger,
		)

	case "bedrock":
		bedrockCfg := f.cfg.GetBedrock()
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(bedrockCfg.Region),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		return bedrock.NewBedrockClient(
			bedrockruntime.NewFromConfig(awsCfg),
			bedrockCfg.ModelID,
			bedrockCfg.MaxTokens,
			bedrockCfg.Temperature,
			bedrockCfg.TopP,
			scoringCfg.MaxBodySize,
			f.logger,
			f.textProcessor,
		), nil

	default:
		return nil, fmt.Errorf("unsupported scoring provider: %s", scoringCfg.Provider)
	}
}
