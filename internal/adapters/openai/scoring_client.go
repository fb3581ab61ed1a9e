package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/core"
)

// OpenAIClient scores messages through the OpenAI chat completion API.
type OpenAIClient struct {
	client      *openai.Client
	modelName   string
	maxTokens   int
	temperature float32
	topP        float32
	maxBodySize int
	logger      *zap.Logger
}

// scoringResponse represents the structured response from the model
type scoringResponse struct {
	DimensionScores   map[string]float64 `json:"dimension_scores"`
	PrimaryTactic     string             `json:"primary_tactic"`
	Explanation       string             `json:"explanation"`
	RecommendedAction string             `json:"recommended_action"`
	Confidence        float64            `json:"confidence"`
}

// NewOpenAIClient creates a new OpenAI scoring client.
func NewOpenAIClient(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
) *OpenAIClient {
	return &OpenAIClient{
		client:      openai.NewClient(apiKey),
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

// truncateBody truncates the message body if it exceeds the maximum size
func (c *OpenAIClient) truncateBody(body string) string {
	if c.maxBodySize <= 0 || len(body) <= c.maxBodySize {
		return body
	}
	truncated := body[:c.maxBodySize]
	c.logger.Debug("Message body truncated",
		zap.Int("original_size", len(body)),
		zap.Int("truncated_size", len(truncated)),
		zap.Int("max_size", c.maxBodySize))
	return truncated + "\n[... Content truncated due to size limits ...]"
}

// ScoreMessage scores one message across all twelve dimensions.
func (c *OpenAIClient) ScoreMessage(ctx context.Context, req *core.ScoringRequest) (*core.ScoringResult, error) {
	msg := *req.Message
	msg.Body = c.truncateBody(msg.Body)
	prompt := core.BuildAnalysisPrompt(&core.ScoringRequest{
		Message:          &msg,
		Baseline:         req.Baseline,
		PrefilterSignals: req.PrefilterSignals,
	})

	chatReq := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: core.SystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}
	chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: "json_object"}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response from OpenAI", core.ErrScoringContract)
	}

	responseText := resp.Choices[0].Message.Content

	var parsed scoringResponse
	if err := json.Unmarshal([]byte(responseText), &parsed); err != nil {
		jsonStart := strings.IndexByte(responseText, '{')
		jsonEnd := strings.LastIndexByte(responseText, '}')
		if jsonStart < 0 || jsonEnd <= jsonStart {
			return nil, fmt.Errorf("%w: no JSON object in model response", core.ErrScoringContract)
		}
		if err := json.Unmarshal([]byte(responseText[jsonStart:jsonEnd+1]), &parsed); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrScoringContract, err)
		}
	}

	scores := make(map[core.Dimension]float64, len(core.Dimensions))
	for name, v := range parsed.DimensionScores {
		if core.ValidDimension(name) {
			scores[core.Dimension(name)] = v
		}
	}

	return &core.ScoringResult{
		DimensionScores:   scores,
		PrimaryTactic:     core.Dimension(parsed.PrimaryTactic),
		Explanation:       parsed.Explanation,
		RecommendedAction: core.Action(parsed.RecommendedAction),
		Confidence:        parsed.Confidence,
		ModelUsed:         c.modelName,
	}, nil
}
