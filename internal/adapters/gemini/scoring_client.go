package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/mindwall/mindwall/internal/core"
)

// GeminiClient scores messages through the Google Gemini API.
type GeminiClient struct {
	client      *genai.Client
	model       *genai.GenerativeModel
	modelName   string
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

// NewGeminiClient creates a new Gemini scoring client.
func NewGeminiClient(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
) (*GeminiClient, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(core.SystemPrompt)},
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		modelName:   modelName,
		maxBodySize: maxBodySize,
		logger:      logger,
	}, nil
}

// Close closes the Gemini client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// truncateBody truncates the message body if it exceeds the maximum size
func (c *GeminiClient) truncateBody(body string) string {
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
func (c *GeminiClient) ScoreMessage(ctx context.Context, req *core.ScoringRequest) (*core.ScoringResult, error) {
	msg := *req.Message
	msg.Body = c.truncateBody(msg.Body)
	prompt := core.BuildAnalysisPrompt(&core.ScoringRequest{
		Message:          &msg,
		Baseline:         req.Baseline,
		PrefilterSignals: req.PrefilterSignals,
	})

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty response from Gemini", core.ErrScoringContract)
	}

	responseText := fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0])

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
