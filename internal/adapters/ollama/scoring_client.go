package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/core"
)

// OllamaClient scores messages against a local Ollama inference server.
type OllamaClient struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	numPredict  int
	temperature float32
	topP        float32
	maxBodySize int
	logger      *zap.Logger
}

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Prompt  string         `json:"prompt"`
	Format  string         `json:"format"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

// generateResponse is the Ollama /api/generate response body.
type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// scoringResponse represents the structured response from the model
type scoringResponse struct {
	DimensionScores   map[string]float64 `json:"dimension_scores"`
	PrimaryTactic     string             `json:"primary_tactic"`
	Explanation       string             `json:"explanation"`
	RecommendedAction string             `json:"recommended_action"`
	Confidence        float64            `json:"confidence"`
}

// NewOllamaClient creates a new Ollama scoring client.
func NewOllamaClient(
	baseURL string,
	model string,
	numPredict int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
) *OllamaClient {
	return &OllamaClient{
		httpClient:  &http.Client{},
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		numPredict:  numPredict,
		temperature: temperature,
		topP:        topP,
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

// ScoreMessage scores one message across all twelve dimensions.
func (c *OllamaClient) ScoreMessage(ctx context.Context, req *core.ScoringRequest) (*core.ScoringResult, error) {
	prompt := core.BuildAnalysisPrompt(c.truncated(req))

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		System: core.SystemPrompt,
		Prompt: prompt,
		Format: "json",
		Stream: false,
		Options: map[string]any{
			"temperature": c.temperature,
			"top_p":       c.topP,
			"num_predict": c.numPredict,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, payload)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("failed to decode Ollama response: %w", err)
	}

	parsed, err := parseScoringResponse(genResp.Response)
	if err != nil {
		return nil, err
	}
	return toResult(parsed, c.model), nil
}

func (c *OllamaClient) truncated(req *core.ScoringRequest) *core.ScoringRequest {
	if c.maxBodySize <= 0 || len(req.Message.Body) <= c.maxBodySize {
		return req
	}
	msg := *req.Message
	msg.Body = msg.Body[:c.maxBodySize] + "\n[... Content truncated due to size limits ...]"
	c.logger.Debug("Message body truncated",
		zap.Int("original_size", len(req.Message.Body)),
		zap.Int("max_size", c.maxBodySize))
	out := *req
	out.Message = &msg
	return &out
}

// parseScoringResponse decodes the model output, falling back to extracting
// the outermost JSON object when the model wrapped it in prose.
func parseScoringResponse(text string) (*scoringResponse, error) {
	var parsed scoringResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		jsonStart := strings.IndexByte(text, '{')
		jsonEnd := strings.LastIndexByte(text, '}')
		if jsonStart < 0 || jsonEnd <= jsonStart {
			return nil, fmt.Errorf("%w: no JSON object in model response", core.ErrScoringContract)
		}
		if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &parsed); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrScoringContract, err)
		}
	}
	return &parsed, nil
}

func toResult(parsed *scoringResponse, model string) *core.ScoringResult {
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
		ModelUsed:         model,
	}
}
