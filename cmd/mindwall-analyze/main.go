package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/adapters/alert"
	"github.com/mindwall/mindwall/internal/adapters/store"
	"github.com/mindwall/mindwall/internal/config"
	"github.com/mindwall/mindwall/internal/core"
	"github.com/mindwall/mindwall/internal/factory"
	"github.com/mindwall/mindwall/internal/imap"
	"github.com/mindwall/mindwall/internal/logging"
	"github.com/mindwall/mindwall/internal/mime"
	"github.com/mindwall/mindwall/internal/utils"
	"github.com/mindwall/mindwall/internal/whitelist"
)

var (
	// Scoring provider flags
	provider    = flag.String("provider", "ollama", "Scoring provider (ollama, openai, gemini, bedrock)")
	maxTokens   = flag.Int("max-tokens", 1024, "Maximum tokens for the model response")
	temperature = flag.Float64("temperature", 0.1, "Temperature for model generation")
	topP        = flag.Float64("top-p", 0.9, "Top-p for model generation")
	maxBodySize = flag.Int("max-body-size", 4000, "Maximum message body size sent to the model")

	// Ollama flags
	ollamaURL   = flag.String("ollama-url", "http://localhost:11434", "Ollama base URL")
	ollamaModel = flag.String("ollama-model", "mindwall-detector", "Ollama model name")

	// OpenAI flags
	openaiAPIKey    = flag.String("openai-api-key", "", "API key for OpenAI")
	openaiModelName = flag.String("openai-model", "gpt-4", "OpenAI model name")

	// Gemini flags
	geminiAPIKey    = flag.String("gemini-api-key", "", "API key for Google Gemini")
	geminiModelName = flag.String("gemini-model", "gemini-pro", "Gemini model name")

	// Bedrock flags
	bedrockRegion  = flag.String("bedrock-region", "us-east-1", "AWS region for Bedrock")
	bedrockModelID = flag.String("bedrock-model", "anthropic.claude-3-haiku-20240307-v1:0", "Bedrock model ID")

	// Analysis flags
	recipient      = flag.String("recipient", "", "Recipient mailbox (defaults to the To header)")
	trustedDomains = flag.String("trusted", "", "Comma-separated list of trusted domains")
	scoringTimeout = flag.Duration("timeout", 30*time.Second, "Scoring call timeout")

	// Input flags
	inputFile  = flag.String("file", "", "Input email file (use stdin if not specified)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog    = flag.Bool("json-log", false, "Output logs in JSON format")
	configFile = flag.String("config", "", "Path to config file (overrides command line flags)")
)

func main() {
	flag.Parse()

	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var cfg *config.Config
	if *configFile != "" {
		cfg, err = config.NewFromFile(*configFile)
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
		logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
	} else {
		cfg = createConfigFromFlags()
	}

	// Build a one-shot pipeline: in-memory store, log sink, real model
	textProcessor := utils.NewTextProcessor(logger)
	scoringClient, err := factory.NewScoringFactory(cfg, logger, textProcessor).CreateScoringClient()
	if err != nil {
		logger.Fatal("Failed to create scoring client", zap.Error(err))
	}

	var domains []string
	if *trustedDomains != "" {
		for _, d := range strings.Split(*trustedDomains, ",") {
			domains = append(domains, strings.TrimSpace(d))
		}
	} else {
		domains = cfg.GetStringSlice("analysis.trusted_domains")
	}
	trusted := whitelist.NewChecker(domains, logger)

	memStore := store.NewMemoryStore(logger)
	sink := alert.NewLogSink(logger)
	baselines := core.NewBaselineEngine(memStore, logger)
	crossChannel := core.NewCrossChannelDetector(memStore, logger)
	pipeline := core.NewPipeline(scoringClient, memStore, sink, baselines,
		crossChannel, trusted, logger, *scoringTimeout)

	// Read the message
	var raw []byte
	if *inputFile != "" {
		raw, err = os.ReadFile(*inputFile)
		if err != nil {
			logger.Fatal("Failed to read input file", zap.Error(err), zap.String("file", *inputFile))
		}
		logger.Info("Reading message from file", zap.String("file", *inputFile))
	} else {
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			logger.Fatal("Failed to read stdin", zap.Error(err))
		}
		logger.Info("Reading message from stdin")
	}

	meta := imap.ParseHeaders(raw)

	extractor := mime.NewExtractor(cfg.GetInt("analysis.min_body_length"), logger)
	body, err := extractor.Extract(raw)
	if err != nil {
		logger.Fatal("Failed to extract message content", zap.Error(err))
	}
	if body == "" {
		fmt.Println("Message body is too short to analyze")
		return
	}

	to := *recipient
	if to == "" {
		to = meta.ToAddress
	}
	if to == "" {
		to = "unknown"
	}
	receivedAt := meta.Date
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	msg := &core.Message{
		UID:           "cli-" + fmt.Sprintf("%d", time.Now().UnixNano()),
		MessageID:     meta.MessageID,
		Recipient:     to,
		Sender:        meta.FromAddress,
		SenderDisplay: meta.FromDisplay,
		Subject:       meta.Subject,
		Body:          body,
		ReceivedAt:    receivedAt,
		Channel:       "imap",
	}

	fmt.Printf("\n=== Message Summary ===\n")
	fmt.Printf("From: %s <%s>\n", meta.FromDisplay, meta.FromAddress)
	fmt.Printf("To: %s\n", to)
	fmt.Printf("Subject: %s\n", meta.Subject)
	fmt.Printf("Body length: %d bytes\n\n", len(body))

	fmt.Printf("=== Analysis ===\n")
	fmt.Printf("Provider: %s\n", cfg.GetString("scoring.provider"))

	startTime := time.Now()
	analysis, err := pipeline.Analyze(context.Background(), msg)
	if err != nil {
		logger.Fatal("Failed to analyze message", zap.Error(err))
	}
	pipeline.Wait()

	fmt.Printf("\n=== Verdict ===\n")
	fmt.Printf("Manipulation score: %.2f\n", analysis.AggregateScore)
	fmt.Printf("Severity: %s\n", analysis.Severity)
	fmt.Printf("Recommended action: %s\n", analysis.RecommendedAction)
	fmt.Printf("Low confidence: %t\n", analysis.LowConfidence)
	fmt.Printf("Explanation: %s\n", analysis.Explanation)
	if analysis.PrefilterTriggered {
		fmt.Printf("Prefilter signals: %s\n", strings.Join(analysis.PrefilterSignals, ", "))
	}
	fmt.Printf("\nDimension scores:\n")
	for _, d := range core.Dimensions {
		fmt.Printf("  %-28s %6.1f\n", d, analysis.DimensionScores[d])
	}
	fmt.Printf("\nProcessing time: %v\n", time.Since(startTime))

	if closer, ok := scoringClient.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close scoring client", zap.Error(err))
		}
	}
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags() *config.Config {
	v := config.NewEmptyViper()

	v.Set("scoring.provider", *provider)
	v.Set("scoring.timeout", scoringTimeout.String())
	v.Set("scoring.max_body_size", *maxBodySize)

	switch *provider {
	case "ollama":
		v.Set("ollama.base_url", *ollamaURL)
		v.Set("ollama.model", *ollamaModel)
		v.Set("ollama.num_predict", *maxTokens)
		v.Set("ollama.temperature", *temperature)
		v.Set("ollama.top_p", *topP)
	case "openai":
		v.Set("openai.api_key", *openaiAPIKey)
		v.Set("openai.model_name", *openaiModelName)
		v.Set("openai.max_tokens", *maxTokens)
		v.Set("openai.temperature", *temperature)
		v.Set("openai.top_p", *topP)
	case "gemini":
		v.Set("gemini.api_key", *geminiAPIKey)
		v.Set("gemini.model_name", *geminiModelName)
		v.Set("gemini.max_tokens", *maxTokens)
		v.Set("gemini.temperature", *temperature)
		v.Set("gemini.top_p", *topP)
	case "bedrock":
		v.Set("bedrock.region", *bedrockRegion)
		v.Set("bedrock.model_id", *bedrockModelID)
		v.Set("bedrock.max_tokens", *maxTokens)
		v.Set("bedrock.temperature", *temperature)
		v.Set("bedrock.top_p", *topP)
	}

	v.Set("analysis.min_body_length", 20)
	if *trustedDomains != "" {
		var domains []string
		for _, d := range strings.Split(*trustedDomains, ",") {
			domains = append(domains, strings.TrimSpace(d))
		}
		v.Set("analysis.trusted_domains", domains)
	} else {
		v.Set("analysis.trusted_domains", []string{})
	}

	return config.NewFromViper(v)
}
