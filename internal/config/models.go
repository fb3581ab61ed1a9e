package config

import "time"

// ProxyConfig represents the configuration for the IMAP proxy
type ProxyConfig struct {
	ListenAddress         string
	UpstreamAddress       string
	UpstreamTLS           bool
	UpstreamTLSServerName string
	DialTimeout           time.Duration
	MaxLiteralSize        int
	AnalysisDeadline      time.Duration
}

// SMTPConfig represents the configuration for the SMTP outbound monitor
type SMTPConfig struct {
	Enabled         bool
	ListenAddress   string
	UpstreamAddress string
	RecordOutbound  bool
}

// ScoringConfig represents the scoring pipeline configuration
type ScoringConfig struct {
	Provider    string
	Timeout     time.Duration
	MaxBodySize int
}

// OllamaConfig represents the configuration for the Ollama inference server
type OllamaConfig struct {
	BaseURL     string
	Model       string
	NumPredict  int
	Temperature float32
	TopP        float32
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// GetProxy returns the IMAP proxy configuration
func (c *Config) GetProxy() (ProxyConfig, error) {
	dialTimeout, err := c.GetDuration("proxy.dial_timeout")
	if err != nil {
		return ProxyConfig{}, err
	}
	analysisDeadline, err := c.GetDuration("proxy.analysis_deadline")
	if err != nil {
		return ProxyConfig{}, err
	}
	return ProxyConfig{
		ListenAddress:         c.GetString("proxy.listen_address"),
		UpstreamAddress:       c.GetString("proxy.upstream_address"),
		UpstreamTLS:           c.GetBool("proxy.upstream_tls"),
		UpstreamTLSServerName: c.GetString("proxy.upstream_tls_server_name"),
		DialTimeout:           dialTimeout,
		MaxLiteralSize:        c.GetInt("proxy.max_literal_size"),
		AnalysisDeadline:      analysisDeadline,
	}, nil
}

// GetSMTP returns the SMTP outbound monitor configuration
func (c *Config) GetSMTP() SMTPConfig {
	return SMTPConfig{
		Enabled:         c.GetBool("smtp.enabled"),
		ListenAddress:   c.GetString("smtp.listen_address"),
		UpstreamAddress: c.GetString("smtp.upstream_address"),
		RecordOutbound:  c.GetBool("smtp.record_outbound"),
	}
}

// GetScoring returns the scoring pipeline configuration
func (c *Config) GetScoring() (ScoringConfig, error) {
	timeout, err := c.GetDuration("scoring.timeout")
	if err != nil {
		return ScoringConfig{}, err
	}
	return ScoringConfig{
		Provider:    c.GetString("scoring.provider"),
		Timeout:     timeout,
		MaxBodySize: c.GetInt("scoring.max_body_size"),
	}, nil
}

// GetOllama returns the Ollama configuration
func (c *Config) GetOllama() OllamaConfig {
	return OllamaConfig{
		BaseURL:     c.GetString("ollama.base_url"),
		Model:       c.GetString("ollama.model"),
		NumPredict:  c.GetInt("ollama.num_predict"),
		Temperature: float32(c.GetFloat64("ollama.temperature")),
		TopP:        float32(c.GetFloat64("ollama.top_p")),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
	}
}
