package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/ai-show/backend/internal/llm"
)

// LLM 后端类型。
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// DefaultAllowedOrigins 前端部署地址，可通过 CORS_ALLOWED_ORIGINS 覆盖。
var DefaultAllowedOrigins = []string{
	"http://localhost:5173",
	"https://ai-show-theta.vercel.app",
	"https://aishow.studio",
}

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Agent     AgentConfig
	AI        AIConfig
	Personas  PersonaConfig
	Telemetry TelemetryConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	agent, err := loadAgentConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Agent:     agent,
		AI:        ai,
		Personas:  PersonaConfig{File: strings.TrimSpace(os.Getenv("INTERVIEWERS_FILE"))},
		Telemetry: TelemetryConfig{ServiceName: getEnvOrDefault("OTEL_SERVICE_NAME", "ai-show-server")},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址与允许的跨域来源。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3001"
	}

	origins := DefaultAllowedOrigins
	if raw := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); raw == "*" {
		// 空列表表示放行所有来源。
		origins = nil
	} else if raw != "" {
		origins = splitList(raw)
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":3001" 或 "127.0.0.1:3001"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// AgentConfig 描述 Deepgram 语音代理与中继会话配置。
type AgentConfig struct {
	APIKey            string
	URL               string
	Language          string
	ListenModel       string
	ThinkProvider     string
	ThinkModel        string
	ConnectTimeout    time.Duration
	SettingsTimeout   time.Duration
	KeepAliveInterval time.Duration
	WriteTimeout      time.Duration
	BufferFrames      int
}

// Enabled 表示是否配置了 Deepgram 密钥。
func (c AgentConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadAgentConfig() (AgentConfig, error) {
	connectTimeout, err := parseDurationEnv("AGENT_CONNECT_TIMEOUT", 10*time.Second)
	if err != nil {
		return AgentConfig{}, err
	}

	settingsTimeout, err := parseDurationEnv("AGENT_SETTINGS_TIMEOUT", 15*time.Second)
	if err != nil {
		return AgentConfig{}, err
	}

	keepAlive, err := parseDurationEnv("AGENT_KEEPALIVE_INTERVAL", 5*time.Second)
	if err != nil {
		return AgentConfig{}, err
	}

	writeTimeout, err := parseDurationEnv("AGENT_WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return AgentConfig{}, err
	}

	bufferFrames := 256
	if override, err := parseOptionalIntEnv("RELAY_BUFFER_FRAMES"); err != nil {
		return AgentConfig{}, err
	} else if override != nil {
		if *override < 0 {
			bufferFrames = 0
		} else {
			bufferFrames = *override
		}
	}

	return AgentConfig{
		APIKey:            strings.TrimSpace(os.Getenv("DEEPGRAM_KEY")),
		URL:               getEnvOrDefault("DEEPGRAM_AGENT_URL", "wss://agent.deepgram.com/v1/agent/converse"),
		Language:          getEnvOrDefault("AGENT_LANGUAGE", "en"),
		ListenModel:       getEnvOrDefault("AGENT_LISTEN_MODEL", "nova-3"),
		ThinkProvider:     getEnvOrDefault("AGENT_THINK_PROVIDER", "groq"),
		ThinkModel:        getEnvOrDefault("AGENT_THINK_MODEL", "openai/gpt-oss-20b"),
		ConnectTimeout:    connectTimeout,
		SettingsTimeout:   settingsTimeout,
		KeepAliveInterval: keepAlive,
		WriteTimeout:      writeTimeout,
		BufferFrames:      bufferFrames,
	}, nil
}

// AIConfig 描述面试官提示词生成所用的大模型配置。
type AIConfig struct {
	Provider      string
	APIKey        string
	BaseURL       string
	Model         string
	Temperature   *float64
	TopP          *float64
	MaxTokens     *int
	PromptTimeout time.Duration

	// Ark 后端
	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string
}

// Enabled 表示所选后端是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
	default:
		return c.APIKey != "" && c.Model != ""
	}
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s 模型凭证或模型名称缺失", c.Provider)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	if c.Provider == ProviderArk {
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.ArkBaseURL,
			Region:      c.ArkRegion,
			APIKey:      c.ArkAPIKey,
			AccessKey:   c.ArkAccessKey,
			SecretKey:   c.ArkSecretKey,
			Model:       c.ArkModel,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	}

	return llm.NewChatModel(llm.Config{
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Model:       c.Model,
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	})
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderOpenAI))
	if provider != ProviderOpenAI && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		val := 0.7
		temperature = &val
	}

	topP, err := parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}
	if maxTokens == nil {
		val := 3000
		maxTokens = &val
	}

	promptTimeout, err := parseDurationEnv("PROMPT_TIMEOUT", 60*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	apiKey := strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("GROQ_API_KEY"))
	}

	return AIConfig{
		Provider:      provider,
		APIKey:        apiKey,
		BaseURL:       getEnvOrDefault("LLM_BASE_URL", "https://api.groq.com/openai/v1/"),
		Model:         getEnvOrDefault("LLM_MODEL", "openai/gpt-oss-120b"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
		PromptTimeout: promptTimeout,
		ArkAPIKey:     strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey:  strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey:  strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:      strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:    getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:     getEnvOrDefault("ARK_REGION", "cn-beijing"),
	}, nil
}

// PersonaConfig 面试官目录来源，留空使用内置目录。
type PersonaConfig struct {
	File string
}

// TelemetryConfig 指标上报配置。
type TelemetryConfig struct {
	ServiceName string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
