package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// 支持的流式模型提供方。
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。密钥不在这里读取，由适配器在首次打开流时解析。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Log: logCfg}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址与跨域白名单。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// AIConfig 描述大模型提供方与档位目录配置。
type AIConfig struct {
	Provider          string
	DefaultTier       string
	TiersFile         string
	SystemPrompt      string
	ArkBaseURL        string
	ArkRegion         string
	ArkModel          string // 档位未指定 ark_model 时的默认接入点
	ArkReasoningModel string // 推理档位的接入点，为空时回退到 ArkModel
	Temperature       *float64
	TopP              *float64
	MaxTokens         *int
}

// ArkCredential 保存 API Key 或 AK/SK 组合。
type ArkCredential struct {
	APIKey    string
	AccessKey string
	SecretKey string
}

// GeminiCredential 在调用时读取 Gemini 密钥，GEMINI_API_KEY 优先于 API_KEY。
func (c AIConfig) GeminiCredential() (string, bool) {
	for _, key := range []string{"GEMINI_API_KEY", "API_KEY"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v, true
		}
	}
	return "", false
}

// ArkCredentials 在调用时读取 Ark 凭证。
func (c AIConfig) ArkCredentials() (ArkCredential, bool) {
	cred := ArkCredential{
		APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
	}
	ok := cred.APIKey != "" || (cred.AccessKey != "" && cred.SecretKey != "")
	return cred, ok
}

// ResolveArkModel 选出档位使用的 Ark 接入点：档位自身配置优先，其次是环境变量。
func (c AIConfig) ResolveArkModel(tierModel string, reasoning bool) string {
	if tierModel != "" {
		return tierModel
	}
	if reasoning && c.ArkReasoningModel != "" {
		return c.ArkReasoningModel
	}
	return c.ArkModel
}

// NewArkChatModel 使用配置为指定接入点创建一个模型实例。
func (c AIConfig) NewArkChatModel(ctx context.Context, cred ArkCredential, modelName string) (model.ChatModel, error) {
	if modelName == "" {
		return nil, fmt.Errorf("ark model is not configured: set ARK_MODEL or ark_model in the tier catalog")
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

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      cred.APIKey,
		AccessKey:   cred.AccessKey,
		SecretKey:   cred.SecretKey,
		Model:       modelName,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderGemini))
	if provider != ProviderGemini && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:          provider,
		DefaultTier:       getEnvOrDefault("AI_DEFAULT_TIER", "fast"),
		TiersFile:         strings.TrimSpace(os.Getenv("AI_TIERS_FILE")),
		SystemPrompt:      strings.TrimSpace(os.Getenv("AI_SYSTEM_PROMPT")),
		ArkBaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		ArkModel:          getEnvOrDefault("ARK_MODEL", strings.TrimSpace(os.Getenv("Model"))),
		ArkReasoningModel: strings.TrimSpace(os.Getenv("ARK_REASONING_MODEL")),
		Temperature:       temperature,
		TopP:              topP,
		MaxTokens:         maxTokens,
	}, nil
}

// LogConfig 控制 zap 日志级别与可选的文件滚动。
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	Compress   bool
}

func loadLogConfig() (LogConfig, error) {
	maxSize, err := parseOptionalIntEnv("LOG_MAX_SIZE_MB")
	if err != nil {
		return LogConfig{}, err
	}
	sizeMB := 100
	if maxSize != nil && *maxSize > 0 {
		sizeMB = *maxSize
	}

	maxAge, err := parseOptionalIntEnv("LOG_MAX_AGE_DAYS")
	if err != nil {
		return LogConfig{}, err
	}
	ageDays := 28
	if maxAge != nil && *maxAge > 0 {
		ageDays = *maxAge
	}

	compress, err := parseBoolEnv("LOG_COMPRESS", true)
	if err != nil {
		return LogConfig{}, err
	}

	return LogConfig{
		Level:      getEnvOrDefault("LOG_LEVEL", "info"),
		File:       strings.TrimSpace(os.Getenv("LOG_FILE")),
		MaxSizeMB:  sizeMB,
		MaxAgeDays: ageDays,
		Compress:   compress,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
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
