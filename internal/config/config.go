package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/persona-relay/backend/internal/service/ai"
	"github.com/zhouzirui/persona-relay/backend/internal/service/ratelimit"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server       ServerConfig
	AI           AIConfig
	RateLimit    RateLimitConfig
	Storage      StorageConfig
	Log          LogConfig
	PersonasFile string
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	aiCfg, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	limits, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:       server,
		AI:           aiCfg,
		RateLimit:    limits,
		Storage:      storage,
		Log:          loadLogConfig(),
		PersonasFile: strings.TrimSpace(os.Getenv("PERSONAS_FILE")),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "5000"
	}

	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":5000" 或 "127.0.0.1:5000"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// Provider 选择上游模型。
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderArk    Provider = "ark"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider Provider
	Timeout  time.Duration
	Gemini   ai.GeminiConfig
	Ark      ai.ArkConfig
}

func loadAIConfig() (AIConfig, error) {
	provider := Provider(strings.ToLower(getEnvOrDefault("AI_PROVIDER", string(ProviderGemini))))
	switch provider {
	case ProviderGemini, ProviderArk:
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	timeout, err := parseDurationEnv("PROVIDER_TIMEOUT", 60*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	// API_KEY 是旧部署使用的变量名。
	geminiKey := getEnvOrDefault("GEMINI_API_KEY", strings.TrimSpace(os.Getenv("API_KEY")))

	return AIConfig{
		Provider: provider,
		Timeout:  timeout,
		Gemini: ai.GeminiConfig{
			APIKey: geminiKey,
			Model:  getEnvOrDefault("GEMINI_MODEL", ai.DefaultGeminiModel),
		},
		Ark: ai.ArkConfig{
			APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			Model:     getEnvOrDefault("ARK_MODEL", strings.TrimSpace(os.Getenv("Model"))),
			BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
		},
	}, nil
}

// RateLimitConfig 描述滑动窗口限流配置。上限小于等于 0 表示关闭该类限流。
type RateLimitConfig struct {
	Window        time.Duration
	StartLimit    int
	SendLimit     int
	SweepInterval time.Duration
}

// Limiter 转换为 ratelimit 包的配置。
func (c RateLimitConfig) Limiter() ratelimit.Config {
	return ratelimit.Config{
		Window: c.Window,
		Limits: map[ratelimit.Kind]int{
			ratelimit.KindStart: c.StartLimit,
			ratelimit.KindSend:  c.SendLimit,
		},
	}
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	window, err := parseDurationEnv("RATE_LIMIT_WINDOW", ratelimit.DefaultWindow)
	if err != nil {
		return RateLimitConfig{}, err
	}
	sweep, err := parseDurationEnv("RATE_LIMIT_SWEEP", window)
	if err != nil {
		return RateLimitConfig{}, err
	}
	start, err := parseIntEnv("RATE_LIMIT_START", ratelimit.DefaultStartLimit)
	if err != nil {
		return RateLimitConfig{}, err
	}
	send, err := parseIntEnv("RATE_LIMIT_SEND", ratelimit.DefaultSendLimit)
	if err != nil {
		return RateLimitConfig{}, err
	}

	return RateLimitConfig{Window: window, StartLimit: start, SendLimit: send, SweepInterval: sweep}, nil
}

// StorageDriver 选择会话持久化后端。
type StorageDriver string

const (
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
	StorageMemory   StorageDriver = "memory"
)

// StorageConfig 描述持久化配置。
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	DatabaseURL string
}

func loadStorageConfig() (StorageConfig, error) {
	driver := StorageDriver(strings.ToLower(getEnvOrDefault("STORAGE_DRIVER", string(StorageSQLite))))
	cfg := StorageConfig{
		Driver:      driver,
		SQLitePath:  getEnvOrDefault("SQLITE_PATH", "chatbot_conversations.db"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}

	switch driver {
	case StorageSQLite, StorageMemory:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return StorageConfig{}, fmt.Errorf("STORAGE_DRIVER=postgres requires DATABASE_URL")
		}
	default:
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_DRIVER value %q", driver)
	}
	return cfg, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
	}
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

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
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

// parseDurationEnv 接受 Go 时长字符串（"90s"）或整数秒。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, value)
	}
	return d, nil
}
