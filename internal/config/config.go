package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server       ServerConfig
	Logging      LoggingConfig
	AI           AIConfig
	Retrieval    RetrievalConfig
	Notify       NotifyConfig
	Conversation ConversationConfig
}

// Load 从环境变量加载配置，CONFIG_FILE 指向的 YAML 文件可覆盖意图标签表和通知模板。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	retrieval, err := loadRetrievalConfig()
	if err != nil {
		return nil, err
	}

	notify, err := loadNotifyConfig()
	if err != nil {
		return nil, err
	}

	conv, err := loadConversationConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:       server,
		Logging:      loadLoggingConfig(),
		AI:           ai,
		Retrieval:    retrieval,
		Notify:       notify,
		Conversation: conv,
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	Debug          bool
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	debug, err := parseBoolEnv("DEBUG", false)
	if err != nil {
		return ServerConfig{}, err
	}
	origins := parseListEnv("CORS_ALLOWED_ORIGINS", []string{"*"})

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, Debug: debug, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, Debug: debug, AllowedOrigins: origins}, nil
}

// LoggingConfig 日志级别与格式。
type LoggingConfig struct {
	Level  string
	Format string
}

func loadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text")),
	}
}

// NewLogger 创建进程日志器，未知级别按 info 处理。
func (c LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	// RetryAttempts 生成流建立失败时的额外重试次数。
	RetryAttempts   int
	RetryBackoff    time.Duration
	KeywordFallback bool
	// Labels 分类标签到意图的映射，nil 表示使用默认表。
	Labels map[string]conversation.IntentKind
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
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

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
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

	retries := 2
	if override, err := parseOptionalIntEnv("LLM_RETRY_ATTEMPTS"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		retries = max(*override, 0)
	}

	backoff, err := parseDurationEnv("LLM_RETRY_BACKOFF", 500*time.Millisecond)
	if err != nil {
		return AIConfig{}, err
	}

	fallback, err := parseBoolEnv("INTENT_KEYWORD_FALLBACK", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:          strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:       strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:       strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:           strings.TrimSpace(os.Getenv("Model")),
		BaseURL:         getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:          getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:     temperature,
		TopP:            topP,
		MaxTokens:       maxTokens,
		RetryAttempts:   retries,
		RetryBackoff:    backoff,
		KeywordFallback: fallback,
	}, nil
}

// RetrievalConfig 描述检索服务。
type RetrievalConfig struct {
	URL            string
	Indices        []string
	TopK           int
	ScoreThreshold float64
	// Always 为 true 时即使请求未限定范围也检索。
	Always  bool
	Timeout time.Duration
}

// Enabled 是否配置了检索服务。
func (c RetrievalConfig) Enabled() bool { return c.URL != "" }

func loadRetrievalConfig() (RetrievalConfig, error) {
	topK := 5
	if override, err := parseOptionalIntEnv("RETRIEVAL_TOP_K"); err != nil {
		return RetrievalConfig{}, err
	} else if override != nil && *override > 0 {
		topK = *override
	}

	threshold := 0.7
	if override, err := parseOptionalFloatEnv("RETRIEVAL_SCORE_THRESHOLD"); err != nil {
		return RetrievalConfig{}, err
	} else if override != nil {
		threshold = *override
	}

	always, err := parseBoolEnv("RETRIEVAL_ALWAYS", false)
	if err != nil {
		return RetrievalConfig{}, err
	}

	timeout, err := parseDurationEnv("RETRIEVAL_TIMEOUT", 30*time.Second)
	if err != nil {
		return RetrievalConfig{}, err
	}

	return RetrievalConfig{
		URL:            strings.TrimSpace(os.Getenv("OPENSEARCH_API_URL")),
		Indices:        parseListEnv("RETRIEVAL_INDICES", []string{"master_documents"}),
		TopK:           topK,
		ScoreThreshold: threshold,
		Always:         always,
		Timeout:        timeout,
	}, nil
}

// NotifyConfig 描述通知通道。Backend 为 mattermost、matrix 或空。
type NotifyConfig struct {
	Backend string

	MattermostURL   string
	MattermostToken string

	MatrixHomeserver string
	MatrixUserID     string
	MatrixToken      string

	Timeout time.Duration
	// Template 会议纪要消息模板，空值使用内置模板。
	Template string
	// DirectoryPath 参与者映射的 SQLite 文件，空值时使用 Directory 中的静态映射。
	DirectoryPath string
	Directory     map[string]string
}

func loadNotifyConfig() (NotifyConfig, error) {
	timeout, err := parseDurationEnv("NOTIFY_TIMEOUT", 10*time.Second)
	if err != nil {
		return NotifyConfig{}, err
	}

	cfg := NotifyConfig{
		Backend:          strings.ToLower(strings.TrimSpace(os.Getenv("NOTIFY_BACKEND"))),
		MattermostURL:    strings.TrimSpace(os.Getenv("MATTERMOST_URL")),
		MattermostToken:  strings.TrimSpace(os.Getenv("MATTERMOST_BOT_TOKEN")),
		MatrixHomeserver: strings.TrimSpace(os.Getenv("MATRIX_HOMESERVER")),
		MatrixUserID:     strings.TrimSpace(os.Getenv("MATRIX_USER_ID")),
		MatrixToken:      strings.TrimSpace(os.Getenv("MATRIX_ACCESS_TOKEN")),
		Timeout:          timeout,
		Template:         os.Getenv("MINUTES_TEMPLATE"),
		DirectoryPath:    strings.TrimSpace(os.Getenv("DIRECTORY_DB_PATH")),
	}

	if cfg.Backend == "" {
		switch {
		case cfg.MattermostURL != "" && cfg.MattermostToken != "":
			cfg.Backend = "mattermost"
		case cfg.MatrixHomeserver != "" && cfg.MatrixToken != "":
			cfg.Backend = "matrix"
		}
	}
	switch cfg.Backend {
	case "", "mattermost", "matrix":
	default:
		return NotifyConfig{}, fmt.Errorf("invalid NOTIFY_BACKEND value: %q", cfg.Backend)
	}
	return cfg, nil
}

// ConversationConfig 会话相关配置。
type ConversationConfig struct {
	HistoryLimit  int
	SessionTTL    time.Duration
	SweepInterval time.Duration
	EventBuffer   int
}

func loadConversationConfig() (ConversationConfig, error) {
	history := 10
	if override, err := parseOptionalIntEnv("CONVERSATION_HISTORY_LIMIT"); err != nil {
		return ConversationConfig{}, err
	} else if override != nil {
		history = max(*override, 1)
	}

	ttl, err := parseDurationEnv("SESSION_TTL", 24*time.Hour)
	if err != nil {
		return ConversationConfig{}, err
	}
	interval, err := parseDurationEnv("SESSION_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return ConversationConfig{}, err
	}

	buffer := 16
	if override, err := parseOptionalIntEnv("EVENT_BUFFER"); err != nil {
		return ConversationConfig{}, err
	} else if override != nil && *override > 0 {
		buffer = *override
	}

	return ConversationConfig{
		HistoryLimit:  history,
		SessionTTL:    ttl,
		SweepInterval: interval,
		EventBuffer:   buffer,
	}, nil
}

// fileOverlay CONFIG_FILE 的 YAML 结构。
type fileOverlay struct {
	Intents struct {
		Labels map[string]string `yaml:"labels"`
	} `yaml:"intents"`
	Notify struct {
		Template  string            `yaml:"template"`
		Directory map[string]string `yaml:"directory"`
	} `yaml:"notify"`
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if len(overlay.Intents.Labels) > 0 {
		labels := make(map[string]conversation.IntentKind, len(overlay.Intents.Labels))
		for label, kind := range overlay.Intents.Labels {
			parsed, ok := conversation.ParseIntentKind(strings.ToLower(strings.TrimSpace(kind)))
			if !ok {
				return fmt.Errorf("config file %s: label %q maps to unknown intent %q", path, label, kind)
			}
			labels[strings.ToLower(strings.TrimSpace(label))] = parsed
		}
		c.AI.Labels = labels
	}
	if strings.TrimSpace(overlay.Notify.Template) != "" {
		c.Notify.Template = overlay.Notify.Template
	}
	if len(overlay.Notify.Directory) > 0 {
		c.Notify.Directory = overlay.Notify.Directory
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
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

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
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
