package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Milvus     MilvusConfig
	LLM        LLMConfig
	Confidence ConfidenceConfig
	Language   LanguageConfig
	Cache      CacheConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
	VectorDim      int
	TopK           int
}

type LLMConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

// ConfidenceConfig holds the escalation threshold and factor weights. The
// default weights sum to 1.0; the overall score is clamped either way.
type ConfidenceConfig struct {
	Threshold     float64
	ContextWeight float64
	SourceWeight  float64
	LengthWeight  float64
	TermsWeight   float64
}

type LanguageConfig struct {
	Supported []string
	Fallback  string
}

type CacheConfig struct {
	Enabled    bool
	TTLSeconds int
}

type RateLimitConfig struct {
	Enabled              bool
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/greencard-rag")

	viper.SetEnvPrefix("GCRAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(cfg *Config) error {
	if cfg.Confidence.Threshold < 0 || cfg.Confidence.Threshold > 1 {
		return fmt.Errorf("confidence.threshold must be in [0,1], got %f", cfg.Confidence.Threshold)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1,65535], got %d", cfg.Server.Port)
	}
	if cfg.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.maxTokens must be positive, got %d", cfg.LLM.MaxTokens)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/greencard.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "green_card_faq")
	viper.SetDefault("milvus.vectorDim", 1536)
	viper.SetDefault("milvus.topK", 3)

	viper.SetDefault("llm.model", "gpt-3.5-turbo")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.maxTokens", 1000)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("confidence.threshold", 0.7)
	viper.SetDefault("confidence.contextWeight", 0.4)
	viper.SetDefault("confidence.sourceWeight", 0.3)
	viper.SetDefault("confidence.lengthWeight", 0.2)
	viper.SetDefault("confidence.termsWeight", 0.1)

	viper.SetDefault("language.supported", []string{"en", "zh"})
	viper.SetDefault("language.fallback", "en")

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.ttlSeconds", 3600)

	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("ratelimit.maxRequestsPerMinute", 100)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
