package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

const defaultSystemPrompt = "You are the Network Kings Assistant, a friendly tutor for networking, " +
	"security and cloud certification courses. Answer the student's question clearly, " +
	"use short examples or commands when they help, and say so when a question falls " +
	"outside the course material."

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort       string        `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL    string        `env:"DATABASE_URL,required"`
	AutoMigrate    bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
	LLMAPIKey      string        `env:"LLM_API_KEY,required"`
	LLMBaseURL     string        `env:"LLM_BASE_URL" envDefault:"https://api.deepseek.com"`
	LLMModel       string        `env:"LLM_MODEL" envDefault:"deepseek-chat"`
	LLMTimeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`
	SystemPrompt   string        `env:"LLM_SYSTEM_PROMPT"`
	JWTSecret      string        `env:"JWT_SECRET"`
	JWTIssuer      string        `env:"JWT_ISSUER" envDefault:"course-chat"`
	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	ChatRateLimit  int           `env:"CHAT_RATE_LIMIT" envDefault:"20"`
	CourseCacheTTL time.Duration `env:"COURSE_CACHE_TTL" envDefault:"5m"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFile        string        `env:"LOG_FILE"`
	OTelEnabled    bool          `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint   string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	ServiceName    string        `env:"OTEL_SERVICE_NAME" envDefault:"course-chat"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	return &cfg, nil
}

// ClientConfig agrupa lo que necesita el cliente de terminal para hablar con la API.
type ClientConfig struct {
	APIURL   string        `env:"CHAT_API_URL" envDefault:"http://localhost:8080"`
	Token    string        `env:"CHAT_TOKEN"`
	UserID   string        `env:"CHAT_USER_ID"`
	CourseID string        `env:"CHAT_COURSE_ID"`
	Timeout  time.Duration `env:"CHAT_TIMEOUT" envDefault:"30s"`
}

func LoadClientConfig() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
