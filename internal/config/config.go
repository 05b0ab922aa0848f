package config

import (
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config собирает настройки сервиса из переменных окружения
type Config struct {
	Port          string `env:"PORT" envDefault:"8080"`
	DatabaseURL   string `env:"DATABASE_URL,required"`
	RedisURL      string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	UploadDir     string `env:"UPLOAD_DIR" envDefault:"uploads"`
	MaxUploadSize int64  `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"` // 10MB
}

// Load читает .env.local / .env (если есть) и разбирает окружение
func Load() (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		// .env.local необязателен, пробуем обычный .env
		godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
