// Package config содержит логику чтения конфигурации сервиса adwheel.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Rewards содержит неизменяемые параметры политики вознаграждений.
// Значения читаются один раз на старте процесса и передаются явно.
type Rewards struct {
	AdReward          int64         `env:"AD_REWARD" envDefault:"3"`
	CommissionRate    float64       `env:"COMMISSION_RATE" envDefault:"0.1"`
	DailyMaxAds       int           `env:"DAILY_MAX_ADS" envDefault:"100"`
	DailyMaxSpins     int           `env:"DAILY_MAX_SPINS" envDefault:"50"`
	MinActionInterval time.Duration `env:"MIN_ACTION_INTERVAL" envDefault:"3s"`
	TokenTTL          time.Duration `env:"ACTION_TOKEN_TTL" envDefault:"30s"`
	SessionMaxAge     time.Duration `env:"SESSION_MAX_AGE" envDefault:"20m"`
	MinWithdrawal     int64         `env:"MIN_WITHDRAWAL" envDefault:"1000"`
	MinDestinationLen int           `env:"MIN_DESTINATION_LEN" envDefault:"8"`
}

// WheelSectors возвращает таблицу секторов призового колеса.
// Порядок фиксирован: индекс выпавшего сектора является частью ответа.
func WheelSectors() []int64 {
	return []int64{1, 2, 1, 5, 10}
}

// Config содержит параметры конфигурации сервиса adwheel.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	BotToken    string `env:"BOT_TOKEN"`
	Rewards     Rewards
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBotToken := cfg.BotToken

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BotToken, "t", "", "bot token used to verify session payloads")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBotToken != "" {
		cfg.BotToken = envBotToken
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
