// Package config loads bot configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`
	DatabaseURL  string `env:"DATABASE_URL,required"`

	YTDLPPath         string        `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	TickPeriod        time.Duration `env:"TICK_PERIOD" envDefault:"10s"`
	AutoLeaveInterval time.Duration `env:"AUTO_LEAVE_INTERVAL" envDefault:"1m"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[INFO] No .env file found, falling back to system environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	return cfg, nil
}
