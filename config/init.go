package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/oneinbox/mailsync/internal/database"
	"github.com/oneinbox/mailsync/internal/logger"
	"github.com/oneinbox/mailsync/internal/tracing"
	"github.com/oneinbox/mailsync/services/classifier"
	"github.com/oneinbox/mailsync/services/search"
	"github.com/oneinbox/mailsync/services/sync"
)

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:  &AppConfig{},
		Logger:     &logger.Config{},
		Tracing:    &tracing.JaegerConfig{},
		Database:   &database.DatabaseConfig{},
		Elastic:    &search.Config{},
		Classifier: &classifier.Config{},
		Engine:     &sync.EngineConfig{},
		Manager:    &sync.ManagerConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
