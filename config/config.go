package config

import (
	"github.com/oneinbox/mailsync/internal/database"
	"github.com/oneinbox/mailsync/internal/logger"
	"github.com/oneinbox/mailsync/internal/tracing"
	"github.com/oneinbox/mailsync/services/classifier"
	"github.com/oneinbox/mailsync/services/search"
	"github.com/oneinbox/mailsync/services/sync"
)

type AppConfig struct {
	APIPort string `env:"PORT" envDefault:"11000"`
	APIKey  string `env:"API_KEY,required"`
}

type Config struct {
	AppConfig  *AppConfig
	Logger     *logger.Config
	Tracing    *tracing.JaegerConfig
	Database   *database.DatabaseConfig
	Elastic    *search.Config
	Classifier *classifier.Config
	Engine     *sync.EngineConfig
	Manager    *sync.ManagerConfig
}
