package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

var envPaths = []string{".env", "../../.env"}

type Config struct {
	Env    string `validate:"oneof=local dev prod"`
	DB     DB
	Server Server
	Logger Logger
}

type DB struct {
	DatabaseURI string `env:"DATABASE_URI"`
	Migrations  string `env:"MIGRATIONS_PATH"`
}

type Server struct {
	RunAddress      string        `env:"RUN_ADDRESS" validate:"required"`
	AuthToken       string        `env:"AUTH_TOKEN"`
	SeedPath        string        `env:"SEED_PATH"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

type Logger struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load читает конфигурацию сервера из .env и переменных окружения
func Load() (*Config, error) {
	for _, p := range envPaths {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				return nil, fmt.Errorf("load %s: %w", p, err)
			}
			break
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("app_env", EnvLocal)
	v.SetDefault("run_address", ":8080")
	v.SetDefault("migrations_path", "migrations")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_timeout", 10*time.Second)
	v.SetDefault("write_timeout", 10*time.Second)
	v.SetDefault("shutdown_timeout", 5*time.Second)

	config := Config{
		Env: v.GetString("app_env"),
		DB: DB{
			DatabaseURI: v.GetString("database_uri"),
			Migrations:  v.GetString("migrations_path"),
		},
		Server: Server{
			RunAddress:      v.GetString("run_address"),
			AuthToken:       v.GetString("auth_token"),
			SeedPath:        v.GetString("seed_path"),
			ReadTimeout:     v.GetDuration("read_timeout"),
			WriteTimeout:    v.GetDuration("write_timeout"),
			ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		},
		Logger: Logger{LogLevel: v.GetString("log_level")},
	}

	if err := validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	return &config, nil
}

func MustLoad() *Config {
	config, err := Load()
	if err != nil {
		panic(err)
	}
	return config
}

// UsePostgres сообщает, задана ли база данных
func (c *Config) UsePostgres() bool {
	return c.DB.DatabaseURI != ""
}
