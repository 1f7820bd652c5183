package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
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

const (
	defaultServerAddress = "localhost:8080"
	defaultAPIPrefix     = "/api/v1"
	defaultLogLevel      = "info"
	defaultEnv           = EnvLocal
	defaultConfigDir     = ".edudesk"
)

type Config struct {
	Env            string        `mapstructure:"app_env" validate:"oneof=local dev prod"`
	ServerAddress  string        `mapstructure:"server_address" validate:"required"`
	APIPrefix      string        `mapstructure:"api_prefix"`
	EnableTLS      bool          `mapstructure:"enable_tls"`
	LogLevel       string        `mapstructure:"log_level"`
	ConfigDir      string        `mapstructure:"config_dir" validate:"required"`
	TokenPath      string        `mapstructure:"token_path" validate:"required"`
	DataPath       string        `mapstructure:"data_path" validate:"required"`
	SaltPath       string        `mapstructure:"salt_path" validate:"required"`
	StoreSecret    string        `mapstructure:"store_secret"`
	StartOffline   bool          `mapstructure:"start_offline"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval" validate:"gt=0"`
	ReplayInterval time.Duration `mapstructure:"replay_interval" validate:"gt=0"`
	Replay         Replay        `mapstructure:"replay"`
}

// Replay - параметры воспроизведения очереди
type Replay struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	Backoff     time.Duration `mapstructure:"backoff" validate:"gt=0"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" validate:"gtefield=Backoff"`
	Rate        float64       `mapstructure:"rate" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load читает конфигурацию из .env, переменных окружения и,
// если задан path, из файла конфигурации
func Load(path string) (*Config, error) {
	loadDotEnv()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации %s: %w", path, err)
		}
	}

	configDir := v.GetString("CONFIG_DIR")
	if configDir == defaultConfigDir {
		// Получаем домашнюю директорию пользователя
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		configDir = filepath.Join(homeDir, configDir)
	}

	cfg := &Config{
		Env:            v.GetString("APP_ENV"),
		ServerAddress:  strings.TrimSpace(v.GetString("SERVER_ADDRESS")),
		APIPrefix:      v.GetString("API_PREFIX"),
		EnableTLS:      v.GetBool("ENABLE_TLS"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		ConfigDir:      configDir,
		TokenPath:      pathIn(configDir, v.GetString("TOKEN_PATH")),
		DataPath:       pathIn(configDir, v.GetString("DATA_PATH")),
		SaltPath:       pathIn(configDir, v.GetString("SALT_PATH")),
		StoreSecret:    v.GetString("STORE_SECRET"),
		StartOffline:   v.GetBool("START_OFFLINE"),
		CacheTTL:       v.GetDuration("CACHE_TTL"),
		RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),
		ProbeInterval:  v.GetDuration("PROBE_INTERVAL"),
		ReplayInterval: v.GetDuration("REPLAY_INTERVAL"),
		Replay: Replay{
			MaxAttempts: v.GetInt("REPLAY_MAX_ATTEMPTS"),
			Backoff:     v.GetDuration("REPLAY_BACKOFF"),
			MaxBackoff:  v.GetDuration("REPLAY_MAX_BACKOFF"),
			Rate:        v.GetFloat64("REPLAY_RATE"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("ошибка конфигурации: %w", err)
	}

	return cfg, nil
}

// MustLoad загружает конфигурацию клиента и паникует при ошибке
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	// Устанавливаем значения по умолчанию
	v.SetDefault("APP_ENV", defaultEnv)
	v.SetDefault("SERVER_ADDRESS", defaultServerAddress)
	v.SetDefault("API_PREFIX", defaultAPIPrefix)
	v.SetDefault("ENABLE_TLS", false)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("CONFIG_DIR", defaultConfigDir)
	v.SetDefault("TOKEN_PATH", "token")
	v.SetDefault("DATA_PATH", "edudesk.db")
	v.SetDefault("SALT_PATH", "store.salt")
	v.SetDefault("START_OFFLINE", false)
	v.SetDefault("CACHE_TTL", 10*time.Minute)
	v.SetDefault("REQUEST_TIMEOUT", 15*time.Second)
	v.SetDefault("PROBE_INTERVAL", 10*time.Second)
	v.SetDefault("REPLAY_INTERVAL", 30*time.Second)
	v.SetDefault("REPLAY_MAX_ATTEMPTS", 5)
	v.SetDefault("REPLAY_BACKOFF", 2*time.Second)
	v.SetDefault("REPLAY_MAX_BACKOFF", 5*time.Minute)
	v.SetDefault("REPLAY_RATE", 10.0)
}

func loadDotEnv() {
	// Определяем путь к .env файлу (относительно места запуска)
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = "../.env"
	}

	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Fprintf(os.Stderr, "Ошибка загрузки .env файла: %v\n", err)
		}
	}
}

func pathIn(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	return nil
}

// BaseURL возвращает адрес API с протоколом и префиксом
func (c *Config) BaseURL() string {
	if strings.HasPrefix(c.ServerAddress, "http://") || strings.HasPrefix(c.ServerAddress, "https://") {
		return strings.TrimRight(c.ServerAddress, "/") + c.APIPrefix
	}

	// Определяем протокол
	scheme := "http://"
	if c.EnableTLS {
		scheme = "https://"
	}
	return scheme + c.ServerAddress + c.APIPrefix
}

// EnsureDir создает директорию данных клиента
func (c *Config) EnsureDir() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return fmt.Errorf("ошибка создания директории конфигурации: %w", err)
	}
	return nil
}

// IsProd проверяет, prod ли окружение
func (c *Config) IsProd() bool {
	return c.Env == EnvProd
}

// IsDev проверяет, dev ли окружение
func (c *Config) IsDev() bool {
	return c.Env == EnvDev
}

// IsLocal проверяет, local ли окружение
func (c *Config) IsLocal() bool {
	return c.Env == EnvLocal || c.Env == ""
}
