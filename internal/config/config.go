package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultAPIBaseURL - публичный адрес списка персонажей.
const DefaultAPIBaseURL = "https://rickandmortyapi.com/api/character/"

// RabbitMQ хранит настройки подключения к очереди архива.
// Пустой URL отключает публикацию.
type RabbitMQ struct {
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// Archive настраивает конвейер архивации персонажей.
type Archive struct {
	DatabaseURL string `json:"database_url"`
	Workers     int    `json:"workers"`
	// Inline запускает потребителя очереди внутри процесса serve.
	Inline bool `json:"inline"`
}

// Config хранит всю конфигурацию сервиса.
type Config struct {
	ListenAddr        string   `json:"listen_addr"`
	APIBaseURL        string   `json:"api_base_url"`
	RequestTimeoutSec int      `json:"request_timeout_seconds"`
	MaxRetries        int      `json:"max_retries"`
	RetryDelayMs      int      `json:"retry_delay_ms"`
	RateLimitRPS      float64  `json:"rate_limit_rps"`
	RateLimitBurst    int      `json:"rate_limit_burst"`
	SessionTTLMinutes int      `json:"session_ttl_minutes"`
	LogLevel          string   `json:"log_level"`
	RabbitMQ          RabbitMQ `json:"rabbitmq"`
	Archive           Archive  `json:"archive"`
}

// Default возвращает конфигурацию, которая действует без файла.
func Default() *Config {
	return &Config{
		ListenAddr:        ":8080",
		APIBaseURL:        DefaultAPIBaseURL,
		RequestTimeoutSec: 10,
		MaxRetries:        3,
		RetryDelayMs:      2000,
		RateLimitRPS:      5,
		RateLimitBurst:    10,
		SessionTTLMinutes: 30,
		LogLevel:          "info",
		RabbitMQ:          RabbitMQ{Queue: "wiki_pages"},
		Archive:           Archive{Workers: 5},
	}
}

func (cfg *Config) RequestTimeout() time.Duration {
	return time.Duration(cfg.RequestTimeoutSec) * time.Second
}

func (cfg *Config) RetryDelay() time.Duration {
	return time.Duration(cfg.RetryDelayMs) * time.Millisecond
}

func (cfg *Config) SessionTTL() time.Duration {
	return time.Duration(cfg.SessionTTLMinutes) * time.Minute
}

// ArchiveEnabled сообщает, нужно ли публиковать загруженные страницы в архив.
func (cfg *Config) ArchiveEnabled() bool {
	return cfg.RabbitMQ.URL != ""
}

// Validate проверяет базовый URL и границы числовых параметров.
func (cfg *Config) Validate() error {
	u, err := url.ParseRequestURI(cfg.APIBaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid API base URL: %s", cfg.APIBaseURL)
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen address must not be empty")
	}
	if cfg.RequestTimeoutSec < 1 {
		return errors.New("request timeout must be ≥ 1 second")
	}
	if cfg.MaxRetries < 1 {
		return errors.New("max retries must be ≥ 1")
	}
	if cfg.RetryDelayMs < 0 {
		return errors.New("retry delay must not be negative")
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst < 1 {
		return errors.New("rate limit must be positive")
	}
	if cfg.SessionTTLMinutes < 1 {
		return errors.New("session ttl must be ≥ 1 minute")
	}
	if cfg.ArchiveEnabled() {
		if cfg.RabbitMQ.Queue == "" {
			return errors.New("rabbitmq queue must be set when rabbitmq url is set")
		}
		if cfg.Archive.Workers < 1 {
			return errors.New("archive workers must be ≥ 1")
		}
	}
	return nil
}

// LoadConfig читает JSON-файл по пути path поверх Default().
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := Default()
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load собирает итоговую конфигурацию: значения по умолчанию, затем
// необязательный JSON-файл, затем .env, затем переменные окружения WIKI_*.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	setString(&cfg.ListenAddr, "WIKI_LISTEN_ADDR")
	setString(&cfg.APIBaseURL, "WIKI_API_BASE_URL")
	setString(&cfg.LogLevel, "WIKI_LOG_LEVEL")
	setString(&cfg.RabbitMQ.URL, "WIKI_RABBITMQ_URL")
	setString(&cfg.RabbitMQ.Queue, "WIKI_RABBITMQ_QUEUE")
	setString(&cfg.Archive.DatabaseURL, "WIKI_DATABASE_URL")

	ints := map[string]*int{
		"WIKI_REQUEST_TIMEOUT_SECONDS": &cfg.RequestTimeoutSec,
		"WIKI_MAX_RETRIES":             &cfg.MaxRetries,
		"WIKI_RETRY_DELAY_MS":          &cfg.RetryDelayMs,
		"WIKI_RATE_LIMIT_BURST":        &cfg.RateLimitBurst,
		"WIKI_SESSION_TTL_MINUTES":     &cfg.SessionTTLMinutes,
		"WIKI_ARCHIVE_WORKERS":         &cfg.Archive.Workers,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", key, v)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("WIKI_RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid WIKI_RATE_LIMIT_RPS: %q", v)
		}
		cfg.RateLimitRPS = f
	}
	if v, ok := os.LookupEnv("WIKI_ARCHIVE_INLINE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid WIKI_ARCHIVE_INLINE: %q", v)
		}
		cfg.Archive.Inline = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
