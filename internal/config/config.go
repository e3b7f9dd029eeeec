package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"

	"novel-reader/internal/utils"
)

// Config содержит конфигурацию Reader Service.
type Config struct {
	// Настройки сервера
	Port     string `envconfig:"READER_SERVER_PORT" default:"8086"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Настройки PostgreSQL (контент историй + опциональный бэкенд прогресса)
	DBHost        string        `envconfig:"DB_HOST" required:"true"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" required:"true"`
	DBName        string        `envconfig:"DB_NAME" required:"true"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string

	// Настройки Redis (кэш контента историй)
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"redis:6379"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	StoryCacheTTL time.Duration `envconfig:"STORY_CACHE_TTL" default:"6h"`

	// Бэкенд прогресса чтения: "firestore" или "postgres".
	ProgressBackend string `envconfig:"PROGRESS_BACKEND" default:"firestore"`
	// Настройки Firebase (используются при ProgressBackend=firestore)
	FirebaseProjectID       string `envconfig:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsFile string `envconfig:"FIREBASE_CREDENTIALS_FILE" default:"/run/secrets/firebase_credentials"`

	// Монетный сервис
	CoinLedgerURL string `envconfig:"COIN_LEDGER_URL" required:"true"`
	// Секретное поле БЕЗ envconfig тега
	InterServiceToken string

	// Настройки JWT (для проверки токена пользователя в middleware)
	// Секретное поле БЕЗ envconfig тега
	JWTSecret string
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// LoadConfig загружает конфигурацию из переменных окружения и секретов.
func LoadConfig() (*Config, error) {
	var cfg Config
	// Загружаем НЕсекретные переменные
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации reader-service: %w", err)
	}

	if cfg.ProgressBackend != "firestore" && cfg.ProgressBackend != "postgres" {
		return nil, fmt.Errorf("недопустимый PROGRESS_BACKEND %q (ожидается firestore или postgres)", cfg.ProgressBackend)
	}
	if cfg.ProgressBackend == "firestore" && cfg.FirebaseProjectID == "" {
		return nil, fmt.Errorf("FIREBASE_PROJECT_ID обязателен при PROGRESS_BACKEND=firestore")
	}

	// Загружаем ОБЯЗАТЕЛЬНЫЕ секреты
	var loadErr error
	cfg.DBPassword, loadErr = utils.ReadSecret("db_password")
	if loadErr != nil {
		return nil, loadErr
	}

	cfg.JWTSecret, loadErr = utils.ReadSecret("jwt_secret")
	if loadErr != nil {
		return nil, loadErr
	}

	cfg.InterServiceToken, loadErr = utils.ReadSecret("inter_service_token")
	if loadErr != nil {
		return nil, loadErr
	}

	log.Printf("Конфигурация Reader Service загружена (секреты из файлов):")
	log.Printf("  Port: %s", cfg.Port)
	log.Printf("  LogLevel: %s", cfg.LogLevel)
	log.Printf("  DB DSN: postgres://%s:***@%s:%s/%s?sslmode=%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode)
	log.Printf("  DB Max Conns: %d", cfg.DBMaxConns)
	log.Printf("  Redis Addr: %s (db %d, story TTL %v)", cfg.RedisAddr, cfg.RedisDB, cfg.StoryCacheTTL)
	log.Printf("  Progress Backend: %s", cfg.ProgressBackend)
	log.Printf("  Coin Ledger URL: %s", cfg.CoinLedgerURL)
	log.Println("  JWT Secret: [ЗАГРУЖЕН]")
	log.Println("  Inter-Service Token: [ЗАГРУЖЕН]")

	return &cfg, nil
}

// Время ожидания graceful shutdown HTTP сервера.
const ShutdownTimeout = 10 * time.Second
