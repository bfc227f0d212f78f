package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Бэкенды outbox.
const (
	OutboxMemory = "memory"
	OutboxRedis  = "redis"
	OutboxPebble = "pebble"
)

// loadEnv читает ближайший .env (до 5 уровней вверх) только вне production.
// Уже заданные переменные окружения не перезаписываются.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				logger.Errorf("config: ошибка чтения %s: %v", path, err)
			}
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// OutboxConfig — где хранится очередь неподтверждённых сообщений.
type OutboxConfig struct {
	Backend    string        `yaml:"backend"`
	Key        string        `yaml:"key"`
	TTL        time.Duration `yaml:"-"`
	PebblePath string        `yaml:"pebble_path"`
}

// RedisConfig — Redis для outbox (OUTBOX_BACKEND=redis).
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DatabaseConfig — настройки подключения к БД dev-сервера.
type DatabaseConfig struct {
	URL            string `yaml:"database_url"`
	MaxConnections int    `yaml:"db_max_connections"`
}

// Config содержит настройки клиента и dev-сервера.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	// Клиент: сервер чата и сессия
	APIURL        string
	WSURL         string
	UserID        string
	UserName      string
	SessionID     string
	SessionSecret string

	// Клиент: тайминги ядра доставки
	SendTimeout     time.Duration
	ReadBatchDelay  time.Duration
	TypingThrottle  time.Duration
	DuplicateWindow time.Duration

	Outbox OutboxConfig
	Redis  RedisConfig

	// MetricsAddr — адрес promhttp у клиента. Пустой — метрики не отдаются.
	MetricsAddr string
	LogLevel    string

	// Dev-сервер
	ServerAddr         string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	Database           DatabaseConfig
	CORSAllowedOrigins string
	MaxUploadSize      int64

	// WebSocket dev-сервера
	MaxWSConnections int
	WSSendBufferSize int
	WSWriteTimeout   int
	WSPongTimeout    int
	WSMaxMessageSize int
}

// DatabaseURL возвращает строку подключения к БД. Если она пуста, dev-сервер хранит всё в памяти.
func (c *Config) DatabaseURL() string { return c.Database.URL }

// DBMaxConnections возвращает максимальное число соединений в пуле.
func (c *Config) DBMaxConnections() int {
	if c.Database.MaxConnections <= 0 {
		return 20
	}
	return c.Database.MaxConnections
}

// ValidateClient проверяет настройки, без которых клиент не может работать.
func (c *Config) ValidateClient() error {
	if c.APIURL == "" {
		return fmt.Errorf("config: CHAT_API_URL is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("config: CHAT_USER_ID is required")
	}
	switch c.Outbox.Backend {
	case OutboxMemory, OutboxRedis, OutboxPebble:
	default:
		return fmt.Errorf("config: unknown OUTBOX_BACKEND %q", c.Outbox.Backend)
	}
	if c.Outbox.Backend == OutboxPebble && c.Outbox.PebblePath == "" {
		return fmt.Errorf("config: PEBBLE_PATH is required for the pebble outbox")
	}
	return nil
}

// yamlConfig — промежуточная структура для парсинга YAML.
type yamlConfig struct {
	APIURL            string       `yaml:"api_url"`
	WSURL             string       `yaml:"ws_url"`
	UserID            string       `yaml:"user_id"`
	UserName          string       `yaml:"user_name"`
	SendTimeout       int          `yaml:"send_timeout"`
	ReadBatchDelayMS  int          `yaml:"read_batch_delay_ms"`
	TypingThrottleMS  int          `yaml:"typing_throttle_ms"`
	DuplicateWindowMS int          `yaml:"duplicate_window_ms"`
	Outbox            OutboxConfig `yaml:"outbox"`
	OutboxTTLHours    int          `yaml:"outbox_ttl_hours"`
	Redis             RedisConfig  `yaml:"redis"`
	MetricsAddr       string       `yaml:"metrics_addr"`
	LogLevel          string       `yaml:"log_level"`

	ServerAddr         string         `yaml:"server_addr"`
	ReadTimeout        int            `yaml:"read_timeout"`
	WriteTimeout       int            `yaml:"write_timeout"`
	IdleTimeout        int            `yaml:"idle_timeout"`
	Database           DatabaseConfig `yaml:"database"`
	CORSAllowedOrigins string         `yaml:"cors_allowed_origins"`
	MaxUploadSizeMB    int            `yaml:"max_upload_size_mb"`
	MaxWSConnections   int            `yaml:"max_ws_connections"`
	WSSendBufferSize   int            `yaml:"ws_send_buffer_size"`
	WSWriteTimeout     int            `yaml:"ws_write_timeout"`
	WSPongTimeout      int            `yaml:"ws_pong_timeout"`
	WSMaxMessageSize   int            `yaml:"ws_max_message_size"`
}

func defaults() yamlConfig {
	return yamlConfig{
		APIURL:             "http://localhost:8080",
		SendTimeout:        10,
		ReadBatchDelayMS:   300,
		TypingThrottleMS:   3000,
		DuplicateWindowMS:  5000,
		Outbox:             OutboxConfig{Backend: OutboxMemory, Key: "chat_outbox"},
		OutboxTTLHours:     24,
		Redis:              RedisConfig{URL: "redis://localhost:6379"},
		LogLevel:           "info",
		ServerAddr:         ":8080",
		ReadTimeout:        15,
		WriteTimeout:       15,
		IdleTimeout:        60,
		Database:           DatabaseConfig{MaxConnections: 20},
		CORSAllowedOrigins: "*",
		MaxUploadSizeMB:    20,
		MaxWSConnections:   10000,
		WSSendBufferSize:   256,
		WSWriteTimeout:     10,
		WSPongTimeout:      60,
		WSMaxMessageSize:   65536,
	}
}

// Load загружает конфигурацию.
// Сначала подгружаются переменные из .env (если есть), затем YAML и env (env имеет приоритет).
func Load() *Config {
	loadEnv()
	yc := defaults()

	// CONFIG_PATH → config/chatsync.yaml
	for _, path := range []string{os.Getenv("CONFIG_PATH"), "config/chatsync.yaml"} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}

	apiURL := envStr("CHAT_API_URL", yc.APIURL)
	cfg := &Config{
		APIURL:          apiURL,
		WSURL:           envStr("CHAT_WS_URL", wsURLFor(yc.WSURL, apiURL)),
		UserID:          envStr("CHAT_USER_ID", yc.UserID),
		UserName:        envStr("CHAT_USER_NAME", yc.UserName),
		SessionID:       envStr("CHAT_SESSION_ID", ""),
		SessionSecret:   envStr("CHAT_SESSION_SECRET", ""),
		SendTimeout:     time.Duration(envInt("SEND_TIMEOUT", yc.SendTimeout)) * time.Second,
		ReadBatchDelay:  time.Duration(envInt("READ_BATCH_DELAY_MS", yc.ReadBatchDelayMS)) * time.Millisecond,
		TypingThrottle:  time.Duration(envInt("TYPING_THROTTLE_MS", yc.TypingThrottleMS)) * time.Millisecond,
		DuplicateWindow: time.Duration(envInt("DUPLICATE_WINDOW_MS", yc.DuplicateWindowMS)) * time.Millisecond,
		Outbox: OutboxConfig{
			Backend:    envStr("OUTBOX_BACKEND", yc.Outbox.Backend),
			Key:        envStr("OUTBOX_KEY", yc.Outbox.Key),
			TTL:        time.Duration(envInt("OUTBOX_TTL_HOURS", yc.OutboxTTLHours)) * time.Hour,
			PebblePath: envStr("PEBBLE_PATH", yc.Outbox.PebblePath),
		},
		Redis:       RedisConfig{URL: envStr("REDIS_URL", yc.Redis.URL)},
		MetricsAddr: envStr("METRICS_ADDR", yc.MetricsAddr),
		LogLevel:    envStr("LOG_LEVEL", yc.LogLevel),

		ServerAddr:   envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:  time.Duration(envInt("READ_TIMEOUT", yc.ReadTimeout)) * time.Second,
		WriteTimeout: time.Duration(envInt("WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		IdleTimeout:  time.Duration(envInt("IDLE_TIMEOUT", yc.IdleTimeout)) * time.Second,
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", yc.Database.URL),
			MaxConnections: envInt("DB_MAX_CONNECTIONS", yc.Database.MaxConnections),
		},
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		MaxUploadSize:      int64(envInt("MAX_UPLOAD_SIZE_MB", yc.MaxUploadSizeMB)) << 20,
		MaxWSConnections:   envInt("MAX_WS_CONNECTIONS", yc.MaxWSConnections),
		WSSendBufferSize:   envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
		WSWriteTimeout:     envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeout),
		WSPongTimeout:      envInt("WS_PONG_TIMEOUT", yc.WSPongTimeout),
		WSMaxMessageSize:   envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize),
	}

	// Нулевые и отрицательные значения заменяем значениями по умолчанию
	d := defaults()
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Duration(d.SendTimeout) * time.Second
	}
	if cfg.ReadBatchDelay <= 0 {
		cfg.ReadBatchDelay = time.Duration(d.ReadBatchDelayMS) * time.Millisecond
	}
	if cfg.TypingThrottle <= 0 {
		cfg.TypingThrottle = time.Duration(d.TypingThrottleMS) * time.Millisecond
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = time.Duration(d.DuplicateWindowMS) * time.Millisecond
	}
	if cfg.Outbox.TTL <= 0 {
		cfg.Outbox.TTL = time.Duration(d.OutboxTTLHours) * time.Hour
	}
	if cfg.Outbox.Key == "" {
		cfg.Outbox.Key = d.Outbox.Key
	}

	if os.Getenv("APP_ENV") == "production" && (cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*") {
		logger.Errorf("config: в production задайте CORS_ALLOWED_ORIGINS (явный список origins, не *)")
	}
	return cfg
}

// wsURLFor выводит адрес realtime-канала из адреса API, если он не задан явно.
func wsURLFor(explicit, apiURL string) string {
	if explicit != "" {
		return explicit
	}
	switch {
	case len(apiURL) > 8 && apiURL[:8] == "https://":
		return "wss://" + apiURL[8:] + "/ws"
	case len(apiURL) > 7 && apiURL[:7] == "http://":
		return "ws://" + apiURL[7:] + "/ws"
	}
	return ""
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Errorf("config: %s=%q не число, используется %d", key, v, fallback)
		return fallback
	}
	return n
}
