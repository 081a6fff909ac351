package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/classfeed/internal/logger"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// loadEnv читает .env только вне production (в контейнере/prod конфиг только из env).
// Ищет файл в текущей директории и до 4 уровней выше; уже заданные переменные не перезаписываются.
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
				logger.Warnf("config: не удалось прочитать %s: %v", path, err)
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

// ReconnectConfig: политика переподключения сокета.
// Multiplier 1 даёт фиксированную задержку; MaxAttempts 0: без ограничения.
type ReconnectConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	MaxAttempts int
}

// PrefsConfig: где хранить клиентские настройки (lastSession, darkMode, streak).
type PrefsConfig struct {
	Store    string // "memory" или "redis"
	RedisURL string
}

// Config содержит настройки клиента синхронизации.
// Приоритет: переменные окружения > YAML > значения по умолчанию.
type Config struct {
	// Локальный HTTP для UI
	ServerAddr         string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	CORSAllowedOrigins string

	// Бэкенд
	BackendURL     string
	SocketURL      string
	RequestTimeout time.Duration

	// Пользователь, с которым сессия стартует при запуске (пусто: ждём POST /api/session)
	Username string
	Token    string

	// Сокеты бэкенда
	Reconnect        ReconnectConfig
	WSSendBufferSize int
	WSWriteTimeout   time.Duration
	WSMaxMessageSize int64

	Prefs PrefsConfig

	LogLevel string
	// LogFile: путь к файлу лога с ротацией (пусто: только stderr)
	LogFile string
}

type yamlConfig struct {
	ServerAddr          string  `yaml:"server_addr"`
	ReadTimeout         int     `yaml:"read_timeout"`
	WriteTimeout        int     `yaml:"write_timeout"`
	IdleTimeout         int     `yaml:"idle_timeout"`
	CORSAllowedOrigins  string  `yaml:"cors_allowed_origins"`
	BackendURL          string  `yaml:"backend_url"`
	SocketURL           string  `yaml:"socket_url"`
	RequestTimeout      int     `yaml:"request_timeout"`
	Username            string  `yaml:"username"`
	ReconnectBaseMS     int     `yaml:"reconnect_base_ms"`
	ReconnectMaxMS      int     `yaml:"reconnect_max_ms"`
	ReconnectMultiplier float64 `yaml:"reconnect_multiplier"`
	ReconnectAttempts   int     `yaml:"reconnect_max_attempts"`
	WSSendBufferSize    int     `yaml:"ws_send_buffer_size"`
	WSWriteTimeout      int     `yaml:"ws_write_timeout"`
	WSMaxMessageSize    int     `yaml:"ws_max_message_size"`
	PrefsStore          string  `yaml:"prefs_store"`
	RedisURL            string  `yaml:"redis_url"`
	LogLevel            string  `yaml:"log_level"`
	LogFile             string  `yaml:"log_file"`
}

func defaults() yamlConfig {
	return yamlConfig{
		ServerAddr:          "127.0.0.1:8090",
		ReadTimeout:         15,
		WriteTimeout:        15,
		IdleTimeout:         60,
		CORSAllowedOrigins:  "*",
		BackendURL:          "http://localhost:8000/api",
		SocketURL:           "ws://localhost:8000",
		RequestTimeout:      10,
		ReconnectBaseMS:     5000,
		ReconnectMaxMS:      60000,
		ReconnectMultiplier: 2,
		ReconnectAttempts:   10,
		WSSendBufferSize:    64,
		WSWriteTimeout:      10,
		WSMaxMessageSize:    1 << 20,
		PrefsStore:          "memory",
		RedisURL:            "redis://localhost:6379",
		LogLevel:            "info",
	}
}

// Load загружает конфигурацию: .env (если есть), затем YAML, затем env.
func Load() *Config {
	loadEnv()
	yc := defaults()

	paths := []string{os.Getenv("CONFIG_PATH"), "config/client.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := parseYAML(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}
	return fromYAML(yc)
}

func parseYAML(data []byte, yc *yamlConfig) error {
	return yaml.Unmarshal(data, yc)
}

func fromYAML(yc yamlConfig) *Config {
	multiplier := yc.ReconnectMultiplier
	if raw := os.Getenv("RECONNECT_MULTIPLIER"); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			multiplier = f
		}
	}
	if multiplier < 1 {
		multiplier = 1
	}

	cfg := &Config{
		ServerAddr:         envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:        time.Duration(envInt("READ_TIMEOUT", yc.ReadTimeout)) * time.Second,
		WriteTimeout:       time.Duration(envInt("WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		IdleTimeout:        time.Duration(envInt("IDLE_TIMEOUT", yc.IdleTimeout)) * time.Second,
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		BackendURL:         strings.TrimSuffix(envStr("BACKEND_URL", yc.BackendURL), "/"),
		SocketURL:          strings.TrimSuffix(envStr("SOCKET_URL", yc.SocketURL), "/"),
		RequestTimeout:     time.Duration(envInt("REQUEST_TIMEOUT", yc.RequestTimeout)) * time.Second,
		Username:           envStr("CLIENT_USERNAME", yc.Username),
		Token:              envStr("CLIENT_TOKEN", ""),
		Reconnect: ReconnectConfig{
			BaseDelay:   time.Duration(envInt("RECONNECT_BASE_MS", yc.ReconnectBaseMS)) * time.Millisecond,
			MaxDelay:    time.Duration(envInt("RECONNECT_MAX_MS", yc.ReconnectMaxMS)) * time.Millisecond,
			Multiplier:  multiplier,
			MaxAttempts: envInt("RECONNECT_MAX_ATTEMPTS", yc.ReconnectAttempts),
		},
		WSSendBufferSize: envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
		WSWriteTimeout:   time.Duration(envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeout)) * time.Second,
		WSMaxMessageSize: int64(envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize)),
		Prefs: PrefsConfig{
			Store:    envStr("PREFS_STORE", yc.PrefsStore),
			RedisURL: envStr("REDIS_URL", yc.RedisURL),
		},
		LogLevel: envStr("LOG_LEVEL", yc.LogLevel),
		LogFile:  envStr("LOG_FILE", yc.LogFile),
	}
	if cfg.Reconnect.BaseDelay <= 0 {
		cfg.Reconnect.BaseDelay = 5 * time.Second
	}
	if cfg.Reconnect.MaxDelay < cfg.Reconnect.BaseDelay {
		cfg.Reconnect.MaxDelay = cfg.Reconnect.BaseDelay
	}
	if cfg.Reconnect.MaxAttempts < 0 {
		cfg.Reconnect.MaxAttempts = 0
	}
	if cfg.WSSendBufferSize <= 0 {
		cfg.WSSendBufferSize = 64
	}

	if os.Getenv("APP_ENV") == "production" && (cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*") {
		logger.Errorf("config: в production задайте CORS_ALLOWED_ORIGINS (явный список origins, не *)")
	}
	return cfg
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
		return fallback
	}
	return n
}
