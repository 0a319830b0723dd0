// Пакет config — загрузка и валидация конфигурации File Manager
// из переменных окружения (префикс FM_) и опционального файла конфигурации.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Драйверы дисков хранения.
const (
	DriverLocal = "local"
	DriverMinio = "minio"
	DriverS3    = "s3"
)

// DiskConfig — параметры одного именованного диска.
type DiskConfig struct {
	// Имя диска (используется в каталоге файлов)
	Name string
	// Драйвер: local, minio, s3
	Driver string
	// Корневая директория (local)
	Root string
	// Базовый URL для публичных ссылок (local)
	BaseURL string
	// Endpoint объектного хранилища (minio, s3)
	Endpoint string
	// Имя bucket (minio, s3)
	Bucket string
	// Ключ доступа
	AccessKey string
	// Секретный ключ
	SecretKey string
	// Регион
	Region string
	// Использовать TLS при подключении к endpoint
	UseSSL bool
}

// Config содержит все параметры конфигурации File Manager.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Размер пула подключений
	DBMaxConns int

	// --- Диски ---

	// Диск по умолчанию
	DefaultDisk string
	// Все сконфигурированные диски
	Disks []DiskConfig

	// --- Загрузка ---

	// Максимальный размер файла в байтах (0 — без ограничения)
	UploadMaxSize int64
	// Разрешённые MIME-типы (пусто — любые)
	UploadAllowedMIME []string
	// Директория на диске по умолчанию
	UploadDir string
	// Сколько последних версий хранить (0 — все)
	VersionKeep int

	// --- Квоты ---

	// Квота пользователя по умолчанию в байтах (0 — без ограничения)
	QuotaUserDefault int64
	// Квота отдела по умолчанию в байтах (0 — без ограничения)
	QuotaDepartmentDefault int64

	// --- Миниатюры ---

	ThumbEnabled bool
	// Диск для миниатюр (пусто — диск по умолчанию)
	ThumbDisk    string
	ThumbWidth   int
	ThumbHeight  int
	ThumbQuality int
	// Предел ширина×высота исходного изображения
	ThumbMaxPixels int64
	// MIME-типы растровых изображений, для которых строятся миниатюры
	ThumbMIME    []string
	ThumbWorkers int

	// --- Ссылки ---

	// Базовый URL для публичных share-ссылок
	ShareBaseURL string
	// Время жизни временных ссылок на скачивание
	TempURLTTL time.Duration

	// --- Обслуживание ---

	// Cron-расписание пересчёта использования хранилища
	UsageRecalcSchedule string
	// Cron-расписание очистки осиротевших миниатюр
	ThumbCleanupSchedule string

	// --- Интеграции ---

	// URL RabbitMQ (пусто — события и задания миниатюр обрабатываются в процессе)
	AMQPURL string
	// URL JWKS endpoint (пусто — пользователь берётся из заголовков API Gateway)
	JWKSURL string
	// Ожидаемый issuer JWT (пусто — не проверяется)
	JWTIssuer string
	// Период обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Кэш ---

	CacheSize int
	CacheTTL  time.Duration

	// --- topologymetrics ---

	DephealthCheckInterval time.Duration
	DephealthGroup         string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// configFile — путь к файлу конфигурации (опционально).
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("чтение файла конфигурации %s: %w", configFile, err)
		}
	}

	return fromViper(v)
}

// setDefaults задаёт значения по умолчанию.
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8020)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetDefault("db_port", 5432)
	v.SetDefault("db_ssl_mode", "disable")
	v.SetDefault("db_max_conns", 10)

	v.SetDefault("default_disk", "local")
	v.SetDefault("disks", "")

	v.SetDefault("upload_max_size", 10*1024*1024)
	v.SetDefault("upload_allowed_mime", "")
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("version_keep", 0)

	v.SetDefault("quota_user_default", 0)
	v.SetDefault("quota_department_default", 0)

	v.SetDefault("thumb_enabled", true)
	v.SetDefault("thumb_disk", "")
	v.SetDefault("thumb_width", 300)
	v.SetDefault("thumb_height", 300)
	v.SetDefault("thumb_quality", 85)
	v.SetDefault("thumb_max_pixels", 40_000_000)
	v.SetDefault("thumb_mime", "image/jpeg,image/png,image/gif,image/webp")
	v.SetDefault("thumb_workers", 2)

	v.SetDefault("share_base_url", "")
	v.SetDefault("temp_url_ttl", time.Hour)

	v.SetDefault("usage_recalc_schedule", "0 3 * * *")
	v.SetDefault("thumb_cleanup_schedule", "30 3 * * *")

	v.SetDefault("amqp_url", "")
	v.SetDefault("jwks_url", "")
	v.SetDefault("jwt_issuer", "")
	v.SetDefault("jwks_refresh_interval", 15*time.Minute)
	v.SetDefault("jwt_leeway", 5*time.Second)

	v.SetDefault("cache_size", 10000)
	v.SetDefault("cache_ttl", 5*time.Minute)

	v.SetDefault("dephealth_check_interval", 15*time.Second)
	v.SetDefault("dephealth_group", "file-manager")
}

//nolint:cyclop // линейная проверка параметров
func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port = v.GetInt("port")
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FM_PORT: значение %d вне допустимого диапазона", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(v.GetString("log_level"))
	if err != nil {
		return nil, fmt.Errorf("FM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = v.GetString("log_format")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ShutdownTimeout = v.GetDuration("shutdown_timeout")
	if cfg.ShutdownTimeout <= 0 {
		return nil, fmt.Errorf("FM_SHUTDOWN_TIMEOUT: значение должно быть положительным")
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = required(v, "db_host"); err != nil {
		return nil, err
	}
	cfg.DBPort = v.GetInt("db_port")
	if cfg.DBName, err = required(v, "db_name"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = required(v, "db_user"); err != nil {
		return nil, err
	}
	cfg.DBPassword = v.GetString("db_password")
	cfg.DBSSLMode = v.GetString("db_ssl_mode")
	switch cfg.DBSSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return nil, fmt.Errorf("FM_DB_SSL_MODE: недопустимое значение %q", cfg.DBSSLMode)
	}
	cfg.DBMaxConns = v.GetInt("db_max_conns")
	if cfg.DBMaxConns <= 0 {
		return nil, fmt.Errorf("FM_DB_MAX_CONNS: значение должно быть положительным")
	}

	// --- Диски ---

	cfg.DefaultDisk = v.GetString("default_disk")
	names := splitList(v.GetString("disks"))
	if len(names) == 0 {
		names = []string{cfg.DefaultDisk}
	}
	for _, name := range names {
		d, err := loadDisk(v, name)
		if err != nil {
			return nil, err
		}
		cfg.Disks = append(cfg.Disks, d)
	}
	if _, ok := cfg.Disk(cfg.DefaultDisk); !ok {
		return nil, fmt.Errorf("FM_DEFAULT_DISK: диск %q отсутствует в FM_DISKS", cfg.DefaultDisk)
	}

	// --- Загрузка ---

	cfg.UploadMaxSize = v.GetInt64("upload_max_size")
	if cfg.UploadMaxSize < 0 {
		return nil, fmt.Errorf("FM_UPLOAD_MAX_SIZE: значение не может быть отрицательным")
	}
	cfg.UploadAllowedMIME = splitList(v.GetString("upload_allowed_mime"))
	cfg.UploadDir = strings.Trim(v.GetString("upload_dir"), "/")
	cfg.VersionKeep = v.GetInt("version_keep")
	if cfg.VersionKeep < 0 {
		return nil, fmt.Errorf("FM_VERSION_KEEP: значение не может быть отрицательным")
	}

	// --- Квоты ---

	cfg.QuotaUserDefault = v.GetInt64("quota_user_default")
	cfg.QuotaDepartmentDefault = v.GetInt64("quota_department_default")
	if cfg.QuotaUserDefault < 0 || cfg.QuotaDepartmentDefault < 0 {
		return nil, fmt.Errorf("FM_QUOTA_*: квота не может быть отрицательной")
	}

	// --- Миниатюры ---

	cfg.ThumbEnabled = v.GetBool("thumb_enabled")
	cfg.ThumbDisk = v.GetString("thumb_disk")
	if cfg.ThumbDisk == "" {
		cfg.ThumbDisk = cfg.DefaultDisk
	}
	if _, ok := cfg.Disk(cfg.ThumbDisk); !ok {
		return nil, fmt.Errorf("FM_THUMB_DISK: диск %q не сконфигурирован", cfg.ThumbDisk)
	}
	cfg.ThumbWidth = v.GetInt("thumb_width")
	cfg.ThumbHeight = v.GetInt("thumb_height")
	if cfg.ThumbWidth <= 0 || cfg.ThumbHeight <= 0 {
		return nil, fmt.Errorf("FM_THUMB_WIDTH/FM_THUMB_HEIGHT: размеры должны быть положительными")
	}
	cfg.ThumbQuality = v.GetInt("thumb_quality")
	if cfg.ThumbQuality < 1 || cfg.ThumbQuality > 100 {
		return nil, fmt.Errorf("FM_THUMB_QUALITY: значение %d вне диапазона 1-100", cfg.ThumbQuality)
	}
	cfg.ThumbMaxPixels = v.GetInt64("thumb_max_pixels")
	if cfg.ThumbMaxPixels <= 0 {
		return nil, fmt.Errorf("FM_THUMB_MAX_PIXELS: значение должно быть положительным")
	}
	cfg.ThumbMIME = splitList(v.GetString("thumb_mime"))
	cfg.ThumbWorkers = v.GetInt("thumb_workers")
	if cfg.ThumbWorkers < 1 {
		cfg.ThumbWorkers = 1
	}

	// --- Ссылки ---

	cfg.ShareBaseURL = strings.TrimRight(v.GetString("share_base_url"), "/")
	cfg.TempURLTTL = v.GetDuration("temp_url_ttl")
	if cfg.TempURLTTL <= 0 {
		return nil, fmt.Errorf("FM_TEMP_URL_TTL: значение должно быть положительным")
	}

	// --- Обслуживание ---

	cfg.UsageRecalcSchedule = v.GetString("usage_recalc_schedule")
	cfg.ThumbCleanupSchedule = v.GetString("thumb_cleanup_schedule")

	// --- Интеграции ---

	cfg.AMQPURL = v.GetString("amqp_url")
	cfg.JWKSURL = v.GetString("jwks_url")
	cfg.JWTIssuer = v.GetString("jwt_issuer")
	cfg.JWKSRefreshInterval = v.GetDuration("jwks_refresh_interval")
	if cfg.JWKSURL != "" && cfg.JWKSRefreshInterval <= 0 {
		return nil, fmt.Errorf("FM_JWKS_REFRESH_INTERVAL: значение должно быть положительным")
	}
	cfg.JWTLeeway = v.GetDuration("jwt_leeway")

	// --- Кэш ---

	cfg.CacheSize = v.GetInt("cache_size")
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("FM_CACHE_SIZE: значение должно быть положительным")
	}
	cfg.CacheTTL = v.GetDuration("cache_ttl")

	// --- topologymetrics ---

	cfg.DephealthCheckInterval = v.GetDuration("dephealth_check_interval")
	cfg.DephealthGroup = v.GetString("dephealth_group")

	return cfg, nil
}

// loadDisk читает параметры диска name из ключей disk_<name>_*.
func loadDisk(v *viper.Viper, name string) (DiskConfig, error) {
	key := func(suffix string) string {
		return "disk_" + strings.ToLower(name) + "_" + suffix
	}
	envName := func(suffix string) string {
		return "FM_" + strings.ToUpper(key(suffix))
	}

	d := DiskConfig{
		Name:      name,
		Driver:    v.GetString(key("driver")),
		Root:      v.GetString(key("root")),
		BaseURL:   strings.TrimRight(v.GetString(key("base_url")), "/"),
		Endpoint:  v.GetString(key("endpoint")),
		Bucket:    v.GetString(key("bucket")),
		AccessKey: v.GetString(key("access_key")),
		SecretKey: v.GetString(key("secret_key")),
		Region:    v.GetString(key("region")),
		UseSSL:    v.GetBool(key("use_ssl")),
	}
	if d.Driver == "" {
		d.Driver = DriverLocal
	}

	switch d.Driver {
	case DriverLocal:
		if d.Root == "" {
			d.Root = "./data/" + name
		}
	case DriverMinio, DriverS3:
		if d.Bucket == "" {
			return d, fmt.Errorf("%s: обязательная переменная окружения не задана", envName("bucket"))
		}
		if d.Driver == DriverMinio && d.Endpoint == "" {
			return d, fmt.Errorf("%s: обязательная переменная окружения не задана", envName("endpoint"))
		}
		if d.Region == "" {
			d.Region = "us-east-1"
		}
	default:
		return d, fmt.Errorf("%s: недопустимый драйвер %q, допустимые: local, minio, s3", envName("driver"), d.Driver)
	}
	return d, nil
}

// Disk возвращает конфигурацию диска по имени.
func (c *Config) Disk(name string) (DiskConfig, bool) {
	for _, d := range c.Disks {
		if d.Name == name {
			return d, true
		}
	}
	return DiskConfig{}, false
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger создаёт и настраивает slog.Logger на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

func required(v *viper.Viper, key string) (string, error) {
	val := v.GetString(key)
	if val == "" {
		return "", fmt.Errorf("FM_%s: обязательная переменная окружения не задана", strings.ToUpper(key))
	}
	return val, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", s)
	}
}

// splitList разбивает строку по запятым, убирая пробелы и пустые элементы.
func splitList(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
