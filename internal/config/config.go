// Пакет config — загрузка и валидация конфигурации сервиса загрузки
// файлов портфолио из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/portfolio-uploads/internal/domain/policy"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

const (
	mib = int64(1024 * 1024)
	gib = 1024 * mib
)

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Корневой каталог сохранённых файлов
	UploadDir string
	// Каталог временных файлов (по умолчанию <UploadDir>/temp)
	TempDir string
	// Каталог резервных копий
	BackupDir string
	// Каталог архива устаревших файлов
	ArchiveDir string
	// Каталог WAL (по умолчанию <UploadDir>/.wal)
	WALDir string

	// Лимиты размеров файлов в байтах
	MaxFileSize          int64
	MaxPortfolioFileSize int64
	MaxAvatarSize        int64
	MaxExcelSize         int64
	MaxGeneralSize       int64
	// Максимум файлов в одном запросе
	MaxFiles int
	// Расширения категории documentos
	AllowedExtensions []string

	// Срок хранения временных файлов в днях
	TempRetentionDays int
	// Срок хранения файлов до архивации в днях
	FileRetentionDays int
	// Квота на объём каталога загрузок в байтах (0 — без квоты)
	MaxDirSize int64
	// Минимальный запас свободного места в байтах
	MinFreeSpace uint64
	// Включает предупреждение о недоступности антивирусной проверки
	MalwareDetection bool

	// Интервал очистки и архивации
	SweepInterval time.Duration
	// Интервал проверки диска
	DiskCheckInterval time.Duration
	// Таймаут вычисления хэша
	HashTimeout time.Duration
	// Перекодировать изображения аватаров
	SanitizeImages bool

	// DSN PostgreSQL. Пустой — реестр файлов в памяти
	DBDSN string
	// Применять миграции при старте
	DBMigrate bool
	// Размер и TTL кэша поиска дубликатов
	RegistryCacheSize int
	RegistryCacheTTL  time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Пути к TLS сертификату и ключу. Пустые — HTTP без TLS
	TLSCert string
	TLSKey  string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// Идентификатор сервиса и группа в метриках topologymetrics
	ServiceID      string
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Port, err = getEnvInt("PU_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("PU_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PU_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// Каталоги
	cfg.UploadDir = getEnvDefault("PU_UPLOAD_DIR", "./uploads")
	cfg.TempDir = getEnvDefault("PU_TEMP_DIR", filepath.Join(cfg.UploadDir, "temp"))
	cfg.BackupDir = getEnvDefault("PU_BACKUP_DIR", "./backups")
	cfg.ArchiveDir = getEnvDefault("PU_ARCHIVE_DIR", "./archivo")
	cfg.WALDir = getEnvDefault("PU_WAL_DIR", filepath.Join(cfg.UploadDir, ".wal"))

	// Лимиты размеров
	sizes := []struct {
		key  string
		def  int64
		dest *int64
	}{
		{"PU_MAX_FILE_SIZE", 10 * mib, &cfg.MaxFileSize},
		{"PU_MAX_PORTFOLIO_FILE_SIZE", 15 * mib, &cfg.MaxPortfolioFileSize},
		{"PU_MAX_AVATAR_SIZE", 2 * mib, &cfg.MaxAvatarSize},
		{"PU_MAX_EXCEL_SIZE", 25 * mib, &cfg.MaxExcelSize},
		{"PU_MAX_GENERAL_SIZE", 50 * mib, &cfg.MaxGeneralSize},
	}
	for _, s := range sizes {
		v, err := getEnvInt64(s.key, s.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("%s: значение должно быть положительным", s.key)
		}
		*s.dest = v
	}
	for _, s := range sizes[:4] {
		if *s.dest > cfg.MaxGeneralSize {
			return nil, fmt.Errorf("%s: значение %d превышает PU_MAX_GENERAL_SIZE (%d)",
				s.key, *s.dest, cfg.MaxGeneralSize)
		}
	}

	cfg.MaxFiles, err = getEnvInt("PU_MAX_FILES", 5)
	if err != nil {
		return nil, fmt.Errorf("PU_MAX_FILES: %w", err)
	}
	if cfg.MaxFiles < 1 {
		return nil, fmt.Errorf("PU_MAX_FILES: значение должно быть >= 1")
	}

	cfg.AllowedExtensions = getEnvList("PU_ALLOWED_EXTENSIONS", []string{"pdf", "doc", "docx", "xls", "xlsx"})
	if len(cfg.AllowedExtensions) == 0 {
		return nil, fmt.Errorf("PU_ALLOWED_EXTENSIONS: список пуст")
	}
	for _, ext := range cfg.AllowedExtensions {
		if policy.IsProhibited(ext) {
			return nil, fmt.Errorf("PU_ALLOWED_EXTENSIONS: расширение %q запрещено", ext)
		}
		if !policy.KnownExtension(ext) {
			return nil, fmt.Errorf("PU_ALLOWED_EXTENSIONS: неизвестное расширение %q", ext)
		}
	}

	// Сроки хранения
	cfg.TempRetentionDays, err = getEnvInt("PU_TEMP_RETENTION_DAYS", 7)
	if err != nil {
		return nil, fmt.Errorf("PU_TEMP_RETENTION_DAYS: %w", err)
	}
	if cfg.TempRetentionDays < 1 {
		return nil, fmt.Errorf("PU_TEMP_RETENTION_DAYS: значение должно быть >= 1")
	}
	cfg.FileRetentionDays, err = getEnvInt("PU_FILE_RETENTION_DAYS", 365)
	if err != nil {
		return nil, fmt.Errorf("PU_FILE_RETENTION_DAYS: %w", err)
	}
	if cfg.FileRetentionDays < 1 {
		return nil, fmt.Errorf("PU_FILE_RETENTION_DAYS: значение должно быть >= 1")
	}

	// Диск
	cfg.MaxDirSize, err = getEnvInt64("PU_MAX_DIR_SIZE", 10*gib)
	if err != nil {
		return nil, fmt.Errorf("PU_MAX_DIR_SIZE: %w", err)
	}
	if cfg.MaxDirSize < 0 {
		return nil, fmt.Errorf("PU_MAX_DIR_SIZE: значение не может быть отрицательным")
	}
	minFree, err := getEnvInt64("PU_MIN_FREE_SPACE", gib)
	if err != nil {
		return nil, fmt.Errorf("PU_MIN_FREE_SPACE: %w", err)
	}
	if minFree < 0 {
		return nil, fmt.Errorf("PU_MIN_FREE_SPACE: значение не может быть отрицательным")
	}
	cfg.MinFreeSpace = uint64(minFree)

	cfg.MalwareDetection, err = getEnvBool("PU_MALWARE_DETECTION", false)
	if err != nil {
		return nil, fmt.Errorf("PU_MALWARE_DETECTION: %w", err)
	}
	cfg.SanitizeImages, err = getEnvBool("PU_SANITIZE_IMAGES", true)
	if err != nil {
		return nil, fmt.Errorf("PU_SANITIZE_IMAGES: %w", err)
	}

	// Интервалы
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"PU_SWEEP_INTERVAL", 6 * time.Hour, &cfg.SweepInterval},
		{"PU_DISK_CHECK_INTERVAL", 5 * time.Minute, &cfg.DiskCheckInterval},
		{"PU_HASH_TIMEOUT", 60 * time.Second, &cfg.HashTimeout},
		{"PU_REGISTRY_CACHE_TTL", 5 * time.Minute, &cfg.RegistryCacheTTL},
		{"PU_HTTP_READ_TIMEOUT", 60 * time.Second, &cfg.HTTPReadTimeout},
		{"PU_HTTP_WRITE_TIMEOUT", 120 * time.Second, &cfg.HTTPWriteTimeout},
		{"PU_HTTP_IDLE_TIMEOUT", 120 * time.Second, &cfg.HTTPIdleTimeout},
		{"PU_SHUTDOWN_TIMEOUT", 10 * time.Second, &cfg.ShutdownTimeout},
		{"PU_DEPHEALTH_CHECK_INTERVAL", 15 * time.Second, &cfg.DephealthCheckInterval},
	}
	for _, d := range durations {
		v, err := getEnvDuration(d.key, d.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("%s: значение должно быть положительным", d.key)
		}
		*d.dest = v
	}

	// База данных
	cfg.DBDSN = getEnvDefault("PU_DB_DSN", "")
	cfg.DBMigrate, err = getEnvBool("PU_DB_MIGRATE", true)
	if err != nil {
		return nil, fmt.Errorf("PU_DB_MIGRATE: %w", err)
	}
	cfg.RegistryCacheSize, err = getEnvInt("PU_REGISTRY_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("PU_REGISTRY_CACHE_SIZE: %w", err)
	}
	if cfg.RegistryCacheSize < 0 {
		return nil, fmt.Errorf("PU_REGISTRY_CACHE_SIZE: значение не может быть отрицательным")
	}

	// Логирование
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PU_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PU_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("PU_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PU_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// TLS: сертификат и ключ задаются только вместе
	cfg.TLSCert = getEnvDefault("PU_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("PU_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("PU_TLS_CERT/PU_TLS_KEY: должны быть заданы оба или ни одного")
	}

	cfg.ServiceID = getEnvDefault("PU_SERVICE_ID", "portfolio-uploads")
	cfg.DephealthGroup = getEnvDefault("PU_DEPHEALTH_GROUP", "portfolio")

	return cfg, nil
}

// TLSEnabled — сервер слушает HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// TempRetention — срок хранения временных файлов.
func (c *Config) TempRetention() time.Duration {
	return time.Duration(c.TempRetentionDays) * 24 * time.Hour
}

// FileRetention — срок хранения файлов до архивации.
func (c *Config) FileRetention() time.Duration {
	return time.Duration(c.FileRetentionDays) * 24 * time.Hour
}

// Categories строит реестр политик категорий из лимитов конфигурации.
func (c *Config) Categories() (*policy.Registry, error) {
	limits := policy.Limits{
		Document:  c.MaxFileSize,
		Portfolio: c.MaxPortfolioFileSize,
		Avatar:    c.MaxAvatarSize,
		Excel:     c.MaxExcelSize,
		General:   c.MaxGeneralSize,
	}
	return policy.NewRegistry(c.MaxGeneralSize,
		policy.DefaultCategories(limits, c.AllowedExtensions, c.SanitizeImages)...)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
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

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvList разбирает список через запятую. Элементы приводятся к нижнему
// регистру, ведущая точка отбрасывается, пустые пропускаются.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		item = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(item), "."))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
