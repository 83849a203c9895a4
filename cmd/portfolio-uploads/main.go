// Точка входа сервиса загрузки файлов портфолио.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/portfolio-uploads/internal/api/handlers"
	"github.com/bigkaa/portfolio-uploads/internal/config"
	"github.com/bigkaa/portfolio-uploads/internal/database"
	"github.com/bigkaa/portfolio-uploads/internal/domain/policy"
	"github.com/bigkaa/portfolio-uploads/internal/repository"
	"github.com/bigkaa/portfolio-uploads/internal/sanitize"
	"github.com/bigkaa/portfolio-uploads/internal/server"
	"github.com/bigkaa/portfolio-uploads/internal/service"
	"github.com/bigkaa/portfolio-uploads/internal/storage/diskusage"
	"github.com/bigkaa/portfolio-uploads/internal/storage/filestore"
	"github.com/bigkaa/portfolio-uploads/internal/storage/index"
	"github.com/bigkaa/portfolio-uploads/internal/storage/wal"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Сервис загрузки запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("upload_dir", cfg.UploadDir),
		slog.Bool("postgresql", cfg.DBDSN != ""),
	)

	fatal := func(msg string, err error) {
		logger.Error(msg, slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Инициализация компонентов ---

	// 1. Политики категорий
	categories, err := cfg.Categories()
	if err != nil {
		fatal("Ошибка построения политик категорий", err)
	}

	// 2. Каталоги
	for _, dir := range []string{cfg.UploadDir, cfg.TempDir, cfg.ArchiveDir, cfg.BackupDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			fatal("Ошибка создания каталога "+dir, err)
		}
	}

	// 3. WAL-журнал
	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		fatal("Ошибка инициализации WAL", err)
	}

	// 4. Реестр файлов: PostgreSQL или in-memory индекс sidecar-файлов
	var (
		registry service.FileRegistry
		idx      *index.Index
		pool     *pgxpool.Pool
		checkers []handlers.ReadinessChecker
	)
	if cfg.DBDSN != "" {
		if cfg.DBMigrate {
			if err := database.Migrate(cfg.DBDSN, logger); err != nil {
				fatal("Ошибка применения миграций", err)
			}
		}
		pool, err = database.Connect(ctx, cfg.DBDSN, logger)
		if err != nil {
			fatal("Ошибка подключения к PostgreSQL", err)
		}
		defer pool.Close()

		registry = service.NewCachedRegistry(repository.NewFileRegistry(pool), cfg.RegistryCacheSize, cfg.RegistryCacheTTL)
		checkers = append(checkers, database.NewReadinessChecker(pool))
	} else {
		idx = index.New(logger)
		registry = idx
	}

	// 5. Восстановление незавершённых операций
	if _, err := service.Recover(ctx, journal, registry, logger); err != nil {
		fatal("Ошибка восстановления WAL", err)
	}
	if idx != nil {
		if err := idx.Build(cfg.UploadDir); err != nil {
			fatal("Ошибка построения реестра файлов", err)
		}
	}

	// 6. Хранилище
	store, err := filestore.New(cfg.TempDir)
	if err != nil {
		fatal("Ошибка инициализации FileStore", err)
	}
	placer := filestore.NewPlacer(cfg.UploadDir, journal, logger)

	// 7. Сервисы
	disk := service.NewDiskMonitor(diskusage.Statfs{}, cfg.UploadDir,
		cfg.MinFreeSpace, cfg.MaxDirSize, cfg.DiskCheckInterval, logger)

	sweeper := service.NewSweepService(service.SweepConfig{
		TempDir:       cfg.TempDir,
		UploadDir:     cfg.UploadDir,
		ArchiveDir:    cfg.ArchiveDir,
		TempRetention: cfg.TempRetention(),
		FileRetention: cfg.FileRetention(),
		Categories:    []string{policy.CategoryDocuments, policy.CategoryPortfolios},
		Interval:      cfg.SweepInterval,
	}, registry, journal, logger)

	uploads := service.NewUploadService(service.UploadConfig{
		MaxFiles:         cfg.MaxFiles,
		HashTimeout:      cfg.HashTimeout,
		MalwareDetection: cfg.MalwareDetection,
	}, categories, store, placer, sanitize.New(cfg.SanitizeImages), registry, disk, logger)

	// 8. Фоновые процессы
	disk.Start(ctx)
	sweeper.Start(ctx)

	var dephealthSvc *service.DephealthService
	if pool != nil {
		dephealthSvc = startDephealth(ctx, cfg, pool, logger)
	}

	// 9. Handlers и HTTP-сервер
	srv := server.New(cfg, logger, server.Handlers{
		Health: handlers.NewHealthHandler(handlers.HealthDirs{
			Upload: cfg.UploadDir,
			Temp:   cfg.TempDir,
			WAL:    cfg.WALDir,
		}, readiness(idx), checkers...),
		Upload:      handlers.NewUploadHandler(uploads, logger),
		Files:       handlers.NewFilesHandler(cfg.UploadDir, categories, registry, logger),
		Maintenance: handlers.NewMaintenanceHandler(sweeper, logger),
		Storage: handlers.NewStorageHandler(categories, disk, registry, handlers.RetentionPolicy{
			TempDays: cfg.TempRetentionDays,
			FileDays: cfg.FileRetentionDays,
		}, cfg.MaxFiles, logger),
	})

	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	sweeper.Stop()
	disk.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Сервис загрузки остановлен")
}

// startDephealth запускает мониторинг PostgreSQL через topologymetrics.
// Ошибки не фатальны: сервис работает без метрик зависимостей.
func startDephealth(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) *service.DephealthService {
	db := stdlib.OpenDBFromPool(pool)

	svc, err := service.NewDephealthService(cfg.ServiceID, cfg.DephealthGroup, db,
		cfg.DBDSN, cfg.DephealthCheckInterval, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := svc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("topologymetrics запущен",
		slog.String("check_interval", cfg.DephealthCheckInterval.String()),
	)
	return svc
}

// readiness возвращает проверку готовности индекса или nil в режиме PostgreSQL.
func readiness(idx *index.Index) handlers.IndexReadinessChecker {
	if idx == nil {
		return nil
	}
	return idx
}
