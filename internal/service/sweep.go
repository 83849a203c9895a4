// sweep.go — сервис фоновой очистки временных файлов и архивации.
//
// Sweep выполняет три задачи:
//  1. Удаляет из temp файлы старше PU_TEMP_RETENTION_DAYS, подрезает пустые каталоги
//  2. Переносит пары файл + sidecar из documentos и portafolios старше
//     PU_FILE_RETENTION_DAYS в архив с сохранением относительного пути;
//     sidecar без файла данных удаляется
//  3. Удаляет завершённые записи WAL
//
// Запускается как горутина с периодическим тикером (PU_SWEEP_INTERVAL).
// Ошибки отдельных файлов считаются и логируются, обход не прерывают.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/portfolio-uploads/internal/domain/policy"
	"github.com/bigkaa/portfolio-uploads/internal/storage/atomicfile"
	"github.com/bigkaa/portfolio-uploads/internal/storage/attr"
	"github.com/bigkaa/portfolio-uploads/internal/storage/filestore"
	"github.com/bigkaa/portfolio-uploads/internal/storage/walk"
	"github.com/bigkaa/portfolio-uploads/internal/storage/wal"
)

// ErrSweepInProgress — очистка или архивация уже выполняется.
var ErrSweepInProgress = errors.New("очистка уже выполняется")

// Prometheus метрики Sweep
var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pu_sweep_runs_total",
		Help: "Общее количество запусков очистки по операции",
	}, []string{"operation"})

	sweepTempRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pu_sweep_temp_files_removed_total",
		Help: "Общее количество удалённых временных файлов",
	})

	sweepBytesFreedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pu_sweep_bytes_freed_total",
		Help: "Общий объём освобождённого места во временном каталоге",
	})

	sweepArchivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pu_sweep_files_archived_total",
		Help: "Общее количество файлов, перенесённых в архив",
	})

	sweepErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pu_sweep_errors_total",
		Help: "Общее количество ошибок обработки файлов при очистке",
	}, []string{"operation"})

	sweepDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pu_sweep_duration_seconds",
		Help:    "Длительность выполнения очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"operation"})
)

// SweepConfig — параметры очистки.
type SweepConfig struct {
	TempDir    string
	UploadDir  string
	ArchiveDir string
	// TempRetention — возраст, после которого временный файл удаляется
	TempRetention time.Duration
	// FileRetention — возраст, после которого файл переносится в архив
	FileRetention time.Duration
	// Categories — архивируемые категории (по умолчанию documentos и portafolios)
	Categories []string
	Interval   time.Duration
}

// CleanupResult — результат очистки временного каталога.
type CleanupResult struct {
	FilesRemoved int           `json:"files_removed"`
	BytesFreed   int64         `json:"bytes_freed"`
	DirsRemoved  int           `json:"dirs_removed"`
	Errors       int           `json:"errors"`
	Duration     time.Duration `json:"duration_ns"`
}

// ArchiveResult — результат архивации.
type ArchiveResult struct {
	Moved          int           `json:"moved"`
	OrphansRemoved int           `json:"orphans_removed"`
	Errors         int           `json:"errors"`
	Duration       time.Duration `json:"duration_ns"`
}

// SweepResult — результат полного цикла.
type SweepResult struct {
	Temp       *CleanupResult `json:"temp"`
	Archive    *ArchiveResult `json:"archive"`
	WALCleaned int            `json:"wal_cleaned"`
}

// SweepService — сервис фоновой очистки и архивации.
type SweepService struct {
	cfg      SweepConfig
	registry FileRegistry
	journal  *wal.WAL
	logger   *slog.Logger

	// Now — источник времени (по умолчанию time.Now)
	Now func() time.Time

	mu     sync.Mutex // защита от параллельного запуска
	cancel context.CancelFunc
}

// NewSweepService создаёт сервис очистки. registry и journal могут быть nil.
func NewSweepService(cfg SweepConfig, registry FileRegistry, journal *wal.WAL, logger *slog.Logger) *SweepService {
	if len(cfg.Categories) == 0 {
		cfg.Categories = []string{policy.CategoryDocuments, policy.CategoryPortfolios}
	}
	return &SweepService{
		cfg:      cfg,
		registry: registry,
		journal:  journal,
		logger:   logger.With(slog.String("component", "sweep")),
		Now:      time.Now,
	}
}

// Start запускает фоновую горутину с периодическим тикером.
func (s *SweepService) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(sweepCtx)

	s.logger.Info("Очистка запущена",
		slog.String("interval", s.cfg.Interval.String()),
	)
}

// Stop останавливает фоновый процесс.
func (s *SweepService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("Очистка остановлена")
}

func (s *SweepService) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	s.runLogged(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *SweepService) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			s.logger.Debug("Пропуск цикла: очистка уже выполняется")
			return
		}
		s.logger.Error("Ошибка цикла очистки", slog.String("error", err.Error()))
	}
}

// RunOnce выполняет полный цикл: temp, архивация, WAL.
// ErrSweepInProgress — если другой запуск ещё не завершён.
func (s *SweepService) RunOnce(ctx context.Context) (*SweepResult, error) {
	if !s.mu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.mu.Unlock()

	result := &SweepResult{}
	var err error
	if result.Temp, err = s.cleanupTemp(ctx); err != nil {
		return result, err
	}
	if result.Archive, err = s.archive(ctx); err != nil {
		return result, err
	}
	if s.journal != nil {
		cleaned, walErr := s.journal.CleanCommitted()
		if walErr != nil {
			s.logger.Warn("Не удалось очистить WAL", slog.String("error", walErr.Error()))
		}
		result.WALCleaned = cleaned
	}
	return result, nil
}

// CleanupTemp удаляет устаревшие временные файлы.
func (s *SweepService) CleanupTemp(ctx context.Context) (*CleanupResult, error) {
	if !s.mu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.mu.Unlock()
	return s.cleanupTemp(ctx)
}

// Archive переносит устаревшие файлы в архив.
func (s *SweepService) Archive(ctx context.Context) (*ArchiveResult, error) {
	if !s.mu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.mu.Unlock()
	return s.archive(ctx)
}

func (s *SweepService) cleanupTemp(ctx context.Context) (*CleanupResult, error) {
	start := time.Now()
	result := &CleanupResult{}
	cutoff := s.Now().Add(-s.cfg.TempRetention)
	dirs := make(map[string]struct{})

	for e, err := range walk.Files(s.cfg.TempDir) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("очистка temp прервана: %w", ctxErr)
		}
		if err != nil {
			s.logger.Warn("Ошибка обхода temp",
				slog.String("path", e.Path),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		if !e.Info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(e.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			s.logger.Error("Не удалось удалить временный файл",
				slog.String("path", e.Path),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		result.FilesRemoved++
		result.BytesFreed += e.Info.Size()
		dirs[filepath.Dir(e.Path)] = struct{}{}
	}

	for dir := range dirs {
		result.DirsRemoved += pruneEmptyDirs(dir, s.cfg.TempDir)
	}

	result.Duration = time.Since(start)
	sweepRunsTotal.WithLabelValues("temp").Inc()
	sweepTempRemovedTotal.Add(float64(result.FilesRemoved))
	sweepBytesFreedTotal.Add(float64(result.BytesFreed))
	sweepErrorsTotal.WithLabelValues("temp").Add(float64(result.Errors))
	sweepDurationSeconds.WithLabelValues("temp").Observe(result.Duration.Seconds())

	s.logger.Info("Очистка temp завершена",
		slog.Int("files_removed", result.FilesRemoved),
		slog.Int64("bytes_freed", result.BytesFreed),
		slog.Int("dirs_removed", result.DirsRemoved),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

func (s *SweepService) archive(ctx context.Context) (*ArchiveResult, error) {
	start := time.Now()
	result := &ArchiveResult{}
	cutoff := s.Now().Add(-s.cfg.FileRetention)

	for _, category := range s.cfg.Categories {
		root := filepath.Join(s.cfg.UploadDir, category)
		for e, err := range walk.Files(root) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, fmt.Errorf("архивация прервана: %w", ctxErr)
			}
			if err != nil {
				s.logger.Warn("Ошибка обхода хранилища",
					slog.String("path", e.Path),
					slog.String("error", err.Error()),
				)
				result.Errors++
				continue
			}

			if attr.IsSidecar(e.Path) {
				if s.removeOrphan(ctx, e.Path) {
					result.OrphansRemoved++
				}
				continue
			}
			// Незавершённая атомарная запись
			if atomicfile.IsTemp(e.Path) {
				continue
			}
			if !e.Info.ModTime().Before(cutoff) {
				continue
			}

			dst := filepath.Join(s.cfg.ArchiveDir, category, e.Rel)
			if err := s.archiveOne(ctx, e.Path, dst); err != nil {
				s.logger.Error("Не удалось архивировать файл",
					slog.String("path", e.Path),
					slog.String("error", err.Error()),
				)
				result.Errors++
				continue
			}
			result.Moved++
		}
	}

	result.Duration = time.Since(start)
	sweepRunsTotal.WithLabelValues("archive").Inc()
	sweepArchivedTotal.Add(float64(result.Moved))
	sweepErrorsTotal.WithLabelValues("archive").Add(float64(result.Errors))
	sweepDurationSeconds.WithLabelValues("archive").Observe(result.Duration.Seconds())

	s.logger.Info("Архивация завершена",
		slog.Int("moved", result.Moved),
		slog.Int("orphans_removed", result.OrphansRemoved),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// archiveOne переносит пару в архив под WAL-транзакцией и забывает файл в реестре.
func (s *SweepService) archiveOne(ctx context.Context, src, dst string) error {
	var fileID string
	if meta, err := attr.Read(attr.Path(src)); err == nil {
		fileID = meta.FileID
	}

	var txID string
	if s.journal != nil {
		entry, err := s.journal.Begin(wal.OpArchive, fileID, src, dst)
		if err != nil {
			return fmt.Errorf("ошибка журнала архивации: %w", err)
		}
		txID = entry.TransactionID
	}

	if err := filestore.MovePair(src, dst); err != nil {
		if txID != "" {
			_ = s.journal.Rollback(txID)
		}
		return err
	}
	if txID != "" {
		if err := s.journal.Commit(txID); err != nil {
			s.logger.Warn("Не удалось завершить WAL-транзакцию архивации",
				slog.String("tx_id", txID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.forget(ctx, fileID)
	s.logger.Debug("Файл перенесён в архив",
		slog.String("file_id", fileID),
		slog.String("source", src),
		slog.String("target", dst),
	)
	return nil
}

// removeOrphan удаляет sidecar, у которого нет файла данных.
func (s *SweepService) removeOrphan(ctx context.Context, sidecar string) bool {
	if _, err := os.Stat(attr.DataPath(sidecar)); !errors.Is(err, os.ErrNotExist) {
		return false
	}
	var fileID string
	if meta, err := attr.Read(sidecar); err == nil {
		fileID = meta.FileID
	}
	if err := attr.Delete(sidecar); err != nil {
		s.logger.Warn("Не удалось удалить sidecar без файла",
			slog.String("path", sidecar),
			slog.String("error", err.Error()),
		)
		return false
	}
	s.forget(ctx, fileID)
	s.logger.Info("Удалён sidecar без файла данных", slog.String("path", sidecar))
	return true
}

func (s *SweepService) forget(ctx context.Context, fileID string) {
	if s.registry == nil || fileID == "" {
		return
	}
	if err := s.registry.Remove(ctx, fileID); err != nil {
		s.logger.Warn("Не удалось удалить файл из реестра",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}

// pruneEmptyDirs удаляет пустые каталоги от dir вверх до root (не включая root).
// Возвращает число удалённых каталогов. Непустой каталог останавливает подъём.
func pruneEmptyDirs(dir, root string) int {
	root = filepath.Clean(root)
	removed := 0
	for {
		dir = filepath.Clean(dir)
		if dir == root || !strings.HasPrefix(dir, root+string(filepath.Separator)) {
			return removed
		}
		if err := os.Remove(dir); err != nil {
			return removed
		}
		removed++
		dir = filepath.Dir(dir)
	}
}
