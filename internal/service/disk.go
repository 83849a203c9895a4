// disk.go — мониторинг дискового пространства хранилища.
//
// Флаг Low выставляется, когда свободного места меньше двух минимумов,
// OverQuota — когда каталог загрузок превысил PU_MAX_DIR_SIZE.
// Оба флага рекомендательные: загрузки не блокируются.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
	"github.com/bigkaa/portfolio-uploads/internal/storage/diskusage"
	"github.com/bigkaa/portfolio-uploads/internal/storage/walk"
)

// Prometheus метрики диска
var (
	diskFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pu_disk_free_bytes",
		Help: "Свободное место в файловой системе каталога загрузок",
	})

	diskUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pu_disk_used_bytes",
		Help: "Суммарный размер файлов в каталоге загрузок",
	})

	diskLow = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pu_disk_low",
		Help: "1 — свободного места меньше двух минимумов",
	})
)

// DiskMonitor — периодическая проверка свободного места.
type DiskMonitor struct {
	provider   diskusage.Provider
	uploadDir  string
	minFree    uint64
	maxDirSize int64
	interval   time.Duration
	logger     *slog.Logger

	// Now — источник времени (по умолчанию time.Now)
	Now func() time.Time

	mu     sync.RWMutex
	last   *model.DiskStatus
	cancel context.CancelFunc
}

// NewDiskMonitor создаёт монитор. interval используется фоновым циклом Start.
func NewDiskMonitor(
	provider diskusage.Provider,
	uploadDir string,
	minFree uint64,
	maxDirSize int64,
	interval time.Duration,
	logger *slog.Logger,
) *DiskMonitor {
	return &DiskMonitor{
		provider:   provider,
		uploadDir:  uploadDir,
		minFree:    minFree,
		maxDirSize: maxDirSize,
		interval:   interval,
		logger:     logger.With(slog.String("component", "disk_monitor")),
		Now:        time.Now,
	}
}

// Check измеряет свободное и занятое место и сохраняет результат.
func (m *DiskMonitor) Check(ctx context.Context) (model.DiskStatus, error) {
	space, err := m.provider.Usage(m.uploadDir)
	if err != nil {
		return model.DiskStatus{}, fmt.Errorf("ошибка получения свободного места: %w", err)
	}
	free := space.Free

	used, err := m.usedBytes(ctx)
	if err != nil {
		return model.DiskStatus{}, err
	}

	status := model.DiskStatus{
		TotalBytes:   space.Total,
		FreeBytes:    free,
		MinFreeBytes: m.minFree,
		UsedBytes:    used,
		MaxDirBytes:  m.maxDirSize,
		Low:          free < 2*m.minFree,
		OverQuota:    m.maxDirSize > 0 && used > m.maxDirSize,
		CheckedAt:    m.Now().UTC(),
	}

	m.mu.Lock()
	m.last = &status
	m.mu.Unlock()

	diskFreeBytes.Set(float64(free))
	diskUsedBytes.Set(float64(used))
	if status.Low {
		diskLow.Set(1)
		m.logger.Warn("Мало свободного места на диске",
			slog.Uint64("free_bytes", free),
			slog.Uint64("min_free_bytes", m.minFree),
		)
	} else {
		diskLow.Set(0)
	}
	if status.OverQuota {
		m.logger.Warn("Каталог загрузок превысил квоту",
			slog.Int64("used_bytes", used),
			slog.Int64("max_dir_bytes", m.maxDirSize),
		)
	}

	return status, nil
}

// Last возвращает результат последней проверки. false — проверок ещё не было.
func (m *DiskMonitor) Last() (model.DiskStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return model.DiskStatus{}, false
	}
	return *m.last, true
}

// Current возвращает последний результат, а если его нет — выполняет проверку.
func (m *DiskMonitor) Current(ctx context.Context) (model.DiskStatus, error) {
	if status, ok := m.Last(); ok {
		return status, nil
	}
	return m.Check(ctx)
}

// Start запускает периодическую проверку. Первая проверка — сразу.
func (m *DiskMonitor) Start(ctx context.Context) {
	monCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	go m.run(monCtx)

	m.logger.Info("Мониторинг диска запущен",
		slog.String("interval", m.interval.String()),
	)
}

// Stop останавливает фоновую проверку.
func (m *DiskMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.logger.Info("Мониторинг диска остановлен")
}

func (m *DiskMonitor) run(ctx context.Context) {
	m.checkAndLog(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAndLog(ctx)
		}
	}
}

func (m *DiskMonitor) checkAndLog(ctx context.Context) {
	if _, err := m.Check(ctx); err != nil {
		m.logger.Error("Ошибка проверки диска", slog.String("error", err.Error()))
	}
}

func (m *DiskMonitor) usedBytes(ctx context.Context) (int64, error) {
	var used int64
	for e, err := range walk.Files(m.uploadDir) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, fmt.Errorf("подсчёт занятого места прерван: %w", ctxErr)
		}
		if err != nil {
			m.logger.Debug("Пропуск файла при подсчёте места",
				slog.String("path", e.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		used += e.Info.Size()
	}
	return used, nil
}
