// maintenance.go — ручной запуск очистки и архивации.
// POST /api/v1/maintenance/cleanup, POST /api/v1/maintenance/archive.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/portfolio-uploads/internal/api/errors"
	"github.com/bigkaa/portfolio-uploads/internal/service"
)

// Sweeper — интерфейс запуска обслуживания.
// Позволяет тестировать handler без полного SweepService.
type Sweeper interface {
	CleanupTemp(ctx context.Context) (*service.CleanupResult, error)
	Archive(ctx context.Context) (*service.ArchiveResult, error)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	sweeper Sweeper
	logger  *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(sweeper Sweeper, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		sweeper: sweeper,
		logger:  logger.With(slog.String("component", "maintenance_handler")),
	}
}

// Cleanup обрабатывает POST /api/v1/maintenance/cleanup.
// Синхронно удаляет устаревшие временные файлы.
func (h *MaintenanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.CleanupTemp(r.Context())
	if err != nil {
		h.writeSweepError(w, "cleanup", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

// Archive обрабатывает POST /api/v1/maintenance/archive.
// Синхронно переносит устаревшие файлы в архив.
func (h *MaintenanceHandler) Archive(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.Archive(r.Context())
	if err != nil {
		h.writeSweepError(w, "archive", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (h *MaintenanceHandler) writeSweepError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, service.ErrSweepInProgress) {
		apierrors.SweepInProgress(w, "Очистка или архивация уже выполняется")
		return
	}
	h.logger.Error("Ошибка обслуживания",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	apierrors.InternalError(w, "Ошибка выполнения обслуживания")
}
