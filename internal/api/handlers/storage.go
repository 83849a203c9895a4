// storage.go — обработчик GET /api/v1/storage/info.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
	"github.com/bigkaa/portfolio-uploads/internal/domain/policy"
	"github.com/bigkaa/portfolio-uploads/internal/service"
	"github.com/bigkaa/portfolio-uploads/internal/validation"
)

// DiskStatusProvider — источник состояния диска.
type DiskStatusProvider interface {
	Current(ctx context.Context) (model.DiskStatus, error)
}

// RetentionPolicy — сроки хранения для ответа storage info.
type RetentionPolicy struct {
	TempDays int `json:"temp_retention_days"`
	FileDays int `json:"file_retention_days"`
}

// StorageHandler — обработчик информации о хранилище.
type StorageHandler struct {
	categories *policy.Registry
	disk       DiskStatusProvider
	registry   service.FileRegistry
	retention  RetentionPolicy
	maxFiles   int
	logger     *slog.Logger
}

// NewStorageHandler создаёт обработчик. disk и registry могут быть nil.
func NewStorageHandler(
	categories *policy.Registry,
	disk DiskStatusProvider,
	registry service.FileRegistry,
	retention RetentionPolicy,
	maxFiles int,
	logger *slog.Logger,
) *StorageHandler {
	return &StorageHandler{
		categories: categories,
		disk:       disk,
		registry:   registry,
		retention:  retention,
		maxFiles:   maxFiles,
		logger:     logger.With(slog.String("component", "storage_handler")),
	}
}

type categoryInfo struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
	MaxSize    int64    `json:"max_size"`
	MaxSizeMB  string   `json:"max_size_mb"`
	Sanitize   bool     `json:"sanitize"`
	Files      *int     `json:"files,omitempty"`
}

// Info обрабатывает GET /api/v1/storage/info.
// Ошибки диска и реестра не роняют ответ: соответствующий блок опускается.
func (h *StorageHandler) Info(w http.ResponseWriter, r *http.Request) {
	var counts map[string]int
	if h.registry != nil {
		c, err := h.registry.CountByCategory(r.Context())
		if err != nil {
			h.logger.Warn("Не удалось подсчитать файлы", slog.String("error", err.Error()))
		} else {
			counts = c
		}
	}

	names := h.categories.Names()
	cats := make([]categoryInfo, 0, len(names))
	for _, name := range names {
		p, _ := h.categories.Get(name)
		limit := h.categories.MaxSizeFor(p)
		info := categoryInfo{
			Name:       name,
			Extensions: p.AllowedExtensions(),
			MaxSize:    limit,
			MaxSizeMB:  validation.FormatMB(limit),
			Sanitize:   p.Sanitize,
		}
		if counts != nil {
			n := counts[name]
			info.Files = &n
		}
		cats = append(cats, info)
	}

	resp := map[string]any{
		"success":          true,
		"categories":       cats,
		"retention":        h.retention,
		"max_files":        h.maxFiles,
		"max_general_size": h.categories.GlobalMaxSize(),
	}

	if h.disk != nil {
		status, err := h.disk.Current(r.Context())
		if err != nil {
			h.logger.Warn("Не удалось получить состояние диска", slog.String("error", err.Error()))
		} else {
			resp["disk"] = status
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
