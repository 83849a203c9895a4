// files.go — чтение метаданных и удаление сохранённых файлов.
// GET /api/v1/files/*, DELETE /api/v1/files/*.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/portfolio-uploads/internal/api/errors"
	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
	"github.com/bigkaa/portfolio-uploads/internal/domain/policy"
	"github.com/bigkaa/portfolio-uploads/internal/service"
	"github.com/bigkaa/portfolio-uploads/internal/storage/attr"
	"github.com/bigkaa/portfolio-uploads/internal/storage/filestore"
)

// FilesHandler — обработчик операций над сохранёнными файлами.
type FilesHandler struct {
	uploadDir  string
	categories *policy.Registry
	registry   service.FileRegistry
	logger     *slog.Logger
}

// NewFilesHandler создаёт обработчик. registry может быть nil.
func NewFilesHandler(uploadDir string, categories *policy.Registry, registry service.FileRegistry, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		uploadDir:  uploadDir,
		categories: categories,
		registry:   registry,
		logger:     logger.With(slog.String("component", "files_handler")),
	}
}

// GetFile обрабатывает GET /api/v1/files/*.
// Возвращает содержимое sidecar файла.
func (h *FilesHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	abs, ok := h.resolve(w, r)
	if !ok {
		return
	}

	meta, err := attr.Read(attr.Path(abs))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			apierrors.NotFound(w, "Файл не найден")
			return
		}
		h.logger.Error("Ошибка чтения метаданных",
			slog.String("path", abs),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка чтения метаданных файла")
		return
	}
	if _, err := os.Stat(abs); err != nil {
		apierrors.NotFound(w, "Файл не найден")
		return
	}

	writeJSON(w, http.StatusOK, publicMetadata(meta))
}

// DeleteFile обрабатывает DELETE /api/v1/files/*.
// Удаляет файл вместе с sidecar и записью реестра.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	abs, ok := h.resolve(w, r)
	if !ok {
		return
	}

	meta, metaErr := attr.Read(attr.Path(abs))
	if _, err := os.Stat(abs); err != nil && metaErr != nil {
		apierrors.NotFound(w, "Файл не найден")
		return
	}

	if err := filestore.DeletePair(abs); err != nil {
		h.logger.Error("Ошибка удаления файла",
			slog.String("path", abs),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка удаления файла")
		return
	}
	if meta != nil && h.registry != nil {
		if err := h.registry.Remove(r.Context(), meta.FileID); err != nil {
			h.logger.Warn("Не удалось удалить запись реестра",
				slog.String("file_id", meta.FileID),
				slog.String("error", err.Error()),
			)
		}
	}

	h.logger.Info("Файл удалён", slog.String("path", abs))
	w.WriteHeader(http.StatusNoContent)
}

// resolve проверяет относительный путь из URL и возвращает абсолютный путь
// под каталогом загрузок. Первый сегмент пути — имя категории.
func (h *FilesHandler) resolve(w http.ResponseWriter, r *http.Request) (string, bool) {
	rel := chi.URLParam(r, "*")
	if rel == "" || strings.Contains(rel, "\\") || strings.ContainsRune(rel, 0) {
		apierrors.ValidationError(w, "Некорректный путь файла")
		return "", false
	}
	clean := path.Clean("/" + rel)[1:]
	if clean != rel || attr.IsSidecar(clean) {
		apierrors.ValidationError(w, "Некорректный путь файла")
		return "", false
	}
	category, _, _ := strings.Cut(clean, "/")
	if _, ok := h.categories.Get(category); !ok || category == clean {
		apierrors.NotFound(w, "Файл не найден")
		return "", false
	}
	return filepath.Join(h.uploadDir, filepath.FromSlash(clean)), true
}

// publicMetadata убирает из ответа абсолютный путь на диске.
func publicMetadata(meta *model.FileMetadata) *model.FileMetadata {
	out := *meta
	out.AbsolutePath = ""
	return &out
}
