// uploads.go — обработчик POST /api/v1/uploads/{category}.
// Multipart-тело читается потоково, без буферизации формы в памяти.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/portfolio-uploads/internal/api/errors"
	"github.com/bigkaa/portfolio-uploads/internal/service"
)

const (
	// FileField — имя поля формы с файлом
	FileField = "archivo"
	// OwnerField — имя поля формы с идентификатором владельца
	OwnerField = "usuario_id"
	// OwnerHeader — заголовок с идентификатором владельца, если поля нет
	OwnerHeader = "X-User-ID"

	maxFieldSize = 4 << 10
	maxFields    = 32
	// maxDrain — сколько байт непрочитанного тела дочитывается перед ответом
	maxDrain = 1 << 20
)

// Uploader — операции конвейера, нужные обработчику.
type Uploader interface {
	MaxFiles() int
	CheckCategory(category string) *service.UploadError
	Intake(ctx context.Context, category, filename, declaredMIME string, r io.Reader) (*service.Staged, *service.UploadError)
	Commit(ctx context.Context, ownerID string, metadata map[string]string, files []*service.Staged) ([]*service.UploadedFile, *service.UploadError)
	Discard(files []*service.Staged)
}

// UploadHandler — обработчик загрузки файлов.
type UploadHandler struct {
	svc    Uploader
	logger *slog.Logger
}

// NewUploadHandler создаёт обработчик загрузки.
func NewUploadHandler(svc Uploader, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "upload_handler")),
	}
}

// uploadResponse — тело успешного ответа.
type uploadResponse struct {
	Success bool                    `json:"success"`
	Files   []*service.UploadedFile `json:"files"`
}

// Upload обрабатывает POST /api/v1/uploads/{category}.
// Поле archivo (1..MaxFiles), usuario_id или заголовок X-User-ID,
// остальные текстовые поля сохраняются как метаданные.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	if uerr := h.svc.CheckCategory(category); uerr != nil {
		writeUploadError(w, uerr)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается тело multipart/form-data")
		return
	}

	var (
		staged   []*service.Staged
		owner    string
		metadata = make(map[string]string)
		fields   int
	)
	reject := func(uerr *service.UploadError) {
		h.svc.Discard(staged)
		drain(r.Body)
		writeUploadError(w, uerr)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			reject(&service.UploadError{
				StatusCode: http.StatusBadRequest,
				Code:       apierrors.CodeValidationError,
				Message:    "Некорректное тело multipart",
			})
			return
		}

		name := part.FormName()
		if part.FileName() == "" {
			fields++
			value, uerr := readField(part, fields)
			_ = part.Close()
			if uerr != nil {
				reject(uerr)
				return
			}
			switch name {
			case OwnerField:
				owner = value
			case "":
			default:
				metadata[name] = value
			}
			continue
		}

		if name != FileField {
			_ = part.Close()
			reject(&service.UploadError{
				StatusCode: http.StatusBadRequest,
				Code:       apierrors.CodeUnexpectedFile,
				Message:    fmt.Sprintf("Неожиданное поле с файлом %q, ожидается %q", name, FileField),
				Context:    map[string]any{"field": name},
			})
			return
		}
		if len(staged) >= h.svc.MaxFiles() {
			_ = part.Close()
			reject(&service.UploadError{
				StatusCode: http.StatusBadRequest,
				Code:       apierrors.CodeTooManyFiles,
				Message:    fmt.Sprintf("Слишком много файлов, максимум %d", h.svc.MaxFiles()),
				Context:    map[string]any{"max_files": h.svc.MaxFiles()},
			})
			return
		}

		s, uerr := h.svc.Intake(r.Context(), category, part.FileName(), part.Header.Get("Content-Type"), part)
		_ = part.Close()
		if uerr != nil {
			reject(uerr)
			return
		}
		staged = append(staged, s)
	}

	if len(staged) == 0 {
		writeUploadError(w, &service.UploadError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeNoFile,
			Message:    fmt.Sprintf("Файл не передан, ожидается поле %q", FileField),
		})
		return
	}

	if owner == "" {
		owner = r.Header.Get(OwnerHeader)
	}

	files, uerr := h.svc.Commit(r.Context(), owner, metadata, staged)
	if uerr != nil {
		writeUploadError(w, uerr)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{Success: true, Files: files})
}

// readField читает текстовое поле формы с ограничением размера.
func readField(part *multipart.Part, n int) (string, *service.UploadError) {
	if n > maxFields {
		return "", &service.UploadError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeValidationError,
			Message:    fmt.Sprintf("Слишком много полей формы, максимум %d", maxFields),
		}
	}
	data, err := io.ReadAll(io.LimitReader(part, maxFieldSize+1))
	if err != nil {
		return "", &service.UploadError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeValidationError,
			Message:    "Ошибка чтения поля формы",
		}
	}
	if len(data) > maxFieldSize {
		return "", &service.UploadError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeValidationError,
			Message:    fmt.Sprintf("Поле формы %q превышает %d байт", part.FormName(), maxFieldSize),
		}
	}
	return string(data), nil
}

// drain дочитывает ограниченный остаток тела, чтобы клиент получил ответ
// до закрытия соединения.
func drain(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxDrain))
}
