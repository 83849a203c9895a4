// upload.go — конвейер приёма файлов: проверка имени → запись во временный
// каталог с лимитом → полная проверка → очистка → SHA-256 → поиск дубликата
// → размещение с sidecar → регистрация.
//
// Приём выполняется в два этапа. Intake обрабатывает один файл и оставляет
// его во временном каталоге. Commit размещает все файлы запроса только
// после того, как каждый из них прошёл проверку; при сбое размещения уже
// размещённые файлы удаляются вместе с sidecar.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/portfolio-uploads/internal/api/errors"
	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
	"github.com/bigkaa/portfolio-uploads/internal/domain/policy"
	"github.com/bigkaa/portfolio-uploads/internal/sanitize"
	"github.com/bigkaa/portfolio-uploads/internal/storage/attr"
	"github.com/bigkaa/portfolio-uploads/internal/storage/filestore"
	"github.com/bigkaa/portfolio-uploads/internal/validation"
)

// Коды рекомендательных уведомлений в ответе загрузки.
const (
	NoticeDuplicateFile          = "DUPLICATE_FILE"
	NoticeLowDiskSpace           = "LOW_DISK_SPACE"
	NoticeMalwareScanUnavailable = "MALWARE_SCAN_UNAVAILABLE"
)

// MaxMetadataSize — предел JSON-представления метаданных формы.
// Оставляет в sidecar запас под служебные поля.
const MaxMetadataSize = attr.MaxSize / 4

// ownerPattern — допустимый идентификатор владельца.
var ownerPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Prometheus метрики загрузок
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pu_uploads_total",
		Help: "Общее количество обработанных файлов по категории и результату",
	}, []string{"category", "result"})

	uploadBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pu_upload_bytes_total",
		Help: "Общий объём размещённых файлов по категории",
	}, []string{"category"})

	validationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pu_validation_failures_total",
		Help: "Общее количество отказов проверки по коду ошибки",
	}, []string{"code"})
)

// UploadError — ошибка загрузки с HTTP-кодом и контекстом ответа.
type UploadError struct {
	StatusCode int
	Code       string
	Message    string
	Context    map[string]any
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badRequest(code, message string, ctx map[string]any) *UploadError {
	return &UploadError{StatusCode: http.StatusBadRequest, Code: code, Message: message, Context: ctx}
}

func internalError(message string) *UploadError {
	return &UploadError{StatusCode: http.StatusInternalServerError, Code: apierrors.CodeInternalError, Message: message}
}

// UploadConfig — параметры конвейера.
type UploadConfig struct {
	// MaxFiles — максимум файлов в одном запросе
	MaxFiles int
	// HashTimeout — предел времени хэширования одного файла (0 — без предела)
	HashTimeout time.Duration
	// MalwareDetection — флаг проверки на вредоносное ПО (проверка не реализована)
	MalwareDetection bool
}

// Staged — файл, прошедший проверку и ожидающий размещения во временном каталоге.
type Staged struct {
	TempPath         string
	Category         string
	OriginalFilename string
	StoredFilename   string
	Extension        string
	ContentType      string
	Size             int64
	Hash             string
	Sanitization     model.SanitizationStatus
	Validation       *model.ValidationResult
	Notices          []string
}

// UploadedFile — размещённый файл в ответе загрузки.
type UploadedFile struct {
	FileID           string                   `json:"file_id"`
	OriginalFilename string                   `json:"original_filename"`
	StoredFilename   string                   `json:"stored_filename"`
	Path             string                   `json:"path"`
	Category         string                   `json:"category"`
	ContentType      string                   `json:"content_type"`
	Size             int64                    `json:"size"`
	Hash             string                   `json:"hash"`
	Sanitization     model.SanitizationStatus `json:"sanitization"`
	UploadedAt       time.Time                `json:"uploaded_at"`
	Validation       *model.ValidationResult  `json:"validation"`
	Notices          []string                 `json:"notices,omitempty"`
	Duplicate        *model.DuplicateMatch    `json:"duplicate,omitempty"`
}

// UploadService — сервис приёма файлов.
type UploadService struct {
	cfg        UploadConfig
	categories *policy.Registry
	validator  *validation.Validator
	names      *validation.Sanitizer
	store      *filestore.FileStore
	placer     *filestore.Placer
	images     *sanitize.Images
	registry   FileRegistry
	disk       *DiskMonitor
	logger     *slog.Logger

	// Now — источник времени получения файла (по умолчанию time.Now)
	Now func() time.Time
}

// NewUploadService создаёт сервис приёма файлов. registry и disk могут быть nil.
func NewUploadService(
	cfg UploadConfig,
	categories *policy.Registry,
	store *filestore.FileStore,
	placer *filestore.Placer,
	images *sanitize.Images,
	registry FileRegistry,
	disk *DiskMonitor,
	logger *slog.Logger,
) *UploadService {
	if cfg.MaxFiles < 1 {
		cfg.MaxFiles = 1
	}
	return &UploadService{
		cfg:        cfg,
		categories: categories,
		validator:  validation.NewValidator(categories),
		names:      validation.NewSanitizer(),
		store:      store,
		placer:     placer,
		images:     images,
		registry:   registry,
		disk:       disk,
		logger:     logger.With(slog.String("component", "upload_service")),
		Now:        time.Now,
	}
}

// SetNameSanitizer заменяет генератор уникальных имён (детерминированные тесты).
func (s *UploadService) SetNameSanitizer(names *validation.Sanitizer) {
	s.names = names
}

// MaxFiles — максимум файлов в одном запросе.
func (s *UploadService) MaxFiles() int {
	return s.cfg.MaxFiles
}

// CheckCategory проверяет, что категория существует.
func (s *UploadService) CheckCategory(category string) *UploadError {
	if _, ok := s.categories.Get(category); !ok {
		return badRequest(apierrors.CodeInvalidCategory,
			fmt.Sprintf("Неизвестная категория загрузки: %q", category), nil)
	}
	return nil
}

// CheckOwner проверяет идентификатор владельца.
func CheckOwner(ownerID string) *UploadError {
	if !ownerPattern.MatchString(ownerID) {
		return badRequest(apierrors.CodeInvalidUser,
			"Идентификатор пользователя должен состоять из 1–64 символов [A-Za-z0-9_-]", nil)
	}
	return nil
}

// Intake принимает один файл: проверки имени до записи, потоковая запись
// во временный каталог с лимитом, полная проверка, очистка и хэширование.
// При любой ошибке временный файл удаляется.
func (s *UploadService) Intake(ctx context.Context, category, filename, declaredMIME string, r io.Reader) (*Staged, *UploadError) {
	// 1. Проверки имени — до чтения первого байта содержимого
	if res := s.validator.CheckName(filename, category); !res.Valid {
		return nil, s.rejected(category, res)
	}
	p, _ := s.categories.Get(category)
	limit := s.categories.MaxSizeFor(p)

	// 2. Запись во временный каталог с жёстким лимитом
	storedName := s.names.UniqueName(filename)
	tmp, err := s.store.WriteTemp(ctx, r, storedName, limit)
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			res := model.NewValidationResult()
			res.Info.Name = filename
			res.Fail(apierrors.CodeFileTooLarge, validation.TooLargeMessage(category, limit))
			res.SetContext("max_size", limit)
			res.SetContext("max_size_mb", validation.FormatMB(limit))
			return nil, s.rejected(category, res)
		}
		s.logger.Error("Ошибка записи временного файла",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		uploadsTotal.WithLabelValues(category, "error").Inc()
		return nil, internalError("Ошибка сохранения файла во временный каталог")
	}

	staged, uerr := s.process(ctx, p, tmp, filename, declaredMIME, storedName)
	if uerr != nil {
		if rmErr := filestore.Remove(tmp.Path); rmErr != nil {
			s.logger.Warn("Не удалось удалить временный файл",
				slog.String("path", tmp.Path),
				slog.String("error", rmErr.Error()),
			)
		}
		return nil, uerr
	}
	return staged, nil
}

func (s *UploadService) process(
	ctx context.Context,
	p policy.CategoryPolicy,
	tmp *filestore.TempFile,
	filename, declaredMIME, storedName string,
) (*Staged, *UploadError) {
	// 3. Полная проверка по содержимому
	head, err := filestore.ReadHead(tmp.Path, validation.HeadSize)
	if err != nil {
		s.logger.Error("Ошибка чтения временного файла",
			slog.String("path", tmp.Path),
			slog.String("error", err.Error()),
		)
		return nil, internalError("Ошибка чтения временного файла")
	}
	res := s.validator.Validate(validation.Input{
		Filename:     filename,
		DeclaredMIME: declaredMIME,
		Head:         head,
		Size:         tmp.Size,
		Category:     p.Name,
		Path:         tmp.Path,
		ReceivedAt:   s.Now().UTC(),
	})
	if !res.Valid {
		return nil, s.rejected(p.Name, res)
	}

	staged := &Staged{
		TempPath:         tmp.Path,
		Category:         p.Name,
		OriginalFilename: filename,
		StoredFilename:   storedName,
		Extension:        res.Info.Extension,
		ContentType:      policy.NormalizeMIME(declaredMIME),
		Size:             tmp.Size,
		Validation:       res,
	}

	// 4. Очистка содержимого (перекодирование изображений)
	limit := s.categories.MaxSizeFor(p)
	status, err := s.images.Apply(ctx, tmp.Path, staged.Extension, p.Sanitize, limit)
	if err != nil {
		if errors.Is(err, sanitize.ErrUndecodable) {
			res.Fail(p.RejectCode, "Изображение повреждено или не может быть обработано")
			return nil, s.rejected(p.Name, res)
		}
		if errors.Is(err, sanitize.ErrTooLarge) {
			res.Fail(apierrors.CodeFileTooLarge, fmt.Sprintf(
				"Размер файла после обработки превышает максимум %s для категории %s",
				validation.FormatMB(limit), p.Name))
			res.SetContext("max_size", limit)
			res.SetContext("max_size_mb", validation.FormatMB(limit))
			return nil, s.rejected(p.Name, res)
		}
		s.logger.Error("Ошибка очистки файла",
			slog.String("path", tmp.Path),
			slog.String("error", err.Error()),
		)
		return nil, internalError("Ошибка обработки файла")
	}
	staged.Sanitization = status
	if status == model.SanitizationApplied {
		if st, err := os.Stat(tmp.Path); err == nil {
			staged.Size = st.Size()
			res.Info.Size = st.Size()
		}
	}

	// 5. SHA-256 итогового содержимого
	hashCtx := ctx
	if s.cfg.HashTimeout > 0 {
		var cancel context.CancelFunc
		hashCtx, cancel = context.WithTimeout(ctx, s.cfg.HashTimeout)
		defer cancel()
	}
	hash, err := filestore.HashFile(hashCtx, tmp.Path)
	if err != nil {
		s.logger.Error("Ошибка вычисления хэша",
			slog.String("path", tmp.Path),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, internalError("Превышено время вычисления контрольной суммы")
		}
		return nil, internalError("Ошибка вычисления контрольной суммы")
	}
	staged.Hash = hash
	res.Info.Hash = hash

	if s.cfg.MalwareDetection {
		res.Warn("Проверка на вредоносное ПО недоступна: файл не проверен антивирусом")
		staged.Notices = append(staged.Notices, NoticeMalwareScanUnavailable)
	}

	return staged, nil
}

// CheckMetadata проверяет суммарный объём метаданных формы.
func CheckMetadata(metadata map[string]string) *UploadError {
	if len(metadata) == 0 {
		return nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return internalError("Ошибка обработки метаданных")
	}
	if len(data) > MaxMetadataSize {
		return badRequest(apierrors.CodeValidationError,
			fmt.Sprintf("Метаданные формы превышают %d байт", MaxMetadataSize),
			map[string]any{"max_metadata_size": MaxMetadataSize})
	}
	return nil
}

// Commit размещает все файлы запроса. Вызывается только когда каждый файл
// прошёл Intake. При любой ошибке временные файлы удаляются, а уже
// размещённые — удаляются вместе с sidecar и забываются реестром.
func (s *UploadService) Commit(ctx context.Context, ownerID string, metadata map[string]string, files []*Staged) ([]*UploadedFile, *UploadError) {
	if uerr := CheckOwner(ownerID); uerr != nil {
		s.Discard(files)
		return nil, uerr
	}
	if uerr := CheckMetadata(metadata); uerr != nil {
		s.Discard(files)
		return nil, uerr
	}

	lowDisk := s.lowDisk(ctx)

	out := make([]*UploadedFile, 0, len(files))
	var placed []*model.FileMetadata
	fail := func(i int, uerr *UploadError) ([]*UploadedFile, *UploadError) {
		s.undo(ctx, placed)
		s.Discard(files[i:])
		for _, f := range files {
			uploadsTotal.WithLabelValues(f.Category, "error").Inc()
		}
		return nil, uerr
	}

	for i, f := range files {
		var dup *model.DuplicateMatch
		if s.registry != nil {
			match, err := s.registry.FindByHash(ctx, f.Hash, ownerID)
			if err != nil {
				s.logger.Warn("Ошибка поиска дубликата",
					slog.String("hash", f.Hash),
					slog.String("error", err.Error()),
				)
			} else if match != nil {
				dup = match
				f.Validation.Warn(fmt.Sprintf("Файл с таким же содержимым уже загружен: %s", match.RelativePath))
				f.Notices = append(f.Notices, NoticeDuplicateFile)
			}
		}
		if lowDisk {
			f.Validation.Warn("На диске хранилища заканчивается свободное место")
			f.Notices = append(f.Notices, NoticeLowDiskSpace)
		}

		_, meta, err := s.placer.Place(ctx, filestore.PlaceRequest{
			SourcePath:       f.TempPath,
			Category:         f.Category,
			OwnerID:          ownerID,
			StoredFilename:   f.StoredFilename,
			OriginalFilename: f.OriginalFilename,
			Extension:        f.Extension,
			ContentType:      f.ContentType,
			Size:             f.Size,
			Hash:             f.Hash,
			Sanitization:     f.Sanitization,
			Metadata:         metadata,
		})
		if err != nil {
			s.logger.Error("Ошибка размещения файла",
				slog.String("filename", f.OriginalFilename),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, filestore.ErrSourceMissing) {
				return fail(i, badRequest(apierrors.CodeSourceMissing,
					"Временный файл не найден, загрузите файл повторно", nil))
			}
			return fail(i, internalError("Ошибка размещения файла в хранилище"))
		}
		placed = append(placed, meta)

		if s.registry != nil {
			if err := s.registry.Register(ctx, meta); err != nil {
				s.logger.Error("Ошибка регистрации файла",
					slog.String("file_id", meta.FileID),
					slog.String("error", err.Error()),
				)
				return fail(i+1, internalError("Ошибка регистрации файла"))
			}
		}

		out = append(out, &UploadedFile{
			FileID:           meta.FileID,
			OriginalFilename: meta.OriginalFilename,
			StoredFilename:   meta.StoredFilename,
			Path:             meta.RelativePath,
			Category:         meta.Category,
			ContentType:      meta.ContentType,
			Size:             meta.Size,
			Hash:             meta.Hash,
			Sanitization:     meta.Sanitization,
			UploadedAt:       meta.UploadedAt,
			Validation:       f.Validation,
			Notices:          f.Notices,
			Duplicate:        dup,
		})
	}

	for _, m := range placed {
		uploadsTotal.WithLabelValues(m.Category, "success").Inc()
		uploadBytesTotal.WithLabelValues(m.Category).Add(float64(m.Size))
		s.logger.Info("Файл загружен",
			slog.String("file_id", m.FileID),
			slog.String("filename", m.OriginalFilename),
			slog.String("path", m.RelativePath),
			slog.Int64("size", m.Size),
			slog.String("hash", m.Hash),
			slog.String("owner_id", ownerID),
		)
	}
	return out, nil
}

// Discard удаляет временные файлы, не дошедшие до размещения.
func (s *UploadService) Discard(files []*Staged) {
	for _, f := range files {
		if f == nil {
			continue
		}
		if err := filestore.Remove(f.TempPath); err != nil {
			s.logger.Warn("Не удалось удалить временный файл",
				slog.String("path", f.TempPath),
				slog.String("error", err.Error()),
			)
		}
	}
}

// undo удаляет размещённые файлы запроса вместе с sidecar.
func (s *UploadService) undo(ctx context.Context, placed []*model.FileMetadata) {
	for _, meta := range placed {
		if err := filestore.DeletePair(meta.AbsolutePath); err != nil {
			s.logger.Error("Не удалось удалить размещённый файл при откате",
				slog.String("path", meta.AbsolutePath),
				slog.String("error", err.Error()),
			)
		}
		if s.registry != nil {
			if err := s.registry.Remove(ctx, meta.FileID); err != nil {
				s.logger.Warn("Не удалось удалить файл из реестра при откате",
					slog.String("file_id", meta.FileID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (s *UploadService) lowDisk(ctx context.Context) bool {
	if s.disk == nil {
		return false
	}
	status, err := s.disk.Current(ctx)
	if err != nil {
		s.logger.Warn("Не удалось проверить свободное место", slog.String("error", err.Error()))
		return false
	}
	return status.Low
}

// rejected превращает результат проверки в ошибку ответа 400.
func (s *UploadService) rejected(category string, res *model.ValidationResult) *UploadError {
	if _, ok := s.categories.Get(category); !ok {
		category = "unknown"
	}
	validationFailuresTotal.WithLabelValues(res.Code).Inc()
	uploadsTotal.WithLabelValues(category, "rejected").Inc()

	message := res.Code
	if len(res.Errors) > 0 {
		message = res.Errors[0]
	}
	ctx := make(map[string]any, len(res.Context)+2)
	for k, v := range res.Context {
		ctx[k] = v
	}
	ctx["errors"] = res.Errors
	ctx["warnings"] = res.Warnings

	s.logger.Info("Файл отклонён",
		slog.String("category", category),
		slog.String("filename", res.Info.Name),
		slog.String("code", res.Code),
	)
	return badRequest(res.Code, message, ctx)
}
