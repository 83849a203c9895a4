package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
	"github.com/bigkaa/portfolio-uploads/internal/storage/attr"
	"github.com/bigkaa/portfolio-uploads/internal/storage/wal"
)

// Journal — журнал операций размещения. Реализуется *wal.WAL.
type Journal interface {
	Begin(op wal.OperationType, fileID, source, target string) (*wal.Entry, error)
	Commit(txID string) error
	Rollback(txID string) error
}

// PlaceRequest — параметры размещения проверенного файла.
type PlaceRequest struct {
	// SourcePath — временный файл, прошедший проверку
	SourcePath       string
	Category         string
	OwnerID          string
	StoredFilename   string
	OriginalFilename string
	Extension        string
	ContentType      string
	Size             int64
	Hash             string
	Sanitization     model.SanitizationStatus
	Metadata         map[string]string
}

// Placer перемещает файлы из временного каталога в хранилище
// и записывает sidecar. Путь назначения:
// <uploadDir>/<category>/<YYYY>/<MM>/<DD>/user_<owner>/<storedName>.
type Placer struct {
	uploadDir string
	journal   Journal
	logger    *slog.Logger

	// Now — источник времени для каталога даты (по умолчанию time.Now)
	Now func() time.Time
}

// NewPlacer создаёт Placer. journal может быть nil.
func NewPlacer(uploadDir string, journal Journal, logger *slog.Logger) *Placer {
	return &Placer{
		uploadDir: uploadDir,
		journal:   journal,
		logger:    logger.With(slog.String("component", "placer")),
		Now:       time.Now,
	}
}

// UploadDir возвращает корень хранилища.
func (p *Placer) UploadDir() string {
	return p.uploadDir
}

// DestinationDir — каталог назначения для категории, владельца и даты (UTC).
func (p *Placer) DestinationDir(category, ownerID string, at time.Time) string {
	at = at.UTC()
	return filepath.Join(p.uploadDir, category,
		at.Format("2006"), at.Format("01"), at.Format("02"),
		"user_"+ownerID)
}

// Place перемещает файл и записывает sidecar. При отсутствии исходного
// файла возвращает ошибку, оборачивающую ErrSourceMissing. Если sidecar
// записать не удалось, перемещённый файл удаляется.
func (p *Placer) Place(ctx context.Context, req PlaceRequest) (*model.StoredFile, *model.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("размещение прервано: %w", err)
	}

	if _, err := os.Stat(req.SourcePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrSourceMissing, req.SourcePath)
		}
		return nil, nil, fmt.Errorf("ошибка проверки исходного файла: %w", err)
	}

	now := p.Now().UTC()
	finalPath := filepath.Join(p.DestinationDir(req.Category, req.OwnerID, now), req.StoredFilename)
	if _, err := os.Lstat(finalPath); err == nil {
		return nil, nil, fmt.Errorf("файл назначения уже существует: %s", finalPath)
	}

	fileID := uuid.New().String()
	var txID string
	if p.journal != nil {
		entry, err := p.journal.Begin(wal.OpPlace, fileID, req.SourcePath, finalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка журнала размещения: %w", err)
		}
		txID = entry.TransactionID
	}

	if err := moveFile(req.SourcePath, finalPath); err != nil {
		p.rollback(txID)
		return nil, nil, err
	}

	meta := p.buildMetadata(fileID, finalPath, now, req)
	if err := attr.Write(attr.Path(finalPath), meta); err != nil {
		if rmErr := Remove(finalPath); rmErr != nil {
			p.logger.Error("Не удалось удалить файл без sidecar",
				slog.String("path", finalPath),
				slog.String("error", rmErr.Error()),
			)
		}
		p.rollback(txID)
		return nil, nil, fmt.Errorf("ошибка записи sidecar: %w", err)
	}

	if txID != "" {
		if err := p.journal.Commit(txID); err != nil {
			p.logger.Warn("Не удалось завершить WAL-транзакцию размещения",
				slog.String("tx_id", txID),
				slog.String("error", err.Error()),
			)
		}
	}

	p.logger.Debug("Файл размещён",
		slog.String("file_id", fileID),
		slog.String("path", meta.RelativePath),
	)

	stored := &model.StoredFile{
		FinalPath:      finalPath,
		StoredFilename: req.StoredFilename,
		Extension:      req.Extension,
		Size:           req.Size,
		Hash:           req.Hash,
		CreatedAt:      now,
	}
	return stored, meta, nil
}

func (p *Placer) buildMetadata(fileID, finalPath string, now time.Time, req PlaceRequest) *model.FileMetadata {
	rel, err := filepath.Rel(p.uploadDir, finalPath)
	if err != nil {
		rel = finalPath
	}
	abs, err := filepath.Abs(finalPath)
	if err != nil {
		abs = finalPath
	}
	return &model.FileMetadata{
		FileID:           fileID,
		OriginalFilename: req.OriginalFilename,
		StoredFilename:   req.StoredFilename,
		RelativePath:     filepath.ToSlash(rel),
		AbsolutePath:     abs,
		Category:         req.Category,
		OwnerID:          req.OwnerID,
		Extension:        req.Extension,
		ContentType:      req.ContentType,
		Size:             req.Size,
		Hash:             req.Hash,
		UploadedAt:       now,
		Sanitization:     req.Sanitization,
		Metadata:         req.Metadata,
	}
}

func (p *Placer) rollback(txID string) {
	if txID == "" {
		return
	}
	if err := p.journal.Rollback(txID); err != nil {
		p.logger.Warn("Не удалось отменить WAL-транзакцию размещения",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}
