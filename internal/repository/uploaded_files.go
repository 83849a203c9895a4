package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
)

const fileColumns = `file_id, owner_id, category, original_filename, stored_filename,
	relative_path, extension, content_type, size, hash, sanitization, metadata, uploaded_at`

// FileRegistry — реестр файлов в таблице uploaded_files.
type FileRegistry struct {
	db DBTX
}

// NewFileRegistry создаёт реестр поверх пула или транзакции.
func NewFileRegistry(db DBTX) *FileRegistry {
	return &FileRegistry{db: db}
}

// Register добавляет запись или обновляет её по file_id.
// ErrConflict — путь уже занят другим файлом.
func (r *FileRegistry) Register(ctx context.Context, meta *model.FileMetadata) error {
	metadata := meta.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	query := fmt.Sprintf(`INSERT INTO uploaded_files (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (file_id) DO UPDATE SET
			relative_path = EXCLUDED.relative_path,
			size = EXCLUDED.size,
			hash = EXCLUDED.hash,
			sanitization = EXCLUDED.sanitization,
			metadata = EXCLUDED.metadata`, fileColumns)

	_, err := r.db.Exec(ctx, query,
		meta.FileID, meta.OwnerID, meta.Category, meta.OriginalFilename, meta.StoredFilename,
		meta.RelativePath, meta.Extension, meta.ContentType, meta.Size, meta.Hash,
		string(meta.Sanitization), metadata, meta.UploadedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: путь %s", ErrConflict, meta.RelativePath)
		}
		return fmt.Errorf("ошибка регистрации файла: %w", err)
	}
	return nil
}

// FindByHash возвращает самый ранний файл владельца с таким хэшем
// или nil, если такого нет.
func (r *FileRegistry) FindByHash(ctx context.Context, hash, ownerID string) (*model.DuplicateMatch, error) {
	m := &model.DuplicateMatch{}
	err := r.db.QueryRow(ctx,
		`SELECT file_id, relative_path, uploaded_at FROM uploaded_files
		 WHERE hash = $1 AND owner_id = $2
		 ORDER BY uploaded_at ASC LIMIT 1`,
		hash, ownerID,
	).Scan(&m.FileID, &m.RelativePath, &m.UploadedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка поиска дубликата: %w", err)
	}
	return m, nil
}

// Remove удаляет запись. Отсутствие записи ошибкой не считается.
func (r *FileRegistry) Remove(ctx context.Context, fileID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM uploaded_files WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("ошибка удаления записи файла: %w", err)
	}
	return nil
}

// GetByID возвращает запись по file_id или ErrNotFound.
func (r *FileRegistry) GetByID(ctx context.Context, fileID string) (*model.FileMetadata, error) {
	query := fmt.Sprintf(`SELECT %s FROM uploaded_files WHERE file_id = $1`, fileColumns)

	var (
		meta         model.FileMetadata
		sanitization string
	)
	err := r.db.QueryRow(ctx, query, fileID).Scan(
		&meta.FileID, &meta.OwnerID, &meta.Category, &meta.OriginalFilename, &meta.StoredFilename,
		&meta.RelativePath, &meta.Extension, &meta.ContentType, &meta.Size, &meta.Hash,
		&sanitization, &meta.Metadata, &meta.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	meta.Sanitization = model.SanitizationStatus(sanitization)
	return &meta, nil
}

// CountByCategory возвращает число файлов по категориям.
func (r *FileRegistry) CountByCategory(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT category, COUNT(*) FROM uploaded_files GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			category string
			count    int
		)
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования: %w", err)
		}
		out[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return out, nil
}
