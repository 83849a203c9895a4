// Пакет service — бизнес-логика сервиса загрузок: конвейер приёма файлов,
// фоновая очистка и архивация, мониторинг диска, проверки зависимостей.
package service

import (
	"context"

	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
)

// FileRegistry — реестр сохранённых файлов для поиска дубликатов.
// Реализуется *index.Index (in-memory) и *repository.FileRegistry (PostgreSQL).
type FileRegistry interface {
	// Register добавляет запись о размещённом файле.
	Register(ctx context.Context, meta *model.FileMetadata) error
	// FindByHash возвращает самый ранний файл владельца с таким хэшем,
	// nil, nil — если такого нет.
	FindByHash(ctx context.Context, hash, ownerID string) (*model.DuplicateMatch, error)
	// Remove забывает файл. Отсутствие записи ошибкой не считается.
	Remove(ctx context.Context, fileID string) error
	// CountByCategory — число файлов по категориям.
	CountByCategory(ctx context.Context) (map[string]int, error)
}
