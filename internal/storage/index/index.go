// Пакет index — потокобезопасный in-memory реестр сохранённых файлов.
//
// Реестр строится при старте из sidecar-файлов хранилища (Build)
// и обновляется синхронно при размещении и архивации. Служит для
// поиска дубликатов по паре (хэш, владелец) без обращения к диску.
//
// Не персистентный: при рестарте пересобирается из sidecar-файлов.
package index

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
	"github.com/bigkaa/portfolio-uploads/internal/storage/attr"
	"github.com/bigkaa/portfolio-uploads/internal/storage/walk"
)

type dupKey struct {
	hash  string
	owner string
}

// Index — in-memory реестр файлов.
type Index struct {
	mu     sync.RWMutex
	files  map[string]*model.FileMetadata // file_id → metadata
	byHash map[dupKey][]string            // (hash, owner) → file_id
	ready  bool
	logger *slog.Logger
}

// New создаёт пустой реестр. Для заполнения вызовите Build.
func New(logger *slog.Logger) *Index {
	return &Index{
		files:  make(map[string]*model.FileMetadata),
		byHash: make(map[dupKey][]string),
		logger: logger.With(slog.String("component", "index")),
	}
}

// Build заменяет содержимое реестра данными sidecar-файлов под root.
// Нечитаемые sidecar пропускаются с предупреждением.
func (idx *Index) Build(root string) error {
	files := make(map[string]*model.FileMetadata)
	byHash := make(map[dupKey][]string)
	skipped := 0

	for e, err := range walk.Files(root) {
		if err != nil {
			idx.logger.Warn("Ошибка обхода при построении реестра",
				slog.String("path", e.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !attr.IsSidecar(e.Path) {
			continue
		}
		meta, err := attr.Read(e.Path)
		if err != nil || meta.FileID == "" {
			skipped++
			continue
		}
		files[meta.FileID] = meta
		k := dupKey{meta.Hash, meta.OwnerID}
		byHash[k] = append(byHash[k], meta.FileID)
	}

	idx.mu.Lock()
	idx.files = files
	idx.byHash = byHash
	idx.ready = true
	idx.mu.Unlock()

	idx.logger.Info("Реестр файлов построен",
		slog.Int("files", len(files)),
		slog.Int("skipped", skipped),
		slog.String("root", root),
	)
	return nil
}

// IsReady — реестр построен.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Register добавляет или заменяет запись о файле.
func (idx *Index) Register(_ context.Context, meta *model.FileMetadata) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.files[meta.FileID]; ok {
		idx.unlinkLocked(old)
	}
	copied := *meta
	idx.files[meta.FileID] = &copied
	k := dupKey{meta.Hash, meta.OwnerID}
	idx.byHash[k] = append(idx.byHash[k], meta.FileID)
	return nil
}

// FindByHash возвращает самый ранний файл владельца с таким хэшем
// или nil, если такого нет.
func (idx *Index) FindByHash(_ context.Context, hash, ownerID string) (*model.DuplicateMatch, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var best *model.FileMetadata
	for _, id := range idx.byHash[dupKey{hash, ownerID}] {
		meta := idx.files[id]
		if meta == nil {
			continue
		}
		if best == nil || meta.UploadedAt.Before(best.UploadedAt) {
			best = meta
		}
	}
	if best == nil {
		return nil, nil
	}
	return &model.DuplicateMatch{
		FileID:       best.FileID,
		RelativePath: best.RelativePath,
		UploadedAt:   best.UploadedAt,
	}, nil
}

// Remove удаляет запись. Отсутствие записи ошибкой не считается.
func (idx *Index) Remove(_ context.Context, fileID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	meta, ok := idx.files[fileID]
	if !ok {
		return nil
	}
	idx.unlinkLocked(meta)
	delete(idx.files, fileID)
	return nil
}

// Get возвращает копию записи или nil.
func (idx *Index) Get(fileID string) *model.FileMetadata {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	meta, ok := idx.files[fileID]
	if !ok {
		return nil
	}
	copied := *meta
	return &copied
}

// Count — число файлов в реестре.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.files)
}

// CountByCategory возвращает число файлов по категориям.
func (idx *Index) CountByCategory(_ context.Context) (map[string]int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make(map[string]int)
	for _, meta := range idx.files {
		out[meta.Category]++
	}
	return out, nil
}

func (idx *Index) unlinkLocked(meta *model.FileMetadata) {
	k := dupKey{meta.Hash, meta.OwnerID}
	ids := idx.byHash[k]
	for i, id := range ids {
		if id == meta.FileID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(idx.byHash, k)
	} else {
		idx.byHash[k] = ids
	}
}
