// Пакет attr — sidecar-файлы метаданных <file>.meta.json.
// Каждый сохранённый файл имеет ровно один sidecar рядом с собой;
// файл и sidecar создаются, перемещаются и удаляются только парой.
// Запись атомарная (atomicfile).
package attr

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
	"github.com/bigkaa/portfolio-uploads/internal/storage/atomicfile"
)

// Suffix — суффикс sidecar-файла.
const Suffix = ".meta.json"

// MaxSize — верхняя граница размера sidecar (64 КБ).
// Пользовательские метаданные формы ограничиваются заметно меньшим бюджетом.
const MaxSize = 64 * 1024

// Path возвращает путь к sidecar для файла данных.
// Пример: "/u/report.pdf" → "/u/report.pdf.meta.json"
func Path(dataPath string) string {
	return dataPath + Suffix
}

// DataPath возвращает путь файла данных по пути sidecar.
func DataPath(sidecarPath string) string {
	return strings.TrimSuffix(sidecarPath, Suffix)
}

// IsSidecar проверяет, является ли путь sidecar-файлом.
func IsSidecar(path string) bool {
	return strings.HasSuffix(path, Suffix)
}

// Write атомарно записывает sidecar по пути path (форматированный JSON).
func Write(path string, meta *model.FileMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}
	if len(data) > MaxSize {
		return fmt.Errorf("размер sidecar (%d байт) превышает максимум (%d байт)", len(data), MaxSize)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	return atomicfile.WriteBytes(path, data)
}

// Read читает sidecar. Ошибка, если файла нет или JSON невалиден.
func Read(path string) (*model.FileMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения sidecar %s: %w", path, err)
	}

	var meta model.FileMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("ошибка десериализации sidecar %s: %w", path, err)
	}
	return &meta, nil
}

// Delete удаляет sidecar. Отсутствие файла ошибкой не считается.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления sidecar %s: %w", path, err)
	}
	return nil
}

// Move переносит sidecar в новый каталог. Отсутствующий источник
// ошибкой не считается, если назначение уже существует.
func Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", filepath.Dir(dst), err)
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, statErr := os.Stat(dst); statErr == nil {
				return nil
			}
		}
		return fmt.Errorf("ошибка перемещения sidecar %s: %w", src, err)
	}
	return nil
}
