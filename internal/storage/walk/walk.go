// Пакет walk — ленивый обход файлов каталога.
// Последовательность можно прервать в любой момент и запустить заново:
// каждый проход начинает обход с корня.
package walk

import (
	"errors"
	"io/fs"
	"iter"
	"path/filepath"
)

// Entry — обычный файл, найденный при обходе.
type Entry struct {
	// Path — полный путь
	Path string
	// Rel — путь относительно корня обхода
	Rel string
	// Info — сведения о файле
	Info fs.FileInfo
}

// Files возвращает ленивую последовательность обычных файлов под root.
// Ошибки отдельных элементов передаются вторым значением и обход не
// прерывают. Отсутствующий корень — пустая последовательность.
func Files(root string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root && errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipAll
				}
				if !yield(Entry{Path: path}, err) {
					return filepath.SkipAll
				}
				// Нечитаемый каталог пропускается целиком
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				if !yield(Entry{Path: path}, err) {
					return filepath.SkipAll
				}
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}
			if !yield(Entry{Path: path, Rel: rel, Info: info}, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}
