package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/bigkaa/portfolio-uploads/internal/storage/atomicfile"
	"github.com/bigkaa/portfolio-uploads/internal/storage/attr"
)

// DeletePair удаляет файл данных и его sidecar.
// Отсутствие любого из них ошибкой не считается.
func DeletePair(path string) error {
	return errors.Join(Remove(path), attr.Delete(attr.Path(path)))
}

// MovePair переносит файл данных вместе с sidecar. Если sidecar
// перенести не удалось, файл данных возвращается на место.
func MovePair(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceMissing, src)
		}
		return fmt.Errorf("ошибка проверки файла %s: %w", src, err)
	}

	if err := moveFile(src, dst); err != nil {
		return err
	}

	srcSidecar := attr.Path(src)
	if _, err := os.Stat(srcSidecar); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := attr.Move(srcSidecar, attr.Path(dst)); err != nil {
		if backErr := moveFile(dst, src); backErr != nil {
			return errors.Join(err, fmt.Errorf("не удалось вернуть файл %s: %w", src, backErr))
		}
		return err
	}
	return nil
}

// moveFile — rename с созданием каталога назначения. Между файловыми
// системами выполняется копирование с fsync и удалением источника.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", filepath.Dir(dst), err)
	}

	err := os.Rename(src, dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrSourceMissing, src)
	case errors.Is(err, syscall.EXDEV):
		return copyAndRemove(src, dst)
	default:
		return fmt.Errorf("ошибка перемещения %s: %w", src, err)
	}
}

func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceMissing, src)
		}
		return fmt.Errorf("ошибка открытия %s: %w", src, err)
	}
	defer in.Close()

	err = atomicfile.Write(dst, func(w io.Writer) error {
		if _, err := io.Copy(w, in); err != nil {
			return fmt.Errorf("ошибка копирования %s: %w", src, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return Remove(src)
}
