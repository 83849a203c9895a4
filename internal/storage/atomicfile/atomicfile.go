// Пакет atomicfile — атомарная запись файлов: temp → fsync → rename.
// До успешного rename прежнее содержимое path не меняется.
package atomicfile

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// TempSuffix — суффикс временного файла незавершённой записи.
const TempSuffix = ".tmp"

// IsTemp проверяет, является ли путь временным файлом записи.
func IsTemp(path string) bool {
	return strings.HasSuffix(path, TempSuffix)
}

// Write заполняет path через временный файл path+TempSuffix.
// Ошибка write возвращается как есть; временный файл при любой ошибке удаляется.
func Write(path string, write func(w io.Writer) error) error {
	tmp := path + TempSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// WriteBytes атомарно записывает data в path.
func WriteBytes(path string, data []byte) error {
	return Write(path, func(w io.Writer) error {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("ошибка записи: %w", err)
		}
		return nil
	})
}
