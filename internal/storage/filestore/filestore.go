// Пакет filestore — операции с физическими файлами на диске:
// потоковый приём во временный каталог с лимитом размера, SHA-256,
// размещение в хранилище и операции над парой файл + sidecar.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrTooLarge — поток превысил лимит размера при приёме.
var ErrTooLarge = errors.New("превышен допустимый размер файла")

// ErrSourceMissing — исходный файл исчез до размещения. Не повторяется.
var ErrSourceMissing = errors.New("исходный файл не найден")

// FileStore — приём загружаемых файлов во временный каталог.
type FileStore struct {
	tempDir string
}

// TempFile — файл, принятый во временный каталог.
type TempFile struct {
	// Path — абсолютный путь во временном каталоге
	Path string
	// Size — число записанных байт
	Size int64
}

// New создаёт FileStore. Временный каталог создаётся при необходимости.
func New(tempDir string) (*FileStore, error) {
	if err := os.MkdirAll(tempDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать временную директорию %s: %w", tempDir, err)
	}
	return &FileStore{tempDir: tempDir}, nil
}

// TempDir возвращает путь временного каталога.
func (fs *FileStore) TempDir() string {
	return fs.tempDir
}

// WriteTemp записывает поток во временный файл name, не более limit байт.
// При превышении лимита поток прерывается, файл удаляется и возвращается
// ошибка, оборачивающая ErrTooLarge. Паттерн: запись → fsync → close,
// при любой ошибке временный файл удаляется.
func (fs *FileStore) WriteTemp(ctx context.Context, r io.Reader, name string, limit int64) (*TempFile, error) {
	path := filepath.Join(fs.tempDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, io.LimitReader(&ctxReader{ctx: ctx, r: r}, limit+1))
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if size > limit {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: больше %d байт", ErrTooLarge, limit)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	return &TempFile{Path: path, Size: size}, nil
}

// ReadHead читает до n первых байт файла.
func ReadHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}
	return buf[:read], nil
}

// Remove удаляет файл. Отсутствие файла ошибкой не считается.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", path, err)
	}
	return nil
}

// ctxReader прерывает чтение при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
