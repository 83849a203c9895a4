package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// hashChunkSize — размер блока чтения при хэшировании.
const hashChunkSize = 32 * 1024

// HashReader вычисляет SHA-256 потока блоками по 32 КБ.
// Контекст проверяется между блоками.
func HashReader(ctx context.Context, r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("хэширование прервано: %w", err)
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("ошибка чтения при хэшировании: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile вычисляет SHA-256 файла.
func HashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	defer f.Close()

	sum, err := HashReader(ctx, f)
	if err != nil {
		return "", fmt.Errorf("ошибка вычисления хэша %s: %w", path, err)
	}
	return sum, nil
}
