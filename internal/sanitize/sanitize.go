// Пакет sanitize — очистка содержимого сохраняемых файлов.
// Изображения JPEG и PNG перекодируются: при повторном кодировании
// EXIF и прочие метаданные не переносятся. Для остальных форматов
// (в том числе PDF) очистка не реализована, файл сохраняется как есть.
package sanitize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
	"github.com/bigkaa/portfolio-uploads/internal/storage/atomicfile"
)

var (
	// ErrUndecodable — изображение не удалось декодировать.
	ErrUndecodable = errors.New("изображение не удалось декодировать")
	// ErrTooLarge — перекодированное изображение превысило лимит категории.
	ErrTooLarge = errors.New("перекодированное изображение превышает лимит размера")
)

// maxPixels — предел размеров изображения до декодирования.
const maxPixels = 40_000_000

// Images перекодирует изображения на месте.
type Images struct {
	enabled bool
}

// New создаёт очистку изображений. enabled == false — очистка выключена.
func New(enabled bool) *Images {
	return &Images{enabled: enabled}
}

// Supports — формат поддерживается перекодированием.
func Supports(ext string) bool {
	switch strings.ToLower(ext) {
	case "jpg", "jpeg", "png":
		return true
	}
	return false
}

// Apply очищает файл path. want — политика категории требует очистки.
// Результат перекодирования не может превышать maxSize (0 — без предела):
// иначе возвращается ErrTooLarge, а файл остаётся нетронутым.
// Возвращает итоговый статус для sidecar.
func (s *Images) Apply(ctx context.Context, path, ext string, want bool, maxSize int64) (model.SanitizationStatus, error) {
	if !Supports(ext) {
		return model.SanitizationNotProvided, nil
	}
	if !s.enabled || !want {
		return model.SanitizationDisabled, nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("очистка прервана: %w", err)
	}
	if err := reencode(path, ext, maxSize); err != nil {
		return "", err
	}
	return model.SanitizationApplied, nil
}

func reencode(path, ext string, maxSize int64) error {
	if err := checkDimensions(path); err != nil {
		return err
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return fmt.Errorf("неподдерживаемый формат %s: %w", ext, err)
	}

	return atomicfile.Write(path, func(w io.Writer) error {
		lw := &limitWriter{w: w, limit: maxSize}
		if err := imaging.Encode(lw, img, format, imaging.JPEGQuality(90)); err != nil {
			if lw.exceeded {
				return fmt.Errorf("%w: больше %d байт", ErrTooLarge, maxSize)
			}
			return fmt.Errorf("ошибка кодирования изображения: %w", err)
		}
		return nil
	})
}

// limitWriter прерывает запись, как только объём превышает limit.
// limit <= 0 — без предела.
type limitWriter struct {
	w        io.Writer
	limit    int64
	written  int64
	exceeded bool
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if l.limit > 0 && l.written+int64(len(p)) > l.limit {
		l.exceeded = true
		return 0, ErrTooLarge
	}
	n, err := l.w.Write(p)
	l.written += int64(n)
	return n, err
}

func checkDimensions(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ошибка открытия %s: %w", path, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return fmt.Errorf("%w: слишком большое изображение %dx%d", ErrUndecodable, cfg.Width, cfg.Height)
	}
	return nil
}
