// Пакет validation — проверка загружаемых файлов: генерация безопасных
// уникальных имён, проверка типа (расширение, MIME, сигнатура, размер, имя)
// и поверхностный эвристический анализ содержимого.
package validation

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
)

// maxBaseLength — максимальная длина базового имени после очистки.
const maxBaseLength = 50

// Sanitizer генерирует безопасные уникальные имена файлов.
// Источники времени и случайности подменяются в тестах.
type Sanitizer struct {
	Now  func() time.Time
	Rand io.Reader
}

// NewSanitizer создаёт Sanitizer с системными часами и crypto/rand.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{Now: time.Now, Rand: rand.Reader}
}

var defaultSanitizer = NewSanitizer()

// SanitizeFilename — UniqueName с системными источниками.
func SanitizeFilename(name string) string {
	return defaultSanitizer.UniqueName(name)
}

// UniqueName возвращает имя вида {base}_{unixMillis}_{hex12}.{ext}.
// Символы базового имени вне [A-Za-z0-9_-] заменяются на '_', база
// обрезается до 50 символов. Расширение приводится к нижнему регистру
// и иначе не изменяется. Никогда не завершается ошибкой.
func (s *Sanitizer) UniqueName(name string) string {
	base, ext := SplitName(name)
	base = CleanBase(base)

	suffix := fmt.Sprintf("_%d_%s", s.now().UnixMilli(), s.randomHex())
	if ext == "" {
		return base + suffix
	}
	return base + suffix + "." + ext
}

// SplitName делит имя на базу и расширение по последней точке.
// Расширение возвращается без точки в нижнем регистре.
func SplitName(name string) (base, ext string) {
	idx := strings.LastIndex(name, ".")
	if idx == -1 {
		return name, ""
	}
	return name[:idx], strings.ToLower(name[idx+1:])
}

// Extension возвращает расширение имени файла без точки в нижнем регистре.
func Extension(name string) string {
	_, ext := SplitName(name)
	return ext
}

// CleanBase заменяет небезопасные символы на '_' и обрезает до 50 символов.
func CleanBase(base string) string {
	var b strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > maxBaseLength {
		out = out[:maxBaseLength]
	}
	return out
}

func (s *Sanitizer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// randomHex — 6 случайных байт в hex. При отказе источника случайности
// используются младшие 48 бит наносекунд текущего времени.
func (s *Sanitizer) randomHex() string {
	buf := make([]byte, 6)
	src := s.Rand
	if src == nil {
		src = rand.Reader
	}
	if _, err := io.ReadFull(src, buf); err != nil {
		n := uint64(time.Now().UnixNano())
		for i := range buf {
			buf[i] = byte(n >> (8 * i))
		}
	}
	return hex.EncodeToString(buf)
}
