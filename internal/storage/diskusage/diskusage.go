// Пакет diskusage — сведения о месте в файловой системе.
// Платформозависимый код для Unix-подобных систем.
package diskusage

import (
	"fmt"
	"syscall"
)

// Space — объём файловой системы и доступное место, байт.
type Space struct {
	Total uint64
	Free  uint64
}

// Provider возвращает сведения о файловой системе пути.
type Provider interface {
	Usage(path string) (Space, error)
}

// Statfs — Provider на основе statfs(2).
type Statfs struct{}

// Usage возвращает общий объём и место, доступное непривилегированному пользователю.
func (Statfs) Usage(path string) (Space, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return Space{}, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}
	return Space{
		Total: uint64(stat.Blocks) * uint64(stat.Bsize),
		Free:  uint64(stat.Bavail) * uint64(stat.Bsize),
	}, nil
}

// Static — Provider с фиксированным свободным местом (для тестов и отладки).
// Общий объём равен свободному.
type Static uint64

// Usage возвращает фиксированное значение.
func (s Static) Usage(string) (Space, error) {
	return Space{Total: uint64(s), Free: uint64(s)}, nil
}
