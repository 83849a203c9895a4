package model

import "time"

// FileInfo — сведения о файле, извлечённые при проверке.
type FileInfo struct {
	Name       string    `json:"name"`
	Extension  string    `json:"extension"`
	Size       int64     `json:"size"`
	Hash       string    `json:"hash,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

// ValidationResult — результат проверки файла. Не сохраняется.
// Errors — жёсткие отказы, Warnings — рекомендации, не блокирующие загрузку.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Info     FileInfo `json:"info"`

	// Code — машиночитаемый код первой жёсткой ошибки
	Code string `json:"-"`
	// Context — дополнительные поля для ответа API (например, max_size)
	Context map[string]any `json:"-"`
}

// NewValidationResult создаёт заведомо валидный результат с пустыми списками.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:    true,
		Errors:   []string{},
		Warnings: []string{},
	}
}

// Fail добавляет жёсткую ошибку. Первый код сохраняется в Code.
func (r *ValidationResult) Fail(code, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, message)
	if r.Code == "" {
		r.Code = code
	}
}

// Warn добавляет предупреждение.
func (r *ValidationResult) Warn(message string) {
	r.Warnings = append(r.Warnings, message)
}

// SetContext добавляет поле контекста ответа, если его ещё нет.
func (r *ValidationResult) SetContext(key string, value any) {
	if r.Context == nil {
		r.Context = make(map[string]any)
	}
	if _, ok := r.Context[key]; !ok {
		r.Context[key] = value
	}
}

// DiskStatus — состояние дискового пространства хранилища.
type DiskStatus struct {
	TotalBytes   uint64    `json:"total_bytes"`
	FreeBytes    uint64    `json:"free_bytes"`
	MinFreeBytes uint64    `json:"min_free_bytes"`
	UsedBytes    int64     `json:"used_bytes"`
	MaxDirBytes  int64     `json:"max_dir_bytes"`
	Low          bool      `json:"low"`
	OverQuota    bool      `json:"over_quota"`
	CheckedAt    time.Time `json:"checked_at"`
}
