// Пакет model — доменные модели конвейера загрузки файлов.
// FileMetadata — единая структура метаданных файла, используется
// как формат sidecar-файла <file>.meta.json на диске и как запись реестра.
package model

import (
	"time"
)

// SanitizationStatus — результат очистки содержимого файла.
type SanitizationStatus string

const (
	// SanitizationApplied — содержимое перекодировано (метаданные удалены)
	SanitizationApplied SanitizationStatus = "applied"
	// SanitizationNotProvided — для формата очистка не реализована,
	// файл сохранён как есть
	SanitizationNotProvided SanitizationStatus = "not_provided"
	// SanitizationDisabled — очистка отключена конфигурацией
	SanitizationDisabled SanitizationStatus = "disabled"
)

// FileMetadata — метаданные сохранённого файла. Соответствует содержимому
// sidecar-файла <file>.meta.json.
type FileMetadata struct {
	// FileID — уникальный идентификатор файла (UUID v4)
	FileID string `json:"file_id"`

	// OriginalFilename — имя файла, переданное клиентом
	OriginalFilename string `json:"original_filename"`

	// StoredFilename — сгенерированное уникальное имя на диске.
	// Формат: {base}_{unixMillis}_{hex12}.{ext}
	StoredFilename string `json:"stored_filename"`

	// RelativePath — путь файла относительно корня загрузок
	RelativePath string `json:"relative_path"`

	// AbsolutePath — абсолютный путь файла на диске
	AbsolutePath string `json:"absolute_path"`

	// Category — категория загрузки (documentos, portafolios, avatares, excel)
	Category string `json:"category"`

	// OwnerID — идентификатор владельца
	OwnerID string `json:"owner_id"`

	// Extension — расширение файла в нижнем регистре, без точки
	Extension string `json:"extension"`

	// ContentType — MIME-тип, заявленный клиентом
	ContentType string `json:"content_type"`

	// Size — размер файла в байтах
	Size int64 `json:"size"`

	// Hash — SHA-256 содержимого (hex)
	Hash string `json:"hash"`

	// UploadedAt — время загрузки (UTC)
	UploadedAt time.Time `json:"uploaded_at"`

	// Sanitization — статус очистки содержимого
	Sanitization SanitizationStatus `json:"sanitization"`

	// Metadata — произвольные метаданные из текстовых полей формы
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StoredFile — физический файл в хранилище. Идентичность — FinalPath.
type StoredFile struct {
	FinalPath      string    `json:"final_path"`
	StoredFilename string    `json:"stored_filename"`
	Extension      string    `json:"extension"`
	Size           int64     `json:"size"`
	Hash           string    `json:"hash"`
	CreatedAt      time.Time `json:"created_at"`
}

// DuplicateMatch — ранее загруженный файл с тем же хэшем у того же владельца.
type DuplicateMatch struct {
	FileID       string    `json:"file_id"`
	RelativePath string    `json:"path"`
	UploadedAt   time.Time `json:"uploaded_at"`
}
