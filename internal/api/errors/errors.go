// Пакет errors — коды ошибок и единый формат ответов с ошибкой.
// Формат: {"success": false, "error": "<CODE>", "message": "...", ...контекст}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок загрузки и проверки файлов.
const (
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeTooManyFiles         = "TOO_MANY_FILES"
	CodeUnexpectedFile       = "UNEXPECTED_FILE"
	CodeInvalidExtension     = "INVALID_EXTENSION"
	CodeInvalidMIMEType      = "INVALID_MIME_TYPE"
	CodeInvalidPortfolioFile = "INVALID_PORTFOLIO_FILE"
	CodeInvalidAvatarType    = "INVALID_AVATAR_TYPE"
	CodeInvalidExcelType     = "INVALID_EXCEL_TYPE"
	CodeFilenameTooLong      = "FILENAME_TOO_LONG"
	CodeMagicNumberMismatch  = "MAGIC_NUMBER_MISMATCH"
	CodeEmptyFile            = "EMPTY_FILE"
	CodeInvalidFilename      = "INVALID_FILENAME"
	CodeReservedFilename     = "RESERVED_FILENAME"
	CodeInvalidCategory      = "INVALID_CATEGORY"
	CodeInvalidUser          = "INVALID_USER"
	CodeNoFile               = "NO_FILE"
	CodeSourceMissing        = "SOURCE_MISSING"
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeSweepInProgress      = "SWEEP_IN_PROGRESS"
	CodeInternalError        = "INTERNAL_ERROR"
)

// WriteError записывает ответ ошибки в стандартном формате.
// extra — дополнительные поля контекста (max_size и т.п.); ключи
// success, error и message в extra игнорируются.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, extra map[string]any) {
	body := make(map[string]any, len(extra)+3)
	for k, v := range extra {
		body[k] = v
	}
	body["success"] = false
	body["error"] = code
	body["message"] = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// --- Конструкторы для типичных ошибок ---

// BadRequest — 400 с произвольным кодом и контекстом.
func BadRequest(w http.ResponseWriter, code, message string, extra map[string]any) {
	WriteError(w, http.StatusBadRequest, code, message, extra)
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message, nil)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message, nil)
}

// SweepInProgress — 409 очистка или архивация уже выполняется.
func SweepInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeSweepInProgress, message, nil)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message, nil)
}
