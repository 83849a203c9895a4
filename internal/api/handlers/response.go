// Пакет handlers — HTTP-обработчики сервиса загрузки файлов.
package handlers

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/bigkaa/portfolio-uploads/internal/api/errors"
	"github.com/bigkaa/portfolio-uploads/internal/service"
)

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeUploadError записывает ошибку сервиса загрузки в стандартном формате.
func writeUploadError(w http.ResponseWriter, uerr *service.UploadError) {
	apierrors.WriteError(w, uerr.StatusCode, uerr.Code, uerr.Message, uerr.Context)
}
