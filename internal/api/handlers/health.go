// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/portfolio-uploads/internal/config"
)

const (
	statusOK    = "ok"
	statusFail  = "fail"
	serviceName = "portfolio-uploads"
)

// IndexReadinessChecker — интерфейс для проверки готовности реестра файлов.
type IndexReadinessChecker interface {
	IsReady() bool
}

// ReadinessChecker — внешняя зависимость в /health/ready (PostgreSQL).
type ReadinessChecker interface {
	Name() string
	CheckReady() (status string, message string)
}

// HealthDirs — каталоги, доступность которых проверяется на запись.
type HealthDirs struct {
	Upload string
	Temp   string
	WAL    string
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version  string
	dirs     HealthDirs
	idx      IndexReadinessChecker
	checkers []ReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// idx может быть nil, если реестр хранится в PostgreSQL.
func NewHealthHandler(dirs HealthDirs, idx IndexReadinessChecker, checkers ...ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version:  config.Version,
		dirs:     dirs,
		idx:      idx,
		checkers: checkers,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: каталоги загрузок и временных файлов, WAL, реестр, БД.
// Недоступный WAL даёт degraded без 503.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := statusOK
	httpStatus := http.StatusOK
	fail := func() {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	checks := map[string]any{}

	for name, dir := range map[string]string{"uploads": h.dirs.Upload, "temp": h.dirs.Temp} {
		c := checkWritable(dir, "Каталог недоступен для записи: ")
		checks[name] = c
		if c["status"] != statusOK {
			fail()
		}
	}

	walCheck := checkWritable(h.dirs.WAL, "Директория WAL недоступна для записи: ")
	checks["wal"] = walCheck

	if h.idx != nil {
		if h.idx.IsReady() {
			checks["index"] = map[string]any{"status": statusOK}
		} else {
			checks["index"] = map[string]any{"status": statusFail, "message": "Реестр файлов не построен"}
			fail()
		}
	}

	for _, c := range h.checkers {
		status, message := c.CheckReady()
		checks[c.Name()] = map[string]any{"status": status, "message": message}
		if status != statusOK {
			fail()
		}
	}

	if walCheck["status"] != statusOK && overallStatus != statusFail {
		overallStatus = "degraded"
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
		"checks":    checks,
	})
}

// checkWritable проверяет доступность директории на запись.
func checkWritable(dir, failPrefix string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  statusOK,
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": failPrefix + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": statusOK,
	}
}
