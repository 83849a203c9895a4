package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/portfolio-uploads/internal/api/errors"
	"github.com/bigkaa/portfolio-uploads/internal/domain/policy"
	"github.com/bigkaa/portfolio-uploads/internal/sanitize"
	"github.com/bigkaa/portfolio-uploads/internal/service"
	"github.com/bigkaa/portfolio-uploads/internal/storage/attr"
	"github.com/bigkaa/portfolio-uploads/internal/storage/diskusage"
	"github.com/bigkaa/portfolio-uploads/internal/storage/filestore"
	"github.com/bigkaa/portfolio-uploads/internal/storage/index"
	"github.com/bigkaa/portfolio-uploads/internal/storage/wal"
)

const mb = 1024 * 1024

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	uploadDir string
	tempDir   string
	idx       *index.Index
	router    chi.Router
}

// setupTestEnv собирает обработчики поверх реального конвейера на t.TempDir().
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	uploadDir := filepath.Join(root, "uploads")
	tempDir := filepath.Join(uploadDir, "temp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		t.Fatal(err)
	}

	limits := policy.Limits{Document: 10 * mb, Portfolio: 15 * mb, Avatar: 2 * mb, Excel: 25 * mb, General: 50 * mb}
	categories, err := policy.NewRegistry(limits.General,
		policy.DefaultCategories(limits, []string{"pdf", "doc", "docx", "xls", "xlsx"}, true)...)
	if err != nil {
		t.Fatalf("Ошибка создания реестра категорий: %v", err)
	}
	store, err := filestore.New(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	journal, err := wal.New(filepath.Join(root, "wal"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	placer := filestore.NewPlacer(uploadDir, journal, testLogger())
	idx := index.New(testLogger())
	if err := idx.Build(uploadDir); err != nil {
		t.Fatal(err)
	}
	disk := service.NewDiskMonitor(diskusage.Static(100*1024*mb), uploadDir, mb, 0, 0, testLogger())

	uploads := service.NewUploadService(service.UploadConfig{MaxFiles: 2},
		categories, store, placer, sanitize.New(true), idx, disk, testLogger())

	upload := NewUploadHandler(uploads, testLogger())
	files := NewFilesHandler(uploadDir, categories, idx, testLogger())
	storage := NewStorageHandler(categories, disk, idx, RetentionPolicy{TempDays: 7, FileDays: 365}, 2, testLogger())
	health := NewHealthHandler(HealthDirs{Upload: uploadDir, Temp: tempDir, WAL: journal.Dir()}, idx)

	r := chi.NewRouter()
	r.Get("/health/live", health.HealthLive)
	r.Get("/health/ready", health.HealthReady)
	r.Post("/api/v1/uploads/{category}", upload.Upload)
	r.Get("/api/v1/files/*", files.GetFile)
	r.Delete("/api/v1/files/*", files.DeleteFile)
	r.Get("/api/v1/storage/info", storage.Info)

	return &testEnv{uploadDir: uploadDir, tempDir: tempDir, idx: idx, router: r}
}

type formFile struct {
	field    string
	filename string
	mime     string
	content  []byte
}

// multipartBody строит тело запроса с текстовыми полями и файлами.
func multipartBody(t *testing.T, fields map[string]string, files ...formFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		h.Set("Content-Type", f.mime)
		pw, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := pw.Write(f.content); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, category string, fields map[string]string, files ...formFile) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	body, ct := multipartBody(t, fields, files...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/"+category, body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ответ не JSON: %v (%s)", err, rec.Body.String())
	}
	return rec, resp
}

func pdfContent(size int) []byte {
	head := []byte("%PDF-1.4\n")
	return append(head, bytes.Repeat([]byte("a"), size-len(head))...)
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatal(err)
	}
	return n
}

// TestUpload_ReportPDF — report.pdf в documentos: 201, путь по дате и владельцу.
func TestUpload_ReportPDF(t *testing.T) {
	env := setupTestEnv(t)

	rec, resp := env.upload(t, "documentos",
		map[string]string{"usuario_id": "u42", "curso": "MAT101"},
		formFile{FileField, "report.pdf", "application/pdf", pdfContent(10 * 1024)},
	)
	if rec.Code != http.StatusCreated {
		t.Fatalf("статус: ожидался 201, получен %d (%s)", rec.Code, rec.Body.String())
	}
	if resp["success"] != true {
		t.Errorf("success: %v", resp["success"])
	}

	files := resp["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("ожидался 1 файл, получено %d", len(files))
	}
	f := files[0].(map[string]any)
	pathRe := regexp.MustCompile(`^documentos/\d{4}/\d{2}/\d{2}/user_u42/report_\d+_[0-9a-f]{12}\.pdf$`)
	if !pathRe.MatchString(f["path"].(string)) {
		t.Errorf("путь не соответствует формату: %s", f["path"])
	}
	v := f["validation"].(map[string]any)
	if v["valid"] != true || len(v["errors"].([]any)) != 0 || len(v["warnings"].([]any)) != 0 {
		t.Errorf("ожидался чистый результат проверки: %v", v)
	}

	meta, err := attr.Read(attr.Path(filepath.Join(env.uploadDir, filepath.FromSlash(f["path"].(string)))))
	if err != nil {
		t.Fatalf("sidecar не создан: %v", err)
	}
	if meta.Metadata["curso"] != "MAT101" || meta.OwnerID != "u42" {
		t.Errorf("метаданные формы не сохранены: %+v", meta)
	}
	if countFiles(t, env.tempDir) != 0 {
		t.Error("временный каталог должен быть пуст")
	}
}

// TestUpload_Rejections — отказы на уровне запроса и проверки файла.
func TestUpload_Rejections(t *testing.T) {
	pdf := pdfContent(2048)

	tests := []struct {
		name     string
		category string
		fields   map[string]string
		files    []formFile
		wantCode string
	}{
		{
			name:     "исполняемый файл",
			category: "documentos",
			fields:   map[string]string{"usuario_id": "u1"},
			files:    []formFile{{FileField, "virus.exe", "application/octet-stream", []byte("MZ\x90\x00")}},
			wantCode: apierrors.CodeInvalidExtension,
		},
		{
			name:     "аватар 20 МБ",
			category: "avatares",
			fields:   map[string]string{"usuario_id": "u1"},
			files:    []formFile{{FileField, "foto.png", "image/png", append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 20*mb)...)}},
			wantCode: apierrors.CodeFileTooLarge,
		},
		{
			name:     "PDF под видом JPEG",
			category: "portafolios",
			fields:   map[string]string{"usuario_id": "u1"},
			files:    []formFile{{FileField, "photo.jpg", "image/jpeg", pdf}},
			wantCode: apierrors.CodeMagicNumberMismatch,
		},
		{
			name:     "неизвестная категория",
			category: "secretos",
			files:    []formFile{{FileField, "report.pdf", "application/pdf", pdf}},
			wantCode: apierrors.CodeInvalidCategory,
		},
		{
			name:     "файл в чужом поле",
			category: "documentos",
			files:    []formFile{{"adjunto", "report.pdf", "application/pdf", pdf}},
			wantCode: apierrors.CodeUnexpectedFile,
		},
		{
			name:     "слишком много файлов",
			category: "documentos",
			fields:   map[string]string{"usuario_id": "u1"},
			files: []formFile{
				{FileField, "a.pdf", "application/pdf", pdf},
				{FileField, "b.pdf", "application/pdf", pdf},
				{FileField, "c.pdf", "application/pdf", pdf},
			},
			wantCode: apierrors.CodeTooManyFiles,
		},
		{
			name:     "без файла",
			category: "documentos",
			fields:   map[string]string{"usuario_id": "u1"},
			wantCode: apierrors.CodeNoFile,
		},
		{
			name:     "без владельца",
			category: "documentos",
			files:    []formFile{{FileField, "report.pdf", "application/pdf", pdf}},
			wantCode: apierrors.CodeInvalidUser,
		},
		{
			name:     "второй файл невалиден",
			category: "documentos",
			fields:   map[string]string{"usuario_id": "u1"},
			files: []formFile{
				{FileField, "a.pdf", "application/pdf", pdf},
				{FileField, "b.pdf", "application/pdf", []byte("not a pdf at all")},
			},
			wantCode: apierrors.CodeMagicNumberMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			rec, resp := env.upload(t, tt.category, tt.fields, tt.files...)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("статус: ожидался 400, получен %d", rec.Code)
			}
			if resp["success"] != false || resp["error"] != tt.wantCode {
				t.Errorf("ожидался %s, получено %v", tt.wantCode, resp)
			}
			if n := countFiles(t, env.uploadDir); n != 0 {
				t.Errorf("после отказа в хранилище не должно быть файлов, найдено %d", n)
			}
		})
	}
}

// TestUpload_TooLargeCitesBound — ответ содержит лимит категории.
func TestUpload_TooLargeCitesBound(t *testing.T) {
	env := setupTestEnv(t)
	_, resp := env.upload(t, "avatares", map[string]string{"usuario_id": "u1"},
		formFile{FileField, "foto.png", "image/png", append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 3*mb)...)})

	if resp["max_size"] != float64(2*mb) {
		t.Errorf("max_size: ожидалось %d, получено %v", 2*mb, resp["max_size"])
	}
	if resp["max_size_mb"] != "2 МБ" {
		t.Errorf("max_size_mb: получено %v", resp["max_size_mb"])
	}
}

// TestUpload_MetadataBudget — поля формы в пределах поштучных лимитов,
// но суммарно больше бюджета метаданных, дают 400 без размещения файла.
func TestUpload_MetadataBudget(t *testing.T) {
	env := setupTestEnv(t)
	fields := map[string]string{"usuario_id": "u1"}
	for i := range 20 {
		fields[fmt.Sprintf("nota_%02d", i)] = strings.Repeat("x", 4000)
	}

	rec, resp := env.upload(t, "documentos", fields,
		formFile{FileField, "report.pdf", "application/pdf", pdfContent(2048)})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус: ожидался 400, получен %d (%s)", rec.Code, rec.Body.String())
	}
	if resp["error"] != apierrors.CodeValidationError {
		t.Errorf("код: ожидался %s, получен %v", apierrors.CodeValidationError, resp["error"])
	}
	if n := countFiles(t, env.uploadDir); n != 0 {
		t.Errorf("файлы не должны сохраняться, найдено %d", n)
	}
}

// TestUpload_OwnerHeader — владелец берётся из X-User-ID, если поля нет.
func TestUpload_OwnerHeader(t *testing.T) {
	env := setupTestEnv(t)
	body, ct := multipartBody(t, nil, formFile{FileField, "notes.pdf", "application/pdf", pdfContent(1024)})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/documentos", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(OwnerHeader, "from-header")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("статус: ожидался 201, получен %d (%s)", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("user_from-header")) {
		t.Errorf("путь должен содержать владельца из заголовка: %s", rec.Body.String())
	}
}

// TestUpload_NotMultipart — тело не multipart.
func TestUpload_NotMultipart(t *testing.T) {
	env := setupTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/documentos", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус: ожидался 400, получен %d", rec.Code)
	}
}

// TestFiles_GetAndDelete — чтение метаданных и удаление пары.
func TestFiles_GetAndDelete(t *testing.T) {
	env := setupTestEnv(t)
	_, resp := env.upload(t, "documentos", map[string]string{"usuario_id": "u7"},
		formFile{FileField, "report.pdf", "application/pdf", pdfContent(4096)})
	f := resp["files"].([]any)[0].(map[string]any)
	rel := f["path"].(string)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+rel, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET: ожидался 200, получен %d (%s)", rec.Code, rec.Body.String())
	}
	var meta map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &meta); err != nil {
		t.Fatal(err)
	}
	if meta["file_id"] != f["file_id"] || meta["absolute_path"] != "" {
		t.Errorf("неверные метаданные: %v", meta)
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+rel, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE: ожидался 204, получен %d", rec.Code)
	}
	if countFiles(t, env.uploadDir) != 0 {
		t.Error("файл и sidecar должны быть удалены")
	}
	if env.idx.Count() != 0 {
		t.Error("запись реестра должна быть удалена")
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+rel, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET после удаления: ожидался 404, получен %d", rec.Code)
	}
}

// TestFiles_RejectsUnsafePaths — путь не выходит за каталог загрузок.
func TestFiles_RejectsUnsafePaths(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/files/documentos/../../etc/passwd", http.StatusBadRequest},
		{"/api/v1/files/documentos//a.pdf", http.StatusBadRequest},
		{"/api/v1/files/documentos/a.pdf.meta.json", http.StatusBadRequest},
		{"/api/v1/files/temp/a.pdf", http.StatusNotFound},
		{"/api/v1/files/documentos", http.StatusNotFound},
		{"/api/v1/files/documentos/2026/missing.pdf", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.URL.Path = tt.path
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("ожидался %d, получен %d", tt.want, rec.Code)
			}
		})
	}
}

// TestStorageInfo — категории, сроки хранения и состояние диска.
func TestStorageInfo(t *testing.T) {
	env := setupTestEnv(t)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/storage/info", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}

	var resp struct {
		Categories []categoryInfo  `json:"categories"`
		Retention  RetentionPolicy `json:"retention"`
		Disk       map[string]any  `json:"disk"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Categories) != 4 {
		t.Errorf("ожидалось 4 категории, получено %d", len(resp.Categories))
	}
	for _, c := range resp.Categories {
		if c.Name == policy.CategoryAvatars && (c.MaxSize != 2*mb || !c.Sanitize) {
			t.Errorf("avatares: %+v", c)
		}
		if c.Files == nil || *c.Files != 0 {
			t.Errorf("%s: ожидалось 0 файлов", c.Name)
		}
	}
	if resp.Retention.FileDays != 365 {
		t.Errorf("retention: %+v", resp.Retention)
	}
	if resp.Disk["low"] != false {
		t.Errorf("disk: %v", resp.Disk)
	}
	if resp.Disk["total_bytes"] != float64(100*1024*mb) {
		t.Errorf("total_bytes: %v", resp.Disk["total_bytes"])
	}
}

// fakeSweeper — управляемый Sweeper для тестов maintenance.
type fakeSweeper struct {
	err error
}

func (f *fakeSweeper) CleanupTemp(context.Context) (*service.CleanupResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.CleanupResult{FilesRemoved: 3}, nil
}

func (f *fakeSweeper) Archive(context.Context) (*service.ArchiveResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.ArchiveResult{Moved: 1}, nil
}

func TestMaintenance(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		path   string
		status int
		code   string
	}{
		{"очистка", nil, "/cleanup", http.StatusOK, ""},
		{"архивация", nil, "/archive", http.StatusOK, ""},
		{"уже выполняется", service.ErrSweepInProgress, "/archive", http.StatusConflict, apierrors.CodeSweepInProgress},
		{"сбой", errors.New("диск недоступен"), "/cleanup", http.StatusInternalServerError, apierrors.CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMaintenanceHandler(&fakeSweeper{err: tt.err}, testLogger())
			r := chi.NewRouter()
			r.Post("/cleanup", h.Cleanup)
			r.Post("/archive", h.Archive)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("ожидался %d, получен %d", tt.status, rec.Code)
			}
			var resp map[string]any
			_ = json.Unmarshal(rec.Body.Bytes(), &resp)
			if tt.code != "" && resp["error"] != tt.code {
				t.Errorf("код: ожидался %s, получено %v", tt.code, resp["error"])
			}
			if tt.code == "" && resp["success"] != true {
				t.Errorf("ожидался success: %v", resp)
			}
		})
	}
}

// stubChecker — ReadinessChecker с фиксированным результатом.
type stubChecker struct{ status string }

func (s stubChecker) Name() string { return "postgresql" }
func (s stubChecker) CheckReady() (string, string) { return s.status, "" }

type stubIndex bool

func (s stubIndex) IsReady() bool { return bool(s) }

func TestHealthReady(t *testing.T) {
	dir := t.TempDir()
	dirs := HealthDirs{Upload: dir, Temp: dir, WAL: dir}

	tests := []struct {
		name       string
		dirs       HealthDirs
		idx        IndexReadinessChecker
		checkers   []ReadinessChecker
		wantStatus string
		wantCode   int
	}{
		{"всё доступно", dirs, stubIndex(true), []ReadinessChecker{stubChecker{"ok"}}, "ok", http.StatusOK},
		{"реестр не построен", dirs, stubIndex(false), nil, "fail", http.StatusServiceUnavailable},
		{"БД недоступна", dirs, nil, []ReadinessChecker{stubChecker{"fail"}}, "fail", http.StatusServiceUnavailable},
		{"каталог загрузок недоступен", HealthDirs{Upload: filepath.Join(dir, "missing"), Temp: dir}, nil, nil, "fail", http.StatusServiceUnavailable},
		{"WAL недоступен", HealthDirs{Upload: dir, Temp: dir, WAL: filepath.Join(dir, "missing")}, nil, nil, "degraded", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.dirs, tt.idx, tt.checkers...)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("статус: ожидался %d, получен %d", tt.wantCode, rec.Code)
			}
			var resp map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp["status"] != tt.wantStatus {
				t.Errorf("status: ожидался %s, получен %v", tt.wantStatus, resp["status"])
			}
		})
	}
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(HealthDirs{}, nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ожидался 200, получен %d", rec.Code)
	}
}
