package attr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
	"github.com/bigkaa/portfolio-uploads/internal/storage/atomicfile"
)

func testMetadata() *model.FileMetadata {
	return &model.FileMetadata{
		FileID:           "0f8fad5b-d9cb-469f-a165-70867728950e",
		OriginalFilename: "Informe Final.pdf",
		StoredFilename:   "Informe_Final_1700000000000_abcdef012345.pdf",
		RelativePath:     "documentos/2026/10/14/user_u1/Informe_Final_1700000000000_abcdef012345.pdf",
		Category:         "documentos",
		OwnerID:          "u1",
		Extension:        "pdf",
		ContentType:      "application/pdf",
		Size:             10240,
		Hash:             "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		UploadedAt:       time.Now().UTC().Truncate(time.Second),
		Sanitization:     model.SanitizationNotProvided,
		Metadata:         map[string]string{"curso": "MAT101"},
	}
}

// TestWriteAndRead проверяет запись и чтение sidecar.
func TestWriteAndRead(t *testing.T) {
	meta := testMetadata()
	path := Path(filepath.Join(t.TempDir(), "nested", "report.pdf"))

	if err := Write(path, meta); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if got.FileID != meta.FileID || got.Hash != meta.Hash || got.Size != meta.Size {
		t.Errorf("метаданные не совпадают: %+v", got)
	}
	if !got.UploadedAt.Equal(meta.UploadedAt) {
		t.Errorf("UploadedAt: ожидалось %v, получено %v", meta.UploadedAt, got.UploadedAt)
	}
	if got.Metadata["curso"] != "MAT101" {
		t.Errorf("пользовательские метаданные потеряны: %v", got.Metadata)
	}
	if got.Sanitization != model.SanitizationNotProvided {
		t.Errorf("Sanitization: %q", got.Sanitization)
	}
}

// TestWrite_PrettyJSONWithHash — sidecar читаем и содержит поле hash.
func TestWrite_PrettyJSONWithHash(t *testing.T) {
	path := Path(filepath.Join(t.TempDir(), "report.pdf"))
	if err := Write(path, testMetadata()); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, "\n  \"hash\": ") {
		t.Errorf("ожидался форматированный JSON с полем hash:\n%s", text)
	}
}

// TestWrite_AtomicNoTmpFile — временный файл не остаётся.
func TestWrite_AtomicNoTmpFile(t *testing.T) {
	path := Path(filepath.Join(t.TempDir(), "a.pdf"))
	if err := Write(path, testMetadata()); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	if _, err := os.Stat(path + atomicfile.TempSuffix); !os.IsNotExist(err) {
		t.Error("временный файл не удалён")
	}
}

// TestWrite_TooLarge — слишком большие метаданные отклоняются.
func TestWrite_TooLarge(t *testing.T) {
	meta := testMetadata()
	meta.Metadata = map[string]string{"nota": strings.Repeat("x", MaxSize)}

	path := Path(filepath.Join(t.TempDir(), "a.pdf"))
	if err := Write(path, meta); err == nil {
		t.Fatal("ожидалась ошибка для слишком большого sidecar")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("sidecar не должен создаваться")
	}
}

// TestRead_Errors проверяет ошибки чтения.
func TestRead_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Read(filepath.Join(dir, "missing"+Suffix)); err == nil {
		t.Error("ожидалась ошибка для отсутствующего файла")
	}

	broken := filepath.Join(dir, "broken"+Suffix)
	if err := os.WriteFile(broken, []byte("{not json"), 0o640); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(broken); err == nil {
		t.Error("ожидалась ошибка для невалидного JSON")
	}
}

// TestDelete проверяет удаление, в том числе повторное.
func TestDelete(t *testing.T) {
	path := Path(filepath.Join(t.TempDir(), "a.pdf"))
	if err := Write(path, testMetadata()); err != nil {
		t.Fatal(err)
	}
	if err := Delete(path); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if err := Delete(path); err != nil {
		t.Errorf("повторное удаление не должно возвращать ошибку: %v", err)
	}
}

// TestMove проверяет перенос sidecar и идемпотентность.
func TestMove(t *testing.T) {
	dir := t.TempDir()
	src := Path(filepath.Join(dir, "src", "a.pdf"))
	dst := Path(filepath.Join(dir, "archive", "2026", "a.pdf"))
	if err := Write(src, testMetadata()); err != nil {
		t.Fatal(err)
	}

	if err := Move(src, dst); err != nil {
		t.Fatalf("ошибка перемещения: %v", err)
	}
	if _, err := Read(dst); err != nil {
		t.Errorf("sidecar не найден в назначении: %v", err)
	}
	if err := Move(src, dst); err != nil {
		t.Errorf("повторное перемещение завершённой операции не должно падать: %v", err)
	}
	if err := Move(filepath.Join(dir, "nope"+Suffix), filepath.Join(dir, "x"+Suffix)); err == nil {
		t.Error("ожидалась ошибка, если нет ни источника, ни назначения")
	}
}

// TestPathHelpers проверяет преобразование путей.
func TestPathHelpers(t *testing.T) {
	if got := Path("/u/report.pdf"); got != "/u/report.pdf.meta.json" {
		t.Errorf("Path: %s", got)
	}
	if got := DataPath("/u/report.pdf.meta.json"); got != "/u/report.pdf" {
		t.Errorf("DataPath: %s", got)
	}
	if !IsSidecar("a.pdf.meta.json") || IsSidecar("a.pdf") || IsSidecar("a.json") {
		t.Error("IsSidecar работает неверно")
	}
}
