package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
	"github.com/bigkaa/portfolio-uploads/internal/storage/attr"
	"github.com/bigkaa/portfolio-uploads/internal/storage/index"
	"github.com/bigkaa/portfolio-uploads/internal/storage/wal"
)

func setupRecovery(t *testing.T) (string, *wal.WAL, *index.Index) {
	t.Helper()
	dir := t.TempDir()
	journal, err := wal.New(filepath.Join(dir, ".wal"), testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания WAL: %v", err)
	}
	return dir, journal, index.New(testLogger())
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("data"), 0o640); err != nil {
		t.Fatal(err)
	}
}

func TestRecover_PlaceCompleted(t *testing.T) {
	dir, journal, idx := setupRecovery(t)
	target := filepath.Join(dir, "documentos", "a.pdf")
	writeFile(t, target)
	meta := &model.FileMetadata{FileID: "f1", Hash: "h1", OwnerID: "u1", UploadedAt: time.Now()}
	if err := attr.Write(attr.Path(target), meta); err != nil {
		t.Fatal(err)
	}
	entry, err := journal.Begin(wal.OpPlace, "f1", filepath.Join(dir, "temp", "a.pdf"), target)
	if err != nil {
		t.Fatal(err)
	}

	result, err := Recover(context.Background(), journal, idx, testLogger())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if result.Committed != 1 || result.RolledBack != 0 {
		t.Errorf("неожиданный результат: %+v", result)
	}
	got, _ := journal.Get(entry.TransactionID)
	if got == nil || got.Status != wal.StatusCommitted {
		t.Errorf("транзакция должна быть зафиксирована: %+v", got)
	}
	if idx.Get("f1") == nil {
		t.Error("восстановленный файл должен быть зарегистрирован")
	}
}

func TestRecover_PlaceWithoutSidecar(t *testing.T) {
	dir, journal, idx := setupRecovery(t)
	target := filepath.Join(dir, "documentos", "b.pdf")
	writeFile(t, target)
	entry, err := journal.Begin(wal.OpPlace, "f2", filepath.Join(dir, "temp", "b.pdf"), target)
	if err != nil {
		t.Fatal(err)
	}

	result, err := Recover(context.Background(), journal, idx, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if result.RolledBack != 1 {
		t.Errorf("ожидался откат: %+v", result)
	}
	if exists(target) {
		t.Error("файл без sidecar должен быть удалён")
	}
	got, _ := journal.Get(entry.TransactionID)
	if got == nil || got.Status != wal.StatusRolledBack {
		t.Errorf("транзакция должна быть откачена: %+v", got)
	}
}

func TestRecover_ArchiveHalfDone(t *testing.T) {
	dir, journal, idx := setupRecovery(t)
	src := filepath.Join(dir, "uploads", "documentos", "c.pdf")
	dst := filepath.Join(dir, "archivo", "documentos", "c.pdf")

	// Файл данных уже перенесён, sidecar остался на месте
	writeFile(t, dst)
	meta := &model.FileMetadata{FileID: "f3", Hash: "h3", OwnerID: "u1"}
	if err := attr.Write(attr.Path(src), meta); err != nil {
		t.Fatal(err)
	}
	_ = idx.Register(context.Background(), meta)
	if _, err := journal.Begin(wal.OpArchive, "f3", src, dst); err != nil {
		t.Fatal(err)
	}

	result, err := Recover(context.Background(), journal, idx, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if result.Committed != 1 {
		t.Errorf("ожидалась фиксация: %+v", result)
	}
	if !exists(attr.Path(dst)) || exists(attr.Path(src)) {
		t.Error("sidecar должен быть перенесён в архив")
	}
	if idx.Get("f3") != nil {
		t.Error("архивированный файл должен быть удалён из реестра")
	}
}

func TestRecover_ArchiveNotStarted(t *testing.T) {
	dir, journal, idx := setupRecovery(t)
	src := filepath.Join(dir, "uploads", "documentos", "d.pdf")
	writeFile(t, src)
	if _, err := journal.Begin(wal.OpArchive, "f4", src, filepath.Join(dir, "archivo", "d.pdf")); err != nil {
		t.Fatal(err)
	}

	result, err := Recover(context.Background(), journal, idx, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if result.RolledBack != 1 || !exists(src) {
		t.Errorf("ожидался откат с сохранением исходного файла: %+v", result)
	}

	pending, _ := journal.Pending()
	if len(pending) != 0 {
		t.Errorf("после восстановления не должно остаться pending: %d", len(pending))
	}
}
