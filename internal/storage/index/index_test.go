package index

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
	"github.com/bigkaa/portfolio-uploads/internal/storage/attr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMeta(id, hash, owner string, at time.Time) *model.FileMetadata {
	return &model.FileMetadata{
		FileID:       id,
		Hash:         hash,
		OwnerID:      owner,
		RelativePath: "documentos/2026/10/14/user_" + owner + "/" + id + ".pdf",
		UploadedAt:   at,
	}
}

// TestNew проверяет создание пустого реестра.
func TestNew(t *testing.T) {
	idx := New(testLogger())
	if idx.Count() != 0 || idx.IsReady() {
		t.Error("новый реестр должен быть пустым и не готовым")
	}
}

// TestFindByHash реализует поиск дубликатов по паре (хэш, владелец).
func TestFindByHash(t *testing.T) {
	ctx := context.Background()
	idx := New(testLogger())
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = idx.Register(ctx, testMeta("late", "h1", "u1", t0.Add(time.Hour)))
	_ = idx.Register(ctx, testMeta("early", "h1", "u1", t0))
	_ = idx.Register(ctx, testMeta("other", "h1", "u2", t0))

	m, err := idx.FindByHash(ctx, "h1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.FileID != "early" {
		t.Fatalf("ожидался самый ранний файл early, получено %+v", m)
	}

	if m, _ := idx.FindByHash(ctx, "h1", "u3"); m != nil {
		t.Errorf("у другого владельца дубликата быть не должно: %+v", m)
	}
	if m, _ := idx.FindByHash(ctx, "h2", "u1"); m != nil {
		t.Errorf("для другого хэша дубликата быть не должно: %+v", m)
	}
}

// TestRemove проверяет удаление.
func TestRemove(t *testing.T) {
	ctx := context.Background()
	idx := New(testLogger())
	_ = idx.Register(ctx, testMeta("f1", "h", "u", time.Now()))

	if err := idx.Remove(ctx, "f1"); err != nil {
		t.Fatal(err)
	}
	if m, _ := idx.FindByHash(ctx, "h", "u"); m != nil {
		t.Error("удалённый файл не должен находиться")
	}
	if idx.Get("f1") != nil || idx.Count() != 0 {
		t.Error("запись должна быть удалена")
	}
	if err := idx.Remove(ctx, "f1"); err != nil {
		t.Errorf("повторное удаление не должно падать: %v", err)
	}
}

// TestRegister_Replace — повторная регистрация заменяет запись.
func TestRegister_Replace(t *testing.T) {
	ctx := context.Background()
	idx := New(testLogger())
	_ = idx.Register(ctx, testMeta("f1", "old", "u", time.Now()))
	_ = idx.Register(ctx, testMeta("f1", "new", "u", time.Now()))

	if m, _ := idx.FindByHash(ctx, "old", "u"); m != nil {
		t.Error("старый хэш должен быть забыт")
	}
	if m, _ := idx.FindByHash(ctx, "new", "u"); m == nil {
		t.Error("новый хэш должен находиться")
	}
	if idx.Count() != 1 {
		t.Errorf("ожидалась 1 запись, получено %d", idx.Count())
	}
}

// TestGet_ReturnsCopy — изменение результата не влияет на реестр.
func TestGet_ReturnsCopy(t *testing.T) {
	idx := New(testLogger())
	_ = idx.Register(context.Background(), testMeta("f1", "h", "u", time.Now()))

	got := idx.Get("f1")
	got.Hash = "changed"
	if idx.Get("f1").Hash != "h" {
		t.Error("Get должен возвращать копию")
	}
}

// TestBuild строит реестр из sidecar-файлов, пропуская битые.
func TestBuild(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "documentos", "2026", "10", "14", "user_u1")

	for _, id := range []string{"a", "b"} {
		data := filepath.Join(dir, id+".pdf")
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(data, []byte(id), 0o640); err != nil {
			t.Fatal(err)
		}
		if err := attr.Write(attr.Path(data), testMeta(id, "hash-"+id, "u1", time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.pdf"+attr.Suffix), []byte("{"), 0o640); err != nil {
		t.Fatal(err)
	}

	idx := New(testLogger())
	_ = idx.Register(context.Background(), testMeta("stale", "x", "u1", time.Now()))

	if err := idx.Build(root); err != nil {
		t.Fatalf("ошибка построения: %v", err)
	}
	if !idx.IsReady() {
		t.Error("реестр должен быть готов")
	}
	if idx.Count() != 2 {
		t.Errorf("ожидалось 2 файла, получено %d", idx.Count())
	}
	if idx.Get("stale") != nil {
		t.Error("Build должен заменять содержимое")
	}
	if m, _ := idx.FindByHash(context.Background(), "hash-a", "u1"); m == nil || m.FileID != "a" {
		t.Errorf("файл a не найден по хэшу: %+v", m)
	}
}

// TestConcurrentAccess проверяет параллельные операции.
func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	idx := New(testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			_ = idx.Register(ctx, testMeta(id, "h", "u", time.Now()))
			_, _ = idx.FindByHash(ctx, "h", "u")
			if i%3 == 0 {
				_ = idx.Remove(ctx, id)
			}
		}(i)
	}
	wg.Wait()

	if idx.Count() > 26 {
		t.Errorf("записей больше, чем уникальных ID: %d", idx.Count())
	}
}
