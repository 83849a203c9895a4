package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/portfolio-uploads/internal/storage/diskusage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type failingProvider struct{}

func (failingProvider) Usage(string) (diskusage.Space, error) {
	return diskusage.Space{}, errors.New("statfs недоступен")
}

func TestDiskMonitor_Check(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "documentos"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "documentos", "a.pdf"), make([]byte, 300), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.bin"), make([]byte, 200), 0o640); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		free      uint64
		min       uint64
		maxDir    int64
		wantLow   bool
		wantQuota bool
	}{
		{"достаточно места", 1000, 100, 10_000, false, false},
		{"ровно два минимума — не мало", 200, 100, 10_000, false, false},
		{"меньше двух минимумов", 199, 100, 10_000, true, false},
		{"превышение квоты", 1000, 100, 499, false, true},
		{"квота не задана", 1000, 100, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewDiskMonitor(diskusage.Static(tt.free), dir, tt.min, tt.maxDir, time.Minute, testLogger())
			status, err := m.Check(context.Background())
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if status.UsedBytes != 500 {
				t.Errorf("UsedBytes = %d, ожидалось 500", status.UsedBytes)
			}
			if status.Low != tt.wantLow {
				t.Errorf("Low = %v, ожидалось %v", status.Low, tt.wantLow)
			}
			if status.OverQuota != tt.wantQuota {
				t.Errorf("OverQuota = %v, ожидалось %v", status.OverQuota, tt.wantQuota)
			}
		})
	}
}

func TestDiskMonitor_LastAndCurrent(t *testing.T) {
	m := NewDiskMonitor(diskusage.Static(1<<30), t.TempDir(), 1, 0, time.Minute, testLogger())
	fixed := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return fixed }

	if _, ok := m.Last(); ok {
		t.Fatal("до первой проверки Last должен вернуть false")
	}

	status, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !status.CheckedAt.Equal(fixed) {
		t.Errorf("CheckedAt = %v, ожидалось %v", status.CheckedAt, fixed)
	}

	last, ok := m.Last()
	if !ok || last.FreeBytes != 1<<30 || last.TotalBytes != 1<<30 {
		t.Errorf("Last после проверки: %+v, %v", last, ok)
	}
}

func TestDiskMonitor_ProviderError(t *testing.T) {
	m := NewDiskMonitor(failingProvider{}, t.TempDir(), 1, 0, time.Minute, testLogger())
	if _, err := m.Check(context.Background()); err == nil {
		t.Fatal("ожидалась ошибка провайдера")
	}
	if _, ok := m.Last(); ok {
		t.Error("неудачная проверка не должна сохраняться")
	}
}

func TestDiskMonitor_StartStop(t *testing.T) {
	m := NewDiskMonitor(diskusage.Static(1<<30), t.TempDir(), 1, 0, time.Hour, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := m.Last(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("первая проверка не выполнена после Start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	m.Stop()
}
