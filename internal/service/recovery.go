// recovery.go — восстановление незавершённых WAL-транзакций при старте.
//
// Размещение (place):
//   - файл и sidecar на месте — транзакция фиксируется, файл регистрируется
//   - иначе — перемещённый файл удаляется, транзакция откатывается
//
// Архивация (archive):
//   - файл уже в архиве — sidecar доносится следом, транзакция фиксируется
//   - файл на исходном месте — транзакция откатывается
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/portfolio-uploads/internal/storage/attr"
	"github.com/bigkaa/portfolio-uploads/internal/storage/filestore"
	"github.com/bigkaa/portfolio-uploads/internal/storage/wal"
)

// RecoveryResult — итог восстановления.
type RecoveryResult struct {
	Committed  int
	RolledBack int
	Errors     int
}

// Recover завершает незавершённые транзакции журнала. registry может быть nil.
func Recover(ctx context.Context, journal *wal.WAL, registry FileRegistry, logger *slog.Logger) (*RecoveryResult, error) {
	logger = logger.With(slog.String("component", "recovery"))

	pending, err := journal.Pending()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения WAL: %w", err)
	}

	result := &RecoveryResult{}
	for _, entry := range pending {
		var commit bool
		var opErr error
		switch entry.Operation {
		case wal.OpPlace:
			commit, opErr = recoverPlace(ctx, entry, registry)
		case wal.OpArchive:
			commit, opErr = recoverArchive(ctx, entry, registry)
		default:
			opErr = fmt.Errorf("неизвестная операция %q", entry.Operation)
		}

		if opErr != nil {
			logger.Error("Ошибка восстановления транзакции",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
				slog.String("error", opErr.Error()),
			)
			result.Errors++
			continue
		}

		if commit {
			err = journal.Commit(entry.TransactionID)
			result.Committed++
		} else {
			err = journal.Rollback(entry.TransactionID)
			result.RolledBack++
		}
		if err != nil {
			logger.Warn("Не удалось завершить WAL-запись",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", err.Error()),
			)
		}
		logger.Info("Транзакция восстановлена",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.Bool("committed", commit),
		)
	}

	return result, nil
}

func recoverPlace(ctx context.Context, entry *wal.Entry, registry FileRegistry) (bool, error) {
	targetOK := fileExists(entry.Target)
	sidecarOK := fileExists(attr.Path(entry.Target))

	if targetOK && sidecarOK {
		meta, err := attr.Read(attr.Path(entry.Target))
		if err != nil {
			return false, err
		}
		if registry != nil {
			if err := registry.Register(ctx, meta); err != nil {
				return false, fmt.Errorf("ошибка регистрации восстановленного файла: %w", err)
			}
		}
		return true, nil
	}

	// Файл без sidecar (или sidecar без файла) нарушает парность
	if err := filestore.DeletePair(entry.Target); err != nil {
		return false, err
	}
	return false, nil
}

func recoverArchive(ctx context.Context, entry *wal.Entry, registry FileRegistry) (bool, error) {
	if !fileExists(entry.Target) {
		return false, nil
	}

	srcSidecar := attr.Path(entry.Source)
	if fileExists(srcSidecar) {
		if err := attr.Move(srcSidecar, attr.Path(entry.Target)); err != nil {
			return false, err
		}
	}
	if registry != nil && entry.FileID != "" {
		if err := registry.Remove(ctx, entry.FileID); err != nil {
			return false, err
		}
	}
	return true, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
