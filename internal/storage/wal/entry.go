// Пакет wal — файловый журнал операций размещения и архивации.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в каталоге журнала.
// Незавершённые транзакции восстанавливаются при старте сервиса.
package wal

import (
	"time"
)

// OperationType — тип журналируемой операции.
type OperationType string

const (
	// OpPlace — перемещение файла из temp в хранилище + запись sidecar
	OpPlace OperationType = "place"
	// OpArchive — перенос пары файл + sidecar в архив
	OpArchive OperationType = "archive"
)

// TransactionStatus — статус транзакции.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись журнала.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`

	// FileID — идентификатор файла (пусто для архивации без sidecar)
	FileID string `json:"file_id,omitempty"`

	// Source — исходный путь (temp-файл или файл в хранилище)
	Source string `json:"source"`

	// Target — путь назначения
	Target string `json:"target"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const entrySuffix = ".wal.json"

func walFileName(txID string) string {
	return txID + entrySuffix
}
