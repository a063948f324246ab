// Package storage — утилиты безопасной работы с локальными файлами.
// Используется журналом алертов (каталог под bbolt) и экспортом алертов,
// где недопустимы частично записанные файлы.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"telegram-sessionguard/internal/infra/logger"
)

// exportFilePerm — права на итоговый файл при атомарной записи.
// 0o600 ограничивает доступ только владельцу процесса: экспорт алертов
// содержит данные чужих сессий (IP, устройства).
const exportFilePerm = 0o600

// EnsureDir гарантирует наличие каталога для указанного файла.
// Пустой путь или путь без директории ("." ) — no-op.
// Каталог создаётся с правами 0o700.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile атомарно записывает data в path.
//
// Алгоритм: temp в той же директории → write → fsync(temp) → chmod →
// close → rename → fsync(dir). Либо старый файл остаётся цел, либо новый
// записан полностью. os.Rename атомарен только в пределах одного тома;
// fsync каталога — best-effort и может игнорироваться некоторыми ОС/ФС.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Chmod(exportFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// На POSIX rename поверх существующего файла атомарен.
	if err := os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	// fsync каталога журналирует запись имени файла в метаданных.
	if dirFile, err := os.Open(dir); err == nil {
		if errSync := dirFile.Sync(); errSync != nil {
			logger.Warn("atomic write: dir sync failed", zap.String("dir", dir), zap.Error(errSync))
		}
		_ = dirFile.Close()
	}
	return nil
}
