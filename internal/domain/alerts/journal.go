// Журнал алертов: append-only лог поверх bbolt. Ключи — монотонная
// последовательность бакета в big-endian, значения — JSON. Порядок обхода
// бакета совпадает с порядком записи.

package alerts

import (
	"encoding/binary"
	"encoding/json"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"

	"telegram-sessionguard/internal/infra/storage"
)

// alertsBucket — единственный бакет журнала.
var alertsBucket = []byte("alerts")

// Journal — локальный append-only лог алертов. Безопасен для конкурентного
// использования: bbolt сериализует транзакции записи.
type Journal struct {
	db *bolt.DB
}

// OpenJournal открывает (или создаёт) файл журнала и бакет.
func OpenJournal(path string) (*Journal, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open alert journal")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(alertsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create alerts bucket")
	}
	return &Journal{db: db}, nil
}

// Close закрывает файл журнала.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append дописывает алерт в конец журнала.
func (j *Journal) Append(a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "marshal alert")
	}
	err = j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(alertsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		return b.Put(key[:], payload)
	})
	if err != nil {
		return errors.Wrap(err, "append alert")
	}
	return nil
}

// Recent возвращает последние n алертов от новых к старым. n <= 0 — пусто.
func (j *Journal) Recent(n int) ([]Alert, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]Alert, 0, n)
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(alertsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var a Alert
			if err := json.Unmarshal(v, &a); err != nil {
				return errors.Wrap(err, "decode alert")
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExportJSON выгружает весь журнал (от старых к новым) в файл одной
// атомарной записью.
func (j *Journal) ExportJSON(path string) error {
	var all []Alert
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(alertsBucket).ForEach(func(_, v []byte) error {
			var a Alert
			if err := json.Unmarshal(v, &a); err != nil {
				return errors.Wrap(err, "decode alert")
			}
			all = append(all, a)
			return nil
		})
	})
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal export")
	}
	return storage.AtomicWriteFile(path, payload)
}
