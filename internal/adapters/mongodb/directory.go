// Package mongodb — реализация accounts.Directory поверх MongoDB.
// Одна коллекция, уникальный индекс по номеру телефона, частичные
// обновления через $set.
package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"telegram-sessionguard/internal/domain/accounts"
)

const accountsCollection = "accounts"

// Directory — mongo-реализация директории аккаунтов.
type Directory struct {
	coll *mongo.Collection
}

// Проверка соответствия контракту на этапе компиляции.
var _ accounts.Directory = (*Directory)(nil)

// NewDirectory создаёт директорию и гарантирует уникальный индекс по
// phone_number. Индекс создаётся при каждом старте; повторное создание
// идемпотентно.
func NewDirectory(ctx context.Context, db *mongo.Database) (*Directory, error) {
	coll := db.Collection(accountsCollection)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "phone_number", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create phone index")
	}
	return &Directory{coll: coll}, nil
}

// Insert добавляет новый аккаунт. Конфликт уникального индекса по номеру
// приводится к accounts.ErrDuplicatePhone.
func (d *Directory) Insert(ctx context.Context, acc *accounts.Account) error {
	_, err := d.coll.InsertOne(ctx, acc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return accounts.ErrDuplicatePhone
		}
		return errors.Wrap(err, "insert account")
	}
	return nil
}

// ByID возвращает аккаунт или accounts.ErrNotFound.
func (d *Directory) ByID(ctx context.Context, id string) (*accounts.Account, error) {
	var acc accounts.Account
	err := d.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&acc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, accounts.ErrNotFound
		}
		return nil, errors.Wrap(err, "find account")
	}
	return &acc, nil
}

// ByOwner возвращает все аккаунты владельца, отсортированные по дате создания.
func (d *Directory) ByOwner(ctx context.Context, ownerID int64) ([]*accounts.Account, error) {
	return d.findAll(ctx, bson.M{"owner_id": ownerID})
}

// Monitored возвращает аккаунты с включённым мониторингом.
func (d *Directory) Monitored(ctx context.Context) ([]*accounts.Account, error) {
	return d.findAll(ctx, bson.M{"monitoring_enabled": true})
}

func (d *Directory) findAll(ctx context.Context, filter bson.M) ([]*accounts.Account, error) {
	cur, err := d.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find accounts")
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []*accounts.Account
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode accounts")
	}
	return out, nil
}

// SetMonitoring включает или выключает мониторинг аккаунта.
func (d *Directory) SetMonitoring(ctx context.Context, id string, enabled bool) error {
	return d.updateOne(ctx, id, bson.M{"monitoring_enabled": enabled})
}

// ReplaceTrusted заменяет список доверенных отпечатков целиком.
// Nil нормализуется в пустой массив, чтобы поле не стало BSON null.
func (d *Directory) ReplaceTrusted(ctx context.Context, id string, hashes []int64) error {
	if hashes == nil {
		hashes = []int64{}
	}
	return d.updateOne(ctx, id, bson.M{"trusted_session_hashes": hashes})
}

// ClearCredential атомарно стирает сессию и выключает мониторинг.
func (d *Directory) ClearCredential(ctx context.Context, id string) error {
	return d.updateOne(ctx, id, bson.M{
		"session_data":       "",
		"monitoring_enabled": false,
	})
}

// Delete удаляет запись. Отсутствие записи ошибкой не считается.
func (d *Directory) Delete(ctx context.Context, id string) error {
	_, err := d.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "delete account")
	}
	return nil
}

func (d *Directory) updateOne(ctx context.Context, id string, set bson.M) error {
	res, err := d.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return errors.Wrap(err, "update account")
	}
	if res.MatchedCount == 0 {
		return accounts.ErrNotFound
	}
	return nil
}
