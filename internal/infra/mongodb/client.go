// Package mongodb — подключение к MongoDB для директории аккаунтов.
// Клиент создаётся один раз при старте и живёт до shutdown; на команды
// навешивается otel-монитор для трассировки запросов.
package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

// connectTimeout ограничивает установку соединения и ping при старте.
const connectTimeout = 10 * time.Second

// Connect подключается к MongoDB по uri и проверяет доступность через ping.
// Возвращённый клиент обязан быть закрыт через Disconnect при shutdown.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo ping")
	}
	return client, nil
}

// Disconnect закрывает клиент с собственным таймаутом, чтобы shutdown
// не завис на недоступной базе.
func Disconnect(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return client.Disconnect(ctx)
}
