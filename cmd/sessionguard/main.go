package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"telegram-sessionguard/internal/adapters/botapi"
	"telegram-sessionguard/internal/adapters/cli"
	mongodir "telegram-sessionguard/internal/adapters/mongodb"
	tgadapter "telegram-sessionguard/internal/adapters/telegram"
	"telegram-sessionguard/internal/domain/alerts"
	"telegram-sessionguard/internal/domain/commands"
	"telegram-sessionguard/internal/domain/rules"
	"telegram-sessionguard/internal/domain/watchdog"
	"telegram-sessionguard/internal/infra/config"
	"telegram-sessionguard/internal/infra/logger"
	"telegram-sessionguard/internal/infra/mongodb"
	"telegram-sessionguard/internal/infra/pr"
	"telegram-sessionguard/internal/infra/telegram/pool"
	"telegram-sessionguard/internal/infra/vault"
)

func main() {
	if err := pr.Init(); err != nil {
		logger.Fatal("failed to assign stdout and stderr", zap.Error(err))
	}

	// envPath определяет расположение .env с секретами и общими настройками.
	envPath := flag.String("env", "assets/.env", "path to .env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	env := config.Env()

	// Часовая зона приложения влияет на правило временного окна и отметки в логах.
	time.Local = config.AppLocation //nolint:reassign // намеренно задаём часовую зону процесса

	// SetWriters перенаправляет логи в подсистему pr, чтобы они не рвали строку ввода CLI.
	logger.Init(env.LogLevel)
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Vault обязан подняться до любой работы с учётными данными.
	v, err := vault.New(env.EncryptionKey)
	if err != nil {
		logger.Fatal("invalid ENCRYPTION_KEY", zap.Error(err))
	}

	mongoClient, err := mongodb.Connect(ctx, env.MongoURI)
	if err != nil {
		logger.Fatal("mongo connect failed", zap.Error(err))
	}
	defer func() {
		if err := mongodb.Disconnect(mongoClient); err != nil {
			logger.Error("mongo disconnect failed", zap.Error(err))
		}
	}()

	dir, err := mongodir.NewDirectory(ctx, mongoClient.Database(env.MongoDB))
	if err != nil {
		logger.Fatal("account directory init failed", zap.Error(err))
	}

	journal, err := alerts.OpenJournal(env.AlertsFile)
	if err != nil {
		logger.Fatal("alert journal open failed", zap.Error(err))
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Error("alert journal close failed", zap.Error(err))
		}
	}()

	sender := botapi.NewSender(env.BotToken, env.TestDC, env.ThrottleRPS)
	dispatcher := alerts.NewDispatcher(journal, sender, env.OperatorUID)

	engine := rules.New(rules.Config{
		CountryAllow:  env.RuleCountryAllow,
		DeviceDeny:    env.RuleDeviceDeny,
		WindowEnabled: env.RuleWindowEnable,
		WindowStart:   env.RuleWindowStart,
		WindowEnd:     env.RuleWindowEnd,
		MaxTrusted:    env.RuleMaxTrusted,
	}, func() time.Time { return time.Now().In(config.AppLocation) })

	factory := tgadapter.NewFactory(env.APIID, env.APIHash, env.ThrottleRPS, env.TestDC)

	connPool := pool.New(factory, v, env.PoolCapacity, time.Duration(env.PoolIdleSec)*time.Second)
	defer connPool.Close()

	supervisor := watchdog.NewSupervisor(dir, connPool, engine, dispatcher, watchdog.Config{
		PollInterval: time.Duration(env.PollIntervalSec) * time.Second,
		RetryBase:    time.Duration(env.RetryBaseSec) * time.Second,
		MaxRetries:   env.MaxRetries,
		Rescan:       time.Duration(env.RescanSec) * time.Second,
		StopGrace:    time.Duration(env.StopGraceSec) * time.Second,
	})

	executor := commands.NewExecutor(dir, v, factory, supervisor, connPool, engine, journal, env.OperatorUID)

	console := cli.NewService(executor, stop)
	console.Start(ctx)

	logger.Info("sessionguard started",
		zap.Int("poll_interval_sec", env.PollIntervalSec),
		zap.Int("pool_capacity", env.PoolCapacity))

	// Блокируется до отмены контекста; возвращается после остановки всех задач.
	supervisor.Run(ctx)

	console.Stop()
	logger.Info("Graceful shutdown complete")
}
