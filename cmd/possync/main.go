package main

import (
	"context"
	"database/sql"
	"time"

	config "github.com/davicafu/possync/internal/config"
	outboxApp "github.com/davicafu/possync/internal/outbox/application"
	outboxDomain "github.com/davicafu/possync/internal/outbox/domain"
	outboxHttp "github.com/davicafu/possync/internal/outbox/infra/inbound/http"
	outboxPostgres "github.com/davicafu/possync/internal/outbox/infra/outbound/db/postgres"
	outboxSqlite "github.com/davicafu/possync/internal/outbox/infra/outbound/db/sqlite"
	"github.com/davicafu/possync/internal/outbox/infra/outbound/ledgerapi"
	"github.com/davicafu/possync/internal/outbox/infra/relayer"
	sessionBus "github.com/davicafu/possync/internal/session/infra/bus"
	"github.com/davicafu/possync/internal/session/infra/secure"
	sharedBus "github.com/davicafu/possync/internal/shared/bus"
	sharedCache "github.com/davicafu/possync/internal/shared/cache"
	infraCache "github.com/davicafu/possync/internal/shared/infra/cache"
	infraEvents "github.com/davicafu/possync/internal/shared/infra/events"
	"github.com/davicafu/possync/internal/transport"
	"github.com/davicafu/possync/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	// _ "github.com/mattn/go-sqlite3" // requires gcc
	_ "modernc.org/sqlite"
)

// ---------------- Main ----------------
func main() {
	logger.Init()          // inicializa zap
	log := logger.Logger() // obtiene logger estructurado
	defer log.Sync()       // flush buffers al salir

	ctx := context.Background()
	cfg := config.LoadConfig()

	if cfg.SessionPassphrase == "" {
		log.Fatal("SESSION_PASSPHRASE no configurada: hace falta para cifrar la sesión en reposo")
	}

	// ---------------- DB ----------------
	var db *sql.DB
	var err error

	if cfg.LocalDeployment {
		db, err = sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			log.Fatal("failed to open SQLite", zap.Error(err))
		}
		if err := outboxSqlite.InitSQLite(db); err != nil {
			log.Fatal("failed to initialize SQLite", zap.Error(err))
		}
	} else {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to open Postgres", zap.Error(err))
		}
		if err := outboxPostgres.InitPostgres(db); err != nil {
			log.Fatal("failed to initialize Postgres", zap.Error(err))
		}
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping outbox database", zap.Error(err))
	}

	// ---------------- Sesión ----------------
	sessionStore, err := secure.NewSessionStore(cfg.SessionPath, cfg.SessionPassphrase)
	if err != nil {
		log.Fatal("failed to open session store", zap.Error(err))
	}

	authEvents := sessionBus.NewAuthEventBus()

	// Consumidor mínimo de expiración de sesión: los colaboradores de UI se
	// suscriben igual que este.
	go func() {
		for range authEvents.Subscribe() {
			log.Warn("🔒 Sesión expirada, hace falta login de nuevo")
		}
	}()

	// ---------------- Cache ----------------
	var cacheInstance sharedCache.Cache
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache en memoria:", zap.Error(err))
		cacheInstance = infraCache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
	} else {
		cacheInstance = infraCache.NewRedisCache(rdb, cfg.CacheTTL)
		log.Info("✅ Redis conectado, cache habilitado")
	}

	// ---------------- Transporte + cliente del ledger ----------------
	httpClient := transport.NewHTTPClient(sessionStore, authEvents, cfg.APIBaseURL, 30*time.Second, log)
	ledgerClient := ledgerapi.NewClient(cfg.APIBaseURL, httpClient, cacheInstance, log)

	// ---------------- Events ----------------
	var eventPublisher sharedBus.EventPublisher

	if cfg.UseKafka {
		log.Info("🚀 Usando Kafka como bus de eventos")

		writer := kafka.NewWriter(kafka.WriterConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		defer writer.Close()

		eventPublisher = infraEvents.NewKafkaPublisher(writer, log)
	} else {
		log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")
		eventPublisher = infraEvents.NewInMemoryEventBus(cfg.KafkaTopic)
	}

	// ---------------- Sync engine + servicio ----------------
	var repo outboxDomain.OutboxRepository
	if cfg.LocalDeployment {
		repo = outboxSqlite.NewOutboxRepoSQLite(db)
	} else {
		repo = outboxPostgres.NewOutboxRepoPostgres(db)
	}

	engine := relayer.NewSyncEngine(
		repo,
		ledgerClient,
		eventPublisher,
		relayer.NewTCPProbe(cfg.APIBaseURL),
		cfg.SyncInterval,
		cfg.BatchSize,
		cfg.MaxRetries,
		log,
	)

	outboxService := outboxApp.NewOutboxService(repo, engine, log)
	engine.OnRunComplete(outboxService.RefreshCounts)
	engine.Start(ctx)

	// ---------------- HTTP ----------------
	syncHandler := outboxHttp.NewSyncHandler(outboxService)
	router := gin.Default()
	outboxHttp.RegisterSyncRoutes(router, syncHandler)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	log.Info("🚀 Server running",
		zap.String("url", "http://localhost:"+cfg.HTTPPort),
	)
	if err := router.Run(":" + cfg.HTTPPort); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
}
