package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"novel-reader/internal/auth"
	"novel-reader/internal/clients"
	"novel-reader/internal/config"
	"novel-reader/internal/database"
	"novel-reader/internal/handler"
	"novel-reader/internal/interfaces"
	"novel-reader/internal/middleware"
	"novel-reader/internal/models"
	pkgDatabase "novel-reader/pkg/database"
	"novel-reader/pkg/logger"
	"novel-reader/pkg/migration"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск Reader Service...")

	// Загружаем конфиг ДО инициализации логгера
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	ctx := context.Background()

	// --- PostgreSQL (контент историй) ---
	db, err := pkgDatabase.New(ctx, pkgDatabase.Config{
		DSN:         cfg.GetDSN(),
		MaxConns:    cfg.DBMaxConns,
		IdleTimeout: cfg.DBIdleTimeout,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer db.Close()

	// Миграции схемы
	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: "migrations",
		MigrationsFS:   database.MigrationsFS(),
	}, db.Pool)
	if err := migrator.Up(); err != nil {
		zapLogger.Fatal("Не удалось применить миграции", zap.Error(err))
	}

	// --- Redis (кэш контента) ---
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("Не удалось подключиться к Redis", zap.Error(err))
	}
	defer redisClient.Close()
	zapLogger.Info("Успешное подключение к Redis", zap.String("addr", cfg.RedisAddr))

	// --- Источник контента: Postgres за Redis кэшем ---
	storyRepo := database.NewPgStoryRepository(db.Pool, zapLogger)
	contentSource := database.NewRedisStoryCache(redisClient, storyRepo, cfg.StoryCacheTTL, zapLogger)

	// --- Хранилище прогресса ---
	var progressStore interfaces.ProgressStore
	var firestoreClient *firestore.Client
	switch cfg.ProgressBackend {
	case "firestore":
		firebaseApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID},
			option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
		if err != nil {
			zapLogger.Fatal("Ошибка инициализации Firebase App", zap.Error(err))
		}
		firestoreClient, err = firebaseApp.Firestore(ctx)
		if err != nil {
			zapLogger.Fatal("Ошибка инициализации Firestore клиента", zap.Error(err))
		}
		defer firestoreClient.Close()
		progressStore = database.NewFirestoreProgressStore(firestoreClient, models.DefaultFreeChapterThreshold, zapLogger)
		zapLogger.Info("Хранилище прогресса: Firestore", zap.String("projectID", cfg.FirebaseProjectID))
	case "postgres":
		progressStore = database.NewPgProgressStore(db.Pool, models.DefaultFreeChapterThreshold, zapLogger)
		zapLogger.Info("Хранилище прогресса: PostgreSQL")
	}

	// --- Монетный сервис ---
	coinLedger := clients.NewHTTPCoinLedgerClient(cfg.CoinLedgerURL, cfg.InterServiceToken, zapLogger)

	// --- JWT ---
	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать JWT verifier", zap.Error(err))
	}

	readerHandler := handler.NewReaderHandler(contentSource, progressStore, coinLedger, verifier.VerifyToken, zapLogger)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(middleware.ZapLogger(zapLogger))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	readerHandler.RegisterRoutes(router)

	// Prometheus middleware вешаем после регистрации роутов
	p.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	zapLogger.Info("Starting HTTP server", zap.String("port", cfg.Port))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Получен сигнал завершения, начинаем graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Ошибка при graceful shutdown HTTP сервера", zap.Error(err))
	}

	log.Println("Reader Service успешно остановлен")
}
