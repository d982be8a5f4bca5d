package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitfantasy/repairdesk/internal/config"
	"github.com/bitfantasy/repairdesk/internal/desk/activity"
	"github.com/bitfantasy/repairdesk/internal/desk/handler"
	"github.com/bitfantasy/repairdesk/internal/desk/media"
	"github.com/bitfantasy/repairdesk/internal/desk/service"
	"github.com/bitfantasy/repairdesk/internal/desk/session"
	"github.com/bitfantasy/repairdesk/internal/middleware"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(config.GetEnvOrDefault("ENV_FILE", ".env")); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting repairdesk service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("backend", cfg.Backend.BaseURL),
	)

	// 会话存储
	rdb := initRedis(cfg.Redis)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		zapLogger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	cancelPing()
	defer rdb.Close()

	// 操作日志（可选）
	var activityLog service.ActivityLog = activity.Nop{}
	if cfg.Database.Enabled() {
		db, err := initDatabase(cfg.Database)
		if err != nil {
			zapLogger.Fatal("Failed to connect to database", zap.Error(err))
		}
		repo := activity.NewRepository(db, zapLogger)
		if err := repo.AutoMigrate(); err != nil {
			zapLogger.Warn("AutoMigrate activity table warning", zap.Error(err))
		}
		activityLog = repo
	} else {
		zapLogger.Info("Database not configured, activity log disabled")
	}

	// 初始化服务
	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, zapLogger)
	registry := media.NewRegistry("/api/media/")
	workspaces := service.NewWorkspaces(client, registry, activityLog, service.Options{
		PageSize:      cfg.Desk.PageSize,
		Debounce:      cfg.Desk.SearchDebounce,
		BannerTimeout: cfg.Desk.BannerTimeout,
		ExportMaxRows: cfg.Desk.ExportMaxRows,
	}, zapLogger)
	sessions := session.NewManager(session.NewRedisStore(rdb), client, cfg.Session.FallbackTTL, zapLogger)
	sessions.OnTeardown(workspaces.Close)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	workspaces.StartSweeper(sweepCtx, cfg.Desk.SweepInterval)

	handlers := handler.NewHandlers(sessions, workspaces, service.NewCatalogService(client, zapLogger), cfg.Session, zapLogger)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// 版本信息
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// 注册路由
	handler.RegisterRoutes(router, handlers, sessions, cfg.Session.CookieName)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	stopSweep()
	workspaces.CloseAll()

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}
