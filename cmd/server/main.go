package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marllet/fleettrack/internal/api/geocoder"
	"github.com/marllet/fleettrack/internal/api/handlers"
	"github.com/marllet/fleettrack/internal/api/osrm"
	"github.com/marllet/fleettrack/internal/config"
	"github.com/marllet/fleettrack/internal/eta"
	"github.com/marllet/fleettrack/internal/models"
	"github.com/marllet/fleettrack/internal/repository"
	"github.com/marllet/fleettrack/internal/service"
	"github.com/marllet/fleettrack/internal/token"
	"github.com/marllet/fleettrack/internal/track"
	"github.com/marllet/fleettrack/pkg/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting FleetTrack", zap.String("port", cfg.ServerPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	missionRepo := repository.NewMissionRepository(db)
	posRepo := repository.NewPositionRepository(db)
	tokenRepo := repository.NewShareTokenRepository(db)

	// in-memory track store with write-through persistence
	store := track.NewStore()
	fanout := track.NewFanout(store, cfg.PollInterval, logger)

	// reload the tracks of in-flight missions, so observers see full
	// history across restarts
	if err := warmStore(ctx, store, missionRepo, posRepo); err != nil {
		logger.Warn("Failed to warm track store", zap.Error(err))
	}

	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// share-link guard, seeded from tokens still live in the database
	guard := token.NewGuard(tokenRepo, logger)
	if live, err := tokenRepo.ListLive(ctx); err != nil {
		logger.Warn("Failed to load live share tokens", zap.Error(err))
	} else {
		guard.Load(live)
		logger.Info("Share tokens loaded", zap.Int("count", len(live)))
	}

	oracle := osrm.NewClient(cfg.OSRMBaseURL, cfg.RouteProfile, cfg.RouteTimeout, logger)
	estimator := eta.NewEstimator(store, oracle, cfg.FallbackSpeedKph, cfg.EtaCacheTTL, logger)

	var geocoderClient *geocoder.Client
	if cfg.GeocoderEnabled {
		geocoderClient = geocoder.NewClient(cfg.NominatimBaseURL, logger)
	}

	tracking := service.NewTrackingService(store, fanout, wsHub, posRepo, missionRepo, estimator, logger)

	// new websocket clients get the current track snapshot on connect
	wsHub.SetInitDataProvider(func(missionID string) interface{} {
		return tracking.Snapshot(missionID)
	})

	handler := handlers.NewHandler(
		logger,
		missionRepo,
		tracking,
		estimator,
		guard,
		geocoderClient,
		wsHub,
		cfg.ShareTTL,
		cfg.ShareMaxAccesses,
		cfg.PublicBaseURL,
	)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// warmStore seeds the in-memory store with the persisted tracks of
// every in-progress mission.
func warmStore(ctx context.Context, store *track.Store, missions *repository.MissionRepository, positions *repository.PositionRepository) error {
	active, err := missions.ListByStatus(ctx, models.MissionInProgress, 500)
	if err != nil {
		return err
	}

	for _, m := range active {
		samples, err := positions.ListByMission(ctx, m.ID)
		if err != nil {
			return err
		}
		for _, s := range samples {
			store.Append(*s)
		}
	}
	return nil
}

func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
