package main

import (
	"context"
	"log"
	"os"

	"deepguard/internal/api"
	"deepguard/internal/config"
	"deepguard/internal/extract"
	"deepguard/internal/fetch"
	"deepguard/internal/redis"
	"deepguard/internal/service/history"
	"deepguard/internal/service/inference"
	"deepguard/internal/service/scan"
	"deepguard/internal/staging"
	"deepguard/internal/storage"
	"deepguard/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("DEEPGUARD_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("DEEPGUARD_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: scan_records
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var (
		cache  extract.Cache
		pinger api.Pinger
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		cache, pinger = rdb, rdb
	}

	basic := cfg.BasicConfig
	store, err := staging.NewLocalStore(basic.StagingDir, basic.MaxDownloadBytes())
	if err != nil {
		log.Fatalf("init staging store: %v", err)
	}
	cleanCtx, cleanCancel := context.WithCancel(context.Background())
	defer cleanCancel()
	store.StartCleaner(cleanCtx, basic.StagingCleanInterval(), basic.StagingTTL())

	resolver := extract.ChainResolver{
		extract.DirectResolver{},
		extract.YTDLPResolver{Binary: cfg.Extractor.Binary, Timeout: cfg.Extractor.Timeout()},
	}
	historyService := history.NewService(db)
	scanService := scan.NewService(scan.Deps{
		Store:         store,
		Detectors:     inference.DefaultDetectors(),
		Aggregator:    inference.NewWeightedMean(cfg.Scoring.Weights, *cfg.Scoring.Precision),
		Extractor:     extract.New(resolver, cache, cfg.Extractor.CacheTTL()),
		Fetcher:       fetch.New(store, fetch.Options{Timeout: basic.DownloadTimeout()}),
		History:       historyService,
		VerifyContent: !basic.SkipContentCheck,
	})

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        *basic.MinWorkers,
		MaxWorkers:        basic.MaxWorkers,
		QueueSize:         basic.QueueSize,
		WorkerIdleTimeout: basic.WorkerIdleTimeout(),
	})
	defer dispatcher.Close()

	handlers := api.NewHandler(scanService, historyService, dispatcher, api.Options{
		MaxUploadBytes: basic.MaxUploadBytes(),
		ScanTimeout:    basic.ScanTimeout(),
		Cache:          pinger,
	})

	router := gin.Default()
	router.Use(api.CORSMiddleware(basic.AllowedOrigins))
	handlers.RegisterRoutes(router)

	if err := router.Run(basic.ServerAddress); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
