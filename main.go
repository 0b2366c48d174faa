package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Kehn-Marv/Remorph/config"
	"github.com/Kehn-Marv/Remorph/handler"
	"github.com/Kehn-Marv/Remorph/middleware"
	"github.com/Kehn-Marv/Remorph/service"
	"github.com/Kehn-Marv/Remorph/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting Remorph server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	// 确保输出目录存在
	if err := os.MkdirAll(cfg.Paths.OutputDir, 0755); err != nil {
		utils.Logger.Fatal("failed to create output directory", zap.Error(err))
	}

	// 初始化Redis
	redisService := service.NewRedisService(&cfg.Redis)
	ctx := context.Background()
	if err := redisService.Ping(ctx); err != nil {
		utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
	} else {
		utils.Logger.Info("redis connected successfully")
	}
	defer redisService.Close()

	// 加载指纹库，库不可用时无法提供归因服务
	store, err := service.NewFingerprintStore(cfg.Paths.FingerprintsPath)
	if err != nil {
		utils.Logger.Fatal("failed to initialize fingerprint store", zap.Error(err))
	}

	// 初始化流水线组件
	locator := service.NewFaceLocator(cfg.Paths.FaceModelPath)
	defer locator.Close()

	deepScorer := service.NewDeepModelScorer(cfg.Paths.WeightsPath)
	defer deepScorer.Close()

	engine := service.NewAttributionEngine(store, cfg.Attribution.TopK)
	gate := service.NewQualityGate(store, cfg)
	visualizer := service.NewVisualizer(cfg.Paths.OutputDir)

	analyzer := service.NewAnalyzer(cfg, locator, deepScorer, engine, gate, visualizer)
	batch := service.NewBatchProcessor(analyzer.AnalyzeBytes, cfg)

	// 初始化Handler
	analyzeHandler := handler.NewAnalyzeHandler(cfg, redisService, analyzer, batch)
	healthHandler := handler.NewHealthHandler(cfg, locator, deepScorer, store, redisService)
	statsHandler := handler.NewStatsHandler(store)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 可视化产物静态服务
	r.Static("/files", cfg.Paths.OutputDir)

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"name":        "Remorph API",
			"version":     Version,
			"description": "Deepfake image traceability - CPU-first forensic analysis",
			"endpoints": gin.H{
				"analyze":         "POST /analyze - Analyze single image",
				"batch":           "POST /analyze/batch - Analyze multiple images",
				"health":          "GET /health - Health check",
				"detailed_health": "GET /health/detailed - Detailed component health",
				"stats":           "GET /stats - System statistics",
				"families":        "GET /families - Attribution families",
			},
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"git_commit": GitCommit,
		})
	})

	// 健康检查
	r.GET("/health", healthHandler.Health)
	r.GET("/health/detailed", healthHandler.DetailedHealth)

	// 分析与统计
	rateLimited := r.Group("/", middleware.RateLimit(cfg.Server.RateLimit))
	{
		rateLimited.POST("/analyze", analyzeHandler.Analyze)
		rateLimited.POST("/analyze/batch", analyzeHandler.AnalyzeBatch)
	}
	r.GET("/stats", statsHandler.Stats)
	r.GET("/families", statsHandler.Families)

	// 启动服务器
	utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := r.Run(cfg.Server.Port); err != nil {
		utils.Logger.Fatal("failed to start server", zap.Error(err))
	}
}
