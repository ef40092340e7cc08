package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"traffic-vision-go/internal/aggregator"
	"traffic-vision-go/internal/client"
	"traffic-vision-go/internal/config"
	"traffic-vision-go/internal/database"
	"traffic-vision-go/internal/handler"
	"traffic-vision-go/internal/pipeline"
	"traffic-vision-go/internal/repository"
	"traffic-vision-go/internal/video"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	// Инициализируем логгер
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.LoadConfig()

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	logger.Info("Запуск Traffic Vision API Server")

	// Инициализируем базу данных
	logger.Info("Подключение к базе данных...")
	if err := database.Connect(database.ConfigFromEnv()); err != nil {
		logger.Fatalf("Ошибка подключения к базе данных: %v", err)
	}

	// Выполняем миграции
	logger.Info("Выполнение миграций базы данных...")
	if err := database.Migrate(); err != nil {
		logger.Fatalf("Ошибка выполнения миграций: %v", err)
	}

	// Проверяем здоровье базы данных
	if err := database.HealthCheck(); err != nil {
		logger.Fatalf("База данных недоступна: %v", err)
	}

	logger.Info("База данных успешно подключена и готова к работе")

	// Инициализируем репозитории
	metricRepo := repository.NewMetricRepository(database.DB)
	cameraRepo := repository.NewCameraRepository(database.DB)

	// Инициализируем клиент внешнего сервиса детекции
	detector := client.NewDetectorAPIClient(
		cfg.DetectorAPI.BaseURL,
		cfg.DetectorAPI.Confidence,
		time.Duration(cfg.DetectorAPI.Timeout)*time.Second,
		logger,
	)

	// Собираем конвейер обработки видео
	agg := aggregator.New(metricRepo, aggregator.DefaultRetention, logger)

	pipe := pipeline.New(
		detector,
		func(path string) (video.Source, error) { return video.Open(path) },
		agg,
		pipeline.Options{
			FrameSkip:    cfg.Video.FrameSkip,
			MaxLost:      cfg.Pipeline.MaxLost,
			IoUThreshold: cfg.Pipeline.IoUThreshold,
			FileWidth:    cfg.Video.FileWidth,
			FileHeight:   cfg.Video.FileHeight,
			LiveWidth:    cfg.Video.LiveWidth,
			LiveHeight:   cfg.Video.LiveHeight,
		},
		logger,
	)
	pipe.Start(cfg.Video.DefaultSource)

	// Инициализируем обработчики
	pipelineHandler := handler.NewPipelineHandler(pipe, metricRepo, detector, cfg.Video.Dir, logger)
	cameraHandler := handler.NewCameraHandler(cameraRepo, pipe, logger)
	wsManager := handler.NewConnectionManager(pipe, logger)
	wsManager.Start()

	// Настраиваем Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Добавляем middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Регистрируем маршруты
	pipelineHandler.RegisterRoutes(router)
	cameraHandler.RegisterRoutes(router)
	wsManager.RegisterRoutes(router)

	// Добавляем базовый маршрут для проверки
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Traffic Vision API Server",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	// Запускаем сервер с возможностью graceful shutdown
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		logger.Infof("Сервер запущен на %s", serverAddr)
		logger.Infof("API доступно по адресу: http://localhost:%d/api/v1", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Ошибка запуска сервера: %v", err)
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Получен сигнал завершения, останавливаем сервис...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Ошибка остановки HTTP сервера: %v", err)
	}

	wsManager.Stop()
	pipe.Stop()

	if err := database.Close(); err != nil {
		logger.Errorf("Ошибка закрытия базы данных: %v", err)
	}

	logger.Info("Сервис остановлен")
}

// corsMiddleware добавляет заголовки CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
