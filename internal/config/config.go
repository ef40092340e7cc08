package config

import (
	"os"
	"strconv"
)

// Config структура конфигурации приложения
type Config struct {
	Server struct {
		Port int
		Host string
	}
	DetectorAPI struct {
		BaseURL    string
		Timeout    int     // в секундах
		Confidence float64 // минимальная уверенность детекции
	}
	Video struct {
		Dir           string // каталог с видеофайлами
		DefaultSource string // источник, открываемый при старте
		FrameSkip     int    // обрабатывается каждый N-й кадр
		FileWidth     int    // разрешение инференса для файловых источников
		FileHeight    int
		LiveWidth     int // разрешение инференса для живых потоков
		LiveHeight    int
	}
	Pipeline struct {
		MaxLost      int     // циклов без сопоставления до удаления трека
		IoUThreshold float64 // порог IoU для сопоставления
	}
	Logging struct {
		Level string
	}
	Environment string
}

// LoadConfig загружает конфигурацию из переменных окружения
func LoadConfig() *Config {
	cfg := &Config{}

	// Конфигурация сервера
	cfg.Server.Port = getEnvInt("SERVER_PORT", 8080)
	cfg.Server.Host = getEnv("SERVER_HOST", "0.0.0.0")

	// Конфигурация сервиса детекции
	cfg.DetectorAPI.BaseURL = getEnv("DETECTOR_API_BASE_URL", "http://localhost:8000")
	cfg.DetectorAPI.Timeout = getEnvInt("DETECTOR_API_TIMEOUT_SECONDS", 10)
	cfg.DetectorAPI.Confidence = getEnvFloat("DETECTOR_CONFIDENCE", 0.35)

	// Конфигурация видео
	cfg.Video.Dir = getEnv("VIDEO_DIR", "./video_test")
	cfg.Video.DefaultSource = getEnv("VIDEO_DEFAULT_SOURCE", "./video_test/video.mp4")
	cfg.Video.FrameSkip = getEnvInt("VIDEO_FRAME_SKIP", 2)
	cfg.Video.FileWidth = getEnvInt("VIDEO_FILE_WIDTH", 960)
	cfg.Video.FileHeight = getEnvInt("VIDEO_FILE_HEIGHT", 540)
	cfg.Video.LiveWidth = getEnvInt("VIDEO_LIVE_WIDTH", 640)
	cfg.Video.LiveHeight = getEnvInt("VIDEO_LIVE_HEIGHT", 360)

	// Конфигурация конвейера
	cfg.Pipeline.MaxLost = getEnvInt("PIPELINE_MAX_LOST", 30)
	cfg.Pipeline.IoUThreshold = getEnvFloat("PIPELINE_IOU_THRESHOLD", 0.3)

	// Конфигурация логирования
	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")

	cfg.Environment = getEnv("ENVIRONMENT", "development")

	return cfg
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает int значение переменной окружения или возвращает значение по умолчанию
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat получает float значение переменной окружения или возвращает значение по умолчанию
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
