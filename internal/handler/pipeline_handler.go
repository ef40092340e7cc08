package handler

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"traffic-vision-go/internal/client"
	"traffic-vision-go/internal/database"
	"traffic-vision-go/internal/pipeline"
	"traffic-vision-go/internal/repository"
	"traffic-vision-go/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// PipelineHandler обрабатывает HTTP запросы к конвейеру и метрикам
type PipelineHandler struct {
	pipeline   *pipeline.Pipeline
	metricRepo repository.MetricRepository
	detector   *client.DetectorAPIClient
	logger     *logrus.Logger
	videoDir   string

	placeholderOnce sync.Once
	placeholderJPEG []byte
}

// NewPipelineHandler создает новый экземпляр PipelineHandler
func NewPipelineHandler(p *pipeline.Pipeline, metricRepo repository.MetricRepository, detector *client.DetectorAPIClient, videoDir string, logger *logrus.Logger) *PipelineHandler {
	return &PipelineHandler{
		pipeline:   p,
		metricRepo: metricRepo,
		detector:   detector,
		logger:     logger,
		videoDir:   videoDir,
	}
}

// RegisterRoutes регистрирует маршруты API
func (h *PipelineHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/video_feed", h.VideoFeed)

	api := router.Group("/api/v1")
	{
		api.GET("/metrics/realtime", h.GetRealtimeMetrics)
		api.GET("/metrics/history", h.GetMetricsHistory)
		api.GET("/videos", h.ListVideos)
		api.POST("/videos/select", h.SelectVideo)
		api.POST("/roi", h.SetROI)
		api.GET("/reports/daily", h.DailyReport)
		api.GET("/health", h.CheckHealth)
	}
}

// VideoFeed стримит последние аннотированные кадры в формате MJPEG
func (h *PipelineHandler) VideoFeed(c *gin.Context) {
	h.logger.Info("Новое подключение к видеопотоку")

	c.Writer.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			h.logger.Debug("Клиент видеопотока отключился")
			return
		case <-ticker.C:
			frame := h.pipeline.LatestFrame()
			if frame == nil {
				frame = h.placeholder()
				if frame == nil {
					continue
				}
			}

			if _, err := fmt.Fprintf(c.Writer,
				"--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return
			}
			if _, err := c.Writer.Write(frame); err != nil {
				return
			}
			if _, err := c.Writer.Write([]byte("\r\n")); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// placeholder лениво строит черный кадр-заглушку для видеопотока.
// Обработчики видеопотока работают в горутинах запросов, поэтому
// инициализация выполняется ровно один раз через sync.Once.
func (h *PipelineHandler) placeholder() []byte {
	h.placeholderOnce.Do(func() {
		mat := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
		defer mat.Close()

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
		if err != nil {
			h.logger.Errorf("Ошибка кодирования кадра-заглушки: %v", err)
			return
		}
		defer buf.Close()

		h.placeholderJPEG = make([]byte, len(buf.GetBytes()))
		copy(h.placeholderJPEG, buf.GetBytes())
	})
	return h.placeholderJPEG
}

// GetRealtimeMetrics возвращает последний опубликованный снапшот метрик
func (h *PipelineHandler) GetRealtimeMetrics(c *gin.Context) {
	snapshot, ok := h.pipeline.LatestMetrics()
	if !ok {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// historyEntry строка истории метрик в ответе API
type historyEntry struct {
	Timestamp    time.Time      `json:"timestamp"`
	Counts       map[string]int `json:"counts"`
	TrafficState string         `json:"traffic_state"`
	RiskCount    int            `json:"risk_count"`
}

// GetMetricsHistory возвращает сохраненные минутные метрики за интервал времени
func (h *PipelineHandler) GetMetricsHistory(c *gin.Context) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -7)

	if v := c.Query("start"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат параметра start"})
			return
		}
		start = parsed
	}
	if v := c.Query("end"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат параметра end"})
			return
		}
		end = parsed
	}

	metrics, err := h.metricRepo.ListByRange(start, end)
	if err != nil {
		h.logger.Errorf("Ошибка получения истории метрик: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения истории метрик"})
		return
	}

	history := make([]historyEntry, 0, len(metrics))
	for _, m := range metrics {
		counts := map[string]int{}
		if err := json.Unmarshal([]byte(m.Counts), &counts); err != nil {
			h.logger.Debugf("Пропущена запись метрик %d с некорректным JSON: %v", m.ID, err)
			continue
		}
		history = append(history, historyEntry{
			Timestamp:    m.Timestamp,
			Counts:       counts,
			TrafficState: m.TrafficState,
			RiskCount:    m.RiskCount,
		})
	}

	c.JSON(http.StatusOK, history)
}

// ListVideos возвращает список доступных видеофайлов
func (h *PipelineHandler) ListVideos(c *gin.Context) {
	pattern := filepath.Join(h.videoDir, "*.mp4")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		h.logger.Errorf("Ошибка чтения каталога видео: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка чтения каталога видео"})
		return
	}

	videos := make([]string, 0, len(paths))
	for _, p := range paths {
		videos = append(videos, filepath.Base(p))
	}
	sort.Strings(videos)

	c.JSON(http.StatusOK, gin.H{"videos": videos})
}

// selectVideoRequest тело запроса выбора видеофайла
type selectVideoRequest struct {
	Name string `json:"name" binding:"required"`
}

// SelectVideo запрашивает переключение конвейера на видеофайл из каталога
func (h *PipelineHandler) SelectVideo(c *gin.Context) {
	var req selectVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Отсутствует обязательное поле 'name'"})
		return
	}

	// Не позволяем выйти за пределы каталога видео
	if strings.Contains(req.Name, "..") || strings.ContainsAny(req.Name, `/\`) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Недопустимое имя видеофайла"})
		return
	}

	path := filepath.Join(h.videoDir, req.Name)
	if !strings.EqualFold(filepath.Ext(path), ".mp4") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Видео не найдено"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Видео не найдено"})
		return
	}

	h.pipeline.RequestVideoSource(path)
	h.logger.Infof("Запрошено переключение на видео %s", req.Name)
	c.JSON(http.StatusOK, gin.H{"ok": true, "selected": req.Name})
}

// setROIRequest тело запроса установки полигона ROI
type setROIRequest struct {
	Polygon []models.Point `json:"polygon"`
}

// SetROI устанавливает или сбрасывает полигон ROI.
// Некорректный полигон нормализуется в "без фильтрации", а не отклоняется,
// чтобы плохая конфигурация не ослепила детекцию целиком.
func (h *PipelineHandler) SetROI(c *gin.Context) {
	var req setROIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Некорректное тело запроса"})
		return
	}

	h.pipeline.RequestROI(req.Polygon)
	c.JSON(http.StatusOK, gin.H{"ok": true, "points": len(req.Polygon)})
}

// DailyReport строит простой HTML отчет по минутным метрикам за сутки
func (h *PipelineHandler) DailyReport(c *gin.Context) {
	date := time.Now().UTC()
	if v := c.Query("date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат параметра date, ожидается YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	metrics, err := h.metricRepo.ListByDate(date)
	if err != nil {
		h.logger.Errorf("Ошибка получения метрик для отчета: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка формирования отчета"})
		return
	}

	var sb strings.Builder
	dateStr := date.Format("2006-01-02")
	sb.WriteString("<html><head><title>Traffic Report " + dateStr + "</title></head><body>")
	sb.WriteString("<h1>Traffic Report for " + dateStr + "</h1>")
	sb.WriteString("<table border=\"1\"><tr><th>Time</th><th>Counts</th><th>State</th><th>Risks</th></tr>")
	for _, m := range metrics {
		sb.WriteString(fmt.Sprintf("<tr><td>%s</td><td>%s</td><td>%s</td><td>%d</td></tr>",
			m.Timestamp.Format("15:04"), html.EscapeString(m.Counts),
			html.EscapeString(m.TrafficState), m.RiskCount))
	}
	sb.WriteString("</table></body></html>")

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(sb.String()))
}

// CheckHealth проверяет состояние сервиса и его зависимостей
func (h *PipelineHandler) CheckHealth(c *gin.Context) {
	dbStatus := "ok"
	if err := database.HealthCheck(); err != nil {
		dbStatus = "unavailable"
	}

	detectorStatus := "ok"
	if _, err := h.detector.CheckHealth(); err != nil {
		detectorStatus = "unavailable"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"pipeline":  h.pipeline.IsRunning(),
		"database":  dbStatus,
		"detector":  detectorStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
