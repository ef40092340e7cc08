package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"traffic-vision-go/internal/model"
	"traffic-vision-go/internal/pipeline"
	"traffic-vision-go/internal/repository"
	"traffic-vision-go/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CameraHandler обрабатывает HTTP запросы реестра камер
type CameraHandler struct {
	cameraRepo repository.CameraRepository
	pipeline   *pipeline.Pipeline
	logger     *logrus.Logger

	mu       sync.Mutex
	activeID string // ID выбранной камеры; пустая строка — камера не выбрана
}

// NewCameraHandler создает новый экземпляр CameraHandler
func NewCameraHandler(cameraRepo repository.CameraRepository, p *pipeline.Pipeline, logger *logrus.Logger) *CameraHandler {
	return &CameraHandler{
		cameraRepo: cameraRepo,
		pipeline:   p,
		logger:     logger,
	}
}

// RegisterRoutes регистрирует маршруты реестра камер
func (h *CameraHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/cameras", h.ListCameras)
		api.POST("/cameras", h.CreateCamera)
		api.DELETE("/cameras/:id", h.DeleteCamera)
		api.POST("/cameras/:id/select", h.SelectCamera)
	}
}

// cameraResponse представление камеры в ответах API
type cameraResponse struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	SourceURL  string         `json:"source_url"`
	ZoneName   string         `json:"zone_name,omitempty"`
	ROIPolygon []models.Point `json:"roi_polygon,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// toCameraResponse строит ответ API из модели камеры
func toCameraResponse(cam *model.Camera) cameraResponse {
	resp := cameraResponse{
		ID:        cam.ID,
		Name:      cam.Name,
		SourceURL: cam.SourceURL,
		ZoneName:  cam.ZoneName,
		CreatedAt: cam.CreatedAt.UTC().Format(time.RFC3339),
	}
	if cam.ROIPolygon != "" {
		var polygon []models.Point
		if err := json.Unmarshal([]byte(cam.ROIPolygon), &polygon); err == nil {
			resp.ROIPolygon = polygon
		}
	}
	return resp
}

// ListCameras возвращает все зарегистрированные камеры и активную камеру
func (h *CameraHandler) ListCameras(c *gin.Context) {
	cameras, err := h.cameraRepo.List()
	if err != nil {
		h.logger.Errorf("Ошибка получения списка камер: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения списка камер"})
		return
	}

	out := make([]cameraResponse, 0, len(cameras))
	for _, cam := range cameras {
		out = append(out, toCameraResponse(cam))
	}

	h.mu.Lock()
	activeID := h.activeID
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"cameras":          out,
		"active_camera_id": activeID,
	})
}

// createCameraRequest тело запроса регистрации камеры
type createCameraRequest struct {
	Name       string         `json:"name" binding:"required"`
	SourceURL  string         `json:"source_url" binding:"required"`
	ZoneName   string         `json:"zone_name"`
	ROIPolygon []models.Point `json:"roi_polygon"`
}

// CreateCamera регистрирует новую камеру
func (h *CameraHandler) CreateCamera(c *gin.Context) {
	var req createCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Отсутствуют обязательные поля 'name' или 'source_url'"})
		return
	}

	roiJSON := ""
	if len(req.ROIPolygon) > 0 {
		data, err := json.Marshal(req.ROIPolygon)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Некорректный полигон ROI"})
			return
		}
		roiJSON = string(data)
	}

	camera := &model.Camera{
		ID:         uuid.New().String(),
		Name:       req.Name,
		SourceURL:  req.SourceURL,
		ZoneName:   req.ZoneName,
		ROIPolygon: roiJSON,
	}

	if err := h.cameraRepo.Create(camera); err != nil {
		h.logger.Errorf("Ошибка регистрации камеры: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка регистрации камеры"})
		return
	}

	h.logger.Infof("Зарегистрирована камера %s (%s)", camera.Name, camera.ID)
	c.JSON(http.StatusOK, toCameraResponse(camera))
}

// DeleteCamera удаляет камеру; если удалена активная, сбрасывает ROI
func (h *CameraHandler) DeleteCamera(c *gin.Context) {
	cameraID := c.Param("id")

	if err := h.cameraRepo.Delete(cameraID); err != nil {
		h.logger.Errorf("Ошибка удаления камеры: %v", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Камера не найдена"})
		return
	}

	h.mu.Lock()
	if h.activeID == cameraID {
		h.activeID = ""
		h.pipeline.RequestROI(nil)
	}
	h.mu.Unlock()

	h.logger.Infof("Камера %s удалена", cameraID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SelectCamera делает камеру активной: запрашивает переключение источника
// и применяет сохраненный для камеры полигон ROI
func (h *CameraHandler) SelectCamera(c *gin.Context) {
	cameraID := c.Param("id")

	camera, err := h.cameraRepo.GetByID(cameraID)
	if err != nil {
		h.logger.Errorf("Ошибка получения камеры: %v", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Камера не найдена"})
		return
	}

	h.pipeline.RequestVideoSource(camera.SourceURL)

	var polygon []models.Point
	if camera.ROIPolygon != "" {
		if err := json.Unmarshal([]byte(camera.ROIPolygon), &polygon); err != nil {
			h.logger.Debugf("Некорректный сохраненный полигон ROI камеры %s: %v", cameraID, err)
			polygon = nil
		}
	}
	h.pipeline.RequestROI(polygon)

	h.mu.Lock()
	h.activeID = cameraID
	h.mu.Unlock()

	h.logger.Infof("Камера %s выбрана активной", cameraID)
	c.JSON(http.StatusOK, gin.H{
		"ok":               true,
		"active_camera_id": cameraID,
		"camera":           toCameraResponse(camera),
	})
}
