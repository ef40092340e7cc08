package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"traffic-vision-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// DetectorAPIClient клиент для взаимодействия с внешним сервисом детекции объектов
type DetectorAPIClient struct {
	baseURL    string
	confidence float64
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewDetectorAPIClient создает новый клиент сервиса детекции
func NewDetectorAPIClient(baseURL string, confidence float64, timeout time.Duration, logger *logrus.Logger) *DetectorAPIClient {
	return &DetectorAPIClient{
		baseURL:    baseURL,
		confidence: confidence,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// DetectFrame отправляет JPEG-кадр на детекцию и возвращает список найденных объектов
func (c *DetectorAPIClient) DetectFrame(frameJPEG []byte) ([]models.Detection, error) {
	// Создаем multipart form-data с кадром
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	frameWriter, err := writer.CreateFormFile("frame", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания form field для кадра: %w", err)
	}

	if _, err := frameWriter.Write(frameJPEG); err != nil {
		return nil, fmt.Errorf("ошибка записи данных кадра: %w", err)
	}

	if err := writer.WriteField("confidence", fmt.Sprintf("%.2f", c.confidence)); err != nil {
		return nil, fmt.Errorf("ошибка записи confidence: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("ошибка закрытия multipart writer: %w", err)
	}

	// Создаем HTTP запрос
	url := fmt.Sprintf("%s/detect", c.baseURL)
	req, err := http.NewRequest("POST", url, &body)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка отправки HTTP запроса: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("сервис детекции вернул ошибку: статус %d, тело: %s", resp.StatusCode, string(respBody))
	}

	var apiResponse models.DetectorResponse
	if err := json.Unmarshal(respBody, &apiResponse); err != nil {
		return nil, fmt.Errorf("ошибка парсинга JSON ответа: %w", err)
	}

	if apiResponse.Status != "success" {
		return nil, fmt.Errorf("сервис детекции сообщил об ошибке: %s", apiResponse.Message)
	}

	return apiResponse.Detections, nil
}

// CheckHealth проверяет состояние сервиса детекции
func (c *DetectorAPIClient) CheckHealth() (*models.HealthResponse, error) {
	c.logger.Debug("Проверка здоровья сервиса детекции")

	url := fmt.Sprintf("%s/health", c.baseURL)
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка отправки HTTP запроса: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("сервис детекции вернул ошибку: статус %d, тело: %s", resp.StatusCode, string(respBody))
	}

	var healthResponse models.HealthResponse
	if err := json.Unmarshal(respBody, &healthResponse); err != nil {
		return nil, fmt.Errorf("ошибка парсинга JSON ответа: %w", err)
	}

	return &healthResponse, nil
}
