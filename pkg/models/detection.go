package models

import "time"

// BBox представляет ограничивающую рамку объекта в пиксельных координатах кадра
type BBox struct {
	X1 float64 `json:"x1"` // Левая граница
	Y1 float64 `json:"y1"` // Верхняя граница
	X2 float64 `json:"x2"` // Правая граница
	Y2 float64 `json:"y2"` // Нижняя граница
}

// Centroid возвращает координаты центра рамки
func (b BBox) Centroid() (float64, float64) {
	return (b.X1 + b.X2) / 2.0, (b.Y1 + b.Y2) / 2.0
}

// Width возвращает ширину рамки
func (b BBox) Width() float64 {
	return b.X2 - b.X1
}

// Height возвращает высоту рамки
func (b BBox) Height() float64 {
	return b.Y2 - b.Y1
}

// Detection представляет одно сырое срабатывание детектора на кадре
type Detection struct {
	ClassID    int     `json:"cls"`  // ID класса объекта
	Confidence float64 `json:"conf"` // Уверенность детектора (0-1)
	Box        BBox    `json:"bbox"` // Ограничивающая рамка
}

// TrackedObject представляет объект с присвоенным идентификатором трека
type TrackedObject struct {
	TrackID    int     `json:"track_id"` // Уникальный ID трека
	ClassID    int     `json:"cls"`      // ID класса объекта
	Confidence float64 `json:"conf"`     // Уверенность последнего сопоставления
	Box        BBox    `json:"bbox"`     // Текущая ограничивающая рамка
}

// MetricsSnapshot представляет опубликованный снимок метрик конвейера.
// Снимок неизменяем после публикации и полностью заменяется каждый цикл.
type MetricsSnapshot struct {
	Timestamp    time.Time      `json:"timestamp"`     // Время построения снимка
	Frame        int64          `json:"frame"`         // Порядковый номер кадра
	Counts       map[string]int `json:"counts"`        // Количество живых треков по классам
	TrafficState string         `json:"traffic_state"` // Оценка загруженности (fluid/moderate/saturated)
	FPS          float64        `json:"fps"`           // Частота кадров источника
}

// Point представляет точку полигона ROI в пиксельных координатах
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DetectorResponse определяет структуру ответа внешнего сервиса детекции
type DetectorResponse struct {
	Status     string      `json:"status"`     // Статус выполнения
	Message    string      `json:"message"`    // Сообщение об ошибке (если есть)
	Detections []Detection `json:"detections"` // Список найденных объектов
}

// HealthResponse представляет ответ проверки здоровья сервиса детекции
type HealthResponse struct {
	Status      string `json:"status"`       // Статус сервиса (healthy/unhealthy)
	ModelLoaded bool   `json:"model_loaded"` // Загружена ли модель нейронной сети
	Version     string `json:"version"`      // Версия сервиса
}

// ClassNames сопоставляет ID класса детектора с его именем
var ClassNames = map[int]string{
	0: "Person",
	1: "Bicycle",
	2: "Car",
	3: "Motorcycle",
	4: "Bus",
	5: "Truck",
}

// ClassName возвращает имя класса по ID либо "unknown"
func ClassName(classID int) string {
	if name, ok := ClassNames[classID]; ok {
		return name
	}
	return "unknown"
}
