package model

import (
	"time"

	"gorm.io/gorm"
)

// MinuteMetric представляет сохраненные агрегированные метрики за одну минуту
type MinuteMetric struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp    time.Time `gorm:"not null;index" json:"timestamp"`
	Counts       string    `gorm:"type:text;not null" json:"counts"`        // Счетчики по классам в виде JSON
	TrafficState string    `gorm:"type:varchar(32);not null" json:"traffic_state"`
	RiskCount    int       `gorm:"not null;default:0" json:"risk_count"` // Зарезервировано

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Camera представляет зарегистрированную камеру в базе данных
type Camera struct {
	ID         string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name       string `gorm:"type:varchar(255);not null" json:"name"`
	SourceURL  string `gorm:"type:varchar(500);not null" json:"source_url"`
	ZoneName   string `gorm:"type:varchar(255)" json:"zone_name"`
	ROIPolygon string `gorm:"type:text" json:"roi_polygon"` // Полигон ROI в виде JSON или пустая строка

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName указывает имя таблицы для MinuteMetric
func (MinuteMetric) TableName() string {
	return "minute_metrics"
}

// TableName указывает имя таблицы для Camera
func (Camera) TableName() string {
	return "cameras"
}
