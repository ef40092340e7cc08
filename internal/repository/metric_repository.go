package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"traffic-vision-go/internal/model"

	"gorm.io/gorm"
)

// MetricRepository интерфейс для работы с минутными метриками
type MetricRepository interface {
	SaveMinuteMetrics(timestamp time.Time, counts map[string]int, trafficState string, riskCount int) error
	ListByRange(start, end time.Time) ([]*model.MinuteMetric, error)
	ListByDate(date time.Time) ([]*model.MinuteMetric, error)
}

// metricRepository реализация MetricRepository
type metricRepository struct {
	db *gorm.DB
}

// NewMetricRepository создает новый instance MetricRepository
func NewMetricRepository(db *gorm.DB) MetricRepository {
	return &metricRepository{
		db: db,
	}
}

// SaveMinuteMetrics сохраняет агрегированные метрики завершенной минуты.
// Запись append-only: существующие строки никогда не обновляются.
func (r *metricRepository) SaveMinuteMetrics(timestamp time.Time, counts map[string]int, trafficState string, riskCount int) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}

	metric := &model.MinuteMetric{
		Timestamp:    timestamp,
		Counts:       string(countsJSON),
		TrafficState: trafficState,
		RiskCount:    riskCount,
	}

	if err := r.db.Create(metric).Error; err != nil {
		return fmt.Errorf("failed to save minute metrics: %w", err)
	}

	return nil
}

// ListByRange возвращает метрики за интервал времени в порядке возрастания
func (r *metricRepository) ListByRange(start, end time.Time) ([]*model.MinuteMetric, error) {
	var metrics []*model.MinuteMetric

	err := r.db.
		Where("timestamp BETWEEN ? AND ?", start, end).
		Order("timestamp ASC").
		Find(&metrics).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list metrics by range: %w", err)
	}

	return metrics, nil
}

// ListByDate возвращает метрики за календарные сутки
func (r *metricRepository) ListByDate(date time.Time) ([]*model.MinuteMetric, error) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	end := start.Add(24 * time.Hour)

	var metrics []*model.MinuteMetric
	err := r.db.
		Where("timestamp >= ? AND timestamp < ?", start, end).
		Order("timestamp ASC").
		Find(&metrics).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list metrics by date: %w", err)
	}

	return metrics, nil
}
