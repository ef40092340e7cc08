package repository

import (
	"fmt"

	"traffic-vision-go/internal/model"

	"gorm.io/gorm"
)

// CameraRepository интерфейс для работы с реестром камер
type CameraRepository interface {
	Create(camera *model.Camera) error
	GetByID(id string) (*model.Camera, error)
	List() ([]*model.Camera, error)
	Delete(id string) error
}

// cameraRepository реализация CameraRepository
type cameraRepository struct {
	db *gorm.DB
}

// NewCameraRepository создает новый instance CameraRepository
func NewCameraRepository(db *gorm.DB) CameraRepository {
	return &cameraRepository{
		db: db,
	}
}

// Create регистрирует новую камеру в базе данных
func (r *cameraRepository) Create(camera *model.Camera) error {
	if err := r.db.Create(camera).Error; err != nil {
		return fmt.Errorf("failed to create camera: %w", err)
	}
	return nil
}

// GetByID получает камеру по ID
func (r *cameraRepository) GetByID(id string) (*model.Camera, error) {
	var camera model.Camera
	err := r.db.Where("id = ?", id).First(&camera).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("camera with id %s not found", id)
		}
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return &camera, nil
}

// List возвращает все зарегистрированные камеры, новые первыми
func (r *cameraRepository) List() ([]*model.Camera, error) {
	var cameras []*model.Camera

	err := r.db.Order("created_at DESC").Find(&cameras).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}

	return cameras, nil
}

// Delete удаляет камеру по ID
func (r *cameraRepository) Delete(id string) error {
	result := r.db.Where("id = ?", id).Delete(&model.Camera{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete camera: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("camera with id %s not found", id)
	}
	return nil
}
