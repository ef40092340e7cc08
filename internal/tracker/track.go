package tracker

import (
	"traffic-vision-go/pkg/models"
)

// Track представляет устойчивую идентичность объекта, сопровождаемого между кадрами.
// Трек принадлежит исключительно трекеру и не изменяется извне.
type Track struct {
	ID         int         // Уникальный идентификатор, монотонно возрастает, не переиспользуется
	Box        models.BBox // Текущая ограничивающая рамка
	VX         float64     // Скорость центра по X (пикселей за кадр)
	VY         float64     // Скорость центра по Y (пикселей за кадр)
	ClassID    int         // Класс последнего сопоставления
	Confidence float64     // Уверенность последнего сопоставления
	Lost       int         // Число подряд пропущенных циклов
	LastSeen   int64       // Номер кадра последнего успешного сопоставления
}

// predict продвигает рамку трека на один шаг по модели постоянной скорости.
// Смещается центр, ширина и высота рамки сохраняются.
func (tr *Track) predict() {
	cx, cy := tr.Box.Centroid()
	w := tr.Box.Width()
	h := tr.Box.Height()

	cx += tr.VX
	cy += tr.VY

	tr.Box = models.BBox{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// apply обновляет трек по сопоставленной детекции: рамка, класс и уверенность
// берутся из детекции, скорость пересчитывается как смещение центра за кадр.
func (tr *Track) apply(det models.Detection, frame int64) {
	prevCX, prevCY := tr.Box.Centroid()
	newCX, newCY := det.Box.Centroid()

	tr.VX = newCX - prevCX
	tr.VY = newCY - prevCY
	tr.Box = det.Box
	tr.ClassID = det.ClassID
	tr.Confidence = det.Confidence
	tr.Lost = 0
	tr.LastSeen = frame
}
