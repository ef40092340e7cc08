package geom

import (
	"traffic-vision-go/pkg/models"
)

// epsilon защищает от деления на ноль при вырожденных рамках
const epsilon = 1e-6

// IoU вычисляет Intersection over Union двух ограничивающих рамок.
// Возвращает значение в диапазоне [0, 1]; 0 — если рамки не пересекаются.
func IoU(a, b models.BBox) float64 {
	xx1 := max(a.X1, b.X1)
	yy1 := max(a.Y1, b.Y1)
	xx2 := min(a.X2, b.X2)
	yy2 := min(a.Y2, b.Y2)

	w := max(0, xx2-xx1)
	h := max(0, yy2-yy1)
	inter := w * h

	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)

	return inter / (areaA + areaB - inter + epsilon)
}

// PointInPolygon проверяет принадлежность точки полигону методом трассировки луча.
// Точка на границе полигона (ребро или вершина) считается внутренней.
func PointInPolygon(x, y float64, polygon []models.Point) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}

	// Сначала проверяем границу: точка на ребре всегда внутри
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		if onSegment(x, y, polygon[i], polygon[j]) {
			return true
		}
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := polygon[i].X, polygon[i].Y
		xj, yj := polygon[j].X, polygon[j].Y

		if (yi > y) != (yj > y) &&
			x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}

	return inside
}

// onSegment проверяет, лежит ли точка (x, y) на отрезке [a, b]
func onSegment(x, y float64, a, b models.Point) bool {
	cross := (b.X-a.X)*(y-a.Y) - (b.Y-a.Y)*(x-a.X)
	if cross > epsilon || cross < -epsilon {
		return false
	}
	if x < min(a.X, b.X)-epsilon || x > max(a.X, b.X)+epsilon {
		return false
	}
	if y < min(a.Y, b.Y)-epsilon || y > max(a.Y, b.Y)+epsilon {
		return false
	}
	return true
}

// NormalizePolygon приводит полигон ROI к рабочему виду.
// Полигон из менее чем 3 точек считается некорректным и нормализуется
// в nil ("фильтрация отключена") ещё на этапе конфигурации — до горячего пути.
func NormalizePolygon(points []models.Point) []models.Point {
	if len(points) < 3 {
		return nil
	}
	out := make([]models.Point, len(points))
	copy(out, points)
	return out
}
