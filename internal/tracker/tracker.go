package tracker

import (
	"sort"

	"traffic-vision-go/internal/geom"
	"traffic-vision-go/pkg/models"
)

const (
	// DefaultMaxLost число подряд пропущенных циклов, после превышения
	// которого трек удаляется
	DefaultMaxLost = 30
	// DefaultIoUThreshold минимальный IoU для сопоставления детекции с треком
	DefaultIoUThreshold = 0.3
)

// Tracker сопровождает объекты между кадрами жадным сопоставлением по IoU.
// Не потокобезопасен: все вызовы выполняет рабочий цикл конвейера.
type Tracker struct {
	maxLost      int
	iouThreshold float64
	tracks       map[int]*Track
	nextID       int
	frameCount   int64
}

// New создает новый трекер с заданными параметрами
func New(maxLost int, iouThreshold float64) *Tracker {
	return &Tracker{
		maxLost:      maxLost,
		iouThreshold: iouThreshold,
		tracks:       make(map[int]*Track),
		nextID:       1,
	}
}

// NewDefault создает трекер с параметрами по умолчанию
func NewDefault() *Tracker {
	return New(DefaultMaxLost, DefaultIoUThreshold)
}

// Update выполняет один цикл сопровождения: предсказание, сопоставление,
// обновление сопоставленных треков, старение несопоставленных и создание
// новых треков для несопоставленных детекций.
// Возвращает все живые треки, сопоставленные или созданные в этом цикле.
func (t *Tracker) Update(detections []models.Detection) []models.TrackedObject {
	t.frameCount++

	// Предсказываем положение всех треков перед сопоставлением
	for _, tr := range t.tracks {
		tr.predict()
	}

	matches, unmatchedDets, unmatchedTracks := t.match(detections)

	out := make([]models.TrackedObject, 0, len(matches)+len(unmatchedDets))

	// Обновляем сопоставленные треки
	for _, m := range matches {
		tr := t.tracks[m.trackID]
		tr.apply(detections[m.detIdx], t.frameCount)
		out = append(out, trackedObject(tr))
	}

	// Старим несопоставленные треки и удаляем потерянные слишком давно
	for _, id := range unmatchedTracks {
		tr := t.tracks[id]
		tr.Lost++
		if tr.Lost > t.maxLost {
			delete(t.tracks, id)
		}
	}

	// Создаем новые треки для несопоставленных детекций
	for _, idx := range unmatchedDets {
		det := detections[idx]
		tr := &Track{
			ID:         t.nextID,
			Box:        det.Box,
			ClassID:    det.ClassID,
			Confidence: det.Confidence,
			LastSeen:   t.frameCount,
		}
		t.nextID++
		t.tracks[tr.ID] = tr
		out = append(out, trackedObject(tr))
	}

	return out
}

// pair связывает индекс детекции с ID сопоставленного трека
type pair struct {
	detIdx  int
	trackID int
}

// match выполняет жадное сопоставление детекций с треками по максимальному IoU.
// На каждой итерации выбирается пара с наибольшим оставшимся IoU, пока он не
// опустится ниже порога; детекция и трек участвуют не более чем в одной паре.
// Ничья по IoU разрешается в пользу меньшего индекса детекции, затем меньшего
// ID трека, поэтому результат детерминирован при одинаковом порядке входа.
func (t *Tracker) match(detections []models.Detection) (matches []pair, unmatchedDets []int, unmatchedTracks []int) {
	trackIDs := make([]int, 0, len(t.tracks))
	for id := range t.tracks {
		trackIDs = append(trackIDs, id)
	}
	sort.Ints(trackIDs)

	if len(detections) == 0 || len(trackIDs) == 0 {
		for i := range detections {
			unmatchedDets = append(unmatchedDets, i)
		}
		unmatchedTracks = append(unmatchedTracks, trackIDs...)
		return
	}

	// Полная матрица IoU детекции x треки
	ious := make([][]float64, len(detections))
	for i, det := range detections {
		ious[i] = make([]float64, len(trackIDs))
		for j, id := range trackIDs {
			ious[i][j] = geom.IoU(det.Box, t.tracks[id].Box)
		}
	}

	usedDets := make(map[int]bool)
	usedTracks := make(map[int]bool)

	for {
		bestIoU := 0.0
		bestDet := -1
		bestTrack := -1

		for i := range detections {
			if usedDets[i] {
				continue
			}
			for j := range trackIDs {
				if usedTracks[j] {
					continue
				}
				if ious[i][j] > bestIoU {
					bestIoU = ious[i][j]
					bestDet = i
					bestTrack = j
				}
			}
		}

		if bestDet < 0 || bestIoU < t.iouThreshold {
			break
		}

		matches = append(matches, pair{detIdx: bestDet, trackID: trackIDs[bestTrack]})
		usedDets[bestDet] = true
		usedTracks[bestTrack] = true
	}

	for i := range detections {
		if !usedDets[i] {
			unmatchedDets = append(unmatchedDets, i)
		}
	}
	for j, id := range trackIDs {
		if !usedTracks[j] {
			unmatchedTracks = append(unmatchedTracks, id)
		}
	}

	return
}

// Reset очищает все треки и возвращает счетчик идентификаторов к 1.
// Вызывается при смене видеоисточника, чтобы идентичности треков
// не перетекали между несвязанными потоками.
func (t *Tracker) Reset() {
	t.tracks = make(map[int]*Track)
	t.nextID = 1
	t.frameCount = 0
}

// Len возвращает число живых треков
func (t *Tracker) Len() int {
	return len(t.tracks)
}

// Snapshot возвращает копии всех живых треков, отсортированные по ID
func (t *Tracker) Snapshot() []Track {
	out := make([]Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, *tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// trackedObject строит выходное представление трека
func trackedObject(tr *Track) models.TrackedObject {
	return models.TrackedObject{
		TrackID:    tr.ID,
		ClassID:    tr.ClassID,
		Confidence: tr.Confidence,
		Box:        tr.Box,
	}
}
