package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"traffic-vision-go/internal/aggregator"
	"traffic-vision-go/internal/geom"
	"traffic-vision-go/internal/tracker"
	"traffic-vision-go/internal/video"
	"traffic-vision-go/pkg/models"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Detector определяет контракт внешнего детектора объектов.
// Ошибка детекции трактуется конвейером как "ничего не найдено в этом цикле".
type Detector interface {
	DetectFrame(frameJPEG []byte) ([]models.Detection, error)
}

// SourceOpener открывает видеоисточник по идентификатору
type SourceOpener func(path string) (video.Source, error)

// Options параметры конвейера
type Options struct {
	FrameSkip    int     // обрабатывается каждый N-й кадр
	MaxLost      int     // циклов без сопоставления до удаления трека
	IoUThreshold float64 // порог IoU для сопоставления
	FileWidth    int     // разрешение инференса для файловых источников
	FileHeight   int
	LiveWidth    int // разрешение инференса для живых потоков
	LiveHeight   int
}

// classColors цвета рамок по имени класса для аннотирования кадров
var classColors = map[string]color.RGBA{
	"Person":     {R: 0, G: 255, B: 0, A: 255},
	"Car":        {R: 255, G: 0, B: 0, A: 255},
	"Bus":        {R: 0, G: 165, B: 255, A: 255},
	"Truck":      {R: 0, G: 0, B: 255, A: 255},
	"Motorcycle": {R: 255, G: 255, B: 0, A: 255},
	"Bicycle":    {R: 255, G: 0, B: 255, A: 255},
}

var defaultColor = color.RGBA{R: 200, G: 200, B: 200, A: 255}

// Pipeline выполняет цикл обработки видеопотока: захват кадра, детекция,
// фильтрация по ROI, сопровождение, агрегация и публикация снапшота.
// Вся логика цикла исполняется единственной рабочей горутиной; внешние
// вызывающие только читают опубликованные снапшоты и пишут запросы
// на реконфигурацию в ожидающие слоты.
type Pipeline struct {
	detector Detector
	opener   SourceOpener
	tracker  *tracker.Tracker
	agg      *aggregator.Aggregator
	logger   *logrus.Logger
	opts     Options

	running atomic.Bool
	wg      sync.WaitGroup

	// mu охраняет опубликованный снапшот: читатель видит либо старую,
	// либо новую пару {кадр, метрики} целиком
	mu            sync.RWMutex
	latestJPEG    []byte
	latestMetrics models.MetricsSnapshot
	hasMetrics    bool

	// roiMu охраняет полигон ROI; рабочий цикл читает его один раз за цикл
	roiMu sync.Mutex
	roi   []models.Point

	// srcMu охраняет источник кадров и слот ожидающей смены источника
	srcMu         sync.Mutex
	source        video.Source
	pendingSource *string

	frameCount int64
}

// New создает конвейер с заданными зависимостями
func New(detector Detector, opener SourceOpener, agg *aggregator.Aggregator, opts Options, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		detector: detector,
		opener:   opener,
		tracker:  tracker.New(opts.MaxLost, opts.IoUThreshold),
		agg:      agg,
		logger:   logger,
		opts:     opts,
	}
}

// Start переводит конвейер в состояние Running и запускает рабочую горутину.
// Повторный вызов на работающем конвейере ничего не делает.
// Если начальный источник открыть не удалось, конвейер все равно стартует:
// источник можно назначить позже через RequestVideoSource.
func (p *Pipeline) Start(initialSource string) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}

	if initialSource != "" {
		src, err := p.opener(initialSource)
		if err != nil {
			p.logger.Errorf("Не удалось открыть начальный видеоисточник: %v", err)
		} else {
			p.srcMu.Lock()
			p.source = src
			p.srcMu.Unlock()
			p.logger.Infof("Конвейер запускается с источником %s", initialSource)
		}
	}

	p.wg.Add(1)
	go p.run()
}

// Stop кооперативно останавливает рабочий цикл и освобождает источник.
// Блокируется до выхода горутины; прерывания посреди цикла нет.
func (p *Pipeline) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.wg.Wait()
	p.logger.Info("Конвейер остановлен")
}

// run исполняет рабочий цикл до снятия флага running
func (p *Pipeline) run() {
	defer p.wg.Done()

	frame := gocv.NewMat()
	defer frame.Close()

	defer func() {
		p.srcMu.Lock()
		if p.source != nil {
			p.source.Close()
			p.source = nil
		}
		p.srcMu.Unlock()
	}()

	for p.running.Load() {
		// Ожидающая смена источника применяется только здесь,
		// в безопасной точке между циклами
		p.applyPendingSource()

		p.srcMu.Lock()
		src := p.source
		p.srcMu.Unlock()

		if src == nil {
			time.Sleep(200 * time.Millisecond)
			continue
		}

		if src.IsLive() {
			// Сбрасываем накопленные кадры, чтобы не расти в задержке
			src.Drop(2)
		}

		if ok := src.Read(&frame); !ok || frame.Empty() {
			if src.IsLive() {
				// Временный сбой живого потока: повторим на следующем цикле
				time.Sleep(100 * time.Millisecond)
				continue
			}
			// Файловый источник зациклен
			if err := src.SeekStart(); err != nil {
				p.logger.Errorf("Ошибка перемотки источника: %v", err)
			}
			continue
		}

		p.frameCount++
		if p.opts.FrameSkip > 1 && p.frameCount%int64(p.opts.FrameSkip) != 0 {
			continue
		}

		p.processFrame(src, &frame)

		// Темп цикла приближаем к частоте кадров источника
		time.Sleep(time.Duration(float64(time.Second) / src.FPS()))
	}
}

// processFrame обрабатывает один кадр: детекция, ROI, сопровождение,
// аннотирование, публикация снапшота и агрегация
func (p *Pipeline) processFrame(src video.Source, frame *gocv.Mat) {
	now := time.Now().UTC()

	// Уменьшаем кадр до разрешения инференса
	w, h := p.opts.FileWidth, p.opts.FileHeight
	if src.IsLive() {
		w, h = p.opts.LiveWidth, p.opts.LiveHeight
	}
	gocv.Resize(*frame, frame, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	detections := p.detect(frame)
	detections = p.filterROI(detections)

	tracked := p.tracker.Update(detections)

	// Счетчики живых треков по классам
	counts := make(map[string]int)
	for _, obj := range tracked {
		counts[models.ClassName(obj.ClassID)]++
	}

	state := aggregator.TrafficState(counts)

	annotate(frame, tracked)

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *frame,
		[]int{gocv.IMWriteJpegQuality, 60})
	if err != nil {
		p.logger.Errorf("Ошибка кодирования кадра: %v", err)
		return
	}
	jpeg := make([]byte, len(buf.GetBytes()))
	copy(jpeg, buf.GetBytes())
	buf.Close()

	snapshot := models.MetricsSnapshot{
		Timestamp:    now,
		Frame:        p.frameCount,
		Counts:       counts,
		TrafficState: state,
		FPS:          src.FPS(),
	}

	// Публикация снапшота: единая атомарная замена пары {кадр, метрики}
	p.mu.Lock()
	p.latestJPEG = jpeg
	p.latestMetrics = snapshot
	p.hasMetrics = true
	p.mu.Unlock()

	p.agg.RecordFrame(now, counts)
	p.agg.FlushIfDue(now)
}

// detect вызывает внешний детектор; любая ошибка деградирует до пустого
// списка детекций, цикл при этом продолжается
func (p *Pipeline) detect(frame *gocv.Mat) []models.Detection {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		p.logger.Errorf("Ошибка кодирования кадра для детектора: %v", err)
		return nil
	}
	defer buf.Close()

	detections, err := p.detector.DetectFrame(buf.GetBytes())
	if err != nil {
		p.logger.Errorf("Ошибка детекции, цикл продолжается без детекций: %v", err)
		return nil
	}
	return detections
}

// filterROI отбрасывает детекции, центр рамки которых лежит вне полигона ROI
func (p *Pipeline) filterROI(detections []models.Detection) []models.Detection {
	p.roiMu.Lock()
	roi := p.roi
	p.roiMu.Unlock()

	if roi == nil {
		return detections
	}

	filtered := detections[:0]
	for _, det := range detections {
		cx, cy := det.Box.Centroid()
		if geom.PointInPolygon(cx, cy, roi) {
			filtered = append(filtered, det)
		}
	}
	return filtered
}

// applyPendingSource применяет ожидающий запрос смены источника.
// При неудаче открытия прежний источник и состояние треков сохраняются,
// запрос отбрасывается без повторов.
func (p *Pipeline) applyPendingSource() {
	p.srcMu.Lock()
	pending := p.pendingSource
	p.pendingSource = nil
	p.srcMu.Unlock()

	if pending == nil {
		return
	}

	newSrc, err := p.opener(*pending)
	if err != nil {
		p.logger.Errorf("Не удалось переключить видеоисточник на %s: %v", *pending, err)
		return
	}

	p.srcMu.Lock()
	if p.source != nil {
		p.source.Close()
	}
	p.source = newSrc
	p.srcMu.Unlock()

	// Сбрасываем состояние, чтобы идентичности треков и агрегаты
	// не перетекали между несвязанными потоками
	p.tracker.Reset()
	p.agg.Reset()
	p.frameCount = 0

	p.logger.Infof("Видеоисточник переключен на %s", *pending)
}

// RequestVideoSource запрашивает переключение на новый видеоисточник.
// Запрос записывается в ожидающий слот и применяется рабочим циклом
// в начале следующего цикла; повторный запрос затирает предыдущий.
func (p *Pipeline) RequestVideoSource(path string) {
	p.srcMu.Lock()
	p.pendingSource = &path
	p.srcMu.Unlock()
}

// RequestROI устанавливает полигон ROI. Некорректный полигон (менее 3 точек)
// нормализуется в nil — фильтрация отключается, а не блокирует детекцию.
func (p *Pipeline) RequestROI(points []models.Point) {
	norm := geom.NormalizePolygon(points)

	p.roiMu.Lock()
	p.roi = norm
	p.roiMu.Unlock()

	if norm == nil {
		p.logger.Info("Фильтрация по ROI отключена")
	} else {
		p.logger.Infof("Установлен полигон ROI из %d точек", len(norm))
	}
}

// LatestFrame возвращает последний опубликованный аннотированный JPEG-кадр
// либо nil, если конвейер еще ничего не опубликовал. Возвращенный буфер
// неизменяем после публикации.
func (p *Pipeline) LatestFrame() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latestJPEG
}

// LatestMetrics возвращает последний опубликованный снапшот метрик.
// Счетчики копируются, поэтому изменения у читателя не затрагивают
// опубликованный снапшот; номера кадров монотонно растут для любого
// отдельного читателя.
func (p *Pipeline) LatestMetrics() (models.MetricsSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snapshot := p.latestMetrics
	snapshot.Counts = maps.Clone(snapshot.Counts)
	return snapshot, p.hasMetrics
}

// IsRunning сообщает, работает ли рабочий цикл
func (p *Pipeline) IsRunning() bool {
	return p.running.Load()
}

// annotate рисует рамки и подписи треков на кадре
func annotate(frame *gocv.Mat, tracked []models.TrackedObject) {
	for _, obj := range tracked {
		name := models.ClassName(obj.ClassID)
		clr, ok := classColors[name]
		if !ok {
			clr = defaultColor
		}

		rect := image.Rect(int(obj.Box.X1), int(obj.Box.Y1), int(obj.Box.X2), int(obj.Box.Y2))
		gocv.Rectangle(frame, rect, clr, 2)

		label := fmt.Sprintf("%s %.2f ID:%d", name, obj.Confidence, obj.TrackID)
		gocv.PutText(frame, label, image.Pt(int(obj.Box.X1), int(obj.Box.Y1)-10),
			gocv.FontHersheySimplex, 0.5, clr, 2)
	}
}
