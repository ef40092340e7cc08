package video

import (
	"fmt"
	"strings"

	"gocv.io/x/gocv"
)

// defaultFPS используется, когда контейнер не сообщает частоту кадров
const defaultFPS = 25.0

// Source определяет контракт источника кадров для конвейера.
// Источником владеет исключительно рабочий цикл конвейера.
type Source interface {
	// Read читает очередной кадр; false означает конец потока или сбой чтения
	Read(dst *gocv.Mat) bool
	// SeekStart перематывает файловый источник на начало
	SeekStart() error
	// Drop пропускает n буферизованных кадров без декодирования (живые источники)
	Drop(n int)
	// FPS возвращает частоту кадров источника
	FPS() float64
	// IsLive сообщает, является ли источник живым потоком
	IsLive() bool
	// Path возвращает идентификатор источника
	Path() string
	// Close освобождает источник
	Close() error
}

// IsLiveSource определяет по идентификатору, является ли источник живым потоком
func IsLiveSource(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasPrefix(lower, "rtsp://") ||
		strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://")
}

// CaptureSource реализует Source поверх gocv.VideoCapture
type CaptureSource struct {
	cap  *gocv.VideoCapture
	path string
	fps  float64
	live bool
}

// Open открывает видеофайл или живой поток по идентификатору
func Open(path string) (*CaptureSource, error) {
	cap, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть видеоисточник %s: %w", path, err)
	}

	live := IsLiveSource(path)
	if live {
		// Минимальный буфер, чтобы не накапливать задержку живого потока
		cap.Set(gocv.VideoCaptureBufferSize, 1)
	}

	fps := cap.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = defaultFPS
	}

	return &CaptureSource{
		cap:  cap,
		path: path,
		fps:  fps,
		live: live,
	}, nil
}

// Read читает очередной кадр источника
func (s *CaptureSource) Read(dst *gocv.Mat) bool {
	return s.cap.Read(dst)
}

// SeekStart перематывает источник на первый кадр
func (s *CaptureSource) SeekStart() error {
	s.cap.Set(gocv.VideoCapturePosFrames, 0)
	return nil
}

// Drop пропускает n буферизованных кадров живого потока
func (s *CaptureSource) Drop(n int) {
	if !s.live || n <= 0 {
		return
	}
	s.cap.Grab(n)
}

// FPS возвращает частоту кадров источника
func (s *CaptureSource) FPS() float64 {
	return s.fps
}

// IsLive сообщает, является ли источник живым потоком
func (s *CaptureSource) IsLive() bool {
	return s.live
}

// Path возвращает идентификатор источника
func (s *CaptureSource) Path() string {
	return s.path
}

// Close освобождает источник
func (s *CaptureSource) Close() error {
	return s.cap.Close()
}
