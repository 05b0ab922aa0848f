package upload

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

var (
	ErrNoFile         = errors.New("no file uploaded")
	ErrFileTooLarge   = errors.New("file too large")
	ErrDisallowedType = errors.New("only images, documents, and archives are allowed")
)

// Разрешены изображения, документы и архивы
var allowedExtensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".gif":  true,
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".txt":  true,
	".zip":  true,
	".rar":  true,
}

const (
	resizeMaxWidth  = 800
	resizeMaxHeight = 600
	jpegQuality     = 80
)

// FileInfo результат обработки загрузки; клиент передает эти поля
// обратно в событии fileMessage
type FileInfo struct {
	FileURL     string `json:"fileUrl"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MessageType string `json:"messageType"`
}

// Processor принимает сырые байты загрузки, проверяет тип, сжимает
// изображения и сохраняет файл на диск. Сообщение с вложением создается
// только после успешной обработки.
type Processor struct {
	dir     string
	maxSize int64
	log     *zap.Logger
}

func NewProcessor(dir string, maxSize int64, log *zap.Logger) (*Processor, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Processor{dir: dir, maxSize: maxSize, log: log}, nil
}

// Process валидирует и сохраняет файл, возвращая метаданные вложения.
// Изображения уменьшаются до 800x600 (без увеличения) и пережимаются в JPEG.
func (p *Processor) Process(originalName string, data []byte) (*FileInfo, error) {
	if len(data) == 0 {
		return nil, ErrNoFile
	}

	if p.maxSize > 0 && int64(len(data)) > p.maxSize {
		return nil, ErrFileTooLarge
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	if !allowedExtensions[ext] {
		return nil, ErrDisallowedType
	}

	// Расширению не доверяем: тип определяется по содержимому
	mime := mimetype.Detect(data)
	isImage := strings.HasPrefix(mime.String(), "image/")
	if !isImage && !allowedExtensions[strings.ToLower(mime.Extension())] {
		return nil, ErrDisallowedType
	}

	storedName := fmt.Sprintf("file-%d-%d%s", time.Now().UnixMilli(), rand.Intn(1_000_000_000), ext)

	stored := data
	messageType := "file"
	if isImage {
		resized, err := p.compressImage(data)
		if err != nil {
			return nil, fmt.Errorf("compress image: %w", err)
		}

		stored = resized
		storedName = "compressed-" + strings.TrimSuffix(storedName, ext) + ".jpg"
		messageType = "image"
	}

	if err := os.WriteFile(filepath.Join(p.dir, storedName), stored, 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	size := int64(len(stored))

	p.log.Info("file processed",
		zap.String("name", originalName),
		zap.String("stored", storedName),
		zap.Int64("size", size),
		zap.String("type", messageType))

	return &FileInfo{
		FileURL:     "/uploads/" + storedName,
		FileName:    originalName,
		FileSize:    size,
		MessageType: messageType,
	}, nil
}

// compressImage вписывает изображение в resizeMaxWidth x resizeMaxHeight
// с сохранением пропорций и кодирует в JPEG
func (p *Processor) compressImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	// Fit не увеличивает изображения меньше рамки
	resized := imaging.Fit(img, resizeMaxWidth, resizeMaxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
