package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/pairchat/internal/upload"
	"go.uber.org/zap"
)

type UploadHandler struct {
	processor *upload.Processor
	log       *zap.Logger
}

func NewUploadHandler(processor *upload.Processor, log *zap.Logger) *UploadHandler {
	return &UploadHandler{processor: processor, log: log}
}

// Upload принимает multipart файл, прогоняет его через процессор загрузок
// и возвращает метаданные для события fileMessage
func (h *UploadHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}

	info, err := h.processor.Process(fileHeader.Filename, data)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrNoFile),
			errors.Is(err, upload.ErrFileTooLarge),
			errors.Is(err, upload.ErrDisallowedType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.log.Error("upload processing failed", zap.String("file", fileHeader.Filename), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"fileUrl":     info.FileURL,
		"fileName":    info.FileName,
		"fileSize":    info.FileSize,
		"messageType": info.MessageType,
	})
}
