package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/Kehn-Marv/Remorph/config"
	"github.com/Kehn-Marv/Remorph/model"
	"github.com/Kehn-Marv/Remorph/service"
	"github.com/Kehn-Marv/Remorph/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AnalyzeHandler struct {
	cfg      *config.Config
	redis    *service.RedisService
	analyzer *service.Analyzer
	batch    *service.BatchProcessor
}

func NewAnalyzeHandler(cfg *config.Config, redis *service.RedisService, analyzer *service.Analyzer, batch *service.BatchProcessor) *AnalyzeHandler {
	return &AnalyzeHandler{
		cfg:      cfg,
		redis:    redis,
		analyzer: analyzer,
		batch:    batch,
	}
}

// Analyze 分析单张上传图片
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "image file is required",
			Error:   err.Error(),
		})
		return
	}

	if err := h.validateFile(file); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	data, err := readUpload(file)
	if err != nil {
		utils.Logger.Error("failed to read uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "failed to read uploaded file",
			Error:   err.Error(),
		})
		return
	}

	md5 := utils.BytesMD5(data)
	ctx := c.Request.Context()

	cached, err := h.redis.GetAnalysis(ctx, md5)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
	}
	if cached != nil {
		utils.Logger.Info("cache hit", zap.String("md5", md5))
		c.JSON(http.StatusOK, cached)
		return
	}

	result, err := h.analyzer.AnalyzeBytes(ctx, data, file.Filename)
	if err != nil {
		h.writeAnalysisError(c, err)
		return
	}

	if err := h.redis.SetAnalysis(ctx, md5, result); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}

	c.JSON(http.StatusOK, result)
}

// AnalyzeBatch 分析一批上传图片，数量越界在处理任何条目前整批拒绝
func (h *AnalyzeHandler) AnalyzeBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "multipart form is required",
			Error:   err.Error(),
		})
		return
	}

	files := form.File["files"]
	if len(files) == 0 || len(files) > h.cfg.Analysis.MaxBatchSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("batch must contain between 1 and %d images", h.cfg.Analysis.MaxBatchSize),
		})
		return
	}

	// 进入流水线前校验全部文件，保证拒绝时没有部分副作用
	images := make([]service.BatchImage, 0, len(files))
	for _, file := range files {
		if err := h.validateFile(file); err != nil {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Success: false,
				Message: fmt.Sprintf("%s: %s", file.Filename, err.Error()),
			})
			return
		}
		data, err := readUpload(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Success: false,
				Message: fmt.Sprintf("%s: failed to read file", file.Filename),
				Error:   err.Error(),
			})
			return
		}
		images = append(images, service.BatchImage{Filename: file.Filename, Data: data})
	}

	result, err := h.batch.Process(c.Request.Context(), images)
	if err != nil {
		h.writeAnalysisError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *AnalyzeHandler) validateFile(file *multipart.FileHeader) error {
	if file.Size > h.cfg.Upload.MaxSize {
		return fmt.Errorf("file too large, maximum %d MB", h.cfg.Upload.MaxSize/(1024*1024))
	}

	contentType := file.Header.Get("Content-Type")
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return nil
		}
	}
	return fmt.Errorf("unsupported file type %q, only image uploads are accepted", contentType)
}

func (h *AnalyzeHandler) writeAnalysisError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: err.Error(),
		})
	case errors.Is(err, service.ErrProcessing):
		c.JSON(http.StatusUnprocessableEntity, model.ErrorResponse{
			Success: false,
			Message: "image analysis failed",
			Error:   err.Error(),
		})
	default:
		utils.Logger.Error("analysis failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "internal analysis error",
			Error:   err.Error(),
		})
	}
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
