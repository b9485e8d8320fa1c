package handlers

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/3Eeeecho/go-uploadhub/internal/config"
	"github.com/3Eeeecho/go-uploadhub/internal/models"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/xerr"
	"github.com/3Eeeecho/go-uploadhub/internal/services/transfer"
	"github.com/gin-gonic/gin"
)

// TransferHandler 把上传引擎的操作暴露为 HTTP 接口
type TransferHandler struct {
	engine *transfer.Engine
	cfg    *config.Config
}

// NewTransferHandler 创建传输接口处理器
func NewTransferHandler(engine *transfer.Engine, cfg *config.Config) *TransferHandler {
	return &TransferHandler{engine: engine, cfg: cfg}
}

// buildOptions 把请求里的可选项转成引擎配置，空字段回落到全局默认值
func (h *TransferHandler) buildOptions(req *models.EnqueueRequest) (models.UploadOptions, error) {
	chunkSize, err := config.ParseByteSize(req.ChunkSize)
	if err != nil {
		return models.UploadOptions{}, err
	}
	if chunkSize == 0 {
		chunkSize, err = config.ParseByteSize(h.cfg.Engine.DefaultChunkSize)
		if err != nil {
			return models.UploadOptions{}, err
		}
	}
	maxChunks := req.MaxConcurrentChunks
	if maxChunks <= 0 {
		maxChunks = h.cfg.Engine.MaxConcurrentChunks
	}
	return models.UploadOptions{
		ChunkSize:           chunkSize,
		MaxConcurrentChunks: maxChunks,
		Resumable:           req.Resumable,
		Compress:            req.Compress,
		ResumeToken:         req.ResumeToken,
	}, nil
}

func describeFile(path string) (models.FileDescriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.FileDescriptor{}, err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return models.FileDescriptor{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MimeType: mimeType,
	}, nil
}

// Enqueue 入队一个本地文件的上传任务
func (h *TransferHandler) Enqueue(c *gin.Context) {
	var req models.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.AbortWithError(c, http.StatusBadRequest, xerr.InvalidParamsCode, "Invalid request body")
		return
	}

	opts, err := h.buildOptions(&req)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.ChunkSizeInvalidCode, "Invalid chunk size: "+err.Error())
		return
	}

	fd, err := describeFile(req.Path)
	if err != nil {
		xerr.Error(c, http.StatusNotFound, xerr.SourceNotFoundCode, xerr.ErrSourceNotFound.Error())
		return
	}

	src, err := transfer.OpenFileSource(req.Path)
	if err != nil {
		xerr.Error(c, http.StatusNotFound, xerr.SourceNotFoundCode, xerr.ErrSourceNotFound.Error())
		return
	}

	uploadID, err := h.engine.Enqueue(c, fd, req.Priority, opts, src)
	if err != nil {
		src.Close()
		xerr.Error(c, http.StatusBadRequest, xerr.CodeOf(err), err.Error())
		return
	}
	xerr.Success(c, http.StatusAccepted, "Upload enqueued", models.EnqueueResponse{UploadID: uploadID})
}

// Snapshot 返回队列与活跃集的整体状态
func (h *TransferHandler) Snapshot(c *gin.Context) {
	xerr.Success(c, http.StatusOK, "OK", h.engine.Snapshot())
}

// Status 返回单个任务的状态
func (h *TransferHandler) Status(c *gin.Context) {
	view, err := h.engine.Status(c.Param("id"))
	if err != nil {
		xerr.Error(c, http.StatusNotFound, xerr.CodeOf(err), err.Error())
		return
	}
	xerr.Success(c, http.StatusOK, "OK", view)
}

// Cancel 取消一个任务
func (h *TransferHandler) Cancel(c *gin.Context) {
	if !h.engine.Cancel(c.Param("id")) {
		xerr.Error(c, http.StatusNotFound, xerr.JobNotFoundCode, "任务不存在或已处于终态")
		return
	}
	xerr.Success(c, http.StatusOK, "Cancel requested", nil)
}

// Pause 暂停一个任务，保留续传记录
func (h *TransferHandler) Pause(c *gin.Context) {
	if !h.engine.Pause(c.Param("id")) {
		xerr.Error(c, http.StatusNotFound, xerr.JobNotFoundCode, "任务不存在或已处于终态")
		return
	}
	xerr.Success(c, http.StatusOK, "Pause requested", nil)
}

// Resume 凭续传记录重新入队任务，请求体里提供新的文件路径
func (h *TransferHandler) Resume(c *gin.Context) {
	id := c.Param("id")
	var req models.ResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.AbortWithError(c, http.StatusBadRequest, xerr.InvalidParamsCode, "Invalid request body")
		return
	}
	priority := req.Priority
	if priority == 0 {
		priority = 5
	}

	fd, err := describeFile(req.Path)
	if err != nil {
		xerr.Error(c, http.StatusNotFound, xerr.SourceNotFoundCode, xerr.ErrSourceNotFound.Error())
		return
	}
	src, err := transfer.OpenFileSource(req.Path)
	if err != nil {
		xerr.Error(c, http.StatusNotFound, xerr.SourceNotFoundCode, xerr.ErrSourceNotFound.Error())
		return
	}

	opts, err := h.buildOptions(&models.EnqueueRequest{})
	if err != nil {
		src.Close()
		xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, err.Error())
		return
	}

	if err := h.engine.Resume(c, id, fd, priority, opts, src); err != nil {
		src.Close()
		status := http.StatusBadRequest
		if errors.Is(err, xerr.ErrResumeNotFound) {
			status = http.StatusNotFound
		}
		xerr.Error(c, status, xerr.CodeOf(err), err.Error())
		return
	}
	xerr.Success(c, http.StatusAccepted, "Upload resumed", models.EnqueueResponse{UploadID: id})
}

// SetConcurrency 调整引擎级并发上限
func (h *TransferHandler) SetConcurrency(c *gin.Context) {
	var req models.ConcurrencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.AbortWithError(c, http.StatusBadRequest, xerr.InvalidParamsCode, "Invalid request body")
		return
	}
	applied := h.engine.SetMaxConcurrentUploads(req.MaxConcurrentUploads)
	xerr.Success(c, http.StatusOK, "Concurrency updated", gin.H{"max_concurrent_uploads": applied})
}

// SetThrottle 更新带宽限速配置，非法配置被拒绝且保持原配置
func (h *TransferHandler) SetThrottle(c *gin.Context) {
	var req models.ThrottleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.AbortWithError(c, http.StatusBadRequest, xerr.InvalidParamsCode, "Invalid request body")
		return
	}
	maxBps, err := config.ParseByteSize(req.MaxBytesPerSecond)
	if err != nil {
		xerr.Error(c, http.StatusUnprocessableEntity, xerr.ThrottleInvalidCode, "Invalid bandwidth value: "+err.Error())
		return
	}
	settings := transfer.ThrottleSettings{
		MaxBytesPerSecond: maxBps,
		Adaptive:          req.Adaptive,
		QuietStartHour:    req.QuietStartHour,
		QuietEndHour:      req.QuietEndHour,
		QuietFactor:       req.QuietFactor,
	}
	if err := h.engine.SetThrottle(settings); err != nil {
		xerr.Error(c, http.StatusUnprocessableEntity, xerr.CodeOf(err), err.Error())
		return
	}
	xerr.Success(c, http.StatusOK, "Throttle updated", nil)
}

// Analytics 返回统计快照
func (h *TransferHandler) Analytics(c *gin.Context) {
	xerr.Success(c, http.StatusOK, "OK", h.engine.AnalyticsSnapshot())
}
