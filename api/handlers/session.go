package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/reclip/reclip/api"
	"github.com/reclip/reclip/engine"
	"github.com/reclip/reclip/types"
)

// =============================================================================
// 🎬 会话 Handler
// =============================================================================

// UploadConfig 产品图上传配置
type UploadConfig struct {
	// 上传文件落盘目录
	Dir string
	// 单文件大小上限（字节）
	MaxBytes int64
}

// SessionHandler 克隆会话处理器
type SessionHandler struct {
	mgr     *engine.Manager
	uploads UploadConfig
	logger  *zap.Logger
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(mgr *engine.Manager, uploads UploadConfig, logger *zap.Logger) *SessionHandler {
	if uploads.MaxBytes <= 0 {
		uploads.MaxBytes = 10 << 20
	}
	return &SessionHandler{
		mgr:     mgr,
		uploads: uploads,
		logger:  logger.With(zap.String("component", "session_handler")),
	}
}

// Register 把会话相关路由挂到 mux 上。
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.HandleCreate)
	mux.HandleFunc("GET /api/sessions", h.HandleList)
	mux.HandleFunc("GET /api/sessions/{id}", h.HandleDetail)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.HandleDelete)
	mux.HandleFunc("POST /api/sessions/{id}/image", h.HandleUploadImage)
	mux.HandleFunc("POST /api/sessions/{id}/generate", h.HandleGenerate)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", h.HandleCancel)
	mux.HandleFunc("GET /api/sessions/{id}/status", h.HandleStatus)
	mux.HandleFunc("GET /api/sessions/{id}/progress/ws", h.HandleProgressWS)
	mux.HandleFunc("GET /api/estimate", h.HandleEstimate)
}

// HandleCreate 处理 POST /api/sessions
// @Summary 创建克隆会话
// @Tags 会话
// @Accept json
// @Produce json
// @Success 200 {object} Response "pending 会话"
// @Failure 400 {object} Response "请求非法"
// @Router /api/sessions [post]
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.CreateSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	session, err := h.mgr.Create(r.Context(), req.ToEngine())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, session)
}

// HandleList 处理 GET /api/sessions
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.mgr.List(r.Context())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.SessionListResponse{Sessions: snapshots, Total: len(snapshots)})
}

// HandleDetail 处理 GET /api/sessions/{id}
func (h *SessionHandler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	session, err := h.mgr.Detail(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, session)
}

// HandleDelete 处理 DELETE /api/sessions/{id}
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.mgr.Delete(r.Context(), id); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"session_id": id, "status": "deleted"})
}

// HandleGenerate 处理 POST /api/sessions/{id}/generate
// 启动整条生成流水线；会话已在运行时返回 409。
// 对 failed 会话再次调用是重试：只重启失败的变体。
func (h *SessionHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.mgr.Start(r.Context(), id); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("generation started", zap.String("session_id", id))
	WriteSuccess(w, api.GenerateResponse{SessionID: id, Status: "started"})
}

// HandleCancel 处理 POST /api/sessions/{id}/cancel
func (h *SessionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.mgr.Cancel(r.Context(), id); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"session_id": id, "status": "cancelling"})
}

// HandleStatus 处理 GET /api/sessions/{id}/status
func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.mgr.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, snap)
}

// =============================================================================
// 🖼️ 产品图上传
// =============================================================================

// HandleUploadImage 处理 POST /api/sessions/{id}/image
// multipart 字段名 image；仅接受常见图片格式。
func (h *SessionHandler) HandleUploadImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, h.uploads.MaxBytes)
	if err := r.ParseMultipartForm(h.uploads.MaxBytes); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"invalid multipart body or file too large", h.logger)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"missing form file \"image\"", h.logger)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
	default:
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			fmt.Sprintf("unsupported image type %q", ext), h.logger)
		return
	}

	ref, err := h.saveUpload(file, id, ext)
	if err != nil {
		WriteAnyError(w, types.NewError(types.ErrInternal, "failed to store image").WithCause(err), h.logger)
		return
	}

	if err := h.mgr.AttachImage(r.Context(), id, ref); err != nil {
		os.Remove(ref)
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("product image attached",
		zap.String("session_id", id),
		zap.String("image_ref", ref),
	)
	WriteSuccess(w, api.UploadImageResponse{SessionID: id, ImageRef: ref})
}

func (h *SessionHandler) saveUpload(src multipart.File, sessionID, ext string) (string, error) {
	dir := filepath.Join(h.uploads.Dir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, sessionID+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// =============================================================================
// 📡 进度推送
// =============================================================================

// HandleProgressWS 处理 GET /api/sessions/{id}/progress/ws
// 升级为 websocket 后按会话事件推送状态快照，终态帧送达后正常关闭。
// 终态会话只收到一帧最终状态。
func (h *SessionHandler) HandleProgressWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	updates, unsubscribe, err := h.mgr.Subscribe(r.Context(), id)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// CORS 已由中间件把关，这里不重复校验 Origin
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed",
			zap.String("session_id", id),
			zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	// 不读取客户端数据，CloseRead 负责响应关闭帧与探测断连
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				// 订阅结束：终态帧已全部送出
				conn.Close(websocket.StatusNormalClosure, "session finished")
				return
			}
			if err := wsjson.Write(ctx, conn, snap); err != nil {
				h.logger.Debug("progress push failed, client gone",
					zap.String("session_id", id),
					zap.Error(err))
				return
			}
			if snap.Status.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "session finished")
				return
			}
		}
	}
}

// =============================================================================
// 💰 成本预估
// =============================================================================

// HandleEstimate 处理 GET /api/estimate
// 查询参数: provider, model, strategy, duration, num_variants。
// 纯价格表计算，不访问任何供应商。
func (h *SessionHandler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	duration, err := strconv.ParseFloat(q.Get("duration"), 64)
	if err != nil || duration < 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"duration must be a non-negative number", h.logger)
		return
	}

	numVariants := 1
	if raw := q.Get("num_variants"); raw != "" {
		numVariants, err = strconv.Atoi(raw)
		if err != nil || numVariants <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"num_variants must be a positive integer", h.logger)
			return
		}
	}

	req := engine.EstimateRequest{
		Provider:    types.ProviderID(q.Get("provider")),
		Model:       types.ModelID(q.Get("model")),
		Strategy:    types.Strategy(q.Get("strategy")),
		Duration:    duration,
		NumVariants: numVariants,
	}
	if req.Strategy == "" {
		req.Strategy = types.StrategySegments
	}

	cost, err := h.mgr.Estimate(req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.EstimateResponse{
		Provider:      req.Provider,
		Model:         req.Model,
		Strategy:      req.Strategy,
		Duration:      req.Duration,
		NumVariants:   req.NumVariants,
		EstimatedCost: cost,
	})
}
