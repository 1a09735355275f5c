package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/reclip/reclip/api"
	"github.com/reclip/reclip/settings"
	"github.com/reclip/reclip/types"
)

// =============================================================================
// ⚙️ 设置 Handler
// =============================================================================

// SettingsHandler 运行时设置处理器。
// API key 永远不以明文返回，只暴露是否已配置与尾部提示。
type SettingsHandler struct {
	store  *settings.Store
	logger *zap.Logger
}

// NewSettingsHandler 创建设置处理器
func NewSettingsHandler(store *settings.Store, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		store:  store,
		logger: logger.With(zap.String("component", "settings_handler")),
	}
}

// Register 把设置相关路由挂到 mux 上。
func (h *SettingsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/settings", h.HandleGet)
	mux.HandleFunc("POST /api/settings/keys", h.HandleUpdateKeys)
	mux.HandleFunc("POST /api/settings/validate-key", h.HandleValidateKey)
	mux.HandleFunc("POST /api/settings/prompts", h.HandleUpdatePrompts)
	mux.HandleFunc("POST /api/settings/prompts/reset", h.HandleResetPrompts)
}

// HandleGet 处理 GET /api/settings
func (h *SettingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.store.MaskedView(r.Context())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, view)
}

// HandleUpdateKeys 处理 POST /api/settings/keys
// nil 字段保持不变，空串清除已存储的 key。
func (h *SettingsHandler) HandleUpdateKeys(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.UpdateKeysRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	view, err := h.store.Apply(r.Context(), settings.Update{
		KieAPIKey:    req.KieAPIKey,
		DefapiAPIKey: req.DefapiAPIKey,
		GeminiAPIKey: req.GeminiAPIKey,
	})
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("provider keys updated")
	WriteSuccess(w, view)
}

// HandleValidateKey 处理 POST /api/settings/validate-key
// 对已保存的 key 调用供应商余额端点做一次真实校验。
func (h *SettingsHandler) HandleValidateKey(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ValidateKeyRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if !req.Provider.Valid() {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"unknown provider", h.logger)
		return
	}

	resp := api.ValidateKeyResponse{Provider: req.Provider, Valid: true}
	if err := h.store.ValidateKey(r.Context(), req.Provider); err != nil {
		resp.Valid = false
		if apiErr := types.AsError(err); apiErr != nil {
			resp.Message = apiErr.Message
		} else {
			resp.Message = err.Error()
		}
	}

	WriteSuccess(w, resp)
}

// HandleUpdatePrompts 处理 POST /api/settings/prompts
func (h *SettingsHandler) HandleUpdatePrompts(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.UpdatePromptsRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	view, err := h.store.Apply(r.Context(), settings.Update{
		SoraTemplate: req.SoraTemplate,
		VeoTemplate:  req.VeoTemplate,
	})
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("prompt templates updated")
	WriteSuccess(w, view)
}

// HandleResetPrompts 处理 POST /api/settings/prompts/reset
// 清除自定义模板，回落到内置默认。
func (h *SettingsHandler) HandleResetPrompts(w http.ResponseWriter, r *http.Request) {
	empty := ""
	view, err := h.store.Apply(r.Context(), settings.Update{
		SoraTemplate: &empty,
		VeoTemplate:  &empty,
	})
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("prompt templates reset to defaults")
	WriteSuccess(w, view)
}
