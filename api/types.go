package api

import (
	"github.com/reclip/reclip/engine"
	"github.com/reclip/reclip/store"
	"github.com/reclip/reclip/types"
)

// =============================================================================
// 会话类型
// =============================================================================

// CreateSessionRequest 创建克隆会话请求。
// @Description 创建克隆会话请求结构
type CreateSessionRequest struct {
	// 源视频 URL
	SourceURL string `json:"source_url" example:"https://cdn.example.com/demo.mp4" binding:"required"`
	// 产品名称，用于提示词
	ProductName string `json:"product_name,omitempty" example:"Aurora Lamp"`
	// 生成供应商: kie.ai, defapi.org
	Provider types.ProviderID `json:"provider" example:"kie.ai"`
	// 生成模型（须被所选供应商支持）
	Model types.ModelID `json:"model" example:"veo-3.1-fast"`
	// 生成策略: segments, seamless
	Strategy types.Strategy `json:"strategy,omitempty" example:"segments"`
	// 变体数量，默认 1
	NumVariants int `json:"num_variants,omitempty" example:"2"`
}

// ToEngine 转换为引擎层请求。
func (r CreateSessionRequest) ToEngine() engine.CreateRequest {
	return engine.CreateRequest{
		SourceURL:   r.SourceURL,
		ProductName: r.ProductName,
		Provider:    r.Provider,
		Model:       r.Model,
		Strategy:    r.Strategy,
		NumVariants: r.NumVariants,
	}
}

// GenerateResponse 启动生成后的应答。
type GenerateResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status" example:"started"`
}

// UploadImageResponse 产品图上传应答。
type UploadImageResponse struct {
	SessionID string `json:"session_id"`
	ImageRef  string `json:"image_ref"`
}

// SessionListResponse 会话列表应答。
type SessionListResponse struct {
	Sessions []types.StatusSnapshot `json:"sessions"`
	Total    int                    `json:"total"`
}

// =============================================================================
// 预估与素材库类型
// =============================================================================

// EstimateResponse 成本预估应答。
type EstimateResponse struct {
	Provider      types.ProviderID `json:"provider"`
	Model         types.ModelID    `json:"model"`
	Strategy      types.Strategy   `json:"strategy"`
	Duration      float64          `json:"duration"`
	NumVariants   int              `json:"num_variants"`
	EstimatedCost float64          `json:"estimated_cost"`
}

// LibraryResponse 素材库查询应答。
type LibraryResponse struct {
	Items  []store.LibraryItem `json:"items"`
	Total  int64               `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// =============================================================================
// 设置类型
// =============================================================================

// UpdateKeysRequest 更新供应商 API key；nil 字段保持不变，空串清除。
type UpdateKeysRequest struct {
	KieAPIKey    *string `json:"kie_api_key,omitempty"`
	DefapiAPIKey *string `json:"defapi_api_key,omitempty"`
	GeminiAPIKey *string `json:"gemini_api_key,omitempty"`
}

// UpdatePromptsRequest 更新提示词模板；nil 字段保持不变，空串恢复默认。
type UpdatePromptsRequest struct {
	SoraTemplate *string `json:"sora_prompt_template,omitempty"`
	VeoTemplate  *string `json:"veo_prompt_template,omitempty"`
}

// ValidateKeyRequest 校验已保存的供应商 key。
type ValidateKeyRequest struct {
	Provider types.ProviderID `json:"provider" example:"kie.ai"`
}

// ValidateKeyResponse key 校验结果。
type ValidateKeyResponse struct {
	Provider types.ProviderID `json:"provider"`
	Valid    bool             `json:"valid"`
	Message  string           `json:"message,omitempty"`
}
