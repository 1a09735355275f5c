package engine

import (
	"context"

	"github.com/reclip/reclip/types"
)

// =============================================================================
// 🔌 协作者接口（由 media / analyze / promptgen 包提供实现）
// =============================================================================

// Downloader fetches a remote source video onto local disk.
// Failures surface as DOWNLOAD_ERROR.
type Downloader interface {
	Download(ctx context.Context, url, sessionID string) (*types.SourceMedia, error)
}

// Segmenter splits a source video into scenes. An empty result is not an
// error: the orchestrator falls back to treating the whole clip as a single
// scene when the source duration is known.
type Segmenter interface {
	DetectScenes(ctx context.Context, media *types.SourceMedia) ([]types.Scene, error)
}

// Analyzer produces a content description of the source video that prompt
// construction builds on. Failures surface as ANALYSIS_ERROR.
type Analyzer interface {
	Analyze(ctx context.Context, media *types.SourceMedia, productName string) (string, error)
}

// PromptBuilder renders the generation prompt for one planned clip.
type PromptBuilder interface {
	Build(req PromptRequest) (string, error)
}

// PromptRequest 聚合单个 clip 的提示词素材。
type PromptRequest struct {
	Scene       types.Scene
	Analysis    string
	ProductName string
	Model       types.ModelID
	Chained     bool // 延续前一个 clip 的 seamless 提交
}
