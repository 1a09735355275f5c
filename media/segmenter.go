package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/reclip/reclip/internal/tlsutil"
	"github.com/reclip/reclip/types"
)

// SegmenterConfig 配置外部分场服务客户端.
type SegmenterConfig struct {
	// BaseURL 为空时分场被禁用，编排层退化为整片单场景。
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// MinSceneSeconds 过滤太短的场景碎片。
	MinSceneSeconds float64 `json:"min_scene_seconds,omitempty" yaml:"min_scene_seconds,omitempty"`
}

// SceneServiceClient 调用外部场景检测服务.
// POST /v1/detect {"path": ...}，返回时长与场景区间。
type SceneServiceClient struct {
	cfg    SegmenterConfig
	client *http.Client
	logger *zap.Logger
}

// NewSceneServiceClient 创建场景检测客户端.
func NewSceneServiceClient(cfg SegmenterConfig, logger *zap.Logger) *SceneServiceClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	if cfg.MinSceneSeconds <= 0 {
		cfg.MinSceneSeconds = 1.0
	}
	return &SceneServiceClient{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger,
	}
}

type detectRequest struct {
	Path string `json:"path"`
}

type detectResponse struct {
	Duration float64 `json:"duration"`
	Scenes   []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Summary string  `json:"summary"`
	} `json:"scenes"`
}

// DetectScenes 检测场景边界。服务未配置时返回空结果而非错误；
// 服务返回的源时长会回填到 media，供整片退化路径使用。
func (c *SceneServiceClient) DetectScenes(ctx context.Context, media *types.SourceMedia) ([]types.Scene, error) {
	if c.cfg.BaseURL == "" {
		return nil, nil
	}

	payload, _ := json.Marshal(detectRequest{Path: media.LocalPath})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/detect", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scene service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("scene service error: status=%d body=%s", resp.StatusCode, string(errBody))
	}

	var dResp detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dResp); err != nil {
		return nil, fmt.Errorf("decode scene service response: %w", err)
	}

	if dResp.Duration > media.Duration {
		media.Duration = dResp.Duration
	}

	scenes := make([]types.Scene, 0, len(dResp.Scenes))
	for _, s := range dResp.Scenes {
		d := s.End - s.Start
		if d < c.cfg.MinSceneSeconds {
			continue
		}
		scenes = append(scenes, types.Scene{
			Index:    len(scenes),
			Start:    s.Start,
			End:      s.End,
			Duration: d,
			Summary:  s.Summary,
		})
	}

	c.logger.Info("scenes detected",
		zap.Int("raw", len(dResp.Scenes)),
		zap.Int("kept", len(scenes)),
		zap.Float64("duration", media.Duration),
	)
	return scenes, nil
}
