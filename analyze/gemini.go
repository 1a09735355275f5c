// Package analyze 通过 Gemini 多模态接口生成源视频的内容描述，
// 供提示词构建使用。分析失败以 ANALYSIS_ERROR 上报。
package analyze

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/reclip/reclip/internal/tlsutil"
	"github.com/reclip/reclip/types"
)

// 内联上传上限：Gemini inline_data 对请求体的实际限制约 20MB
const maxInlineBytes = 19 << 20

// GeminiConfig 配置 Gemini 分析客户端.
type GeminiConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	Model   string        `json:"model" yaml:"model"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// GeminiAnalyzer 使用 Gemini generateContent 分析视频内容.
type GeminiAnalyzer struct {
	cfg    GeminiConfig
	client *http.Client
}

// NewGeminiAnalyzer 创建新的 Gemini 分析器.
func NewGeminiAnalyzer(cfg GeminiConfig) *GeminiAnalyzer {
	if cfg.Model == "" {
		cfg.Model = "gemini-3-flash-preview"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 180 * time.Second
	}

	return &GeminiAnalyzer{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
	}
}

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inline_data,omitempty"`
}

type geminiInline struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

const analysisPrompt = `Describe this video for an advertising team: the setting, the people or objects on screen, the pacing, the mood, and how the product "%s" is presented. Reply with a compact prose description, no lists.`

// Analyze 将源视频内联上传并返回内容描述.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, media *types.SourceMedia, productName string) (string, error) {
	if a.cfg.APIKey == "" {
		return "", types.NewAnalysisError(fmt.Errorf("gemini API key not configured"))
	}

	data, err := os.ReadFile(media.LocalPath)
	if err != nil {
		return "", types.NewAnalysisError(fmt.Errorf("read source video: %w", err))
	}
	if len(data) > maxInlineBytes {
		// 超限时截断上传前段内容，描述质量优于直接失败
		data = data[:maxInlineBytes]
	}

	body := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiInline{
					MimeType: "video/mp4",
					Data:     base64.StdEncoding.EncodeToString(data),
				}},
				{Text: fmt.Sprintf(analysisPrompt, productName)},
			},
		}},
		GenerationConfig: &geminiGenConfig{
			Temperature:     0.4,
			MaxOutputTokens: 8192,
		},
	}

	payload, _ := json.Marshal(body)
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		a.cfg.BaseURL, a.cfg.Model, a.cfg.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewAnalysisError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", types.NewAnalysisError(fmt.Errorf("gemini request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return "", types.NewAnalysisError(
			fmt.Errorf("gemini error: status=%d body=%s", resp.StatusCode, string(errBody)))
	}

	var gResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gResp); err != nil {
		return "", types.NewAnalysisError(fmt.Errorf("decode gemini response: %w", err))
	}

	if len(gResp.Candidates) == 0 || len(gResp.Candidates[0].Content.Parts) == 0 {
		return "", types.NewAnalysisError(fmt.Errorf("gemini returned no candidates"))
	}
	return gResp.Candidates[0].Content.Parts[0].Text, nil
}
