package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/reclip/reclip/internal/tlsutil"
	"github.com/reclip/reclip/types"
)

// KieConfig 配置 kie.ai 视频生成客户端.
type KieConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultKieConfig 返回默认 kie.ai 配置.
func DefaultKieConfig() KieConfig {
	return KieConfig{
		BaseURL: "https://api.kie.ai",
		Timeout: defaultHTTPTimeout,
	}
}

// KieClient 通过 kie.ai 托管 API 执行视频生成.
// 提交返回 task id，完成状态通过 GET /v1/tasks/{id} 轮询.
type KieClient struct {
	cfg    KieConfig
	client *http.Client
}

// NewKieClient 创建新的 kie.ai 客户端.
func NewKieClient(cfg KieConfig) *KieClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.kie.ai"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}

	return &KieClient{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
	}
}

func (c *KieClient) Name() types.ProviderID { return types.ProviderKie }

// Increment 返回模型支持的时长步长：Veo 系列 8s，Sora 系列 10s.
func (c *KieClient) Increment(model types.ModelID) float64 {
	switch model {
	case types.ModelSora2, types.ModelSora2Pro:
		return 10
	default:
		return 8
	}
}

// kie.ai 的模型路径映射
var kieModelPaths = map[types.ModelID]string{
	types.ModelVeo31Fast:    "veo-3.1-generate-video/fast",
	types.ModelVeo31Quality: "veo-3.1-generate-video/quality",
	types.ModelSora2:        "sora-2-generate-video",
	types.ModelSora2Pro:     "sora-2-pro-generate-video",
}

type kieSubmitRequest struct {
	Prompt     string  `json:"prompt"`
	Duration   float64 `json:"duration"`
	Image      string  `json:"image,omitempty"`
	ExtendFrom string  `json:"extend_from,omitempty"`
}

type kieSubmitResponse struct {
	TaskID string `json:"task_id"`
	ID     string `json:"id"`
}

type kieTaskResponse struct {
	Status   string  `json:"status"` // queued, processing, completed, failed
	VideoURL string  `json:"video_url"`
	Duration float64 `json:"duration"`
	Cost     float64 `json:"cost"`
	Error    string  `json:"error"`
	Output   struct {
		VideoURL string `json:"video_url"`
	} `json:"output"`
}

// Submit 提交一个生成任务.
func (c *KieClient) Submit(ctx context.Context, req *SubmitRequest) (*Job, error) {
	if req.Prompt == "" {
		return nil, types.NewProviderRejectedError(string(types.ProviderKie), "empty prompt", false)
	}
	path, ok := kieModelPaths[req.Model]
	if !ok {
		return nil, types.NewProviderRejectedError(string(types.ProviderKie),
			fmt.Sprintf("model %s not supported by kie.ai", req.Model), false)
	}

	body := kieSubmitRequest{
		Prompt:     req.Prompt,
		Duration:   req.Duration,
		Image:      req.ImageRef,
		ExtendFrom: req.PrevMediaRef,
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/%s", c.cfg.BaseURL, path), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, types.NewProviderRejectedError(string(types.ProviderKie), "submit request failed", true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.rejectionError(resp)
	}

	var sResp kieSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sResp); err != nil {
		return nil, fmt.Errorf("failed to decode kie.ai response: %w", err)
	}

	id := sResp.TaskID
	if id == "" {
		id = sResp.ID
	}
	if id == "" {
		return nil, types.NewProviderRejectedError(string(types.ProviderKie), "no task id in response", false)
	}

	return &Job{ID: id, Provider: types.ProviderKie}, nil
}

// Poll 查询任务状态.
func (c *KieClient) Poll(ctx context.Context, job *Job) (*PollResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/tasks/%s", c.cfg.BaseURL, job.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("kie.ai poll failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("kie.ai poll error: status=%d body=%s", resp.StatusCode, string(errBody))
	}

	var tResp kieTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&tResp); err != nil {
		return nil, fmt.Errorf("failed to decode kie.ai task: %w", err)
	}

	switch tResp.Status {
	case "completed":
		mediaRef := tResp.VideoURL
		if mediaRef == "" {
			mediaRef = tResp.Output.VideoURL
		}
		return &PollResult{
			State:    JobSucceeded,
			MediaRef: mediaRef,
			Duration: tResp.Duration,
			Cost:     tResp.Cost,
		}, nil
	case "failed":
		reason := tResp.Error
		if reason == "" {
			reason = "generation failed"
		}
		return &PollResult{
			State: JobFailed,
			Err:   types.NewProviderRejectedError(string(types.ProviderKie), reason, false),
		}, nil
	default:
		return &PollResult{State: JobPending}, nil
	}
}

// Cancel 尽力取消任务；kie.ai 不一定支持，404/405 视为无操作.
func (c *KieClient) Cancel(ctx context.Context, job *Job) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/tasks/%s/cancel", c.cfg.BaseURL, job.ID), nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// CheckAuth 通过余额端点验证 API key.
func (c *KieClient) CheckAuth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/api/user/balance", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("kie.ai auth check failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kie.ai auth check failed: status %d", resp.StatusCode)
	}
	return nil
}

// rejectionError 将同步拒绝映射为结构化错误：
// 429/5xx 标记为瞬时，余额不足映射为配额错误，其余 4xx 为永久拒绝.
func (c *KieClient) rejectionError(resp *http.Response) *types.Error {
	errBody, _ := io.ReadAll(resp.Body)
	reason := fmt.Sprintf("kie.ai rejected submission: status=%d body=%s", resp.StatusCode, string(errBody))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, reason).
			WithProvider(string(types.ProviderKie)).
			WithRetryable(true)
	case resp.StatusCode == http.StatusPaymentRequired:
		return types.NewError(types.ErrQuotaExceeded, reason).
			WithProvider(string(types.ProviderKie))
	case resp.StatusCode >= 500:
		return types.NewProviderRejectedError(string(types.ProviderKie), reason, true)
	default:
		return types.NewProviderRejectedError(string(types.ProviderKie), reason, false)
	}
}
