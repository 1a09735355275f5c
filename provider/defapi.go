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

// DefapiConfig 配置 defapi.org 视频生成客户端.
type DefapiConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultDefapiConfig 返回默认 defapi.org 配置.
func DefaultDefapiConfig() DefapiConfig {
	return DefapiConfig{
		BaseURL: "https://api.defapi.org",
		Timeout: defaultHTTPTimeout,
	}
}

// DefapiClient 通过 defapi.org API 执行视频生成.
type DefapiClient struct {
	cfg    DefapiConfig
	client *http.Client
}

// NewDefapiClient 创建新的 defapi.org 客户端.
func NewDefapiClient(cfg DefapiConfig) *DefapiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.defapi.org"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}

	return &DefapiClient{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
	}
}

func (c *DefapiClient) Name() types.ProviderID { return types.ProviderDefapi }

// Increment defapi.org 的 veo-3.1 按 8s 步长计费.
func (c *DefapiClient) Increment(model types.ModelID) float64 { return 8 }

type defapiSubmitRequest struct {
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model"`
	Duration       float64 `json:"duration"`
	ReferenceImage string  `json:"reference_image,omitempty"`
	ExtendFrom     string  `json:"extend_from,omitempty"`
}

type defapiSubmitResponse struct {
	TaskID string `json:"task_id"`
	ID     string `json:"id"`
}

type defapiStatusResponse struct {
	Status    string  `json:"status"` // pending, processing, completed, success, failed, error
	VideoURL  string  `json:"video_url"`
	OutputURL string  `json:"output_url"`
	Duration  float64 `json:"duration"`
	Error     string  `json:"error"`
}

// Submit 提交一个生成任务.
func (c *DefapiClient) Submit(ctx context.Context, req *SubmitRequest) (*Job, error) {
	if req.Prompt == "" {
		return nil, types.NewProviderRejectedError(string(types.ProviderDefapi), "empty prompt", false)
	}
	if req.Model != types.ModelDefapiVeo31 {
		return nil, types.NewProviderRejectedError(string(types.ProviderDefapi),
			fmt.Sprintf("model %s not supported by defapi.org", req.Model), false)
	}

	body := defapiSubmitRequest{
		Prompt:         req.Prompt,
		Model:          "veo-3.1",
		Duration:       req.Duration,
		ReferenceImage: req.ImageRef,
		ExtendFrom:     req.PrevMediaRef,
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/video/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, types.NewProviderRejectedError(string(types.ProviderDefapi), "submit request failed", true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.rejectionError(resp)
	}

	var sResp defapiSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sResp); err != nil {
		return nil, fmt.Errorf("failed to decode defapi.org response: %w", err)
	}

	id := sResp.TaskID
	if id == "" {
		id = sResp.ID
	}
	if id == "" {
		return nil, types.NewProviderRejectedError(string(types.ProviderDefapi), "no task id in response", false)
	}

	return &Job{ID: id, Provider: types.ProviderDefapi}, nil
}

// Poll 查询任务状态.
func (c *DefapiClient) Poll(ctx context.Context, job *Job) (*PollResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/video/status/%s", c.cfg.BaseURL, job.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("defapi.org poll failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("defapi.org poll error: status=%d body=%s", resp.StatusCode, string(errBody))
	}

	var tResp defapiStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&tResp); err != nil {
		return nil, fmt.Errorf("failed to decode defapi.org status: %w", err)
	}

	switch tResp.Status {
	case "completed", "success":
		mediaRef := tResp.VideoURL
		if mediaRef == "" {
			mediaRef = tResp.OutputURL
		}
		return &PollResult{
			State:    JobSucceeded,
			MediaRef: mediaRef,
			Duration: tResp.Duration,
		}, nil
	case "failed", "error":
		reason := tResp.Error
		if reason == "" {
			reason = "generation failed"
		}
		return &PollResult{
			State: JobFailed,
			Err:   types.NewProviderRejectedError(string(types.ProviderDefapi), reason, false),
		}, nil
	default:
		return &PollResult{State: JobPending}, nil
	}
}

// Cancel 尽力取消任务.
func (c *DefapiClient) Cancel(ctx context.Context, job *Job) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/video/cancel/%s", c.cfg.BaseURL, job.ID), nil)
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
func (c *DefapiClient) CheckAuth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/api/v1/user/balance", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("defapi.org auth check failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("defapi.org auth check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (c *DefapiClient) rejectionError(resp *http.Response) *types.Error {
	errBody, _ := io.ReadAll(resp.Body)
	reason := fmt.Sprintf("defapi.org rejected submission: status=%d body=%s", resp.StatusCode, string(errBody))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, reason).
			WithProvider(string(types.ProviderDefapi)).
			WithRetryable(true)
	case resp.StatusCode == http.StatusPaymentRequired:
		return types.NewError(types.ErrQuotaExceeded, reason).
			WithProvider(string(types.ProviderDefapi))
	case resp.StatusCode >= 500:
		return types.NewProviderRejectedError(string(types.ProviderDefapi), reason, true)
	default:
		return types.NewProviderRejectedError(string(types.ProviderDefapi), reason, false)
	}
}
