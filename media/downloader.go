// Package media 负责源视频的获取与分场。
// 下载失败以 DOWNLOAD_ERROR 上报；分场失败不终止会话，
// 由编排层退化为整片单场景。
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reclip/reclip/internal/tlsutil"
	"github.com/reclip/reclip/types"
)

// 单个源视频的体积上限
const maxDownloadBytes = 512 << 20

// DownloaderConfig 配置 HTTP 下载器.
type DownloaderConfig struct {
	// WorkDir 是落盘目录，空值使用系统临时目录。
	WorkDir string        `json:"work_dir" yaml:"work_dir"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// FFProbePath 用于探测源时长；留空时在 PATH 查找，找不到则时长未知。
	FFProbePath string `json:"ffprobe_path,omitempty" yaml:"ffprobe_path,omitempty"`
}

// HTTPDownloader 通过直接 HTTP GET 获取源视频.
type HTTPDownloader struct {
	cfg    DownloaderConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPDownloader 创建 HTTP 下载器.
func NewHTTPDownloader(cfg DownloaderConfig, logger *zap.Logger) *HTTPDownloader {
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "reclip")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPDownloader{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger,
	}
}

// Download 拉取源视频到工作目录并探测时长.
func (d *HTTPDownloader) Download(ctx context.Context, url, sessionID string) (*types.SourceMedia, error) {
	if err := os.MkdirAll(d.cfg.WorkDir, 0o755); err != nil {
		return nil, types.NewDownloadError(fmt.Errorf("create work dir: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewDownloadError(err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, types.NewDownloadError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewDownloadError(fmt.Errorf("unexpected status %d from source", resp.StatusCode))
	}
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/html") {
		return nil, types.NewDownloadError(fmt.Errorf("source returned an HTML page, not a video (content-type %s)", ct))
	}

	localPath := filepath.Join(d.cfg.WorkDir, sessionID+".mp4")
	tmp := localPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, types.NewDownloadError(err)
	}

	written, err := io.Copy(f, io.LimitReader(resp.Body, maxDownloadBytes+1))
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmp)
		return nil, types.NewDownloadError(err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return nil, types.NewDownloadError(closeErr)
	}
	if written == 0 {
		os.Remove(tmp)
		return nil, types.NewDownloadError(fmt.Errorf("source is empty"))
	}
	if written > maxDownloadBytes {
		os.Remove(tmp)
		return nil, types.NewDownloadError(fmt.Errorf("source exceeds %d byte limit", maxDownloadBytes))
	}
	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp)
		return nil, types.NewDownloadError(err)
	}

	media := &types.SourceMedia{
		SourceURL: url,
		LocalPath: localPath,
	}
	media.Duration = d.probeDuration(ctx, localPath)

	d.logger.Info("source downloaded",
		zap.String("session_id", sessionID),
		zap.Int64("bytes", written),
		zap.Float64("duration", media.Duration),
	)
	return media, nil
}

// probeDuration 调用 ffprobe 读取容器时长；探测失败返回 0（时长未知），
// 后续由分场服务补全。
func (d *HTTPDownloader) probeDuration(ctx context.Context, path string) float64 {
	bin := d.cfg.FFProbePath
	if bin == "" {
		found, err := exec.LookPath("ffprobe")
		if err != nil {
			return 0
		}
		bin = found
	}

	out, err := exec.CommandContext(ctx, bin,
		"-v", "quiet", "-print_format", "json", "-show_format", path).Output()
	if err != nil {
		d.logger.Debug("ffprobe failed", zap.Error(err))
		return 0
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0
	}
	dur, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return dur
}
