package types

// SourceMedia 描述一次下载落盘后的源视频。
type SourceMedia struct {
	SourceURL string  `json:"source_url"`
	LocalPath string  `json:"local_path"`
	Duration  float64 `json:"duration"` // 秒，0 表示未知
	Title     string  `json:"title,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
}
