// Package settings 管理运行时可调的应用设置：供应商 API key、
// 服务端点与提示词模板。设置存放在 Redis 的 app_settings 哈希中，
// 更新即时生效，对外读取时 key 只以掩码形式出现。
package settings

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reclip/reclip/promptgen"
	"github.com/reclip/reclip/provider"
	"github.com/reclip/reclip/types"
)

// settingsKey Redis 哈希键
const settingsKey = "app_settings"

// 哈希字段名
const (
	fieldKieKey       = "kie_api_key"
	fieldDefapiKey    = "defapi_api_key"
	fieldGeminiKey    = "gemini_api_key"
	fieldKieBase      = "kie_base_url"
	fieldDefapiBase   = "defapi_base_url"
	fieldSoraTemplate = "sora_prompt_template"
	fieldVeoTemplate  = "veo_prompt_template"
)

// Settings 是设置的完整明文视图，只在进程内部流转。
type Settings struct {
	KieAPIKey     string
	DefapiAPIKey  string
	GeminiAPIKey  string
	KieBaseURL    string
	DefapiBaseURL string
	Templates     promptgen.Templates
}

// Update 描述一次部分更新；nil 字段保持不变，空串字段清除既有值。
type Update struct {
	KieAPIKey     *string `json:"kie_api_key,omitempty"`
	DefapiAPIKey  *string `json:"defapi_api_key,omitempty"`
	GeminiAPIKey  *string `json:"gemini_api_key,omitempty"`
	KieBaseURL    *string `json:"kie_base_url,omitempty"`
	DefapiBaseURL *string `json:"defapi_base_url,omitempty"`
	SoraTemplate  *string `json:"sora_prompt_template,omitempty"`
	VeoTemplate   *string `json:"veo_prompt_template,omitempty"`
}

// MaskedKey 是 API key 的对外视图：是否已配置 + 尾部提示。
type MaskedKey struct {
	Configured bool   `json:"configured"`
	Hint       string `json:"hint,omitempty"`
}

// View 是设置的对外视图，key 永不明文出现。
type View struct {
	KieAPIKey     MaskedKey           `json:"kie_api_key"`
	DefapiAPIKey  MaskedKey           `json:"defapi_api_key"`
	GeminiAPIKey  MaskedKey           `json:"gemini_api_key"`
	KieBaseURL    string              `json:"kie_base_url,omitempty"`
	DefapiBaseURL string              `json:"defapi_base_url,omitempty"`
	Templates     promptgen.Templates `json:"prompt_templates"`
}

// Store 读写 Redis 中的应用设置，并维护一份进程内缓存，
// 供不带 context 的热路径（提示词模板）使用。
type Store struct {
	rdb      *redis.Client
	defaults Settings
	logger   *zap.Logger

	mu     sync.RWMutex
	cached Settings
}

// NewStore 创建设置存储。defaults 通常来自环境配置，
// Redis 中的非空字段覆盖默认值。
func NewStore(rdb *redis.Client, defaults Settings, logger *zap.Logger) *Store {
	return &Store{
		rdb:      rdb,
		defaults: defaults,
		logger:   logger,
		cached:   defaults,
	}
}

// Snapshot 返回合并后的设置明文视图并刷新进程内缓存。
func (s *Store) Snapshot(ctx context.Context) (Settings, error) {
	fields, err := s.rdb.HGetAll(ctx, settingsKey).Result()
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}

	merged := s.defaults
	pick := func(field string, dst *string) {
		if v, ok := fields[field]; ok && v != "" {
			*dst = v
		}
	}
	pick(fieldKieKey, &merged.KieAPIKey)
	pick(fieldDefapiKey, &merged.DefapiAPIKey)
	pick(fieldGeminiKey, &merged.GeminiAPIKey)
	pick(fieldKieBase, &merged.KieBaseURL)
	pick(fieldDefapiBase, &merged.DefapiBaseURL)
	pick(fieldSoraTemplate, &merged.Templates.Sora)
	pick(fieldVeoTemplate, &merged.Templates.Veo)

	s.mu.Lock()
	s.cached = merged
	s.mu.Unlock()
	return merged, nil
}

// Apply 写入部分更新并返回更新后的对外视图。
func (s *Store) Apply(ctx context.Context, u Update) (View, error) {
	fields := map[string]any{}
	set := func(field string, v *string) {
		if v != nil {
			fields[field] = strings.TrimSpace(*v)
		}
	}
	set(fieldKieKey, u.KieAPIKey)
	set(fieldDefapiKey, u.DefapiAPIKey)
	set(fieldGeminiKey, u.GeminiAPIKey)
	set(fieldKieBase, u.KieBaseURL)
	set(fieldDefapiBase, u.DefapiBaseURL)
	set(fieldSoraTemplate, u.SoraTemplate)
	set(fieldVeoTemplate, u.VeoTemplate)

	if len(fields) > 0 {
		if err := s.rdb.HSet(ctx, settingsKey, fields).Err(); err != nil {
			return View{}, fmt.Errorf("save settings: %w", err)
		}
		s.logger.Info("settings updated", zap.Int("fields", len(fields)))
	}
	return s.MaskedView(ctx)
}

// MaskedView 返回设置的掩码视图。
func (s *Store) MaskedView(ctx context.Context) (View, error) {
	merged, err := s.Snapshot(ctx)
	if err != nil {
		return View{}, err
	}
	return View{
		KieAPIKey:     mask(merged.KieAPIKey),
		DefapiAPIKey:  mask(merged.DefapiAPIKey),
		GeminiAPIKey:  mask(merged.GeminiAPIKey),
		KieBaseURL:    merged.KieBaseURL,
		DefapiBaseURL: merged.DefapiBaseURL,
		Templates:     merged.Templates,
	}, nil
}

// ProviderCredentials 实现 engine.CredentialSource：
// 每次会话启动时取最新凭据，key 轮换无需重启。
func (s *Store) ProviderCredentials(ctx context.Context) (provider.Keys, provider.Endpoints, error) {
	merged, err := s.Snapshot(ctx)
	if err != nil {
		return provider.Keys{}, provider.Endpoints{}, err
	}
	return provider.Keys{Kie: merged.KieAPIKey, Defapi: merged.DefapiAPIKey},
		provider.Endpoints{Kie: merged.KieBaseURL, Defapi: merged.DefapiBaseURL}, nil
}

// GeminiKey 返回当前生效的 Gemini key。
func (s *Store) GeminiKey(ctx context.Context) (string, error) {
	merged, err := s.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return merged.GeminiAPIKey, nil
}

// Templates 返回缓存的提示词模板，供 promptgen.Builder 的热路径使用。
// 缓存随 Snapshot / Apply 刷新。
func (s *Store) Templates() promptgen.Templates {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached.Templates
}

// ValidateKey 用余额端点实测指定供应商的 key。
func (s *Store) ValidateKey(ctx context.Context, id types.ProviderID) error {
	merged, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}

	var client provider.Client
	switch id {
	case types.ProviderKie:
		if merged.KieAPIKey == "" {
			return types.NewError(types.ErrKeyMissing, "kie.ai API key not configured")
		}
		client = provider.NewKieClient(provider.KieConfig{
			APIKey: merged.KieAPIKey, BaseURL: merged.KieBaseURL,
		})
	case types.ProviderDefapi:
		if merged.DefapiAPIKey == "" {
			return types.NewError(types.ErrKeyMissing, "defapi.org API key not configured")
		}
		client = provider.NewDefapiClient(provider.DefapiConfig{
			APIKey: merged.DefapiAPIKey, BaseURL: merged.DefapiBaseURL,
		})
	default:
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown provider %q", id))
	}
	return client.CheckAuth(ctx)
}

// mask 保留尾部 4 位作为识别提示。
func mask(key string) MaskedKey {
	if key == "" {
		return MaskedKey{}
	}
	hint := key
	if len(hint) > 4 {
		hint = hint[len(hint)-4:]
	}
	return MaskedKey{Configured: true, Hint: "..." + hint}
}
