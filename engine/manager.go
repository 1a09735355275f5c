package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reclip/reclip/planner"
	"github.com/reclip/reclip/pricing"
	"github.com/reclip/reclip/provider"
	"github.com/reclip/reclip/types"
)

// =============================================================================
// 📋 Manager：会话注册表
// =============================================================================

// 单会话 variant 数上限，防止单次请求打爆供应商配额
const maxVariants = 8

// SessionStore persists live session state. Implemented by store.RedisStore.
type SessionStore interface {
	SaveSession(ctx context.Context, s types.Session) error
	LoadSession(ctx context.Context, id string) (*types.Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]types.Session, error)
}

// Archiver records terminal sessions into durable storage for library
// queries. Implemented by store.Store.
type Archiver interface {
	ArchiveSession(ctx context.Context, s types.Session) error
}

// CredentialSource supplies provider credentials at session start time,
// so key rotation applies to the next session without restart.
// Implemented by settings.Store.
type CredentialSource interface {
	ProviderCredentials(ctx context.Context) (provider.Keys, provider.Endpoints, error)
}

// ManagerDeps 聚合 Manager 的全部协作者。
type ManagerDeps struct {
	Live        SessionStore
	Archive     Archiver
	Credentials CredentialSource
	Downloader  Downloader
	Segmenter   Segmenter
	Analyzer    Analyzer
	Prompts     PromptBuilder
	Estimator   *pricing.Estimator
	Observer    Observer
}

// Manager is the session registry: it creates sessions, starts and cancels
// their orchestrators, and answers status queries (live orchestrator first,
// store fallback for sessions from a previous process).
type Manager struct {
	deps   ManagerDeps
	cfg    *Config
	logger *zap.Logger

	mu   sync.RWMutex
	live map[string]*Orchestrator
}

// NewManager 构造会话管理器。
func NewManager(deps ManagerDeps, cfg *Config, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	if deps.Estimator == nil {
		deps.Estimator = pricing.NewEstimator(nil, nil)
	}
	return &Manager{
		deps:   deps,
		cfg:    cfg.Normalize(),
		logger: logger,
		live:   make(map[string]*Orchestrator),
	}
}

// CreateRequest 描述一次新的克隆会话。
type CreateRequest struct {
	SourceURL       string           `json:"source_url"`
	ProductName     string           `json:"product_name"`
	ProductImageRef string           `json:"product_image_ref,omitempty"`
	Provider        types.ProviderID `json:"provider"`
	Model           types.ModelID    `json:"model"`
	Strategy        types.Strategy   `json:"strategy"`
	NumVariants     int              `json:"num_variants"`
}

// Validate 规范化并校验请求；非法字段返回 INVALID_REQUEST。
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.SourceURL) == "" {
		return types.NewError(types.ErrInvalidRequest, "source_url is required")
	}
	if r.Strategy == "" {
		r.Strategy = types.StrategySegments
	}
	if !r.Strategy.Valid() {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown strategy %q", r.Strategy))
	}
	if !provider.Supports(r.Provider, r.Model) {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("provider %q does not support model %q", r.Provider, r.Model))
	}
	if r.NumVariants <= 0 {
		r.NumVariants = 1
	}
	if r.NumVariants > maxVariants {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("num_variants exceeds limit of %d", maxVariants))
	}
	return nil
}

// Create 创建 pending 会话并持久化；不启动执行。
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*types.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	session := types.Session{
		ID:              uuid.NewString(),
		SourceURL:       req.SourceURL,
		ProductName:     req.ProductName,
		ProductImageRef: req.ProductImageRef,
		Provider:        req.Provider,
		Model:           req.Model,
		Strategy:        req.Strategy,
		NumVariants:     req.NumVariants,
		CreatedAt:       now,
		UpdatedAt:       now,
		Status:          types.SessionPending,
		CurrentStep:     "Session created",
	}

	if err := m.deps.Live.SaveSession(ctx, session); err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to persist session").WithCause(err)
	}

	m.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("provider", string(session.Provider)),
		zap.String("model", string(session.Model)),
		zap.String("strategy", string(session.Strategy)),
		zap.Int("num_variants", session.NumVariants),
	)
	return &session, nil
}

// Start launches generation for a pending session, or retries a failed one.
// Retry preserves succeeded variants and clips: only failed work is reset
// to queued before re-entering the pipeline.
func (m *Manager) Start(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.live[id]; running {
		return types.NewError(types.ErrSessionActive, "session is already running")
	}

	session, err := m.loadLocked(ctx, id)
	if err != nil {
		return err
	}
	if session.Status.Active() {
		return types.NewError(types.ErrSessionActive, "session is already running")
	}
	if session.Status == types.SessionCompleted {
		return types.NewError(types.ErrInvalidRequest, "session already completed")
	}
	if session.Status == types.SessionFailed {
		resetFailedWork(session)
	}

	keys, endpoints, err := m.deps.Credentials.ProviderCredentials(ctx)
	if err != nil {
		return types.NewError(types.ErrInternal, "failed to load provider credentials").WithCause(err)
	}
	client, err := provider.Resolve(session.Provider, session.Model, keys, endpoints)
	if err != nil {
		return err
	}

	orch := NewOrchestrator(session, OrchestratorDeps{
		Client:     client,
		Downloader: m.deps.Downloader,
		Segmenter:  m.deps.Segmenter,
		Analyzer:   m.deps.Analyzer,
		Prompts:    m.deps.Prompts,
		Estimator:  m.deps.Estimator,
		Observer:   m.deps.Observer,
		Persist:    m.persistFunc(),
	}, m.cfg, m.logger)

	m.live[id] = orch
	tracker, _ := m.deps.Observer.(interface {
		SessionStarted()
		SessionSettled()
	})
	if tracker != nil {
		tracker.SessionStarted()
	}
	go func() {
		<-orch.Done()
		m.mu.Lock()
		delete(m.live, id)
		m.mu.Unlock()
		if tracker != nil {
			tracker.SessionSettled()
		}
	}()

	// 会话生命周期独立于请求 context
	orch.Start(context.Background())
	return nil
}

// Cancel 取消运行中的会话。
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.RLock()
	orch, ok := m.live[id]
	m.mu.RUnlock()
	if !ok {
		// 存在但未运行的会话无事可取消
		if _, err := m.load(ctx, id); err != nil {
			return err
		}
		return types.NewError(types.ErrInvalidRequest, "session is not running")
	}
	orch.Cancel()
	return nil
}

// Snapshot 返回轻量状态；优先取运行中的编排器。
func (m *Manager) Snapshot(ctx context.Context, id string) (types.StatusSnapshot, error) {
	m.mu.RLock()
	orch, ok := m.live[id]
	m.mu.RUnlock()
	if ok {
		return orch.Snapshot(), nil
	}
	session, err := m.load(ctx, id)
	if err != nil {
		return types.StatusSnapshot{}, err
	}
	return snapshotLocked(session), nil
}

// Detail 返回会话全量记录。
func (m *Manager) Detail(ctx context.Context, id string) (types.Session, error) {
	m.mu.RLock()
	orch, ok := m.live[id]
	m.mu.RUnlock()
	if ok {
		return orch.Detail(), nil
	}
	session, err := m.load(ctx, id)
	if err != nil {
		return types.Session{}, err
	}
	return *session, nil
}

// List 列出全部会话的状态视图。
func (m *Manager) List(ctx context.Context) ([]types.StatusSnapshot, error) {
	sessions, err := m.deps.Live.ListSessions(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to list sessions").WithCause(err)
	}
	out := make([]types.StatusSnapshot, 0, len(sessions))
	for i := range sessions {
		m.mu.RLock()
		orch, ok := m.live[sessions[i].ID]
		m.mu.RUnlock()
		if ok {
			out = append(out, orch.Snapshot())
		} else {
			out = append(out, snapshotLocked(&sessions[i]))
		}
	}
	return out, nil
}

// AttachImage 将产品图引用挂到尚未启动的会话上。
func (m *Manager) AttachImage(ctx context.Context, id, ref string) error {
	m.mu.RLock()
	_, running := m.live[id]
	m.mu.RUnlock()
	if running {
		return types.NewError(types.ErrSessionActive, "cannot attach image to a running session")
	}
	session, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return types.NewError(types.ErrInvalidRequest, "session already finished")
	}
	session.ProductImageRef = ref
	session.UpdatedAt = time.Now()
	if err := m.deps.Live.SaveSession(ctx, *session); err != nil {
		return types.NewError(types.ErrInternal, "failed to persist session").WithCause(err)
	}
	return nil
}

// Delete 删除非运行中的会话；归档记录不受影响。
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.RLock()
	_, running := m.live[id]
	m.mu.RUnlock()
	if running {
		return types.NewError(types.ErrSessionActive, "cannot delete a running session")
	}
	if _, err := m.load(ctx, id); err != nil {
		return err
	}
	return m.deps.Live.DeleteSession(ctx, id)
}

// Subscribe 订阅运行中会话的进度流。
func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan types.StatusSnapshot, func(), error) {
	m.mu.RLock()
	orch, ok := m.live[id]
	m.mu.RUnlock()
	if !ok {
		// 终态会话：补发一帧最终状态后立即结束
		session, err := m.load(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		ch := make(chan types.StatusSnapshot, 1)
		ch <- snapshotLocked(session)
		close(ch)
		return ch, func() {}, nil
	}
	ch, unsub := orch.Subscribe()
	return ch, unsub, nil
}

// EstimateRequest 描述一次预估请求；不访问任何供应商。
type EstimateRequest struct {
	Provider    types.ProviderID `json:"provider"`
	Model       types.ModelID    `json:"model"`
	Strategy    types.Strategy   `json:"strategy"`
	Duration    float64          `json:"duration"`
	NumVariants int              `json:"num_variants"`
}

// Estimate 依据价格表预估生成成本。
func (m *Manager) Estimate(req EstimateRequest) (float64, error) {
	if req.Strategy == "" {
		req.Strategy = types.StrategySegments
	}
	if !provider.Supports(req.Provider, req.Model) {
		return 0, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("provider %q does not support model %q", req.Provider, req.Model))
	}
	if req.NumVariants <= 0 {
		req.NumVariants = 1
	}
	if req.Duration <= 0 {
		return 0, nil
	}

	// 预估时尚无场景数据，按整片单场景展开计划
	scene := []types.Scene{{Index: 0, End: req.Duration, Duration: req.Duration}}
	plans, err := planner.Plan(scene, req.Strategy, provider.IncrementFor(req.Provider, req.Model))
	if err != nil {
		return 0, err
	}
	return m.deps.Estimator.Estimate(req.Provider, req.Model, plans, req.NumVariants), nil
}

// Shutdown 取消全部运行中的会话并等待其落到终态。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	orchs := make([]*Orchestrator, 0, len(m.live))
	for _, o := range m.live {
		orchs = append(orchs, o)
	}
	m.mu.RUnlock()

	for _, o := range orchs {
		o.Cancel()
	}
	for _, o := range orchs {
		select {
		case <-o.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// persistFunc 把编排器的状态快照同时写入热存储与归档。
func (m *Manager) persistFunc() func(types.Session) {
	return func(s types.Session) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.deps.Live.SaveSession(ctx, s); err != nil {
			m.logger.Warn("session persist failed", zap.String("session_id", s.ID), zap.Error(err))
		}
		if s.Status.Terminal() && m.deps.Archive != nil {
			if err := m.deps.Archive.ArchiveSession(ctx, s); err != nil {
				m.logger.Warn("session archive failed", zap.String("session_id", s.ID), zap.Error(err))
			}
		}
	}
}

func (m *Manager) load(ctx context.Context, id string) (*types.Session, error) {
	return m.loadLocked(ctx, id)
}

func (m *Manager) loadLocked(ctx context.Context, id string) (*types.Session, error) {
	session, err := m.deps.Live.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, types.NewError(types.ErrSessionNotFound, fmt.Sprintf("session %s not found", id))
	}
	return session, nil
}

// resetFailedWork 为用户重试复位失败的工作量：
// 成功的 variant / clip 原样保留，失败的 clip 回到 queued。
func resetFailedWork(s *types.Session) {
	s.Status = types.SessionPending
	s.ErrorMessage = ""
	s.CurrentStep = "Retrying failed variants"
	for _, v := range s.Variants {
		if v.Status != types.VariantFailed {
			continue
		}
		v.Status = types.VariantPending
		for _, c := range v.Clips {
			if c.Status == types.ClipFailed {
				c.Status = types.ClipQueued
				c.Error = ""
			}
		}
	}
}
