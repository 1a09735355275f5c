package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reclip/reclip/provider"
	"github.com/reclip/reclip/retry"
	"github.com/reclip/reclip/types"
)

// =============================================================================
// 测试桩：可编程的供应商客户端 + 内存存储 + 静态协作者
// =============================================================================

// fakeClient 以 prompt 作为 job id，测试脚本按 prompt 编排行为。
type fakeClient struct {
	mu sync.Mutex

	submits []provider.SubmitRequest
	cancels []string
	polls   map[string]int
	tries   map[string]int

	// 行为开关
	rejectAll        *types.Error   // 所有提交同步拒绝
	transientSubmits map[string]int // prompt → 前 N 次提交瞬时拒绝
	failPoll         map[string]bool
	pendingPolls     int // 每个 job 终态前的 pending 轮数
	neverComplete    bool
	clipCost         float64
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		polls:            make(map[string]int),
		tries:            make(map[string]int),
		transientSubmits: make(map[string]int),
		failPoll:         make(map[string]bool),
		clipCost:         0.40,
	}
}

func (c *fakeClient) Name() types.ProviderID          { return types.ProviderKie }
func (c *fakeClient) Increment(types.ModelID) float64 { return 8 }
func (c *fakeClient) CheckAuth(context.Context) error { return nil }

func (c *fakeClient) Submit(ctx context.Context, req *provider.SubmitRequest) (*provider.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.submits = append(c.submits, *req)
	c.tries[req.Prompt]++

	if c.rejectAll != nil {
		return nil, c.rejectAll
	}
	if n := c.transientSubmits[req.Prompt]; c.tries[req.Prompt] <= n {
		return nil, types.NewProviderRejectedError(string(types.ProviderKie), "overloaded", true)
	}
	return &provider.Job{ID: req.Prompt, Provider: types.ProviderKie}, nil
}

func (c *fakeClient) Poll(ctx context.Context, job *provider.Job) (*provider.PollResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.polls[job.ID]++
	if c.neverComplete || c.polls[job.ID] <= c.pendingPolls {
		return &provider.PollResult{State: provider.JobPending}, nil
	}
	if c.failPoll[job.ID] {
		return &provider.PollResult{
			State: provider.JobFailed,
			Err:   types.NewProviderRejectedError(string(types.ProviderKie), "content policy violation", false),
		}, nil
	}
	return &provider.PollResult{
		State:    provider.JobSucceeded,
		MediaRef: "media://" + job.ID,
		Cost:     c.clipCost,
	}, nil
}

func (c *fakeClient) Cancel(ctx context.Context, job *provider.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels = append(c.cancels, job.ID)
	return nil
}

func (c *fakeClient) submitted() []provider.SubmitRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]provider.SubmitRequest, len(c.submits))
	copy(out, c.submits)
	return out
}

// ---------------------------------------------------------------------------

type stubDownloader struct {
	media *types.SourceMedia
	err   error
}

func (d *stubDownloader) Download(ctx context.Context, url, sessionID string) (*types.SourceMedia, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.media, nil
}

type stubSegmenter struct {
	scenes []types.Scene
	err    error
}

func (s *stubSegmenter) DetectScenes(ctx context.Context, media *types.SourceMedia) ([]types.Scene, error) {
	return s.scenes, s.err
}

type stubAnalyzer struct {
	analysis string
	err      error
}

func (a *stubAnalyzer) Analyze(ctx context.Context, media *types.SourceMedia, productName string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return a.analysis, nil
}

type stubPrompts struct{}

func (stubPrompts) Build(req PromptRequest) (string, error) {
	return fmt.Sprintf("scene-%d-chained-%v", req.Scene.Index, req.Chained), nil
}

// ---------------------------------------------------------------------------

// memStore 内存版 SessionStore，record 保存持久化历史供断言。
type memStore struct {
	mu       sync.Mutex
	sessions map[string]types.Session
	history  []types.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]types.Session)}
}

func (s *memStore) SaveSession(ctx context.Context, sess types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	s.history = append(s.history, sess)
	return nil
}

func (s *memStore) LoadSession(ctx context.Context, id string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *memStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *memStore) ListSessions(ctx context.Context) ([]types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out, nil
}

func (s *memStore) snapshots() []types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Session, len(s.history))
	copy(out, s.history)
	return out
}

type memArchive struct {
	mu       sync.Mutex
	archived []types.Session
}

func (a *memArchive) ArchiveSession(ctx context.Context, s types.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, s)
	return nil
}

type staticCreds struct {
	keys      provider.Keys
	endpoints provider.Endpoints
}

func (c staticCreds) ProviderCredentials(ctx context.Context) (provider.Keys, provider.Endpoints, error) {
	return c.keys, c.endpoints, nil
}

// ---------------------------------------------------------------------------

// fastConfig 把所有时间参数压到毫秒级，测试里状态机全速运转。
func fastConfig() *Config {
	cfg := &Config{
		MaxConcurrentClips: 3,
		PollInterval:       time.Millisecond,
		ClipTimeoutFactor:  0.001,
		ClipTimeoutMin:     250 * time.Millisecond,
		SessionTimeout:     5 * time.Second,
		Retry: &retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Multiplier:  2.0,
		},
	}
	return cfg.Normalize()
}

func testSession(strategy types.Strategy, variants int) *types.Session {
	now := time.Now()
	return &types.Session{
		ID:          "sess-test",
		SourceURL:   "https://video.example/source.mp4",
		ProductName: "Aurora Lamp",
		Provider:    types.ProviderKie,
		Model:       types.ModelVeo31Fast,
		Strategy:    strategy,
		NumVariants: variants,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      types.SessionPending,
	}
}

func testOrchestrator(session *types.Session, client provider.Client, deps ...func(*OrchestratorDeps)) (*Orchestrator, *memStore) {
	store := newMemStore()
	d := OrchestratorDeps{
		Client: client,
		Downloader: &stubDownloader{media: &types.SourceMedia{
			SourceURL: session.SourceURL,
			LocalPath: "/tmp/source.mp4",
			Duration:  22,
		}},
		Segmenter: &stubSegmenter{scenes: []types.Scene{
			{Index: 0, Start: 0, End: 10, Duration: 10},
			{Index: 1, Start: 10, End: 22, Duration: 12},
		}},
		Analyzer: &stubAnalyzer{analysis: "a lamp demo video"},
		Prompts:  stubPrompts{},
		Persist: func(s types.Session) {
			_ = store.SaveSession(context.Background(), s)
		},
	}
	for _, fn := range deps {
		fn(&d)
	}
	return NewOrchestrator(session, d, fastConfig(), zap.NewNop()), store
}

// runToDone 启动并等待终态。
func runToDone(o *Orchestrator) {
	o.Start(context.Background())
	<-o.Done()
}
