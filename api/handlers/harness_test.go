package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reclip/reclip/engine"
	"github.com/reclip/reclip/provider"
	"github.com/reclip/reclip/retry"
	"github.com/reclip/reclip/types"
)

// =============================================================================
// 测试基座：kie.ai 桩 + 内存依赖 + 完整路由的 httptest 服务
// =============================================================================

// kieStub 模拟 kie.ai API：提交立即返回 task id，首次轮询后任务
// 保持 processing 一小段时间再 completed，留出挂 websocket 的窗口。
func kieStub(t *testing.T) *httptest.Server {
	t.Helper()
	var seq atomic.Int64
	var firstPoll sync.Map // task id → time.Time

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/tasks/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cancel") {
			w.WriteHeader(http.StatusOK)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
		started, _ := firstPoll.LoadOrStore(id, time.Now())
		if time.Since(started.(time.Time)) < 150*time.Millisecond {
			json.NewEncoder(w).Encode(map[string]any{"status": "processing"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "completed",
			"video_url": "https://cdn.example/" + id + ".mp4",
			"cost":      0.40,
		})
	})
	mux.HandleFunc("/v1/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"task_id": fmt.Sprintf("task-%d", seq.Add(1)),
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string]types.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]types.Session)}
}

func (s *memStore) SaveSession(ctx context.Context, sess types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
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

type memArchive struct{}

func (memArchive) ArchiveSession(ctx context.Context, s types.Session) error { return nil }

type staticCreds struct {
	keys      provider.Keys
	endpoints provider.Endpoints
}

func (c staticCreds) ProviderCredentials(ctx context.Context) (provider.Keys, provider.Endpoints, error) {
	return c.keys, c.endpoints, nil
}

type stubDownloader struct{}

func (stubDownloader) Download(ctx context.Context, url, sessionID string) (*types.SourceMedia, error) {
	return &types.SourceMedia{SourceURL: url, LocalPath: "/tmp/source.mp4", Duration: 16}, nil
}

type stubSegmenter struct{}

func (stubSegmenter) DetectScenes(ctx context.Context, media *types.SourceMedia) ([]types.Scene, error) {
	return []types.Scene{
		{Index: 0, Start: 0, End: 8, Duration: 8},
		{Index: 1, Start: 8, End: 16, Duration: 8},
	}, nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(ctx context.Context, media *types.SourceMedia, productName string) (string, error) {
	return "a lamp demo video", nil
}

type stubPrompts struct{}

func (stubPrompts) Build(req engine.PromptRequest) (string, error) {
	return fmt.Sprintf("scene-%d", req.Scene.Index), nil
}

func fastConfig() *engine.Config {
	cfg := &engine.Config{
		MaxConcurrentClips: 3,
		PollInterval:       time.Millisecond,
		ClipTimeoutFactor:  0.001,
		ClipTimeoutMin:     2 * time.Second,
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

// testAPI 组装 Manager + SessionHandler 并挂到完整路由的 httptest 服务上。
func testAPI(t *testing.T) (*httptest.Server, *engine.Manager) {
	t.Helper()
	kie := kieStub(t)

	mgr := engine.NewManager(engine.ManagerDeps{
		Live:    newMemStore(),
		Archive: memArchive{},
		Credentials: staticCreds{
			keys:      provider.Keys{Kie: "test-key", Defapi: "test-key"},
			endpoints: provider.Endpoints{Kie: kie.URL, Defapi: kie.URL},
		},
		Downloader: stubDownloader{},
		Segmenter:  stubSegmenter{},
		Analyzer:   stubAnalyzer{},
		Prompts:    stubPrompts{},
	}, fastConfig(), zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})

	h := NewSessionHandler(mgr, UploadConfig{Dir: t.TempDir()}, zap.NewNop())
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mgr
}

// =============================================================================
// HTTP 辅助
// =============================================================================

// envelope 解开统一响应壳，data 留给各用例自行解码。
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func doJSON(t *testing.T, method, url string, body any) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	require.NotNil(t, env.Data, "响应缺少 data")
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func createSession(t *testing.T, baseURL string) types.Session {
	t.Helper()
	status, env := doJSON(t, http.MethodPost, baseURL+"/api/sessions", map[string]any{
		"source_url":   "https://video.example/tiktok.mp4",
		"product_name": "Aurora Lamp",
		"provider":     "kie.ai",
		"model":        "veo-3.1-fast",
		"strategy":     "segments",
		"num_variants": 2,
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)

	var session types.Session
	decodeData(t, env, &session)
	require.NotEmpty(t, session.ID)
	return session
}
