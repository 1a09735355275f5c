package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reclip/reclip/provider"
	"github.com/reclip/reclip/types"
)

// kieStub 模拟 kie.ai API：提交立即返回 task id，轮询立即 completed。
func kieStub(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var submits atomic.Int64
	var seq atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/tasks/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cancel") {
			w.WriteHeader(http.StatusOK)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "completed",
			"video_url": "https://cdn.example/" + id + ".mp4",
			"cost":      0.40,
		})
	})
	mux.HandleFunc("/v1/", func(w http.ResponseWriter, r *http.Request) {
		submits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"task_id": fmt.Sprintf("task-%d", seq.Add(1)),
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &submits
}

func testManager(t *testing.T, srvURL string) (*Manager, *memStore, *memArchive) {
	t.Helper()
	store := newMemStore()
	archive := &memArchive{}

	m := NewManager(ManagerDeps{
		Live:    store,
		Archive: archive,
		Credentials: staticCreds{
			keys:      provider.Keys{Kie: "test-key", Defapi: "test-key"},
			endpoints: provider.Endpoints{Kie: srvURL, Defapi: srvURL},
		},
		Downloader: &stubDownloader{media: &types.SourceMedia{LocalPath: "/tmp/s.mp4", Duration: 16}},
		Segmenter: &stubSegmenter{scenes: []types.Scene{
			{Index: 0, Start: 0, End: 8, Duration: 8},
			{Index: 1, Start: 8, End: 16, Duration: 8},
		}},
		Analyzer: &stubAnalyzer{analysis: "demo"},
		Prompts:  stubPrompts{},
	}, fastConfig(), zap.NewNop())

	return m, store, archive
}

func validCreate() CreateRequest {
	return CreateRequest{
		SourceURL:   "https://video.example/tiktok.mp4",
		ProductName: "Aurora Lamp",
		Provider:    types.ProviderKie,
		Model:       types.ModelVeo31Fast,
		Strategy:    types.StrategySegments,
		NumVariants: 2,
	}
}

func TestManager_CreateValidation(t *testing.T) {
	m, _, _ := testManager(t, "http://unused")
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		code   types.ErrorCode
	}{
		{"缺少 source_url", func(r *CreateRequest) { r.SourceURL = " " }, types.ErrInvalidRequest},
		{"未知策略", func(r *CreateRequest) { r.Strategy = "whole" }, types.ErrInvalidRequest},
		{"供应商不支持模型", func(r *CreateRequest) { r.Model = types.ModelDefapiVeo31 }, types.ErrInvalidRequest},
		{"variant 超上限", func(r *CreateRequest) { r.NumVariants = 99 }, types.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreate()
			tt.mutate(&req)
			_, err := m.Create(ctx, req)
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, tt.code))
		})
	}
}

func TestManager_CreateDefaults(t *testing.T) {
	m, store, _ := testManager(t, "http://unused")
	ctx := context.Background()

	req := validCreate()
	req.Strategy = ""
	req.NumVariants = 0

	session, err := m.Create(ctx, req)
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, types.SessionPending, session.Status)
	assert.Equal(t, types.StrategySegments, session.Strategy, "默认策略为 segments")
	assert.Equal(t, 1, session.NumVariants)

	// 创建即持久化
	loaded, err := store.LoadSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, session.ID, loaded.ID)
}

func TestManager_StartRunsToCompletion(t *testing.T) {
	srv, submits := kieStub(t)
	m, store, archive := testManager(t, srv.URL)
	ctx := context.Background()

	session, err := m.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, session.ID))

	// 重复启动被拒绝（运行中报 SESSION_ACTIVE，已极速完成则报已完成）
	err = m.Start(ctx, session.ID)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrSessionActive) ||
		types.IsErrorCode(err, types.ErrInvalidRequest))

	require.Eventually(t, func() bool {
		snap, err := m.Snapshot(ctx, session.ID)
		return err == nil && snap.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)

	snap, err := m.Snapshot(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, snap.Status)
	assert.Equal(t, 100.0, snap.Progress)
	assert.Equal(t, 2, snap.VariantsCompleted)
	assert.InDelta(t, 4*0.40, snap.TotalCost, 1e-9)

	// 2 场景 × 2 variant = 4 次提交
	assert.Equal(t, int64(4), submits.Load())

	// 终态写入热存储并归档
	loaded, err := store.LoadSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, types.SessionCompleted, loaded.Status)

	archive.mu.Lock()
	archived := len(archive.archived)
	archive.mu.Unlock()
	assert.Greater(t, archived, 0, "终态会话进入归档")
}

func TestManager_StartMissingKey(t *testing.T) {
	store := newMemStore()
	m := NewManager(ManagerDeps{
		Live:        store,
		Credentials: staticCreds{}, // 没有任何 key
		Downloader:  &stubDownloader{media: &types.SourceMedia{Duration: 8}},
		Segmenter:   &stubSegmenter{},
		Analyzer:    &stubAnalyzer{},
		Prompts:     stubPrompts{},
	}, fastConfig(), zap.NewNop())
	ctx := context.Background()

	session, err := m.Create(ctx, validCreate())
	require.NoError(t, err)

	err = m.Start(ctx, session.ID)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrKeyMissing))
}

func TestManager_SnapshotUnknownSession(t *testing.T) {
	m, _, _ := testManager(t, "http://unused")
	_, err := m.Snapshot(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrSessionNotFound))
}

func TestManager_SnapshotFallsBackToStore(t *testing.T) {
	m, store, _ := testManager(t, "http://unused")
	ctx := context.Background()

	// 模拟上个进程留下的终态会话
	require.NoError(t, store.SaveSession(ctx, types.Session{
		ID:       "old-session",
		Status:   types.SessionCompleted,
		Progress: 100,
		Variants: []*types.Variant{{Status: types.VariantCompleted}},
	}))

	snap, err := m.Snapshot(ctx, "old-session")
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, snap.Status)
	assert.Equal(t, 1, snap.VariantsCompleted)
}

func TestManager_CancelNotRunning(t *testing.T) {
	m, _, _ := testManager(t, "http://unused")
	ctx := context.Background()

	session, err := m.Create(ctx, validCreate())
	require.NoError(t, err)

	err = m.Cancel(ctx, session.ID)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	err = m.Cancel(ctx, "no-such-id")
	assert.True(t, types.IsErrorCode(err, types.ErrSessionNotFound))
}

func TestManager_DeleteGuards(t *testing.T) {
	m, store, _ := testManager(t, "http://unused")
	ctx := context.Background()

	session, err := m.Create(ctx, validCreate())
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, session.ID))
	loaded, err := store.LoadSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	err = m.Delete(ctx, session.ID)
	assert.True(t, types.IsErrorCode(err, types.ErrSessionNotFound))
}

func TestManager_RetryRestartsOnlyFailedVariants(t *testing.T) {
	srv, submits := kieStub(t)
	m, store, _ := testManager(t, srv.URL)
	ctx := context.Background()

	// 上次运行：variant 0 成功、variant 1 失败
	failed := types.Session{
		ID:           "retry-me",
		SourceURL:    "https://video.example/tiktok.mp4",
		Provider:     types.ProviderKie,
		Model:        types.ModelVeo31Fast,
		Strategy:     types.StrategySegments,
		NumVariants:  2,
		Status:       types.SessionFailed,
		ErrorMessage: "provider rejected",
		Scenes:       []types.Scene{{Index: 0, End: 8, Duration: 8}},
		Variants: []*types.Variant{
			{Index: 0, Status: types.VariantCompleted, Clips: []*types.Clip{
				{Index: 0, Status: types.ClipSucceeded, MediaRef: "media://kept", Cost: 0.40, Prompt: "p"},
			}},
			{Index: 1, Status: types.VariantFailed, Clips: []*types.Clip{
				{Index: 0, Status: types.ClipFailed, Error: "provider rejected", Prompt: "p"},
			}},
		},
	}
	require.NoError(t, store.SaveSession(ctx, failed))

	require.NoError(t, m.Start(ctx, "retry-me"))
	require.Eventually(t, func() bool {
		snap, err := m.Snapshot(ctx, "retry-me")
		return err == nil && snap.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)

	detail, err := m.Detail(ctx, "retry-me")
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, detail.Status)
	assert.Empty(t, detail.ErrorMessage)

	// 成功的 variant 原样保留，不重新生成
	assert.Equal(t, "media://kept", detail.Variants[0].Clips[0].MediaRef)
	assert.Equal(t, types.VariantCompleted, detail.Variants[0].Status)

	// 失败的 clip 重新执行
	assert.Equal(t, types.ClipSucceeded, detail.Variants[1].Clips[0].Status)
	assert.NotEmpty(t, detail.Variants[1].Clips[0].MediaRef)

	assert.Equal(t, int64(1), submits.Load(), "只有失败的 clip 触发提交")
}

func TestManager_List(t *testing.T) {
	m, store, _ := testManager(t, "http://unused")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveSession(ctx, types.Session{
			ID:     fmt.Sprintf("s-%d", i),
			Status: types.SessionCompleted,
		}))
	}

	snaps, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
}

func TestManager_Estimate(t *testing.T) {
	m, _, _ := testManager(t, "http://unused")

	// 22s veo-3.1-fast segments：整片单场景 → ceil(22/8)=3 桶 × $0.40
	cost, err := m.Estimate(EstimateRequest{
		Provider:    types.ProviderKie,
		Model:       types.ModelVeo31Fast,
		Strategy:    types.StrategySegments,
		Duration:    22,
		NumVariants: 1,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.20, cost, 1e-9)

	// seamless 同样覆盖 3 个 8s 桶，两个 variant 翻倍
	cost, err = m.Estimate(EstimateRequest{
		Provider:    types.ProviderKie,
		Model:       types.ModelVeo31Fast,
		Strategy:    types.StrategySeamless,
		Duration:    22,
		NumVariants: 2,
	})
	require.NoError(t, err)
	assert.InDelta(t, 2.40, cost, 1e-9)

	// sora 以 10s 步长规划并计价：25s → 30s → 3 个 10s 桶
	cost, err = m.Estimate(EstimateRequest{
		Provider: types.ProviderKie,
		Model:    types.ModelSora2,
		Duration: 25,
	})
	require.NoError(t, err)
	assert.InDelta(t, 3*0.15, cost, 1e-9)

	_, err = m.Estimate(EstimateRequest{Provider: types.ProviderKie, Model: types.ModelDefapiVeo31, Duration: 10})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	cost, err = m.Estimate(EstimateRequest{Provider: types.ProviderKie, Model: types.ModelVeo31Fast, Duration: 0})
	require.NoError(t, err)
	assert.Zero(t, cost)
}

func TestManager_Shutdown(t *testing.T) {
	srv, _ := kieStub(t)
	m, _, _ := testManager(t, srv.URL)
	ctx := context.Background()

	session, err := m.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, session.ID))

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))

	snap, err := m.Snapshot(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, snap.Status.Terminal(), "Shutdown 后不残留运行中的会话")
}
