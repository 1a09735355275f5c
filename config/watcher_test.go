package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNewWatcher_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "config.yaml")
	writeConfigFile(t, f, "server:\n  http_port: 8080\n")

	w, err := NewWatcher(f, NewLoader().WithConfigPath(f))
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.False(t, w.IsRunning())
	assert.Equal(t, time.Second, w.interval)
}

func TestNewWatcher_RequiresPath(t *testing.T) {
	_, err := NewWatcher("", NewLoader())
	assert.Error(t, err)
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "config.yaml")
	writeConfigFile(t, f, "server:\n  http_port: 8080\n")

	w, err := NewWatcher(f, NewLoader().WithConfigPath(f),
		WithPollInterval(10*time.Millisecond),
		WithWatcherLogger(zap.NewNop()),
	)
	require.NoError(t, err)

	var reloads atomic.Int32
	var lastPort atomic.Int32
	w.OnReload(func(cfg *Config) {
		reloads.Add(1)
		lastPort.Store(int32(cfg.Server.HTTPPort))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	assert.True(t, w.IsRunning())

	// 轮询按 mtime 判断变更，确保时间戳前移
	time.Sleep(20 * time.Millisecond)
	writeConfigFile(t, f, "server:\n  http_port: 8888\n")
	now := time.Now()
	require.NoError(t, os.Chtimes(f, now, now))

	assert.Eventually(t, func() bool {
		return reloads.Load() >= 1 && lastPort.Load() == 8888
	}, 2*time.Second, 10*time.Millisecond, "应在文件变更后完成重载")
}

func TestWatcher_InvalidReloadKeepsOldConfig(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "config.yaml")
	writeConfigFile(t, f, "server:\n  http_port: 8080\n")

	w, err := NewWatcher(f, NewLoader().WithConfigPath(f),
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)

	var reloads atomic.Int32
	w.OnReload(func(cfg *Config) { reloads.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// 写入校验不通过的配置（端口为 0）
	time.Sleep(20 * time.Millisecond)
	writeConfigFile(t, f, "server:\n  http_port: 0\n")
	now := time.Now()
	require.NoError(t, os.Chtimes(f, now, now))

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, reloads.Load(), "非法配置不应触发回调")
}

func TestWatcher_DoubleStart(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "config.yaml")
	writeConfigFile(t, f, "server:\n  http_port: 8080\n")

	w, err := NewWatcher(f, NewLoader().WithConfigPath(f))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	assert.Error(t, w.Start(ctx))
}

func TestWatcher_StopIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "config.yaml")
	writeConfigFile(t, f, "server:\n  http_port: 8080\n")

	w, err := NewWatcher(f, NewLoader().WithConfigPath(f))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
	assert.False(t, w.IsRunning())
}
