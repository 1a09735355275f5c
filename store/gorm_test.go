package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reclip/reclip/types"
)

func testArchive(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func archivedSession(id string) types.Session {
	now := time.Now().Truncate(time.Second)
	return types.Session{
		ID:          id,
		SourceURL:   "https://video.example/v.mp4",
		ProductName: "Aurora Lamp",
		Provider:    types.ProviderKie,
		Model:       types.ModelVeo31Fast,
		Strategy:    types.StrategySegments,
		NumVariants: 2,
		Status:      types.SessionCompleted,
		TotalCost:   1.20,
		CreatedAt:   now,
		UpdatedAt:   now,
		Variants: []*types.Variant{
			{Index: 0, Status: types.VariantCompleted, Clips: []*types.Clip{
				{Index: 0, Status: types.ClipSucceeded, MediaRef: "https://cdn/a.mp4", Duration: 8, Cost: 0.40},
				{Index: 1, Status: types.ClipSucceeded, MediaRef: "https://cdn/b.mp4", Duration: 8, Cost: 0.40},
			}},
			{Index: 1, Status: types.VariantFailed, Clips: []*types.Clip{
				{Index: 0, Status: types.ClipSucceeded, MediaRef: "https://cdn/c.mp4", Duration: 8, Cost: 0.40},
				{Index: 1, Status: types.ClipFailed, Error: "rejected"},
			}},
		},
	}
}

func TestStore_ArchiveOnlySucceededClips(t *testing.T) {
	s := testArchive(t)
	ctx := context.Background()

	require.NoError(t, s.ArchiveSession(ctx, archivedSession("arch-1")))

	items, total, err := s.Library(ctx, LibraryQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total, "失败的 clip 不进素材库")
	assert.Len(t, items, 3)

	for _, item := range items {
		assert.Equal(t, "arch-1", item.SessionID)
		assert.Equal(t, "Aurora Lamp", item.ProductName)
		assert.NotEmpty(t, item.MediaRef)
	}
}

func TestStore_ReArchiveReplacesClips(t *testing.T) {
	s := testArchive(t)
	ctx := context.Background()

	sess := archivedSession("arch-2")
	require.NoError(t, s.ArchiveSession(ctx, sess))

	// 重试后归档：失败 clip 变成功
	sess.Variants[1].Clips[1].Status = types.ClipSucceeded
	sess.Variants[1].Clips[1].MediaRef = "https://cdn/d.mp4"
	sess.TotalCost = 1.60
	require.NoError(t, s.ArchiveSession(ctx, sess))

	_, total, err := s.Library(ctx, LibraryQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total, "重复归档重建 clip 行而非累加")

	spend, err := s.TotalSpend(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.60, spend, 1e-9)
}

func TestStore_LibraryFilters(t *testing.T) {
	s := testArchive(t)
	ctx := context.Background()

	require.NoError(t, s.ArchiveSession(ctx, archivedSession("f-1")))

	other := archivedSession("f-2")
	other.Provider = types.ProviderDefapi
	other.ProductName = "Nebula Mug"
	require.NoError(t, s.ArchiveSession(ctx, other))

	items, total, err := s.Library(ctx, LibraryQuery{Provider: string(types.ProviderDefapi)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	for _, item := range items {
		assert.Equal(t, string(types.ProviderDefapi), item.Provider)
	}

	_, total, err = s.Library(ctx, LibraryQuery{ProductName: "Mug"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	// 分页
	items, total, err = s.Library(ctx, LibraryQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
	assert.Len(t, items, 2)
}

func TestLibraryQuery_Normalize(t *testing.T) {
	cases := []struct {
		name                  string
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{"zero limit falls back", 0, 0, 50, 0},
		{"negative limit falls back", -1, 0, 50, 0},
		{"oversized limit falls back", 500, 0, 50, 0},
		{"valid values kept", 20, 40, 20, 40},
		{"negative offset reset", 20, -5, 20, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := LibraryQuery{Limit: tc.limit, Offset: tc.offset}
			q.Normalize()
			assert.Equal(t, tc.wantLimit, q.Limit)
			assert.Equal(t, tc.wantOffset, q.Offset)
		})
	}
}

func TestStore_TotalSpendEmpty(t *testing.T) {
	s := testArchive(t)
	spend, err := s.TotalSpend(context.Background())
	require.NoError(t, err)
	assert.Zero(t, spend)
}
