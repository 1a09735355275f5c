package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/reclip/reclip/types"
)

func scene(index int, start, end float64) types.Scene {
	return types.Scene{Index: index, Start: start, End: end, Duration: end - start}
}

func TestPlan_Segments(t *testing.T) {
	scenes := []types.Scene{
		scene(0, 0, 6.2),
		scene(1, 6.2, 14.0),
		scene(2, 14.0, 16.5),
	}

	plans, err := Plan(scenes, types.StrategySegments, 8)
	require.NoError(t, err)
	require.Len(t, plans, 3)

	// 每个场景一个 plan，时长向上取整到 8s
	assert.Equal(t, 8.0, plans[0].Duration)
	assert.Equal(t, 8.0, plans[1].Duration)
	assert.Equal(t, 8.0, plans[2].Duration)

	for i, p := range plans {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, i, p.SceneIndex)
		assert.False(t, p.Chained, "segments 不做链式延续")
	}
}

func TestPlan_Segments_LongScene(t *testing.T) {
	plans, err := Plan([]types.Scene{scene(0, 0, 12.5)}, types.StrategySegments, 8)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, 16.0, plans[0].Duration, "12.5s 取整到两个 8s 桶")
}

func TestPlan_Seamless_22sYieldsThreeChainedPlans(t *testing.T) {
	scenes := []types.Scene{
		scene(0, 0, 10),
		scene(1, 10, 22),
	}

	plans, err := Plan(scenes, types.StrategySeamless, 8)
	require.NoError(t, err)
	require.Len(t, plans, 3, "22s / 8s 步长 = 3 个链式 plan")

	assert.False(t, plans[0].Chained, "第一个 plan 从头开始")
	assert.True(t, plans[1].Chained)
	assert.True(t, plans[2].Chained)

	for _, p := range plans {
		assert.Equal(t, 8.0, p.Duration)
	}

	// plan 的场景索引对应其起始偏移所在的场景
	assert.Equal(t, 0, plans[0].SceneIndex) // offset 0
	assert.Equal(t, 0, plans[1].SceneIndex) // offset 8
	assert.Equal(t, 1, plans[2].SceneIndex) // offset 16
}

func TestPlan_Seamless_CountIndependentOfSceneCount(t *testing.T) {
	one := []types.Scene{scene(0, 0, 24)}
	many := []types.Scene{scene(0, 0, 6), scene(1, 6, 12), scene(2, 12, 18), scene(3, 18, 24)}

	p1, err := Plan(one, types.StrategySeamless, 8)
	require.NoError(t, err)
	p2, err := Plan(many, types.StrategySeamless, 8)
	require.NoError(t, err)

	assert.Len(t, p1, 3)
	assert.Len(t, p2, 3)
}

func TestPlan_EmptyScenes(t *testing.T) {
	plans, err := Plan(nil, types.StrategySegments, 8)
	require.NoError(t, err)
	assert.Empty(t, plans)

	plans, err = Plan(nil, types.StrategySeamless, 8)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestPlan_ZeroDuration(t *testing.T) {
	plans, err := Plan([]types.Scene{scene(0, 0, 0)}, types.StrategySeamless, 8)
	require.NoError(t, err)
	assert.Empty(t, plans, "零时长按 no_content 处理，不 panic")
}

func TestPlan_InvalidInputs(t *testing.T) {
	scenes := []types.Scene{scene(0, 0, 10)}

	_, err := Plan(scenes, types.StrategySegments, 0)
	assert.Error(t, err)

	_, err = Plan(scenes, types.Strategy("whole"), 8)
	assert.Error(t, err)
}

// 属性：plan 索引始终是连续的 0..M-1，seamless 覆盖时长 >= 总时长
func TestPlan_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sceneCount := rapid.IntRange(0, 12).Draw(t, "scene_count")
		increment := float64(rapid.IntRange(2, 10).Draw(t, "increment"))

		scenes := make([]types.Scene, 0, sceneCount)
		cursor := 0.0
		for i := 0; i < sceneCount; i++ {
			d := float64(rapid.IntRange(1, 200).Draw(t, "decisec")) / 10.0
			scenes = append(scenes, scene(i, cursor, cursor+d))
			cursor += d
		}

		strategy := rapid.SampledFrom([]types.Strategy{
			types.StrategySegments, types.StrategySeamless,
		}).Draw(t, "strategy")

		plans, err := Plan(scenes, strategy, increment)
		require.NoError(t, err)

		if sceneCount == 0 {
			assert.Empty(t, plans)
			return
		}

		covered := 0.0
		for i, p := range plans {
			assert.Equal(t, i, p.Index, "索引连续")
			assert.Greater(t, p.Duration, 0.0)
			covered += p.Duration
		}

		if strategy == types.StrategySegments {
			assert.Len(t, plans, sceneCount)
		} else {
			assert.GreaterOrEqual(t, covered, cursor, "链式 plan 覆盖全部时长")
			if len(plans) > 0 {
				assert.False(t, plans[0].Chained)
			}
		}
	})
}
