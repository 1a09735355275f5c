// Package planner 将检测到的场景转换为生成计划。
// 纯函数：给定场景列表、策略和供应商支持的时长步长，产出有序的 ClipPlan。
package planner

import (
	"fmt"
	"math"

	"github.com/reclip/reclip/types"
)

// Plan maps scenes to an ordered list of clip plans for the given strategy.
//
// segments: one plan per scene, duration rounded up to the nearest
// provider-supported increment.
//
// seamless: chained continuation plans of one increment each, until the
// cumulative covered duration reaches the total scene duration. The plan
// count depends only on total duration and increment, not on scene count.
//
// An empty scene list or zero total duration yields an empty plan; the
// caller treats that variant as trivially complete (no_content).
func Plan(scenes []types.Scene, strategy types.Strategy, increment float64) ([]types.ClipPlan, error) {
	if increment <= 0 {
		return nil, fmt.Errorf("invalid duration increment: %v", increment)
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown strategy: %q", strategy)
	}

	total := totalDuration(scenes)
	if len(scenes) == 0 || total <= 0 {
		return nil, nil
	}

	switch strategy {
	case types.StrategySegments:
		return planSegments(scenes, increment), nil
	default:
		return planSeamless(scenes, total, increment), nil
	}
}

// planSegments 每个场景一个独立 plan，时长向上取整到步长
func planSegments(scenes []types.Scene, increment float64) []types.ClipPlan {
	plans := make([]types.ClipPlan, 0, len(scenes))
	for i, scene := range scenes {
		d := scene.Duration
		if d <= 0 {
			d = scene.End - scene.Start
		}
		plans = append(plans, types.ClipPlan{
			Index:      i,
			SceneIndex: scene.Index,
			Duration:   roundUp(d, increment),
		})
	}
	return plans
}

// planSeamless 链式延续 plan，步长为单位覆盖总时长。
// 第一个 plan 从头开始，此后每个 plan 以前一个 clip 的输出为上下文。
func planSeamless(scenes []types.Scene, total, increment float64) []types.ClipPlan {
	count := int(math.Ceil(total / increment))
	plans := make([]types.ClipPlan, 0, count)
	for i := 0; i < count; i++ {
		offset := float64(i) * increment
		plans = append(plans, types.ClipPlan{
			Index:      i,
			SceneIndex: sceneAt(scenes, offset),
			Duration:   increment,
			Chained:    i > 0,
		})
	}
	return plans
}

// sceneAt 返回覆盖给定时间偏移的场景索引
func sceneAt(scenes []types.Scene, offset float64) int {
	elapsed := 0.0
	for _, s := range scenes {
		d := s.Duration
		if d <= 0 {
			d = s.End - s.Start
		}
		elapsed += d
		if offset < elapsed {
			return s.Index
		}
	}
	return scenes[len(scenes)-1].Index
}

func totalDuration(scenes []types.Scene) float64 {
	total := 0.0
	for _, s := range scenes {
		d := s.Duration
		if d <= 0 {
			d = s.End - s.Start
		}
		if d > 0 {
			total += d
		}
	}
	return total
}

// roundUp 向上取整到步长的整数倍，最少一个步长
func roundUp(d, increment float64) float64 {
	if d <= increment {
		return increment
	}
	return math.Ceil(d/increment) * increment
}
