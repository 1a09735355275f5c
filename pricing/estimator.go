// Package pricing 提供生成成本的静态估算与实际累计。
// 价格表按 (provider, model) 维护每个时长步长的单价；
// 供应商报告实际成本时优先采用，否则回退到表价。
package pricing

import (
	"math"

	"github.com/reclip/reclip/provider"
	"github.com/reclip/reclip/types"
)

// Key identifies one row of the price table.
type Key struct {
	Provider types.ProviderID
	Model    types.ModelID
}

// PriceTable maps provider+model to the USD price per duration increment.
type PriceTable map[Key]float64

// DefaultTable 返回内置价格表（USD / 单个时长步长）。
func DefaultTable() PriceTable {
	return PriceTable{
		{types.ProviderKie, types.ModelVeo31Fast}:      0.40,
		{types.ProviderKie, types.ModelVeo31Quality}:   2.00,
		{types.ProviderKie, types.ModelSora2}:          0.15,
		{types.ProviderKie, types.ModelSora2Pro}:       0.50,
		{types.ProviderDefapi, types.ModelDefapiVeo31}: 0.10,
	}
}

// IncrementFunc resolves the duration bucket size in seconds for a
// provider+model pair.
type IncrementFunc func(types.ProviderID, types.ModelID) float64

// Estimator computes cost previews and per-clip accruals.
type Estimator struct {
	table        PriceTable
	incrementFor IncrementFunc
}

// NewEstimator creates an estimator over the given table.
// 步长随 provider+model 变化（sora 系 10s 桶，veo 系 8s 桶）；
// incrementFor 为 nil 时采用各供应商客户端声明的步长。
func NewEstimator(table PriceTable, incrementFor IncrementFunc) *Estimator {
	if table == nil {
		table = DefaultTable()
	}
	if incrementFor == nil {
		incrementFor = provider.IncrementFor
	}
	return &Estimator{table: table, incrementFor: incrementFor}
}

// UnitPrice returns the per-increment price for a provider+model pair.
// Unknown pairs price at zero rather than failing: the preview endpoint
// must not block session creation on a table gap.
func (e *Estimator) UnitPrice(provider types.ProviderID, model types.ModelID) float64 {
	return e.table[Key{Provider: provider, Model: model}]
}

// Estimate sums the table price across all clip plans, multiplied by the
// variant count. Called before any provider call so the caller can show
// a cost preview. Zero plans estimate to zero.
func (e *Estimator) Estimate(provider types.ProviderID, model types.ModelID, plans []types.ClipPlan, variants int) float64 {
	if variants < 1 {
		variants = 1
	}
	unit := e.UnitPrice(provider, model)
	total := 0.0
	for _, p := range plans {
		total += unit * e.buckets(provider, model, p.Duration)
	}
	return total * float64(variants)
}

// ClipCost returns the accrual for one terminal clip: the provider's
// reported actual cost when present, else the table price for the clip's
// duration bucket. Accruing exactly once per succeeded clip is the
// caller's responsibility.
func (e *Estimator) ClipCost(provider types.ProviderID, model types.ModelID, duration, actual float64) float64 {
	if actual > 0 {
		return actual
	}
	return e.UnitPrice(provider, model) * e.buckets(provider, model, duration)
}

// buckets 返回给定时长占用的步长桶数，最少一个
func (e *Estimator) buckets(p types.ProviderID, m types.ModelID, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	inc := e.incrementFor(p, m)
	if inc <= 0 {
		inc = 8
	}
	return math.Max(1, math.Ceil(duration/inc))
}
