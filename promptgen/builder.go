// Package promptgen 将场景、内容分析与产品信息渲染为生成提示词。
// 模板按模型族选择：Sora 系列与 Veo 系列的提示风格差异较大，
// 运营可在设置中覆盖默认模板。
package promptgen

import (
	"fmt"
	"strings"

	"github.com/reclip/reclip/engine"
	"github.com/reclip/reclip/types"
)

// Templates 按模型族划分的提示词模板。
// 可用占位符：{product_name} {analysis} {scene}。
type Templates struct {
	Sora string `json:"sora" yaml:"sora"`
	Veo  string `json:"veo" yaml:"veo"`
}

// DefaultTemplates 返回内置模板。
func DefaultTemplates() Templates {
	return Templates{
		Sora: "Recreate this scene as a polished short-form ad for {product_name}. " +
			"Source context: {analysis} " +
			"This segment shows: {scene} " +
			"Keep the energy and pacing of the original, cinematic lighting, vertical framing.",
		Veo: "Cinematic vertical video advertising {product_name}. " +
			"Overall video: {analysis} " +
			"Current segment: {scene} " +
			"Match the mood and pacing of the source, natural motion, photorealistic.",
	}
}

// continuation 附加在链式延续 clip 的提示词末尾
const continuation = " Continue seamlessly from the previous shot: keep the same subject, lighting and camera motion."

// Builder 实现 engine.PromptBuilder。
// fetch 在每次构建时取当前模板，设置热更新即时生效。
type Builder struct {
	fetch func() Templates
}

// NewBuilder 创建提示词构建器；fetch 为 nil 时使用内置模板。
func NewBuilder(fetch func() Templates) *Builder {
	if fetch == nil {
		fetch = DefaultTemplates
	}
	return &Builder{fetch: fetch}
}

// Build 渲染单个 clip 的提示词。
func (b *Builder) Build(req engine.PromptRequest) (string, error) {
	tpl := b.template(req.Model)
	if strings.TrimSpace(tpl) == "" {
		return "", fmt.Errorf("empty prompt template for model %s", req.Model)
	}

	scene := req.Scene.Summary
	if scene == "" {
		scene = fmt.Sprintf("segment %.1fs-%.1fs of the source video", req.Scene.Start, req.Scene.End)
	}
	product := req.ProductName
	if product == "" {
		product = "the featured product"
	}
	analysis := req.Analysis
	if analysis == "" {
		analysis = "a short-form product video"
	}

	r := strings.NewReplacer(
		"{product_name}", product,
		"{analysis}", analysis,
		"{scene}", scene,
	)
	prompt := r.Replace(tpl)

	if req.Chained {
		prompt += continuation
	}
	return prompt, nil
}

// template 按模型族选择模板，缺失字段回退到内置默认。
func (b *Builder) template(model types.ModelID) string {
	t := b.fetch()
	defaults := DefaultTemplates()
	if isSora(model) {
		if t.Sora != "" {
			return t.Sora
		}
		return defaults.Sora
	}
	if t.Veo != "" {
		return t.Veo
	}
	return defaults.Veo
}

func isSora(model types.ModelID) bool {
	return strings.Contains(string(model), "sora")
}
