package types

import "time"

// Strategy selects how a source video is re-generated.
type Strategy string

const (
	// StrategySegments generates one independent clip per detected scene.
	StrategySegments Strategy = "segments"
	// StrategySeamless generates chained continuation clips covering the
	// whole source duration, each extending the previous clip's output.
	StrategySeamless Strategy = "seamless"
)

// Valid reports whether the strategy is a known value.
func (s Strategy) Valid() bool {
	return s == StrategySegments || s == StrategySeamless
}

// ProviderID identifies a video generation backend. The set is closed:
// a provider is resolved to a client exactly once at session creation
// and never re-dispatched by string comparison afterwards.
type ProviderID string

const (
	ProviderKie    ProviderID = "kie.ai"
	ProviderDefapi ProviderID = "defapi.org"
)

// Valid reports whether the provider id is a known value.
func (p ProviderID) Valid() bool {
	return p == ProviderKie || p == ProviderDefapi
}

// ModelID identifies a generation model within a provider.
type ModelID string

const (
	ModelVeo31Fast    ModelID = "veo-3.1-fast"
	ModelVeo31Quality ModelID = "veo-3.1-quality"
	ModelSora2        ModelID = "sora-2"
	ModelSora2Pro     ModelID = "sora-2-pro"
	ModelDefapiVeo31  ModelID = "defapi-veo-3.1"
)

// SessionStatus is the top-level session lifecycle state. Transitions
// are strictly forward; failed is reachable from any non-terminal state.
type SessionStatus string

const (
	SessionPending     SessionStatus = "pending"
	SessionDownloading SessionStatus = "downloading"
	SessionAnalyzing   SessionStatus = "analyzing"
	SessionSegmenting  SessionStatus = "segmenting"
	SessionGenerating  SessionStatus = "generating"
	SessionCompleted   SessionStatus = "completed"
	SessionFailed      SessionStatus = "failed"
)

// Terminal reports whether the session can still make progress.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Active reports whether external work is in flight for the session.
func (s SessionStatus) Active() bool {
	switch s {
	case SessionDownloading, SessionAnalyzing, SessionSegmenting, SessionGenerating:
		return true
	}
	return false
}

// VariantStatus is the aggregate state of one variant, reduced from its
// clips' states.
type VariantStatus string

const (
	VariantPending   VariantStatus = "pending"
	VariantCompleted VariantStatus = "completed"
	VariantFailed    VariantStatus = "failed"
	// VariantNoContent marks the degenerate zero-duration case: nothing
	// to generate, trivially complete, no provider call ever made.
	VariantNoContent VariantStatus = "no_content"
)

// Terminal reports whether the variant can still change state.
func (v VariantStatus) Terminal() bool {
	return v == VariantCompleted || v == VariantFailed || v == VariantNoContent
}

// ClipStatus is the per-clip job state.
type ClipStatus string

const (
	ClipQueued    ClipStatus = "queued"
	ClipSubmitted ClipStatus = "submitted"
	ClipPolling   ClipStatus = "polling"
	ClipSucceeded ClipStatus = "succeeded"
	ClipFailed    ClipStatus = "failed"
)

// Terminal reports whether the clip job has finished for good.
func (c ClipStatus) Terminal() bool {
	return c == ClipSucceeded || c == ClipFailed
}

// Scene is one detected time segment of the source video. Produced once
// by the segmenter, immutable thereafter, shared read-only by all variants.
type Scene struct {
	Index    int     `json:"index"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
	Summary  string  `json:"summary,omitempty"`
}

// ClipPlan is the planned duration and chaining context for one clip,
// produced by the strategy planner before any provider call is made.
type ClipPlan struct {
	Index      int     `json:"index"`
	SceneIndex int     `json:"scene_index"`
	Duration   float64 `json:"duration"`
	// Chained marks a seamless continuation step whose submission must
	// carry the previous clip's media output as context.
	Chained bool   `json:"chained"`
	Prompt  string `json:"prompt,omitempty"`
}

// Clip is one provider generation call result within a variant.
type Clip struct {
	Index      int        `json:"clip_index"`
	SceneIndex int        `json:"scene_index"`
	Status     ClipStatus `json:"status"`
	Prompt     string     `json:"prompt,omitempty"`
	Duration   float64    `json:"duration"`
	MediaRef   string     `json:"media_ref,omitempty"`
	Cost       float64    `json:"cost"`
	Retries    int        `json:"retries"`
	Error      string     `json:"error,omitempty"`
}

// Variant is one independent full re-generation attempt of the source.
type Variant struct {
	Index  int           `json:"variant_index"`
	Status VariantStatus `json:"status"`
	Clips  []*Clip       `json:"clips"`
}

// Aggregate reduces the variant's clip states into a variant status:
// pending while any clip is non-terminal, completed when all succeeded,
// failed once a failure is permanent and nothing in flight can change
// the outcome. An empty clip list reduces to no_content.
func (v *Variant) Aggregate() VariantStatus {
	if len(v.Clips) == 0 {
		return VariantNoContent
	}
	failed := false
	for _, c := range v.Clips {
		if !c.Status.Terminal() {
			return VariantPending
		}
		if c.Status == ClipFailed {
			failed = true
		}
	}
	if failed {
		return VariantFailed
	}
	return VariantCompleted
}

// Session is one end-to-end clone generation request.
type Session struct {
	ID              string        `json:"session_id"`
	SourceURL       string        `json:"source_url"`
	ProductName     string        `json:"product_name"`
	ProductImageRef string        `json:"product_image_ref,omitempty"`
	Provider        ProviderID    `json:"provider"`
	Model           ModelID       `json:"model"`
	Strategy        Strategy      `json:"strategy"`
	NumVariants     int           `json:"num_variants"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Status          SessionStatus `json:"status"`
	Progress        float64       `json:"progress"`
	CurrentStep     string        `json:"current_step"`
	TotalCost       float64       `json:"total_cost"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	Scenes          []Scene       `json:"scenes,omitempty"`
	Variants        []*Variant    `json:"variants,omitempty"`
}

// StatusSnapshot is the lightweight status view served to pollers.
type StatusSnapshot struct {
	SessionID         string        `json:"session_id"`
	Status            SessionStatus `json:"status"`
	Progress          float64       `json:"progress"`
	CurrentStep       string        `json:"current_step"`
	VariantsCompleted int           `json:"variants_completed"`
	VariantsTotal     int           `json:"variants_total"`
	TotalCost         float64       `json:"total_cost"`
	ErrorMessage      string        `json:"error_message,omitempty"`
}
