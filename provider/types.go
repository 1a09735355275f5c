// Package provider defines the unified video generation client interface
// and its backend implementations.
package provider

import (
	"context"
	"time"

	"github.com/reclip/reclip/types"
)

// JobState represents the lifecycle of one submitted generation job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// SubmitRequest carries everything needed for one generation call.
type SubmitRequest struct {
	// Prompt is the non-empty generation prompt text.
	Prompt string `json:"prompt"`
	// Duration in seconds, pre-rounded by the planner to a supported
	// increment. Clients reject unsupported values instead of clamping.
	Duration float64 `json:"duration"`
	// Model selects the backend model within the provider.
	Model types.ModelID `json:"model"`
	// ImageRef optionally carries a product reference image (data URI).
	ImageRef string `json:"image_ref,omitempty"`
	// PrevMediaRef carries the previous clip's media output when the
	// seamless strategy chains continuation clips.
	PrevMediaRef string `json:"prev_media_ref,omitempty"`
}

// Job is the opaque handle returned by Submit.
type Job struct {
	ID       string           `json:"id"`
	Provider types.ProviderID `json:"provider"`
}

// PollResult is the outcome of one non-blocking status check.
type PollResult struct {
	State    JobState `json:"state"`
	MediaRef string   `json:"media_ref,omitempty"`
	Duration float64  `json:"duration,omitempty"`
	// Cost is the provider-reported actual cost; zero when the provider
	// does not report one (caller falls back to the price table).
	Cost float64 `json:"cost,omitempty"`
	// Err carries the failure reason when State == JobFailed.
	Err *types.Error `json:"-"`
}

// Client defines the video generation provider contract.
// Implementations keep no local state beyond the job handle mapping;
// the rest of the core never branches on provider identity.
type Client interface {
	// Name returns the provider identity.
	Name() types.ProviderID

	// Increment returns the supported duration bucket in seconds for the
	// given model. The planner pre-rounds all clip durations to it.
	Increment(model types.ModelID) float64

	// Submit initiates one generation call, returning a job handle.
	// A synchronous refusal surfaces as PROVIDER_REJECTED, marked
	// retryable only for transient reasons (rate limit, overload).
	Submit(ctx context.Context, req *SubmitRequest) (*Job, error)

	// Poll checks the job status. Safe to call repeatedly; polling a
	// job the provider already reported terminal returns the same
	// outcome again.
	Poll(ctx context.Context, job *Job) (*PollResult, error)

	// Cancel is best-effort; providers that cannot cancel accept the
	// call as a no-op.
	Cancel(ctx context.Context, job *Job) error

	// CheckAuth verifies the configured API key against the provider's
	// account endpoint.
	CheckAuth(ctx context.Context) error
}

const defaultHTTPTimeout = 60 * time.Second
