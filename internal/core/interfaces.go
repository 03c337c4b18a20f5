// Package core defines the request types and interfaces shared by the
// speech driver and its transports.
package core

import "context"

// SynthesizeRequest asks the speech module to speak text. Nil voice
// parameters and an empty NotifyTag fall back to the configured defaults.
type SynthesizeRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Text      string `json:"text"`
	Volume    *int   `json:"volume,omitempty"`
	Speed     *int   `json:"speed,omitempty"`
	Tone      *int   `json:"tone,omitempty"`
	NotifyTag string `json:"notify,omitempty"`
}

// SynthesizeReply is the outcome returned to network callers.
type SynthesizeReply struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Synthesizer executes synthesize requests.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesizeRequest) error
}

// HealthChecker reports whether the speech module can accept commands.
type HealthChecker interface {
	Healthy() error
}

// VoiceDefaults are applied to requests that omit a parameter.
type VoiceDefaults struct {
	Volume int
	Speed  int
	Tone   int
	Notify string
}
