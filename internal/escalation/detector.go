// Package escalation decides when a conversation has heated up enough
// to suggest a cooldown break.
package escalation

import (
	"github.com/attune-labs/attune/backend/internal/analysis/tone"
	"github.com/attune-labs/attune/backend/internal/model/chat"
)

// Config tunes the detection window. The defaults are deliberately a
// plain threshold rather than anything statistical, so behavior stays
// predictable and easy to reason about in tests.
type Config struct {
	// WindowSize is how many trailing messages are inspected.
	WindowSize int
	// HostileThreshold is how many messages in the window must carry a
	// hostile-set label before a cooldown is suggested.
	HostileThreshold int
	// HostileLabels overrides the default hostile set when non-nil.
	HostileLabels map[tone.Label]bool
}

// DefaultHostileLabels returns the labels counted as hostile.
func DefaultHostileLabels() map[tone.Label]bool {
	return map[tone.Label]bool{
		tone.Hostile:         true,
		tone.Aggressive:      true,
		tone.Confrontational: true,
		tone.Blaming:         true,
	}
}

// Result reports an evaluation of the trailing window.
type Result struct {
	ShouldTriggerCooldown bool `json:"shouldTriggerCooldown"`
	HostileCount          int  `json:"hostileCount"`
	WindowSize            int  `json:"windowSize"`
}

// Detector is stateless over the current window: every evaluation looks
// only at the messages it is handed, and a triggered prompt is dismissed
// or acted on externally rather than suppressed here.
type Detector struct {
	windowSize int
	threshold  int
	hostile    map[tone.Label]bool
}

// New builds a detector, filling in defaults for zero-valued config.
func New(cfg Config) *Detector {
	d := &Detector{
		windowSize: cfg.WindowSize,
		threshold:  cfg.HostileThreshold,
		hostile:    cfg.HostileLabels,
	}
	if d.windowSize <= 0 {
		d.windowSize = 5
	}
	if d.threshold <= 0 {
		d.threshold = 2
	}
	if d.hostile == nil {
		d.hostile = DefaultHostileLabels()
	}
	return d
}

// Evaluate inspects at most the trailing windowSize messages and reports
// whether the hostile count meets the threshold.
func (d *Detector) Evaluate(recent []chat.Message) Result {
	window := recent
	if len(window) > d.windowSize {
		window = window[len(window)-d.windowSize:]
	}

	count := 0
	for _, msg := range window {
		label, ok := tone.ParseLabel(msg.Tone.Label)
		if !ok {
			continue
		}
		if d.hostile[label] {
			count++
		}
	}

	return Result{
		ShouldTriggerCooldown: count >= d.threshold,
		HostileCount:          count,
		WindowSize:            len(window),
	}
}
