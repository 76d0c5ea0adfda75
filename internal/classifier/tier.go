package classifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/me/hostbridge/pkg/model"
)

// Tier is the estimated severity bucket of a payload.
type Tier int

const (
	Simple Tier = iota
	Moderate
	High
	Extreme
)

var tierNames = [...]string{"simple", "moderate", "high", "extreme"}

func (t Tier) String() string {
	if t < Simple || t > Extreme {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if strings.EqualFold(s, name) {
			return Tier(i), nil
		}
	}
	return Simple, fmt.Errorf("unknown tier %q", s)
}

// Signal names one heuristic input to classification.
type Signal string

const (
	SignalMarkers   Signal = "mutating_markers"
	SignalLoops     Signal = "loop_constructs"
	SignalMagnitude Signal = "numeric_magnitude"
	SignalLength    Signal = "payload_length"
)

// Threshold maps a signal value strictly above Above to Tier.
type Threshold struct {
	Above float64
	Tier  Tier
}

// SignalRule lists a signal's thresholds, most severe first.
type SignalRule struct {
	Signal     Signal
	Thresholds []Threshold
}

// DefaultSignalTable maps each signal to a tier. A payload's tier is the
// maximum across all signals.
var DefaultSignalTable = []SignalRule{
	{SignalMarkers, []Threshold{{100, Extreme}, {30, High}, {10, Moderate}}},
	{SignalLoops, []Threshold{{20, Extreme}, {8, High}, {3, Moderate}}},
	{SignalMagnitude, []Threshold{{9999, Extreme}, {999, High}, {99, Moderate}}},
	{SignalLength, []Threshold{{50000, Extreme}, {20000, High}, {5000, Moderate}}},
}

// Policy is the execution policy attached to a tier.
type Policy struct {
	Timeout            time.Duration
	MaxMarkersPerChunk int           // 0 disables splitting
	YieldEvery         int           // yield after every N mutating statements
	PerChunkScope      bool          // each chunk runs in its own scope, one chunk per tick
	Pause              time.Duration // cooperative pause between chunks
	RefreshEvery       int           // host refresh every N chunks
}

// DefaultPolicyTable maps tiers to execution policies.
var DefaultPolicyTable = map[Tier]Policy{
	Simple:   {Timeout: 120 * time.Second, YieldEvery: 15},
	Moderate: {Timeout: 180 * time.Second, MaxMarkersPerChunk: 10, YieldEvery: 8},
	High:     {Timeout: 300 * time.Second, MaxMarkersPerChunk: 5, YieldEvery: 2},
	Extreme: {
		Timeout:            600 * time.Second,
		MaxMarkersPerChunk: 3,
		YieldEvery:         1,
		PerChunkScope:      true,
		Pause:              5 * time.Millisecond,
		RefreshEvery:       3,
	},
}

// DefaultKindTimeouts are timeout floors for kinds known to be heavy.
var DefaultKindTimeouts = map[model.TaskKind]time.Duration{
	"boolean_operation":    180 * time.Second,
	"create_dovetail":      180 * time.Second,
	"create_mortise_tenon": 180 * time.Second,
	"create_finger_joint":  180 * time.Second,
	model.KindEvalScript:   300 * time.Second,
}

// tierFor evaluates one rule against a value.
func (r SignalRule) tierFor(v float64) Tier {
	for _, th := range r.Thresholds {
		if v > th.Above {
			return th.Tier
		}
	}
	return Simple
}
