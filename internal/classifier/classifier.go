// Package classifier estimates the execution cost of a task payload and, for
// expensive payloads, splits it into chunks with cooperative yield points.
//
// Classification is table driven: DefaultSignalTable maps each measured
// signal to a tier and DefaultPolicyTable maps each tier to a timeout,
// chunk budget and yield frequency.
package classifier

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/me/hostbridge/pkg/model"
)

// DefaultMarkerPatterns match mutating calls on the host scripting surface.
var DefaultMarkerPatterns = []string{
	`\bscene\s*\.\s*(create|remove|transform|setMaterial|group|boolean|clear)\s*\(`,
}

// DefaultLoopPatterns match iteration constructs.
var DefaultLoopPatterns = []string{
	`\b(for|while|do)\b(?=\s*[({])`,
	`\.\s*(forEach|map|reduce|filter|times)\s*\(`,
}

const numberPattern = `(?<![\w.])\d+(\.\d+)?(?![\w.])`

// matchTimeout bounds a single regexp2 match so a pathological payload
// cannot stall the scheduler.
const matchTimeout = 250 * time.Millisecond

// Config holds classifier configuration.
type Config struct {
	MarkerPatterns   []string                 `yaml:"marker_patterns"`
	LoopPatterns     []string                 `yaml:"loop_patterns"`
	MinChunkLines    int                      `yaml:"min_chunk_lines"`
	MaxLinesPerChunk int                      `yaml:"max_lines_per_chunk"`
	KindTimeouts     map[string]time.Duration `yaml:"kind_timeouts"`
	TierTimeouts     map[string]time.Duration `yaml:"tier_timeouts"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MarkerPatterns:   DefaultMarkerPatterns,
		LoopPatterns:     DefaultLoopPatterns,
		MinChunkLines:    3,
		MaxLinesPerChunk: 50,
	}
}

// Signals are the raw measurements taken from a payload.
type Signals struct {
	Markers   int     `json:"mutating_markers"`
	Loops     int     `json:"loop_constructs"`
	Magnitude float64 `json:"numeric_magnitude"`
	Length    int     `json:"payload_length"`
}

func (s Signals) value(sig Signal) float64 {
	switch sig {
	case SignalMarkers:
		return float64(s.Markers)
	case SignalLoops:
		return float64(s.Loops)
	case SignalMagnitude:
		return s.Magnitude
	case SignalLength:
		return float64(s.Length)
	}
	return 0
}

// Assessment is the result of classifying a payload.
type Assessment struct {
	Tier    Tier
	Signals Signals
	Reasons map[Signal]Tier // tier contributed by each signal
}

// Classifier measures payloads and produces execution plans.
type Classifier struct {
	markers      []*regexp2.Regexp
	loops        []*regexp2.Regexp
	numbers      *regexp2.Regexp
	signals      []SignalRule
	policies     map[Tier]Policy
	kindTimeouts map[model.TaskKind]time.Duration
	minLines     int
	maxLines     int
}

// New compiles the configured patterns.
func New(cfg Config) (*Classifier, error) {
	markers, err := compileAll(cfg.MarkerPatterns)
	if err != nil {
		return nil, fmt.Errorf("marker patterns: %w", err)
	}
	loops, err := compileAll(cfg.LoopPatterns)
	if err != nil {
		return nil, fmt.Errorf("loop patterns: %w", err)
	}
	numbers, err := compile(numberPattern)
	if err != nil {
		return nil, err
	}

	kindTimeouts := make(map[model.TaskKind]time.Duration, len(DefaultKindTimeouts)+len(cfg.KindTimeouts))
	for k, v := range DefaultKindTimeouts {
		kindTimeouts[k] = v
	}
	for k, v := range cfg.KindTimeouts {
		kindTimeouts[model.TaskKind(k)] = v
	}

	policies := make(map[Tier]Policy, len(DefaultPolicyTable))
	for t, p := range DefaultPolicyTable {
		policies[t] = p
	}
	for name, d := range cfg.TierTimeouts {
		t, err := ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("tier timeouts: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("tier timeouts: %s must be positive, got %s", t, d)
		}
		p := policies[t]
		p.Timeout = d
		policies[t] = p
	}

	c := &Classifier{
		markers:      markers,
		loops:        loops,
		numbers:      numbers,
		signals:      DefaultSignalTable,
		policies:     policies,
		kindTimeouts: kindTimeouts,
		minLines:     cfg.MinChunkLines,
		maxLines:     cfg.MaxLinesPerChunk,
	}
	if c.minLines <= 0 {
		c.minLines = 1
	}
	if c.maxLines <= 0 {
		c.maxLines = DefaultConfig().MaxLinesPerChunk
	}
	return c, nil
}

// MustNew is New for static configurations; it panics on a bad pattern.
func MustNew(cfg Config) *Classifier {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// Measure takes every signal from text.
func (c *Classifier) Measure(text string) Signals {
	s := Signals{
		Markers: c.countMarkers(text),
		Loops:   countAll(c.loops, text),
		Length:  len(text),
	}
	m, _ := c.numbers.FindStringMatch(text)
	for m != nil {
		if v, err := strconv.ParseFloat(m.String(), 64); err == nil && v > s.Magnitude {
			s.Magnitude = v
		}
		m, _ = c.numbers.FindNextMatch(m)
	}
	return s
}

// Classify measures text and takes the most severe tier across signals.
func (c *Classifier) Classify(text string) Assessment {
	a := Assessment{Signals: c.Measure(text), Reasons: make(map[Signal]Tier, len(c.signals))}
	for _, rule := range c.signals {
		t := rule.tierFor(a.Signals.value(rule.Signal))
		a.Reasons[rule.Signal] = t
		if t > a.Tier {
			a.Tier = t
		}
	}
	return a
}

// Plan is the execution plan for one operation.
type Plan struct {
	Kind      model.TaskKind
	Tier      Tier
	Signals   Signals
	Policy    Policy
	Timeout   time.Duration
	Chunkable bool
	Chunks    []Chunk
}

// PerChunkScope reports whether chunks run one per tick, each in its own scope.
func (p Plan) PerChunkScope() bool {
	return p.Policy.PerChunkScope && len(p.Chunks) > 1
}

// Plan classifies text and builds the plan for kind. When chunkable is
// false, text is only measured and the plan carries a single chunk holding
// it verbatim.
func (c *Classifier) Plan(kind model.TaskKind, text string, chunkable bool) Plan {
	a := c.Classify(text)
	p := Plan{
		Kind:      kind,
		Tier:      a.Tier,
		Signals:   a.Signals,
		Policy:    c.policies[a.Tier],
		Chunkable: chunkable,
	}
	p.Timeout = p.Policy.Timeout
	if floor, ok := c.kindTimeouts[kind]; ok && floor > p.Timeout {
		p.Timeout = floor
	}

	if !chunkable {
		p.Chunks = []Chunk{{Index: 0, Source: text, Code: text, Markers: a.Signals.Markers, StartLine: 1}}
		return p
	}
	p.Chunks = c.Split(text, p.Policy)
	return p
}

func (c *Classifier) countMarkers(text string) int {
	return countAll(c.markers, text)
}

func compile(pattern string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	re.MatchTimeout = matchTimeout
	return re, nil
}

func compileAll(patterns []string) ([]*regexp2.Regexp, error) {
	out := make([]*regexp2.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func countAll(res []*regexp2.Regexp, text string) int {
	n := 0
	for _, re := range res {
		m, _ := re.FindStringMatch(text)
		for m != nil {
			n++
			m, _ = re.FindNextMatch(m)
		}
	}
	return n
}
