package classifier

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/me/hostbridge/internal/host"
	"github.com/me/hostbridge/pkg/model"
)

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func repeatLines(line string, n int) string {
	return strings.Repeat(line+"\n", n)
}

func assertCoverage(t *testing.T, text string, chunks []Chunk) {
	t.Helper()
	var src strings.Builder
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d has Index %d", i, ch.Index)
		}
		src.WriteString(ch.Source)
		if got := withYields(ch); got != ch.Code {
			t.Errorf("chunk %d code is not its source plus yields:\n got %q\nwant %q", i, ch.Code, got)
		}
		if len(ch.yieldAt) != ch.Yields {
			t.Errorf("chunk %d records %d yield offsets, want %d", i, len(ch.yieldAt), ch.Yields)
		}
	}
	if src.String() != text {
		t.Errorf("concatenated sources differ from payload:\n got %q\nwant %q", src.String(), text)
	}
}

// withYields rebuilds chunk code from its source and recorded yield offsets.
func withYields(ch Chunk) string {
	var b strings.Builder
	last := 0
	for _, off := range ch.yieldAt {
		b.WriteString(ch.Source[last:off])
		b.WriteString(yieldText(strings.HasSuffix(ch.Source[:off], "\n")))
		last = off
	}
	b.WriteString(ch.Source[last:])
	return b.String()
}

// runChunks executes every chunk in order on a fresh host.
func runChunks(t *testing.T, chunks []Chunk) *host.Host {
	t.Helper()
	h, err := host.New(host.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}
	for _, ch := range chunks {
		if _, err := h.Run(context.Background(), ch.Code); err != nil {
			t.Fatalf("chunk %d/%d failed: %v\n%s", ch.Index, len(chunks), err, ch.Code)
		}
	}
	return h
}

func TestClassify_Tiers(t *testing.T) {
	c := testClassifier(t)
	tests := []struct {
		name string
		text string
		want Tier
	}{
		{"empty", "", Simple},
		{"few markers", repeatLines(`scene.create("box");`, 10), Simple},
		{"moderate markers", repeatLines(`scene.create("box");`, 11), Moderate},
		{"high markers", repeatLines(`scene.remove("box");`, 31), High},
		{"extreme markers", repeatLines(`scene.transform("box", {});`, 101), Extreme},
		{"moderate loops", repeatLines("for (;;) {}", 4), Moderate},
		{"high loops", repeatLines("while (x) {}", 9), High},
		{"magnitude moderate", "var n = 100;", Moderate},
		{"magnitude high", "var n = 1000;", High},
		{"magnitude extreme", "var n = 10000;", Extreme},
		{"magnitude boundary", "var n = 99;", Simple},
		{"decimal", "var n = 99.5;", Moderate},
		{"identifier digits ignored", "var box12345 = 1;", Simple},
		{"long payload", strings.Repeat("a", 50001), Extreme},
		{"medium payload", strings.Repeat("a", 5001), Moderate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.text).Tier; got != tt.want {
				t.Errorf("Classify tier = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassify_MaxAcrossSignals(t *testing.T) {
	c := testClassifier(t)
	text := repeatLines(`scene.create("box");`, 12) + "var n = 5000;\n"
	a := c.Classify(text)
	if a.Tier != High {
		t.Fatalf("tier = %s, want high", a.Tier)
	}
	if a.Reasons[SignalMarkers] != Moderate {
		t.Errorf("markers reason = %s, want moderate", a.Reasons[SignalMarkers])
	}
	if a.Reasons[SignalMagnitude] != High {
		t.Errorf("magnitude reason = %s, want high", a.Reasons[SignalMagnitude])
	}
	if a.Signals.Markers != 12 || a.Signals.Magnitude != 5000 {
		t.Errorf("signals = %+v", a.Signals)
	}
}

func TestPlan_SimpleNoop(t *testing.T) {
	c := testClassifier(t)
	p := c.Plan(model.KindNoopFast, "", false)
	if p.Tier != Simple {
		t.Errorf("tier = %s, want simple", p.Tier)
	}
	if p.Timeout != 120*time.Second {
		t.Errorf("timeout = %s, want 120s", p.Timeout)
	}
	if len(p.Chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(p.Chunks))
	}
	if p.PerChunkScope() {
		t.Error("simple plan should not run chunk per tick")
	}
}

func TestPlan_SixtyMarkers(t *testing.T) {
	c := testClassifier(t)
	text := repeatLines(`scene.create("box", {width: 1});`, 60)
	p := c.Plan(model.KindEvalScript, text, true)

	if p.Tier != High {
		t.Fatalf("tier = %s, want high", p.Tier)
	}
	if p.Timeout != 300*time.Second {
		t.Errorf("timeout = %s, want 300s", p.Timeout)
	}
	if len(p.Chunks) != 12 {
		t.Errorf("chunks = %d, want 12", len(p.Chunks))
	}
	total, yields := 0, 0
	for _, ch := range p.Chunks {
		if ch.Markers > 5 {
			t.Errorf("chunk %d has %d markers, want <= 5", ch.Index, ch.Markers)
		}
		total += ch.Markers
		yields += ch.Yields
	}
	if total != 60 {
		t.Errorf("markers across chunks = %d, want 60", total)
	}
	if yields != 30 {
		t.Errorf("yields = %d, want 30 (every 2nd marker)", yields)
	}
	assertCoverage(t, text, p.Chunks)
}

func TestPlan_KindTimeoutFloor(t *testing.T) {
	c := testClassifier(t)
	tests := []struct {
		kind model.TaskKind
		text string
		want time.Duration
	}{
		{"boolean_operation", "", 180 * time.Second},
		{"create_dovetail", "", 180 * time.Second},
		{model.KindEvalScript, "1 + 1", 300 * time.Second},
		{model.KindCreateComponent, "", 120 * time.Second},
		// the floor never lowers a tier timeout
		{"boolean_operation", repeatLines(`scene.boolean("a", "b");`, 101), 600 * time.Second},
	}
	for _, tt := range tests {
		p := c.Plan(tt.kind, tt.text, false)
		if p.Timeout != tt.want {
			t.Errorf("Plan(%s) timeout = %s, want %s", tt.kind, p.Timeout, tt.want)
		}
	}
}

func TestPlan_ConfiguredKindTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KindTimeouts = map[string]time.Duration{"export_scene": 240 * time.Second}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Plan(model.KindExportScene, "", false).Timeout; got != 240*time.Second {
		t.Errorf("timeout = %s, want 240s", got)
	}
}

func TestPlan_NotChunkable(t *testing.T) {
	c := testClassifier(t)
	text := repeatLines(`scene.create("box");`, 40)
	p := c.Plan(model.KindCreateComponent, text, false)
	if len(p.Chunks) != 1 || p.Chunks[0].Code != text {
		t.Fatalf("non-chunkable plan should carry the payload verbatim, got %d chunks", len(p.Chunks))
	}
	if p.Tier != High {
		t.Errorf("tier = %s, want high", p.Tier)
	}
}

func TestSplit_BlocksStayWhole(t *testing.T) {
	c := testClassifier(t)
	var b strings.Builder
	b.WriteString(repeatLines(`scene.create("a");`, 25))
	b.WriteString("if (ready) {\n")
	b.WriteString(repeatLines(`  scene.create("inner");`, 8))
	b.WriteString("}\n")
	b.WriteString(`scene.create("tail");`)
	text := b.String()

	p := c.Plan(model.KindEvalScript, text, true)
	if p.Tier != High {
		t.Fatalf("tier = %s, want high", p.Tier)
	}
	assertCoverage(t, text, p.Chunks)

	found := false
	for _, ch := range p.Chunks {
		if strings.Count(ch.Source, "{") != strings.Count(ch.Source, "}") {
			t.Errorf("chunk %d splits a block:\n%s", ch.Index, ch.Source)
		}
		if strings.Contains(ch.Source, "if (ready)") {
			found = true
			if ch.Markers != 8 {
				t.Errorf("block chunk markers = %d, want 8", ch.Markers)
			}
		}
	}
	if !found {
		t.Fatal("block not found in any chunk")
	}
	if got := len(p.Chunks); got != 7 {
		t.Errorf("chunks = %d, want 7", got)
	}
}

func TestSplit_StringsAndComments(t *testing.T) {
	c := testClassifier(t)
	text := "// opening { in a comment\n" +
		repeatLines(`scene.create("{");`, 40) +
		"/* ( [ */\n"
	p := c.Plan(model.KindEvalScript, text, true)
	if len(p.Chunks) != 8 {
		t.Errorf("chunks = %d, want 8", len(p.Chunks))
	}
	assertCoverage(t, text, p.Chunks)
}

func TestSplit_StatementMode(t *testing.T) {
	c := testClassifier(t)
	text := strings.TrimSpace(strings.Repeat(`scene.create("a"); `, 12))
	p := c.Plan(model.KindEvalScript, text, true)
	if p.Tier != Moderate {
		t.Fatalf("tier = %s, want moderate", p.Tier)
	}
	if len(p.Chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(p.Chunks))
	}
	if p.Chunks[0].Markers != 10 || p.Chunks[1].Markers != 2 {
		t.Errorf("markers = %d/%d, want 10/2", p.Chunks[0].Markers, p.Chunks[1].Markers)
	}
	if p.Chunks[0].Yields != 1 {
		t.Errorf("first chunk yields = %d, want 1", p.Chunks[0].Yields)
	}
	assertCoverage(t, text, p.Chunks)
}

func TestSplit_Reslice(t *testing.T) {
	c := testClassifier(t)
	text := "var size = 250;\n" + repeatLines("total = total + size;", 120)
	p := c.Plan(model.KindEvalScript, text, true)
	if p.Tier != Moderate {
		t.Fatalf("tier = %s, want moderate", p.Tier)
	}
	if len(p.Chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(p.Chunks))
	}
	for _, ch := range p.Chunks {
		if n := strings.Count(ch.Source, "\n"); n > 50 {
			t.Errorf("chunk %d has %d lines, want <= 50", ch.Index, n)
		}
	}
	if p.Chunks[1].StartLine != 42 {
		t.Errorf("second chunk starts at line %d, want 42", p.Chunks[1].StartLine)
	}
	assertCoverage(t, text, p.Chunks)
}

func TestSplit_ExtremePerChunkScope(t *testing.T) {
	c := testClassifier(t)
	text := repeatLines(`scene.create("box");`, 102)
	p := c.Plan(model.KindEvalScript, text, true)
	if p.Tier != Extreme {
		t.Fatalf("tier = %s, want extreme", p.Tier)
	}
	if !p.PerChunkScope() {
		t.Error("extreme plan should run one chunk per tick")
	}
	if len(p.Chunks) != 34 {
		t.Errorf("chunks = %d, want 34", len(p.Chunks))
	}
	for _, ch := range p.Chunks {
		if ch.Yields != ch.Markers {
			t.Errorf("chunk %d yields = %d, want one per marker (%d)", ch.Index, ch.Yields, ch.Markers)
		}
	}
	assertCoverage(t, text, p.Chunks)
}

func TestNew_BadPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MarkerPatterns = []string{"("}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestParseTier(t *testing.T) {
	for _, want := range []Tier{Simple, Moderate, High, Extreme} {
		got, err := ParseTier(strings.ToUpper(want.String()))
		if err != nil || got != want {
			t.Errorf("ParseTier(%q) = %v, %v", want.String(), got, err)
		}
	}
	if _, err := ParseTier("huge"); err == nil {
		t.Error("expected error for unknown tier")
	}
	if s := Tier(9).String(); s != "tier(9)" {
		t.Errorf("String = %q", s)
	}
}

func TestSplit_ChunksExecute(t *testing.T) {
	c := testClassifier(t)
	tests := []struct {
		name      string
		text      string
		wantTier  Tier
		wantScene int
	}{
		{
			name: "if else blocks",
			text: "var flag = false;\n" + strings.Repeat(
				"if (flag) {\n  scene.create(\"box\", {});\n}\nelse {\n  scene.create(\"box\", {});\n}\n", 8),
			wantTier:  Moderate,
			wantScene: 8,
		},
		{
			name: "braceless if else",
			text: strings.Repeat(
				"if (true) scene.create(\"box\", {});\nelse scene.create(\"sphere\", {});\n", 20),
			wantTier:  High,
			wantScene: 20,
		},
		{
			name: "braceless headers on their own line",
			text: strings.Repeat(
				"if (true)\n  scene.create(\"box\", {});\nelse\n  scene.create(\"sphere\", {});\n", 12),
			wantTier:  Moderate,
			wantScene: 12,
		},
		{
			name: "try catch finally",
			text: "var n = 0;\n" + strings.Repeat(
				"try {\n  scene.create(\"box\", {});\n}\ncatch (e) {\n  n++;\n}\nfinally {\n  n++;\n}\n", 12),
			wantTier:  Moderate,
			wantScene: 12,
		},
		{
			name: "do while",
			text: strings.Repeat(
				"do {\n  scene.create(\"box\", {});\n}\nwhile (false);\n", 8),
			wantTier:  High,
			wantScene: 8,
		},
		{
			name: "else separated by a comment",
			text: strings.Repeat(
				"if (true) {\n  scene.create(\"box\", {});\n}\n// otherwise\n\nelse {\n  scene.create(\"sphere\", {});\n}\n", 12),
			wantTier:  Moderate,
			wantScene: 12,
		},
		{
			name: "multi-line call arguments",
			text: strings.Repeat(
				"scene.create(\"box\",\n  {name: \"a\"});\n", 40),
			wantTier:  High,
			wantScene: 40,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := c.Plan(model.KindEvalScript, tt.text, true)
			if p.Tier != tt.wantTier {
				t.Fatalf("tier = %s, want %s", p.Tier, tt.wantTier)
			}
			if len(p.Chunks) < 2 {
				t.Fatalf("chunks = %d, want a split payload", len(p.Chunks))
			}
			assertCoverage(t, tt.text, p.Chunks)
			h := runChunks(t, p.Chunks)
			if got := h.Scene().Len(); got != tt.wantScene {
				t.Errorf("scene has %d components, want %d", got, tt.wantScene)
			}
		})
	}
}

func TestSplit_ElseNeverStartsChunk(t *testing.T) {
	c := testClassifier(t)
	text := strings.Repeat("if (true) scene.create(\"box\", {});\nelse scene.create(\"box\", {});\n", 20)
	p := c.Plan(model.KindEvalScript, text, true)
	for _, ch := range p.Chunks {
		if strings.HasPrefix(strings.TrimSpace(ch.Source), "else") {
			t.Errorf("chunk %d starts with else:\n%s", ch.Index, ch.Source)
		}
		if strings.Contains(ch.Code, YieldStatement+"\nelse") {
			t.Errorf("chunk %d has a yield before else:\n%s", ch.Index, ch.Code)
		}
	}
}

func TestSplit_ClientYieldKept(t *testing.T) {
	c := testClassifier(t)
	text := repeatLines(`scene.create("box", {}); __yield();`, 12)
	p := c.Plan(model.KindEvalScript, text, true)
	if len(p.Chunks) < 2 {
		t.Fatalf("chunks = %d, want a split payload", len(p.Chunks))
	}
	assertCoverage(t, text, p.Chunks)
	var src strings.Builder
	for _, ch := range p.Chunks {
		src.WriteString(ch.Source)
	}
	if got := strings.Count(src.String(), YieldStatement); got != 12 {
		t.Errorf("payload yields in sources = %d, want 12", got)
	}
}

func TestNew_TierTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TierTimeouts = map[string]time.Duration{"Moderate": 240 * time.Second}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.policies[Moderate].Timeout; got != 240*time.Second {
		t.Errorf("moderate timeout = %s, want 4m0s", got)
	}
	if got := DefaultPolicyTable[Moderate].Timeout; got != 180*time.Second {
		t.Errorf("default table changed: moderate timeout = %s", got)
	}

	for name, d := range map[string]time.Duration{"huge": time.Second, "high": 0} {
		cfg := DefaultConfig()
		cfg.TierTimeouts = map[string]time.Duration{name: d}
		if _, err := New(cfg); err == nil {
			t.Errorf("New with tier_timeouts %s=%s: expected error", name, d)
		}
	}
}
