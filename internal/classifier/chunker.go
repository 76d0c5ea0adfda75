package classifier

import (
	"strings"
)

// YieldStatement is the cooperative yield point inserted into chunk code.
// The host binds it to a function that hands control back to the scheduler.
const YieldStatement = "__yield();"

// Chunk is one executable slice of a payload.
type Chunk struct {
	Index     int
	Source    string // original payload text covered by this chunk
	Code      string // Source with yield points inserted
	Markers   int
	Yields    int
	StartLine int

	yieldAt []int // offsets into Source after which a yield was inserted
}

// yieldText is the text inserted after a unit; line units keep their
// trailing newline last.
func yieldText(afterNewline bool) string {
	if afterNewline {
		return YieldStatement + "\n"
	}
	return " " + YieldStatement
}

// unit is the smallest slice the chunker moves around: a line, or a
// statement when the payload is a single line.
type unit struct {
	text        string
	line        int
	markers     int
	depthBefore int
	depthAfter  int
	closesBlock bool // a closer brought nesting back to zero within this unit
	tail        byte // last character outside strings and comments, 0 if none
	inBlock     bool // after the unit the innermost open bracket is a brace, or none
	joined      bool // continues the statement of the previous unit
}

// Split cuts text into chunks according to pol. Splitting happens only at
// nesting depth zero so every chunk is independently executable. Payloads
// that need no splitting come back as a single chunk.
func (c *Classifier) Split(text string, pol Policy) []Chunk {
	if text == "" {
		return []Chunk{{Index: 0, StartLine: 1}}
	}
	units := c.units(text)

	groups := [][]unit{units}
	if pol.MaxMarkersPerChunk > 0 {
		groups = c.group(units, pol.MaxMarkersPerChunk)
		if len(groups) == 1 && len(units) > c.maxLines {
			groups = c.reslice(units)
		}
	}
	return buildChunks(groups, pol.YieldEvery)
}

// group accumulates units until the marker budget is reached or a block
// ends after the minimum chunk size. A unit that continues the previous
// statement never starts a group.
func (c *Classifier) group(units []unit, maxMarkers int) [][]unit {
	var groups [][]unit
	var cur []unit
	curMarkers := 0

	flush := func() {
		if len(cur) > 0 {
			groups = append(groups, cur)
			cur, curMarkers = nil, 0
		}
	}

	for i, u := range units {
		if u.depthBefore == 0 && !u.joined && curMarkers > 0 && curMarkers+u.markers > maxMarkers {
			flush()
		}
		cur = append(cur, u)
		curMarkers += u.markers
		if u.depthAfter != 0 || (i+1 < len(units) && units[i+1].joined) {
			continue
		}
		if curMarkers >= maxMarkers || (u.closesBlock && len(cur) >= c.minLines) {
			flush()
		}
	}
	// a trailing tail without markers rides along with the last chunk
	if len(cur) > 0 && curMarkers == 0 && len(groups) > 0 {
		last := len(groups) - 1
		groups[last] = append(groups[last], cur...)
		return groups
	}
	flush()
	return groups
}

// reslice cuts one oversize group into near-equal pieces of at most
// maxLines units, moving each cut forward to the next depth-zero boundary.
func (c *Classifier) reslice(units []unit) [][]unit {
	pieces := (len(units) + c.maxLines - 1) / c.maxLines
	target := (len(units) + pieces - 1) / pieces

	var groups [][]unit
	var cur []unit
	for i, u := range units {
		cur = append(cur, u)
		if len(cur) >= target && u.depthAfter == 0 && (i+1 == len(units) || !units[i+1].joined) {
			groups = append(groups, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

func buildChunks(groups [][]unit, yieldEvery int) []Chunk {
	chunks := make([]Chunk, 0, len(groups))
	pending := 0 // mutating statements since the last yield, across chunks
	for i, g := range groups {
		var src, code strings.Builder
		ch := Chunk{Index: i, StartLine: g[0].line}
		for j, u := range g {
			src.WriteString(u.text)
			code.WriteString(u.text)
			ch.Markers += u.markers
			if yieldEvery <= 0 || u.markers == 0 {
				continue
			}
			pending += u.markers
			if pending < yieldEvery || !yieldable(u) || (j+1 < len(g) && g[j+1].joined) {
				continue
			}
			code.WriteString(yieldText(strings.HasSuffix(u.text, "\n")))
			ch.yieldAt = append(ch.yieldAt, src.Len())
			ch.Yields++
			pending = 0
		}
		ch.Source = src.String()
		ch.Code = code.String()
		chunks = append(chunks, ch)
	}
	return chunks
}

// yieldable reports whether a statement may follow u: u ends a statement
// and is not inside parentheses or brackets.
func yieldable(u unit) bool {
	return u.inBlock && strings.HasSuffix(strings.TrimSpace(u.text), ";")
}

// units cuts text into lines, or into statements when text is a single line.
func (c *Classifier) units(text string) []unit {
	statementMode := !strings.Contains(strings.TrimRight(text, "\n"), "\n")

	var out []unit
	var lx lexer
	start, line, startLine := 0, 1, 1
	depthBefore := 0
	closes := false
	var tail byte // last code character of the current unit

	emit := func(end int) {
		u := c.newUnit(text[start:end], startLine, depthBefore, lx.depth(), closes)
		u.inBlock = lx.inBlock()
		u.tail = tail
		out = append(out, u)
		start, startLine, depthBefore, closes, tail = end, line, lx.depth(), false, 0
	}

	for i := 0; i < len(text); i++ {
		ch := text[i]
		var next byte
		if i+1 < len(text) {
			next = text[i+1]
		}
		wasCode := lx.code() && !lx.lineComment
		consumed := lx.step(ch, next)
		if consumed {
			i++ // two-byte comment opener consumed
		} else if wasCode && !isSpace(ch) {
			tail = ch
		}
		if lx.closedToZero {
			closes = true
			lx.closedToZero = false
		}

		cut := false
		if statementMode {
			cut = ch == ';' && lx.depth() == 0 && lx.code()
		} else {
			cut = ch == '\n' && lx.code()
		}
		if ch == '\n' {
			line++
		}
		if cut {
			emit(i + 1)
		}
	}
	if start < len(text) {
		emit(len(text))
	}
	markJoins(out)
	return out
}

func (c *Classifier) newUnit(text string, line, before, after int, closes bool) unit {
	return unit{
		text:        text,
		line:        line,
		markers:     c.countMarkers(text),
		depthBefore: before,
		depthAfter:  after,
		closesBlock: closes,
	}
}

// markJoins flags units that cannot start a statement after the previous
// one: else, catch and finally clauses, the while of a do loop, bodies of
// braceless headers, and operator continuations. Blank and comment-only
// units in between are flagged too so no cut lands between the two.
func markJoins(units []unit) {
	var doDepths []int
	prev := -1
	for i := range units {
		u := &units[i]
		if u.tail == 0 {
			continue
		}
		head := strings.TrimSpace(u.text)
		joined := false
		switch {
		case prev < 0:
		case hasKeyword(head, "else"), hasKeyword(head, "catch"), hasKeyword(head, "finally"):
			joined = true
		case hasKeyword(head, "while") && len(doDepths) > 0 && doDepths[len(doDepths)-1] == u.depthBefore:
			joined = true
			doDepths = doDepths[:len(doDepths)-1]
		case dangling(units[prev]):
			joined = true
		case units[prev].tail != ';' && continuesExpression(head):
			joined = true
		}
		if joined {
			for j := prev + 1; j <= i; j++ {
				units[j].joined = true
			}
		}

		if hasKeyword(strings.TrimLeft(head, "} \t"), "do") {
			doDepths = append(doDepths, u.depthBefore)
		}
		if n := len(doDepths); n > 0 && doDepths[n-1] == u.depthAfter {
			if k := strings.LastIndexByte(u.text, '}'); k >= 0 && hasKeyword(strings.TrimSpace(u.text[k+1:]), "while") {
				doDepths = doDepths[:n-1]
			}
		}
		prev = i
	}
}

// dangling reports whether u is a statement header still waiting for its
// body, or ends mid-expression.
func dangling(u unit) bool {
	if strings.IndexByte("=+-*/%&|^!~?:,.<>", u.tail) >= 0 {
		return true
	}
	if u.tail == ';' || u.tail == '}' || u.tail == '{' {
		return false
	}
	head := strings.TrimLeft(strings.TrimSpace(u.text), "} \t")
	for _, kw := range []string{"if", "else", "for", "while", "do", "with"} {
		if hasKeyword(head, kw) {
			return true
		}
	}
	return false
}

// continuesExpression reports whether a line starting with s extends the
// expression on the line before it.
func continuesExpression(s string) bool {
	if s == "" || strings.HasPrefix(s, "//") || strings.HasPrefix(s, "/*") {
		return false
	}
	return strings.IndexByte(".?:,=+-*/%&|^<>([`", s[0]) >= 0
}

func hasKeyword(s, kw string) bool {
	if !strings.HasPrefix(s, kw) {
		return false
	}
	if len(s) == len(kw) {
		return true
	}
	ch := s[len(kw)]
	return !(ch == '_' || ch == '$' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9')
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

// lexer tracks bracket nesting while skipping strings and comments.
type lexer struct {
	open         []byte // unclosed brackets, innermost last
	quote        byte
	escape       bool
	lineComment  bool
	blockComment bool
	prevStar     bool
	closedToZero bool
}

func (l *lexer) depth() int { return len(l.open) }

// inBlock reports whether a statement may start at the current position.
func (l *lexer) inBlock() bool {
	return len(l.open) == 0 || l.open[len(l.open)-1] == '{'
}

// code reports whether the lexer is outside strings and block comments, so
// a cut at the current position cannot split a token.
func (l *lexer) code() bool {
	return l.quote == 0 && !l.blockComment
}

// step consumes ch and reports whether next was consumed as well.
func (l *lexer) step(ch, next byte) bool {
	switch {
	case l.lineComment:
		if ch == '\n' {
			l.lineComment = false
		}
		return false
	case l.blockComment:
		if l.prevStar && ch == '/' {
			l.blockComment = false
		}
		l.prevStar = ch == '*'
		return false
	case l.quote != 0:
		switch {
		case l.escape:
			l.escape = false
		case ch == '\\':
			l.escape = true
		case ch == l.quote:
			l.quote = 0
		}
		return false
	}

	switch ch {
	case '/':
		if next == '/' {
			l.lineComment = true
			return true
		}
		if next == '*' {
			l.blockComment = true
			l.prevStar = false
			return true
		}
	case '"', '\'', '`':
		l.quote = ch
	case '{', '(', '[':
		l.open = append(l.open, ch)
	case '}', ')', ']':
		if n := len(l.open); n > 0 {
			l.open = l.open[:n-1]
			if n == 1 && ch == '}' {
				l.closedToZero = true
			}
		}
	}
	return false
}
