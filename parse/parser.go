// Package parse segments raw agent output into ordered, typed content
// blocks. Parsing is pure and deterministic: it never fails, and re-running
// it on a grown buffer extends the previous result without reordering
// settled blocks.
package parse

import (
	"strings"
)

// AIMarker is the delimiter line the agent prints before each of its own
// messages. Nothing before the first occurrence is ever shown.
const AIMarker = "================================== Ai Message =================================="

// HumanMarker delimits echoed human messages inside the raw stream. Content
// from a human marker up to the next AI marker is dropped.
const HumanMarker = "================================ Human Message ================================="

// Kind classifies a content block.
type Kind int

const (
	// KindText is narrative text with no recognized structure.
	KindText Kind = iota
	// KindCode is a fenced code region, content preserved verbatim.
	KindCode
	// KindSection is a labeled section such as Solution or Observation.
	KindSection
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCode:
		return "code"
	case KindSection:
		return "section"
	default:
		return "unknown"
	}
}

// Block is one classified segment of parsed output. Offset is the block's
// first-character position in the cleaned (post-marker) text and defines
// the ordering.
type Block struct {
	Content string
	Label   string // section label, empty unless KindSection
	Lang    string // fence language tag, empty unless KindCode
	Offset  int
	Kind    Kind
	Open    bool // unterminated code fence at end of stream
}

// sectionLabels are the heading keywords recognized as labeled sections.
var sectionLabels = []string{"Solution", "Observation"}

// Parse segments the raw accumulated output of one invocation into ordered
// blocks. If the AI marker never appears the result is empty.
func Parse(raw string) []Block {
	raw = trimUnsettledTail(raw)

	segments := cleanSegments(raw)

	var blocks []Block
	offset := 0
	for _, seg := range segments {
		blocks = append(blocks, parseSegment(seg, offset)...)
		offset += len(seg)
	}
	return blocks
}

// trimUnsettledTail drops a trailing line that could still grow into a
// delimiter. Without this, a marker arriving split across chunks would be
// classified as text first and reclassified later, breaking monotonicity.
func trimUnsettledTail(raw string) string {
	if raw == "" || strings.HasSuffix(raw, "\n") {
		return raw
	}
	i := strings.LastIndexByte(raw, '\n')
	last := strings.TrimSpace(raw[i+1:])
	if last == "" {
		return raw
	}
	if len(last) < len(AIMarker) && (strings.HasPrefix(AIMarker, last) || strings.HasPrefix(HumanMarker, last)) {
		return raw[:i+1]
	}
	return raw
}

// cleanSegments discards everything up to and including the first AI marker,
// splits the remainder on further markers, and drops human-message regions.
// Each returned string is one AI segment in appearance order.
func cleanSegments(raw string) []string {
	_, rest, found := strings.Cut(raw, AIMarker)
	if !found {
		return nil
	}

	var segments []string
	for {
		ai := strings.Index(rest, AIMarker)
		human := strings.Index(rest, HumanMarker)

		if human != -1 && (ai == -1 || human < ai) {
			// AI segment ends at the human marker; skip to the next AI
			// marker (or end of stream, discarding the echoed human text).
			segments = append(segments, rest[:human])
			after := rest[human+len(HumanMarker):]
			next := strings.Index(after, AIMarker)
			if next == -1 {
				return segments
			}
			rest = after[next+len(AIMarker):]
			continue
		}

		if ai == -1 {
			segments = append(segments, rest)
			return segments
		}
		segments = append(segments, rest[:ai])
		rest = rest[ai+len(AIMarker):]
	}
}

// parseSegment walks one segment line by line, emitting code blocks for
// fenced regions, section blocks for recognized labels, and text blocks for
// everything else. base is the segment's offset in the cleaned text.
func parseSegment(seg string, base int) []Block {
	var blocks []Block

	var (
		textStart = -1 // offset of pending narrative text, -1 when none
		textBuf   strings.Builder
	)
	flushText := func() {
		if textStart < 0 {
			return
		}
		content := strings.TrimSpace(textBuf.String())
		if content != "" {
			blocks = append(blocks, Block{
				Kind:    KindText,
				Content: content,
				Offset:  base + textStart,
			})
		}
		textStart = -1
		textBuf.Reset()
	}

	pos := 0
	for pos < len(seg) {
		line, next := nextLine(seg, pos)
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "```"):
			flushText()
			block, after := parseFence(seg, pos, next, base, trimmed)
			blocks = append(blocks, block)
			pos = after
			continue

		case matchLabel(trimmed) != "":
			flushText()
			block, after := parseSection(seg, next, base+pos, matchLabel(trimmed))
			blocks = append(blocks, block)
			pos = after
			continue

		default:
			if textStart < 0 {
				textStart = pos
			}
			textBuf.WriteString(line)
		}
		pos = next
	}
	flushText()

	return blocks
}

// nextLine returns the line starting at pos (including its newline, if any)
// and the offset of the following line.
func nextLine(s string, pos int) (line string, next int) {
	i := strings.IndexByte(s[pos:], '\n')
	if i == -1 {
		return s[pos:], len(s)
	}
	return s[pos : pos+i+1], pos + i + 1
}

// parseFence consumes a fenced code region starting at the fence-open line.
// Interior bytes are preserved exactly. A fence still open at end of segment
// yields an Open block that later chunks may extend.
func parseFence(seg string, fenceStart, bodyStart, base int, openLine string) (Block, int) {
	lang := strings.TrimSpace(strings.TrimPrefix(openLine, "```"))

	pos := bodyStart
	for pos < len(seg) {
		line, next := nextLine(seg, pos)
		if strings.TrimSpace(line) == "```" {
			content := strings.TrimSuffix(seg[bodyStart:pos], "\n")
			return Block{
				Kind:    KindCode,
				Content: content,
				Lang:    lang,
				Offset:  base + fenceStart,
			}, next
		}
		pos = next
	}

	// Unterminated fence: open code block, not closed prematurely.
	content := strings.TrimSuffix(seg[bodyStart:], "\n")
	return Block{
		Kind:    KindCode,
		Content: content,
		Lang:    lang,
		Offset:  base + fenceStart,
		Open:    true,
	}, len(seg)
}

// parseSection consumes a labeled section: everything after the label line
// up to the next structural boundary (fence, label, or segment end).
func parseSection(seg string, bodyStart, offset int, label string) (Block, int) {
	pos := bodyStart
	for pos < len(seg) {
		line, next := nextLine(seg, pos)
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || matchLabel(trimmed) != "" {
			break
		}
		pos = next
	}

	return Block{
		Kind:    KindSection,
		Content: strings.TrimSpace(seg[bodyStart:pos]),
		Label:   label,
		Offset:  offset,
	}, pos
}

// matchLabel reports the canonical section label when a trimmed line is a
// recognized heading ("Solution", "**Solution**", "Solution:", and the
// bold-with-colon variants), or "" otherwise. Matching is case-insensitive.
func matchLabel(trimmed string) string {
	s := trimmed
	for {
		t := strings.TrimSpace(s)
		t = strings.TrimSuffix(t, ":")
		t = strings.TrimPrefix(t, "**")
		t = strings.TrimSuffix(t, "**")
		if t == s {
			break
		}
		s = t
	}
	for _, label := range sectionLabels {
		if strings.EqualFold(s, label) {
			return label
		}
	}
	return ""
}
