package llm

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// Segment is a piece of parsed stream text.
type Segment struct {
	Text      string
	Reasoning bool
}

// ThinkParser separates <think>...</think> reasoning embedded in content
// from the content itself. Tags may be split across chunks; text that could
// be the start of a tag is held back until the next chunk decides it.
type ThinkParser struct {
	inside bool
	buf    string
}

// Inside reports whether the parser is between an opening and closing tag.
func (p *ThinkParser) Inside() bool { return p.inside }

// Feed consumes chunk and returns the segments that are now unambiguous.
func (p *ThinkParser) Feed(chunk string) []Segment {
	if chunk == "" {
		return nil
	}
	p.buf += chunk
	var out []Segment
	for p.buf != "" {
		tag := thinkOpen
		if p.inside {
			tag = thinkClose
		}
		if i := strings.Index(p.buf, tag); i >= 0 {
			if i > 0 {
				out = append(out, Segment{Text: p.buf[:i], Reasoning: p.inside})
			}
			p.buf = p.buf[i+len(tag):]
			p.inside = !p.inside
			continue
		}
		safe := safeIndex(p.buf, tag)
		if safe > 0 {
			out = append(out, Segment{Text: p.buf[:safe], Reasoning: p.inside})
			p.buf = p.buf[safe:]
		}
		break
	}
	return out
}

// Flush returns whatever is still buffered, classified by the current
// state, and resets the buffer.
func (p *ThinkParser) Flush() []Segment {
	if p.buf == "" {
		return nil
	}
	s := Segment{Text: p.buf, Reasoning: p.inside}
	p.buf = ""
	return []Segment{s}
}

// Reset returns the parser to its initial state.
func (p *ThinkParser) Reset() {
	p.inside = false
	p.buf = ""
}

// safeIndex returns how much of text can be emitted without cutting a
// possible prefix of tag at its end.
func safeIndex(text, tag string) int {
	for i := len(tag) - 1; i >= 1; i-- {
		if strings.HasSuffix(text, tag[:i]) {
			return len(text) - i
		}
	}
	return len(text)
}

// SplitThink extracts embedded reasoning from a complete content string.
func SplitThink(content string) (text, reasoning string) {
	var p ThinkParser
	var c, r strings.Builder
	for _, s := range append(p.Feed(content), p.Flush()...) {
		if s.Reasoning {
			r.WriteString(s.Text)
		} else {
			c.WriteString(s.Text)
		}
	}
	return c.String(), r.String()
}
