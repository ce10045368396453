package docx

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Extractor walks the raw text of a document.xml payload and produces text
// nodes and runs with byte-accurate positions. It deliberately tokenizes only
// the narrow w:p / w:tbl / w:r / w:t grammar instead of building a full DOM:
// the rewriter needs offsets into the original string, and a round trip
// through an XML marshaller would not preserve the untouched bytes.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates a new extractor.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// ErrNoTextContent is returned when a document body contains no text nodes.
var ErrNoTextContent = fmt.Errorf("no text content found in document")

var attrPattern = regexp.MustCompile(`([A-Za-z0-9_.:-]+)\s*=\s*"([^"]*)"`)

// tableFrame tracks position inside a (possibly nested) table so cell
// paragraphs get a traceable path like tbl[0].tr[2].tc[1].p[0].
type tableFrame struct {
	kind     string // "tbl", "tr" or "tc"
	path     string
	children map[string]int
}

// Extract tokenizes the XML and returns every text-bearing run in document
// order, tables walked recursively.
func (e *Extractor) Extract(xml string) (*Extraction, error) {
	ext := &Extraction{}

	var (
		frames     []*tableFrame
		bodyCounts = map[string]int{}

		paraIndex   = -1
		paraPath    string
		inParagraph bool
		runOrdinal  int

		cur      *Run
		inRPr    bool
		rPrDepth int
	)

	childOrdinal := func(kind string) int {
		if len(frames) > 0 {
			n := frames[len(frames)-1].children[kind]
			frames[len(frames)-1].children[kind]++
			return n
		}
		n := bodyCounts[kind]
		bodyCounts[kind]++
		return n
	}
	parentPath := func() string {
		if len(frames) > 0 {
			return frames[len(frames)-1].path
		}
		return ""
	}
	joinPath := func(parent, seg string) string {
		if parent == "" {
			return seg
		}
		return parent + "." + seg
	}

	flushRun := func() {
		if cur != nil && cur.Text != "" {
			ext.Runs = append(ext.Runs, *cur)
		}
		cur = nil
	}

	pos := 0
	for {
		lt := strings.Index(xml[pos:], "<")
		if lt < 0 {
			break
		}
		pos += lt
		tok, ok := lexTag(xml, pos)
		if !ok {
			break
		}

		switch {
		case tok.closing:
			switch tok.name {
			case "w:p":
				flushRun()
				inParagraph = false
			case "w:r":
				flushRun()
			case "w:rPr":
				if rPrDepth > 0 {
					rPrDepth--
				}
				if rPrDepth == 0 && inRPr {
					inRPr = false
					if cur != nil {
						cur.propsEndAt = tok.start
					}
				}
			case "w:tbl", "w:tr", "w:tc":
				if len(frames) > 0 && "w:"+frames[len(frames)-1].kind == tok.name {
					frames = frames[:len(frames)-1]
				}
			}

		case tok.name == "w:p" && !tok.selfClosing:
			paraIndex++
			ext.Paragraphs++
			runOrdinal = 0
			inParagraph = true
			paraPath = joinPath(parentPath(), fmt.Sprintf("p[%d]", childOrdinal("p")))

		case tok.name == "w:tbl" && !tok.selfClosing:
			frames = append(frames, &tableFrame{
				kind:     "tbl",
				path:     joinPath(parentPath(), fmt.Sprintf("tbl[%d]", childOrdinal("tbl"))),
				children: map[string]int{},
			})
		case tok.name == "w:tr" && !tok.selfClosing:
			frames = append(frames, &tableFrame{
				kind:     "tr",
				path:     joinPath(parentPath(), fmt.Sprintf("tr[%d]", childOrdinal("tr"))),
				children: map[string]int{},
			})
		case tok.name == "w:tc" && !tok.selfClosing:
			frames = append(frames, &tableFrame{
				kind:     "tc",
				path:     joinPath(parentPath(), fmt.Sprintf("tc[%d]", childOrdinal("tc"))),
				children: map[string]int{},
			})

		case tok.name == "w:r" && !tok.selfClosing && inParagraph:
			flushRun()
			cur = &Run{
				ID:             fmt.Sprintf("p%d-r%d", paraIndex, runOrdinal),
				ParagraphIndex: paraIndex,
				Path:           paraPath,
				InTable:        len(frames) > 0,
				propsInsertAt:  tok.end,
				propsEndAt:     -1,
			}
			runOrdinal++

		case tok.name == "w:rPr" && cur != nil:
			if tok.selfClosing {
				break
			}
			inRPr = true
			rPrDepth++

		case inRPr && cur != nil:
			applyRunProperty(cur, tok.name, tok.attrs)
			if !tok.selfClosing {
				// property elements are leaves in practice; tolerate
				// container forms by not tracking their depth
				_ = tok
			}

		case tok.name == "w:t" && !tok.selfClosing:
			contentStart := tok.end
			rel := strings.Index(xml[contentStart:], "<")
			if rel < 0 {
				pos = len(xml)
				continue
			}
			contentEnd := contentStart + rel
			node := TextNode{
				Index: len(ext.Nodes),
				Text:  UnescapeText(xml[contentStart:contentEnd]),
				Start: contentStart,
				End:   contentEnd,
			}
			ext.Nodes = append(ext.Nodes, node)
			if cur != nil {
				cur.Text += node.Text
				cur.TextNodeIndices = append(cur.TextNodeIndices, node.Index)
			}
			pos = contentEnd
			continue
		}

		pos = tok.end
	}
	flushRun()

	if len(ext.Nodes) == 0 {
		return nil, ErrNoTextContent
	}

	e.logger.Debug("extracted document body",
		zap.Int("textNodes", len(ext.Nodes)),
		zap.Int("runs", len(ext.Runs)),
		zap.Int("paragraphs", ext.Paragraphs))

	return ext, nil
}

// applyRunProperty decodes a single rPr child into the run's formatting.
func applyRunProperty(r *Run, name, attrs string) {
	vals := parseAttrs(attrs)
	switch name {
	case "w:b":
		r.Formatting.Bold = toggleVal(vals["w:val"])
	case "w:i":
		r.Formatting.Italic = toggleVal(vals["w:val"])
	case "w:u":
		r.Formatting.Underline = vals["w:val"] != "none" // <w:u w:val="single"/>
	case "w:sz":
		// sz is in half-points
		if hp, err := strconv.ParseFloat(vals["w:val"], 64); err == nil {
			r.Formatting.FontSize = hp / 2
		}
	case "w:rFonts":
		if f := vals["w:ascii"]; f != "" {
			r.Formatting.FontFamily = f
		} else if f := vals["w:hAnsi"]; f != "" {
			r.Formatting.FontFamily = f
		}
	case "w:color":
		if v := vals["w:val"]; v != "" && v != "auto" {
			r.Formatting.Color = v
		}
	case "w:highlight":
		r.hasHighlight = true
	}
}

// toggleVal interprets OOXML boolean toggles: absence of w:val means on.
func toggleVal(v string) bool {
	switch v {
	case "false", "0", "none", "off":
		return false
	default:
		return true
	}
}

func parseAttrs(attrs string) map[string]string {
	out := map[string]string{}
	for _, m := range attrPattern.FindAllStringSubmatch(attrs, -1) {
		out[m[1]] = m[2]
	}
	return out
}

// tag is a lexed XML tag occurrence.
type tag struct {
	name        string
	attrs       string
	start       int // offset of '<'
	end         int // offset just past '>'
	closing     bool
	selfClosing bool
}

// lexTag reads one markup construct starting at xml[pos] == '<'. Comments,
// processing instructions and CDATA sections are returned as nameless tags
// so the caller just skips over them.
func lexTag(xml string, pos int) (tag, bool) {
	if pos >= len(xml) || xml[pos] != '<' {
		return tag{}, false
	}
	rest := xml[pos:]

	skipTo := func(marker string) (tag, bool) {
		idx := strings.Index(rest, marker)
		if idx < 0 {
			return tag{}, false
		}
		return tag{start: pos, end: pos + idx + len(marker)}, true
	}
	switch {
	case strings.HasPrefix(rest, "<!--"):
		return skipTo("-->")
	case strings.HasPrefix(rest, "<![CDATA["):
		return skipTo("]]>")
	case strings.HasPrefix(rest, "<?"):
		return skipTo("?>")
	case strings.HasPrefix(rest, "<!"):
		return skipTo(">")
	}

	gt := strings.Index(rest, ">")
	if gt < 0 {
		return tag{}, false
	}
	t := tag{start: pos, end: pos + gt + 1}
	inner := rest[1:gt]
	if strings.HasPrefix(inner, "/") {
		t.closing = true
		inner = inner[1:]
	} else if strings.HasSuffix(inner, "/") {
		t.selfClosing = true
		inner = strings.TrimSuffix(inner, "/")
	}
	inner = strings.TrimSpace(inner)
	if sp := strings.IndexAny(inner, " \t\r\n"); sp >= 0 {
		t.name = inner[:sp]
		t.attrs = inner[sp+1:]
	} else {
		t.name = inner
	}
	return t, true
}
