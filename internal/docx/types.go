package docx

// TextNode is a single <w:t> element found in document.xml. Start and End
// are byte offsets of the text content (between the opening tag's '>' and
// the closing '</w:t>') in the source XML string. Text is stored unescaped.
type TextNode struct {
	Index int
	Text  string
	Start int
	End   int
}

// Formatting is the subset of run properties we care about when describing
// a run to the tagger or snapshotting it alongside a detected field.
type Formatting struct {
	Bold       bool    `json:"bold,omitempty"`
	Italic     bool    `json:"italic,omitempty"`
	Underline  bool    `json:"underline,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`
	Color      string  `json:"color,omitempty"`
}

// IsZero reports whether no formatting was decoded for the run.
func (f Formatting) IsZero() bool {
	return f == Formatting{}
}

// Run is a formatting-homogeneous span of text inside a paragraph. A run may
// concatenate several TextNodes. ID is derived from document structure
// (paragraph ordinal + run ordinal) so re-extracting the same XML yields the
// same IDs.
type Run struct {
	ID              string
	Text            string
	Formatting      Formatting
	ParagraphIndex  int
	Path            string
	InTable         bool
	TextNodeIndices []int

	// Byte offsets used by the rewriter when run properties must change.
	// propsInsertAt is just after the run open tag's '>'. propsEndAt is the
	// offset of "</w:rPr>" when the run has properties, -1 otherwise.
	propsInsertAt int
	propsEndAt    int
	hasHighlight  bool
}

// RunChange instructs the rewriter to replace a run's text and optionally
// inject highlight formatting. It is the only mutation primitive fill-time
// code needs.
type RunChange struct {
	ID        string
	NewText   string
	Highlight bool
}

// Extraction is the result of walking a document.xml payload.
type Extraction struct {
	Nodes      []TextNode
	Runs       []Run
	Paragraphs int
}

// RunByID returns the run with the given id, or nil.
func (e *Extraction) RunByID(id string) *Run {
	for i := range e.Runs {
		if e.Runs[i].ID == id {
			return &e.Runs[i]
		}
	}
	return nil
}
