package audit

import "unicode/utf8"

// Interaction types captured by the page script.
const (
	TypeClick      = "click"
	TypeKeydown    = "keydown"
	TypeInput      = "input"
	TypeChange     = "change"
	TypeSubmit     = "submit"
	TypeScroll     = "scroll"
	TypeNavigation = "navigation"
)

// maxFieldLen caps captured text and values.
const maxFieldLen = 200

// Element describes the DOM node an interaction hit.
type Element struct {
	Tag      string `json:"tag,omitempty"`
	ID       string `json:"id,omitempty"`
	Class    string `json:"class,omitempty"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	Value    string `json:"value,omitempty"`
}

// Entry is one captured interaction. Timestamp is unix milliseconds; Seq is
// assigned on append and orders entries by arrival.
type Entry struct {
	Seq       int64    `json:"seq"`
	Type      string   `json:"type"`
	Timestamp int64    `json:"timestamp"`
	URL       string   `json:"url,omitempty"`
	TargetID  string   `json:"targetId,omitempty"`
	Element   *Element `json:"element,omitempty"`
	Key       string   `json:"key,omitempty"`
	X         float64  `json:"x,omitempty"`
	Y         float64  `json:"y,omitempty"`
	Value     string   `json:"value,omitempty"`
}

func (e Entry) selector() string {
	if e.Element == nil {
		return ""
	}
	return e.Element.Selector
}

// clone copies e so callers never share the stored element.
func (e Entry) clone() Entry {
	if e.Element != nil {
		el := *e.Element
		e.Element = &el
	}
	return e
}

func (e *Entry) truncate() {
	e.Value = truncate(e.Value)
	if e.Element != nil {
		el := *e.Element
		el.Text = truncate(el.Text)
		el.Value = truncate(el.Value)
		e.Element = &el
	}
}

func truncate(s string) string {
	if len(s) <= maxFieldLen {
		return s
	}
	cut := maxFieldLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
