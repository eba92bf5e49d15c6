package extract

import (
	"encoding/xml"
	"strings"
)

// Element is a detached copy of one decoded XML element. It owns no decoder
// state, so a row can be kept after the scanner has moved on.
type Element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []Element  `xml:",any"`
}

// Attr returns the trimmed value of the first attribute matching any of names
// (case-insensitive).
func (e *Element) Attr(names ...string) (string, bool) {
	for _, name := range names {
		for _, a := range e.Attrs {
			if strings.EqualFold(a.Name.Local, name) {
				return strings.TrimSpace(a.Value), true
			}
		}
	}
	return "", false
}

// Child returns the first direct child matching any of names (case-insensitive).
func (e *Element) Child(names ...string) *Element {
	for _, name := range names {
		for i := range e.Children {
			if strings.EqualFold(e.Children[i].XMLName.Local, name) {
				return &e.Children[i]
			}
		}
	}
	return nil
}

// ChildrenNamed returns all direct children with the given name.
func (e *Element) ChildrenNamed(name string) []*Element {
	var out []*Element
	for i := range e.Children {
		if strings.EqualFold(e.Children[i].XMLName.Local, name) {
			out = append(out, &e.Children[i])
		}
	}
	return out
}

// Field looks a value up as an attribute first, then as child element text.
// Empty values are reported as absent.
func (e *Element) Field(names ...string) (string, bool) {
	if v, ok := e.Attr(names...); ok && v != "" {
		return v, true
	}
	if c := e.Child(names...); c != nil {
		if v := strings.TrimSpace(c.Text); v != "" {
			return v, true
		}
	}
	return "", false
}
