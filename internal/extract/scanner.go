package extract

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/stock-importer/internal/model"
)

const (
	// DefaultRowTag is the element name that denotes a data row.
	DefaultRowTag = "line"
	// DefaultHeaderOffset is added to the running row count to form RowError
	// line numbers, so the first row is reported as line 6.
	DefaultHeaderOffset = 5

	tagDelete     = "delete"
	tagReset      = "reset"
	tagInfoUpdate = "info_update"
)

// ErrMalformedXML marks a structural parse failure. The rest of the document
// cannot be trusted, so it is fatal for the whole file.
var ErrMalformedXML = eris.New("extract: malformed XML")

// Scanner is a forward-only pull iterator over the row elements of one
// document. Control flags and the info_update date are captured during the
// same pass. Only the current row is held in memory.
type Scanner struct {
	dec          *xml.Decoder
	rowTag       string
	headerOffset int

	cur      *Element
	count    int
	depth    int
	rooted   bool // a root element has started
	closed   bool // the root element has ended
	err      error
	flags    model.ControlFlags
	infoDate string
}

// NewScanner creates a Scanner reading r. Non-UTF-8 documents are decoded
// according to their XML declaration.
func NewScanner(r io.Reader, opts Options) *Scanner {
	opts = opts.withDefaults()

	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	return &Scanner{
		dec:          dec,
		rowTag:       opts.RowTag,
		headerOffset: opts.HeaderOffset,
	}
}

// Next advances to the next row element. It returns false at the end of the
// document or on a structural error, which is then available from Err.
func (s *Scanner) Next() bool {
	s.cur = nil
	if s.err != nil {
		return false
	}

	for {
		tok, err := s.dec.Token()
		if err == io.EOF {
			if !s.rooted {
				s.fail(eris.New("no root element"))
			}
			return false
		}
		if err != nil {
			s.fail(err)
			return false
		}

		var se xml.StartElement
		switch t := tok.(type) {
		case xml.StartElement:
			se = t
		case xml.EndElement:
			s.depth--
			if s.depth == 0 {
				s.closed = true
			}
			continue
		default:
			continue
		}

		if s.depth == 0 {
			if s.closed {
				s.fail(eris.Errorf("element <%s> after the root element", se.Name.Local))
				return false
			}
			s.rooted = true
		}

		switch name := se.Name.Local; {
		case strings.EqualFold(name, s.rowTag):
			var el Element
			if err := s.decode(&el, &se); err != nil {
				s.fail(err)
				return false
			}
			s.count++
			s.cur = &el
			return true

		case strings.EqualFold(name, tagDelete), strings.EqualFold(name, tagReset):
			var el Element
			if err := s.decode(&el, &se); err != nil {
				s.fail(err)
				return false
			}
			on := strings.EqualFold(strings.TrimSpace(el.Text), "true")
			if strings.EqualFold(name, tagDelete) {
				s.flags.Delete = on
			} else {
				s.flags.Reset = on
			}

		case strings.EqualFold(name, tagInfoUpdate):
			for _, a := range se.Attr {
				if strings.EqualFold(a.Name.Local, "date") {
					s.infoDate = strings.TrimSpace(a.Value)
				}
			}
			s.depth++

		default:
			s.depth++
		}
	}
}

// decode reads the rest of the element started by se. The element is
// consumed whole, so a top-level one closes the root.
func (s *Scanner) decode(el *Element, se *xml.StartElement) error {
	if err := s.dec.DecodeElement(el, se); err != nil {
		return err
	}
	if s.depth == 0 {
		s.closed = true
	}
	return nil
}

func (s *Scanner) fail(err error) {
	line, _ := s.dec.InputPos()
	s.err = eris.Wrapf(ErrMalformedXML, "near line %d: %v", line, err)
}

// Element returns the current row element.
func (s *Scanner) Element() *Element { return s.cur }

// Line returns the report line number of the current row.
func (s *Scanner) Line() int { return s.headerOffset + s.count }

// Count returns how many row elements have been read so far.
func (s *Scanner) Count() int { return s.count }

// Err returns the structural error that stopped the scan, if any.
func (s *Scanner) Err() error { return s.err }

// Flags returns the control flags seen so far. They are complete once Next
// has returned false.
func (s *Scanner) Flags() model.ControlFlags { return s.flags }

// InfoDate returns the info_update date attribute, or "" if absent.
func (s *Scanner) InfoDate() string { return s.infoDate }
