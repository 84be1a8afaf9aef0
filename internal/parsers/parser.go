package parsers

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseError wraps a failure reading or decoding the underlying stream —
// a torn connection, invalid XML, or any error the `<return>` reader can't
// recover from. A ParseError always terminates the run as FAILED (§7);
// a single record with an unparseable field does not.
type ParseError struct {
	Cause error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parser: %v", e.Cause) }
func (e *ParseError) Unwrap() error  { return e.Cause }

// SoapFault represents a `<Fault>` element found inside an otherwise-2xx
// SOAP body (§4.4, §7).
type SoapFault struct {
	Message string
}

func (e *SoapFault) Error() string { return "soap fault: " + e.Message }

const returnElement = "return"

// Parser is a lazy pull iterator over `<return>` records inside a SOAP
// envelope. One Parser instance is created per run and must not be reused
// or shared across invocations (§9 — "no shared mutable parser state across
// invocations"). The same implementation serves all five methods; the
// per-method field sets and required fields live in the method registry
// (internal/methods), not in this parser.
type Parser struct {
	dec              *xml.Decoder
	maxChildElements int
	done             bool
}

// New builds a Parser over body. The decoder is configured without DTD or
// external entity expansion — encoding/xml never resolves external entities
// or fetches DTDs, so no further hardening is required to be XXE-safe
// (§4.4); this comment documents that invariant rather than wiring it,
// since there is no "disable DTD" knob to set.
func New(body io.Reader, maxChildElements int) *Parser {
	dec := xml.NewDecoder(body)
	dec.Strict = true

	return &Parser{dec: dec, maxChildElements: maxChildElements}
}

// Next returns the next record, or (nil, io.EOF) when the stream is
// exhausted, or a *ParseError / *SoapFault on failure.
func (p *Parser) Next() (*Record, error) {
	if p.done {
		return nil, io.EOF
	}

	for {
		tok, err := p.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.done = true

				return nil, io.EOF
			}

			return nil, &ParseError{Cause: err}
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch strings.ToLower(start.Name.Local) {
		case "fault":
			msg, err := p.readFaultText()
			if err != nil {
				return nil, &ParseError{Cause: err}
			}

			p.done = true

			return nil, &SoapFault{Message: msg}
		case returnElement:
			rec, err := p.readReturn()
			if err != nil {
				return nil, err
			}

			return rec, nil
		}
	}
}

// readReturn consumes one <return>...</return> block, collecting each
// direct child element's trimmed text keyed by lowercased local name.
// Unknown fields are kept (the registry ignores what it doesn't need);
// blank text is dropped so accessors see it as absent, not as "".
func (p *Parser) readReturn() (*Record, error) {
	rec := newRecord()
	depth := 0
	fieldCount := 0

	var currentField string

	var text strings.Builder

	for {
		tok, err := p.dec.Token()
		if err != nil {
			return nil, &ParseError{Cause: fmt.Errorf("reading <return>: %w", err)}
		}

		switch el := tok.(type) {
		case xml.StartElement:
			depth++

			if depth == 1 {
				fieldCount++

				currentField = strings.ToLower(el.Name.Local)
				text.Reset()
			}
		case xml.CharData:
			if depth == 1 && (p.maxChildElements <= 0 || fieldCount <= p.maxChildElements) {
				text.Write(el)
			}
		case xml.EndElement:
			if depth == 1 {
				if trimmed := strings.TrimSpace(text.String()); trimmed != "" {
					if p.maxChildElements <= 0 || fieldCount <= p.maxChildElements {
						rec.Fields[currentField] = trimmed
					}
				}
			}

			depth--

			if strings.EqualFold(el.Name.Local, returnElement) {
				return rec, nil
			}
		}
	}
}

// readFaultText extracts the fault message from <Text> (SOAP 1.2) or
// <faultstring> (SOAP 1.1), whichever appears first.
func (p *Parser) readFaultText() (string, error) {
	var text strings.Builder

	inTextElement := false

	for {
		tok, err := p.dec.Token()
		if err != nil {
			return "", err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(el.Name.Local)
			inTextElement = name == "text" || name == "faultstring"
		case xml.CharData:
			if inTextElement {
				text.Write(el)
			}
		case xml.EndElement:
			if strings.EqualFold(el.Name.Local, "fault") {
				return strings.TrimSpace(text.String()), nil
			}

			inTextElement = false
		}
	}
}
