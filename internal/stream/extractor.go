// Package stream implements the incremental JSON field extractor behind SSE
// chat streaming: it watches model output accumulate and emits the decoded
// characters of one string field as they arrive, without waiting for the
// document to be complete or valid.
package stream

import (
	"strconv"
	"strings"
)

type extractorState int

const (
	seekKey extractorState = iota
	seekColon
	seekOpenQuote
	inString
	inEscape
	inUnicode
	done
)

// FieldExtractor is a single-pass state machine that finds one quoted string
// value by key in a growing JSON text and decodes it incrementally. Feed it
// raw chunks in order; it returns the newly decoded characters each time.
//
// The zero value is not usable; construct with NewFieldExtractor.
type FieldExtractor struct {
	key   string
	state extractorState

	// window holds the last len(key) bytes seen and is compared whole against
	// the key, so a key split across chunk boundaries still matches.
	window []byte

	// hex accumulates the 4 digits of a \uXXXX escape.
	hex []byte
}

// NewFieldExtractor builds an extractor for the quoted key, e.g.
// NewFieldExtractor("assistant_text") matches `"assistant_text"`.
func NewFieldExtractor(key string) *FieldExtractor {
	return &FieldExtractor{
		key: `"` + key + `"`,
		hex: make([]byte, 0, 4),
	}
}

// Done reports whether the value string has closed; further feeds are no-ops.
func (e *FieldExtractor) Done() bool {
	return e.state == done
}

// Feed consumes the next chunk and returns any newly decoded value characters.
func (e *FieldExtractor) Feed(chunk string) string {
	if e.state == done || chunk == "" {
		return ""
	}

	var out strings.Builder
	for i := 0; i < len(chunk); i++ {
		c := chunk[i]

		switch e.state {
		case seekKey:
			e.window = append(e.window, c)
			if len(e.window) > len(e.key) {
				e.window = e.window[len(e.window)-len(e.key):]
			}
			if len(e.window) == len(e.key) && string(e.window) == e.key {
				e.state = seekColon
				e.window = nil
			}

		case seekColon:
			switch c {
			case ':':
				e.state = seekOpenQuote
			case ' ', '\t', '\n', '\r':
			default:
				// Not actually our key's value position; restart the scan.
				e.state = seekKey
			}

		case seekOpenQuote:
			switch c {
			case '"':
				e.state = inString
			case ' ', '\t', '\n', '\r':
			default:
				e.state = seekKey
			}

		case inString:
			switch c {
			case '"':
				e.state = done
				return out.String()
			case '\\':
				e.state = inEscape
			default:
				out.WriteByte(c)
			}

		case inEscape:
			switch c {
			case 'n':
				out.WriteByte('\n')
				e.state = inString
			case 't':
				out.WriteByte('\t')
				e.state = inString
			case 'r':
				out.WriteByte('\r')
				e.state = inString
			case '"', '\\', '/':
				out.WriteByte(c)
				e.state = inString
			case 'b':
				out.WriteByte('\b')
				e.state = inString
			case 'f':
				out.WriteByte('\f')
				e.state = inString
			case 'u':
				e.hex = e.hex[:0]
				e.state = inUnicode
			default:
				// Unknown escape; pass it through verbatim.
				out.WriteByte('\\')
				out.WriteByte(c)
				e.state = inString
			}

		case inUnicode:
			e.hex = append(e.hex, c)
			if len(e.hex) == 4 {
				if n, err := strconv.ParseUint(string(e.hex), 16, 32); err == nil {
					out.WriteRune(rune(n))
				}
				e.state = inString
			}
		}
	}
	return out.String()
}
