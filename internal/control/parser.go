package control

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MalformedRecordError reports a stanza that violates control-file syntax.
// The offending record is skipped; the run continues with the next stanza.
type MalformedRecordError struct {
	File string
	Line int
	Msg  string
}

// Error implements the error interface
func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("%s:%d: malformed record: %s", e.File, e.Line, e.Msg)
}

// Parser reads stanzas from a control file one at a time. It performs a
// single forward pass over the input and is not restartable.
type Parser struct {
	scanner *bufio.Scanner
	file    string
	line    int
	err     error
}

// NewParser creates a parser reading from r. The file name is used only for
// diagnostic provenance.
func NewParser(r io.Reader, file string) *Parser {
	s := bufio.NewScanner(r)
	// Description fields in real-world indices can exceed the default
	// 64KiB token limit.
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Parser{scanner: s, file: file}
}

// nextLine returns the next input line
func (p *Parser) nextLine() (string, bool) {
	if !p.scanner.Scan() {
		p.err = p.scanner.Err()
		return "", false
	}
	p.line++
	return p.scanner.Text(), true
}

// Next returns the next stanza. It returns io.EOF after the last one, a
// *MalformedRecordError for a syntactically broken stanza (the stanza is
// consumed up to its terminating blank line), or the underlying read error.
func (p *Parser) Next() (*Record, error) {
	if p.err != nil {
		return nil, p.err
	}

	rec := &Record{File: p.file, byName: make(map[string]int)}
	var malformed *MalformedRecordError

	fail := func(line int, format string, args ...interface{}) {
		if malformed == nil {
			malformed = &MalformedRecordError{File: p.file, Line: line, Msg: fmt.Sprintf(format, args...)}
		}
	}

	for {
		line, ok := p.nextLine()
		if !ok {
			break
		}

		// Blank (or whitespace-only) line terminates the stanza.
		if strings.TrimSpace(line) == "" {
			if len(rec.fields) > 0 || malformed != nil {
				break
			}
			// Leading blank lines between stanzas are tolerated.
			continue
		}

		// Comment lines appear in hand-written control files.
		if strings.HasPrefix(line, "#") {
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			// Continuation of the previous field.
			if len(rec.fields) == 0 {
				fail(p.line, "continuation line before any field")
				continue
			}
			if malformed != nil {
				continue
			}
			cont := strings.TrimLeft(line, " \t")
			if cont == "." {
				cont = ""
			}
			last := &rec.fields[len(rec.fields)-1]
			last.Value += "\n" + cont
			continue
		}

		name, value, found := strings.Cut(line, ":")
		if !found || name == "" || strings.ContainsAny(name, " \t") {
			fail(p.line, "line is neither a field nor a continuation: %q", line)
			continue
		}
		if malformed != nil {
			continue
		}

		key := strings.ToLower(name)
		if _, dup := rec.byName[key]; dup {
			fail(p.line, "duplicate field %s", name)
			continue
		}
		if len(rec.fields) == 0 {
			rec.Line = p.line
		}
		rec.byName[key] = len(rec.fields)
		rec.fields = append(rec.fields, Field{Name: name, Value: strings.TrimSpace(value)})
	}

	if malformed != nil {
		return nil, malformed
	}
	if len(rec.fields) == 0 {
		if p.err != nil {
			return nil, p.err
		}
		return nil, io.EOF
	}
	return rec, nil
}

// ParseAll reads every stanza from r. Malformed stanzas are reported through
// the onError callback and skipped; the first non-syntax read error aborts.
func ParseAll(r io.Reader, file string, onError func(*MalformedRecordError)) ([]*Record, error) {
	p := NewParser(r, file)
	var records []*Record
	for {
		rec, err := p.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			var merr *MalformedRecordError
			if errors.As(err, &merr) {
				if onError != nil {
					onError(merr)
				}
				continue
			}
			return records, err
		}
		records = append(records, rec)
	}
}
