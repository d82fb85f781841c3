package deb

import (
	"strconv"
	"strings"

	"github.com/apt-tools/aptcheck/internal/control"
)

// BinaryPackage is the typed model of one Packages-index stanza. Fields the
// rule set does not recognize stay available through Record. Construction
// is pure; a record either yields the same model every time or the same
// set of field errors.
type BinaryPackage struct {
	Record *control.Record

	Name         string
	Version      Version
	Architecture Arch

	// SourceName and SourceVersion identify the source package this binary
	// was built from. They default to the binary's own name and version
	// when the Source field is absent.
	SourceName    string
	SourceVersion Version

	// MultiArch is the Multi-Arch field value: "", "same", "foreign",
	// or "allowed".
	MultiArch string

	// Relations maps relationship field name to its parsed expression.
	// Fields that failed to parse are absent here and reported as field
	// errors instead.
	Relations map[string]Dependency

	Filename string
	Size     int64
	SHA256   string
}

// FieldError pairs a parse failure with the field it occurred on
type FieldError struct {
	Field string
	Err   error
}

// NewBinaryPackage builds the typed model from a parsed record. It returns
// the model together with any per-field syntax errors; the model is usable
// for indexing whenever the identity fields (Package, Version, Architecture)
// parsed cleanly, even if some relationship fields did not.
func NewBinaryPackage(rec *control.Record) (*BinaryPackage, []FieldError) {
	b := &BinaryPackage{
		Record:    rec,
		Relations: make(map[string]Dependency),
	}
	var errs []FieldError

	b.Name = rec.Value(FieldPackage)

	if v, ok := rec.Get(FieldVersion); ok {
		ver, err := ParseVersion(v)
		if err != nil {
			errs = append(errs, FieldError{Field: FieldVersion, Err: err})
		} else {
			b.Version = ver
		}
	}

	b.Architecture = Arch(rec.Value(FieldArchitecture))
	b.MultiArch = rec.Value(FieldMultiArch)

	b.SourceName, b.SourceVersion = b.Name, b.Version
	if src, ok := rec.Get(FieldSource); ok {
		name, ver, err := splitSourceRef(src)
		if err != nil {
			errs = append(errs, FieldError{Field: FieldSource, Err: err})
		} else {
			b.SourceName = name
			if ver != nil {
				b.SourceVersion = *ver
			}
		}
	}

	for _, field := range RelationFields {
		value, ok := rec.Get(field)
		if !ok {
			continue
		}
		dep, err := ParseDependency(field, value)
		if err != nil {
			errs = append(errs, FieldError{Field: field, Err: err})
			continue
		}
		if dep != nil {
			b.Relations[field] = dep
		}
	}

	b.Filename = rec.Value(FieldFilename)
	b.SHA256 = rec.Value(FieldSHA256)
	if v, ok := rec.Get(FieldSize); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			b.Size = n
		}
	}

	return b, errs
}

// splitSourceRef parses a Source field value: "name" or "name (version)"
func splitSourceRef(s string) (string, *Version, error) {
	s = strings.TrimSpace(s)
	open := strings.Index(s, "(")
	if open == -1 {
		return s, nil, nil
	}
	name := strings.TrimSpace(s[:open])
	rest := strings.TrimSpace(s[open+1:])
	if !strings.HasSuffix(rest, ")") {
		return "", nil, &InvalidVersionError{Input: s, Msg: "unterminated source version"}
	}
	ver, err := ParseVersion(strings.TrimSuffix(rest, ")"))
	if err != nil {
		return "", nil, err
	}
	return name, &ver, nil
}

// Provides returns the parsed Provides expression, nil when absent
func (b *BinaryPackage) Provides() Dependency {
	return b.Relations[FieldProvides]
}

// HasIdentity reports whether the identity fields needed for indexing are
// present and parsed.
func (b *BinaryPackage) HasIdentity() bool {
	return b.Name != "" && b.Version.Upstream != "" && b.Architecture != ""
}

// ID renders "name_version_arch" for logs
func (b *BinaryPackage) ID() string {
	return b.Name + "_" + b.Version.String() + "_" + string(b.Architecture)
}
