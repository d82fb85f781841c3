package report

import "fmt"

// Severity ranks how serious a diagnostic is
type Severity int

const (
	// SeverityIgnore suppresses a diagnostic entirely (via overrides)
	SeverityIgnore Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the string representation of Severity
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a configuration token into a Severity
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "error":
		return SeverityError, nil
	case "warning":
		return SeverityWarning, nil
	case "ignore":
		return SeverityIgnore, nil
	default:
		return SeverityIgnore, fmt.Errorf("unknown severity %q", s)
	}
}

// MarshalJSON emits the severity as its string token
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Category groups diagnostics by the pipeline stage that produced them
type Category int

const (
	CategorySyntax Category = iota
	CategoryPolicy
	CategoryConsistency
)

// String returns the string representation of Category
func (c Category) String() string {
	switch c {
	case CategorySyntax:
		return "syntax"
	case CategoryPolicy:
		return "policy"
	case CategoryConsistency:
		return "consistency"
	default:
		return "unknown"
	}
}

// MarshalJSON emits the category as its string token
func (c Category) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// Code identifies the specific check that produced a diagnostic
type Code string

const (
	CodeMalformedRecord      Code = "MalformedRecord"
	CodeInvalidVersion       Code = "InvalidVersion"
	CodeInvalidDependency    Code = "InvalidDependency"
	CodePolicyViolation      Code = "PolicyViolation"
	CodeDependencyUnresolved Code = "DependencyUnresolved"
	CodeConflictPresent      Code = "ConflictPresent"
	CodeOrphanedBinary       Code = "OrphanedBinary"
	CodeUnbuiltSource        Code = "UnbuiltSource"
	CodeBrokenFile           Code = "BrokenFile"
)

// Provenance points back at the index stanza (and optionally field) a
// diagnostic refers to.
type Provenance struct {
	File  string `json:"file"`
	Line  int    `json:"line"`
	Field string `json:"field,omitempty"`
}

// String returns "file:line" with the field appended when present
func (p Provenance) String() string {
	s := fmt.Sprintf("%s:%d", p.File, p.Line)
	if p.Field != "" {
		s += " [" + p.Field + "]"
	}
	return s
}

// Diagnostic is a single finding. It is immutable once created; the
// aggregator only copies, orders, and drops duplicates.
type Diagnostic struct {
	Severity Severity   `json:"severity"`
	Category Category   `json:"category"`
	Code     Code       `json:"code"`
	Message  string     `json:"message"`
	Origin   Provenance `json:"origin"`
	// Related optionally names a second location, e.g. the source stanza a
	// binary package claims to be built from.
	Related *Provenance `json:"related,omitempty"`
}

// String formats the diagnostic for log output
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s [%s/%s] %s: %s", d.Severity, d.Category, d.Code, d.Origin, d.Message)
}

// key is the identity used for deduplication: exact repeats of the same
// finding at the same location collapse to one.
func (d Diagnostic) key() string {
	related := ""
	if d.Related != nil {
		related = d.Related.String()
	}
	return fmt.Sprintf("%d|%s|%s|%s|%s", d.Category, d.Code, d.Message, d.Origin, related)
}
