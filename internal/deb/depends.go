package deb

import (
	"fmt"
	"strings"
)

// InvalidDependencyError reports a relationship field whose group or
// alternative syntax is violated. The whole field is discarded.
type InvalidDependencyError struct {
	Field string
	Input string
	Msg   string
}

// Error implements the error interface
func (e *InvalidDependencyError) Error() string {
	return fmt.Sprintf("invalid %s entry %q: %s", e.Field, e.Input, e.Msg)
}

// VersionOp is a version-constraint operator in a dependency relation
type VersionOp string

const (
	OpStrictlyEarlier VersionOp = "<<"
	OpEarlierEqual    VersionOp = "<="
	OpExactlyEqual    VersionOp = "="
	OpLaterEqual      VersionOp = ">="
	OpStrictlyLater   VersionOp = ">>"
)

// Satisfies reports whether candidate fulfills "candidate op wanted"
func (op VersionOp) Satisfies(candidate, wanted Version) bool {
	c := candidate.Compare(wanted)
	switch op {
	case OpStrictlyEarlier:
		return c < 0
	case OpEarlierEqual:
		return c <= 0
	case OpExactlyEqual:
		return c == 0
	case OpLaterEqual:
		return c >= 0
	case OpStrictlyLater:
		return c > 0
	default:
		return false
	}
}

// Relation is a single alternative within an OR-group: a package name with
// optional version constraint, architecture qualifier, and build profiles.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-relationships.html
type Relation struct {
	Name string

	// ArchQualifier is the token after ":" in "pkg:any" or "pkg:amd64",
	// empty when absent.
	ArchQualifier string

	// Op and Version form the constraint from "(op version)". Op is empty
	// when the relation is unversioned.
	Op      VersionOp
	Version Version

	// Arches restricts the relation to the bracketed architecture list
	// "[linux-any !armel]". Negations apply to the whole list.
	Arches    []Arch
	NotArches []Arch

	// Profiles holds raw "<...>" build-profile restriction terms.
	Profiles []string
}

// String renders the relation in control-file syntax
func (r Relation) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if r.ArchQualifier != "" {
		b.WriteByte(':')
		b.WriteString(r.ArchQualifier)
	}
	if r.Op != "" {
		fmt.Fprintf(&b, " (%s %s)", r.Op, r.Version)
	}
	return b.String()
}

// Group is one OR-group: satisfied when any alternative is
type Group []Relation

// String renders the group with " | " separators
func (g Group) String() string {
	parts := make([]string, len(g))
	for i, r := range g {
		parts[i] = r.String()
	}
	return strings.Join(parts, " | ")
}

// Dependency is a full relationship field value: an AND of OR-groups
type Dependency []Group

// ParseDependency parses a relationship field value such as
// "libc6 (>= 2.34), default-mta | mail-transport-agent, foo:any [amd64]".
// The field name is carried only for error reporting.
func ParseDependency(field, value string) (Dependency, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	var dep Dependency
	for _, groupStr := range strings.Split(value, ",") {
		groupStr = strings.TrimSpace(groupStr)
		if groupStr == "" {
			return nil, &InvalidDependencyError{Field: field, Input: value, Msg: "empty OR-group"}
		}
		var group Group
		for _, altStr := range strings.Split(groupStr, "|") {
			altStr = strings.TrimSpace(altStr)
			if altStr == "" {
				return nil, &InvalidDependencyError{Field: field, Input: groupStr, Msg: "empty alternative"}
			}
			rel, err := parseRelation(field, altStr)
			if err != nil {
				return nil, err
			}
			group = append(group, rel)
		}
		dep = append(dep, group)
	}
	return dep, nil
}

// parseRelation parses one alternative: name[:qual] [(op ver)] [[arches]] [<profiles>]
func parseRelation(field, s string) (Relation, error) {
	var rel Relation
	rest := s

	// The version constraint is stripped first: "(<< 2.0)" would otherwise
	// be misread as the start of a build-profile term.
	if open := strings.Index(rest, "("); open != -1 {
		close := strings.Index(rest[open:], ")")
		if close == -1 {
			return rel, &InvalidDependencyError{Field: field, Input: s, Msg: "unterminated version constraint"}
		}
		constraint := strings.TrimSpace(rest[open+1 : open+close])
		op, verStr, err := splitConstraint(constraint)
		if err != nil {
			return rel, &InvalidDependencyError{Field: field, Input: s, Msg: err.Error()}
		}
		ver, err := ParseVersion(verStr)
		if err != nil {
			return rel, &InvalidDependencyError{Field: field, Input: s, Msg: err.Error()}
		}
		rel.Op = op
		rel.Version = ver
		rest = strings.TrimSpace(rest[:open] + rest[open+close+1:])
	}

	// Build profile terms, possibly several groups.
	for {
		open := strings.Index(rest, "<")
		if open == -1 {
			break
		}
		close := strings.Index(rest[open:], ">")
		if close == -1 {
			return rel, &InvalidDependencyError{Field: field, Input: s, Msg: "unterminated build profile"}
		}
		rel.Profiles = append(rel.Profiles, strings.TrimSpace(rest[open+1:open+close]))
		rest = strings.TrimSpace(rest[:open] + rest[open+close+1:])
	}

	// Architecture restriction list.
	if open := strings.Index(rest, "["); open != -1 {
		close := strings.Index(rest[open:], "]")
		if close == -1 {
			return rel, &InvalidDependencyError{Field: field, Input: s, Msg: "unterminated architecture restriction"}
		}
		for _, tok := range strings.Fields(rest[open+1 : open+close]) {
			if strings.HasPrefix(tok, "!") {
				rel.NotArches = append(rel.NotArches, Arch(tok[1:]))
			} else {
				rel.Arches = append(rel.Arches, Arch(tok))
			}
		}
		if len(rel.Arches) > 0 && len(rel.NotArches) > 0 {
			return rel, &InvalidDependencyError{Field: field, Input: s, Msg: "architecture restriction mixes positive and negated tokens"}
		}
		rest = strings.TrimSpace(rest[:open] + rest[open+close+1:])
	}

	// What remains is the package name, optionally arch-qualified.
	if i := strings.Index(rest, ":"); i != -1 {
		rel.ArchQualifier = rest[i+1:]
		rest = rest[:i]
		if rel.ArchQualifier == "" {
			return rel, &InvalidDependencyError{Field: field, Input: s, Msg: "empty architecture qualifier"}
		}
	}
	rel.Name = rest
	if !ValidPackageName(rel.Name) {
		return rel, &InvalidDependencyError{Field: field, Input: s, Msg: fmt.Sprintf("invalid package name %q", rel.Name)}
	}
	return rel, nil
}

// splitConstraint separates the operator from the version in "(>= 2.0)".
// The single-character forms "<" and ">" were deprecated by policy long ago
// and are rejected.
func splitConstraint(s string) (VersionOp, string, error) {
	for _, op := range []VersionOp{OpStrictlyEarlier, OpEarlierEqual, OpLaterEqual, OpStrictlyLater, OpExactlyEqual} {
		if strings.HasPrefix(s, string(op)) {
			ver := strings.TrimSpace(s[len(op):])
			if ver == "" {
				return "", "", fmt.Errorf("version constraint %q has no version", s)
			}
			return op, ver, nil
		}
	}
	return "", "", fmt.Errorf("version constraint %q has no valid operator", s)
}

// AppliesTo reports whether the relation is in effect for packages of the
// given host architecture, evaluating any [arch] restriction list.
func (r Relation) AppliesTo(arch Arch) bool {
	if len(r.Arches) > 0 {
		for _, a := range r.Arches {
			if a.Matches(arch) {
				return true
			}
		}
		return false
	}
	for _, a := range r.NotArches {
		if a.Matches(arch) {
			return false
		}
	}
	return true
}

// ValidPackageName checks the policy package-name syntax: at least two
// characters of lowercase alphanumerics, "+", "-", ".", starting with an
// alphanumeric.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#s-f-package
func ValidPackageName(s string) bool {
	if len(s) < 2 {
		return false
	}
	if !(s[0] >= 'a' && s[0] <= 'z') && !isDigit(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z') && !isDigit(c) && c != '+' && c != '-' && c != '.' {
			return false
		}
	}
	return true
}
