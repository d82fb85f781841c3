package deb

import "strings"

// Arch is a Debian architecture token: a concrete name such as "amd64", the
// special values "all" (architecture independent), "any", "source", or a
// wildcard such as "linux-any" or "any-amd64".
//
// Reference: https://www.debian.org/doc/debian-policy/ch-customized-programs.html#s-arch-spec
type Arch string

const (
	ArchAll    Arch = "all"
	ArchAny    Arch = "any"
	ArchSource Arch = "source"
)

// IsWildcard reports whether the token contains an "any" component
func (a Arch) IsWildcard() bool {
	if a == ArchAny {
		return true
	}
	os, cpu, ok := a.split()
	return ok && (os == "any" || cpu == "any")
}

// split breaks an "os-cpu" pair. Plain tokens ("amd64") are treated as
// cpu with the implicit "linux" os, matching dpkg-architecture behavior
// for the common tuple forms.
func (a Arch) split() (os, cpu string, pair bool) {
	s := string(a)
	if i := strings.Index(s, "-"); i != -1 {
		return s[:i], s[i+1:], true
	}
	return "linux", s, false
}

// Matches reports whether the concrete architecture other is covered by a,
// honoring wildcards. "all" matches only "all"; "any" matches every concrete
// architecture; "linux-any"/"any-amd64" match per component.
func (a Arch) Matches(other Arch) bool {
	if a == other {
		return true
	}
	if a == ArchAll || other == ArchAll || a == ArchSource || other == ArchSource {
		return false
	}
	if a == ArchAny {
		return true
	}
	aos, acpu, _ := a.split()
	oos, ocpu, _ := other.split()
	if aos != "any" && aos != oos {
		return false
	}
	if acpu != "any" && acpu != ocpu {
		return false
	}
	return true
}

// ValidArchName reports whether the token is syntactically a valid
// architecture name: lowercase alphanumerics and hyphens.
func ValidArchName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z') && !isDigit(c) && c != '-' {
			return false
		}
	}
	return true
}

// ParseArchList splits a whitespace-separated architecture list, as found
// in Release files and Architecture fields of source records.
func ParseArchList(s string) []Arch {
	var out []Arch
	for _, tok := range strings.Fields(s) {
		out = append(out, Arch(tok))
	}
	return out
}
