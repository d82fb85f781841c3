// Package deb models policy-governed Debian metadata fields: versions,
// architectures, and dependency relationships. Parsing is pure; the same
// input always yields the same value or the same error.
package deb

import (
	"fmt"
	"strconv"
	"strings"
)

// InvalidVersionError reports a version string that does not match the
// [epoch:]upstream[-revision] format.
type InvalidVersionError struct {
	Input string
	Msg   string
}

// Error implements the error interface
func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Input, e.Msg)
}

// Version is a parsed Debian package version.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#s-f-version
type Version struct {
	// Epoch distinguishes versioning scheme changes. Zero when absent.
	Epoch int
	// Upstream is the upstream version part.
	Upstream string
	// Revision is the Debian revision, empty for native packages.
	Revision string
}

// ParseVersion parses [epoch:]upstream[-revision] and validates the
// character set of each part.
func ParseVersion(s string) (Version, error) {
	var v Version
	rest := strings.TrimSpace(s)
	if rest == "" {
		return v, &InvalidVersionError{Input: s, Msg: "empty version"}
	}

	if colon := strings.Index(rest, ":"); colon != -1 {
		epochStr := rest[:colon]
		epoch, err := strconv.Atoi(epochStr)
		if err != nil || epoch < 0 {
			return v, &InvalidVersionError{Input: s, Msg: "epoch must be a non-negative integer"}
		}
		v.Epoch = epoch
		rest = rest[colon+1:]
	}

	if hyphen := strings.LastIndex(rest, "-"); hyphen != -1 {
		v.Revision = rest[hyphen+1:]
		rest = rest[:hyphen]
		if v.Revision == "" {
			return v, &InvalidVersionError{Input: s, Msg: "empty debian revision"}
		}
	}
	v.Upstream = rest

	if v.Upstream == "" {
		return v, &InvalidVersionError{Input: s, Msg: "empty upstream version"}
	}
	if !isDigit(v.Upstream[0]) {
		return v, &InvalidVersionError{Input: s, Msg: "upstream version must start with a digit"}
	}
	for i := 0; i < len(v.Upstream); i++ {
		c := v.Upstream[i]
		if !isDigit(c) && !isAlpha(c) && !strings.ContainsRune(".+~:-", rune(c)) {
			return v, &InvalidVersionError{Input: s, Msg: fmt.Sprintf("illegal character %q in upstream version", c)}
		}
	}
	for i := 0; i < len(v.Revision); i++ {
		c := v.Revision[i]
		if !isDigit(c) && !isAlpha(c) && !strings.ContainsRune(".+~", rune(c)) {
			return v, &InvalidVersionError{Input: s, Msg: fmt.Sprintf("illegal character %q in debian revision", c)}
		}
	}

	return v, nil
}

// String renders the version in [epoch:]upstream[-revision] form
func (v Version) String() string {
	var b strings.Builder
	if v.Epoch > 0 {
		fmt.Fprintf(&b, "%d:", v.Epoch)
	}
	b.WriteString(v.Upstream)
	if v.Revision != "" {
		b.WriteByte('-')
		b.WriteString(v.Revision)
	}
	return b.String()
}

// Compare implements the dpkg version ordering algorithm. It returns a
// negative number when v sorts before other, zero when equal, positive when
// after. The order is total over valid versions; "~" sorts before the empty
// suffix, so 1.0~rc1 < 1.0.
func (v Version) Compare(other Version) int {
	if v.Epoch != other.Epoch {
		if v.Epoch < other.Epoch {
			return -1
		}
		return 1
	}
	if c := verrevcmp(v.Upstream, other.Upstream); c != 0 {
		return c
	}
	return verrevcmp(v.Revision, other.Revision)
}

// Equal reports version equality under Compare
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// charOrder ranks a non-digit character for version comparison: "~" sorts
// before end-of-string, letters before non-letters.
func charOrder(c byte) int {
	switch {
	case c == '~':
		return -1
	case isDigit(c):
		return 0
	case isAlpha(c):
		return int(c)
	default:
		return int(c) + 256
	}
}

// verrevcmp compares two version fragments by alternating runs of non-digit
// and digit characters, the way dpkg does.
func verrevcmp(a, b string) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		// Non-digit run: lexicographic under charOrder, end-of-string
		// ranks as zero so "~" still sorts below it.
		for (i < len(a) && !isDigit(a[i])) || (j < len(b) && !isDigit(b[j])) {
			ac, bc := 0, 0
			if i < len(a) && !isDigit(a[i]) {
				ac = charOrder(a[i])
			}
			if j < len(b) && !isDigit(b[j]) {
				bc = charOrder(b[j])
			}
			if ac != bc {
				return ac - bc
			}
			if i < len(a) && !isDigit(a[i]) {
				i++
			}
			if j < len(b) && !isDigit(b[j]) {
				j++
			}
		}

		// Digit run: numeric comparison, leading zeroes skipped.
		for i < len(a) && a[i] == '0' {
			i++
		}
		for j < len(b) && b[j] == '0' {
			j++
		}
		di, dj := i, j
		for di < len(a) && isDigit(a[di]) {
			di++
		}
		for dj < len(b) && isDigit(b[dj]) {
			dj++
		}
		if (di - i) != (dj - j) {
			return (di - i) - (dj - j)
		}
		for i < di {
			if a[i] != b[j] {
				return int(a[i]) - int(b[j])
			}
			i++
			j++
		}
	}
	return 0
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
