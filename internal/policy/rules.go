// Package policy applies per-record rules from the Debian packaging policy
// to parsed index stanzas. Rules are independent pure predicates; each emits
// diagnostics with exact field provenance and has no other effect.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/apt-tools/aptcheck/internal/deb"
	"github.com/apt-tools/aptcheck/internal/report"
)

// Context carries the repository-wide configuration a rule may read. It is
// immutable and shared across concurrent record validation.
type Context struct {
	// Architectures is the configured in-scope architecture list.
	Architectures []deb.Arch
}

// BinaryRule is one policy predicate over a binary package record
type BinaryRule interface {
	Name() string
	Check(ctx *Context, b *deb.BinaryPackage) []report.Diagnostic
}

// SourceRule is one policy predicate over a source package record
type SourceRule interface {
	Name() string
	Check(ctx *Context, s *deb.SourcePackage) []report.Diagnostic
}

// knownPriorities are the values policy allows in the Priority field
var knownPriorities = map[string]bool{
	"required":  true,
	"important": true,
	"standard":  true,
	"optional":  true,
	"extra":     true,
}

// knownSections is the policy archive section list (sub-sections such as
// "contrib/utils" are reduced to their last component before lookup).
var knownSections = map[string]bool{
	"admin": true, "cli-mono": true, "comm": true, "database": true,
	"debug": true, "devel": true, "doc": true, "editors": true,
	"education": true, "electronics": true, "embedded": true, "fonts": true,
	"games": true, "gnome": true, "gnu-r": true, "gnustep": true,
	"graphics": true, "hamradio": true, "haskell": true, "httpd": true,
	"interpreters": true, "introspection": true, "java": true,
	"javascript": true, "kde": true, "kernel": true, "libdevel": true,
	"libs": true, "lisp": true, "localization": true, "mail": true,
	"math": true, "metapackages": true, "misc": true, "net": true,
	"news": true, "ocaml": true, "oldlibs": true, "otherosfs": true,
	"perl": true, "php": true, "python": true, "ruby": true, "rust": true,
	"science": true, "shells": true, "sound": true, "tasks": true,
	"tex": true, "text": true, "utils": true, "vcs": true, "video": true,
	"web": true, "x11": true, "xfce": true, "zope": true,
}

var maintainerRe = regexp.MustCompile(`^.+ <[^<>@ ]+@[^<>@ ]+>$`)
var hexRe = regexp.MustCompile(`^[0-9a-f]+$`)

func prov(b *deb.BinaryPackage, field string) report.Provenance {
	return report.Provenance{File: b.Record.File, Line: b.Record.Line, Field: field}
}

func violation(origin report.Provenance, sev report.Severity, format string, args ...interface{}) report.Diagnostic {
	return report.Diagnostic{
		Severity: sev,
		Category: report.CategoryPolicy,
		Code:     report.CodePolicyViolation,
		Message:  fmt.Sprintf(format, args...),
		Origin:   origin,
	}
}

// packageNameRule checks the Package field against policy name syntax
type packageNameRule struct{}

func (packageNameRule) Name() string { return "package-name-syntax" }

func (packageNameRule) Check(_ *Context, b *deb.BinaryPackage) []report.Diagnostic {
	if !deb.ValidPackageName(b.Name) {
		return []report.Diagnostic{violation(prov(b, deb.FieldPackage), report.SeverityError,
			"package name %q violates policy name syntax", b.Name)}
	}
	return nil
}

// architectureRule checks the Architecture field token and membership in
// the configured architecture list.
type architectureRule struct{}

func (architectureRule) Name() string { return "architecture-known" }

func (architectureRule) Check(ctx *Context, b *deb.BinaryPackage) []report.Diagnostic {
	arch := b.Architecture
	if !deb.ValidArchName(string(arch)) {
		return []report.Diagnostic{violation(prov(b, deb.FieldArchitecture), report.SeverityError,
			"invalid architecture token %q", arch)}
	}
	if arch == deb.ArchAll {
		return nil
	}
	for _, a := range ctx.Architectures {
		if arch == a {
			return nil
		}
	}
	return []report.Diagnostic{violation(prov(b, deb.FieldArchitecture), report.SeverityWarning,
		"architecture %q is not in the configured architecture list", arch)}
}

// priorityRule checks the Priority enumeration
type priorityRule struct {
	// deprecateExtra reports "extra" as deprecated (policy >= 4.0)
	deprecateExtra bool
}

func (priorityRule) Name() string { return "priority-value" }

func (r priorityRule) Check(_ *Context, b *deb.BinaryPackage) []report.Diagnostic {
	p, ok := b.Record.Get(deb.FieldPriority)
	if !ok {
		return nil
	}
	if !knownPriorities[p] {
		return []report.Diagnostic{violation(prov(b, deb.FieldPriority), report.SeverityError,
			"unknown priority %q", p)}
	}
	if r.deprecateExtra && p == "extra" {
		return []report.Diagnostic{violation(prov(b, deb.FieldPriority), report.SeverityWarning,
			`priority "extra" is deprecated, use "optional"`)}
	}
	return nil
}

// sectionRule checks the Section value against the archive section list
type sectionRule struct{}

func (sectionRule) Name() string { return "section-value" }

func (sectionRule) Check(_ *Context, b *deb.BinaryPackage) []report.Diagnostic {
	s, ok := b.Record.Get(deb.FieldSection)
	if !ok {
		return nil
	}
	base := s
	if i := strings.LastIndex(s, "/"); i != -1 {
		base = s[i+1:]
	}
	if !knownSections[base] {
		return []report.Diagnostic{violation(prov(b, deb.FieldSection), report.SeverityWarning,
			"unknown section %q", s)}
	}
	return nil
}

// essentialRule enforces that essential packages carry a protective priority
type essentialRule struct{}

func (essentialRule) Name() string { return "essential-priority" }

func (essentialRule) Check(_ *Context, b *deb.BinaryPackage) []report.Diagnostic {
	if b.Record.Value(deb.FieldEssential) != "yes" {
		return nil
	}
	switch b.Record.Value(deb.FieldPriority) {
	case "required", "standard":
		return nil
	}
	return []report.Diagnostic{violation(prov(b, deb.FieldEssential), report.SeverityError,
		"essential package %s must have priority required or standard", b.Name)}
}

// maintainerRule checks the "Name <email>" format of the Maintainer field
type maintainerRule struct{}

func (maintainerRule) Name() string { return "maintainer-format" }

func (maintainerRule) Check(_ *Context, b *deb.BinaryPackage) []report.Diagnostic {
	m, ok := b.Record.Get(deb.FieldMaintainer)
	if !ok {
		return []report.Diagnostic{violation(prov(b, deb.FieldMaintainer), report.SeverityWarning,
			"missing Maintainer field")}
	}
	if !maintainerRe.MatchString(m) {
		return []report.Diagnostic{violation(prov(b, deb.FieldMaintainer), report.SeverityWarning,
			"maintainer %q is not in \"Name <email>\" form", m)}
	}
	return nil
}

// multiArchRule checks the Multi-Arch enumeration and its interaction with
// Architecture: all.
type multiArchRule struct{}

func (multiArchRule) Name() string { return "multi-arch-value" }

func (multiArchRule) Check(_ *Context, b *deb.BinaryPackage) []report.Diagnostic {
	switch b.MultiArch {
	case "", "no", "foreign", "allowed":
		return nil
	case "same":
		if b.Architecture == deb.ArchAll {
			return []report.Diagnostic{violation(prov(b, deb.FieldMultiArch), report.SeverityError,
				"Multi-Arch: same is invalid for Architecture: all")}
		}
		return nil
	default:
		return []report.Diagnostic{violation(prov(b, deb.FieldMultiArch), report.SeverityError,
			"unknown Multi-Arch value %q", b.MultiArch)}
	}
}

// fileInfoRule checks the index bookkeeping fields: Filename, Size, SHA256
type fileInfoRule struct{}

func (fileInfoRule) Name() string { return "file-info" }

func (fileInfoRule) Check(_ *Context, b *deb.BinaryPackage) []report.Diagnostic {
	var out []report.Diagnostic
	if b.Filename == "" {
		out = append(out, violation(prov(b, deb.FieldFilename), report.SeverityError,
			"missing Filename field"))
	}
	if !b.Record.Has(deb.FieldSize) {
		out = append(out, violation(prov(b, deb.FieldSize), report.SeverityError,
			"missing Size field"))
	} else if b.Size < 0 {
		out = append(out, violation(prov(b, deb.FieldSize), report.SeverityError,
			"negative Size"))
	}
	if b.SHA256 == "" {
		out = append(out, violation(prov(b, deb.FieldSHA256), report.SeverityWarning,
			"missing SHA256 field"))
	} else if len(b.SHA256) != 64 || !hexRe.MatchString(b.SHA256) {
		out = append(out, violation(prov(b, deb.FieldSHA256), report.SeverityError,
			"SHA256 is not 64 hex digits"))
	}
	return out
}

// descriptionRule checks for a non-empty synopsis of reasonable length
type descriptionRule struct{}

func (descriptionRule) Name() string { return "description-synopsis" }

func (descriptionRule) Check(_ *Context, b *deb.BinaryPackage) []report.Diagnostic {
	d, ok := b.Record.Get(deb.FieldDescription)
	if !ok {
		return []report.Diagnostic{violation(prov(b, deb.FieldDescription), report.SeverityWarning,
			"missing Description field")}
	}
	synopsis := d
	if i := strings.Index(d, "\n"); i != -1 {
		synopsis = d[:i]
	}
	if strings.TrimSpace(synopsis) == "" {
		return []report.Diagnostic{violation(prov(b, deb.FieldDescription), report.SeverityWarning,
			"empty description synopsis")}
	}
	if len(synopsis) > 80 {
		return []report.Diagnostic{violation(prov(b, deb.FieldDescription), report.SeverityWarning,
			"description synopsis exceeds 80 characters")}
	}
	return nil
}

func sprov(s *deb.SourcePackage, field string) report.Provenance {
	return report.Provenance{File: s.Record.File, Line: s.Record.Line, Field: field}
}

// sourceNameRule checks the source package name syntax
type sourceNameRule struct{}

func (sourceNameRule) Name() string { return "source-name-syntax" }

func (sourceNameRule) Check(_ *Context, s *deb.SourcePackage) []report.Diagnostic {
	if !deb.ValidPackageName(s.Name) {
		return []report.Diagnostic{violation(sprov(s, deb.FieldPackage), report.SeverityError,
			"source name %q violates policy name syntax", s.Name)}
	}
	return nil
}

// sourceFormatRule checks the Format field enumeration
type sourceFormatRule struct{}

func (sourceFormatRule) Name() string { return "source-format" }

func (sourceFormatRule) Check(_ *Context, s *deb.SourcePackage) []report.Diagnostic {
	switch s.Format {
	case "", "1.0", "3.0 (quilt)", "3.0 (native)":
		return nil
	}
	return []report.Diagnostic{violation(sprov(s, deb.FieldFormat), report.SeverityWarning,
		"unknown source format %q", s.Format)}
}

// sourceFilesRule checks that the stanza references at least one file with
// well-formed checksums.
type sourceFilesRule struct{}

func (sourceFilesRule) Name() string { return "source-files" }

func (sourceFilesRule) Check(_ *Context, s *deb.SourcePackage) []report.Diagnostic {
	if len(s.Files) == 0 {
		return []report.Diagnostic{violation(sprov(s, deb.FieldFiles), report.SeverityError,
			"source %s lists no files", s.Name)}
	}
	var out []report.Diagnostic
	for _, f := range s.Files {
		if !hexRe.MatchString(f.Checksum) {
			out = append(out, violation(sprov(s, deb.FieldFiles), report.SeverityError,
				"file %s has a malformed checksum", f.Name))
		}
	}
	return out
}

// sourceBinariesRule checks the Binary field name list
type sourceBinariesRule struct{}

func (sourceBinariesRule) Name() string { return "source-binary-names" }

func (sourceBinariesRule) Check(_ *Context, s *deb.SourcePackage) []report.Diagnostic {
	var out []report.Diagnostic
	for _, name := range s.Binaries {
		if !deb.ValidPackageName(name) {
			out = append(out, violation(sprov(s, deb.FieldBinary), report.SeverityError,
				"binary name %q violates policy name syntax", name))
		}
	}
	return out
}
