package policy

import (
	"fmt"

	"github.com/apt-tools/aptcheck/internal/deb"
	"github.com/apt-tools/aptcheck/internal/report"
)

// RuleSet is an ordered collection of policy rules identified by a policy
// version. Rule order only affects report text, not which rules run: all
// semantic rules are applied even after one fails, so one record can yield
// several diagnostics.
type RuleSet struct {
	Version     string
	binaryRules []BinaryRule
	sourceRules []SourceRule
}

// RuleSetFor returns the rule set for a policy version identifier. The
// zero value selects the newest supported policy.
func RuleSetFor(version string) (*RuleSet, error) {
	switch version {
	case "", "4.7":
		return &RuleSet{
			Version: "4.7",
			binaryRules: []BinaryRule{
				packageNameRule{},
				architectureRule{},
				priorityRule{deprecateExtra: true},
				sectionRule{},
				essentialRule{},
				maintainerRule{},
				multiArchRule{},
				fileInfoRule{},
				descriptionRule{},
			},
			sourceRules: defaultSourceRules(),
		}, nil
	case "3.9":
		// Pre-4.0 policy: "extra" is a valid priority and Multi-Arch is
		// not specified.
		return &RuleSet{
			Version: "3.9",
			binaryRules: []BinaryRule{
				packageNameRule{},
				architectureRule{},
				priorityRule{},
				sectionRule{},
				essentialRule{},
				maintainerRule{},
				fileInfoRule{},
				descriptionRule{},
			},
			sourceRules: defaultSourceRules(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown policy version %q", version)
	}
}

func defaultSourceRules() []SourceRule {
	return []SourceRule{
		sourceNameRule{},
		sourceFormatRule{},
		sourceFilesRule{},
		sourceBinariesRule{},
	}
}

// requiredBinaryFields are the identity fields a binary record cannot be
// indexed without.
var requiredBinaryFields = []string{deb.FieldPackage, deb.FieldVersion, deb.FieldArchitecture}

// ValidateBinary applies the rule set to one binary record. Identity-field
// checks run first; when one fails the record is reported and marked
// non-indexable, and the remaining rules are skipped. Field-level syntax
// errors from model construction are folded in as syntax diagnostics.
// The returned bool reports whether the record may enter the index.
func (rs *RuleSet) ValidateBinary(ctx *Context, b *deb.BinaryPackage, fieldErrs []deb.FieldError) ([]report.Diagnostic, bool) {
	var out []report.Diagnostic

	for _, fe := range fieldErrs {
		out = append(out, syntaxDiagnostic(b.Record.File, b.Record.Line, fe))
	}

	indexable := true
	for _, field := range requiredBinaryFields {
		if !b.Record.Has(field) {
			out = append(out, violation(prov(b, field), report.SeverityError,
				"missing required field %s", field))
			indexable = false
		}
	}
	// A version that was present but unparseable also blocks indexing.
	if indexable && !b.HasIdentity() {
		indexable = false
	}
	if !indexable {
		return out, false
	}

	for _, rule := range rs.binaryRules {
		out = append(out, rule.Check(ctx, b)...)
	}
	return out, true
}

// requiredSourceFields mirrors requiredBinaryFields for source records
var requiredSourceFields = []string{deb.FieldPackage, deb.FieldVersion}

// ValidateSource applies the rule set to one source record, with the same
// short-circuit contract as ValidateBinary.
func (rs *RuleSet) ValidateSource(ctx *Context, s *deb.SourcePackage, fieldErrs []deb.FieldError) ([]report.Diagnostic, bool) {
	var out []report.Diagnostic

	for _, fe := range fieldErrs {
		out = append(out, syntaxDiagnostic(s.Record.File, s.Record.Line, fe))
	}

	indexable := true
	for _, field := range requiredSourceFields {
		if !s.Record.Has(field) && !(field == deb.FieldPackage && s.Record.Has(deb.FieldSource)) {
			out = append(out, violation(sprov(s, field), report.SeverityError,
				"missing required field %s", field))
			indexable = false
		}
	}
	if indexable && !s.HasIdentity() {
		indexable = false
	}
	if !indexable {
		return out, false
	}

	for _, rule := range rs.sourceRules {
		out = append(out, rule.Check(ctx, s)...)
	}
	return out, true
}

// syntaxDiagnostic converts a field parse failure into a diagnostic
func syntaxDiagnostic(file string, line int, fe deb.FieldError) report.Diagnostic {
	code := report.CodeMalformedRecord
	switch fe.Err.(type) {
	case *deb.InvalidVersionError:
		code = report.CodeInvalidVersion
	case *deb.InvalidDependencyError:
		code = report.CodeInvalidDependency
	}
	return report.Diagnostic{
		Severity: report.SeverityError,
		Category: report.CategorySyntax,
		Code:     code,
		Message:  fe.Err.Error(),
		Origin:   report.Provenance{File: file, Line: line, Field: fe.Field},
	}
}
