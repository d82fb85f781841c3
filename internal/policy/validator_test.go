package policy

import (
	"strings"
	"testing"

	"github.com/apt-tools/aptcheck/internal/control"
	"github.com/apt-tools/aptcheck/internal/deb"
	"github.com/apt-tools/aptcheck/internal/report"
)

var testCtx = &Context{Architectures: []deb.Arch{"amd64", "arm64"}}

// goodStanza is a fully policy-compliant binary record
const goodStanza = `Package: hello
Version: 2.10-3
Architecture: amd64
Maintainer: Jane Doe <jane@example.org>
Priority: optional
Section: utils
Filename: pool/main/h/hello/hello_2.10-3_amd64.deb
Size: 53456
SHA256: 3c1c8a525e0a2286f3b072f2256a6c0821e542afdf5db2b6b1b152f60b3001b0
Description: example greeter
 Prints a friendly greeting.
`

func parseBinary(t *testing.T, stanza string) (*deb.BinaryPackage, []deb.FieldError) {
	t.Helper()
	records, err := control.ParseAll(strings.NewReader(stanza), "Packages", nil)
	if err != nil || len(records) != 1 {
		t.Fatalf("bad test stanza: %v (%d records)", err, len(records))
	}
	return deb.NewBinaryPackage(records[0])
}

func parseSource(t *testing.T, stanza string) (*deb.SourcePackage, []deb.FieldError) {
	t.Helper()
	records, err := control.ParseAll(strings.NewReader(stanza), "Sources", nil)
	if err != nil || len(records) != 1 {
		t.Fatalf("bad test stanza: %v (%d records)", err, len(records))
	}
	return deb.NewSourcePackage(records[0])
}

func mustRuleSet(t *testing.T, version string) *RuleSet {
	t.Helper()
	rs, err := RuleSetFor(version)
	if err != nil {
		t.Fatalf("RuleSetFor(%q): %v", version, err)
	}
	return rs
}

func TestValidateBinaryClean(t *testing.T) {
	rs := mustRuleSet(t, "")
	b, fieldErrs := parseBinary(t, goodStanza)

	diags, indexable := rs.ValidateBinary(testCtx, b, fieldErrs)
	if len(diags) != 0 {
		t.Errorf("clean record produced diagnostics: %v", diags)
	}
	if !indexable {
		t.Error("clean record should be indexable")
	}
}

func TestValidateBinaryMissingIdentity(t *testing.T) {
	rs := mustRuleSet(t, "")

	tests := []struct {
		name   string
		stanza string
	}{
		{"no version", "Package: hello\nArchitecture: amd64\n"},
		{"no package", "Version: 1.0\nArchitecture: amd64\n"},
		{"no architecture", "Package: hello\nVersion: 1.0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, fieldErrs := parseBinary(t, tt.stanza)
			diags, indexable := rs.ValidateBinary(testCtx, b, fieldErrs)
			if indexable {
				t.Error("record without identity must not be indexable")
			}
			if len(diags) == 0 {
				t.Error("missing identity field should be reported")
			}
			if diags[0].Severity != report.SeverityError {
				t.Errorf("severity = %v, want error", diags[0].Severity)
			}
		})
	}
}

func TestValidateBinaryBadVersionNotIndexable(t *testing.T) {
	rs := mustRuleSet(t, "")
	b, fieldErrs := parseBinary(t, "Package: hello\nVersion: not_a_version\nArchitecture: amd64\n")

	diags, indexable := rs.ValidateBinary(testCtx, b, fieldErrs)
	if indexable {
		t.Error("unparseable version must block indexing")
	}
	found := false
	for _, d := range diags {
		if d.Code == report.CodeInvalidVersion {
			found = true
			if d.Category != report.CategorySyntax {
				t.Errorf("category = %v, want syntax", d.Category)
			}
			if d.Origin.Field != deb.FieldVersion {
				t.Errorf("origin field = %q, want Version", d.Origin.Field)
			}
		}
	}
	if !found {
		t.Errorf("no InvalidVersion diagnostic in %v", diags)
	}
}

func TestValidateBinaryBadDependencyStillIndexable(t *testing.T) {
	rs := mustRuleSet(t, "")
	stanza := strings.Replace(goodStanza, "Description:",
		"Depends: libc6 (>= broken version!)\nDescription:", 1)
	b, fieldErrs := parseBinary(t, stanza)

	diags, indexable := rs.ValidateBinary(testCtx, b, fieldErrs)
	if !indexable {
		t.Error("a bad relationship field does not remove package identity")
	}
	found := false
	for _, d := range diags {
		if d.Code == report.CodeInvalidDependency {
			found = true
		}
	}
	if !found {
		t.Errorf("no InvalidDependency diagnostic in %v", diags)
	}
}

func TestValidateBinaryMultipleDiagnostics(t *testing.T) {
	rs := mustRuleSet(t, "")
	// Bad priority, bad section, bad maintainer: every failed rule reports
	stanza := `Package: hello
Version: 1.0
Architecture: amd64
Maintainer: not-an-address
Priority: urgent
Section: nonsense
Filename: pool/h/hello_1.0_amd64.deb
Size: 100
SHA256: 3c1c8a525e0a2286f3b072f2256a6c0821e542afdf5db2b6b1b152f60b3001b0
Description: x
`
	b, fieldErrs := parseBinary(t, stanza)
	diags, _ := rs.ValidateBinary(testCtx, b, fieldErrs)
	if len(diags) < 3 {
		t.Errorf("got %d diagnostics, want at least 3: %v", len(diags), diags)
	}
}

func TestPriorityExtraDeprecation(t *testing.T) {
	stanza := strings.Replace(goodStanza, "Priority: optional", "Priority: extra", 1)

	// Policy 4.7 deprecates "extra"
	b, fieldErrs := parseBinary(t, stanza)
	diags, _ := mustRuleSet(t, "4.7").ValidateBinary(testCtx, b, fieldErrs)
	if len(diags) != 1 || diags[0].Severity != report.SeverityWarning {
		t.Errorf("policy 4.7: diags = %v, want one warning", diags)
	}

	// Policy 3.9 accepts it
	b, fieldErrs = parseBinary(t, stanza)
	diags, _ = mustRuleSet(t, "3.9").ValidateBinary(testCtx, b, fieldErrs)
	if len(diags) != 0 {
		t.Errorf("policy 3.9: diags = %v, want none", diags)
	}
}

func TestUnknownPolicyVersion(t *testing.T) {
	if _, err := RuleSetFor("9.9"); err == nil {
		t.Error("unknown policy version should fail")
	}
}

func TestEssentialRule(t *testing.T) {
	stanza := strings.Replace(goodStanza, "Priority: optional",
		"Priority: optional\nEssential: yes", 1)
	b, fieldErrs := parseBinary(t, stanza)
	diags, _ := mustRuleSet(t, "").ValidateBinary(testCtx, b, fieldErrs)

	found := false
	for _, d := range diags {
		if d.Origin.Field == deb.FieldEssential && d.Severity == report.SeverityError {
			found = true
		}
	}
	if !found {
		t.Errorf("essential package with optional priority not reported: %v", diags)
	}
}

func TestMultiArchSameForAll(t *testing.T) {
	stanza := strings.Replace(goodStanza, "Architecture: amd64",
		"Architecture: all\nMulti-Arch: same", 1)
	b, fieldErrs := parseBinary(t, stanza)
	diags, _ := mustRuleSet(t, "").ValidateBinary(testCtx, b, fieldErrs)

	found := false
	for _, d := range diags {
		if d.Origin.Field == deb.FieldMultiArch {
			found = true
		}
	}
	if !found {
		t.Errorf("Multi-Arch: same with Architecture: all not reported: %v", diags)
	}
}

func TestUnknownArchitectureWarning(t *testing.T) {
	stanza := strings.Replace(goodStanza, "Architecture: amd64", "Architecture: mips64el", 1)
	b, fieldErrs := parseBinary(t, stanza)
	diags, indexable := mustRuleSet(t, "").ValidateBinary(testCtx, b, fieldErrs)

	if !indexable {
		t.Error("an out-of-scope architecture is still indexable")
	}
	if len(diags) != 1 || diags[0].Severity != report.SeverityWarning {
		t.Errorf("diags = %v, want one warning", diags)
	}
}

func TestSynopsisLength(t *testing.T) {
	long := strings.Repeat("x", 81)
	stanza := strings.Replace(goodStanza, "Description: example greeter", "Description: "+long, 1)
	b, fieldErrs := parseBinary(t, stanza)
	diags, _ := mustRuleSet(t, "").ValidateBinary(testCtx, b, fieldErrs)

	found := false
	for _, d := range diags {
		if d.Origin.Field == deb.FieldDescription {
			found = true
		}
	}
	if !found {
		t.Errorf("overlong synopsis not reported: %v", diags)
	}
}

const goodSourceStanza = `Package: hello
Version: 2.10-3
Binary: hello, hello-doc
Architecture: any all
Format: 3.0 (quilt)
Directory: pool/main/h/hello
Files:
 d5b9a1a0289875dac1189cbb06ff5c49 1201 hello_2.10-3.dsc
 f3b9ad63eca87c0a5e2fc8e0dcab5ca3 725946 hello_2.10.orig.tar.gz
`

func TestValidateSourceClean(t *testing.T) {
	rs := mustRuleSet(t, "")
	s, fieldErrs := parseSource(t, goodSourceStanza)

	diags, indexable := rs.ValidateSource(testCtx, s, fieldErrs)
	if len(diags) != 0 {
		t.Errorf("clean source produced diagnostics: %v", diags)
	}
	if !indexable {
		t.Error("clean source should be indexable")
	}
}

func TestValidateSourceAcceptsSourceField(t *testing.T) {
	// Some Sources indices use "Source:" instead of "Package:"
	stanza := strings.Replace(goodSourceStanza, "Package: hello", "Source: hello", 1)
	s, fieldErrs := parseSource(t, stanza)
	diags, indexable := mustRuleSet(t, "").ValidateSource(testCtx, s, fieldErrs)
	if !indexable {
		t.Errorf("Source: field should satisfy the name requirement: %v", diags)
	}
}

func TestValidateSourceNoFiles(t *testing.T) {
	stanza := `Package: hello
Version: 1.0
Binary: hello
Format: 3.0 (native)
`
	s, fieldErrs := parseSource(t, stanza)
	diags, _ := mustRuleSet(t, "").ValidateSource(testCtx, s, fieldErrs)

	found := false
	for _, d := range diags {
		if d.Origin.Field == deb.FieldFiles && d.Severity == report.SeverityError {
			found = true
		}
	}
	if !found {
		t.Errorf("source without files not reported: %v", diags)
	}
}

func TestValidateSourceBadBinaryName(t *testing.T) {
	stanza := strings.Replace(goodSourceStanza, "Binary: hello, hello-doc", "Binary: hello, Bad_Name", 1)
	s, fieldErrs := parseSource(t, stanza)
	diags, _ := mustRuleSet(t, "").ValidateSource(testCtx, s, fieldErrs)

	found := false
	for _, d := range diags {
		if d.Origin.Field == deb.FieldBinary {
			found = true
		}
	}
	if !found {
		t.Errorf("bad binary name not reported: %v", diags)
	}
}
