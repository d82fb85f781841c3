// Package resolve performs the closure checks of a verification run: every
// dependency, conflict, and source/binary linkage is checked against the
// fully-built repository index. This is presence checking against the
// snapshot, not an installability proof; per-record results are independent
// of resolution order.
package resolve

import (
	"fmt"

	"github.com/apt-tools/aptcheck/internal/deb"
	"github.com/apt-tools/aptcheck/internal/index"
	"github.com/apt-tools/aptcheck/internal/report"
)

// Options tune the severity of the advisory relationship checks. The
// zero value checks Recommends and Suggests at warning severity; either
// can be set to SeverityIgnore to skip the field entirely.
type Options struct {
	Recommends report.Severity
	Suggests   report.Severity
}

// DefaultOptions returns the stock severities
func DefaultOptions() Options {
	return Options{
		Recommends: report.SeverityWarning,
		Suggests:   report.SeverityWarning,
	}
}

// Resolver checks one immutable index. It is safe for concurrent use; all
// queries are read-only.
type Resolver struct {
	ix   *index.Index
	opts Options
}

// New creates a resolver over a completely built index
func New(ix *index.Index, opts Options) *Resolver {
	return &Resolver{ix: ix, opts: opts}
}

// CheckBinary runs every per-package closure check for one binary record
func (r *Resolver) CheckBinary(b *deb.BinaryPackage) []report.Diagnostic {
	var out []report.Diagnostic
	out = append(out, r.checkDependencies(b)...)
	out = append(out, r.checkConflicts(b)...)
	out = append(out, r.checkSourceLink(b)...)
	return out
}

// mustResolve maps relationship fields to the severity of an unresolved
// group, honoring the advisory-field options.
func (r *Resolver) mustResolve(field string) (report.Severity, bool) {
	switch field {
	case deb.FieldDepends, deb.FieldPreDepends:
		return report.SeverityError, true
	case deb.FieldRecommends:
		return r.opts.Recommends, r.opts.Recommends != report.SeverityIgnore
	case deb.FieldSuggests:
		return r.opts.Suggests, r.opts.Suggests != report.SeverityIgnore
	default:
		return report.SeverityIgnore, false
	}
}

// checkDependencies verifies that each OR-group of every resolvable
// relationship field is satisfied by at least one present package.
func (r *Resolver) checkDependencies(b *deb.BinaryPackage) []report.Diagnostic {
	var out []report.Diagnostic
	for field, dep := range b.Relations {
		sev, check := r.mustResolve(field)
		if !check {
			continue
		}
		for _, group := range dep {
			if r.groupSatisfied(b, group) {
				continue
			}
			out = append(out, report.Diagnostic{
				Severity: sev,
				Category: report.CategoryConsistency,
				Code:     report.CodeDependencyUnresolved,
				Message:  fmt.Sprintf("%s of %s cannot be satisfied: %s", field, b.Name, group),
				Origin:   report.Provenance{File: b.Record.File, Line: b.Record.Line, Field: field},
			})
		}
	}
	return out
}

// groupSatisfied reports whether any alternative of the OR-group matches a
// present package. A group whose alternatives are all restricted away from
// this architecture is vacuously satisfied.
func (r *Resolver) groupSatisfied(b *deb.BinaryPackage, group deb.Group) bool {
	applicable := false
	for _, rel := range group {
		if !rel.AppliesTo(b.Architecture) {
			continue
		}
		applicable = true
		if r.relationSatisfied(b, rel) {
			return true
		}
	}
	return !applicable
}

// relationSatisfied checks one alternative against real packages first,
// then against Provides entries. Providers are a one-hop lookup; virtual
// names are never chased transitively.
func (r *Resolver) relationSatisfied(b *deb.BinaryPackage, rel deb.Relation) bool {
	for _, cand := range r.candidates(b, rel) {
		if rel.Op == "" || rel.Op.Satisfies(cand.Version, rel.Version) {
			return true
		}
	}

	// No cross-architecture matching for virtual names other than the
	// package's own view.
	for _, p := range r.ix.ProvidersOf(rel.Name, b.Architecture) {
		if rel.Op == "" {
			return true
		}
		// A versioned dependency is only satisfiable by a versioned
		// Provides; an unversioned Provides never matches it.
		if p.Version != nil && rel.Op.Satisfies(*p.Version, rel.Version) {
			return true
		}
	}
	return false
}

// candidates selects the real packages an alternative may match, honoring
// the architecture qualifier.
func (r *Resolver) candidates(b *deb.BinaryPackage, rel deb.Relation) []*deb.BinaryPackage {
	switch rel.ArchQualifier {
	case "", "native":
		return r.ix.VersionsOf(rel.Name, b.Architecture)
	case "any":
		// "pkg:any" matches a package of any architecture that opted in
		// with Multi-Arch: allowed, or an arch-independent package.
		var out []*deb.BinaryPackage
		for _, cand := range r.ix.AnyArch(rel.Name) {
			if cand.MultiArch == "allowed" || cand.Architecture == deb.ArchAll {
				out = append(out, cand)
			}
		}
		return out
	default:
		return r.ix.VersionsOf(rel.Name, deb.Arch(rel.ArchQualifier))
	}
}

// checkConflicts performs the inverted check for Conflicts and Breaks: a
// diagnostic is emitted when a matching package IS present.
func (r *Resolver) checkConflicts(b *deb.BinaryPackage) []report.Diagnostic {
	var out []report.Diagnostic
	for _, field := range []string{deb.FieldConflicts, deb.FieldBreaks} {
		dep, ok := b.Relations[field]
		if !ok {
			continue
		}
		for _, group := range dep {
			// Policy does not allow alternatives in Conflicts/Breaks, but
			// the parser is shared, so walk whatever groups came out.
			for _, rel := range group {
				if !rel.AppliesTo(b.Architecture) {
					continue
				}
				hit := r.conflictTarget(b, rel)
				if hit == nil {
					continue
				}
				related := report.Provenance{File: hit.Record.File, Line: hit.Record.Line}
				out = append(out, report.Diagnostic{
					Severity: report.SeverityWarning,
					Category: report.CategoryConsistency,
					Code:     report.CodeConflictPresent,
					Message: fmt.Sprintf("%s of %s matches present package %s %s",
						field, b.Name, hit.Name, hit.Version),
					Origin:  report.Provenance{File: b.Record.File, Line: b.Record.Line, Field: field},
					Related: &related,
				})
			}
		}
	}
	return out
}

// conflictTarget returns a present package matching the conflict relation,
// or nil. The package itself is exempt, as is the common pattern of
// conflicting with a virtual name the package provides itself.
func (r *Resolver) conflictTarget(b *deb.BinaryPackage, rel deb.Relation) *deb.BinaryPackage {
	for _, cand := range r.ix.VersionsOf(rel.Name, b.Architecture) {
		if cand == b {
			continue
		}
		if rel.Op == "" || rel.Op.Satisfies(cand.Version, rel.Version) {
			return cand
		}
	}
	// Unversioned conflicts also apply to providers of the name.
	if rel.Op == "" {
		for _, p := range r.ix.ProvidersOf(rel.Name, b.Architecture) {
			if p.Package != b {
				return p.Package
			}
		}
	}
	return nil
}

// checkSourceLink verifies that the binary's declared source stanza exists
func (r *Resolver) checkSourceLink(b *deb.BinaryPackage) []report.Diagnostic {
	if r.ix.SourceFor(b.SourceName, b.SourceVersion) != nil {
		return nil
	}
	return []report.Diagnostic{{
		Severity: report.SeverityError,
		Category: report.CategoryConsistency,
		Code:     report.CodeOrphanedBinary,
		Message: fmt.Sprintf("binary %s references missing source %s (%s)",
			b.Name, b.SourceName, b.SourceVersion),
		Origin: report.Provenance{File: b.Record.File, Line: b.Record.Line, Field: deb.FieldSource},
	}}
}

// CheckSource verifies that every binary name a source declares was built
// for at least one configured architecture the source targets. A missing
// build is a warning: architecture-specific non-builds are legitimate.
func (r *Resolver) CheckSource(s *deb.SourcePackage, architectures []deb.Arch) []report.Diagnostic {
	var out []report.Diagnostic
	for _, name := range s.Binaries {
		built := false
		for _, cand := range r.ix.AnyArch(name) {
			if cand.SourceName == s.Name {
				built = true
				break
			}
		}
		if built {
			continue
		}
		// Only warn when the source actually targets one of the
		// configured architectures.
		targets := false
		for _, arch := range architectures {
			if s.BuildsOn(arch) {
				targets = true
				break
			}
		}
		if !targets {
			continue
		}
		out = append(out, report.Diagnostic{
			Severity: report.SeverityWarning,
			Category: report.CategoryConsistency,
			Code:     report.CodeUnbuiltSource,
			Message: fmt.Sprintf("source %s %s declares binary %s but no such package was built",
				s.Name, s.Version, name),
			Origin: report.Provenance{File: s.Record.File, Line: s.Record.Line, Field: deb.FieldBinary},
		})
	}
	return out
}
