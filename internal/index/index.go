// Package index aggregates validated package records into queryable
// structures for the consistency resolver. An Index is built append-only in
// a single pass and must not be queried until building is complete; after
// that it is immutable and safe for concurrent readers.
package index

import (
	"github.com/apt-tools/aptcheck/internal/deb"
)

// Provider records one package that declares a virtual name in Provides
type Provider struct {
	Package *deb.BinaryPackage
	// Version is the provided version from "Provides: foo (= 1.2)",
	// nil for unversioned provides.
	Version *deb.Version
}

// Index holds every validated record of a repository snapshot
type Index struct {
	// binaries maps architecture, then package name, to all versions of
	// that name present for the architecture. "all" packages are stored
	// under the "all" key and matched per query.
	binaries map[deb.Arch]map[string][]*deb.BinaryPackage

	// sources maps source name to all versions of that source stanza.
	sources map[string][]*deb.SourcePackage

	// providers maps virtual name, per architecture, to its providers.
	// Provides is a one-hop lookup table, never walked transitively.
	providers map[deb.Arch]map[string][]Provider

	binaryCount int
}

// New creates an empty index
func New() *Index {
	return &Index{
		binaries:  make(map[deb.Arch]map[string][]*deb.BinaryPackage),
		sources:   make(map[string][]*deb.SourcePackage),
		providers: make(map[deb.Arch]map[string][]Provider),
	}
}

// AddBinary inserts a validated binary record. Multiple versions of the
// same name and architecture all coexist.
func (ix *Index) AddBinary(b *deb.BinaryPackage) {
	arch := b.Architecture
	byName := ix.binaries[arch]
	if byName == nil {
		byName = make(map[string][]*deb.BinaryPackage)
		ix.binaries[arch] = byName
	}
	byName[b.Name] = append(byName[b.Name], b)
	ix.binaryCount++

	for _, group := range b.Provides() {
		for _, rel := range group {
			provs := ix.providers[arch]
			if provs == nil {
				provs = make(map[string][]Provider)
				ix.providers[arch] = provs
			}
			p := Provider{Package: b}
			if rel.Op == deb.OpExactlyEqual {
				v := rel.Version
				p.Version = &v
			}
			provs[rel.Name] = append(provs[rel.Name], p)
		}
	}
}

// AddSource inserts a validated source record
func (ix *Index) AddSource(s *deb.SourcePackage) {
	ix.sources[s.Name] = append(ix.sources[s.Name], s)
}

// VersionsOf returns every version of the named package visible to the
// given architecture: exact-arch entries plus Architecture: all entries.
// The result is empty, never an error, when nothing matches.
func (ix *Index) VersionsOf(name string, arch deb.Arch) []*deb.BinaryPackage {
	var out []*deb.BinaryPackage
	if byName := ix.binaries[arch]; byName != nil {
		out = append(out, byName[name]...)
	}
	if arch != deb.ArchAll {
		if byName := ix.binaries[deb.ArchAll]; byName != nil {
			out = append(out, byName[name]...)
		}
	}
	return out
}

// AnyArch returns every indexed package of the given name across all
// architectures.
func (ix *Index) AnyArch(name string) []*deb.BinaryPackage {
	var out []*deb.BinaryPackage
	for _, byName := range ix.binaries {
		out = append(out, byName[name]...)
	}
	return out
}

// SourceFor resolves a binary's source reference to the matching source
// record, or nil when the source name or exact version is absent.
func (ix *Index) SourceFor(name string, version deb.Version) *deb.SourcePackage {
	for _, s := range ix.sources[name] {
		if s.Version.Equal(version) {
			return s
		}
	}
	return nil
}

// SourcesOf returns every version of the named source package
func (ix *Index) SourcesOf(name string) []*deb.SourcePackage {
	return ix.sources[name]
}

// Sources returns the full source mapping for iteration. Callers must not
// modify the returned map.
func (ix *Index) Sources() map[string][]*deb.SourcePackage {
	return ix.sources
}

// ProvidersOf returns the packages providing a virtual name for the given
// architecture, including providers built as Architecture: all.
func (ix *Index) ProvidersOf(virtualName string, arch deb.Arch) []Provider {
	var out []Provider
	if provs := ix.providers[arch]; provs != nil {
		out = append(out, provs[virtualName]...)
	}
	if arch != deb.ArchAll {
		if provs := ix.providers[deb.ArchAll]; provs != nil {
			out = append(out, provs[virtualName]...)
		}
	}
	return out
}

// Binaries iterates every indexed binary record in unspecified order
func (ix *Index) Binaries(yield func(*deb.BinaryPackage)) {
	for _, byName := range ix.binaries {
		for _, pkgs := range byName {
			for _, b := range pkgs {
				yield(b)
			}
		}
	}
}

// BinaryCount returns the number of indexed binary records
func (ix *Index) BinaryCount() int {
	return ix.binaryCount
}

// Architectures returns the concrete architectures present in the index
func (ix *Index) Architectures() []deb.Arch {
	var out []deb.Arch
	for arch := range ix.binaries {
		if arch != deb.ArchAll {
			out = append(out, arch)
		}
	}
	return out
}
